// Package compiled bridges serialised symbolic model functions into the
// callback table consumed by the solver. A Codec knows how to revive one
// serialisation format; the package keeps a registry so model files can
// carry functions from any registered format.
package compiled

import (
	"fmt"
	"sync"

	"github.com/wsmgxl2022/Anna-PyBaMM/pkg/dae"
)

// Evaluator is one revived model function. in and out are the positional
// argument and result vectors of the underlying symbolic function; the
// caller owns both and reuses them across calls.
type Evaluator interface {
	Call(in, out [][]float64) error
}

// Codec revives evaluators from one serialisation format. Deserialize
// returns an error when the payload is not in this codec's format, which
// lets the registry probe codecs in order.
type Codec interface {
	Name() string
	Deserialize(data []byte) (Evaluator, error)
}

var (
	codecMu sync.Mutex
	codecs  []Codec
)

// RegisterCodec adds a codec to the probe order. Registration order is
// preserved; later registrations are tried after earlier ones.
func RegisterCodec(c Codec) {
	codecMu.Lock()
	defer codecMu.Unlock()
	codecs = append(codecs, c)
}

// Deserialize revives a function payload with the first codec that
// accepts it.
func Deserialize(data []byte) (*FunctionHandle, error) {
	codecMu.Lock()
	probe := make([]Codec, len(codecs))
	copy(probe, codecs)
	codecMu.Unlock()

	for _, c := range probe {
		ev, err := c.Deserialize(data)
		if err == nil {
			return &FunctionHandle{ev: ev, codec: c.Name()}, nil
		}
	}
	return nil, fmt.Errorf("no registered codec accepts the payload (%d bytes, %d codecs tried)", len(data), len(probe))
}

// FunctionHandle owns one revived evaluator for the lifetime of a model.
type FunctionHandle struct {
	ev    Evaluator
	codec string
}

// Codec reports the name of the codec that revived the function.
func (h *FunctionHandle) Codec() string { return h.codec }

// Call invokes the evaluator. Calling a released handle is an error, not
// a panic.
func (h *FunctionHandle) Call(in, out [][]float64) error {
	if h.ev == nil {
		return fmt.Errorf("function handle used after release")
	}
	return h.ev.Call(in, out)
}

type releaser interface{ Release() }

// Release drops the evaluator and, when the codec's evaluator holds
// external resources, releases them. Safe to call more than once.
func (h *FunctionHandle) Release() {
	if h == nil || h.ev == nil {
		return
	}
	if r, ok := h.ev.(releaser); ok {
		r.Release()
	}
	h.ev = nil
}

// Bundle groups the revived functions of one model. The residual is
// assembled as F(t, y, yp) = M*yp - rhs_alg(t, y); JacTimesCjMass must
// therefore produce the CSC values of -d(rhs_alg)/dy + cj*M.
//
//	RhsAlgebraic:   in = [t], y, inputs          out = f            (n)
//	JacTimesCjMass: in = [t], y, inputs, [cj]    out = values       (nnz)
//	JacAction:      in = [t], y, inputs, v       out = d(rhs)/dy*v  (n)
//	MassAction:     in = v                       out = M*v          (n)
//	Sens:           in = [t], y, inputs          out = dF/dp_0..ns  (ns x n)
//	Events:         in = [t], y, inputs          out = g            (nev)
//
// JacAction, MassAction, Sens and Events are optional; a nil MassAction
// means M is the identity on differential rows and zero on algebraic rows.
type Bundle struct {
	RhsAlgebraic   *FunctionHandle
	JacTimesCjMass *FunctionHandle
	JacAction      *FunctionHandle
	MassAction     *FunctionHandle
	Sens           *FunctionHandle
	Events         *FunctionHandle
}

// Release releases every handle in the bundle.
func (b *Bundle) Release() {
	for _, h := range []*FunctionHandle{
		b.RhsAlgebraic, b.JacTimesCjMass, b.JacAction, b.MassAction, b.Sens, b.Events,
	} {
		h.Release()
	}
}

// Table assembles a callback table for spec from the bundle. The closures
// share scratch buffers and are not safe for concurrent use, matching the
// solver's single-goroutine callback contract.
func (b *Bundle) Table(spec *dae.ProblemSpec) (*dae.CallbackTable, error) {
	if spec.N <= 0 {
		return nil, dae.Errorf(dae.KindInputValidation, "state dimension must be positive, got %d", spec.N)
	}
	if spec.NSens < 0 {
		return nil, dae.Errorf(dae.KindInputValidation, "n_sens must be non-negative, got %d", spec.NSens)
	}
	if b.RhsAlgebraic == nil {
		return nil, dae.Errorf(dae.KindInputValidation, "bundle is missing the rhs_algebraic function")
	}
	if b.JacTimesCjMass == nil {
		return nil, dae.Errorf(dae.KindInputValidation, "bundle is missing the jacobian function")
	}
	n := spec.N

	tBuf := []float64{0}
	cjBuf := []float64{0}
	rhs := make([]float64, n)
	mass := make([]float64, n)

	cb := &dae.CallbackTable{}

	// the residual, Jacobian-action and sensitivity assemblies below all
	// go through the table's MassAction entry
	cb.MassAction = func(v, inputs, mv []float64) error {
		if b.MassAction == nil {
			for i := 0; i < n; i++ {
				if spec.Differential(i) {
					mv[i] = v[i]
				} else {
					mv[i] = 0
				}
			}
			return nil
		}
		return b.MassAction.Call([][]float64{v}, [][]float64{mv})
	}

	cb.Residual = func(t float64, y, yp, inputs, res []float64) error {
		tBuf[0] = t
		if err := b.RhsAlgebraic.Call([][]float64{tBuf, y, inputs}, [][]float64{rhs}); err != nil {
			return err
		}
		if err := cb.MassAction(yp, inputs, res); err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			res[i] -= rhs[i]
		}
		return nil
	}

	cb.Jacobian = func(t, cj float64, y, yp, inputs, values []float64) error {
		tBuf[0] = t
		cjBuf[0] = cj
		return b.JacTimesCjMass.Call([][]float64{tBuf, y, inputs, cjBuf}, [][]float64{values})
	}

	if b.JacAction != nil {
		jact := make([]float64, n)
		cb.JacTimesVec = func(t, cj float64, y, yp, v, inputs, jv []float64) error {
			tBuf[0] = t
			if err := b.JacAction.Call([][]float64{tBuf, y, inputs, v}, [][]float64{jact}); err != nil {
				return err
			}
			if err := cb.MassAction(v, inputs, jv); err != nil {
				return err
			}
			for i := 0; i < n; i++ {
				jv[i] = cj*jv[i] - jact[i]
			}
			return nil
		}
	}

	if spec.NSens > 0 {
		if b.Sens == nil {
			return nil, dae.Errorf(dae.KindInputValidation, "bundle is missing the sensitivity function for n_sens=%d", spec.NSens)
		}
		if b.JacAction == nil {
			return nil, dae.Errorf(dae.KindInputValidation, "sensitivity analysis needs the jacobian action function")
		}
		dfdp := make([][]float64, spec.NSens)
		for p := range dfdp {
			dfdp[p] = make([]float64, n)
		}
		jact := make([]float64, n)
		cb.SensResidual = func(t float64, y, yp, inputs []float64, yS, ypS, resS [][]float64) error {
			tBuf[0] = t
			if err := b.Sens.Call([][]float64{tBuf, y, inputs}, dfdp); err != nil {
				return err
			}
			for p := 0; p < spec.NSens; p++ {
				if err := b.JacAction.Call([][]float64{tBuf, y, inputs, yS[p]}, [][]float64{jact}); err != nil {
					return err
				}
				if err := cb.MassAction(ypS[p], inputs, mass); err != nil {
					return err
				}
				for i := 0; i < n; i++ {
					resS[p][i] = mass[i] - jact[i] + dfdp[p][i]
				}
			}
			return nil
		}
	}

	if spec.NEvents > 0 {
		if b.Events == nil {
			return nil, dae.Errorf(dae.KindInputValidation, "bundle is missing the event function for n_events=%d", spec.NEvents)
		}
		cb.Events = func(t float64, y, yp, inputs, g []float64) error {
			tBuf[0] = t
			return b.Events.Call([][]float64{tBuf, y, inputs}, [][]float64{g})
		}
	}

	return cb, nil
}
