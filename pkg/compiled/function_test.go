package compiled_test

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wsmgxl2022/Anna-PyBaMM/pkg/compiled"
	"github.com/wsmgxl2022/Anna-PyBaMM/pkg/dae"
	"github.com/wsmgxl2022/Anna-PyBaMM/pkg/solver"
)

// closureCodec revives evaluators from a name-keyed table, standing in for
// a real serialisation format.
type closureCodec struct {
	fns map[string]func(in, out [][]float64) error
}

func (c closureCodec) Name() string { return "closure" }

func (c closureCodec) Deserialize(data []byte) (compiled.Evaluator, error) {
	fn, ok := c.fns[string(data)]
	if !ok {
		return nil, fmt.Errorf("unknown function %q", string(data))
	}
	return evalFunc(fn), nil
}

type evalFunc func(in, out [][]float64) error

func (f evalFunc) Call(in, out [][]float64) error { return f(in, out) }

// decay model y' = -k*y in the serialised-function layout: the residual is
// assembled by the bridge as M*yp - rhs.
func init() {
	compiled.RegisterCodec(closureCodec{fns: map[string]func(in, out [][]float64) error{
		"decay/rhs": func(in, out [][]float64) error {
			y, inputs := in[1], in[2]
			out[0][0] = -inputs[0] * y[0]
			return nil
		},
		"decay/jac": func(in, out [][]float64) error {
			inputs, cj := in[2], in[3]
			out[0][0] = inputs[0] + cj[0] // -d(rhs)/dy + cj*M
			return nil
		},
		"decay/jac_action": func(in, out [][]float64) error {
			inputs, v := in[2], in[3]
			out[0][0] = -inputs[0] * v[0]
			return nil
		},
		"decay/sens": func(in, out [][]float64) error {
			y := in[1]
			out[0][0] = y[0] // dF/dk
			return nil
		},
		"decay/events": func(in, out [][]float64) error {
			y := in[1]
			out[0][0] = y[0] - 0.5
			return nil
		},
	}})
}

func mustDeserialize(t *testing.T, name string) *compiled.FunctionHandle {
	t.Helper()
	h, err := compiled.Deserialize([]byte(name))
	require.NoError(t, err)
	return h
}

func decaySpec() *dae.ProblemSpec {
	return &dae.ProblemSpec{
		N:           1,
		Atol:        []float64{1e-8},
		Rtol:        1e-6,
		UseJacobian: true,
		Nnz:         1,
		ColPtr:      []int{0, 1},
		RowIdx:      []int{0},
	}
}

func decayBundle(t *testing.T) *compiled.Bundle {
	return &compiled.Bundle{
		RhsAlgebraic:   mustDeserialize(t, "decay/rhs"),
		JacTimesCjMass: mustDeserialize(t, "decay/jac"),
		JacAction:      mustDeserialize(t, "decay/jac_action"),
		Sens:           mustDeserialize(t, "decay/sens"),
		Events:         mustDeserialize(t, "decay/events"),
	}
}

func TestDeserializeUnknownPayload(t *testing.T) {
	_, err := compiled.Deserialize([]byte("no/such/function"))
	require.Error(t, err)
}

func TestHandleReleaseIsIdempotent(t *testing.T) {
	h := mustDeserialize(t, "decay/rhs")
	assert.Equal(t, "closure", h.Codec())

	h.Release()
	h.Release()
	err := h.Call(nil, nil)
	require.Error(t, err)
}

func TestBundleTableRequiresCoreFunctions(t *testing.T) {
	spec := decaySpec()

	_, err := (&compiled.Bundle{}).Table(spec)
	require.Error(t, err)
	assert.Equal(t, dae.FlagIllegalInput, dae.FlagFor(err))

	_, err = (&compiled.Bundle{RhsAlgebraic: mustDeserialize(t, "decay/rhs")}).Table(spec)
	require.Error(t, err)
	assert.Equal(t, dae.FlagIllegalInput, dae.FlagFor(err))
}

func TestBundleTableRejectsBadDimensions(t *testing.T) {
	bundle := decayBundle(t)
	defer bundle.Release()

	spec := decaySpec()
	spec.N = 0
	_, err := bundle.Table(spec)
	require.Error(t, err)
	assert.Equal(t, dae.FlagIllegalInput, dae.FlagFor(err))

	spec = decaySpec()
	spec.NSens = -1
	_, err = bundle.Table(spec)
	require.Error(t, err)
	assert.Equal(t, dae.FlagIllegalInput, dae.FlagFor(err))
}

func TestSolveCompiledRejectsBadDimensions(t *testing.T) {
	bundle := decayBundle(t)
	defer bundle.Release()

	spec := decaySpec()
	spec.N = -1

	sol := solver.SolveCompiled(spec, bundle, []float64{0, 1}, []float64{1}, []float64{-1}, []float64{1})
	require.Equal(t, dae.FlagIllegalInput, sol.Flag)
	assert.Nil(t, sol.T)
	assert.Nil(t, sol.Y)
}

func TestBundleTableMassActionIsConsumed(t *testing.T) {
	bundle := decayBundle(t)
	defer bundle.Release()

	cb, err := bundle.Table(decaySpec())
	require.NoError(t, err)
	require.NotNil(t, cb.MassAction)

	// identity mass on the differential row
	mv := make([]float64, 1)
	require.NoError(t, cb.MassAction([]float64{2}, nil, mv))
	assert.Equal(t, 2.0, mv[0])

	// the residual assembly goes through the table's mass entry, so a
	// consistent pair has a zero residual with it and not without it
	res := make([]float64, 1)
	inputs := []float64{1}
	require.NoError(t, cb.Residual(0, []float64{1}, []float64{-1}, inputs, res))
	assert.InDelta(t, 0.0, res[0], 1e-15)

	cb.MassAction = func(v, inputs, mv []float64) error {
		mv[0] = 0
		return nil
	}
	require.NoError(t, cb.Residual(0, []float64{1}, []float64{-1}, inputs, res))
	assert.InDelta(t, 1.0, res[0], 1e-15)
}

func TestSolveCompiledDecay(t *testing.T) {
	bundle := decayBundle(t)
	defer bundle.Release()

	tEval := []float64{0, 0.25, 0.5, 0.75, 1.0}
	sol := solver.SolveCompiled(decaySpec(), bundle, tEval, []float64{1}, []float64{-1}, []float64{1})
	require.Equal(t, dae.FlagNormal, sol.Flag)

	for i, ti := range sol.T {
		assert.InDelta(t, math.Exp(-ti), sol.Y.At(i, 0), 1e-4, "t=%g", ti)
	}
}

func TestSolveCompiledEvent(t *testing.T) {
	bundle := decayBundle(t)
	defer bundle.Release()

	spec := decaySpec()
	spec.NEvents = 1
	tEval := []float64{0, 0.5, 1.0, 1.5, 2.0}

	sol := solver.SolveCompiled(spec, bundle, tEval, []float64{1}, []float64{-1}, []float64{1})
	require.Equal(t, dae.FlagEventTriggered, sol.Flag)

	last := len(sol.T) - 1
	assert.InDelta(t, math.Ln2, sol.T[last], 1e-4)
	assert.InDelta(t, 0.5, sol.Y.At(last, 0), 1e-4)
}

func TestSolveCompiledSensitivity(t *testing.T) {
	bundle := decayBundle(t)
	defer bundle.Release()

	spec := decaySpec()
	spec.NSens = 1
	tEval := []float64{0, 0.5, 1.0}

	sol := solver.SolveCompiled(spec, bundle, tEval, []float64{1}, []float64{-1}, []float64{1})
	require.Equal(t, dae.FlagNormal, sol.Flag)
	require.Len(t, sol.YS, 1)

	for i, ti := range sol.T {
		assert.InDelta(t, -ti*math.Exp(-ti), sol.YS[0].At(i, 0), 1e-3, "t=%g", ti)
	}
}

func TestSolveCompiledMissingEventFunction(t *testing.T) {
	bundle := &compiled.Bundle{
		RhsAlgebraic:   mustDeserialize(t, "decay/rhs"),
		JacTimesCjMass: mustDeserialize(t, "decay/jac"),
	}
	defer bundle.Release()

	spec := decaySpec()
	spec.NEvents = 1

	sol := solver.SolveCompiled(spec, bundle, []float64{0, 1}, []float64{1}, []float64{-1}, []float64{1})
	assert.Equal(t, dae.FlagIllegalInput, sol.Flag)
	assert.Nil(t, sol.T)
}
