package dae

import (
	"github.com/wsmgxl2022/Anna-PyBaMM/internal/consts"
)

// InitCondMode selects the initial-condition correction applied before
// stepping. The zero value corrects the differential derivatives and the
// algebraic states, which tolerates a yp0 guess of all zeros.
type InitCondMode int

const (
	// InitCondDerivatives solves for yp0 on differential states and y0 on
	// algebraic states, holding differential y0 fixed.
	InitCondDerivatives InitCondMode = iota
	// InitCondFull solves for all of y0 given yp0.
	InitCondFull
	// InitCondNone trusts the supplied pair to be consistent already.
	InitCondNone
)

// ProblemSpec describes one DAE system for the duration of a single solve.
// It is immutable once Solve has been called.
type ProblemSpec struct {
	N       int   // state dimension
	NEvents int   // number of signed event functions
	NSens   int   // number of sensitivity parameters
	ID      []int // 1 differential / 0 algebraic per state; nil means all differential

	Atol []float64 // absolute tolerance, length 1 (broadcast) or N
	Rtol float64   // relative tolerance, scalar > 0

	// Jacobian sparsity, compressed sparse column, zero based. The pattern
	// is fixed at solve start; only the values change per evaluation.
	UseJacobian bool
	Nnz         int
	ColPtr      []int
	RowIdx      []int

	// Tuning. Zero values select the defaults noted per field.
	InitCond              InitCondMode
	InitCondTol           float64 // default 1e-6
	IncludeAlgebraicError bool    // default: algebraic states skip the error test
	ExcludeSensError      bool    // default: sensitivities join the error test
	MaxSteps              int     // internal step work limit, default 10000
	MaxOrder              int     // BDF order cap, default 5
	InitStep              float64 // initial step size, default heuristic
	MinStep               float64 // smallest permitted step
	MaxStep               float64 // largest permitted step
}

// AtolAt returns the absolute tolerance for state i, applying the scalar
// broadcast rule.
func (s *ProblemSpec) AtolAt(i int) float64 {
	if len(s.Atol) == 1 {
		return s.Atol[0]
	}
	return s.Atol[i]
}

// Differential reports whether state i is differential. A nil ID vector
// means a pure ODE.
func (s *ProblemSpec) Differential(i int) bool {
	return s.ID == nil || s.ID[i] == 1
}

func (s *ProblemSpec) MaxStepsOrDefault() int {
	if s.MaxSteps > 0 {
		return s.MaxSteps
	}
	return consts.DefaultMaxSteps
}

func (s *ProblemSpec) MaxOrderOrDefault() int {
	if s.MaxOrder > 0 && s.MaxOrder <= consts.MaxOrder {
		return s.MaxOrder
	}
	return consts.MaxOrder
}

func (s *ProblemSpec) InitCondTolOrDefault() float64 {
	if s.InitCondTol > 0 {
		return s.InitCondTol
	}
	return consts.DefaultICTol
}

// Validate checks the spec, the request and the callback table against the
// solve contract. It runs before any stepping; a non-nil result maps to
// IllegalInput.
func (s *ProblemSpec) Validate(t, y0, yp0 []float64, cb *CallbackTable) error {
	if s.N <= 0 {
		return Errorf(KindInputValidation, "state dimension must be positive, got %d", s.N)
	}
	if len(y0) != s.N || len(yp0) != s.N {
		return Errorf(KindInputValidation, "y0/yp0 length (%d,%d) does not match n=%d", len(y0), len(yp0), s.N)
	}
	if len(t) < 1 {
		return Errorf(KindInputValidation, "at least one output time is required")
	}
	for i := 1; i < len(t); i++ {
		if t[i] <= t[i-1] {
			return Errorf(KindInputValidation, "output times must be strictly increasing (t[%d]=%g, t[%d]=%g)", i-1, t[i-1], i, t[i])
		}
	}
	if s.ID != nil {
		if len(s.ID) != s.N {
			return Errorf(KindInputValidation, "id vector length %d does not match n=%d", len(s.ID), s.N)
		}
		for i, v := range s.ID {
			if v != 0 && v != 1 {
				return Errorf(KindInputValidation, "id vector entry %d is %d, want 0 or 1", i, v)
			}
		}
	}
	if s.Rtol <= 0 {
		return Errorf(KindInputValidation, "rtol must be positive, got %g", s.Rtol)
	}
	if len(s.Atol) != 1 && len(s.Atol) != s.N {
		return Errorf(KindInputValidation, "atol must be scalar or length n=%d, got length %d", s.N, len(s.Atol))
	}
	for i, a := range s.Atol {
		if a <= 0 {
			return Errorf(KindInputValidation, "atol entry %d must be positive, got %g", i, a)
		}
	}
	if !s.UseJacobian {
		return Errorf(KindInputValidation, "the direct linear solver requires a user Jacobian")
	}
	if cb == nil || cb.Residual == nil {
		return Errorf(KindInputValidation, "residual callback is required")
	}
	if cb.Jacobian == nil {
		return Errorf(KindInputValidation, "jacobian callback is required")
	}
	if len(s.ColPtr) != s.N+1 {
		return Errorf(KindInputValidation, "col_ptr length %d, want n+1=%d", len(s.ColPtr), s.N+1)
	}
	if s.ColPtr[0] != 0 {
		return Errorf(KindInputValidation, "col_ptr[0] must be 0, got %d", s.ColPtr[0])
	}
	for j := 1; j <= s.N; j++ {
		if s.ColPtr[j] < s.ColPtr[j-1] {
			return Errorf(KindInputValidation, "col_ptr must be non-decreasing (col %d)", j)
		}
	}
	if s.ColPtr[s.N] != s.Nnz {
		return Errorf(KindInputValidation, "nnz=%d does not match col_ptr[n]=%d", s.Nnz, s.ColPtr[s.N])
	}
	if len(s.RowIdx) != s.Nnz {
		return Errorf(KindInputValidation, "row_idx length %d does not match nnz=%d", len(s.RowIdx), s.Nnz)
	}
	for p, r := range s.RowIdx {
		if r < 0 || r >= s.N {
			return Errorf(KindInputValidation, "row_idx[%d]=%d out of range [0,%d)", p, r, s.N)
		}
	}
	if s.NEvents < 0 {
		return Errorf(KindInputValidation, "n_events must be non-negative, got %d", s.NEvents)
	}
	if s.NEvents > 0 && cb.Events == nil {
		return Errorf(KindInputValidation, "event callback required for n_events=%d", s.NEvents)
	}
	if s.NSens < 0 {
		return Errorf(KindInputValidation, "n_sens must be non-negative, got %d", s.NSens)
	}
	if s.NSens > 0 && cb.SensResidual == nil {
		return Errorf(KindInputValidation, "sensitivity residual callback required for n_sens=%d", s.NSens)
	}
	if s.MaxOrder < 0 || s.MaxOrder > consts.MaxOrder {
		return Errorf(KindInputValidation, "max order %d out of range [1,%d]", s.MaxOrder, consts.MaxOrder)
	}
	return nil
}
