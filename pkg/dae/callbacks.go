package dae

// Callback conventions:
//   - output buffers are preallocated by the solver and overwritten in place
//   - inputs is the caller's parameter vector, passed verbatim
//   - a non-nil error aborts the solve cooperatively (flag SolverError)
//
// Callbacks must be pure with respect to hidden state and must tolerate
// repeated evaluation at the same (t, y, yp); the integrator re-evaluates
// during error control and step retries.

// Residual evaluates the DAE residual F(t, y, yp) into res (length n).
// res is zero at a solution.
type Residual func(t float64, y, yp, inputs, res []float64) error

// Jacobian fills values (length nnz) with the entries of
// J = dF/dy + cj*dF/dyp in the CSC layout declared by the ProblemSpec.
// The sparsity pattern is fixed for the whole solve.
type Jacobian func(t, cj float64, y, yp, inputs, values []float64) error

// JacTimesVec computes jv = J*v without forming J. Optional; when present
// the linear solver binding uses it for one pass of iterative refinement.
type JacTimesVec func(t, cj float64, y, yp, v, inputs, jv []float64) error

// MassAction computes mv = M*v where M is the DAE mass matrix
// (singular on algebraic rows). The compiled-function bridge assembles
// its residual, Jacobian action and sensitivity callbacks through this
// entry; callers supplying a full residual may leave it nil.
type MassAction func(v, inputs, mv []float64) error

// SensResidual evaluates the forward sensitivity residuals for every
// declared parameter in one batched call:
//
//	resS[i] = dF/dy * yS[i] + dF/dyp * ypS[i] + dF/dp_i
//
// yS, ypS and resS each hold NSens vectors of length n.
type SensResidual func(t float64, y, yp, inputs []float64, yS, ypS, resS [][]float64) error

// EventFunc fills g (length NEvents) with the signed event values.
// A strict sign change in any component between accepted steps triggers
// root localisation.
type EventFunc func(t float64, y, yp, inputs, g []float64) error

// CallbackTable bundles the user functions consumed by one solve.
// Residual and Jacobian are mandatory; JacTimesVec and MassAction are
// optional; SensResidual is required when NSens > 0 and Events when
// NEvents > 0.
type CallbackTable struct {
	Residual     Residual
	Jacobian     Jacobian
	JacTimesVec  JacTimesVec
	MassAction   MassAction
	SensResidual SensResidual
	Events       EventFunc
}
