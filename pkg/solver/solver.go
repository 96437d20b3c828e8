// Package solver integrates differential-algebraic systems
// F(t, y, yp) = 0 with variable-order BDF, a sparse direct linear solver,
// event root-finding and forward sensitivity analysis.
package solver

import (
	"github.com/wsmgxl2022/Anna-PyBaMM/pkg/compiled"
	"github.com/wsmgxl2022/Anna-PyBaMM/pkg/dae"
	"github.com/wsmgxl2022/Anna-PyBaMM/pkg/matrix"
)

// Solve integrates the system described by spec from t[0] through the
// requested output times. It always returns a Solution: the flag is the
// authoritative outcome and the t/y/yS prefix is valid up to its length.
// The call is synchronous and single-threaded; callbacks run on the
// calling goroutine. Concurrent Solve calls are independent as long as
// their callbacks are.
func Solve(spec *dae.ProblemSpec, cb *dae.CallbackTable, t, y0, yp0, inputs []float64) *dae.Solution {
	n := spec.N
	if n < 1 {
		n = 1 // builder shape for the empty IllegalInput body
	}
	bld := dae.NewBuilder(n, spec.NSens, len(t))

	if err := spec.Validate(t, y0, yp0, cb); err != nil {
		return bld.Finish(dae.FlagFor(err), dae.Statistics{})
	}

	mat, err := matrix.NewNewtonMatrix(spec.N, spec.Nnz, spec.ColPtr, spec.RowIdx)
	if err != nil {
		return bld.Finish(dae.FlagFor(err), dae.Statistics{})
	}
	defer mat.Destroy()

	st := newStepper(spec, cb, inputs, mat)
	flag := st.run(t, y0, yp0, bld)
	return bld.Finish(flag, st.stats)
}

// SolveCompiled is Solve for callback bundles built from serialised
// symbolic functions (see package compiled). Semantics are identical; the
// bundle stays owned by the caller.
func SolveCompiled(spec *dae.ProblemSpec, bundle *compiled.Bundle, t, y0, yp0, inputs []float64) *dae.Solution {
	n := spec.N
	if n < 1 {
		n = 1
	}
	cb, err := bundle.Table(spec)
	if err != nil {
		bld := dae.NewBuilder(n, spec.NSens, len(t))
		return bld.Finish(dae.FlagFor(err), dae.Statistics{})
	}
	return Solve(spec, cb, t, y0, yp0, inputs)
}
