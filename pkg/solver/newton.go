package solver

import (
	"github.com/wsmgxl2022/Anna-PyBaMM/internal/consts"
	"github.com/wsmgxl2022/Anna-PyBaMM/pkg/dae"
)

// evalJacobian asks the user for fresh CSC values of J = dF/dy + cj*dF/dyp
// at the current iterate, loads them into the sparse matrix and factorizes.
func (st *stepper) evalJacobian(t, cj float64) error {
	if err := st.cb.Jacobian(t, cj, st.yState, st.ypState, st.inputs, st.jacVals); err != nil {
		return dae.Errorf(dae.KindCallbackFailure, "jacobian callback failed: %v", err)
	}
	st.stats.JacEvals++
	if !finiteAll(st.jacVals) {
		return dae.Errorf(dae.KindLinearSolverFailure, "jacobian produced non-finite values at t=%g", t)
	}
	if err := st.mat.Load(st.jacVals); err != nil {
		return err
	}
	if err := st.mat.Factor(); err != nil {
		return err
	}
	st.stats.Factorizations++
	st.cjFact = cj
	st.haveFact = true
	return nil
}

// newtonSolve runs the bounded corrector iteration on the state block.
// The iterate yState/ypState must hold the predictor on entry; it holds
// the corrected values on a true return. A false return with nil error is
// a recoverable convergence failure.
func (st *stepper) newtonSolve(t, cj float64) (bool, error) {
	prevNorm := 0.0
	for m := 0; m < consts.MaxNewtonIter; m++ {
		if err := st.cb.Residual(t, st.yState, st.ypState, st.inputs, st.res); err != nil {
			return false, dae.Errorf(dae.KindCallbackFailure, "residual callback failed: %v", err)
		}
		st.stats.ResEvals++
		if !finiteAll(st.res) {
			return false, nil
		}
		for i := range st.res {
			st.res[i] = -st.res[i]
		}
		if err := st.mat.Solve(st.res, st.delta); err != nil {
			return false, nil
		}
		if st.cb.JacTimesVec != nil {
			if err := st.refineDelta(t, cj); err != nil {
				return false, err
			}
		}
		if !finiteAll(st.delta) {
			return false, nil
		}

		for i := 0; i < st.n; i++ {
			st.yState[i] += st.delta[i]
			st.ypState[i] += cj * st.delta[i]
		}
		st.stats.NewtonIters++

		norm := wrms(st.delta, st.ewt[:st.n])
		if m == 0 {
			if norm <= consts.NewtonConvCoef {
				return true, nil
			}
		} else {
			rate := norm / prevNorm
			if rate > consts.NewtonCrateMax {
				return false, nil
			}
			if norm*rate/(1.0-rate) <= consts.NewtonConvCoef {
				return true, nil
			}
		}
		prevNorm = norm
	}
	return false, nil
}

// refineDelta applies one matrix-free refinement pass to the Newton update
// using the user's J*v action.
func (st *stepper) refineDelta(t, cj float64) error {
	jv := func(v, out []float64) error {
		if err := st.cb.JacTimesVec(t, cj, st.yState, st.ypState, v, st.inputs, out); err != nil {
			return dae.Errorf(dae.KindCallbackFailure, "jacobian action callback failed: %v", err)
		}
		return nil
	}
	if err := st.mat.Refine(st.res, st.delta, jv); err != nil {
		if isLinearSolverFailure(err) {
			return nil // keep the unrefined update
		}
		return err
	}
	return nil
}
