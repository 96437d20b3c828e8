package solver

import (
	"github.com/wsmgxl2022/Anna-PyBaMM/internal/consts"
	"github.com/wsmgxl2022/Anna-PyBaMM/pkg/dae"
)

// correctInitial makes (y0, yp0) consistent with the residual before any
// stepping. In the derivatives mode the unknowns are the differential
// derivatives and the algebraic states, so a yp0 guess of all zeros is
// acceptable; in the full mode all of y0 is solved from yp0. The
// Newton matrix is the step Jacobian with cj = 1/h0 (derivatives) or
// cj = 0 (full).
func (st *stepper) correctInitial(t0, h0 float64) error {
	tol := st.spec.InitCondTolOrDefault()

	if st.spec.InitCond == dae.InitCondNone {
		if err := st.cb.Residual(t0, st.yState, st.ypState, st.inputs, st.res); err != nil {
			return dae.Errorf(dae.KindCallbackFailure, "residual callback failed: %v", err)
		}
		st.stats.ResEvals++
		if norm := wrms(st.res, st.ewt[:st.n]); !isFinite(norm) || norm > tol {
			return dae.Errorf(dae.KindInitialConditionCorrection,
				"initial conditions are inconsistent (residual norm %g > %g) and correction is disabled", norm, tol)
		}
		return nil
	}

	cj := 0.0
	if st.spec.InitCond == dae.InitCondDerivatives {
		cj = 1.0 / h0
	}

	converged := false
	for iter := 0; iter < consts.MaxICIter; iter++ {
		if err := st.cb.Residual(t0, st.yState, st.ypState, st.inputs, st.res); err != nil {
			return dae.Errorf(dae.KindCallbackFailure, "residual callback failed: %v", err)
		}
		st.stats.ResEvals++
		if !finiteAll(st.res) {
			break
		}
		if wrms(st.res, st.ewt[:st.n]) <= 0.01*tol {
			converged = true
			break
		}

		if err := st.evalJacobian(t0, cj); err != nil {
			if isLinearSolverFailure(err) {
				break
			}
			return err
		}
		for i := range st.res {
			st.res[i] = -st.res[i]
		}
		if err := st.mat.Solve(st.res, st.delta); err != nil {
			break
		}
		if !finiteAll(st.delta) {
			break
		}

		st.applyICUpdate(st.yState, st.ypState, st.delta, cj)
		if wrms(st.delta, st.ewt[:st.n]) <= tol {
			converged = true
			break
		}
	}
	if !converged {
		return dae.Errorf(dae.KindInitialConditionCorrection,
			"initial-condition correction failed to converge at t=%g", t0)
	}

	if st.ns > 0 {
		if err := st.correctInitialSens(t0, cj); err != nil {
			return err
		}
	}
	return nil
}

// applyICUpdate distributes a Newton update across the unknowns selected by
// the correction mode.
func (st *stepper) applyICUpdate(y, yp, delta []float64, cj float64) {
	if st.spec.InitCond == dae.InitCondFull {
		for i := 0; i < st.n; i++ {
			y[i] += delta[i]
		}
		return
	}
	for i := 0; i < st.n; i++ {
		if st.spec.Differential(i) {
			yp[i] += cj * delta[i]
		} else {
			y[i] += delta[i]
		}
	}
}

// correctInitialSens makes the zero-initialised sensitivities consistent,
// reusing the factorization left behind by the state correction.
func (st *stepper) correctInitialSens(t0, cj float64) error {
	tol := st.spec.InitCondTolOrDefault()

	for iter := 0; iter < consts.MaxICIter; iter++ {
		if err := st.cb.SensResidual(t0, st.yState, st.ypState, st.inputs, st.ySView, st.ypSView, st.sensRes); err != nil {
			return dae.Errorf(dae.KindCallbackFailure, "sensitivity residual callback failed: %v", err)
		}
		st.stats.SensResEvals++

		maxNorm := 0.0
		for p := 0; p < st.ns; p++ {
			rs := st.sensRes[p]
			if !finiteAll(rs) {
				return dae.Errorf(dae.KindInitialConditionCorrection,
					"sensitivity correction produced non-finite residuals at t=%g", t0)
			}
			for i := range rs {
				rs[i] = -rs[i]
			}
			if err := st.mat.Solve(rs, st.delta); err != nil {
				return dae.Errorf(dae.KindInitialConditionCorrection,
					"sensitivity correction linear solve failed at t=%g", t0)
			}
			st.applyICUpdate(st.ySView[p], st.ypSView[p], st.delta, cj)
			if norm := wrms(st.delta, st.ewt[:st.n]); norm > maxNorm {
				maxNorm = norm
			}
		}
		if !isFinite(maxNorm) {
			return dae.Errorf(dae.KindInitialConditionCorrection,
				"sensitivity correction diverged at t=%g", t0)
		}
		if maxNorm <= tol {
			return nil
		}
	}
	return dae.Errorf(dae.KindInitialConditionCorrection,
		"sensitivity initial-condition correction failed to converge at t=%g", t0)
}
