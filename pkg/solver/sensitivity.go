package solver

import (
	"github.com/wsmgxl2022/Anna-PyBaMM/internal/consts"
	"github.com/wsmgxl2022/Anna-PyBaMM/pkg/dae"
)

// correctSensitivities advances the forward sensitivities across the step
// just corrected for the state, staggered-direct style: the sensitivity
// residual is linear in (s, s'), so the already-factored Newton matrix is
// the exact system matrix and the iteration settles in one or two passes.
// The blocks of yRow/ypRow hold the predictor on entry and the corrected
// sensitivities on a true return.
func (st *stepper) correctSensitivities(t, cj float64) (bool, error) {
	prevNorm := 0.0
	for m := 0; m < consts.MaxNewtonIter; m++ {
		if err := st.cb.SensResidual(t, st.yState, st.ypState, st.inputs, st.ySView, st.ypSView, st.sensRes); err != nil {
			return false, dae.Errorf(dae.KindCallbackFailure, "sensitivity residual callback failed: %v", err)
		}
		st.stats.SensResEvals++

		norm := 0.0
		for p := 0; p < st.ns; p++ {
			rs := st.sensRes[p]
			if !finiteAll(rs) {
				return false, nil
			}
			for i := range rs {
				rs[i] = -rs[i]
			}
			if err := st.mat.Solve(rs, st.delta); err != nil {
				return false, nil
			}
			if !finiteAll(st.delta) {
				return false, nil
			}
			s := st.ySView[p]
			sp := st.ypSView[p]
			for i := 0; i < st.n; i++ {
				s[i] += st.delta[i]
				sp[i] += cj * st.delta[i]
			}
			if n := wrms(st.delta, st.ewt[st.n*(1+p):st.n*(2+p)]); n > norm {
				norm = n
			}
		}

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
