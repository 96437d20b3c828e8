package solver

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wsmgxl2022/Anna-PyBaMM/pkg/dae"
)

// decay with one sensitivity parameter: F = yp + k*y, dF/dk = y, so the
// sensitivity residual is rs = sp + k*s + y and ds/dk(t) = -t*exp(-k*t).
func decayWithSensitivity() (*dae.ProblemSpec, *dae.CallbackTable) {
	spec, cb := decayProblem()
	spec.NSens = 1
	cb.SensResidual = func(t float64, y, yp, inputs []float64, yS, ypS, resS [][]float64) error {
		resS[0][0] = ypS[0][0] + inputs[0]*yS[0][0] + y[0]
		return nil
	}
	return spec, cb
}

func TestSensitivityMatchesAnalytic(t *testing.T) {
	spec, cb := decayWithSensitivity()
	tEval := linspace(0, 1, 11)
	k := 1.0

	sol := Solve(spec, cb, tEval, []float64{1}, []float64{-k}, []float64{k})
	require.Equal(t, dae.FlagNormal, sol.Flag)
	require.Len(t, sol.YS, 1)

	// sensitivities start at zero
	assert.Equal(t, 0.0, sol.YS[0].At(0, 0))

	for i, ti := range sol.T {
		want := -ti * math.Exp(-k*ti)
		assert.InDelta(t, want, sol.YS[0].At(i, 0), 1e-3, "ds/dk at t=%g", ti)
	}
}

func TestSensitivityMatchesFiniteDifference(t *testing.T) {
	tEval := linspace(0, 1, 6)
	k := 1.0

	spec, cb := decayWithSensitivity()
	sol := Solve(spec, cb, tEval, []float64{1}, []float64{-k}, []float64{k})
	require.Equal(t, dae.FlagNormal, sol.Flag)

	solveAt := func(kk float64) *dae.Solution {
		s, c := decayProblem()
		s.Rtol = 1e-10
		s.Atol = []float64{1e-12}
		out := Solve(s, c, tEval, []float64{1}, []float64{-kk}, []float64{kk})
		require.Equal(t, dae.FlagNormal, out.Flag)
		return out
	}
	eps := 1e-5
	hi := solveAt(k + eps)
	lo := solveAt(k - eps)

	for i := range tEval {
		fd := (hi.Y.At(i, 0) - lo.Y.At(i, 0)) / (2 * eps)
		assert.InDelta(t, fd, sol.YS[0].At(i, 0), 5e-3, "t=%g", tEval[i])
	}
}

func TestSensitivityJoinsErrorControlByDefault(t *testing.T) {
	// with the sensitivity block in the error test the step sequence (and
	// hence the emitted states) differs from the exclusion case
	run := func(exclude bool) *dae.Solution {
		spec, cb := decayWithSensitivity()
		spec.ExcludeSensError = exclude
		return Solve(spec, cb, linspace(0, 1, 6), []float64{1}, []float64{-1}, []float64{1})
	}
	incl := run(false)
	excl := run(true)
	require.Equal(t, dae.FlagNormal, incl.Flag)
	require.Equal(t, dae.FlagNormal, excl.Flag)

	// both remain accurate either way
	for i, ti := range incl.T {
		assert.InDelta(t, math.Exp(-ti), incl.Y.At(i, 0), 1e-4)
		assert.InDelta(t, math.Exp(-ti), excl.Y.At(i, 0), 1e-4)
	}
}

func TestSensitivityCallbackErrorAborts(t *testing.T) {
	spec, cb := decayWithSensitivity()
	cb.SensResidual = func(t float64, y, yp, inputs []float64, yS, ypS, resS [][]float64) error {
		return assert.AnError
	}
	sol := Solve(spec, cb, linspace(0, 1, 6), []float64{1}, []float64{-1}, []float64{1})
	assert.Equal(t, dae.FlagSolverError, sol.Flag)
}
