package solver

import (
	"math"

	"github.com/wsmgxl2022/Anna-PyBaMM/internal/consts"
	"github.com/wsmgxl2022/Anna-PyBaMM/pkg/dae"
	"github.com/wsmgxl2022/Anna-PyBaMM/pkg/matrix"
)

const uround = 2.220446049250313e-16

// stepper drives one solve: variable-order (1..maxOrder), variable-step
// BDF with a Newton corrector over the sparse direct linear solver.
// All of its state is private to the solve and runs on the calling
// goroutine; callbacks block the integrator.
type stepper struct {
	spec   *dae.ProblemSpec
	cb     *dae.CallbackTable
	inputs []float64
	mat    *matrix.NewtonMatrix

	n, ns  int
	rowLen int // state block plus one block per sensitivity parameter

	maxOrder int
	maxSteps int

	hist          *history
	tn, tEnd      float64
	h, hmin, hmax float64
	order         int
	stepsAtOrder  int
	lastQ         int // order of the last accepted step, valid for interpolation

	// working iterate (full rows)
	yRow, ypRow []float64
	yState      []float64 // view into yRow
	ypState     []float64 // view into ypRow
	ySView      [][]float64
	ypSView     [][]float64
	yPred       []float64
	beta        []float64
	predScratch []float64
	outRow      []float64
	ee          []float64

	// error weights and error-test mask
	ewt     []float64
	errMask []float64

	// Newton workspace
	res, delta, jacVals []float64
	sensRes             [][]float64
	cjFact              float64
	haveFact, needJac   bool

	events  *eventEngine
	gY, gYp []float64

	stats dae.Statistics
}

type stepOutcome int

const (
	stepAccepted stepOutcome = iota
	stepConvFail
	stepErrFail
)

func newStepper(spec *dae.ProblemSpec, cb *dae.CallbackTable, inputs []float64, mat *matrix.NewtonMatrix) *stepper {
	n := spec.N
	ns := spec.NSens
	rowLen := n * (1 + ns)

	st := &stepper{
		spec:     spec,
		cb:       cb,
		inputs:   inputs,
		mat:      mat,
		n:        n,
		ns:       ns,
		rowLen:   rowLen,
		maxOrder: spec.MaxOrderOrDefault(),
		maxSteps: spec.MaxStepsOrDefault(),

		yRow:        make([]float64, rowLen),
		ypRow:       make([]float64, rowLen),
		yPred:       make([]float64, rowLen),
		beta:        make([]float64, rowLen),
		predScratch: make([]float64, rowLen),
		outRow:      make([]float64, rowLen),
		ee:          make([]float64, rowLen),
		ewt:         make([]float64, rowLen),
		errMask:     make([]float64, rowLen),
		res:         make([]float64, n),
		delta:       make([]float64, n),
		jacVals:     make([]float64, spec.Nnz),
		gY:          make([]float64, rowLen),
		gYp:         make([]float64, rowLen),
	}
	st.hist = newHistory(rowLen, st.maxOrder+2)
	st.yState = st.yRow[:n]
	st.ypState = st.ypRow[:n]
	st.ySView = blockViews(st.yRow, n, ns)
	st.ypSView = blockViews(st.ypRow, n, ns)
	if ns > 0 {
		st.sensRes = make([][]float64, ns)
		for i := range st.sensRes {
			st.sensRes[i] = make([]float64, n)
		}
	}
	st.buildErrMask()
	return st
}

// blockViews returns the ns sensitivity blocks of a full row.
func blockViews(row []float64, n, ns int) [][]float64 {
	views := make([][]float64, ns)
	for p := 0; p < ns; p++ {
		views[p] = row[n*(1+p) : n*(2+p)]
	}
	return views
}

func (st *stepper) buildErrMask() {
	for i := 0; i < st.n; i++ {
		if st.spec.Differential(i) || st.spec.IncludeAlgebraicError {
			st.errMask[i] = 1
		}
	}
	for p := 0; p < st.ns; p++ {
		for i := 0; i < st.n; i++ {
			if !st.spec.ExcludeSensError {
				st.errMask[st.n*(1+p)+i] = st.errMask[i]
			}
		}
	}
}

// updateWeights refreshes the wrms weights from the most recent values.
// Sensitivity blocks reuse the state tolerances.
func (st *stepper) updateWeights(row []float64) {
	for b := 0; b <= st.ns; b++ {
		for i := 0; i < st.n; i++ {
			idx := b*st.n + i
			st.ewt[idx] = 1.0 / (st.spec.Rtol*math.Abs(row[idx]) + st.spec.AtolAt(i))
		}
	}
}

// run integrates over the requested output times, filling the builder.
// The returned flag is authoritative; the builder keeps the prefix emitted
// before any failure.
func (st *stepper) run(tEval, y0, yp0 []float64, bld *dae.Builder) dae.Flag {
	t0 := tEval[0]
	tEnd := tEval[len(tEval)-1]

	if err := st.init(t0, tEnd, y0, yp0); err != nil {
		st.captureStats()
		return dae.FlagFor(err)
	}

	bld.Append(t0, st.hist.y[0][:st.n], blockViews(st.hist.y[0], st.n, st.ns))
	if len(tEval) == 1 {
		st.captureStats()
		return dae.FlagNormal
	}

	if st.spec.NEvents > 0 {
		st.events = newEventEngine(st.spec.NEvents, st.evalEvents)
		if err := st.events.start(t0); err != nil {
			st.captureStats()
			return dae.FlagFor(err)
		}
	}

	iOut := 1
	for iOut < len(tEval) {
		if st.stats.Steps >= st.maxSteps {
			st.captureStats()
			return dae.FlagTooMuchWork
		}
		if err := st.advance(); err != nil {
			st.captureStats()
			return dae.FlagFor(err)
		}

		if st.events != nil {
			ttol := 100 * uround * (math.Abs(st.tn) + math.Abs(st.h))
			triggered, tRoot, _, err := st.events.check(st.tn, ttol)
			if err != nil {
				st.captureStats()
				return dae.FlagFor(err)
			}
			if triggered {
				for iOut < len(tEval) && tEval[iOut] < tRoot {
					st.emit(tEval[iOut], bld)
					iOut++
				}
				st.emit(tRoot, bld)
				st.captureStats()
				return dae.FlagEventTriggered
			}
		}

		for iOut < len(tEval) && tEval[iOut] <= st.tn {
			st.emit(tEval[iOut], bld)
			iOut++
		}
	}
	st.captureStats()
	return dae.FlagNormal
}

// emit interpolates the accepted history polynomial at t and appends the
// row to the builder.
func (st *stepper) emit(t float64, bld *dae.Builder) {
	st.hist.interpolate(st.lastQ, t, st.outRow, nil)
	bld.Append(t, st.outRow[:st.n], blockViews(st.outRow, st.n, st.ns))
}

// evalEvents computes the event vector at time t, interpolating unless t is
// the current internal time.
func (st *stepper) evalEvents(t float64, g []float64) error {
	var y, yp []float64
	if t == st.tn {
		y = st.hist.y[0][:st.n]
		yp = st.hist.yp[:st.n]
	} else {
		st.hist.interpolate(st.lastQ, t, st.gY, st.gYp)
		y = st.gY[:st.n]
		yp = st.gYp[:st.n]
	}
	if err := st.cb.Events(t, y, yp, st.inputs, g); err != nil {
		return dae.Errorf(dae.KindCallbackFailure, "event callback failed: %v", err)
	}
	return nil
}

// init corrects the initial conditions, chooses the first step size and
// seeds the history.
func (st *stepper) init(t0, tEnd float64, y0, yp0 []float64) error {
	copy(st.yState, y0)
	copy(st.ypState, yp0)
	for i := st.n; i < st.rowLen; i++ {
		st.yRow[i] = 0 // sensitivities start at zero
		st.ypRow[i] = 0
	}
	st.updateWeights(st.yRow)

	tdist := tEnd - t0
	st.hmax = st.spec.MaxStep
	if st.hmax <= 0 {
		st.hmax = tdist
	}
	st.hmin = st.spec.MinStep
	if floor := 10 * uround * (math.Abs(t0) + math.Abs(tEnd)); floor > st.hmin {
		st.hmin = floor
	}

	h0 := st.spec.InitStep
	if h0 <= 0 {
		h0 = 0.001 * tdist
	}
	if h0 <= 0 {
		h0 = 1e-3 // nominal: a single-point request is still corrected
	}
	if err := st.correctInitial(t0, h0); err != nil {
		return err
	}
	if tdist > 0 {
		// temper the first step against the initial slope
		if ypnorm := wrms(st.ypRow, st.ewt); ypnorm*h0 > 0.5 {
			h0 = 0.5 / ypnorm
		}
		if h0 > st.hmax {
			h0 = st.hmax
		}
		if h0 < st.hmin {
			h0 = st.hmin
		}
	}

	st.hist.push(t0, st.yRow, st.ypRow)
	st.updateWeights(st.hist.y[0])
	st.tn = t0
	st.tEnd = tEnd
	st.h = h0
	st.order = 1
	st.lastQ = 1
	st.stepsAtOrder = 0
	return nil
}

// advance takes exactly one accepted internal step, retrying with reduced
// steps inside the failure budgets.
func (st *stepper) advance() error {
	convFails, errFails := 0, 0
	for {
		outcome, est, err := st.tryStep()
		if err != nil {
			return err
		}
		switch outcome {
		case stepAccepted:
			return nil

		case stepConvFail:
			st.stats.RejectedSteps++
			st.stats.NewtonFails++
			convFails++
			if convFails >= consts.MaxConvFails {
				return dae.Errorf(dae.KindStepConvergence,
					"corrector failed to converge after %d step reductions at t=%g", convFails, st.tn)
			}
			st.needJac = true
			st.h *= consts.ConvFailCut
			if st.h < st.hmin {
				return dae.Errorf(dae.KindStepConvergence,
					"step size %g fell below the minimum %g at t=%g", st.h, st.hmin, st.tn)
			}

		case stepErrFail:
			st.stats.RejectedSteps++
			errFails++
			if errFails >= consts.MaxErrTestFails {
				return dae.Errorf(dae.KindStepConvergence,
					"error test failed %d times at t=%g", errFails, st.tn)
			}
			fac := consts.StepSafety * math.Pow(1.0/est, 1.0/float64(st.order+1))
			if fac < consts.StepShrinkMin {
				fac = consts.StepShrinkMin
			}
			if fac > consts.StepSafety {
				fac = consts.StepSafety
			}
			st.h *= fac
			if errFails >= 2 && st.order > 1 {
				st.order = 1
				st.stepsAtOrder = 0
			}
			if st.h < st.hmin {
				return dae.Errorf(dae.KindStepConvergence,
					"step size fell below the minimum after error test failures at t=%g", st.tn)
			}
		}
	}
}

// tryStep attempts a single step at the current order and step size.
func (st *stepper) tryStep() (stepOutcome, float64, error) {
	if st.h > st.hmax {
		st.h = st.hmax
	}
	tTry := st.tn + st.h
	if tTry > st.tEnd {
		tTry = st.tEnd // never step past the last requested time
	}
	if tTry == st.tn {
		return stepConvFail, 0, dae.Errorf(dae.KindStepConvergence,
			"step size %g vanished at t=%g", st.h, st.tn)
	}
	q := st.order

	st.hist.predict(q, tTry, st.yPred, nil)
	cj := st.hist.derivCoeffs(q, tTry, st.beta)

	// up to two corrector passes: a stale Jacobian earns one refresh before
	// the step is rejected
	converged := false
	for pass := 0; pass < 2; pass++ {
		copy(st.yRow, st.yPred)
		for i := 0; i < st.rowLen; i++ {
			st.ypRow[i] = cj*st.yRow[i] + st.beta[i]
		}

		fresh := false
		stale := !st.haveFact || st.needJac ||
			math.Abs(cj/st.cjFact-1.0) > consts.CjChangeMax
		if pass == 1 || stale {
			if err := st.evalJacobian(tTry, cj); err != nil {
				if isLinearSolverFailure(err) {
					return stepConvFail, 0, nil // singular factor: shrink and retry
				}
				return stepConvFail, 0, err
			}
			fresh = true
			st.needJac = false
		}

		ok, err := st.newtonSolve(tTry, cj)
		if err != nil {
			return stepConvFail, 0, err
		}
		if ok {
			converged = true
			break
		}
		if fresh {
			return stepConvFail, 0, nil
		}
	}
	if !converged {
		return stepConvFail, 0, nil
	}

	if st.ns > 0 {
		ok, err := st.correctSensitivities(tTry, cj)
		if err != nil {
			return stepConvFail, 0, err
		}
		if !ok {
			st.needJac = true
			return stepConvFail, 0, nil
		}
	}

	est := st.estimateError(q)
	if !isFinite(est) {
		return stepConvFail, 0, nil
	}
	if est > 1.0 {
		return stepErrFail, est, nil
	}

	st.acceptStep(tTry, q, est)
	return stepAccepted, est, nil
}

// estimateError returns the weighted local error estimate at order q for
// the current corrected row.
func (st *stepper) estimateError(q int) float64 {
	for i := 0; i < st.rowLen; i++ {
		st.ee[i] = st.yRow[i] - st.yPred[i]
	}
	return wrmsMasked(st.ee, st.ewt, st.errMask) / float64(q+1)
}

// estimateAt evaluates the error the step would have produced at a
// different order, using the same history.
func (st *stepper) estimateAt(o int, tTry float64) float64 {
	st.hist.predict(o, tTry, st.predScratch, nil)
	for i := 0; i < st.rowLen; i++ {
		st.ee[i] = st.yRow[i] - st.predScratch[i]
	}
	return wrmsMasked(st.ee, st.ewt, st.errMask) / float64(o+1)
}

// acceptStep commits the step, then adapts order and step size. Order
// changes are considered only after q+1 steps at the current order, by
// comparing the error estimates one order down and one order up.
func (st *stepper) acceptStep(tTry float64, q int, est float64) {
	st.stepsAtOrder++
	newOrder := q
	bestFac := stepFactor(est, q)

	if st.stepsAtOrder >= q+1 {
		if q > 1 {
			if fac := stepFactor(st.estimateAt(q-1, tTry), q-1); fac > bestFac {
				bestFac = fac
				newOrder = q - 1
			}
		}
		if q < st.maxOrder && st.hist.count >= q+1 {
			if fac := stepFactor(st.estimateAt(q+1, tTry), q+1); fac > bestFac {
				bestFac = fac
				newOrder = q + 1
			}
		}
	}

	st.hist.push(tTry, st.yRow, st.ypRow)
	st.updateWeights(st.hist.y[0])
	st.tn = tTry
	st.lastQ = q

	if newOrder != q {
		st.order = newOrder
		st.stepsAtOrder = 0
	}

	fac := consts.StepSafety * bestFac
	if fac > consts.StepGrowMax {
		fac = consts.StepGrowMax
	}
	if fac < consts.StepShrinkMin {
		fac = consts.StepShrinkMin
	}
	st.h *= fac
	if st.h > st.hmax {
		st.h = st.hmax
	}
	if st.h < st.hmin {
		st.h = st.hmin
	}

	st.stats.Steps++
	st.stats.LastStep = st.h
	st.stats.LastOrder = st.order
	st.stats.LastTime = st.tn
}

func (st *stepper) captureStats() {
	st.stats.LastTime = st.tn
}

// stepFactor is the raw step-size multiplier suggested by an error
// estimate at the given order.
func stepFactor(est float64, order int) float64 {
	if est < uround {
		est = uround
	}
	return math.Pow(1.0/est, 1.0/float64(order+1))
}

func wrms(v, w []float64) float64 {
	sum := 0.0
	for i := range v {
		d := v[i] * w[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(v)))
}

func wrmsMasked(v, w, mask []float64) float64 {
	sum := 0.0
	for i := range v {
		d := v[i] * w[i] * mask[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(v)))
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func finiteAll(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func isLinearSolverFailure(err error) bool {
	e, ok := err.(*dae.Error)
	return ok && e.Kind == dae.KindLinearSolverFailure
}
