package solver

import (
	"math"

	"github.com/wsmgxl2022/Anna-PyBaMM/internal/consts"
)

// eventPhase tracks the engine through its state machine:
// Idle -> Monitoring -> Localising -> Triggered (terminal).
type eventPhase int

const (
	phaseIdle eventPhase = iota
	phaseMonitoring
	phaseLocalising
	phaseTriggered
)

// eventEngine watches the signed event functions across accepted steps and
// localises the earliest sign change. eval produces the event vector at an
// arbitrary time inside the last step (interpolated by the caller).
type eventEngine struct {
	phase eventPhase
	nev   int
	eval  func(t float64, g []float64) error

	tPrev float64
	gPrev []float64
	gNow  []float64
	gWork []float64
}

func newEventEngine(nev int, eval func(t float64, g []float64) error) *eventEngine {
	return &eventEngine{
		phase: phaseIdle,
		nev:   nev,
		eval:  eval,
		gPrev: make([]float64, nev),
		gNow:  make([]float64, nev),
		gWork: make([]float64, nev),
	}
}

// start samples the event functions at the initial time and arms the
// engine.
func (e *eventEngine) start(t0 float64) error {
	if err := e.eval(t0, e.gPrev); err != nil {
		return err
	}
	e.tPrev = t0
	e.phase = phaseMonitoring
	return nil
}

// check inspects the step [tPrev, tn] for strict sign changes and, when one
// is found, localises the earliest root to within ttol. Ties inside the
// localisation window break toward the lowest event index. A true return
// is terminal.
func (e *eventEngine) check(tn, ttol float64) (bool, float64, int, error) {
	if e.phase != phaseMonitoring {
		return false, 0, 0, nil
	}
	if err := e.eval(tn, e.gNow); err != nil {
		return false, 0, 0, err
	}

	rootT := math.Inf(1)
	rootIdx := -1
	for k := 0; k < e.nev; k++ {
		crossed := e.gPrev[k]*e.gNow[k] < 0
		landed := e.gNow[k] == 0 && e.gPrev[k] != 0
		if !crossed && !landed {
			continue
		}
		e.phase = phaseLocalising

		tk := tn
		if crossed {
			var err error
			tk, err = e.localise(k, e.tPrev, tn, e.gPrev[k], e.gNow[k], ttol)
			if err != nil {
				return false, 0, 0, err
			}
		}
		if rootIdx < 0 || tk < rootT-ttol {
			rootT, rootIdx = tk, k
		} else if tk < rootT {
			rootT = tk // indistinguishable roots: lower index wins, earlier time reported
		}
	}

	if rootIdx >= 0 {
		e.phase = phaseTriggered
		return true, rootT, rootIdx, nil
	}

	e.phase = phaseMonitoring
	copy(e.gPrev, e.gNow)
	e.tPrev = tn
	return false, 0, 0, nil
}

// localise narrows a bracketed sign change with the Illinois variant of
// regula falsi, falling back to bisection when the secant point leaves the
// bracket.
func (e *eventEngine) localise(k int, a, b, fa, fb, ttol float64) (float64, error) {
	side := 0
	for iter := 0; iter < consts.MaxRootIter && b-a > ttol; iter++ {
		x := b - fb*(b-a)/(fb-fa)
		if !(x > a && x < b) {
			x = 0.5 * (a + b)
		}
		if err := e.eval(x, e.gWork); err != nil {
			return 0, err
		}
		fx := e.gWork[k]
		if fx == 0 {
			return x, nil
		}
		if (fx > 0) == (fa > 0) {
			a, fa = x, fx
			if side == -1 {
				fb *= 0.5
			}
			side = -1
		} else {
			b, fb = x, fx
			if side == 1 {
				fa *= 0.5
			}
			side = 1
		}
	}
	// report the right end of the bracket: the sign has changed by there
	return b, nil
}
