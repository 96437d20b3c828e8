package dae

import (
	"gonum.org/v1/gonum/mat"
)

// Statistics records the integrator counters for one solve. They are kept
// for diagnosis; the termination flag remains the authoritative result.
type Statistics struct {
	Steps          int
	RejectedSteps  int
	ResEvals       int
	JacEvals       int
	Factorizations int
	NewtonIters    int
	NewtonFails    int
	SensResEvals   int
	LastOrder      int
	LastStep       float64
	LastTime       float64
}

// Solution is the record returned by every solve. T holds the reached
// output times, Y the dense states (one row per time), YS one k-by-n
// matrix per sensitivity parameter. On failure the prefix up to the last
// emitted time is still valid and Flag reports the cause.
type Solution struct {
	T    []float64
	Y    *mat.Dense
	YS   []*mat.Dense
	Flag Flag
	Stats Statistics
}

// Builder accumulates output rows during a solve and hands the buffers to
// the Solution by move. The integrator never keeps aliases to them.
type Builder struct {
	n     int
	nsens int
	t     []float64
	y     []float64   // row-major, len(t) rows of n
	ys    [][]float64 // nsens blocks, same layout as y
}

func NewBuilder(n, nsens, capacity int) *Builder {
	b := &Builder{
		n:     n,
		nsens: nsens,
		t:     make([]float64, 0, capacity),
		y:     make([]float64, 0, capacity*n),
	}
	if nsens > 0 {
		b.ys = make([][]float64, nsens)
		for i := range b.ys {
			b.ys[i] = make([]float64, 0, capacity*n)
		}
	}
	return b
}

// Append copies one output row. yS may be nil when no sensitivities were
// requested; otherwise it holds nsens vectors of length n.
func (b *Builder) Append(t float64, y []float64, yS [][]float64) {
	b.t = append(b.t, t)
	b.y = append(b.y, y...)
	for i := range b.ys {
		b.ys[i] = append(b.ys[i], yS[i]...)
	}
}

// Len reports the number of rows emitted so far.
func (b *Builder) Len() int { return len(b.t) }

// Finish transfers the accumulated buffers into a Solution. The builder
// must not be used afterwards. An empty builder yields an empty body
// (nil T and Y), which is the IllegalInput shape.
func (b *Builder) Finish(flag Flag, stats Statistics) *Solution {
	sol := &Solution{Flag: flag, Stats: stats}
	k := len(b.t)
	if k == 0 {
		b.t, b.y, b.ys = nil, nil, nil
		return sol
	}
	sol.T = b.t
	sol.Y = mat.NewDense(k, b.n, b.y)
	if b.nsens > 0 {
		sol.YS = make([]*mat.Dense, b.nsens)
		for i := range sol.YS {
			sol.YS[i] = mat.NewDense(k, b.n, b.ys[i])
		}
	}
	b.t, b.y, b.ys = nil, nil, nil
	return sol
}
