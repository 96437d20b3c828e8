package solver

// Variable-step BDF machinery: the accepted-solution history, the Hermite
// predictor, the corrector derivative weights and the dense-output
// interpolant. History rows concatenate the state block with one block per
// sensitivity parameter so that prediction, interpolation and error control
// treat them uniformly.

type history struct {
	rowLen int
	depth  int
	count  int
	t      []float64   // t[0] is the most recent accepted time
	y      [][]float64 // same ordering as t
	yp     []float64   // BDF derivative at t[0]

	// scratch for divided-difference tables
	z []float64
	c [][]float64
}

func newHistory(rowLen, depth int) *history {
	h := &history{
		rowLen: rowLen,
		depth:  depth,
		t:      make([]float64, depth),
		y:      make([][]float64, depth),
		yp:     make([]float64, rowLen),
		z:      make([]float64, depth+1),
		c:      make([][]float64, depth+1),
	}
	for i := range h.y {
		h.y[i] = make([]float64, rowLen)
	}
	for i := range h.c {
		h.c[i] = make([]float64, rowLen)
	}
	return h
}

// push records an accepted step, rotating the oldest buffer to the front.
func (h *history) push(t float64, y, yp []float64) {
	for i := h.depth - 1; i > 0; i-- {
		h.y[i], h.y[i-1] = h.y[i-1], h.y[i]
	}
	copy(h.t[1:], h.t[:h.depth-1])
	h.t[0] = t
	copy(h.y[0], y)
	copy(h.yp, yp)
	if h.count < h.depth {
		h.count++
	}
}

// predict extrapolates the order-q Hermite polynomial (values at the last q
// accepted points plus the derivative at the most recent one) to tNew,
// filling yPred and, when non-nil, ypPred. Requires 1 <= q <= count.
func (h *history) predict(q int, tNew float64, yPred, ypPred []float64) {
	// confluent nodes: t[0] doubled, then t[1..q-1]
	h.z[0] = h.t[0]
	h.z[1] = h.t[0]
	copy(h.c[0], h.y[0])
	copy(h.c[1], h.y[0])
	for k := 2; k <= q; k++ {
		h.z[k] = h.t[k-1]
		copy(h.c[k], h.y[k-1])
	}
	// divided differences; the repeated node takes the stored derivative
	for lvl := 1; lvl <= q; lvl++ {
		for k := q; k >= lvl; k-- {
			if lvl == 1 && k == 1 {
				copy(h.c[1], h.yp)
				continue
			}
			dz := h.z[k] - h.z[k-lvl]
			ck, cp := h.c[k], h.c[k-1]
			for i := 0; i < h.rowLen; i++ {
				ck[i] = (ck[i] - cp[i]) / dz
			}
		}
	}
	h.horner(q, tNew, yPred, ypPred)
}

// interpolate evaluates the accepted interpolating polynomial of order q
// (through t[0..q]) at tOut. Used for dense output and event localisation;
// requires q+1 <= count.
func (h *history) interpolate(q int, tOut float64, yOut, ypOut []float64) {
	for k := 0; k <= q; k++ {
		h.z[k] = h.t[k]
		copy(h.c[k], h.y[k])
	}
	for lvl := 1; lvl <= q; lvl++ {
		for k := q; k >= lvl; k-- {
			dz := h.z[k] - h.z[k-lvl]
			ck, cp := h.c[k], h.c[k-1]
			for i := 0; i < h.rowLen; i++ {
				ck[i] = (ck[i] - cp[i]) / dz
			}
		}
	}
	h.horner(q, tOut, yOut, ypOut)
}

// horner evaluates the Newton-form polynomial held in c/z and, when dp is
// non-nil, its derivative.
func (h *history) horner(q int, t float64, p, dp []float64) {
	copy(p, h.c[q])
	if dp != nil {
		for i := range dp {
			dp[i] = 0
		}
	}
	for k := q - 1; k >= 0; k-- {
		dt := t - h.z[k]
		ck := h.c[k]
		if dp != nil {
			for i := 0; i < h.rowLen; i++ {
				dp[i] = dp[i]*dt + p[i]
				p[i] = p[i]*dt + ck[i]
			}
		} else {
			for i := 0; i < h.rowLen; i++ {
				p[i] = p[i]*dt + ck[i]
			}
		}
	}
}

// derivCoeffs returns the leading BDF coefficient cj and fills beta with
// the history contribution so that yp = cj*y + beta holds for the order-q
// corrector polynomial through (tNew, y) and the last q accepted points.
// The weights are the derivatives at tNew of the Lagrange basis over the
// nodes {tNew, t[0], ..., t[q-1]}.
func (h *history) derivCoeffs(q int, tNew float64, beta []float64) float64 {
	for i := range beta {
		beta[i] = 0
	}
	cj := 0.0
	for m := 0; m < q; m++ {
		cj += 1.0 / (tNew - h.t[m])
	}
	for j := 0; j < q; j++ {
		tau := h.t[j]
		w := 1.0 / (tau - tNew)
		for m := 0; m < q; m++ {
			if m == j {
				continue
			}
			w *= (tNew - h.t[m]) / (tau - h.t[m])
		}
		yj := h.y[j]
		for i := 0; i < h.rowLen; i++ {
			beta[i] += w * yj[i]
		}
	}
	return cj
}
