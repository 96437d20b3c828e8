package matrix

import (
	"fmt"

	"github.com/edp1096/sparse"

	"github.com/wsmgxl2022/Anna-PyBaMM/internal/consts"
	"github.com/wsmgxl2022/Anna-PyBaMM/pkg/dae"
)

// NewtonMatrix owns the sparse Newton system J = dF/dy + cj*dF/dyp for the
// duration of one solve. The CSC sparsity is declared once; each slot is
// bound to a matrix element handle up front so Jacobian evaluations refresh
// values in place without reallocation. The first factorization performs
// the fill-reducing ordering; later calls refactor numerically on the same
// ordering, KLU style.
type NewtonMatrix struct {
	n       int
	nnz     int
	matrix  *sparse.Matrix
	slots   []*sparse.Element
	rhs     []float64 // 1-based scratch vector
	work    []float64 // refinement residual scratch
	ordered bool
}

// NewNewtonMatrix builds the matrix from the fixed sparsity pattern.
// colPtr and rowIdx are zero based.
func NewNewtonMatrix(n, nnz int, colPtr, rowIdx []int) (*NewtonMatrix, error) {
	config := &sparse.Configuration{
		Real:           true,
		Complex:        false,
		Expandable:     true,
		Translate:      false,
		ModifiedNodal:  false,
		TiesMultiplier: 5,
		PrinterWidth:   140,
		Annotate:       0,
	}

	mat, err := sparse.Create(int64(n), config)
	if err != nil {
		return nil, fmt.Errorf("creating sparse matrix: %v", err)
	}

	m := &NewtonMatrix{
		n:      n,
		nnz:    nnz,
		matrix: mat,
		slots:  make([]*sparse.Element, nnz),
		rhs:    make([]float64, n+1),
		work:   make([]float64, n),
	}

	for j := 0; j < n; j++ {
		for p := colPtr[j]; p < colPtr[j+1]; p++ {
			elem := mat.GetElement(int64(rowIdx[p]+1), int64(j+1))
			if elem == nil {
				mat.Destroy()
				return nil, fmt.Errorf("binding element (%d,%d) failed", rowIdx[p], j)
			}
			m.slots[p] = elem
		}
	}
	return m, nil
}

// Load overwrites the matrix with a fresh CSC values array from the
// Jacobian callback. Accumulation over slots keeps consistent within-column
// permutations (and duplicate slots) equivalent to the sorted form.
func (m *NewtonMatrix) Load(values []float64) error {
	if len(values) != m.nnz {
		return dae.Errorf(dae.KindInputValidation, "jacobian values length %d does not match nnz=%d", len(values), m.nnz)
	}
	m.matrix.Clear()
	for p, elem := range m.slots {
		elem.Real += values[p]
	}
	return nil
}

// Factor factorizes the loaded matrix. The first call (and the first call
// after a pivot breakdown) performs the full ordering; the rest reuse it.
func (m *NewtonMatrix) Factor() error {
	if !m.ordered {
		err := m.matrix.OrderAndFactor(m.rhs, consts.PivotRelThreshold, consts.PivotAbsThreshold, true)
		if err != nil {
			return dae.Errorf(dae.KindLinearSolverFailure, "matrix ordering and factorization failed: %v", err)
		}
		m.ordered = true
		return nil
	}
	if err := m.matrix.Factor(); err != nil {
		m.ordered = false // redo the ordering on the next attempt
		return dae.Errorf(dae.KindLinearSolverFailure, "matrix factorization failed: %v", err)
	}
	return nil
}

// Solve computes x = J^{-1} b using the current factorization.
func (m *NewtonMatrix) Solve(b, x []float64) error {
	for i := 0; i < m.n; i++ {
		m.rhs[i+1] = b[i]
	}
	sol, err := m.matrix.Solve(m.rhs)
	if err != nil {
		return dae.Errorf(dae.KindLinearSolverFailure, "matrix solve failed: %v", err)
	}
	copy(x, sol[1:m.n+1])
	return nil
}

// Refine applies one pass of iterative refinement to x using a
// matrix-free J*v action: x += J^{-1}(b - J*x).
func (m *NewtonMatrix) Refine(b, x []float64, jv func(v, out []float64) error) error {
	if err := jv(x, m.work); err != nil {
		return err
	}
	for i := 0; i < m.n; i++ {
		m.work[i] = b[i] - m.work[i]
	}
	delta := make([]float64, m.n)
	if err := m.Solve(m.work, delta); err != nil {
		return err
	}
	for i := 0; i < m.n; i++ {
		x[i] += delta[i]
	}
	return nil
}

// Size reports the system dimension.
func (m *NewtonMatrix) Size() int { return m.n }

// Destroy releases the solver workspace. Safe to call more than once.
func (m *NewtonMatrix) Destroy() {
	if m.matrix != nil {
		m.matrix.Destroy()
		m.matrix = nil
	}
}
