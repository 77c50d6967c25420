package training

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"StockSense/internal/domain/models"
)

// DefaultRidgeAlpha is the L2 penalty of the linear ensemble member.
const DefaultRidgeAlpha = 1.0

// FitRidge solves (XcᵀXc + αI)β = Xcᵀ(y − ȳ) on column-centred X; the
// intercept restores the means.
func FitRidge(X [][]float64, y []float64, alpha float64) (*models.LinearModel, error) {
	n := len(X)
	if n == 0 || n != len(y) {
		return nil, fmt.Errorf("ridge: %d rows, %d targets", n, len(y))
	}
	p := len(X[0])

	means := make([]float64, p)
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		for i := range X {
			col[i] = X[i][j]
		}
		means[j] = stat.Mean(col, nil)
	}
	ym := stat.Mean(y, nil)

	xc := mat.NewDense(n, p, nil)
	yc := mat.NewVecDense(n, nil)
	for i, row := range X {
		for j, v := range row {
			xc.Set(i, j, v-means[j])
		}
		yc.SetVec(i, y[i]-ym)
	}

	var a mat.Dense
	a.Mul(xc.T(), xc)
	for j := 0; j < p; j++ {
		a.Set(j, j, a.At(j, j)+alpha)
	}
	var rhs mat.VecDense
	rhs.MulVec(xc.T(), yc)

	var beta mat.VecDense
	if err := beta.SolveVec(&a, &rhs); err != nil {
		return nil, fmt.Errorf("ridge solve: %w", err)
	}

	m := &models.LinearModel{Alpha: alpha, Coef: make([]float64, p)}
	m.Intercept = ym
	for j := 0; j < p; j++ {
		m.Coef[j] = beta.AtVec(j)
		m.Intercept -= m.Coef[j] * means[j]
	}
	return m, nil
}

// PredictLinear evaluates a ridge model on one scaled feature row.
func PredictLinear(m *models.LinearModel, x []float64) float64 {
	out := m.Intercept
	for j, c := range m.Coef {
		if j < len(x) {
			out += c * x[j]
		}
	}
	return out
}
