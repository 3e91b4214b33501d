package models

import (
	"errors"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// minScale is the column standard deviation below which a feature is treated
// as constant and left out of the fit.
const minScale = 1e-12

// linearModel is a ridge regression on standardised features. It gives the
// boosted ensemble a base margin that extends trends past the training range.
type linearModel struct {
	Intercept float64   `json:"intercept"`
	Means     []float64 `json:"means"`
	Scales    []float64 `json:"scales"`
	Weights   []float64 `json:"weights"`
}

// fitLinear solves (XᵀX + l2·I)w = Xᵀ(y - ȳ) over standardised, non-constant
// columns of rows.
func fitLinear(rows [][]float64, y []float64, l2 float64) (linearModel, error) {
	if len(rows) == 0 {
		return linearModel{}, errors.New("linear base: no rows")
	}
	p := len(rows[0])
	m := linearModel{
		Intercept: stat.Mean(y, nil),
		Means:     make([]float64, p),
		Scales:    make([]float64, p),
		Weights:   make([]float64, p),
	}

	col := make([]float64, len(rows))
	var active []int
	for j := 0; j < p; j++ {
		for i, r := range rows {
			col[i] = r[j]
		}
		mean, std := stat.MeanStdDev(col, nil)
		m.Means[j] = mean
		if len(rows) > 1 && std > minScale {
			m.Scales[j] = std
			active = append(active, j)
		}
	}
	if len(active) == 0 {
		return m, nil
	}

	x := mat.NewDense(len(rows), len(active), nil)
	for i, r := range rows {
		for c, j := range active {
			x.Set(i, c, (r[j]-m.Means[j])/m.Scales[j])
		}
	}
	yc := make([]float64, len(y))
	for i, v := range y {
		yc[i] = v - m.Intercept
	}

	var gram mat.SymDense
	gram.SymOuterK(1, x.T())
	for c := range active {
		gram.SetSym(c, c, gram.At(c, c)+l2)
	}

	var rhs mat.VecDense
	rhs.MulVec(x.T(), mat.NewVecDense(len(yc), yc))

	var chol mat.Cholesky
	if ok := chol.Factorize(&gram); !ok {
		return linearModel{}, errors.New("linear base: normal equations are not positive definite")
	}
	var w mat.VecDense
	if err := chol.SolveVecTo(&w, &rhs); err != nil {
		return linearModel{}, err
	}
	for c, j := range active {
		m.Weights[j] = w.AtVec(c)
	}
	return m, nil
}

func (m linearModel) predict(x []float64) float64 {
	y := m.Intercept
	for j, w := range m.Weights {
		if m.Scales[j] == 0 {
			continue
		}
		y += w * (x[j] - m.Means[j]) / m.Scales[j]
	}
	return y
}
