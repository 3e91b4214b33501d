package models

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// errorMetrics returns the mean absolute and root mean squared error of
// predicted against actual. Both are zero for empty input.
func errorMetrics(actual, predicted []float64) (mae, rmse float64) {
	n := float64(len(actual))
	if n == 0 {
		return 0, 0
	}
	mae = floats.Distance(actual, predicted, 1) / n
	rmse = floats.Distance(actual, predicted, 2) / math.Sqrt(n)
	return mae, rmse
}
