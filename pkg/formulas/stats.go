// Package formulas provides shared financial math used by the forecaster
// and the accuracy aggregator.
package formulas

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// LinearTrend fits y = alpha + beta*x over the given prices (x = 0..n-1)
// and returns the intercept and slope.
func LinearTrend(prices []float64) (alpha, beta float64) {
	if len(prices) < 2 {
		if len(prices) == 1 {
			return prices[0], 0
		}
		return 0, 0
	}
	xs := make([]float64, len(prices))
	for i := range xs {
		xs[i] = float64(i)
	}
	return stat.LinearRegression(xs, prices, nil, false)
}

// AbsolutePercentageError returns |actual - predicted| / actual * 100.
// Returns NaN when actual is zero; callers must reject that case before
// persisting.
func AbsolutePercentageError(predicted, actual float64) float64 {
	if actual == 0 {
		return math.NaN()
	}
	return math.Abs(actual-predicted) / actual * 100
}

func isNaN(f float64) bool {
	return math.IsNaN(f)
}
