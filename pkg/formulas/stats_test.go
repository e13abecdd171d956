package formulas

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMean(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil), "empty input means zero, not NaN")
	assert.Equal(t, 2.0, Mean([]float64{1, 2, 3}))
}

func TestLinearTrend(t *testing.T) {
	// Perfectly linear prices recover intercept and slope exactly.
	alpha, beta := LinearTrend([]float64{100, 102, 104, 106})
	assert.InDelta(t, 100.0, alpha, 1e-9)
	assert.InDelta(t, 2.0, beta, 1e-9)

	alpha, beta = LinearTrend([]float64{100})
	assert.Equal(t, 100.0, alpha)
	assert.Equal(t, 0.0, beta)

	alpha, beta = LinearTrend(nil)
	assert.Equal(t, 0.0, alpha)
	assert.Equal(t, 0.0, beta)
}

func TestAbsolutePercentageError(t *testing.T) {
	assert.InDelta(t, 0.9804, AbsolutePercentageError(101, 102), 0.001)
	assert.Equal(t, 0.0, AbsolutePercentageError(100, 100))
	assert.True(t, math.IsNaN(AbsolutePercentageError(100, 0)), "zero actual is the caller's problem")
}

func TestCalculateEMA(t *testing.T) {
	assert.Nil(t, CalculateEMA(nil, 20))

	// Too few closes for the period falls back to the plain mean.
	short := CalculateEMA([]float64{100, 102}, 20)
	require.NotNil(t, short)
	assert.Equal(t, 101.0, *short)

	// On a constant series the EMA is the constant.
	flat := make([]float64, 50)
	for i := range flat {
		flat[i] = 100
	}
	ema := CalculateEMA(flat, 20)
	require.NotNil(t, ema)
	assert.InDelta(t, 100.0, *ema, 1e-9)

	// A rising series keeps the EMA below the last close.
	rising := make([]float64, 50)
	for i := range rising {
		rising[i] = 100 + float64(i)
	}
	ema = CalculateEMA(rising, 20)
	require.NotNil(t, ema)
	assert.Less(t, *ema, rising[len(rising)-1])
	assert.Greater(t, *ema, rising[0])
}
