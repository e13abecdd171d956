package forecast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func risingHistory(n int) []float64 {
	history := make([]float64, n)
	for i := range history {
		history[i] = 100 + float64(i)
	}
	return history
}

func TestRetrainAndForecast_RisingTrend(t *testing.T) {
	f := NewTrendForecaster()
	history := risingHistory(120)

	require.NoError(t, f.Retrain(history))

	points, err := f.Forecast(history, 5)
	require.NoError(t, err)
	require.Len(t, points, 5)

	lastClose := history[len(history)-1]
	prev := lastClose
	for i, p := range points {
		assert.Equal(t, i+1, p.DayOffset)
		assert.Greater(t, p.PredictedPrice, prev, "rising trend extrapolates upwards")
		assert.True(t, p.RecommendLong, "price above EMA on a rising trend")
		prev = p.PredictedPrice
	}
}

func TestForecast_FallingTrendRecommendsFlat(t *testing.T) {
	f := NewTrendForecaster()
	history := make([]float64, 120)
	for i := range history {
		history[i] = 220 - float64(i)
	}

	require.NoError(t, f.Retrain(history))

	points, err := f.Forecast(history, 5)
	require.NoError(t, err)

	for _, p := range points {
		assert.False(t, p.RecommendLong)
		assert.Greater(t, p.PredictedPrice, 0.0, "prices never clamp below zero")
	}
}

func TestForecast_RequiresTraining(t *testing.T) {
	f := NewTrendForecaster()

	_, err := f.Forecast(risingHistory(10), 5)
	assert.Error(t, err)
}

func TestRetrain_RequiresHistory(t *testing.T) {
	f := NewTrendForecaster()

	assert.Error(t, f.Retrain(nil))
	assert.Error(t, f.Retrain([]float64{100}))
}

func TestMarshal_RoundTripsFittedState(t *testing.T) {
	f := NewTrendForecaster()
	history := risingHistory(120)
	require.NoError(t, f.Retrain(history))

	artifact, err := f.Marshal()
	require.NoError(t, err)
	require.NotEmpty(t, artifact)

	restored, err := Load(artifact)
	require.NoError(t, err)

	original, err := f.Forecast(history, 5)
	require.NoError(t, err)
	reloaded, err := restored.Forecast(history, 5)
	require.NoError(t, err)

	assert.Equal(t, original, reloaded, "a restored model forecasts identically")
}

func TestLoad_EmptyArtifactIsUntrained(t *testing.T) {
	f, err := Load(nil)
	require.NoError(t, err)

	_, err = f.Forecast(risingHistory(10), 5)
	assert.Error(t, err, "fresh model must be trained before forecasting")
}

func TestRecommendation(t *testing.T) {
	rising, err := Load(nil)
	require.NoError(t, err)
	history := risingHistory(120)
	require.NoError(t, rising.Retrain(history))
	points, err := rising.Forecast(history, 5)
	require.NoError(t, err)

	text := Recommendation(history[len(history)-1], points)
	assert.Contains(t, text, "rise")

	assert.Equal(t, "No forecast available.", Recommendation(100, nil))
}
