package forecast

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/dkalathas/foresight/internal/domain"
	"github.com/dkalathas/foresight/pkg/formulas"
)

const (
	defaultWindow    = 50
	defaultEMAPeriod = 20
)

// TrendForecaster is the default model: a least-squares trend fitted over a
// sliding window of recent closes, gated by an EMA momentum signal. It is a
// deliberately simple stand-in for heavier sequence models; the ledger only
// cares about the Forecaster contract.
type TrendForecaster struct {
	window    int
	emaPeriod int

	// Fitted state, refreshed by Retrain.
	alpha     float64 // trend intercept at the start of the window
	beta      float64 // trend slope per trading day
	lastClose float64
	ema       float64
	trained   bool
}

// trendArtifact is the serialized form of a TrendForecaster.
type trendArtifact struct {
	Window    int     `msgpack:"window"`
	EMAPeriod int     `msgpack:"ema_period"`
	Alpha     float64 `msgpack:"alpha"`
	Beta      float64 `msgpack:"beta"`
	LastClose float64 `msgpack:"last_close"`
	EMA       float64 `msgpack:"ema"`
	Trained   bool    `msgpack:"trained"`
}

// NewTrendForecaster creates an untrained forecaster with default
// parameters.
func NewTrendForecaster() *TrendForecaster {
	return &TrendForecaster{
		window:    defaultWindow,
		emaPeriod: defaultEMAPeriod,
	}
}

// Load deserializes a forecaster from a stored artifact. An empty artifact
// yields a fresh untrained model (the "create new" path).
func Load(artifact []byte) (*TrendForecaster, error) {
	if len(artifact) == 0 {
		return NewTrendForecaster(), nil
	}

	var a trendArtifact
	if err := msgpack.Unmarshal(artifact, &a); err != nil {
		return nil, fmt.Errorf("failed to decode model artifact: %w", err)
	}

	f := &TrendForecaster{
		window:    a.Window,
		emaPeriod: a.EMAPeriod,
		alpha:     a.Alpha,
		beta:      a.Beta,
		lastClose: a.LastClose,
		ema:       a.EMA,
		trained:   a.Trained,
	}
	if f.window <= 0 {
		f.window = defaultWindow
	}
	if f.emaPeriod <= 0 {
		f.emaPeriod = defaultEMAPeriod
	}
	return f, nil
}

// Retrain refits the trend over the most recent window of closes.
func (f *TrendForecaster) Retrain(history []float64) error {
	if len(history) < 2 {
		return fmt.Errorf("need at least 2 closes to fit a trend, got %d", len(history))
	}

	window := history
	if len(window) > f.window {
		window = window[len(window)-f.window:]
	}

	f.alpha, f.beta = formulas.LinearTrend(window)
	f.lastClose = history[len(history)-1]
	if ema := formulas.CalculateEMA(history, f.emaPeriod); ema != nil {
		f.ema = *ema
	} else {
		f.ema = f.lastClose
	}
	f.trained = true

	return nil
}

// Forecast extrapolates the fitted trend from the last close. Each point
// recommends long when the model expects that day's price to exceed the
// previous day's.
func (f *TrendForecaster) Forecast(history []float64, days int) ([]domain.ForecastPoint, error) {
	if !f.trained {
		return nil, fmt.Errorf("model has not been trained")
	}
	if days < 1 {
		return nil, fmt.Errorf("forecast horizon must be at least 1 day, got %d", days)
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("forecast requires a price history")
	}

	lastClose := history[len(history)-1]

	// Momentum gate: only recommend long while the price sits above its
	// EMA. A positive slope below the EMA is treated as noise.
	aboveEMA := lastClose >= f.ema

	points := make([]domain.ForecastPoint, 0, days)
	prev := lastClose
	for offset := 1; offset <= days; offset++ {
		predicted := lastClose + f.beta*float64(offset)
		if predicted <= 0 {
			// A falling trend extrapolated far enough crosses zero;
			// clamp to a floor so the ledger never sees a non-positive
			// price.
			predicted = prev * 0.99
		}

		points = append(points, domain.ForecastPoint{
			DayOffset:      offset,
			PredictedPrice: predicted,
			RecommendLong:  aboveEMA && predicted > prev,
		})
		prev = predicted
	}

	return points, nil
}

// Marshal serializes the fitted state with msgpack.
func (f *TrendForecaster) Marshal() ([]byte, error) {
	data, err := msgpack.Marshal(trendArtifact{
		Window:    f.window,
		EMAPeriod: f.emaPeriod,
		Alpha:     f.alpha,
		Beta:      f.beta,
		LastClose: f.lastClose,
		EMA:       f.ema,
		Trained:   f.trained,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode model artifact: %w", err)
	}
	return data, nil
}
