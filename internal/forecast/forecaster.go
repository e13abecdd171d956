// Package forecast defines the contract the prediction ledger needs from a
// forecasting model, and a default implementation. The ledger and
// coordinator only ever see the Forecaster interface; swapping in a heavier
// model is a wiring change.
package forecast

import (
	"fmt"

	"github.com/dkalathas/foresight/internal/domain"
)

// Forecaster produces multi-day price forecasts and can be retrained on a
// fresh price history. Implementations must be serializable so the model
// lifecycle store can persist them between runs.
type Forecaster interface {
	// Retrain refits the model on the full price history (oldest first).
	Retrain(history []float64) error

	// Forecast returns one point per future trading day, offsets 1..days,
	// based on the most recent retraining.
	Forecast(history []float64, days int) ([]domain.ForecastPoint, error)

	// Marshal serializes the model state for the lifecycle store.
	Marshal() ([]byte, error)
}

// Recommendation renders the human-readable text stored on the model
// record: the expected move over the forecast horizon.
func Recommendation(lastClose float64, points []domain.ForecastPoint) string {
	if len(points) == 0 || lastClose <= 0 {
		return "No forecast available."
	}

	last := points[len(points)-1]
	percent := (last.PredictedPrice/lastClose - 1) * 100

	switch {
	case percent >= 1.0:
		return fmt.Sprintf("Expected to rise %.2f%% over the next %d trading days. Consider buying.", percent, len(points))
	case percent <= -1.0:
		return fmt.Sprintf("Expected to fall %.2f%% over the next %d trading days. Consider selling.", -percent, len(points))
	default:
		return fmt.Sprintf("Expected to stay within ±1%% (%+.2f%%) over the next %d trading days. Hold.", percent, len(points))
	}
}
