package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dkalathas/foresight/internal/accuracy"
	"github.com/dkalathas/foresight/internal/calendar"
	"github.com/dkalathas/foresight/internal/domain"
	"github.com/dkalathas/foresight/internal/ledger"
	"github.com/dkalathas/foresight/internal/models"
)

const defaultAccuracyDays = 30

// StockHandlers serves the per-instrument read API.
type StockHandlers struct {
	models   *models.Repository
	ledger   *ledger.Repository
	accuracy *accuracy.Repository
	calendar *calendar.Service
	log      zerolog.Logger
}

// NewStockHandlers creates the stock read handlers.
func NewStockHandlers(modelRepo *models.Repository, ledgerRepo *ledger.Repository, accuracyRepo *accuracy.Repository, cal *calendar.Service, log zerolog.Logger) *StockHandlers {
	return &StockHandlers{
		models:   modelRepo,
		ledger:   ledgerRepo,
		accuracy: accuracyRepo,
		calendar: cal,
		log:      log.With().Str("component", "stock_handlers").Logger(),
	}
}

type stockSummary struct {
	Symbol         string   `json:"symbol"`
	Status         string   `json:"status"`
	Recommendation string   `json:"recommendation"`
	LastUpdateDay  int      `json:"last_update_day"`
	Version        int      `json:"version"`
	MAPE           *float64 `json:"mape,omitempty"`
	AccuracyPct    *float64 `json:"accuracy_pct,omitempty"`
	Balance        *float64 `json:"balance,omitempty"`
}

type forecastPointResponse struct {
	ForDay         int      `json:"for_day"`
	Date           string   `json:"date,omitempty"`
	PredictedPrice float64  `json:"predicted_price"`
	RecommendLong  bool     `json:"recommend_long"`
	ActualPrice    *float64 `json:"actual_price,omitempty"`
}

type stockDetail struct {
	stockSummary
	Message  string                  `json:"message,omitempty"`
	Forecast []forecastPointResponse `json:"forecast,omitempty"`
	Charts   map[string]string       `json:"charts,omitempty"`
}

// HandleList returns every tracked instrument with its lifecycle state and
// all-time summary.
// GET /api/stocks
func (h *StockHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	records, err := h.models.All()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list instruments")
		h.writeJSON(w, map[string]interface{}{"stocks": []stockSummary{}, "message": "temporarily unavailable"})
		return
	}

	stocks := make([]stockSummary, 0, len(records))
	for _, rec := range records {
		stocks = append(stocks, summarize(rec))
	}

	h.writeJSON(w, map[string]interface{}{"stocks": stocks})
}

// HandleDetail returns one instrument's recommendation, current forecast and
// chart references. Reading a pending instrument acknowledges the fresh data
// by flipping it to completed; that is the only mutation this API performs.
// GET /api/stocks/{symbol}
func (h *StockHandlers) HandleDetail(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))

	rec, ok, err := h.models.Find(symbol)
	if err != nil {
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to load instrument")
		h.writeJSON(w, stockDetail{
			stockSummary: stockSummary{Symbol: symbol},
			Message:      "temporarily unavailable",
		})
		return
	}
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unknown symbol"})
		return
	}

	if rec.State == domain.StateNew {
		h.writeJSON(w, stockDetail{
			stockSummary: summarize(rec),
			Message:      "model not yet trained, check back after the next update run",
		})
		return
	}

	// Fresh data has now been seen by a client.
	if rec.State == domain.StatePending {
		flipped, err := h.models.CompletePending(symbol)
		if err != nil {
			h.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to acknowledge pending state")
		} else if flipped {
			rec.State = domain.StateCompleted
		}
	}

	detail := stockDetail{
		stockSummary: summarize(rec),
		Charts: map[string]string{
			"price":    fmt.Sprintf("/static/images/%s_price.png", symbol),
			"forecast": fmt.Sprintf("/static/images/%s_forecast.png", symbol),
		},
	}

	points, err := h.ledger.ForecastFrom(symbol, rec.LastUpdateDay)
	if err != nil {
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to load forecast")
		detail.Message = "forecast temporarily unavailable"
		h.writeJSON(w, detail)
		return
	}

	for _, p := range points {
		point := forecastPointResponse{
			ForDay:         p.ForDay,
			PredictedPrice: p.PredictedPrice,
			RecommendLong:  p.RecommendLong,
			ActualPrice:    p.ActualPrice,
		}
		if date, err := h.calendar.DateFor(p.ForDay); err == nil && date != "" {
			point.Date = date
		}
		detail.Forecast = append(detail.Forecast, point)
	}

	h.writeJSON(w, detail)
}

type accuracyRow struct {
	Day         int      `json:"day"`
	Date        string   `json:"date,omitempty"`
	MAPE        *float64 `json:"mape,omitempty"`
	BuyAccuracy *int     `json:"buy_accuracy,omitempty"`
	Balance     *float64 `json:"balance,omitempty"`
}

// HandleAccuracy returns the most recent daily accuracy rows, newest first.
// GET /api/stocks/{symbol}/accuracy?days=N
func (h *StockHandlers) HandleAccuracy(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))

	days := defaultAccuracyDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "days must be a positive integer"})
			return
		}
		days = parsed
	}

	records, err := h.accuracy.History(symbol, days)
	if err != nil {
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to load accuracy history")
		h.writeJSON(w, map[string]interface{}{"symbol": symbol, "history": []accuracyRow{}, "message": "temporarily unavailable"})
		return
	}

	history := make([]accuracyRow, 0, len(records))
	for _, rec := range records {
		row := accuracyRow{
			Day:         rec.Day,
			MAPE:        rec.MAPE,
			BuyAccuracy: rec.BuyAccuracyCount,
			Balance:     rec.SimulatedBalance,
		}
		if date, err := h.calendar.DateFor(rec.Day); err == nil && date != "" {
			row.Date = date
		}
		history = append(history, row)
	}

	h.writeJSON(w, map[string]interface{}{"symbol": symbol, "history": history})
}

func summarize(rec domain.ModelRecord) stockSummary {
	return stockSummary{
		Symbol:         rec.Ticker,
		Status:         string(rec.State),
		Recommendation: rec.Recommendation,
		LastUpdateDay:  rec.LastUpdateDay,
		Version:        rec.Version,
		MAPE:           rec.SummaryMAPE,
		AccuracyPct:    rec.SummaryAccuracyPct,
		Balance:        rec.SummaryBalance,
	}
}

// writeJSON writes a JSON response
func (h *StockHandlers) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}
