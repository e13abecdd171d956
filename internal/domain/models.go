// Package domain contains the core entities shared across modules.
// It has no infrastructure dependencies.
package domain

import "errors"

// LifecycleState tracks whether an instrument's forecast is stale, being
// refreshed, or fresh. The persisted status column doubles as the update
// coordinator's run lock: a run refuses to start while any instrument is
// still StateInProgress.
type LifecycleState string

const (
	// StateNew - instrument has never been trained
	StateNew LifecycleState = "new"
	// StateInProgress - instrument is currently being retrained/re-forecast
	StateInProgress LifecycleState = "in_progress"
	// StatePending - forecast refreshed, display stale until next client read
	StatePending LifecycleState = "pending"
	// StateCompleted - display refreshed
	StateCompleted LifecycleState = "completed"
)

// Valid reports whether s is one of the four known lifecycle states.
func (s LifecycleState) Valid() bool {
	switch s {
	case StateNew, StateInProgress, StatePending, StateCompleted:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine allows moving from s to
// next. Re-entering in_progress from any other state is allowed here; the
// single-flight guard (at most one in_progress instrument across the table)
// is enforced by the coordinator, not per record.
func (s LifecycleState) CanTransitionTo(next LifecycleState) bool {
	switch next {
	case StateInProgress:
		return s != StateInProgress
	case StatePending:
		return s == StateInProgress
	case StateCompleted:
		return s == StatePending || s == StateInProgress
	}
	return false
}

// TradingDay maps a calendar date to its dense trading-day number.
// Day numbers are a gap-free enumeration 1..N of all known trading dates in
// chronological order. Rows are never mutated or deleted.
type TradingDay struct {
	DayNumber int    `json:"day_number"`
	Date      string `json:"date"` // YYYY-MM-DD
}

// ModelRecord is the persisted state of one instrument's model.
type ModelRecord struct {
	Ticker         string         `json:"ticker"`
	Artifact       []byte         `json:"-"` // serialized model (msgpack)
	Recommendation string         `json:"recommendation"`
	LastUpdateDay  int            `json:"last_update_day"`
	State          LifecycleState `json:"state"`
	Version        int            `json:"version"`

	// All-time summary, denormalized for fast display.
	SummaryMAPE        *float64 `json:"summary_mape,omitempty"`
	SummaryAccuracyPct *float64 `json:"summary_accuracy_pct,omitempty"`
	SummaryBalance     *float64 `json:"summary_balance,omitempty"`
}

// PredictionRecord is one forecast for one target day. ActualPrice and APE
// start nil and are filled in exactly once when the target day's close is
// known.
type PredictionRecord struct {
	ID             int64    `json:"id"`
	Ticker         string   `json:"ticker"`
	FromDay        int      `json:"from_day"`
	ForDay         int      `json:"for_day"`
	PredictedPrice float64  `json:"predicted_price"`
	ActualPrice    *float64 `json:"actual_price,omitempty"`
	RecommendLong  bool     `json:"recommend_long"`
	APE            *float64 `json:"ape,omitempty"`
}

// Reconciled reports whether the realized price has been recorded.
func (p PredictionRecord) Reconciled() bool {
	return p.ActualPrice != nil
}

// DailyAccuracyRecord is one instrument's accuracy metrics for one trading
// day. Day 1 is a seed row: metric fields nil, balance 100.0. Rows, once
// computed, are immutable.
type DailyAccuracyRecord struct {
	Ticker           string   `json:"ticker"`
	Day              int      `json:"day"`
	MAPE             *float64 `json:"mape,omitempty"`
	BuyAccuracyCount *int     `json:"buy_accuracy_count,omitempty"`
	SimulatedBalance *float64 `json:"simulated_balance,omitempty"`
}

// Computed reports whether metrics have been filled in for this day.
// The seed row (day 1) counts as computed: it has a balance and, by
// definition, no metrics to compare against.
func (r DailyAccuracyRecord) Computed() bool {
	return r.Day == 1 || r.MAPE != nil
}

// ForecastPoint is one point of a multi-day forecast, keyed by its offset
// from the day the forecast was made (offset >= 1).
type ForecastPoint struct {
	DayOffset      int     `json:"day_offset"`
	PredictedPrice float64 `json:"predicted_price"`
	RecommendLong  bool    `json:"recommend_long"`
}

// SeedBalance is the simulated account's starting balance on day 1.
const SeedBalance = 100.0

// ErrInvalidPrice is returned when a reconciliation or forecast price is
// NaN, infinite, or non-positive.
var ErrInvalidPrice = errors.New("invalid price")

// ErrInvalidTransition is returned when a lifecycle state change violates
// the state machine.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")
