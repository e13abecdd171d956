// Package updater runs the nightly update cycle: extend the trading
// calendar, reconcile past forecasts against realized closes, retrain and
// re-forecast every instrument, and fold the results into the daily
// accuracy series. The whole cycle is idempotent: a crashed or repeated run
// converges to the same state instead of duplicating work.
package updater

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dkalathas/foresight/internal/accuracy"
	"github.com/dkalathas/foresight/internal/calendar"
	"github.com/dkalathas/foresight/internal/clients/marketdata"
	"github.com/dkalathas/foresight/internal/domain"
	"github.com/dkalathas/foresight/internal/events"
	"github.com/dkalathas/foresight/internal/forecast"
	"github.com/dkalathas/foresight/internal/ledger"
	"github.com/dkalathas/foresight/internal/models"
)

// ErrAlreadyRunning is returned when another update run holds the lifecycle
// lock. The aborted run performs zero writes.
var ErrAlreadyRunning = errors.New("an update run is already in progress")

// MarketData is the slice of the market-data client the coordinator needs.
type MarketData interface {
	ClosingHistory(symbol, sinceDate string) ([]marketdata.Bar, error)
	ClosePrice(symbol, date string) (float64, bool, error)
}

// Coordinator orchestrates the update cycle. Instruments are processed
// sequentially in ticker order; the lifecycle state on the model records
// doubles as the run lock.
type Coordinator struct {
	calendar   *calendar.Service
	models     *models.Repository
	ledger     *ledger.Repository
	accuracy   *accuracy.Repository
	aggregator *accuracy.Aggregator
	market     MarketData
	cache      *models.Cache
	events     *events.Manager
	log        zerolog.Logger

	horizonDays  int
	historyStart string
}

// New creates an update coordinator. events may be nil.
func New(
	cal *calendar.Service,
	modelRepo *models.Repository,
	ledgerRepo *ledger.Repository,
	accuracyRepo *accuracy.Repository,
	aggregator *accuracy.Aggregator,
	market MarketData,
	cache *models.Cache,
	eventManager *events.Manager,
	horizonDays int,
	historyStart string,
	log zerolog.Logger,
) *Coordinator {
	return &Coordinator{
		calendar:     cal,
		models:       modelRepo,
		ledger:       ledgerRepo,
		accuracy:     accuracyRepo,
		aggregator:   aggregator,
		market:       market,
		cache:        cache,
		events:       eventManager,
		horizonDays:  horizonDays,
		historyStart: historyStart,
		log:          log.With().Str("component", "updater").Logger(),
	}
}

// RecoverFromCrash resolves lifecycle markers left behind by a previous
// process that died mid-run. Called once at startup, before the scheduler
// starts; any in_progress or pending marker found here is stale by
// definition.
func (c *Coordinator) RecoverFromCrash() error {
	count, err := c.models.ForceCompleteAll()
	if err != nil {
		return fmt.Errorf("startup lifecycle recovery failed: %w", err)
	}
	if count > 0 {
		c.log.Warn().Int64("count", count).Msg("Recovered stale lifecycle states from a crashed run")
	}
	return nil
}

// Run executes one full update cycle. Returns ErrAlreadyRunning (with zero
// writes performed) when another run is active. Per-instrument failures do
// not abort the cycle; they are collected, logged, and reported.
func (c *Coordinator) Run() error {
	// Single-flight check before any write. A stale marker from a crash is
	// cleared at startup, so in_progress here means a live concurrent run.
	running, err := c.models.AnyInProgress()
	if err != nil {
		return err
	}
	if running {
		c.log.Warn().Msg("Update run skipped: another run is in progress")
		return ErrAlreadyRunning
	}

	runID := uuid.New().String()
	log := c.log.With().Str("run_id", runID).Logger()
	log.Info().Msg("Update run started")
	c.emit(events.UpdateRunStarted, map[string]interface{}{"run_id": runID})

	// Whatever happens below, no lifecycle marker survives this run.
	defer func() {
		if _, err := c.models.ForceCompleteAll(); err != nil {
			log.Error().Err(err).Msg("Lifecycle cleanup failed")
		}
	}()

	// Bring the calendar up to date. A source failure is not fatal: the run
	// proceeds against the last known trading day.
	if err := c.calendar.ExtendFromSource(); err != nil {
		log.Warn().Err(err).Msg("Calendar extension failed, continuing with stored calendar")
	} else {
		c.emit(events.CalendarExtended, map[string]interface{}{"run_id": runID})
	}

	today, err := c.calendar.LatestDayNumber()
	if err != nil {
		return err
	}
	if today < 1 {
		return fmt.Errorf("trading calendar is empty, cannot run update")
	}

	records, err := c.models.All()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		log.Warn().Msg("No instruments registered, nothing to update")
		return nil
	}

	// Lazily materialize accuracy placeholder rows through today.
	for _, rec := range records {
		if err := c.accuracy.Seed(rec.Ticker, today); err != nil {
			return err
		}
	}

	erroneous := make(map[string]error)

	// Phase 1: reconcile past forecasts against realized closes. Gaps are
	// rediscovered from the ledger itself on every run, so days missed by a
	// crashed or skipped run are backfilled here.
	c.backfill(today, erroneous, log)

	// Phase 2: retrain and re-forecast each instrument sequentially.
	c.updateInstruments(records, today, erroneous, log)

	// Phase 3: fold uncomputed days into the accuracy series, oldest first.
	// The days come from the store, not from what this run reconciled: a day
	// a crashed run reconciled but never folded is picked up here. Each
	// ticker's fold stops short of its earliest still-unreconciled day so a
	// missing close never gets skipped over.
	gaps, err := c.ledger.FindUnreconciled(today + 1)
	if err != nil {
		// Without the gap list the fold could walk past a day whose close
		// is missing; leave every day for the next run instead.
		log.Error().Err(err).Msg("Failed to discover reconciliation gaps, skipping accuracy fold")
	} else {
		for _, rec := range records {
			days, err := c.computableDays(rec.Ticker, today, gaps[rec.Ticker])
			if err != nil {
				erroneous[rec.Ticker] = err
				continue
			}
			if len(days) == 0 {
				continue
			}
			if err := c.aggregator.ComputeRange(rec.Ticker, days); err != nil {
				erroneous[rec.Ticker] = err
				log.Error().Err(err).Str("ticker", rec.Ticker).Msg("Accuracy computation failed")
				continue
			}
			c.emit(events.AccuracyComputed, map[string]interface{}{
				"run_id": runID,
				"ticker": rec.Ticker,
				"days":   len(days),
			})
		}
	}

	if len(erroneous) > 0 {
		tickers := make([]string, 0, len(erroneous))
		for ticker, tickerErr := range erroneous {
			tickers = append(tickers, ticker)
			c.emitError(tickerErr, map[string]interface{}{"run_id": runID, "ticker": ticker})
		}
		log.Warn().
			Strs("tickers", tickers).
			Int("failed", len(erroneous)).
			Int("total", len(records)).
			Msg("Update run finished with erroneous instruments")
	} else {
		log.Info().Int("instruments", len(records)).Msg("Update run completed")
	}

	c.emit(events.UpdateRunCompleted, map[string]interface{}{
		"run_id":      runID,
		"instruments": len(records),
		"failed":      len(erroneous),
	})

	return nil
}

// backfill fills in realized closes for every unreconciled prediction
// targeting a day up to and including today. Fetch failures are recorded
// and the day is left for the next run.
func (c *Coordinator) backfill(today int, erroneous map[string]error, log zerolog.Logger) {
	gaps, err := c.ledger.FindUnreconciled(today + 1)
	if err != nil {
		log.Error().Err(err).Msg("Failed to discover reconciliation gaps")
		return
	}

	for ticker, days := range gaps {
		for _, day := range days {
			date, err := c.calendar.DateFor(day)
			if err != nil {
				erroneous[ticker] = err
				continue
			}
			if date == "" {
				erroneous[ticker] = fmt.Errorf("day %d has no calendar date", day)
				continue
			}

			price, ok, err := c.market.ClosePrice(ticker, date)
			if err != nil {
				erroneous[ticker] = fmt.Errorf("close for %s: %w", date, err)
				log.Warn().Err(err).Str("ticker", ticker).Str("date", date).Msg("Close fetch failed, day left for next run")
				continue
			}
			if !ok {
				erroneous[ticker] = fmt.Errorf("no close published for %s", date)
				continue
			}

			if _, err := c.ledger.Reconcile(ticker, day, price); err != nil {
				erroneous[ticker] = err
			}
		}
	}
}

// computableDays returns the uncomputed accuracy days for a ticker through
// today, capped below the ticker's earliest unreconciled prediction: the
// fold may only advance over days whose predictions all carry a realized
// close, or the frozen MAPE would miss their errors.
func (c *Coordinator) computableDays(ticker string, today int, unreconciled []int) ([]int, error) {
	missing, err := c.accuracy.MissingDays(ticker, today)
	if err != nil {
		return nil, err
	}
	if len(unreconciled) == 0 {
		return missing, nil
	}

	cutoff := unreconciled[0] // FindUnreconciled returns days ascending
	n := 0
	for n < len(missing) && missing[n] < cutoff {
		n++
	}
	return missing[:n], nil
}

// updateInstruments walks the instruments in ticker order. Each instrument
// is marked in_progress while being worked on and pending once its forecast
// is stored; moving on to the next instrument completes the previous one.
func (c *Coordinator) updateInstruments(records []domain.ModelRecord, today int, erroneous map[string]error, log zerolog.Logger) {
	var previous string

	for _, rec := range records {
		if previous != "" {
			if _, err := c.models.CompletePending(previous); err != nil {
				log.Error().Err(err).Str("ticker", previous).Msg("Failed to complete previous instrument")
			}
		}
		previous = rec.Ticker

		if rec.LastUpdateDay >= today {
			// Already brought up to today by an earlier (crashed or manual)
			// run; resuming skips it.
			log.Debug().Str("ticker", rec.Ticker).Msg("Instrument already up to date, skipping")
			continue
		}

		if err := c.updateOne(rec, today, log); err != nil {
			erroneous[rec.Ticker] = err
			log.Error().Err(err).Str("ticker", rec.Ticker).Msg("Instrument update failed")
			continue
		}
		c.emit(events.InstrumentUpdated, map[string]interface{}{
			"ticker": rec.Ticker,
			"day":    today,
		})
	}
}

// updateOne retrains one instrument's model and records its forecast.
func (c *Coordinator) updateOne(rec domain.ModelRecord, today int, log zerolog.Logger) error {
	if err := c.models.SetState(rec.Ticker, domain.StateInProgress); err != nil {
		return err
	}
	// A failure past this point leaves the instrument in_progress; the
	// deferred cleanup in Run resolves it to completed.

	c.cache.Evict(rec.Ticker)

	bars, err := c.market.ClosingHistory(rec.Ticker, c.historyStart)
	if err != nil {
		return fmt.Errorf("history fetch failed: %w", err)
	}
	if len(bars) < 2 {
		return fmt.Errorf("history for %s has %d closes, need at least 2", rec.Ticker, len(bars))
	}
	closes := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close
	}

	model, err := forecast.Load(rec.Artifact)
	if err != nil {
		// A corrupt artifact is not fatal: retrain from scratch.
		log.Warn().Err(err).Str("ticker", rec.Ticker).Msg("Stored model artifact unreadable, training fresh model")
		model = forecast.NewTrendForecaster()
	}

	if err := model.Retrain(closes); err != nil {
		return fmt.Errorf("retrain failed: %w", err)
	}

	points, err := model.Forecast(closes, c.horizonDays)
	if err != nil {
		return fmt.Errorf("forecast failed: %w", err)
	}

	if err := c.ledger.RecordForecast(rec.Ticker, today, points); err != nil {
		return err
	}

	artifact, err := model.Marshal()
	if err != nil {
		return err
	}

	lastClose := closes[len(closes)-1]
	recommendation := forecast.Recommendation(lastClose, points)
	if err := c.models.Save(rec.Ticker, artifact, recommendation, today); err != nil {
		return err
	}
	c.cache.Put(rec.Ticker, model)

	if err := c.models.SetState(rec.Ticker, domain.StatePending); err != nil {
		return err
	}

	log.Info().
		Str("ticker", rec.Ticker).
		Int("day", today).
		Msg("Instrument updated")
	return nil
}

func (c *Coordinator) emit(eventType events.EventType, data map[string]interface{}) {
	if c.events != nil {
		c.events.Emit(eventType, "updater", data)
	}
}

func (c *Coordinator) emitError(err error, context map[string]interface{}) {
	if c.events != nil {
		c.events.EmitError("updater", err, context)
	}
}
