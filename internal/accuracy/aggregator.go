package accuracy

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dkalathas/foresight/internal/domain"
	"github.com/dkalathas/foresight/internal/ledger"
	"github.com/dkalathas/foresight/pkg/formulas"
)

// ErrSeriesGap reports an attempt to compute a day whose previous day has no
// metrics yet. The fold is strictly sequential: skipping a day would restart
// the balance from the seed and the row would be frozen that way forever.
// Callers leave the day uncomputed and retry once the gap is filled.
var ErrSeriesGap = errors.New("previous day's accuracy has not been computed")

// SummaryWriter receives the all-time summary after each computed day, so
// the front end can display it without re-scanning the ledger.
type SummaryWriter interface {
	UpdateSummary(ticker string, mape, accuracyPct, balance float64) error
}

// CloseLookup resolves a realized close for a trading day that no prediction
// ever targeted. The first day of a ticker's very first forecast has no
// reconciled row for day-1, so the directional comparison needs an outside
// source. ok is false when the close is not available.
type CloseLookup interface {
	ClosePriceByDay(ticker string, day int) (price float64, ok bool, err error)
}

// Aggregator computes daily accuracy rows as an ordered fold: each day's
// balance and directional counter derive from the immediately preceding
// day's stored row, so days must be processed in ascending order.
type Aggregator struct {
	repo    *Repository
	ledger  *ledger.Repository
	summary SummaryWriter
	closes  CloseLookup // optional
	log     zerolog.Logger
}

// NewAggregator creates a new accuracy aggregator. summary and closes may be
// nil.
func NewAggregator(repo *Repository, ledgerRepo *ledger.Repository, summary SummaryWriter, closes CloseLookup, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		repo:    repo,
		ledger:  ledgerRepo,
		summary: summary,
		closes:  closes,
		log:     log.With().Str("component", "aggregator").Logger(),
	}
}

// Compute fills in the metrics for one (ticker, day). Preconditions: day > 1,
// the row has been seeded, and every prediction through the day is
// reconciled. Calling Compute again for an already-computed day is a no-op;
// computing a day whose predecessor has no metrics fails with ErrSeriesGap.
func (a *Aggregator) Compute(ticker string, day int) error {
	if day <= 1 {
		return fmt.Errorf("cannot compute accuracy for day %d: day 1 is the seed row", day)
	}

	row, ok, err := a.repo.Get(ticker, day)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("accuracy row %s day %d has not been seeded", ticker, day)
	}
	if row.Computed() {
		a.log.Debug().Str("ticker", ticker).Int("day", day).Msg("Accuracy already computed, skipping")
		return nil
	}

	prev, ok, err := a.repo.Get(ticker, day-1)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("accuracy row %s day %d missing previous day", ticker, day)
	}
	if !prev.Computed() {
		return fmt.Errorf("accuracy row %s day %d: %w", ticker, day, ErrSeriesGap)
	}

	// Score every reconciled prediction through this day that has no APE yet.
	unscored, err := a.ledger.UnscoredThrough(ticker, day)
	if err != nil {
		return err
	}
	for _, p := range unscored {
		ape := formulas.AbsolutePercentageError(p.PredictedPrice, *p.ActualPrice)
		if math.IsNaN(ape) {
			return fmt.Errorf("prediction %d for %s: %w (actual price is zero)", p.ID, ticker, domain.ErrInvalidPrice)
		}
		if err := a.ledger.SetAPE(p.ID, ape); err != nil {
			return err
		}
	}

	// MAPE is the mean of all individual APEs through the day, not a mean
	// of daily means: each forecast error contributes exactly once.
	apes, err := a.ledger.APEsThrough(ticker, day)
	if err != nil {
		return err
	}
	mape := formulas.Mean(apes)

	// The day-1 seed row carries the balance but no counter; everything
	// later is fully populated once computed.
	buyCount := 0
	if prev.BuyAccuracyCount != nil {
		buyCount = *prev.BuyAccuracyCount
	}
	balance := domain.SeedBalance
	if prev.SimulatedBalance != nil {
		balance = *prev.SimulatedBalance
	}

	// Directional call: the prediction made yesterday targeting today,
	// against the realized day-over-day move. Days nothing was predicted
	// for carry the counter and balance forward unchanged, with no close
	// lookups at all.
	prediction, havePrediction, err := a.ledger.PredictionFor(ticker, day-1, day)
	if err != nil {
		return err
	}
	if havePrediction {
		actualToday, haveToday, err := a.actualClose(ticker, day)
		if err != nil {
			return err
		}
		actualPrev, havePrev, err := a.actualClose(ticker, day-1)
		if err != nil {
			return err
		}

		if haveToday && havePrev {
			stockWentUp := actualToday > actualPrev
			if prediction.RecommendLong == stockWentUp {
				buyCount++
			}

			// The simulated account follows yesterday's recommendation: a
			// long call applies the realized percentage change, a flat call
			// leaves the balance untouched.
			if prediction.RecommendLong && actualPrev != 0 {
				change := (actualToday - actualPrev) / actualPrev
				balance = roundBalance(balance * (1 + change))
			}
		}
	}

	wrote, err := a.repo.SetMetrics(ticker, day, mape, buyCount, balance)
	if err != nil {
		return err
	}
	if !wrote {
		// Lost a race with an earlier computation; the stored row wins.
		a.log.Debug().Str("ticker", ticker).Int("day", day).Msg("Accuracy row already populated")
		return nil
	}

	a.log.Debug().
		Str("ticker", ticker).
		Int("day", day).
		Float64("mape", mape).
		Int("buy_accuracy", buyCount).
		Float64("balance", balance).
		Msg("Accuracy computed")

	// Push the all-time summary for fast display. Day 1 has no prediction
	// and is excluded from the percentage denominator.
	if a.summary != nil {
		accuracyPct := float64(buyCount) / float64(day-1) * 100
		if err := a.summary.UpdateSummary(ticker, mape, accuracyPct, balance); err != nil {
			return fmt.Errorf("failed to update summary for %s: %w", ticker, err)
		}
	}

	return nil
}

// ComputeRange computes metrics for the given days in ascending order.
// Later days depend on earlier ones, so order is enforced here regardless
// of input order.
func (a *Aggregator) ComputeRange(ticker string, days []int) error {
	sorted := make([]int, len(days))
	copy(sorted, days)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	for _, day := range sorted {
		if day <= 1 {
			continue
		}
		if err := a.Compute(ticker, day); err != nil {
			return fmt.Errorf("compute %s day %d: %w", ticker, day, err)
		}
	}
	return nil
}

// actualClose resolves a day's realized close: the ledger first, then the
// fallback lookup for days no prediction ever targeted.
func (a *Aggregator) actualClose(ticker string, day int) (float64, bool, error) {
	price, ok, err := a.ledger.ActualPrice(ticker, day)
	if err != nil || ok {
		return price, ok, err
	}
	if a.closes == nil {
		return 0, false, nil
	}
	return a.closes.ClosePriceByDay(ticker, day)
}

// roundBalance rounds to 2 decimal places, half up.
func roundBalance(balance float64) float64 {
	rounded, _ := decimal.NewFromFloat(balance).Round(2).Float64()
	return rounded
}
