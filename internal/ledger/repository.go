// Package ledger is the append-only store of individual forecasts and their
// realized outcomes. At most one row exists per (ticker, from_day, for_day);
// repeated writes for the same key upsert instead of duplicating.
package ledger

import (
	"database/sql"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/dkalathas/foresight/internal/domain"
)

// predictionColumns is the list of columns for the prediction table.
// Column order must match scanPrediction().
const predictionColumns = `id, ticker, from_day, for_day, predicted, actual, recommend_long, ape`

// Repository handles prediction table database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new prediction ledger repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "ledger").Logger(),
	}
}

// RecordForecast writes one row per forecast point, upserting on the
// (ticker, from_day, for_day) key so repeated runs for the same from_day do
// not duplicate rows. Already-reconciled fields (actual, ape) are never
// touched by the upsert.
func (r *Repository) RecordForecast(ticker string, fromDay int, forecast []domain.ForecastPoint) error {
	if fromDay < 1 {
		return fmt.Errorf("from_day must be a valid trading day, got %d", fromDay)
	}

	for _, point := range forecast {
		if point.DayOffset < 1 {
			return fmt.Errorf("forecast day offset must be >= 1, got %d", point.DayOffset)
		}
		if !validPrice(point.PredictedPrice) {
			return fmt.Errorf("forecast for offset %d: %w (%f)", point.DayOffset, domain.ErrInvalidPrice, point.PredictedPrice)
		}
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin forecast write: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO prediction (ticker, from_day, for_day, predicted, recommend_long)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (ticker, from_day, for_day) DO UPDATE SET
			predicted = excluded.predicted,
			recommend_long = excluded.recommend_long
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare forecast upsert: %w", err)
	}
	defer stmt.Close()

	for _, point := range forecast {
		forDay := fromDay + point.DayOffset
		if _, err := stmt.Exec(ticker, fromDay, forDay, point.PredictedPrice, boolToInt(point.RecommendLong)); err != nil {
			return fmt.Errorf("failed to upsert prediction %s day %d->%d: %w", ticker, fromDay, forDay, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit forecast write: %w", err)
	}

	r.log.Debug().
		Str("ticker", ticker).
		Int("from_day", fromDay).
		Int("points", len(forecast)).
		Msg("Forecast recorded")

	return nil
}

// Reconcile sets the realized close on every prediction targeting the given
// day. Rows already reconciled are left alone. Reconciling a day with no
// prediction rows is a safe no-op; the number of updated rows is returned.
// APE computation is deferred to the accuracy aggregator so prices can be
// backfilled independently of error computation.
func (r *Repository) Reconcile(ticker string, forDay int, actualPrice float64) (int64, error) {
	if !validPrice(actualPrice) {
		return 0, fmt.Errorf("reconcile %s day %d: %w (%f)", ticker, forDay, domain.ErrInvalidPrice, actualPrice)
	}

	result, err := r.db.Exec(`
		UPDATE prediction
		SET actual = ?
		WHERE ticker = ? AND for_day = ? AND actual IS NULL
	`, actualPrice, ticker, forDay)
	if err != nil {
		return 0, fmt.Errorf("failed to reconcile %s day %d: %w", ticker, forDay, err)
	}

	updated, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count reconciled rows: %w", err)
	}

	r.log.Debug().
		Str("ticker", ticker).
		Int("for_day", forDay).
		Int64("rows", updated).
		Msg("Predictions reconciled")

	return updated, nil
}

// FindUnreconciled returns, per ticker, the target days before the given day
// whose actual price is still absent. Used by the coordinator's
// crash-recovery backfill: missing reconciliations are rediscovered on every
// run.
func (r *Repository) FindUnreconciled(beforeDay int) (map[string][]int, error) {
	rows, err := r.db.Query(`
		SELECT DISTINCT ticker, for_day
		FROM prediction
		WHERE for_day < ? AND actual IS NULL
		ORDER BY ticker, for_day
	`, beforeDay)
	if err != nil {
		return nil, fmt.Errorf("failed to query unreconciled predictions: %w", err)
	}
	defer rows.Close()

	gaps := make(map[string][]int)
	for rows.Next() {
		var ticker string
		var forDay int
		if err := rows.Scan(&ticker, &forDay); err != nil {
			return nil, fmt.Errorf("failed to scan unreconciled row: %w", err)
		}
		gaps[ticker] = append(gaps[ticker], forDay)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unreconciled rows: %w", err)
	}

	return gaps, nil
}

// PredictionsThrough returns all of a ticker's predictions with
// for_day <= day, ordered by target day then origin day.
func (r *Repository) PredictionsThrough(ticker string, day int) ([]domain.PredictionRecord, error) {
	rows, err := r.db.Query(`
		SELECT `+predictionColumns+`
		FROM prediction
		WHERE ticker = ? AND for_day <= ?
		ORDER BY for_day, from_day
	`, ticker, day)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions through day %d: %w", day, err)
	}
	defer rows.Close()

	return scanPredictions(rows)
}

// ForecastFrom returns every prediction made on the given origin day,
// ordered by target day. This is the instrument's current outlook when
// fromDay is its last update day.
func (r *Repository) ForecastFrom(ticker string, fromDay int) ([]domain.PredictionRecord, error) {
	rows, err := r.db.Query(`
		SELECT `+predictionColumns+`
		FROM prediction
		WHERE ticker = ? AND from_day = ?
		ORDER BY for_day
	`, ticker, fromDay)
	if err != nil {
		return nil, fmt.Errorf("failed to query forecast from day %d: %w", fromDay, err)
	}
	defer rows.Close()

	return scanPredictions(rows)
}

// UnscoredThrough returns reconciled predictions through the given day whose
// APE has not been computed yet.
func (r *Repository) UnscoredThrough(ticker string, day int) ([]domain.PredictionRecord, error) {
	rows, err := r.db.Query(`
		SELECT `+predictionColumns+`
		FROM prediction
		WHERE ticker = ? AND for_day <= ? AND actual IS NOT NULL AND ape IS NULL
		ORDER BY for_day, from_day
	`, ticker, day)
	if err != nil {
		return nil, fmt.Errorf("failed to query unscored predictions: %w", err)
	}
	defer rows.Close()

	return scanPredictions(rows)
}

// SetAPE persists a computed absolute-percentage-error on one row.
func (r *Repository) SetAPE(id int64, ape float64) error {
	if math.IsNaN(ape) || math.IsInf(ape, 0) || ape < 0 {
		return fmt.Errorf("ape for prediction %d: %w (%f)", id, domain.ErrInvalidPrice, ape)
	}
	if _, err := r.db.Exec(`UPDATE prediction SET ape = ? WHERE id = ?`, ape, id); err != nil {
		return fmt.Errorf("failed to set ape on prediction %d: %w", id, err)
	}
	return nil
}

// APEsThrough returns every recorded APE for a ticker through the given day,
// in target-day order. Feeds the mean-of-all-individual-APEs MAPE.
func (r *Repository) APEsThrough(ticker string, day int) ([]float64, error) {
	rows, err := r.db.Query(`
		SELECT ape
		FROM prediction
		WHERE ticker = ? AND for_day <= ? AND ape IS NOT NULL
		ORDER BY for_day, from_day
	`, ticker, day)
	if err != nil {
		return nil, fmt.Errorf("failed to query apes through day %d: %w", day, err)
	}
	defer rows.Close()

	var apes []float64
	for rows.Next() {
		var ape float64
		if err := rows.Scan(&ape); err != nil {
			return nil, fmt.Errorf("failed to scan ape: %w", err)
		}
		apes = append(apes, ape)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating apes: %w", err)
	}

	return apes, nil
}

// PredictionFor returns the single prediction made on fromDay targeting
// forDay, if any.
func (r *Repository) PredictionFor(ticker string, fromDay, forDay int) (domain.PredictionRecord, bool, error) {
	row := r.db.QueryRow(`
		SELECT `+predictionColumns+`
		FROM prediction
		WHERE ticker = ? AND from_day = ? AND for_day = ?
	`, ticker, fromDay, forDay)

	p, err := scanPrediction(row)
	if err == sql.ErrNoRows {
		return domain.PredictionRecord{}, false, nil
	}
	if err != nil {
		return domain.PredictionRecord{}, false, fmt.Errorf("failed to query prediction %s %d->%d: %w", ticker, fromDay, forDay, err)
	}
	return p, true, nil
}

// ActualPrice returns the realized close recorded for a target day, if any
// reconciled prediction targeted it.
func (r *Repository) ActualPrice(ticker string, day int) (float64, bool, error) {
	var actual float64
	err := r.db.QueryRow(`
		SELECT actual
		FROM prediction
		WHERE ticker = ? AND for_day = ? AND actual IS NOT NULL
		LIMIT 1
	`, ticker, day).Scan(&actual)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query actual price %s day %d: %w", ticker, day, err)
	}
	return actual, true, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPrediction(row rowScanner) (domain.PredictionRecord, error) {
	var p domain.PredictionRecord
	var actual, ape sql.NullFloat64
	var recommendLong int

	err := row.Scan(&p.ID, &p.Ticker, &p.FromDay, &p.ForDay, &p.PredictedPrice, &actual, &recommendLong, &ape)
	if err != nil {
		return domain.PredictionRecord{}, err
	}

	if actual.Valid {
		p.ActualPrice = &actual.Float64
	}
	if ape.Valid {
		p.APE = &ape.Float64
	}
	p.RecommendLong = recommendLong != 0

	return p, nil
}

func scanPredictions(rows *sql.Rows) ([]domain.PredictionRecord, error) {
	var predictions []domain.PredictionRecord
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		predictions = append(predictions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating predictions: %w", err)
	}
	return predictions, nil
}

func validPrice(price float64) bool {
	return !math.IsNaN(price) && !math.IsInf(price, 0) && price > 0
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
