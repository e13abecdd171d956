// Package accuracy derives per-day accuracy metrics (MAPE, directional-call
// count, simulated balance) from the prediction ledger. Rows are computed
// exactly once and are immutable afterwards.
package accuracy

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dkalathas/foresight/internal/domain"
)

// Repository handles daily_accuracy table database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new daily accuracy repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "accuracy").Logger(),
	}
}

// Seed lazily creates placeholder rows for every day from 1 through the
// given day. Day 1 is the seed row: no metrics, balance 100.0. Existing
// rows are left untouched, so Seed is idempotent.
func (r *Repository) Seed(ticker string, throughDay int) error {
	if throughDay < 1 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin accuracy seed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO daily_accuracy (ticker, day, balance)
		VALUES (?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare accuracy seed: %w", err)
	}
	defer stmt.Close()

	for day := 1; day <= throughDay; day++ {
		var balance interface{}
		if day == 1 {
			balance = domain.SeedBalance
		}
		if _, err := stmt.Exec(ticker, day, balance); err != nil {
			return fmt.Errorf("failed to seed accuracy row %s day %d: %w", ticker, day, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit accuracy seed: %w", err)
	}

	return nil
}

// Get returns one daily accuracy row.
func (r *Repository) Get(ticker string, day int) (domain.DailyAccuracyRecord, bool, error) {
	row := r.db.QueryRow(`
		SELECT ticker, day, mape, buy_accuracy, balance
		FROM daily_accuracy
		WHERE ticker = ? AND day = ?
	`, ticker, day)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return domain.DailyAccuracyRecord{}, false, nil
	}
	if err != nil {
		return domain.DailyAccuracyRecord{}, false, fmt.Errorf("failed to query accuracy row %s day %d: %w", ticker, day, err)
	}
	return rec, true, nil
}

// SetMetrics fills in a day's metrics exactly once. A row whose metrics are
// already present is never overwritten; the bool result reports whether the
// write happened.
func (r *Repository) SetMetrics(ticker string, day int, mape float64, buyAccuracy int, balance float64) (bool, error) {
	result, err := r.db.Exec(`
		UPDATE daily_accuracy
		SET mape = ?, buy_accuracy = ?, balance = ?
		WHERE ticker = ? AND day = ? AND mape IS NULL
	`, mape, buyAccuracy, balance, ticker, day)
	if err != nil {
		return false, fmt.Errorf("failed to set accuracy metrics %s day %d: %w", ticker, day, err)
	}

	updated, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to count metric rows: %w", err)
	}

	return updated > 0, nil
}

// MissingDays returns the days (ascending, day > 1) through the given day
// whose metrics have not been computed yet.
func (r *Repository) MissingDays(ticker string, throughDay int) ([]int, error) {
	rows, err := r.db.Query(`
		SELECT day
		FROM daily_accuracy
		WHERE ticker = ? AND day > 1 AND day <= ? AND mape IS NULL
		ORDER BY day
	`, ticker, throughDay)
	if err != nil {
		return nil, fmt.Errorf("failed to query missing accuracy days: %w", err)
	}
	defer rows.Close()

	var days []int
	for rows.Next() {
		var day int
		if err := rows.Scan(&day); err != nil {
			return nil, fmt.Errorf("failed to scan missing day: %w", err)
		}
		days = append(days, day)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating missing days: %w", err)
	}

	return days, nil
}

// History returns the most recent computed rows, newest first.
func (r *Repository) History(ticker string, limit int) ([]domain.DailyAccuracyRecord, error) {
	rows, err := r.db.Query(`
		SELECT ticker, day, mape, buy_accuracy, balance
		FROM daily_accuracy
		WHERE ticker = ?
		ORDER BY day DESC
		LIMIT ?
	`, ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query accuracy history: %w", err)
	}
	defer rows.Close()

	var records []domain.DailyAccuracyRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan accuracy row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accuracy history: %w", err)
	}

	return records, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (domain.DailyAccuracyRecord, error) {
	var rec domain.DailyAccuracyRecord
	var mape, balance sql.NullFloat64
	var buyAccuracy sql.NullInt64

	if err := row.Scan(&rec.Ticker, &rec.Day, &mape, &buyAccuracy, &balance); err != nil {
		return domain.DailyAccuracyRecord{}, err
	}

	if mape.Valid {
		rec.MAPE = &mape.Float64
	}
	if buyAccuracy.Valid {
		count := int(buyAccuracy.Int64)
		rec.BuyAccuracyCount = &count
	}
	if balance.Valid {
		rec.SimulatedBalance = &balance.Float64
	}

	return rec, nil
}
