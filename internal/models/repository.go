// Package models persists per-instrument model records: the serialized
// model artifact, the last recommendation, and the lifecycle state that
// doubles as the update coordinator's run lock.
package models

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dkalathas/foresight/internal/domain"
)

const modelColumns = `ticker, artifact, recommendation, last_update, status, version, summary_mape, summary_accuracy_pct, summary_balance`

// Repository handles model table database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new model repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "models").Logger(),
	}
}

// EnsureExists creates a model record in state "new" on first encounter of
// a ticker. Existing records are left untouched.
func (r *Repository) EnsureExists(ticker string) error {
	_, err := r.db.Exec(`
		INSERT OR IGNORE INTO model (ticker, status) VALUES (?, ?)
	`, ticker, string(domain.StateNew))
	if err != nil {
		return fmt.Errorf("failed to ensure model record for %s: %w", ticker, err)
	}
	return nil
}

// Find returns the model record for a ticker. ok is false when the ticker
// is unknown; callers handle the "create new" path explicitly.
func (r *Repository) Find(ticker string) (domain.ModelRecord, bool, error) {
	row := r.db.QueryRow(`SELECT `+modelColumns+` FROM model WHERE ticker = ?`, ticker)

	rec, err := scanModel(row)
	if err == sql.ErrNoRows {
		return domain.ModelRecord{}, false, nil
	}
	if err != nil {
		return domain.ModelRecord{}, false, fmt.Errorf("failed to query model for %s: %w", ticker, err)
	}
	return rec, true, nil
}

// All returns every model record, ordered by ticker. The order is the fixed
// processing order of the update coordinator.
func (r *Repository) All() ([]domain.ModelRecord, error) {
	rows, err := r.db.Query(`SELECT ` + modelColumns + ` FROM model ORDER BY ticker`)
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}
	defer rows.Close()

	var records []domain.ModelRecord
	for rows.Next() {
		rec, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan model: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating models: %w", err)
	}

	return records, nil
}

// Save persists a successful training/prediction cycle: the serialized
// artifact, the human-readable recommendation, and the day the model was
// brought up to. version increments on every successful save.
func (r *Repository) Save(ticker string, artifact []byte, recommendation string, lastUpdateDay int) error {
	result, err := r.db.Exec(`
		UPDATE model
		SET artifact = ?, recommendation = ?, last_update = ?, version = version + 1
		WHERE ticker = ?
	`, artifact, recommendation, lastUpdateDay, ticker)
	if err != nil {
		return fmt.Errorf("failed to save model for %s: %w", ticker, err)
	}

	updated, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count saved models: %w", err)
	}
	if updated == 0 {
		return fmt.Errorf("cannot save model for unknown ticker %s", ticker)
	}

	r.log.Debug().Str("ticker", ticker).Int("last_update", lastUpdateDay).Msg("Model saved")
	return nil
}

// SetState transitions a ticker's lifecycle state, validating the move
// against the state machine.
func (r *Repository) SetState(ticker string, next domain.LifecycleState) error {
	if !next.Valid() {
		return fmt.Errorf("unknown lifecycle state %q", next)
	}

	current, ok, err := r.Find(ticker)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("cannot set state for unknown ticker %s", ticker)
	}

	if !current.State.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s for %s", domain.ErrInvalidTransition, current.State, next, ticker)
	}

	if _, err := r.db.Exec(`UPDATE model SET status = ? WHERE ticker = ?`, string(next), ticker); err != nil {
		return fmt.Errorf("failed to set state for %s: %w", ticker, err)
	}

	r.log.Debug().
		Str("ticker", ticker).
		Str("from", string(current.State)).
		Str("to", string(next)).
		Msg("Lifecycle transition")

	return nil
}

// AnyInProgress reports whether any instrument is currently marked
// in_progress. The coordinator treats that as evidence another run is
// active (or a previous run crashed mid-flight).
func (r *Repository) AnyInProgress() (bool, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM model WHERE status = ?`, string(domain.StateInProgress)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count in_progress models: %w", err)
	}
	return count > 0, nil
}

// CompletePending flips a ticker from pending to completed. Returns whether
// the flip happened; any other state is left alone. This is the narrow
// mutation the read API is allowed to perform.
func (r *Repository) CompletePending(ticker string) (bool, error) {
	result, err := r.db.Exec(`
		UPDATE model SET status = ? WHERE ticker = ? AND status = ?
	`, string(domain.StateCompleted), ticker, string(domain.StatePending))
	if err != nil {
		return false, fmt.Errorf("failed to complete pending for %s: %w", ticker, err)
	}

	updated, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to count completed rows: %w", err)
	}
	return updated > 0, nil
}

// ForceCompleteAll unconditionally resolves every in_progress or pending
// instrument to completed. The coordinator runs this as its cleanup phase
// (and at startup after a crash) so a stale in_progress marker cannot block
// the single-flight check forever.
func (r *Repository) ForceCompleteAll() (int64, error) {
	result, err := r.db.Exec(`
		UPDATE model SET status = ?
		WHERE status IN (?, ?)
	`, string(domain.StateCompleted), string(domain.StateInProgress), string(domain.StatePending))
	if err != nil {
		return 0, fmt.Errorf("failed to force-complete models: %w", err)
	}

	updated, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count force-completed rows: %w", err)
	}

	if updated > 0 {
		r.log.Info().Int64("count", updated).Msg("Force-completed lifecycle states")
	}
	return updated, nil
}

// UpdateSummary pushes the all-time accuracy summary onto the model record
// for fast display. Implements accuracy.SummaryWriter.
func (r *Repository) UpdateSummary(ticker string, mape, accuracyPct, balance float64) error {
	_, err := r.db.Exec(`
		UPDATE model
		SET summary_mape = ?, summary_accuracy_pct = ?, summary_balance = ?
		WHERE ticker = ?
	`, mape, accuracyPct, balance, ticker)
	if err != nil {
		return fmt.Errorf("failed to update summary for %s: %w", ticker, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanModel(row rowScanner) (domain.ModelRecord, error) {
	var rec domain.ModelRecord
	var artifact []byte
	var status string
	var mape, accuracyPct, balance sql.NullFloat64

	err := row.Scan(&rec.Ticker, &artifact, &rec.Recommendation, &rec.LastUpdateDay, &status, &rec.Version, &mape, &accuracyPct, &balance)
	if err != nil {
		return domain.ModelRecord{}, err
	}

	rec.Artifact = artifact
	rec.State = domain.LifecycleState(status)
	if mape.Valid {
		rec.SummaryMAPE = &mape.Float64
	}
	if accuracyPct.Valid {
		rec.SummaryAccuracyPct = &accuracyPct.Float64
	}
	if balance.Valid {
		rec.SummaryBalance = &balance.Float64
	}

	return rec, nil
}
