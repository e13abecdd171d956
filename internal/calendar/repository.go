// Package calendar maintains the trading-day calendar: a dense, gap-free
// mapping from calendar dates to integer trading-day numbers. Every other
// module identifies days exclusively by the numbers produced here.
package calendar

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dkalathas/foresight/internal/domain"
)

// Repository handles day table database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new calendar repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "calendar").Logger(),
	}
}

// LatestDayNumber returns the highest assigned day number, or -1 if the
// calendar is empty.
func (r *Repository) LatestDayNumber() (int, error) {
	var latest sql.NullInt64
	err := r.db.QueryRow(`SELECT MAX(day_number) FROM day`).Scan(&latest)
	if err != nil {
		return -1, fmt.Errorf("failed to query latest day number: %w", err)
	}
	if !latest.Valid {
		return -1, nil
	}
	return int(latest.Int64), nil
}

// LatestDate returns the most recent stored date. ok is false when the
// calendar is empty.
func (r *Repository) LatestDate() (date string, ok bool, err error) {
	err = r.db.QueryRow(`SELECT date FROM day ORDER BY day_number DESC LIMIT 1`).Scan(&date)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query latest date: %w", err)
	}
	return date, true, nil
}

// DayNumberFor looks up the day number assigned to a date. ok is false when
// the date is not in the calendar.
func (r *Repository) DayNumberFor(date string) (dayNumber int, ok bool, err error) {
	err = r.db.QueryRow(`SELECT day_number FROM day WHERE date = ?`, date).Scan(&dayNumber)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query day number for %s: %w", date, err)
	}
	return dayNumber, true, nil
}

// DateFor looks up the date assigned to a day number. ok is false when the
// day number has not been assigned.
func (r *Repository) DateFor(dayNumber int) (date string, ok bool, err error) {
	err = r.db.QueryRow(`SELECT date FROM day WHERE day_number = ?`, dayNumber).Scan(&date)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query date for day %d: %w", dayNumber, err)
	}
	return date, true, nil
}

// Append assigns consecutive day numbers (continuing from the current
// latest) to the given chronologically ordered dates. All rows are written
// in one transaction so a partial append can never leave a gap.
func (r *Repository) Append(dates []string) error {
	if len(dates) == 0 {
		return nil
	}

	latest, err := r.LatestDayNumber()
	if err != nil {
		return err
	}
	next := latest + 1
	if latest == -1 {
		next = 1
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin calendar append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT INTO day (day_number, date) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare calendar insert: %w", err)
	}
	defer stmt.Close()

	for i, date := range dates {
		if _, err := stmt.Exec(next+i, date); err != nil {
			return fmt.Errorf("failed to insert day %d (%s): %w", next+i, date, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit calendar append: %w", err)
	}

	r.log.Debug().
		Int("count", len(dates)).
		Int("first_day", next).
		Str("first_date", dates[0]).
		Str("last_date", dates[len(dates)-1]).
		Msg("Calendar extended")

	return nil
}

// All returns every trading day in chronological order.
func (r *Repository) All() ([]domain.TradingDay, error) {
	rows, err := r.db.Query(`SELECT day_number, date FROM day ORDER BY day_number`)
	if err != nil {
		return nil, fmt.Errorf("failed to query trading days: %w", err)
	}
	defer rows.Close()

	var days []domain.TradingDay
	for rows.Next() {
		var d domain.TradingDay
		if err := rows.Scan(&d.DayNumber, &d.Date); err != nil {
			return nil, fmt.Errorf("failed to scan trading day: %w", err)
		}
		days = append(days, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trading days: %w", err)
	}

	return days, nil
}
