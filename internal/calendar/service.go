package calendar

import (
	"fmt"

	"github.com/rs/zerolog"
)

// UnknownDay is the sentinel returned when a date has no assigned day
// number. Callers must treat it as "not yet known", not as a hard failure.
const UnknownDay = -1

// Source provides the chronologically ordered list of trading dates since a
// given date. Implemented by the market-data client.
type Source interface {
	TradingDatesSince(date string) ([]string, error)
}

// Service wraps the calendar repository with on-demand extension from the
// calendar source.
type Service struct {
	repo      *Repository
	source    Source
	startDate string // first date ever considered, for an empty calendar
	log       zerolog.Logger
}

// NewService creates a new calendar service
func NewService(repo *Repository, source Source, startDate string, log zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		source:    source,
		startDate: startDate,
		log:       log.With().Str("component", "calendar").Logger(),
	}
}

// Extend appends the suffix of dates strictly after the last stored date.
// The incoming list must be chronologically ordered. Calling Extend twice
// with overlapping ranges is a no-op for the overlap: previously assigned
// day numbers never change.
func (s *Service) Extend(dates []string) error {
	if len(dates) == 0 {
		return nil
	}

	lastDate, ok, err := s.repo.LatestDate()
	if err != nil {
		return err
	}
	if !ok {
		// Empty calendar: everything is new.
		return s.repo.Append(dates)
	}

	// Skip the last known date and everything before it. ISO dates compare
	// chronologically as strings, so this also handles incoming lists that
	// start after a gap.
	suffix := dates
	for i, d := range dates {
		if d > lastDate {
			suffix = dates[i:]
			break
		}
		if i == len(dates)-1 {
			return nil // nothing after the last stored date
		}
	}

	return s.repo.Append(suffix)
}

// ExtendFromSource fetches trading dates from the calendar source starting
// at the last stored date (or the configured start date for an empty
// calendar) and appends whatever is new.
func (s *Service) ExtendFromSource() error {
	since, ok, err := s.repo.LatestDate()
	if err != nil {
		return err
	}
	if !ok {
		since = s.startDate
	}

	dates, err := s.source.TradingDatesSince(since)
	if err != nil {
		return fmt.Errorf("calendar source failed: %w", err)
	}

	return s.Extend(dates)
}

// DayNumberFor returns the day number for a date. On a miss it extends the
// calendar from the source and retries once; if the date is still unknown
// it returns UnknownDay. The caller decides whether that is fatal.
func (s *Service) DayNumberFor(date string) (int, error) {
	day, ok, err := s.repo.DayNumberFor(date)
	if err != nil {
		return UnknownDay, err
	}
	if ok {
		return day, nil
	}

	if err := s.ExtendFromSource(); err != nil {
		// The extension is best-effort; a source failure still means the
		// date is simply not yet known.
		s.log.Warn().Err(err).Str("date", date).Msg("Calendar extension failed during lookup")
		return UnknownDay, nil
	}

	day, ok, err = s.repo.DayNumberFor(date)
	if err != nil {
		return UnknownDay, err
	}
	if !ok {
		return UnknownDay, nil
	}
	return day, nil
}

// LatestDayNumber returns the highest assigned day number, -1 when empty.
func (s *Service) LatestDayNumber() (int, error) {
	return s.repo.LatestDayNumber()
}

// DateFor returns the date for a day number, or "" if unassigned.
func (s *Service) DateFor(dayNumber int) (string, error) {
	date, ok, err := s.repo.DateFor(dayNumber)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return date, nil
}
