package calendar

import (
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err, "Failed to open test database")
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
		CREATE TABLE day (
			day_number INTEGER PRIMARY KEY,
			date TEXT NOT NULL UNIQUE
		)
	`)
	require.NoError(t, err, "Failed to create day table")

	return db
}

// fakeSource returns a canned list of trading dates.
type fakeSource struct {
	dates []string
	err   error
	calls int
}

func (f *fakeSource) TradingDatesSince(date string) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.dates, nil
}

func TestExtend_AssignsDenseDayNumbers(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := NewRepository(newTestDB(t), log)
	svc := NewService(repo, &fakeSource{}, "2024-01-01", log)

	err := svc.Extend([]string{"2024-01-02", "2024-01-03", "2024-01-04"})
	require.NoError(t, err)

	latest, err := svc.LatestDayNumber()
	require.NoError(t, err)
	assert.Equal(t, 3, latest)

	day, err := svc.DayNumberFor("2024-01-03")
	require.NoError(t, err)
	assert.Equal(t, 2, day)
}

func TestExtend_OverlappingRangesAreIdempotent(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := NewRepository(newTestDB(t), log)
	svc := NewService(repo, &fakeSource{}, "2024-01-01", log)

	require.NoError(t, svc.Extend([]string{"2024-01-02", "2024-01-03"}))
	// Overlap: first two dates already stored, one new date.
	require.NoError(t, svc.Extend([]string{"2024-01-02", "2024-01-03", "2024-01-05"}))
	// Full repeat: pure no-op.
	require.NoError(t, svc.Extend([]string{"2024-01-02", "2024-01-03", "2024-01-05"}))

	latest, err := svc.LatestDayNumber()
	require.NoError(t, err)
	assert.Equal(t, 3, latest)

	// Previously assigned numbers unchanged.
	day, err := svc.DayNumberFor("2024-01-02")
	require.NoError(t, err)
	assert.Equal(t, 1, day)

	day, err = svc.DayNumberFor("2024-01-05")
	require.NoError(t, err)
	assert.Equal(t, 3, day)
}

func TestDayNumberFor_RoundTripsWithDateFor(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := NewRepository(newTestDB(t), log)
	svc := NewService(repo, &fakeSource{}, "2024-01-01", log)

	dates := []string{"2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05"}
	require.NoError(t, svc.Extend(dates))

	for n := 1; n <= len(dates); n++ {
		date, err := svc.DateFor(n)
		require.NoError(t, err)

		day, err := svc.DayNumberFor(date)
		require.NoError(t, err)
		assert.Equal(t, n, day)
	}
}

func TestDayNumberFor_ExtendsFromSourceOnMiss(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := NewRepository(newTestDB(t), log)
	source := &fakeSource{dates: []string{"2024-01-02", "2024-01-03"}}
	svc := NewService(repo, source, "2024-01-01", log)

	day, err := svc.DayNumberFor("2024-01-03")
	require.NoError(t, err)
	assert.Equal(t, 2, day)
	assert.Equal(t, 1, source.calls, "lookup miss should trigger exactly one source fetch")
}

func TestDayNumberFor_ReturnsSentinelWhenStillUnknown(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := NewRepository(newTestDB(t), log)
	source := &fakeSource{dates: []string{"2024-01-02"}}
	svc := NewService(repo, source, "2024-01-01", log)

	day, err := svc.DayNumberFor("2024-06-01")
	require.NoError(t, err)
	assert.Equal(t, UnknownDay, day)
}

func TestDayNumberFor_SourceFailureIsNotFatal(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := NewRepository(newTestDB(t), log)
	source := &fakeSource{err: errors.New("network down")}
	svc := NewService(repo, source, "2024-01-01", log)

	day, err := svc.DayNumberFor("2024-01-02")
	require.NoError(t, err)
	assert.Equal(t, UnknownDay, day)
}

func TestLatestDayNumber_EmptyCalendar(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := NewRepository(newTestDB(t), log)

	latest, err := repo.LatestDayNumber()
	require.NoError(t, err)
	assert.Equal(t, -1, latest)
}
