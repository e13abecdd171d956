package models

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkalathas/foresight/internal/domain"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err, "Failed to open test database")
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
		CREATE TABLE model (
			ticker TEXT PRIMARY KEY,
			artifact BLOB,
			recommendation TEXT NOT NULL DEFAULT '',
			last_update INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'new',
			version INTEGER NOT NULL DEFAULT 0,
			summary_mape REAL,
			summary_accuracy_pct REAL,
			summary_balance REAL
		)
	`)
	require.NoError(t, err, "Failed to create model table")

	return NewRepository(db, zerolog.New(nil).Level(zerolog.Disabled))
}

func TestEnsureExists_CreatesNewOnce(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.EnsureExists("AAPL"))
	require.NoError(t, repo.EnsureExists("AAPL"))

	rec, ok, err := repo.Find("AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.StateNew, rec.State)
	assert.Equal(t, 0, rec.Version)
}

func TestFind_UnknownTicker(t *testing.T) {
	repo := newTestRepo(t)

	_, ok, err := repo.Find("NOPE")
	require.NoError(t, err)
	assert.False(t, ok, "unknown ticker is not an error")
}

func TestSave_IncrementsVersion(t *testing.T) {
	repo := newTestRepo(t)
	require.NoError(t, repo.EnsureExists("AAPL"))

	require.NoError(t, repo.Save("AAPL", []byte("artifact-1"), "Hold.", 10))
	require.NoError(t, repo.Save("AAPL", []byte("artifact-2"), "Buy.", 11))

	rec, _, err := repo.Find("AAPL")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Version)
	assert.Equal(t, "Buy.", rec.Recommendation)
	assert.Equal(t, 11, rec.LastUpdateDay)
	assert.Equal(t, []byte("artifact-2"), rec.Artifact)
}

func TestSave_UnknownTickerFails(t *testing.T) {
	repo := newTestRepo(t)

	err := repo.Save("NOPE", nil, "", 1)
	assert.Error(t, err)
}

func TestSetState_ValidatesTransitions(t *testing.T) {
	repo := newTestRepo(t)
	require.NoError(t, repo.EnsureExists("AAPL"))

	// new -> in_progress -> pending -> completed is the happy path.
	require.NoError(t, repo.SetState("AAPL", domain.StateInProgress))
	require.NoError(t, repo.SetState("AAPL", domain.StatePending))
	require.NoError(t, repo.SetState("AAPL", domain.StateCompleted))

	// completed -> pending is not a legal move.
	err := repo.SetState("AAPL", domain.StatePending)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	// in_progress does not silently drop back to pending after completion.
	require.NoError(t, repo.SetState("AAPL", domain.StateInProgress))
	require.NoError(t, repo.SetState("AAPL", domain.StateCompleted))
}

func TestAnyInProgress(t *testing.T) {
	repo := newTestRepo(t)
	require.NoError(t, repo.EnsureExists("AAPL"))
	require.NoError(t, repo.EnsureExists("MSFT"))

	inProgress, err := repo.AnyInProgress()
	require.NoError(t, err)
	assert.False(t, inProgress)

	require.NoError(t, repo.SetState("AAPL", domain.StateInProgress))

	inProgress, err = repo.AnyInProgress()
	require.NoError(t, err)
	assert.True(t, inProgress)
}

func TestCompletePending_OnlyFlipsPending(t *testing.T) {
	repo := newTestRepo(t)
	require.NoError(t, repo.EnsureExists("AAPL"))

	flipped, err := repo.CompletePending("AAPL")
	require.NoError(t, err)
	assert.False(t, flipped, "new state is left alone")

	require.NoError(t, repo.SetState("AAPL", domain.StateInProgress))
	require.NoError(t, repo.SetState("AAPL", domain.StatePending))

	flipped, err = repo.CompletePending("AAPL")
	require.NoError(t, err)
	assert.True(t, flipped)

	rec, _, err := repo.Find("AAPL")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, rec.State)
}

func TestForceCompleteAll_ResolvesStaleMarkers(t *testing.T) {
	repo := newTestRepo(t)
	require.NoError(t, repo.EnsureExists("AAPL"))
	require.NoError(t, repo.EnsureExists("MSFT"))
	require.NoError(t, repo.EnsureExists("NFLX"))

	require.NoError(t, repo.SetState("AAPL", domain.StateInProgress))
	require.NoError(t, repo.SetState("MSFT", domain.StateInProgress))
	require.NoError(t, repo.SetState("MSFT", domain.StatePending))

	count, err := repo.ForceCompleteAll()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	inProgress, err := repo.AnyInProgress()
	require.NoError(t, err)
	assert.False(t, inProgress)

	// Untouched "new" record stays new.
	rec, _, err := repo.Find("NFLX")
	require.NoError(t, err)
	assert.Equal(t, domain.StateNew, rec.State)
}

func TestUpdateSummary(t *testing.T) {
	repo := newTestRepo(t)
	require.NoError(t, repo.EnsureExists("AAPL"))

	require.NoError(t, repo.UpdateSummary("AAPL", 1.25, 62.5, 104.5))

	rec, _, err := repo.Find("AAPL")
	require.NoError(t, err)
	require.NotNil(t, rec.SummaryMAPE)
	assert.Equal(t, 1.25, *rec.SummaryMAPE)
	assert.Equal(t, 62.5, *rec.SummaryAccuracyPct)
	assert.Equal(t, 104.5, *rec.SummaryBalance)
}
