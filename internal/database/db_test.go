package database_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkalathas/foresight/internal/database"
	foresighttest "github.com/dkalathas/foresight/internal/testing"
)

func TestMigrateIsIdempotent(t *testing.T) {
	db, cleanup := foresighttest.NewTestDB(t)
	defer cleanup()

	// NewTestDB already migrated once; a second pass must be a no-op.
	require.NoError(t, db.Migrate())

	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('day', 'model', 'prediction', 'daily_accuracy')`,
	).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestHealthCheck(t *testing.T) {
	db, cleanup := foresighttest.NewTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.NoError(t, db.HealthCheck(ctx))
}

func TestWALCheckpoint(t *testing.T) {
	db, cleanup := foresighttest.NewTestDB(t)
	defer cleanup()

	foresighttest.MustExec(t, db, `INSERT INTO day (day_number, date) VALUES (1, '2024-01-02')`)

	assert.NoError(t, db.WALCheckpoint("TRUNCATE"))
	// Empty mode falls back to TRUNCATE.
	assert.NoError(t, db.WALCheckpoint(""))
}

func TestGetStats(t *testing.T) {
	db, cleanup := foresighttest.NewTestDB(t)
	defer cleanup()

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Greater(t, stats.PageCount, int64(0))
	assert.Greater(t, stats.PageSize, int64(0))
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	db, cleanup := foresighttest.NewTestDB(t)
	defer cleanup()

	boom := errors.New("boom")
	err := database.WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO day (day_number, date) VALUES (1, '2024-01-02')`); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM day`).Scan(&count))
	assert.Equal(t, 0, count, "failed transaction must leave no rows behind")
}
