// Package testing provides testing utilities and helpers for the foresight project.
package testing

import (
	"fmt"
	"os"
	"testing"

	"github.com/dkalathas/foresight/internal/database"
)

// NewTestDB creates a temporary SQLite database for testing with the full
// foresight schema applied. Returns the database instance and a cleanup
// function that closes the connection and removes the file. The cleanup
// function is idempotent and can be called multiple times safely.
func NewTestDB(t *testing.T) (*database.DB, func()) {
	t.Helper()

	// Temporary files instead of :memory: so each test gets its own
	// isolated database even across multiple connections.
	tmpFile, err := os.CreateTemp("", "test_foresight_*.db")
	if err != nil {
		t.Fatalf("Failed to create temporary database file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	db, err := database.New(database.Config{
		Path:    tmpPath,
		Profile: database.ProfileStandard,
		Name:    "foresight-test",
	})
	if err != nil {
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to create test database: %v", err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	return db, func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database: %v", err)
		}
		if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
			t.Logf("Warning: Failed to remove temporary database file %s: %v", tmpPath, err)
		}
		_ = os.Remove(tmpPath + "-wal")
		_ = os.Remove(tmpPath + "-shm")
	}
}

// NewTestDBWithSchema creates a temporary SQLite database for testing with a
// custom schema instead of the embedded one.
func NewTestDBWithSchema(t *testing.T, schema string) (*database.DB, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "test_foresight_*.db")
	if err != nil {
		t.Fatalf("Failed to create temporary database file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	db, err := database.New(database.Config{
		Path:    tmpPath,
		Profile: database.ProfileStandard,
		Name:    "foresight-test",
	})
	if err != nil {
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to create test database: %v", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to apply custom schema: %v", err)
	}

	return db, func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database: %v", err)
		}
		if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
			t.Logf("Warning: Failed to remove temporary database file %s: %v", tmpPath, err)
		}
		_ = os.Remove(tmpPath + "-wal")
		_ = os.Remove(tmpPath + "-shm")
	}
}

// MustExec executes a statement on the test database and fails the test on
// error. Useful for seeding rows in fixtures.
func MustExec(t *testing.T, db *database.DB, query string, args ...interface{}) {
	t.Helper()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("Failed to execute %q: %v", fmt.Sprintf("%.60s", query), err)
	}
}
