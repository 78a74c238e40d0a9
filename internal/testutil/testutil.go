// Package testutil opens the PostgreSQL database used by integration tests.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// DatabaseURL returns the connection string of the test database.
// Integration tests are skipped when TEST_DATABASE_URL is unset.
func DatabaseURL() string {
	return os.Getenv("TEST_DATABASE_URL")
}

// requireDB turns a missing database into a failure instead of a skip (CI)
func requireDB() bool {
	v, err := strconv.ParseBool(os.Getenv("TEST_REQUIRE_DB"))
	return err == nil && v
}

// SetupTestDB connects to the test database, applies the schema and empties
// every table. The connection is closed when the test ends.
func SetupTestDB(t testing.TB) *sqlx.DB {
	t.Helper()

	url := DatabaseURL()
	if url == "" {
		if requireDB() {
			t.Fatal("TEST_DATABASE_URL is not set")
		}
		t.Skip("TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := sqlx.ConnectContext(ctx, "postgres", url)
	if err != nil {
		if requireDB() {
			t.Fatal("Test database not available:", err)
		}
		t.Skip("Test database not available:", err)
	}
	t.Cleanup(func() {
		if cerr := db.Close(); cerr != nil {
			t.Logf("test db close failed: %v", cerr)
		}
	})

	schema, err := os.ReadFile(filepath.Join(moduleRoot(t), "migrations", "001_init.sql"))
	if err != nil {
		t.Fatal("Failed to read migrations:", err)
	}
	if _, err := db.ExecContext(ctx, string(schema)); err != nil {
		t.Fatal("Failed to run migrations:", err)
	}

	CleanupTestDB(t, db)
	return db
}

// CleanupTestDB removes all rows, children before parents
func CleanupTestDB(t testing.TB, db *sqlx.DB) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, table := range []string{"schedules_v2", "automations", "errored_jobs", "jobs"} {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("Failed to clean up table %s: %v", table, err)
		}
	}
}

func moduleRoot(t testing.TB) string {
	t.Helper()

	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot locate testutil source file")
	}
	return filepath.Join(filepath.Dir(file), "..", "..")
}
