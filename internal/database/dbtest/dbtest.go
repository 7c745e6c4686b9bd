// Package dbtest opens migrated storage backends for tests.
package dbtest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prudhvinik1/changesync/internal/database"
	"github.com/stretchr/testify/require"
)

// NewSQLite returns a migrated SQLite backend in a temp dir, closed on cleanup.
func NewSQLite(t testing.TB) *database.SQLiteBackend {
	t.Helper()

	backend, err := database.OpenSQLite(filepath.Join(t.TempDir(), "changes.db"))
	require.NoError(t, err, "Failed to open sqlite backend")
	require.NoError(t, backend.Migrate(context.Background()))

	t.Cleanup(backend.Close)
	return backend
}

// NewPostgres connects to TEST_DATABASE_URL and skips the test when it is unset.
// Tables are truncated so each test starts empty.
func NewPostgres(t testing.TB) *database.PostgresBackend {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, url)
	require.NoError(t, err, "Failed to connect to test database")

	backend := database.NewPostgresBackend(pool)
	require.NoError(t, backend.Migrate(ctx))

	_, err = pool.Exec(ctx, "TRUNCATE account_cursors, account_changes, kv_entries")
	require.NoError(t, err)

	t.Cleanup(backend.Close)
	return backend
}

// Backends returns every backend available to this test run, keyed by name.
func Backends() map[string]func(t *testing.T) database.Backend {
	return map[string]func(t *testing.T) database.Backend{
		"sqlite":   func(t *testing.T) database.Backend { return NewSQLite(t) },
		"postgres": func(t *testing.T) database.Backend { return NewPostgres(t) },
	}
}
