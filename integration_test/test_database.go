package integration_test

import (
	"context"
	"path/filepath"
	"testing"

	"autoforwardx/internal/database"

	"github.com/stretchr/testify/require"
)

// TestDatabaseOptions configures test database creation
type TestDatabaseOptions struct {
	// UseSQLite stores state in a temporary SQLite file instead of memory.
	UseSQLite        bool
	EncryptionSecret string
}

// NewTestDatabase creates a repository for testing. SQLite databases get the
// embedded migrations applied by database.Open.
func NewTestDatabase(t *testing.T, opts *TestDatabaseOptions) (database.Repository, func()) {
	t.Helper()
	if opts == nil || !opts.UseSQLite {
		store := database.NewMemoryStore()
		return store, func() { _ = store.Close() }
	}

	dsn := filepath.Join(t.TempDir(), "autoforwardx.db")
	store, err := database.Open(context.Background(), "sqlite3", dsn, opts.EncryptionSecret)
	require.NoError(t, err)
	return store, func() { _ = store.Close() }
}
