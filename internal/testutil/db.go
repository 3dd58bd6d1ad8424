// Package testutil seeds provider databases for tests.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/provmap/internal/infrastructure/sqlite"
)

// NewTestDB creates a migrated provider database in a temp directory.
// It is closed when the test finishes.
func NewTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	return OpenTestDB(t, filepath.Join(t.TempDir(), "providers.db"))
}

// OpenTestDB opens (creating and migrating if needed) the database at path.
// It is closed when the test finishes.
func OpenTestDB(t *testing.T, path string) *sqlite.DB {
	t.Helper()
	db, err := sqlite.NewDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}
