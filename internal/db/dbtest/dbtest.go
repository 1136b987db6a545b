// Package dbtest opens throwaway SQLite databases with the schema applied.
package dbtest

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"hipaa-training/internal/db"
)

func Open(t *testing.T) *sqlx.DB {
	t.Helper()

	url := "sqlite://" + filepath.Join(t.TempDir(), "security.db")
	database, dialect, err := db.Open(url, db.PoolOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	require.NoError(t, db.RunMigrations(database, dialect))
	return database
}
