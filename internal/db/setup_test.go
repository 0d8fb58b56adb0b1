package db_test

import (
	"context"
	"testing"

	"github.com/arllen133/userd/internal/db"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func setupTestSession(t *testing.T, opts ...db.Option) *db.Session {
	t.Helper()

	session, err := db.Open(context.Background(), db.SQLite, ":memory:", opts...)
	require.NoError(t, err, "failed to open database")
	t.Cleanup(func() { _ = session.Close() })

	_, err = session.Exec(context.Background(), `CREATE TABLE IF NOT EXISTS counters (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL
	)`)
	require.NoError(t, err, "failed to create table")

	return session
}
