// Package testutil builds throwaway SQLite databases for package tests.
package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// SQLiteFile creates a database file in a per-test directory, runs stmts
// against it and returns its path.
func SQLiteFile(t testing.TB, name string, stmts ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	db := OpenSQLite(t, path)
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err, "executing %q", stmt)
	}
	require.NoError(t, db.Close())
	return path
}

// OpenSQLite opens path read-write with a single connection and closes it
// when the test ends.
func OpenSQLite(t testing.TB, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// Count returns COUNT(*) of table in db.
func Count(t testing.TB, db *sql.DB, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM "`+table+`"`).Scan(&n))
	return n
}

// ShopSchema is a small source database: users with three rows, an empty
// orders table referencing users, and a settings table keyed by text.
var ShopSchema = []string{
	`CREATE TABLE users (id INTEGER PRIMARY KEY, name VARCHAR(80) NOT NULL, email TEXT, created_at DATETIME DEFAULT CURRENT_TIMESTAMP)`,
	`INSERT INTO users (id, name, email, created_at) VALUES
		(1, 'ada', 'ada@example.com', '2024-01-02 03:04:05'),
		(2, 'grace', NULL, '2024-02-03 04:05:06'),
		(3, 'linus', 'linus@example.com', '2024-03-04 05:06:07')`,
	`CREATE TABLE orders (id INTEGER PRIMARY KEY, user_id INTEGER NOT NULL REFERENCES users(id), total DECIMAL(10,2), placed_at TIMESTAMP)`,
}
