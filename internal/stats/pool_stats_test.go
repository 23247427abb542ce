package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndauphine/sqlite-server-migrate/internal/testutil"
)

func TestFromDB(t *testing.T) {
	path := testutil.SQLiteFile(t, "stats.db", `CREATE TABLE t (id INTEGER PRIMARY KEY)`)
	db := testutil.OpenSQLite(t, path)
	db.SetMaxOpenConns(1)
	require.NoError(t, db.Ping())

	s := FromDB("source", "sqlite", db)
	assert.Equal(t, 1, s.MaxConns)
	assert.Equal(t, 1, s.OpenConns)
	assert.Equal(t, 0, s.ActiveConns)
	assert.Equal(t, 1, s.IdleConns)
	assert.Contains(t, s.String(), "source sqlite: 0/1 active, 1 idle, 0 waits")
}

func TestStringAverageWait(t *testing.T) {
	s := PoolStats{Engine: "target", DBType: "mysql", MaxConns: 1, WaitCount: 4, WaitTimeMs: 10}
	assert.Equal(t, "target mysql: 0/1 active, 0 idle, 4 waits (2.5ms avg)", s.String())

	s = PoolStats{Engine: "target", DBType: "mysql"}
	assert.Contains(t, s.String(), "(0.0ms avg)")
}
