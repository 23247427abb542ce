package rollback

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndauphine/sqlite-server-migrate/internal/config"
	_ "github.com/johndauphine/sqlite-server-migrate/internal/driver/sqlite"
	"github.com/johndauphine/sqlite-server-migrate/internal/migerr"
	"github.com/johndauphine/sqlite-server-migrate/internal/target"
)

func newManager(t *testing.T) (*Manager, *target.Pool) {
	t.Helper()
	ctx := context.Background()
	pool, err := target.NewPool(ctx, &config.TargetConfig{Type: "sqlite", Path: filepath.Join(t.TempDir(), "target.db")}, 0)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	for _, stmt := range []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`INSERT INTO users VALUES (1, 'ada'), (2, 'grace')`,
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, user_id INTEGER)`,
	} {
		_, err := pool.DB().ExecContext(ctx, stmt)
		require.NoError(t, err)
	}

	m := NewManager(pool)
	m.now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }
	return m, pool
}

func names(t *testing.T, pool *target.Pool) []any {
	t.Helper()
	rows, err := pool.RowsByKey(context.Background(), "users", "id", []string{"name"}, []any{int64(1), int64(2), int64(3)})
	require.NoError(t, err)
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r[0]
	}
	return out
}

func TestRollbackRoundTrip(t *testing.T) {
	m, pool := newManager(t)
	ctx := context.Background()

	p, err := m.CreatePoint(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, "users_rb_20240506070809", p.BackupTable)

	_, err = pool.DB().ExecContext(ctx, `INSERT INTO users VALUES (3, 'linus')`)
	require.NoError(t, err)
	_, err = pool.DB().ExecContext(ctx, `UPDATE users SET name = 'ADA' WHERE id = 1`)
	require.NoError(t, err)

	require.NoError(t, m.Rollback(ctx, "users"))
	assert.ElementsMatch(t, []any{"ada", "grace"}, names(t, pool))

	exists, err := pool.TableExists(ctx, p.BackupTable)
	require.NoError(t, err)
	assert.False(t, exists, "backup is dropped after a rollback")
	_, ok := m.Point("users")
	assert.False(t, ok)

	err = m.Rollback(ctx, "users")
	assert.True(t, migerr.Is[*migerr.NoRollbackPointError](err))
}

func TestRollbackOfEmptyTable(t *testing.T) {
	m, pool := newManager(t)
	ctx := context.Background()

	_, err := m.CreatePoint(ctx, "orders")
	require.NoError(t, err)
	_, err = pool.DB().ExecContext(ctx, `INSERT INTO orders VALUES (1, 1), (2, 2)`)
	require.NoError(t, err)

	require.NoError(t, m.RollbackAll(ctx))
	n, err := pool.RowCount(ctx, "orders")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCleanupAllDropsBackups(t *testing.T) {
	m, pool := newManager(t)
	ctx := context.Background()

	_, err := m.CreatePoint(ctx, "users")
	require.NoError(t, err)
	_, err = m.CreatePoint(ctx, "orders")
	require.NoError(t, err)
	assert.Len(t, m.Points(), 2)

	backups, err := m.ListBackups(ctx)
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, "orders_rb_20240506070809", backups[0].Name)
	assert.Equal(t, "orders", backups[0].Prefix)

	require.NoError(t, m.CleanupAll(ctx))
	assert.Empty(t, m.Points())

	tables, err := pool.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "users"}, tables)

	err = m.Cleanup(ctx, "users")
	assert.True(t, migerr.Is[*migerr.NoRollbackPointError](err))
}

func TestRestoreFromBackupKeepsBackup(t *testing.T) {
	m, pool := newManager(t)
	ctx := context.Background()

	p, err := m.CreatePoint(ctx, "users")
	require.NoError(t, err)
	_, err = pool.DB().ExecContext(ctx, `DELETE FROM users`)
	require.NoError(t, err)

	require.NoError(t, m.RestoreFromBackup(ctx, "users", p.BackupTable))
	assert.ElementsMatch(t, []any{"ada", "grace"}, names(t, pool))

	exists, err := pool.TableExists(ctx, p.BackupTable)
	require.NoError(t, err)
	assert.True(t, exists)

	assert.Error(t, m.RestoreFromBackup(ctx, "orders", p.BackupTable), "backup of another table")
	err = m.RestoreFromBackup(ctx, "users", "users_rb_20000101000000")
	assert.True(t, migerr.Is[*migerr.RollbackError](err))
}

func TestLongTableNamesGetSeparateBackups(t *testing.T) {
	m, pool := newManager(t)
	ctx := context.Background()

	shared := strings.Repeat("x", 241)
	a, b := shared+"a", shared+"b"
	for _, table := range []string{a, b} {
		_, err := pool.DB().ExecContext(ctx, `CREATE TABLE "`+table+`" (id INTEGER PRIMARY KEY)`)
		require.NoError(t, err)
	}

	pa, err := m.CreatePoint(ctx, a)
	require.NoError(t, err)
	pb, err := m.CreatePoint(ctx, b)
	require.NoError(t, err)
	assert.NotEqual(t, pa.BackupTable, pb.BackupTable)
	assert.LessOrEqual(t, len(pb.BackupTable), 255)

	assert.Error(t, m.RestoreFromBackup(ctx, b, pa.BackupTable))
	assert.NoError(t, m.RestoreFromBackup(ctx, a, pa.BackupTable))
}
