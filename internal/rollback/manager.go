// Package rollback keeps full copies of target tables so a failed migration
// can put them back the way they were.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/johndauphine/sqlite-server-migrate/internal/logging"
	"github.com/johndauphine/sqlite-server-migrate/internal/migerr"
	"github.com/johndauphine/sqlite-server-migrate/internal/target"
)

// Point records the backup taken of one table.
type Point struct {
	Table       string    `json:"table"`
	BackupTable string    `json:"backup_table"`
	CreatedAt   time.Time `json:"created_at"`
}

// Backup is a backup table found in the target schema.
type Backup struct {
	Name      string    `json:"name"`
	Prefix    string    `json:"table_prefix"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager creates, restores and drops rollback points. At most one point
// is held per table.
type Manager struct {
	pool *target.Pool
	now  func() time.Time

	mu     sync.Mutex
	points map[string]Point
}

// NewManager creates a Manager for tables in pool.
func NewManager(pool *target.Pool) *Manager {
	return &Manager{pool: pool, now: time.Now, points: make(map[string]Point)}
}

// CreatePoint copies table into a new timestamped backup table and records it.
// A point already held for table is replaced and its backup dropped.
func (m *Manager) CreatePoint(ctx context.Context, table string) (Point, error) {
	at := m.now().UTC()
	backup := target.BackupTableName(table, at, m.pool.Dialect().MaxIdentifierLength())
	if err := m.pool.CopyTable(ctx, backup, table); err != nil {
		return Point{}, fmt.Errorf("creating rollback point for %s: %w", table, err)
	}

	p := Point{Table: table, BackupTable: backup, CreatedAt: at}
	m.mu.Lock()
	old, had := m.points[table]
	m.points[table] = p
	m.mu.Unlock()

	if had && old.BackupTable != backup {
		if err := m.pool.DropTable(ctx, old.BackupTable); err != nil {
			logging.Warn("Dropping superseded backup %s: %v", old.BackupTable, err)
		}
	}
	logging.Debug("Rollback point for %s: %s", table, backup)
	return p, nil
}

// Point returns the rollback point held for table.
func (m *Manager) Point(table string) (Point, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.points[table]
	return p, ok
}

// Points returns every held point ordered by table name.
func (m *Manager) Points() []Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Point, 0, len(m.points))
	for _, p := range m.points {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Table < out[j].Table })
	return out
}

// Rollback restores table from its rollback point, then drops the backup and
// forgets the point. The table is emptied and refilled in one transaction;
// it is never dropped.
func (m *Manager) Rollback(ctx context.Context, table string) error {
	p, ok := m.Point(table)
	if !ok {
		return &migerr.NoRollbackPointError{Table: table}
	}
	if err := m.pool.ReplaceContents(ctx, table, p.BackupTable); err != nil {
		return &migerr.RollbackError{Table: table, Err: err}
	}
	logging.Info("Restored %s from %s", table, p.BackupTable)
	return m.Cleanup(ctx, table)
}

// RollbackAll restores every table that has a point. Failures are logged
// and joined; every table is attempted.
func (m *Manager) RollbackAll(ctx context.Context) error {
	var errs []error
	for _, p := range m.Points() {
		if err := m.Rollback(ctx, p.Table); err != nil {
			logging.Error("Rollback of %s failed: %v", p.Table, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Cleanup drops table's backup and forgets its point.
func (m *Manager) Cleanup(ctx context.Context, table string) error {
	p, ok := m.Point(table)
	if !ok {
		return &migerr.NoRollbackPointError{Table: table}
	}
	if err := m.pool.DropTable(ctx, p.BackupTable); err != nil {
		return &migerr.RollbackError{Table: table, Err: err}
	}
	m.mu.Lock()
	delete(m.points, table)
	m.mu.Unlock()
	return nil
}

// CleanupAll drops every held backup.
func (m *Manager) CleanupAll(ctx context.Context) error {
	var errs []error
	for _, p := range m.Points() {
		if err := m.Cleanup(ctx, p.Table); err != nil {
			logging.Warn("Cleanup of %s failed: %v", p.BackupTable, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RestoreFromBackup replaces the contents of table with those of a named
// backup table, without any reconciliation of rows written since the backup
// was taken. The backup is kept.
func (m *Manager) RestoreFromBackup(ctx context.Context, table, backup string) error {
	maxLen := m.pool.Dialect().MaxIdentifierLength()
	if !target.IsBackupOf(backup, table, maxLen) {
		return fmt.Errorf("%s is not a backup of %s", backup, table)
	}
	exists, err := m.pool.TableExists(ctx, backup)
	if err != nil {
		return &migerr.RollbackError{Table: table, Err: err}
	}
	if !exists {
		return &migerr.RollbackError{Table: table, Err: fmt.Errorf("backup table %s does not exist", backup)}
	}
	if err := m.pool.ReplaceContents(ctx, table, backup); err != nil {
		return &migerr.RollbackError{Table: table, Err: err}
	}
	logging.Info("Restored %s from %s", table, backup)
	return nil
}

// ListBackups returns the backup tables present in the target schema,
// newest first.
func (m *Manager) ListBackups(ctx context.Context) ([]Backup, error) {
	names, err := m.pool.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	var out []Backup
	for _, name := range names {
		prefix, at, ok := target.ParseBackupName(name)
		if !ok {
			continue
		}
		out = append(out, Backup{Name: name, Prefix: prefix, CreatedAt: at})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}
