// Package target writes to the destination server: DDL, batched inserts,
// counts and key reads for validation, and the table copy/restore
// primitives that rollback points are built on.
package target

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/johndauphine/sqlite-server-migrate/internal/config"
	"github.com/johndauphine/sqlite-server-migrate/internal/driver"
)

// Pool holds the single read-write connection to the target database.
type Pool struct {
	db      *sql.DB
	dialect driver.Dialect
	schema  string
}

// NewPool connects to the target described by cfg.
func NewPool(ctx context.Context, cfg *config.TargetConfig, retries int) (*Pool, error) {
	db, dialect, err := driver.Connect(ctx, cfg, retries)
	if err != nil {
		return nil, err
	}
	return NewPoolFromDB(db, dialect, cfg.Schema), nil
}

// NewPoolFromDB wraps an already-open handle.
func NewPoolFromDB(db *sql.DB, dialect driver.Dialect, schema string) *Pool {
	return &Pool{db: db, dialect: dialect, schema: schema}
}

// Close closes the connection.
func (p *Pool) Close() error {
	return p.db.Close()
}

// DB returns the underlying database handle.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Dialect returns the target SQL dialect.
func (p *Pool) Dialect() driver.Dialect {
	return p.dialect
}

// DBType returns the database type.
func (p *Pool) DBType() string {
	return p.dialect.DBType()
}

// Schema returns the schema tables are created in ("" for the default).
func (p *Pool) Schema() string {
	return p.schema
}

// Ping tests the connection to the database.
func (p *Pool) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Qualify returns the quoted, schema-qualified name of table.
func (p *Pool) Qualify(table string) string {
	return p.dialect.QualifyTable(p.schema, table)
}

// InTx runs fn inside a transaction, committing when it returns nil and
// rolling back otherwise.
func (p *Pool) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// RowsPerStatement returns how many rows of ncols columns fit in one
// multi-row INSERT under the dialect's bind parameter limit. SQL Server also
// caps a VALUES list at 1000 rows.
func RowsPerStatement(d driver.Dialect, ncols int) int {
	if ncols <= 0 {
		return 1
	}
	n := d.MaxParams() / ncols
	if n > 1000 {
		n = 1000
	}
	if n < 1 {
		n = 1
	}
	return n
}

// BuildInsert renders one multi-row INSERT for rows and returns it with its
// flattened arguments.
func BuildInsert(d driver.Dialect, qualified string, cols []string, rows [][]any) (string, []any) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", qualified, driver.ColumnList(d, cols))

	args := make([]any, 0, len(rows)*len(cols))
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(driver.Placeholders(d, len(args)+1, len(cols)))
		args = append(args, row...)
	}
	return sb.String(), args
}

// InsertBatch inserts rows in one transaction, split into as many
// statements as the parameter limit requires. Either all rows are committed
// or none are.
func (p *Pool) InsertBatch(ctx context.Context, table string, cols []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	per := RowsPerStatement(p.dialect, len(cols))
	qualified := p.Qualify(table)

	return p.InTx(ctx, func(tx *sql.Tx) error {
		for start := 0; start < len(rows); start += per {
			end := start + per
			if end > len(rows) {
				end = len(rows)
			}
			query, args := BuildInsert(p.dialect, qualified, cols, rows[start:end])
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("inserting rows %d-%d: %w", start, end-1, err)
			}
		}
		return nil
	})
}

// RowCount returns COUNT(*) for table.
func (p *Pool) RowCount(ctx context.Context, table string) (int64, error) {
	n, err := driver.QueryCount(ctx, p.db, fmt.Sprintf("SELECT COUNT(*) FROM %s", p.Qualify(table)))
	if err != nil {
		return 0, fmt.Errorf("counting rows in %s: %w", table, err)
	}
	return n, nil
}

// PrimaryKeyValues returns every value of keyCol.
func (p *Pool) PrimaryKeyValues(ctx context.Context, table, keyCol string) ([]any, error) {
	query := fmt.Sprintf("SELECT %s FROM %s", p.dialect.QuoteIdentifier(keyCol), p.Qualify(table))
	return driver.QueryColumn(ctx, p.db, query)
}

// RowsByKey fetches the rows whose keyCol is in keys.
func (p *Pool) RowsByKey(ctx context.Context, table, keyCol string, columns []string, keys []any) ([][]any, error) {
	return driver.RowsByKey(ctx, p.db, p.dialect, p.schema, table, keyCol, columns, keys)
}

// TableExists reports whether table exists in the target schema.
func (p *Pool) TableExists(ctx context.Context, table string) (bool, error) {
	query, args := p.dialect.TableExistsQuery(p.schema, table)
	n, err := driver.QueryCount(ctx, p.db, query, args...)
	if err != nil {
		return false, fmt.Errorf("checking for table %s: %w", table, err)
	}
	return n > 0, nil
}

// ListTables returns the names of all base tables in the target schema.
func (p *Pool) ListTables(ctx context.Context) ([]string, error) {
	query, args := p.dialect.ListTablesQuery(p.schema)
	names, err := driver.QueryStrings(ctx, p.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing target tables: %w", err)
	}
	return names, nil
}

// CopyTable creates dst as a full copy of src in one transaction.
func (p *Pool) CopyTable(ctx context.Context, dst, src string) error {
	return p.InTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range p.dialect.CopyTableSQL(p.schema, dst, src) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("copying %s to %s: %w", src, dst, err)
			}
		}
		return nil
	})
}

// ReplaceContents deletes every row of table and re-inserts the rows of
// backup, atomically. The table itself is never dropped, so references to
// it stay intact.
func (p *Pool) ReplaceContents(ctx context.Context, table, backup string) error {
	return p.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", p.Qualify(table))); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
		insert := fmt.Sprintf("INSERT INTO %s SELECT * FROM %s", p.Qualify(table), p.Qualify(backup))
		if _, err := tx.ExecContext(ctx, insert); err != nil {
			return fmt.Errorf("restoring %s from %s: %w", table, backup, err)
		}
		return nil
	})
}

// DropTable drops a table if it exists.
func (p *Pool) DropTable(ctx context.Context, table string) error {
	if _, err := p.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", p.Qualify(table))); err != nil {
		return fmt.Errorf("dropping %s: %w", table, err)
	}
	return nil
}
