// Package source reads the SQLite database being migrated: table and column
// metadata, row counts, ordered pages of rows, and primary-key values.
package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/johndauphine/sqlite-server-migrate/internal/config"
	"github.com/johndauphine/sqlite-server-migrate/internal/driver"
	"github.com/johndauphine/sqlite-server-migrate/internal/driver/sqlite"
	"github.com/johndauphine/sqlite-server-migrate/internal/migerr"
)

// Table and Column are the driver package's metadata types.
type (
	Table      = driver.Table
	Column     = driver.Column
	ForeignKey = driver.ForeignKey
)

var sqliteDialect = &sqlite.Dialect{}

// Pool holds the single read-only connection to the source database.
type Pool struct {
	db   *sql.DB
	path string
}

// NewPool opens the source file read-only and verifies it can be queried.
func NewPool(ctx context.Context, cfg *config.SourceConfig, retries int) (*Pool, error) {
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, &migerr.ConnectionError{Engine: "source " + cfg.Path, Err: err}
	}
	db, err := sqlite.OpenReadOnly(cfg.Path)
	if err != nil {
		return nil, &migerr.ConnectionError{Engine: "source " + cfg.Path, Err: err}
	}
	if err := driver.PingWithRetry(ctx, db, 0, retries); err != nil {
		db.Close()
		return nil, &migerr.ConnectionError{Engine: "source " + cfg.Path, Err: err}
	}
	return NewPoolFromDB(db, cfg.Path), nil
}

// NewPoolFromDB wraps an already-open handle.
func NewPoolFromDB(db *sql.DB, path string) *Pool {
	return &Pool{db: db, path: path}
}

// Close closes the connection.
func (p *Pool) Close() error {
	return p.db.Close()
}

// DB returns the underlying database handle.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// DBType returns the database type.
func (p *Pool) DBType() string {
	return "sqlite"
}

// Dialect returns the source SQL dialect.
func (p *Pool) Dialect() driver.Dialect {
	return sqliteDialect
}

// Ping checks the connection is still usable.
func (p *Pool) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Tables lists user tables in name order, excluding SQLite's internal tables.
func (p *Pool) Tables(ctx context.Context) ([]string, error) {
	query, args := sqliteDialect.ListTablesQuery("")
	names, err := driver.QueryStrings(ctx, p.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing source tables: %w", err)
	}
	return names, nil
}

// Columns returns the table's columns in ordinal order. A table that does
// not exist yields a SchemaReadError.
func (p *Pool) Columns(ctx context.Context, table string) ([]Column, error) {
	query := fmt.Sprintf("PRAGMA table_info(%s)", sqliteDialect.QuoteIdentifier(table))
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &migerr.SchemaReadError{Table: table, Err: err}
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			cid      int
			name     string
			declared sql.NullString
			notNull  int
			dflt     sql.NullString
			pk       int
		)
		if err := rows.Scan(&cid, &name, &declared, &notNull, &dflt, &pk); err != nil {
			return nil, &migerr.SchemaReadError{Table: table, Err: err}
		}
		col := Column{
			Name:         name,
			DeclaredType: declared.String,
			Nullable:     notNull == 0 && pk == 0,
			IsPrimaryKey: pk > 0,
			PKOrdinal:    pk,
			Ordinal:      cid + 1,
		}
		if dflt.Valid {
			d := dflt.String
			col.Default = &d
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, &migerr.SchemaReadError{Table: table, Err: err}
	}
	if len(cols) == 0 {
		return nil, &migerr.SchemaReadError{Table: table, Err: errors.New("table does not exist")}
	}

	sort.SliceStable(cols, func(i, j int) bool { return cols[i].Ordinal < cols[j].Ordinal })
	return cols, nil
}

// ForeignKeys returns the table's foreign keys grouped by constraint.
func (p *Pool) ForeignKeys(ctx context.Context, table string) ([]ForeignKey, error) {
	query := fmt.Sprintf("PRAGMA foreign_key_list(%s)", sqliteDialect.QuoteIdentifier(table))
	rows, err := driver.QueryRows(ctx, p.db, query)
	if err != nil {
		return nil, &migerr.SchemaReadError{Table: table, Err: err}
	}

	// id, seq, table, from, to, on_update, on_delete, match
	byID := make(map[int64]*ForeignKey)
	var order []int64
	for _, r := range rows {
		id := toInt64(r[0])
		fk, ok := byID[id]
		if !ok {
			fk = &ForeignKey{RefTable: toString(r[2])}
			byID[id] = fk
			order = append(order, id)
		}
		fk.Columns = append(fk.Columns, toString(r[3]))
		fk.RefColumns = append(fk.RefColumns, toString(r[4]))
	}

	fks := make([]ForeignKey, 0, len(order))
	for _, id := range order {
		fks = append(fks, *byID[id])
	}
	return fks, nil
}

// LoadTable returns columns, foreign keys and row count for table.
func (p *Pool) LoadTable(ctx context.Context, table string) (*Table, error) {
	cols, err := p.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	fks, err := p.ForeignKeys(ctx, table)
	if err != nil {
		return nil, err
	}
	count, err := p.RowCount(ctx, table)
	if err != nil {
		return nil, err
	}
	return &Table{Name: table, Columns: cols, ForeignKeys: fks, RowCount: count}, nil
}

// RowCount returns COUNT(*) for table.
func (p *Pool) RowCount(ctx context.Context, table string) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", sqliteDialect.QuoteIdentifier(table))
	n, err := driver.QueryCount(ctx, p.db, query)
	if err != nil {
		return 0, fmt.Errorf("counting rows in %s: %w", table, err)
	}
	return n, nil
}

// PrimaryKeyColumn returns the name of the table's primary key column when
// the key has exactly one column.
func (p *Pool) PrimaryKeyColumn(ctx context.Context, table string) (string, bool, error) {
	cols, err := p.Columns(ctx, table)
	if err != nil {
		return "", false, err
	}
	pk := driver.PrimaryKey(cols)
	if len(pk) != 1 {
		return "", false, nil
	}
	return pk[0], true, nil
}

// OrderBy returns the ORDER BY expression that gives table's rows a stable
// order: the primary key when there is one, otherwise rowid.
func OrderBy(cols []Column) string {
	pk := driver.PrimaryKey(cols)
	if len(pk) == 0 {
		return "rowid"
	}
	return driver.ColumnList(sqliteDialect, pk)
}

// Page reads up to limit rows starting at offset, in the stable order given
// by OrderBy. Values come back in the order of columns.
func (p *Pool) Page(ctx context.Context, table string, cols []Column, limit int, offset int64) ([][]any, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT ? OFFSET ?",
		driver.ColumnList(sqliteDialect, driver.ColumnNames(cols)),
		sqliteDialect.QuoteIdentifier(table),
		OrderBy(cols))
	return driver.QueryRows(ctx, p.db, query, limit, offset)
}

// PrimaryKeyValues returns every value of keyCol.
func (p *Pool) PrimaryKeyValues(ctx context.Context, table, keyCol string) ([]any, error) {
	query := fmt.Sprintf("SELECT %s FROM %s",
		sqliteDialect.QuoteIdentifier(keyCol), sqliteDialect.QuoteIdentifier(table))
	return driver.QueryColumn(ctx, p.db, query)
}

// SampleKeys returns up to n randomly chosen values of keyCol.
func (p *Pool) SampleKeys(ctx context.Context, table, keyCol string, n int) ([]any, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY RANDOM() LIMIT ?",
		sqliteDialect.QuoteIdentifier(keyCol), sqliteDialect.QuoteIdentifier(table))
	return driver.QueryColumn(ctx, p.db, query, n)
}

// RowsByKey fetches the rows whose keyCol is in keys, selecting columns in
// the given order.
func (p *Pool) RowsByKey(ctx context.Context, table, keyCol string, columns []string, keys []any) ([][]any, error) {
	return driver.RowsByKey(ctx, p.db, sqliteDialect, "", table, keyCol, columns, keys)
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(s))
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
