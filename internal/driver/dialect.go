package driver

import (
	"strings"

	"github.com/johndauphine/sqlite-server-migrate/internal/typemap"
)

// Dialect abstracts database-specific SQL syntax differences.
// Each database driver provides its own Dialect implementation.
type Dialect interface {
	typemap.TypeNamer

	// DBType returns the database type (e.g., "mysql", "postgres").
	DBType() string

	// QuoteIdentifier quotes an identifier (table, column name).
	// PostgreSQL/SQLite: "identifier"
	// MSSQL: [identifier]
	// MySQL: `identifier`
	QuoteIdentifier(name string) string

	// QualifyTable returns a table reference, schema-qualified when schema
	// is not empty.
	QualifyTable(schema, table string) string

	// ParameterPlaceholder returns the placeholder for the 1-based index.
	// PostgreSQL: $1, $2
	// MSSQL: @p1, @p2
	// MySQL/SQLite: ?
	ParameterPlaceholder(index int) string

	// MaxParams is the largest number of bind parameters one statement may carry.
	MaxParams() int

	// MaxIdentifierLength is the longest table name the engine accepts.
	MaxIdentifierLength() int

	// CreateTableSQL renders an idempotent CREATE TABLE for the column and
	// constraint definitions in defs.
	CreateTableSQL(schema, table string, defs []string) string

	// CopyTableSQL returns the statements that create dst as a full copy of src.
	CopyTableSQL(schema, dst, src string) []string

	// TableExistsQuery returns a query yielding the number of tables named table.
	TableExistsQuery(schema, table string) (string, []any)

	// ListTablesQuery returns a query yielding the names of all base tables.
	ListTablesQuery(schema string) (string, []any)
}

// ValueAdapter is implemented by dialects whose driver cannot bind some
// SQLite storage values directly, such as 0/1 integers into a boolean column.
type ValueAdapter interface {
	AdaptValue(kind typemap.Kind, v any) any
}

// AdaptRow applies d's ValueAdapter, if any, to row in place.
func AdaptRow(d Dialect, kinds []typemap.Kind, row []any) {
	a, ok := d.(ValueAdapter)
	if !ok {
		return
	}
	for i := range row {
		if i < len(kinds) {
			row[i] = a.AdaptValue(kinds[i], row[i])
		}
	}
}

// ColumnList quotes and joins column names for a SELECT or INSERT list.
func ColumnList(d Dialect, cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.QuoteIdentifier(c)
	}
	return strings.Join(quoted, ", ")
}

// Placeholders renders one parenthesized row of n placeholders, numbering
// from start (1-based).
func Placeholders(d Dialect, start, n int) string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(d.ParameterPlaceholder(start + i))
	}
	sb.WriteByte(')')
	return sb.String()
}
