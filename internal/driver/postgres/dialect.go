package postgres

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/johndauphine/sqlite-server-migrate/internal/typemap"
)

// Dialect implements driver.Dialect for PostgreSQL.
type Dialect struct{}

func (d *Dialect) DBType() string { return "postgres" }

func (d *Dialect) QuoteIdentifier(name string) string {
	return pq.QuoteIdentifier(name)
}

func (d *Dialect) QualifyTable(schema, table string) string {
	if schema == "" {
		return d.QuoteIdentifier(table)
	}
	return d.QuoteIdentifier(schema) + "." + d.QuoteIdentifier(table)
}

func (d *Dialect) ParameterPlaceholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

func (d *Dialect) MaxParams() int { return 65535 }

func (d *Dialect) MaxIdentifierLength() int { return 63 }

func (d *Dialect) CreateTableSQL(schema, table string, defs []string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)",
		d.QualifyTable(schema, table), strings.Join(defs, ",\n    "))
}

func (d *Dialect) CopyTableSQL(schema, dst, src string) []string {
	return []string{fmt.Sprintf("CREATE TABLE %s AS TABLE %s",
		d.QualifyTable(schema, dst), d.QualifyTable(schema, src))}
}

func (d *Dialect) TableExistsQuery(schema, table string) (string, []any) {
	if schema == "" {
		schema = "public"
	}
	return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2", []any{schema, table}
}

func (d *Dialect) ListTablesQuery(schema string) (string, []any) {
	if schema == "" {
		schema = "public"
	}
	return "SELECT table_name FROM information_schema.tables WHERE table_schema = $1 AND table_type = 'BASE TABLE' ORDER BY table_name", []any{schema}
}

func (d *Dialect) FallbackType() string { return "text" }

func (d *Dialect) TypeName(kind typemap.Kind, params string, _ bool) string {
	switch kind {
	case typemap.KindBoolean:
		return "boolean"
	case typemap.KindTinyInt, typemap.KindSmallInt:
		return "smallint"
	case typemap.KindInteger:
		return "integer"
	case typemap.KindBigInt:
		return "bigint"
	case typemap.KindReal:
		return "real"
	case typemap.KindDouble:
		return "double precision"
	case typemap.KindDecimal:
		return "numeric" + params
	case typemap.KindChar:
		return "char" + params
	case typemap.KindVarChar:
		return "varchar" + params
	case typemap.KindBlob:
		return "bytea"
	case typemap.KindDate:
		return "date"
	case typemap.KindTime:
		return "time"
	case typemap.KindDateTime, typemap.KindTimestamp:
		return "timestamp"
	case typemap.KindJSON:
		return "jsonb"
	default:
		return "text"
	}
}

// AdaptValue converts SQLite's 0/1 booleans, which pgx will not bind to a
// boolean parameter.
func (d *Dialect) AdaptValue(kind typemap.Kind, v any) any {
	if kind != typemap.KindBoolean {
		return v
	}
	switch b := v.(type) {
	case int64:
		return b != 0
	case float64:
		return b != 0
	}
	return v
}
