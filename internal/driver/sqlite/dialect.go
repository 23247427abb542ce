package sqlite

import (
	"fmt"
	"strings"

	"github.com/johndauphine/sqlite-server-migrate/internal/typemap"
)

// Dialect implements driver.Dialect for SQLite.
type Dialect struct{}

func (d *Dialect) DBType() string { return "sqlite" }

func (d *Dialect) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d *Dialect) QualifyTable(schema, table string) string {
	if schema == "" {
		return d.QuoteIdentifier(table)
	}
	return d.QuoteIdentifier(schema) + "." + d.QuoteIdentifier(table)
}

func (d *Dialect) ParameterPlaceholder(_ int) string { return "?" }

// MaxParams is SQLITE_MAX_VARIABLE_NUMBER for builds since 3.32.
func (d *Dialect) MaxParams() int { return 32766 }

func (d *Dialect) MaxIdentifierLength() int { return 255 }

func (d *Dialect) CreateTableSQL(schema, table string, defs []string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)",
		d.QualifyTable(schema, table), strings.Join(defs, ",\n    "))
}

func (d *Dialect) CopyTableSQL(schema, dst, src string) []string {
	return []string{fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s",
		d.QualifyTable(schema, dst), d.QualifyTable(schema, src))}
}

func (d *Dialect) TableExistsQuery(_, table string) (string, []any) {
	return "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", []any{table}
}

func (d *Dialect) ListTablesQuery(_ string) (string, []any) {
	return "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name", nil
}

func (d *Dialect) FallbackType() string { return "TEXT" }

// TypeName keeps SQLite's own spelling so that a SQLite-to-SQLite copy
// preserves declared types and the affinity they imply.
func (d *Dialect) TypeName(kind typemap.Kind, params string, _ bool) string {
	switch kind {
	case typemap.KindBoolean:
		return "BOOLEAN"
	case typemap.KindTinyInt, typemap.KindSmallInt, typemap.KindInteger, typemap.KindBigInt:
		return "INTEGER"
	case typemap.KindReal, typemap.KindDouble:
		return "REAL"
	case typemap.KindDecimal:
		return "DECIMAL" + params
	case typemap.KindChar:
		return "CHAR" + params
	case typemap.KindVarChar:
		return "VARCHAR" + params
	case typemap.KindBlob:
		return "BLOB"
	case typemap.KindDate:
		return "DATE"
	case typemap.KindTime:
		return "TIME"
	case typemap.KindDateTime:
		return "DATETIME"
	case typemap.KindTimestamp:
		return "TIMESTAMP"
	case typemap.KindJSON:
		return "JSON"
	default:
		return "TEXT"
	}
}
