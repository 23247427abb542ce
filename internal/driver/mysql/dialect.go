package mysql

import (
	"fmt"
	"strings"

	"github.com/johndauphine/sqlite-server-migrate/internal/typemap"
)

// Dialect implements driver.Dialect for MySQL. The connected database is
// the namespace, so schema is normally empty.
type Dialect struct{}

func (d *Dialect) DBType() string { return "mysql" }

func (d *Dialect) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (d *Dialect) QualifyTable(schema, table string) string {
	if schema == "" {
		return d.QuoteIdentifier(table)
	}
	return d.QuoteIdentifier(schema) + "." + d.QuoteIdentifier(table)
}

func (d *Dialect) ParameterPlaceholder(_ int) string { return "?" }

func (d *Dialect) MaxParams() int { return 65535 }

func (d *Dialect) MaxIdentifierLength() int { return 64 }

func (d *Dialect) CreateTableSQL(schema, table string, defs []string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)",
		d.QualifyTable(schema, table), strings.Join(defs, ",\n    "))
}

// CopyTableSQL uses CREATE TABLE ... LIKE so the copy keeps column types and
// keys, and works on servers enforcing GTID consistency.
func (d *Dialect) CopyTableSQL(schema, dst, src string) []string {
	dstName, srcName := d.QualifyTable(schema, dst), d.QualifyTable(schema, src)
	return []string{
		fmt.Sprintf("CREATE TABLE %s LIKE %s", dstName, srcName),
		fmt.Sprintf("INSERT INTO %s SELECT * FROM %s", dstName, srcName),
	}
}

func (d *Dialect) TableExistsQuery(schema, table string) (string, []any) {
	if schema == "" {
		return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?", []any{table}
	}
	return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?", []any{schema, table}
}

func (d *Dialect) ListTablesQuery(schema string) (string, []any) {
	if schema == "" {
		return "SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE' ORDER BY table_name", nil
	}
	return "SELECT table_name FROM information_schema.tables WHERE table_schema = ? AND table_type = 'BASE TABLE' ORDER BY table_name", []any{schema}
}

func (d *Dialect) FallbackType() string { return "longtext" }

// TypeName renders a kind in MySQL. TEXT and BLOB columns cannot be indexed
// without a prefix length, so key columns get bounded types.
func (d *Dialect) TypeName(kind typemap.Kind, params string, key bool) string {
	switch kind {
	case typemap.KindBoolean:
		return "tinyint(1)"
	case typemap.KindTinyInt:
		return "tinyint"
	case typemap.KindSmallInt:
		return "smallint"
	case typemap.KindInteger:
		return "int"
	case typemap.KindBigInt:
		return "bigint"
	case typemap.KindReal:
		return "float"
	case typemap.KindDouble:
		return "double"
	case typemap.KindDecimal:
		if params == "" {
			return "decimal(65,30)"
		}
		return "decimal" + params
	case typemap.KindChar:
		if params == "" {
			return "char(1)"
		}
		return "char" + params
	case typemap.KindVarChar:
		if params == "" {
			return "varchar(255)"
		}
		return "varchar" + params
	case typemap.KindBlob:
		if key {
			return "varbinary(255)"
		}
		return "longblob"
	case typemap.KindDate:
		return "date"
	case typemap.KindTime:
		return "time(6)"
	case typemap.KindDateTime, typemap.KindTimestamp:
		// TIMESTAMP is limited to 1970-2038 and converts through the session zone.
		return "datetime(6)"
	case typemap.KindJSON:
		return "json"
	default:
		if key {
			return "varchar(255)"
		}
		return "longtext"
	}
}
