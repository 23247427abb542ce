package mssql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/johndauphine/sqlite-server-migrate/internal/typemap"
)

// Dialect implements driver.Dialect for SQL Server.
type Dialect struct{}

func (d *Dialect) DBType() string { return "mssql" }

func (d *Dialect) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (d *Dialect) QualifyTable(schema, table string) string {
	if schema == "" {
		return d.QuoteIdentifier(table)
	}
	return d.QuoteIdentifier(schema) + "." + d.QuoteIdentifier(table)
}

func (d *Dialect) ParameterPlaceholder(index int) string {
	return fmt.Sprintf("@p%d", index)
}

// MaxParams is one below the RPC limit of 2100 parameters.
func (d *Dialect) MaxParams() int { return 2099 }

func (d *Dialect) MaxIdentifierLength() int { return 128 }

// CreateTableSQL guards the CREATE with OBJECT_ID since SQL Server has no
// CREATE TABLE IF NOT EXISTS.
func (d *Dialect) CreateTableSQL(schema, table string, defs []string) string {
	qualified := d.QualifyTable(schema, table)
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL\nCREATE TABLE %s (\n    %s\n)",
		strings.ReplaceAll(qualified, "'", "''"), qualified, strings.Join(defs, ",\n    "))
}

func (d *Dialect) CopyTableSQL(schema, dst, src string) []string {
	return []string{fmt.Sprintf("SELECT * INTO %s FROM %s",
		d.QualifyTable(schema, dst), d.QualifyTable(schema, src))}
}

func (d *Dialect) TableExistsQuery(schema, table string) (string, []any) {
	if schema == "" {
		schema = "dbo"
	}
	return "SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2", []any{schema, table}
}

func (d *Dialect) ListTablesQuery(schema string) (string, []any) {
	if schema == "" {
		schema = "dbo"
	}
	return "SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = @p1 AND TABLE_TYPE = 'BASE TABLE' ORDER BY TABLE_NAME", []any{schema}
}

func (d *Dialect) FallbackType() string { return "nvarchar(max)" }

// TypeName renders a kind in T-SQL. Key columns cannot be MAX types, and
// nvarchar lengths above 4000 must become MAX.
func (d *Dialect) TypeName(kind typemap.Kind, params string, key bool) string {
	switch kind {
	case typemap.KindBoolean:
		return "bit"
	case typemap.KindTinyInt:
		// SQL Server tinyint is unsigned; SQLite values may be negative.
		return "smallint"
	case typemap.KindSmallInt:
		return "smallint"
	case typemap.KindInteger:
		return "int"
	case typemap.KindBigInt:
		return "bigint"
	case typemap.KindReal:
		return "real"
	case typemap.KindDouble:
		return "float"
	case typemap.KindDecimal:
		if params == "" {
			return "decimal(38,10)"
		}
		return "decimal" + params
	case typemap.KindChar:
		if p := clampLength(params, "(1)"); p != "(max)" {
			return "nchar" + p
		}
		return d.TypeName(typemap.KindText, "", key)
	case typemap.KindVarChar:
		if p := clampLength(params, "(255)"); p != "(max)" {
			return "nvarchar" + p
		}
		return d.TypeName(typemap.KindText, "", key)
	case typemap.KindBlob:
		if key {
			return "varbinary(900)"
		}
		return "varbinary(max)"
	case typemap.KindDate:
		return "date"
	case typemap.KindTime:
		return "time"
	case typemap.KindDateTime, typemap.KindTimestamp:
		return "datetime2"
	default:
		if key {
			return "nvarchar(450)"
		}
		return "nvarchar(max)"
	}
}

// clampLength returns params, def when empty, or (max) when the length
// exceeds the 4000 character limit of nchar/nvarchar.
func clampLength(params, def string) string {
	if params == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(strings.Trim(params, "()")))
	if err == nil && n > 4000 {
		return "(max)"
	}
	return params
}
