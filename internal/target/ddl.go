package target

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/johndauphine/sqlite-server-migrate/internal/driver"
	"github.com/johndauphine/sqlite-server-migrate/internal/logging"
	"github.com/johndauphine/sqlite-server-migrate/internal/migerr"
	"github.com/johndauphine/sqlite-server-migrate/internal/typemap"
)

// Provisioner creates target tables from source column metadata.
type Provisioner struct {
	pool   *Pool
	mapper *typemap.Mapper
}

// NewProvisioner creates a Provisioner that maps types with the pool's dialect.
func NewProvisioner(pool *Pool) *Provisioner {
	return &Provisioner{pool: pool, mapper: typemap.New(pool.Dialect())}
}

// Mapper returns the type mapper used for DDL.
func (p *Provisioner) Mapper() *typemap.Mapper {
	return p.mapper
}

// Provision creates table if it does not already exist. The single CREATE
// statement runs in a transaction; on failure it is rolled back and a
// ProvisionError returned. The returned warnings list columns whose type had
// no mapping rule and fell back to text.
func (p *Provisioner) Provision(ctx context.Context, table string, cols []driver.Column) ([]string, error) {
	if len(cols) == 0 {
		return nil, &migerr.ProvisionError{Table: table, Err: fmt.Errorf("no columns")}
	}

	ddl, warnings := p.GenerateDDL(table, cols)
	logging.Debug("Provisioning %s:\n%s", table, ddl)

	err := p.pool.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, ddl)
		return err
	})
	if err != nil {
		return warnings, &migerr.ProvisionError{Table: table, Err: err}
	}
	return warnings, nil
}

// GenerateDDL renders the CREATE TABLE statement for table.
func (p *Provisioner) GenerateDDL(table string, cols []driver.Column) (string, []string) {
	d := p.pool.Dialect()
	var warnings []string

	defs := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		colType, ok := p.mapper.MapColumn(c.DeclaredType, c.IsPrimaryKey)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("%s.%s: no mapping for %q, using %s", table, c.Name, c.DeclaredType, colType))
		}

		def := d.QuoteIdentifier(c.Name) + " " + colType
		if !c.Nullable {
			def += " NOT NULL"
		}
		if c.Default != nil {
			kind, _, _ := p.mapper.Classify(c.DeclaredType)
			if lit, ok := portableDefault(*c.Default, kind); ok {
				def += " DEFAULT " + lit
			} else {
				logging.Debug("Dropping default %s on %s.%s", *c.Default, table, c.Name)
			}
		}
		defs = append(defs, def)
	}

	if pk := driver.PrimaryKey(cols); len(pk) > 0 {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", driver.ColumnList(d, pk)))
	}

	return d.CreateTableSQL(p.pool.Schema(), table, defs), warnings
}

var (
	numericLiteral = regexp.MustCompile(`^[-+]?(\d+\.?\d*|\.\d+)([eE][-+]?\d+)?$`)
	stringLiteral  = regexp.MustCompile(`^'([^']|'')*'$`)
)

// portableDefault returns a default expression every target accepts: a
// number, a quoted string, or NULL. Function calls such as
// CURRENT_TIMESTAMP or datetime('now') are engine specific and dropped; the
// data itself is always copied explicitly.
func portableDefault(expr string, kind typemap.Kind) (string, bool) {
	e := strings.TrimSpace(expr)
	for strings.HasPrefix(e, "(") && strings.HasSuffix(e, ")") {
		e = strings.TrimSpace(e[1 : len(e)-1])
	}

	switch kind {
	case typemap.KindBoolean, typemap.KindText, typemap.KindBlob, typemap.KindJSON, typemap.KindUnknown:
		// MySQL rejects literal defaults on TEXT/BLOB, PostgreSQL rejects 0/1 for boolean.
		return "", false
	}

	switch {
	case strings.EqualFold(e, "NULL"):
		return "NULL", true
	case numericLiteral.MatchString(e):
		return e, true
	case stringLiteral.MatchString(e):
		return e, true
	}
	return "", false
}
