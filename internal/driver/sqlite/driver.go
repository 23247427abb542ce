// Package sqlite provides the SQLite driver implementation. SQLite is the
// migration source and can also serve as a target for local rehearsals.
// It registers itself with the driver registry on import.
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/johndauphine/sqlite-server-migrate/internal/config"
	"github.com/johndauphine/sqlite-server-migrate/internal/driver"
)

func init() {
	driver.Register(&Driver{})
}

// Driver implements driver.Driver for SQLite database files.
type Driver struct{}

// Name returns the primary driver name.
func (d *Driver) Name() string {
	return "sqlite"
}

// Aliases returns alternative names for this driver.
func (d *Driver) Aliases() []string {
	return []string{"sqlite3"}
}

// Defaults returns the default configuration values for SQLite.
func (d *Driver) Defaults() driver.DriverDefaults {
	return driver.DriverDefaults{}
}

// Dialect returns the SQLite dialect.
func (d *Driver) Dialect() driver.Dialect {
	return &Dialect{}
}

// Open opens the target database file read-write, creating it if needed.
func (d *Driver) Open(cfg *config.TargetConfig) (*sql.DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite target requires a path")
	}
	return open(cfg.Path, false)
}

// OpenReadOnly opens an existing database file without write access.
func OpenReadOnly(path string) (*sql.DB, error) {
	return open(path, true)
}

// DSN builds the modernc.org/sqlite connection string for path.
func DSN(path string, readOnly bool) string {
	params := []string{"_pragma=busy_timeout(5000)"}
	if readOnly {
		params = append([]string{"mode=ro"}, params...)
	}
	return "file:" + path + "?" + strings.Join(params, "&")
}

func open(path string, readOnly bool) (*sql.DB, error) {
	db, err := sql.Open("sqlite", DSN(path, readOnly))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %s: %w", path, err)
	}
	return driver.SingleConnection(db), nil
}
