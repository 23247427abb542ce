// Package driver provides pluggable database driver abstractions.
// Each target engine (MySQL, PostgreSQL, SQL Server, SQLite) implements the
// Driver interface to provide its connection setup and SQL dialect in one
// cohesive unit.
package driver

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/johndauphine/sqlite-server-migrate/internal/config"
	"github.com/johndauphine/sqlite-server-migrate/internal/logging"
	"github.com/johndauphine/sqlite-server-migrate/internal/migerr"
)

// DriverDefaults contains default values for a database driver.
type DriverDefaults struct {
	// Port is the default port (e.g., 3306 for MySQL, 5432 for PostgreSQL).
	Port int

	// Schema is the default schema ("public" for PostgreSQL, "dbo" for MSSQL,
	// empty where the database itself is the namespace).
	Schema string
}

// Driver represents a pluggable database driver.
//
// To add a new database:
// 1. Create a package under internal/driver/<dbname>/
// 2. Implement the Driver interface
// 3. Register via init(): driver.Register(&MyDriver{})
type Driver interface {
	// Name returns the primary driver name (e.g., "mysql", "postgres").
	Name() string

	// Aliases returns alternative names for this driver.
	Aliases() []string

	// Defaults returns the default configuration values for this driver.
	Defaults() DriverDefaults

	// Dialect returns the SQL dialect for this database.
	Dialect() Dialect

	// Open builds the DSN from cfg and returns a handle limited to a single
	// connection. It does not contact the server.
	Open(cfg *config.TargetConfig) (*sql.DB, error)
}

// Connect opens and pings the target described by cfg, retrying with
// exponential backoff up to retries extra attempts. Failure is reported as a
// migerr.ConnectionError.
func Connect(ctx context.Context, cfg *config.TargetConfig, retries int) (*sql.DB, Dialect, error) {
	d, err := Get(cfg.Type)
	if err != nil {
		return nil, nil, &migerr.ConnectionError{Engine: "target", Err: err}
	}
	db, err := d.Open(cfg)
	if err != nil {
		return nil, nil, &migerr.ConnectionError{Engine: "target", Err: err}
	}
	if err := PingWithRetry(ctx, db, cfg.ConnectTimeout, retries); err != nil {
		db.Close()
		return nil, nil, &migerr.ConnectionError{Engine: "target " + cfg.Describe(), Err: err}
	}
	return db, d.Dialect(), nil
}

// PingWithRetry pings db until it answers, each attempt bounded by timeout.
func PingWithRetry(ctx context.Context, db *sql.DB, timeout time.Duration, retries int) error {
	if retries < 0 {
		retries = 0
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(retries)),
		ctx,
	)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			logging.Debug("Ping attempt %d failed: %v", attempt, err)
			return fmt.Errorf("ping: %w", err)
		}
		return nil
	}, b)
}

// SingleConnection caps a pool at one open connection. The engine holds one
// live connection per database for the whole job.
func SingleConnection(db *sql.DB) *sql.DB {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return db
}
