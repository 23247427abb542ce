// Package mssql provides the Microsoft SQL Server driver implementation.
// It registers itself with the driver registry on import.
package mssql

import (
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/johndauphine/sqlite-server-migrate/internal/config"
	"github.com/johndauphine/sqlite-server-migrate/internal/driver"
)

func init() {
	driver.Register(&Driver{})
}

// Driver implements driver.Driver for SQL Server databases.
type Driver struct{}

// Name returns the primary driver name.
func (d *Driver) Name() string {
	return "mssql"
}

// Aliases returns alternative names for this driver.
func (d *Driver) Aliases() []string {
	return []string{"sqlserver", "sql-server"}
}

// Defaults returns the default configuration values for MSSQL.
func (d *Driver) Defaults() driver.DriverDefaults {
	return driver.DriverDefaults{
		Port:   1433,
		Schema: "dbo",
	}
}

// Dialect returns the MSSQL dialect.
func (d *Driver) Dialect() driver.Dialect {
	return &Dialect{}
}

// Open opens a go-mssqldb handle for cfg.
func (d *Driver) Open(cfg *config.TargetConfig) (*sql.DB, error) {
	db, err := sql.Open("sqlserver", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening sqlserver connection: %w", err)
	}
	return driver.SingleConnection(db), nil
}

// DSN builds a sqlserver:// URL with credentials escaped.
func DSN(cfg *config.TargetConfig) string {
	port := cfg.Port
	if port == 0 {
		port = 1433
	}

	u := &url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
	}

	params := url.Values{}
	params.Set("database", cfg.Database)
	if cfg.Encrypt != "" {
		params.Set("encrypt", cfg.Encrypt)
	}
	if cfg.TrustServerCert {
		params.Set("TrustServerCertificate", "true")
	}
	if secs := int(cfg.ConnectTimeout.Seconds()); secs > 0 {
		params.Set("connection timeout", strconv.Itoa(secs))
	}
	params.Set("app name", "sqlite-server-migrate")
	u.RawQuery = params.Encode()
	return u.String()
}
