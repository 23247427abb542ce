// Package mysql provides the MySQL driver implementation, the default
// migration target. It registers itself with the driver registry on import.
package mysql

import (
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/johndauphine/sqlite-server-migrate/internal/config"
	"github.com/johndauphine/sqlite-server-migrate/internal/driver"
)

func init() {
	driver.Register(&Driver{})
}

// Driver implements driver.Driver for MySQL and MariaDB servers.
type Driver struct{}

// Name returns the primary driver name.
func (d *Driver) Name() string {
	return "mysql"
}

// Aliases returns alternative names for this driver.
func (d *Driver) Aliases() []string {
	return []string{"mariadb"}
}

// Defaults returns the default configuration values for MySQL.
func (d *Driver) Defaults() driver.DriverDefaults {
	return driver.DriverDefaults{Port: 3306}
}

// Dialect returns the MySQL dialect.
func (d *Driver) Dialect() driver.Dialect {
	return &Dialect{}
}

// Open builds a connector from cfg. Times are parsed into time.Time in UTC.
func (d *Driver) Open(cfg *config.TargetConfig) (*sql.DB, error) {
	connector, err := gomysql.NewConnector(Config(cfg))
	if err != nil {
		return nil, fmt.Errorf("building mysql connector: %w", err)
	}
	return driver.SingleConnection(sql.OpenDB(connector)), nil
}

// Config translates the target settings into a go-sql-driver config.
func Config(cfg *config.TargetConfig) *gomysql.Config {
	port := cfg.Port
	if port == 0 {
		port = 3306
	}

	mc := gomysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	mc.DBName = cfg.Database
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.Timeout = cfg.ConnectTimeout
	if cfg.Charset != "" {
		mc.Params = map[string]string{"charset": cfg.Charset}
	}
	return mc
}
