// Package stats summarizes database/sql connection pool usage for logging.
package stats

import (
	"database/sql"
	"fmt"
)

// PoolStats is a snapshot of one engine's connection pool.
type PoolStats struct {
	Engine      string // "source" or "target"
	DBType      string
	MaxConns    int   // 0 = unlimited
	OpenConns   int
	ActiveConns int
	IdleConns   int
	WaitCount   int64 // times a caller waited for the single connection
	WaitTimeMs  int64
}

// FromDB reads the pool statistics of db.
func FromDB(engine, dbType string, db *sql.DB) PoolStats {
	s := db.Stats()
	return PoolStats{
		Engine:      engine,
		DBType:      dbType,
		MaxConns:    s.MaxOpenConnections,
		OpenConns:   s.OpenConnections,
		ActiveConns: s.InUse,
		IdleConns:   s.Idle,
		WaitCount:   s.WaitCount,
		WaitTimeMs:  s.WaitDuration.Milliseconds(),
	}
}

// String returns a formatted string for logging pool stats.
func (s PoolStats) String() string {
	return fmt.Sprintf("%s %s: %d/%d active, %d idle, %d waits (%.1fms avg)",
		s.Engine, s.DBType, s.ActiveConns, s.MaxConns, s.IdleConns,
		s.WaitCount, float64(s.WaitTimeMs)/float64(max(s.WaitCount, 1)))
}
