package notify

import "time"

// Provider receives migration lifecycle events. Send failures are returned
// for logging only; they never change the state of a run.
type Provider interface {
	MigrationStarted(runID, source, target string, tableCount int) error
	MigrationCompleted(runID string, startTime time.Time, duration time.Duration, tableCount int, rowCount int64, throughput float64) error
	MigrationFailed(runID, stage string, err error, duration time.Duration) error
	MigrationRolledBack(runID, reason string, restored []string, duration time.Duration) error
	TableTransferFailed(runID, tableName string, err error) error
}

// Ensure Notifier implements Provider
var _ Provider = (*Notifier)(nil)
