package orchestrator

import (
	"time"

	"github.com/johndauphine/sqlite-server-migrate/internal/checkpoint"
	"github.com/johndauphine/sqlite-server-migrate/internal/transfer"
	"github.com/johndauphine/sqlite-server-migrate/internal/validate"
)

// Job is one end-to-end migration run. Only the orchestrator's control
// goroutine mutates it, always under the orchestrator lock.
type Job struct {
	ID                string    `json:"run_id"`
	RunDir            string    `json:"run_dir"`
	StartedAt         time.Time `json:"started_at"`
	Stage             Stage     `json:"current_stage"`
	IsRunning         bool      `json:"is_running"`
	ShouldStop        bool      `json:"should_stop"`
	RollbackTriggered bool      `json:"rollback_triggered"`
	RollbackReason    string    `json:"rollback_reason,omitempty"`
}

// Metrics is the live progress snapshot of a job.
type Metrics struct {
	TablesProcessed     int        `json:"tables_processed"`
	TablesTotal         int        `json:"tables_total"`
	RecordsMigrated     int64      `json:"records_migrated"`
	RecordsTotal        int64      `json:"records_total"`
	ElapsedSeconds      float64    `json:"elapsed_seconds"`
	Throughput          float64    `json:"throughput"` // records/sec
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
	ErrorCount          int        `json:"error_count"`
	WarningCount        int        `json:"warning_count"`
	FailedCheckpoints   int        `json:"failed_checkpoints"`
}

// refresh recomputes the time-derived fields.
func (m *Metrics) refresh(start, now time.Time) {
	elapsed := now.Sub(start).Seconds()
	m.ElapsedSeconds = elapsed
	m.Throughput = 0
	m.EstimatedCompletion = nil
	if elapsed <= 0 {
		return
	}
	m.Throughput = float64(m.RecordsMigrated) / elapsed
	if m.Throughput > 0 && m.RecordsTotal > m.RecordsMigrated {
		remaining := float64(m.RecordsTotal-m.RecordsMigrated) / m.Throughput
		eta := now.Add(time.Duration(remaining * float64(time.Second)))
		m.EstimatedCompletion = &eta
	}
}

// ProgressPct returns the share of records migrated, 100 when there is nothing to migrate.
func (m *Metrics) ProgressPct() float64 {
	if m.RecordsTotal == 0 {
		return 100
	}
	return float64(m.RecordsMigrated) / float64(m.RecordsTotal) * 100
}

// Result statuses.
const (
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusRolledBack = "rolled_back"
)

// TableResult is the per-table outcome recorded in the run summary.
type TableResult struct {
	Name       string             `json:"name"`
	Transfer   *transfer.Progress `json:"transfer,omitempty"`
	Validation *validate.Result   `json:"validation,omitempty"`
	Backup     string             `json:"backup_table,omitempty"`
	Warnings   []string           `json:"warnings,omitempty"`
}

// Result is the final outcome of a run and the content of summary.json.
type Result struct {
	RunID          string                  `json:"run_id"`
	Status         string                  `json:"status"`
	StartedAt      time.Time               `json:"started_at"`
	CompletedAt    time.Time               `json:"completed_at"`
	Checkpoints    []checkpoint.Checkpoint `json:"checkpoints"`
	Metrics        Metrics                 `json:"metrics"`
	Tables         []TableResult           `json:"tables"`
	Stage          Stage                   `json:"current_stage"`
	RunDir         string                  `json:"run_dir"`
	Error          string                  `json:"error,omitempty"`
	RollbackReason string                  `json:"rollback_reason,omitempty"`
}

// Duration returns the wall-clock length of the run.
func (r *Result) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// Snapshot is a consistent copy of a job's state for monitors.
type Snapshot struct {
	Job
	CurrentTable string        `json:"current_table,omitempty"`
	Metrics      Metrics       `json:"metrics"`
	Tables       []TableResult `json:"tables"`
}
