package progress

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/johndauphine/sqlite-server-migrate/internal/logging"
)

// Update is one JSON progress line for automation.
type Update struct {
	Timestamp           string  `json:"timestamp"`
	RunID               string  `json:"run_id"`
	Stage               string  `json:"stage"`
	TablesProcessed     int     `json:"tables_processed"`
	TablesTotal         int     `json:"tables_total"`
	RecordsMigrated     int64   `json:"records_migrated"`
	RecordsTotal        int64   `json:"records_total,omitempty"`
	ProgressPct         float64 `json:"progress_pct"`
	RecordsPerSecond    float64 `json:"records_per_second,omitempty"`
	EstimatedCompletion string  `json:"estimated_completion,omitempty"`
	CurrentTable        string  `json:"current_table,omitempty"`
	ErrorCount          int     `json:"error_count,omitempty"`
	WarningCount        int     `json:"warning_count,omitempty"`
}

// Reporter emits progress updates.
type Reporter interface {
	// Report emits an update unless one was emitted within the throttle interval.
	Report(update Update)
	// ReportImmediate emits an update regardless of throttling, for stage changes.
	ReportImmediate(update Update)
	Close()
}

// JSONReporter writes one JSON object per line.
type JSONReporter struct {
	writer     io.Writer
	mu         sync.Mutex
	interval   time.Duration
	lastReport time.Time
	closed     bool
}

// NewJSONReporter creates a JSON reporter writing to writer (stderr if nil)
// at most once per interval.
func NewJSONReporter(writer io.Writer, interval time.Duration) *JSONReporter {
	if writer == nil {
		writer = os.Stderr
	}
	return &JSONReporter{writer: writer, interval: interval}
}

// Report emits a throttled update.
func (r *JSONReporter) Report(update Update) {
	r.emit(update, false)
}

// ReportImmediate emits an update now.
func (r *JSONReporter) ReportImmediate(update Update) {
	r.emit(update, true)
}

func (r *JSONReporter) emit(update Update, force bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	now := time.Now()
	if !force && r.interval > 0 && now.Sub(r.lastReport) < r.interval {
		return
	}
	if update.Timestamp == "" {
		update.Timestamp = now.UTC().Format(time.RFC3339)
	}

	data, err := json.Marshal(update)
	if err != nil {
		logging.Warn("Failed to marshal progress update: %v", err)
		return
	}
	fmt.Fprintln(r.writer, string(data))
	r.lastReport = now
}

// Close stops further output.
func (r *JSONReporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

// LogReporter writes updates through the logger at info level.
type LogReporter struct {
	mu         sync.Mutex
	interval   time.Duration
	lastReport time.Time
}

// NewLogReporter creates a LogReporter throttled to one line per interval.
func NewLogReporter(interval time.Duration) *LogReporter {
	return &LogReporter{interval: interval}
}

// Report logs a throttled update.
func (r *LogReporter) Report(update Update) {
	r.mu.Lock()
	if r.interval > 0 && time.Since(r.lastReport) < r.interval {
		r.mu.Unlock()
		return
	}
	r.lastReport = time.Now()
	r.mu.Unlock()
	r.log(update)
}

// ReportImmediate logs an update now.
func (r *LogReporter) ReportImmediate(update Update) {
	r.mu.Lock()
	r.lastReport = time.Now()
	r.mu.Unlock()
	r.log(update)
}

func (r *LogReporter) log(u Update) {
	logging.Info("[%s] %s: %d/%d tables, %d/%d records (%.1f%%), %.0f rec/s, errors=%d",
		u.RunID, u.Stage, u.TablesProcessed, u.TablesTotal, u.RecordsMigrated, u.RecordsTotal,
		u.ProgressPct, u.RecordsPerSecond, u.ErrorCount)
}

// Close does nothing.
func (r *LogReporter) Close() {}

// NullReporter discards updates.
type NullReporter struct{}

func (NullReporter) Report(Update)          {}
func (NullReporter) ReportImmediate(Update) {}
func (NullReporter) Close()                 {}
