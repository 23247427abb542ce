package checkpoint

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned when no run has the requested ID.
var ErrRunNotFound = errors.New("run not found")

// History records every run in <data_dir>/history.db.
type History struct {
	db *sql.DB
}

// Run is one row of the runs table.
type Run struct {
	ID              string     `json:"id"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Status          string     `json:"status"`
	Stage           string     `json:"stage"`
	Source          string     `json:"source"`
	Target          string     `json:"target"`
	RunDir          string     `json:"run_dir"`
	TablesProcessed int        `json:"tables_processed"`
	RecordsMigrated int64      `json:"records_migrated"`
	Error           string     `json:"error,omitempty"`
}

// TableRecord is the outcome of one table in a run.
type TableRecord struct {
	Table    string `json:"table"`
	Status   string `json:"status"`
	Rows     int64  `json:"rows"`
	Total    int64  `json:"total"`
	Checksum string `json:"checksum,omitempty"`
	Error    string `json:"error,omitempty"`
}

// OpenHistory opens (creating if needed) the history database in dataDir.
func OpenHistory(dataDir string) (*History, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "history.db")
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	h := &History{db: db}
	if err := h.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return h, nil
}

func (h *History) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		status TEXT NOT NULL DEFAULT 'running',
		stage TEXT NOT NULL DEFAULT 'preparation',
		source TEXT NOT NULL,
		target TEXT NOT NULL,
		run_dir TEXT NOT NULL,
		tables_processed INTEGER NOT NULL DEFAULT 0,
		records_migrated INTEGER NOT NULL DEFAULT 0,
		error_message TEXT
	);

	CREATE TABLE IF NOT EXISTS run_tables (
		run_id TEXT NOT NULL REFERENCES runs(id),
		table_name TEXT NOT NULL,
		status TEXT NOT NULL,
		rows_done INTEGER NOT NULL DEFAULT 0,
		rows_total INTEGER NOT NULL DEFAULT 0,
		checksum TEXT,
		error_message TEXT,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (run_id, table_name)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := h.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (h *History) Close() error {
	return h.db.Close()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// StartRun records a new running run.
func (h *History) StartRun(r Run) error {
	started := r.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	_, err := h.db.Exec(`
		INSERT INTO runs (id, started_at, status, stage, source, target, run_dir)
		VALUES (?, ?, 'running', ?, ?, ?, ?)
	`, r.ID, started.UTC().Format(time.RFC3339Nano), r.Stage, r.Source, r.Target, r.RunDir)
	return err
}

// UpdateStage records the stage a run has reached.
func (h *History) UpdateStage(id, stage string) error {
	_, err := h.db.Exec(`UPDATE runs SET stage = ? WHERE id = ?`, stage, id)
	return err
}

// CompleteRun marks a run as finished with the given status.
func (h *History) CompleteRun(id, status, stage string, tables int, records int64, errMsg string) error {
	_, err := h.db.Exec(`
		UPDATE runs SET status = ?, stage = ?, completed_at = ?,
			tables_processed = ?, records_migrated = ?, error_message = ?
		WHERE id = ?
	`, status, stage, now(), tables, records, nullIfEmpty(errMsg), id)
	return err
}

// RecordTable stores the latest outcome of one table of a run.
func (h *History) RecordTable(runID string, t TableRecord) error {
	_, err := h.db.Exec(`
		INSERT INTO run_tables (run_id, table_name, status, rows_done, rows_total, checksum, error_message, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, table_name) DO UPDATE SET
			status = excluded.status,
			rows_done = excluded.rows_done,
			rows_total = excluded.rows_total,
			checksum = excluded.checksum,
			error_message = excluded.error_message,
			updated_at = excluded.updated_at
	`, runID, t.Table, t.Status, t.Rows, t.Total, nullIfEmpty(t.Checksum), nullIfEmpty(t.Error), now())
	return err
}

// GetTables returns the table outcomes recorded for a run, by table name.
func (h *History) GetTables(runID string) ([]TableRecord, error) {
	rows, err := h.db.Query(`
		SELECT table_name, status, rows_done, rows_total, checksum, error_message
		FROM run_tables WHERE run_id = ? ORDER BY table_name
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TableRecord
	for rows.Next() {
		var t TableRecord
		var checksum, errMsg sql.NullString
		if err := rows.Scan(&t.Table, &t.Status, &t.Rows, &t.Total, &checksum, &errMsg); err != nil {
			return nil, err
		}
		t.Checksum, t.Error = checksum.String, errMsg.String
		out = append(out, t)
	}
	return out, rows.Err()
}

const runColumns = `id, started_at, completed_at, status, stage, source, target, run_dir,
	tables_processed, records_migrated, error_message`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var r Run
	var startedAt string
	var completedAt, errMsg sql.NullString
	if err := s.Scan(&r.ID, &startedAt, &completedAt, &r.Status, &r.Stage, &r.Source, &r.Target,
		&r.RunDir, &r.TablesProcessed, &r.RecordsMigrated, &errMsg); err != nil {
		return r, err
	}
	r.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, completedAt.String)
		r.CompletedAt = &t
	}
	r.Error = errMsg.String
	return r, nil
}

// GetRun returns one run.
func (h *History) GetRun(id string) (*Run, error) {
	r, err := scanRun(h.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetAllRuns returns the most recent runs, newest first.
func (h *History) GetAllRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := h.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// CleanupOldRuns deletes finished runs completed more than days ago and
// returns how many were removed. Running runs are never deleted.
func (h *History) CleanupOldRuns(days int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339Nano)

	tx, err := h.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM run_tables WHERE run_id IN (
			SELECT id FROM runs WHERE status != 'running' AND completed_at < ?)
	`, cutoff); err != nil {
		return 0, err
	}
	res, err := tx.Exec(`DELETE FROM runs WHERE status != 'running' AND completed_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), tx.Commit()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
