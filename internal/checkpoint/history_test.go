package checkpoint

import (
	"database/sql"
	"errors"
	"testing"
	"time"
)

func TestCleanupOldRuns(t *testing.T) {
	h, err := OpenHistory(t.TempDir())
	if err != nil {
		t.Fatalf("OpenHistory() error: %v", err)
	}
	defer h.Close()

	oldSuccess := "old-success"
	oldFailed := "old-failed"
	recentSuccess := "recent-success"
	running := "running"

	for _, runID := range []string{oldSuccess, oldFailed, recentSuccess, running} {
		if err := h.StartRun(Run{ID: runID, Stage: "preparation", Source: "a.db", Target: "mysql:x", RunDir: "/tmp/" + runID}); err != nil {
			t.Fatalf("StartRun(%s) error: %v", runID, err)
		}
		if err := h.RecordTable(runID, TableRecord{Table: "users", Status: "completed", Rows: 3, Total: 3}); err != nil {
			t.Fatalf("RecordTable(%s) error: %v", runID, err)
		}
	}

	if err := h.CompleteRun(oldSuccess, "completed", "completed", 1, 3, ""); err != nil {
		t.Fatalf("CompleteRun(%s) error: %v", oldSuccess, err)
	}
	if err := h.CompleteRun(oldFailed, "failed", "failed", 0, 0, "boom"); err != nil {
		t.Fatalf("CompleteRun(%s) error: %v", oldFailed, err)
	}
	if err := h.CompleteRun(recentSuccess, "completed", "completed", 1, 3, ""); err != nil {
		t.Fatalf("CompleteRun(%s) error: %v", recentSuccess, err)
	}

	oldTime := time.Now().UTC().AddDate(0, 0, -31).Format(time.RFC3339Nano)
	if _, err := h.db.Exec(`UPDATE runs SET completed_at = ? WHERE id IN (?, ?)`, oldTime, oldSuccess, oldFailed); err != nil {
		t.Fatalf("update old completed_at error: %v", err)
	}

	deleted, err := h.CleanupOldRuns(30)
	if err != nil {
		t.Fatalf("CleanupOldRuns error: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted runs = %d, want 2", deleted)
	}

	if got := countRows(t, h.db, `SELECT COUNT(*) FROM runs`); got != 2 {
		t.Fatalf("runs remaining = %d, want 2", got)
	}
	if got := countRows(t, h.db, `SELECT COUNT(*) FROM runs WHERE id = ?`, running); got != 1 {
		t.Fatalf("running run missing after cleanup")
	}
	if got := countRows(t, h.db, `SELECT COUNT(*) FROM run_tables`); got != 2 {
		t.Fatalf("run_tables remaining = %d, want 2", got)
	}
}

func countRows(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var count int
	if err := db.QueryRow(query, args...).Scan(&count); err != nil {
		t.Fatalf("count query error: %v", err)
	}
	return count
}

func TestRunLifecycle(t *testing.T) {
	h, err := OpenHistory(t.TempDir())
	if err != nil {
		t.Fatalf("OpenHistory() error: %v", err)
	}
	defer h.Close()

	if err := h.StartRun(Run{ID: "abc12345", Stage: "preparation", Source: "shop.db", Target: "mysql:db:3306/shop"}); err != nil {
		t.Fatalf("StartRun() error: %v", err)
	}
	if err := h.UpdateStage("abc12345", "initial_data_sync"); err != nil {
		t.Fatalf("UpdateStage() error: %v", err)
	}

	r, err := h.GetRun("abc12345")
	if err != nil {
		t.Fatalf("GetRun() error: %v", err)
	}
	if r.Status != "running" || r.Stage != "initial_data_sync" || r.CompletedAt != nil {
		t.Errorf("running run = %+v", r)
	}

	if err := h.RecordTable("abc12345", TableRecord{Table: "users", Status: "in_progress", Rows: 1, Total: 3}); err != nil {
		t.Fatalf("RecordTable() error: %v", err)
	}
	if err := h.RecordTable("abc12345", TableRecord{Table: "users", Status: "completed", Rows: 3, Total: 3, Checksum: "ff"}); err != nil {
		t.Fatalf("RecordTable() upsert error: %v", err)
	}
	if err := h.CompleteRun("abc12345", "rolled_back", "failed", 1, 3, "max errors reached"); err != nil {
		t.Fatalf("CompleteRun() error: %v", err)
	}

	r, err = h.GetRun("abc12345")
	if err != nil {
		t.Fatalf("GetRun() error: %v", err)
	}
	if r.Status != "rolled_back" || r.Stage != "failed" || r.Error != "max errors reached" {
		t.Errorf("finished run = %+v", r)
	}
	if r.CompletedAt == nil || r.RecordsMigrated != 3 || r.TablesProcessed != 1 {
		t.Errorf("finished run totals = %+v", r)
	}

	tables, err := h.GetTables("abc12345")
	if err != nil {
		t.Fatalf("GetTables() error: %v", err)
	}
	if len(tables) != 1 || tables[0].Status != "completed" || tables[0].Checksum != "ff" {
		t.Errorf("tables = %+v", tables)
	}

	runs, err := h.GetAllRuns(0)
	if err != nil {
		t.Fatalf("GetAllRuns() error: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("GetAllRuns() = %d runs, want 1", len(runs))
	}

	if _, err := h.GetRun("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun(missing) error = %v, want ErrRunNotFound", err)
	}
}
