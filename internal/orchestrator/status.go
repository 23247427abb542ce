package orchestrator

import (
	"fmt"
	"io"
	"time"

	"github.com/johndauphine/sqlite-server-migrate/internal/checkpoint"
)

// ShowStatus displays the most recent run.
func ShowStatus(w io.Writer, h *checkpoint.History) error {
	runs, err := h.GetAllRuns(1)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No migration runs")
		return nil
	}
	r := runs[0]
	if r.Status == "running" {
		fmt.Fprintf(w, "Run: %s\n", r.ID)
		fmt.Fprintf(w, "Status: running (%s)\n", r.Stage)
		fmt.Fprintf(w, "Started: %s\n", r.StartedAt.Format(time.RFC3339))
		fmt.Fprintf(w, "Tables: %d processed, %d records\n", r.TablesProcessed, r.RecordsMigrated)
		fmt.Fprintln(w, "A run that is no longer executing was interrupted; its target tables may need 'restore'.")
		return nil
	}
	return ShowRunDetails(w, h, r.ID)
}

// ShowHistory displays recent migration runs, newest first.
func ShowHistory(w io.Writer, h *checkpoint.History, limit int) error {
	runs, err := h.GetAllRuns(limit)
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Fprintln(w, "No migration history")
		return nil
	}

	fmt.Fprintf(w, "%-10s %-20s %-20s %-12s %-24s %-30s\n", "ID", "Started", "Completed", "Status", "Stage", "Target")
	fmt.Fprintln(w, "-------------------------------------------------------------------------------------------------------------------")

	for _, r := range runs {
		completed := "-"
		if r.CompletedAt != nil {
			completed = r.CompletedAt.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%-10s %-20s %-20s %-12s %-24s %-30s\n",
			r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), completed, r.Status, r.Stage, r.Target)
		if r.Error != "" {
			fmt.Fprintf(w, "           Error: %s\n", r.Error)
		}
	}

	fmt.Fprintln(w, "\nUse 'history --run <ID>' to view run details")
	return nil
}

// ShowRunDetails displays one run with its tables and checkpoint trail.
func ShowRunDetails(w io.Writer, h *checkpoint.History, runID string) error {
	run, err := h.GetRun(runID)
	if err != nil {
		return fmt.Errorf("getting run: %w", err)
	}

	fmt.Fprintf(w, "Run ID:        %s\n", run.ID)
	fmt.Fprintf(w, "Status:        %s\n", run.Status)
	fmt.Fprintf(w, "Stage:         %s\n", run.Stage)
	if run.Error != "" {
		fmt.Fprintf(w, "Error:         %s\n", run.Error)
	}
	fmt.Fprintf(w, "Started:       %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if run.CompletedAt != nil {
		fmt.Fprintf(w, "Completed:     %s\n", run.CompletedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Fprintf(w, "Duration:      %s\n", run.CompletedAt.Sub(run.StartedAt).Round(time.Second))
	}
	fmt.Fprintf(w, "Source:        %s\n", run.Source)
	fmt.Fprintf(w, "Target:        %s\n", run.Target)
	fmt.Fprintf(w, "Run dir:       %s\n", run.RunDir)
	fmt.Fprintf(w, "Tables:        %d processed, %d records\n", run.TablesProcessed, run.RecordsMigrated)

	tables, err := h.GetTables(run.ID)
	if err != nil {
		return err
	}
	if len(tables) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%-30s %-10s %-20s %s\n", "Table", "Status", "Rows", "Error")
		for _, t := range tables {
			statusIcon := "○"
			switch t.Status {
			case "completed":
				statusIcon = "✓"
			case "failed":
				statusIcon = "✗"
			case "in_progress":
				statusIcon = "►"
			}
			fmt.Fprintf(w, "%-30s %s %-8s %-20s %s\n",
				t.Table, statusIcon, t.Status, fmt.Sprintf("%d/%d", t.Rows, t.Total), t.Error)
		}
	}

	if run.RunDir == "" {
		return nil
	}
	cps, err := checkpoint.Load(run.RunDir)
	if err != nil {
		fmt.Fprintf(w, "\nCheckpoints unavailable: %v\n", err)
		return nil
	}
	if len(cps) > 0 {
		fmt.Fprintln(w, "\nCheckpoints:")
		for _, cp := range cps {
			line := fmt.Sprintf("  %s %-24s %s", cp.Timestamp.Local().Format("15:04:05.000"), cp.Stage, cp.Status)
			if cp.ErrorMessage != nil {
				line += ": " + *cp.ErrorMessage
			}
			fmt.Fprintln(w, line)
		}
	}
	return nil
}
