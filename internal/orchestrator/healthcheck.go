package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/johndauphine/sqlite-server-migrate/internal/logging"
	"github.com/johndauphine/sqlite-server-migrate/internal/migerr"
	"github.com/johndauphine/sqlite-server-migrate/internal/source"
)

// HealthCheckResult reports connectivity to both engines.
type HealthCheckResult struct {
	Timestamp        string `json:"timestamp"`
	SourceDBType     string `json:"source_db_type"`
	TargetDBType     string `json:"target_db_type"`
	SourceConnected  bool   `json:"source_connected"`
	TargetConnected  bool   `json:"target_connected"`
	SourceLatencyMs  int64  `json:"source_latency_ms"`
	TargetLatencyMs  int64  `json:"target_latency_ms"`
	SourceTableCount int    `json:"source_table_count"`
	SourceError      string `json:"source_error,omitempty"`
	TargetError      string `json:"target_error,omitempty"`
	Healthy          bool   `json:"healthy"`
}

// Err returns a ConnectionError for each unreachable engine.
func (r *HealthCheckResult) Err() error {
	var errs []error
	if !r.SourceConnected {
		errs = append(errs, &migerr.ConnectionError{Engine: "source", Err: errors.New(r.SourceError)})
	}
	if !r.TargetConnected {
		errs = append(errs, &migerr.ConnectionError{Engine: "target", Err: errors.New(r.TargetError)})
	}
	return errors.Join(errs...)
}

// checkTimeout bounds each engine's check separately, so a slow source does
// not eat into the target's budget.
const checkTimeout = 30 * time.Second

// HealthCheck pings source and target in parallel.
func (o *Orchestrator) HealthCheck(ctx context.Context) (*HealthCheckResult, error) {
	result := &HealthCheckResult{
		Timestamp:    time.Now().Format(time.RFC3339),
		SourceDBType: o.src.DBType(),
		TargetDBType: o.tgt.DBType(),
	}

	var g errgroup.Group
	g.Go(func() error {
		start := time.Now()
		sctx, cancel := context.WithTimeout(ctx, checkTimeout)
		defer cancel()
		if err := o.src.Ping(sctx); err != nil {
			result.SourceError = err.Error()
		} else {
			result.SourceConnected = true
			if tables, err := o.src.Tables(sctx); err == nil {
				result.SourceTableCount = len(tables)
			}
		}
		result.SourceLatencyMs = time.Since(start).Milliseconds()
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		tctx, cancel := context.WithTimeout(ctx, checkTimeout)
		defer cancel()
		if err := o.tgt.Ping(tctx); err != nil {
			result.TargetError = err.Error()
		} else {
			result.TargetConnected = true
		}
		result.TargetLatencyMs = time.Since(start).Milliseconds()
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result.Healthy = result.SourceConnected && result.TargetConnected
	return result, nil
}

// PlanTable describes what a run would do with one table.
type PlanTable struct {
	Name     string   `json:"name"`
	RowCount int64    `json:"row_count"`
	Columns  int      `json:"columns"`
	HasPK    bool     `json:"has_pk"`
	Exists   bool     `json:"exists"`
	DDL      string   `json:"ddl"`
	Warnings []string `json:"warnings,omitempty"`
}

// PlanResult is a migration preview.
type PlanResult struct {
	SourcePath  string      `json:"source_path"`
	Target      string      `json:"target"`
	TargetType  string      `json:"target_type"`
	BatchSize   int         `json:"batch_size"`
	Rollback    bool        `json:"create_rollback"`
	TotalTables int         `json:"total_tables"`
	TotalRows   int64       `json:"total_rows"`
	Tables      []PlanTable `json:"tables"`
}

// Plan previews a run without writing to the target: the tables in the
// order they would be processed, their row counts and the DDL that would
// create them.
func (o *Orchestrator) Plan(ctx context.Context) (*PlanResult, error) {
	logging.Info("Planning migration (no data will be transferred)...")

	names, err := o.src.Tables(ctx)
	if err != nil {
		return nil, err
	}
	names = filterTables(names, o.cfg.Migration.IncludeTables, o.cfg.Migration.ExcludeTables)

	var loaded []*source.Table
	for _, name := range names {
		t, err := o.src.LoadTable(ctx, name)
		if err != nil {
			return nil, err
		}
		loaded = append(loaded, t)
	}
	ordered, err := orderTables(loaded)
	if err != nil {
		return nil, err
	}

	result := &PlanResult{
		SourcePath:  o.cfg.Source.Path,
		Target:      o.cfg.Target.Describe(),
		TargetType:  o.tgt.DBType(),
		BatchSize:   o.cfg.Migration.BatchSize,
		Rollback:    o.cfg.Migration.RollbackEnabled(),
		TotalTables: len(ordered),
	}
	for _, t := range ordered {
		exists, err := o.tgt.TableExists(ctx, t.Name)
		if err != nil {
			return nil, fmt.Errorf("checking target table %s: %w", t.Name, err)
		}
		ddl, warnings := o.provisioner.GenerateDDL(t.Name, t.Columns)
		result.TotalRows += t.RowCount
		result.Tables = append(result.Tables, PlanTable{
			Name:     t.Name,
			RowCount: t.RowCount,
			Columns:  len(t.Columns),
			HasPK:    len(t.PrimaryKey()) > 0,
			Exists:   exists,
			DDL:      ddl,
			Warnings: warnings,
		})
	}
	return result, nil
}
