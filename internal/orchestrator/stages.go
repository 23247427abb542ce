package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/johndauphine/sqlite-server-migrate/internal/checkpoint"
	"github.com/johndauphine/sqlite-server-migrate/internal/logging"
	"github.com/johndauphine/sqlite-server-migrate/internal/migerr"
	"github.com/johndauphine/sqlite-server-migrate/internal/rollback"
	"github.com/johndauphine/sqlite-server-migrate/internal/source"
	"github.com/johndauphine/sqlite-server-migrate/internal/transfer"
)

// prepare checks both engines, selects and orders the tables, and counts
// the records to migrate.
func (o *Orchestrator) prepare(ctx context.Context) (map[string]any, error) {
	health, err := o.HealthCheck(ctx)
	if err != nil {
		o.recordError(err)
		return nil, err
	}
	results := map[string]any{"health": health}
	if !health.Healthy {
		err := health.Err()
		o.recordError(err)
		return results, err
	}

	names, err := o.src.Tables(ctx)
	if err != nil {
		o.recordError(err)
		return results, err
	}
	names = filterTables(names, o.cfg.Migration.IncludeTables, o.cfg.Migration.ExcludeTables)
	if len(names) == 0 {
		return results, errors.New("no tables to migrate after applying filters")
	}

	loaded := make([]*source.Table, 0, len(names))
	for _, name := range names {
		t, err := o.src.LoadTable(ctx, name)
		if err != nil {
			o.recordError(err)
			return results, err
		}
		loaded = append(loaded, t)
	}
	if o.loaded, err = orderTables(loaded); err != nil {
		o.recordError(err)
		return results, err
	}

	order := make([]string, len(o.loaded))
	var total int64
	o.mu.Lock()
	for i, t := range o.loaded {
		order[i] = t.Name
		total += t.RowCount
		o.tables[t.Name] = &TableResult{Name: t.Name}
	}
	o.order = order
	o.metrics.TablesTotal = len(order)
	o.metrics.RecordsTotal = total
	o.mu.Unlock()

	logging.Info("Found %d tables, %d records: %s", len(order), total, strings.Join(order, ", "))
	if o.tracker != nil {
		o.tracker.SetTotal(total)
	}
	o.notifyErr(o.notifier.MigrationStarted(o.job.ID, o.cfg.Source.Path, o.cfg.Target.Describe(), len(order)))

	results["tables"] = order
	results["records_total"] = total
	return results, nil
}

// syncSchema provisions every target table and, when enabled, takes a
// rollback point of it before any data is written.
func (o *Orchestrator) syncSchema(ctx context.Context) (map[string]any, error) {
	perTable := make(map[string]any, len(o.loaded))
	var failed []string

	for _, t := range o.loaded {
		if err := ctx.Err(); err != nil {
			return map[string]any{"tables": perTable}, err
		}
		entry := map[string]any{"columns": len(t.Columns)}
		perTable[t.Name] = entry

		warnings, err := o.provisioner.Provision(ctx, t.Name, t.Columns)
		if len(warnings) > 0 {
			o.recordWarnings(len(warnings))
			entry["warnings"] = warnings
			for _, w := range warnings {
				logging.Warn("%s: %s", t.Name, w)
			}
		}
		if err != nil {
			o.recordError(err)
			entry["error"] = err.Error()
			failed = append(failed, t.Name)
			continue
		}

		var backup string
		if o.cfg.Migration.RollbackEnabled() {
			p, err := o.rollbacks.CreatePoint(ctx, t.Name)
			if err != nil {
				o.recordError(err)
				entry["error"] = err.Error()
				failed = append(failed, t.Name)
				continue
			}
			backup = p.BackupTable
			entry["backup_table"] = backup
		}

		o.mu.Lock()
		if tr, ok := o.tables[t.Name]; ok {
			tr.Warnings = warnings
			tr.Backup = backup
		}
		o.mu.Unlock()
	}

	results := map[string]any{"tables": perTable}
	if len(failed) > 0 {
		return results, fmt.Errorf("schema sync failed for %d tables: %s", len(failed), strings.Join(failed, ", "))
	}
	return results, nil
}

// syncData copies every table in order. A failed table is counted and the
// next one attempted; the stage fails if any table failed.
func (o *Orchestrator) syncData(ctx context.Context) (map[string]any, error) {
	perTable := make(map[string]any, len(o.loaded))
	results := map[string]any{"tables": perTable}
	var failed []string

	for _, t := range o.loaded {
		if err := o.rollbackTrigger(); err != nil {
			return results, err
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}

		prog, err := o.migrate(ctx, t.Name, 0)
		perTable[t.Name] = progressResult(prog)
		if err != nil {
			failed = append(failed, t.Name)
			continue
		}
		logging.Info("%-30s %d rows (%s)", t.Name, prog.MigratedRecords, prog.Stats.String())
	}

	if len(failed) > 0 {
		return results, fmt.Errorf("data sync failed for %d tables: %s", len(failed), strings.Join(failed, ", "))
	}
	return results, nil
}

// migrate transfers table from offset, folding the outcome into the run
// metrics and per-table result.
func (o *Orchestrator) migrate(ctx context.Context, table string, offset int64) (*transfer.Progress, error) {
	o.mu.Lock()
	o.current = table
	o.base = o.metrics.RecordsMigrated
	o.mu.Unlock()

	prog, err := o.migrator.MigrateFrom(ctx, table, offset, o.cfg.Migration.BatchSize)

	o.mu.Lock()
	o.metrics.RecordsMigrated = o.base + prog.MigratedRecords
	tr := o.tables[table]
	first := tr.Transfer == nil
	if first {
		tr.Transfer = prog
	} else {
		tr.Transfer = mergeProgress(tr.Transfer, prog)
	}
	if err == nil && first {
		o.metrics.TablesProcessed++
	}
	o.current = ""
	o.mu.Unlock()

	if err != nil {
		o.recordError(err)
		o.notifyErr(o.notifier.TableTransferFailed(o.job.ID, table, err))
	}
	if o.history != nil {
		snapshot := o.tableSnapshot(table)
		rec := checkpoint.TableRecord{
			Table:    table,
			Status:   string(snapshot.Status),
			Rows:     snapshot.MigratedRecords,
			Total:    snapshot.TotalRecords,
			Checksum: snapshot.Checksum,
			Error:    snapshot.Error,
		}
		if herr := o.history.RecordTable(o.job.ID, rec); herr != nil {
			logging.Warn("Recording %s in history: %v", table, herr)
		}
	}
	return prog, err
}

func (o *Orchestrator) tableSnapshot(table string) transfer.Progress {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if tr, ok := o.tables[table]; ok && tr.Transfer != nil {
		return *tr.Transfer
	}
	return transfer.Progress{Table: table}
}

// mergeProgress folds a catch-up transfer into the initial one.
func mergeProgress(prev, next *transfer.Progress) *transfer.Progress {
	merged := *prev
	merged.TotalRecords += next.TotalRecords
	merged.MigratedRecords += next.MigratedRecords
	merged.EndTime = next.EndTime
	merged.Status = next.Status
	merged.Error = next.Error
	merged.Stats.QueryTime += next.Stats.QueryTime
	merged.Stats.WriteTime += next.Stats.WriteTime
	merged.Stats.Batches += next.Stats.Batches
	merged.Stats.Rows += next.Stats.Rows
	if next.Checksum != "" && next.MigratedRecords > 0 {
		merged.Checksum = prev.Checksum + "+" + next.Checksum
	}
	return &merged
}

func progressResult(p *transfer.Progress) map[string]any {
	r := map[string]any{
		"status":   p.Status,
		"migrated": p.MigratedRecords,
		"total":    p.TotalRecords,
		"checksum": p.Checksum,
	}
	if p.Error != "" {
		r["error"] = p.Error
	}
	return r
}

// syncIncremental appends rows added to the source since the initial copy.
// Tables are assumed append-only: rows beyond the copied offset in key
// order are the new ones.
func (o *Orchestrator) syncIncremental(ctx context.Context) (map[string]any, error) {
	if !o.cfg.Migration.IncrementalSync {
		return map[string]any{"skipped": true}, nil
	}

	perTable := make(map[string]any, len(o.loaded))
	results := map[string]any{"tables": perTable}
	var failed []string

	for _, t := range o.loaded {
		if err := o.rollbackTrigger(); err != nil {
			return results, err
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}

		copied := o.tableSnapshot(t.Name).MigratedRecords
		count, err := o.src.RowCount(ctx, t.Name)
		if err != nil {
			o.recordError(err)
			failed = append(failed, t.Name)
			perTable[t.Name] = map[string]any{"error": err.Error()}
			continue
		}
		if count <= copied {
			perTable[t.Name] = map[string]any{"appended": 0}
			continue
		}

		o.mu.Lock()
		o.metrics.RecordsTotal += count - copied
		o.mu.Unlock()

		prog, err := o.migrate(ctx, t.Name, copied)
		entry := progressResult(prog)
		entry["appended"] = prog.MigratedRecords
		perTable[t.Name] = entry
		if err != nil {
			failed = append(failed, t.Name)
			continue
		}
		logging.Info("%-30s +%d rows", t.Name, prog.MigratedRecords)
	}

	if len(failed) > 0 {
		return results, fmt.Errorf("incremental sync failed for %d tables: %s", len(failed), strings.Join(failed, ", "))
	}
	return results, nil
}

// validateTables compares every target table with its source. Each invalid
// table gets a failed checkpoint of its own and counts as an error.
func (o *Orchestrator) validateTables(ctx context.Context) (map[string]any, error) {
	perTable := make(map[string]any, len(o.loaded))
	results := map[string]any{"tables": perTable}
	var invalid []string

	for _, t := range o.loaded {
		if err := o.stopRequested(); err != nil {
			return results, err
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res, err := o.validator.Validate(ctx, t.Name)
		if err != nil {
			o.recordError(err)
			perTable[t.Name] = map[string]any{"error": err.Error()}
			invalid = append(invalid, t.Name)
			o.saveCheckpoint(StageValidation.String(), checkpoint.StatusFailed, map[string]any{"table": t.Name}, err)
			continue
		}

		if o.cfg.Migration.SampleValidation && res.IsValid {
			mismatches, err := o.validator.CompareSample(ctx, t.Name, o.cfg.Migration.SampleSize)
			if err != nil {
				logging.Warn("Sample validation of %s: %v", t.Name, err)
				o.recordWarnings(1)
			} else if len(mismatches) > 0 {
				res.FieldMismatches = mismatches
				res.IsValid = false
				logging.Error("%-30s FAIL %d sampled fields differ", t.Name, len(mismatches))
			}
		}

		perTable[t.Name] = res
		o.mu.Lock()
		o.tables[t.Name].Validation = res
		o.mu.Unlock()

		if !res.IsValid {
			err := res.Err()
			if len(res.FieldMismatches) > 0 {
				err = fmt.Errorf("%w: %d sampled fields differ", err, len(res.FieldMismatches))
			}
			o.recordError(err)
			invalid = append(invalid, t.Name)
			o.saveCheckpoint(StageValidation.String(), checkpoint.StatusFailed, map[string]any{"table": res}, err)
		}
	}

	if len(invalid) == 0 {
		return results, nil
	}
	results["invalid_tables"] = invalid
	logging.Warn("Validation failed for %d tables: %s", len(invalid), strings.Join(invalid, ", "))
	// Invalid tables alone do not fail the stage; the rollback policy
	// decides, and cutover preparation re-counts before any switch.
	if err := o.rollbackTrigger(); err != nil {
		return results, err
	}
	return results, nil
}

// prepareCutover refuses to cut over while any rollback condition holds and
// re-counts both sides.
func (o *Orchestrator) prepareCutover(ctx context.Context) (map[string]any, error) {
	if err := o.rollbackTrigger(); err != nil {
		return nil, err
	}
	counts, err := o.compareCounts(ctx)
	if err != nil {
		o.recordError(err)
	}
	return map[string]any{"counts": counts}, err
}

// cutover runs the writer hooks around a final count check.
func (o *Orchestrator) cutover(ctx context.Context) (map[string]any, error) {
	var counts map[string]any
	err := o.hooks.Execute(ctx, func(ctx context.Context) error {
		var err error
		counts, err = o.compareCounts(ctx)
		return err
	})
	results := map[string]any{
		"counts": counts,
		"hooks": map[string]bool{
			"stop_writers":   o.hooks.StopWriters != "",
			"switch_config":  o.hooks.SwitchConfig != "",
			"resume_writers": o.hooks.ResumeWriters != "",
		},
	}
	if err != nil {
		o.recordError(err)
	}
	return results, err
}

// validateAfterCutover repeats the count check once traffic has moved.
func (o *Orchestrator) validateAfterCutover(ctx context.Context) (map[string]any, error) {
	counts, err := o.compareCounts(ctx)
	if err != nil {
		o.recordError(err)
	}
	return map[string]any{"counts": counts}, err
}

// compareCounts checks that every table has as many rows in the target as
// in the source.
func (o *Orchestrator) compareCounts(ctx context.Context) (map[string]any, error) {
	counts := make(map[string]any, len(o.loaded))
	var errs []error
	for _, t := range o.loaded {
		src, err := o.src.RowCount(ctx, t.Name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		tgt, err := o.tgt.RowCount(ctx, t.Name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		counts[t.Name] = map[string]int64{"source": src, "target": tgt}
		if src != tgt {
			errs = append(errs, &migerr.ValidationFailure{Table: t.Name, SourceCount: src, TargetCount: tgt})
		}
	}
	return counts, errors.Join(errs...)
}

// cleanup drops the rollback points. A backup that cannot be dropped is a
// warning: the migration itself has succeeded.
func (o *Orchestrator) cleanup(ctx context.Context) (map[string]any, error) {
	points := lo.Map(o.rollbacks.Points(), func(p rollback.Point, _ int) string { return p.BackupTable })
	results := map[string]any{"dropped_backups": points}
	if err := o.rollbacks.CleanupAll(ctx); err != nil {
		o.recordWarnings(1)
		results["warning"] = err.Error()
	}
	return results, nil
}
