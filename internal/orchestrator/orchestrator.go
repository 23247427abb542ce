// Package orchestrator drives a staged migration: it sequences introspection,
// provisioning, data transfer, validation and cutover, writes a checkpoint at
// the start and end of every stage, and rolls the target back when the run
// can no longer succeed.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/johndauphine/sqlite-server-migrate/internal/checkpoint"
	"github.com/johndauphine/sqlite-server-migrate/internal/config"
	"github.com/johndauphine/sqlite-server-migrate/internal/cutover"
	"github.com/johndauphine/sqlite-server-migrate/internal/logging"
	"github.com/johndauphine/sqlite-server-migrate/internal/migerr"
	"github.com/johndauphine/sqlite-server-migrate/internal/notify"
	"github.com/johndauphine/sqlite-server-migrate/internal/progress"
	"github.com/johndauphine/sqlite-server-migrate/internal/rollback"
	"github.com/johndauphine/sqlite-server-migrate/internal/source"
	"github.com/johndauphine/sqlite-server-migrate/internal/stats"
	"github.com/johndauphine/sqlite-server-migrate/internal/target"
	"github.com/johndauphine/sqlite-server-migrate/internal/transfer"
	"github.com/johndauphine/sqlite-server-migrate/internal/validate"
)

// Options supplies the optional collaborators of a run.
type Options struct {
	Notifier notify.Provider     // defaults to the Slack notifier from config
	Reporter progress.Reporter   // defaults to NullReporter
	Tracker  *progress.Tracker   // progress bar, nil for none
	History  *checkpoint.History // run history, nil for none
}

// ErrUnknownRun is returned for a run ID the manager does not hold.
var ErrUnknownRun = errors.New("unknown run")

// TriggerError reports why the rollback policy stopped a run. It wraps the
// last error recorded before the trigger fired, if any.
type TriggerError struct {
	Reason string
	Last   error
}

func (e *TriggerError) Error() string {
	if e.Last != nil {
		return e.Reason + ": " + e.Last.Error()
	}
	return e.Reason
}

func (e *TriggerError) Unwrap() error { return e.Last }

// Orchestrator runs one migration job.
type Orchestrator struct {
	cfg         *config.Config
	src         *source.Pool
	tgt         *target.Pool
	provisioner *target.Provisioner
	migrator    *transfer.Migrator
	validator   *validate.Validator
	rollbacks   *rollback.Manager
	hooks       *cutover.Hooks
	store       *checkpoint.Store
	history     *checkpoint.History
	notifier    notify.Provider
	reporter    progress.Reporter
	tracker     *progress.Tracker

	// Control goroutine only.
	loaded  []*source.Table
	closers []func() error

	mu       sync.RWMutex
	job      Job
	metrics  Metrics
	current  string
	base     int64 // records migrated before the table in flight
	order    []string
	tables   map[string]*TableResult
	lastErr  error
	finished *Result
}

// New prepares a run against already-open pools and creates its run
// directory under the configured data dir.
func New(cfg *config.Config, src *source.Pool, tgt *target.Pool, opts Options) (*Orchestrator, error) {
	id := uuid.New().String()[:8]
	runDir := filepath.Join(cfg.Migration.DataDir, "runs", id)
	store, err := checkpoint.NewStore(runDir)
	if err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}

	o := &Orchestrator{
		cfg:         cfg,
		src:         src,
		tgt:         tgt,
		provisioner: target.NewProvisioner(tgt),
		validator:   validate.New(src, tgt, cfg.Migration.ValidationThreshold),
		rollbacks:   rollback.NewManager(tgt),
		hooks:       cutover.FromConfig(&cfg.Cutover, id),
		store:       store,
		history:     opts.History,
		notifier:    opts.Notifier,
		reporter:    opts.Reporter,
		tracker:     opts.Tracker,
		job:         Job{ID: id, RunDir: runDir},
		tables:      make(map[string]*TableResult),
	}
	if o.notifier == nil {
		o.notifier = notify.New(&cfg.Slack)
	}
	if o.reporter == nil {
		o.reporter = progress.NullReporter{}
	}
	o.migrator = transfer.NewMigrator(src, tgt,
		transfer.WithRateLimit(cfg.Migration.MaxBatchesPerSecond),
		transfer.WithProgress(o.onBatch),
	)
	return o, nil
}

// ID returns the run ID.
func (o *Orchestrator) ID() string {
	return o.job.ID
}

// RunDir returns the directory holding the run's checkpoints and summary.
func (o *Orchestrator) RunDir() string {
	return o.job.RunDir
}

// Close releases the connections opened for the run.
func (o *Orchestrator) Close() error {
	var errs []error
	for _, c := range o.closers {
		errs = append(errs, c())
	}
	o.closers = nil
	return errors.Join(errs...)
}

// Run drives every stage in order. On success it returns a completed
// result. When a stage fails or the rollback policy fires, every table
// with a rollback point is restored and the returned error carries the
// cause; the result is returned in both cases.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	o.mu.Lock()
	if !o.job.StartedAt.IsZero() {
		o.mu.Unlock()
		return nil, fmt.Errorf("run %s already started", o.job.ID)
	}
	o.job.StartedAt = time.Now().UTC()
	o.job.IsRunning = true
	o.mu.Unlock()

	logging.Info("Starting migration run: %s", o.job.ID)
	if o.history != nil {
		err := o.history.StartRun(checkpoint.Run{
			ID:     o.job.ID,
			Stage:  StagePreparation.String(),
			Source: o.cfg.Source.Path,
			Target: o.cfg.Target.Describe(),
			RunDir: o.job.RunDir,
		})
		if err != nil {
			logging.Warn("Recording run in history: %v", err)
		}
	}

	pollCtx, stopPoll := context.WithCancel(ctx)
	defer stopPoll()
	go o.poll(pollCtx)

	for _, stage := range workStages {
		if err := o.rollbackTrigger(); err != nil {
			return o.rollback(ctx, err)
		}
		if err := o.runStage(ctx, stage); err != nil {
			return o.rollback(ctx, err)
		}
	}

	o.setStage(StageCompleted)
	res := o.finish(StatusCompleted, nil)
	o.notifyErr(o.notifier.MigrationCompleted(res.RunID, res.StartedAt, res.Duration(),
		res.Metrics.TablesProcessed, res.Metrics.RecordsMigrated, res.Metrics.Throughput))
	logging.Info("Migration %s complete: %d tables, %d records in %s",
		res.RunID, res.Metrics.TablesProcessed, res.Metrics.RecordsMigrated, res.Duration().Round(time.Millisecond))
	return res, nil
}

// Stop asks the run to halt. The table in flight finishes, then the run is
// rolled back.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.job.IsRunning && !o.job.ShouldStop {
		logging.Info("Stop requested for run %s", o.job.ID)
		o.job.ShouldStop = true
	}
}

// ForceRollback makes the run roll back at its next check.
func (o *Orchestrator) ForceRollback(reason string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.job.IsRunning {
		return fmt.Errorf("run %s is not running", o.job.ID)
	}
	if o.job.RollbackTriggered {
		return nil
	}
	if reason == "" {
		reason = "operator request"
	}
	logging.Warn("Rollback requested for run %s: %s", o.job.ID, reason)
	o.job.RollbackTriggered = true
	o.job.RollbackReason = "forced rollback: " + reason
	return nil
}

// Status returns a snapshot of the run.
func (o *Orchestrator) Status() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	m := o.metrics
	if o.job.IsRunning {
		m.refresh(o.job.StartedAt, time.Now())
	}
	return Snapshot{
		Job:          o.job,
		CurrentTable: o.current,
		Metrics:      m,
		Tables:       o.tableResults(),
	}
}

// Result returns the final result once the run has ended.
func (o *Orchestrator) Result() (*Result, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.finished, o.finished != nil
}

// tableResults copies the per-table results in processing order. Callers hold the lock.
func (o *Orchestrator) tableResults() []TableResult {
	out := make([]TableResult, 0, len(o.order))
	for _, name := range o.order {
		if tr, ok := o.tables[name]; ok {
			out = append(out, *tr)
		}
	}
	return out
}

// runStage writes the in_progress checkpoint, performs the stage's work and
// writes its passed or failed checkpoint.
func (o *Orchestrator) runStage(ctx context.Context, stage Stage) error {
	o.setStage(stage)
	logging.Info("Stage %s", stage)
	o.saveCheckpoint(stage.String(), checkpoint.StatusInProgress, nil, nil)

	results, err := o.stageFunc(stage)(ctx)
	if err != nil {
		logging.Error("Stage %s failed: %v", stage, err)
		o.saveCheckpoint(stage.String(), checkpoint.StatusFailed, results, err)
		return err
	}
	o.saveCheckpoint(stage.String(), checkpoint.StatusPassed, results, nil)
	return nil
}

func (o *Orchestrator) stageFunc(stage Stage) func(context.Context) (map[string]any, error) {
	switch stage {
	case StagePreparation:
		return o.prepare
	case StageSchemaSync:
		return o.syncSchema
	case StageInitialDataSync:
		return o.syncData
	case StageIncrementalSync:
		return o.syncIncremental
	case StageValidation:
		return o.validateTables
	case StageCutoverPreparation:
		return o.prepareCutover
	case StageCutover:
		return o.cutover
	case StagePostCutoverValidation:
		return o.validateAfterCutover
	case StageCleanup:
		return o.cleanup
	}
	return func(context.Context) (map[string]any, error) {
		return nil, fmt.Errorf("no work defined for stage %s", stage)
	}
}

// rollbackTrigger returns a TriggerError once the run must be rolled back:
// an operator stop or rollback request, too many errors, too many failed
// checkpoints, or too much time.
func (o *Orchestrator) rollbackTrigger() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.metrics.refresh(o.job.StartedAt, time.Now())

	m := &o.cfg.Migration
	elapsed := time.Duration(o.metrics.ElapsedSeconds * float64(time.Second))
	switch {
	case o.job.RollbackTriggered:
		return &TriggerError{Reason: o.job.RollbackReason, Last: o.lastErr}
	case o.job.ShouldStop:
		return &TriggerError{Reason: "stop requested", Last: migerr.ErrStopped}
	case m.MaxErrors > 0 && o.metrics.ErrorCount >= m.MaxErrors:
		return &TriggerError{
			Reason: fmt.Sprintf("error count %d reached limit %d", o.metrics.ErrorCount, m.MaxErrors),
			Last:   o.lastErr,
		}
	case m.MaxFailedCheckpoints > 0 && o.metrics.FailedCheckpoints >= m.MaxFailedCheckpoints:
		return &TriggerError{
			Reason: fmt.Sprintf("failed checkpoints %d reached limit %d", o.metrics.FailedCheckpoints, m.MaxFailedCheckpoints),
			Last:   o.lastErr,
		}
	case m.MaxMigrationTime > 0 && elapsed > m.MaxMigrationTime:
		return &TriggerError{
			Reason: fmt.Sprintf("elapsed time %s exceeded limit %s", elapsed.Round(time.Second), m.MaxMigrationTime),
			Last:   o.lastErr,
		}
	}
	return nil
}

// stopRequested returns a TriggerError once Stop has been called.
func (o *Orchestrator) stopRequested() error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.job.ShouldStop {
		return &TriggerError{Reason: "stop requested", Last: migerr.ErrStopped}
	}
	return nil
}

// rollback restores every table that has a rollback point and ends the run.
// Restore failures are logged and recorded in the rolled_back checkpoint;
// the returned error is always the cause that triggered the rollback.
func (o *Orchestrator) rollback(ctx context.Context, cause error) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	stage := o.stage()

	reason := fmt.Sprintf("stage %s failed", stage)
	var trig *TriggerError
	if errors.As(cause, &trig) {
		reason = trig.Reason
	}

	o.mu.Lock()
	o.job.RollbackTriggered = true
	o.job.RollbackReason = reason
	o.mu.Unlock()

	if !o.cfg.Migration.RollbackEnabled() {
		logging.Error("Run %s failed (%s); rollback points are disabled, target left as is", o.job.ID, reason)
		o.setStage(StageFailed)
		res := o.finish(StatusFailed, cause)
		o.notifyErr(o.notifier.MigrationFailed(res.RunID, stage.String(), cause, res.Duration()))
		return res, fmt.Errorf("run %s failed: %w", o.job.ID, cause)
	}

	logging.Warn("Rolling back run %s: %s", o.job.ID, reason)
	o.setStage(StageRolledBack)

	var restored []string
	var errs []error
	for _, p := range o.rollbacks.Points() {
		if err := o.rollbacks.Rollback(ctx, p.Table); err != nil {
			if !migerr.Is[*migerr.RollbackError](err) {
				err = &migerr.RollbackError{Table: p.Table, Err: err}
			}
			logging.Error("%v", err)
			errs = append(errs, err)
			continue
		}
		restored = append(restored, p.Table)
	}

	status := checkpoint.StatusPassed
	if len(errs) > 0 {
		status = checkpoint.StatusFailed
	}
	o.saveCheckpoint(StageRolledBack.String(), status, map[string]any{
		"reason":          reason,
		"failed_stage":    stage.String(),
		"restored_tables": restored,
	}, errors.Join(errs...))

	o.setStage(StageFailed)
	res := o.finish(StatusRolledBack, cause)
	o.notifyErr(o.notifier.MigrationRolledBack(res.RunID, reason, restored, res.Duration()))
	return res, fmt.Errorf("run %s rolled back: %w", o.job.ID, cause)
}

// finish records the outcome in the summary and history.
func (o *Orchestrator) finish(status string, cause error) *Result {
	o.mu.Lock()
	now := time.Now().UTC()
	o.metrics.refresh(o.job.StartedAt, now)
	o.metrics.EstimatedCompletion = nil
	o.job.IsRunning = false
	o.current = ""
	res := &Result{
		RunID:          o.job.ID,
		Status:         status,
		StartedAt:      o.job.StartedAt,
		CompletedAt:    now,
		Checkpoints:    o.store.All(),
		Metrics:        o.metrics,
		Tables:         o.tableResults(),
		Stage:          o.job.Stage,
		RunDir:         o.job.RunDir,
		RollbackReason: o.job.RollbackReason,
	}
	if cause != nil {
		res.Error = cause.Error()
	}
	o.finished = res
	o.mu.Unlock()

	if err := checkpoint.WriteSummary(res.RunDir, res); err != nil {
		logging.Error("Writing run summary: %v", err)
	}
	if o.history != nil {
		err := o.history.CompleteRun(res.RunID, status, res.Stage.String(),
			res.Metrics.TablesProcessed, res.Metrics.RecordsMigrated, res.Error)
		if err != nil {
			logging.Warn("Recording run completion in history: %v", err)
		}
	}
	o.reporter.ReportImmediate(o.update())
	if o.tracker != nil {
		o.tracker.Finish()
	}
	logging.Debug("Pool %s", stats.FromDB("source", o.src.DBType(), o.src.DB()))
	logging.Debug("Pool %s", stats.FromDB("target", o.tgt.DBType(), o.tgt.DB()))
	return res
}

func (o *Orchestrator) stage() Stage {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.job.Stage
}

func (o *Orchestrator) setStage(stage Stage) {
	o.mu.Lock()
	prev := o.job.Stage
	if prev != stage && !prev.CanTransition(stage) {
		logging.Warn("Unexpected stage transition %s -> %s", prev, stage)
	}
	o.job.Stage = stage
	o.mu.Unlock()

	if o.history != nil {
		if err := o.history.UpdateStage(o.job.ID, stage.String()); err != nil {
			logging.Warn("Recording stage in history: %v", err)
		}
	}
	if o.tracker != nil {
		o.tracker.Describe(stage.String())
	}
	o.reporter.ReportImmediate(o.update())
}

// saveCheckpoint persists a checkpoint before anything else observes it. A
// checkpoint that cannot be written counts as an error.
func (o *Orchestrator) saveCheckpoint(stage string, status checkpoint.Status, results map[string]any, cause error) {
	var msg string
	if cause != nil {
		msg = cause.Error()
	}
	if err := o.store.Save(checkpoint.New(stage, status, results, msg)); err != nil {
		logging.Error("Saving %s checkpoint: %v", stage, err)
		o.recordError(err)
	}
	o.mu.Lock()
	o.metrics.FailedCheckpoints = o.store.Failed()
	o.mu.Unlock()
}

// recordError counts an absorbed error toward the rollback policy.
func (o *Orchestrator) recordError(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.metrics.ErrorCount++
	o.lastErr = err
}

func (o *Orchestrator) recordWarnings(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.metrics.WarningCount += n
}

// onBatch receives transfer progress after every committed batch.
func (o *Orchestrator) onBatch(p transfer.Progress) {
	o.mu.Lock()
	o.current = p.Table
	o.metrics.RecordsMigrated = o.base + p.MigratedRecords
	o.metrics.refresh(o.job.StartedAt, time.Now())
	migrated := o.metrics.RecordsMigrated
	o.mu.Unlock()

	if o.tracker != nil {
		o.tracker.Set(migrated)
	}
	o.reporter.Report(o.update())
}

// update renders the current state as a progress line.
func (o *Orchestrator) update() progress.Update {
	o.mu.RLock()
	defer o.mu.RUnlock()
	m := o.metrics
	u := progress.Update{
		RunID:            o.job.ID,
		Stage:            o.job.Stage.String(),
		TablesProcessed:  m.TablesProcessed,
		TablesTotal:      m.TablesTotal,
		RecordsMigrated:  m.RecordsMigrated,
		RecordsTotal:     m.RecordsTotal,
		ProgressPct:      m.ProgressPct(),
		RecordsPerSecond: m.Throughput,
		CurrentTable:     o.current,
		ErrorCount:       m.ErrorCount,
		WarningCount:     m.WarningCount,
	}
	if m.EstimatedCompletion != nil {
		u.EstimatedCompletion = m.EstimatedCompletion.Format(time.RFC3339)
	}
	return u
}

// poll pushes a snapshot to the reporter every monitor interval until ctx ends.
func (o *Orchestrator) poll(ctx context.Context) {
	interval := o.cfg.Monitor.Interval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Status()
			o.reporter.Report(o.update())
		}
	}
}

func (o *Orchestrator) notifyErr(err error) {
	if err != nil {
		logging.Warn("Sending notification: %v", err)
	}
}
