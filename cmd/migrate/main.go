package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/johndauphine/sqlite-server-migrate/internal/checkpoint"
	"github.com/johndauphine/sqlite-server-migrate/internal/config"
	"github.com/johndauphine/sqlite-server-migrate/internal/exitcodes"
	"github.com/johndauphine/sqlite-server-migrate/internal/logging"
	"github.com/johndauphine/sqlite-server-migrate/internal/monitor"
	"github.com/johndauphine/sqlite-server-migrate/internal/orchestrator"
	"github.com/johndauphine/sqlite-server-migrate/internal/progress"
	"github.com/johndauphine/sqlite-server-migrate/internal/rollback"
	"github.com/johndauphine/sqlite-server-migrate/internal/target"
	"github.com/johndauphine/sqlite-server-migrate/internal/tui"

	_ "github.com/johndauphine/sqlite-server-migrate/internal/driver/mssql"
	_ "github.com/johndauphine/sqlite-server-migrate/internal/driver/mysql"
	_ "github.com/johndauphine/sqlite-server-migrate/internal/driver/postgres"
	_ "github.com/johndauphine/sqlite-server-migrate/internal/driver/sqlite"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "sqlite-server-migrate",
		Usage:   "Staged SQLite to server database migration with rollback",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to configuration file",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "text",
				Usage: "Log format: text or json",
			},
			&cli.StringFlag{
				Name:  "verbosity",
				Value: "info",
				Usage: "Log verbosity level (debug, info, warn, error)",
			},
		},
		Before: func(c *cli.Context) error {
			level, err := logging.ParseLevel(c.String("verbosity"))
			if err != nil {
				return exitcodes.NewExitError(err, exitcodes.ConfigError)
			}
			logging.SetLevel(level)
			if c.String("log-format") == "json" {
				logging.SetFormat("json")
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run a migration through every stage",
				Action: runMigration,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "listen",
						Usage: "Serve the monitoring API on this address, e.g. 127.0.0.1:8080 (overrides monitor.listen)",
					},
					&cli.BoolFlag{
						Name:  "tui",
						Usage: "Show a live dashboard",
					},
					&cli.BoolFlag{
						Name:  "no-rollback",
						Usage: "Do not create rollback points (overrides migration.create_rollback)",
					},
					&cli.BoolFlag{
						Name:  "output-json",
						Usage: "Output JSON result to stdout on completion (logs go to stderr)",
					},
					&cli.StringFlag{
						Name:  "output-file",
						Usage: "Write JSON result to file on completion",
					},
				},
			},
			{
				Name:   "plan",
				Usage:  "Show the tables, order and DDL a run would use without writing anything",
				Action: planMigration,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output the plan as JSON",
					},
				},
			},
			{
				Name:   "health",
				Usage:  "Check connectivity to source and target",
				Action: healthCheck,
			},
			{
				Name:   "backups",
				Usage:  "List rollback backup tables left in the target",
				Action: listBackups,
			},
			{
				Name:      "restore",
				Usage:     "Restore a target table from a backup table",
				ArgsUsage: "<table> <backup>",
				Action:    restoreTable,
			},
			{
				Name:   "status",
				Usage:  "Show status of the current or last run",
				Action: showStatus,
			},
			{
				Name:  "history",
				Usage: "List migration runs, or view details of a specific run",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "run",
						Usage: "Show details for a specific run ID",
					},
					&cli.IntFlag{
						Name:  "limit",
						Value: 20,
						Usage: "Number of runs to list",
					},
					&cli.IntFlag{
						Name:  "cleanup-days",
						Usage: "Delete finished runs older than this many days first",
					},
				},
				Action: showHistory,
			},
		},
	}

	err := app.Run(os.Args)
	logging.Sync()
	if err != nil {
		code := exitcodes.FromError(err)
		fmt.Fprintf(os.Stderr, "Error: %v (%s)\n", err, exitcodes.Description(code))
		os.Exit(code)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return nil, exitcodes.NewExitError(fmt.Errorf("configuration file not found: %s", path), exitcodes.ConfigError)
		}
		return nil, exitcodes.NewExitError(err, exitcodes.ConfigError)
	}
	return cfg, nil
}

func openHistory(cfg *config.Config) (*checkpoint.History, error) {
	h, err := checkpoint.OpenHistory(cfg.Migration.DataDir)
	if err != nil {
		return nil, exitcodes.NewExitError(err, exitcodes.StateError)
	}
	return h, nil
}

func runMigration(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.Bool("no-rollback") {
		cfg.Migration.SetCreateRollback(false)
	}
	if c.IsSet("listen") {
		cfg.Monitor.Listen = c.String("listen")
	}

	jsonOut := c.Bool("output-json") || c.String("output-file") != ""
	useTUI := c.Bool("tui")
	interactive := term.IsTerminal(int(os.Stdout.Fd()))

	history, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer history.Close()

	opts := orchestrator.Options{History: history}
	switch {
	case useTUI:
		// The dashboard owns the screen; logs still go to the run's log file.
		logging.SetOutput(io.Discard)
		opts.Reporter = progress.NullReporter{}
	case jsonOut || !interactive:
		logging.SetOutput(os.Stderr)
		opts.Reporter = progress.NewJSONReporter(os.Stderr, cfg.Monitor.Interval)
	default:
		opts.Reporter = progress.NewLogReporter(cfg.Monitor.Interval)
		opts.Tracker = progress.New()
	}
	defer opts.Reporter.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := orchestrator.NewManager(opts)
	orch, err := mgr.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer orch.Close()

	closeLog, err := logging.AddFile(filepath.Join(orch.RunDir(), "migration.log"))
	if err != nil {
		logging.Warn("Run log disabled: %v", err)
	} else {
		defer closeLog()
	}
	logging.Info("Run %s: %s -> %s (artifacts in %s)", orch.ID(), cfg.Source.Path, cfg.Target.Describe(), orch.RunDir())

	// First signal rolls the run back at its next check, a second one
	// abandons it.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		fmt.Fprintln(os.Stderr, "\nInterrupted. Stopping and rolling back (interrupt again to abort)...")
		mgr.StopAll()
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nAborting.")
			cancel()
		case <-ctx.Done():
		}
	}()

	var (
		result *orchestrator.Result
		runErr error
	)
	runDone := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(runDone)
		result, runErr = orch.Run(ctx)
		return nil
	})
	if cfg.Monitor.Listen != "" {
		g.Go(func() error {
			srvCtx, stop := context.WithCancel(gctx)
			defer stop()
			go func() {
				<-runDone
				stop()
			}()
			if err := monitor.Serve(srvCtx, cfg.Monitor.Listen, mgr); err != nil {
				logging.Error("Monitor server: %v", err)
			}
			return nil
		})
	}
	if useTUI {
		if err := tui.Start(ctx, orch); err != nil {
			logging.Warn("Dashboard: %v", err)
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if result != nil {
		printSummary(result)
		if jsonOut {
			if err := outputJSON(c, result); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to output JSON: %v\n", err)
			}
		}
	}
	return runErr
}

func printSummary(r *orchestrator.Result) {
	fmt.Fprintf(os.Stderr, "\nRun %s %s in %s at stage %s\n",
		r.RunID, r.Status, r.Duration().Round(time.Millisecond), r.Stage)
	fmt.Fprintf(os.Stderr, "Tables: %d/%d, records: %d/%d, errors: %d, warnings: %d\n",
		r.Metrics.TablesProcessed, r.Metrics.TablesTotal,
		r.Metrics.RecordsMigrated, r.Metrics.RecordsTotal,
		r.Metrics.ErrorCount, r.Metrics.WarningCount)
	if r.RollbackReason != "" {
		fmt.Fprintf(os.Stderr, "Rolled back: %s\n", r.RollbackReason)
	}
	fmt.Fprintf(os.Stderr, "Artifacts: %s\n", r.RunDir)
}

// outputJSON writes the migration result as JSON to stdout and/or a file
func outputJSON(c *cli.Context, result *orchestrator.Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if c.Bool("output-json") {
		fmt.Println(string(data))
	}
	if outputFile := c.String("output-file"); outputFile != "" {
		if err := os.WriteFile(outputFile, data, 0600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
	}
	return nil
}

// withRun opens both engines for a read-only command. The orchestrator
// creates a run directory up front; previews remove it again.
func withRun(c *cli.Context, fn func(ctx context.Context, o *orchestrator.Orchestrator) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	o, err := orchestrator.NewManager(orchestrator.Options{}).Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer os.RemoveAll(o.RunDir())
	defer o.Close()
	return fn(ctx, o)
}

func planMigration(c *cli.Context) error {
	return withRun(c, func(ctx context.Context, o *orchestrator.Orchestrator) error {
		plan, err := o.Plan(ctx)
		if err != nil {
			return err
		}
		if c.Bool("json") {
			data, err := json.MarshalIndent(plan, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		fmt.Printf("Source:     %s\n", plan.SourcePath)
		fmt.Printf("Target:     %s (%s)\n", plan.Target, plan.TargetType)
		fmt.Printf("Batch size: %d, rollback points: %v\n", plan.BatchSize, plan.Rollback)
		fmt.Printf("Tables:     %d, rows: %d\n\n", plan.TotalTables, plan.TotalRows)
		for i, t := range plan.Tables {
			exists := ""
			if t.Exists {
				exists = " (exists)"
			}
			fmt.Printf("%2d. %s%s: %d rows, %d columns\n", i+1, t.Name, exists, t.RowCount, t.Columns)
			if !t.HasPK {
				fmt.Println("    no primary key: validation compares counts only")
			}
			for _, w := range t.Warnings {
				fmt.Printf("    warning: %s\n", w)
			}
			fmt.Printf("    %s\n", t.DDL)
		}
		return nil
	})
}

func healthCheck(c *cli.Context) error {
	return withRun(c, func(ctx context.Context, o *orchestrator.Orchestrator) error {
		h, err := o.HealthCheck(ctx)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(h, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return h.Err()
	})
}

func openRollbacks(c *cli.Context) (*rollback.Manager, func() error, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	pool, err := target.NewPool(c.Context, &cfg.Target, cfg.Migration.ConnectRetries)
	if err != nil {
		return nil, nil, err
	}
	return rollback.NewManager(pool), pool.Close, nil
}

func listBackups(c *cli.Context) error {
	m, closeFn, err := openRollbacks(c)
	if err != nil {
		return err
	}
	defer closeFn()

	backups, err := m.ListBackups(c.Context)
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		fmt.Println("No backup tables")
		return nil
	}
	fmt.Printf("%-50s %-30s %s\n", "Backup", "Table prefix", "Created")
	for _, b := range backups {
		fmt.Printf("%-50s %-30s %s\n", b.Name, b.Prefix, b.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Println("\nUse 'restore <table> <backup>' to restore a table")
	return nil
}

func restoreTable(c *cli.Context) error {
	if c.NArg() != 2 {
		return exitcodes.NewExitError(fmt.Errorf("restore needs <table> <backup>"), exitcodes.ConfigError)
	}
	table, backup := c.Args().Get(0), c.Args().Get(1)

	m, closeFn, err := openRollbacks(c)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := m.RestoreFromBackup(c.Context, table, backup); err != nil {
		return err
	}
	fmt.Printf("Restored %s from %s (backup kept)\n", table, backup)
	return nil
}

func showStatus(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	h, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer h.Close()
	return orchestrator.ShowStatus(os.Stdout, h)
}

func showHistory(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	h, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer h.Close()

	if days := c.Int("cleanup-days"); days > 0 {
		n, err := h.CleanupOldRuns(days)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d old runs\n\n", n)
	}
	if runID := c.String("run"); runID != "" {
		return orchestrator.ShowRunDetails(os.Stdout, h, runID)
	}
	return orchestrator.ShowHistory(os.Stdout, h, c.Int("limit"))
}
