package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/johndauphine/sqlite-server-migrate/internal/config"
	"github.com/johndauphine/sqlite-server-migrate/internal/source"
	"github.com/johndauphine/sqlite-server-migrate/internal/target"
)

// Manager keeps the runs of this process addressable by run ID so that
// monitors can observe and control them.
type Manager struct {
	opts Options

	mu   sync.RWMutex
	runs map[string]*Orchestrator
}

// NewManager creates a Manager whose runs share opts.
func NewManager(opts Options) *Manager {
	return &Manager{opts: opts, runs: make(map[string]*Orchestrator)}
}

// Open connects to both engines and registers a new run without starting
// it. The caller runs it and then closes it.
func (m *Manager) Open(ctx context.Context, cfg *config.Config) (*Orchestrator, error) {
	src, err := source.NewPool(ctx, &cfg.Source, cfg.Migration.ConnectRetries)
	if err != nil {
		return nil, err
	}
	tgt, err := target.NewPool(ctx, &cfg.Target, cfg.Migration.ConnectRetries)
	if err != nil {
		src.Close()
		return nil, err
	}
	o, err := New(cfg, src, tgt, m.opts)
	if err != nil {
		src.Close()
		tgt.Close()
		return nil, err
	}
	o.closers = append(o.closers, src.Close, tgt.Close)
	m.Register(o)
	return o, nil
}

// Register makes o addressable by its run ID.
func (m *Manager) Register(o *Orchestrator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[o.ID()] = o
}

// Start opens a run, drives it to the end and closes its connections.
func (m *Manager) Start(ctx context.Context, cfg *config.Config) (*Result, error) {
	o, err := m.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer o.Close()
	return o.Run(ctx)
}

func (m *Manager) get(runID string) (*Orchestrator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, ErrUnknownRun)
	}
	return o, nil
}

// Stop asks a run to halt.
func (m *Manager) Stop(runID string) error {
	o, err := m.get(runID)
	if err != nil {
		return err
	}
	if !o.Status().IsRunning {
		return fmt.Errorf("run %s is not running", runID)
	}
	o.Stop()
	return nil
}

// StopAll asks every running run to halt.
func (m *Manager) StopAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.runs {
		o.Stop()
	}
}

// ForceRollback makes a run roll back at its next check.
func (m *Manager) ForceRollback(runID, reason string) error {
	o, err := m.get(runID)
	if err != nil {
		return err
	}
	return o.ForceRollback(reason)
}

// Status returns a snapshot of one run.
func (m *Manager) Status(runID string) (Snapshot, error) {
	o, err := m.get(runID)
	if err != nil {
		return Snapshot{}, err
	}
	return o.Status(), nil
}

// List returns snapshots of every registered run, oldest first.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	out := make([]Snapshot, 0, len(m.runs))
	for _, o := range m.runs {
		out = append(out, o.Status())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
