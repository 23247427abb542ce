package tui

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndauphine/sqlite-server-migrate/internal/orchestrator"
	"github.com/johndauphine/sqlite-server-migrate/internal/transfer"
)

type fakeRun struct {
	snap      orchestrator.Snapshot
	stops     int
	rollbacks []string
	rbErr     error
}

func (f *fakeRun) Status() orchestrator.Snapshot { return f.snap }
func (f *fakeRun) Stop()                         { f.stops++ }
func (f *fakeRun) ForceRollback(reason string) error {
	if f.rbErr != nil {
		return f.rbErr
	}
	f.rollbacks = append(f.rollbacks, reason)
	return nil
}

func running() *fakeRun {
	return &fakeRun{snap: orchestrator.Snapshot{
		Job:          orchestrator.Job{ID: "abc12345", Stage: orchestrator.StageInitialDataSync, IsRunning: true},
		CurrentTable: "orders",
		Metrics:      orchestrator.Metrics{TablesProcessed: 1, TablesTotal: 2, RecordsMigrated: 3, RecordsTotal: 10, ErrorCount: 1},
		Tables: []orchestrator.TableResult{
			{Name: "users", Transfer: &transfer.Progress{MigratedRecords: 3, TotalRecords: 3, Status: transfer.StatusCompleted}},
			{Name: "orders", Transfer: &transfer.Progress{TotalRecords: 7, Status: transfer.StatusFailed, Error: "duplicate key"}},
		},
	}}
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestViewShowsRunState(t *testing.T) {
	m := NewModel(running())
	view := m.View()

	assert.Contains(t, view, "abc12345")
	assert.Contains(t, view, "initial_data_sync")
	assert.Contains(t, view, "3/10 rows")
	assert.Contains(t, view, "orders")
	assert.Contains(t, view, "duplicate key")
	assert.Contains(t, view, "1 errors")
}

func TestKeysControlRun(t *testing.T) {
	run := running()
	var model tea.Model = NewModel(run)

	model, _ = model.Update(key("s"))
	assert.Equal(t, 1, run.stops)
	assert.Contains(t, model.View(), "Stop requested")

	model, _ = model.Update(key("r"))
	assert.Equal(t, []string{"requested from dashboard"}, run.rollbacks)

	run.rbErr = errors.New("run abc12345 is not running")
	model, _ = model.Update(key("r"))
	assert.Contains(t, model.View(), "is not running")

	model, cmd := model.Update(key("q"))
	require.NotNil(t, cmd)
	assert.True(t, model.(Model).Detached())
}

func TestTickQuitsWhenRunEnds(t *testing.T) {
	run := running()
	var model tea.Model = NewModel(run)

	model, cmd := model.Update(TickMsg(time.Now()))
	require.NotNil(t, cmd)
	assert.False(t, model.(Model).done)

	run.snap.IsRunning = false
	run.snap.Stage = orchestrator.StageCompleted
	model, cmd = model.Update(TickMsg(time.Now()))
	require.NotNil(t, cmd)
	assert.True(t, model.(Model).done)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Contains(t, model.View(), "completed")
}
