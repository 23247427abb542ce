// Package tui renders a live dashboard for one migration run.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/johndauphine/sqlite-server-migrate/internal/orchestrator"
	"github.com/johndauphine/sqlite-server-migrate/internal/transfer"
)

// Run is the part of a migration run the dashboard observes and controls.
type Run interface {
	Status() orchestrator.Snapshot
	Stop()
	ForceRollback(reason string) error
}

var _ Run = (*orchestrator.Orchestrator)(nil)

// TickMsg refreshes the snapshot.
type TickMsg time.Time

const refreshInterval = 250 * time.Millisecond

// Model is the dashboard state.
type Model struct {
	run      Run
	snap     orchestrator.Snapshot
	spinner  spinner.Model
	bar      progress.Model
	width    int
	notice   string
	detached bool
	done     bool
}

// NewModel creates a dashboard for run.
func NewModel(run Run) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(colorPurple)

	return Model{
		run:     run,
		snap:    run.Status(),
		spinner: s,
		bar:     progress.New(progress.WithDefaultGradient()),
		width:   80,
	}
}

// Init starts the spinner and the refresh loop.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc":
			// The run keeps going; only the dashboard goes away.
			m.detached = true
			return m, tea.Quit
		case "ctrl+c", "s":
			if m.snap.IsRunning {
				m.run.Stop()
				m.notice = "Stop requested, rolling back at the next check..."
			}
			return m, nil
		case "r":
			if err := m.run.ForceRollback("requested from dashboard"); err != nil {
				m.notice = err.Error()
			} else {
				m.notice = "Rollback requested"
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(10, msg.Width-30)
		return m, nil

	case TickMsg:
		m.snap = m.run.Status()
		if !m.snap.IsRunning && m.snap.Stage.Terminal() {
			m.done = true
			return m, tea.Quit
		}
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	s := m.snap
	var b strings.Builder

	b.WriteString(styleTitle.Render("Migration "+s.ID) + "  " + m.stageBadge() + "\n\n")

	pct := s.Metrics.ProgressPct() / 100
	b.WriteString(m.bar.ViewAs(pct))
	b.WriteString(fmt.Sprintf(" %d/%d rows\n\n", s.Metrics.RecordsMigrated, s.Metrics.RecordsTotal))

	row := func(label, value string) {
		b.WriteString(styleLabel.Render(label) + value + "\n")
	}
	row("Tables", fmt.Sprintf("%d/%d", s.Metrics.TablesProcessed, s.Metrics.TablesTotal))
	if s.CurrentTable != "" && s.IsRunning {
		row("Current", m.spinner.View()+" "+s.CurrentTable)
	}
	row("Elapsed", (time.Duration(s.Metrics.ElapsedSeconds) * time.Second).String())
	row("Throughput", fmt.Sprintf("%.0f rows/s", s.Metrics.Throughput))
	if s.Metrics.EstimatedCompletion != nil {
		row("ETA", s.Metrics.EstimatedCompletion.Local().Format("15:04:05"))
	}
	errs := fmt.Sprintf("%d errors, %d warnings, %d failed checkpoints",
		s.Metrics.ErrorCount, s.Metrics.WarningCount, s.Metrics.FailedCheckpoints)
	if s.Metrics.ErrorCount > 0 {
		errs = styleError.Render(errs)
	}
	row("Problems", errs)

	if len(s.Tables) > 0 {
		b.WriteString("\n")
		for _, t := range s.Tables {
			b.WriteString(tableLine(t) + "\n")
		}
	}

	if s.RollbackReason != "" {
		b.WriteString("\n" + styleWarn.Render("Rollback: "+s.RollbackReason) + "\n")
	}
	if m.notice != "" {
		b.WriteString("\n" + styleWarn.Render(m.notice) + "\n")
	}

	frame := styleFrame.Render(b.String())
	help := styleHelp.Render("s stop • r rollback • q detach")
	return frame + "\n" + help + "\n"
}

func (m Model) stageBadge() string {
	name := m.snap.Stage.String()
	switch m.snap.Stage {
	case orchestrator.StageCompleted:
		return styleStageDone.Render(name)
	case orchestrator.StageFailed, orchestrator.StageRolledBack:
		return styleStageFailed.Render(name)
	}
	return styleStage.Render(name)
}

func tableLine(t orchestrator.TableResult) string {
	icon := "○"
	detail := ""
	if p := t.Transfer; p != nil {
		detail = fmt.Sprintf("%d/%d", p.MigratedRecords, p.TotalRecords)
		switch p.Status {
		case transfer.StatusCompleted:
			icon = styleSuccess.Render("✓")
		case transfer.StatusFailed:
			icon = styleError.Render("✗")
			detail += " " + p.Error
		case transfer.StatusInProgress:
			icon = "►"
		}
	}
	if v := t.Validation; v != nil && !v.IsValid {
		icon = styleError.Render("✗")
		detail += fmt.Sprintf(" validation: source=%d target=%d", v.SourceCount, v.TargetCount)
	}
	return fmt.Sprintf(" %s %-28s %s", icon, t.Name, detail)
}

// Detached reports whether the user left the dashboard while the run continued.
func (m Model) Detached() bool {
	return m.detached
}

// Start shows the dashboard until the run ends, the user detaches or ctx is done.
func Start(ctx context.Context, run Run) error {
	p := tea.NewProgram(NewModel(run), tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil && ctx.Err() == nil {
		return err
	}
	if m, ok := final.(Model); ok && m.done {
		fmt.Println(m.View())
	}
	return nil
}
