// Package cutover runs the environment-specific commands that move
// application traffic from the source database to the target.
package cutover

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/johndauphine/sqlite-server-migrate/internal/config"
	"github.com/johndauphine/sqlite-server-migrate/internal/logging"
)

// DefaultTimeout bounds each hook when the configuration sets none.
const DefaultTimeout = 5 * time.Minute

// Hooks are shell commands run around the switch. An empty command is a no-op.
type Hooks struct {
	StopWriters   string
	SwitchConfig  string
	ResumeWriters string
	Timeout       time.Duration
	Env           []string
}

// FromConfig builds hooks from configuration. Each command sees
// MIGRATION_RUN_ID in its environment.
func FromConfig(cfg *config.CutoverConfig, runID string) *Hooks {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Hooks{
		StopWriters:   cfg.StopWriters,
		SwitchConfig:  cfg.SwitchConfig,
		ResumeWriters: cfg.ResumeWriters,
		Timeout:       timeout,
		Env:           []string{"MIGRATION_RUN_ID=" + runID},
	}
}

// Execute stops writers, runs check, switches configuration, and resumes
// writers. Once StopWriters has succeeded ResumeWriters always runs, even
// when check or SwitchConfig fail; its error is joined to theirs.
func (h *Hooks) Execute(ctx context.Context, check func(context.Context) error) (err error) {
	if err := h.run(ctx, "stop_writers", h.StopWriters); err != nil {
		return err
	}
	defer func() {
		if rerr := h.run(context.WithoutCancel(ctx), "resume_writers", h.ResumeWriters); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()

	if check != nil {
		if err := check(ctx); err != nil {
			return fmt.Errorf("final consistency check: %w", err)
		}
	}
	return h.run(ctx, "switch_config", h.SwitchConfig)
}

func (h *Hooks) run(ctx context.Context, name, command string) error {
	if strings.TrimSpace(command) == "" {
		logging.Debug("Cutover hook %s not configured", name)
		return nil
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", command)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", command)
	}
	cmd.Env = append(os.Environ(), h.Env...)
	cmd.Env = append(cmd.Env, "MIGRATION_HOOK="+name)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	// Children of the shell may hold the output pipe open after a kill.
	cmd.WaitDelay = time.Second

	logging.Info("Running cutover hook %s", name)
	start := time.Now()
	err := cmd.Run()
	if output := strings.TrimSpace(out.String()); output != "" {
		logging.Debug("%s output:\n%s", name, output)
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("cutover hook %s timed out after %s", name, timeout)
		}
		return fmt.Errorf("cutover hook %s: %w: %s", name, err, lastLine(out.String()))
	}
	logging.Info("Cutover hook %s finished in %s", name, time.Since(start).Round(time.Millisecond))
	return nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
