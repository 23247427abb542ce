package exitcodes

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/johndauphine/sqlite-server-migrate/internal/checkpoint"
	"github.com/johndauphine/sqlite-server-migrate/internal/migerr"
)

// wrapped mimics a rollback-policy error that wraps the last recorded failure.
type wrapped struct {
	reason string
	last   error
}

func (w *wrapped) Error() string { return w.reason }
func (w *wrapped) Unwrap() error { return w.last }

func TestFromError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil error", nil, Success},
		{"connection error", &migerr.ConnectionError{Engine: "target", Err: errors.New("refused")}, ConnectionError},
		{"schema read", &migerr.SchemaReadError{Table: "users", Err: errors.New("no such column")}, TransferError},
		{"provision", &migerr.ProvisionError{Table: "users", Err: errors.New("syntax")}, TransferError},
		{"batch write", &migerr.BatchWriteError{Table: "users", Offset: 200, Err: errors.New("duplicate")}, TransferError},
		{"validation", &migerr.ValidationFailure{Table: "users", SourceCount: 3, TargetCount: 2}, ValidationError},
		{"joined validation", errors.Join(&migerr.ValidationFailure{Table: "a"}, &migerr.ValidationFailure{Table: "b"}), ValidationError},
		{"rollback failure wins", errors.Join(&migerr.BatchWriteError{Table: "a"}, &migerr.RollbackError{Table: "a", Err: errors.New("x")}), RollbackError},
		{"no rollback point", &migerr.NoRollbackPointError{Table: "users"}, StateError},
		{"stopped", fmt.Errorf("run abc rolled back: %w", &wrapped{"stop requested", migerr.ErrStopped}), Cancelled},
		{"trigger wraps batch error", fmt.Errorf("run abc rolled back: %w", &wrapped{"error count 2 reached limit 2", &migerr.BatchWriteError{Table: "t"}}), TransferError},
		{"context canceled", fmt.Errorf("listing tables: %w", context.Canceled), Cancelled},
		{"run not found", fmt.Errorf("getting run: %w", checkpoint.ErrRunNotFound), StateError},
		{"path error", &os.PathError{Op: "open", Path: "/foo", Err: errors.New("no such file")}, IOError},
		{"yaml parse error", errors.New("parsing config: yaml: unmarshal error"), ConfigError},
		{"invalid config", errors.New("invalid config: source.path is required"), ConfigError},
		{"no such file", errors.New("open config.yaml: no such file or directory"), IOError},
		{"connection refused", errors.New("dial tcp: connection refused"), ConnectionError},
		{"login failed", errors.New("login failed for user"), ConnectionError},
		{"row count mismatch", errors.New("row count mismatch: expected 100, got 99"), ValidationError},
		{"interrupted", errors.New("interrupted"), Cancelled},
		{"unknown error", errors.New("something unexpected happened"), TransferError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromError(tt.err)
			if got != tt.expected {
				t.Errorf("FromError(%v) = %d (%s), want %d (%s)",
					tt.err, got, Description(got), tt.expected, Description(tt.expected))
			}
		})
	}
}

func TestExitError(t *testing.T) {
	inner := errors.New("inner error")
	exitErr := NewExitError(inner, ConnectionError)

	if exitErr.Code != ConnectionError {
		t.Errorf("expected code %d, got %d", ConnectionError, exitErr.Code)
	}
	if exitErr.Error() != "inner error" {
		t.Errorf("expected error message 'inner error', got '%s'", exitErr.Error())
	}
	if errors.Unwrap(exitErr) != inner {
		t.Error("Unwrap should return inner error")
	}

	// An explicit code beats the typed chain.
	typed := NewExitError(&migerr.ValidationFailure{Table: "t"}, StateError)
	if FromError(typed) != StateError {
		t.Errorf("FromError should extract code from ExitError")
	}
}

func TestIsRecoverable(t *testing.T) {
	recoverable := []int{ConnectionError, Cancelled, IOError}
	nonRecoverable := []int{Success, ConfigError, TransferError, ValidationError, StateError, RollbackError}

	for _, code := range recoverable {
		if !IsRecoverable(code) {
			t.Errorf("expected code %d (%s) to be recoverable", code, Description(code))
		}
	}
	for _, code := range nonRecoverable {
		if IsRecoverable(code) {
			t.Errorf("expected code %d (%s) to be non-recoverable", code, Description(code))
		}
	}
}

func TestDescription(t *testing.T) {
	tests := []struct {
		code     int
		expected string
	}{
		{Success, "success"},
		{ConfigError, "configuration error"},
		{ConnectionError, "connection error (recoverable)"},
		{TransferError, "transfer error"},
		{ValidationError, "validation error"},
		{Cancelled, "cancelled (recoverable)"},
		{StateError, "state error"},
		{IOError, "I/O error (recoverable)"},
		{RollbackError, "rollback error (manual restore needed)"},
		{99, "unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := Description(tt.code); got != tt.expected {
				t.Errorf("Description(%d) = %q, want %q", tt.code, got, tt.expected)
			}
		})
	}
}
