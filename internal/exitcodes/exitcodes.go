// Package exitcodes maps migration failures to process exit codes so that
// schedulers (cron, Kubernetes jobs, Airflow) can tell retryable failures
// from ones that need an operator.
package exitcodes

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/johndauphine/sqlite-server-migrate/internal/checkpoint"
	"github.com/johndauphine/sqlite-server-migrate/internal/migerr"
)

const (
	// Success - migration completed and validated
	Success = 0

	// ConfigError - configuration parsing or validation errors (don't retry)
	ConfigError = 1

	// ConnectionError - source or target unreachable (recoverable)
	ConnectionError = 2

	// TransferError - schema read, provisioning or batch write failed
	TransferError = 3

	// ValidationError - target content does not match the source
	ValidationError = 4

	// Cancelled - stopped by signal or operator request (recoverable)
	Cancelled = 5

	// StateError - run history or checkpoint errors
	StateError = 6

	// IOError - file I/O errors (recoverable)
	IOError = 7

	// RollbackError - restoring a table from its backup failed; the target
	// needs manual attention
	RollbackError = 8
)

// ExitError wraps an error with an exit code.
type ExitError struct {
	Err  error
	Code int
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code.
func NewExitError(err error, code int) *ExitError {
	return &ExitError{Err: err, Code: code}
}

// FromError determines the exit code for an error. Typed errors anywhere in
// the chain win; the message is only inspected for errors from outside the
// migration packages.
func FromError(err error) int {
	if err == nil {
		return Success
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	switch {
	case migerr.Is[*migerr.RollbackError](err):
		return RollbackError
	case errors.Is(err, migerr.ErrStopped), errors.Is(err, context.Canceled):
		return Cancelled
	case migerr.Is[*migerr.ConnectionError](err):
		return ConnectionError
	case migerr.Is[*migerr.ValidationFailure](err):
		return ValidationError
	case migerr.Is[*migerr.SchemaReadError](err),
		migerr.Is[*migerr.ProvisionError](err),
		migerr.Is[*migerr.BatchWriteError](err):
		return TransferError
	case migerr.Is[*migerr.NoRollbackPointError](err), errors.Is(err, checkpoint.ErrRunNotFound):
		return StateError
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return IOError
	}

	errStr := strings.ToLower(err.Error())

	if containsAny(errStr, []string{
		"no such file",
		"file not found",
		"permission denied",
		"is a directory",
		"not a directory",
	}) {
		return IOError
	}

	// Checked before config so "row count validation failed" is not taken
	// for a config problem.
	if containsAny(errStr, []string{
		"row count",
		"mismatch",
		"validation failed",
	}) {
		return ValidationError
	}

	if containsAny(errStr, []string{
		"yaml:",
		"json:",
		"unmarshal",
		"invalid config",
		"parsing config",
		"is required",
		"must be",
		"invalid table pattern",
	}) && !containsAny(errStr, []string{"connection", "connect", "dial"}) {
		return ConfigError
	}

	if containsAny(errStr, []string{
		"connection",
		"connect",
		"dial",
		"refused",
		"timeout",
		"unreachable",
		"no such host",
		"network",
		"ping",
		"login failed",
		"authentication",
	}) {
		return ConnectionError
	}

	if containsAny(errStr, []string{
		"cancel",
		"interrupt",
		"context deadline",
		"stopped",
	}) {
		return Cancelled
	}

	if containsAny(errStr, []string{
		"checkpoint",
		"history",
		"run not found",
		"unknown run",
	}) {
		return StateError
	}

	return TransferError
}

// IsRecoverable returns true if the error is recoverable (safe to retry).
func IsRecoverable(code int) bool {
	switch code {
	case ConnectionError, Cancelled, IOError:
		return true
	default:
		return false
	}
}

// Description returns a human-readable description of the exit code.
func Description(code int) string {
	switch code {
	case Success:
		return "success"
	case ConfigError:
		return "configuration error"
	case ConnectionError:
		return "connection error (recoverable)"
	case TransferError:
		return "transfer error"
	case ValidationError:
		return "validation error"
	case Cancelled:
		return "cancelled (recoverable)"
	case StateError:
		return "state error"
	case IOError:
		return "I/O error (recoverable)"
	case RollbackError:
		return "rollback error (manual restore needed)"
	default:
		return "unknown error"
	}
}

func containsAny(s string, substrs []string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
