// Package migerr defines the error taxonomy shared by the migration
// components. Components return these as values; only the orchestrator
// decides whether one is absorbed or escalates into a job rollback.
package migerr

import (
	"errors"
	"fmt"
)

// ConnectionError means an engine could not be reached. Fatal: the job never starts.
type ConnectionError struct {
	Engine string // "source" or "target"
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting to %s: %v", e.Engine, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SchemaReadError means source metadata for a table could not be read.
type SchemaReadError struct {
	Table string
	Err   error
}

func (e *SchemaReadError) Error() string {
	return fmt.Sprintf("reading schema of %s: %v", e.Table, e.Err)
}

func (e *SchemaReadError) Unwrap() error { return e.Err }

// ProvisionError means target DDL for a table failed and was rolled back.
type ProvisionError struct {
	Table string
	Err   error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provisioning %s: %v", e.Table, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// BatchWriteError halts one table's data transfer.
type BatchWriteError struct {
	Table  string
	Offset int64
	Err    error
}

func (e *BatchWriteError) Error() string {
	return fmt.Sprintf("transfer %s at offset %d: %v", e.Table, e.Offset, e.Err)
}

func (e *BatchWriteError) Unwrap() error { return e.Err }

// ValidationFailure reports a table whose target content does not match the source.
type ValidationFailure struct {
	Table       string
	SourceCount int64
	TargetCount int64
	Missing     int
	Extra       int
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("validation failed for %s: source=%d target=%d missing=%d extra=%d",
		e.Table, e.SourceCount, e.TargetCount, e.Missing, e.Extra)
}

// RollbackError is logged best-effort and never masks the failure that
// triggered the rollback.
type RollbackError struct {
	Table string
	Err   error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rolling back %s: %v", e.Table, e.Err)
}

func (e *RollbackError) Unwrap() error { return e.Err }

// NoRollbackPointError is returned when a rollback is requested for a table
// that has no recorded rollback point.
type NoRollbackPointError struct {
	Table string
}

func (e *NoRollbackPointError) Error() string {
	return fmt.Sprintf("no rollback point recorded for %s", e.Table)
}

// ErrStopped is reported when an operator stop request halted a stage.
var ErrStopped = errors.New("migration stopped by request")

// Is reports whether err carries a taxonomy error of type T.
func Is[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}
