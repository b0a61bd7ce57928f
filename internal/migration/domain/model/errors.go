package model

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable indicates the migration source could not be listed or read
	ErrSourceUnavailable = errors.New("migration source unavailable")

	// ErrChecksumMismatch indicates an applied migration changed on disk
	ErrChecksumMismatch = errors.New("migration checksum mismatch")

	// ErrMissingMigration indicates the ledger references a file the source no longer has
	ErrMissingMigration = errors.New("applied migration missing from source")

	// ErrMigrationExecution indicates the migration SQL or its commit failed
	ErrMigrationExecution = errors.New("migration execution failed")

	// ErrLedgerWrite indicates the ledger row could not be inserted
	ErrLedgerWrite = errors.New("ledger write failed")

	// ErrLedgerUnavailable indicates the ledger table could not be created or read
	ErrLedgerUnavailable = errors.New("ledger unavailable")
)

// MigrationError wraps an error with the migration file and operation it happened in
type MigrationError struct {
	Filename string
	Op       string
	Err      error
}

// Error implements the error interface
func (e *MigrationError) Error() string {
	if e.Filename == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("migration %s: %s: %v", e.Filename, e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *MigrationError) Unwrap() error {
	return e.Err
}

// NewMigrationError creates a MigrationError
func NewMigrationError(filename, op string, err error) *MigrationError {
	return &MigrationError{Filename: filename, Op: op, Err: err}
}

// MismatchError lists every drifted file found by the planner
type MismatchError struct {
	Mismatches []Mismatch
}

// Error implements the error interface
func (e *MismatchError) Error() string {
	if len(e.Mismatches) == 1 {
		m := e.Mismatches[0]
		return fmt.Sprintf("%v: %s recorded %s, found %s", ErrChecksumMismatch, m.Filename, m.Recorded, m.Current)
	}
	return fmt.Sprintf("%v: %d files changed after being applied", ErrChecksumMismatch, len(e.Mismatches))
}

// Is matches ErrChecksumMismatch
func (e *MismatchError) Is(target error) bool {
	return target == ErrChecksumMismatch
}
