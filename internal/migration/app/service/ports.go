// Package service provides the schema migration runner
package service

import (
	"context"

	"github.com/studiobook/studiobook/internal/migration/domain/model"
)

// Source lists migration files and reads their content
type Source interface {
	// List returns the candidate migrations ordered ascending by filename
	List(ctx context.Context) ([]model.MigrationFile, error)
	// Read returns the raw content of a single migration
	Read(ctx context.Context, file model.MigrationFile) ([]byte, error)
}

// Ledger persists which migrations have been applied
type Ledger interface {
	EnsureTable(ctx context.Context) error
	LoadAll(ctx context.Context) ([]model.LedgerEntry, error)
	// Begin checks a connection out of the pool and opens a transaction on it
	Begin(ctx context.Context) (LedgerTx, error)
}

// LedgerTx is a migration transaction. Record must run on the same transaction
// as the SQL it attests to.
type LedgerTx interface {
	Exec(ctx context.Context, query string) error
	Record(ctx context.Context, filename, checksum string) error
	Commit() error
	Rollback() error
}

// Pool is the database connection pool owned by a run
type Pool interface {
	Close() error
}

// ReportPublisher delivers the run report to an external sink
type ReportPublisher interface {
	PublishRunReport(ctx context.Context, report *model.RunReport) error
}

// Recorder receives run observations, typically for metrics
type Recorder interface {
	ObservePlan(plan *model.Plan)
	ObserveOutcome(outcome model.Outcome)
	ObserveRun(report *model.RunReport)
}

type nopRecorder struct{}

func (nopRecorder) ObservePlan(*model.Plan)      {}
func (nopRecorder) ObserveOutcome(model.Outcome) {}
func (nopRecorder) ObserveRun(*model.RunReport)  {}
