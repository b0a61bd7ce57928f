package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/studiobook/studiobook/internal/migration/domain/model"
	"github.com/studiobook/studiobook/internal/platform/logger"
)

// Applier applies pending migrations one transaction at a time
type Applier struct {
	ledger   Ledger
	logger   logger.Logger
	recorder Recorder
	tracer   trace.Tracer
	timeout  time.Duration
	now      func() time.Time
}

// NewApplier creates a new applier writing through ledger.
// A positive timeout bounds each migration transaction from begin to commit.
func NewApplier(ledger Ledger, log logger.Logger, recorder Recorder, tracer trace.Tracer, timeout time.Duration) *Applier {
	return &Applier{
		ledger:   ledger,
		logger:   log,
		recorder: recorder,
		tracer:   tracer,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Apply runs pending in order and stops at the first failure. The returned
// outcomes hold one entry per pending file: applied ones first, then at most one
// failure, then the files that were not attempted.
func (a *Applier) Apply(ctx context.Context, pending []model.MigrationFile) ([]model.Outcome, error) {
	outcomes := make([]model.Outcome, 0, len(pending))

	for i, file := range pending {
		a.logger.Info("applying migration",
			"filename", file.Filename,
			"position", i+1,
			"total", len(pending),
		)

		outcome, err := a.applyOne(ctx, file)
		outcomes = append(outcomes, outcome)
		a.recorder.ObserveOutcome(outcome)

		if err != nil {
			a.logger.Error("migration failed, aborting run",
				"filename", file.Filename,
				"error", err,
				"duration_ms", outcome.Duration.Milliseconds(),
			)
			for _, rest := range pending[i+1:] {
				skipped := model.Skipped(rest.Filename)
				outcomes = append(outcomes, skipped)
				a.recorder.ObserveOutcome(skipped)
			}
			return outcomes, err
		}

		a.logger.Info("migration applied",
			"filename", file.Filename,
			"checksum", outcome.Checksum,
			"duration_ms", outcome.Duration.Milliseconds(),
		)
	}

	return outcomes, nil
}

func (a *Applier) applyOne(ctx context.Context, file model.MigrationFile) (outcome model.Outcome, err error) {
	start := a.now()
	checksum := Checksum(file.Content)

	ctx, span := a.tracer.Start(ctx, "migration.apply", trace.WithAttributes(
		attribute.String("migration.filename", file.Filename),
		attribute.String("migration.checksum", checksum),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	// The transaction lives on this context, so the timeout covers begin to commit.
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	fail := func(op string, kind, cause error) (model.Outcome, error) {
		wrapped := model.NewMigrationError(file.Filename, op, fmt.Errorf("%w: %w", kind, cause))
		return model.Failed(file.Filename, wrapped, a.now().Sub(start)), wrapped
	}

	tx, err := a.ledger.Begin(ctx)
	if err != nil {
		return fail("begin transaction", model.ErrMigrationExecution, err)
	}

	done := false
	defer func() {
		if !done {
			// Panic or early return: the connection must still go back to the pool.
			_ = tx.Rollback()
		}
	}()

	rollback := func(op string, kind, cause error) (model.Outcome, error) {
		done = true
		if rbErr := tx.Rollback(); rbErr != nil {
			a.logger.Error("rollback failed",
				"filename", file.Filename,
				"error", rbErr,
			)
			cause = errors.Join(cause, fmt.Errorf("rollback: %w", rbErr))
		}
		return fail(op, kind, cause)
	}

	if err := tx.Exec(ctx, string(file.Content)); err != nil {
		return rollback("execute", model.ErrMigrationExecution, err)
	}

	if err := tx.Record(ctx, file.Filename, checksum); err != nil {
		return rollback("record", model.ErrLedgerWrite, err)
	}

	if err := tx.Commit(); err != nil {
		return rollback("commit", model.ErrMigrationExecution, err)
	}
	done = true

	appliedAt := a.now()
	return model.Applied(file.Filename, checksum, appliedAt.UTC(), appliedAt.Sub(start)), nil
}
