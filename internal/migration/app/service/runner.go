package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/studiobook/studiobook/internal/migration/domain/model"
	"github.com/studiobook/studiobook/internal/platform/logger"
)

// ErrRunnerUsed is returned when Run is called a second time; the pool is gone.
var ErrRunnerUsed = errors.New("runner already used")

// RunnerConfig holds the run policy
type RunnerConfig struct {
	// FailOnMismatch aborts the run before applying anything when an applied file drifted
	FailOnMismatch bool
	// FailOnMissing aborts the run when the ledger references files absent from the source
	FailOnMissing bool
	// OperationTimeout bounds every database call; zero means no bound
	OperationTimeout time.Duration
	// DryRun stops after planning
	DryRun bool
}

// DefaultRunnerConfig returns the safe policy: drift is fatal
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{FailOnMismatch: true}
}

// Runner drives one migration run through
// init, ensuring ledger, planning, applying, reporting and termination.
// It owns the pool it was given and closes it exactly once.
type Runner struct {
	pool      Pool
	ledger    Ledger
	source    Source
	config    RunnerConfig
	logger    logger.Logger
	recorder  Recorder
	tracer    trace.Tracer
	publisher ReportPublisher
	runID     string
	now       func() time.Time

	mu        sync.Mutex
	used      bool
	closeOnce sync.Once
	closeErr  error
}

// Option configures a Runner
type Option func(*Runner)

// WithConfig sets the run policy
func WithConfig(cfg RunnerConfig) Option {
	return func(r *Runner) { r.config = cfg }
}

// WithLogger sets the logger
func WithLogger(log logger.Logger) Option {
	return func(r *Runner) { r.logger = log }
}

// WithRecorder sets the metrics recorder
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// WithTracer sets the tracer used for run and migration spans
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runner) { r.tracer = tracer }
}

// WithPublisher sets a sink that receives the run report
func WithPublisher(p ReportPublisher) Option {
	return func(r *Runner) { r.publisher = p }
}

// WithRunID overrides the generated run identifier
func WithRunID(id string) Option {
	return func(r *Runner) { r.runID = id }
}

// NewRunner creates a runner. The runner takes ownership of pool.
func NewRunner(pool Pool, ledger Ledger, source Source, opts ...Option) *Runner {
	r := &Runner{
		pool:   pool,
		ledger: ledger,
		source: source,
		config: DefaultRunnerConfig(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.NewNop()
	}
	if r.recorder == nil {
		r.recorder = nopRecorder{}
	}
	if r.tracer == nil {
		r.tracer = noop.NewTracerProvider().Tracer("")
	}
	if r.runID == "" {
		r.runID = uuid.NewString()
	}
	return r
}

// Run executes the run and returns its report. The pool is closed before Run
// returns, whatever the outcome. ExitCode on the report is the process status.
func (r *Runner) Run(ctx context.Context) *model.RunReport {
	report := &model.RunReport{
		RunID:     r.runID,
		DryRun:    r.config.DryRun,
		State:     model.StateInit,
		StartedAt: r.now(),
	}
	log := r.logger.WithFields(map[string]interface{}{"run_id": r.runID})

	r.mu.Lock()
	used := r.used
	r.used = true
	r.mu.Unlock()
	if used {
		report.Err = ErrRunnerUsed
		report.FailedIn = model.StateInit
		report.ExitCode = model.ExitFailure
		report.State = model.StateTerminated
		report.FinishedAt = r.now()
		return report
	}

	ctx, span := r.tracer.Start(ctx, "migration.run", trace.WithAttributes(
		attribute.String("migration.run_id", r.runID),
		attribute.Bool("migration.dry_run", r.config.DryRun),
	))
	defer span.End()

	log.Info("migration run starting", "dry_run", r.config.DryRun)

	err := r.execute(ctx, report, log)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	r.finish(ctx, report, err, log)
	span.SetAttributes(
		attribute.Int("migration.applied", report.AppliedCount()),
		attribute.Int("migration.exit_code", report.ExitCode),
	)
	return report
}

func (r *Runner) execute(ctx context.Context, report *model.RunReport, log logger.Logger) error {
	report.State = model.StateEnsuringLedger
	if err := r.call(ctx, r.ledger.EnsureTable); err != nil {
		return model.NewMigrationError("", "ensure ledger table", fmt.Errorf("%w: %w", model.ErrLedgerUnavailable, err))
	}

	report.State = model.StatePlanning
	plan, err := r.plan(ctx, log)
	report.Plan = plan
	if err != nil {
		return err
	}
	r.recorder.ObservePlan(plan)

	if r.config.DryRun {
		for _, f := range plan.Pending {
			log.Info("pending migration", "filename", f.Filename, "checksum", f.Checksum)
		}
		return nil
	}

	report.State = model.StateApplying
	outcomes, err := r.newApplier(log).Apply(ctx, plan.Pending)
	report.Outcomes = outcomes
	return err
}

func (r *Runner) plan(ctx context.Context, log logger.Logger) (*model.Plan, error) {
	ctx, span := r.tracer.Start(ctx, "migration.plan")
	defer span.End()

	files, err := r.source.List(ctx)
	if err != nil {
		if !errors.Is(err, model.ErrSourceUnavailable) {
			err = fmt.Errorf("%w: %w", model.ErrSourceUnavailable, err)
		}
		return nil, model.NewMigrationError("", "list migrations", err)
	}

	var entries []model.LedgerEntry
	err = r.call(ctx, func(ctx context.Context) error {
		var loadErr error
		entries, loadErr = r.ledger.LoadAll(ctx)
		return loadErr
	})
	if err != nil {
		return nil, model.NewMigrationError("", "load ledger", fmt.Errorf("%w: %w", model.ErrLedgerUnavailable, err))
	}

	plan, err := NewPlanner(r.source).Plan(ctx, files, entries)
	if err != nil {
		return nil, err
	}

	log.Info("migration plan computed",
		"source_files", len(files),
		"ledger_entries", len(entries),
		"already_applied", len(plan.Applied),
		"pending", len(plan.Pending),
		"mismatches", len(plan.Mismatches),
		"missing", len(plan.Missing),
	)
	span.SetAttributes(
		attribute.Int("migration.pending", len(plan.Pending)),
		attribute.Int("migration.mismatches", len(plan.Mismatches)),
	)

	for _, m := range plan.Mismatches {
		log.Error("applied migration changed since it was recorded",
			"filename", m.Filename,
			"recorded_checksum", m.Recorded,
			"current_checksum", m.Current,
		)
	}
	if plan.HasMismatches() && r.config.FailOnMismatch {
		return plan, &model.MismatchError{Mismatches: plan.Mismatches}
	}

	for _, name := range plan.Missing {
		log.Warn("applied migration not found in source", "filename", name)
	}
	if plan.HasMissing() && r.config.FailOnMissing {
		return plan, fmt.Errorf("%w: %s", model.ErrMissingMigration, strings.Join(plan.Missing, ", "))
	}

	return plan, nil
}

func (r *Runner) finish(ctx context.Context, report *model.RunReport, err error, log logger.Logger) {
	if err != nil {
		report.Err = err
		report.FailedIn = report.State
		report.ExitCode = model.ExitFailure
		log.Error("migration run failed",
			"state", string(report.State),
			"applied", report.AppliedCount(),
			"error", err,
		)
	} else {
		report.State = model.StateReporting
		report.ExitCode = model.ExitOK
		msg := "migrations applied"
		if report.DryRun {
			msg = "migration status checked"
		}
		log.Info(msg,
			"applied", report.AppliedCount(),
			"pending", len(report.Plan.Pending)-report.AppliedCount(),
		)
	}

	for _, o := range report.Outcomes {
		switch o.Kind {
		case model.OutcomeApplied:
			log.Debug("outcome", "kind", string(o.Kind), "filename", o.Filename, "checksum", o.Checksum, "applied_at", o.AppliedAt)
		case model.OutcomeFailed:
			log.Debug("outcome", "kind", string(o.Kind), "filename", o.Filename, "error", o.Err)
		default:
			log.Debug("outcome", "kind", string(o.Kind), "filename", o.Filename)
		}
	}

	report.FinishedAt = r.now()
	r.recorder.ObserveRun(report)

	if r.publisher != nil {
		pubErr := r.call(ctx, func(ctx context.Context) error {
			return r.publisher.PublishRunReport(ctx, report)
		})
		if pubErr != nil {
			log.Warn("failed to publish run report", "error", pubErr)
		}
	}

	if closeErr := r.closePool(); closeErr != nil {
		log.Warn("failed to close database pool", "error", closeErr)
	}
	report.State = model.StateTerminated
	log.Info("migration run terminated", "exit_code", report.ExitCode, "duration_ms", report.Duration().Milliseconds())
}

func (r *Runner) closePool() error {
	r.closeOnce.Do(func() {
		if r.pool != nil {
			r.closeErr = r.pool.Close()
		}
	})
	return r.closeErr
}

func (r *Runner) newApplier(log logger.Logger) *Applier {
	a := NewApplier(r.ledger, log, r.recorder, r.tracer, r.config.OperationTimeout)
	a.now = r.now
	return a
}

func (r *Runner) call(ctx context.Context, fn func(context.Context) error) error {
	if r.config.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.OperationTimeout)
		defer cancel()
	}
	return fn(ctx)
}
