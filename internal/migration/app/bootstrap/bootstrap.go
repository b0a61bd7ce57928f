// Package bootstrap wires configuration into a migration run
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/studiobook/studiobook/internal/migration/adapters/repository/ledger"
	"github.com/studiobook/studiobook/internal/migration/adapters/source/filesystem"
	s3source "github.com/studiobook/studiobook/internal/migration/adapters/source/s3"
	"github.com/studiobook/studiobook/internal/migration/app/service"
	"github.com/studiobook/studiobook/internal/migration/domain/model"
	"github.com/studiobook/studiobook/internal/platform/config"
	"github.com/studiobook/studiobook/internal/platform/database"
	"github.com/studiobook/studiobook/internal/platform/logger"
	"github.com/studiobook/studiobook/internal/platform/messaging/kafka"
	"github.com/studiobook/studiobook/internal/platform/metrics"
	"github.com/studiobook/studiobook/internal/platform/telemetry"
)

const (
	metricsNamespace = "studiobook"
	metricsJob       = "studiobook_migration"
	pushTimeout      = 10 * time.Second
)

// App builds the collaborators of a run from configuration
type App struct {
	config    *config.Config
	logger    logger.Logger
	fs        afero.Fs
	s3Client  s3source.API
	publisher service.ReportPublisher
	now       func() time.Time
}

type Option func(*App)

func WithConfig(cfg *config.Config) Option {
	return func(a *App) { a.config = cfg }
}

func WithLogger(log logger.Logger) Option {
	return func(a *App) { a.logger = log }
}

// WithFs replaces the local disk used by the dir source
func WithFs(fs afero.Fs) Option {
	return func(a *App) { a.fs = fs }
}

// WithS3Client replaces the client built from the AWS default chain
func WithS3Client(client s3source.API) Option {
	return func(a *App) { a.s3Client = client }
}

// WithPublisher replaces the Kafka publisher built from configuration
func WithPublisher(p service.ReportPublisher) Option {
	return func(a *App) { a.publisher = p }
}

func New(opts ...Option) (*App, error) {
	a := &App{now: time.Now}
	for _, opt := range opts {
		opt(a)
	}

	if a.config == nil {
		return nil, errors.New("config is required")
	}
	if err := a.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if a.logger == nil {
		a.logger = logger.NewNop()
	}
	if a.fs == nil {
		a.fs = afero.NewOsFs()
	}

	return a, nil
}

// Run performs one migration run. With dryRun the plan is reported and nothing is applied.
// Failures before the runner takes ownership of the pool are reported as failed in init.
func (a *App) Run(ctx context.Context, dryRun bool) *model.RunReport {
	runID := uuid.NewString()
	log := a.logger.WithFields(map[string]interface{}{"run_id": runID})
	cfg := a.config

	tel, err := telemetry.New(telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Service.Environment,
		JaegerEndpoint: cfg.Telemetry.JaegerEndpoint,
		TracingEnabled: cfg.Telemetry.TracingEnabled,
	})
	if err != nil {
		return a.failed(runID, dryRun, err, log)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			log.Warn("failed to shut down tracing", "error", err)
		}
	}()

	source, err := a.source(ctx)
	if err != nil {
		return a.failed(runID, dryRun, err, log)
	}

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		return a.failed(runID, dryRun, fmt.Errorf("%w: %w", model.ErrLedgerUnavailable, err), log)
	}
	log.Info("connected to database", "driver", db.Driver())

	repo, err := ledger.NewRepository(db, cfg.Migration.Table)
	if err != nil {
		_ = db.Close()
		return a.failed(runID, dryRun, err, log)
	}

	opts := []service.Option{
		service.WithRunID(runID),
		service.WithLogger(a.logger),
		service.WithTracer(tel.Tracer()),
		service.WithConfig(service.RunnerConfig{
			FailOnMismatch:   cfg.Migration.FailOnMismatch,
			FailOnMissing:    cfg.Migration.FailOnMissing,
			OperationTimeout: cfg.Migration.OperationTimeout,
			DryRun:           dryRun,
		}),
	}

	var m *metrics.Metrics
	if cfg.Telemetry.MetricsEnabled {
		m = metrics.NewMetrics(metricsNamespace)
		if err := m.RegisterDBStats(db.DB, "migration"); err != nil {
			log.Warn("database pool metrics disabled", "error", err)
		}
		opts = append(opts, service.WithRecorder(m))
	}

	publisher, closePublisher := a.reportPublisher(log)
	if publisher != nil {
		opts = append(opts, service.WithPublisher(publisher))
	}

	// The runner owns db from here on.
	report := service.NewRunner(db, repo, source, opts...).Run(ctx)

	if closePublisher != nil {
		if err := closePublisher(); err != nil {
			log.Warn("failed to close report publisher", "error", err)
		}
	}

	if m != nil && cfg.Telemetry.PushGatewayURL != "" {
		pushCtx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		defer cancel()
		if err := m.Push(pushCtx, cfg.Telemetry.PushGatewayURL, metricsJob, config.Hostname()); err != nil {
			log.Warn("failed to push metrics", "error", err)
		}
	}

	return report
}

func (a *App) source(ctx context.Context) (service.Source, error) {
	m := a.config.Migration

	switch m.Source {
	case config.SourceS3:
		if a.s3Client != nil {
			return s3source.New(a.s3Client, m.S3Bucket, m.S3Prefix, m.Extension), nil
		}
		src, err := s3source.NewFromConfig(ctx, s3source.Options{
			Bucket:          m.S3Bucket,
			Prefix:          m.S3Prefix,
			Extension:       m.Extension,
			Region:          m.S3Region,
			Endpoint:        m.S3Endpoint,
			AccessKeyID:     m.S3AccessKeyID,
			SecretAccessKey: m.S3SecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", model.ErrSourceUnavailable, err)
		}
		return src, nil
	default:
		return filesystem.New(a.fs, m.Dir, m.Extension), nil
	}
}

// reportPublisher returns the configured sink and, when the app created it, its closer
func (a *App) reportPublisher(log logger.Logger) (service.ReportPublisher, func() error) {
	if a.publisher != nil {
		return a.publisher, nil
	}
	cfg := a.config
	if len(cfg.Kafka.Brokers) == 0 || cfg.Migration.ReportTopic == "" {
		return nil, nil
	}

	pub, err := kafka.NewRunReportPublisher(&kafka.Config{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Migration.ReportTopic,
		ClientID: cfg.Kafka.ClientID,
		Host:     config.Hostname(),
	})
	if err != nil {
		log.Warn("run report publishing disabled", "error", err)
		return nil, nil
	}
	return pub, pub.Close
}

func (a *App) failed(runID string, dryRun bool, err error, log logger.Logger) *model.RunReport {
	now := a.now()
	log.Error("migration run failed", "state", string(model.StateInit), "error", err)
	return &model.RunReport{
		RunID:      runID,
		DryRun:     dryRun,
		State:      model.StateTerminated,
		FailedIn:   model.StateInit,
		ExitCode:   model.ExitFailure,
		Err:        err,
		StartedAt:  now,
		FinishedAt: now,
	}
}
