package metrics

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/studiobook/studiobook/internal/migration/domain/model"
)

// Metrics holds the Prometheus metrics of a migration run
type Metrics struct {
	registry *prometheus.Registry

	// Run metrics
	RunsTotal       *prometheus.CounterVec
	RunDuration     prometheus.Gauge
	LastSuccess     prometheus.Gauge
	LastRunExitCode prometheus.Gauge

	// Plan metrics
	PendingMigrations  prometheus.Gauge
	AppliedMigrations  prometheus.Gauge
	ChecksumMismatches prometheus.Gauge
	MissingMigrations  prometheus.Gauge

	// Migration metrics
	MigrationsTotal   *prometheus.CounterVec
	MigrationDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all run metrics on a dedicated registry
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		// Run metrics
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "migration_runs_total",
				Help:      "Total number of migration runs",
			},
			[]string{"mode", "result"},
		),
		RunDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "migration_run_duration_seconds",
				Help:      "Wall time of the last migration run in seconds",
			},
		),
		LastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "migration_last_success_timestamp_seconds",
				Help:      "Unix time of the last successful migration run",
			},
		),
		LastRunExitCode: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "migration_last_run_exit_code",
				Help:      "Exit code of the last migration run",
			},
		),

		// Plan metrics
		PendingMigrations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "migration_pending",
				Help:      "Number of migrations pending at plan time",
			},
		),
		AppliedMigrations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "migration_already_applied",
				Help:      "Number of source migrations already recorded in the ledger at plan time",
			},
		),
		ChecksumMismatches: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "migration_checksum_mismatches",
				Help:      "Number of applied migrations whose content changed",
			},
		),
		MissingMigrations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "migration_missing",
				Help:      "Number of ledger entries with no source file",
			},
		),

		// Migration metrics
		MigrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "migrations_total",
				Help:      "Total number of pending migrations by outcome",
			},
			[]string{"outcome"},
		),
		MigrationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "migration_duration_seconds",
				Help:      "Time spent applying a single migration in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
			},
			[]string{"outcome"},
		),
	}

	// Register all metrics
	m.Register()

	return m
}

// Register registers all metrics with the registry
func (m *Metrics) Register() {
	m.registry.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.LastSuccess,
		m.LastRunExitCode,
		m.PendingMigrations,
		m.AppliedMigrations,
		m.ChecksumMismatches,
		m.MissingMigrations,
		m.MigrationsTotal,
		m.MigrationDuration,
	)
}

// RegisterDBStats exposes pool statistics of db under the given name
func (m *Metrics) RegisterDBStats(db *sql.DB, name string) error {
	if err := m.registry.Register(collectors.NewDBStatsCollector(db, name)); err != nil {
		return fmt.Errorf("failed to register db stats collector: %w", err)
	}
	return nil
}

// Registry returns the registry holding the run metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObservePlan records the plan sizes
func (m *Metrics) ObservePlan(plan *model.Plan) {
	m.PendingMigrations.Set(float64(len(plan.Pending)))
	m.AppliedMigrations.Set(float64(len(plan.Applied)))
	m.ChecksumMismatches.Set(float64(len(plan.Mismatches)))
	m.MissingMigrations.Set(float64(len(plan.Missing)))
}

// ObserveOutcome records one applier outcome
func (m *Metrics) ObserveOutcome(o model.Outcome) {
	m.MigrationsTotal.WithLabelValues(string(o.Kind)).Inc()
	if o.Kind != model.OutcomeSkipped {
		m.MigrationDuration.WithLabelValues(string(o.Kind)).Observe(o.Duration.Seconds())
	}
}

// ObserveRun records the end of a run
func (m *Metrics) ObserveRun(report *model.RunReport) {
	mode := "up"
	if report.DryRun {
		mode = "status"
	}
	result := "success"
	if report.ExitCode != model.ExitOK {
		result = "failure"
	}

	m.RunsTotal.WithLabelValues(mode, result).Inc()
	m.RunDuration.Set(report.Duration().Seconds())
	m.LastRunExitCode.Set(float64(report.ExitCode))
	if report.ExitCode == model.ExitOK {
		m.LastSuccess.Set(float64(report.FinishedAt.Unix()))
	}
}

// Push sends the registry to a Prometheus Pushgateway under job, grouped by instance
func (m *Metrics) Push(ctx context.Context, url, job, instance string) error {
	pusher := push.New(url, job).Gatherer(m.registry)
	if instance != "" {
		pusher = pusher.Grouping("instance", instance)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}
