package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiobook/studiobook/internal/migration/domain/model"
)

const (
	customersSQL   = "CREATE TABLE customers (id INT PRIMARY KEY, email TEXT NOT NULL);"
	membershipsSQL = "CREATE TABLE memberships (id INT PRIMARY KEY, customer_id INT NOT NULL);"
	classesSQL     = "CREATE TABLE classes (id INT PRIMARY KEY, starts_at TIMESTAMP NOT NULL);"
)

func newTestRunner(pool *fakePool, ledger *fakeLedger, source *fakeSource, opts ...Option) *Runner {
	opts = append([]Option{WithRunID("run-test")}, opts...)
	return NewRunner(pool, ledger, source, opts...)
}

func TestRunnerEmptySource(t *testing.T) {
	pool := &fakePool{}
	ledger := newFakeLedger()

	report := newTestRunner(pool, ledger, newFakeSource(map[string]string{})).Run(context.Background())

	assert.Equal(t, model.ExitOK, report.ExitCode)
	assert.Equal(t, model.StateTerminated, report.State)
	assert.True(t, report.Succeeded())
	assert.NoError(t, report.Err)
	assert.Equal(t, 1, ledger.ensureCalls)
	assert.Equal(t, 0, ledger.begun)
	assert.Empty(t, report.Outcomes)
	assert.Equal(t, 1, pool.closeCalls)
	assert.Equal(t, "run-test", report.RunID)
}

func TestRunnerAppliesAllInOrder(t *testing.T) {
	pool := &fakePool{}
	ledger := newFakeLedger()
	source := newFakeSource(map[string]string{
		"003_classes.sql":     classesSQL,
		"001_customers.sql":   customersSQL,
		"002_memberships.sql": membershipsSQL,
		"README.md":           "# migrations",
	})

	report := newTestRunner(pool, ledger, source).Run(context.Background())

	require.Equal(t, model.ExitOK, report.ExitCode, "err: %v", report.Err)
	assert.Equal(t, 3, report.AppliedCount())
	assert.Equal(t, []string{"001_customers.sql", "002_memberships.sql", "003_classes.sql"}, ledger.filenames())
	assert.Equal(t, []string{customersSQL, membershipsSQL, classesSQL}, ledger.executed)
	assert.NotContains(t, source.reads, "README.md")
	for i, o := range report.Outcomes {
		assert.Equal(t, ledger.entries[i].Filename, o.Filename)
		assert.Equal(t, Checksum([]byte(source.files[o.Filename])), ledger.entries[i].Checksum)
	}
	assert.Equal(t, 1, pool.closeCalls)
}

func TestRunnerChecksumMismatchIsFatal(t *testing.T) {
	pool := &fakePool{}
	ledger := newFakeLedger(entry("001_customers.sql", customersSQL))
	source := newFakeSource(map[string]string{
		"001_customers.sql":   customersSQL + "\nALTER TABLE customers ADD COLUMN phone TEXT;",
		"002_memberships.sql": membershipsSQL,
	})

	report := newTestRunner(pool, ledger, source).Run(context.Background())

	assert.Equal(t, model.ExitFailure, report.ExitCode)
	assert.Equal(t, model.StatePlanning, report.FailedIn)
	assert.Equal(t, model.StateTerminated, report.State)
	assert.ErrorIs(t, report.Err, model.ErrChecksumMismatch)

	var mismatchErr *model.MismatchError
	require.True(t, errors.As(report.Err, &mismatchErr))
	require.Len(t, mismatchErr.Mismatches, 1)
	assert.Equal(t, "001_customers.sql", mismatchErr.Mismatches[0].Filename)

	assert.Equal(t, 0, ledger.begun)
	assert.Equal(t, []string{"001_customers.sql"}, ledger.filenames())
	assert.Equal(t, 1, pool.closeCalls)
}

func TestRunnerMismatchToleratedWhenConfigured(t *testing.T) {
	pool := &fakePool{}
	ledger := newFakeLedger(entry("001_customers.sql", customersSQL))
	source := newFakeSource(map[string]string{
		"001_customers.sql":   "-- edited\n" + customersSQL,
		"002_memberships.sql": membershipsSQL,
	})

	report := newTestRunner(pool, ledger, source, WithConfig(RunnerConfig{FailOnMismatch: false})).Run(context.Background())

	assert.Equal(t, model.ExitOK, report.ExitCode)
	require.Len(t, report.Plan.Mismatches, 1)
	assert.Equal(t, []string{"001_customers.sql", "002_memberships.sql"}, ledger.filenames())
	assert.Equal(t, []string{membershipsSQL}, ledger.executed)
}

func TestRunnerAppliesOnlyPending(t *testing.T) {
	pool := &fakePool{}
	ledger := newFakeLedger(entry("001_customers.sql", customersSQL))
	source := newFakeSource(map[string]string{
		"001_customers.sql":   customersSQL,
		"002_memberships.sql": membershipsSQL,
	})

	report := newTestRunner(pool, ledger, source).Run(context.Background())

	require.Equal(t, model.ExitOK, report.ExitCode, "err: %v", report.Err)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, "002_memberships.sql", report.Outcomes[0].Filename)
	assert.Equal(t, []string{"001_customers.sql"}, report.Plan.Applied)
	assert.Equal(t, []string{"001_customers.sql", "002_memberships.sql"}, ledger.filenames())
	assert.Equal(t, []string{membershipsSQL}, ledger.executed)
}

func TestRunnerFailedMigrationLeavesLedgerUnchanged(t *testing.T) {
	pool := &fakePool{}
	ledger := newFakeLedger(entry("001_customers.sql", customersSQL))
	ledger.execErr["CREATE TABEL memberships;"] = errors.New(`syntax error at or near "TABEL"`)
	source := newFakeSource(map[string]string{
		"001_customers.sql":   customersSQL,
		"002_memberships.sql": "CREATE TABEL memberships;",
		"003_classes.sql":     classesSQL,
	})

	report := newTestRunner(pool, ledger, source).Run(context.Background())

	assert.Equal(t, model.ExitFailure, report.ExitCode)
	assert.Equal(t, model.StateApplying, report.FailedIn)
	assert.ErrorIs(t, report.Err, model.ErrMigrationExecution)
	assert.Equal(t, 1, report.FailedCount())
	assert.Equal(t, 1, report.SkippedCount())
	assert.Equal(t, []string{"001_customers.sql"}, ledger.filenames())
	assert.Empty(t, ledger.executed)
	assert.Equal(t, 0, ledger.openTx)
	assert.Equal(t, 1, pool.closeCalls)
}

func TestRunnerIsIdempotent(t *testing.T) {
	ledger := newFakeLedger()
	source := newFakeSource(map[string]string{
		"001_customers.sql":   customersSQL,
		"002_memberships.sql": membershipsSQL,
	})

	first := newTestRunner(&fakePool{}, ledger, source).Run(context.Background())
	require.Equal(t, model.ExitOK, first.ExitCode)
	require.Equal(t, 2, first.AppliedCount())

	second := newTestRunner(&fakePool{}, ledger, source).Run(context.Background())
	assert.Equal(t, model.ExitOK, second.ExitCode)
	assert.Equal(t, 0, second.AppliedCount())
	assert.Equal(t, []string{"001_customers.sql", "002_memberships.sql"}, second.Plan.Applied)
	assert.Len(t, ledger.filenames(), 2)
	assert.Equal(t, 2, ledger.begun)
}

func TestRunnerInfrastructureFailures(t *testing.T) {
	boom := errors.New("connection reset by peer")

	tests := []struct {
		name       string
		setup      func(l *fakeLedger, s *fakeSource)
		wantErr    error
		wantFailed model.State
	}{
		{
			name:       "ledger table cannot be created",
			setup:      func(l *fakeLedger, s *fakeSource) { l.ensureErr = boom },
			wantErr:    model.ErrLedgerUnavailable,
			wantFailed: model.StateEnsuringLedger,
		},
		{
			name:       "source cannot be listed",
			setup:      func(l *fakeLedger, s *fakeSource) { s.listErr = boom },
			wantErr:    model.ErrSourceUnavailable,
			wantFailed: model.StatePlanning,
		},
		{
			name:       "ledger cannot be read",
			setup:      func(l *fakeLedger, s *fakeSource) { l.loadErr = boom },
			wantErr:    model.ErrLedgerUnavailable,
			wantFailed: model.StatePlanning,
		},
		{
			name:       "migration cannot be read",
			setup:      func(l *fakeLedger, s *fakeSource) { s.readErr["001_customers.sql"] = boom },
			wantErr:    model.ErrSourceUnavailable,
			wantFailed: model.StatePlanning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := &fakePool{}
			ledger := newFakeLedger()
			source := newFakeSource(map[string]string{"001_customers.sql": customersSQL})
			tt.setup(ledger, source)

			report := newTestRunner(pool, ledger, source).Run(context.Background())

			assert.Equal(t, model.ExitFailure, report.ExitCode)
			assert.Equal(t, tt.wantFailed, report.FailedIn)
			assert.Equal(t, model.StateTerminated, report.State)
			assert.ErrorIs(t, report.Err, tt.wantErr)
			assert.ErrorIs(t, report.Err, boom)
			assert.Equal(t, 0, ledger.begun)
			assert.Equal(t, 1, pool.closeCalls)
		})
	}
}

func TestRunnerMissingMigrations(t *testing.T) {
	ledger := func() *fakeLedger {
		return newFakeLedger(
			entry("000_legacy.sql", "CREATE TABLE legacy (id INT);"),
			entry("001_customers.sql", customersSQL),
		)
	}
	source := newFakeSource(map[string]string{"001_customers.sql": customersSQL})

	t.Run("warned by default", func(t *testing.T) {
		report := newTestRunner(&fakePool{}, ledger(), source).Run(context.Background())
		assert.Equal(t, model.ExitOK, report.ExitCode)
		assert.Equal(t, []string{"000_legacy.sql"}, report.Plan.Missing)
	})

	t.Run("fatal when configured", func(t *testing.T) {
		cfg := DefaultRunnerConfig()
		cfg.FailOnMissing = true
		report := newTestRunner(&fakePool{}, ledger(), source, WithConfig(cfg)).Run(context.Background())
		assert.Equal(t, model.ExitFailure, report.ExitCode)
		assert.ErrorIs(t, report.Err, model.ErrMissingMigration)
		assert.Contains(t, report.Err.Error(), "000_legacy.sql")
	})
}

func TestRunnerDryRun(t *testing.T) {
	pool := &fakePool{}
	ledger := newFakeLedger(entry("001_customers.sql", customersSQL))
	source := newFakeSource(map[string]string{
		"001_customers.sql":   customersSQL,
		"002_memberships.sql": membershipsSQL,
	})
	cfg := DefaultRunnerConfig()
	cfg.DryRun = true

	report := newTestRunner(pool, ledger, source, WithConfig(cfg)).Run(context.Background())

	assert.Equal(t, model.ExitOK, report.ExitCode)
	assert.True(t, report.DryRun)
	assert.Equal(t, []string{"002_memberships.sql"}, report.Plan.PendingFilenames())
	assert.Empty(t, report.Outcomes)
	assert.Equal(t, 0, ledger.begun)
	assert.Equal(t, 1, pool.closeCalls)
}

func TestRunnerIsSingleUse(t *testing.T) {
	pool := &fakePool{}
	ledger := newFakeLedger()
	runner := newTestRunner(pool, ledger, newFakeSource(map[string]string{"001_customers.sql": customersSQL}))

	first := runner.Run(context.Background())
	require.Equal(t, model.ExitOK, first.ExitCode)

	second := runner.Run(context.Background())
	assert.Equal(t, model.ExitFailure, second.ExitCode)
	assert.ErrorIs(t, second.Err, ErrRunnerUsed)
	assert.Equal(t, 1, pool.closeCalls)
	assert.Equal(t, 1, ledger.ensureCalls)
}

func TestRunnerPoolCloseErrorDoesNotFailRun(t *testing.T) {
	pool := &fakePool{closeErr: errors.New("already closed")}

	report := newTestRunner(pool, newFakeLedger(), newFakeSource(map[string]string{})).Run(context.Background())

	assert.Equal(t, model.ExitOK, report.ExitCode)
	assert.Equal(t, 1, pool.closeCalls)
}

func TestRunnerPublishesReport(t *testing.T) {
	source := newFakeSource(map[string]string{"001_customers.sql": customersSQL})

	t.Run("delivered", func(t *testing.T) {
		pub := &fakePublisher{}
		report := newTestRunner(&fakePool{}, newFakeLedger(), source, WithPublisher(pub)).Run(context.Background())
		require.Len(t, pub.reports, 1)
		assert.Same(t, report, pub.reports[0])
		assert.Equal(t, 1, pub.reports[0].AppliedCount())
	})

	t.Run("publish failure keeps exit code", func(t *testing.T) {
		pub := &fakePublisher{err: errors.New("broker unavailable")}
		report := newTestRunner(&fakePool{}, newFakeLedger(), source, WithPublisher(pub)).Run(context.Background())
		assert.Equal(t, model.ExitOK, report.ExitCode)
		assert.Len(t, pub.reports, 1)
	})
}

func TestRunnerRecordsObservations(t *testing.T) {
	rec := &fakeRecorder{}
	source := newFakeSource(map[string]string{
		"001_customers.sql":   customersSQL,
		"002_memberships.sql": membershipsSQL,
	})

	report := newTestRunner(&fakePool{}, newFakeLedger(), source, WithRecorder(rec)).Run(context.Background())

	assert.Equal(t, 1, rec.plans)
	assert.Len(t, rec.outcomes, 2)
	require.Len(t, rec.runs, 1)
	assert.Same(t, report, rec.runs[0])
}

func TestRunnerOperationTimeout(t *testing.T) {
	ledger := newFakeLedger()
	cfg := DefaultRunnerConfig()
	cfg.OperationTimeout = time.Minute
	source := newFakeSource(map[string]string{"001_customers.sql": customersSQL})

	report := newTestRunner(&fakePool{}, ledger, source, WithConfig(cfg)).Run(context.Background())

	assert.Equal(t, model.ExitOK, report.ExitCode)
	assert.True(t, ledger.sawDeadline)
}

func TestRunnerTimestamps(t *testing.T) {
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	runner := newTestRunner(&fakePool{}, newFakeLedger(), newFakeSource(map[string]string{}))
	runner.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	report := runner.Run(context.Background())

	assert.False(t, report.StartedAt.IsZero())
	assert.True(t, report.FinishedAt.After(report.StartedAt))
	assert.Equal(t, time.Second, report.Duration())
}
