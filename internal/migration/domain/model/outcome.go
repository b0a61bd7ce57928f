package model

import "time"

// OutcomeKind tags the result of a single pending migration
type OutcomeKind string

const (
	OutcomeApplied OutcomeKind = "applied"
	OutcomeSkipped OutcomeKind = "skipped"
	OutcomeFailed  OutcomeKind = "failed"
)

// Outcome is what the applier did with one pending migration
type Outcome struct {
	Kind      OutcomeKind
	Filename  string
	Checksum  string
	AppliedAt time.Time
	Duration  time.Duration
	Err       error
}

// Applied builds an applied outcome
func Applied(filename, checksum string, appliedAt time.Time, d time.Duration) Outcome {
	return Outcome{
		Kind:      OutcomeApplied,
		Filename:  filename,
		Checksum:  checksum,
		AppliedAt: appliedAt,
		Duration:  d,
	}
}

// Skipped builds an outcome for a migration that was not attempted
func Skipped(filename string) Outcome {
	return Outcome{Kind: OutcomeSkipped, Filename: filename}
}

// Failed builds a failed outcome
func Failed(filename string, cause error, d time.Duration) Outcome {
	return Outcome{
		Kind:     OutcomeFailed,
		Filename: filename,
		Err:      cause,
		Duration: d,
	}
}

// State is a step of the runner state machine
type State string

const (
	StateInit           State = "init"
	StateEnsuringLedger State = "ensuring_ledger"
	StatePlanning       State = "planning"
	StateApplying       State = "applying"
	StateReporting      State = "reporting"
	StateTerminated     State = "terminated"
)

// Exit codes of a run
const (
	ExitOK      = 0
	ExitFailure = 1
)

// RunReport summarizes one execution of the runner
type RunReport struct {
	RunID      string
	DryRun     bool
	State      State
	FailedIn   State
	ExitCode   int
	Plan       *Plan
	Outcomes   []Outcome
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error
}

// AppliedCount returns the number of migrations committed during the run
func (r *RunReport) AppliedCount() int {
	return r.count(OutcomeApplied)
}

// FailedCount returns the number of migrations that failed during the run
func (r *RunReport) FailedCount() int {
	return r.count(OutcomeFailed)
}

// SkippedCount returns the number of pending migrations that were not attempted
func (r *RunReport) SkippedCount() int {
	return r.count(OutcomeSkipped)
}

// Duration returns the wall time of the run
func (r *RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Succeeded returns true if the run terminated with ExitOK
func (r *RunReport) Succeeded() bool {
	return r.State == StateTerminated && r.ExitCode == ExitOK
}

func (r *RunReport) count(kind OutcomeKind) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Kind == kind {
			n++
		}
	}
	return n
}
