package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/studiobook/studiobook/internal/migration/domain/model"
)

// Planner reconciles the source listing against the ledger
type Planner struct {
	source Source
}

// NewPlanner creates a new planner reading content from source
func NewPlanner(source Source) *Planner {
	return &Planner{source: source}
}

// Plan computes the pending set and the drift signals for one run.
//
// Files already in the ledger are re-read and checksummed; a difference is reported
// as a mismatch and never as pending. Files absent from the ledger become pending in
// the order the source listed them. Ledger rows without a source file are reported
// as missing. Whether mismatches or missing files abort the run is decided by the
// caller.
func (p *Planner) Plan(ctx context.Context, files []model.MigrationFile, entries []model.LedgerEntry) (*model.Plan, error) {
	recorded := make(map[string]string, len(entries))
	for _, e := range entries {
		recorded[e.Filename] = e.Checksum
	}

	plan := &model.Plan{
		Pending: make([]model.MigrationFile, 0, len(files)),
	}
	listed := make(map[string]struct{}, len(files))

	for _, f := range files {
		listed[f.Filename] = struct{}{}

		content, err := p.source.Read(ctx, f)
		if err != nil {
			if !errors.Is(err, model.ErrSourceUnavailable) {
				err = fmt.Errorf("%w: %w", model.ErrSourceUnavailable, err)
			}
			return nil, model.NewMigrationError(f.Filename, "read", err)
		}

		f.Content = content
		f.Checksum = Checksum(content)

		stored, applied := recorded[f.Filename]
		switch {
		case !applied:
			plan.Pending = append(plan.Pending, f)
		case stored != f.Checksum:
			plan.Mismatches = append(plan.Mismatches, model.Mismatch{
				Filename: f.Filename,
				Recorded: stored,
				Current:  f.Checksum,
			})
		default:
			plan.Applied = append(plan.Applied, f.Filename)
		}
	}

	for _, e := range entries {
		if _, ok := listed[e.Filename]; !ok {
			plan.Missing = append(plan.Missing, e.Filename)
		}
	}

	return plan, nil
}
