package bootstrap

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/studiobook/studiobook/internal/migration/domain/model"
)

// Output formats of WriteStatus
const (
	FormatText = "text"
	FormatJSON = "json"
)

// StatusResponse is the machine-readable form of a run report
type StatusResponse struct {
	RunID      string              `json:"run_id"`
	Mode       string              `json:"mode"`
	ExitCode   int                 `json:"exit_code"`
	FailedIn   string              `json:"failed_in,omitempty"`
	Error      string              `json:"error,omitempty"`
	Migrations []MigrationResponse `json:"migrations"`
	Missing    []string            `json:"missing,omitempty"`
	DurationMs int64               `json:"duration_ms"`
}

// MigrationResponse represents a single migration in a status response
type MigrationResponse struct {
	Filename   string `json:"filename"`
	Status     string `json:"status"`
	Checksum   string `json:"checksum,omitempty"`
	AppliedAt  string `json:"applied_at,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Migration statuses shown by WriteStatus
const (
	StatusUpToDate = "up to date"
	StatusPending  = "pending"
	StatusChanged  = "changed"
)

// NewStatusResponse flattens report into one row per source migration
func NewStatusResponse(report *model.RunReport) *StatusResponse {
	resp := &StatusResponse{
		RunID:      report.RunID,
		Mode:       "up",
		ExitCode:   report.ExitCode,
		Migrations: []MigrationResponse{},
		DurationMs: report.Duration().Milliseconds(),
	}
	if report.DryRun {
		resp.Mode = "status"
	}
	if report.Err != nil {
		resp.FailedIn = string(report.FailedIn)
		resp.Error = report.Err.Error()
	}
	if report.Plan == nil {
		return resp
	}

	for _, name := range report.Plan.Applied {
		resp.Migrations = append(resp.Migrations, MigrationResponse{Filename: name, Status: StatusUpToDate})
	}
	for _, m := range report.Plan.Mismatches {
		resp.Migrations = append(resp.Migrations, MigrationResponse{Filename: m.Filename, Status: StatusChanged, Checksum: m.Current})
	}

	outcomes := make(map[string]model.Outcome, len(report.Outcomes))
	for _, o := range report.Outcomes {
		outcomes[o.Filename] = o
	}
	for _, f := range report.Plan.Pending {
		row := MigrationResponse{Filename: f.Filename, Status: StatusPending, Checksum: f.Checksum}
		if o, ok := outcomes[f.Filename]; ok {
			row.Status = string(o.Kind)
			row.DurationMs = o.Duration.Milliseconds()
			if !o.AppliedAt.IsZero() {
				row.AppliedAt = o.AppliedAt.Format(time.RFC3339)
			}
			if o.Err != nil {
				row.Error = o.Err.Error()
			}
		}
		resp.Migrations = append(resp.Migrations, row)
	}
	sort.SliceStable(resp.Migrations, func(i, j int) bool {
		return resp.Migrations[i].Filename < resp.Migrations[j].Filename
	})

	resp.Missing = report.Plan.Missing
	return resp
}

// WriteStatus prints report to w in the given format
func WriteStatus(w io.Writer, report *model.RunReport, format string) error {
	resp := NewStatusResponse(report)

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	case FormatText, "":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MIGRATION\tSTATUS\tAPPLIED AT")
	for _, m := range resp.Migrations {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Filename, m.Status, m.AppliedAt)
	}
	for _, name := range resp.Missing {
		fmt.Fprintf(tw, "%s\t%s\t\n", name, "missing from source")
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if resp.Error != "" {
		_, err := fmt.Fprintf(w, "\nrun %s failed in %s: %s\n", resp.RunID, resp.FailedIn, resp.Error)
		return err
	}
	_, err := fmt.Fprintf(w, "\nrun %s finished (%s, %dms)\n", resp.RunID, resp.Mode, resp.DurationMs)
	return err
}
