// Package model defines migration domain models
package model

import (
	"sort"
	"strings"
	"time"
)

// DefaultExtension is the file extension recognized as a SQL migration
const DefaultExtension = ".sql"

// MigrationFile represents one candidate change-set discovered in a source
type MigrationFile struct {
	Filename string
	Location string
	Content  []byte
	Checksum string
}

// LedgerEntry represents a migration that was committed to the database
type LedgerEntry struct {
	Filename  string
	Checksum  string
	AppliedAt time.Time
}

// Mismatch reports drift between the recorded and current checksum of a file
type Mismatch struct {
	Filename string
	Recorded string
	Current  string
}

// Plan is the reconciliation of the source listing against the ledger
type Plan struct {
	Pending    []MigrationFile
	Applied    []string
	Mismatches []Mismatch
	Missing    []string
}

// HasMismatches returns true if any applied file drifted
func (p *Plan) HasMismatches() bool {
	return p != nil && len(p.Mismatches) > 0
}

// HasMissing returns true if the ledger references files absent from the source
func (p *Plan) HasMissing() bool {
	return p != nil && len(p.Missing) > 0
}

// PendingFilenames returns the pending filenames in apply order
func (p *Plan) PendingFilenames() []string {
	if p == nil {
		return nil
	}
	names := make([]string, 0, len(p.Pending))
	for _, f := range p.Pending {
		names = append(names, f.Filename)
	}
	return names
}

// MatchesExtension reports whether name carries the migration extension.
// An empty extension falls back to DefaultExtension.
func MatchesExtension(name, ext string) bool {
	if ext == "" {
		ext = DefaultExtension
	}
	return len(name) > len(ext) && strings.HasSuffix(name, ext)
}

// SortFiles orders files ascending by filename using byte-wise comparison
func SortFiles(files []MigrationFile) {
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].Filename < files[j].Filename
	})
}
