package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/studiobook/studiobook/internal/migration/domain/model"
)

type fakeSource struct {
	files   map[string]string
	listErr error
	readErr map[string]error
	reads   []string
}

func newFakeSource(files map[string]string) *fakeSource {
	return &fakeSource{files: files, readErr: map[string]error{}}
}

func (s *fakeSource) List(ctx context.Context) ([]model.MigrationFile, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]model.MigrationFile, 0, len(s.files))
	for name := range s.files {
		if !model.MatchesExtension(name, model.DefaultExtension) {
			continue
		}
		out = append(out, model.MigrationFile{Filename: name, Location: "mem/" + name})
	}
	model.SortFiles(out)
	return out, nil
}

func (s *fakeSource) Read(ctx context.Context, file model.MigrationFile) ([]byte, error) {
	s.reads = append(s.reads, file.Filename)
	if err := s.readErr[file.Filename]; err != nil {
		return nil, err
	}
	content, ok := s.files[file.Filename]
	if !ok {
		return nil, errors.New("no such file")
	}
	return []byte(content), nil
}

type fakeLedger struct {
	mu sync.Mutex

	entries []model.LedgerEntry

	ensureErr error
	loadErr   error
	beginErr  error
	execErr   map[string]error
	recordErr map[string]error
	commitErr map[string]error

	ensureCalls int
	begun       int
	committed   int
	rolledBack  int
	openTx      int
	executed    []string
	sawDeadline bool
}

func newFakeLedger(entries ...model.LedgerEntry) *fakeLedger {
	return &fakeLedger{
		entries:   entries,
		execErr:   map[string]error{},
		recordErr: map[string]error{},
		commitErr: map[string]error{},
	}
}

func (l *fakeLedger) EnsureTable(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureCalls++
	return l.ensureErr
}

func (l *fakeLedger) LoadAll(ctx context.Context) ([]model.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loadErr != nil {
		return nil, l.loadErr
	}
	out := make([]model.LedgerEntry, len(l.entries))
	copy(out, l.entries)
	return out, nil
}

func (l *fakeLedger) Begin(ctx context.Context) (LedgerTx, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.beginErr != nil {
		return nil, l.beginErr
	}
	if _, ok := ctx.Deadline(); ok {
		l.sawDeadline = true
	}
	l.begun++
	l.openTx++
	return &fakeTx{ledger: l}, nil
}

func (l *fakeLedger) filenames() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.entries))
	for _, e := range l.entries {
		names = append(names, e.Filename)
	}
	return names
}

type fakeTx struct {
	ledger   *fakeLedger
	queries  []string
	filename string
	checksum string
	finished bool
}

func (t *fakeTx) Exec(ctx context.Context, query string) error {
	if err := t.ledger.execErr[query]; err != nil {
		return err
	}
	t.queries = append(t.queries, query)
	return nil
}

func (t *fakeTx) Record(ctx context.Context, filename, checksum string) error {
	if err := t.ledger.recordErr[filename]; err != nil {
		return err
	}
	t.filename = filename
	t.checksum = checksum
	return nil
}

func (t *fakeTx) Commit() error {
	l := t.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.finished {
		return errors.New("tx done")
	}
	if err := l.commitErr[t.filename]; err != nil {
		t.finished = true
		l.openTx--
		return err
	}
	t.finished = true
	l.openTx--
	l.committed++
	l.executed = append(l.executed, t.queries...)
	l.entries = append(l.entries, model.LedgerEntry{
		Filename:  t.filename,
		Checksum:  t.checksum,
		AppliedAt: time.Now().UTC(),
	})
	return nil
}

func (t *fakeTx) Rollback() error {
	l := t.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.finished {
		return nil
	}
	t.finished = true
	l.openTx--
	l.rolledBack++
	return nil
}

type fakePool struct {
	closeCalls int
	closeErr   error
}

func (p *fakePool) Close() error {
	p.closeCalls++
	return p.closeErr
}

type fakePublisher struct {
	reports []*model.RunReport
	err     error
}

func (p *fakePublisher) PublishRunReport(ctx context.Context, report *model.RunReport) error {
	p.reports = append(p.reports, report)
	return p.err
}

type fakeRecorder struct {
	plans    int
	outcomes []model.Outcome
	runs     []*model.RunReport
}

func (r *fakeRecorder) ObservePlan(*model.Plan)            { r.plans++ }
func (r *fakeRecorder) ObserveOutcome(o model.Outcome)     { r.outcomes = append(r.outcomes, o) }
func (r *fakeRecorder) ObserveRun(report *model.RunReport) { r.runs = append(r.runs, report) }
