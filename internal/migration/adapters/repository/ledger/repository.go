// Package ledger provides the SQL implementation of the migration ledger
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/studiobook/studiobook/internal/migration/app/service"
	"github.com/studiobook/studiobook/internal/migration/domain/model"
	"github.com/studiobook/studiobook/internal/platform/database"
)

// Repository implements the migration ledger on top of a database pool
type Repository struct {
	db      *database.DB
	dialect dialect
}

var _ service.Ledger = (*Repository)(nil)

// NewRepository creates a ledger stored in table. An empty table means DefaultTable.
func NewRepository(db *database.DB, table string) (*Repository, error) {
	if table == "" {
		table = DefaultTable
	}
	d, err := newDialect(db.Driver(), table)
	if err != nil {
		return nil, err
	}
	return &Repository{db: db, dialect: d}, nil
}

// EnsureTable creates the ledger table if it doesn't exist
func (r *Repository) EnsureTable(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, r.dialect.createTable); err != nil {
		return fmt.Errorf("failed to create ledger table: %w", err)
	}
	return nil
}

// LoadAll returns every committed ledger row
func (r *Repository) LoadAll(ctx context.Context) ([]model.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.selectAll)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var (
			e  model.LedgerEntry
			ts timestamp
		)
		if err := rows.Scan(&e.Filename, &e.Checksum, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Checksum = strings.TrimSpace(e.Checksum)
		e.AppliedAt = ts.Time
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger rows: %w", err)
	}

	return entries, nil
}

// Begin opens a transaction that carries one migration and its ledger row
func (r *Repository) Begin(ctx context.Context) (service.LedgerTx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{tx: tx, insert: r.dialect.insert}, nil
}

// Tx is a migration transaction
type Tx struct {
	tx     *sql.Tx
	insert string
}

// Exec runs the migration script verbatim. Blank scripts are not sent to the server.
func (t *Tx) Exec(ctx context.Context, query string) error {
	if strings.TrimSpace(query) == "" {
		return nil
	}
	_, err := t.tx.ExecContext(ctx, query)
	return err
}

// Record inserts the ledger row inside the transaction
func (t *Tx) Record(ctx context.Context, filename, checksum string) error {
	if _, err := t.tx.ExecContext(ctx, t.insert, filename, checksum); err != nil {
		return fmt.Errorf("failed to insert ledger row: %w", err)
	}
	return nil
}

// Commit commits the transaction
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback aborts the transaction. Rolling back a finished transaction is a no-op.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// timestamp scans applied_at from drivers that return time.Time or text
type timestamp struct {
	time.Time
}

func (ts *timestamp) Scan(src interface{}) error {
	switch v := src.(type) {
	case time.Time:
		ts.Time = v.UTC()
		return nil
	case string:
		return ts.parse(v)
	case []byte:
		return ts.parse(string(v))
	case nil:
		return errors.New("applied_at is null")
	default:
		return fmt.Errorf("unsupported applied_at type %T", src)
	}
}

func (ts *timestamp) parse(s string) error {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			ts.Time = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognized applied_at value %q", s)
}
