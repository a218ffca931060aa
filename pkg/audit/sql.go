package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/assentworks/assent/pkg/contracts"
)

// SQLBackend persists audit entries in a single append-only table.
// Like the command store it speaks both Postgres and SQLite.
type SQLBackend struct {
	db *sql.DB
}

// NewSQLBackend wraps db. Call Init before first use.
func NewSQLBackend(db *sql.DB) *SQLBackend {
	return &SQLBackend{db: db}
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	seq BIGINT PRIMARY KEY,
	entry_id TEXT NOT NULL UNIQUE,
	kind TEXT NOT NULL,
	approval_id TEXT NOT NULL DEFAULT '',
	session_id TEXT NOT NULL DEFAULT '',
	from_state TEXT NOT NULL DEFAULT '',
	to_state TEXT NOT NULL DEFAULT '',
	actor TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	ts TEXT NOT NULL,
	prev_hash TEXT NOT NULL,
	entry_hash TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_approval ON audit_entries(approval_id);
CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_entries(session_id);
`

// Init creates the schema if missing.
func (b *SQLBackend) Init(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, auditSchema)
	if err != nil {
		return fmt.Errorf("init audit backend: %w", err)
	}
	return nil
}

const auditColumns = `seq, entry_id, kind, approval_id, session_id,
	from_state, to_state, actor, reason, ts, prev_hash, entry_hash`

func (b *SQLBackend) Append(ctx context.Context, entry *contracts.AuditEntry) error {
	query := `INSERT INTO audit_entries (` + auditColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

	_, err := b.db.ExecContext(ctx, query,
		entry.Seq, entry.EntryID, string(entry.Kind), entry.ApprovalID, entry.SessionID,
		entry.FromState, entry.ToState, entry.Actor, entry.Reason,
		entry.Timestamp.UTC().Format(time.RFC3339Nano), entry.PrevHash, entry.EntryHash,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (b *SQLBackend) List(ctx context.Context, filter Filter) ([]*contracts.AuditEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_entries`

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.Kind != "" {
		where = append(where, "kind = "+arg(string(filter.Kind)))
	}
	if filter.ApprovalID != "" {
		where = append(where, "approval_id = "+arg(filter.ApprovalID))
	}
	if filter.SessionID != "" {
		where = append(where, "session_id = "+arg(filter.SessionID))
	}
	if filter.StartSeq > 0 {
		where = append(where, "seq >= "+arg(filter.StartSeq))
	}
	if filter.EndSeq > 0 {
		where = append(where, "seq <= "+arg(filter.EndSeq))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"
	if filter.MaxResults > 0 {
		query += " LIMIT " + arg(filter.MaxResults)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.AuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *SQLBackend) Last(ctx context.Context) (*contracts.AuditEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_entries ORDER BY seq DESC LIMIT 1`

	entry, err := scanAuditEntry(b.db.QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select last audit entry: %w", err)
	}
	return entry, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuditEntry(row rowScanner) (*contracts.AuditEntry, error) {
	var (
		entry contracts.AuditEntry
		kind  string
		ts    string
	)
	err := row.Scan(
		&entry.Seq, &entry.EntryID, &kind, &entry.ApprovalID, &entry.SessionID,
		&entry.FromState, &entry.ToState, &entry.Actor, &entry.Reason,
		&ts, &entry.PrevHash, &entry.EntryHash,
	)
	if err != nil {
		return nil, err
	}
	entry.Kind = contracts.AuditKind(kind)
	if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		entry.Timestamp = parsed
	}
	return &entry, nil
}
