package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/assentworks/assent/pkg/contracts"
)

// SQLCommandStore implements CommandStore on database/sql. It works
// unchanged against Postgres (lib/pq) and SQLite (modernc.org/sqlite):
// both drivers accept $N placeholders and ON CONFLICT upserts.
type SQLCommandStore struct {
	db *sql.DB
}

// NewSQLCommandStore wraps db. Call Init before first use.
func NewSQLCommandStore(db *sql.DB) *SQLCommandStore {
	return &SQLCommandStore{db: db}
}

const commandSchema = `
CREATE TABLE IF NOT EXISTS ai_commands (
	approval_id TEXT PRIMARY KEY,
	execution_id TEXT NOT NULL UNIQUE,
	session_id TEXT NOT NULL DEFAULT '',
	command TEXT NOT NULL,
	intent TEXT NOT NULL DEFAULT '',
	params TEXT,
	metadata TEXT,
	scope TEXT NOT NULL,
	dry_run BOOLEAN NOT NULL,
	requires_approval BOOLEAN NOT NULL,
	state TEXT NOT NULL,
	result TEXT,
	error TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	created_by TEXT NOT NULL DEFAULT '',
	approved_at TEXT,
	approved_by TEXT NOT NULL DEFAULT '',
	rejected_at TEXT,
	rejected_by TEXT NOT NULL DEFAULT '',
	reject_reason TEXT NOT NULL DEFAULT '',
	executed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_ai_commands_session ON ai_commands(session_id);
`

// Init creates the schema if missing.
func (s *SQLCommandStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, commandSchema)
	if err != nil {
		return fmt.Errorf("init command store: %w", err)
	}
	return nil
}

const commandColumns = `approval_id, execution_id, session_id, command, intent, params, metadata,
	scope, dry_run, requires_approval, state, result, error,
	created_at, created_by, approved_at, approved_by,
	rejected_at, rejected_by, reject_reason, executed_at`

func (s *SQLCommandStore) Create(ctx context.Context, cmd *contracts.AICommand) error {
	query := `INSERT INTO ai_commands (` + commandColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`

	_, err := s.db.ExecContext(ctx, query,
		cmd.ApprovalID, cmd.ExecutionID, cmd.SessionID(), cmd.Command, cmd.Intent,
		marshalJSON(cmd.Params), marshalJSON(cmd.Metadata),
		string(cmd.Scope), cmd.DryRun, cmd.RequiresApproval, string(cmd.State),
		marshalJSON(cmd.Result), cmd.Error,
		formatTime(cmd.CreatedAt), cmd.CreatedBy,
		formatTimePtr(cmd.ApprovedAt), cmd.ApprovedBy,
		formatTimePtr(cmd.RejectedAt), cmd.RejectedBy, cmd.RejectReason,
		formatTimePtr(cmd.ExecutedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert command: %w", err)
	}
	return nil
}

func (s *SQLCommandStore) Get(ctx context.Context, approvalID string) (*contracts.AICommand, error) {
	query := `SELECT ` + commandColumns + ` FROM ai_commands WHERE approval_id = $1`
	cmd, err := scanCommand(s.db.QueryRowContext(ctx, query, approvalID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select command: %w", err)
	}
	return cmd, nil
}

// Update persists cmd under the state guard. The WHERE clause carries the
// expected state so a concurrent writer from another process cannot be
// silently overwritten.
func (s *SQLCommandStore) Update(ctx context.Context, cmd *contracts.AICommand, expect contracts.CommandState) error {
	query := `UPDATE ai_commands SET
		state = $1, result = $2, error = $3,
		approved_at = $4, approved_by = $5,
		rejected_at = $6, rejected_by = $7, reject_reason = $8,
		executed_at = $9
		WHERE approval_id = $10 AND state = $11`

	res, err := s.db.ExecContext(ctx, query,
		string(cmd.State), marshalJSON(cmd.Result), cmd.Error,
		formatTimePtr(cmd.ApprovedAt), cmd.ApprovedBy,
		formatTimePtr(cmd.RejectedAt), cmd.RejectedBy, cmd.RejectReason,
		formatTimePtr(cmd.ExecutedAt),
		cmd.ApprovalID, string(expect),
	)
	if err != nil {
		return fmt.Errorf("update command: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update command rows: %w", err)
	}
	if rows == 0 {
		// Guard miss: either the id is unknown or the state moved.
		if _, getErr := s.Get(ctx, cmd.ApprovalID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrStale
	}
	return nil
}

func (s *SQLCommandStore) ListBySession(ctx context.Context, sessionID string) ([]*contracts.AICommand, error) {
	query := `SELECT ` + commandColumns + ` FROM ai_commands
		WHERE session_id = $1 ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.AICommand
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		out = append(out, cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// rowScanner lets one scan routine serve sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommand(row rowScanner) (*contracts.AICommand, error) {
	var (
		cmd                              contracts.AICommand
		sessionID                        string
		params, metadata, result         sql.NullString
		scope, state                     string
		createdAt                        string
		approvedAt, rejectedAt, execedAt sql.NullString
	)

	err := row.Scan(
		&cmd.ApprovalID, &cmd.ExecutionID, &sessionID, &cmd.Command, &cmd.Intent,
		&params, &metadata, &scope, &cmd.DryRun, &cmd.RequiresApproval, &state,
		&result, &cmd.Error,
		&createdAt, &cmd.CreatedBy, &approvedAt, &cmd.ApprovedBy,
		&rejectedAt, &cmd.RejectedBy, &cmd.RejectReason, &execedAt,
	)
	if err != nil {
		return nil, err
	}

	cmd.Scope = contracts.Scope(scope)
	cmd.State = contracts.CommandState(state)
	cmd.Params = unmarshalAnyMap(params)
	cmd.Metadata = unmarshalStringMap(metadata)
	cmd.Result = unmarshalAnyMap(result)
	cmd.CreatedAt = parseTime(createdAt)
	cmd.ApprovedAt = parseTimePtr(approvedAt)
	cmd.RejectedAt = parseTimePtr(rejectedAt)
	cmd.ExecutedAt = parseTimePtr(execedAt)

	if cmd.Metadata == nil && sessionID != "" {
		cmd.Metadata = map[string]string{"session_id": sessionID}
	}
	return &cmd, nil
}

// SQLArmStore implements ArmStore on database/sql.
type SQLArmStore struct {
	db *sql.DB
}

// NewSQLArmStore wraps db. Call Init before first use.
func NewSQLArmStore(db *sql.DB) *SQLArmStore {
	return &SQLArmStore{db: db}
}

const armSchema = `
CREATE TABLE IF NOT EXISTS session_arm_state (
	session_id TEXT PRIMARY KEY,
	armed BOOLEAN NOT NULL,
	armed_at TEXT,
	armed_by TEXT NOT NULL DEFAULT '',
	disarmed_at TEXT,
	disarmed_by TEXT NOT NULL DEFAULT ''
);
`

// Init creates the schema if missing.
func (s *SQLArmStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, armSchema)
	if err != nil {
		return fmt.Errorf("init arm store: %w", err)
	}
	return nil
}

func (s *SQLArmStore) Get(ctx context.Context, sessionID string) (contracts.SessionArmState, error) {
	query := `SELECT session_id, armed, armed_at, armed_by, disarmed_at, disarmed_by
		FROM session_arm_state WHERE session_id = $1`

	var (
		state               contracts.SessionArmState
		armedAt, disarmedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&state.SessionID, &state.Armed, &armedAt, &state.ArmedBy, &disarmedAt, &state.DisarmedBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Unseen session: fail-closed default.
			return contracts.SessionArmState{SessionID: sessionID}, nil
		}
		return contracts.SessionArmState{}, fmt.Errorf("select arm state: %w", err)
	}
	state.ArmedAt = parseTimePtr(armedAt)
	state.DisarmedAt = parseTimePtr(disarmedAt)
	return state, nil
}

func (s *SQLArmStore) Put(ctx context.Context, state contracts.SessionArmState) error {
	query := `INSERT INTO session_arm_state (session_id, armed, armed_at, armed_by, disarmed_at, disarmed_by)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (session_id) DO UPDATE SET
			armed = $2, armed_at = $3, armed_by = $4, disarmed_at = $5, disarmed_by = $6`

	_, err := s.db.ExecContext(ctx, query,
		state.SessionID, state.Armed,
		formatTimePtr(state.ArmedAt), state.ArmedBy,
		formatTimePtr(state.DisarmedAt), state.DisarmedBy,
	)
	if err != nil {
		return fmt.Errorf("upsert arm state: %w", err)
	}
	return nil
}

func marshalJSON(v any) sql.NullString {
	switch m := v.(type) {
	case map[string]any:
		if m == nil {
			return sql.NullString{}
		}
	case map[string]string:
		if m == nil {
			return sql.NullString{}
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func unmarshalAnyMap(raw sql.NullString) map[string]any {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil
	}
	return out
}

func unmarshalStringMap(raw sql.NullString) map[string]string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil
	}
	return out
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}

func parseTimePtr(raw sql.NullString) *time.Time {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	t := parseTime(raw.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

// isUniqueViolation matches duplicate-key errors across lib/pq and
// modernc.org/sqlite without importing driver-specific error types.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "constraint failed")
}
