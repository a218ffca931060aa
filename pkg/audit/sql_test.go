package audit

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/assentworks/assent/pkg/contracts"
)

var auditRows = []string{
	"seq", "entry_id", "kind", "approval_id", "session_id",
	"from_state", "to_state", "actor", "reason", "ts", "prev_hash", "entry_hash",
}

func TestSQLBackend_Append(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open stub database: %v", err)
	}
	defer func() { _ = db.Close() }()

	b := NewSQLBackend(db)
	ts := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO audit_entries").
		WithArgs(
			uint64(1), "entry-1", "command", "ap-1", "sess-1",
			"", "BLOCKED", "system", "", "2025-03-10T12:00:00Z", "genesis", "sha256:abc",
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = b.Append(context.Background(), &contracts.AuditEntry{
		EntryID:    "entry-1",
		Seq:        1,
		Kind:       contracts.AuditCommand,
		ApprovalID: "ap-1",
		SessionID:  "sess-1",
		ToState:    "BLOCKED",
		Actor:      "system",
		Timestamp:  ts,
		PrevHash:   "genesis",
		EntryHash:  "sha256:abc",
	})
	if err != nil {
		t.Errorf("append failed: %v", err)
	}
}

func TestSQLBackend_ListFilters(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open stub database: %v", err)
	}
	defer func() { _ = db.Close() }()

	b := NewSQLBackend(db)

	mock.ExpectQuery(`SELECT .+ FROM audit_entries WHERE approval_id = \$1 ORDER BY seq ASC`).
		WithArgs("ap-1").
		WillReturnRows(sqlmock.NewRows(auditRows).AddRow(
			uint64(1), "entry-1", "command", "ap-1", "sess-1",
			"", "BLOCKED", "system", "", "2025-03-10T12:00:00Z", "genesis", "sha256:abc",
		))

	entries, err := b.List(context.Background(), Filter{ApprovalID: "ap-1"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Kind != contracts.AuditCommand || entries[0].ToState != "BLOCKED" {
		t.Errorf("entry did not round trip: %+v", entries[0])
	}
	if !entries[0].Timestamp.Equal(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("timestamp did not round trip: %v", entries[0].Timestamp)
	}
}

func TestSQLBackend_LastEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open stub database: %v", err)
	}
	defer func() { _ = db.Close() }()

	b := NewSQLBackend(db)

	mock.ExpectQuery("SELECT .+ FROM audit_entries ORDER BY seq DESC LIMIT 1").
		WillReturnError(sql.ErrNoRows)

	last, err := b.Last(context.Background())
	if err != nil {
		t.Fatalf("last failed: %v", err)
	}
	if last != nil {
		t.Errorf("expected nil for empty log, got %+v", last)
	}
}
