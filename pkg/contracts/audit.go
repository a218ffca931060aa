package contracts

import "time"

// AuditKind categorizes audit entries by the store they describe.
type AuditKind string

const (
	// AuditCommand entries record AICommand lifecycle transitions.
	AuditCommand AuditKind = "command"
	// AuditSession entries record SessionArmState toggles.
	AuditSession AuditKind = "session"
)

// AuditEntry is one immutable line in the transition history. The approval
// registry writes one entry per AICommand transition; the arm gate writes
// one per session toggle. Entries are hash-chained: EntryHash covers the
// canonical form of the entry including PrevHash, so any mutation or
// truncation below the head is detectable.
type AuditEntry struct {
	EntryID string    `json:"entry_id"`
	Seq     uint64    `json:"seq"`
	Kind    AuditKind `json:"kind"`

	// ApprovalID is set for command entries, SessionID for session entries.
	// Command entries additionally carry the session when known, so the
	// trail answers both "who approved this command" and "what happened in
	// this session".
	ApprovalID string `json:"approval_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`

	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	Actor     string `json:"actor"`
	Reason    string `json:"reason,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	PrevHash  string `json:"prev_hash"`
	EntryHash string `json:"entry_hash"`
}
