// Package audit implements the append-only transition log with
// hash chaining. Every AICommand state transition and every session
// arm toggle lands here exactly once; nothing is ever updated or
// deleted, so the chain head commits to the full history.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/assentworks/assent/pkg/contracts"
)

var (
	ErrChainBroken = errors.New("audit hash chain is broken")
	ErrNoEntries   = errors.New("no audit entries match filter")
)

// genesisHash anchors the chain before the first entry.
const genesisHash = "genesis"

// Record is the caller-supplied part of an audit entry. Sequence,
// timestamps and hashes are assigned by the log on append.
type Record struct {
	Kind       contracts.AuditKind
	ApprovalID string
	SessionID  string
	FromState  string
	ToState    string
	Actor      string
	Reason     string
}

// Filter selects entries for queries and bundle exports. Zero fields
// match everything.
type Filter struct {
	Kind       contracts.AuditKind
	ApprovalID string
	SessionID  string
	StartSeq   uint64
	EndSeq     uint64
	MaxResults int
}

func (f Filter) matches(e *contracts.AuditEntry) bool {
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.ApprovalID != "" && e.ApprovalID != f.ApprovalID {
		return false
	}
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if f.StartSeq > 0 && e.Seq < f.StartSeq {
		return false
	}
	if f.EndSeq > 0 && e.Seq > f.EndSeq {
		return false
	}
	return true
}

// Backend persists entries. Implementations only append and read;
// the chaining and hashing live in Log so every backend shares them.
type Backend interface {
	Append(ctx context.Context, entry *contracts.AuditEntry) error
	List(ctx context.Context, filter Filter) ([]*contracts.AuditEntry, error)
	Last(ctx context.Context) (*contracts.AuditEntry, error)
}

// EntryHandler is called after an entry is appended.
type EntryHandler func(entry *contracts.AuditEntry)

// Log is the hash-chained audit log. Appends are serialized so sequence
// numbers and the chain head advance atomically.
type Log struct {
	mu       sync.Mutex
	backend  Backend
	seq      uint64
	head     string
	now      func() time.Time
	handlers []EntryHandler
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the timestamp source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// Open creates a Log over backend, recovering the chain head from the
// last persisted entry so restarts continue the chain instead of
// restarting it.
func Open(ctx context.Context, backend Backend, opts ...Option) (*Log, error) {
	l := &Log{
		backend: backend,
		head:    genesisHash,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	last, err := backend.Last(ctx)
	if err != nil {
		return nil, fmt.Errorf("recover audit chain head: %w", err)
	}
	if last != nil {
		l.seq = last.Seq
		l.head = last.EntryHash
	}
	return l, nil
}

// Record appends one entry and returns it with sequence and hashes set.
func (l *Log) Record(ctx context.Context, rec Record) (*contracts.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := &contracts.AuditEntry{
		EntryID:    uuid.New().String(),
		Seq:        l.seq + 1,
		Kind:       rec.Kind,
		ApprovalID: rec.ApprovalID,
		SessionID:  rec.SessionID,
		FromState:  rec.FromState,
		ToState:    rec.ToState,
		Actor:      rec.Actor,
		Reason:     rec.Reason,
		Timestamp:  l.now().UTC(),
		PrevHash:   l.head,
	}

	hash, err := entryHash(entry)
	if err != nil {
		return nil, fmt.Errorf("compute entry hash: %w", err)
	}
	entry.EntryHash = hash

	if err := l.backend.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}
	l.seq = entry.Seq
	l.head = entry.EntryHash

	for _, h := range l.handlers {
		h(entry)
	}
	return entry, nil
}

// Query returns entries matching filter in sequence order.
func (l *Log) Query(ctx context.Context, filter Filter) ([]*contracts.AuditEntry, error) {
	return l.backend.List(ctx, filter)
}

// ByApproval returns the transition history of one command.
func (l *Log) ByApproval(ctx context.Context, approvalID string) ([]*contracts.AuditEntry, error) {
	return l.backend.List(ctx, Filter{ApprovalID: approvalID})
}

// BySession returns all entries touching one session, command
// transitions and arm toggles both.
func (l *Log) BySession(ctx context.Context, sessionID string) ([]*contracts.AuditEntry, error) {
	return l.backend.List(ctx, Filter{SessionID: sessionID})
}

// Head returns the current sequence number and chain head hash.
func (l *Log) Head() (uint64, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq, l.head
}

// AddHandler registers a handler invoked after each append.
func (l *Log) AddHandler(h EntryHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, h)
}

// VerifyChain walks the full log, checking linkage and recomputing
// every entry hash.
func (l *Log) VerifyChain(ctx context.Context) error {
	entries, err := l.backend.List(ctx, Filter{})
	if err != nil {
		return fmt.Errorf("load audit entries: %w", err)
	}

	expectedPrev := genesisHash
	for i, entry := range entries {
		if entry.PrevHash != expectedPrev {
			return fmt.Errorf("%w: entry %d has prev_hash %s but expected %s",
				ErrChainBroken, i, entry.PrevHash, expectedPrev)
		}
		computed, err := entryHash(entry)
		if err != nil {
			return fmt.Errorf("%w: entry %d hash computation failed: %v",
				ErrChainBroken, i, err)
		}
		if computed != entry.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch (computed %s, stored %s)",
				ErrChainBroken, i, computed, entry.EntryHash)
		}
		expectedPrev = entry.EntryHash
	}
	return nil
}

// entryHash hashes the canonical JSON form of the entry minus EntryID
// and EntryHash itself. Canonicalization (RFC 8785) makes the hash
// independent of field order and encoder quirks.
func entryHash(e *contracts.AuditEntry) (string, error) {
	hashable := struct {
		Seq        uint64              `json:"seq"`
		Kind       contracts.AuditKind `json:"kind"`
		ApprovalID string              `json:"approval_id"`
		SessionID  string              `json:"session_id"`
		FromState  string              `json:"from_state"`
		ToState    string              `json:"to_state"`
		Actor      string              `json:"actor"`
		Reason     string              `json:"reason"`
		Timestamp  string              `json:"timestamp"`
		PrevHash   string              `json:"prev_hash"`
	}{
		Seq:        e.Seq,
		Kind:       e.Kind,
		ApprovalID: e.ApprovalID,
		SessionID:  e.SessionID,
		FromState:  e.FromState,
		ToState:    e.ToState,
		Actor:      e.Actor,
		Reason:     e.Reason,
		Timestamp:  e.Timestamp.UTC().Format(time.RFC3339Nano),
		PrevHash:   e.PrevHash,
	}

	raw, err := json.Marshal(hashable)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	return computeHash(canonical), nil
}

func computeHash(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}
