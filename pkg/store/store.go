// Package store provides the durable state backing the governance engine:
// the AICommand table keyed by approval_id and the SessionArmState table
// keyed by session_id. Implementations exist for in-memory use (dev, tests),
// database/sql (SQLite and Postgres share one implementation), and Redis
// (arm state only, for shared deployments).
//
// Writers never mutate a fetched record in place; they build the updated
// record and apply it through a compare-and-swap on the state column, so a
// lost race is always detected rather than absorbed.
package store

import (
	"context"
	"errors"

	"github.com/assentworks/assent/pkg/contracts"
)

var (
	// ErrNotFound is returned when no record exists for the given key.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when creating a record whose key exists.
	ErrDuplicate = errors.New("store: duplicate key")
	// ErrStale is returned when a guarded update observed a different
	// state than expected; the caller lost a race and must re-read.
	ErrStale = errors.New("store: stale state guard")
)

// CommandStore persists AICommands. The state guard on Update is the
// cross-process half of the registry's serialization contract; the
// in-process half is the registry's per-key mutex.
type CommandStore interface {
	// Create persists a new command. The approval_id must be unused.
	Create(ctx context.Context, cmd *contracts.AICommand) error

	// Get returns the command for approval_id, or ErrNotFound.
	Get(ctx context.Context, approvalID string) (*contracts.AICommand, error)

	// Update persists cmd only if the stored state still equals expect.
	// Returns ErrStale when the guard fails, ErrNotFound for unknown ids.
	Update(ctx context.Context, cmd *contracts.AICommand, expect contracts.CommandState) error

	// ListBySession returns the session's commands, newest first.
	ListBySession(ctx context.Context, sessionID string) ([]*contracts.AICommand, error)
}

// ArmStore persists SessionArmState. Get on an unseen session returns the
// zero state (armed=false) and no error: the gate fails closed, it does
// not fail loud.
type ArmStore interface {
	Get(ctx context.Context, sessionID string) (contracts.SessionArmState, error)
	Put(ctx context.Context, state contracts.SessionArmState) error
}
