// Package gate implements the per-session arm switch. Write proposals
// only become executable while the session is armed; everything else in
// the engine treats the gate as the single source of that truth.
package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/assentworks/assent/pkg/audit"
	"github.com/assentworks/assent/pkg/contracts"
	"github.com/assentworks/assent/pkg/store"
)

const (
	stateArmed    = "armed"
	stateDisarmed = "disarmed"
)

// Gate toggles and reads per-session arm state. Toggles serialize per
// session id; reads go straight to the store.
type Gate struct {
	arms  store.ArmStore
	log   *audit.Log
	locks *store.KeyedMutex
	clock func() time.Time
}

// New creates a gate over arms, recording every toggle in log.
func New(arms store.ArmStore, log *audit.Log) *Gate {
	return &Gate{
		arms:  arms,
		log:   log,
		locks: store.NewKeyedMutex(),
		clock: time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (g *Gate) WithClock(clock func() time.Time) *Gate {
	g.clock = clock
	return g
}

// Activate arms the session. Arming an armed session keeps it armed
// and refreshes the timestamp and actor; every attempt is audited.
func (g *Gate) Activate(ctx context.Context, sessionID, actor string) (contracts.SessionArmState, error) {
	g.locks.Lock(sessionID)
	defer g.locks.Unlock(sessionID)

	state, err := g.arms.Get(ctx, sessionID)
	if err != nil {
		return contracts.SessionArmState{}, fmt.Errorf("read arm state: %w", err)
	}

	from := armLabel(state.Armed)
	now := g.clock().UTC()
	state.Armed = true
	state.ArmedAt = &now
	state.ArmedBy = actor
	if err := g.arms.Put(ctx, state); err != nil {
		return contracts.SessionArmState{}, fmt.Errorf("persist arm state: %w", err)
	}

	if err := g.record(ctx, sessionID, from, stateArmed, actor); err != nil {
		return contracts.SessionArmState{}, err
	}
	return state, nil
}

// Deactivate disarms the session, refreshing the timestamp and actor
// even when it was already (or never) armed.
func (g *Gate) Deactivate(ctx context.Context, sessionID, actor string) (contracts.SessionArmState, error) {
	g.locks.Lock(sessionID)
	defer g.locks.Unlock(sessionID)

	state, err := g.arms.Get(ctx, sessionID)
	if err != nil {
		return contracts.SessionArmState{}, fmt.Errorf("read arm state: %w", err)
	}

	from := armLabel(state.Armed)
	now := g.clock().UTC()
	state.Armed = false
	state.DisarmedAt = &now
	state.DisarmedBy = actor
	if err := g.arms.Put(ctx, state); err != nil {
		return contracts.SessionArmState{}, fmt.Errorf("persist arm state: %w", err)
	}

	if err := g.record(ctx, sessionID, from, stateDisarmed, actor); err != nil {
		return contracts.SessionArmState{}, err
	}
	return state, nil
}

// IsArmed reports whether the session is currently armed. Unknown
// sessions read as disarmed.
func (g *Gate) IsArmed(ctx context.Context, sessionID string) (bool, error) {
	state, err := g.arms.Get(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("read arm state: %w", err)
	}
	return state.Armed, nil
}

// State returns the full arm record for the session.
func (g *Gate) State(ctx context.Context, sessionID string) (contracts.SessionArmState, error) {
	state, err := g.arms.Get(ctx, sessionID)
	if err != nil {
		return contracts.SessionArmState{}, fmt.Errorf("read arm state: %w", err)
	}
	return state, nil
}

func (g *Gate) record(ctx context.Context, sessionID, from, to, actor string) error {
	_, err := g.log.Record(ctx, audit.Record{
		Kind:      contracts.AuditSession,
		SessionID: sessionID,
		FromState: from,
		ToState:   to,
		Actor:     actor,
	})
	if err != nil {
		return fmt.Errorf("audit arm toggle: %w", err)
	}
	return nil
}

func armLabel(armed bool) string {
	if armed {
		return stateArmed
	}
	return stateDisarmed
}
