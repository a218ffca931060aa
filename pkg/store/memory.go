package store

import (
	"context"
	"sort"
	"sync"

	"github.com/assentworks/assent/pkg/contracts"
)

// MemoryCommandStore is the in-memory CommandStore for dev mode and tests.
type MemoryCommandStore struct {
	mu   sync.RWMutex
	cmds map[string]*contracts.AICommand
}

// NewMemoryCommandStore creates an empty in-memory command store.
func NewMemoryCommandStore() *MemoryCommandStore {
	return &MemoryCommandStore{cmds: make(map[string]*contracts.AICommand)}
}

func (s *MemoryCommandStore) Create(_ context.Context, cmd *contracts.AICommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cmds[cmd.ApprovalID]; exists {
		return ErrDuplicate
	}
	s.cmds[cmd.ApprovalID] = cmd.Clone()
	return nil
}

func (s *MemoryCommandStore) Get(_ context.Context, approvalID string) (*contracts.AICommand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cmd, ok := s.cmds[approvalID]
	if !ok {
		return nil, ErrNotFound
	}
	return cmd.Clone(), nil
}

func (s *MemoryCommandStore) Update(_ context.Context, cmd *contracts.AICommand, expect contracts.CommandState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.cmds[cmd.ApprovalID]
	if !ok {
		return ErrNotFound
	}
	if stored.State != expect {
		return ErrStale
	}
	s.cmds[cmd.ApprovalID] = cmd.Clone()
	return nil
}

func (s *MemoryCommandStore) ListBySession(_ context.Context, sessionID string) ([]*contracts.AICommand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*contracts.AICommand, 0)
	for _, cmd := range s.cmds {
		if cmd.SessionID() == sessionID {
			out = append(out, cmd.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// MemoryArmStore is the in-memory ArmStore.
type MemoryArmStore struct {
	mu       sync.RWMutex
	sessions map[string]contracts.SessionArmState
}

// NewMemoryArmStore creates an empty in-memory arm store.
func NewMemoryArmStore() *MemoryArmStore {
	return &MemoryArmStore{sessions: make(map[string]contracts.SessionArmState)}
}

func (s *MemoryArmStore) Get(_ context.Context, sessionID string) (contracts.SessionArmState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		return contracts.SessionArmState{SessionID: sessionID}, nil
	}
	return state, nil
}

func (s *MemoryArmStore) Put(_ context.Context, state contracts.SessionArmState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[state.SessionID] = state
	return nil
}
