package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/assentworks/assent/pkg/audit"
	"github.com/assentworks/assent/pkg/contracts"
	"github.com/assentworks/assent/pkg/store"
)

type stubExecutor struct {
	mu     sync.Mutex
	calls  []*contracts.AICommand
	result map[string]any
	err    error
}

func (s *stubExecutor) Run(_ context.Context, cmd *contracts.AICommand) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, cmd)
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubExecutor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func executableProposal() contracts.ProposedCommand {
	return contracts.ProposedCommand{
		Command:          "notion.create_task",
		Intent:           "create_task",
		Scope:            contracts.ScopeAPIExecuteRaw,
		DryRun:           true,
		RequiresApproval: true,
		Params:           map[string]any{"name": "Test Task", "priority": "High"},
	}
}

func newTestRegistry(t *testing.T, exec Executor) (*Registry, *audit.Log) {
	t.Helper()
	log, err := audit.Open(context.Background(), audit.NewMemoryBackend())
	require.NoError(t, err)
	if exec == nil {
		exec = &stubExecutor{result: map[string]any{"ok": true}}
	}
	return New(store.NewMemoryCommandStore(), log, exec), log
}

func TestCreateBlocked(t *testing.T) {
	r, log := newTestRegistry(t, nil)
	ctx := context.Background()

	cmd, err := r.CreateBlocked(ctx, executableProposal(), map[string]string{"session_id": "sess-1"}, "anonymous")
	require.NoError(t, err)

	require.Equal(t, contracts.StateBlocked, cmd.State)
	require.NotEmpty(t, cmd.ApprovalID)
	require.NotEmpty(t, cmd.ExecutionID)
	require.NotEqual(t, cmd.ApprovalID, cmd.ExecutionID)
	require.Equal(t, "sess-1", cmd.SessionID())
	require.Equal(t, "anonymous", cmd.CreatedBy)
	require.False(t, cmd.CreatedAt.IsZero())

	got, err := r.Get(ctx, cmd.ApprovalID)
	require.NoError(t, err)
	require.Equal(t, contracts.StateBlocked, got.State)

	entries, err := log.ByApproval(ctx, cmd.ApprovalID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "", entries[0].FromState)
	require.Equal(t, "BLOCKED", entries[0].ToState)
	require.Equal(t, "sess-1", entries[0].SessionID)
}

func TestCreateBlocked_RejectsAdvisoryProposals(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		proposed contracts.ProposedCommand
	}{
		{
			name: "requires_approval false",
			proposed: contracts.ProposedCommand{
				Command: "notion.create_task",
				Scope:   contracts.ScopeAPIExecuteRaw,
			},
		},
		{
			name: "advisory scope",
			proposed: contracts.ProposedCommand{
				Command:          "preview.create_task",
				Scope:            contracts.ScopeNone,
				RequiresApproval: true,
			},
		},
		{
			name:     "empty command",
			proposed: contracts.ProposedCommand{RequiresApproval: true, Scope: contracts.ScopeAPIExecuteRaw},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.CreateBlocked(ctx, tt.proposed, nil, "anonymous")
			require.Error(t, err)
			require.Equal(t, contracts.CodeValidation, contracts.CodeOf(err))
		})
	}
}

func TestApprove(t *testing.T) {
	r, log := newTestRegistry(t, nil)
	ctx := context.Background()

	cmd, err := r.CreateBlocked(ctx, executableProposal(), map[string]string{"session_id": "sess-1"}, "anonymous")
	require.NoError(t, err)

	approved, err := r.Approve(ctx, cmd.ApprovalID, "operator-7")
	require.NoError(t, err)
	require.Equal(t, contracts.StateApproved, approved.State)
	require.Equal(t, "operator-7", approved.ApprovedBy)
	require.NotNil(t, approved.ApprovedAt)

	// Second approve must refuse, carrying the current state.
	_, err = r.Approve(ctx, cmd.ApprovalID, "operator-8")
	require.Equal(t, contracts.CodeInvalidTransition, contracts.CodeOf(err))
	var ge *contracts.Error
	require.ErrorAs(t, err, &ge)
	require.Equal(t, contracts.StateApproved, ge.CurrentState)

	// So must a late reject.
	_, err = r.Reject(ctx, cmd.ApprovalID, "operator-8", "changed my mind")
	require.Equal(t, contracts.CodeInvalidTransition, contracts.CodeOf(err))

	entries, _ := log.ByApproval(ctx, cmd.ApprovalID)
	require.Len(t, entries, 2)
	require.Equal(t, "BLOCKED", entries[1].FromState)
	require.Equal(t, "APPROVED", entries[1].ToState)
	require.Equal(t, "operator-7", entries[1].Actor)
}

func TestReject(t *testing.T) {
	r, log := newTestRegistry(t, nil)
	ctx := context.Background()

	cmd, err := r.CreateBlocked(ctx, executableProposal(), nil, "anonymous")
	require.NoError(t, err)

	rejected, err := r.Reject(ctx, cmd.ApprovalID, "operator-7", "not in scope")
	require.NoError(t, err)
	require.Equal(t, contracts.StateRejected, rejected.State)
	require.Equal(t, "operator-7", rejected.RejectedBy)
	require.Equal(t, "not in scope", rejected.RejectReason)

	_, err = r.Approve(ctx, cmd.ApprovalID, "operator-8")
	require.Equal(t, contracts.CodeInvalidTransition, contracts.CodeOf(err))

	entries, _ := log.ByApproval(ctx, cmd.ApprovalID)
	require.Len(t, entries, 2)
	require.Equal(t, "REJECTED", entries[1].ToState)
	require.Equal(t, "not in scope", entries[1].Reason)
}

func TestExecute(t *testing.T) {
	exec := &stubExecutor{result: map[string]any{"page_id": "pg-1"}}
	r, log := newTestRegistry(t, exec)
	ctx := context.Background()

	cmd, err := r.CreateBlocked(ctx, executableProposal(), nil, "anonymous")
	require.NoError(t, err)

	// Execute before approval is illegal.
	_, err = r.Execute(ctx, cmd.ApprovalID)
	require.Equal(t, contracts.CodeInvalidTransition, contracts.CodeOf(err))
	require.Equal(t, 0, exec.callCount())

	_, err = r.Approve(ctx, cmd.ApprovalID, "operator-7")
	require.NoError(t, err)

	executed, err := r.Execute(ctx, cmd.ApprovalID)
	require.NoError(t, err)
	require.Equal(t, contracts.StateExecuted, executed.State)
	require.Equal(t, map[string]any{"page_id": "pg-1"}, executed.Result)
	require.NotNil(t, executed.ExecutedAt)
	require.Equal(t, 1, exec.callCount())

	// The executor only ever saw an APPROVED command.
	require.Equal(t, contracts.StateApproved, exec.calls[0].State)

	// Executing a terminal command refuses and does not re-run.
	_, err = r.Execute(ctx, cmd.ApprovalID)
	require.Equal(t, contracts.CodeInvalidTransition, contracts.CodeOf(err))
	require.Equal(t, 1, exec.callCount())

	entries, _ := log.ByApproval(ctx, cmd.ApprovalID)
	require.Len(t, entries, 3)
	require.Equal(t, "EXECUTED", entries[2].ToState)
	require.Equal(t, "system", entries[2].Actor)
}

func TestExecute_AdapterFailureIsData(t *testing.T) {
	exec := &stubExecutor{err: errors.New("bridge timeout after 30s")}
	r, log := newTestRegistry(t, exec)
	ctx := context.Background()

	cmd, _ := r.CreateBlocked(ctx, executableProposal(), nil, "anonymous")
	_, err := r.Approve(ctx, cmd.ApprovalID, "operator-7")
	require.NoError(t, err)

	// Adapter failure is a normal response, not an error.
	failed, err := r.Execute(ctx, cmd.ApprovalID)
	require.NoError(t, err)
	require.Equal(t, contracts.StateFailed, failed.State)
	require.Equal(t, "bridge timeout after 30s", failed.Error)
	require.Nil(t, failed.Result)

	// FAILED stays FAILED: no internal retry path exists.
	_, err = r.Execute(ctx, cmd.ApprovalID)
	require.Equal(t, contracts.CodeInvalidTransition, contracts.CodeOf(err))
	require.Equal(t, 1, exec.callCount())

	entries, _ := log.ByApproval(ctx, cmd.ApprovalID)
	require.Equal(t, "FAILED", entries[len(entries)-1].ToState)
	require.Equal(t, "bridge timeout after 30s", entries[len(entries)-1].Reason)
}

func TestUnknownID(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	_, err := r.Get(ctx, "missing")
	require.Equal(t, contracts.CodeNotFound, contracts.CodeOf(err))

	_, err = r.Approve(ctx, "missing", "operator-7")
	require.Equal(t, contracts.CodeNotFound, contracts.CodeOf(err))

	_, err = r.Reject(ctx, "missing", "operator-7", "why not")
	require.Equal(t, contracts.CodeNotFound, contracts.CodeOf(err))

	_, err = r.Execute(ctx, "missing")
	require.Equal(t, contracts.CodeNotFound, contracts.CodeOf(err))
}

func TestApprove_SingleWinnerUnderContention(t *testing.T) {
	exec := &stubExecutor{result: map[string]any{"ok": true}}
	r, _ := newTestRegistry(t, exec)
	ctx := context.Background()

	cmd, err := r.CreateBlocked(ctx, executableProposal(), nil, "anonymous")
	require.NoError(t, err)

	const racers = 25
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.Approve(ctx, cmd.ApprovalID, fmt.Sprintf("racer-%d", i))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		code := contracts.CodeOf(err)
		require.Contains(t,
			[]contracts.ErrorCode{contracts.CodeInvalidTransition, contracts.CodeConflict}, code,
			"loser got unexpected error: %v", err)
	}
	require.Equal(t, 1, wins, "exactly one approve must win")

	got, err := r.Get(ctx, cmd.ApprovalID)
	require.NoError(t, err)
	require.Equal(t, contracts.StateApproved, got.State)
}

func TestListBySession(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	ctx := context.Background()
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	now := base
	r.WithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	})

	first, _ := r.CreateBlocked(ctx, executableProposal(), map[string]string{"session_id": "sess-1"}, "a")
	second, _ := r.CreateBlocked(ctx, executableProposal(), map[string]string{"session_id": "sess-1"}, "a")
	_, _ = r.CreateBlocked(ctx, executableProposal(), map[string]string{"session_id": "sess-2"}, "a")

	list, err := r.ListBySession(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, second.ApprovalID, list[0].ApprovalID, "newest first")
	require.Equal(t, first.ApprovalID, list[1].ApprovalID)
}

// staleStore simulates another process winning the write race: reads
// return BLOCKED but the guarded update always reports a lost race.
type staleStore struct {
	*store.MemoryCommandStore
}

func (s *staleStore) Update(_ context.Context, _ *contracts.AICommand, _ contracts.CommandState) error {
	return store.ErrStale
}

func TestApprove_CrossProcessConflict(t *testing.T) {
	log, err := audit.Open(context.Background(), audit.NewMemoryBackend())
	require.NoError(t, err)
	mem := store.NewMemoryCommandStore()
	r := New(&staleStore{mem}, log, &stubExecutor{})
	ctx := context.Background()

	cmd, err := r.CreateBlocked(ctx, executableProposal(), nil, "anonymous")
	require.NoError(t, err)

	_, err = r.Approve(ctx, cmd.ApprovalID, "operator-7")
	require.Equal(t, contracts.CodeConflict, contracts.CodeOf(err))
}
