// Package registry owns the AICommand approval lifecycle. It is the only
// writer of command state: proposals enter as BLOCKED, humans move them to
// APPROVED or REJECTED, and execution moves APPROVED to EXECUTED or
// FAILED. Every transition is serialized per approval id, guarded by a
// state check in the store, and appended to the audit log.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/assentworks/assent/pkg/audit"
	"github.com/assentworks/assent/pkg/contracts"
	"github.com/assentworks/assent/pkg/store"
)

// systemActor attributes transitions the engine performs itself.
const systemActor = "system"

// Executor runs an approved command against its external adapter and
// returns the adapter's result payload.
type Executor interface {
	Run(ctx context.Context, cmd *contracts.AICommand) (map[string]any, error)
}

// Registry is the approval state machine service.
type Registry struct {
	cmds  store.CommandStore
	log   *audit.Log
	exec  Executor
	locks *store.KeyedMutex
	clock func() time.Time
}

// New creates a registry over cmds, auditing to log and executing
// through exec.
func New(cmds store.CommandStore, log *audit.Log, exec Executor) *Registry {
	return &Registry{
		cmds:  cmds,
		log:   log,
		exec:  exec,
		locks: store.NewKeyedMutex(),
		clock: time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

// CreateBlocked admits a proposal into the lifecycle at BLOCKED. Only
// executable-track proposals are admissible; anything advisory is a
// caller error, not a silent downgrade.
func (r *Registry) CreateBlocked(ctx context.Context, proposed contracts.ProposedCommand, metadata map[string]string, actor string) (*contracts.AICommand, error) {
	if proposed.Command == "" {
		return nil, contracts.NewValidation("command is required")
	}
	if !proposed.RequiresApproval {
		return nil, contracts.NewValidation("proposal does not require approval; only approval-gated commands enter the registry")
	}
	if proposed.Scope != contracts.ScopeAPIExecuteRaw {
		return nil, contracts.NewValidation("proposal scope %q is not executable", proposed.Scope)
	}

	cmd := &contracts.AICommand{
		ApprovalID:       uuid.New().String(),
		ExecutionID:      uuid.New().String(),
		Command:          proposed.Command,
		Intent:           proposed.Intent,
		Params:           proposed.Params,
		Metadata:         metadata,
		Scope:            proposed.Scope,
		DryRun:           proposed.DryRun,
		RequiresApproval: proposed.RequiresApproval,
		State:            contracts.StateBlocked,
		CreatedAt:        r.clock().UTC(),
		CreatedBy:        actor,
	}

	if err := r.cmds.Create(ctx, cmd); err != nil {
		return nil, fmt.Errorf("persist blocked command: %w", err)
	}

	if err := r.record(ctx, cmd, "", contracts.StateBlocked, actor, "proposal accepted"); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Approve moves a BLOCKED command to APPROVED. A second approve on the
// same id fails with INVALID_STATE_TRANSITION; that refusal is the
// primary defense against double execution.
func (r *Registry) Approve(ctx context.Context, approvalID, actor string) (*contracts.AICommand, error) {
	r.locks.Lock(approvalID)
	defer r.locks.Unlock(approvalID)

	cmd, err := r.load(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if cmd.State != contracts.StateBlocked {
		return nil, contracts.NewInvalidTransition("approve", cmd.State)
	}

	now := r.clock().UTC()
	cmd.State = contracts.StateApproved
	cmd.ApprovedAt = &now
	cmd.ApprovedBy = actor

	if err := r.update(ctx, cmd, contracts.StateBlocked); err != nil {
		return nil, err
	}
	if err := r.record(ctx, cmd, contracts.StateBlocked, contracts.StateApproved, actor, ""); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Reject moves a BLOCKED command to REJECTED, recording who and why.
func (r *Registry) Reject(ctx context.Context, approvalID, actor, reason string) (*contracts.AICommand, error) {
	r.locks.Lock(approvalID)
	defer r.locks.Unlock(approvalID)

	cmd, err := r.load(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if cmd.State != contracts.StateBlocked {
		return nil, contracts.NewInvalidTransition("reject", cmd.State)
	}

	now := r.clock().UTC()
	cmd.State = contracts.StateRejected
	cmd.RejectedAt = &now
	cmd.RejectedBy = actor
	cmd.RejectReason = reason

	if err := r.update(ctx, cmd, contracts.StateBlocked); err != nil {
		return nil, err
	}
	if err := r.record(ctx, cmd, contracts.StateBlocked, contracts.StateRejected, actor, reason); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Execute runs an APPROVED command through the executor exactly once.
// Adapter failure is not an error to the caller: the command lands in
// FAILED with the error recorded, and recovery is a deliberate
// re-submission, never an internal retry.
func (r *Registry) Execute(ctx context.Context, approvalID string) (*contracts.AICommand, error) {
	r.locks.Lock(approvalID)
	defer r.locks.Unlock(approvalID)

	cmd, err := r.load(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if cmd.State != contracts.StateApproved {
		return nil, contracts.NewInvalidTransition("execute", cmd.State)
	}

	// The lock is held across the adapter call, so a command can never
	// be in flight twice. The executor bounds the call with its timeout.
	result, execErr := r.exec.Run(ctx, cmd.Clone())

	now := r.clock().UTC()
	cmd.ExecutedAt = &now
	reason := ""
	if execErr != nil {
		cmd.State = contracts.StateFailed
		cmd.Error = execErr.Error()
		reason = execErr.Error()
	} else {
		cmd.State = contracts.StateExecuted
		cmd.Result = result
	}

	if err := r.update(ctx, cmd, contracts.StateApproved); err != nil {
		return nil, err
	}
	if err := r.record(ctx, cmd, contracts.StateApproved, cmd.State, systemActor, reason); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Get returns the command for approvalID.
func (r *Registry) Get(ctx context.Context, approvalID string) (*contracts.AICommand, error) {
	return r.load(ctx, approvalID)
}

// ListBySession returns the session's commands, newest first.
func (r *Registry) ListBySession(ctx context.Context, sessionID string) ([]*contracts.AICommand, error) {
	cmds, err := r.cmds.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	return cmds, nil
}

func (r *Registry) load(ctx context.Context, approvalID string) (*contracts.AICommand, error) {
	cmd, err := r.cmds.Get(ctx, approvalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, contracts.NewNotFound("command", approvalID)
		}
		return nil, fmt.Errorf("load command: %w", err)
	}
	return cmd, nil
}

// update persists cmd with the expected-state guard. A guard miss means
// another process moved the command between our read and write; the
// caller lost that race and learns the observed state.
func (r *Registry) update(ctx context.Context, cmd *contracts.AICommand, expect contracts.CommandState) error {
	err := r.cmds.Update(ctx, cmd, expect)
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrStale) {
		observed := expect
		if current, getErr := r.cmds.Get(ctx, cmd.ApprovalID); getErr == nil {
			observed = current.State
		}
		return contracts.NewConflict(cmd.ApprovalID, observed)
	}
	if errors.Is(err, store.ErrNotFound) {
		return contracts.NewNotFound("command", cmd.ApprovalID)
	}
	return fmt.Errorf("persist transition: %w", err)
}

func (r *Registry) record(ctx context.Context, cmd *contracts.AICommand, from, to contracts.CommandState, actor, reason string) error {
	_, err := r.log.Record(ctx, audit.Record{
		Kind:       contracts.AuditCommand,
		ApprovalID: cmd.ApprovalID,
		SessionID:  cmd.SessionID(),
		FromState:  string(from),
		ToState:    string(to),
		Actor:      actor,
		Reason:     reason,
	})
	if err != nil {
		return fmt.Errorf("audit transition: %w", err)
	}
	return nil
}
