// Package contracts defines the shared data model of the governance engine:
// the AICommand lifecycle, proposed commands, session arm state, audit
// entries, and the error taxonomy. Every other package depends on these
// types; none of them carries behavior beyond pure state queries.
package contracts

import "time"

// CommandState is the lifecycle state of an AICommand.
//
// The transition graph is closed and monotonic:
//
//	BLOCKED  -> APPROVED | REJECTED
//	APPROVED -> EXECUTED | FAILED
//
// EXECUTED, REJECTED, and FAILED are terminal; a command in a terminal
// state is immutable.
type CommandState string

const (
	StateBlocked  CommandState = "BLOCKED"
	StateApproved CommandState = "APPROVED"
	StateExecuted CommandState = "EXECUTED"
	StateRejected CommandState = "REJECTED"
	StateFailed   CommandState = "FAILED"
)

// Valid reports whether s is one of the five lifecycle states.
func (s CommandState) Valid() bool {
	switch s {
	case StateBlocked, StateApproved, StateExecuted, StateRejected, StateFailed:
		return true
	}
	return false
}

// Terminal reports whether s admits no further transitions.
func (s CommandState) Terminal() bool {
	switch s {
	case StateExecuted, StateRejected, StateFailed:
		return true
	}
	return false
}

// CanTransition reports whether the edge s -> to exists in the lifecycle
// graph. It is a total function over the enum: unknown states transition
// nowhere.
func (s CommandState) CanTransition(to CommandState) bool {
	switch s {
	case StateBlocked:
		return to == StateApproved || to == StateRejected
	case StateApproved:
		return to == StateExecuted || to == StateFailed
	}
	return false
}

// Scope is the capability tag naming which execution pathway a proposal is
// permitted to use.
type Scope string

const (
	// ScopeNone marks advisory proposals. Nothing with ScopeNone is ever
	// executable, regardless of any other flag on the record.
	ScopeNone Scope = "none"

	// ScopeAPIExecuteRaw is the single governed write pathway. Only
	// proposals carrying it may become AICommands, and only after passing
	// human approval.
	ScopeAPIExecuteRaw Scope = "api_execute_raw"
)

// ProposedCommand is an ephemeral, never-persisted description of an action
// the assistant could take. The proposal builder produces these fresh per
// request; one becomes a durable AICommand only if the caller submits it to
// the approval registry.
type ProposedCommand struct {
	Command          string         `json:"command"`
	Intent           string         `json:"intent"`
	Scope            Scope          `json:"scope"`
	DryRun           bool           `json:"dry_run"`
	RequiresApproval bool           `json:"requires_approval"`
	Params           map[string]any `json:"params,omitempty"`
}

// Executable reports whether the proposal is on the governed
// approval-then-execute track.
func (p ProposedCommand) Executable() bool {
	return p.Scope == ScopeAPIExecuteRaw && p.RequiresApproval
}

// AICommand is the persisted record of a proposed write action and its
// approval lifecycle. Identity (ApprovalID, ExecutionID) is assigned once
// by the registry and never changes. State only advances along the
// CommandState transition graph; once terminal the record is immutable.
type AICommand struct {
	ApprovalID  string `json:"approval_id"`
	ExecutionID string `json:"execution_id"`

	Command          string            `json:"command"`
	Intent           string            `json:"intent"`
	Params           map[string]any    `json:"params,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Scope            Scope             `json:"scope"`
	DryRun           bool              `json:"dry_run"`
	RequiresApproval bool              `json:"requires_approval"`

	State CommandState `json:"state"`

	// Result is set exactly once, when the command reaches EXECUTED.
	Result map[string]any `json:"result,omitempty"`
	// Error is set exactly once, when the command reaches FAILED.
	Error string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by,omitempty"`

	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	ApprovedBy string     `json:"approved_by,omitempty"`

	RejectedAt   *time.Time `json:"rejected_at,omitempty"`
	RejectedBy   string     `json:"rejected_by,omitempty"`
	RejectReason string     `json:"reject_reason,omitempty"`

	ExecutedAt *time.Time `json:"executed_at,omitempty"`
}

// SessionID returns the session the command belongs to, or "" when the
// caller supplied no session context.
func (c *AICommand) SessionID() string {
	if c.Metadata == nil {
		return ""
	}
	return c.Metadata["session_id"]
}

// Clone returns a deep copy. Stores hand out clones so callers can never
// mutate registry-owned state through a shared map.
func (c *AICommand) Clone() *AICommand {
	cp := *c
	cp.Params = cloneAnyMap(c.Params)
	cp.Result = cloneAnyMap(c.Result)
	if c.Metadata != nil {
		cp.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			cp.Metadata[k] = v
		}
	}
	cp.ApprovedAt = cloneTime(c.ApprovedAt)
	cp.RejectedAt = cloneTime(c.RejectedAt)
	cp.ExecutedAt = cloneTime(c.ExecutedAt)
	return &cp
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
