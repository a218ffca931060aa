// Package executor carries APPROVED commands across the process boundary to
// the adapter that performs the real side effect. It resolves a command's
// scope to a registered adapter, bounds the call with a timeout, and reports
// the outcome without retrying. The approval registry serializes execution
// per approval id, so an adapter never sees the same command in flight twice.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/assentworks/assent/pkg/contracts"
)

// EngineVersion is what adapter manifests are checked against at
// registration time.
const EngineVersion = "1.0.0"

const defaultTimeout = 30 * time.Second

// Manifest identifies an adapter and the engine versions it supports.
type Manifest struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	// Engine is a semver constraint (e.g. ">=1.0.0 <2.0.0") on
	// EngineVersion. Empty means compatible with any engine.
	Engine string `json:"engine,omitempty"`
}

// ExecRequest is the payload handed to an adapter. Params and Metadata are
// forwarded from the command verbatim.
type ExecRequest struct {
	ApprovalID  string            `json:"approval_id"`
	ExecutionID string            `json:"execution_id"`
	Command     string            `json:"command"`
	Intent      string            `json:"intent"`
	Params      map[string]any    `json:"params,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	DryRun      bool              `json:"dry_run"`
}

// ExecResult carries what a successful adapter call produced.
type ExecResult struct {
	Payload map[string]any `json:"payload,omitempty"`
}

// Adapter performs the external call for one scope.
type Adapter interface {
	Manifest() Manifest
	Scope() contracts.Scope
	Execute(ctx context.Context, req ExecRequest) (ExecResult, error)
}

// Registry maps scopes to the adapter that serves them.
type Registry struct {
	mu       sync.RWMutex
	adapters map[contracts.Scope]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[contracts.Scope]Adapter)}
}

// Register adds an adapter after validating its manifest against the
// running engine version. Registering a second adapter for the same scope
// is a wiring error.
func (r *Registry) Register(a Adapter) error {
	m := a.Manifest()
	if m.Name == "" {
		return errors.New("adapter manifest has no name")
	}
	scope := a.Scope()
	if scope == "" {
		return fmt.Errorf("adapter %s declares no scope", m.Name)
	}
	if err := checkEngine(m); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.adapters[scope]; ok {
		return fmt.Errorf("scope %s already served by adapter %s", scope, existing.Manifest().Name)
	}
	r.adapters[scope] = a
	return nil
}

// Resolve returns the adapter registered for scope, if any.
func (r *Registry) Resolve(scope contracts.Scope) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[scope]
	return a, ok
}

func checkEngine(m Manifest) error {
	if m.Engine == "" {
		// No constraint specified, assume compatible.
		return nil
	}
	constraint, err := semver.NewConstraint(m.Engine)
	if err != nil {
		return fmt.Errorf("invalid engine constraint in adapter %s: %w", m.Name, err)
	}
	engineV, err := semver.NewVersion(EngineVersion)
	if err != nil {
		return fmt.Errorf("invalid engine version %s: %w", EngineVersion, err)
	}
	if !constraint.Check(engineV) {
		return fmt.Errorf("adapter %s requires engine %s, but running %s", m.Name, m.Engine, EngineVersion)
	}
	return nil
}

// Executor is the boundary the approval registry fires approved commands
// through.
type Executor struct {
	adapters *Registry
	timeout  time.Duration
}

func New(adapters *Registry) *Executor {
	return &Executor{adapters: adapters, timeout: defaultTimeout}
}

// WithTimeout bounds each adapter call. Zero or negative keeps the default.
func (e *Executor) WithTimeout(d time.Duration) *Executor {
	if d > 0 {
		e.timeout = d
	}
	return e
}

// Run resolves the command's scope and invokes the adapter exactly once.
// A timeout counts as an adapter failure. The returned error becomes the
// command's recorded error; Run never retries.
func (e *Executor) Run(ctx context.Context, cmd *contracts.AICommand) (map[string]any, error) {
	adapter, ok := e.adapters.Resolve(cmd.Scope)
	if !ok {
		return nil, fmt.Errorf("no adapter registered for scope %q", cmd.Scope)
	}

	req := ExecRequest{
		ApprovalID:  cmd.ApprovalID,
		ExecutionID: cmd.ExecutionID,
		Command:     cmd.Command,
		Intent:      cmd.Intent,
		Params:      cmd.Params,
		Metadata:    cmd.Metadata,
		DryRun:      cmd.DryRun,
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	res, err := adapter.Execute(callCtx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("adapter %s timed out after %s", adapter.Manifest().Name, e.timeout)
		}
		return nil, err
	}
	return res.Payload, nil
}
