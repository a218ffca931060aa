package executor

import (
	"context"

	"github.com/assentworks/assent/pkg/contracts"
)

// EchoAdapter is the loopback adapter for development and tests. It makes
// no external call: the approved command is reflected back as its own
// result, preserving the full approval flow without a connector.
type EchoAdapter struct{}

func NewEchoAdapter() *EchoAdapter { return &EchoAdapter{} }

func (a *EchoAdapter) Manifest() Manifest {
	return Manifest{Name: "loopback-echo", Version: EngineVersion}
}

func (a *EchoAdapter) Scope() contracts.Scope { return contracts.ScopeAPIExecuteRaw }

func (a *EchoAdapter) Execute(_ context.Context, req ExecRequest) (ExecResult, error) {
	return ExecResult{Payload: map[string]any{
		"echo":         true,
		"command":      req.Command,
		"intent":       req.Intent,
		"params":       req.Params,
		"dry_run":      req.DryRun,
		"execution_id": req.ExecutionID,
	}}, nil
}
