// Package policy admits or refuses raw execute requests before any
// AICommand is created. A refusal is a validation error to the caller;
// nothing is persisted and nothing reaches the approval registry.
//
// The guard layers three checks per command opcode: a strict allowlist,
// an optional JSON Schema (Draft 2020) over params, and an optional CEL
// expression over the whole request. A guard with no rules loaded admits
// everything, so deployments that want no admission policy simply skip
// the profile.
package policy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/assentworks/assent/pkg/contracts"
)

// Rule governs one command opcode.
type Rule struct {
	Command string `yaml:"command" json:"command"`
	// ParamsSchema is an inline JSON Schema (Draft 2020) the command's
	// params must satisfy. Empty accepts any params.
	ParamsSchema string `yaml:"params_schema,omitempty" json:"params_schema,omitempty"`
	// Guard is a CEL expression over the request; it must evaluate to
	// true for the request to pass. The request is bound as "input" with
	// fields command, intent, scope, params, and metadata.
	Guard string `yaml:"guard,omitempty" json:"guard,omitempty"`
}

// Profile is the YAML document rules load from.
type Profile struct {
	Name  string `yaml:"name" json:"name"`
	Rules []Rule `yaml:"rules" json:"rules"`
}

// Request is the admission view of an incoming raw execute call.
type Request struct {
	Command  string
	Intent   string
	Scope    contracts.Scope
	Params   map[string]any
	Metadata map[string]string
}

type compiledRule struct {
	schema *jsonschema.Schema
	guard  string
}

// Guard is the admission gate. Allow is called at boot; Admit is safe for
// concurrent use.
type Guard struct {
	env *cel.Env

	mu       sync.RWMutex
	rules    map[string]compiledRule
	programs map[string]cel.Program
}

func NewGuard() (*Guard, error) {
	// A single "input" map keeps guard expressions decoupled from the
	// request struct layout.
	env, err := cel.NewEnv(
		cel.Variable("input", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL env: %w", err)
	}
	return &Guard{
		env:      env,
		rules:    make(map[string]compiledRule),
		programs: make(map[string]cel.Program),
	}, nil
}

// Allow adds a rule to the allowlist, compiling its params schema. Schema
// errors surface here, at configuration time, not per request.
func (g *Guard) Allow(rule Rule) error {
	if rule.Command == "" {
		return fmt.Errorf("policy rule has no command")
	}

	cr := compiledRule{guard: rule.Guard}
	if rule.ParamsSchema != "" {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		schemaURL := fmt.Sprintf("https://assent.schemas.local/policy/%s.schema.json", rule.Command)
		if err := c.AddResource(schemaURL, strings.NewReader(rule.ParamsSchema)); err != nil {
			return fmt.Errorf("policy schema load failed for %q: %w", rule.Command, err)
		}
		compiled, err := c.Compile(schemaURL)
		if err != nil {
			return fmt.Errorf("policy schema compile failed for %q: %w", rule.Command, err)
		}
		cr.schema = compiled
	}

	g.mu.Lock()
	g.rules[rule.Command] = cr
	g.mu.Unlock()
	return nil
}

// Load installs every rule of a profile.
func (g *Guard) Load(p Profile) error {
	for _, rule := range p.Rules {
		if err := g.Allow(rule); err != nil {
			return err
		}
	}
	return nil
}

// Admit checks req against the loaded rules. A nil return admits the
// request; otherwise the error carries VALIDATION_ERROR. Every failure
// mode inside a rule refuses the request rather than waving it through.
func (g *Guard) Admit(req Request) error {
	g.mu.RLock()
	empty := len(g.rules) == 0
	rule, listed := g.rules[req.Command]
	g.mu.RUnlock()

	// No rules loaded means no admission policy is configured.
	if empty {
		return nil
	}
	if !listed {
		return contracts.NewValidation("policy blocked command %q: not in allowlist", req.Command)
	}

	if rule.schema != nil {
		if req.Params == nil {
			return contracts.NewValidation("policy blocked command %q: missing params", req.Command)
		}
		if err := rule.schema.Validate(req.Params); err != nil {
			return contracts.NewValidation("policy blocked command %q: params schema: %v", req.Command, err)
		}
	}

	if rule.guard != "" {
		ok, err := g.evalGuard(rule.guard, req)
		if err != nil {
			return contracts.NewValidation("policy blocked command %q: guard: %v", req.Command, err)
		}
		if !ok {
			return contracts.NewValidation("policy blocked command %q: guard refused the request", req.Command)
		}
	}
	return nil
}

func (g *Guard) evalGuard(expression string, req Request) (bool, error) {
	g.mu.RLock()
	prg, hit := g.programs[expression]
	g.mu.RUnlock()

	if !hit {
		// Compile under the write lock, double checked.
		g.mu.Lock()
		if prg, hit = g.programs[expression]; !hit {
			ast, issues := g.env.Compile(expression)
			if issues != nil && issues.Err() != nil {
				g.mu.Unlock()
				return false, fmt.Errorf("compile: %w", issues.Err())
			}
			p, err := g.env.Program(ast)
			if err != nil {
				g.mu.Unlock()
				return false, fmt.Errorf("program: %w", err)
			}
			g.programs[expression] = p
			prg = p
		}
		g.mu.Unlock()
	}

	activation := map[string]any{"input": map[string]any{
		"command":  req.Command,
		"intent":   req.Intent,
		"scope":    string(req.Scope),
		"params":   req.Params,
		"metadata": req.Metadata,
	}}
	out, _, err := prg.Eval(activation)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not boolean")
	}
	return allowed, nil
}
