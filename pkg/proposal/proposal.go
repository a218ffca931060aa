// Package proposal turns a classified intent plus the session's arm
// state into response text and proposed commands. Build is pure: no
// clock, no randomness, no I/O, so the full policy is table-testable.
package proposal

import (
	"fmt"

	"github.com/assentworks/assent/pkg/contracts"
)

// Opcode namespaces. Live opcodes name real workspace writes; preview
// opcodes are inert stand-ins emitted while the session is disarmed and
// are rejected by the executor's scope check even if smuggled through.
const (
	liveOpcodePrefix    = "notion."
	previewOpcodePrefix = "preview."
	queryOpcode         = "workspace.query"
)

// Decision is the builder's verdict: what to say and what to propose.
type Decision struct {
	Text      string                      `json:"text"`
	Proposals []contracts.ProposedCommand `json:"proposals"`
}

// Executable reports whether any proposal is on the governed track.
func (d Decision) Executable() bool {
	for _, p := range d.Proposals {
		if p.Executable() {
			return true
		}
	}
	return false
}

// Builder constructs decisions. The activate phrase is baked in at
// construction so disarmed-write responses can tell the user how to arm.
type Builder struct {
	activatePhrase string
}

// NewBuilder creates a builder. activatePhrase may be empty; the
// disarmed-write text then falls back to a generic instruction.
func NewBuilder(activatePhrase string) *Builder {
	return &Builder{activatePhrase: activatePhrase}
}

// Build applies the proposal policy, in precedence order:
//
//  1. non-write intent: at most one advisory proposal, never executable
//  2. write intent, disarmed: one preview proposal, scope "none", and
//     text explaining the arming requirement
//  3. write intent, armed: one executable-track proposal, dry-run,
//     requiring approval
//
// Identical inputs yield identical output.
func (b *Builder) Build(intent contracts.Intent, armed bool) Decision {
	if !intent.IsWrite() {
		return b.buildRead(intent)
	}
	if !armed {
		return b.buildDisarmedWrite(intent)
	}
	return b.buildArmedWrite(intent)
}

func (b *Builder) buildRead(intent contracts.Intent) Decision {
	switch intent.Kind {
	case contracts.IntentQueryWorkspace:
		return Decision{
			Text: "I can look that up in the workspace. Here is the query I would run.",
			Proposals: []contracts.ProposedCommand{{
				Command:          queryOpcode,
				Intent:           string(intent.Kind),
				Scope:            contracts.ScopeNone,
				DryRun:           false,
				RequiresApproval: false,
				Params:           intent.Params,
			}},
		}
	case contracts.IntentSmallTalk:
		return Decision{Text: "Hello! Ask me about your workspace, or describe a change you would like to make."}
	default:
		return Decision{Text: "I did not catch an actionable request in that. Try describing a task to create or a question about the workspace."}
	}
}

func (b *Builder) buildDisarmedWrite(intent contracts.Intent) Decision {
	suffix := opcodeSuffix(intent.Kind)

	text := fmt.Sprintf(
		"I can prepare to %s, but workspace writes are currently disarmed for this session.",
		describeWrite(intent))
	if b.activatePhrase != "" {
		text += fmt.Sprintf(" Say %q to arm them first.", b.activatePhrase)
	} else {
		text += " Arm workspace operations for this session first."
	}

	return Decision{
		Text: text,
		Proposals: []contracts.ProposedCommand{{
			Command:          previewOpcodePrefix + suffix,
			Intent:           string(intent.Kind),
			Scope:            contracts.ScopeNone,
			DryRun:           false,
			RequiresApproval: false,
			Params:           intent.Params,
		}},
	}
}

func (b *Builder) buildArmedWrite(intent contracts.Intent) Decision {
	suffix := opcodeSuffix(intent.Kind)

	return Decision{
		Text: fmt.Sprintf(
			"Prepared a dry-run to %s. Nothing has been written: the command is blocked until a human approves it.",
			describeWrite(intent)),
		Proposals: []contracts.ProposedCommand{{
			Command:          liveOpcodePrefix + suffix,
			Intent:           string(intent.Kind),
			Scope:            contracts.ScopeAPIExecuteRaw,
			DryRun:           true,
			RequiresApproval: true,
			Params:           intent.Params,
		}},
	}
}

// opcodeSuffix maps a write intent to its opcode name. IntentKind values
// are chosen to match the opcode suffixes, so this is the identity for
// known writes; the fallback keeps the function total.
func opcodeSuffix(kind contracts.IntentKind) string {
	if kind.IsWrite() {
		return string(kind)
	}
	return "unknown"
}

// describeWrite renders a short human description of the write, pulling
// a display name from params when one was extracted.
func describeWrite(intent contracts.Intent) string {
	verb := map[contracts.IntentKind]string{
		contracts.IntentCreateTask:  "create the task",
		contracts.IntentCreatePage:  "create the page",
		contracts.IntentAppendNote:  "append the note",
		contracts.IntentUpdateEntry: "update the entry",
	}[intent.Kind]
	if verb == "" {
		verb = "perform the change"
	}

	for _, key := range []string{"name", "title"} {
		if v, ok := intent.Params[key].(string); ok && v != "" {
			return fmt.Sprintf("%s %q", verb, v)
		}
	}
	return verb
}
