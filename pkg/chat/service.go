// Package chat is the conversational surface of the governance engine. It
// detects the arm/disarm side-channel phrases, reads the session gate,
// hands everything else to the classifier, and turns the verdict into
// proposals. Nothing in this package performs a write: the only state it
// touches is the per-session arm flag, and only on an exact phrase match.
package chat

import (
	"context"
	"fmt"

	"github.com/assentworks/assent/pkg/contracts"
	"github.com/assentworks/assent/pkg/gate"
	"github.com/assentworks/assent/pkg/proposal"
)

// Phrases are the side-channel commands that flip the session gate. They
// are matched after normalizePhrase, so spacing and case do not matter.
type Phrases struct {
	Activate   string
	Deactivate string
}

// DefaultPhrases returns the stock arm phrases.
func DefaultPhrases() Phrases {
	return Phrases{
		Activate:   "activate notion ops",
		Deactivate: "deactivate notion ops",
	}
}

// NotionOps echoes the session's armed state on every chat response.
type NotionOps struct {
	Armed bool `json:"armed"`
}

// Response is what the chat surface returns. Proposals are descriptions,
// never actions.
type Response struct {
	Text             string                      `json:"text"`
	ProposedCommands []contracts.ProposedCommand `json:"proposed_commands"`
	NotionOps        NotionOps                   `json:"notion_ops"`
}

// Service wires phrase detection, the arm gate, the classifier, and the
// proposal builder behind one Handle call.
type Service struct {
	gate       *gate.Gate
	classifier Classifier
	builder    *proposal.Builder
	phrases    Phrases

	activateNorm   string
	deactivateNorm string
}

// NewService builds the chat surface. Empty phrase fields fall back to
// DefaultPhrases.
func NewService(g *gate.Gate, classifier Classifier, phrases Phrases) *Service {
	defaults := DefaultPhrases()
	if phrases.Activate == "" {
		phrases.Activate = defaults.Activate
	}
	if phrases.Deactivate == "" {
		phrases.Deactivate = defaults.Deactivate
	}
	return &Service{
		gate:           g,
		classifier:     classifier,
		builder:        proposal.NewBuilder(phrases.Activate),
		phrases:        phrases,
		activateNorm:   normalizePhrase(phrases.Activate),
		deactivateNorm: normalizePhrase(phrases.Deactivate),
	}
}

// Handle processes one inbound message for a session. Arm phrases flip the
// gate and short-circuit; everything else is classified and mapped to zero
// or more proposals. The response always echoes the session's armed state.
func (s *Service) Handle(ctx context.Context, message string, metadata map[string]string, actor string) (Response, error) {
	sessionID := metadata["session_id"]
	if sessionID == "" {
		return Response{}, contracts.NewValidation("chat request carries no session_id")
	}

	if norm := normalizePhrase(message); norm != "" {
		switch norm {
		case s.activateNorm:
			return s.toggle(ctx, sessionID, actor, true)
		case s.deactivateNorm:
			return s.toggle(ctx, sessionID, actor, false)
		}
	}

	armed, err := s.gate.IsArmed(ctx, sessionID)
	if err != nil {
		return Response{}, err
	}
	intent, err := s.classifier.Classify(ctx, message)
	if err != nil {
		return Response{}, fmt.Errorf("classify message: %w", err)
	}

	decision := s.builder.Build(intent, armed)
	proposals := decision.Proposals
	if proposals == nil {
		proposals = []contracts.ProposedCommand{}
	}
	return Response{
		Text:             decision.Text,
		ProposedCommands: proposals,
		NotionOps:        NotionOps{Armed: armed},
	}, nil
}

func (s *Service) toggle(ctx context.Context, sessionID, actor string, arm bool) (Response, error) {
	var (
		state contracts.SessionArmState
		err   error
		text  string
	)
	if arm {
		state, err = s.gate.Activate(ctx, sessionID, actor)
		text = "Notion ops are armed for this session. Write requests become dry-run proposals held for human approval."
	} else {
		state, err = s.gate.Deactivate(ctx, sessionID, actor)
		text = "Notion ops are disarmed for this session. Write requests will only produce previews."
	}
	if err != nil {
		return Response{}, err
	}
	return Response{
		Text:             text,
		ProposedCommands: []contracts.ProposedCommand{},
		NotionOps:        NotionOps{Armed: state.Armed},
	}, nil
}
