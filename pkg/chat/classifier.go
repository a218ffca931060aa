package chat

import (
	"context"
	"strings"

	"github.com/assentworks/assent/pkg/contracts"
)

// Classifier maps free text onto a classified intent. Language
// understanding is an external collaborator: production deployments inject
// their own implementation and the engine treats its verdict as opaque
// input to the proposal policy.
type Classifier interface {
	Classify(ctx context.Context, message string) (contracts.Intent, error)
}

// HeuristicClassifier is the offline fallback: a deterministic keyword and
// field parser, good enough to run the engine standalone and to keep tests
// hermetic. It never errors.
type HeuristicClassifier struct{}

func NewHeuristicClassifier() *HeuristicClassifier { return &HeuristicClassifier{} }

func (h *HeuristicClassifier) Classify(_ context.Context, message string) (contracts.Intent, error) {
	kind := classifyKind(strings.ToLower(message))
	intent := contracts.Intent{Kind: kind, Utterance: message}
	if kind.IsWrite() {
		intent.Params = extractFields(message)
	}
	return intent, nil
}

func classifyKind(lower string) contracts.IntentKind {
	has := func(subs ...string) bool {
		for _, s := range subs {
			if !strings.Contains(lower, s) {
				return false
			}
		}
		return true
	}
	switch {
	case has("create", "task") || has("add", "task") || has("new task"):
		return contracts.IntentCreateTask
	case has("create", "page") || has("add", "page") || has("new page"):
		return contracts.IntentCreatePage
	case has("append") || has("add", "note") || has("take a note"):
		return contracts.IntentAppendNote
	case has("update") || has("rename") || has("change", "to"):
		return contracts.IntentUpdateEntry
	case has("what") || has("show") || has("list") || has("find") || has("search") || has("query") || has("how many"):
		return contracts.IntentQueryWorkspace
	case strings.HasPrefix(lower, "hello") || strings.HasPrefix(lower, "hi ") || lower == "hi" ||
		strings.HasPrefix(lower, "hey") || has("thanks") || has("thank you"):
		return contracts.IntentSmallTalk
	default:
		return contracts.IntentUnknown
	}
}

// extractFields parses "Key: Value" pairs from an utterance like
// "Create a task: Name: Test Task; Priority: High". Keys are lowercased;
// pairs without both halves are skipped.
func extractFields(message string) map[string]any {
	_, rest, ok := strings.Cut(message, ":")
	if !ok {
		return nil
	}

	fields := make(map[string]any)
	for _, segment := range strings.Split(rest, ";") {
		key, value, ok := strings.Cut(segment, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		fields[key] = value
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}
