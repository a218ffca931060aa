package contracts

// IntentKind is the closed set of classified intents the engine understands.
// The classifier (an external collaborator behind chat.Classifier) maps free
// text onto one of these; downstream policy is a total function over the
// enum rather than a string comparison.
type IntentKind string

const (
	// Write intents. Each corresponds to a live workspace opcode.
	IntentCreateTask  IntentKind = "create_task"
	IntentCreatePage  IntentKind = "create_page"
	IntentAppendNote  IntentKind = "append_note"
	IntentUpdateEntry IntentKind = "update_entry"

	// Read-only intents.
	IntentQueryWorkspace IntentKind = "query_workspace"
	IntentSmallTalk      IntentKind = "small_talk"

	// IntentUnknown is the fail-closed default: never a write.
	IntentUnknown IntentKind = "unknown"
)

// IsWrite reports whether the intent would mutate an external system.
// Unknown kinds are reads: the gate fails closed on classification gaps.
func (k IntentKind) IsWrite() bool {
	switch k {
	case IntentCreateTask, IntentCreatePage, IntentAppendNote, IntentUpdateEntry:
		return true
	}
	return false
}

// Intent is the classifier's verdict on one inbound message.
type Intent struct {
	Kind IntentKind `json:"kind"`
	// Params holds fields extracted from the utterance (e.g. task name,
	// priority). Passed through to proposals verbatim.
	Params map[string]any `json:"params,omitempty"`
	// Utterance is the raw message the classification was derived from.
	Utterance string `json:"utterance,omitempty"`
}

// IsWrite reports whether the classified intent is a write.
func (i Intent) IsWrite() bool { return i.Kind.IsWrite() }
