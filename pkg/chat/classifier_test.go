package chat

import (
	"context"
	"reflect"
	"testing"

	"github.com/assentworks/assent/pkg/contracts"
)

func TestHeuristicClassifier(t *testing.T) {
	tests := []struct {
		message    string
		wantKind   contracts.IntentKind
		wantParams map[string]any
	}{
		{
			message:    "Create a task: Name: Test Task; Priority: High",
			wantKind:   contracts.IntentCreateTask,
			wantParams: map[string]any{"name": "Test Task", "priority": "High"},
		},
		{
			message:    "add a task: name: Buy milk",
			wantKind:   contracts.IntentCreateTask,
			wantParams: map[string]any{"name": "Buy milk"},
		},
		{
			message:    "Create a page: Title: Roadmap 2026",
			wantKind:   contracts.IntentCreatePage,
			wantParams: map[string]any{"title": "Roadmap 2026"},
		},
		{
			message:    "Append to my journal: Text: remember the milk",
			wantKind:   contracts.IntentAppendNote,
			wantParams: map[string]any{"text": "remember the milk"},
		},
		{
			message:  "Update the deadline to Friday",
			wantKind: contracts.IntentUpdateEntry,
		},
		{
			message:  "What tasks are due this week?",
			wantKind: contracts.IntentQueryWorkspace,
		},
		{
			message:  "show my pages",
			wantKind: contracts.IntentQueryWorkspace,
		},
		{
			message:  "Hello there",
			wantKind: contracts.IntentSmallTalk,
		},
		{
			message:  "thanks!",
			wantKind: contracts.IntentSmallTalk,
		},
		{
			message:  "qwerty",
			wantKind: contracts.IntentUnknown,
		},
	}

	c := NewHeuristicClassifier()
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			intent, err := c.Classify(context.Background(), tt.message)
			if err != nil {
				t.Fatalf("classify: %v", err)
			}
			if intent.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", intent.Kind, tt.wantKind)
			}
			if !reflect.DeepEqual(intent.Params, tt.wantParams) {
				t.Errorf("params = %#v, want %#v", intent.Params, tt.wantParams)
			}
			if intent.Utterance != tt.message {
				t.Errorf("utterance not preserved: %q", intent.Utterance)
			}
		})
	}
}

func TestHeuristicClassifier_UnknownIsNeverWrite(t *testing.T) {
	c := NewHeuristicClassifier()
	intent, err := c.Classify(context.Background(), "xkcd 927")
	if err != nil {
		t.Fatal(err)
	}
	if intent.IsWrite() {
		t.Error("unknown intent must not be a write")
	}
}
