package chat

import "testing"

func TestNormalizePhrase(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"activate notion ops", "activate notion ops"},
		{"  Activate   NOTION ops ", "activate notion ops"},
		{"Activate　Notion\tOPS", "activate notion ops"},
		{"ＡＣＴＩＶＡＴＥ notion ops", "activate notion ops"},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := normalizePhrase(tt.in); got != tt.want {
			t.Errorf("normalizePhrase(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
