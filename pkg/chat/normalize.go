package chat

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// normalizePhrase canonicalizes an utterance for arm-phrase comparison:
// compatibility normalization (NFKC), Unicode case folding, and whitespace
// collapsed to single spaces. "  Activate　Notion OPS " matches
// "activate notion ops".
func normalizePhrase(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}
