package cache

import (
	"strings"

	"github.com/dan-solli/gomemo/pkg/llm"
	"github.com/dan-solli/gomemo/pkg/store"
)

// ContextCharBudget caps the merged context size in characters, which
// stand in for a token count.
const ContextCharBudget = 32000

// MergeContext concatenates cached history with the new turn's messages,
// de-duplicates by (role, normalized content) keeping the first occurrence,
// and greedily keeps messages while the character budget allows, dropping
// the remainder.
func MergeContext(history, newMessages []llm.Message) []llm.Message {
	merged := make([]llm.Message, 0, len(history)+len(newMessages))
	seen := make(map[string]struct{})
	total := 0

	keep := func(msg llm.Message) bool {
		key := msg.Role + "\x1f" + store.ComputeTextHash(normalizeContent(msg.Content))
		if _, ok := seen[key]; ok {
			return true
		}
		if total+len(msg.Content) > ContextCharBudget {
			return false
		}
		seen[key] = struct{}{}
		total += len(msg.Content)
		merged = append(merged, msg)
		return true
	}

	for _, msg := range history {
		if !keep(msg) {
			return merged
		}
	}
	for _, msg := range newMessages {
		if !keep(msg) {
			return merged
		}
	}

	return merged
}

// normalizeContent folds whitespace and case so trivially reworded
// duplicates collapse to one entry.
func normalizeContent(content string) string {
	return strings.ToLower(strings.Join(strings.Fields(content), " "))
}
