// Package llm provides interfaces and implementations for LLM completion clients
package llm

import "context"

// Chat roles understood by the completion providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat turn sent to a completion provider.
// Name optionally identifies the actor behind the turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// LLMClient defines the interface for interacting with large language models
type LLMClient interface {
	// Complete sends chat messages to the LLM and returns the raw completion text
	Complete(ctx context.Context, messages []Message) (string, error)

	// CompleteWithSchema sends chat messages and unmarshals the JSON response into
	// the provided schema. A JSON-shaped response is requested from providers that
	// support it, but code fences are still stripped and stray arrays normalized
	// because the format is a request, not a guarantee.
	// The schema parameter should be a pointer to the target struct.
	CompleteWithSchema(ctx context.Context, messages []Message, schema any) error
}

// UserMessage wraps a single prompt string as a one-turn message slice.
func UserMessage(prompt string) []Message {
	return []Message{{Role: RoleUser, Content: prompt}}
}
