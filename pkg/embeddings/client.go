package embeddings

import "context"

// Action tags describing the memory operation that requested an embedding.
// Providers that support task-typed embeddings may vary output by action;
// the bundled OpenAI and Ollama clients accept the tag and ignore it.
const (
	ActionAdd    = "add"
	ActionSearch = "search"
	ActionUpdate = "update"
)

// EmbeddingClient defines the interface for generating text embeddings.
type EmbeddingClient interface {
	// Embed generates an embedding vector for a single text.
	Embed(ctx context.Context, text string, action string) ([]float32, error)

	// EmbedBatch generates embedding vectors for multiple texts in order.
	EmbedBatch(ctx context.Context, texts []string, action string) ([][]float32, error)
}
