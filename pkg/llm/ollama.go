package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaClient implements LLMClient against a local Ollama chat endpoint.
type OllamaClient struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaClient creates a client for the given endpoint, typically
// "http://localhost:11434", and model name. The HTTP timeout is generous
// because local models can be slow to first token.
func NewOllamaClient(baseURL, model string) *OllamaClient {
	return &OllamaClient{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 300 * time.Second},
	}
}

type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Format   string    `json:"format,omitempty"`
}

type ollamaChatResponse struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
}

// Complete sends the messages and returns the raw completion text.
func (c *OllamaClient) Complete(ctx context.Context, messages []Message) (string, error) {
	result, err := c.chat(ctx, messages, "")
	if err != nil {
		return "", err
	}
	return result.Message.Content, nil
}

// CompleteWithSchema runs the chat in JSON mode and unmarshals the reply
// into schema.
func (c *OllamaClient) CompleteWithSchema(ctx context.Context, messages []Message, schema any) error {
	result, err := c.chat(ctx, messages, "json")
	if err != nil {
		return err
	}
	return UnmarshalCompletion(result.Message.Content, schema)
}

func (c *OllamaClient) chat(ctx context.Context, messages []Message, format string) (*ollamaChatResponse, error) {
	payload, err := json.Marshal(ollamaChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
		Format:   format,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned %d: %s", resp.StatusCode, string(body))
	}

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}
