package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultAnthropicModel     = "claude-sonnet-4-20250514"
	defaultAnthropicMaxTokens = 2048
)

// AnthropicLLM implements LLMClient using the official Anthropic SDK.
// The SDK carries its own retry handling, so no retry loop is layered on top.
type AnthropicLLM struct {
	client    anthropic.Client
	Model     string
	MaxTokens int64
}

// NewAnthropicLLM creates a new Anthropic LLM client
func NewAnthropicLLM(apiKey string) *AnthropicLLM {
	return &AnthropicLLM{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		Model:     defaultAnthropicModel,
		MaxTokens: defaultAnthropicMaxTokens,
	}
}

// Complete sends chat messages to the Messages API and returns the response text.
// System messages are lifted into the request's system blocks.
func (a *AnthropicLLM) Complete(ctx context.Context, messages []Message) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.Model),
		MaxTokens: a.MaxTokens,
	}

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Content})
		case RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic api error: %w", err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}

	if out.Len() == 0 {
		return "", fmt.Errorf("no text content returned")
	}

	return out.String(), nil
}

// CompleteWithSchema sends chat messages and unmarshals the JSON response into
// the provided schema. The Messages API has no JSON mode, so the response goes
// through the same fence stripping and array normalization as the other providers.
func (a *AnthropicLLM) CompleteWithSchema(ctx context.Context, messages []Message, schema any) error {
	response, err := a.Complete(ctx, messages)
	if err != nil {
		return err
	}
	return UnmarshalCompletion(response, schema)
}
