package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultModel         = "gpt-4o-mini"
	maxRetries           = 3
	initialRetryDelay    = 1 * time.Second
	backoffFactor        = 2.0
)

// OpenAILLM talks to OpenAI's Chat Completions API. Transient failures
// (429, 5xx, transport errors) are retried with jittered exponential
// backoff; everything else fails fast.
type OpenAILLM struct {
	APIKey  string
	Model   string
	BaseURL string

	client     *http.Client
	retryDelay time.Duration
}

// NewOpenAILLM creates a client for the default model and endpoint.
func NewOpenAILLM(apiKey string) *OpenAILLM {
	return &OpenAILLM{
		APIKey:     apiKey,
		Model:      defaultModel,
		BaseURL:    defaultOpenAIBaseURL,
		client:     &http.Client{Timeout: 60 * time.Second},
		retryDelay: initialRetryDelay,
	}
}

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete sends the messages and returns the assistant reply text.
func (o *OpenAILLM) Complete(ctx context.Context, messages []Message) (string, error) {
	return o.complete(ctx, messages, false)
}

// CompleteWithSchema requests a JSON object response and unmarshals it
// into schema via UnmarshalCompletion.
func (o *OpenAILLM) CompleteWithSchema(ctx context.Context, messages []Message, schema any) error {
	response, err := o.complete(ctx, messages, true)
	if err != nil {
		return err
	}
	return UnmarshalCompletion(response, schema)
}

func (o *OpenAILLM) complete(ctx context.Context, messages []Message, jsonMode bool) (string, error) {
	delay := o.retryDelay
	if delay <= 0 {
		delay = initialRetryDelay
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		result, err := o.makeRequest(ctx, messages, jsonMode)
		if err == nil {
			return result, nil
		}
		if !isTransient(err) {
			return "", err
		}
		lastErr = err

		if attempt == maxRetries {
			break
		}
		if err := sleepWithJitter(ctx, delay); err != nil {
			return "", err
		}
		delay = time.Duration(float64(delay) * backoffFactor)
	}
	return "", fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}

// sleepWithJitter waits between 0.5x and 1.5x of d, or until ctx is done.
func sleepWithJitter(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d/2 + time.Duration(rand.Int63n(int64(d))))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UnmarshalCompletion parses a raw completion into schema, tolerating
// markdown code fences. When the direct parse fails it retries once with
// array-to-string normalization, which rescues responses carrying arrays
// in fields where strings were expected. Normalization stays a salvage
// step: running it unconditionally would flatten fields that legitimately
// hold string arrays.
func UnmarshalCompletion(response string, schema any) error {
	cleaned := stripMarkdownCodeFence(response)

	directErr := json.Unmarshal([]byte(cleaned), schema)
	if directErr == nil {
		return nil
	}

	normalized, changed, normErr := NormalizeJSONArraysToStrings([]byte(cleaned))
	if normErr != nil || !changed {
		return fmt.Errorf("failed to unmarshal LLM response: %w", directErr)
	}
	log.Printf("gomemo: LLM response carried arrays in string fields; joined them for parsing")

	if err := json.Unmarshal(normalized, schema); err != nil {
		return fmt.Errorf("failed to unmarshal LLM response: %w", err)
	}
	return nil
}

// stripMarkdownCodeFence unwraps ```json ... ``` and ``` ... ``` blocks.
// Responses without a matched fence pair come back unchanged.
func stripMarkdownCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < 6 || !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") {
		return s
	}
	body := strings.TrimPrefix(s, "```")
	body = strings.TrimPrefix(body, "json")
	body = strings.TrimSuffix(body, "```")
	return strings.TrimSpace(body)
}

func (o *OpenAILLM) makeRequest(ctx context.Context, messages []Message, jsonMode bool) (string, error) {
	payload := openAIRequest{
		Model:    o.Model,
		Messages: messages,
	}
	if jsonMode {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.APIKey)

	res, err := o.client.Do(req)
	if err != nil {
		return "", &transientError{cause: fmt.Errorf("request failed: %w", err)}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if res.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("HTTP %d: %s", res.StatusCode, string(raw))
		// 429 and 5xx are worth another try; client errors are not.
		if res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500 {
			return "", &transientError{cause: statusErr}
		}
		return "", statusErr
	}

	var parsed openAIResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("OpenAI API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}
	return parsed.Choices[0].Message.Content, nil
}

// transientError marks a failure the retry loop may take another run at.
type transientError struct {
	cause error
}

func (e *transientError) Error() string { return e.cause.Error() }

func (e *transientError) Unwrap() error { return e.cause }

func isTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
