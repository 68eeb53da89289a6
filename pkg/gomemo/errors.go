package gomemo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/dan-solli/gomemo/pkg/store"
)

// Error type constants for classification
const (
	ErrTypeValidation = "validation"
	ErrTypeNotFound   = "not_found"
	ErrTypeTimeout    = "timeout"
	ErrTypeNetwork    = "network"
	ErrTypeLLM        = "llm"
	ErrTypeDatabase   = "database"
	ErrTypeParse      = "parse"
	ErrTypeUnknown    = "unknown"
)

// ValidationError reports a rejected argument. It is returned before any
// collaborator is called.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// NotFoundError reports a memory id with no stored record behind it.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("memory %s not found", e.ID)
}

// Unwrap lets errors.Is match the store sentinel.
func (e *NotFoundError) Unwrap() error {
	return store.ErrNotFound
}

// UpstreamCallError reports a failed call to a collaborator: embeddings,
// completion provider, vector store, graph store or history store.
type UpstreamCallError struct {
	Upstream string
	Err      error
}

func (e *UpstreamCallError) Error() string {
	return fmt.Sprintf("%s call failed: %v", e.Upstream, e.Err)
}

func (e *UpstreamCallError) Unwrap() error {
	return e.Err
}

// UpstreamParseError reports a collaborator response that could not be
// decoded. Operations recover from it with a safe default, so it shows up
// in logs and traces rather than in return values.
type UpstreamParseError struct {
	Upstream string
	Err      error
}

func (e *UpstreamParseError) Error() string {
	return fmt.Sprintf("%s returned an unparsable response: %v", e.Upstream, e.Err)
}

func (e *UpstreamParseError) Unwrap() error {
	return e.Err
}

// ClassifyError inspects an error and returns its type classification.
// This enables grouping errors by category in metrics and traces. Typed
// errors classify exactly; everything else falls back to string heuristics
// over the provider error text.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return ErrTypeValidation
	}
	var notFoundErr *NotFoundError
	if errors.As(err, &notFoundErr) {
		return ErrTypeNotFound
	}
	if errors.Is(err, store.ErrNotFound) {
		return ErrTypeNotFound
	}
	var parseErr *UpstreamParseError
	if errors.As(err, &parseErr) {
		return ErrTypeParse
	}

	errStrLower := strings.ToLower(err.Error())

	// Check for timeout errors
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(errStrLower, "timeout") || strings.Contains(errStrLower, "deadline exceeded") {
		return ErrTypeTimeout
	}

	// Check for network errors
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return ErrTypeNetwork
	}
	if strings.Contains(errStrLower, "connection refused") ||
		strings.Contains(errStrLower, "connection reset") ||
		strings.Contains(errStrLower, "no such host") ||
		strings.Contains(errStrLower, "network is unreachable") ||
		strings.Contains(errStrLower, "dial tcp") ||
		strings.Contains(errStrLower, "eof") {
		return ErrTypeNetwork
	}

	// Check for malformed payloads before the validation bucket, whose
	// "invalid" substring would otherwise swallow "invalid json".
	if strings.Contains(errStrLower, "unmarshal") ||
		strings.Contains(errStrLower, "invalid json") ||
		strings.Contains(errStrLower, "unexpected end of json") {
		return ErrTypeParse
	}

	// Check for LLM/API errors
	if strings.Contains(errStrLower, "api error") ||
		strings.Contains(errStrLower, "rate limit") ||
		strings.Contains(errStrLower, "invalid response") ||
		strings.Contains(errStrLower, "embedding") ||
		strings.Contains(errStrLower, "openai") ||
		strings.Contains(errStrLower, "anthropic") ||
		strings.Contains(errStrLower, "ollama") ||
		strings.Contains(errStrLower, "model") && strings.Contains(errStrLower, "not found") {
		return ErrTypeLLM
	}

	// Check for database errors (SQLite specific)
	if strings.Contains(errStrLower, "sql") ||
		strings.Contains(errStrLower, "database") ||
		strings.Contains(errStrLower, "constraint") ||
		strings.Contains(errStrLower, "unique") && strings.Contains(errStrLower, "failed") {
		return ErrTypeDatabase
	}

	// Check for validation errors
	if strings.Contains(errStrLower, "validation") ||
		strings.Contains(errStrLower, "invalid") ||
		strings.Contains(errStrLower, "required") ||
		strings.Contains(errStrLower, "cannot be empty") ||
		strings.Contains(errStrLower, "must be") {
		return ErrTypeValidation
	}

	return ErrTypeUnknown
}
