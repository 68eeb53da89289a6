package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// newTestOpenAI points a client at an httptest server and shrinks the
// retry delay so backoff paths run in milliseconds.
func newTestOpenAI(t *testing.T, handler http.HandlerFunc) *OpenAILLM {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewOpenAILLM("test-key")
	client.BaseURL = server.URL
	client.retryDelay = time.Millisecond
	return client
}

func chatJSON(content string) string {
	b, err := json.Marshal(map[string]any{
		"choices": []any{
			map[string]any{"message": map[string]any{"role": "assistant", "content": content}},
		},
	})
	if err != nil {
		panic(err)
	}
	return string(b)
}

func TestOpenAI_Complete(t *testing.T) {
	client := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected Authorization header %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("unexpected Content-Type %q", got)
		}

		var req openAIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != RoleUser {
			t.Errorf("expected one user message, got %+v", req.Messages)
		}
		if req.ResponseFormat != nil {
			t.Errorf("Complete must not request a response format, got %+v", req.ResponseFormat)
		}

		fmt.Fprint(w, chatJSON("Test response from LLM"))
	})

	got, err := client.Complete(context.Background(), UserMessage("test prompt"))
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "Test response from LLM" {
		t.Errorf("unexpected completion %q", got)
	}
}

func TestOpenAI_NoChoices(t *testing.T) {
	client := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices": []}`)
	})

	_, err := client.Complete(context.Background(), UserMessage("test prompt"))
	if err == nil {
		t.Fatal("expected error for empty choices")
	}
	if !strings.Contains(err.Error(), "no completion choices") {
		t.Errorf("expected 'no completion choices' error, got: %v", err)
	}
}

func TestOpenAI_ClientErrorFailsFast(t *testing.T) {
	calls := 0
	client := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "Bad request")
	})

	_, err := client.Complete(context.Background(), UserMessage("test prompt"))
	if err == nil {
		t.Fatal("expected error for 400 status")
	}
	if !strings.Contains(err.Error(), "HTTP 400") {
		t.Errorf("expected 'HTTP 400' error, got: %v", err)
	}
	if calls != 1 {
		t.Errorf("400 must not be retried, server saw %d calls", calls)
	}
}

func TestOpenAI_ContextCancellation(t *testing.T) {
	client := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		fmt.Fprint(w, chatJSON("too late"))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := client.Complete(ctx, UserMessage("test prompt"))
	if err == nil {
		t.Fatal("expected context cancellation error")
	}
	if !strings.Contains(err.Error(), "context") {
		t.Errorf("expected context error, got: %v", err)
	}
}

func TestOpenAI_RetriesServerErrors(t *testing.T) {
	calls := 0
	client := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, "Server error")
			return
		}
		fmt.Fprint(w, chatJSON("Success after retries"))
	})

	got, err := client.Complete(context.Background(), UserMessage("test prompt"))
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "Success after retries" {
		t.Errorf("unexpected completion %q", got)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, server saw %d", calls)
	}
}

func TestOpenAI_RetryBudgetExhausted(t *testing.T) {
	calls := 0
	client := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "Persistent error")
	})

	_, err := client.Complete(context.Background(), UserMessage("test prompt"))
	if err == nil {
		t.Fatal("expected error after retry budget is spent")
	}
	if !strings.Contains(err.Error(), "failed after") {
		t.Errorf("expected 'failed after' error, got: %v", err)
	}
	if calls != 4 {
		t.Errorf("expected initial attempt plus 3 retries, server saw %d calls", calls)
	}
}

func TestOpenAI_SchemaRequestsJSONObject(t *testing.T) {
	client := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		var req openAIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_object" {
			t.Errorf("expected json_object response format, got %+v", req.ResponseFormat)
		}
		fmt.Fprint(w, chatJSON(`{"name": "John", "age": 30}`))
	})

	var person struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}
	if err := client.CompleteWithSchema(context.Background(), UserMessage("test prompt"), &person); err != nil {
		t.Fatalf("CompleteWithSchema failed: %v", err)
	}
	if person.Name != "John" || person.Age != 30 {
		t.Errorf("unexpected parse result: %+v", person)
	}
}

func TestOpenAI_SchemaRejectsNonJSON(t *testing.T) {
	client := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chatJSON("not valid json"))
	})

	var person struct {
		Name string `json:"name"`
	}
	err := client.CompleteWithSchema(context.Background(), UserMessage("test prompt"), &person)
	if err == nil {
		t.Fatal("expected error for non-JSON completion")
	}
	if !strings.Contains(err.Error(), "unmarshal") {
		t.Errorf("expected unmarshal error, got: %v", err)
	}
}

func TestOpenAI_SchemaStripsFence(t *testing.T) {
	client := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chatJSON("```json\n{\"facts\": [\"likes coffee\"]}\n```"))
	})

	var parsed struct {
		Facts []string `json:"facts"`
	}
	if err := client.CompleteWithSchema(context.Background(), UserMessage("test prompt"), &parsed); err != nil {
		t.Fatalf("CompleteWithSchema failed: %v", err)
	}
	if len(parsed.Facts) != 1 || parsed.Facts[0] != "likes coffee" {
		t.Errorf("unexpected facts: %v", parsed.Facts)
	}
}

func TestStripMarkdownCodeFence(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain JSON", `[{"name": "test"}]`, `[{"name": "test"}]`},
		{"json fence", "```json\n[{\"name\": \"test\"}]\n```", `[{"name": "test"}]`},
		{"bare fence", "```\n[{\"name\": \"test\"}]\n```", `[{"name": "test"}]`},
		{"surrounding whitespace", "  ```json\n[{\"name\": \"test\"}]\n```  ", `[{"name": "test"}]`},
		{
			"multiline body keeps inner layout",
			"```json\n[\n  {\"name\": \"test\"},\n  {\"name\": \"test2\"}\n]\n```",
			"[\n  {\"name\": \"test\"},\n  {\"name\": \"test2\"}\n]",
		},
		{"unclosed fence left alone", "```json\n[{\"name\": \"test\"}]", "```json\n[{\"name\": \"test\"}]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripMarkdownCodeFence(tt.input); got != tt.want {
				t.Errorf("stripMarkdownCodeFence(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
