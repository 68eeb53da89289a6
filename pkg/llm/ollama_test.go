package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOllamaComplete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("Expected /api/chat, got %s", r.URL.Path)
		}

		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if req.Stream {
			t.Error("Expected stream=false")
		}
		if req.Format != "" {
			t.Errorf("Expected no format for Complete, got %q", req.Format)
		}

		resp := ollamaChatResponse{
			Message: Message{Role: RoleAssistant, Content: "local response"},
			Done:    true,
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewOllamaClient(server.URL, "mistral")

	result, err := client.Complete(context.Background(), UserMessage("hello"))
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if result != "local response" {
		t.Errorf("Expected 'local response', got %q", result)
	}
}

func TestOllamaCompleteWithSchema_JSONMode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if req.Format != "json" {
			t.Errorf("Expected format=json, got %q", req.Format)
		}

		resp := ollamaChatResponse{
			Message: Message{Role: RoleAssistant, Content: `{"facts": ["a", "b"]}`},
			Done:    true,
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewOllamaClient(server.URL, "mistral")

	var parsed struct {
		Facts []string `json:"facts"`
	}
	if err := client.CompleteWithSchema(context.Background(), UserMessage("extract"), &parsed); err != nil {
		t.Fatalf("CompleteWithSchema failed: %v", err)
	}
	if len(parsed.Facts) != 2 {
		t.Errorf("Expected 2 facts, got %d", len(parsed.Facts))
	}
}

func TestOllamaComplete_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("model not loaded"))
	}))
	defer server.Close()

	client := NewOllamaClient(server.URL, "mistral")

	_, err := client.Complete(context.Background(), UserMessage("hello"))
	if err == nil {
		t.Fatal("Expected error for 500 status, got nil")
	}
	if !strings.Contains(err.Error(), "ollama returned 500") {
		t.Errorf("Expected 'ollama returned 500' error, got: %v", err)
	}
}
