package extraction

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dan-solli/gomemo/pkg/llm"
)

func TestReconcilerReconcile_AllEvents(t *testing.T) {
	fake := &fakeLLMClient{
		response: `{"memory": [
			{"id": "", "event": "ADD", "text": "Plays tennis"},
			{"id": "0", "event": "UPDATE", "text": "Is vegan", "old_memory": "Is vegetarian"},
			{"id": "1", "event": "DELETE", "old_memory": "Lives in Munich"},
			{"id": "2", "event": "NONE", "text": "Works as an engineer"}
		]}`,
	}
	reconciler := NewReconciler(fake, nil)

	candidates := []Candidate{
		{Ref: "0", Text: "Is vegetarian"},
		{Ref: "1", Text: "Lives in Munich"},
		{Ref: "2", Text: "Works as an engineer"},
	}
	facts := []string{"Is vegan", "Plays tennis", "Moved away from Munich"}

	actions, err := reconciler.Reconcile(context.Background(), candidates, facts)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if len(actions) != 4 {
		t.Fatalf("Expected 4 actions, got %d", len(actions))
	}

	if actions[0].Kind != ActionAdd || actions[0].Text != "Plays tennis" {
		t.Errorf("Expected ADD 'Plays tennis', got %+v", actions[0])
	}
	if actions[0].Ref != "" {
		t.Errorf("Expected ADD action without ref, got %q", actions[0].Ref)
	}

	if actions[1].Kind != ActionUpdate || actions[1].Ref != "0" {
		t.Errorf("Expected UPDATE of ref 0, got %+v", actions[1])
	}
	if actions[1].Text != "Is vegan" || actions[1].OldText != "Is vegetarian" {
		t.Errorf("Expected UPDATE text transition, got %+v", actions[1])
	}

	if actions[2].Kind != ActionDelete || actions[2].Ref != "1" {
		t.Errorf("Expected DELETE of ref 1, got %+v", actions[2])
	}

	if actions[3].Kind != ActionNone || actions[3].Ref != "2" {
		t.Errorf("Expected NONE for ref 2, got %+v", actions[3])
	}
}

func TestReconcilerReconcile_EmptyFacts(t *testing.T) {
	fake := &fakeLLMClient{err: errors.New("LLM should not be called")}
	reconciler := NewReconciler(fake, nil)

	candidates := []Candidate{{Ref: "0", Text: "Is vegetarian"}}

	actions, err := reconciler.Reconcile(context.Background(), candidates, nil)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if actions == nil {
		t.Fatal("Expected empty slice, got nil")
	}
	if len(actions) != 0 {
		t.Errorf("Expected 0 actions, got %d", len(actions))
	}
}

func TestReconcilerReconcile_SkipsMalformedEntries(t *testing.T) {
	fake := &fakeLLMClient{
		response: `{"memory": [
			{"event": "ADD", "text": ""},
			{"id": "", "event": "UPDATE", "text": "Is vegan"},
			{"id": "0", "event": "UPDATE", "text": ""},
			{"id": "", "event": "DELETE"},
			{"id": "0", "event": "REPLACE", "text": "bogus event"},
			{"event": "ADD", "text": "Plays tennis"}
		]}`,
	}
	reconciler := NewReconciler(fake, nil)

	candidates := []Candidate{{Ref: "0", Text: "Is vegetarian"}}
	facts := []string{"Is vegan", "Plays tennis"}

	actions, err := reconciler.Reconcile(context.Background(), candidates, facts)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if len(actions) != 1 {
		t.Fatalf("Expected 1 surviving action, got %d: %+v", len(actions), actions)
	}
	if actions[0].Kind != ActionAdd || actions[0].Text != "Plays tennis" {
		t.Errorf("Expected ADD 'Plays tennis' to survive, got %+v", actions[0])
	}
}

func TestReconcilerReconcile_PromptCarriesCandidatesAndFacts(t *testing.T) {
	var prompt string
	fake := &fakeLLMClient{
		response: `{"memory": []}`,
		captureMessages: func(messages []llm.Message) {
			if len(messages) == 1 {
				prompt = messages[0].Content
			}
		},
	}
	reconciler := NewReconciler(fake, nil)

	candidates := []Candidate{{Ref: "0", Text: "Is vegetarian"}}
	facts := []string{"Is vegan"}

	if _, err := reconciler.Reconcile(context.Background(), candidates, facts); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	// Candidates are serialized under their placeholder refs, never real ids
	if !strings.Contains(prompt, `{"id":"0","text":"Is vegetarian"}`) {
		t.Errorf("Expected candidate JSON in prompt, got: %s", prompt)
	}
	if !strings.Contains(prompt, `["Is vegan"]`) {
		t.Errorf("Expected facts JSON in prompt, got: %s", prompt)
	}
	if !strings.Contains(prompt, "Never invent ids") {
		t.Errorf("Expected id discipline instruction in prompt, got: %s", prompt)
	}
	if !strings.Contains(prompt, "Return ONLY valid JSON") {
		t.Errorf("Expected prompt to request JSON output, got: %s", prompt)
	}
}

func TestReconcilerReconcile_CustomPrompt(t *testing.T) {
	var prompt string
	fake := &fakeLLMClient{
		response: `{"memory": []}`,
		captureMessages: func(messages []llm.Message) {
			if len(messages) == 1 {
				prompt = messages[0].Content
			}
		},
	}
	reconciler := NewReconciler(fake, nil)
	reconciler.Prompt = "Fold facts into memories.\nMemories: %s\nFacts: %s\nAnswer with {\"memory\": [...]}"

	candidates := []Candidate{{Ref: "0", Text: "Old"}}
	facts := []string{"New"}

	if _, err := reconciler.Reconcile(context.Background(), candidates, facts); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if !strings.Contains(prompt, "Fold facts into memories.") {
		t.Errorf("Expected custom prompt instructions, got: %s", prompt)
	}
	if strings.Contains(prompt, "smart memory manager") {
		t.Error("Expected default instructions to be absent with custom prompt")
	}
	if !strings.Contains(prompt, `Memories: [{"id":"0","text":"Old"}]`) {
		t.Errorf("Expected candidates in custom prompt slot, got: %s", prompt)
	}
}

func TestReconcilerReconcile_LLMError(t *testing.T) {
	fake := &fakeLLMClient{err: errors.New("rate limited")}
	reconciler := NewReconciler(fake, nil)

	facts := []string{"Is vegan"}

	_, err := reconciler.Reconcile(context.Background(), nil, facts)
	if err == nil {
		t.Fatal("Expected error from LLM failure, got nil")
	}
	if !strings.Contains(err.Error(), "failed to reconcile memories") {
		t.Errorf("Expected wrapped reconciliation error, got: %v", err)
	}
}

func TestReconcilerReconcile_UnparsableResponseYieldsNoActions(t *testing.T) {
	fake := &fakeLLMClient{response: "Sure! Here is my reasoning instead of JSON."}
	reconciler := NewReconciler(fake, nil)

	candidates := []Candidate{{Ref: "0", Text: "Is vegetarian"}}
	facts := []string{"Is vegan"}

	actions, err := reconciler.Reconcile(context.Background(), candidates, facts)
	if err != nil {
		t.Fatalf("Expected unparsable response to be recovered, got error: %v", err)
	}
	if len(actions) != 0 {
		t.Errorf("Expected 0 actions, got %d: %+v", len(actions), actions)
	}
}
