package extraction

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/dan-solli/gomemo/pkg/llm"
)

// Action kinds produced by reconciliation.
const (
	ActionAdd    = "ADD"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
	ActionNone   = "NONE"
)

// Candidate is an existing memory presented to the LLM under its
// placeholder ref instead of its real id.
type Candidate struct {
	Ref  string `json:"id"`
	Text string `json:"text"`
}

// PendingAction is one reconciliation decision before id resolution.
// Ref is a placeholder ref for UPDATE/DELETE and empty for ADD/NONE.
type PendingAction struct {
	Kind    string
	Ref     string
	Text    string
	OldText string
}

// reconciliationPrompt is the default prompt template for memory
// reconciliation. Slots: existing memories JSON, new facts JSON.
const reconciliationPrompt = `You are a smart memory manager. Compare the new facts with the existing memories and decide, for each fact, whether to add it, update an existing memory, delete a contradicted memory, or change nothing.

Use exactly one event per decision:
- ADD: the fact is new information; omit "id"
- UPDATE: the fact refines or replaces the memory with the given id; put the complete new text in "text" and the previous text in "old_memory"
- DELETE: the fact contradicts the memory with the given id
- NONE: the fact is already covered by an existing memory

Use ONLY ids that appear in the existing memories. Never invent ids. Prefer UPDATE over an ADD/DELETE pair when a fact supersedes a memory.

Existing memories:
%s

New facts:
%s

Return ONLY valid JSON:
{"memory": [{"id": "...", "event": "ADD", "text": "...", "old_memory": "..."}, ...]}`

// Reconciler decides the minimal action set that folds new facts into the
// existing memories.
type Reconciler struct {
	LLM llm.LLMClient

	// Prompt, when set, replaces the default reconciliation instructions.
	// It must leave two %s slots: existing memories, then new facts.
	Prompt string

	logger *logrus.Logger
}

// NewReconciler creates a new reconciler.
func NewReconciler(llmClient llm.LLMClient, logger *logrus.Logger) *Reconciler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Reconciler{
		LLM:    llmClient,
		logger: logger,
	}
}

type reconcileResponse struct {
	Memory []struct {
		ID        string `json:"id"`
		Event     string `json:"event"`
		Text      string `json:"text"`
		OldMemory string `json:"old_memory"`
	} `json:"memory"`
}

// Reconcile returns the pending actions for the given facts against the
// candidate memories. Malformed entries in the LLM response are skipped
// individually and never abort the batch. A failed LLM call is returned as
// an error; an unparsable response yields zero actions.
func (r *Reconciler) Reconcile(ctx context.Context, candidates []Candidate, facts []string) ([]PendingAction, error) {
	if len(facts) == 0 {
		return []PendingAction{}, nil
	}

	candidatesJSON, err := json.Marshal(candidates)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal candidates: %w", err)
	}
	factsJSON, err := json.Marshal(facts)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal facts: %w", err)
	}

	template := r.Prompt
	if template == "" {
		template = reconciliationPrompt
	}
	prompt := fmt.Sprintf(template, string(candidatesJSON), string(factsJSON))

	response, err := r.LLM.Complete(ctx, llm.UserMessage(prompt))
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile memories: %w", err)
	}

	var result reconcileResponse
	if err := llm.UnmarshalCompletion(response, &result); err != nil {
		r.logger.WithError(err).Warn("Reconciliation returned unparsable JSON, treating as zero actions")
		return []PendingAction{}, nil
	}

	actions := make([]PendingAction, 0, len(result.Memory))
	for i, entry := range result.Memory {
		switch entry.Event {
		case ActionAdd:
			if entry.Text == "" {
				r.logger.WithField("index", i).Warn("Skipping ADD action with empty text")
				continue
			}
			actions = append(actions, PendingAction{Kind: ActionAdd, Text: entry.Text})
		case ActionUpdate:
			if entry.ID == "" || entry.Text == "" {
				r.logger.WithField("index", i).Warn("Skipping UPDATE action with missing id or text")
				continue
			}
			actions = append(actions, PendingAction{Kind: ActionUpdate, Ref: entry.ID, Text: entry.Text, OldText: entry.OldMemory})
		case ActionDelete:
			if entry.ID == "" {
				r.logger.WithField("index", i).Warn("Skipping DELETE action with missing id")
				continue
			}
			actions = append(actions, PendingAction{Kind: ActionDelete, Ref: entry.ID, OldText: entry.OldMemory})
		case ActionNone:
			actions = append(actions, PendingAction{Kind: ActionNone, Ref: entry.ID, Text: entry.Text})
		default:
			r.logger.WithFields(logrus.Fields{
				"index": i,
				"event": entry.Event,
			}).Warn("Skipping action with unknown event")
		}
	}

	r.logger.WithFields(logrus.Fields{
		"candidates": len(candidates),
		"facts":      len(facts),
		"actions":    len(actions),
	}).Debug("Reconciliation complete")

	return actions, nil
}
