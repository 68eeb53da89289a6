// Package extraction turns raw conversation messages into memory facts and
// reconciles them against existing memories via an LLM.
package extraction

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dan-solli/gomemo/pkg/llm"
)

// factExtractionPrompt is the default prompt template for fact extraction.
// The first slot carries optional topic constraints, the second the
// serialized conversation.
const factExtractionPrompt = `You are a personal information organizer. Extract the facts worth remembering about the speakers from the conversation below.

Focus on:
- Personal preferences (likes, dislikes, favorites)
- Personal details (names, relationships, locations, important dates)
- Plans, intentions and commitments
- Health, dietary and activity information
- Professional details

Record each fact as a short self-contained statement. Do not invent facts that are not in the conversation. If there is nothing worth remembering, return an empty list.
%s
Conversation:
---
%s
---

Return ONLY valid JSON:
{"facts": ["fact 1", "fact 2", ...]}`

// FactExtractor extracts memory-worthy facts from conversations using an LLM.
type FactExtractor struct {
	LLM llm.LLMClient

	// Prompt, when set, replaces the default extraction instructions.
	// It must leave a single %s slot for the serialized conversation.
	Prompt string

	logger *logrus.Logger
}

// NewFactExtractor creates a new fact extractor.
func NewFactExtractor(llmClient llm.LLMClient, logger *logrus.Logger) *FactExtractor {
	if logger == nil {
		logger = logrus.New()
	}
	return &FactExtractor{
		LLM:    llmClient,
		logger: logger,
	}
}

// FactOptions constrains a single extraction call.
type FactOptions struct {
	// Includes names topics extraction should focus on.
	Includes string

	// Excludes names topics extraction must never produce facts about.
	// Exclusion wins over Includes and over the default focus list.
	Excludes string
}

type factsResponse struct {
	Facts []string `json:"facts"`
}

// Extract returns the facts found in the given messages. The LLM response
// is expected as a JSON object with a "facts" array. A failed LLM call is
// returned as an error; an unparsable response yields zero facts.
func (e *FactExtractor) Extract(ctx context.Context, messages []llm.Message, opts FactOptions) ([]string, error) {
	if len(messages) == 0 {
		return []string{}, nil
	}

	transcript := SerializeMessages(messages)

	var prompt string
	if e.Prompt != "" {
		prompt = fmt.Sprintf(e.Prompt, transcript)
	} else {
		prompt = fmt.Sprintf(factExtractionPrompt, buildConstraints(opts), transcript)
	}

	response, err := e.LLM.Complete(ctx, llm.UserMessage(prompt))
	if err != nil {
		return nil, fmt.Errorf("failed to extract facts: %w", err)
	}

	var result factsResponse
	if err := llm.UnmarshalCompletion(response, &result); err != nil {
		e.logger.WithError(err).Warn("Fact extraction returned unparsable JSON, treating as zero facts")
		return []string{}, nil
	}

	facts := dedupeFacts(result.Facts)

	e.logger.WithFields(logrus.Fields{
		"messages": len(messages),
		"facts":    len(facts),
	}).Debug("Facts extracted")

	return facts, nil
}

// buildConstraints renders the includes/excludes block. Excludes come last
// and explicitly override everything above them.
func buildConstraints(opts FactOptions) string {
	var b strings.Builder
	if opts.Includes != "" {
		b.WriteString("\nOnly extract facts related to: ")
		b.WriteString(opts.Includes)
		b.WriteString(".\n")
	}
	if opts.Excludes != "" {
		b.WriteString("\nNever extract facts related to: ")
		b.WriteString(opts.Excludes)
		b.WriteString(". This exclusion overrides every other instruction above.\n")
	}
	return b.String()
}

// SerializeMessages renders messages as a role-prefixed transcript.
// Named speakers keep their name next to the role.
func SerializeMessages(messages []llm.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		if msg.Name != "" {
			fmt.Fprintf(&b, "%s (%s): %s\n", msg.Role, msg.Name, msg.Content)
		} else {
			fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
		}
	}
	return b.String()
}

// dedupeFacts trims facts, drops empties and removes duplicates preserving
// first occurrence order. Comparison is case-insensitive.
func dedupeFacts(facts []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(facts))

	for _, fact := range facts {
		fact = strings.TrimSpace(fact)
		if fact == "" {
			continue
		}
		key := strings.ToLower(fact)
		if !seen[key] {
			seen[key] = true
			result = append(result, fact)
		}
	}

	return result
}
