package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/dan-solli/gomemo/pkg/llm"
)

// rerankCandidateCap bounds how many candidates are shown to the model.
const rerankCandidateCap = 20

// rerankPrompt asks for an object wrapper rather than a bare array so the
// response survives providers whose JSON mode only emits objects.
const rerankPrompt = `You are a retrieval reranker. Order the memories below from most to least relevant to the query and score each between 0.0 (irrelevant) and 1.0 (highly relevant).

Query: %s

Memories:
%s
Return ONLY valid JSON covering every memory:
{"rankings": [{"original_index": 0, "relevance_score": 0.95}, ...]}`

type rerankResponse struct {
	Rankings []struct {
		OriginalIndex  int     `json:"original_index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"rankings"`
}

// rerank reorders up to rerankCandidateCap candidates by model-assigned
// relevance. A transport failure is returned to the caller so the pipeline
// can keep the pre-stage set; an unparsable or empty response keeps the
// original order under synthetic descending scores.
func (p *Pipeline) rerank(ctx context.Context, query string, candidates []RankedMemory) ([]RankedMemory, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	work := candidates
	if len(work) > rerankCandidateCap {
		work = work[:rerankCandidateCap]
	}

	prompt := fmt.Sprintf(rerankPrompt, query, enumerateCandidates(work))

	response, err := p.llm.Complete(ctx, llm.UserMessage(prompt))
	if err != nil {
		return nil, fmt.Errorf("rerank call failed: %w", err)
	}

	var result rerankResponse
	if err := llm.UnmarshalCompletion(response, &result); err != nil || len(result.Rankings) == 0 {
		p.logger.WithError(err).Warn("Rerank response unparsable, keeping original order")
		out := make([]RankedMemory, len(work))
		copy(out, work)
		syntheticScores(out)
		return out, nil
	}

	reordered := make([]RankedMemory, 0, len(work))
	taken := make(map[int]bool, len(work))
	for _, entry := range result.Rankings {
		if entry.OriginalIndex < 0 || entry.OriginalIndex >= len(work) || taken[entry.OriginalIndex] {
			continue
		}
		taken[entry.OriginalIndex] = true
		cand := work[entry.OriginalIndex]
		cand.Score = entry.RelevanceScore
		reordered = append(reordered, cand)
	}

	// Entries the model skipped keep their relative order at the tail so a
	// partial response never loses memories.
	for i, cand := range work {
		if !taken[i] {
			reordered = append(reordered, cand)
		}
	}

	return reordered, nil
}

// enumerateCandidates renders candidates as an index-prefixed list the
// model can reference by position.
func enumerateCandidates(candidates []RankedMemory) string {
	var b strings.Builder
	for i, cand := range candidates {
		fmt.Fprintf(&b, "%d. %s\n", i, cand.Text)
	}
	return b.String()
}
