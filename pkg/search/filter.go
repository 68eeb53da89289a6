package search

import (
	"context"
	"fmt"

	"github.com/dan-solli/gomemo/pkg/llm"
)

// filterCandidateCap bounds how many candidates are shown to the model.
const filterCandidateCap = 15

// defaultFilterThreshold applies when the caller sets no threshold.
const defaultFilterThreshold = 0.7

const filterPrompt = `You are a retrieval relevance judge. From the memories below, keep only those genuinely relevant to the query. A memory qualifies when its relevance is at least %.2f. Give each kept memory a relevance score and a short reason.

Query: %s

Memories:
%s
Return ONLY valid JSON listing the kept memories:
{"memories": [{"index": 0, "relevance_score": 0.9, "reason": "..."}, ...]}`

type filterResponse struct {
	Memories []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
		Reason         string  `json:"reason"`
	} `json:"memories"`
}

// filterRelevant asks the model to confirm which candidates answer the
// query; unconfirmed entries are dropped. An empty survivor list is a
// valid answer, not a failure. A transport failure is returned to the
// caller; an unparsable response falls back to keeping entries whose
// existing score already clears the threshold.
func (p *Pipeline) filterRelevant(ctx context.Context, query string, candidates []RankedMemory, threshold float64) ([]RankedMemory, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	work := candidates
	if len(work) > filterCandidateCap {
		work = work[:filterCandidateCap]
	}

	prompt := fmt.Sprintf(filterPrompt, threshold, query, enumerateCandidates(work))

	response, err := p.llm.Complete(ctx, llm.UserMessage(prompt))
	if err != nil {
		return nil, fmt.Errorf("filter call failed: %w", err)
	}

	var result filterResponse
	if err := llm.UnmarshalCompletion(response, &result); err != nil {
		p.logger.WithError(err).Warn("Filter response unparsable, falling back to score threshold")
		kept := make([]RankedMemory, 0, len(work))
		for _, cand := range work {
			if cand.Score >= threshold {
				kept = append(kept, cand)
			}
		}
		return kept, nil
	}

	kept := make([]RankedMemory, 0, len(result.Memories))
	taken := make(map[int]bool, len(work))
	for _, entry := range result.Memories {
		if entry.Index < 0 || entry.Index >= len(work) || taken[entry.Index] {
			continue
		}
		taken[entry.Index] = true
		cand := work[entry.Index]
		cand.Score = entry.RelevanceScore
		cand.Reason = entry.Reason
		kept = append(kept, cand)
	}

	return kept, nil
}
