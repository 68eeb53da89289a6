package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dan-solli/gomemo/pkg/llm"
)

// criteriaCandidateCap bounds how many candidates are shown to the model.
const criteriaCandidateCap = 15

const criteriaPrompt = `You are a retrieval judge. Score each memory below against each criterion on a 0.0 to 1.0 scale.

Criteria:
%s
Query: %s

Memories:
%s
Return ONLY valid JSON with one entry per memory, keyed by criterion name:
{"evaluations": [{"index": 0, "scores": {"criterion name": 0.8}}, ...]}`

type criteriaResponse struct {
	Evaluations []struct {
		Index  int                `json:"index"`
		Scores map[string]float64 `json:"scores"`
	} `json:"evaluations"`
}

// scoreCriteria computes weighted composite scores per candidate:
// final = sum(score*weight) / sum(weight), sorted descending. Candidates
// the model leaves unscored sink to the bottom with a zero score. A
// transport failure is returned to the caller; an unparsable or empty
// response keeps the original order under synthetic descending scores.
func (p *Pipeline) scoreCriteria(ctx context.Context, query string, candidates []RankedMemory, criteria []Criterion) ([]RankedMemory, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	var totalWeight float64
	for _, crit := range criteria {
		totalWeight += crit.Weight
	}
	if totalWeight <= 0 {
		p.logger.Warn("Criteria weights sum to zero, skipping criteria scoring")
		return candidates, nil
	}

	work := candidates
	if len(work) > criteriaCandidateCap {
		work = work[:criteriaCandidateCap]
	}

	prompt := fmt.Sprintf(criteriaPrompt, describeCriteria(criteria), query, enumerateCandidates(work))

	response, err := p.llm.Complete(ctx, llm.UserMessage(prompt))
	if err != nil {
		return nil, fmt.Errorf("criteria call failed: %w", err)
	}

	var result criteriaResponse
	if err := llm.UnmarshalCompletion(response, &result); err != nil || len(result.Evaluations) == 0 {
		p.logger.WithError(err).Warn("Criteria response unparsable, keeping original order")
		out := make([]RankedMemory, len(work))
		copy(out, work)
		syntheticScores(out)
		return out, nil
	}

	out := make([]RankedMemory, len(work))
	copy(out, work)
	for i := range out {
		out[i].Score = 0
	}

	for _, ev := range result.Evaluations {
		if ev.Index < 0 || ev.Index >= len(out) {
			continue
		}
		var weighted float64
		for _, crit := range criteria {
			weighted += ev.Scores[crit.Name] * crit.Weight
		}
		out[ev.Index].Score = weighted / totalWeight
	}

	// Stable sort keeps the incoming order among equal scores.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})

	return out, nil
}

// describeCriteria renders criteria as named, weighted bullet lines.
func describeCriteria(criteria []Criterion) string {
	var b strings.Builder
	for _, crit := range criteria {
		fmt.Fprintf(&b, "- %s (weight %.2f): %s\n", crit.Name, crit.Weight, crit.Description)
	}
	return b.String()
}
