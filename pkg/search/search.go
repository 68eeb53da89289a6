// Package search implements the staged retrieval pipeline over the memory
// store: vector similarity, keyword merge, LLM reranking, relevance
// filtering and weighted criteria scoring.
package search

import (
	"github.com/dan-solli/gomemo/pkg/store"
)

// Provenance tags recording which stage surfaced an entry.
const (
	ProvenanceSemantic = "semantic"
	ProvenanceKeyword  = "keyword"
)

// RankedMemory is a single retrieval result with ranking metadata.
// Score carries the most recent stage's scoring; earlier scores are
// overwritten as the entry moves through the pipeline.
type RankedMemory struct {
	store.MemoryRecord

	Score      float64
	Provenance []string

	// Reason is the filter stage's justification for keeping the entry.
	// Empty when the filter stage did not run.
	Reason string
}

// Criterion is one weighted ranking dimension for the criteria stage.
type Criterion struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Weight      float64 `json:"weight"`
}

// Options configures a single retrieval call. The boolean flags toggle
// optional stages; stage order is fixed regardless of which are enabled.
type Options struct {
	// Limit caps the base vector search and the final result set.
	Limit int

	// Threshold, when set, drops base results scoring below it. The
	// filter stage reuses it as the relevance cutoff.
	Threshold *float64

	// Keyword enables the term-frequency merge stage.
	Keyword bool

	// Rerank enables LLM reranking.
	Rerank bool

	// Filter enables LLM relevance filtering.
	Filter bool

	// Criteria enables weighted criteria scoring when non-empty.
	Criteria []Criterion

	// Filters scopes the base vector search.
	Filters store.Filters
}

// ApplyDefaults sets default values for unspecified options.
func ApplyDefaults(opts *Options) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
}

// syntheticScores overwrites scores with a descending sequence preserving
// the current order. Used when an LLM stage response cannot be parsed but
// the candidate order is still trustworthy.
func syntheticScores(entries []RankedMemory) {
	n := len(entries)
	for i := range entries {
		entries[i].Score = 1.0 - float64(i)/float64(n)
	}
}

// truncate caps entries at limit.
func truncate(entries []RankedMemory, limit int) []RankedMemory {
	if len(entries) > limit {
		return entries[:limit]
	}
	return entries
}
