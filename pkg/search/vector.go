package search

import (
	"context"
	"fmt"

	"github.com/dan-solli/gomemo/pkg/embeddings"
)

// semanticSearch is the mandatory base stage: embed the query, search the
// vector store under the scope filters and drop hits below the threshold.
// Unlike the optional stages, a failure here is fatal to the whole
// retrieval because there is no result set to fall back to.
func (p *Pipeline) semanticSearch(ctx context.Context, query string, opts Options) ([]RankedMemory, error) {
	embedding, err := p.embedder.Embed(ctx, query, embeddings.ActionSearch)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := p.vectorStore.Search(ctx, embedding, opts.Limit, opts.Filters)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	results := make([]RankedMemory, 0, len(hits))
	for _, hit := range hits {
		if opts.Threshold != nil && hit.Score < *opts.Threshold {
			continue
		}
		results = append(results, RankedMemory{
			MemoryRecord: hit.MemoryRecord,
			Score:        hit.Score,
			Provenance:   []string{ProvenanceSemantic},
		})
	}

	return results, nil
}
