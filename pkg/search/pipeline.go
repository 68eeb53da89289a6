package search

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dan-solli/gomemo/pkg/embeddings"
	"github.com/dan-solli/gomemo/pkg/llm"
	"github.com/dan-solli/gomemo/pkg/metrics"
	"github.com/dan-solli/gomemo/pkg/store"
)

// Soft latency budgets per stage. Overruns are logged, never fatal.
const (
	keywordBudget  = 10 * time.Millisecond
	rerankBudget   = 200 * time.Millisecond
	filterBudget   = 300 * time.Millisecond
	criteriaBudget = 400 * time.Millisecond
	pipelineBudget = 500 * time.Millisecond
)

// Pipeline runs staged retrieval: the mandatory vector search followed by
// the optional keyword, rerank, filter and criteria stages in fixed order.
type Pipeline struct {
	embedder    embeddings.EmbeddingClient
	vectorStore store.VectorStore
	llm         llm.LLMClient
	logger      *logrus.Logger
	metrics     metrics.Collector
}

// NewPipeline creates a retrieval pipeline. The LLM client may be nil when
// no LLM-backed stage will ever be enabled.
func NewPipeline(embedder embeddings.EmbeddingClient, vectorStore store.VectorStore, llmClient llm.LLMClient, logger *logrus.Logger) *Pipeline {
	if logger == nil {
		logger = logrus.New()
	}
	return &Pipeline{
		embedder:    embedder,
		vectorStore: vectorStore,
		llm:         llmClient,
		logger:      logger,
		metrics:     metrics.NewNoopCollector(),
	}
}

// SetMetrics replaces the default no-op collector.
func (p *Pipeline) SetMetrics(collector metrics.Collector) {
	if collector != nil {
		p.metrics = collector
	}
}

// Retrieve runs the enabled stages in order and returns at most opts.Limit
// ranked memories. A base stage failure aborts retrieval; optional stage
// failures degrade to the pre-stage result set and are never surfaced.
func (p *Pipeline) Retrieve(ctx context.Context, query string, opts Options) ([]RankedMemory, error) {
	ApplyDefaults(&opts)
	pipelineStart := time.Now()

	stageStart := time.Now()
	results, err := p.semanticSearch(ctx, query, opts)
	p.metrics.RecordStage(ctx, "search", "vector_search", time.Since(stageStart).Milliseconds())
	if err != nil {
		p.metrics.RecordError(ctx, "search", "upstream_call")
		return nil, err
	}

	if opts.Keyword {
		results = p.runStage(ctx, "keyword", keywordBudget, results, func() ([]RankedMemory, error) {
			return keywordMerge(query, results), nil
		})
	}

	if opts.Rerank {
		results = p.runStage(ctx, "rerank", rerankBudget, results, func() ([]RankedMemory, error) {
			reranked, err := p.rerank(ctx, query, results)
			if err != nil {
				return nil, err
			}
			return truncate(reranked, opts.Limit), nil
		})
	}

	if opts.Filter {
		threshold := defaultFilterThreshold
		if opts.Threshold != nil {
			threshold = *opts.Threshold
		}
		results = p.runStage(ctx, "filter", filterBudget, results, func() ([]RankedMemory, error) {
			return p.filterRelevant(ctx, query, results, threshold)
		})
	}

	if len(opts.Criteria) > 0 {
		results = p.runStage(ctx, "criteria", criteriaBudget, results, func() ([]RankedMemory, error) {
			return p.scoreCriteria(ctx, query, results, opts.Criteria)
		})
	}

	results = truncate(results, opts.Limit)

	if elapsed := time.Since(pipelineStart); elapsed > pipelineBudget {
		p.logger.WithFields(logrus.Fields{
			"elapsed": elapsed,
			"budget":  pipelineBudget,
		}).Warn("Retrieval pipeline exceeded latency budget")
	}

	p.logger.WithFields(logrus.Fields{
		"results": len(results),
		"limit":   opts.Limit,
	}).Debug("Retrieval complete")

	return results, nil
}

// runStage executes one optional stage under its soft budget. A stage
// error keeps the pre-stage results, so degradation shows up as a
// smaller or less-ranked result set rather than a caller-visible error.
func (p *Pipeline) runStage(ctx context.Context, name string, budget time.Duration, current []RankedMemory, fn func() ([]RankedMemory, error)) []RankedMemory {
	start := time.Now()
	next, err := fn()
	elapsed := time.Since(start)

	p.metrics.RecordStage(ctx, "search", name, elapsed.Milliseconds())
	if elapsed > budget {
		p.logger.WithFields(logrus.Fields{
			"stage":   name,
			"elapsed": elapsed,
			"budget":  budget,
		}).Warn("Stage exceeded latency budget")
	}

	if err != nil {
		p.metrics.RecordError(ctx, "search", "upstream_call")
		p.logger.WithError(err).WithField("stage", name).Warn("Stage failed, continuing with previous results")
		return current
	}

	return next
}
