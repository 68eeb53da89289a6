// Package gomemo provides a long-term memory layer for LLM applications.
// Conversations go in, reconciled facts come out, and later turns retrieve
// them by meaning rather than by key.
package gomemo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dan-solli/gomemo/pkg/cache"
	"github.com/dan-solli/gomemo/pkg/embeddings"
	"github.com/dan-solli/gomemo/pkg/extraction"
	"github.com/dan-solli/gomemo/pkg/llm"
	"github.com/dan-solli/gomemo/pkg/metrics"
	"github.com/dan-solli/gomemo/pkg/runner"
	"github.com/dan-solli/gomemo/pkg/search"
	"github.com/dan-solli/gomemo/pkg/store"
	"github.com/dan-solli/gomemo/pkg/trace"
)

const (
	defaultGraphTimeout = 30 * time.Second
	defaultContextLimit = 10
	defaultListLimit    = 100

	// neighborLimit caps the per-fact candidate search during Add.
	neighborLimit = 5
)

// Config holds configuration for the memory system. Zero values select
// working defaults: an in-memory vector store, an in-memory history
// database and OpenAI clients authenticated with OpenAIKey.
type Config struct {
	// OpenAI API key for the default embedding and completion clients.
	// Ignored once both are replaced via WithEmbedder and WithLLM.
	OpenAIKey string

	// Embedding model (default: "text-embedding-3-small")
	EmbeddingModel string

	// LLM model for extraction and reconciliation (default: "gpt-4o-mini")
	LLMModel string

	// VectorDBPath selects the SQLite-backed vector store. Empty keeps
	// vectors in memory.
	VectorDBPath string

	// HistoryDBPath is the SQLite file backing the change log. Empty
	// selects an in-memory database.
	HistoryDBPath string

	// Mode selects how concurrent vector and graph work is dispatched.
	Mode runner.Mode

	// Workers bounds the shared worker pool in pool mode.
	Workers int

	// GraphTimeout bounds each graph store call. Graph failures degrade
	// to empty relations, so this caps how long a slow graph backend can
	// hold an operation open. Default 30s.
	GraphTimeout time.Duration

	// CacheTTL and CacheCapacity tune the contextual history cache
	// (defaults: 300s, 100 entries).
	CacheTTL      time.Duration
	CacheCapacity int

	// TracePath, when set, appends one JSON trace record per operation
	// to this file.
	TracePath string

	// FactPrompt and ReconcilePrompt replace the built-in prompts for
	// every call.
	FactPrompt      string
	ReconcilePrompt string
}

// Memory is the entry point for the memory system: extraction, storage,
// retrieval and audit behind one facade. Construct with New, swap
// collaborators with the With methods before first use, then share freely;
// all operations are safe for concurrent use.
type Memory struct {
	config Config
	logger *logrus.Logger

	embedder embeddings.EmbeddingClient
	llm      llm.LLMClient
	vector   store.VectorStore
	graph    store.GraphStore
	history  store.HistoryStore

	extractor  *extraction.FactExtractor
	reconciler *extraction.Reconciler
	pipeline   *search.Pipeline
	cache      *cache.ContextualHistory
	runner     *runner.Runner

	metrics metrics.Collector
	tracer  trace.Exporter
}

// New creates a new Memory instance. The instance owns its default stores
// and exporter and closes them in Close; collaborators swapped in through
// the With methods belong to the caller.
func New(cfg Config) (*Memory, error) {
	// Apply defaults
	if cfg.GraphTimeout <= 0 {
		cfg.GraphTimeout = defaultGraphTimeout
	}

	var vector store.VectorStore
	if cfg.VectorDBPath != "" {
		vs, err := store.NewSQLiteVectorStore(cfg.VectorDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector store: %w", err)
		}
		vector = vs
	} else {
		vector = store.NewMemoryVectorStore()
	}

	historyPath := cfg.HistoryDBPath
	if historyPath == "" {
		historyPath = ":memory:"
	}
	history, err := store.NewSQLiteHistoryStore(historyPath)
	if err != nil {
		vector.Close()
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}

	tracer, err := trace.NewFileExporter(cfg.TracePath)
	if err != nil {
		history.Close()
		vector.Close()
		return nil, fmt.Errorf("failed to open trace exporter: %w", err)
	}

	// Initialize embeddings client
	embedder := embeddings.NewOpenAIClient(cfg.OpenAIKey)
	if cfg.EmbeddingModel != "" {
		embedder.Model = cfg.EmbeddingModel
	}

	// Initialize LLM client
	llmClient := llm.NewOpenAILLM(cfg.OpenAIKey)
	if cfg.LLMModel != "" {
		llmClient.Model = cfg.LLMModel
	}

	m := &Memory{
		config:   cfg,
		logger:   logrus.New(),
		embedder: embedder,
		llm:      llmClient,
		vector:   vector,
		history:  history,
		metrics:  metrics.NewNoopCollector(),
		tracer:   tracer,
	}
	m.runner = runner.New(cfg.Mode, cfg.Workers, m.logger)
	m.rebuild()
	return m, nil
}

// rebuild reconstructs the components derived from swappable
// collaborators. Called after every swap so the extractor, reconciler,
// pipeline and cache always see the current clients and stores.
func (m *Memory) rebuild() {
	m.extractor = extraction.NewFactExtractor(m.llm, m.logger)
	if m.config.FactPrompt != "" {
		m.extractor.Prompt = m.config.FactPrompt
	}

	m.reconciler = extraction.NewReconciler(m.llm, m.logger)
	if m.config.ReconcilePrompt != "" {
		m.reconciler.Prompt = m.config.ReconcilePrompt
	}

	m.pipeline = search.NewPipeline(m.embedder, m.vector, m.llm, m.logger)
	m.pipeline.SetMetrics(m.metrics)

	m.cache = cache.NewContextualHistory(m.fetchContextual, cache.Config{
		TTL:      m.config.CacheTTL,
		Capacity: m.config.CacheCapacity,
	}, m.logger)
}

// WithLogger replaces the logger.
func (m *Memory) WithLogger(logger *logrus.Logger) *Memory {
	if logger == nil {
		return m
	}
	m.logger = logger
	m.rebuild()
	return m
}

// WithEmbedder replaces the embedding client.
func (m *Memory) WithEmbedder(client embeddings.EmbeddingClient) *Memory {
	if client == nil {
		return m
	}
	m.embedder = client
	m.rebuild()
	return m
}

// WithLLM replaces the completion client used for extraction,
// reconciliation and the retrieval pipeline's LLM stages.
func (m *Memory) WithLLM(client llm.LLMClient) *Memory {
	if client == nil {
		return m
	}
	m.llm = client
	m.rebuild()
	return m
}

// WithVectorStore replaces the vector store. The contextual cache is
// rebuilt empty since its entries came from the old store.
func (m *Memory) WithVectorStore(vs store.VectorStore) *Memory {
	if vs == nil {
		return m
	}
	m.vector = vs
	m.rebuild()
	return m
}

// WithGraphStore enables graph dispatch: Add, Search, GetAll and DeleteAll
// fan out to the graph store alongside the vector store. Without one,
// operations skip the graph leg entirely.
func (m *Memory) WithGraphStore(gs store.GraphStore) *Memory {
	m.graph = gs
	return m
}

// WithHistoryStore replaces the change log store.
func (m *Memory) WithHistoryStore(hs store.HistoryStore) *Memory {
	if hs == nil {
		return m
	}
	m.history = hs
	return m
}

// WithMetrics replaces the metrics collector.
func (m *Memory) WithMetrics(collector metrics.Collector) *Memory {
	if collector == nil {
		return m
	}
	m.metrics = collector
	m.pipeline.SetMetrics(collector)
	return m
}

// WithTracer replaces the trace exporter.
func (m *Memory) WithTracer(exporter trace.Exporter) *Memory {
	if exporter == nil {
		return m
	}
	m.tracer = exporter
	return m
}

// fetchContextual is the cache miss path: it lists recent scoped records
// from whichever vector store is currently wired.
func (m *Memory) fetchContextual(ctx context.Context, scope store.Scope, limit int) ([]store.MemoryRecord, error) {
	return m.vector.List(ctx, store.Filters{Scope: scope}, limit)
}

// Close releases the runner, the currently wired stores and the trace
// exporter. In-flight operations abandoned at a deadline may still be
// draining; their tasks tolerate closed collaborators by failing.
func (m *Memory) Close() error {
	var errs []error
	if err := m.runner.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := m.vector.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close vector store: %w", err))
	}
	if err := m.history.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close history store: %w", err))
	}
	if err := m.tracer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close trace exporter: %w", err))
	}
	return errors.Join(errs...)
}
