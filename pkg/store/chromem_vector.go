package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/philippgille/chromem-go"
)

// ChromemVectorStore implements VectorStore on top of chromem-go, an
// embedded pure-Go vector database. The collection holds embeddings and
// scope metadata for similarity search; full records are kept in an
// adapter-side map because chromem has no id lookup or unfiltered listing.
// In-memory only; use SQLiteVectorStore or QdrantVectorStore when memories
// must survive restarts.
type ChromemVectorStore struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	name       string
	records    map[string]MemoryRecord
}

// NewChromemVectorStore creates an embedded chromem-backed vector store
// with the given collection name.
func NewChromemVectorStore(collection string) (*ChromemVectorStore, error) {
	db := chromem.NewDB()
	col, err := db.CreateCollection(collection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	return &ChromemVectorStore{
		db:         db,
		collection: col,
		name:       collection,
		records:    make(map[string]MemoryRecord),
	}, nil
}

// scopeMetadata exposes the record's scope ids as chromem document
// metadata so where-filters can narrow searches per session.
func scopeMetadata(record MemoryRecord) map[string]string {
	meta := make(map[string]string)
	if record.UserID != "" {
		meta["user_id"] = record.UserID
	}
	if record.AgentID != "" {
		meta["agent_id"] = record.AgentID
	}
	if record.RunID != "" {
		meta["run_id"] = record.RunID
	}
	if record.ActorID != "" {
		meta["actor_id"] = record.ActorID
	}
	return meta
}

// whereClause converts filters to a chromem metadata where-map.
// Returns nil when no filter field is set.
func whereClause(filters Filters) map[string]string {
	where := make(map[string]string)
	if filters.UserID != "" {
		where["user_id"] = filters.UserID
	}
	if filters.AgentID != "" {
		where["agent_id"] = filters.AgentID
	}
	if filters.RunID != "" {
		where["run_id"] = filters.RunID
	}
	if filters.ActorID != "" {
		where["actor_id"] = filters.ActorID
	}
	if len(where) == 0 {
		return nil
	}
	return where
}

// Insert stores a record with its embedding.
func (c *ChromemVectorStore) Insert(ctx context.Context, id string, embedding []float32, record MemoryRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	record.ID = id
	err := c.collection.AddDocument(ctx, chromem.Document{
		ID:        id,
		Content:   record.Text,
		Embedding: embedding,
		Metadata:  scopeMetadata(record),
	})
	if err != nil {
		return fmt.Errorf("failed to add document: %w", err)
	}

	c.records[id] = record
	return nil
}

// Search finds the records most similar to the query embedding among those
// matching the filters.
func (c *ChromemVectorStore) Search(ctx context.Context, query []float32, limit int, filters Filters) ([]SearchHit, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// chromem rejects queries asking for more results than documents exist.
	count := c.collection.Count()
	if count == 0 {
		return nil, nil
	}
	n := limit
	if n <= 0 || n > count {
		n = count
	}

	results, err := c.collection.QueryEmbedding(ctx, query, n, whereClause(filters), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}

	var hits []SearchHit
	for _, res := range results {
		rec, ok := c.records[res.ID]
		if !ok {
			continue
		}
		hits = append(hits, SearchHit{
			MemoryRecord: rec,
			Score:        float64(res.Similarity),
		})
	}

	return hits, nil
}

// Get retrieves a record by id.
func (c *ChromemVectorStore) Get(ctx context.Context, id string) (MemoryRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.records[id]
	if !ok {
		return MemoryRecord{}, ErrNotFound
	}
	return rec, nil
}

// Update replaces the record and embedding for an existing id. The chromem
// document is removed and re-added since documents are immutable.
func (c *ChromemVectorStore) Update(ctx context.Context, id string, embedding []float32, record MemoryRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.records[id]; !ok {
		return ErrNotFound
	}

	if err := c.collection.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	record.ID = id
	err := c.collection.AddDocument(ctx, chromem.Document{
		ID:        id,
		Content:   record.Text,
		Embedding: embedding,
		Metadata:  scopeMetadata(record),
	})
	if err != nil {
		return fmt.Errorf("failed to re-add document: %w", err)
	}

	c.records[id] = record
	return nil
}

// List returns up to limit records matching the filters, ordered by
// creation time then id.
func (c *ChromemVectorStore) List(ctx context.Context, filters Filters, limit int) ([]MemoryRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var records []MemoryRecord
	for _, rec := range c.records {
		if filters.Match(&rec) {
			records = append(records, rec)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})

	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}

	return records, nil
}

// Delete removes a record by id.
func (c *ChromemVectorStore) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.records[id]; !ok {
		return ErrNotFound
	}

	if err := c.collection.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	delete(c.records, id)
	return nil
}

// DeleteCollection drops all records and recreates an empty collection.
func (c *ChromemVectorStore) DeleteCollection(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.db.DeleteCollection(c.name); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}

	col, err := c.db.CreateCollection(c.name, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to recreate collection: %w", err)
	}

	c.collection = col
	c.records = make(map[string]MemoryRecord)
	return nil
}

// Close is a no-op for the embedded store.
func (c *ChromemVectorStore) Close() error {
	return nil
}
