package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryVectorStore is an in-memory implementation of VectorStore.
// It uses maps guarded by an RWMutex and does not persist across restarts.
type MemoryVectorStore struct {
	mu      sync.RWMutex
	records map[string]MemoryRecord
	vectors map[string][]float32
}

// NewMemoryVectorStore creates a new in-memory vector store.
func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{
		records: make(map[string]MemoryRecord),
		vectors: make(map[string][]float32),
	}
}

// Insert stores a record with its embedding.
func (m *MemoryVectorStore) Insert(ctx context.Context, id string, embedding []float32, record MemoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Copy the embedding to avoid external mutations.
	embeddingCopy := make([]float32, len(embedding))
	copy(embeddingCopy, embedding)

	record.ID = id
	m.records[id] = record
	m.vectors[id] = embeddingCopy
	return nil
}

// Search finds the records most similar to the query among those matching
// the filters, sorted by similarity score descending.
func (m *MemoryVectorStore) Search(ctx context.Context, query []float32, limit int, filters Filters) ([]SearchHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []SearchHit
	for id, rec := range m.records {
		if !filters.Match(&rec) {
			continue
		}
		hits = append(hits, SearchHit{
			MemoryRecord: rec,
			Score:        CosineSimilarity(query, m.vectors[id]),
		})
	}

	// Sort by score descending, id ascending as tiebreak for determinism.
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})

	if limit > 0 && limit < len(hits) {
		hits = hits[:limit]
	}

	return hits, nil
}

// Get retrieves a record by id.
func (m *MemoryVectorStore) Get(ctx context.Context, id string) (MemoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return MemoryRecord{}, ErrNotFound
	}
	return rec, nil
}

// Update replaces the record and embedding for an existing id.
func (m *MemoryVectorStore) Update(ctx context.Context, id string, embedding []float32, record MemoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return ErrNotFound
	}

	embeddingCopy := make([]float32, len(embedding))
	copy(embeddingCopy, embedding)

	record.ID = id
	m.records[id] = record
	m.vectors[id] = embeddingCopy
	return nil
}

// List returns up to limit records matching the filters, ordered by
// creation time then id.
func (m *MemoryVectorStore) List(ctx context.Context, filters Filters, limit int) ([]MemoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var records []MemoryRecord
	for _, rec := range m.records {
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
func (m *MemoryVectorStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return ErrNotFound
	}
	delete(m.records, id)
	delete(m.vectors, id)
	return nil
}

// DeleteCollection drops all records.
func (m *MemoryVectorStore) DeleteCollection(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = make(map[string]MemoryRecord)
	m.vectors = make(map[string][]float32)
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryVectorStore) Close() error {
	return nil
}
