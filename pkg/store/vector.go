package store

import (
	"context"
	"math"
)

// SearchHit is a vector search result: the stored record plus its
// similarity score against the query.
type SearchHit struct {
	MemoryRecord
	Score float64 `json:"score"`
}

// VectorStore defines the interface for memory persistence and similarity
// search. All reads are scope-filterable so sessions never see each other's
// memories.
type VectorStore interface {
	// Insert stores a new record with its embedding.
	Insert(ctx context.Context, id string, embedding []float32, record MemoryRecord) error

	// Search finds the records most similar to the query embedding among
	// those matching the filters. Returns up to limit hits sorted by
	// similarity score (descending).
	Search(ctx context.Context, query []float32, limit int, filters Filters) ([]SearchHit, error)

	// Get retrieves a record by id. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (MemoryRecord, error)

	// Update replaces the record and embedding for an existing id.
	// Returns ErrNotFound if absent.
	Update(ctx context.Context, id string, embedding []float32, record MemoryRecord) error

	// List returns up to limit records matching the filters, ordered by
	// creation time then id.
	List(ctx context.Context, filters Filters, limit int) ([]MemoryRecord, error)

	// Delete removes a record by id. Returns ErrNotFound if absent.
	Delete(ctx context.Context, id string) error

	// DeleteCollection drops all records and recreates an empty collection.
	DeleteCollection(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// CosineSimilarity computes the cosine similarity of two vectors: 1 for
// identical direction, 0 for orthogonal. Mismatched lengths and zero
// vectors yield 0 so corrupt rows rank last instead of failing a search.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0.0
	}

	var dot, magA, magB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		magA += x * x
		magB += y * y
	}
	if magA == 0 || magB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
