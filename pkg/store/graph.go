package store

import "context"

// Relation is an entity relationship reported by a graph collaborator.
type Relation struct {
	Source       string `json:"source"`
	Relationship string `json:"relationship"`
	Target       string `json:"target"`
}

// GraphStore is the optional entity/relationship collaborator. The facade
// dispatches to it alongside the vector pipeline when one is configured;
// extraction and persistence of relations are entirely its concern.
type GraphStore interface {
	// Add extracts and persists relations from raw conversation data.
	Add(ctx context.Context, data string, filters Filters) ([]Relation, error)

	// Search returns relations relevant to the query within the scope.
	Search(ctx context.Context, query string, filters Filters, limit int) ([]Relation, error)

	// GetAll returns up to limit relations within the scope.
	GetAll(ctx context.Context, filters Filters, limit int) ([]Relation, error)

	// DeleteAll removes every relation within the scope.
	DeleteAll(ctx context.Context, filters Filters) error
}
