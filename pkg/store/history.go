package store

import (
	"context"
	"time"
)

// History event types recorded in the audit log.
const (
	EventAdd    = "ADD"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

// HistoryEntry is one row of the append-only audit log. ADD entries carry
// only the new text, UPDATE entries carry both sides, DELETE entries carry
// the old text and the deleted flag.
type HistoryEntry struct {
	ID        string     `json:"id"`
	MemoryID  string     `json:"memory_id"`
	OldMemory string     `json:"old_memory,omitempty"`
	NewMemory string     `json:"new_memory,omitempty"`
	Event     string     `json:"event"`
	ActorID   string     `json:"actor_id,omitempty"`
	Role      string     `json:"role,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	IsDeleted bool       `json:"is_deleted"`
}

// HistoryStore defines the interface for the append-only audit log.
// Entries are never rewritten; Reset is the only destructive operation.
type HistoryStore interface {
	// Append records one change event.
	Append(ctx context.Context, entry HistoryEntry) error

	// Query returns all events for a memory id, oldest first.
	Query(ctx context.Context, memoryID string) ([]HistoryEntry, error)

	// Reset drops the log and recreates it empty.
	Reset(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
