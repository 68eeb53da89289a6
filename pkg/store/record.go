package store

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// ErrNotFound is returned when a memory id does not exist in the store.
var ErrNotFound = errors.New("memory not found")

// Scope identifies the session a memory belongs to. At least one of the
// three ids must be set for any operation that touches more than one memory.
type Scope struct {
	UserID  string `json:"user_id,omitempty"`
	AgentID string `json:"agent_id,omitempty"`
	RunID   string `json:"run_id,omitempty"`
}

// IsZero reports whether no scope id is set.
func (s Scope) IsZero() bool {
	return s.UserID == "" && s.AgentID == "" && s.RunID == ""
}

// Key returns a deterministic string form of the scope for use as a map key.
// The unit separator keeps ("a","") distinct from ("","a").
func (s Scope) Key() string {
	return s.UserID + "\x1f" + s.AgentID + "\x1f" + s.RunID
}

// MemoryRecord is a single stored memory with its session scope and
// provenance. Scope ids are flattened into the JSON representation.
type MemoryRecord struct {
	ID   string `json:"id"`
	Text string `json:"memory"`
	Hash string `json:"hash,omitempty"`
	Scope
	ActorID   string         `json:"actor_id,omitempty"`
	Role      string         `json:"role,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt *time.Time     `json:"updated_at,omitempty"`
}

// Filters narrows store reads to a scope and optionally a single actor.
// Empty fields match everything.
type Filters struct {
	Scope
	ActorID string `json:"actor_id,omitempty"`
}

// Match reports whether a record satisfies every set filter field.
func (f Filters) Match(rec *MemoryRecord) bool {
	if f.UserID != "" && rec.UserID != f.UserID {
		return false
	}
	if f.AgentID != "" && rec.AgentID != f.AgentID {
		return false
	}
	if f.RunID != "" && rec.RunID != f.RunID {
		return false
	}
	if f.ActorID != "" && rec.ActorID != f.ActorID {
		return false
	}
	return true
}

// ComputeTextHash returns the hex SHA-256 fingerprint of a memory's text.
// The fingerprint is stored alongside the record and recomputed on update.
func ComputeTextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
