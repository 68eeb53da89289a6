package gomemo

import (
	"github.com/dan-solli/gomemo/pkg/llm"
	"github.com/dan-solli/gomemo/pkg/search"
	"github.com/dan-solli/gomemo/pkg/store"
)

// Chat roles for constructing messages.
const (
	RoleSystem    = llm.RoleSystem
	RoleUser      = llm.RoleUser
	RoleAssistant = llm.RoleAssistant
)

// Collaborator types re-exported so callers only import this package.

// Message is a single chat turn handed to Add.
type Message = llm.Message

// Scope identifies the session a memory belongs to. At least one of its
// fields must be set on every scoped operation.
type Scope = store.Scope

// Filters narrows list, search and delete operations.
type Filters = store.Filters

// MemoryRecord is a stored memory with its scope and audit fields.
type MemoryRecord = store.MemoryRecord

// HistoryEntry is one change event in a memory's audit trail.
type HistoryEntry = store.HistoryEntry

// Relation is a graph edge returned alongside vector results.
type Relation = store.Relation

// SearchOptions configures the retrieval pipeline for one Search call.
type SearchOptions = search.Options

// RankedMemory is one retrieval result with ranking metadata.
type RankedMemory = search.RankedMemory

// Criterion is one weighted ranking dimension for retrieval.
type Criterion = search.Criterion

// MemoryEvent is one applied change from an Add call.
type MemoryEvent struct {
	ID      string `json:"id"`
	Text    string `json:"memory"`
	Event   string `json:"event"`
	OldText string `json:"previousMemory,omitempty"`
}

// AddResult reports what an Add call changed.
type AddResult struct {
	Results   []MemoryEvent `json:"results"`
	Relations []Relation    `json:"relations,omitempty"`
}

// SearchResult carries ranked memories and, when a graph store is wired,
// the relations retrieved alongside them.
type SearchResult struct {
	Memories  []RankedMemory `json:"results"`
	Relations []Relation     `json:"relations,omitempty"`
}

// ListResult carries scoped records and their graph relations.
type ListResult struct {
	Memories  []MemoryRecord `json:"results"`
	Relations []Relation     `json:"relations,omitempty"`
}
