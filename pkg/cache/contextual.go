// Package cache provides the bounded TTL cache of prior contextual-add
// turns, keyed by session scope, plus the merge logic that folds cached
// history into a new turn's messages.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dan-solli/gomemo/pkg/llm"
	"github.com/dan-solli/gomemo/pkg/store"
)

// OriginalMessagesKey is the reserved metadata key carrying the raw input
// messages of a contextual add. Records without it are invisible to the
// contextual history fetch.
const OriginalMessagesKey = "original_messages"

// FetchFunc loads prior records for a scope, most commonly backed by
// VectorStore.List.
type FetchFunc func(ctx context.Context, scope store.Scope, limit int) ([]store.MemoryRecord, error)

// Config holds cache tuning knobs. Zero values select the defaults.
type Config struct {
	TTL      time.Duration // default 300s
	Capacity int           // default 100 entries
}

type entry struct {
	key        string
	messages   []llm.Message
	insertedAt time.Time
}

// ContextualHistory caches the flattened prior-turn messages per
// (scope, limit) key. Entries expire after the TTL and the oldest-inserted
// entry is evicted under capacity pressure. Values are replaced wholesale,
// never updated in place.
type ContextualHistory struct {
	mu       sync.Mutex
	entries  map[string]*entry
	order    []string
	ttl      time.Duration
	capacity int
	fetch    FetchFunc
	logger   *logrus.Logger
	now      func() time.Time
}

// NewContextualHistory creates a cache backed by the given fetch function.
func NewContextualHistory(fetch FetchFunc, config Config, logger *logrus.Logger) *ContextualHistory {
	if config.TTL <= 0 {
		config.TTL = 300 * time.Second
	}
	if config.Capacity <= 0 {
		config.Capacity = 100
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &ContextualHistory{
		entries:  make(map[string]*entry),
		ttl:      config.TTL,
		capacity: config.Capacity,
		fetch:    fetch,
		logger:   logger,
		now:      time.Now,
	}
}

// Get returns the prior contextual-add messages for the scope. A hit within
// the TTL returns the cached value unchanged. On a miss it fetches up to
// limit*5 prior records, keeps those carrying original input messages,
// flattens them oldest-first, truncates to limit*2 messages and caches the
// result.
func (c *ContextualHistory) Get(ctx context.Context, scope store.Scope, limit int) ([]llm.Message, error) {
	key := scope.Key() + "\x1f" + strconv.Itoa(limit)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Sub(e.insertedAt) < c.ttl {
		messages := append([]llm.Message(nil), e.messages...)
		c.mu.Unlock()
		c.logger.WithFields(logrus.Fields{
			"scope_key": scope.Key(),
			"count":     len(messages),
		}).Debug("Contextual history cache hit")
		return messages, nil
	}
	c.mu.Unlock()

	records, err := c.fetch(ctx, scope, limit*5)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch contextual history: %w", err)
	}

	messages := flattenContextual(records, limit*2)

	c.mu.Lock()
	c.insertLocked(key, messages)
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"scope_key": scope.Key(),
		"records":   len(records),
		"count":     len(messages),
	}).Debug("Contextual history cached")

	return append([]llm.Message(nil), messages...), nil
}

// Reset drops every cached entry. The next Get per scope fetches fresh.
func (c *ContextualHistory) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.order = c.order[:0]
}

// insertLocked stores an entry wholesale and evicts the oldest-inserted
// entry when capacity is exceeded. Caller holds the mutex.
func (c *ContextualHistory) insertLocked(key string, messages []llm.Message) {
	if _, ok := c.entries[key]; ok {
		// Re-insert: drop the stale position so the key moves to the back.
		for i, k := range c.order {
			if k == key {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}

	c.entries[key] = &entry{key: key, messages: messages, insertedAt: c.now()}
	c.order = append(c.order, key)

	for len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// flattenContextual orders provenance-carrying records oldest-first and
// concatenates their original messages, truncated to maxMessages.
func flattenContextual(records []store.MemoryRecord, maxMessages int) []llm.Message {
	withProvenance := make([]store.MemoryRecord, 0, len(records))
	for _, rec := range records {
		if _, ok := MessagesFromMetadata(rec.Metadata); ok {
			withProvenance = append(withProvenance, rec)
		}
	}

	sort.Slice(withProvenance, func(i, j int) bool {
		if !withProvenance[i].CreatedAt.Equal(withProvenance[j].CreatedAt) {
			return withProvenance[i].CreatedAt.Before(withProvenance[j].CreatedAt)
		}
		return withProvenance[i].ID < withProvenance[j].ID
	})

	var messages []llm.Message
	for _, rec := range withProvenance {
		msgs, _ := MessagesFromMetadata(rec.Metadata)
		messages = append(messages, msgs...)
		if maxMessages > 0 && len(messages) >= maxMessages {
			return messages[:maxMessages]
		}
	}

	return messages
}

// MessagesFromMetadata extracts the original input messages stored under
// OriginalMessagesKey. The value may be typed messages or the generic maps
// a JSON round-trip produces, so it is re-marshalled for uniform decoding.
// Returns false when the key is absent or malformed.
func MessagesFromMetadata(metadata map[string]any) ([]llm.Message, bool) {
	raw, ok := metadata[OriginalMessagesKey]
	if !ok {
		return nil, false
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, false
	}

	var messages []llm.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, false
	}
	if len(messages) == 0 {
		return nil, false
	}

	return messages, true
}
