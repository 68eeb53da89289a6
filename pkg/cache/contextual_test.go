package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dan-solli/gomemo/pkg/llm"
	"github.com/dan-solli/gomemo/pkg/store"
)

func contextualRecord(id string, created time.Time, messages []llm.Message) store.MemoryRecord {
	msgMaps := make([]any, len(messages))
	for i, m := range messages {
		msgMaps[i] = map[string]any{"role": m.Role, "content": m.Content}
	}
	rec := store.MemoryRecord{
		ID:        id,
		Text:      "derived fact",
		CreatedAt: created,
		Metadata:  map[string]any{OriginalMessagesKey: msgMaps},
	}
	rec.UserID = "alice"
	return rec
}

func TestContextualHistory_HitWithinTTL(t *testing.T) {
	fetches := 0
	fetch := func(ctx context.Context, scope store.Scope, limit int) ([]store.MemoryRecord, error) {
		fetches++
		return []store.MemoryRecord{
			contextualRecord("m1", time.Now(), []llm.Message{{Role: "user", Content: "hello"}}),
		}, nil
	}

	c := NewContextualHistory(fetch, Config{}, nil)
	scope := store.Scope{UserID: "alice"}

	first, err := c.Get(context.Background(), scope, 10)
	if err != nil {
		t.Fatalf("First Get failed: %v", err)
	}
	second, err := c.Get(context.Background(), scope, 10)
	if err != nil {
		t.Fatalf("Second Get failed: %v", err)
	}

	if fetches != 1 {
		t.Errorf("Expected 1 fetch, got %d", fetches)
	}
	if len(first) != len(second) {
		t.Fatalf("Expected identical results, got %d and %d messages", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("Message %d differs between hits: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestContextualHistory_ExpiryTriggersFreshFetch(t *testing.T) {
	fetches := 0
	fetch := func(ctx context.Context, scope store.Scope, limit int) ([]store.MemoryRecord, error) {
		fetches++
		return nil, nil
	}

	c := NewContextualHistory(fetch, Config{TTL: 300 * time.Second}, nil)
	current := time.Now()
	c.now = func() time.Time { return current }

	scope := store.Scope{UserID: "alice"}

	c.Get(context.Background(), scope, 10)
	current = current.Add(299 * time.Second)
	c.Get(context.Background(), scope, 10)
	if fetches != 1 {
		t.Fatalf("Expected cached result just before TTL, got %d fetches", fetches)
	}

	current = current.Add(2 * time.Second)
	c.Get(context.Background(), scope, 10)
	if fetches != 2 {
		t.Errorf("Expected fresh fetch after TTL, got %d fetches", fetches)
	}
}

func TestContextualHistory_KeyIncludesLimit(t *testing.T) {
	fetches := 0
	fetch := func(ctx context.Context, scope store.Scope, limit int) ([]store.MemoryRecord, error) {
		fetches++
		return nil, nil
	}

	c := NewContextualHistory(fetch, Config{}, nil)
	scope := store.Scope{UserID: "alice"}

	c.Get(context.Background(), scope, 10)
	c.Get(context.Background(), scope, 20)

	if fetches != 2 {
		t.Errorf("Expected separate cache entries per limit, got %d fetches", fetches)
	}
}

func TestContextualHistory_FetchLimitMultiplier(t *testing.T) {
	var gotLimit int
	fetch := func(ctx context.Context, scope store.Scope, limit int) ([]store.MemoryRecord, error) {
		gotLimit = limit
		return nil, nil
	}

	c := NewContextualHistory(fetch, Config{}, nil)
	c.Get(context.Background(), store.Scope{UserID: "alice"}, 10)

	if gotLimit != 50 {
		t.Errorf("Expected fetch limit 50 (limit*5), got %d", gotLimit)
	}
}

func TestContextualHistory_CapacityEviction(t *testing.T) {
	fetchesByUser := make(map[string]int)
	fetch := func(ctx context.Context, scope store.Scope, limit int) ([]store.MemoryRecord, error) {
		fetchesByUser[scope.UserID]++
		return nil, nil
	}

	c := NewContextualHistory(fetch, Config{Capacity: 2}, nil)
	ctx := context.Background()

	c.Get(ctx, store.Scope{UserID: "u1"}, 10)
	c.Get(ctx, store.Scope{UserID: "u2"}, 10)
	c.Get(ctx, store.Scope{UserID: "u3"}, 10) // evicts u1

	c.Get(ctx, store.Scope{UserID: "u3"}, 10) // hit
	c.Get(ctx, store.Scope{UserID: "u2"}, 10) // hit
	c.Get(ctx, store.Scope{UserID: "u1"}, 10) // refetch

	if fetchesByUser["u2"] != 1 {
		t.Errorf("Expected u2 to stay cached, got %d fetches", fetchesByUser["u2"])
	}
	if fetchesByUser["u3"] != 1 {
		t.Errorf("Expected u3 to stay cached, got %d fetches", fetchesByUser["u3"])
	}
	if fetchesByUser["u1"] != 2 {
		t.Errorf("Expected u1 to be evicted and refetched, got %d fetches", fetchesByUser["u1"])
	}
}

func TestContextualHistory_FlattensProvenanceRecordsInOrder(t *testing.T) {
	base := time.Now()
	plain := store.MemoryRecord{ID: "plain", Text: "no provenance", CreatedAt: base}

	fetch := func(ctx context.Context, scope store.Scope, limit int) ([]store.MemoryRecord, error) {
		return []store.MemoryRecord{
			contextualRecord("newer", base.Add(time.Minute), []llm.Message{{Role: "user", Content: "second turn"}}),
			plain,
			contextualRecord("older", base, []llm.Message{
				{Role: "user", Content: "first turn"},
				{Role: "assistant", Content: "first reply"},
			}),
		}, nil
	}

	c := NewContextualHistory(fetch, Config{}, nil)
	messages, err := c.Get(context.Background(), store.Scope{UserID: "alice"}, 10)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	want := []string{"first turn", "first reply", "second turn"}
	if len(messages) != len(want) {
		t.Fatalf("Expected %d messages, got %d: %+v", len(want), len(messages), messages)
	}
	for i, content := range want {
		if messages[i].Content != content {
			t.Errorf("Message %d: expected %q, got %q", i, content, messages[i].Content)
		}
	}
}

func TestContextualHistory_TruncatesToTwiceLimit(t *testing.T) {
	base := time.Now()
	fetch := func(ctx context.Context, scope store.Scope, limit int) ([]store.MemoryRecord, error) {
		var records []store.MemoryRecord
		for i := 0; i < 10; i++ {
			records = append(records, contextualRecord(
				fmt.Sprintf("m%02d", i),
				base.Add(time.Duration(i)*time.Second),
				[]llm.Message{{Role: "user", Content: fmt.Sprintf("turn %d", i)}},
			))
		}
		return records, nil
	}

	c := NewContextualHistory(fetch, Config{}, nil)
	messages, err := c.Get(context.Background(), store.Scope{UserID: "alice"}, 3)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if len(messages) != 6 {
		t.Errorf("Expected 6 messages (limit*2), got %d", len(messages))
	}
	if messages[0].Content != "turn 0" {
		t.Errorf("Expected oldest messages kept, got first %q", messages[0].Content)
	}
}

func TestContextualHistory_ResetDropsEntries(t *testing.T) {
	fetches := 0
	fetch := func(ctx context.Context, scope store.Scope, limit int) ([]store.MemoryRecord, error) {
		fetches++
		return nil, nil
	}

	c := NewContextualHistory(fetch, Config{}, nil)
	scope := store.Scope{UserID: "alice"}

	c.Get(context.Background(), scope, 10)
	c.Reset()
	c.Get(context.Background(), scope, 10)

	if fetches != 2 {
		t.Errorf("Expected fresh fetch after Reset, got %d fetches", fetches)
	}
}

func TestContextualHistory_FetchError(t *testing.T) {
	fetch := func(ctx context.Context, scope store.Scope, limit int) ([]store.MemoryRecord, error) {
		return nil, fmt.Errorf("store unavailable")
	}

	c := NewContextualHistory(fetch, Config{}, nil)
	_, err := c.Get(context.Background(), store.Scope{UserID: "alice"}, 10)
	if err == nil {
		t.Fatal("Expected error when fetch fails, got nil")
	}
}

func TestMessagesFromMetadata(t *testing.T) {
	t.Run("typed messages", func(t *testing.T) {
		meta := map[string]any{
			OriginalMessagesKey: []llm.Message{{Role: "user", Content: "hi"}},
		}
		msgs, ok := MessagesFromMetadata(meta)
		if !ok || len(msgs) != 1 || msgs[0].Content != "hi" {
			t.Errorf("Expected decoded typed messages, got %v ok=%v", msgs, ok)
		}
	})

	t.Run("json round-trip maps", func(t *testing.T) {
		meta := map[string]any{
			OriginalMessagesKey: []any{map[string]any{"role": "user", "content": "hi"}},
		}
		msgs, ok := MessagesFromMetadata(meta)
		if !ok || len(msgs) != 1 || msgs[0].Role != "user" {
			t.Errorf("Expected decoded map messages, got %v ok=%v", msgs, ok)
		}
	})

	t.Run("absent key", func(t *testing.T) {
		if _, ok := MessagesFromMetadata(map[string]any{"other": 1}); ok {
			t.Error("Expected ok=false for absent key")
		}
	})

	t.Run("malformed value", func(t *testing.T) {
		if _, ok := MessagesFromMetadata(map[string]any{OriginalMessagesKey: "not a list"}); ok {
			t.Error("Expected ok=false for malformed value")
		}
	})
}
