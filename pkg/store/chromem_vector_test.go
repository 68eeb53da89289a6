package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestChromemStore(t *testing.T) *ChromemVectorStore {
	t.Helper()
	s, err := NewChromemVectorStore("test-memories")
	if err != nil {
		t.Fatalf("Failed to create chromem store: %v", err)
	}
	return s
}

func TestChromemVectorStore_InsertAndSearch(t *testing.T) {
	s := newTestChromemStore(t)
	ctx := context.Background()
	now := time.Now()

	s.Insert(ctx, "m1", []float32{1, 0, 0}, userRecord("m1", "likes coffee", "alice", now))
	s.Insert(ctx, "m2", []float32{0, 1, 0}, userRecord("m2", "plays tennis", "alice", now))

	hits, err := s.Search(ctx, []float32{1, 0, 0}, 2, Filters{Scope: Scope{UserID: "alice"}})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if len(hits) != 2 {
		t.Fatalf("Expected 2 hits, got %d", len(hits))
	}
	if hits[0].ID != "m1" {
		t.Errorf("Expected m1 as best hit, got %s", hits[0].ID)
	}
	if hits[0].Score < hits[1].Score {
		t.Error("Expected descending similarity order")
	}
	if hits[0].Text != "likes coffee" {
		t.Errorf("Expected full record on hit, got text %q", hits[0].Text)
	}
}

func TestChromemVectorStore_SearchScopeIsolation(t *testing.T) {
	s := newTestChromemStore(t)
	ctx := context.Background()
	now := time.Now()

	s.Insert(ctx, "m1", []float32{1, 0}, userRecord("m1", "alice memory", "alice", now))
	s.Insert(ctx, "m2", []float32{1, 0}, userRecord("m2", "bob memory", "bob", now))

	hits, err := s.Search(ctx, []float32{1, 0}, 10, Filters{Scope: Scope{UserID: "bob"}})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if len(hits) != 1 {
		t.Fatalf("Expected 1 hit for bob, got %d", len(hits))
	}
	if hits[0].ID != "m2" {
		t.Errorf("Expected m2, got %s", hits[0].ID)
	}
}

func TestChromemVectorStore_SearchEmpty(t *testing.T) {
	s := newTestChromemStore(t)

	hits, err := s.Search(context.Background(), []float32{1, 0}, 5, Filters{})
	if err != nil {
		t.Fatalf("Search on empty store failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("Expected no hits, got %d", len(hits))
	}
}

func TestChromemVectorStore_UpdateAndGet(t *testing.T) {
	s := newTestChromemStore(t)
	ctx := context.Background()

	rec := userRecord("m1", "likes coffee", "alice", time.Now())
	s.Insert(ctx, "m1", []float32{1, 0}, rec)

	updated := rec
	updated.Text = "prefers tea"
	if err := s.Update(ctx, "m1", []float32{0, 1}, updated); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := s.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Text != "prefers tea" {
		t.Errorf("Expected updated text, got %q", got.Text)
	}

	hits, err := s.Search(ctx, []float32{0, 1}, 1, Filters{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 1 || hits[0].Score < 0.99 {
		t.Errorf("Expected updated embedding to match query, got %+v", hits)
	}
}

func TestChromemVectorStore_NotFoundPaths(t *testing.T) {
	s := newTestChromemStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound from Get, got %v", err)
	}
	if err := s.Update(ctx, "missing", []float32{1}, MemoryRecord{Text: "x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound from Update, got %v", err)
	}
	if err := s.Delete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound from Delete, got %v", err)
	}
}

func TestChromemVectorStore_DeleteCollection(t *testing.T) {
	s := newTestChromemStore(t)
	ctx := context.Background()

	s.Insert(ctx, "m1", []float32{1, 0}, userRecord("m1", "text", "alice", time.Now()))

	if err := s.DeleteCollection(ctx); err != nil {
		t.Fatalf("DeleteCollection failed: %v", err)
	}

	hits, err := s.Search(ctx, []float32{1, 0}, 5, Filters{})
	if err != nil {
		t.Fatalf("Search after DeleteCollection failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("Expected empty collection, got %d hits", len(hits))
	}

	// Collection stays usable after recreation.
	if err := s.Insert(ctx, "m2", []float32{0, 1}, userRecord("m2", "fresh", "alice", time.Now())); err != nil {
		t.Fatalf("Insert after DeleteCollection failed: %v", err)
	}
}
