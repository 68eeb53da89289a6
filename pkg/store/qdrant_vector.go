package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// QdrantConfig holds connection settings for a Qdrant instance.
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Dimension  int
	Timeout    time.Duration
}

// DefaultQdrantConfig returns settings for a local Qdrant instance.
func DefaultQdrantConfig() QdrantConfig {
	return QdrantConfig{
		URL:        "http://localhost:6333",
		Collection: "gomemo",
		Dimension:  1536,
		Timeout:    30 * time.Second,
	}
}

// QdrantVectorStore implements VectorStore against a Qdrant server using
// its REST API. Scope ids live in point payloads and are pushed down as
// match filters, so search and list never leave the session.
type QdrantVectorStore struct {
	config     QdrantConfig
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewQdrantVectorStore creates a Qdrant-backed vector store and ensures
// the collection exists, creating it with cosine distance if missing.
func NewQdrantVectorStore(ctx context.Context, config QdrantConfig, logger *logrus.Logger) (*QdrantVectorStore, error) {
	if config.URL == "" {
		config.URL = "http://localhost:6333"
	}
	if config.Collection == "" {
		config.Collection = "gomemo"
	}
	if config.Dimension <= 0 {
		config.Dimension = 1536
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}

	s := &QdrantVectorStore{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
	}

	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

// statusError is returned by doRequest for non-2xx responses so callers
// can branch on the HTTP status.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.code, e.body)
}

func (s *QdrantVectorStore) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	url := s.config.URL + path

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if s.config.APIKey != "" {
		req.Header.Set("api-key", s.config.APIKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &statusError{code: resp.StatusCode, body: string(respBody)}
	}

	return respBody, nil
}

// ensureCollection creates the collection if it does not already exist.
func (s *QdrantVectorStore) ensureCollection(ctx context.Context) error {
	path := "/collections/" + s.config.Collection
	_, err := s.doRequest(ctx, http.MethodGet, path, nil)
	if err == nil {
		return nil
	}

	var se *statusError
	if !errors.As(err, &se) || se.code != http.StatusNotFound {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     s.config.Dimension,
			"distance": "Cosine",
		},
	}
	if _, err := s.doRequest(ctx, http.MethodPut, path, reqBody); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	s.logger.WithField("collection", s.config.Collection).Info("Collection created")
	return nil
}

// qdrantPayload is the point payload holding everything about a record
// except its id and embedding.
type qdrantPayload struct {
	Text      string         `json:"text"`
	Hash      string         `json:"hash,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	RunID     string         `json:"run_id,omitempty"`
	ActorID   string         `json:"actor_id,omitempty"`
	Role      string         `json:"role,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at,omitempty"`
}

func toPayload(record MemoryRecord) qdrantPayload {
	p := qdrantPayload{
		Text:      record.Text,
		Hash:      record.Hash,
		UserID:    record.UserID,
		AgentID:   record.AgentID,
		RunID:     record.RunID,
		ActorID:   record.ActorID,
		Role:      record.Role,
		Metadata:  record.Metadata,
		CreatedAt: record.CreatedAt.Format(time.RFC3339Nano),
	}
	if record.UpdatedAt != nil {
		p.UpdatedAt = record.UpdatedAt.Format(time.RFC3339Nano)
	}
	return p
}

func (p qdrantPayload) toRecord(id string) MemoryRecord {
	rec := MemoryRecord{
		ID:       id,
		Text:     p.Text,
		Hash:     p.Hash,
		ActorID:  p.ActorID,
		Role:     p.Role,
		Metadata: p.Metadata,
	}
	rec.UserID = p.UserID
	rec.AgentID = p.AgentID
	rec.RunID = p.RunID
	if t, err := time.Parse(time.RFC3339Nano, p.CreatedAt); err == nil {
		rec.CreatedAt = t
	}
	if p.UpdatedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, p.UpdatedAt); err == nil {
			rec.UpdatedAt = &t
		}
	}
	return rec
}

// qdrantFilter converts filters to a Qdrant must-match filter.
// Returns nil when no field is set.
func qdrantFilter(filters Filters) map[string]any {
	var must []map[string]any
	add := func(key, value string) {
		if value != "" {
			must = append(must, map[string]any{
				"key":   key,
				"match": map[string]any{"value": value},
			})
		}
	}
	add("user_id", filters.UserID)
	add("agent_id", filters.AgentID)
	add("run_id", filters.RunID)
	add("actor_id", filters.ActorID)

	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

// Insert stores a record with its embedding as a single point upsert.
func (s *QdrantVectorStore) Insert(ctx context.Context, id string, embedding []float32, record MemoryRecord) error {
	record.ID = id
	reqBody := map[string]any{
		"points": []map[string]any{
			{
				"id":      id,
				"vector":  embedding,
				"payload": toPayload(record),
			},
		},
	}

	path := fmt.Sprintf("/collections/%s/points", s.config.Collection)
	if _, err := s.doRequest(ctx, http.MethodPut, path, reqBody); err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"collection": s.config.Collection,
		"id":         id,
	}).Debug("Point upserted")

	return nil
}

// Search finds the records most similar to the query embedding among those
// matching the filters.
func (s *QdrantVectorStore) Search(ctx context.Context, query []float32, limit int, filters Filters) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 10
	}

	reqBody := map[string]any{
		"vector":       query,
		"limit":        limit,
		"with_payload": true,
	}
	if filter := qdrantFilter(filters); filter != nil {
		reqBody["filter"] = filter
	}

	path := fmt.Sprintf("/collections/%s/points/search", s.config.Collection)
	respBody, err := s.doRequest(ctx, http.MethodPost, path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	var response struct {
		Result []struct {
			ID      string        `json:"id"`
			Score   float64       `json:"score"`
			Payload qdrantPayload `json:"payload"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	hits := make([]SearchHit, 0, len(response.Result))
	for _, r := range response.Result {
		hits = append(hits, SearchHit{
			MemoryRecord: r.Payload.toRecord(r.ID),
			Score:        r.Score,
		})
	}

	return hits, nil
}

// Get retrieves a record by id.
func (s *QdrantVectorStore) Get(ctx context.Context, id string) (MemoryRecord, error) {
	path := fmt.Sprintf("/collections/%s/points/%s", s.config.Collection, id)
	respBody, err := s.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return MemoryRecord{}, ErrNotFound
		}
		return MemoryRecord{}, fmt.Errorf("failed to get point: %w", err)
	}

	var response struct {
		Result struct {
			ID      string        `json:"id"`
			Payload qdrantPayload `json:"payload"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return MemoryRecord{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if response.Result.ID == "" {
		return MemoryRecord{}, ErrNotFound
	}

	return response.Result.Payload.toRecord(response.Result.ID), nil
}

// Update replaces the record and embedding for an existing id.
func (s *QdrantVectorStore) Update(ctx context.Context, id string, embedding []float32, record MemoryRecord) error {
	// Upserts create missing points, so check existence first.
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.Insert(ctx, id, embedding, record)
}

// List returns up to limit records matching the filters, ordered by
// creation time then id. Pages through the scroll API and sorts locally.
func (s *QdrantVectorStore) List(ctx context.Context, filters Filters, limit int) ([]MemoryRecord, error) {
	var records []MemoryRecord
	var offset *string

	path := fmt.Sprintf("/collections/%s/points/scroll", s.config.Collection)
	for {
		reqBody := map[string]any{
			"limit":        256,
			"with_payload": true,
		}
		if filter := qdrantFilter(filters); filter != nil {
			reqBody["filter"] = filter
		}
		if offset != nil {
			reqBody["offset"] = *offset
		}

		respBody, err := s.doRequest(ctx, http.MethodPost, path, reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to scroll points: %w", err)
		}

		var response struct {
			Result struct {
				NextPageOffset *string `json:"next_page_offset"`
				Points         []struct {
					ID      string        `json:"id"`
					Payload qdrantPayload `json:"payload"`
				} `json:"points"`
			} `json:"result"`
		}
		if err := json.Unmarshal(respBody, &response); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}

		for _, p := range response.Result.Points {
			records = append(records, p.Payload.toRecord(p.ID))
		}

		if response.Result.NextPageOffset == nil {
			break
		}
		offset = response.Result.NextPageOffset
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
func (s *QdrantVectorStore) Delete(ctx context.Context, id string) error {
	// The points/delete endpoint succeeds on missing ids, so check first.
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	reqBody := map[string]any{
		"points": []string{id},
	}

	path := fmt.Sprintf("/collections/%s/points/delete", s.config.Collection)
	if _, err := s.doRequest(ctx, http.MethodPost, path, reqBody); err != nil {
		return fmt.Errorf("failed to delete point: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"collection": s.config.Collection,
		"id":         id,
	}).Debug("Point deleted")

	return nil
}

// DeleteCollection drops the collection and recreates it empty.
func (s *QdrantVectorStore) DeleteCollection(ctx context.Context) error {
	path := "/collections/" + s.config.Collection
	if _, err := s.doRequest(ctx, http.MethodDelete, path, nil); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}

	s.logger.WithField("collection", s.config.Collection).Info("Collection deleted")
	return s.ensureCollection(ctx)
}

// Close is a no-op; the HTTP client holds no persistent resources.
func (s *QdrantVectorStore) Close() error {
	return nil
}
