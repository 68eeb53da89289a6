package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteVectorStore implements VectorStore using SQLite as the backend.
// Records and their embeddings live in a single table; similarity search
// prefilters by scope in SQL and computes cosine similarity in Go.
// Suitable for local single-process deployments.
type SQLiteVectorStore struct {
	db *sql.DB
}

// NewSQLiteVectorStore creates a new SQLite-backed vector store.
// The dbPath can be a file path or ":memory:" for an in-memory database.
// Creates tables and indexes if they don't exist.
func NewSQLiteVectorStore(dbPath string) (*SQLiteVectorStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteVectorStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database schema if it doesn't exist.
func (s *SQLiteVectorStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		hash TEXT,
		user_id TEXT,
		agent_id TEXT,
		run_id TEXT,
		actor_id TEXT,
		role TEXT,
		metadata TEXT,
		embedding BLOB,
		created_at DATETIME,
		updated_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id);
	CREATE INDEX IF NOT EXISTS idx_memories_agent ON memories(agent_id);
	CREATE INDEX IF NOT EXISTS idx_memories_run ON memories(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Insert stores a new record with its embedding.
func (s *SQLiteVectorStore) Insert(ctx context.Context, id string, embedding []float32, record MemoryRecord) error {
	metadataJSON, err := marshalMetadata(record.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT OR REPLACE INTO memories
			(id, text, hash, user_id, agent_id, run_id, actor_id, role, metadata, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		id,
		record.Text,
		record.Hash,
		record.UserID,
		record.AgentID,
		record.RunID,
		record.ActorID,
		record.Role,
		metadataJSON,
		serializeEmbedding(embedding),
		record.CreatedAt,
		nullableTime(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert memory: %w", err)
	}

	return nil
}

// Search finds the records most similar to the query embedding among those
// matching the filters. The scope prefilter runs in SQL; cosine similarity
// is computed in Go over the surviving rows.
func (s *SQLiteVectorStore) Search(ctx context.Context, query []float32, limit int, filters Filters) ([]SearchHit, error) {
	where, args := buildFilterClause(filters)

	sqlQuery := `
		SELECT id, text, hash, user_id, agent_id, run_id, actor_id, role, metadata, embedding, created_at, updated_at
		FROM memories` + where

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		rec, embedding, err := scanMemoryRow(rows)
		if err != nil {
			return nil, err
		}
		hits = append(hits, SearchHit{
			MemoryRecord: rec,
			Score:        CosineSimilarity(query, embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memories: %w", err)
	}

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
func (s *SQLiteVectorStore) Get(ctx context.Context, id string) (MemoryRecord, error) {
	query := `
		SELECT id, text, hash, user_id, agent_id, run_id, actor_id, role, metadata, embedding, created_at, updated_at
		FROM memories
		WHERE id = ?
	`

	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return MemoryRecord{}, fmt.Errorf("failed to query memory: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return MemoryRecord{}, fmt.Errorf("error reading memory: %w", err)
		}
		return MemoryRecord{}, ErrNotFound
	}

	rec, _, err := scanMemoryRow(rows)
	if err != nil {
		return MemoryRecord{}, err
	}
	return rec, nil
}

// Update replaces the record and embedding for an existing id.
func (s *SQLiteVectorStore) Update(ctx context.Context, id string, embedding []float32, record MemoryRecord) error {
	metadataJSON, err := marshalMetadata(record.Metadata)
	if err != nil {
		return err
	}

	query := `
		UPDATE memories
		SET text = ?, hash = ?, user_id = ?, agent_id = ?, run_id = ?, actor_id = ?, role = ?,
			metadata = ?, embedding = ?, created_at = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		record.Text,
		record.Hash,
		record.UserID,
		record.AgentID,
		record.RunID,
		record.ActorID,
		record.Role,
		metadataJSON,
		serializeEmbedding(embedding),
		record.CreatedAt,
		nullableTime(record.UpdatedAt),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update memory: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// List returns up to limit records matching the filters, ordered by
// creation time then id.
func (s *SQLiteVectorStore) List(ctx context.Context, filters Filters, limit int) ([]MemoryRecord, error) {
	where, args := buildFilterClause(filters)

	query := `
		SELECT id, text, hash, user_id, agent_id, run_id, actor_id, role, metadata, embedding, created_at, updated_at
		FROM memories` + where + `
		ORDER BY created_at, id
	`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	var records []MemoryRecord
	for rows.Next() {
		rec, _, err := scanMemoryRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memories: %w", err)
	}

	return records, nil
}

// Delete removes a record by id.
func (s *SQLiteVectorStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete memory: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteCollection drops the memories table and recreates it empty.
func (s *SQLiteVectorStore) DeleteCollection(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS memories`); err != nil {
		return fmt.Errorf("failed to drop memories table: %w", err)
	}
	if err := s.initSchema(); err != nil {
		return fmt.Errorf("failed to recreate schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteVectorStore) Close() error {
	return s.db.Close()
}

// buildFilterClause turns set filter fields into a WHERE clause with
// positional args. Returns an empty clause when no field is set.
func buildFilterClause(filters Filters) (string, []any) {
	var conditions []string
	var args []any

	if filters.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filters.UserID)
	}
	if filters.AgentID != "" {
		conditions = append(conditions, "agent_id = ?")
		args = append(args, filters.AgentID)
	}
	if filters.RunID != "" {
		conditions = append(conditions, "run_id = ?")
		args = append(args, filters.RunID)
	}
	if filters.ActorID != "" {
		conditions = append(conditions, "actor_id = ?")
		args = append(args, filters.ActorID)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// scanMemoryRow reads one memories row into a record plus its embedding.
func scanMemoryRow(rows *sql.Rows) (MemoryRecord, []float32, error) {
	var rec MemoryRecord
	var metadataJSON sql.NullString
	var embeddingBlob []byte
	var updatedAt sql.NullTime

	err := rows.Scan(
		&rec.ID,
		&rec.Text,
		&rec.Hash,
		&rec.UserID,
		&rec.AgentID,
		&rec.RunID,
		&rec.ActorID,
		&rec.Role,
		&metadataJSON,
		&embeddingBlob,
		&rec.CreatedAt,
		&updatedAt,
	)
	if err != nil {
		return MemoryRecord{}, nil, fmt.Errorf("failed to scan memory row: %w", err)
	}

	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata); err != nil {
			return MemoryRecord{}, nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		rec.UpdatedAt = &t
	}

	return rec, deserializeEmbedding(embeddingBlob), nil
}

// marshalMetadata serializes record metadata to JSON, nil-safe.
func marshalMetadata(metadata map[string]any) (sql.NullString, error) {
	if metadata == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// serializeEmbedding converts a float32 slice to a binary BLOB for storage.
// Uses little-endian encoding for consistency across platforms.
func serializeEmbedding(embedding []float32) []byte {
	blob := make([]byte, len(embedding)*4)
	for i, val := range embedding {
		bits := math.Float32bits(val)
		binary.LittleEndian.PutUint32(blob[i*4:(i+1)*4], bits)
	}
	return blob
}

// deserializeEmbedding converts a binary BLOB back to a float32 slice.
// Returns nil if the data is malformed (not a multiple of 4 bytes).
func deserializeEmbedding(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	if len(data)%4 != 0 {
		// Malformed data
		return nil
	}

	embedding := make([]float32, len(data)/4)
	for i := 0; i < len(embedding); i++ {
		bits := binary.LittleEndian.Uint32(data[i*4 : (i+1)*4])
		embedding[i] = math.Float32frombits(bits)
	}
	return embedding
}
