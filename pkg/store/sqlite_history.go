package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteHistoryStore implements HistoryStore using SQLite as the backend.
type SQLiteHistoryStore struct {
	db *sql.DB
}

// NewSQLiteHistoryStore creates a new SQLite-backed history store.
// The dbPath can be a file path or ":memory:" for an in-memory database.
func NewSQLiteHistoryStore(dbPath string) (*SQLiteHistoryStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteHistoryStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteHistoryStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS history (
		id TEXT PRIMARY KEY,
		memory_id TEXT NOT NULL,
		old_memory TEXT,
		new_memory TEXT,
		event TEXT NOT NULL,
		actor_id TEXT,
		role TEXT,
		created_at DATETIME,
		updated_at DATETIME,
		is_deleted INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_history_memory ON history(memory_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Append records one change event. Generates an entry id and creation time
// when unset.
func (s *SQLiteHistoryStore) Append(ctx context.Context, entry HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO history (id, memory_id, old_memory, new_memory, event, actor_id, role, created_at, updated_at, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	deleted := 0
	if entry.IsDeleted {
		deleted = 1
	}

	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.MemoryID,
		entry.OldMemory,
		entry.NewMemory,
		entry.Event,
		entry.ActorID,
		entry.Role,
		entry.CreatedAt,
		nullableTime(entry.UpdatedAt),
		deleted,
	)
	if err != nil {
		return fmt.Errorf("failed to append history entry: %w", err)
	}

	return nil
}

// Query returns all events for a memory id, oldest first.
func (s *SQLiteHistoryStore) Query(ctx context.Context, memoryID string) ([]HistoryEntry, error) {
	query := `
		SELECT id, memory_id, old_memory, new_memory, event, actor_id, role, created_at, updated_at, is_deleted
		FROM history
		WHERE memory_id = ?
		ORDER BY created_at, updated_at
	`

	rows, err := s.db.QueryContext(ctx, query, memoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var entry HistoryEntry
		var updatedAt sql.NullTime
		var deleted int

		err := rows.Scan(
			&entry.ID,
			&entry.MemoryID,
			&entry.OldMemory,
			&entry.NewMemory,
			&entry.Event,
			&entry.ActorID,
			&entry.Role,
			&entry.CreatedAt,
			&updatedAt,
			&deleted,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}

		if updatedAt.Valid {
			t := updatedAt.Time
			entry.UpdatedAt = &t
		}
		entry.IsDeleted = deleted != 0

		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}

	return entries, nil
}

// Reset drops the history table and recreates it empty.
func (s *SQLiteHistoryStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS history`); err != nil {
		return fmt.Errorf("failed to drop history table: %w", err)
	}
	if err := s.initSchema(); err != nil {
		return fmt.Errorf("failed to recreate schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteHistoryStore) Close() error {
	return s.db.Close()
}
