// Package sqlite provides a checkpoint store backed by SQLite, suited
// to single-node deployments that need durability without a server.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/smallnest/spice/checkpoint"
)

// Options configures the SQLite database.
type Options struct {
	// Path is the database file; ":memory:" works for tests.
	Path string

	// TableName defaults to "checkpoints".
	TableName string
}

// Store implements checkpoint.Store on SQLite.
type Store struct {
	db        *sql.DB
	tableName string
}

var _ checkpoint.Store = (*Store)(nil)

// NewStore opens the database and initializes the schema.
func NewStore(opts Options) (*Store, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	tableName := opts.TableName
	if tableName == "" {
		tableName = "checkpoints"
	}

	s := &Store{db: db, tableName: tableName}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			graph_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%s_run_id ON %s (run_id);
	`, s.tableName, s.tableName, s.tableName)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save implements checkpoint.Store.
func (s *Store) Save(ctx context.Context, c *checkpoint.Checkpoint) error {
	payload, err := c.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, run_id, graph_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			run_id = excluded.run_id,
			graph_id = excluded.graph_id,
			payload = excluded.payload,
			created_at = excluded.created_at
	`, s.tableName)

	_, err = s.db.ExecContext(ctx, query, c.ID, c.RunID, c.GraphID, string(payload), c.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Get implements checkpoint.Store.
func (s *Store) Get(ctx context.Context, id string) (*checkpoint.Checkpoint, error) {
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE id = ?`, s.tableName)

	var payload string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, checkpoint.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return checkpoint.Unmarshal([]byte(payload))
}

// ListByRun implements checkpoint.Store.
func (s *Store) ListByRun(ctx context.Context, runID string) ([]*checkpoint.Checkpoint, error) {
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE run_id = ? ORDER BY created_at`, s.tableName)

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*checkpoint.Checkpoint
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		c, err := checkpoint.Unmarshal([]byte(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to parse checkpoint: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkpoints: %w", err)
	}
	return out, nil
}

// DeleteByRun implements checkpoint.Store.
func (s *Store) DeleteByRun(ctx context.Context, runID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE run_id = ?`, s.tableName)
	if _, err := s.db.ExecContext(ctx, query, runID); err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	return nil
}
