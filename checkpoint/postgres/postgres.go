// Package postgres provides a checkpoint store backed by PostgreSQL,
// storing checkpoints as JSONB rows indexed by run id.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smallnest/spice/checkpoint"
)

// DBPool is the subset of pgxpool.Pool the store uses. Kept as an
// interface so tests can substitute pgxmock.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Options configures the Postgres connection.
type Options struct {
	ConnString string

	// TableName defaults to "checkpoints".
	TableName string
}

// Store implements checkpoint.Store on PostgreSQL.
type Store struct {
	pool      DBPool
	tableName string
}

var _ checkpoint.Store = (*Store)(nil)

// NewStore creates a store with its own connection pool.
func NewStore(ctx context.Context, opts Options) (*Store, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	return NewStoreWithPool(pool, opts.TableName), nil
}

// NewStoreWithPool creates a store over an existing pool. Useful for
// testing with mocks.
func NewStoreWithPool(pool DBPool, tableName string) *Store {
	if tableName == "" {
		tableName = "checkpoints"
	}
	return &Store{pool: pool, tableName: tableName}
}

// InitSchema creates the table and run-id index if they do not exist.
func (s *Store) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			graph_id TEXT NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%s_run_id ON %s (run_id);
	`, s.tableName, s.tableName, s.tableName)

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Save implements checkpoint.Store.
func (s *Store) Save(ctx context.Context, c *checkpoint.Checkpoint) error {
	payload, err := c.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, run_id, graph_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			graph_id = EXCLUDED.graph_id,
			payload = EXCLUDED.payload,
			created_at = EXCLUDED.created_at
	`, s.tableName)

	_, err = s.pool.Exec(ctx, query, c.ID, c.RunID, c.GraphID, payload, c.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Get implements checkpoint.Store.
func (s *Store) Get(ctx context.Context, id string) (*checkpoint.Checkpoint, error) {
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE id = $1`, s.tableName)

	var payload []byte
	err := s.pool.QueryRow(ctx, query, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, checkpoint.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return checkpoint.Unmarshal(payload)
}

// ListByRun implements checkpoint.Store.
func (s *Store) ListByRun(ctx context.Context, runID string) ([]*checkpoint.Checkpoint, error) {
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE run_id = $1 ORDER BY created_at`, s.tableName)

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*checkpoint.Checkpoint
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		c, err := checkpoint.Unmarshal(payload)
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
	query := fmt.Sprintf(`DELETE FROM %s WHERE run_id = $1`, s.tableName)
	if _, err := s.pool.Exec(ctx, query, runID); err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	return nil
}
