// Package redis provides a checkpoint store backed by Redis. Each
// checkpoint is one key; a per-run set indexes checkpoint ids so
// ListByRun avoids SCAN.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smallnest/spice/checkpoint"
)

// Options configures the Redis connection and key layout.
type Options struct {
	Addr     string
	Password string
	DB       int

	// Prefix is the key prefix, default "spice:".
	Prefix string

	// TTL is the checkpoint expiry in Redis; 0 means no expiry. Engine
	// level expiry (Checkpoint.ExpiresAt) is still enforced on resume.
	TTL time.Duration
}

// Store implements checkpoint.Store on Redis.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ checkpoint.Store = (*Store)(nil)

// NewStore creates a store with its own client.
func NewStore(opts Options) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewStoreWithClient(client, opts)
}

// NewStoreWithClient creates a store over an existing client.
func NewStoreWithClient(client *redis.Client, opts Options) *Store {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "spice:"
	}
	return &Store{client: client, prefix: prefix, ttl: opts.TTL}
}

func (s *Store) checkpointKey(id string) string {
	return fmt.Sprintf("%scheckpoint:%s", s.prefix, id)
}

func (s *Store) runKey(runID string) string {
	return fmt.Sprintf("%srun:%s:checkpoints", s.prefix, runID)
}

// Save implements checkpoint.Store.
func (s *Store) Save(ctx context.Context, c *checkpoint.Checkpoint) error {
	data, err := c.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.checkpointKey(c.ID), data, s.ttl)
	if c.RunID != "" {
		runKey := s.runKey(c.RunID)
		pipe.SAdd(ctx, runKey, c.ID)
		if s.ttl > 0 {
			pipe.Expire(ctx, runKey, s.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save checkpoint to redis: %w", err)
	}
	return nil
}

// Get implements checkpoint.Store.
func (s *Store) Get(ctx context.Context, id string) (*checkpoint.Checkpoint, error) {
	data, err := s.client.Get(ctx, s.checkpointKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, checkpoint.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load checkpoint from redis: %w", err)
	}
	return checkpoint.Unmarshal(data)
}

// ListByRun implements checkpoint.Store. Ids whose keys have expired
// are skipped.
func (s *Store) ListByRun(ctx context.Context, runID string) ([]*checkpoint.Checkpoint, error) {
	ids, err := s.client.SMembers(ctx, s.runKey(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints for run %s: %w", runID, err)
	}
	if len(ids) == 0 {
		return []*checkpoint.Checkpoint{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.checkpointKey(id)
	}

	// MGet returns nil entries for missing keys.
	results, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch checkpoints: %w", err)
	}

	out := make([]*checkpoint.Checkpoint, 0, len(results))
	for _, result := range results {
		str, ok := result.(string)
		if !ok {
			continue
		}
		c, err := checkpoint.Unmarshal([]byte(str))
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// DeleteByRun implements checkpoint.Store.
func (s *Store) DeleteByRun(ctx context.Context, runID string) error {
	runKey := s.runKey(runID)
	ids, err := s.client.SMembers(ctx, runKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list checkpoints for deletion: %w", err)
	}

	pipe := s.client.Pipeline()
	for _, id := range ids {
		pipe.Del(ctx, s.checkpointKey(id))
	}
	pipe.Del(ctx, runKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
