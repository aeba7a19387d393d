// Package file provides a checkpoint store that keeps one JSON file
// per checkpoint in a single directory.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/smallnest/spice/checkpoint"
)

// Store persists checkpoints as <runID>__<checkpointID>.json files.
// Run ids are sanitized for use in filenames.
type Store struct {
	dir string
	mu  sync.Mutex
}

var _ checkpoint.Store = (*Store)(nil)

// NewStore creates the directory if needed and returns a store over it.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func sanitize(s string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")
	return r.Replace(s)
}

func (s *Store) path(runID, id string) string {
	return filepath.Join(s.dir, sanitize(runID)+"__"+sanitize(id)+".json")
}

// Save implements checkpoint.Store.
func (s *Store) Save(_ context.Context, c *checkpoint.Checkpoint) error {
	data, err := c.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.WriteFile(s.path(c.RunID, c.ID), data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

// Get implements checkpoint.Store. The store scans the directory since
// the filename prefix is the run id, which Get does not know.
func (s *Store) Get(_ context.Context, id string) (*checkpoint.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	suffix := "__" + sanitize(id) + ".json"
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read checkpoint: %w", err)
		}
		return checkpoint.Unmarshal(data)
	}
	return nil, checkpoint.ErrNotFound
}

// ListByRun implements checkpoint.Store.
func (s *Store) ListByRun(_ context.Context, runID string) ([]*checkpoint.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := sanitize(runID) + "__"
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint dir: %w", err)
	}

	var out []*checkpoint.Checkpoint
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read checkpoint: %w", err)
		}
		c, err := checkpoint.Unmarshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse checkpoint %s: %w", entry.Name(), err)
		}
		out = append(out, c)
	}
	return out, nil
}

// DeleteByRun implements checkpoint.Store.
func (s *Store) DeleteByRun(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := sanitize(runID) + "__"
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read checkpoint dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			return fmt.Errorf("failed to delete checkpoint: %w", err)
		}
	}
	return nil
}
