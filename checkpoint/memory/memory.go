// Package memory provides an in-process checkpoint store, mainly for
// tests and single-process deployments.
package memory

import (
	"context"
	"sync"

	"github.com/smallnest/spice/checkpoint"
)

// Store keeps checkpoints in a mutex-guarded map. Checkpoints are
// stored by serialized value so later mutations by the caller do not
// leak into the store.
type Store struct {
	mu    sync.RWMutex
	byID  map[string][]byte
	byRun map[string]map[string]struct{}
}

var _ checkpoint.Store = (*Store)(nil)

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		byID:  make(map[string][]byte),
		byRun: make(map[string]map[string]struct{}),
	}
}

// Save implements checkpoint.Store.
func (s *Store) Save(_ context.Context, c *checkpoint.Checkpoint) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[c.ID] = data
	ids, ok := s.byRun[c.RunID]
	if !ok {
		ids = make(map[string]struct{})
		s.byRun[c.RunID] = ids
	}
	ids[c.ID] = struct{}{}
	return nil
}

// Get implements checkpoint.Store.
func (s *Store) Get(_ context.Context, id string) (*checkpoint.Checkpoint, error) {
	s.mu.RLock()
	data, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, checkpoint.ErrNotFound
	}
	return checkpoint.Unmarshal(data)
}

// ListByRun implements checkpoint.Store.
func (s *Store) ListByRun(_ context.Context, runID string) ([]*checkpoint.Checkpoint, error) {
	s.mu.RLock()
	var blobs [][]byte
	for id := range s.byRun[runID] {
		if data, ok := s.byID[id]; ok {
			blobs = append(blobs, data)
		}
	}
	s.mu.RUnlock()

	out := make([]*checkpoint.Checkpoint, 0, len(blobs))
	for _, data := range blobs {
		c, err := checkpoint.Unmarshal(data)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// DeleteByRun implements checkpoint.Store.
func (s *Store) DeleteByRun(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.byRun[runID] {
		delete(s.byID, id)
	}
	delete(s.byRun, runID)
	return nil
}

// Len returns the number of stored checkpoints.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
