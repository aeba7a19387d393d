package graph

import (
	"sync"

	"github.com/smallnest/spice/errs"
)

// Registry maps graph ids to graphs so the resume path can rebuild a
// run from a checkpoint alone. There is no package-level instance;
// construct one and hand it to whatever needs lookups.
type Registry struct {
	mu     sync.RWMutex
	graphs map[string]*Graph
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{graphs: make(map[string]*Graph)}
}

// Register adds or replaces a graph under its own id.
func (r *Registry) Register(g *Graph) error {
	if g == nil {
		return errs.Validation("cannot register a nil graph")
	}
	if g.ID() == "" {
		return errs.Validation("cannot register a graph without an id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.graphs[g.ID()] = g
	return nil
}

// Lookup returns the graph registered under id.
func (r *Registry) Lookup(id string) (*Graph, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.graphs[id]
	return g, ok
}

// IDs returns the registered graph ids in unspecified order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.graphs))
	for id := range r.graphs {
		ids = append(ids, id)
	}
	return ids
}
