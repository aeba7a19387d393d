// Package graph implements the directed-graph workflow engine: graphs
// and their node variants, the traversal runner, pause/resume, the
// transformer chain and the subgraph machinery.
package graph

import (
	"time"

	"github.com/smallnest/spice/checkpoint"
	"github.com/smallnest/spice/errs"
	"github.com/smallnest/spice/event"
	"github.com/smallnest/spice/message"
	"github.com/smallnest/spice/retry"
)

// END is the virtual sink an edge may point to in order to complete
// the run explicitly.
const END = "END"

// Condition gates an edge; nil means "always".
type Condition func(msg *message.Message) bool

// Edge is a directed connection between two nodes. Edges from the same
// node are evaluated in declared order; the first whose condition
// holds wins.
type Edge struct {
	From      string
	To        string
	Condition Condition
}

// Config carries the per-graph collaborators. All fields are optional.
type Config struct {
	// CheckpointStore persists pauses; without one, WAITING messages
	// are returned but not durably saved.
	CheckpointStore checkpoint.Store

	// CheckpointTTL bounds how long a saved pause stays resumable.
	CheckpointTTL time.Duration

	// EventBus receives lifecycle events; nil drops them.
	EventBus event.Bus

	// RetryPolicy overrides the runner's default policy for this graph.
	RetryPolicy *retry.Policy
}

// Graph is an immutable workflow definition: nodes, ordered edges, an
// entry point and configured collaborators. Construction happens
// through the setters; after Validate succeeds the graph is treated as
// read-only.
type Graph struct {
	id         string
	nodes      map[string]Node
	edges      []Edge
	entryPoint string
	config     Config
}

// New creates an empty graph.
func New(id string) *Graph {
	return &Graph{
		id:    id,
		nodes: make(map[string]Node),
	}
}

// ID returns the graph id.
func (g *Graph) ID() string { return g.id }

// AddNode registers a node; the last registration wins on id clashes.
func (g *Graph) AddNode(n Node) *Graph {
	g.nodes[n.ID()] = n
	return g
}

// AddEdge appends an unconditional edge.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.edges = append(g.edges, Edge{From: from, To: to})
	return g
}

// AddConditionalEdge appends an edge gated by a condition.
func (g *Graph) AddConditionalEdge(from, to string, cond Condition) *Graph {
	g.edges = append(g.edges, Edge{From: from, To: to, Condition: cond})
	return g
}

// SetEntryPoint sets the node execution starts from.
func (g *Graph) SetEntryPoint(nodeID string) *Graph {
	g.entryPoint = nodeID
	return g
}

// EntryPoint returns the configured entry node.
func (g *Graph) EntryPoint() string { return g.entryPoint }

// SetConfig replaces the graph's collaborators.
func (g *Graph) SetConfig(config Config) *Graph {
	g.config = config
	return g
}

// Configure edits the graph's collaborators in place.
func (g *Graph) Configure(fn func(*Config)) *Graph {
	fn(&g.config)
	return g
}

// Config returns the graph's collaborators.
func (g *Graph) Config() Config { return g.config }

// Node looks a node up by id.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns the node ids. Order is unspecified.
func (g *Graph) Nodes() []string {
	out := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		out = append(out, id)
	}
	return out
}

// EdgesFrom returns the edges leaving a node, in declared order.
func (g *Graph) EdgesFrom(nodeID string) []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.From == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// Validate checks the structural invariants: the entry point exists,
// edge endpoints reference known nodes or END, subgraph children are
// valid themselves, and decision nodes declare at most one Otherwise.
func (g *Graph) Validate() error {
	if g.entryPoint == "" {
		return errs.Configuration("graph " + g.id + ": entry point not set")
	}
	if _, ok := g.nodes[g.entryPoint]; !ok {
		return errs.Configuration("graph " + g.id + ": entry point node not found").
			WithContextValue("nodeId", g.entryPoint)
	}

	for _, e := range g.edges {
		if _, ok := g.nodes[e.From]; !ok {
			return errs.Configuration("graph "+g.id+": edge from unknown node").
				WithContextValue("nodeId", e.From)
		}
		if e.To == END {
			continue
		}
		if _, ok := g.nodes[e.To]; !ok {
			return errs.Configuration("graph "+g.id+": edge to unknown node").
				WithContextValue("nodeId", e.To)
		}
	}

	for id, n := range g.nodes {
		switch node := n.(type) {
		case *DecisionNode:
			if node.otherwiseCount() > 1 {
				return errs.Configuration("graph " + g.id + ": decision node " + id + " declares multiple Otherwise branches")
			}
		case *SubgraphNode:
			if err := node.child.Validate(); err != nil {
				return errs.Configuration("graph "+g.id+": invalid subgraph at node "+id).
					WithContextValue("cause", err.Error())
			}
		}
	}
	return nil
}
