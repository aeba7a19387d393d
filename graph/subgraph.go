package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/smallnest/spice/checkpoint"
	"github.com/smallnest/spice/errs"
	"github.com/smallnest/spice/message"
)

// DefaultMaxSubgraphDepth bounds nesting when a SubgraphNode does not
// configure its own limit.
const DefaultMaxSubgraphDepth = 10

// SubgraphNode runs a child graph as a single node of its parent.
//
// Input mapping templates are resolved against the parent message and
// override inherited parent data; on completion the output mapping
// renames child data keys back into the parent, unmapped child keys
// propagate as-is. A pause inside the child surfaces as a parent-level
// WAITING message carrying the subgraph stack so the run can resume
// arbitrarily deep later.
type SubgraphNode struct {
	id            string
	child         *Graph
	inputMapping  map[string]string
	outputMapping map[string]string
	maxDepth      int
	preserveKeys  []string
	resolver      *TemplateResolver
}

// NewSubgraphNode creates a subgraph node over a fully-constructed
// child graph.
func NewSubgraphNode(id string, child *Graph) *SubgraphNode {
	return &SubgraphNode{
		id:           id,
		child:        child,
		maxDepth:     DefaultMaxSubgraphDepth,
		preserveKeys: message.PreservedMetadataKeys(),
		resolver:     NewTemplateResolver(),
	}
}

// WithInputMapping sets child-key → template mappings resolved against
// the parent message on entry.
func (n *SubgraphNode) WithInputMapping(mapping map[string]string) *SubgraphNode {
	n.inputMapping = mapping
	return n
}

// WithOutputMapping sets child-key → parent-key renames applied when
// the child completes.
func (n *SubgraphNode) WithOutputMapping(mapping map[string]string) *SubgraphNode {
	n.outputMapping = mapping
	return n
}

// WithMaxDepth overrides the nesting limit.
func (n *SubgraphNode) WithMaxDepth(depth int) *SubgraphNode {
	n.maxDepth = depth
	return n
}

// WithPreserveKeys overrides the metadata keys copied into the child.
func (n *SubgraphNode) WithPreserveKeys(keys []string) *SubgraphNode {
	n.preserveKeys = keys
	return n
}

// ID implements Node.
func (n *SubgraphNode) ID() string { return n.id }

// Child returns the nested graph.
func (n *SubgraphNode) Child() *Graph { return n.child }

// Run implements Node but always fails: subgraphs need a runner, and
// runners are passed per call, never shared.
func (n *SubgraphNode) Run(context.Context, *message.Message) (*message.Message, error) {
	return nil, errs.Execution("subgraph node requires a runner; use RunWithRunner", "", n.id, nil)
}

// RunWithRunner implements RunnerAwareNode.
func (n *SubgraphNode) RunWithRunner(ctx context.Context, msg *message.Message, runner *Runner) (*message.Message, error) {
	depth := msg.MetadataInt(message.KeySubgraphDepth)
	if depth >= n.maxDepth {
		return nil, errs.Execution("subgraph depth limit reached", msg.GraphID(), n.id, nil).
			WithContextValue("depth", depth).
			WithContextValue("maxDepth", n.maxDepth)
	}

	childMsg := n.buildChildMessage(msg, depth)
	startedAt := time.Now()

	childResult, err := runner.Execute(ctx, n.child, childMsg)
	if err != nil {
		se := errs.As(err)
		return nil, se.WithContext(map[string]any{
			"subgraphId":    n.child.ID(),
			"subgraphDepth": depth + 1,
			"parentGraphId": msg.GraphID(),
		})
	}

	if childResult.State() == message.StateWaiting {
		return n.wrapChildWaiting(msg, childResult)
	}

	return n.applyOutput(msg, childResult, startedAt)
}

// buildChildMessage re-roots the parent message for the child run:
// fresh coordinates and history, input mapping over inherited data,
// preserved plus tracking metadata.
func (n *SubgraphNode) buildChildMessage(parent *message.Message, depth int) *message.Message {
	childRunID := fmt.Sprintf("%s:subgraph:%s", parent.RunID(), n.child.ID())
	child := parent.ForChildRun(n.child.ID(), childRunID)

	// Input mapping values win over inherited parent data.
	if len(n.inputMapping) > 0 {
		resolved := make(map[string]any, len(n.inputMapping))
		for childKey, template := range n.inputMapping {
			resolved[childKey] = n.resolver.Resolve(template, parent)
		}
		child = child.WithDataMerged(resolved)
	}

	md := make(map[string]any, len(n.preserveKeys)+6)
	for _, key := range n.preserveKeys {
		if v, ok := parent.Metadata(key); ok {
			md[key] = v
		}
	}
	// The pause marker rides into the child so a response aimed at an
	// earlier prompt cannot satisfy a different prompt in here.
	if v, ok := parent.Metadata(message.KeyPausedNodeID); ok {
		md[message.KeyPausedNodeID] = v
	}
	md[message.KeySubgraphDepth] = depth + 1
	md[message.KeyParentGraphID] = parent.GraphID()
	md[message.KeyParentRunID] = parent.RunID()
	md[message.KeySubgraphPath] = joinPath(parent.MetadataString(message.KeySubgraphPath), n.id)
	md[message.KeySubgraphEnteredAt] = time.Now().Format(time.RFC3339Nano)

	// Start the child from preserved metadata only; internal parent
	// metadata must not leak down.
	return child.WithMetadataReplaced(md)
}

func joinPath(base, id string) string {
	if base == "" {
		return id
	}
	return base + "/" + id
}

// wrapChildWaiting lifts a child pause to the parent level: the frame
// for this node is prepended to whatever stack the child already
// carries, so the outermost context comes first.
func (n *SubgraphNode) wrapChildWaiting(parent, child *message.Message) (*message.Message, error) {
	frame := checkpoint.SubgraphContext{
		ParentNodeID:  n.id,
		ParentGraphID: parent.GraphID(),
		ParentRunID:   parent.RunID(),
		ChildGraphID:  child.GraphID(),
		ChildNodeID:   child.NodeID(),
		ChildRunID:    child.RunID(),
		OutputMapping: n.outputMapping,
		Depth:         parent.MetadataInt(message.KeySubgraphDepth) + 1,
	}
	stack := append([]checkpoint.SubgraphContext{frame}, SubgraphStackFromMessage(child)...)

	// The WAITING message is stored at parent level: parent
	// coordinates, merged data, child tool calls preserved.
	out := child.
		WithGraphContext(parent.GraphID(), n.id, parent.RunID()).
		WithDataReplaced(mergeData(parent.DataMap(), child.DataMap())).
		WithMetadata(message.KeySubgraphStack, stack)

	// Restore the parent's depth bookkeeping.
	if depth, ok := parent.Metadata(message.KeySubgraphDepth); ok {
		out = out.WithMetadata(message.KeySubgraphDepth, depth)
	} else {
		out = out.WithoutMetadata(message.KeySubgraphDepth)
	}
	return out, nil
}

// applyOutput folds a completed child back into the parent: output
// mapping renames win over parent data, unmapped child keys fill in,
// parent graph context and metadata are restored.
func (n *SubgraphNode) applyOutput(parent, child *message.Message, startedAt time.Time) (*message.Message, error) {
	merged := ApplyOutputMapping(parent.DataMap(), child.DataMap(), n.outputMapping)

	// Continue the parent run with the parent's own state and history;
	// only data and bookkeeping metadata come back from the child.
	out := parent.
		WithNodeID(n.id).
		WithDataReplaced(merged)

	out = out.WithMetadataMerged(map[string]any{
		message.KeyLastSubgraphID:       n.child.ID(),
		message.KeyLastSubgraphState:    string(child.State()),
		message.KeyLastSubgraphDuration: time.Since(startedAt).String(),
	})
	return out, nil
}

// ApplyOutputMapping merges child data into parent data: mapped keys
// are renamed and win over parent values, unmapped child keys
// propagate as-is, untouched parent keys survive. Applying the same
// mapping twice yields the same result as once.
func ApplyOutputMapping(parentData, childData map[string]any, mapping map[string]string) map[string]any {
	out := make(map[string]any, len(parentData)+len(childData))
	for k, v := range parentData {
		out[k] = v
	}
	for k, v := range childData {
		if target, ok := mapping[k]; ok {
			out[target] = v
		} else {
			out[k] = v
		}
	}
	return out
}

func mergeData(parent, child map[string]any) map[string]any {
	out := make(map[string]any, len(parent)+len(child))
	for k, v := range parent {
		out[k] = v
	}
	for k, v := range child {
		out[k] = v
	}
	return out
}

// SubgraphStackFromMessage reads the subgraph stack carried in message
// metadata. JSON round-trips may have turned it into generic maps;
// both representations are handled.
func SubgraphStackFromMessage(msg *message.Message) []checkpoint.SubgraphContext {
	v, ok := msg.Metadata(message.KeySubgraphStack)
	if !ok {
		return nil
	}
	switch stack := v.(type) {
	case []checkpoint.SubgraphContext:
		return stack
	case []any:
		out := make([]checkpoint.SubgraphContext, 0, len(stack))
		for _, entry := range stack {
			m, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			out = append(out, checkpoint.SubgraphContext{
				ParentNodeID:  stringAt(m, "parentNodeId"),
				ParentGraphID: stringAt(m, "parentGraphId"),
				ParentRunID:   stringAt(m, "parentRunId"),
				ChildGraphID:  stringAt(m, "childGraphId"),
				ChildNodeID:   stringAt(m, "childNodeId"),
				ChildRunID:    stringAt(m, "childRunId"),
				OutputMapping: stringMapAt(m, "outputMapping"),
				Depth:         intAt(m, "depth"),
			})
		}
		return out
	}
	return nil
}

func stringAt(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func intAt(m map[string]any, key string) int {
	switch n := m[key].(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

func stringMapAt(m map[string]any, key string) map[string]string {
	switch v := m[key].(type) {
	case map[string]string:
		return v
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, entry := range v {
			if s, ok := entry.(string); ok {
				out[k] = s
			}
		}
		return out
	}
	return nil
}
