package graph

import (
	"context"

	"github.com/smallnest/spice/checkpoint"
	"github.com/smallnest/spice/errs"
	"github.com/smallnest/spice/message"
)

// Resume continues a paused run. The message is expected to carry the
// user response merged into its data plus the pause bookkeeping
// metadata; the paused node recognizes the response and passes it
// through. When the pause happened inside nested subgraphs the carried
// stack is unwound frame by frame, outermost first.
func (r *Runner) Resume(ctx context.Context, g *Graph, msg *message.Message) (*message.Message, error) {
	if msg.State().IsTerminal() {
		return msg, nil
	}

	stack := SubgraphStackFromMessage(msg)
	if len(stack) > 0 {
		return r.resumeNested(ctx, g, msg, stack)
	}

	start := msg.NodeID()
	if start == "" {
		start = g.EntryPoint()
	}
	return r.run(ctx, g, msg, start, false)
}

// resumeNested re-enters the subgraph the outermost frame points at,
// recursing until the innermost paused graph is reached. A completed
// child folds its output back through the frame's mapping and the
// parent traversal continues from the subgraph node's outgoing edges;
// a still-waiting child is re-wrapped and re-persisted.
func (r *Runner) resumeNested(ctx context.Context, g *Graph, msg *message.Message, stack []checkpoint.SubgraphContext) (*message.Message, error) {
	frame := stack[0]
	rest := stack[1:]

	node, ok := g.Node(frame.ParentNodeID)
	if !ok {
		return r.fail(ctx, g, msg,
			errs.Checkpoint("resume stack references unknown node "+frame.ParentNodeID, nil).
				WithContextValue("graphId", g.ID()))
	}
	sub, ok := node.(*SubgraphNode)
	if !ok {
		return r.fail(ctx, g, msg,
			errs.Checkpoint("resume stack node "+frame.ParentNodeID+" is not a subgraph", nil).
				WithContextValue("graphId", g.ID()))
	}
	if sub.Child().ID() != frame.ChildGraphID {
		return r.fail(ctx, g, msg,
			errs.Checkpoint("resume stack child graph mismatch", nil).
				WithContextValue("expected", frame.ChildGraphID).
				WithContextValue("actual", sub.Child().ID()))
	}

	childMsg := msg.
		WithGraphContext(frame.ChildGraphID, frame.ChildNodeID, frame.ChildRunID).
		WithMetadata(message.KeySubgraphDepth, frame.Depth)
	if len(rest) > 0 {
		childMsg = childMsg.WithMetadata(message.KeySubgraphStack, rest)
	} else {
		childMsg = childMsg.WithoutMetadata(message.KeySubgraphStack)
	}

	childResult, err := r.Resume(ctx, sub.Child(), childMsg)
	if err != nil {
		se := errs.As(err).WithContext(map[string]any{
			"subgraphId":    frame.ChildGraphID,
			"subgraphDepth": frame.Depth,
			"parentGraphId": frame.ParentGraphID,
		})
		return r.fail(ctx, g, msg, se)
	}

	parent := msg.
		WithGraphContext(frame.ParentGraphID, frame.ParentNodeID, frame.ParentRunID).
		WithoutMetadata(message.KeySubgraphStack)
	if frame.Depth > 1 {
		parent = parent.WithMetadata(message.KeySubgraphDepth, frame.Depth-1)
	} else {
		parent = parent.WithoutMetadata(message.KeySubgraphDepth)
	}

	if childResult.State() == message.StateWaiting {
		wrapped, werr := sub.wrapChildWaiting(parent, childResult)
		if werr != nil {
			return r.fail(ctx, g, msg, errs.As(werr))
		}
		return r.pause(ctx, g, wrapped)
	}

	merged := ApplyOutputMapping(parent.DataMap(), childResult.DataMap(), frame.OutputMapping)
	resumed, terr := parent.WithState(message.StateRunning, "subgraph completed")
	if terr != nil {
		return r.fail(ctx, g, msg, errs.As(terr))
	}
	out := resumed.
		WithDataReplaced(merged).
		WithMetadataMerged(map[string]any{
			message.KeyLastSubgraphID:    frame.ChildGraphID,
			message.KeyLastSubgraphState: string(childResult.State()),
		})

	return r.run(ctx, g, out, frame.ParentNodeID, true)
}
