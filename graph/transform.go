package graph

import (
	"context"

	"github.com/smallnest/spice/log"
	"github.com/smallnest/spice/message"
)

// Transformer hooks into graph and node execution. Each hook returns
// the (possibly replaced) message; returning an error aborts or
// continues depending on ContinueOnFailure.
type Transformer interface {
	// ContinueOnFailure decides what a hook failure does: false aborts
	// the chain and the step, true keeps the last successful message.
	ContinueOnFailure() bool

	BeforeExecution(ctx context.Context, g *Graph, msg *message.Message) (*message.Message, error)
	BeforeNode(ctx context.Context, g *Graph, nodeID string, msg *message.Message) (*message.Message, error)
	AfterNode(ctx context.Context, g *Graph, nodeID string, input, output *message.Message) (*message.Message, error)
	AfterExecution(ctx context.Context, g *Graph, input, output *message.Message) (*message.Message, error)
}

// BaseTransformer is a no-op Transformer for embedding; override the
// hooks you need.
type BaseTransformer struct {
	// Tolerant sets ContinueOnFailure.
	Tolerant bool
}

// ContinueOnFailure implements Transformer.
func (t BaseTransformer) ContinueOnFailure() bool { return t.Tolerant }

// BeforeExecution implements Transformer.
func (BaseTransformer) BeforeExecution(_ context.Context, _ *Graph, msg *message.Message) (*message.Message, error) {
	return msg, nil
}

// BeforeNode implements Transformer.
func (BaseTransformer) BeforeNode(_ context.Context, _ *Graph, _ string, msg *message.Message) (*message.Message, error) {
	return msg, nil
}

// AfterNode implements Transformer.
func (BaseTransformer) AfterNode(_ context.Context, _ *Graph, _ string, _, output *message.Message) (*message.Message, error) {
	return output, nil
}

// AfterExecution implements Transformer.
func (BaseTransformer) AfterExecution(_ context.Context, _ *Graph, _, output *message.Message) (*message.Message, error) {
	return output, nil
}

// Chain applies transformers left to right; the output of transformer
// i is the input of i+1.
type Chain struct {
	transformers []Transformer
	logger       log.Logger
}

// NewChain creates a chain over the given transformers.
func NewChain(transformers ...Transformer) *Chain {
	return &Chain{transformers: transformers, logger: log.Default()}
}

// Append adds a transformer at the end of the chain.
func (c *Chain) Append(t Transformer) *Chain {
	c.transformers = append(c.transformers, t)
	return c
}

// apply folds the chain, honoring each transformer's failure mode.
func (c *Chain) apply(msg *message.Message, hook string, run func(t Transformer, msg *message.Message) (*message.Message, error)) (*message.Message, error) {
	current := msg
	for _, t := range c.transformers {
		next, err := run(t, current)
		if err != nil {
			if !t.ContinueOnFailure() {
				return current, err
			}
			c.logger.Debug("transformer %T failed in %s, continuing: %v", t, hook, err)
			continue
		}
		if next != nil {
			current = next
		}
	}
	return current, nil
}

// BeforeExecution runs the hook across the chain.
func (c *Chain) BeforeExecution(ctx context.Context, g *Graph, msg *message.Message) (*message.Message, error) {
	return c.apply(msg, "beforeExecution", func(t Transformer, m *message.Message) (*message.Message, error) {
		return t.BeforeExecution(ctx, g, m)
	})
}

// BeforeNode runs the hook across the chain.
func (c *Chain) BeforeNode(ctx context.Context, g *Graph, nodeID string, msg *message.Message) (*message.Message, error) {
	return c.apply(msg, "beforeNode", func(t Transformer, m *message.Message) (*message.Message, error) {
		return t.BeforeNode(ctx, g, nodeID, m)
	})
}

// AfterNode runs the hook across the chain. input is the message the
// node saw; the folded value starts from the node's output.
func (c *Chain) AfterNode(ctx context.Context, g *Graph, nodeID string, input, output *message.Message) (*message.Message, error) {
	return c.apply(output, "afterNode", func(t Transformer, m *message.Message) (*message.Message, error) {
		return t.AfterNode(ctx, g, nodeID, input, m)
	})
}

// AfterExecution runs the hook across the chain.
func (c *Chain) AfterExecution(ctx context.Context, g *Graph, input, output *message.Message) (*message.Message, error) {
	return c.apply(output, "afterExecution", func(t Transformer, m *message.Message) (*message.Message, error) {
		return t.AfterExecution(ctx, g, input, m)
	})
}
