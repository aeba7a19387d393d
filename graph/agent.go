package graph

import (
	"context"

	"github.com/smallnest/spice/message"
)

// Agent is anything that can process a message: an LLM adapter, a rule
// engine, a swarm aggregator. Implementations must not mutate the
// input and must preserve its graph coordinates on the output.
type Agent interface {
	ProcessMessage(ctx context.Context, msg *message.Message) (*message.Message, error)
}

// AgentFunc adapts a function to the Agent interface.
type AgentFunc func(ctx context.Context, msg *message.Message) (*message.Message, error)

// ProcessMessage implements Agent.
func (f AgentFunc) ProcessMessage(ctx context.Context, msg *message.Message) (*message.Message, error) {
	return f(ctx, msg)
}
