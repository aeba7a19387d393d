package graph

import (
	"context"
	"errors"

	"github.com/smallnest/spice/errs"
	"github.com/smallnest/spice/message"
)

// Node is a polymorphic executable step of a graph. Nodes are
// stateless across invocations and must treat the input message as
// immutable.
type Node interface {
	// ID is the node's unique identifier within its graph.
	ID() string

	// Run executes the node, returning a new message.
	Run(ctx context.Context, msg *message.Message) (*message.Message, error)
}

// TerminalNode marks nodes that may legally have no outgoing edges;
// the runner completes the run when one is reached without a matching
// edge.
type TerminalNode interface {
	Node
	Terminal() bool
}

// RunnerAwareNode is implemented by nodes that need a runner to
// execute a nested graph. The runner is passed per call so runners are
// never shared through package state.
type RunnerAwareNode interface {
	Node
	RunWithRunner(ctx context.Context, msg *message.Message, runner *Runner) (*message.Message, error)
}

// NodeFunc adapts a bare function to the Node interface.
type NodeFunc struct {
	id string
	fn func(ctx context.Context, msg *message.Message) (*message.Message, error)
}

// NewNodeFunc creates a function-backed node.
func NewNodeFunc(id string, fn func(ctx context.Context, msg *message.Message) (*message.Message, error)) *NodeFunc {
	return &NodeFunc{id: id, fn: fn}
}

// ID implements Node.
func (n *NodeFunc) ID() string { return n.id }

// Run implements Node.
func (n *NodeFunc) Run(ctx context.Context, msg *message.Message) (*message.Message, error) {
	return n.fn(ctx, msg)
}

// AgentNode runs an Agent.
type AgentNode struct {
	id    string
	agent Agent
}

// NewAgentNode creates an agent node.
func NewAgentNode(id string, agent Agent) *AgentNode {
	return &AgentNode{id: id, agent: agent}
}

// ID implements Node.
func (n *AgentNode) ID() string { return n.id }

// Run implements Node. Agent failures that are not already engine
// errors are wrapped as AgentError.
func (n *AgentNode) Run(ctx context.Context, msg *message.Message) (*message.Message, error) {
	out, err := n.agent.ProcessMessage(ctx, msg)
	if err != nil {
		var se *errs.Error
		if errors.As(err, &se) {
			return nil, se.WithContextValue("nodeId", n.id)
		}
		return nil, errs.Agent("agent failed in node "+n.id, err).WithContextValue("nodeId", n.id)
	}
	if out == nil {
		return nil, errs.Agent("agent returned no message in node "+n.id, nil).WithContextValue("nodeId", n.id)
	}
	return out, nil
}

// ToolNode runs a Tool. Parameters come from the first pending tool
// call matching the tool's name, or from the message data otherwise.
// The result content replaces the message content when non-empty and
// result data is merged into the message data.
type ToolNode struct {
	id   string
	tool Tool
}

// NewToolNode creates a tool node.
func NewToolNode(id string, tool Tool) *ToolNode {
	return &ToolNode{id: id, tool: tool}
}

// ID implements Node.
func (n *ToolNode) ID() string { return n.id }

// Tool returns the wrapped tool.
func (n *ToolNode) Tool() Tool { return n.tool }

// Run implements Node.
func (n *ToolNode) Run(ctx context.Context, msg *message.Message) (*message.Message, error) {
	params, consumedCall := n.params(msg)

	result, err := n.tool.Execute(ctx, params)
	if err != nil {
		var se *errs.Error
		if errors.As(err, &se) {
			return nil, se.WithContextValue("nodeId", n.id)
		}
		return nil, errs.Tool("tool "+n.tool.Name()+" failed in node "+n.id, err).
			WithContextValue("nodeId", n.id).
			WithContextValue("toolName", n.tool.Name())
	}

	out := msg
	if consumedCall != nil {
		out = out.WithToolCalls(remainingCalls(out, consumedCall.ID)...)
	}
	if result.Content != "" {
		out = out.WithContent(result.Content)
	}
	if len(result.Data) > 0 {
		out = out.WithDataMerged(result.Data)
	}
	return out, nil
}

func (n *ToolNode) params(msg *message.Message) (map[string]any, *message.ToolCall) {
	for _, call := range msg.ToolCalls() {
		if call.Name == n.tool.Name() {
			return call.Arguments, &call
		}
	}
	return msg.DataMap(), nil
}

func remainingCalls(msg *message.Message, consumedID string) []message.ToolCall {
	var out []message.ToolCall
	for _, call := range msg.ToolCalls() {
		if call.ID != consumedID {
			out = append(out, call)
		}
	}
	return out
}

// OutputNode terminates a path. Its optional producer derives the
// final output value written under the "output" data key.
type OutputNode struct {
	id       string
	producer func(msg *message.Message) any
}

// NewOutputNode creates an output node; producer may be nil.
func NewOutputNode(id string, producer func(msg *message.Message) any) *OutputNode {
	return &OutputNode{id: id, producer: producer}
}

// ID implements Node.
func (n *OutputNode) ID() string { return n.id }

// Terminal implements TerminalNode.
func (n *OutputNode) Terminal() bool { return true }

// Run implements Node.
func (n *OutputNode) Run(_ context.Context, msg *message.Message) (*message.Message, error) {
	if n.producer == nil {
		return msg, nil
	}
	value := func() (v any) {
		defer func() {
			if r := recover(); r != nil {
				v = nil
			}
		}()
		return n.producer(msg)
	}()
	if value == nil {
		return msg, nil
	}
	return msg.WithData("output", value), nil
}
