package graph

import (
	"context"
	"time"

	"github.com/smallnest/spice/message"
)

// SelectionItem is one choice offered by a selection prompt.
type SelectionItem struct {
	ID          string         `json:"id"`
	Label       string         `json:"label"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// HumanNode suspends execution on human input. Configured with items
// it emits a request_user_selection tool call, otherwise a
// request_user_input one, and transitions the message to WAITING. It
// never produces a terminal state itself.
//
// On resume the node sees the merged user response on the message and
// passes through without pausing again.
type HumanNode struct {
	id string

	// Selection prompt configuration.
	prompt        string
	items         []SelectionItem
	allowFreeText bool
	expiresAfter  time.Duration

	// Free-form prompt configuration.
	question  string
	inputType string
	context   map[string]any
}

// NewSelectionNode creates a HITL node that asks the user to pick one
// of the given items.
func NewSelectionNode(id, prompt string, items []SelectionItem) *HumanNode {
	return &HumanNode{id: id, prompt: prompt, items: items}
}

// NewInputNode creates a HITL node that asks a free-form question.
// inputType describes the expected answer ("text", "number", ...).
func NewInputNode(id, question, inputType string) *HumanNode {
	return &HumanNode{id: id, question: question, inputType: inputType}
}

// WithAllowFreeText permits a free-text answer alongside the items.
func (n *HumanNode) WithAllowFreeText(allow bool) *HumanNode {
	n.allowFreeText = allow
	return n
}

// WithExpiry sets how long the prompt stays answerable.
func (n *HumanNode) WithExpiry(d time.Duration) *HumanNode {
	n.expiresAfter = d
	return n
}

// WithContext attaches extra context to a free-form prompt.
func (n *HumanNode) WithContext(ctx map[string]any) *HumanNode {
	n.context = ctx
	return n
}

// ID implements Node.
func (n *HumanNode) ID() string { return n.id }

// Run implements Node.
func (n *HumanNode) Run(_ context.Context, msg *message.Message) (*message.Message, error) {
	if n.satisfiedBy(msg) {
		// The merged user response satisfies this prompt; hand the
		// message onward without pausing again.
		if msg.State() == message.StateWaiting {
			return msg.WithState(message.StateRunning, "user response received")
		}
		return msg, nil
	}

	var call message.ToolCall
	if len(n.items) > 0 {
		call = n.selectionCall()
	} else {
		call = n.inputCall()
	}

	out := msg.WithToolCalls(call).WithMetadataMerged(map[string]any{
		message.KeyPausedNodeID: n.id,
		message.KeyPausedAt:     time.Now().Format(time.RFC3339Nano),
	})
	return out.WithState(message.StateWaiting, "awaiting user input at "+n.id)
}

func (n *HumanNode) selectionCall() message.ToolCall {
	items := make([]map[string]any, len(n.items))
	for i, item := range n.items {
		entry := map[string]any{
			"id":    item.ID,
			"label": item.Label,
		}
		if item.Description != "" {
			entry["description"] = item.Description
		}
		if len(item.Metadata) > 0 {
			entry["metadata"] = item.Metadata
		}
		items[i] = entry
	}

	md := map[string]any{
		"node_id":         n.id,
		"allow_free_text": n.allowFreeText,
	}
	if n.expiresAfter > 0 {
		md["expires_at"] = time.Now().Add(n.expiresAfter).Format(time.RFC3339)
	}

	// Every invocation gets a fresh tool-call id.
	return message.NewToolCall(message.ToolCallUserSelection, map[string]any{
		"prompt_message": n.prompt,
		"items":          items,
		"metadata":       md,
	})
}

func (n *HumanNode) inputCall() message.ToolCall {
	callCtx := map[string]any{"node_id": n.id}
	for k, v := range n.context {
		callCtx[k] = v
	}
	return message.NewToolCall(message.ToolCallUserInput, map[string]any{
		"question": n.question,
		"type":     n.inputType,
		"context":  callCtx,
	})
}

// satisfiedBy reports whether the message carries a user response for
// this node's prompt. A response aimed at an earlier prompt does not
// satisfy a later HITL node on the same path.
func (n *HumanNode) satisfiedBy(msg *message.Message) bool {
	if !answered(msg) {
		return false
	}
	if paused := msg.MetadataString(message.KeyPausedNodeID); paused != "" && paused != n.id {
		return false
	}
	return true
}

// answered reports whether the message carries a merged user response.
func answered(msg *message.Message) bool {
	if _, ok := msg.Data(message.KeyUserResponseToolCall); ok {
		return true
	}
	if _, ok := msg.Data(message.KeyResponseText); ok {
		return true
	}
	if _, ok := msg.Data(message.KeyStructuredResponse); ok {
		return true
	}
	for _, call := range msg.ToolCalls() {
		if call.Name == message.ToolCallUserResponse {
			return true
		}
	}
	return false
}
