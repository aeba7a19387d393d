// Package event defines the lifecycle events published by the engine
// and the bus they are delivered through.
package event

import (
	"time"
)

// Type identifies a lifecycle event.
type Type string

const (
	// TypeWorkflowStarted is published when a graph run begins.
	TypeWorkflowStarted Type = "workflow_started"

	// TypeWorkflowCompleted is published when a run reaches a terminal state.
	TypeWorkflowCompleted Type = "workflow_completed"

	// TypeWorkflowPaused is published when a run suspends on WAITING.
	TypeWorkflowPaused Type = "workflow_paused"

	// TypeWorkflowResumed is published when a paused run continues.
	TypeWorkflowResumed Type = "workflow_resumed"

	// TypeNodeStarted is published before a node executes.
	TypeNodeStarted Type = "node_started"

	// TypeNodeCompleted is published after a node succeeds.
	TypeNodeCompleted Type = "node_completed"

	// TypeNodeFailed is published after a node fails.
	TypeNodeFailed Type = "node_failed"

	// TypeToolCallEmitted is published when a tool call is placed on a message.
	TypeToolCallEmitted Type = "tool_call_emitted"

	// TypeToolCallReceived is published when a tool call reaches its handler.
	TypeToolCallReceived Type = "tool_call_received"

	// TypeToolCallCompleted is published when a tool call has a response.
	TypeToolCallCompleted Type = "tool_call_completed"

	// TypeToolCallFailed is published when a tool call failed.
	TypeToolCallFailed Type = "tool_call_failed"

	// TypeToolCallRetrying is published before a retried attempt.
	TypeToolCallRetrying Type = "tool_call_retrying"

	// TypeToolCallCancelled is published when a pending tool call is abandoned.
	TypeToolCallCancelled Type = "tool_call_cancelled"
)

// Event is one lifecycle notification. Fields not applicable to the
// event type are left zero.
type Event struct {
	Type       Type           `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	GraphID    string         `json:"graphId,omitempty"`
	NodeID     string         `json:"nodeId,omitempty"`
	RunID      string         `json:"runId,omitempty"`
	ToolCallID string         `json:"toolCallId,omitempty"`
	ToolName   string         `json:"toolName,omitempty"`
	FinalState string         `json:"finalState,omitempty"`
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// New creates an event of the given type stamped with the current time.
func New(t Type) Event {
	return Event{Type: t, Timestamp: time.Now()}
}

// WithRun returns a copy carrying graph-run coordinates.
func (e Event) WithRun(graphID, nodeID, runID string) Event {
	e.GraphID = graphID
	e.NodeID = nodeID
	e.RunID = runID
	return e
}

// WithToolCall returns a copy carrying tool-call identifiers.
func (e Event) WithToolCall(id, name string) Event {
	e.ToolCallID = id
	e.ToolName = name
	return e
}

// WithError returns a copy carrying an error description.
func (e Event) WithError(err error) Event {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithMetadata returns a copy carrying the given metadata map.
// The map is not copied; publishers must not mutate it afterwards.
func (e Event) WithMetadata(md map[string]any) Event {
	e.Metadata = md
	return e
}

// WithPayload returns a copy carrying the given payload map.
func (e Event) WithPayload(p map[string]any) Event {
	e.Payload = p
	return e
}
