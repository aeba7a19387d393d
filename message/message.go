// Package message defines the immutable unit of in-flight state moved
// along a graph by the runner.
//
// A Message is never modified in place: every With* method returns a
// fresh value and leaves the receiver untouched, so concurrent branches
// and middleware transformations cannot corrupt each other. Data and
// metadata maps are copied on write; readers see stable snapshots.
package message

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Message is the immutable in-flight payload and execution state.
type Message struct {
	id           string
	content      string
	from         string
	to           string
	state        State
	stateHistory []Transition
	data         map[string]any
	metadata     map[string]any
	toolCalls    []ToolCall
	graphID      string
	nodeID       string
	runID        string
}

// New creates a READY message with a fresh id and the given content.
func New(content string) *Message {
	return &Message{
		id:      uuid.New().String(),
		content: content,
		state:   StateReady,
		stateHistory: []Transition{
			{State: StateReady, Reason: "created", Timestamp: time.Now()},
		},
	}
}

// ID returns the unique message id. It is stable across mutations.
func (m *Message) ID() string { return m.id }

// Content returns the primary payload.
func (m *Message) Content() string { return m.content }

// From returns the sending actor id.
func (m *Message) From() string { return m.from }

// To returns the receiving actor id.
func (m *Message) To() string { return m.to }

// State returns the current lifecycle state.
func (m *Message) State() State { return m.state }

// GraphID returns the current graph coordinate.
func (m *Message) GraphID() string { return m.graphID }

// NodeID returns the current node coordinate.
func (m *Message) NodeID() string { return m.nodeID }

// RunID returns the current run coordinate.
func (m *Message) RunID() string { return m.runID }

// StateHistory returns a copy of the append-only transition log.
func (m *Message) StateHistory() []Transition {
	return slices.Clone(m.stateHistory)
}

// ToolCalls returns a copy of the pending tool calls.
func (m *Message) ToolCalls() []ToolCall {
	return slices.Clone(m.toolCalls)
}

// Data reads an application payload entry; ok is false when absent.
func (m *Message) Data(key string) (any, bool) {
	v, ok := m.data[key]
	return v, ok
}

// DataMap returns a copy of the application payload.
func (m *Message) DataMap() map[string]any {
	return maps.Clone(m.data)
}

// Metadata reads a framework/context entry; ok is false when absent.
func (m *Message) Metadata(key string) (any, bool) {
	v, ok := m.metadata[key]
	return v, ok
}

// MetadataMap returns a copy of the metadata.
func (m *Message) MetadataMap() map[string]any {
	return maps.Clone(m.metadata)
}

// DataString reads a string data entry, empty when absent or mistyped.
func (m *Message) DataString(key string) string {
	return asString(m.data[key])
}

// MetadataString reads a string metadata entry, empty when absent or mistyped.
func (m *Message) MetadataString(key string) string {
	return asString(m.metadata[key])
}

// MetadataInt reads an integer metadata entry, 0 when absent or mistyped.
// JSON round-trips turn ints into float64; both representations are accepted.
func (m *Message) MetadataInt(key string) int {
	return asInt(m.metadata[key])
}

// DataInt reads an integer data entry, 0 when absent or mistyped.
func (m *Message) DataInt(key string) int {
	return asInt(m.data[key])
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// clone makes a shallow struct copy. Callers replace the maps or
// slices they are about to change.
func (m *Message) clone() *Message {
	c := *m
	return &c
}

// WithContent returns a copy with the content replaced.
func (m *Message) WithContent(content string) *Message {
	c := m.clone()
	c.content = content
	return c
}

// WithActors returns a copy with from/to replaced.
func (m *Message) WithActors(from, to string) *Message {
	c := m.clone()
	c.from = from
	c.to = to
	return c
}

// WithState returns a copy transitioned to next with a history entry
// appended. The READY → RUNNING → {WAITING → RUNNING}* → terminal
// machine is enforced; illegal transitions return an error.
func (m *Message) WithState(next State, reason string) (*Message, error) {
	if m.state == next {
		return m, nil
	}
	if !m.state.CanTransitionTo(next) {
		return nil, fmt.Errorf("illegal state transition %s -> %s", m.state, next)
	}
	c := m.clone()
	c.state = next
	c.stateHistory = append(slices.Clip(slices.Clone(m.stateHistory)), Transition{
		State:     next,
		Reason:    reason,
		Timestamp: time.Now(),
	})
	return c, nil
}

// WithData returns a copy with one data entry set.
func (m *Message) WithData(key string, value any) *Message {
	c := m.clone()
	c.data = maps.Clone(m.data)
	if c.data == nil {
		c.data = make(map[string]any, 1)
	}
	c.data[key] = value
	return c
}

// WithDataMerged returns a copy with entries merged into data;
// entries win over existing keys.
func (m *Message) WithDataMerged(entries map[string]any) *Message {
	if len(entries) == 0 {
		return m
	}
	c := m.clone()
	c.data = make(map[string]any, len(m.data)+len(entries))
	maps.Copy(c.data, m.data)
	maps.Copy(c.data, entries)
	return c
}

// WithDataReplaced returns a copy whose data is exactly the given map.
func (m *Message) WithDataReplaced(data map[string]any) *Message {
	c := m.clone()
	c.data = maps.Clone(data)
	return c
}

// WithoutData returns a copy with one data entry removed.
func (m *Message) WithoutData(key string) *Message {
	if _, ok := m.data[key]; !ok {
		return m
	}
	c := m.clone()
	c.data = maps.Clone(m.data)
	delete(c.data, key)
	return c
}

// WithMetadata returns a copy with one metadata entry set.
func (m *Message) WithMetadata(key string, value any) *Message {
	c := m.clone()
	c.metadata = maps.Clone(m.metadata)
	if c.metadata == nil {
		c.metadata = make(map[string]any, 1)
	}
	c.metadata[key] = value
	return c
}

// WithMetadataMerged returns a copy with entries merged into metadata.
func (m *Message) WithMetadataMerged(entries map[string]any) *Message {
	if len(entries) == 0 {
		return m
	}
	c := m.clone()
	c.metadata = make(map[string]any, len(m.metadata)+len(entries))
	maps.Copy(c.metadata, m.metadata)
	maps.Copy(c.metadata, entries)
	return c
}

// WithMetadataReplaced returns a copy whose metadata is exactly the
// given map.
func (m *Message) WithMetadataReplaced(md map[string]any) *Message {
	c := m.clone()
	c.metadata = maps.Clone(md)
	return c
}

// WithoutMetadata returns a copy with one metadata entry removed.
func (m *Message) WithoutMetadata(key string) *Message {
	if _, ok := m.metadata[key]; !ok {
		return m
	}
	c := m.clone()
	c.metadata = maps.Clone(m.metadata)
	delete(c.metadata, key)
	return c
}

// WithToolCalls returns a copy with the pending tool calls replaced.
func (m *Message) WithToolCalls(calls ...ToolCall) *Message {
	c := m.clone()
	c.toolCalls = slices.Clone(calls)
	return c
}

// WithAppendedToolCall returns a copy with one tool call appended.
func (m *Message) WithAppendedToolCall(call ToolCall) *Message {
	c := m.clone()
	c.toolCalls = append(slices.Clip(slices.Clone(m.toolCalls)), call)
	return c
}

// WithoutToolCalls returns a copy with no pending tool calls.
func (m *Message) WithoutToolCalls() *Message {
	if len(m.toolCalls) == 0 {
		return m
	}
	c := m.clone()
	c.toolCalls = nil
	return c
}

// WithGraphContext returns a copy with the execution coordinates replaced.
func (m *Message) WithGraphContext(graphID, nodeID, runID string) *Message {
	c := m.clone()
	c.graphID = graphID
	c.nodeID = nodeID
	c.runID = runID
	return c
}

// WithNodeID returns a copy positioned at the given node.
func (m *Message) WithNodeID(nodeID string) *Message {
	c := m.clone()
	c.nodeID = nodeID
	return c
}

// ForChildRun returns a READY copy re-rooted for a subgraph run: fresh
// coordinates, empty history, same id, content, data and metadata.
func (m *Message) ForChildRun(graphID, runID string) *Message {
	c := m.clone()
	c.graphID = graphID
	c.nodeID = ""
	c.runID = runID
	c.state = StateReady
	c.stateHistory = []Transition{
		{State: StateReady, Reason: "subgraph entry", Timestamp: time.Now()},
	}
	return c
}

// messageJSON is the wire form of a Message.
type messageJSON struct {
	ID           string         `json:"id"`
	Content      string         `json:"content,omitempty"`
	From         string         `json:"from,omitempty"`
	To           string         `json:"to,omitempty"`
	State        State          `json:"state"`
	StateHistory []Transition   `json:"stateHistory,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	ToolCalls    []ToolCall     `json:"toolCalls,omitempty"`
	GraphID      string         `json:"graphId,omitempty"`
	NodeID       string         `json:"nodeId,omitempty"`
	RunID        string         `json:"runId,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (m *Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(messageJSON{
		ID:           m.id,
		Content:      m.content,
		From:         m.from,
		To:           m.to,
		State:        m.state,
		StateHistory: m.stateHistory,
		Data:         m.data,
		Metadata:     m.metadata,
		ToolCalls:    m.toolCalls,
		GraphID:      m.graphID,
		NodeID:       m.nodeID,
		RunID:        m.runID,
	})
}

// UnmarshalJSON implements json.Unmarshaler. Unknown fields are
// tolerated; a missing state defaults to READY.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire messageJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.State == "" {
		wire.State = StateReady
	}
	m.id = wire.ID
	m.content = wire.Content
	m.from = wire.From
	m.to = wire.To
	m.state = wire.State
	m.stateHistory = wire.StateHistory
	m.data = wire.Data
	m.metadata = wire.Metadata
	m.toolCalls = wire.ToolCalls
	m.graphID = wire.GraphID
	m.nodeID = wire.NodeID
	m.runID = wire.RunID
	return nil
}

func (m *Message) String() string {
	return fmt.Sprintf("Message(id=%s state=%s graph=%s node=%s run=%s)",
		m.id, m.state, m.graphID, m.nodeID, m.runID)
}
