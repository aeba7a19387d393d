// Package checkpoint defines the durable snapshot of a paused graph
// run and the store contract its persistence backends implement.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/smallnest/spice/message"
)

// ErrNotFound is returned when no checkpoint matches the lookup.
var ErrNotFound = errors.New("checkpoint not found")

// SubgraphContext is one pending parent resume frame of a pause that
// happened inside nested subgraphs. The outermost frame comes first in
// a checkpoint's stack.
type SubgraphContext struct {
	ParentNodeID  string            `json:"parentNodeId"`
	ParentGraphID string            `json:"parentGraphId"`
	ParentRunID   string            `json:"parentRunId"`
	ChildGraphID  string            `json:"childGraphId"`
	ChildNodeID   string            `json:"childNodeId"`
	ChildRunID    string            `json:"childRunId"`
	OutputMapping map[string]string `json:"outputMapping,omitempty"`
	Depth         int               `json:"depth"`
}

// Checkpoint is a serializable snapshot of a paused run, sufficient to
// resume it later, potentially in another process.
type Checkpoint struct {
	ID            string `json:"id"`
	RunID         string `json:"runId"`
	GraphID       string `json:"graphId"`
	CurrentNodeID string `json:"currentNodeId"`

	Message *message.Message `json:"message"`

	// PendingToolCall is the HITL request awaiting a user response.
	PendingToolCall *message.ToolCall `json:"pendingToolCall,omitempty"`

	// ResponseToolCall is written back on resume for audit.
	ResponseToolCall *message.ToolCall `json:"responseToolCall,omitempty"`

	// SubgraphStack is authoritative over any copy carried in message
	// metadata, since JSON round-trips lose type tags there. Always
	// serialized, even when empty.
	SubgraphStack []SubgraphContext `json:"subgraphStack"`

	Timestamp time.Time `json:"timestamp"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// New creates a checkpoint for a paused message with a fresh id.
func New(runID, graphID, nodeID string, msg *message.Message) *Checkpoint {
	return &Checkpoint{
		ID:            "checkpoint_" + uuid.New().String(),
		RunID:         runID,
		GraphID:       graphID,
		CurrentNodeID: nodeID,
		Message:       msg,
		SubgraphStack: []SubgraphContext{},
		Timestamp:     time.Now(),
	}
}

// WithTTL sets the expiry to now+ttl and returns the checkpoint.
func (c *Checkpoint) WithTTL(ttl time.Duration) *Checkpoint {
	if ttl > 0 {
		c.ExpiresAt = c.Timestamp.Add(ttl)
	}
	return c
}

// IsExpired reports whether the checkpoint's expiry has passed. A zero
// ExpiresAt never expires.
func (c *Checkpoint) IsExpired() bool {
	return !c.ExpiresAt.IsZero() && time.Now().After(c.ExpiresAt)
}

// Age returns how long ago the checkpoint was taken.
func (c *Checkpoint) Age() time.Duration {
	return time.Since(c.Timestamp)
}

// Marshal serializes the checkpoint. SubgraphStack is normalized to an
// empty slice so readers always see the field.
func (c *Checkpoint) Marshal() ([]byte, error) {
	if c.SubgraphStack == nil {
		c.SubgraphStack = []SubgraphContext{}
	}
	return json.Marshal(c)
}

// Unmarshal deserializes a checkpoint. Unknown fields are tolerated.
func Unmarshal(data []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if c.SubgraphStack == nil {
		c.SubgraphStack = []SubgraphContext{}
	}
	return &c, nil
}

// Store is the persistence contract for checkpoints. Implementations
// must be safe for concurrent use.
type Store interface {
	// Save stores a checkpoint, replacing any checkpoint with the same id.
	Save(ctx context.Context, c *Checkpoint) error

	// Get retrieves a checkpoint by id; ErrNotFound when absent.
	Get(ctx context.Context, id string) (*Checkpoint, error)

	// ListByRun returns all checkpoints of a run, in no particular order.
	ListByRun(ctx context.Context, runID string) ([]*Checkpoint, error)

	// DeleteByRun removes all checkpoints of a run.
	DeleteByRun(ctx context.Context, runID string) error
}

// LatestByRun returns the run's checkpoint with the newest timestamp;
// ErrNotFound when the run has none.
func LatestByRun(ctx context.Context, store Store, runID string) (*Checkpoint, error) {
	all, err := store.ListByRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, ErrNotFound
	}
	latest := all[0]
	for _, c := range all[1:] {
		if c.Timestamp.After(latest.Timestamp) {
			latest = c
		}
	}
	return latest, nil
}
