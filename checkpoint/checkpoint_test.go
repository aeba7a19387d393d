package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/spice/message"
)

func pausedMessage(t *testing.T) *message.Message {
	t.Helper()
	msg := message.New("awaiting approval")
	running, err := msg.WithState(message.StateRunning, "started")
	require.NoError(t, err)
	waiting, err := running.WithState(message.StateWaiting, "user input")
	require.NoError(t, err)
	return waiting.WithGraphContext("g1", "approval", "run-1")
}

func TestNewCheckpoint(t *testing.T) {
	c := New("run-1", "g1", "approval", pausedMessage(t))

	assert.NotEmpty(t, c.ID)
	assert.Contains(t, c.ID, "checkpoint_")
	assert.Equal(t, "run-1", c.RunID)
	assert.Equal(t, "g1", c.GraphID)
	assert.Equal(t, "approval", c.CurrentNodeID)
	assert.NotNil(t, c.SubgraphStack)
	assert.False(t, c.Timestamp.IsZero())
	assert.True(t, c.ExpiresAt.IsZero())
}

func TestTTLAndExpiry(t *testing.T) {
	c := New("run-1", "g1", "n1", pausedMessage(t))
	assert.False(t, c.IsExpired())

	c.WithTTL(time.Hour)
	assert.False(t, c.IsExpired())
	assert.WithinDuration(t, c.Timestamp.Add(time.Hour), c.ExpiresAt, time.Second)

	expired := New("run-1", "g1", "n1", pausedMessage(t))
	expired.Timestamp = time.Now().Add(-2 * time.Hour)
	expired.WithTTL(time.Hour)
	assert.True(t, expired.IsExpired())
	assert.Greater(t, expired.Age(), time.Hour)
}

func TestMarshalRoundTrip(t *testing.T) {
	msg := pausedMessage(t)
	call := message.NewToolCall(message.ToolCallUserSelection, map[string]any{"prompt_message": "pick"})

	c := New("run-1", "g1", "approval", msg)
	c.PendingToolCall = &call
	c.SubgraphStack = []SubgraphContext{{
		ParentNodeID:  "sub",
		ParentGraphID: "g1",
		ParentRunID:   "run-1",
		ChildGraphID:  "g2",
		ChildNodeID:   "inner",
		ChildRunID:    "run-1:subgraph:g2",
		OutputMapping: map[string]string{"result": "subResult"},
		Depth:         1,
	}}

	data, err := c.Marshal()
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, c.ID, decoded.ID)
	assert.Equal(t, c.RunID, decoded.RunID)
	assert.Equal(t, "approval", decoded.CurrentNodeID)
	require.NotNil(t, decoded.PendingToolCall)
	assert.Equal(t, message.ToolCallUserSelection, decoded.PendingToolCall.Name)

	require.Len(t, decoded.SubgraphStack, 1)
	frame := decoded.SubgraphStack[0]
	assert.Equal(t, "sub", frame.ParentNodeID)
	assert.Equal(t, "g2", frame.ChildGraphID)
	assert.Equal(t, map[string]string{"result": "subResult"}, frame.OutputMapping)
	assert.Equal(t, 1, frame.Depth)

	require.NotNil(t, decoded.Message)
	assert.Equal(t, message.StateWaiting, decoded.Message.State())
	assert.Equal(t, "run-1", decoded.Message.RunID())
}

func TestMarshalNormalizesNilStack(t *testing.T) {
	c := New("run-1", "g1", "n1", pausedMessage(t))
	c.SubgraphStack = nil

	data, err := c.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"subgraphStack":[]`)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	assert.NotNil(t, decoded.SubgraphStack)
}

type stubStore struct {
	checkpoints []*Checkpoint
}

func (s *stubStore) Save(context.Context, *Checkpoint) error { return nil }
func (s *stubStore) Get(context.Context, string) (*Checkpoint, error) {
	return nil, ErrNotFound
}
func (s *stubStore) ListByRun(context.Context, string) ([]*Checkpoint, error) {
	return s.checkpoints, nil
}
func (s *stubStore) DeleteByRun(context.Context, string) error { return nil }

func TestLatestByRun(t *testing.T) {
	now := time.Now()
	older := &Checkpoint{ID: "a", RunID: "r", Timestamp: now.Add(-time.Minute)}
	newest := &Checkpoint{ID: "b", RunID: "r", Timestamp: now}
	middle := &Checkpoint{ID: "c", RunID: "r", Timestamp: now.Add(-30 * time.Second)}

	store := &stubStore{checkpoints: []*Checkpoint{older, newest, middle}}
	latest, err := LatestByRun(context.Background(), store, "r")
	require.NoError(t, err)
	assert.Equal(t, "b", latest.ID)

	_, err = LatestByRun(context.Background(), &stubStore{}, "r")
	assert.ErrorIs(t, err, ErrNotFound)
}
