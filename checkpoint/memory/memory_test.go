package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/spice/checkpoint"
	"github.com/smallnest/spice/message"
)

func newCheckpoint(t *testing.T, runID string) *checkpoint.Checkpoint {
	t.Helper()
	msg := message.New("paused")
	running, err := msg.WithState(message.StateRunning, "started")
	require.NoError(t, err)
	waiting, err := running.WithState(message.StateWaiting, "user input")
	require.NoError(t, err)
	return checkpoint.New(runID, "g1", "approval", waiting.WithGraphContext("g1", "approval", runID))
}

func TestSaveAndGet(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	c := newCheckpoint(t, "run-1")
	require.NoError(t, store.Save(ctx, c))

	loaded, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, loaded.ID)
	assert.Equal(t, "run-1", loaded.RunID)
	assert.Equal(t, message.StateWaiting, loaded.Message.State())
}

func TestGetMissing(t *testing.T) {
	_, err := NewStore().Get(context.Background(), "nope")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestSaveIsByValue(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	c := newCheckpoint(t, "run-1")
	require.NoError(t, store.Save(ctx, c))

	// Mutations after Save must not be visible in the store.
	c.CurrentNodeID = "mutated"

	loaded, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "approval", loaded.CurrentNodeID)
}

func TestListAndDeleteByRun(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	first := newCheckpoint(t, "run-1")
	second := newCheckpoint(t, "run-1")
	other := newCheckpoint(t, "run-2")
	require.NoError(t, store.Save(ctx, first))
	require.NoError(t, store.Save(ctx, second))
	require.NoError(t, store.Save(ctx, other))

	listed, err := store.ListByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	require.NoError(t, store.DeleteByRun(ctx, "run-1"))
	listed, err = store.ListByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, listed)

	// The other run is untouched.
	listed, err = store.ListByRun(ctx, "run-2")
	require.NoError(t, err)
	assert.Len(t, listed, 1)
	assert.Equal(t, 1, store.Len())
}

func TestSaveReplacesSameID(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	c := newCheckpoint(t, "run-1")
	require.NoError(t, store.Save(ctx, c))
	c.CurrentNodeID = "updated"
	require.NoError(t, store.Save(ctx, c))

	loaded, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated", loaded.CurrentNodeID)

	listed, err := store.ListByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}
