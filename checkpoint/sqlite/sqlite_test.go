package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/spice/checkpoint"
	"github.com/smallnest/spice/message"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(Options{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newCheckpoint(t *testing.T, runID string) *checkpoint.Checkpoint {
	t.Helper()
	msg := message.New("paused")
	running, err := msg.WithState(message.StateRunning, "started")
	require.NoError(t, err)
	waiting, err := running.WithState(message.StateWaiting, "user input")
	require.NoError(t, err)
	return checkpoint.New(runID, "g1", "approval", waiting.WithGraphContext("g1", "approval", runID))
}

func TestSaveGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c := newCheckpoint(t, "run-1")
	c.SubgraphStack = []checkpoint.SubgraphContext{{
		ParentNodeID: "sub", ParentGraphID: "g1", ChildGraphID: "g2", Depth: 1,
	}}
	require.NoError(t, store.Save(ctx, c))

	loaded, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, loaded.ID)
	assert.Equal(t, message.StateWaiting, loaded.Message.State())
	require.Len(t, loaded.SubgraphStack, 1)
	assert.Equal(t, "sub", loaded.SubgraphStack[0].ParentNodeID)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestSaveUpserts(t *testing.T) {
	store := newTestStore(t)
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

func TestListAndDeleteByRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, newCheckpoint(t, "run-1")))
	require.NoError(t, store.Save(ctx, newCheckpoint(t, "run-1")))
	require.NoError(t, store.Save(ctx, newCheckpoint(t, "run-2")))

	listed, err := store.ListByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	require.NoError(t, store.DeleteByRun(ctx, "run-1"))
	listed, err = store.ListByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, listed)

	listed, err = store.ListByRun(ctx, "run-2")
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestFileBackedDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	store, err := NewStore(Options{Path: path, TableName: "my_checkpoints"})
	require.NoError(t, err)
	ctx := context.Background()

	c := newCheckpoint(t, "run-1")
	require.NoError(t, store.Save(ctx, c))
	require.NoError(t, store.Close())

	// Reopen: data survives the process boundary.
	reopened, err := NewStore(Options{Path: path, TableName: "my_checkpoints"})
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, loaded.ID)
}
