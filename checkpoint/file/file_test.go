package file

import (
	"context"
	"os"
	"path/filepath"
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

func TestSaveGetRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	c := newCheckpoint(t, "run-1")
	require.NoError(t, store.Save(ctx, c))

	loaded, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, loaded.ID)
	assert.Equal(t, message.StateWaiting, loaded.Message.State())

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestListAndDeleteByRun(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
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

func TestRunIDSanitization(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	// Subgraph run ids contain colons; they must not escape the dir.
	c := newCheckpoint(t, "run-1:subgraph:child")
	require.NoError(t, store.Save(ctx, c))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].Name(), ":")
	assert.NotContains(t, entries[0].Name(), string(filepath.Separator))

	listed, err := store.ListByRun(ctx, "run-1:subgraph:child")
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "checkpoints")
	_, err := NewStore(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
