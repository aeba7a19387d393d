package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/spice/message"
)

func TestSelectionNodePauses(t *testing.T) {
	node := NewSelectionNode("approve", "Ship it?", []SelectionItem{
		{ID: "yes", Label: "Yes", Description: "Deploy now"},
		{ID: "no", Label: "No"},
	}).WithAllowFreeText(true).WithExpiry(time.Hour)

	msg := message.New("go")
	running, err := msg.WithState(message.StateRunning, "started")
	require.NoError(t, err)

	out, err := node.Run(context.Background(), running)
	require.NoError(t, err)

	assert.Equal(t, message.StateWaiting, out.State())
	assert.Equal(t, "approve", out.MetadataString(message.KeyPausedNodeID))
	assert.NotEmpty(t, out.MetadataString(message.KeyPausedAt))

	calls := out.ToolCalls()
	require.Len(t, calls, 1)
	call := calls[0]
	assert.Equal(t, message.ToolCallUserSelection, call.Name)
	assert.NotEmpty(t, call.ID)
	assert.Equal(t, "Ship it?", call.StringArgument("prompt_message"))

	items, ok := call.Arguments["items"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, items, 2)
	assert.Equal(t, "yes", items[0]["id"])
	assert.Equal(t, "Deploy now", items[0]["description"])
	_, hasDescription := items[1]["description"]
	assert.False(t, hasDescription)

	md, ok := call.Arguments["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "approve", md["node_id"])
	assert.Equal(t, true, md["allow_free_text"])
	assert.NotEmpty(t, md["expires_at"])
}

func TestInputNodePauses(t *testing.T) {
	node := NewInputNode("ask-age", "How old are you?", "number").
		WithContext(map[string]any{"unit": "years"})

	msg := message.New("go")
	running, err := msg.WithState(message.StateRunning, "started")
	require.NoError(t, err)

	out, err := node.Run(context.Background(), running)
	require.NoError(t, err)
	assert.Equal(t, message.StateWaiting, out.State())

	calls := out.ToolCalls()
	require.Len(t, calls, 1)
	call := calls[0]
	assert.Equal(t, message.ToolCallUserInput, call.Name)
	assert.Equal(t, "How old are you?", call.StringArgument("question"))
	assert.Equal(t, "number", call.StringArgument("type"))

	callCtx, ok := call.Arguments["context"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ask-age", callCtx["node_id"])
	assert.Equal(t, "years", callCtx["unit"])
}

func TestHumanNodeFreshToolCallIDPerPause(t *testing.T) {
	node := NewInputNode("ask", "Name?", "text")
	msg, err := message.New("go").WithState(message.StateRunning, "started")
	require.NoError(t, err)

	first, err := node.Run(context.Background(), msg)
	require.NoError(t, err)
	second, err := node.Run(context.Background(), msg)
	require.NoError(t, err)

	assert.NotEqual(t, first.ToolCalls()[0].ID, second.ToolCalls()[0].ID)
}

func TestHumanNodePassThroughWhenAnswered(t *testing.T) {
	node := NewSelectionNode("approve", "Ship it?", []SelectionItem{
		{ID: "yes", Label: "Yes"},
	})

	msg, err := message.New("go").WithState(message.StateRunning, "started")
	require.NoError(t, err)
	paused, err := node.Run(context.Background(), msg)
	require.NoError(t, err)
	require.Equal(t, message.StateWaiting, paused.State())

	answered := paused.WithDataMerged(map[string]any{
		message.KeyStructuredResponse: map[string]any{"selected_option": "yes"},
	})
	out, err := node.Run(context.Background(), answered)
	require.NoError(t, err)

	assert.Equal(t, message.StateRunning, out.State())
	// No second prompt is emitted.
	assert.Equal(t, paused.ToolCalls()[0].ID, out.ToolCalls()[0].ID)
}

func TestHumanNodePassThroughOnRunningMessage(t *testing.T) {
	node := NewInputNode("ask", "Name?", "text")

	msg, err := message.New("go").WithState(message.StateRunning, "started")
	require.NoError(t, err)
	answered := msg.WithData(message.KeyResponseText, "Ada").
		WithMetadata(message.KeyPausedNodeID, "ask")

	out, err := node.Run(context.Background(), answered)
	require.NoError(t, err)
	assert.Same(t, answered, out)
}

func TestHumanNodeIgnoresAnswerForEarlierPrompt(t *testing.T) {
	node := NewInputNode("second", "Age?", "number")

	msg, err := message.New("go").WithState(message.StateRunning, "started")
	require.NoError(t, err)
	answered := msg.WithData(message.KeyResponseText, "Ada").
		WithMetadata(message.KeyPausedNodeID, "first")

	out, err := node.Run(context.Background(), answered)
	require.NoError(t, err)

	// The response belongs to the first prompt; this node still pauses.
	assert.Equal(t, message.StateWaiting, out.State())
	assert.Equal(t, "second", out.MetadataString(message.KeyPausedNodeID))
}

func TestHumanNodeSelectedOptionAloneDoesNotSatisfy(t *testing.T) {
	node := NewSelectionNode("approve", "Ship it?", []SelectionItem{
		{ID: "yes", Label: "Yes"},
	})

	msg, err := message.New("go").WithState(message.StateRunning, "started")
	require.NoError(t, err)
	answered := msg.WithData(message.KeySelectedOption, "yes")

	out, err := node.Run(context.Background(), answered)
	require.NoError(t, err)
	assert.Equal(t, message.StateWaiting, out.State())
}
