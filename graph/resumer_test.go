package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/spice/checkpoint"
	"github.com/smallnest/spice/checkpoint/memory"
	"github.com/smallnest/spice/errs"
	"github.com/smallnest/spice/event"
	"github.com/smallnest/spice/message"
)

// approvalGraph pauses on a yes/no selection, then flags "finish".
func approvalGraph(store checkpoint.Store) *Graph {
	g := New("approval-flow").
		AddNode(markerNode("prepare")).
		AddNode(NewSelectionNode("approval", "Proceed?", []SelectionItem{
			{ID: "confirm_yes", Label: "Yes"},
			{ID: "confirm_no", Label: "No"},
		})).
		AddNode(markerNode("finish")).
		AddEdge("prepare", "approval").
		AddEdge("approval", "finish").
		AddEdge("finish", END).
		SetEntryPoint("prepare")
	g.Configure(func(c *Config) {
		c.CheckpointStore = store
		c.CheckpointTTL = time.Hour
	})
	return g
}

func selectionResponse(option string) *message.Message {
	return message.New("").WithToolCalls(message.NewToolCall(
		message.ToolCallUserResponse, map[string]any{
			"structured_data": map[string]any{"selected_option": option},
		}))
}

func newApprovalResumer(t *testing.T) (*Resumer, *Graph, *memory.Store, *event.Recorder, string) {
	t.Helper()

	store := memory.NewStore()
	g := approvalGraph(store)
	require.NoError(t, g.Validate())

	runner := NewRunner()
	paused, err := runner.Execute(context.Background(), g, message.New("go"))
	require.NoError(t, err)
	require.Equal(t, message.StateWaiting, paused.State())

	registry := NewRegistry()
	require.NoError(t, registry.Register(g))

	recorder := event.NewRecorder()
	resumer := NewResumer(store, runner,
		WithRegistry(registry),
		WithResumerBus(recorder))
	return resumer, g, store, recorder, paused.RunID()
}

func TestResumerCompletesRun(t *testing.T) {
	resumer, _, store, recorder, runID := newApprovalResumer(t)

	out, err := resumer.Resume(context.Background(), runID,
		selectionResponse("confirm_yes"), DefaultResumeOptions())
	require.NoError(t, err)

	assert.Equal(t, message.StateCompleted, out.State())
	assert.Equal(t, true, out.DataMap()["finish"])
	assert.Equal(t, "confirm_yes", out.DataString(message.KeySelectedOption))
	structured, _ := out.Data(message.KeyStructuredResponse)
	assert.Equal(t, map[string]any{"selected_option": "confirm_yes"}, structured)

	// The pending selection prompt is replaced by the response's call.
	calls := out.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, message.ToolCallUserResponse, calls[0].Name)

	completed := recorder.ByType(event.TypeToolCallCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, message.ToolCallUserSelection, completed[0].ToolName)
	assert.Len(t, recorder.ByType(event.TypeWorkflowResumed), 1)

	// The response is recorded on the checkpoint for audit.
	saved, err := store.ListByRun(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	require.NotNil(t, saved[0].ResponseToolCall)
	assert.Equal(t, message.ToolCallUserResponse, saved[0].ResponseToolCall.Name)
}

func TestResumerAutoCleanup(t *testing.T) {
	resumer, _, store, _, runID := newApprovalResumer(t)

	opts := DefaultResumeOptions()
	opts.AutoCleanup = true
	out, err := resumer.Resume(context.Background(), runID,
		selectionResponse("confirm_yes"), opts)
	require.NoError(t, err)
	require.Equal(t, message.StateCompleted, out.State())

	saved, err := store.ListByRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Empty(t, saved)
}

func TestResumerCheckpointNotFound(t *testing.T) {
	resumer := NewResumer(memory.NewStore(), NewRunner())

	_, err := resumer.Resume(context.Background(), "no-such-run", nil, DefaultResumeOptions())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindExecution))
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestResumerGraphNotRegistered(t *testing.T) {
	store := memory.NewStore()
	g := approvalGraph(store)
	require.NoError(t, g.Validate())

	paused, err := NewRunner().Execute(context.Background(), g, message.New("go"))
	require.NoError(t, err)
	require.Equal(t, message.StateWaiting, paused.State())

	// No registry entry for the paused graph.
	resumer := NewResumer(store, NewRunner())
	_, err = resumer.Resume(context.Background(), paused.RunID(),
		selectionResponse("confirm_yes"), DefaultResumeOptions())
	require.Error(t, err)

	se := errs.As(err)
	assert.Equal(t, errs.KindExecution, se.Kind)
	assert.Contains(t, se.Message, "graph not found")
}

func TestResumerRejectsExpiredCheckpoint(t *testing.T) {
	resumer, _, store, _, runID := newApprovalResumer(t)

	saved, err := store.ListByRun(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	expired := saved[0]
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, store.Save(context.Background(), expired))

	_, err = resumer.Resume(context.Background(), runID,
		selectionResponse("confirm_yes"), DefaultResumeOptions())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindValidation))
	assert.Contains(t, errs.As(err).Message, "expired")

	// A refused resume leaves the checkpoint in place.
	remaining, err := store.ListByRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestResumerRejectsTooOldCheckpoint(t *testing.T) {
	resumer, _, store, _, runID := newApprovalResumer(t)

	saved, err := store.ListByRun(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	old := saved[0]
	old.Timestamp = time.Now().Add(-2 * time.Hour)
	old.ExpiresAt = time.Time{}
	require.NoError(t, store.Save(context.Background(), old))

	opts := DefaultResumeOptions()
	opts.MaxCheckpointAge = time.Hour
	_, err = resumer.Resume(context.Background(), runID,
		selectionResponse("confirm_yes"), opts)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindValidation))
}

func TestResumerSkipsExpiryCheckWhenDisabled(t *testing.T) {
	resumer, _, store, _, runID := newApprovalResumer(t)

	saved, err := store.ListByRun(context.Background(), runID)
	require.NoError(t, err)
	expired := saved[0]
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, store.Save(context.Background(), expired))

	opts := DefaultResumeOptions()
	opts.ValidateExpiration = false
	out, err := resumer.Resume(context.Background(), runID,
		selectionResponse("confirm_yes"), opts)
	require.NoError(t, err)
	assert.Equal(t, message.StateCompleted, out.State())
}

func TestResumerSwallowsErrorsWhenNotThrowing(t *testing.T) {
	resumer := NewResumer(memory.NewStore(), NewRunner())

	opts := DefaultResumeOptions()
	opts.ThrowOnError = false
	out, err := resumer.Resume(context.Background(), "no-such-run", nil, opts)
	assert.NoError(t, err)
	assert.Nil(t, out)
}

func TestResumerClearsPendingCallOnBareResponse(t *testing.T) {
	resumer, _, _, _, runID := newApprovalResumer(t)

	// A response carrying only data still displaces the pending prompt.
	response := message.New("").WithData(message.KeyStructuredResponse,
		map[string]any{"selected_option": "confirm_yes"})
	out, err := resumer.Resume(context.Background(), runID, response, DefaultResumeOptions())
	require.NoError(t, err)

	assert.Equal(t, message.StateCompleted, out.State())
	assert.Empty(t, out.ToolCalls())
}

func TestResumerMergesUserResponseMetadata(t *testing.T) {
	resumer, _, _, _, runID := newApprovalResumer(t)

	opts := DefaultResumeOptions()
	opts.UserResponseMetadata = map[string]any{"resumedBy": "operator-7"}
	out, err := resumer.Resume(context.Background(), runID,
		selectionResponse("confirm_yes"), opts)
	require.NoError(t, err)

	assert.Equal(t, message.StateCompleted, out.State())
	assert.Equal(t, "operator-7", out.MetadataString("resumedBy"))
}

func TestResumerResponseTextAnswer(t *testing.T) {
	store := memory.NewStore()
	g := New("survey").
		AddNode(NewInputNode("ask", "Feedback?", "text")).
		AddNode(markerNode("record")).
		AddEdge("ask", "record").
		AddEdge("record", END).
		SetEntryPoint("ask")
	g.Configure(func(c *Config) { c.CheckpointStore = store })
	require.NoError(t, g.Validate())

	runner := NewRunner()
	paused, err := runner.Execute(context.Background(), g, message.New("go"))
	require.NoError(t, err)

	registry := NewRegistry()
	require.NoError(t, registry.Register(g))
	resumer := NewResumer(store, runner, WithRegistry(registry))

	response := message.New("").WithToolCalls(message.NewToolCall(
		message.ToolCallUserResponse, map[string]any{"text": "works great"}))
	out, err := resumer.Resume(context.Background(), paused.RunID(), response, DefaultResumeOptions())
	require.NoError(t, err)

	assert.Equal(t, message.StateCompleted, out.State())
	assert.Equal(t, "works great", out.DataString(message.KeyResponseText))
}

func TestResumerRoutesOnSelectionFromSubgraph(t *testing.T) {
	store := memory.NewStore()

	// The selection happens inside a child graph; the answer routes a
	// parent-level decision afterwards.
	child := New("confirm-child").
		AddNode(NewSelectionNode("hitl", "Confirm?", []SelectionItem{
			{ID: "confirm_yes", Label: "Yes"},
			{ID: "confirm_no", Label: "No"},
		})).
		AddEdge("hitl", END).
		SetEntryPoint("hitl")

	route := NewDecisionNode("route").
		When("yes", "yes-handler", func(msg *message.Message) bool {
			return msg.DataString(message.KeySelectedOption) == "confirm_yes"
		}).
		Otherwise("no-handler")

	yes := NewAgentNode("yes-handler", AgentFunc(func(_ context.Context, msg *message.Message) (*message.Message, error) {
		return msg.WithContent("YES: " + msg.Content()), nil
	}))
	no := NewAgentNode("no-handler", AgentFunc(func(_ context.Context, msg *message.Message) (*message.Message, error) {
		return msg.WithContent("NO: " + msg.Content()), nil
	}))

	g := New("confirm-flow").
		AddNode(NewSubgraphNode("confirm", child)).
		AddNode(route).
		AddNode(yes).
		AddNode(no).
		AddEdge("confirm", "route").
		AddConditionalEdge("route", "yes-handler", BranchCondition("yes-handler")).
		AddConditionalEdge("route", "no-handler", BranchCondition("no-handler")).
		AddEdge("yes-handler", END).
		AddEdge("no-handler", END).
		SetEntryPoint("confirm")
	g.Configure(func(c *Config) { c.CheckpointStore = store })
	require.NoError(t, g.Validate())

	runner := NewRunner()
	paused, err := runner.Execute(context.Background(), g, message.New("proceed"))
	require.NoError(t, err)
	require.Equal(t, message.StateWaiting, paused.State())
	require.Len(t, SubgraphStackFromMessage(paused), 1)
	require.Len(t, paused.ToolCalls(), 1)
	require.Equal(t, message.ToolCallUserSelection, paused.ToolCalls()[0].Name)

	registry := NewRegistry()
	require.NoError(t, registry.Register(g))
	resumer := NewResumer(store, runner, WithRegistry(registry))

	out, err := resumer.Resume(context.Background(), paused.RunID(),
		selectionResponse("confirm_yes"), DefaultResumeOptions())
	require.NoError(t, err)

	assert.Equal(t, message.StateCompleted, out.State())
	assert.Equal(t, "YES: proceed", out.Content())
	assert.Equal(t, "yes-handler", out.DataString(message.KeySelectedBranch))
	assert.Empty(t, SubgraphStackFromMessage(out))
}

func TestResumerPersistsNextPauseWhenGraphHasNoStore(t *testing.T) {
	g := New("two-steps").
		AddNode(NewInputNode("first", "Name?", "text")).
		AddNode(NewInputNode("second", "Age?", "number")).
		AddEdge("first", "second").
		AddEdge("second", END).
		SetEntryPoint("first")
	require.NoError(t, g.Validate())

	runner := NewRunner()
	paused, err := runner.Execute(context.Background(), g, message.New("go"))
	require.NoError(t, err)
	require.Equal(t, message.StateWaiting, paused.State())

	// The graph carries no store, so nothing was persisted yet; seed
	// the resumer's store with the first pause by hand.
	store := memory.NewStore()
	first := checkpoint.New(paused.RunID(), paused.GraphID(), paused.NodeID(), paused)
	if calls := paused.ToolCalls(); len(calls) > 0 {
		first.PendingToolCall = &calls[0]
	}
	require.NoError(t, store.Save(context.Background(), first))

	registry := NewRegistry()
	require.NoError(t, registry.Register(g))
	resumer := NewResumer(store, runner, WithRegistry(registry))

	response := message.New("").WithToolCalls(message.NewToolCall(
		message.ToolCallUserResponse, map[string]any{"text": "Ada"}))
	out, err := resumer.Resume(context.Background(), paused.RunID(), response, DefaultResumeOptions())
	require.NoError(t, err)

	require.Equal(t, message.StateWaiting, out.State())
	assert.Equal(t, "second", out.MetadataString(message.KeyPausedNodeID))

	saved, err := store.ListByRun(context.Background(), out.RunID())
	require.NoError(t, err)
	require.NotEmpty(t, saved)
	latest, err := checkpoint.LatestByRun(context.Background(), store, out.RunID())
	require.NoError(t, err)
	assert.Equal(t, "second", latest.CurrentNodeID)
	require.NotNil(t, latest.PendingToolCall)
	assert.Equal(t, message.ToolCallUserInput, latest.PendingToolCall.Name)
}
