package graph

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/smallnest/spice/checkpoint"
	"github.com/smallnest/spice/errs"
	"github.com/smallnest/spice/event"
	"github.com/smallnest/spice/log"
	"github.com/smallnest/spice/message"
	"github.com/smallnest/spice/retry"
)

// Runner is the traversal engine. It holds configuration only — no
// per-run state — so one Runner may drive any number of concurrent
// runs.
type Runner struct {
	supervisor   *retry.Supervisor
	transformers *Chain
	nodeTimeout  time.Duration
	logger       log.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithTransformers sets the middleware chain.
func WithTransformers(chain *Chain) RunnerOption {
	return func(r *Runner) { r.transformers = chain }
}

// WithNodeTimeout bounds each node execution; zero disables.
func WithNodeTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.nodeTimeout = d }
}

// WithSupervisor replaces the retry supervisor.
func WithSupervisor(s *retry.Supervisor) RunnerOption {
	return func(r *Runner) { r.supervisor = s }
}

// WithRunnerLogger sets the logger.
func WithRunnerLogger(l log.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a runner with the default retry policy.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		supervisor:   retry.NewSupervisor(retry.DefaultPolicy()),
		transformers: NewChain(),
		logger:       log.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute runs the graph from its entry point (or from the message's
// node on re-entry) until a terminal state or a WAITING pause. A
// failed run returns the FAILED message together with the error.
func (r *Runner) Execute(ctx context.Context, g *Graph, msg *message.Message) (*message.Message, error) {
	if msg.State().IsTerminal() {
		return msg, nil
	}

	msg = r.ensureCoordinates(g, msg)

	input := msg
	if msg.State() == message.StateReady {
		started, err := msg.WithState(message.StateRunning, "execution started")
		if err != nil {
			return msg, errs.Execution("cannot start execution", g.ID(), "", err)
		}
		msg = started
		r.publish(ctx, g, event.New(event.TypeWorkflowStarted).
			WithRun(g.ID(), "", msg.RunID()))
	}

	before, err := r.transformers.BeforeExecution(ctx, g, msg)
	if err != nil {
		return r.fail(ctx, g, msg, errs.As(err))
	}
	msg = before

	startNode := msg.NodeID()
	if startNode == "" {
		startNode = g.EntryPoint()
	}

	out, err := r.run(ctx, g, msg, startNode, false)
	if err != nil {
		return out, err
	}
	if out.State().IsTerminal() {
		final, aerr := r.transformers.AfterExecution(ctx, g, input, out)
		if aerr != nil {
			return r.fail(ctx, g, out, errs.As(aerr))
		}
		out = final
	}
	return out, nil
}

// ensureCoordinates fills in missing graph/run ids.
func (r *Runner) ensureCoordinates(g *Graph, msg *message.Message) *message.Message {
	graphID := msg.GraphID()
	runID := msg.RunID()
	if graphID == g.ID() && runID != "" {
		return msg
	}
	if graphID == "" {
		graphID = g.ID()
	}
	if runID == "" {
		runID = uuid.New().String()
	}
	return msg.WithGraphContext(graphID, msg.NodeID(), runID)
}

// run is the step loop. When skipExec is set the first iteration goes
// straight to edge evaluation of currentID — used when a subgraph
// completed during resume and the parent node must not re-execute.
func (r *Runner) run(ctx context.Context, g *Graph, msg *message.Message, currentID string, skipExec bool) (*message.Message, error) {
	for {
		if !skipExec {
			node, ok := g.Node(currentID)
			if !ok {
				return r.fail(ctx, g, msg,
					errs.Execution("node not found", g.ID(), currentID, nil))
			}

			before, err := r.transformers.BeforeNode(ctx, g, currentID, msg)
			if err != nil {
				return r.fail(ctx, g, msg, errs.As(err))
			}
			msg = before

			r.publish(ctx, g, event.New(event.TypeNodeStarted).
				WithRun(g.ID(), currentID, msg.RunID()))

			out, err := r.runNode(ctx, g, node, msg)
			if err != nil {
				se := errs.As(err)
				// afterNode still observes the failed step.
				if _, aerr := r.transformers.AfterNode(ctx, g, currentID, msg, msg); aerr != nil {
					r.logger.Debug("afterNode transformer failed on failure path: %v", aerr)
				}
				r.publish(ctx, g, event.New(event.TypeNodeFailed).
					WithRun(g.ID(), currentID, msg.RunID()).WithError(se))
				return r.fail(ctx, g, msg, se)
			}

			out = out.WithNodeID(currentID)
			after, err := r.transformers.AfterNode(ctx, g, currentID, msg, out)
			if err != nil {
				return r.fail(ctx, g, out, errs.As(err))
			}
			out = after

			r.publish(ctx, g, event.New(event.TypeNodeCompleted).
				WithRun(g.ID(), currentID, out.RunID()))

			if out.State() == message.StateWaiting {
				return r.pause(ctx, g, out)
			}
			msg = out
		}
		skipExec = false

		next, done, err := r.selectNext(g, currentID, msg)
		if err != nil {
			return r.fail(ctx, g, msg, errs.As(err))
		}
		if done {
			return r.complete(ctx, g, msg)
		}
		currentID = next
	}
}

// runNode executes one node attempt-loop under the retry supervisor.
func (r *Runner) runNode(ctx context.Context, g *Graph, node Node, msg *message.Message) (*message.Message, error) {
	req := retry.Request{
		NodeID:   node.ID(),
		TenantID: msg.MetadataString("tenantId"),
		Policy:   g.Config().RetryPolicy,
	}

	result := retry.Execute(ctx, r.supervisor, req, func(ctx context.Context, _ int) (*message.Message, error) {
		return r.invoke(ctx, node, msg)
	})

	switch result.Outcome {
	case retry.OutcomeSuccess:
		return result.Value, nil
	default:
		return nil, result.Err
	}
}

// invoke calls the node, bounding it with the configured timeout and
// mapping deadline expiry to a TimeoutError. Caller cancellation is
// passed through untouched.
func (r *Runner) invoke(ctx context.Context, node Node, msg *message.Message) (*message.Message, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if r.nodeTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.nodeTimeout)
		defer cancel()
	}

	var out *message.Message
	var err error
	if aware, ok := node.(RunnerAwareNode); ok {
		out, err = aware.RunWithRunner(runCtx, msg, r)
	} else {
		out, err = node.Run(runCtx, msg)
	}

	if err != nil {
		if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, errs.Timeout("node " + node.ID() + " timed out after " + r.nodeTimeout.String()).
				WithContextValue("nodeId", node.ID())
		}
		return nil, err
	}
	if out == nil {
		return nil, errs.Execution("node returned no message", msg.GraphID(), node.ID(), nil)
	}
	return out, nil
}

// selectNext picks the next node: the first edge from currentID whose
// condition holds, in declared order. done is set when the run should
// complete instead.
func (r *Runner) selectNext(g *Graph, currentID string, msg *message.Message) (next string, done bool, err error) {
	for _, edge := range g.EdgesFrom(currentID) {
		if edge.Condition != nil && !edge.Condition(msg) {
			continue
		}
		if edge.To == END {
			return "", true, nil
		}
		return edge.To, false, nil
	}

	if node, ok := g.Node(currentID); ok {
		if terminal, ok := node.(TerminalNode); ok && terminal.Terminal() {
			return "", true, nil
		}
	}
	return "", false, errs.Routing("no outgoing edge matched from node " + currentID).
		WithContextValue("nodeId", currentID).
		WithContextValue("graphId", g.ID())
}

// pause persists the WAITING message when the run is at the outermost
// level and a store is configured, then reports the pause.
func (r *Runner) pause(ctx context.Context, g *Graph, msg *message.Message) (*message.Message, error) {
	for _, call := range msg.ToolCalls() {
		r.publish(ctx, g, event.New(event.TypeToolCallEmitted).
			WithRun(msg.GraphID(), msg.NodeID(), msg.RunID()).
			WithToolCall(call.ID, call.Name))
	}

	store := g.Config().CheckpointStore
	if store != nil && msg.MetadataInt(message.KeySubgraphDepth) == 0 {
		cp := checkpoint.New(msg.RunID(), msg.GraphID(), msg.NodeID(), msg)
		cp.SubgraphStack = append(cp.SubgraphStack, SubgraphStackFromMessage(msg)...)
		if calls := msg.ToolCalls(); len(calls) > 0 {
			cp.PendingToolCall = &calls[0]
		}
		cp.WithTTL(g.Config().CheckpointTTL)
		if err := store.Save(ctx, cp); err != nil {
			return r.fail(ctx, g, msg, errs.Checkpoint("failed to persist pause", err))
		}
	}

	r.publish(ctx, g, event.New(event.TypeWorkflowPaused).
		WithRun(msg.GraphID(), msg.NodeID(), msg.RunID()))
	return msg, nil
}

// complete transitions the message to COMPLETED.
func (r *Runner) complete(ctx context.Context, g *Graph, msg *message.Message) (*message.Message, error) {
	final, err := msg.WithState(message.StateCompleted, "workflow completed")
	if err != nil {
		return r.fail(ctx, g, msg, errs.As(err))
	}
	r.publish(ctx, g, event.New(event.TypeWorkflowCompleted).
		WithRun(final.GraphID(), final.NodeID(), final.RunID()))
	return final, nil
}

// fail transitions the message to FAILED with the error code as reason
// and returns both the message and the error.
func (r *Runner) fail(ctx context.Context, g *Graph, msg *message.Message, se *errs.Error) (*message.Message, error) {
	failed := msg
	if !msg.State().IsTerminal() {
		if f, err := msg.WithState(message.StateFailed, se.Code()); err == nil {
			failed = f
		}
	}
	ev := event.New(event.TypeWorkflowCompleted).
		WithRun(failed.GraphID(), failed.NodeID(), failed.RunID()).
		WithError(se)
	ev.FinalState = string(message.StateFailed)
	r.publish(ctx, g, ev)
	return failed, se
}

func (r *Runner) publish(ctx context.Context, g *Graph, e event.Event) {
	bus := g.Config().EventBus
	if bus == nil {
		return
	}
	if e.Type == event.TypeWorkflowCompleted && e.FinalState == "" {
		e.FinalState = string(message.StateCompleted)
	}
	bus.Publish(ctx, e)
}
