package graph

import (
	"context"
	"errors"
	"time"

	"github.com/smallnest/spice/checkpoint"
	"github.com/smallnest/spice/errs"
	"github.com/smallnest/spice/event"
	"github.com/smallnest/spice/log"
	"github.com/smallnest/spice/message"
)

// ResumeOptions tune one resume call.
type ResumeOptions struct {
	// PublishEvents controls the resume-side lifecycle events
	// (ToolCallCompleted, WorkflowResumed). Runner events are governed
	// by the graph's own configuration.
	PublishEvents bool

	// AutoCleanup deletes the run's checkpoints once it reaches a
	// terminal state.
	AutoCleanup bool

	// ThrowOnError preserves the error return. When unset a failed
	// resume is logged and the last known message is returned without
	// an error.
	ThrowOnError bool

	// ValidateExpiration rejects expired checkpoints.
	ValidateExpiration bool

	// MaxCheckpointAge rejects checkpoints older than this, independent
	// of their own expiry. Zero disables the age check.
	MaxCheckpointAge time.Duration

	// UserResponseMetadata is merged into the message metadata before
	// resuming.
	UserResponseMetadata map[string]any
}

// DefaultResumeOptions publish events, validate expiry, and surface
// errors; checkpoints are kept until explicitly deleted.
func DefaultResumeOptions() ResumeOptions {
	return ResumeOptions{
		PublishEvents:      true,
		ThrowOnError:       true,
		ValidateExpiration: true,
	}
}

// Resumer rebuilds a paused run from its checkpoint and drives it to
// the next pause or terminal state.
type Resumer struct {
	store    checkpoint.Store
	runner   *Runner
	registry *Registry
	bus      event.Bus
	logger   log.Logger
}

// ResumerOption configures a Resumer.
type ResumerOption func(*Resumer)

// WithRegistry sets the graph registry used to resolve graphs by id.
func WithRegistry(reg *Registry) ResumerOption {
	return func(r *Resumer) { r.registry = reg }
}

// WithResumerBus sets the bus for resume-side events. Without one the
// graph's configured bus is used.
func WithResumerBus(bus event.Bus) ResumerOption {
	return func(r *Resumer) { r.bus = bus }
}

// WithResumerLogger sets the logger.
func WithResumerLogger(l log.Logger) ResumerOption {
	return func(r *Resumer) { r.logger = l }
}

// NewResumer creates a resumer over the given store and runner.
func NewResumer(store checkpoint.Store, runner *Runner, opts ...ResumerOption) *Resumer {
	r := &Resumer{
		store:    store,
		runner:   runner,
		registry: NewRegistry(),
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resume loads the latest checkpoint of runID, merges the optional
// user response into the paused message, and re-enters the graph
// resolved from the registry. The response message may carry a
// user_response tool call; its text and structured payload are written
// into the message data under the well-known response keys.
func (r *Resumer) Resume(ctx context.Context, runID string, userResponse *message.Message, opts ResumeOptions) (*message.Message, error) {
	out, err := r.resume(ctx, runID, userResponse, opts)
	if err != nil && !opts.ThrowOnError {
		r.logger.Error("resume of run %s failed: %v", runID, err)
		return out, nil
	}
	return out, err
}

func (r *Resumer) resume(ctx context.Context, runID string, userResponse *message.Message, opts ResumeOptions) (*message.Message, error) {
	cp, err := checkpoint.LatestByRun(ctx, r.store, runID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return nil, errs.Execution("checkpoint not found", "", "", err).
				WithContextValue("runId", runID)
		}
		return nil, errs.Checkpoint("failed to load checkpoint", err).
			WithContextValue("runId", runID)
	}

	if opts.ValidateExpiration {
		expired := cp.IsExpired()
		tooOld := opts.MaxCheckpointAge > 0 && cp.Age() > opts.MaxCheckpointAge
		if expired || tooOld {
			return nil, errs.Validation("checkpoint expired").WithContext(map[string]any{
				"runId":            runID,
				"checkpointId":     cp.ID,
				"ageMs":            cp.Age().Milliseconds(),
				"maxCheckpointAge": opts.MaxCheckpointAge.String(),
				"expiresAt":        cp.ExpiresAt,
			})
		}
	}

	g, ok := r.registry.Lookup(cp.GraphID)
	if !ok {
		return nil, errs.Execution("graph not found", cp.GraphID, "", nil).
			WithContextValue("runId", runID)
	}

	msg, respCall := r.mergeUserResponse(cp, userResponse, opts)

	if cp.PendingToolCall != nil {
		if opts.PublishEvents {
			ev := event.New(event.TypeToolCallCompleted).
				WithRun(cp.GraphID, cp.CurrentNodeID, runID).
				WithToolCall(cp.PendingToolCall.ID, cp.PendingToolCall.Name)
			if respCall != nil {
				ev = ev.WithPayload(respCall.Arguments)
			}
			r.publish(ctx, g, ev)
		}
		// Audit trail: record the response on the checkpoint itself.
		// The update is idempotent so a crashed resume can repeat it.
		if respCall != nil {
			cp.ResponseToolCall = respCall
			if serr := r.store.Save(ctx, cp); serr != nil {
				r.logger.Warn("failed to record response on checkpoint %s: %v", cp.ID, serr)
			}
		}
	}

	if opts.PublishEvents {
		r.publish(ctx, g, event.New(event.TypeWorkflowResumed).
			WithRun(cp.GraphID, cp.CurrentNodeID, runID))
	}

	msg, err = r.runner.transformers.BeforeExecution(ctx, g, msg)
	if err != nil {
		return nil, errs.As(err)
	}

	out, err := r.runner.Resume(ctx, g, msg)
	if err != nil {
		return out, err
	}

	switch {
	case out.State().IsTerminal():
		if opts.AutoCleanup {
			if derr := r.store.DeleteByRun(ctx, runID); derr != nil {
				r.logger.Warn("failed to clean up checkpoints of run %s: %v", runID, derr)
			}
		}
	case out.State() == message.StateWaiting:
		// The runner persists the new pause only when the graph carries
		// its own store. Otherwise the resumer's store takes over.
		if g.Config().CheckpointStore == nil {
			fresh := checkpoint.New(out.RunID(), out.GraphID(), out.NodeID(), out)
			fresh.SubgraphStack = append(fresh.SubgraphStack, SubgraphStackFromMessage(out)...)
			if calls := out.ToolCalls(); len(calls) > 0 {
				fresh.PendingToolCall = &calls[0]
			}
			fresh.WithTTL(g.Config().CheckpointTTL)
			if serr := r.store.Save(ctx, fresh); serr != nil {
				return out, errs.Checkpoint("failed to persist new pause", serr).
					WithContextValue("runId", out.RunID())
			}
		}
	}
	return out, nil
}

// mergeUserResponse reconstructs the paused message and folds the user
// response into it: checkpoint data, then response message data, then
// the parsed response fields; tool calls are replaced by the
// response's; the authoritative subgraph stack is re-attached last.
func (r *Resumer) mergeUserResponse(cp *checkpoint.Checkpoint, userResponse *message.Message, opts ResumeOptions) (*message.Message, *message.ToolCall) {
	msg := cp.Message
	var respCall *message.ToolCall

	if userResponse != nil {
		for _, tc := range userResponse.ToolCalls() {
			if tc.Name == message.ToolCallUserResponse {
				call := tc
				respCall = &call
				break
			}
		}

		msg = msg.WithDataMerged(userResponse.DataMap())
		msg = msg.WithMetadataMerged(userResponse.MetadataMap())
		// The response's calls replace the pending prompt, even when
		// there are none to replace it with.
		msg = msg.WithToolCalls(userResponse.ToolCalls()...)
	}

	if respCall != nil {
		responseData := map[string]any{
			message.KeyUserResponseToolCall: respCall,
		}
		if text := respCall.StringArgument("text"); text != "" {
			responseData[message.KeyResponseText] = text
		}
		if structured := respCall.MapArgument("structured_data"); structured != nil {
			responseData[message.KeyStructuredResponse] = structured
			if selected, ok := structured["selected_option"].(string); ok {
				responseData[message.KeySelectedOption] = selected
			}
		}
		msg = msg.WithDataMerged(responseData)
	}

	if len(opts.UserResponseMetadata) > 0 {
		msg = msg.WithMetadataMerged(opts.UserResponseMetadata)
	}

	// JSON round-trips degrade the stack copy in metadata; the
	// checkpoint field wins.
	if len(cp.SubgraphStack) > 0 {
		msg = msg.WithMetadata(message.KeySubgraphStack, cp.SubgraphStack)
	} else {
		msg = msg.WithoutMetadata(message.KeySubgraphStack)
	}
	return msg, respCall
}

func (r *Resumer) publish(ctx context.Context, g *Graph, e event.Event) {
	bus := r.bus
	if bus == nil {
		bus = g.Config().EventBus
	}
	if bus == nil {
		return
	}
	bus.Publish(ctx, e)
}
