package retry

import (
	"context"
	"time"

	"github.com/smallnest/spice/errs"
	"github.com/smallnest/spice/log"
)

// Outcome is the three-way result of a supervised operation.
type Outcome int

const (
	// OutcomeSuccess means the operation eventually succeeded.
	OutcomeSuccess Outcome = iota

	// OutcomeExhausted means the policy allowed no further attempts.
	OutcomeExhausted

	// OutcomeNotRetryable means classification refused to retry.
	OutcomeNotRetryable
)

// AttemptError is one entry of the per-attempt error history.
type AttemptError struct {
	Attempt    int    `json:"attempt"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode,omitempty"`
}

// Context accumulates state across the attempts of one operation.
type Context struct {
	NodeID          string
	TenantID        string
	AttemptNumber   int
	Errors          []AttemptError
	TotalRetryDelay time.Duration
	StartedAt       time.Time
}

// Result is the outcome of a supervised operation.
type Result[T any] struct {
	Outcome Outcome
	Value   T
	Err     *errs.Error
	Context *Context
}

// Op is one attempt of the supervised operation.
type Op[T any] func(ctx context.Context, attempt int) (T, error)

// Request identifies the operation being supervised and optionally
// overrides the supervisor's default policy.
type Request struct {
	NodeID   string
	TenantID string
	Policy   *Policy
}

// PolicyResolver optionally overrides the effective policy per error
// and tenant. Returning nil keeps the current policy.
type PolicyResolver func(err error, tenantID string) *Policy

// Supervisor wraps operations with classification-driven retry.
// The zero value is not usable; construct with NewSupervisor.
type Supervisor struct {
	classifier *Classifier
	collector  Collector
	policy     Policy
	resolver   PolicyResolver
	logger     log.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithCollector sets the metrics collector.
func WithCollector(c Collector) Option {
	return func(s *Supervisor) { s.collector = c }
}

// WithPolicyResolver sets the per-error/tenant policy override.
func WithPolicyResolver(r PolicyResolver) Option {
	return func(s *Supervisor) { s.resolver = r }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// withSleep replaces the delay function; used by tests.
func withSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Supervisor) { s.sleep = fn }
}

// NewSupervisor creates a supervisor with the given default policy.
func NewSupervisor(policy Policy, opts ...Option) *Supervisor {
	s := &Supervisor{
		classifier: NewClassifier(),
		collector:  NopCollector{},
		policy:     policy,
		logger:     log.Default(),
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the supervisor's default policy.
func (s *Supervisor) Policy() Policy {
	return s.policy
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute runs op under the supervisor's retry loop. The effective
// policy starts from req.Policy (falling back to the supervisor's
// default) and may be overridden per error by the resolver.
func Execute[T any](ctx context.Context, s *Supervisor, req Request, op Op[T]) Result[T] {
	rctx := &Context{
		NodeID:        req.NodeID,
		TenantID:      req.TenantID,
		AttemptNumber: 1,
		StartedAt:     time.Now(),
	}

	policy := s.policy
	if req.Policy != nil {
		policy = *req.Policy
	}

	for {
		value, err := op(ctx, rctx.AttemptNumber)
		if err == nil {
			if rctx.AttemptNumber > 1 {
				s.collector.RetrySuccess(req.NodeID, rctx.AttemptNumber)
				s.logger.Debug("node %s succeeded on attempt %d", req.NodeID, rctx.AttemptNumber)
			}
			return Result[T]{Outcome: OutcomeSuccess, Value: value, Context: rctx}
		}

		se := errs.As(err)

		if s.resolver != nil {
			if override := s.resolver(se, req.TenantID); override != nil {
				policy = *override
			}
		}

		cl := s.classifier.Classify(se)
		if !cl.ShouldRetry {
			s.collector.NonRetryable(req.NodeID)
			return Result[T]{Outcome: OutcomeNotRetryable, Err: se, Context: rctx}
		}

		if !policy.HasMoreRetries(rctx.AttemptNumber) {
			s.collector.RetryExhausted(req.NodeID, rctx.AttemptNumber)
			return Result[T]{
				Outcome: OutcomeExhausted,
				Err:     exhaustedError(se, rctx, policy),
				Context: rctx,
			}
		}

		var delay time.Duration
		if cl.DelayHint > 0 {
			delay = policy.CapDelay(cl.DelayHint)
		} else {
			delay = policy.CalculateDelay(rctx.AttemptNumber)
		}

		s.collector.RetryAttempt(req.NodeID, rctx.AttemptNumber, delay)
		rctx.Errors = append(rctx.Errors, attemptError(se, rctx.AttemptNumber))
		rctx.TotalRetryDelay += delay
		rctx.AttemptNumber++

		s.logger.Debug("retrying node %s in %s (attempt %d, error %s)",
			req.NodeID, delay, rctx.AttemptNumber, se.Code())

		if err := s.sleep(ctx, delay); err != nil {
			return Result[T]{
				Outcome: OutcomeNotRetryable,
				Err:     errs.Wrap(errs.KindExecution, "retry cancelled during backoff", err),
				Context: rctx,
			}
		}
	}
}

func attemptError(se *errs.Error, attempt int) AttemptError {
	ae := AttemptError{
		Attempt: attempt,
		Code:    se.Code(),
		Message: se.Message,
	}
	if status, ok := se.StatusCode(); ok {
		ae.StatusCode = status
	}
	return ae
}

// exhaustedError wraps the final error into an ExecutionError carrying
// the complete retry history. The original error is preserved as cause.
func exhaustedError(last *errs.Error, rctx *Context, policy Policy) *errs.Error {
	history := append([]AttemptError{}, rctx.Errors...)
	history = append(history, attemptError(last, rctx.AttemptNumber))
	original := history[0]

	ctx := map[string]any{
		"retriesExhausted":  true,
		"totalAttempts":     rctx.AttemptNumber,
		"totalRetryDelayMs": rctx.TotalRetryDelay.Milliseconds(),
		"elapsedMs":         time.Since(rctx.StartedAt).Milliseconds(),
		"lastError":         last.Message,
		"lastErrorCode":     last.Code(),
		"originalError":     original.Message,
		"originalErrorCode": original.Code,
		"errorHistory":      history,
		"maxAttempts":       policy.MaxAttempts,
	}
	if status, ok := last.StatusCode(); ok {
		ctx["lastStatusCode"] = status
	}

	return errs.Wrap(errs.KindExecution, "retries exhausted", last).WithContext(ctx)
}
