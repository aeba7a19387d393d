package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/spice/errs"
	"github.com/smallnest/spice/log"
)

func instantSupervisor(policy Policy, opts ...Option) *Supervisor {
	opts = append(opts,
		WithLogger(log.NopLogger{}),
		withSleep(func(context.Context, time.Duration) error { return nil }),
	)
	return NewSupervisor(policy, opts...)
}

func TestExecuteSucceedsFirstAttempt(t *testing.T) {
	s := instantSupervisor(DefaultPolicy())

	result := Execute(context.Background(), s, Request{NodeID: "n1"},
		func(_ context.Context, _ int) (string, error) {
			return "ok", nil
		})

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, "ok", result.Value)
	assert.Nil(t, result.Err)
	assert.Equal(t, 1, result.Context.AttemptNumber)
}

func TestExecuteRecoversAfterTransientFailures(t *testing.T) {
	s := instantSupervisor(Policy{MaxAttempts: 5, InitialDelay: time.Millisecond, BackoffMultiplier: 2, MaxDelay: time.Second})

	calls := 0
	result := Execute(context.Background(), s, Request{NodeID: "n1"},
		func(_ context.Context, _ int) (int, error) {
			calls++
			if calls < 3 {
				return 0, errs.Network("flaky", 503)
			}
			return 42, nil
		})

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, 42, result.Value)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, result.Context.AttemptNumber)
	assert.Len(t, result.Context.Errors, 2)
}

func TestExecuteExhaustsRetries(t *testing.T) {
	s := instantSupervisor(Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffMultiplier: 2, MaxDelay: time.Second})

	calls := 0
	result := Execute(context.Background(), s, Request{NodeID: "n1"},
		func(_ context.Context, _ int) (string, error) {
			calls++
			return "", errs.Network("still down", 502)
		})

	// MaxAttempts counts total attempts, not retries.
	assert.Equal(t, 3, calls)
	assert.Equal(t, OutcomeExhausted, result.Outcome)

	require.NotNil(t, result.Err)
	assert.Equal(t, errs.KindExecution, result.Err.Kind)
	assert.True(t, errs.Is(result.Err, errs.KindExecution))

	v, ok := result.Err.ContextValue("retriesExhausted")
	require.True(t, ok)
	assert.Equal(t, true, v)

	attempts, _ := result.Err.ContextValue("totalAttempts")
	assert.Equal(t, 3, attempts)

	code, _ := result.Err.ContextValue("originalErrorCode")
	assert.Equal(t, "NetworkError", code)

	history, ok := result.Err.ContextValue("errorHistory")
	require.True(t, ok)
	assert.Len(t, history.([]AttemptError), 3)

	status, _ := result.Err.ContextValue("lastStatusCode")
	assert.Equal(t, 502, status)

	// The final network error stays reachable as the cause.
	assert.True(t, errs.Is(result.Err.Cause, errs.KindNetwork))
}

func TestExecuteStopsOnNonRetryable(t *testing.T) {
	s := instantSupervisor(DefaultPolicy())

	calls := 0
	cause := errs.Validation("bad input")
	result := Execute(context.Background(), s, Request{NodeID: "n1"},
		func(_ context.Context, _ int) (string, error) {
			calls++
			return "", cause
		})

	assert.Equal(t, 1, calls)
	assert.Equal(t, OutcomeNotRetryable, result.Outcome)
	assert.Same(t, cause, result.Err)
}

func TestExecuteUsesRequestPolicy(t *testing.T) {
	s := instantSupervisor(Policy{MaxAttempts: 10, InitialDelay: time.Millisecond, BackoffMultiplier: 2, MaxDelay: time.Second})

	calls := 0
	noRetry := NoRetryPolicy()
	result := Execute(context.Background(), s, Request{NodeID: "n1", Policy: &noRetry},
		func(_ context.Context, _ int) (string, error) {
			calls++
			return "", errs.Timeout("slow")
		})

	assert.Equal(t, 1, calls)
	assert.Equal(t, OutcomeExhausted, result.Outcome)
}

func TestExecuteHonorsDelayHint(t *testing.T) {
	var slept []time.Duration
	s := NewSupervisor(
		Policy{MaxAttempts: 2, InitialDelay: time.Millisecond, BackoffMultiplier: 2, MaxDelay: time.Second},
		WithLogger(log.NopLogger{}),
		withSleep(func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		}),
	)

	Execute(context.Background(), s, Request{NodeID: "n1"},
		func(_ context.Context, _ int) (string, error) {
			return "", errs.RateLimit("throttled", 250)
		})

	require.Len(t, slept, 1)
	assert.Equal(t, 250*time.Millisecond, slept[0])
}

func TestExecuteCancelledDuringBackoff(t *testing.T) {
	s := NewSupervisor(
		Policy{MaxAttempts: 5, InitialDelay: time.Millisecond, BackoffMultiplier: 2, MaxDelay: time.Second},
		WithLogger(log.NopLogger{}),
		withSleep(func(ctx context.Context, _ time.Duration) error {
			return context.Canceled
		}),
	)

	result := Execute(context.Background(), s, Request{NodeID: "n1"},
		func(_ context.Context, _ int) (string, error) {
			return "", errs.Network("down", 0)
		})

	assert.Equal(t, OutcomeNotRetryable, result.Outcome)
	require.NotNil(t, result.Err)
	assert.Contains(t, result.Err.Message, "cancelled")
}

func TestPolicyResolverOverride(t *testing.T) {
	resolver := func(err error, tenantID string) *Policy {
		if tenantID == "impatient" {
			p := NoRetryPolicy()
			return &p
		}
		return nil
	}
	s := instantSupervisor(DefaultPolicy(), WithPolicyResolver(resolver))

	calls := 0
	result := Execute(context.Background(), s, Request{NodeID: "n1", TenantID: "impatient"},
		func(_ context.Context, _ int) (string, error) {
			calls++
			return "", errs.Timeout("slow")
		})

	assert.Equal(t, 1, calls)
	assert.Equal(t, OutcomeExhausted, result.Outcome)
}

func TestCollectorObservesAttempts(t *testing.T) {
	collector := NewMemoryCollector()
	s := instantSupervisor(
		Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffMultiplier: 2, MaxDelay: time.Second},
		WithCollector(collector),
	)

	calls := 0
	Execute(context.Background(), s, Request{NodeID: "n1"},
		func(_ context.Context, _ int) (string, error) {
			calls++
			if calls < 2 {
				return "", errs.Network("flaky", 500)
			}
			return "ok", nil
		})

	snap := collector.Snapshot()
	assert.Equal(t, 1, snap.Attempts)
	assert.Equal(t, 1, snap.Successes)
	assert.Equal(t, 0, snap.Exhausted)

	node := collector.NodeSnapshot("n1")
	assert.Equal(t, 1, node.Attempts)
}
