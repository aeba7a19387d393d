// Package errs defines the error taxonomy shared by the spice engine.
//
// Every engine error is a *Error carrying a Kind, a stable code, an
// optional cause and a context bag used for structured logging and for
// retry classification. Errors are matched with errors.As and stay
// immutable: WithContext returns a copy.
package errs

import (
	"errors"
	"fmt"
	"maps"
)

// Kind identifies the error category. The retry classifier keys off it.
type Kind int

const (
	// KindUnknown is the fallback for unclassified errors.
	KindUnknown Kind = iota

	// KindValidation indicates invalid input or an invalid state transition.
	KindValidation

	// KindAuthentication indicates failed or missing credentials.
	KindAuthentication

	// KindNetwork indicates a transport-level failure, optionally with an HTTP status code.
	KindNetwork

	// KindTimeout indicates an operation exceeded its deadline.
	KindTimeout

	// KindRateLimit indicates the callee asked us to back off.
	KindRateLimit

	// KindSerialization indicates a marshal/unmarshal failure.
	KindSerialization

	// KindConfiguration indicates an invalid engine or node configuration.
	KindConfiguration

	// KindTool indicates a tool execution failure.
	KindTool

	// KindToolLookup indicates a referenced tool does not exist.
	KindToolLookup

	// KindRouting indicates no outgoing edge matched and the node is not terminal.
	KindRouting

	// KindAgent indicates an agent processMessage failure.
	KindAgent

	// KindExecution indicates a node or graph level execution failure.
	KindExecution

	// KindCheckpoint indicates a checkpoint store failure.
	KindCheckpoint

	// KindRetryable marks an error the caller explicitly flagged as retryable.
	KindRetryable
)

var kindCodes = map[Kind]string{
	KindUnknown:        "UnknownError",
	KindValidation:     "ValidationError",
	KindAuthentication: "AuthenticationError",
	KindNetwork:        "NetworkError",
	KindTimeout:        "TimeoutError",
	KindRateLimit:      "RateLimitError",
	KindSerialization:  "SerializationError",
	KindConfiguration:  "ConfigurationError",
	KindTool:           "ToolError",
	KindToolLookup:     "ToolLookupError",
	KindRouting:        "RoutingError",
	KindAgent:          "AgentError",
	KindExecution:      "ExecutionError",
	KindCheckpoint:     "CheckpointError",
	KindRetryable:      "RetryableError",
}

// String returns the stable code for the kind.
func (k Kind) String() string {
	if code, ok := kindCodes[k]; ok {
		return code
	}
	return fmt.Sprintf("UnknownKind(%d)", int(k))
}

// Error is the single error type used across the engine.
type Error struct {
	// Kind categorizes the error for retry classification.
	Kind Kind

	// Message is the human-readable description.
	Message string

	// Cause is the wrapped underlying error, if any.
	Cause error

	// Context carries structured details (node ids, status codes,
	// retry metadata). Treated as read-only; use WithContext to extend.
	Context map[string]any
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Code returns the stable string code of the error kind.
func (e *Error) Code() string {
	return e.Kind.String()
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code(), e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code(), e.Message)
}

// Unwrap exposes the cause to errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext returns a copy of the error with the given entries added.
// The receiver is not modified.
func (e *Error) WithContext(entries map[string]any) *Error {
	clone := *e
	clone.Context = make(map[string]any, len(e.Context)+len(entries))
	maps.Copy(clone.Context, e.Context)
	maps.Copy(clone.Context, entries)
	return &clone
}

// WithContextValue returns a copy of the error with a single entry added.
func (e *Error) WithContextValue(key string, value any) *Error {
	return e.WithContext(map[string]any{key: value})
}

// ContextValue reads a context entry; ok is false when absent.
func (e *Error) ContextValue(key string) (any, bool) {
	v, ok := e.Context[key]
	return v, ok
}

// StatusCode returns the HTTP-ish status code carried in context, if any.
func (e *Error) StatusCode() (int, bool) {
	v, ok := e.Context["statusCode"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// As extracts a *Error from an arbitrary error chain. Non-engine errors
// are wrapped as KindUnknown so callers always get a classified value.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return Wrap(KindUnknown, err.Error(), err)
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		var se *Error
		if !errors.As(err, &se) {
			return false
		}
		if se.Kind == kind {
			return true
		}
		err = se.Cause
	}
	return false
}

// Validation creates a validation error.
func Validation(message string) *Error {
	return New(KindValidation, message)
}

// Authentication creates an authentication error.
func Authentication(message string) *Error {
	return New(KindAuthentication, message)
}

// Network creates a network error. statusCode 0 means unknown.
func Network(message string, statusCode int) *Error {
	e := New(KindNetwork, message)
	if statusCode != 0 {
		return e.WithContextValue("statusCode", statusCode)
	}
	return e
}

// Timeout creates a timeout error.
func Timeout(message string) *Error {
	return New(KindTimeout, message)
}

// RateLimit creates a rate-limit error. retryAfterMs 0 means no hint.
func RateLimit(message string, retryAfterMs int64) *Error {
	e := New(KindRateLimit, message)
	if retryAfterMs > 0 {
		return e.WithContextValue("retryAfterMs", retryAfterMs)
	}
	return e
}

// Serialization creates a serialization error wrapping cause.
func Serialization(message string, cause error) *Error {
	return Wrap(KindSerialization, message, cause)
}

// Configuration creates a configuration error.
func Configuration(message string) *Error {
	return New(KindConfiguration, message)
}

// Tool creates a tool execution error wrapping cause.
func Tool(message string, cause error) *Error {
	return Wrap(KindTool, message, cause)
}

// ToolLookup creates a tool lookup error.
func ToolLookup(name string) *Error {
	return Newf(KindToolLookup, "tool not found: %s", name).
		WithContextValue("toolName", name)
}

// Routing creates a routing error.
func Routing(message string) *Error {
	return New(KindRouting, message)
}

// Agent creates an agent error wrapping cause.
func Agent(message string, cause error) *Error {
	return Wrap(KindAgent, message, cause)
}

// Execution creates an execution error with graph coordinates.
// Either id may be empty.
func Execution(message string, graphID, nodeID string, cause error) *Error {
	e := Wrap(KindExecution, message, cause)
	ctx := make(map[string]any, 2)
	if graphID != "" {
		ctx["graphId"] = graphID
	}
	if nodeID != "" {
		ctx["nodeId"] = nodeID
	}
	if len(ctx) > 0 {
		return e.WithContext(ctx)
	}
	return e
}

// Checkpoint creates a checkpoint error wrapping cause.
func Checkpoint(message string, cause error) *Error {
	return Wrap(KindCheckpoint, message, cause)
}

// RetryHint carries caller-provided retry advice for Retryable errors.
type RetryHint struct {
	// SkipRetry suppresses retries even though the kind is retryable.
	SkipRetry bool

	// DelayMs overrides the computed backoff delay when positive.
	DelayMs int64
}

// Retryable creates an explicitly retryable error. statusCode 0 means
// unknown; hint may be nil.
func Retryable(message string, statusCode int, hint *RetryHint) *Error {
	e := New(KindRetryable, message)
	ctx := make(map[string]any, 2)
	if statusCode != 0 {
		ctx["statusCode"] = statusCode
	}
	if hint != nil {
		ctx["retryHint"] = *hint
	}
	if len(ctx) > 0 {
		return e.WithContext(ctx)
	}
	return e
}

// Hint returns the retry hint carried in context, if any.
func (e *Error) Hint() (RetryHint, bool) {
	v, ok := e.Context["retryHint"]
	if !ok {
		return RetryHint{}, false
	}
	h, ok := v.(RetryHint)
	return h, ok
}

// Unknown creates an unclassified error wrapping cause.
func Unknown(message string, cause error) *Error {
	return Wrap(KindUnknown, message, cause)
}
