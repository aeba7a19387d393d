package retry

import (
	"time"

	"github.com/smallnest/spice/errs"
)

// Classification is the retry decision for one error.
type Classification struct {
	// ShouldRetry reports whether another attempt makes sense.
	ShouldRetry bool

	// DelayHint is a callee-suggested delay (Retry-After); zero means
	// use the policy's computed backoff.
	DelayHint time.Duration
}

// Classifier decides retryability per error kind. Classify is a pure
// function of the error value.
type Classifier struct{}

// NewClassifier creates a classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify maps an error to a retry decision.
func (c *Classifier) Classify(err error) Classification {
	se := errs.As(err)
	if se == nil {
		return Classification{}
	}

	switch se.Kind {
	case errs.KindRetryable:
		if hint, ok := se.Hint(); ok {
			if hint.SkipRetry {
				return Classification{}
			}
			if hint.DelayMs > 0 {
				return Classification{
					ShouldRetry: true,
					DelayHint:   time.Duration(hint.DelayMs) * time.Millisecond,
				}
			}
		}
		return Classification{ShouldRetry: true}

	case errs.KindNetwork:
		status, ok := se.StatusCode()
		if !ok {
			return Classification{ShouldRetry: true}
		}
		return Classification{ShouldRetry: retryableStatus(status)}

	case errs.KindTimeout:
		return Classification{ShouldRetry: true}

	case errs.KindRateLimit:
		cl := Classification{ShouldRetry: true}
		if v, ok := se.ContextValue("retryAfterMs"); ok {
			if ms := asInt64(v); ms > 0 {
				cl.DelayHint = time.Duration(ms) * time.Millisecond
			}
		}
		return cl

	case errs.KindValidation,
		errs.KindAuthentication,
		errs.KindSerialization,
		errs.KindConfiguration,
		errs.KindToolLookup,
		errs.KindRouting:
		return Classification{}

	case errs.KindAgent, errs.KindTool, errs.KindExecution, errs.KindCheckpoint:
		if status, ok := se.StatusCode(); ok && retryableStatus(status) {
			return Classification{ShouldRetry: true}
		}
		if v, ok := se.ContextValue("retryable"); ok {
			if b, ok := v.(bool); ok && b {
				return Classification{ShouldRetry: true}
			}
		}
		return Classification{}
	}

	// KindUnknown and anything else: default no.
	return Classification{}
}

func retryableStatus(status int) bool {
	return status == 408 || status == 429 || (status >= 500 && status <= 599)
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}
