package client

import (
	"encoding/json"
	"time"
)

// OutcomeKind is the tri-state result of one logical call.
type OutcomeKind int

const (
	// OutcomeSuccess carries a decoded-able JSON payload.
	OutcomeSuccess OutcomeKind = iota

	// OutcomeRetryable is a transient failure. Execute never returns it; it
	// only exists between a single HTTP attempt and the retry loop.
	OutcomeRetryable

	// OutcomePermanent means the call did not succeed and will not be retried.
	OutcomePermanent
)

// String returns a short label for logs and metrics.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomePermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Outcome is the normalised result of Execute. Transport errors are folded
// into it and never escape as raw errors.
type Outcome struct {
	Kind OutcomeKind

	// StatusCode is the HTTP status of the last attempt (0 for network errors).
	StatusCode int

	// Payload is the JSON body of a successful call.
	Payload json.RawMessage

	// RetryAfter is the server's wait hint for rate-limited responses.
	RetryAfter time.Duration

	// Class classifies the failure of the last attempt.
	Class ErrorClass

	// Err describes the failure of the last attempt.
	Err error

	// Attempts is the number of HTTP attempts made for this call.
	Attempts int

	// Cached is true if the payload was served from the response cache.
	Cached bool
}

// OK reports whether the call succeeded.
func (o *Outcome) OK() bool {
	return o != nil && o.Kind == OutcomeSuccess
}
