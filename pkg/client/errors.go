package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Sternrassler/catalog-harvester/pkg/budget"
)

// Common errors returned by the client.
var (
	// ErrBudgetExhausted is returned by Execute when the shared request budget
	// has no calls left. It wraps budget.ErrExhausted.
	ErrBudgetExhausted = fmt.Errorf("client: %w", budget.ErrExhausted)

	// ErrMalformedResponse marks a success status whose body is not a usable
	// JSON document.
	ErrMalformedResponse = errors.New("malformed response")
)

// APIError describes the failure of one attempt. It is carried in
// Outcome.Err and never returned from Execute.
type APIError struct {
	Endpoint   string
	StatusCode int
	ErrorClass ErrorClass

	// Message is the API's error_message when the body carries one, the HTTP
	// status line otherwise.
	Message string
	Err     error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString(e.Endpoint)
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	fmt.Fprintf(&b, " (%s)", e.ErrorClass)
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// newAPIError builds the error for a failed HTTP response, preferring the
// error_message field of a JSON error body.
func newAPIError(endpoint string, statusCode int, class ErrorClass, status string, body []byte) *APIError {
	msg := status
	var payload struct {
		ErrorMessage string `json:"error_message"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.ErrorMessage != "" {
		msg = payload.ErrorMessage
	}
	return &APIError{Endpoint: endpoint, StatusCode: statusCode, ErrorClass: class, Message: msg}
}

// retryable reports whether another attempt may succeed.
func retryable(class ErrorClass) bool {
	switch class {
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		// client errors and malformed payloads would fail the same way again
		return false
	}
}
