// Package apperr defines the closed set of error kinds the gateway is
// allowed to surface to callers, and the mapping from kind to HTTP status.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies a terminal dispatch failure.
type Kind string

const (
	// KindUnauthenticated covers missing, invalid, expired, or rejected credentials.
	KindUnauthenticated Kind = "unauthenticated"

	// KindRateLimited means the client exhausted its request window.
	KindRateLimited Kind = "rate_limited"

	// KindNotFound means the requested tool name is not registered.
	KindNotFound Kind = "not_found"

	// KindInvalidParameters means tool parameter validation failed.
	KindInvalidParameters Kind = "invalid_parameters"

	// KindUpstreamUnavailable means the identity or backend service could not be reached.
	KindUpstreamUnavailable Kind = "upstream_unavailable"

	// KindServerError covers any unanticipated internal fault.
	KindServerError Kind = "server_error"
)

// messages is the fixed user-facing catalog. Callers never see raw upstream
// error bodies; parameter-validation detail is the one exception because it
// only reflects the caller's own input.
var messages = map[Kind]string{
	KindUnauthenticated:     "authentication required: provide a valid API key",
	KindRateLimited:         "rate limit exceeded",
	KindNotFound:            "unknown tool",
	KindInvalidParameters:   "invalid tool parameters",
	KindUpstreamUnavailable: "service temporarily unavailable",
	KindServerError:         "internal server error",
}

// statuses maps each kind to its HTTP status code.
var statuses = map[Kind]int{
	KindUnauthenticated:     http.StatusUnauthorized,
	KindRateLimited:         http.StatusTooManyRequests,
	KindNotFound:            http.StatusNotFound,
	KindInvalidParameters:   http.StatusBadRequest,
	KindUpstreamUnavailable: http.StatusServiceUnavailable,
	KindServerError:         http.StatusInternalServerError,
}

// Error is the taxonomy error type. Detail is only populated for
// KindInvalidParameters (offending field names) and KindNotFound
// (available tool names).
type Error struct {
	Kind       Kind
	Detail     any
	RetryAfter time.Duration
	cause      error
}

// New creates a taxonomy error of the given kind.
func New(kind Kind) *Error {
	return &Error{Kind: kind}
}

// Wrap creates a taxonomy error of the given kind with an internal cause.
// The cause is for logs only and is never exposed to the caller.
func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, cause: cause}
}

// WithDetail attaches caller-safe detail to the error.
func (e *Error) WithDetail(detail any) *Error {
	e.Detail = detail
	return e
}

// WithRetryAfter attaches a retry hint, surfaced for KindRateLimited.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// Error implements the error interface. The string includes the cause and is
// therefore log-facing, not caller-facing.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.cause)
	}
	return string(e.Kind)
}

// Unwrap exposes the internal cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.cause
}

// Message returns the fixed user-facing message for the error's kind.
func (e *Error) Message() string {
	if msg, ok := messages[e.Kind]; ok {
		return msg
	}
	return messages[KindServerError]
}

// Status returns the HTTP status code for the error's kind.
func (e *Error) Status() int {
	if code, ok := statuses[e.Kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// From coerces any error into a taxonomy error. Non-taxonomy errors become
// KindServerError with the original as cause.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Wrap(KindServerError, err)
}
