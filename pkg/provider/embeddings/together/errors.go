package together

import (
	"errors"
	"net/http"
)

// errorPrefix names the call context on every error surfaced by this package.
const errorPrefix = "Error calling Together AI API: "

// genericFailure is used when the API omits both data and an error message.
const genericFailure = "response did not contain embedding data"

// ErrCall matches every error returned by [Provider.Generate] and the methods
// built on it. Use errors.As with *[Error] to inspect details.
var ErrCall = errors.New("together: api call failed")

// Error is the single error kind returned by the Together adapter. It covers
// transport failures, unreadable or malformed responses, and API-reported
// errors; Message distinguishes them.
type Error struct {
	// StatusCode is the HTTP status of the response, or 0 when no response was
	// received.
	StatusCode int

	// Message is the human-readable cause. For API-reported errors it is the
	// API's message verbatim.
	Message string

	// Err is the underlying cause for transport and decoding failures. It is
	// nil for API-reported errors.
	Err error
}

// Error implements error.
func (e *Error) Error() string {
	return errorPrefix + e.Message
}

// Unwrap exposes both [ErrCall] and the underlying cause so that errors.Is
// works for either (e.g. context.DeadlineExceeded).
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrCall}
	}
	return []error{ErrCall, e.Err}
}

// APIReported reports whether the error carries a message produced by the
// remote API rather than a local transport or decoding failure.
func (e *Error) APIReported() bool {
	return e.Err == nil
}

// Unauthorized reports whether the API rejected the credential.
func (e *Error) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

func wrapErr(status int, err error) *Error {
	return &Error{StatusCode: status, Message: err.Error(), Err: err}
}

func apiErr(status int, msg string) *Error {
	return &Error{StatusCode: status, Message: msg}
}
