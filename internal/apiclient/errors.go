// Package apiclient provides an HTTP client for the cloudferry broker API
// with automatic retry, rate limiting, error classification, and the
// upload-session protocol shared by the Drive and OneDrive adapters.
package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// genericErrorMessage is shown for transport-level failures and unstructured
// error bodies. Raw transport details are never surfaced to callers.
const genericErrorMessage = "something went wrong"

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, apiclient.ErrNotFound) to check.
var (
	ErrBadRequest          = errors.New("apiclient: bad request")
	ErrUnauthorized        = errors.New("apiclient: unauthorized")
	ErrForbidden           = errors.New("apiclient: forbidden")
	ErrNotFound            = errors.New("apiclient: not found")
	ErrConflict            = errors.New("apiclient: conflict")
	ErrThrottled           = errors.New("apiclient: throttled")
	ErrInsufficientStorage = errors.New("apiclient: insufficient storage")
	ErrServerError         = errors.New("apiclient: server error")
)

// Error wraps a sentinel error with the HTTP status code and the message to
// surface to the user. Structured API error bodies keep their backend-provided
// message; everything else gets genericErrorMessage.
type Error struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *Error) Error() string {
	return fmt.Sprintf("apiclient: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError reports a request that is invalid before any network
// call is made (unmapped export mimeType, missing URL parameter, malformed
// composite identifier). Classified as a 400.
func NewValidationError(format string, args ...any) *Error {
	return &Error{
		StatusCode: http.StatusBadRequest,
		Message:    fmt.Sprintf(format, args...),
		Err:        ErrBadRequest,
	}
}

// StatusError builds an Error for a non-2xx provider-native response with
// the given user-facing message, classified by status code. Used by adapters
// whose direct provider calls bypass Do.
func StatusError(statusCode int, format string, args ...any) *Error {
	return &Error{
		StatusCode: statusCode,
		Message:    fmt.Sprintf(format, args...),
		Err:        classifyStatus(statusCode),
	}
}

// ItemFailure attributes one failed item of a batch operation.
type ItemFailure struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// PartialError reports a 2xx response that nonetheless carried a non-empty
// per-item error list. Every failed item is enumerated so callers can report
// failures per file instead of one opaque message.
type PartialError struct {
	Failures []ItemFailure
}

func (e *PartialError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %s", f.Name, f.Error)
	}

	return "apiclient: partial failure: " + strings.Join(parts, "; ")
}

// errorBody is the structured error envelope the broker returns alongside
// both 2xx partial failures and non-2xx responses.
type errorBody struct {
	Errors []ItemFailure `json:"errors"`
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	case http.StatusInsufficientStorage:
		return ErrInsufficientStorage
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// newStatusError builds the Error for a non-2xx response. If the body carries
// a structured {errors:[{name,error}]} envelope the first error's message is
// preserved verbatim; otherwise the message is the generic one.
func newStatusError(statusCode int, body []byte) *Error {
	message := genericErrorMessage

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && len(eb.Errors) > 0 {
		message = eb.Errors[0].Error
	}

	return &Error{
		StatusCode: statusCode,
		Message:    message,
		Err:        classifyStatus(statusCode),
	}
}

// checkPartialFailure inspects a 2xx response body for a non-empty error
// list. An absent or empty list means full success — an empty-but-present
// `errors: []` is NOT a failure.
func checkPartialFailure(body []byte) error {
	if len(body) == 0 {
		return nil
	}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		// Non-JSON 2xx bodies are fine (raw bytes endpoints).
		return nil
	}

	if len(eb.Errors) == 0 {
		return nil
	}

	return &PartialError{Failures: eb.Errors}
}
