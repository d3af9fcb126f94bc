package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases.
// Use errors.Is() to check against these.
var (
	// ErrSessionAbsent marks "nobody is signed in". It is an outcome, not a
	// failure: read paths translate it into an absent value.
	ErrSessionAbsent = errors.New("no authenticated session")

	// ErrNotAuthenticated is returned by operations that need an application
	// user before any network call is made.
	ErrNotAuthenticated = errors.New("must be authenticated: sign in to continue")

	ErrContractViolation = errors.New("backend contract violation")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotFound          = errors.New("not found")
	ErrUpstreamError     = errors.New("upstream error")
)

// HTTPError is returned by the gateway for any non-2xx response.
// Message is the backend's JSON "message" when it sent one, otherwise
// "<status> <statusText>".
type HTTPError struct {
	StatusCode int
	Status     string // status text, e.g. "Not Found"
	Message    string
	Location   string // redirect target of a 3xx response
}

func (e *HTTPError) Error() string {
	return e.Message
}

// Is lets callers match HTTP errors against the broad sentinels.
func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == 401 || e.StatusCode == 403
	case ErrNotFound:
		return e.StatusCode == 404
	case ErrInvalidRequest:
		return e.StatusCode == 400 || e.StatusCode == 422
	case ErrUpstreamError:
		return e.StatusCode >= 500
	}
	return false
}

// NewHTTPError builds an HTTPError, falling back to "<status> <statusText>"
// when the backend did not supply a message.
func NewHTTPError(statusCode int, statusText, message string) *HTTPError {
	if message == "" {
		message = fmt.Sprintf("%d %s", statusCode, statusText)
	}
	return &HTTPError{
		StatusCode: statusCode,
		Status:     statusText,
		Message:    message,
	}
}

// IsRedirect reports whether the response was a 3xx the gateway did not follow.
func (e *HTTPError) IsRedirect() bool {
	return e.StatusCode >= 300 && e.StatusCode < 400
}

// IsStatus reports whether err carries an HTTPError with one of the given codes.
func IsStatus(err error, codes ...int) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	for _, code := range codes {
		if httpErr.StatusCode == code {
			return true
		}
	}
	return false
}

// ContractViolation is returned when the backend answered with success but
// left out a field the operation cannot continue without.
type ContractViolation struct {
	Operation string // e.g. "checkout"
	Field     string // e.g. "id"
	Detail    string // optional actionable text
}

func (e *ContractViolation) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Operation, e.Detail)
	}
	return fmt.Sprintf("%s: backend response is missing %q", e.Operation, e.Field)
}

func (e *ContractViolation) Unwrap() error {
	return ErrContractViolation
}

// NewContractViolation creates a ContractViolation with actionable detail text.
func NewContractViolation(operation, field, detail string) *ContractViolation {
	return &ContractViolation{
		Operation: operation,
		Field:     field,
		Detail:    detail,
	}
}

// NewValidationError wraps ErrInvalidRequest with the offending field.
func NewValidationError(field, reason string) error {
	return fmt.Errorf("%w: invalid %s: %s", ErrInvalidRequest, field, reason)
}
