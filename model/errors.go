package model

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	ErrBadRequest      = "BAD_REQUEST"
	ErrNotFound        = "NOT_FOUND"
	ErrConflict        = "CONFLICT"
	ErrValidationError = "VALIDATION_ERROR"
	ErrInternalError   = "INTERNAL_ERROR"
)

// Draft-synchronization error codes. Every network-origin or draft-origin
// failure the core produces carries one of these.
const (
	// ErrSessionInvalid is raised for any 401. It is recovered by the session
	// teardown side effect, never rendered as an inline form error.
	ErrSessionInvalid = "SESSION_INVALID"
	// ErrRequestFailed covers non-2xx (other than 401), success:false bodies
	// and transport failures.
	ErrRequestFailed = "REQUEST_FAILED"
	// ErrDraftCorrupt marks a persisted draft that could not be decoded. It is
	// logged and treated as absent.
	ErrDraftCorrupt = "DRAFT_CORRUPT"
	// ErrDraftSerialization marks a draft that could not be persisted. It is
	// surfaced as a non-blocking warning.
	ErrDraftSerialization = "DRAFT_SERIALIZATION"
	// ErrSubmitInProgress rejects a second submit while one is outstanding.
	ErrSubmitInProgress = "SUBMIT_IN_PROGRESS"
	// ErrInvalidState rejects an operation the form state machine does not
	// allow in its current state.
	ErrInvalidState = "INVALID_STATE"
)

// DefaultRequestFailedMessage is used when neither the status line nor the
// body carries a human-readable reason.
const DefaultRequestFailedMessage = "Request failed"

// ErrorEnvelope is the standard error value produced by the core and returned
// by the HTTP API. It implements the error interface.
type ErrorEnvelope struct {
	Code     string       `json:"code"`
	Message  string       `json:"message"`
	Details  []FieldError `json:"details,omitempty"`
	Status   int          `json:"status,omitempty"`
	Redirect string       `json:"redirect,omitempty"`
	TraceID  string       `json:"trace_id,omitempty"`

	cause error
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *ErrorEnvelope) Unwrap() error {
	return e.cause
}

// Is matches another envelope with the same code, so callers can write
// errors.Is(err, &model.ErrorEnvelope{Code: model.ErrSessionInvalid}).
func (e *ErrorEnvelope) Is(target error) bool {
	t, ok := target.(*ErrorEnvelope)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithCause returns a copy of the envelope wrapping cause.
func (e *ErrorEnvelope) WithCause(cause error) *ErrorEnvelope {
	cp := *e
	cp.cause = cause
	return &cp
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CodeOf returns the envelope code carried by err, or "" if err does not wrap
// an ErrorEnvelope.
func CodeOf(err error) string {
	var ee *ErrorEnvelope
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// IsCode reports whether err wraps an ErrorEnvelope with the given code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewSessionInvalidError returns a SESSION_INVALID error pointing the caller
// at the login boundary.
func NewSessionInvalidError(redirect string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:     ErrSessionInvalid,
		Message:  "Your session has expired. Please sign in again.",
		Status:   401,
		Redirect: redirect,
	}
}

// NewRequestFailedError returns a REQUEST_FAILED error. An empty message is
// replaced with DefaultRequestFailedMessage.
func NewRequestFailedError(status int, msg string) *ErrorEnvelope {
	if msg == "" {
		msg = DefaultRequestFailedMessage
	}
	return &ErrorEnvelope{Code: ErrRequestFailed, Message: msg, Status: status}
}

// NewDraftCorruptError returns a DRAFT_CORRUPT error for the given key.
func NewDraftCorruptError(key string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrDraftCorrupt,
		Message: fmt.Sprintf("draft %q could not be decoded", key),
	}
}

// NewDraftSerializationError returns a DRAFT_SERIALIZATION warning.
func NewDraftSerializationError(key string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrDraftSerialization,
		Message: fmt.Sprintf("Draft saving is unavailable for %q in this session", key),
	}
}

// NewSubmitInProgressError returns a SUBMIT_IN_PROGRESS error.
func NewSubmitInProgressError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrSubmitInProgress,
		Message: "A submission is already in progress",
	}
}

// NewInvalidStateError returns an INVALID_STATE error.
func NewInvalidStateError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidState, Message: msg}
}
