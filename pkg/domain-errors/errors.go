// Package domainerrors provides coded errors for domain logic.
//
// Stores and infrastructure return sentinel errors (pkg/platform/sentinel);
// services translate those facts into coded errors that transport layers can
// map onto HTTP statuses without string matching.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain failure.
type Code string

const (
	CodeInvalidInput           Code = "invalid_input"
	CodeBadRequest             Code = "bad_request"
	CodeNotFound               Code = "not_found"
	CodeInternal               Code = "internal"
	CodeMissingReferenceData   Code = "missing_reference_data"
	CodeNoLaboratoryAvailable  Code = "no_laboratory_available"
	CodeStateTransitionDenied  Code = "state_transition_violation"
	CodeActorNotAuthorized     Code = "actor_not_authorized"
	CodeHashMismatch           Code = "hash_mismatch"
	CodeDispatchFailed         Code = "dispatch_failed"
	CodeAnchorWriteFailed      Code = "anchor_write_failed"
	CodeInvariantViolation     Code = "invariant_violation"
	CodeUnavailable            Code = "unavailable"
)

// Error carries a code plus a human-oriented message. It wraps an optional
// cause so errors.Is/As keep working through the domain layer.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a coded error without a cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(code Code, message string, cause error) error {
	return &Error{Code: code, Message: message, cause: cause}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Is is an alias of HasCode kept for call-site readability.
func Is(err error, code Code) bool { return HasCode(err, code) }

// CodeOf extracts the code from err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a code to the status the transport layer should emit.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput, CodeBadRequest:
		return http.StatusBadRequest
	case CodeNotFound, CodeMissingReferenceData:
		return http.StatusNotFound
	case CodeActorNotAuthorized:
		return http.StatusForbidden
	case CodeStateTransitionDenied, CodeInvariantViolation:
		return http.StatusConflict
	case CodeHashMismatch:
		return http.StatusConflict
	case CodeNoLaboratoryAvailable, CodeUnavailable, CodeAnchorWriteFailed, CodeDispatchFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
