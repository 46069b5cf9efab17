// Package apperrors defines the domain error taxonomy shared by the stores,
// the shutdown gate, and the HTTP handlers. Every error carries a
// machine-readable kind so API responses stay structured.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"

	"labpower/models"
)

// Kind is the machine-readable error classification.
type Kind string

const (
	KindNotFound         Kind = "NOT_FOUND"
	KindForbidden        Kind = "FORBIDDEN"
	KindConflict         Kind = "CONFLICT"
	KindInvalidState     Kind = "INVALID_STATE"
	KindValidation       Kind = "VALIDATION"
	KindChecklistBlocked Kind = "CHECKLIST_BLOCKED"
)

// Error is a domain error with a kind and a human-readable message.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"error"`
}

func (e *Error) Error() string {
	return e.Message
}

// NotFound reports an unknown identifier.
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Forbidden reports an authenticated but unauthorized request.
func Forbidden(format string, args ...interface{}) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

// Conflict reports a duplicate unique key.
func Conflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// InvalidState reports an operation inapplicable to the entity's current
// state, e.g. shutting down a device that is already off.
func InvalidState(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

// Validation reports malformed input.
func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// ChecklistBlockedError is returned when a shutdown is refused because
// critical checklist items are incomplete. It always carries the complete
// list so callers can render the full remediation checklist, never just the
// first offender.
type ChecklistBlockedError struct {
	IncompleteItems []models.IncompleteTask `json:"incompleteItems"`
}

func (e *ChecklistBlockedError) Error() string {
	return fmt.Sprintf("cannot shutdown: %d critical checklist items incomplete", len(e.IncompleteItems))
}

// KindOf extracts the taxonomy kind from err, or "" if err is not a domain error.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	var blocked *ChecklistBlockedError
	if errors.As(err, &blocked) {
		return KindChecklistBlocked
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a domain error to its HTTP status code. Unclassified
// errors map to 500.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindInvalidState, KindValidation, KindChecklistBlocked:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
