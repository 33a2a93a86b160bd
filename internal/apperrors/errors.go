// Package apperrors classifies failures so callers can map them to API
// responses without knowing where they came from.
package apperrors

import (
	"errors"
	"fmt"
)

// Classes. Match with errors.Is.
var (
	ErrValidation  = errors.New("validation error")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrLimit       = errors.New("limit exceeded")
	ErrUpstream    = errors.New("upstream error")
	ErrUnavailable = errors.New("service unavailable")
	ErrInternal    = errors.New("internal error")
)

// Reasons name the rule a request broke.
const (
	ReasonInvalidVariant = "invalid_variant"
	ReasonInvalidSource  = "invalid_source"
	ReasonStartFailed    = "start_failed"
)

// Error is a classified failure. It matches its class and, when set, its
// cause under errors.Is and errors.As.
type Error struct {
	Class   error
	Message string

	Reason   string // e.g. "invalid_variant"
	Field    string // request field at fault
	Resource string // "job", "container"
	ID       string
	Op       string // e.g. "github.dispatch"
	Cause    error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Class}
	}
	return []error{e.Class, e.Cause}
}

// Validation rejects a request field.
func Validation(field, reason, message string) error {
	return &Error{Class: ErrValidation, Message: message, Reason: reason, Field: field}
}

// NotFound reports an unknown resource ID.
func NotFound(resource, id string) error {
	return &Error{
		Class:    ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
		ID:       id,
	}
}

// Conflict reports an operation the resource's current state does not allow.
func Conflict(resource, id, message string) error {
	return &Error{Class: ErrConflict, Message: message, Resource: resource, ID: id}
}

// Limit reports a request refused because too many resources are active.
func Limit(resource string, limit int) error {
	return &Error{
		Class:    ErrLimit,
		Message:  fmt.Sprintf("too many active %ss (limit %d)", resource, limit),
		Resource: resource,
	}
}

// StartFailed reports an external run the runner could not launch.
func StartFailed(op string, cause error) error {
	e := &Error{
		Class:   ErrUpstream,
		Message: "failed to start external run",
		Reason:  ReasonStartFailed,
		Op:      op,
		Cause:   cause,
	}
	if cause != nil {
		e.Message += ": " + cause.Error()
	}
	return e
}

// Unavailable reports a request refused because the service is not
// accepting work, e.g. during shutdown.
func Unavailable(message string) error {
	return &Error{Class: ErrUnavailable, Message: message}
}

// Internal wraps a failure that is nobody's fault but ours.
func Internal(op string, cause error) error {
	return &Error{
		Class:   ErrInternal,
		Message: fmt.Sprintf("%s: %v", op, cause),
		Op:      op,
		Cause:   cause,
	}
}

// ReasonOf returns the Reason of the first *Error in err's chain.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}
