package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an application error for the API layer
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindInvalidArgument    Kind = "invalid_argument"
	KindPreconditionFailed Kind = "precondition_failed"
	KindExternal           Kind = "external_failure"
	KindInternal           Kind = "internal"
)

// Error is an application error carrying a kind and, for validation
// failures, the offending field.
type Error struct {
	Kind    Kind
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new application error
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// NotFound reports a missing project, block or ledger row
func NotFound(message string) *Error {
	return New(KindNotFound, message, nil)
}

// Invalid reports a malformed payload for the given field
func Invalid(field, message string) *Error {
	return &Error{Kind: KindInvalidArgument, Field: field, Message: message}
}

// Precondition reports an operation that needs prior state
func Precondition(message string) *Error {
	return New(KindPreconditionFailed, message, nil)
}

// External wraps a failure of a remote collaborator
func External(message string, err error) *Error {
	return New(KindExternal, message, err)
}

// KindOf returns the kind of err, or KindInternal for foreign errors
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err is an application error of the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// FieldOf returns the offending field of a validation error, if any
func FieldOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}
