package services

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package matches exactly one of
// these with errors.Is; anything else is an internal failure.
var (
	ErrValidation        = errors.New("validation error")
	ErrConfigMissing     = errors.New("configuration missing")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrTransport         = errors.New("transport error")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrForbidden         = errors.New("forbidden")
	ErrQuotaExceeded     = errors.New("quota exceeded")
)

// Error is a classified error with a client-safe message.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Msg {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func validationError(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Msg: fmt.Sprintf(format, args...)}
}

func notFoundError(what string) error {
	return &Error{Kind: ErrNotFound, Msg: what + " not found"}
}

func conflictError(msg string) error {
	return &Error{Kind: ErrConflict, Msg: msg}
}

func forbiddenError(msg string) error {
	return &Error{Kind: ErrForbidden, Msg: msg}
}

// Message returns the client-facing text of a classified error.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return err.Error()
}
