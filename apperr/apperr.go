// Package apperr classifies application errors so that every layer can tell
// a user mistake from a missing record, a storage fault or a remote failure.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrStorage    = errors.New("storage failure")
	ErrRemote     = errors.New("remote request failed")
	ErrBusy       = errors.New("request already in progress")
)

// GenericNotice is shown to the user for errors whose detail only belongs in the log.
const GenericNotice = "Something went wrong. Details were written to the log."

// Error carries a kind sentinel, a readable message and an optional cause.
type Error struct {
	kind  error
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.cause == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.cause}
}

// Message returns the message without the wrapped cause.
func (e *Error) Message() string {
	return e.msg
}

// Validation reports input that violates a rule.
func Validation(format string, args ...any) error {
	return &Error{kind: ErrValidation, msg: fmt.Sprintf(format, args...)}
}

// NotFound reports a reference to an entity that does not exist.
func NotFound(format string, args ...any) error {
	return &Error{kind: ErrNotFound, msg: fmt.Sprintf(format, args...)}
}

// Storage wraps a database fault.
func Storage(cause error, format string, args ...any) error {
	return &Error{kind: ErrStorage, msg: fmt.Sprintf(format, args...), cause: cause}
}

// Remote wraps a transport failure or a non-success response from the completion API.
func Remote(cause error, format string, args ...any) error {
	return &Error{kind: ErrRemote, msg: fmt.Sprintf(format, args...), cause: cause}
}

// Busy reports that a conflicting operation is still running.
func Busy(format string, args ...any) error {
	return &Error{kind: ErrBusy, msg: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsStorage(err error) bool    { return errors.Is(err, ErrStorage) }
func IsRemote(err error) bool     { return errors.Is(err, ErrRemote) }
func IsBusy(err error) bool       { return errors.Is(err, ErrBusy) }

// UserMessage returns text fit for a dialog. Validation and busy errors explain
// the violated rule; everything else collapses to GenericNotice.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if IsValidation(err) || IsBusy(err) {
		var e *Error
		if errors.As(err, &e) {
			return e.Message()
		}
		return err.Error()
	}
	return GenericNotice
}
