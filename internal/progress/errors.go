package progress

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindBadRequest      Kind = "bad_request"
	KindUnauthorized    Kind = "unauthorized"
	KindForbidden       Kind = "forbidden"
	KindNotFound        Kind = "not_found"
	KindTooManyRequests Kind = "too_many_requests"
	KindInternal        Kind = "internal"
)

// Error is returned by every Service operation. Message is safe to show to callers;
// Err carries the underlying cause for logs only.
type Error struct {
	Kind    Kind
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// BadRequest builds a validation failure for transports that validate before calling in.
func BadRequest(message string, details any) *Error {
	return &Error{Kind: KindBadRequest, Message: message, Details: details}
}

// KindOf reports the kind of err, treating unknown errors as internal.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindInternal
}
