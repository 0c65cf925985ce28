package common

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for the HTTP boundary.
type Kind string

const (
	KindUnauthenticated    Kind = "unauthenticated"
	KindForbidden          Kind = "forbidden"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindInvalid            Kind = "invalid"
	KindProvisioningFailed Kind = "provisioning_failed"
	KindTimeout            Kind = "timeout"
	KindInternal           Kind = "internal"
)

// Error carries a kind and a client-safe message. Err holds the internal
// cause, which is logged but never rendered to clients.
type Error struct {
	Kind Kind
	Msg  string
	Op   string
	Err  error
}

// NewError creates a classified error.
func NewError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// WithOp records the operation that produced the error.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the outermost classified error in the chain.
// Deadline errors are reported as timeouts regardless of wrapping.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the client-safe message for err.
func MessageOf(err error) string {
	switch KindOf(err) {
	case KindTimeout:
		return "Request timed out"
	case KindInternal:
		return "Internal server error"
	}
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return "Internal server error"
}

// Unauthenticated is a shorthand used by the auth flows.
func Unauthenticated(msg string, err error) *Error {
	return NewError(KindUnauthenticated, msg, err)
}

// Invalid is a shorthand for input validation failures.
func Invalid(msg string) *Error {
	return NewError(KindInvalid, msg, nil)
}
