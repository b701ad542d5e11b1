// Package service implements the reservation lifecycle on top of the
// durable store and the completion registry.
package service

import (
	"errors"
	"fmt"
)

// Kind classifies a service failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindNotFound
	KindConflict
	KindInvalidState
	// KindNotDue means the reservation is still ACTIVE and its end time is
	// after the completion instant.
	KindNotDue
	// KindTransient wraps store and registry I/O failures.  Retrying may
	// succeed.
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid input"
	case KindNotFound:
		return "not found"
	case KindConflict:
		return "conflict"
	case KindInvalidState:
		return "invalid state"
	case KindNotDue:
		return "not due"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Error is the error type returned by every service operation.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the bare sentinels below by kind, so errors.Is(err,
// ErrNotFound) holds for any NotFound error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Message != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrInvalidInput = &Error{Kind: KindInvalidInput}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrConflict     = &Error{Kind: KindConflict}
	ErrInvalidState = &Error{Kind: KindInvalidState}
	ErrNotDue       = &Error{Kind: KindNotDue}
	ErrTransient    = &Error{Kind: KindTransient}
)

// KindOf returns the kind of err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func invalidInput(msg string) error { return &Error{Kind: KindInvalidInput, Message: msg} }
func notFound(msg string) error     { return &Error{Kind: KindNotFound, Message: msg} }
func conflict(msg string) error     { return &Error{Kind: KindConflict, Message: msg} }
func invalidState(msg string) error { return &Error{Kind: KindInvalidState, Message: msg} }

func transient(op string, err error) error {
	return &Error{Kind: KindTransient, Message: op, Err: err}
}

// wrap passes service errors through and classifies everything else as a
// transient failure of op.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return transient(op, err)
}
