package engine

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrTimeout     = errors.New("engine timeout")
	ErrRejected    = errors.New("engine rejected request")
	ErrUnavailable = errors.New("engine unavailable")
)

// Code is the failure class of a consult
type Code string

const (
	CodeTimeout     Code = "timeout"
	CodeRejected    Code = "rejected"
	CodeUnavailable Code = "unavailable"
)

func (c Code) sentinel() error {
	switch c {
	case CodeTimeout:
		return ErrTimeout
	case CodeRejected:
		return ErrRejected
	default:
		return ErrUnavailable
	}
}

// Retryable reports whether the gateway may try again
func (c Code) Retryable() bool {
	return c != CodeRejected
}

// Error is the typed failure returned by Gateway.Consult
type Error struct {
	Kind     Kind
	Code     Code
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s engine %s after %d attempt(s): %v", e.Kind, e.Code, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the failure class
func (e *Error) Is(target error) bool {
	return target == e.Code.sentinel()
}

// Rejected marks err as a non-retryable rejection
func Rejected(err error) error {
	return fmt.Errorf("%w: %v", ErrRejected, err)
}

// Unavailable marks err as transient
func Unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// classify maps a backend error to a failure class. callCtx is the per-attempt
// context so a per-attempt deadline reads as a timeout.
func classify(err error, callCtx context.Context) Code {
	switch {
	case errors.Is(err, ErrRejected):
		return CodeRejected
	case errors.Is(err, ErrTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return CodeTimeout
	default:
		return CodeUnavailable
	}
}
