package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a missing user, conversation or message.
	ErrNotFound = errors.New("not found")
	// ErrInvalid marks input rejected before any I/O.
	ErrInvalid = errors.New("invalid input")
	// ErrUnauthenticated is returned when an action needs a signed-in user.
	ErrUnauthenticated = errors.New("not signed in")
	// ErrDisconnected marks a broken live subscription.
	ErrDisconnected = errors.New("subscription disconnected")
)

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string // user, conversation, message
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ValidationError describes rejected input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

// Invalid is shorthand for a *ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
