package server

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyMessage     = errors.New("message content cannot be empty")
	ErrMissingRecipient = errors.New("recipient cannot be empty")
	ErrInvalidProfile   = errors.New("init requires a user with an id")
	ErrUnknownEvent     = errors.New("unknown event type")

	errMissingType = errors.New("missing event type")
)

// ValidationError rejects an event because of its content. It is reported to
// the sending connection only.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps a message store failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ProtocolError marks an inbound frame that could not be decoded.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: %s", e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
