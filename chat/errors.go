package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized means a private room's password was wrong or missing.
	ErrUnauthorized = errors.New("chat: not authorized for room")

	// ErrRoomNotFound means the referenced room does not exist.
	ErrRoomNotFound = errors.New("chat: room does not exist")

	// ErrNotJoined means the connection has no active session.
	ErrNotJoined = errors.New("chat: no active session for connection")

	// ErrInvalidMessage means the message content was empty or malformed.
	ErrInvalidMessage = errors.New("chat: invalid message content")
)

// ValidationError reports bad input rejected before any state change.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func validationErr(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}
