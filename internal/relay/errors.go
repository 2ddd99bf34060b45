package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPayload is wrapped by every ValidationError.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrUnauthenticated rejects identity-bearing events when RequireAuth is set.
	ErrUnauthenticated = errors.New("connection is not authenticated")
	// ErrIdentityPinned rejects authenticate on a transport-verified connection.
	ErrIdentityPinned = errors.New("identity was verified at handshake and cannot be changed")
	// ErrUnknownEvent is returned for event names the router does not handle.
	ErrUnknownEvent = errors.New("unknown event")

	// ErrSendQueueFull is returned by a Conn whose outbound buffer is full.
	ErrSendQueueFull = errors.New("send queue full")
	// ErrConnClosed is returned by a Conn that has already been closed.
	ErrConnClosed = errors.New("connection closed")
)

// ValidationError reports a missing or malformed required field.
type ValidationError struct {
	Event string
	Field string
}

func (e *ValidationError) Error() string {
	if e.Event == "" {
		return fmt.Sprintf("%s: missing %s", ErrInvalidPayload, e.Field)
	}
	return fmt.Sprintf("%s: %s requires %s", ErrInvalidPayload, e.Event, e.Field)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidPayload }
