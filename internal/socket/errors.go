package socket

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionClosed is returned when an operation is attempted on a session
	// that has already closed. Use CloseReason for the cause.
	ErrSessionClosed = errors.New("socket: session closed")

	// ErrAwaitTimeout is returned when a frame waiter exceeds its deadline.
	ErrAwaitTimeout = errors.New("socket: frame await timed out")

	// ErrAuthRejected is returned when the server answers the handshake with
	// an authentication.error frame.
	ErrAuthRejected = errors.New("socket: authentication rejected")
)

// Close codes for reasons that originate inside the client rather than on the
// wire. Wire-originated closes keep their WebSocket close code.
const (
	CodeClientClosed = 4800
	CodeLivenessLost = 4801
)

// CloseError describes why a session ended: the close code, a human-readable
// reason, and the underlying error when one exists.
type CloseError struct {
	Code   int
	Reason string
	Err    error
}

func (e *CloseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("socket: closed (code=%d, reason=%q): %v", e.Code, e.Reason, e.Err)
	}
	return fmt.Sprintf("socket: closed (code=%d, reason=%q)", e.Code, e.Reason)
}

func (e *CloseError) Unwrap() error {
	return e.Err
}

// State is the lifecycle position of a session. A Session walks Connecting →
// Authenticating → Connected → Closed; Reconnecting is held by the owner
// between two sessions of the same logical connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}
