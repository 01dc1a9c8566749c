package wire

import "errors"

var (
	// ErrNotFound is returned when a person or room cannot be located after
	// exhausting the server queries.
	ErrNotFound = errors.New("wire: not found")

	// ErrNotPairRoom is returned when a pair-room-only operation is attempted
	// on another room type.
	ErrNotPairRoom = errors.New("wire: not a pair room")

	// ErrInvalidStatus is returned when a status update names anything other
	// than idle or active.
	ErrInvalidStatus = errors.New(`wire: status must be "idle" or "active"`)

	// ErrNotConnected is returned when a socket RPC is attempted before
	// Connect has established a session.
	ErrNotConnected = errors.New("wire: socket not connected")

	// ErrNoLoginMethod is returned by From when the config carries no
	// credentials, and ErrAmbiguousLogin when it carries more than one kind.
	ErrNoLoginMethod  = errors.New("wire: no login method configured")
	ErrAmbiguousLogin = errors.New("wire: more than one login method configured")

	// ErrNoAuthCookie is returned when a login or impersonation response did
	// not set the tw-auth cookie.
	ErrNoAuthCookie = errors.New("wire: response did not set the tw-auth cookie")
)
