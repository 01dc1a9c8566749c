package chat

import (
	"errors"

	"github.com/teamwork/chat-go/internal/wire"
)

var (
	// ErrSessionClosed is returned by operations on a session that has been
	// closed.
	ErrSessionClosed = errors.New("chat: session closed")

	// ErrSendToSelf is returned when a message is addressed to the current
	// user.
	ErrSendToSelf = errors.New("chat: cannot send a message to yourself")

	// ErrRoomNotInitialized is returned when an operation other than
	// SendMessage is attempted on a room the server has not created yet.
	ErrRoomNotInitialized = errors.New("chat: room has not been created server-side")

	// ErrNotFound is returned when a person or room cannot be located in the
	// cache or on the server.
	ErrNotFound = wire.ErrNotFound

	// ErrInvalidStatus is returned when a status update names anything other
	// than idle or active.
	ErrInvalidStatus = wire.ErrInvalidStatus
)
