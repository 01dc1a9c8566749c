package wire

import (
	"context"
	"fmt"
	"time"

	"github.com/teamwork/chat-go/internal/frame"
	"github.com/teamwork/chat-go/internal/rest"
)

// SendMessage sends a message over the socket and returns the server-assigned
// message from the correlated reply.
func (c *Client) SendMessage(ctx context.Context, roomID int64, body string) (*MessagePayload, error) {
	sess, err := c.Session()
	if err != nil {
		return nil, err
	}
	reply, err := sess.Request(ctx, frame.NameRoomMessageCreated, map[string]any{
		"roomId": roomID,
		"body":   body,
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("send message to room %d: %w", roomID, err)
	}
	var msg MessagePayload
	if err := reply.Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Typing announces the typing state in a room and waits for the server to
// echo it back for the current user.
func (c *Client) Typing(ctx context.Context, roomID int64, isTyping bool) error {
	sess, err := c.Session()
	if err != nil {
		return err
	}
	echo := frame.Filter{
		Type: frame.NameRoomTyping,
		Contents: map[string]any{
			"userId":   c.account.ID,
			"roomId":   roomID,
			"isTyping": isTyping,
		},
	}
	contents := TypingContents{RoomID: roomID, IsTyping: isTyping}
	if _, err := sess.SendEventAwait(ctx, frame.NameRoomTyping, contents, echo, 0); err != nil {
		return fmt.Errorf("typing in room %d: %w", roomID, err)
	}
	return nil
}

// ActivateRoom marks the room active as of now and waits for the server's
// acknowledgement, which echoes the submitted date as activeAt.
func (c *Client) ActivateRoom(ctx context.Context, roomID int64) error {
	sess, err := c.Session()
	if err != nil {
		return err
	}
	date := time.Now().UTC().Format(rest.TimeFormat)
	echo := frame.Filter{
		Type: frame.NameRoomUserActive,
		Contents: map[string]any{
			"roomId":   roomID,
			"activeAt": date,
		},
	}
	contents := RoomUserActiveContents{RoomID: roomID, Date: date}
	if _, err := sess.SendEventAwait(ctx, frame.NameRoomUserActive, contents, echo, 0); err != nil {
		return fmt.Errorf("activate room %d: %w", roomID, err)
	}
	return nil
}

// UpdateStatus sets the current user's status to idle or active. The server
// replies only on a real change, so this is fire-and-forget.
func (c *Client) UpdateStatus(ctx context.Context, status string) error {
	if status != "idle" && status != "active" {
		return fmt.Errorf("status %q: %w", status, ErrInvalidStatus)
	}
	sess, err := c.Session()
	if err != nil {
		return err
	}
	return sess.SendEvent(frame.NameUserModifiedStatus, StatusContents{Status: status})
}

// UnseenCounts asks the server for the unseen room and conversation counts.
func (c *Client) UnseenCounts(ctx context.Context) (*UnseenCounts, error) {
	sess, err := c.Session()
	if err != nil {
		return nil, err
	}
	reply, err := sess.Request(ctx, frame.NameUnseenCountsRequest, nil, 0)
	if err != nil {
		return nil, fmt.Errorf("unseen counts: %w", err)
	}
	var counts UnseenCounts
	if err := reply.Decode(&counts); err != nil {
		return nil, err
	}
	return &counts, nil
}
