package wire

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/teamwork/chat-go/internal/rest"
)

// MessagesFilter narrows the cross-room message listing.
type MessagesFilter struct {
	CreatedAfter time.Time
	// Page is 1-based; zero leaves the server default.
	Page     int
	PageSize int
}

// GetRoomMessages fetches a room's message log.
func (c *Client) GetRoomMessages(ctx context.Context, roomID int64) ([]MessagePayload, error) {
	var out messagesResponse
	err := c.rest.Do(ctx, fmt.Sprintf("chat/v2/rooms/%d/messages.json", roomID), rest.Options{}, &out)
	if err != nil {
		return nil, notFoundOn404(err, fmt.Errorf("get room %d messages: %w", roomID, err))
	}
	return out.Messages, nil
}

// SendMessageREST posts a message over HTTP rather than the socket.
func (c *Client) SendMessageREST(ctx context.Context, roomID int64, body string) (*MessagePayload, error) {
	var out messageResponse
	err := c.rest.Do(ctx, fmt.Sprintf("chat/rooms/%d/messages.json", roomID), rest.Options{
		Method: http.MethodPost,
		Body:   map[string]any{"message": map[string]any{"body": body}},
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("send message to room %d: %w", roomID, err)
	}
	return &out.Message, nil
}

// DeleteMessages redacts messages in a room.
func (c *Client) DeleteMessages(ctx context.Context, roomID int64, ids []int64) error {
	err := c.rest.Do(ctx, fmt.Sprintf("chat/rooms/%d/messages.json", roomID), rest.Options{
		Method: http.MethodDelete,
		Body:   map[string]any{"ids": ids},
	}, nil)
	if err != nil {
		return fmt.Errorf("delete messages in room %d: %w", roomID, err)
	}
	return nil
}

// UndeleteMessages restores redacted messages to active.
func (c *Client) UndeleteMessages(ctx context.Context, roomID int64, ids []int64) error {
	messages := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		messages = append(messages, map[string]any{"id": id, "status": "active"})
	}
	err := c.rest.Do(ctx, fmt.Sprintf("chat/rooms/%d/messages.json", roomID), rest.Options{
		Method: http.MethodPut,
		Body:   map[string]any{"messages": messages},
	}, nil)
	if err != nil {
		return fmt.Errorf("undelete messages in room %d: %w", roomID, err)
	}
	return nil
}

// GetUserMessages lists the current user's messages across rooms, newest
// pages first per the server's paging.
func (c *Client) GetUserMessages(ctx context.Context, filter MessagesFilter) ([]MessagePayload, error) {
	query := rest.Query{}
	if !filter.CreatedAfter.IsZero() {
		query["createdAfter"] = filter.CreatedAfter
	}
	if filter.Page > 0 {
		query["page"] = filter.Page
	}
	if filter.PageSize > 0 {
		query["pageSize"] = filter.PageSize
	}

	var out messagesResponse
	err := c.rest.Do(ctx, "chat/v2/messages.json", rest.Options{Query: query}, &out)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	return out.Messages, nil
}
