package wire

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/teamwork/chat-go/internal/rest"
)

// RoomsFilter narrows a conversation listing.
type RoomsFilter struct {
	// Since keeps only rooms with activity after the given time.
	Since time.Time
	// Status filters by room status, e.g. "all".
	Status string
	// Search matches room titles.
	Search string
	// IncludeUsers and IncludeMessages ask the server to embed the people
	// list and the latest message.
	IncludeUsers    bool
	IncludeMessages bool
	// Sort defaults to lastActivityAt.
	Sort string
}

// GetRoom fetches one room. includeUserData embeds the people list.
func (c *Client) GetRoom(ctx context.Context, id int64, includeUserData bool) (*RoomPayload, error) {
	var out roomResponse
	err := c.rest.Do(ctx, fmt.Sprintf("chat/v2/rooms/%d.json", id), rest.Options{
		Query: rest.Query{"includeUserData": includeUserData},
	}, &out)
	if err != nil {
		return nil, notFoundOn404(err, fmt.Errorf("get room %d: %w", id, err))
	}
	return &out.Room, nil
}

// GetRooms lists the conversations the current user belongs to.
func (c *Client) GetRooms(ctx context.Context, filter RoomsFilter, offset, limit *int) (*Page[RoomPayload], error) {
	sort := filter.Sort
	if sort == "" {
		sort = "lastActivityAt"
	}
	query := rest.Query{"sort": sort}
	if filter.IncludeUsers {
		query["includeUserData"] = true
	}
	if filter.IncludeMessages {
		query["includeMessageData"] = true
	}
	f := rest.Query{}
	if !filter.Since.IsZero() {
		f["activityAfter"] = filter.Since
	}
	if filter.Status != "" {
		f["status"] = filter.Status
	}
	if filter.Search != "" {
		f["searchTerm"] = filter.Search
	}
	if len(f) > 0 {
		query["filter"] = f
	}

	var out roomsResponse
	err := c.rest.List(ctx, "chat/v3/conversations.json", rest.ListOptions{Offset: offset, Limit: limit, Query: query}, &out)
	if err != nil {
		return nil, fmt.Errorf("get rooms: %w", err)
	}
	return &Page[RoomPayload]{Items: out.Conversations, Offset: out.Offset, Limit: out.Limit, Total: out.Total}, nil
}

// CreateRoom creates a room server-side holding the given handles and an
// initial message, returning the new room id.
func (c *Client) CreateRoom(ctx context.Context, handles []string, message string) (int64, error) {
	var out createdRoomResponse
	err := c.rest.Do(ctx, "chat/v2/rooms.json", rest.Options{
		Method: http.MethodPost,
		Body: map[string]any{
			"room": map[string]any{
				"handles": handles,
				"message": map[string]any{"body": message},
			},
		},
	}, &out)
	if err != nil {
		return 0, fmt.Errorf("create room: %w", err)
	}
	return out.Room.ID, nil
}

// DeleteRoom removes a room.
func (c *Client) DeleteRoom(ctx context.Context, id int64) error {
	err := c.rest.Do(ctx, fmt.Sprintf("chat/rooms/%d.json", id), rest.Options{Method: http.MethodDelete}, nil)
	if err != nil {
		return notFoundOn404(err, fmt.Errorf("delete room %d: %w", id, err))
	}
	return nil
}

// UpdateRoomTitle renames a conversation.
func (c *Client) UpdateRoomTitle(ctx context.Context, id int64, title string) error {
	err := c.rest.Do(ctx, fmt.Sprintf("chat/v2/conversations/%d.json", id), rest.Options{
		Method: http.MethodPut,
		Body:   map[string]any{"conversation": map[string]any{"title": title}},
	}, nil)
	if err != nil {
		return fmt.Errorf("update room %d title: %w", id, err)
	}
	return nil
}

// ClearRoomHistory hides a pair room's history before the given message for
// the current user. A zero beforeID defaults to the most recent message.
func (c *Client) ClearRoomHistory(ctx context.Context, roomID, beforeID int64) error {
	room, err := c.GetRoom(ctx, roomID, false)
	if err != nil {
		return err
	}
	if room.Type != "pair" {
		return fmt.Errorf("clear history of %s room %d: %w", room.Type, roomID, ErrNotPairRoom)
	}

	if beforeID == 0 {
		msgs, err := c.GetRoomMessages(ctx, roomID)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}
		beforeID = msgs[len(msgs)-1].ID
	}

	err = c.rest.Do(ctx, fmt.Sprintf("chat/v2/conversations/%d/user-settings.json", roomID), rest.Options{
		Method: http.MethodPut,
		Body:   map[string]any{"userSettings": map[string]any{"messageIdHistoryStartsAfter": beforeID}},
	}, nil)
	if err != nil {
		return fmt.Errorf("clear room %d history: %w", roomID, err)
	}
	return nil
}
