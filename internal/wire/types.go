package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/teamwork/chat-go/internal/rest"
)

// Time wraps time.Time with the API's ISO 8601 millisecond serialisation.
// Nulls and absent fields decode to the zero Time.
type Time struct {
	time.Time
}

// NewTime returns a wire timestamp, truncated to milliseconds in UTC.
func NewTime(t time.Time) Time {
	return Time{t.UTC().Truncate(time.Millisecond)}
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.UTC().Format(rest.TimeFormat) + `"`), nil
}

func (t *Time) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode timestamp: %w", err)
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	t.Time = parsed
	return nil
}

// CompanyPayload is the company object nested inside person payloads.
type CompanyPayload struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// PersonPayload is the person JSON shape shared by REST responses and frame
// contents.
type PersonPayload struct {
	ID             int64           `json:"id"`
	Handle         string          `json:"handle"`
	FirstName      string          `json:"firstName"`
	LastName       string          `json:"lastName"`
	Email          string          `json:"email,omitempty"`
	Title          string          `json:"title,omitempty"`
	Status         string          `json:"status,omitempty"`
	LastActivityAt *Time           `json:"lastActivityAt,omitempty"`
	UpdatedAt      *Time           `json:"updatedAt,omitempty"`
	Company        *CompanyPayload `json:"company,omitempty"`
}

// MessagePayload is the message JSON shape shared by REST responses and frame
// contents. Body carries the message text.
type MessagePayload struct {
	ID              int64           `json:"id"`
	RoomID          int64           `json:"roomId,omitempty"`
	UserID          int64           `json:"userId"`
	Body            string          `json:"body"`
	CreatedAt       *Time           `json:"createdAt,omitempty"`
	EditedAt        *Time           `json:"editedAt,omitempty"`
	Status          string          `json:"status,omitempty"`
	File            json.RawMessage `json:"file,omitempty"`
	ThirdPartyCards json.RawMessage `json:"thirdPartyCards,omitempty"`
	IsUserActive    bool            `json:"isUserActive,omitempty"`
}

// RoomPayload is the room/conversation JSON shape. People and Messages are
// populated only when the query asked for them.
type RoomPayload struct {
	ID                   int64            `json:"id"`
	Type                 string           `json:"type"`
	Title                *string          `json:"title"`
	Status               string           `json:"status,omitempty"`
	CreatorID            int64            `json:"creatorId,omitempty"`
	CreatedAt            *Time            `json:"createdAt,omitempty"`
	UpdatedAt            *Time            `json:"updatedAt,omitempty"`
	LastActivityAt       *Time            `json:"lastActivityAt,omitempty"`
	LastViewedAt         *Time            `json:"lastViewedAt,omitempty"`
	People               []PersonPayload  `json:"people,omitempty"`
	Messages             []MessagePayload `json:"messages,omitempty"`
	UnreadCount          int              `json:"unreadCount,omitempty"`
	ImportantUnreadCount int              `json:"importantUnreadCount,omitempty"`
}

// AccountPayload is the GET /chat/me.json account object. AuthKey is the
// socket handshake secret; note the lowercase wire spelling.
type AccountPayload struct {
	ID             int64         `json:"id"`
	AuthKey        string        `json:"authkey"`
	URL            string        `json:"url"`
	InstallationID int64         `json:"installationId"`
	User           PersonPayload `json:"user"`
}

// Page carries a list response annotated with the server's paging values.
type Page[T any] struct {
	Items  []T
	Offset int
	Limit  int
	Total  int
}

// Frame contents shapes.

// TypingContents is the room.typing payload in both directions.
type TypingContents struct {
	RoomID   int64 `json:"roomId"`
	UserID   int64 `json:"userId,omitempty"`
	IsTyping bool  `json:"isTyping"`
}

// RoomUserActiveContents is the room.user.active payload. The server echoes
// the submitted date back as activeAt.
type RoomUserActiveContents struct {
	RoomID   int64  `json:"roomId"`
	Date     string `json:"date,omitempty"`
	ActiveAt string `json:"activeAt,omitempty"`
}

// UserModifiedContents is the user.modified payload: a single key/value
// mutation on one person.
type UserModifiedContents struct {
	UserID int64  `json:"userId"`
	Key    string `json:"key"`
	Value  any    `json:"value"`
}

// UserRefContents carries just a person id (user.added, user.updated,
// user.deleted).
type UserRefContents struct {
	UserID int64 `json:"userId"`
}

// RoomRefContents carries just a room id (room.updated, room.deleted).
type RoomRefContents struct {
	RoomID int64 `json:"roomId"`
}

// MessagesDeletedContents is the room.messages.deleted and
// room.messages.deleted-undone payload.
type MessagesDeletedContents struct {
	RoomID int64   `json:"roomId"`
	IDs    []int64 `json:"ids"`
}

// StatusContents is the user.modified.status payload.
type StatusContents struct {
	Status string `json:"status"`
}

// UnseenBucket is one half of the unseen counts breakdown. Conversations is
// nullable on the wire.
type UnseenBucket struct {
	Rooms         int  `json:"rooms"`
	Conversations *int `json:"conversations"`
}

// UnseenCounts is the unseen.counts.updated payload.
type UnseenCounts struct {
	Important UnseenBucket `json:"important"`
	Total     UnseenBucket `json:"total"`
}

// REST envelopes.

type meResponse struct {
	Account AccountPayload `json:"account"`
}

type personResponse struct {
	Person PersonPayload `json:"person"`
}

type peopleResponse struct {
	People []PersonPayload `json:"people"`
	Offset int             `json:"offset"`
	Limit  int             `json:"limit"`
	Total  int             `json:"total"`
}

type roomResponse struct {
	Room RoomPayload `json:"room"`
}

type roomsResponse struct {
	Conversations []RoomPayload `json:"conversations"`
	Offset        int           `json:"offset"`
	Limit         int           `json:"limit"`
	Total         int           `json:"total"`
}

type messageResponse struct {
	Message MessagePayload `json:"message"`
}

type messagesResponse struct {
	Messages []MessagePayload `json:"messages"`
}

type createdRoomResponse struct {
	Room struct {
		ID int64 `json:"id"`
	} `json:"room"`
}
