package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/teamwork/chat-go/internal/wire"
)

// Room types.
const (
	RoomPair    = "pair"
	RoomPrivate = "private"
	RoomCompany = "company"
)

// maxRoomMessages bounds the in-memory message log per room. Older messages
// are evicted in arrival order.
const maxRoomMessages = 50

// Room is one cached room. A zero id means the room exists only locally and
// becomes real when the first message is sent through it.
type Room struct {
	s *Session

	id             int64
	typ            string
	title          string
	status         string
	creatorID      int64
	createdAt      time.Time
	updatedAt      time.Time
	lastActivityAt time.Time
	lastViewedAt   time.Time

	people   []*Person
	messages []*Message

	unreadCount          int
	importantUnreadCount int

	// handles requested for a not-yet-created room.
	handles []string
}

// ID returns the server-side room id, 0 for an uninitialized room.
func (r *Room) ID() int64 {
	r.s.cache.mu.RLock()
	defer r.s.cache.mu.RUnlock()
	return r.id
}

// Initialized reports whether the server has assigned the room an id.
func (r *Room) Initialized() bool {
	return r.ID() != 0
}

// Type returns pair, private, company, or another server-defined type.
func (r *Room) Type() string {
	r.s.cache.mu.RLock()
	defer r.s.cache.mu.RUnlock()
	return r.typ
}

// Title returns the room title, empty for untitled rooms.
func (r *Room) Title() string {
	r.s.cache.mu.RLock()
	defer r.s.cache.mu.RUnlock()
	return r.title
}

// Status returns the room status.
func (r *Room) Status() string {
	r.s.cache.mu.RLock()
	defer r.s.cache.mu.RUnlock()
	return r.status
}

// CreatorID returns the id of the room's creator.
func (r *Room) CreatorID() int64 {
	r.s.cache.mu.RLock()
	defer r.s.cache.mu.RUnlock()
	return r.creatorID
}

// LastActivityAt returns the room's last activity time.
func (r *Room) LastActivityAt() time.Time {
	r.s.cache.mu.RLock()
	defer r.s.cache.mu.RUnlock()
	return r.lastActivityAt
}

// People returns the room's participants in order.
func (r *Room) People() []*Person {
	r.s.cache.mu.RLock()
	defer r.s.cache.mu.RUnlock()
	return append([]*Person(nil), r.people...)
}

// Messages returns the cached message log, oldest first, at most the latest
// 50.
func (r *Room) Messages() []*Message {
	r.s.cache.mu.RLock()
	defer r.s.cache.mu.RUnlock()
	return append([]*Message(nil), r.messages...)
}

// UnreadCount returns the unread message count.
func (r *Room) UnreadCount() int {
	r.s.cache.mu.RLock()
	defer r.s.cache.mu.RUnlock()
	return r.unreadCount
}

// ImportantUnreadCount returns the important unread message count.
func (r *Room) ImportantUnreadCount() int {
	r.s.cache.mu.RLock()
	defer r.s.cache.mu.RUnlock()
	return r.importantUnreadCount
}

// SendMessage sends a message to the room. On an uninitialized room this
// first creates the room server-side with the held handles and the message as
// its opener, then returns the acknowledged message.
func (r *Room) SendMessage(ctx context.Context, body string) (*Message, error) {
	if r.ID() == 0 {
		return r.createWithMessage(ctx, body)
	}
	payload, err := r.s.wire.SendMessage(ctx, r.ID(), body)
	if err != nil {
		return nil, err
	}
	msg, _ := r.s.ingestMessage(*payload, true)
	if msg == nil {
		return nil, fmt.Errorf("send message: room %d vanished", r.ID())
	}
	return msg, nil
}

// createWithMessage realizes an uninitialized room: POST the room with its
// first message, fetch the created room and message log, and return the last
// message as the acknowledgement.
func (r *Room) createWithMessage(ctx context.Context, body string) (*Message, error) {
	r.s.cache.mu.RLock()
	handles := append([]string(nil), r.handles...)
	r.s.cache.mu.RUnlock()
	if len(handles) == 0 {
		return nil, ErrRoomNotInitialized
	}

	id, err := r.s.wire.CreateRoom(ctx, handles, body)
	if err != nil {
		return nil, err
	}
	payload, err := r.s.wire.GetRoom(ctx, id, true)
	if err != nil {
		return nil, err
	}
	r.s.realizeRoom(r, *payload)

	msgs, err := r.s.wire.GetRoomMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	var last *Message
	for _, raw := range msgs {
		if m, _ := r.s.ingestMessage(raw, false); m != nil {
			last = m
		}
	}
	if last == nil {
		return nil, fmt.Errorf("room %d created without its first message", id)
	}
	return last, nil
}

// Activate marks the room active for the current user.
func (r *Room) Activate(ctx context.Context) error {
	if r.ID() == 0 {
		return ErrRoomNotInitialized
	}
	return r.s.wire.ActivateRoom(ctx, r.ID())
}

// Typing announces the current user's typing state in the room.
func (r *Room) Typing(ctx context.Context, isTyping bool) error {
	if r.ID() == 0 {
		return ErrRoomNotInitialized
	}
	return r.s.wire.Typing(ctx, r.ID(), isTyping)
}

// UpdateTitle renames the room.
func (r *Room) UpdateTitle(ctx context.Context, title string) error {
	if r.ID() == 0 {
		return ErrRoomNotInitialized
	}
	if err := r.s.wire.UpdateRoomTitle(ctx, r.ID(), title); err != nil {
		return err
	}
	r.s.cache.mu.Lock()
	r.title = title
	r.s.cache.mu.Unlock()
	return nil
}

// Delete removes the room server-side and from the cache.
func (r *Room) Delete(ctx context.Context) error {
	if r.ID() == 0 {
		return ErrRoomNotInitialized
	}
	if err := r.s.wire.DeleteRoom(ctx, r.ID()); err != nil {
		return err
	}
	r.s.removeRoom(r.ID())
	return nil
}

// GetMessages pulls the room's message log from the server into the cache and
// returns it.
func (r *Room) GetMessages(ctx context.Context) ([]*Message, error) {
	if r.ID() == 0 {
		return nil, ErrRoomNotInitialized
	}
	msgs, err := r.s.wire.GetRoomMessages(ctx, r.ID())
	if err != nil {
		return nil, err
	}
	for _, raw := range msgs {
		r.s.ingestMessage(raw, false)
	}
	return r.Messages(), nil
}

// ClearHistory hides the room's history before the given message for the
// current user. Only pair rooms support this; a zero beforeID means the most
// recent message.
func (r *Room) ClearHistory(ctx context.Context, beforeID int64) error {
	if r.ID() == 0 {
		return ErrRoomNotInitialized
	}
	return r.s.wire.ClearRoomHistory(ctx, r.ID(), beforeID)
}

// applyPayload merges wire fields into the room under the cache write lock.
func (r *Room) applyPayload(raw wire.RoomPayload) {
	if raw.ID != 0 {
		r.id = raw.ID
	}
	if raw.Type != "" {
		r.typ = raw.Type
	}
	if raw.Title != nil {
		r.title = *raw.Title
	}
	if raw.Status != "" {
		r.status = raw.Status
	}
	if raw.CreatorID != 0 {
		r.creatorID = raw.CreatorID
	}
	if raw.CreatedAt != nil {
		r.createdAt = raw.CreatedAt.Time
	}
	if raw.UpdatedAt != nil {
		r.updatedAt = raw.UpdatedAt.Time
	}
	if raw.LastActivityAt != nil {
		r.lastActivityAt = raw.LastActivityAt.Time
	}
	if raw.LastViewedAt != nil {
		r.lastViewedAt = raw.LastViewedAt.Time
	}
	r.unreadCount = raw.UnreadCount
	r.importantUnreadCount = raw.ImportantUnreadCount
}

// addMessage inserts or merges a message under the cache write lock, trimming
// the log to the retention bound. It reports whether the message was new.
func (r *Room) addMessage(m *Message) bool {
	for _, existing := range r.messages {
		if existing.id == m.id {
			return false
		}
	}
	r.messages = append(r.messages, m)
	if len(r.messages) > maxRoomMessages {
		r.messages = r.messages[len(r.messages)-maxRoomMessages:]
	}
	return true
}

// findMessage looks a message up by id under the cache read lock.
func (r *Room) findMessage(id int64) *Message {
	for _, m := range r.messages {
		if m.id == id {
			return m
		}
	}
	return nil
}

// containsPerson reports membership under the cache lock.
func (r *Room) containsPerson(id int64) bool {
	for _, p := range r.people {
		if p.id == id {
			return true
		}
	}
	return false
}
