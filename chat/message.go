package chat

import (
	"encoding/json"
	"time"

	"github.com/teamwork/chat-go/internal/wire"
)

// Message statuses.
const (
	MessageActive   = "active"
	MessageRedacted = "redacted"
)

// Message is one cached message, owned by its room. A room keeps at most
// the latest 50 messages; older ones are evicted.
type Message struct {
	s    *Session
	room *Room

	id       int64
	authorID int64
	// author is resolved when the person is cached, nil otherwise; AuthorID
	// always carries the numeric id.
	author *Person

	body            string
	createdAt       time.Time
	editedAt        time.Time
	status          string
	file            json.RawMessage
	thirdPartyCards json.RawMessage
	isUserActive    bool
}

// ID returns the message id.
func (m *Message) ID() int64 {
	return m.id
}

// Room returns the containing room.
func (m *Message) Room() *Room {
	return m.room
}

// Author returns the cached author, or nil when the person is unknown.
func (m *Message) Author() *Person {
	m.s.cache.mu.RLock()
	defer m.s.cache.mu.RUnlock()
	return m.author
}

// AuthorID returns the numeric author id.
func (m *Message) AuthorID() int64 {
	return m.authorID
}

// Body returns the message text.
func (m *Message) Body() string {
	m.s.cache.mu.RLock()
	defer m.s.cache.mu.RUnlock()
	return m.body
}

// CreatedAt returns the message creation time.
func (m *Message) CreatedAt() time.Time {
	m.s.cache.mu.RLock()
	defer m.s.cache.mu.RUnlock()
	return m.createdAt
}

// EditedAt returns the last edit time, zero when never edited.
func (m *Message) EditedAt() time.Time {
	m.s.cache.mu.RLock()
	defer m.s.cache.mu.RUnlock()
	return m.editedAt
}

// Status returns active, redacted, or another server-defined status.
func (m *Message) Status() string {
	m.s.cache.mu.RLock()
	defer m.s.cache.mu.RUnlock()
	return m.status
}

// IsUserActive reports the sender's activity flag.
func (m *Message) IsUserActive() bool {
	m.s.cache.mu.RLock()
	defer m.s.cache.mu.RUnlock()
	return m.isUserActive
}

// applyPayload merges wire fields into the message under the cache write
// lock.
func (m *Message) applyPayload(raw wire.MessagePayload) {
	if raw.Body != "" {
		m.body = raw.Body
	}
	if raw.UserID != 0 {
		m.authorID = raw.UserID
		m.author = m.s.cache.people[raw.UserID]
	}
	if raw.CreatedAt != nil {
		m.createdAt = raw.CreatedAt.Time
	}
	if raw.EditedAt != nil {
		m.editedAt = raw.EditedAt.Time
	}
	if raw.Status != "" {
		m.status = raw.Status
	}
	if raw.File != nil {
		m.file = raw.File
	}
	if raw.ThirdPartyCards != nil {
		m.thirdPartyCards = raw.ThirdPartyCards
	}
	m.isUserActive = m.isUserActive || raw.IsUserActive
}
