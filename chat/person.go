package chat

import (
	"context"
	"regexp"
	"time"

	"github.com/teamwork/chat-go/internal/wire"
)

// Person statuses reported by the server.
const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusIdle    = "idle"
	StatusActive  = "active"
	StatusOffline = "offline"
)

// Person is one cached user. A session holds exactly one Person per id for
// its whole life, so references stay valid as the entity mutates.
type Person struct {
	s *Session

	id             int64
	handle         string
	firstName      string
	lastName       string
	email          string
	title          string
	status         string
	lastActivityAt time.Time
	company        Company

	// pairRoom is the canonical one-on-one room with this person. It exists
	// from creation, uninitialized until the server names an id for it.
	pairRoom *Room

	mentionRe *regexp.Regexp
}

// Company is a person's company affiliation.
type Company struct {
	ID   int64
	Name string
}

// ID returns the person's id.
func (p *Person) ID() int64 {
	return p.id
}

// Handle returns the person's handle, without a leading @.
func (p *Person) Handle() string {
	p.s.cache.mu.RLock()
	defer p.s.cache.mu.RUnlock()
	return p.handle
}

// FirstName returns the person's first name.
func (p *Person) FirstName() string {
	p.s.cache.mu.RLock()
	defer p.s.cache.mu.RUnlock()
	return p.firstName
}

// LastName returns the person's last name.
func (p *Person) LastName() string {
	p.s.cache.mu.RLock()
	defer p.s.cache.mu.RUnlock()
	return p.lastName
}

// Email returns the person's email address.
func (p *Person) Email() string {
	p.s.cache.mu.RLock()
	defer p.s.cache.mu.RUnlock()
	return p.email
}

// Title returns the person's job title.
func (p *Person) Title() string {
	p.s.cache.mu.RLock()
	defer p.s.cache.mu.RUnlock()
	return p.title
}

// Status returns the person's presence status.
func (p *Person) Status() string {
	p.s.cache.mu.RLock()
	defer p.s.cache.mu.RUnlock()
	return p.status
}

// LastActivityAt returns the person's last activity time, zero when unknown.
func (p *Person) LastActivityAt() time.Time {
	p.s.cache.mu.RLock()
	defer p.s.cache.mu.RUnlock()
	return p.lastActivityAt
}

// Company returns the person's company.
func (p *Person) Company() Company {
	p.s.cache.mu.RLock()
	defer p.s.cache.mu.RUnlock()
	return p.company
}

// PairRoom returns the canonical one-on-one room with this person. The
// current user has no pair room.
func (p *Person) PairRoom() *Room {
	p.s.cache.mu.RLock()
	defer p.s.cache.mu.RUnlock()
	return p.pairRoom
}

// SendMessage sends a message to this person's pair room. Messaging yourself
// is an error.
func (p *Person) SendMessage(ctx context.Context, body string) (*Message, error) {
	p.s.cache.mu.RLock()
	room := p.pairRoom
	self := p.id == p.s.user.id
	p.s.cache.mu.RUnlock()

	if self || room == nil {
		return nil, ErrSendToSelf
	}
	return room.SendMessage(ctx, body)
}

// IsMentioned reports whether the message mentions this person: @handle
// appears as a word in the content and the person is not the author.
func (p *Person) IsMentioned(m *Message) bool {
	if m == nil {
		return false
	}
	p.s.cache.mu.RLock()
	re := p.mentionRe
	p.s.cache.mu.RUnlock()
	if re == nil {
		return false
	}
	if author := m.Author(); author == p {
		return false
	}
	return re.MatchString(m.Body())
}

// applyPayload merges wire fields into the person under the cache write lock.
// It reports whether anything changed.
func (p *Person) applyPayload(raw wire.PersonPayload) bool {
	changed := false
	set := func(dst *string, v string) {
		if v != "" && v != *dst {
			*dst = v
			changed = true
		}
	}
	if raw.Handle != "" && raw.Handle != p.handle {
		p.handle = raw.Handle
		p.mentionRe = mentionPattern(raw.Handle)
		changed = true
	}
	set(&p.firstName, raw.FirstName)
	set(&p.lastName, raw.LastName)
	set(&p.email, raw.Email)
	set(&p.title, raw.Title)
	set(&p.status, raw.Status)
	if raw.LastActivityAt != nil && !raw.LastActivityAt.Time.Equal(p.lastActivityAt) {
		p.lastActivityAt = raw.LastActivityAt.Time
		changed = true
	}
	if raw.Company != nil && (raw.Company.ID != p.company.ID || raw.Company.Name != p.company.Name) {
		p.company = Company{ID: raw.Company.ID, Name: raw.Company.Name}
		changed = true
	}
	return changed
}

func mentionPattern(handle string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(^|\W)@` + regexp.QuoteMeta(handle) + `(\W|$)`)
}
