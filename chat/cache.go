package chat

import (
	"sync"

	"github.com/teamwork/chat-go/internal/wire"
)

// cache is the single source of truth for Person and Room identity. Entities
// are created once per id and mutated in place so references held by
// consumers stay live. All mutation funnels through the save methods below.
type cache struct {
	mu       sync.RWMutex
	people   map[int64]*Person
	byHandle map[string]*Person
	rooms    map[int64]*Room
}

func newCache() *cache {
	return &cache{
		people:   make(map[int64]*Person),
		byHandle: make(map[string]*Person),
		rooms:    make(map[int64]*Room),
	}
}

// savePerson inserts or updates a person and reports whether it was created
// and whether an existing one changed. New people get an empty pair room and
// join the directory; updates mutate the cached object rather than replacing
// it.
func (s *Session) savePerson(raw wire.PersonPayload) (p *Person, created, updated bool) {
	if raw.ID == 0 {
		return nil, false, false
	}
	s.cache.mu.Lock()
	defer s.cache.mu.Unlock()
	return s.savePersonLocked(raw)
}

func (s *Session) savePersonLocked(raw wire.PersonPayload) (p *Person, created, updated bool) {
	if existing, ok := s.cache.people[raw.ID]; ok {
		oldHandle := existing.handle
		changed := existing.applyPayload(raw)
		if changed && existing.handle != oldHandle {
			delete(s.cache.byHandle, oldHandle)
			s.cache.byHandle[existing.handle] = existing
		}
		return existing, false, changed
	}

	p = &Person{s: s, id: raw.ID}
	p.applyPayload(raw)
	s.cache.people[p.id] = p
	if p.handle != "" {
		s.cache.byHandle[p.handle] = p
	}

	if s.user != nil && p.id != s.user.id {
		p.pairRoom = &Room{
			s:      s,
			typ:    RoomPair,
			people: []*Person{s.user.Person, p},
		}
	}
	if s.root != nil {
		s.root.people = append(s.root.people, p)
	}
	return p, true, false
}

// removePerson drops a person from the cache and the directory, returning the
// removed entity.
func (s *Session) removePerson(id int64) *Person {
	s.cache.mu.Lock()
	defer s.cache.mu.Unlock()
	p, ok := s.cache.people[id]
	if !ok {
		return nil
	}
	delete(s.cache.people, id)
	delete(s.cache.byHandle, p.handle)
	if p.pairRoom != nil && p.pairRoom.id != 0 {
		delete(s.cache.rooms, p.pairRoom.id)
	}
	if s.root != nil {
		for i, member := range s.root.people {
			if member == p {
				s.root.people = append(s.root.people[:i], s.root.people[i+1:]...)
				break
			}
		}
	}
	return p
}

// roomEffects describes what saveRoom did, so the router can emit events
// after the lock is released.
type roomEffects struct {
	room    *Room
	created bool
	// newPeople were first seen inside this room payload.
	newPeople []*Person
	// added and removed are the membership diff of an existing room.
	added   []*Person
	removed []*Person
}

// saveRoom inserts or updates a room from a wire payload. For a new pair room
// holding the current user and exactly one other person, the other person's
// existing pair room is realized rather than a second Room being created; a
// degenerate room holding only the current user is treated as a normal room.
func (s *Session) saveRoom(raw wire.RoomPayload) roomEffects {
	s.cache.mu.Lock()
	defer s.cache.mu.Unlock()

	var fx roomEffects
	members := make([]*Person, 0, len(raw.People))
	for _, rawPerson := range raw.People {
		p, created, _ := s.savePersonLocked(rawPerson)
		if p == nil {
			continue
		}
		if created {
			fx.newPeople = append(fx.newPeople, p)
		}
		members = append(members, p)
	}

	if existing, ok := s.cache.rooms[raw.ID]; ok {
		existing.applyPayload(raw)
		if len(raw.People) > 0 {
			fx.added, fx.removed = diffPeople(existing.people, members)
			existing.people = members
		}
		fx.room = existing
		return fx
	}

	room := s.pairAliasLocked(raw, members)
	if room == nil {
		room = &Room{s: s}
	}
	room.applyPayload(raw)
	if len(members) > 0 {
		room.people = members
	}
	if room.id != 0 {
		s.cache.rooms[room.id] = room
	}
	fx.room = room
	fx.created = true
	return fx
}

// pairAliasLocked returns the existing pair room to realize for this payload,
// or nil when a fresh Room is called for.
func (s *Session) pairAliasLocked(raw wire.RoomPayload, members []*Person) *Room {
	if raw.Type != RoomPair || s.user == nil {
		return nil
	}
	var other *Person
	sawSelf := false
	for _, p := range members {
		if p.id == s.user.id {
			sawSelf = true
			continue
		}
		if other != nil && other != p {
			return nil
		}
		other = p
	}
	// A room whose participants are exclusively the current user is an
	// invalid degenerate and stays a normal room.
	if !sawSelf || other == nil || other.pairRoom == nil {
		return nil
	}
	return other.pairRoom
}

// realizeRoom initializes a locally-constructed room from the server payload
// and registers it in the cache.
func (s *Session) realizeRoom(local *Room, raw wire.RoomPayload) {
	s.cache.mu.Lock()
	defer s.cache.mu.Unlock()

	members := make([]*Person, 0, len(raw.People))
	for _, rawPerson := range raw.People {
		if p, _, _ := s.savePersonLocked(rawPerson); p != nil {
			members = append(members, p)
		}
	}

	if existing, ok := s.cache.rooms[raw.ID]; ok && existing != local {
		existing.applyPayload(raw)
		if len(members) > 0 {
			existing.people = members
		}
		local.applyPayload(raw)
		return
	}
	local.applyPayload(raw)
	if len(members) > 0 {
		local.people = members
	}
	if local.id != 0 {
		s.cache.rooms[local.id] = local
	}
}

// removeRoom drops a room from the cache, returning the removed entity.
func (s *Session) removeRoom(id int64) *Room {
	s.cache.mu.Lock()
	defer s.cache.mu.Unlock()
	room, ok := s.cache.rooms[id]
	if !ok {
		return nil
	}
	delete(s.cache.rooms, id)
	return room
}

// ingestMessage applies a message payload to its cached room. The room must
// already be cached; the router autofetches unknown rooms before calling
// this. When emit is set and the message is new, the message events fan out.
func (s *Session) ingestMessage(raw wire.MessagePayload, emit bool) (*Message, bool) {
	s.cache.mu.Lock()
	room, ok := s.cache.rooms[raw.RoomID]
	if !ok {
		s.cache.mu.Unlock()
		return nil, false
	}
	if existing := room.findMessage(raw.ID); existing != nil {
		existing.applyPayload(raw)
		s.cache.mu.Unlock()
		return existing, false
	}
	m := &Message{s: s, room: room, id: raw.ID}
	m.applyPayload(raw)
	room.addMessage(m)
	if raw.CreatedAt != nil {
		room.lastActivityAt = raw.CreatedAt.Time
	}
	s.cache.mu.Unlock()

	if emit {
		s.emitMessageEvents(room, m)
	}
	return m, true
}

func (s *Session) emitMessageEvents(room *Room, m *Message) {
	payload := &MessageEvent{Room: room, Message: m}
	s.events.emit([]string{EventMessage}, payload)
	if m.AuthorID() != s.user.id {
		s.events.emit([]string{EventMessageReceived}, payload)
		if room.Type() == RoomPair {
			s.events.emit([]string{EventMessageDirect}, payload)
		}
	}
	if s.user.IsMentioned(m) {
		s.events.emit([]string{EventMessageMention}, payload)
	}
}

// diffPeople computes the id-based membership diff between the old and new
// participant lists.
func diffPeople(old, current []*Person) (added, removed []*Person) {
	oldIDs := make(map[int64]struct{}, len(old))
	for _, p := range old {
		oldIDs[p.id] = struct{}{}
	}
	currentIDs := make(map[int64]struct{}, len(current))
	for _, p := range current {
		currentIDs[p.id] = struct{}{}
		if _, ok := oldIDs[p.id]; !ok {
			added = append(added, p)
		}
	}
	for _, p := range old {
		if _, ok := currentIDs[p.id]; !ok {
			removed = append(removed, p)
		}
	}
	return added, removed
}
