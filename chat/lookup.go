package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/teamwork/chat-go/internal/wire"
)

const listPageSize = 250

// GetPerson resolves a person by id, from the cache or the server.
func (s *Session) GetPerson(ctx context.Context, id int64) (*Person, error) {
	s.cache.mu.RLock()
	p, ok := s.cache.people[id]
	s.cache.mu.RUnlock()
	if ok {
		return p, nil
	}

	raw, err := s.wire.GetPerson(ctx, id)
	if err != nil {
		return nil, err
	}
	p, created, _ := s.savePerson(*raw)
	if created {
		s.emitPersonCreated(p)
	}
	return p, nil
}

// GetPersonByHandle resolves a handle (without a leading @) to a person,
// from the cache or via a server search.
func (s *Session) GetPersonByHandle(ctx context.Context, handle string) (*Person, error) {
	handle = strings.TrimPrefix(handle, "@")
	s.cache.mu.RLock()
	p, ok := s.cache.byHandle[handle]
	s.cache.mu.RUnlock()
	if ok {
		return p, nil
	}

	raw, err := s.wire.GetPersonByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	p, created, _ := s.savePerson(*raw)
	if created {
		s.emitPersonCreated(p)
	}
	return p, nil
}

// GetPeople lists people from the server and merges them into the cache. A
// nil offset or limit leaves the server defaults in place.
func (s *Session) GetPeople(ctx context.Context, filter wire.PeopleFilter, offset, limit *int) ([]*Person, error) {
	page, err := s.wire.GetPeople(ctx, filter, offset, limit)
	if err != nil {
		return nil, err
	}
	people := make([]*Person, 0, len(page.Items))
	for _, raw := range page.Items {
		p, created, _ := s.savePerson(raw)
		if p == nil {
			continue
		}
		if created {
			s.emitPersonCreated(p)
		}
		people = append(people, p)
	}
	return people, nil
}

// GetAllPeople pages through the entire directory.
func (s *Session) GetAllPeople(ctx context.Context) ([]*Person, error) {
	var all []*Person
	for offset := 0; ; offset += listPageSize {
		o, l := offset, listPageSize
		batch, err := s.GetPeople(ctx, wire.PeopleFilter{}, &o, &l)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < listPageSize {
			return all, nil
		}
	}
}

// People returns every cached person.
func (s *Session) People() []*Person {
	s.cache.mu.RLock()
	defer s.cache.mu.RUnlock()
	return append([]*Person(nil), s.root.people...)
}

// GetRoom resolves a room by id, from the cache or the server.
func (s *Session) GetRoom(ctx context.Context, id int64) (*Room, error) {
	s.cache.mu.RLock()
	room, ok := s.cache.rooms[id]
	s.cache.mu.RUnlock()
	if ok {
		return room, nil
	}

	raw, err := s.wire.GetRoom(ctx, id, true)
	if err != nil {
		return nil, err
	}
	fx := s.saveRoom(*raw)
	s.emitRoomEffects(fx)
	return fx.room, nil
}

// GetRoomByTitle resolves a room by exact title, from the cache or via a
// server search.
func (s *Session) GetRoomByTitle(ctx context.Context, title string) (*Room, error) {
	s.cache.mu.RLock()
	for _, room := range s.cache.rooms {
		if room.title == title {
			s.cache.mu.RUnlock()
			return room, nil
		}
	}
	s.cache.mu.RUnlock()

	rooms, err := s.GetRooms(ctx, wire.RoomsFilter{Search: title, IncludeUsers: true}, nil, nil)
	if err != nil {
		return nil, err
	}
	for _, room := range rooms {
		if room.Title() == title {
			return room, nil
		}
	}
	return nil, fmt.Errorf("room titled %q: %w", title, ErrNotFound)
}

// GetRooms lists conversations from the server and merges them into the
// cache.
func (s *Session) GetRooms(ctx context.Context, filter wire.RoomsFilter, offset, limit *int) ([]*Room, error) {
	page, err := s.wire.GetRooms(ctx, filter, offset, limit)
	if err != nil {
		return nil, err
	}
	rooms := make([]*Room, 0, len(page.Items))
	for _, raw := range page.Items {
		fx := s.saveRoom(raw)
		s.emitRoomEffects(fx)
		rooms = append(rooms, fx.room)
	}
	return rooms, nil
}

// GetAllRooms pages through every conversation.
func (s *Session) GetAllRooms(ctx context.Context) ([]*Room, error) {
	var all []*Room
	for offset := 0; ; offset += listPageSize {
		o, l := offset, listPageSize
		batch, err := s.GetRooms(ctx, wire.RoomsFilter{IncludeUsers: true}, &o, &l)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < listPageSize {
			return all, nil
		}
	}
}

// Rooms returns every cached room.
func (s *Session) Rooms() []*Room {
	s.cache.mu.RLock()
	defer s.cache.mu.RUnlock()
	rooms := make([]*Room, 0, len(s.cache.rooms))
	for _, room := range s.cache.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// GetRoomForHandles resolves the room for a set of handles: a single other
// person yields their pair room; otherwise a cached room whose participants
// cover the handles; otherwise a fresh uninitialized room holding those
// people, created server-side by its first SendMessage.
func (s *Session) GetRoomForHandles(ctx context.Context, handles []string) (*Room, error) {
	people := make([]*Person, 0, len(handles))
	cleaned := make([]string, 0, len(handles))
	for _, handle := range handles {
		handle = strings.TrimPrefix(handle, "@")
		p, err := s.GetPersonByHandle(ctx, handle)
		if err != nil {
			return nil, err
		}
		if p.id == s.user.id {
			continue
		}
		people = append(people, p)
		cleaned = append(cleaned, handle)
	}
	if len(people) == 0 {
		return nil, ErrSendToSelf
	}
	if len(people) == 1 {
		return people[0].PairRoom(), nil
	}

	if room := s.findRoomCovering(cleaned); room != nil {
		return room, nil
	}

	s.cache.mu.Lock()
	defer s.cache.mu.Unlock()
	return &Room{
		s:       s,
		typ:     RoomPrivate,
		people:  append([]*Person{s.user.Person}, people...),
		handles: cleaned,
	}, nil
}

// findRoomCovering returns a cached room whose participant handles form a
// superset of the requested handles.
func (s *Session) findRoomCovering(handles []string) *Room {
	s.cache.mu.RLock()
	defer s.cache.mu.RUnlock()
	for _, room := range s.cache.rooms {
		have := make(map[string]struct{}, len(room.people))
		for _, p := range room.people {
			have[p.handle] = struct{}{}
		}
		covered := true
		for _, h := range handles {
			if _, ok := have[h]; !ok {
				covered = false
				break
			}
		}
		if covered {
			return room
		}
	}
	return nil
}

// CreateRoomWithHandles resolves the room for the handles and, when a first
// message is given, sends it, which creates an uninitialized room
// server-side.
func (s *Session) CreateRoomWithHandles(ctx context.Context, handles []string, firstMessage string) (*Room, error) {
	room, err := s.GetRoomForHandles(ctx, handles)
	if err != nil {
		return nil, err
	}
	if firstMessage != "" {
		if _, err := room.SendMessage(ctx, firstMessage); err != nil {
			return nil, err
		}
	}
	return room, nil
}

// GetMessages pulls the current user's messages across rooms into the cache.
func (s *Session) GetMessages(ctx context.Context, filter wire.MessagesFilter) ([]*Message, error) {
	raws, err := s.wire.GetUserMessages(ctx, filter)
	if err != nil {
		return nil, err
	}
	messages := make([]*Message, 0, len(raws))
	for _, raw := range raws {
		if s.ensureRoom(raw.RoomID) == nil {
			continue
		}
		if m, _ := s.ingestMessage(raw, false); m != nil {
			messages = append(messages, m)
		}
	}
	return messages, nil
}
