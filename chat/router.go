package chat

import (
	"context"
	"encoding/json"
	"time"

	"github.com/teamwork/chat-go/internal/frame"
	"github.com/teamwork/chat-go/internal/socket"
	"github.com/teamwork/chat-go/internal/wire"
)

// fetchTimeout bounds the REST calls the router makes to realize unknown
// entities referenced by pushes.
const fetchTimeout = 30 * time.Second

// routeFrames consumes one socket session's inbound stream and applies each
// frame to the cache. Running on a single goroutine keeps per-entity event
// order aligned with frame arrival order.
func (s *Session) routeFrames(sess *socket.Session) {
	for f := range sess.Frames() {
		s.routeFrame(f)
	}
}

func (s *Session) routeFrame(f *frame.Frame) {
	switch f.Name {
	case frame.NameRoomMessageCreated:
		var raw wire.MessagePayload
		if err := f.Decode(&raw); err != nil {
			s.protocolError(err)
			return
		}
		if s.ensureRoom(raw.RoomID) == nil {
			return
		}
		s.ingestMessage(raw, true)

	case frame.NameRoomMessageUpdated:
		var raw wire.MessagePayload
		if err := f.Decode(&raw); err != nil {
			s.protocolError(err)
			return
		}
		s.cache.mu.Lock()
		if room, ok := s.cache.rooms[raw.RoomID]; ok {
			if m := room.findMessage(raw.ID); m != nil {
				m.applyPayload(raw)
			}
		}
		s.cache.mu.Unlock()

	case frame.NameRoomMessagesDeleted:
		s.setMessagesStatus(f, MessageRedacted)

	case frame.NameRoomMessagesDeletedUndone:
		s.setMessagesStatus(f, MessageActive)

	case frame.NameRoomUpdated:
		var ref wire.RoomRefContents
		if err := f.Decode(&ref); err != nil {
			s.protocolError(err)
			return
		}
		// A room.updated push carries no detail; refresh over REST and diff.
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		payload, err := s.wire.GetRoom(ctx, ref.RoomID, true)
		if err != nil {
			s.protocolError(err)
			return
		}
		fx := s.saveRoom(*payload)
		s.emitRoomEffects(fx)
		if !fx.created {
			s.events.emit([]string{EventRoomUpdated}, &RoomEvent{Room: fx.room})
		}

	case frame.NameRoomDeleted:
		var ref wire.RoomRefContents
		if err := f.Decode(&ref); err != nil {
			s.protocolError(err)
			return
		}
		if room := s.removeRoom(ref.RoomID); room != nil {
			s.events.emit([]string{EventRoomDeleted}, &RoomEvent{Room: room})
		}

	case frame.NameRoomTyping:
		var contents wire.TypingContents
		if err := f.Decode(&contents); err != nil {
			s.protocolError(err)
			return
		}
		room := s.ensureRoom(contents.RoomID)
		if room == nil {
			return
		}
		s.cache.mu.RLock()
		person := s.cache.people[contents.UserID]
		s.cache.mu.RUnlock()
		s.events.emit([]string{EventRoomTyping}, &TypingEvent{
			Room:     room,
			Person:   person,
			IsTyping: contents.IsTyping,
		})

	case frame.NameUserModified:
		var contents wire.UserModifiedContents
		if err := f.Decode(&contents); err != nil {
			s.protocolError(err)
			return
		}
		raw, err := personPayloadFromKV(contents.UserID, contents.Key, contents.Value)
		if err != nil {
			s.protocolError(err)
			return
		}
		person, created, updated := s.savePerson(raw)
		if person == nil {
			return
		}
		switch {
		case created:
			s.emitPersonCreated(person)
		case updated:
			s.emitPersonUpdated(person)
		}

	case frame.NameUserAdded:
		s.refreshPerson(f, true)

	case frame.NameUserUpdated:
		s.refreshPerson(f, false)

	case frame.NameUserDeleted:
		var ref wire.UserRefContents
		if err := f.Decode(&ref); err != nil {
			s.protocolError(err)
			return
		}
		if person := s.removePerson(ref.UserID); person != nil {
			s.events.emit(
				[]string{EventPersonDeleted, EventPersonRemoved},
				&PersonEvent{Person: person},
			)
		}

	case frame.NamePong:
		s.events.emit([]string{EventPong}, nil)

	case frame.NameCompanyAdded, frame.NameCompanyUpdated, frame.NameCompanyDeleted:
		// Observed, never applied to the cache.
		s.log.Debug().Str("frame", f.Name).Msg("company frame observed")

	case frame.NameAuthenticationRequest, frame.NameAuthenticationConfirmation,
		frame.NameAuthenticationError, frame.NameUnseenCountsUpdated,
		frame.NameRoomUserActive:
		// Consumed by frame waiters.

	default:
		s.log.Debug().Str("frame", f.Name).Msg("unknown frame ignored")
	}
}

func (s *Session) setMessagesStatus(f *frame.Frame, status string) {
	var contents wire.MessagesDeletedContents
	if err := f.Decode(&contents); err != nil {
		s.protocolError(err)
		return
	}
	s.cache.mu.Lock()
	defer s.cache.mu.Unlock()
	room, ok := s.cache.rooms[contents.RoomID]
	if !ok {
		return
	}
	for _, id := range contents.IDs {
		if m := room.findMessage(id); m != nil {
			m.status = status
		}
	}
}

// refreshPerson handles user.added and user.updated: both fetch the person
// from REST, bypassing whatever the cache holds.
func (s *Session) refreshPerson(f *frame.Frame, expectNew bool) {
	var ref wire.UserRefContents
	if err := f.Decode(&ref); err != nil {
		s.protocolError(err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()
	raw, err := s.wire.GetPerson(ctx, ref.UserID)
	if err != nil {
		s.protocolError(err)
		return
	}
	person, created, _ := s.savePerson(*raw)
	if person == nil {
		return
	}
	if created && expectNew {
		s.emitPersonCreated(person)
		return
	}
	s.emitPersonUpdated(person)
}

// ensureRoom resolves a room id against the cache, pulling it from REST the
// first time a push references it.
func (s *Session) ensureRoom(id int64) *Room {
	s.cache.mu.RLock()
	room, ok := s.cache.rooms[id]
	s.cache.mu.RUnlock()
	if ok {
		return room
	}

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()
	payload, err := s.wire.GetRoom(ctx, id, true)
	if err != nil {
		s.protocolError(err)
		return nil
	}
	fx := s.saveRoom(*payload)
	s.emitRoomEffects(fx)
	return fx.room
}

func (s *Session) emitRoomEffects(fx roomEffects) {
	for _, p := range fx.newPeople {
		s.emitPersonCreated(p)
	}
	if fx.created {
		s.events.emit([]string{EventRoomNew}, &RoomEvent{Room: fx.room})
	}
	for _, p := range fx.added {
		s.events.emit([]string{EventRoomPersonAdded}, &RoomPersonEvent{Room: fx.room, Person: p})
	}
	for _, p := range fx.removed {
		s.events.emit([]string{EventRoomPersonRemoved}, &RoomPersonEvent{Room: fx.room, Person: p})
	}
}

func (s *Session) emitPersonCreated(p *Person) {
	s.events.emit(
		[]string{EventPersonCreated, EventPersonNew, EventPersonAdded},
		&PersonEvent{Person: p},
	)
}

func (s *Session) emitPersonUpdated(p *Person) {
	s.events.emit([]string{EventPersonUpdated}, &PersonEvent{Person: p})
	if p.id == s.user.id {
		s.events.emit([]string{EventUserUpdate}, &PersonEvent{Person: p})
	}
}

func (s *Session) protocolError(err error) {
	s.log.Warn().Err(err).Msg("protocol error")
	s.events.emit([]string{EventError}, &ErrorEvent{Err: err})
}

// personPayloadFromKV lifts a single key/value mutation into a person payload
// by round-tripping through JSON, so any wire-spelled key applies.
func personPayloadFromKV(userID int64, key string, value any) (wire.PersonPayload, error) {
	data, err := json.Marshal(map[string]any{"id": userID, key: value})
	if err != nil {
		return wire.PersonPayload{}, err
	}
	var raw wire.PersonPayload
	if err := json.Unmarshal(data, &raw); err != nil {
		return wire.PersonPayload{}, err
	}
	return raw, nil
}
