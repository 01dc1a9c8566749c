package chat

import (
	"sync"
	"time"
)

// Event names emitted by a Session. Creation and removal of people carry
// alias names so listeners can subscribe under whichever spelling they use.
const (
	EventUserUpdate = "user:update"

	EventPersonCreated = "person:created"
	EventPersonNew     = "person:new"
	EventPersonAdded   = "person:added"
	EventPersonUpdated = "person:updated"
	EventPersonDeleted = "person:deleted"
	EventPersonRemoved = "person:removed"

	EventRoomNew           = "room:new"
	EventRoomUpdated       = "room:updated"
	EventRoomDeleted       = "room:deleted"
	EventRoomTyping        = "room:typing"
	EventRoomPersonAdded   = "room:person:added"
	EventRoomPersonRemoved = "room:person:removed"

	EventMessage         = "message"
	EventMessageReceived = "message:received"
	EventMessageDirect   = "message:direct"
	EventMessageMention  = "message:mention"

	EventPong       = "pong"
	EventConnected  = "connected"
	EventDisconnect = "disconnect"
	EventReconnect  = "reconnect"
	EventError      = "error"

	// EventAny subscribes to every event.
	EventAny = "*"
)

// Event is one semantic occurrence. Payload is one of the *Event types below,
// or nil for events that carry nothing.
type Event struct {
	Name    string
	Payload any
}

// MessageEvent accompanies the message events.
type MessageEvent struct {
	Room    *Room
	Message *Message
}

// PersonEvent accompanies the person events.
type PersonEvent struct {
	Person *Person
}

// RoomEvent accompanies the room events.
type RoomEvent struct {
	Room *Room
}

// RoomPersonEvent accompanies room:person:added and room:person:removed.
type RoomPersonEvent struct {
	Room   *Room
	Person *Person
}

// TypingEvent accompanies room:typing.
type TypingEvent struct {
	Room     *Room
	Person   *Person
	IsTyping bool
}

// DisconnectEvent accompanies disconnect.
type DisconnectEvent struct {
	Reason error
}

// ReconnectEvent accompanies reconnect: the entities refreshed by the
// catch-up fetch and the time spent disconnected. A non-nil Err marks a lossy
// reconnect: the socket is live again but the catch-up fetch failed partway,
// so the slices may be incomplete and pushes from the downtime may be missing.
type ReconnectEvent struct {
	People   []*Person
	Rooms    []*Room
	Messages []*Message
	Downtime time.Duration
	Err      error
}

// ErrorEvent accompanies error: a non-fatal protocol error.
type ErrorEvent struct {
	Err error
}

// Listener observes events. Listeners run on the session's router goroutine
// and must not block.
type Listener func(Event)

const eventBuffer = 64

// emitter fans events out to registered listeners and to buffered channel
// subscribers. Channel subscribers that fall behind lose events rather than
// stalling the router.
type emitter struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[string]map[uint64]Listener
	subs      map[uint64]chan Event
}

func newEmitter() *emitter {
	return &emitter{
		listeners: make(map[string]map[uint64]Listener),
		subs:      make(map[uint64]chan Event),
	}
}

// on registers a listener for one event name (or EventAny) and returns its
// removal function.
func (e *emitter) on(name string, fn Listener) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	if e.listeners[name] == nil {
		e.listeners[name] = make(map[uint64]Listener)
	}
	e.listeners[name][id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.listeners[name], id)
	}
}

// subscribe returns a buffered event channel and its cancel function.
func (e *emitter) subscribe() (<-chan Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	ch := make(chan Event, eventBuffer)
	e.subs[id] = ch
	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if sub, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(sub)
		}
	}
}

// emit delivers the event under every alias name. Wildcard listeners and
// channel subscribers see it once, under the first (canonical) name.
func (e *emitter) emit(names []string, payload any) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, name := range names {
		for _, fn := range e.listeners[name] {
			fn(Event{Name: name, Payload: payload})
		}
	}

	ev := Event{Name: names[0], Payload: payload}
	for _, fn := range e.listeners[EventAny] {
		fn(ev)
	}
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (e *emitter) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
}
