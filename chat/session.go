// Package chat is the public surface of the chat client: a Session logs in,
// opens the frame protocol socket, and maintains a live in-memory model of
// People, Rooms, and Messages coherent with both server pushes and REST
// queries, fanning semantic events out to listeners.
package chat

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/teamwork/chat-go/internal/socket"
	"github.com/teamwork/chat-go/internal/wire"
)

// DefaultReconnectInterval is the pause between reconnect attempts after a
// non-forced close.
const DefaultReconnectInterval = 3 * time.Second

// Options shape a session. Exactly one login method must be populated:
// Username+Password, APIKey, or AuthToken.
type Options struct {
	// Installation is the base URL, e.g. https://digitalcrew.teamwork.com.
	Installation string
	// SocketServer optionally overrides socket endpoint inference and is
	// authoritative when set.
	SocketServer string

	Username  string
	Password  string
	APIKey    string
	AuthToken string

	HTTPClient *http.Client
	Logger     zerolog.Logger

	// Socket tuning; zero values take the protocol defaults.
	PingInterval      time.Duration
	PingTimeout       time.Duration
	PingMaxAttempts   int
	AwaitTimeout      time.Duration
	ReconnectInterval time.Duration
}

// CurrentUser is the logged-in identity: a Person plus the operations only
// the current user can perform.
type CurrentUser struct {
	*Person
}

// UpdateStatus sets the current user's status to idle or active.
func (u *CurrentUser) UpdateStatus(ctx context.Context, status string) error {
	return u.s.wire.UpdateStatus(ctx, status)
}

// UpdateHandle changes the current user's handle.
func (u *CurrentUser) UpdateHandle(ctx context.Context, handle string) error {
	raw, err := u.s.wire.UpdateHandle(ctx, u.id, handle)
	if err != nil {
		return err
	}
	u.s.savePerson(*raw)
	return nil
}

// Session is the top-level client object. It owns the wire client, the entity
// cache, the current user, and the reconnection loop.
type Session struct {
	wire   *wire.Client
	cache  *cache
	events *emitter
	log    zerolog.Logger

	user *CurrentUser
	// root is the in-memory directory: a pseudo-room whose people set holds
	// every cached person.
	root *Room

	monitor           Monitor
	reconnectInterval time.Duration

	mu          sync.Mutex
	sock        *socket.Session
	forceClosed bool
}

// From logs in to the installation with whichever method the options carry
// and bootstraps the current user. The socket is not opened; call Connect.
func From(ctx context.Context, opts Options) (*Session, error) {
	s := &Session{
		cache:             newCache(),
		events:            newEmitter(),
		log:               opts.Logger.With().Str("component", "chat").Logger(),
		reconnectInterval: opts.ReconnectInterval,
	}
	if s.reconnectInterval <= 0 {
		s.reconnectInterval = DefaultReconnectInterval
	}

	client, err := wire.From(ctx, wire.Config{
		Installation:    opts.Installation,
		SocketServer:    opts.SocketServer,
		Username:        opts.Username,
		Password:        opts.Password,
		APIKey:          opts.APIKey,
		AuthToken:       opts.AuthToken,
		HTTPClient:      opts.HTTPClient,
		Logger:          opts.Logger,
		PingInterval:    opts.PingInterval,
		PingTimeout:     opts.PingTimeout,
		PingMaxAttempts: opts.PingMaxAttempts,
		AwaitTimeout:    opts.AwaitTimeout,
		OnSocketError: func(err error) {
			s.events.emit([]string{EventError}, &ErrorEvent{Err: err})
		},
	})
	if err != nil {
		return nil, err
	}
	s.wire = client

	s.root = &Room{s: s, typ: "root"}
	self, _, _ := s.savePerson(client.Account().User)
	s.user = &CurrentUser{Person: self}
	return s, nil
}

// User returns the current user.
func (s *Session) User() *CurrentUser {
	return s.user
}

// AuthToken returns the current tw-auth cookie value, for callers that
// persist sessions.
func (s *Session) AuthToken() string {
	return s.wire.AuthToken()
}

// Monitor returns a snapshot of the connection history.
func (s *Session) Monitor() MonitorSnapshot {
	return s.monitor.Snapshot()
}

// On registers a listener for one event name, or EventAny for everything,
// and returns its removal function. Listeners run on the router goroutine
// and must not block.
func (s *Session) On(name string, fn Listener) func() {
	return s.events.on(name, fn)
}

// Events returns a buffered event stream and its cancel function. Slow
// consumers lose events rather than stalling the session.
func (s *Session) Events() (<-chan Event, func()) {
	return s.events.subscribe()
}

// Connect opens the socket, runs the handshake, and starts routing frames.
// After a non-forced close the session reconnects on its own.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.forceClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.mu.Unlock()

	sock, err := s.wire.Connect(ctx)
	if err != nil {
		return err
	}
	s.adoptSocket(sock)
	s.events.emit([]string{EventConnected}, nil)
	return nil
}

func (s *Session) adoptSocket(sock *socket.Session) {
	s.mu.Lock()
	s.sock = sock
	s.mu.Unlock()
	s.monitor.connected(time.Now())
	go s.routeFrames(sock)
	go s.watchClose(sock)
}

// watchClose waits for the socket to end and drives the reconnect loop. The
// disconnect event fires once per break; reconnect fires after a successful
// catch-up with the entities that changed during the downtime.
func (s *Session) watchClose(sock *socket.Session) {
	<-sock.Done()

	s.mu.Lock()
	if s.forceClosed || s.sock != sock {
		s.mu.Unlock()
		return
	}
	s.sock = nil
	s.mu.Unlock()

	s.monitor.disconnected(time.Now())
	var reason error
	if ce := sock.CloseReason(); ce != nil {
		reason = ce
	}
	s.events.emit([]string{EventDisconnect}, &DisconnectEvent{Reason: reason})

	for {
		time.Sleep(s.reconnectInterval)

		s.mu.Lock()
		if s.forceClosed {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		next, err := s.wire.Connect(ctx)
		cancel()
		if err != nil {
			s.log.Debug().Err(err).Msg("reconnect attempt failed")
			continue
		}

		s.adoptSocket(next)
		s.catchUp()
		return
	}
}

// catchUp refreshes everything that changed while disconnected and emits the
// reconnect event with the results and the downtime of the break. A failed
// fetch still emits reconnect, carrying the error so consumers can tell a
// lossy reconnect from a clean one.
func (s *Session) catchUp() {
	since := s.monitor.lastDisconnect()
	downtime := s.monitor.reconnected(time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()
	people, rooms, messages, err := s.GetUpdates(ctx, since)
	if err != nil {
		s.log.Warn().Err(err).Msg("reconnect catch-up failed")
	}
	s.events.emit([]string{EventReconnect}, &ReconnectEvent{
		People:   people,
		Rooms:    rooms,
		Messages: messages,
		Downtime: downtime,
		Err:      err,
	})
}

// GetUpdates pulls the people, rooms, and messages that changed since the
// given time and applies them to the cache, which de-duplicates.
func (s *Session) GetUpdates(ctx context.Context, since time.Time) ([]*Person, []*Room, []*Message, error) {
	peoplePage, err := s.wire.GetPeople(ctx, wire.PeopleFilter{Since: since}, nil, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	people := make([]*Person, 0, len(peoplePage.Items))
	for _, raw := range peoplePage.Items {
		if p, created, _ := s.savePerson(raw); p != nil {
			if created {
				s.emitPersonCreated(p)
			}
			people = append(people, p)
		}
	}

	roomsPage, err := s.wire.GetRooms(ctx, wire.RoomsFilter{Since: since, IncludeUsers: true}, nil, nil)
	if err != nil {
		return people, nil, nil, err
	}
	rooms := make([]*Room, 0, len(roomsPage.Items))
	for _, raw := range roomsPage.Items {
		fx := s.saveRoom(raw)
		s.emitRoomEffects(fx)
		rooms = append(rooms, fx.room)
	}

	rawMessages, err := s.wire.GetUserMessages(ctx, wire.MessagesFilter{CreatedAfter: since})
	if err != nil {
		return people, rooms, nil, err
	}
	messages := make([]*Message, 0, len(rawMessages))
	for _, raw := range rawMessages {
		if s.ensureRoom(raw.RoomID) == nil {
			continue
		}
		if m, _ := s.ingestMessage(raw, false); m != nil {
			messages = append(messages, m)
		}
	}
	return people, rooms, messages, nil
}

// Close tears the session down and suppresses the reconnect loop. It is
// idempotent and never touches the server; use Logout to invalidate the
// session remotely.
func (s *Session) Close() {
	s.mu.Lock()
	if s.forceClosed {
		s.mu.Unlock()
		return
	}
	s.forceClosed = true
	s.mu.Unlock()

	s.wire.CloseSocket()
	s.events.close()
}

// Logout closes the session and invalidates it server-side.
func (s *Session) Logout(ctx context.Context) error {
	s.Close()
	return s.wire.Logout(ctx)
}

// Impersonate rotates the session to act as another person. Requests already
// in flight complete with the old identity.
func (s *Session) Impersonate(ctx context.Context, personID int64) error {
	return s.wire.Impersonate(ctx, personID)
}

// Unimpersonate reverts an impersonated session.
func (s *Session) Unimpersonate(ctx context.Context) error {
	return s.wire.Unimpersonate(ctx)
}

// UpdateStatus sets the current user's status to idle or active.
func (s *Session) UpdateStatus(ctx context.Context, status string) error {
	return s.wire.UpdateStatus(ctx, status)
}

// UpdateHandle changes the current user's handle.
func (s *Session) UpdateHandle(ctx context.Context, handle string) error {
	return s.user.UpdateHandle(ctx, handle)
}

// GetUnseenCount asks the server for the unseen room and conversation
// counts.
func (s *Session) GetUnseenCount(ctx context.Context) (*wire.UnseenCounts, error) {
	return s.wire.UnseenCounts(ctx)
}
