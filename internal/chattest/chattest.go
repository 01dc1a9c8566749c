// Package chattest runs an in-memory chat installation speaking the same REST
// and WebSocket contract as a production installation: launchpad login with
// argon2id-verified credentials, JWT tw-auth cookies, the chat REST surface,
// and the frame protocol with handshake, pings, and server pushes. Protocol
// and end-to-end tests drive it on an ephemeral port, and cmd/chatfaked runs
// it standalone for development.
package chattest

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/teamwork/chat-go/internal/frame"
	"github.com/teamwork/chat-go/internal/wire"
)

// Config shapes the fake installation.
type Config struct {
	// Addr to listen on; defaults to an ephemeral localhost port.
	Addr string
	// InstallationID reported by me.json and checked in the handshake.
	InstallationID int64
	// JWTSecret signs tw-auth cookies; generated when empty.
	JWTSecret []byte
	Logger    zerolog.Logger
}

// Server is one fake installation.
type Server struct {
	cfg    Config
	app    *fiber.App
	ln     net.Listener
	log    zerolog.Logger
	secret []byte
	source frame.Source

	mu            sync.RWMutex
	accounts      map[int64]*account
	byHandle      map[string]int64
	rooms         map[int64]*room
	nextPersonID  int64
	nextRoomID    int64
	nextMessageID int64

	smu      sync.RWMutex
	sessions map[*socketSession]struct{}

	swallowPings atomic.Bool
	failAuth     atomic.Bool
	failFetches  atomic.Bool
	pings        atomic.Int64

	unseenMu sync.RWMutex
	unseen   wire.UnseenCounts
}

// New builds a stopped server. Seed it with AddPerson/AddRoom/AddMessage,
// then Start it.
func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	if cfg.InstallationID == 0 {
		cfg.InstallationID = 1
	}
	secret := cfg.JWTSecret
	if len(secret) == 0 {
		secret = []byte(newAuthKey())
	}

	s := &Server{
		cfg:      cfg,
		log:      cfg.Logger.With().Str("component", "chattest").Logger(),
		secret:   secret,
		source:   frame.Source{Name: "Teamwork Chat Server", Version: "sim"},
		accounts: make(map[int64]*account),
		byHandle: make(map[string]int64),
		rooms:    make(map[int64]*room),
		sessions: make(map[*socketSession]struct{}),
	}
	s.app = s.buildApp()
	return s
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.ln = ln
	go func() {
		if err := s.app.Listener(ln, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
			s.log.Debug().Err(err).Msg("listener stopped")
		}
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("installation up")
	return nil
}

// Close drops every socket session and stops the HTTP server.
func (s *Server) Close() error {
	s.DropConnections()
	return s.app.Shutdown()
}

// BaseURL returns the installation's HTTP base, e.g. http://127.0.0.1:41234.
func (s *Server) BaseURL() string {
	return "http://" + s.ln.Addr().String()
}

// SocketURL returns the WebSocket endpoint clients should dial.
func (s *Server) SocketURL() string {
	return "ws://" + s.ln.Addr().String() + "/ws"
}

// InstallationID returns the configured installation id.
func (s *Server) InstallationID() int64 {
	return s.cfg.InstallationID
}

// Token mints a tw-auth cookie value for a seeded account, for tests that
// open the socket without going through the login endpoint.
func (s *Server) Token(userID int64) (string, error) {
	return s.mintToken(userID, 0)
}

// SwallowPings makes the socket drop ping requests on the floor, simulating a
// server that stopped answering while keeping the TCP connection up.
func (s *Server) SwallowPings(v bool) {
	s.swallowPings.Store(v)
}

// FailAuth makes every handshake answer with authentication.error.
func (s *Server) FailAuth(v bool) {
	s.failAuth.Store(v)
}

// FailFetches makes the people, conversation, and message listings answer
// with 500, simulating an installation whose REST API is down while sockets
// keep working.
func (s *Server) FailFetches(v bool) {
	s.failFetches.Store(v)
}

// PingCount reports how many ping frames arrived, swallowed or not.
func (s *Server) PingCount() int64 {
	return s.pings.Load()
}

// SetUnseen configures the unseen.counts.updated payload.
func (s *Server) SetUnseen(counts wire.UnseenCounts) {
	s.unseenMu.Lock()
	s.unseen = counts
	s.unseenMu.Unlock()
}

func (s *Server) unseenCounts() wire.UnseenCounts {
	s.unseenMu.RLock()
	defer s.unseenMu.RUnlock()
	return s.unseen
}

// Push broadcasts a server frame to every connected session.
func (s *Server) Push(name string, contents any) error {
	f, err := s.newFrame(name, contents, nil)
	if err != nil {
		return err
	}
	s.broadcast(f, nil)
	return nil
}

// PushTo sends a server frame to the sessions of one user.
func (s *Server) PushTo(userID int64, name string, contents any) error {
	f, err := s.newFrame(name, contents, nil)
	if err != nil {
		return err
	}
	s.smu.RLock()
	defer s.smu.RUnlock()
	for sess := range s.sessions {
		if sess.userID == userID {
			sess.write(f)
		}
	}
	return nil
}

// DropConnections abruptly severs every socket session without a close
// handshake, the way a crashed server would.
func (s *Server) DropConnections() {
	s.smu.Lock()
	defer s.smu.Unlock()
	for sess := range s.sessions {
		_ = sess.conn.Close()
		delete(s.sessions, sess)
	}
}

// SessionCount reports the number of authenticated socket sessions.
func (s *Server) SessionCount() int {
	s.smu.RLock()
	defer s.smu.RUnlock()
	return len(s.sessions)
}
