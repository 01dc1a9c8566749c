// Package socket owns the WebSocket half of the chat protocol: the
// authentication handshake, frame multiplexing between waiters and the frame
// stream, the heartbeat liveness machine, and prompt close semantics.
package socket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"

	"github.com/teamwork/chat-go/internal/frame"
	"github.com/teamwork/chat-go/internal/rest"
)

// Protocol constants. The heartbeat parameters bound failure detection to
// PingInterval + PingMaxAttempts × PingTimeout.
const (
	DefaultPingInterval     = 10 * time.Second
	DefaultPingTimeout      = 3 * time.Second
	DefaultPingMaxAttempts  = 3
	DefaultAwaitTimeout     = 30 * time.Second
	DefaultHandshakeTimeout = 15 * time.Second

	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
	frameBuffer    = 256
)

// Identity is the payload of the authentication.response frame.
type Identity struct {
	AuthKey            string `json:"authKey"`
	UserID             int64  `json:"userId"`
	InstallationDomain string `json:"installationDomain"`
	InstallationID     int64  `json:"installationId"`
	ClientVersion      string `json:"clientVersion"`
}

// Config describes one connection attempt.
type Config struct {
	// URL is the resolved ws(s) endpoint.
	URL string
	// AuthToken is the tw-auth cookie value, shared with the HTTP transport.
	AuthToken string
	// Identity fills the authentication.response frame.
	Identity Identity
	// Codec stamps outbound frames. Required.
	Codec  *frame.Codec
	Logger zerolog.Logger

	// OnError observes non-fatal protocol errors (malformed inbound frames).
	// Called from the read goroutine; must not block.
	OnError func(error)

	// Zero values take the protocol defaults above.
	PingInterval     time.Duration
	PingTimeout      time.Duration
	PingMaxAttempts  int
	AwaitTimeout     time.Duration
	HandshakeTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = DefaultPingTimeout
	}
	if c.PingMaxAttempts <= 0 {
		c.PingMaxAttempts = DefaultPingMaxAttempts
	}
	if c.AwaitTimeout <= 0 {
		c.AwaitTimeout = DefaultAwaitTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return c
}

// Session is one authenticated WebSocket connection. Sessions are not
// reconnectable; the owner dials a fresh one after Done fires.
type Session struct {
	conn  *websocket.Conn
	codec *frame.Codec
	cfg   Config
	log   zerolog.Logger

	writeMu sync.Mutex

	wmu     sync.Mutex
	waiters map[uint64]*waiter
	nextID  uint64
	closed  bool
	reason  *CloseError

	frames chan *frame.Frame
	done   chan struct{}

	closeOnce sync.Once
	state     atomic.Int32

	stopPing context.CancelFunc
}

// Dial opens the WebSocket with the tw-auth cookie attached, runs the
// authentication handshake, and starts the heartbeat. The returned session is
// Connected. Handshake failures close the socket and surface as the returned
// error; an authentication.error frame fails with ErrAuthRejected carrying
// the server's contents.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()

	s := &Session{
		codec:   cfg.Codec,
		cfg:     cfg,
		log:     cfg.Logger.With().Str("component", "socket").Logger(),
		waiters: make(map[uint64]*waiter),
		frames:  make(chan *frame.Frame, frameBuffer),
		done:    make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))

	header := http.Header{}
	header.Set("Cookie", rest.CookieName+"="+cfg.AuthToken)

	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s (status %d): %w", cfg.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	s.conn = conn
	s.conn.SetReadLimit(maxMessageSize)
	s.state.Store(int32(StateAuthenticating))

	// Waiters are registered before the read pump starts, so frames pushed
	// immediately after the upgrade cannot slip past the handshake.
	authReq, err := s.addWaiter(frame.ByType(frame.NameAuthenticationRequest), 1)
	if err != nil {
		s.close(&CloseError{Code: CodeClientClosed, Reason: "handshake aborted", Err: err})
		return nil, err
	}
	go s.readPump()

	if err := s.handshake(ctx, authReq); err != nil {
		s.close(&CloseError{Code: CodeClientClosed, Reason: "handshake failed", Err: err})
		return nil, err
	}

	pingCtx, cancel := context.WithCancel(context.Background())
	s.stopPing = cancel
	s.state.Store(int32(StateConnected))
	go s.heartbeatLoop(pingCtx)

	s.log.Debug().Str("url", cfg.URL).Msg("connected")
	return s, nil
}

func (s *Session) handshake(ctx context.Context, authReq *waiter) error {
	deadline := time.NewTimer(s.cfg.HandshakeTimeout)
	defer deadline.Stop()

	select {
	case _, ok := <-authReq.ch:
		if !ok {
			return s.closeError()
		}
	case <-deadline.C:
		return fmt.Errorf("await %s: %w", frame.NameAuthenticationRequest, ErrAwaitTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	// Register both outcomes before answering so the reply cannot race the
	// waiters.
	confirmed, err := s.addWaiter(frame.ByType(frame.NameAuthenticationConfirmation), 1)
	if err != nil {
		return err
	}
	defer s.removeWaiter(confirmed.id)
	rejected, err := s.addWaiter(frame.ByType(frame.NameAuthenticationError), 1)
	if err != nil {
		return err
	}
	defer s.removeWaiter(rejected.id)

	if _, err := s.SendFrame(frame.NameAuthenticationResponse, s.cfg.Identity); err != nil {
		return err
	}

	select {
	case _, ok := <-confirmed.ch:
		if !ok {
			return s.closeError()
		}
		return nil
	case f, ok := <-rejected.ch:
		if !ok {
			return s.closeError()
		}
		return fmt.Errorf("%w: %s", ErrAuthRejected, f.Contents)
	case <-deadline.C:
		return fmt.Errorf("await %s: %w", frame.NameAuthenticationConfirmation, ErrAwaitTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Frames returns the inbound frame stream. Every frame arrives here after
// matching waiters resolve, in arrival order. The channel closes when the
// session ends.
func (s *Session) Frames() <-chan *frame.Frame {
	return s.frames
}

// Done closes when the session has ended for any reason.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// CloseReason reports why the session ended, or nil while it is live.
func (s *Session) CloseReason() *CloseError {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.reason
}

// SendFrame serialises and writes a nonced frame, returning it so callers can
// correlate the reply.
func (s *Session) SendFrame(name string, contents any) (*frame.Frame, error) {
	f, err := s.codec.New(name, contents, true)
	if err != nil {
		return nil, err
	}
	if err := s.writeFrame(f); err != nil {
		return nil, err
	}
	return f, nil
}

// SendEvent writes a frame without a nonce, for pure events that never get a
// paired response.
func (s *Session) SendEvent(name string, contents any) error {
	f, err := s.codec.New(name, contents, false)
	if err != nil {
		return err
	}
	return s.writeFrame(f)
}

func (s *Session) writeFrame(f *frame.Frame) error {
	if s.State() == StateClosed {
		return fmt.Errorf("write %s frame: %w", f.Name, ErrSessionClosed)
	}
	data, err := f.Marshal()
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Name, err)
	}
	s.log.Trace().Str("frame", f.Name).Msg("sent")
	return nil
}

func (s *Session) readPump() {
	defer close(s.frames)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.close(closeErrorFromRead(err))
			return
		}
		f, err := frame.Parse(data)
		if err != nil {
			s.log.Warn().Err(err).Msg("malformed inbound frame")
			if s.cfg.OnError != nil {
				s.cfg.OnError(err)
			}
			continue
		}
		s.log.Trace().Str("frame", f.Name).Msg("received")

		s.dispatch(f)

		select {
		case s.frames <- f:
		case <-s.done:
			return
		}
	}
}

func closeErrorFromRead(err error) *CloseError {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		reason := ce.Text
		if reason == "" {
			reason = "closed by server"
		}
		return &CloseError{Code: ce.Code, Reason: reason, Err: err}
	}
	return &CloseError{Code: websocket.CloseAbnormalClosure, Reason: "read failed", Err: err}
}

// Close tears the session down promptly: it does not wait for an orderly
// WebSocket closure, cancels every pending waiter with the close reason, and
// fires Done synchronously. Safe to call repeatedly.
func (s *Session) Close() error {
	s.close(&CloseError{Code: CodeClientClosed, Reason: "closed by client"})
	return nil
}

func (s *Session) close(reason *CloseError) {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		if s.stopPing != nil {
			s.stopPing()
		}

		s.wmu.Lock()
		s.closed = true
		s.reason = reason
		for id, w := range s.waiters {
			delete(s.waiters, id)
			close(w.ch)
		}
		s.wmu.Unlock()

		_ = s.conn.Close()
		close(s.done)

		s.log.Debug().Int("code", reason.Code).Str("reason", reason.Reason).Msg("closed")
	})
}

func (s *Session) closeError() error {
	if reason := s.CloseReason(); reason != nil {
		return fmt.Errorf("%w: %s", ErrSessionClosed, reason.Error())
	}
	return ErrSessionClosed
}
