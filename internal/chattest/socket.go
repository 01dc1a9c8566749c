package chattest

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"

	"github.com/teamwork/chat-go/internal/frame"
	"github.com/teamwork/chat-go/internal/wire"
)

const socketWriteWait = 10 * time.Second

// socketSession is one authenticated WebSocket connection into the fake
// installation.
type socketSession struct {
	conn   *websocket.Conn
	userID int64

	writeMu sync.Mutex
}

func (ss *socketSession) write(f *frame.Frame) {
	data, err := f.Marshal()
	if err != nil {
		return
	}
	ss.writeMu.Lock()
	defer ss.writeMu.Unlock()
	_ = ss.conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	_ = ss.conn.WriteMessage(websocket.TextMessage, data)
}

// newFrame builds a server-originated frame, echoing the given nonce when the
// frame answers a client request.
func (s *Server) newFrame(name string, contents any, nonce *int64) (*frame.Frame, error) {
	raw := json.RawMessage(`{}`)
	if contents != nil {
		data, err := json.Marshal(contents)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	src := s.source
	return &frame.Frame{
		ContentType: frame.ContentTypeObject,
		Name:        name,
		Contents:    raw,
		Nonce:       nonce,
		Source:      &src,
	}, nil
}

func (s *Server) broadcast(f *frame.Frame, except *socketSession) {
	s.smu.RLock()
	defer s.smu.RUnlock()
	for sess := range s.sessions {
		if sess != except {
			sess.write(f)
		}
	}
}

func (s *Server) broadcastMessageCreated(msg wire.MessagePayload, except *socketSession) {
	f, err := s.newFrame(frame.NameRoomMessageCreated, msg, nil)
	if err != nil {
		return
	}
	s.broadcast(f, except)
}

func (s *Server) register(sess *socketSession) {
	s.smu.Lock()
	s.sessions[sess] = struct{}{}
	s.smu.Unlock()
}

func (s *Server) unregister(sess *socketSession) {
	s.smu.Lock()
	delete(s.sessions, sess)
	s.smu.Unlock()
}

// handleUpgrade authenticates the tw-auth cookie and hands the connection to
// the frame protocol.
func (s *Server) handleUpgrade(c fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	acct, _, ok := s.accountFromCookie(c)
	if !ok {
		return fiber.ErrUnauthorized
	}
	c.Locals("userID", acct.person.ID)
	return websocket.New(func(conn *websocket.Conn) {
		userID := conn.Locals("userID").(int64)
		s.serveSocket(conn, userID)
	})(c)
}

func (s *Server) serveSocket(conn *websocket.Conn, userID int64) {
	sess := &socketSession{conn: conn, userID: userID}
	defer func() {
		s.unregister(sess)
		_ = conn.Close()
	}()

	req, err := s.newFrame(frame.NameAuthenticationRequest, nil, nil)
	if err != nil {
		return
	}
	sess.write(req)

	if !s.awaitAuthResponse(sess) {
		return
	}
	s.register(sess)
	s.log.Debug().Int64("user", userID).Msg("socket session authenticated")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f, err := frame.Parse(data)
		if err != nil {
			s.log.Debug().Err(err).Msg("unparseable client frame")
			continue
		}
		s.handleClientFrame(sess, f)
	}
}

// awaitAuthResponse reads until the authentication.response frame arrives and
// validates it against the seeded account. Misconfigured or rejected
// handshakes answer with authentication.error.
func (s *Server) awaitAuthResponse(sess *socketSession) bool {
	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			return false
		}
		f, err := frame.Parse(data)
		if err != nil || f.Name != frame.NameAuthenticationResponse {
			continue
		}

		var identity struct {
			AuthKey        string `json:"authKey"`
			UserID         int64  `json:"userId"`
			InstallationID int64  `json:"installationId"`
		}
		if err := f.Decode(&identity); err != nil {
			return s.rejectAuth(sess, "malformed authentication.response")
		}
		if s.failAuth.Load() {
			return s.rejectAuth(sess, "authentication disabled")
		}
		acct, ok := s.account(sess.userID)
		if !ok || identity.UserID != sess.userID || identity.AuthKey != acct.authKey {
			return s.rejectAuth(sess, "authKey does not match user "+strconv.FormatInt(identity.UserID, 10))
		}
		if identity.InstallationID != s.cfg.InstallationID {
			return s.rejectAuth(sess, "wrong installation")
		}

		confirm, err := s.newFrame(frame.NameAuthenticationConfirmation, nil, nil)
		if err != nil {
			return false
		}
		sess.write(confirm)
		return true
	}
}

func (s *Server) rejectAuth(sess *socketSession, message string) bool {
	if f, err := s.newFrame(frame.NameAuthenticationError, fiber.Map{"message": message}, nil); err == nil {
		sess.write(f)
	}
	return false
}

func (s *Server) handleClientFrame(sess *socketSession, f *frame.Frame) {
	switch f.Name {
	case frame.NamePing:
		s.pings.Add(1)
		if s.swallowPings.Load() {
			return
		}
		s.reply(sess, frame.NamePong, nil, f.Nonce)

	case frame.NameUnseenCountsRequest:
		s.reply(sess, frame.NameUnseenCountsUpdated, s.unseenCounts(), f.Nonce)

	case frame.NameRoomMessageCreated:
		var contents struct {
			RoomID int64  `json:"roomId"`
			Body   string `json:"body"`
		}
		if err := f.Decode(&contents); err != nil {
			return
		}
		s.mu.Lock()
		msg := s.appendMessageLocked(contents.RoomID, sess.userID, contents.Body)
		s.mu.Unlock()
		if msg == nil {
			return
		}
		s.reply(sess, frame.NameRoomMessageCreated, *msg, f.Nonce)
		s.broadcastMessageCreated(*msg, sess)

	case frame.NameRoomTyping:
		var contents wire.TypingContents
		if err := f.Decode(&contents); err != nil {
			return
		}
		contents.UserID = sess.userID
		if echo, err := s.newFrame(frame.NameRoomTyping, contents, nil); err == nil {
			s.broadcast(echo, nil)
		}

	case frame.NameRoomUserActive:
		var contents wire.RoomUserActiveContents
		if err := f.Decode(&contents); err != nil {
			return
		}
		contents.ActiveAt = contents.Date
		if echo, err := s.newFrame(frame.NameRoomUserActive, contents, nil); err == nil {
			s.broadcast(echo, nil)
		}

	case frame.NameUserModifiedStatus:
		var contents wire.StatusContents
		if err := f.Decode(&contents); err != nil {
			return
		}
		changed, err := s.applyPersonUpdate(sess.userID, map[string]any{"status": contents.Status})
		if err != nil {
			return
		}
		// The contract replies only on a real change.
		if value, ok := changed["status"]; ok {
			_ = s.Push(frame.NameUserModified, wire.UserModifiedContents{
				UserID: sess.userID,
				Key:    "status",
				Value:  value,
			})
		}

	default:
		s.log.Debug().Str("frame", f.Name).Msg("ignoring client frame")
	}
}

func (s *Server) reply(sess *socketSession, name string, contents any, nonce *int64) {
	f, err := s.newFrame(name, contents, nonce)
	if err != nil {
		return
	}
	sess.write(f)
}
