package socket_test

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/teamwork/chat-go/internal/chattest"
	"github.com/teamwork/chat-go/internal/frame"
	"github.com/teamwork/chat-go/internal/socket"
)

func startInstallation(t *testing.T) (*chattest.Server, socket.Config) {
	t.Helper()

	srv := chattest.New(chattest.Config{Logger: zerolog.Nop()})
	id, err := srv.AddPerson(chattest.PersonParams{
		Handle:    "peter",
		FirstName: "Peter",
		LastName:  "Coulton",
		Password:  "s3cret",
	})
	if err != nil {
		t.Fatalf("AddPerson() error = %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	token, err := srv.Token(id)
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}

	cfg := socket.Config{
		URL:       srv.SocketURL(),
		AuthToken: token,
		Identity: socket.Identity{
			AuthKey:            srv.AuthKey(id),
			UserID:             id,
			InstallationDomain: srv.BaseURL() + "/",
			InstallationID:     srv.InstallationID(),
			ClientVersion:      "test",
		},
		Codec:  frame.NewCodec(frame.Source{Name: "Teamwork Chat Node API", Version: "test"}),
		Logger: zerolog.Nop(),
	}
	return srv, cfg
}

func dial(t *testing.T, cfg socket.Config) *socket.Session {
	t.Helper()
	sess, err := socket.Dial(t.Context(), cfg)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

func TestDialHandshake(t *testing.T) {
	t.Parallel()

	srv, cfg := startInstallation(t)
	sess := dial(t, cfg)

	if got := sess.State(); got != socket.StateConnected {
		t.Errorf("State() = %v, want %v", got, socket.StateConnected)
	}
	if n := srv.SessionCount(); n != 1 {
		t.Errorf("SessionCount() = %d, want 1", n)
	}
}

func TestDialAuthRejected(t *testing.T) {
	t.Parallel()

	srv, cfg := startInstallation(t)
	srv.FailAuth(true)

	_, err := socket.Dial(t.Context(), cfg)
	if !errors.Is(err, socket.ErrAuthRejected) {
		t.Fatalf("Dial() error = %v, want ErrAuthRejected", err)
	}
}

func TestDialWrongAuthKey(t *testing.T) {
	t.Parallel()

	_, cfg := startInstallation(t)
	cfg.Identity.AuthKey = "bogus"

	_, err := socket.Dial(t.Context(), cfg)
	if !errors.Is(err, socket.ErrAuthRejected) {
		t.Fatalf("Dial() error = %v, want ErrAuthRejected", err)
	}
}

func TestRequestPingPong(t *testing.T) {
	t.Parallel()

	_, cfg := startInstallation(t)
	sess := dial(t, cfg)

	reply, err := sess.Request(t.Context(), frame.NamePing, nil, 0)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if reply.Name != frame.NamePong {
		t.Errorf("reply name = %q, want pong", reply.Name)
	}
	if reply.Nonce == nil {
		t.Error("reply lost the correlation nonce")
	}
}

func TestNonceMonotonicity(t *testing.T) {
	t.Parallel()

	_, cfg := startInstallation(t)
	sess := dial(t, cfg)

	f1, err := sess.SendFrame(frame.NamePing, nil)
	if err != nil {
		t.Fatalf("SendFrame() error = %v", err)
	}
	f2, err := sess.SendFrame(frame.NamePing, nil)
	if err != nil {
		t.Fatalf("SendFrame() error = %v", err)
	}
	if *f1.Nonce >= *f2.Nonce {
		t.Errorf("nonces not increasing: %d then %d", *f1.Nonce, *f2.Nonce)
	}
}

func TestAwaitFrameMatchesPush(t *testing.T) {
	t.Parallel()

	srv, cfg := startInstallation(t)
	sess := dial(t, cfg)

	go func() {
		time.Sleep(50 * time.Millisecond)
		srv.Push("user.modified", map[string]any{"userId": 7, "key": "status", "value": "online"})
	}()

	got, err := sess.AwaitFrame(t.Context(), frame.Filter{
		Type:     frame.NameUserModified,
		Contents: map[string]any{"userId": 7, "key": "status"},
	}, 5*time.Second)
	if err != nil {
		t.Fatalf("AwaitFrame() error = %v", err)
	}
	if got.Name != frame.NameUserModified {
		t.Errorf("frame name = %q, want user.modified", got.Name)
	}
}

func TestAwaitFrameTimeout(t *testing.T) {
	t.Parallel()

	_, cfg := startInstallation(t)
	sess := dial(t, cfg)

	_, err := sess.AwaitFrame(t.Context(), frame.ByType("room.deleted"), 100*time.Millisecond)
	if !errors.Is(err, socket.ErrAwaitTimeout) {
		t.Fatalf("AwaitFrame() error = %v, want ErrAwaitTimeout", err)
	}
}

func TestRaceFrames(t *testing.T) {
	t.Parallel()

	srv, cfg := startInstallation(t)
	sess := dial(t, cfg)

	go func() {
		time.Sleep(50 * time.Millisecond)
		srv.Push("room.deleted", map[string]any{"roomId": 3})
	}()

	idx, got, err := sess.RaceFrames(t.Context(), 5*time.Second,
		frame.ByType("room.updated"),
		frame.ByType("room.deleted"),
	)
	if err != nil {
		t.Fatalf("RaceFrames() error = %v", err)
	}
	if idx != 1 {
		t.Errorf("winning index = %d, want 1", idx)
	}
	if got.Name != "room.deleted" {
		t.Errorf("winning frame = %q, want room.deleted", got.Name)
	}
}

func TestSendEventAwaitFastEcho(t *testing.T) {
	t.Parallel()

	_, cfg := startInstallation(t)
	sess := dial(t, cfg)

	// The fake echoes room.typing synchronously from its read loop, so the
	// echo can land before the sender resumes after the write. The waiter
	// must already be registered by then; hammer to expose any gap.
	echo := frame.Filter{
		Type:     frame.NameRoomTyping,
		Contents: map[string]any{"roomId": 42, "isTyping": true},
	}
	for i := 0; i < 25; i++ {
		got, err := sess.SendEventAwait(t.Context(), frame.NameRoomTyping, map[string]any{
			"roomId":   42,
			"isTyping": true,
		}, echo, 5*time.Second)
		if err != nil {
			t.Fatalf("SendEventAwait() #%d error = %v", i, err)
		}
		if got.Name != frame.NameRoomTyping {
			t.Errorf("echo name = %q, want room.typing", got.Name)
		}
	}
}

func TestSendEventAwaitSessionClosed(t *testing.T) {
	t.Parallel()

	_, cfg := startInstallation(t)
	sess := dial(t, cfg)
	sess.Close()

	_, err := sess.SendEventAwait(t.Context(), frame.NameRoomTyping, map[string]any{
		"roomId": 1, "isTyping": true,
	}, frame.ByType(frame.NameRoomTyping), time.Second)
	if !errors.Is(err, socket.ErrSessionClosed) {
		t.Fatalf("SendEventAwait() error = %v, want ErrSessionClosed", err)
	}
}

func TestBufferFrames(t *testing.T) {
	t.Parallel()

	srv, cfg := startInstallation(t)
	sess := dial(t, cfg)

	go func() {
		time.Sleep(50 * time.Millisecond)
		for i := 0; i < 3; i++ {
			srv.Push("user.modified", map[string]any{"userId": i})
		}
	}()

	frames, err := sess.BufferFrames(t.Context(), 3, 5*time.Second)
	if err != nil {
		t.Fatalf("BufferFrames() error = %v", err)
	}
	if len(frames) != 3 {
		t.Errorf("buffered %d frames, want 3", len(frames))
	}
}

func TestHeartbeatDeclaresConnectionBroken(t *testing.T) {
	t.Parallel()

	srv, cfg := startInstallation(t)
	cfg.PingInterval = 50 * time.Millisecond
	cfg.PingTimeout = 40 * time.Millisecond
	cfg.PingMaxAttempts = 3
	sess := dial(t, cfg)

	srv.SwallowPings(true)

	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session not closed after heartbeat loss")
	}

	reason := sess.CloseReason()
	if reason == nil || reason.Code != socket.CodeLivenessLost {
		t.Errorf("CloseReason() = %v, want liveness-lost code", reason)
	}
	if srv.PingCount() < 3 {
		t.Errorf("server saw %d pings, want at least the retry attempts", srv.PingCount())
	}
}

func TestServerDropClosesSession(t *testing.T) {
	t.Parallel()

	srv, cfg := startInstallation(t)
	sess := dial(t, cfg)

	srv.DropConnections()

	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session not closed after server drop")
	}
	if sess.State() != socket.StateClosed {
		t.Errorf("State() = %v, want closed", sess.State())
	}
}

func TestCloseCancelsWaiters(t *testing.T) {
	t.Parallel()

	_, cfg := startInstallation(t)
	sess := dial(t, cfg)

	errc := make(chan error, 1)
	go func() {
		_, err := sess.AwaitFrame(t.Context(), frame.ByType("room.updated"), 10*time.Second)
		errc <- err
	}()

	time.Sleep(50 * time.Millisecond)
	sess.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, socket.ErrSessionClosed) {
			t.Errorf("AwaitFrame() error = %v, want ErrSessionClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("waiter not released by close")
	}
}

func TestCloseIdempotent(t *testing.T) {
	t.Parallel()

	_, cfg := startInstallation(t)
	sess := dial(t, cfg)

	if err := sess.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if sess.State() != socket.StateClosed {
		t.Errorf("State() = %v, want closed", sess.State())
	}
}

func TestEmptyFilterRejected(t *testing.T) {
	t.Parallel()

	_, cfg := startInstallation(t)
	sess := dial(t, cfg)

	_, err := sess.AwaitFrame(t.Context(), frame.Filter{}, time.Second)
	if !errors.Is(err, frame.ErrEmptyFilter) {
		t.Fatalf("AwaitFrame() error = %v, want ErrEmptyFilter", err)
	}
}
