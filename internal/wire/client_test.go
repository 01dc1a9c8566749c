package wire_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/teamwork/chat-go/internal/chattest"
	"github.com/teamwork/chat-go/internal/wire"
)

type installation struct {
	srv     *chattest.Server
	peterID int64
	maryID  int64
	pairID  int64
	groupID int64
}

func startInstallation(t *testing.T) *installation {
	t.Helper()

	srv := chattest.New(chattest.Config{Logger: zerolog.Nop()})
	peterID, err := srv.AddPerson(chattest.PersonParams{
		Handle:    "peter",
		FirstName: "Peter",
		LastName:  "Coulton",
		Email:     "peter@example.com",
		Password:  "s3cret",
		APIKey:    "twp_petekey",
	})
	if err != nil {
		t.Fatalf("AddPerson(peter) error = %v", err)
	}
	maryID, err := srv.AddPerson(chattest.PersonParams{
		Handle:    "mary",
		FirstName: "Mary",
		LastName:  "Moss",
		Password:  "s3cret",
	})
	if err != nil {
		t.Fatalf("AddPerson(mary) error = %v", err)
	}
	pairID := srv.AddRoom("pair", "", peterID, maryID)
	groupID := srv.AddRoom("private", "ops", peterID, maryID)

	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return &installation{srv: srv, peterID: peterID, maryID: maryID, pairID: pairID, groupID: groupID}
}

func login(t *testing.T, in *installation) *wire.Client {
	t.Helper()
	client, err := wire.From(t.Context(), wire.Config{
		Installation: in.srv.BaseURL(),
		SocketServer: in.srv.SocketURL(),
		Username:     "peter",
		Password:     "s3cret",
		Logger:       zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("From() error = %v", err)
	}
	return client
}

func connect(t *testing.T, in *installation) *wire.Client {
	t.Helper()
	client := login(t, in)
	sess, err := client.Connect(t.Context())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return client
}

func TestFromCredentials(t *testing.T) {
	t.Parallel()

	in := startInstallation(t)
	client, err := wire.FromCredentials(t.Context(), in.srv.BaseURL(), "peter", "s3cret")
	if err != nil {
		t.Fatalf("FromCredentials() error = %v", err)
	}

	acct := client.Account()
	if acct.ID != in.peterID {
		t.Errorf("account id = %d, want %d", acct.ID, in.peterID)
	}
	if acct.AuthKey == "" {
		t.Error("bootstrap lost the socket auth key")
	}
	if acct.User.Handle != "peter" {
		t.Errorf("user handle = %q, want peter", acct.User.Handle)
	}
	if client.AuthToken() == "" {
		t.Error("login did not capture the tw-auth cookie")
	}
}

func TestFromCredentialsWrongPassword(t *testing.T) {
	t.Parallel()

	in := startInstallation(t)
	_, err := wire.FromCredentials(t.Context(), in.srv.BaseURL(), "peter", "nope")
	if err == nil {
		t.Fatal("FromCredentials() accepted a wrong password")
	}
}

func TestFromKey(t *testing.T) {
	t.Parallel()

	in := startInstallation(t)
	client, err := wire.FromKey(t.Context(), in.srv.BaseURL(), "twp_petekey")
	if err != nil {
		t.Fatalf("FromKey() error = %v", err)
	}
	if client.Account().ID != in.peterID {
		t.Errorf("account id = %d, want %d", client.Account().ID, in.peterID)
	}
}

func TestFromAuth(t *testing.T) {
	t.Parallel()

	in := startInstallation(t)
	token, err := in.srv.Token(in.maryID)
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	client, err := wire.FromAuth(t.Context(), in.srv.BaseURL(), token)
	if err != nil {
		t.Fatalf("FromAuth() error = %v", err)
	}
	if client.Account().ID != in.maryID {
		t.Errorf("account id = %d, want %d", client.Account().ID, in.maryID)
	}
}

func TestFromLoginMethodValidation(t *testing.T) {
	t.Parallel()

	in := startInstallation(t)
	_, err := wire.From(t.Context(), wire.Config{Installation: in.srv.BaseURL()})
	if !errors.Is(err, wire.ErrNoLoginMethod) {
		t.Errorf("From() error = %v, want ErrNoLoginMethod", err)
	}

	_, err = wire.From(t.Context(), wire.Config{
		Installation: in.srv.BaseURL(),
		Username:     "peter",
		Password:     "s3cret",
		APIKey:       "twp_petekey",
	})
	if !errors.Is(err, wire.ErrAmbiguousLogin) {
		t.Errorf("From() error = %v, want ErrAmbiguousLogin", err)
	}
}

func TestGetPersonByHandle(t *testing.T) {
	t.Parallel()

	in := startInstallation(t)
	client := login(t, in)

	person, err := client.GetPersonByHandle(t.Context(), "mary")
	if err != nil {
		t.Fatalf("GetPersonByHandle() error = %v", err)
	}
	if person.ID != in.maryID {
		t.Errorf("person id = %d, want %d", person.ID, in.maryID)
	}

	_, err = client.GetPersonByHandle(t.Context(), "mar")
	if !errors.Is(err, wire.ErrNotFound) {
		t.Errorf("partial handle error = %v, want ErrNotFound", err)
	}
}

func TestGetPeoplePaging(t *testing.T) {
	t.Parallel()

	in := startInstallation(t)
	client := login(t, in)

	offset, limit := 0, 1
	page, err := client.GetPeople(t.Context(), wire.PeopleFilter{}, &offset, &limit)
	if err != nil {
		t.Fatalf("GetPeople() error = %v", err)
	}
	if len(page.Items) != 1 {
		t.Errorf("items = %d, want 1", len(page.Items))
	}
	if page.Total != 2 {
		t.Errorf("total = %d, want 2", page.Total)
	}
	if page.Limit != 1 {
		t.Errorf("limit = %d, want 1", page.Limit)
	}
}

func TestImpersonateRotatesToken(t *testing.T) {
	t.Parallel()

	in := startInstallation(t)
	client := login(t, in)
	before := client.AuthToken()

	if err := client.Impersonate(t.Context(), in.maryID); err != nil {
		t.Fatalf("Impersonate() error = %v", err)
	}
	if client.AuthToken() == before {
		t.Error("impersonation did not rotate the tw-auth token")
	}
	person, err := client.GetPerson(t.Context(), in.maryID)
	if err != nil {
		t.Fatalf("GetPerson() error = %v", err)
	}
	if person.Handle != "mary" {
		t.Errorf("handle = %q, want mary", person.Handle)
	}

	if err := client.Unimpersonate(t.Context()); err != nil {
		t.Fatalf("Unimpersonate() error = %v", err)
	}
}

func TestSendMessageOverSocket(t *testing.T) {
	t.Parallel()

	in := startInstallation(t)
	client := connect(t, in)

	msg, err := client.SendMessage(t.Context(), in.pairID, "howya lad")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if msg.ID == 0 {
		t.Error("server did not assign a message id")
	}
	if msg.Body != "howya lad" {
		t.Errorf("body = %q, want the sent text", msg.Body)
	}
	if got := in.srv.Messages(in.pairID); len(got) != 1 {
		t.Errorf("server log holds %d messages, want 1", len(got))
	}
}

func TestSendMessageRequiresSocket(t *testing.T) {
	t.Parallel()

	in := startInstallation(t)
	client := login(t, in)

	_, err := client.SendMessage(t.Context(), in.pairID, "hello")
	if !errors.Is(err, wire.ErrNotConnected) {
		t.Errorf("SendMessage() error = %v, want ErrNotConnected", err)
	}
}

func TestTypingEcho(t *testing.T) {
	t.Parallel()

	in := startInstallation(t)
	client := connect(t, in)

	if err := client.Typing(t.Context(), in.pairID, true); err != nil {
		t.Fatalf("Typing() error = %v", err)
	}
}

func TestTypingFastEcho(t *testing.T) {
	t.Parallel()

	in := startInstallation(t)
	client := connect(t, in)

	// The fake echoes typing synchronously with the read, so each echo can
	// arrive before Typing moves past its write. The echo waiter has to be
	// in place before the event goes out; repeat to expose any gap, with a
	// deadline well under the default await timeout.
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()
	for i := 0; i < 20; i++ {
		if err := client.Typing(ctx, in.pairID, i%2 == 0); err != nil {
			t.Fatalf("Typing() #%d error = %v", i, err)
		}
	}
}

func TestActivateRoomEcho(t *testing.T) {
	t.Parallel()

	in := startInstallation(t)
	client := connect(t, in)

	if err := client.ActivateRoom(t.Context(), in.groupID); err != nil {
		t.Fatalf("ActivateRoom() error = %v", err)
	}
}

func TestActivateRoomFastEcho(t *testing.T) {
	t.Parallel()

	in := startInstallation(t)
	client := connect(t, in)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()
	for i := 0; i < 20; i++ {
		if err := client.ActivateRoom(ctx, in.groupID); err != nil {
			t.Fatalf("ActivateRoom() #%d error = %v", i, err)
		}
	}
}

func TestUpdateStatus(t *testing.T) {
	t.Parallel()

	in := startInstallation(t)
	client := connect(t, in)

	if err := client.UpdateStatus(t.Context(), "idle"); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	err := client.UpdateStatus(t.Context(), "online")
	if !errors.Is(err, wire.ErrInvalidStatus) {
		t.Errorf("UpdateStatus(online) error = %v, want ErrInvalidStatus", err)
	}
}

func TestUnseenCounts(t *testing.T) {
	t.Parallel()

	in := startInstallation(t)
	conversations := 2
	in.srv.SetUnseen(wire.UnseenCounts{
		Important: wire.UnseenBucket{Rooms: 1},
		Total:     wire.UnseenBucket{Rooms: 4, Conversations: &conversations},
	})
	client := connect(t, in)

	counts, err := client.UnseenCounts(t.Context())
	if err != nil {
		t.Fatalf("UnseenCounts() error = %v", err)
	}
	if counts.Total.Rooms != 4 {
		t.Errorf("total rooms = %d, want 4", counts.Total.Rooms)
	}
	if counts.Total.Conversations == nil || *counts.Total.Conversations != 2 {
		t.Errorf("total conversations = %v, want 2", counts.Total.Conversations)
	}
	if counts.Important.Conversations != nil {
		t.Error("important conversations should stay nil when the server omits them")
	}
}

func TestClearRoomHistoryPairOnly(t *testing.T) {
	t.Parallel()

	in := startInstallation(t)
	client := login(t, in)
	in.srv.AddMessage(in.pairID, in.maryID, "old news")

	if err := client.ClearRoomHistory(t.Context(), in.pairID, 0); err != nil {
		t.Fatalf("ClearRoomHistory(pair) error = %v", err)
	}
	err := client.ClearRoomHistory(t.Context(), in.groupID, 0)
	if !errors.Is(err, wire.ErrNotPairRoom) {
		t.Errorf("ClearRoomHistory(group) error = %v, want ErrNotPairRoom", err)
	}
}

func TestRoomLifecycle(t *testing.T) {
	t.Parallel()

	in := startInstallation(t)
	client := login(t, in)

	id, err := client.CreateRoom(t.Context(), []string{"mary"}, "kick-off")
	if err != nil {
		t.Fatalf("CreateRoom() error = %v", err)
	}
	if id == 0 {
		t.Fatal("CreateRoom() returned no id")
	}

	if err := client.UpdateRoomTitle(t.Context(), id, "planning"); err != nil {
		t.Fatalf("UpdateRoomTitle() error = %v", err)
	}
	room, err := client.GetRoom(t.Context(), id, true)
	if err != nil {
		t.Fatalf("GetRoom() error = %v", err)
	}
	if room.Title == nil || *room.Title != "planning" {
		t.Errorf("title = %v, want planning", room.Title)
	}
	if len(room.People) != 2 {
		t.Errorf("people = %d, want 2", len(room.People))
	}

	if err := client.DeleteRoom(t.Context(), id); err != nil {
		t.Fatalf("DeleteRoom() error = %v", err)
	}
	_, err = client.GetRoom(t.Context(), id, false)
	if !errors.Is(err, wire.ErrNotFound) {
		t.Errorf("GetRoom() after delete error = %v, want ErrNotFound", err)
	}
}

func TestMessageRedaction(t *testing.T) {
	t.Parallel()

	in := startInstallation(t)
	client := login(t, in)
	msgID := in.srv.AddMessage(in.groupID, in.peterID, "delete me")

	if err := client.DeleteMessages(t.Context(), in.groupID, []int64{msgID}); err != nil {
		t.Fatalf("DeleteMessages() error = %v", err)
	}
	msgs, err := client.GetRoomMessages(t.Context(), in.groupID)
	if err != nil {
		t.Fatalf("GetRoomMessages() error = %v", err)
	}
	if len(msgs) != 1 || msgs[0].Status == "active" {
		t.Errorf("messages = %+v, want one non-active message", msgs)
	}

	if err := client.UndeleteMessages(t.Context(), in.groupID, []int64{msgID}); err != nil {
		t.Fatalf("UndeleteMessages() error = %v", err)
	}
	msgs, err = client.GetRoomMessages(t.Context(), in.groupID)
	if err != nil {
		t.Fatalf("GetRoomMessages() error = %v", err)
	}
	if msgs[0].Status != "active" {
		t.Errorf("status = %q, want active after undelete", msgs[0].Status)
	}
}

func TestLogout(t *testing.T) {
	t.Parallel()

	in := startInstallation(t)
	client := connect(t, in)

	if err := client.Logout(t.Context()); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := client.Session(); !errors.Is(err, wire.ErrNotConnected) {
		t.Errorf("Session() after logout error = %v, want ErrNotConnected", err)
	}
}
