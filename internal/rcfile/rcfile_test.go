package rcfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadLayersEnvOverRC(t *testing.T) {
	rc := filepath.Join(t.TempDir(), DefaultName)
	content := "TWCHAT_INSTALLATION=https://rcfile.teamwork.com\nTWCHAT_USERNAME=peter\nTWCHAT_STATE_FILE=/tmp/state.json\n"
	if err := os.WriteFile(rc, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TWCHAT_INSTALLATION", "https://env.teamwork.com")
	t.Setenv("TWCHAT_USERNAME", "")

	s, err := Load(rc)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.Installation != "https://env.teamwork.com" {
		t.Errorf("installation = %q, want the environment value", s.Installation)
	}
	if s.Username != "peter" {
		t.Errorf("username = %q, want the rc file value", s.Username)
	}
	if s.StateFile != "/tmp/state.json" {
		t.Errorf("state file = %q, want the rc file value", s.StateFile)
	}
}

func TestLoadMissingRCFile(t *testing.T) {
	t.Setenv("TWCHAT_INSTALLATION", "")
	s, err := Load(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("Load() error = %v for a missing rc file", err)
	}
	if s.Installation != "" {
		t.Errorf("installation = %q, want empty", s.Installation)
	}
	if s.StateFile == "" {
		t.Error("state file default was not applied")
	}
}

func TestWriteRoundTrip(t *testing.T) {
	t.Setenv("TWCHAT_INSTALLATION", "")
	t.Setenv("TWCHAT_AUTH", "")
	path := filepath.Join(t.TempDir(), DefaultName)

	in := &Settings{
		Installation: "https://digitalcrew.teamwork.com",
		AuthToken:    "tok-123",
		StateFile:    "/tmp/state.json",
	}
	if err := in.Write(path); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("rc file mode = %o, want 0600", perm)
	}

	out, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if out.Installation != in.Installation || out.AuthToken != in.AuthToken {
		t.Errorf("round trip lost values: %+v", out)
	}
}

func TestStateRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "state.json")
	state := State{
		Key(42): {
			User: Identity{API: APIState{
				Installation: "https://digitalcrew.teamwork.com",
				Auth:         "tok-456",
			}},
			Rooms:  []RoomState{{ID: 5, Type: "pair"}},
			People: []PersonState{{ID: 7, Handle: "mary"}},
		},
	}
	if err := SaveState(path, state); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("state file mode = %o, want 0600", perm)
	}

	loaded, err := LoadState(path)
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	user, ok := loaded[Key(42)]
	if !ok {
		t.Fatal("user 42 missing after round trip")
	}
	if user.User.API.Auth != "tok-456" {
		t.Errorf("auth = %q, want tok-456", user.User.API.Auth)
	}
	if len(user.Rooms) != 1 || user.Rooms[0].Type != "pair" {
		t.Errorf("rooms = %+v", user.Rooms)
	}
}

func TestLoadStateMissingFile(t *testing.T) {
	t.Parallel()

	state, err := LoadState(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if len(state) != 0 {
		t.Errorf("state = %+v, want empty", state)
	}
}

func TestLoadStateMalformed(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{nope"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadState(path); err == nil {
		t.Error("LoadState() accepted malformed JSON")
	}
}
