package rcfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// State is the persisted session cache, keyed by user id. The library never
// reads it; only the CLI does, to resume sessions and to pre-warm lookups.
type State map[string]*UserState

// UserState is one user's persisted session.
type UserState struct {
	User   Identity      `json:"user"`
	Rooms  []RoomState   `json:"rooms,omitempty"`
	People []PersonState `json:"people,omitempty"`
}

// Identity carries the credentials needed to resume without a password.
type Identity struct {
	API APIState `json:"api"`
}

// APIState is the installation plus the tw-auth cookie captured at login.
type APIState struct {
	Installation string `json:"installation"`
	Auth         string `json:"auth"`
}

// RoomState is the subset of a room worth remembering between runs.
type RoomState struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title,omitempty"`
}

// PersonState is the subset of a person worth remembering between runs.
type PersonState struct {
	ID     int64  `json:"id"`
	Handle string `json:"handle"`
}

// Key converts a user id to its state map key.
func Key(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// LoadState reads the state file. A missing file yields an empty state.
func LoadState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file %s: %w", path, err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}
	if state == nil {
		state = State{}
	}
	return state, nil
}

// SaveState writes the state file with owner-only permissions, creating the
// parent directory when needed.
func SaveState(path string, state State) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create state directory %s: %w", dir, err)
		}
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write state file %s: %w", path, err)
	}
	return nil
}
