// Package rcfile loads CLI settings from the .twchatrc file and the process
// environment, and owns the persisted session state file.
package rcfile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// DefaultName is the rc file looked up in the user's home directory.
const DefaultName = ".twchatrc"

// Settings are the values the CLI reads before flags are applied. Precedence
// is flags > process environment > rc file; this package resolves the lower
// two layers.
type Settings struct {
	// Installation is the base URL, e.g. https://digitalcrew.teamwork.com.
	Installation string
	Username     string
	Password     string
	APIKey       string
	// AuthToken is a previously captured tw-auth cookie value.
	AuthToken string
	// SocketServer overrides socket endpoint inference.
	SocketServer string
	// StateFile is where the session cache is persisted.
	StateFile string
	// LogShipURL is a redis URL logs are shipped to when set.
	LogShipURL string
}

// DefaultPath returns the rc file location in the user's home directory, or
// just the file name when the home directory cannot be resolved.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultName
	}
	return filepath.Join(home, DefaultName)
}

// DefaultStatePath returns the session state location under the user's home
// directory.
func DefaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".twchat", "state.json")
	}
	return filepath.Join(home, ".twchat", "state.json")
}

// Load resolves settings from the rc file at path layered under the process
// environment. A missing rc file is not an error; a malformed one is.
func Load(path string) (*Settings, error) {
	rc := map[string]string{}
	if path != "" {
		var err error
		rc, err = godotenv.Read(path)
		if os.IsNotExist(err) {
			rc = map[string]string{}
		} else if err != nil {
			return nil, fmt.Errorf("read rc file %s: %w", path, err)
		}
	}

	pick := func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return rc[key]
	}

	s := &Settings{
		Installation: pick("TWCHAT_INSTALLATION"),
		Username:     pick("TWCHAT_USERNAME"),
		Password:     pick("TWCHAT_PASSWORD"),
		APIKey:       pick("TWCHAT_API_KEY"),
		AuthToken:    pick("TWCHAT_AUTH"),
		SocketServer: pick("TWCHAT_SOCKET_SERVER"),
		StateFile:    pick("TWCHAT_STATE_FILE"),
		LogShipURL:   pick("TWCHAT_LOG_SHIP_URL"),
	}
	if s.StateFile == "" {
		s.StateFile = DefaultStatePath()
	}
	return s, nil
}

// Write persists the settings as an rc file with owner-only permissions.
// Empty values are omitted.
func (s *Settings) Write(path string) error {
	pairs := map[string]string{
		"TWCHAT_INSTALLATION":  s.Installation,
		"TWCHAT_USERNAME":      s.Username,
		"TWCHAT_PASSWORD":      s.Password,
		"TWCHAT_API_KEY":       s.APIKey,
		"TWCHAT_AUTH":          s.AuthToken,
		"TWCHAT_SOCKET_SERVER": s.SocketServer,
		"TWCHAT_STATE_FILE":    s.StateFile,
		"TWCHAT_LOG_SHIP_URL":  s.LogShipURL,
	}
	for key, v := range pairs {
		if v == "" {
			delete(pairs, key)
		}
	}
	content, err := godotenv.Marshal(pairs)
	if err != nil {
		return fmt.Errorf("marshal rc file: %w", err)
	}
	if err := os.WriteFile(path, []byte(content+"\n"), 0o600); err != nil {
		return fmt.Errorf("write rc file %s: %w", path, err)
	}
	return nil
}
