// Package wire implements the domain-level client for the chat protocol: the
// login variants, the me.json bootstrap, the socket connection, and every REST
// and frame RPC the service exposes. It owns nothing long-lived beyond the
// transports; the entity model on top lives in the chat package.
package wire

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/teamwork/chat-go/internal/frame"
	"github.com/teamwork/chat-go/internal/rest"
	"github.com/teamwork/chat-go/internal/socket"
)

// SourceName is the client identity on the frame envelope. Servers validate
// it, so it must be sent exactly as registered.
const SourceName = "Teamwork Chat Node API"

// Version is the client version stamped on frames and the handshake.
const Version = "1.0.0"

// keyLoginPassword turns the username field of a credentials login into an
// API key.
const keyLoginPassword = "club-lemon"

// Config shapes a client. Exactly one login method must be populated:
// Username+Password, APIKey, or AuthToken.
type Config struct {
	// Installation is the base URL, e.g. https://digitalcrew.teamwork.com.
	Installation string
	// SocketServer optionally overrides socket URL inference.
	SocketServer string

	Username string
	Password string
	APIKey   string
	// AuthToken adopts an existing tw-auth cookie value.
	AuthToken string

	// HTTPClient defaults to one with a request timeout.
	HTTPClient *http.Client
	Logger     zerolog.Logger

	// Socket tuning; zero values take the protocol defaults.
	PingInterval    time.Duration
	PingTimeout     time.Duration
	PingMaxAttempts int
	AwaitTimeout    time.Duration

	// OnSocketError observes non-fatal protocol errors from the read path.
	OnSocketError func(error)
}

func (c Config) loginMethod() (string, error) {
	methods := 0
	kind := ""
	if c.Username != "" || c.Password != "" {
		methods++
		kind = "credentials"
	}
	if c.APIKey != "" {
		methods++
		kind = "key"
	}
	if c.AuthToken != "" {
		methods++
		kind = "token"
	}
	switch methods {
	case 0:
		return "", ErrNoLoginMethod
	case 1:
		return kind, nil
	default:
		return "", ErrAmbiguousLogin
	}
}

// Client is a logged-in wire client: the REST transport, the frame codec, and
// at most one live socket session.
type Client struct {
	installation Installation
	rest         *rest.Client
	token        *rest.TokenStore
	codec        *frame.Codec
	cfg          Config
	log          zerolog.Logger

	account Account

	mu   sync.RWMutex
	sess *socket.Session
}

// Account is the identity returned by the me.json bootstrap.
type Account struct {
	ID             int64
	AuthKey        string
	URL            string
	InstallationID int64
	User           PersonPayload
}

// From logs in with whichever method the config carries and bootstraps the
// account identity. The socket is not opened; call Connect.
func From(ctx context.Context, cfg Config) (*Client, error) {
	kind, err := cfg.loginMethod()
	if err != nil {
		return nil, err
	}

	installation, err := NewInstallation(cfg.Installation, cfg.SocketServer)
	if err != nil {
		return nil, err
	}

	c := &Client{
		installation: installation,
		token:        rest.NewTokenStore(cfg.AuthToken),
		codec:        frame.NewCodec(frame.Source{Name: SourceName, Version: Version}),
		cfg:          cfg,
		log:          cfg.Logger.With().Str("component", "wire").Logger(),
	}
	c.rest = rest.NewClient(installation.BaseURL(), c.token, cfg.HTTPClient, cfg.Logger)

	switch kind {
	case "credentials":
		err = c.login(ctx, cfg.Username, cfg.Password)
	case "key":
		err = c.login(ctx, cfg.APIKey, keyLoginPassword)
	case "token":
		// Token adopted as-is; the bootstrap below verifies it.
	}
	if err != nil {
		return nil, err
	}

	if err := c.bootstrap(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// FromCredentials logs in with a username and password.
func FromCredentials(ctx context.Context, installation, username, password string) (*Client, error) {
	return From(ctx, Config{Installation: installation, Username: username, Password: password})
}

// FromKey logs in with an API key.
func FromKey(ctx context.Context, installation, key string) (*Client, error) {
	return From(ctx, Config{Installation: installation, APIKey: key})
}

// FromAuth adopts an existing tw-auth token.
func FromAuth(ctx context.Context, installation, token string) (*Client, error) {
	return From(ctx, Config{Installation: installation, AuthToken: token})
}

func (c *Client) login(ctx context.Context, username, password string) error {
	body := map[string]any{
		"username":   username,
		"password":   password,
		"rememberMe": true,
	}
	resp, err := c.rest.DoRaw(ctx, "launchpad/v1/login.json", rest.Options{
		Method: http.MethodPost,
		Body:   body,
		NoAuth: true,
	})
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("login: server returned %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	token, err := authCookie(resp)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	c.token.Rotate(token)
	return nil
}

func authCookie(resp *http.Response) (string, error) {
	for _, cookie := range resp.Cookies() {
		if cookie.Name == rest.CookieName && cookie.Value != "" {
			return cookie.Value, nil
		}
	}
	return "", ErrNoAuthCookie
}

func (c *Client) bootstrap(ctx context.Context) error {
	var out meResponse
	err := c.rest.Do(ctx, "chat/me.json", rest.Options{
		Query: rest.Query{"includeAuth": true},
	}, &out)
	if err != nil {
		return fmt.Errorf("bootstrap me.json: %w", err)
	}
	c.account = Account{
		ID:             out.Account.ID,
		AuthKey:        out.Account.AuthKey,
		URL:            out.Account.URL,
		InstallationID: out.Account.InstallationID,
		User:           out.Account.User,
	}
	c.log.Debug().Int64("user", c.account.ID).Msg("bootstrapped")
	return nil
}

// Account returns the bootstrapped identity.
func (c *Client) Account() Account {
	return c.account
}

// Installation returns the endpoint descriptor.
func (c *Client) Installation() Installation {
	return c.installation
}

// AuthToken returns the current tw-auth token.
func (c *Client) AuthToken() string {
	return c.token.Token()
}

// Connect dials the socket endpoint, runs the authentication handshake, and
// retains the session for the socket RPCs. Any previous session is closed
// first.
func (c *Client) Connect(ctx context.Context) (*socket.Session, error) {
	domain := c.account.URL
	if domain == "" {
		domain = c.installation.String() + "/"
	}

	sess, err := socket.Dial(ctx, socket.Config{
		URL:       c.installation.SocketURL(),
		AuthToken: c.token.Token(),
		Identity: socket.Identity{
			AuthKey:            c.account.AuthKey,
			UserID:             c.account.ID,
			InstallationDomain: domain,
			InstallationID:     c.account.InstallationID,
			ClientVersion:      Version,
		},
		Codec:           c.codec,
		Logger:          c.cfg.Logger,
		OnError:         c.cfg.OnSocketError,
		PingInterval:    c.cfg.PingInterval,
		PingTimeout:     c.cfg.PingTimeout,
		PingMaxAttempts: c.cfg.PingMaxAttempts,
		AwaitTimeout:    c.cfg.AwaitTimeout,
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	old := c.sess
	c.sess = sess
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return sess, nil
}

// Session returns the live socket session, or ErrNotConnected.
func (c *Client) Session() (*socket.Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sess == nil || c.sess.State() == socket.StateClosed {
		return nil, ErrNotConnected
	}
	return c.sess, nil
}

// CloseSocket tears down the live socket session, if any.
func (c *Client) CloseSocket() {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()
	if sess != nil {
		_ = sess.Close()
	}
}

// Logout closes the socket and invalidates the session server-side.
func (c *Client) Logout(ctx context.Context) error {
	c.CloseSocket()
	err := c.rest.Do(ctx, "launchpad/v1/logout.json", rest.Options{Method: http.MethodDelete}, nil)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Impersonate swaps the session to act as the given person. The rotated
// tw-auth cookie replaces the current token atomically; requests already in
// flight complete with the old cookie.
func (c *Client) Impersonate(ctx context.Context, personID int64) error {
	return c.rotateVia(ctx, fmt.Sprintf("people/%d/impersonate.json", personID))
}

// Unimpersonate reverts an impersonated session to the real account.
func (c *Client) Unimpersonate(ctx context.Context) error {
	return c.rotateVia(ctx, "people/impersonate/revert.json")
}

func (c *Client) rotateVia(ctx context.Context, path string) error {
	resp, err := c.rest.DoRaw(ctx, path, rest.Options{Method: http.MethodPut})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s: server returned %d %s", path, resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	token, err := authCookie(resp)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	c.token.Rotate(token)
	return nil
}
