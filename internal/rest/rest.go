// Package rest performs the HTTP half of the chat protocol: JSON requests
// against an installation's base URL, authenticated with the tw-auth session
// cookie shared with the WebSocket path.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CookieName is the session cookie carrying the authentication token on both
// the HTTP and WebSocket paths.
const CookieName = "tw-auth"

const defaultRequestTimeout = 30 * time.Second

// TokenStore holds the tw-auth token. Impersonation rotates the token while
// other requests may be reading it, so access goes through a read-write lock.
// Rotation is atomic: a reader sees either the old or the new token, never a
// torn value, though requests already in flight complete with the cookie they
// were sent with.
type TokenStore struct {
	mu    sync.RWMutex
	token string
}

// NewTokenStore returns a store seeded with the given token.
func NewTokenStore(token string) *TokenStore {
	return &TokenStore{token: token}
}

// Token returns the current token.
func (s *TokenStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Rotate replaces the token.
func (s *TokenStore) Rotate(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Options shape a single request.
type Options struct {
	// Method defaults to GET.
	Method string
	// Body is serialised to JSON with Content-Type application/json unless it
	// is a []byte or string, which pass through untouched.
	Body any
	// Query is bracket-encoded into the URL. The path must not already carry
	// a query string when Query is set.
	Query Query
	// Headers are merged over the defaults.
	Headers http.Header
	// NoAuth skips the tw-auth cookie. Only the login call uses this.
	NoAuth bool
}

// ListOptions shape a paginated request. Offset and Limit are injected as
// page[offset] and page[limit] only when non-nil.
type ListOptions struct {
	Offset *int
	Limit  *int
	Query  Query
}

// Client issues requests against one installation.
type Client struct {
	base  *url.URL
	http  *http.Client
	token *TokenStore
	log   zerolog.Logger
}

// NewClient returns a transport rooted at base. A nil httpClient gets a
// default with a request timeout; the token store may be shared with the
// socket dialer.
func NewClient(base *url.URL, token *TokenStore, httpClient *http.Client, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &Client{
		base:  base,
		http:  httpClient,
		token: token,
		log:   logger.With().Str("component", "rest").Logger(),
	}
}

// BaseURL returns the installation base URL the client is rooted at.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// TokenStore returns the shared token store.
func (c *Client) TokenStore() *TokenStore {
	return c.token
}

// Do issues a request and decodes the JSON response into out when out is
// non-nil. Responses with no body resolve without touching out. Non-2xx
// responses fail with *HTTPError.
func (c *Client) Do(ctx context.Context, path string, opts Options, out any) error {
	resp, err := c.send(ctx, path, opts)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newHTTPError(resp, body)
	}
	if resp.ContentLength == 0 || len(body) == 0 || out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// DoRaw issues a request and returns the raw response without status
// inspection or body parsing. The caller owns the body.
func (c *Client) DoRaw(ctx context.Context, path string, opts Options) (*http.Response, error) {
	return c.send(ctx, path, opts)
}

// List issues a paginated GET, merging page[offset] and page[limit] into the
// query when provided.
func (c *Client) List(ctx context.Context, path string, opts ListOptions, out any) error {
	query := make(Query, len(opts.Query)+1)
	for k, v := range opts.Query {
		query[k] = v
	}
	page := make(Query, 2)
	if opts.Offset != nil {
		page["offset"] = *opts.Offset
	}
	if opts.Limit != nil {
		page["limit"] = *opts.Limit
	}
	if len(page) > 0 {
		query["page"] = page
	}
	return c.Do(ctx, path, Options{Query: query}, out)
}

func (c *Client) send(ctx context.Context, path string, opts Options) (*http.Response, error) {
	if strings.Contains(path, "?") && len(opts.Query) > 0 {
		return nil, fmt.Errorf("%w: %q", ErrQueryInPath, path)
	}

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	target := c.base.JoinPath(path)
	if len(opts.Query) > 0 {
		target.RawQuery = opts.Query.Values().Encode()
	}

	var reader io.Reader
	contentType := ""
	switch body := opts.Body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(body)
	case string:
		reader = strings.NewReader(body)
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s body: %w", path, err)
		}
		reader = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", path, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for key, vals := range opts.Headers {
		for _, v := range vals {
			req.Header.Add(key, v)
		}
	}
	if !opts.NoAuth {
		req.AddCookie(&http.Cookie{Name: CookieName, Value: c.token.Token()})
	}

	c.log.Debug().Str("method", method).Str("url", target.String()).Msg("request")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}
