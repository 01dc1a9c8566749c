package rest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	base, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	return NewClient(base, NewTokenStore("token-1"), srv.Client(), zerolog.Nop())
}

func TestDoAttachesCookie(t *testing.T) {
	t.Parallel()

	var gotCookie string
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie(CookieName); err == nil {
			gotCookie = c.Value
		}
		w.Write([]byte(`{}`))
	})

	if err := client.Do(t.Context(), "chat/me.json", Options{}, nil); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if gotCookie != "token-1" {
		t.Errorf("cookie = %q, want %q", gotCookie, "token-1")
	}
}

func TestDoNoAuthSkipsCookie(t *testing.T) {
	t.Parallel()

	var hadCookie bool
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, err := r.Cookie(CookieName)
		hadCookie = err == nil
		w.Write([]byte(`{}`))
	})

	if err := client.Do(t.Context(), "launchpad/v1/login.json", Options{Method: http.MethodPost, NoAuth: true}, nil); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if hadCookie {
		t.Error("login request carried the session cookie")
	}
}

func TestDoJSONBody(t *testing.T) {
	t.Parallel()

	var gotContentType string
	var gotBody map[string]any
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &gotBody)
		w.Write([]byte(`{"ok":true}`))
	})

	body := map[string]any{"username": "peter", "password": "s3cret", "rememberMe": true}
	var out struct {
		OK bool `json:"ok"`
	}
	if err := client.Do(t.Context(), "launchpad/v1/login.json", Options{Method: http.MethodPost, Body: body}, &out); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", gotContentType)
	}
	if gotBody["username"] != "peter" || gotBody["rememberMe"] != true {
		t.Errorf("body = %v, want the login payload", gotBody)
	}
	if !out.OK {
		t.Error("response not decoded into out")
	}
}

func TestDoRawStringBodyPassthrough(t *testing.T) {
	t.Parallel()

	var gotBody string
	var gotContentType string
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		gotContentType = r.Header.Get("Content-Type")
	})

	resp, err := client.DoRaw(t.Context(), "chat/v2/rooms.json", Options{Method: http.MethodPost, Body: `{"raw":1}`})
	if err != nil {
		t.Fatalf("DoRaw() error = %v", err)
	}
	resp.Body.Close()
	if gotBody != `{"raw":1}` {
		t.Errorf("body = %q, want passthrough", gotBody)
	}
	if gotContentType == "application/json" {
		t.Error("string body must not be tagged application/json")
	}
}

func TestDoQueryEncoding(t *testing.T) {
	t.Parallel()

	var got url.Values
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		w.Write([]byte(`{}`))
	})

	after := time.Date(2017, 1, 29, 18, 6, 34, 640e6, time.UTC)
	opts := Options{Query: Query{
		"filter":          Query{"updatedAfter": after, "searchTerm": "peter"},
		"includeUserData": true,
		"skipped":         nil,
	}}
	if err := client.Do(t.Context(), "chat/v3/people.json", opts, nil); err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	if v := got.Get("filter[updatedAfter]"); v != "2017-01-29T18:06:34.640Z" {
		t.Errorf("filter[updatedAfter] = %q, want the ISO timestamp", v)
	}
	if v := got.Get("filter[searchTerm]"); v != "peter" {
		t.Errorf("filter[searchTerm] = %q, want %q", v, "peter")
	}
	if v := got.Get("includeUserData"); v != "true" {
		t.Errorf("includeUserData = %q, want true", v)
	}
	if _, ok := got["skipped"]; ok {
		t.Error("nil query value was encoded")
	}
}

func TestDoRejectsQueryInPath(t *testing.T) {
	t.Parallel()

	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not reach the server")
	})

	err := client.Do(t.Context(), "chat/me.json?includeAuth=true", Options{Query: Query{"a": 1}}, nil)
	if !errors.Is(err, ErrQueryInPath) {
		t.Fatalf("Do() error = %v, want ErrQueryInPath", err)
	}
}

func TestDoEmptyResponse(t *testing.T) {
	t.Parallel()

	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	out := map[string]any{"untouched": true}
	if err := client.Do(t.Context(), "launchpad/v1/logout.json", Options{Method: http.MethodDelete}, &out); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if !out["untouched"].(bool) {
		t.Error("empty response mutated out")
	}
}

func TestDoHTTPError(t *testing.T) {
	t.Parallel()

	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"bad credentials"}`))
	})

	err := client.Do(t.Context(), "chat/me.json", Options{}, nil)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("Do() error = %v, want *HTTPError", err)
	}
	if httpErr.Status != http.StatusUnauthorized {
		t.Errorf("Status = %d, want %d", httpErr.Status, http.StatusUnauthorized)
	}
	if string(httpErr.Body) != `{"error":"bad credentials"}` {
		t.Errorf("Body = %s, want the error payload", httpErr.Body)
	}
}

func TestDoRawReturnsNon2xx(t *testing.T) {
	t.Parallel()

	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: CookieName, Value: "rotated"})
		w.WriteHeader(http.StatusConflict)
	})

	resp, err := client.DoRaw(t.Context(), "people/7/impersonate.json", Options{Method: http.MethodPut})
	if err != nil {
		t.Fatalf("DoRaw() error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusConflict)
	}
	if len(resp.Cookies()) == 0 {
		t.Error("raw response lost its cookies")
	}
}

func TestListInjectsPaging(t *testing.T) {
	t.Parallel()

	var got url.Values
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		w.Write([]byte(`{}`))
	})

	offset, limit := 100, 25
	opts := ListOptions{Offset: &offset, Limit: &limit, Query: Query{"filter": Query{"status": "all"}}}
	if err := client.List(t.Context(), "chat/v3/conversations.json", opts, nil); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if v := got.Get("page[offset]"); v != "100" {
		t.Errorf("page[offset] = %q, want 100", v)
	}
	if v := got.Get("page[limit]"); v != "25" {
		t.Errorf("page[limit] = %q, want 25", v)
	}
	if v := got.Get("filter[status]"); v != "all" {
		t.Errorf("filter[status] = %q, want all", v)
	}
}

func TestListOmitsPagingWhenUnset(t *testing.T) {
	t.Parallel()

	var got url.Values
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		w.Write([]byte(`{}`))
	})

	if err := client.List(t.Context(), "chat/v3/people.json", ListOptions{}, nil); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if _, ok := got["page[offset]"]; ok {
		t.Error("page[offset] sent without a value provided")
	}
	if _, ok := got["page[limit]"]; ok {
		t.Error("page[limit] sent without a value provided")
	}
}

func TestTokenStoreRotate(t *testing.T) {
	t.Parallel()

	var gotCookie string
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie(CookieName); err == nil {
			gotCookie = c.Value
		}
		w.Write([]byte(`{}`))
	})

	client.TokenStore().Rotate("token-2")
	if err := client.Do(t.Context(), "chat/me.json", Options{}, nil); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if gotCookie != "token-2" {
		t.Errorf("cookie after rotate = %q, want token-2", gotCookie)
	}
}
