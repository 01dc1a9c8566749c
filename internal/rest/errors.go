package rest

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrQueryInPath is returned when a request path already carries a query
// string and query options were supplied as well. Callers must pass query
// parameters exclusively through Options.Query.
var ErrQueryInPath = errors.New("rest: path already contains a query string")

// HTTPError is returned for non-2xx responses on non-raw requests. The body
// is captured so callers can inspect the server's error payload after the
// response itself has been closed.
type HTTPError struct {
	Status     int
	StatusText string
	Header     http.Header
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("rest: server returned %d %s", e.Status, e.StatusText)
}

func newHTTPError(resp *http.Response, body []byte) *HTTPError {
	return &HTTPError{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Header:     resp.Header,
		Body:       body,
	}
}
