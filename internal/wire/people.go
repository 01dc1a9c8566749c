package wire

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/teamwork/chat-go/internal/rest"
)

// PeopleFilter narrows a people listing.
type PeopleFilter struct {
	// Since keeps only people updated after the given time.
	Since time.Time
	// Search matches handles, names, and email addresses.
	Search string
}

// GetPerson fetches one person by id.
func (c *Client) GetPerson(ctx context.Context, id int64) (*PersonPayload, error) {
	var out personResponse
	err := c.rest.Do(ctx, fmt.Sprintf("chat/people/%d.json", id), rest.Options{}, &out)
	if err != nil {
		return nil, notFoundOn404(err, fmt.Errorf("get person %d: %w", id, err))
	}
	return &out.Person, nil
}

// GetPeople lists people with paging. A nil offset or limit leaves the
// server's defaults in place.
func (c *Client) GetPeople(ctx context.Context, filter PeopleFilter, offset, limit *int) (*Page[PersonPayload], error) {
	query := rest.Query{}
	f := rest.Query{}
	if !filter.Since.IsZero() {
		f["updatedAfter"] = filter.Since
	}
	if filter.Search != "" {
		f["searchTerm"] = filter.Search
	}
	if len(f) > 0 {
		query["filter"] = f
	}

	var out peopleResponse
	err := c.rest.List(ctx, "chat/v3/people.json", rest.ListOptions{Offset: offset, Limit: limit, Query: query}, &out)
	if err != nil {
		return nil, fmt.Errorf("get people: %w", err)
	}
	return &Page[PersonPayload]{Items: out.People, Offset: out.Offset, Limit: out.Limit, Total: out.Total}, nil
}

// GetPersonByHandle resolves a handle to a person. The server offers no
// direct endpoint, so this searches for the handle and requires an exact
// match in the results.
func (c *Client) GetPersonByHandle(ctx context.Context, handle string) (*PersonPayload, error) {
	page, err := c.GetPeople(ctx, PeopleFilter{Search: handle}, nil, nil)
	if err != nil {
		return nil, err
	}
	for i := range page.Items {
		if page.Items[i].Handle == handle {
			return &page.Items[i], nil
		}
	}
	return nil, fmt.Errorf("person with handle %q: %w", handle, ErrNotFound)
}

// UpdatePerson applies field updates to a person. Keys use wire spelling
// (firstName, lastName, title, status, handle, email).
func (c *Client) UpdatePerson(ctx context.Context, id int64, fields map[string]any) (*PersonPayload, error) {
	var out personResponse
	err := c.rest.Do(ctx, fmt.Sprintf("chat/people/%d.json", id), rest.Options{
		Method: http.MethodPut,
		Body:   map[string]any{"person": fields},
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("update person %d: %w", id, err)
	}
	return &out.Person, nil
}

// UpdateHandle changes a person's handle.
func (c *Client) UpdateHandle(ctx context.Context, id int64, handle string) (*PersonPayload, error) {
	return c.UpdatePerson(ctx, id, map[string]any{"handle": handle})
}

// notFoundOn404 maps a 404 onto ErrNotFound while keeping other transport
// errors intact.
func notFoundOn404(err error, wrapped error) error {
	var httpErr *rest.HTTPError
	if errors.As(err, &httpErr) && httpErr.Status == http.StatusNotFound {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return wrapped
}
