// Package frame defines the JSON envelope carried over the chat WebSocket and
// the filter predicates used to match inbound frames. Every frame on the wire,
// in either direction, is an object envelope with a name, an object payload,
// and an optional correlation nonce.
package frame

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// ContentTypeObject is the only content type the protocol carries.
const ContentTypeObject = "object"

// Frame names used by the protocol. Outbound names are sent by the client;
// the rest arrive as server pushes or replies.
const (
	NameAuthenticationRequest      = "authentication.request"
	NameAuthenticationResponse     = "authentication.response"
	NameAuthenticationConfirmation = "authentication.confirmation"
	NameAuthenticationError        = "authentication.error"

	NamePing = "ping"
	NamePong = "pong"

	NameRoomMessageCreated        = "room.message.created"
	NameRoomMessageUpdated        = "room.message.updated"
	NameRoomMessagesDeleted       = "room.messages.deleted"
	NameRoomMessagesDeletedUndone = "room.messages.deleted-undone"
	NameRoomUpdated               = "room.updated"
	NameRoomDeleted               = "room.deleted"
	NameRoomTyping                = "room.typing"
	NameRoomUserActive            = "room.user.active"

	NameUserModified       = "user.modified"
	NameUserModifiedStatus = "user.modified.status"
	NameUserAdded          = "user.added"
	NameUserUpdated        = "user.updated"
	NameUserDeleted        = "user.deleted"

	NameUnseenCountsRequest = "unseen.counts.request"
	NameUnseenCountsUpdated = "unseen.counts.updated"

	NameCompanyAdded   = "company.added"
	NameCompanyUpdated = "company.updated"
	NameCompanyDeleted = "company.deleted"
)

// Source identifies the software producing a frame. Servers validate the name
// field, so clients must send the exact identity they registered with.
type Source struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Frame is the wire envelope. UID and NodeID are reserved by the protocol and
// always null on client frames; they are kept so the serialised form carries
// the keys explicitly.
type Frame struct {
	ContentType string          `json:"contentType"`
	Name        string          `json:"name"`
	Contents    json.RawMessage `json:"contents,omitempty"`
	Nonce       *int64          `json:"nonce"`
	Source      *Source         `json:"source,omitempty"`
	UID         *string         `json:"uid"`
	NodeID      *string         `json:"nodeId"`
}

// Decode unmarshals the frame contents into v.
func (f *Frame) Decode(v any) error {
	if len(f.Contents) == 0 {
		return nil
	}
	if err := json.Unmarshal(f.Contents, v); err != nil {
		return fmt.Errorf("decode %s contents: %w", f.Name, err)
	}
	return nil
}

// ContentsMap returns the contents decoded as a generic map. Frames without
// contents decode to an empty map.
func (f *Frame) ContentsMap() (map[string]any, error) {
	m := make(map[string]any)
	if len(f.Contents) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(f.Contents, &m); err != nil {
		return nil, fmt.Errorf("decode %s contents: %w", f.Name, err)
	}
	return m, nil
}

// Marshal serialises the frame for the wire.
func (f *Frame) Marshal() ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal %s frame: %w", f.Name, err)
	}
	return data, nil
}

// Parse decodes a raw WebSocket message into a frame.
func Parse(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse frame: %w", err)
	}
	return &f, nil
}

// NonceSource hands out correlation nonces. Each client session owns one, so
// nonces are strictly increasing per connection lifetime and never reused.
type NonceSource struct {
	n atomic.Int64
}

// Next returns the next nonce. The first value is 1.
func (s *NonceSource) Next() int64 {
	return s.n.Add(1)
}

// Codec stamps outbound frames with the client identity and a fresh nonce.
type Codec struct {
	source Source
	nonces *NonceSource
}

// NewCodec returns a codec producing frames attributed to the given source.
func NewCodec(source Source) *Codec {
	return &Codec{source: source, nonces: &NonceSource{}}
}

// New builds an outbound frame. Contents may be any JSON-marshalable value;
// nil becomes an empty object. When nonced is true the frame is stamped with
// the next nonce so a reply can be correlated to it.
func (c *Codec) New(name string, contents any, nonced bool) (*Frame, error) {
	raw := json.RawMessage(`{}`)
	if contents != nil {
		data, err := json.Marshal(contents)
		if err != nil {
			return nil, fmt.Errorf("marshal %s contents: %w", name, err)
		}
		raw = data
	}
	f := &Frame{
		ContentType: ContentTypeObject,
		Name:        name,
		Contents:    raw,
		Source:      &c.source,
	}
	if nonced {
		n := c.nonces.Next()
		f.Nonce = &n
	}
	return f, nil
}
