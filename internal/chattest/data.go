package chattest

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"

	"github.com/teamwork/chat-go/internal/wire"
)

// hashParams keeps argon2id cheap enough for tests while exercising the real
// verification path.
var hashParams = &argon2id.Params{
	Memory:      16 * 1024,
	Iterations:  1,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

type account struct {
	person       wire.PersonPayload
	passwordHash string
	authKey      string
	apiKey       string
}

type room struct {
	payload              wire.RoomPayload
	peopleIDs            []int64
	messages             []wire.MessagePayload
	historyStartsAfterID int64
}

func newAuthKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// PersonParams seed one account.
type PersonParams struct {
	Handle    string
	FirstName string
	LastName  string
	Email     string
	Title     string
	Status    string
	Password  string
	APIKey    string
	Company   string
}

// AddPerson seeds an account and returns its id.
func (s *Server) AddPerson(p PersonParams) (int64, error) {
	hash, err := argon2id.CreateHash(p.Password, hashParams)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}
	if p.Status == "" {
		p.Status = "offline"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byHandle[p.Handle]; exists {
		return 0, fmt.Errorf("handle %q already seeded", p.Handle)
	}
	s.nextPersonID++
	id := s.nextPersonID
	now := wire.NewTime(time.Now())
	payload := wire.PersonPayload{
		ID:        id,
		Handle:    p.Handle,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Email:     p.Email,
		Title:     p.Title,
		Status:    p.Status,
		UpdatedAt: &now,
	}
	if p.Company != "" {
		payload.Company = &wire.CompanyPayload{ID: 1, Name: p.Company}
	}
	s.accounts[id] = &account{person: payload, passwordHash: hash, authKey: newAuthKey(), apiKey: p.APIKey}
	s.byHandle[p.Handle] = id
	return id, nil
}

// AddRoom seeds a room holding the given people and returns its id. The type
// is inferred as pair for exactly two people unless overridden.
func (s *Server) AddRoom(typ, title string, peopleIDs ...int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if typ == "" {
		typ = "private"
		if len(peopleIDs) == 2 {
			typ = "pair"
		}
	}
	s.nextRoomID++
	id := s.nextRoomID
	now := wire.NewTime(time.Now())
	payload := wire.RoomPayload{
		ID:             id,
		Type:           typ,
		Status:         "active",
		CreatedAt:      &now,
		UpdatedAt:      &now,
		LastActivityAt: &now,
	}
	if title != "" {
		payload.Title = &title
	}
	if len(peopleIDs) > 0 {
		payload.CreatorID = peopleIDs[0]
	}
	s.rooms[id] = &room{payload: payload, peopleIDs: append([]int64(nil), peopleIDs...)}
	return id
}

// AddMessage seeds a message and returns its id.
func (s *Server) AddMessage(roomID, userID int64, body string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.appendMessageLocked(roomID, userID, body)
	if msg == nil {
		return 0
	}
	return msg.ID
}

func (s *Server) appendMessageLocked(roomID, userID int64, body string) *wire.MessagePayload {
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	s.nextMessageID++
	now := wire.NewTime(time.Now())
	msg := wire.MessagePayload{
		ID:        s.nextMessageID,
		RoomID:    roomID,
		UserID:    userID,
		Body:      body,
		CreatedAt: &now,
		Status:    "active",
	}
	r.messages = append(r.messages, msg)
	r.payload.LastActivityAt = &now
	return &r.messages[len(r.messages)-1]
}

// AuthKey exposes a seeded account's socket handshake key.
func (s *Server) AuthKey(personID int64) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if acct, ok := s.accounts[personID]; ok {
		return acct.authKey
	}
	return ""
}

// Messages returns a copy of a room's message log.
func (s *Server) Messages(roomID int64) []wire.MessagePayload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	return append([]wire.MessagePayload(nil), r.messages...)
}

func (s *Server) account(id int64) (*account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[id]
	return acct, ok
}

func (s *Server) accountByHandle(handle string) (*account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHandle[handle]
	if !ok {
		return nil, false
	}
	return s.accounts[id], true
}

func (s *Server) accountByEmail(email string) *account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, acct := range s.accounts {
		if acct.person.Email != "" && strings.EqualFold(acct.person.Email, email) {
			return acct
		}
	}
	return nil
}

func (s *Server) accountByAPIKey(key string) *account {
	if key == "" {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, acct := range s.accounts {
		if acct.apiKey == key {
			return acct
		}
	}
	return nil
}

// applyPersonUpdate mutates the allowed person fields and returns the keys
// that actually changed, in wire spelling, so the caller can push
// user.modified frames for each.
func (s *Server) applyPersonUpdate(id int64, fields map[string]any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("person %d not found", id)
	}

	changed := make(map[string]any)
	set := func(key string, dst *string) {
		v, ok := fields[key].(string)
		if !ok || v == *dst {
			return
		}
		*dst = v
		changed[key] = v
	}
	if v, ok := fields["handle"].(string); ok && v != acct.person.Handle {
		delete(s.byHandle, acct.person.Handle)
		acct.person.Handle = v
		s.byHandle[v] = id
		changed["handle"] = v
	}
	set("firstName", &acct.person.FirstName)
	set("lastName", &acct.person.LastName)
	set("email", &acct.person.Email)
	set("title", &acct.person.Title)
	set("status", &acct.person.Status)
	if len(changed) > 0 {
		now := wire.NewTime(time.Now())
		acct.person.UpdatedAt = &now
	}
	return changed, nil
}

func (s *Server) setMessagesStatus(roomID int64, ids []int64, status string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	for i := range r.messages {
		if containsID(ids, r.messages[i].ID) {
			r.messages[i].Status = status
		}
	}
	return true
}

// roomPayload assembles the wire shape for one room under the read lock.
func (s *Server) roomPayloadLocked(r *room, includeUsers, includeMessages bool) wire.RoomPayload {
	payload := r.payload
	if includeUsers {
		people := make([]wire.PersonPayload, 0, len(r.peopleIDs))
		for _, id := range r.peopleIDs {
			if acct, ok := s.accounts[id]; ok {
				people = append(people, acct.person)
			}
		}
		payload.People = people
	}
	if includeMessages && len(r.messages) > 0 {
		last := r.messages[len(r.messages)-1]
		payload.Messages = []wire.MessagePayload{last}
	}
	unread := 0
	for _, m := range r.messages {
		if m.ID > r.historyStartsAfterID {
			unread++
		}
	}
	payload.UnreadCount = unread
	return payload
}

func (s *Server) listPeople(search string, updatedAfter time.Time) []wire.PersonPayload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]wire.PersonPayload, 0, len(s.accounts))
	for _, acct := range s.accounts {
		p := acct.person
		if search != "" && !personMatches(p, search) {
			continue
		}
		if !updatedAfter.IsZero() && (p.UpdatedAt == nil || !p.UpdatedAt.After(updatedAfter)) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func personMatches(p wire.PersonPayload, search string) bool {
	needle := strings.ToLower(search)
	for _, hay := range []string{p.Handle, p.FirstName, p.LastName, p.Email} {
		if strings.Contains(strings.ToLower(hay), needle) {
			return true
		}
	}
	return false
}

func (s *Server) listRooms(memberID int64, search string, activityAfter time.Time, includeUsers, includeMessages bool) []wire.RoomPayload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]wire.RoomPayload, 0, len(s.rooms))
	for _, r := range s.rooms {
		if !containsID(r.peopleIDs, memberID) {
			continue
		}
		if search != "" {
			title := ""
			if r.payload.Title != nil {
				title = *r.payload.Title
			}
			if !strings.Contains(strings.ToLower(title), strings.ToLower(search)) {
				continue
			}
		}
		if !activityAfter.IsZero() && (r.payload.LastActivityAt == nil || !r.payload.LastActivityAt.After(activityAfter)) {
			continue
		}
		out = append(out, s.roomPayloadLocked(r, includeUsers, includeMessages))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Server) listUserMessages(memberID int64, createdAfter time.Time) []wire.MessagePayload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []wire.MessagePayload
	for _, r := range s.rooms {
		if !containsID(r.peopleIDs, memberID) {
			continue
		}
		for _, m := range r.messages {
			if !createdAfter.IsZero() && (m.CreatedAt == nil || !m.CreatedAt.After(createdAfter)) {
				continue
			}
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
