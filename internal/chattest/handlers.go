package chattest

import (
	"strconv"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/gofiber/fiber/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/teamwork/chat-go/internal/rest"
	"github.com/teamwork/chat-go/internal/wire"
)

// keyLoginPassword is the sentinel password that makes the username field an
// API key instead of a handle or email.
const keyLoginPassword = "club-lemon"

const tokenTTL = 24 * time.Hour

type authClaims struct {
	jwt.RegisteredClaims
	// ActorID is set while impersonating and names the real account.
	ActorID string `json:"act,omitempty"`
}

func (s *Server) mintToken(userID, actorID int64) (string, error) {
	now := time.Now()
	claims := authClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	if actorID != 0 && actorID != userID {
		claims.ActorID = strconv.FormatInt(actorID, 10)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Server) validateToken(tokenStr string) (*authClaims, error) {
	claims := &authClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.ErrUnauthorized
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *Server) setAuthCookie(c fiber.Ctx, token string) {
	c.Cookie(&fiber.Cookie{
		Name:     rest.CookieName,
		Value:    token,
		Path:     "/",
		HTTPOnly: true,
	})
}

// accountFromCookie resolves the tw-auth cookie to a seeded account.
func (s *Server) accountFromCookie(c fiber.Ctx) (*account, *authClaims, bool) {
	token := c.Cookies(rest.CookieName)
	if token == "" {
		return nil, nil, false
	}
	claims, err := s.validateToken(token)
	if err != nil {
		return nil, nil, false
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, nil, false
	}
	acct, ok := s.account(id)
	if !ok {
		return nil, nil, false
	}
	return acct, claims, true
}

func (s *Server) requireAuth(c fiber.Ctx) error {
	acct, claims, ok := s.accountFromCookie(c)
	if !ok {
		return fail(c, fiber.StatusUnauthorized, "invalid or missing tw-auth cookie")
	}
	c.Locals("account", acct)
	c.Locals("claims", claims)
	return c.Next()
}

func currentAccount(c fiber.Ctx) *account {
	return c.Locals("account").(*account)
}

func (s *Server) buildApp() *fiber.App {
	app := fiber.New()

	app.Post("/launchpad/v1/login.json", s.handleLogin)

	app.Get("/", s.handleUpgrade)
	app.Get("/ws", s.handleUpgrade)

	authed := app.Group("", s.requireAuth)
	authed.Delete("/launchpad/v1/logout.json", s.handleLogout)

	chat := authed.Group("/chat")
	chat.Get("/me.json", s.handleMe)
	chat.Get("/v3/people.json", s.handlePeople)
	chat.Get("/people/:id.json", s.handleGetPerson)
	chat.Put("/people/:id.json", s.handleUpdatePerson)
	chat.Get("/v2/rooms/:id.json", s.handleGetRoom)
	chat.Post("/v2/rooms.json", s.handleCreateRoom)
	chat.Delete("/rooms/:id.json", s.handleDeleteRoom)
	chat.Get("/v3/conversations.json", s.handleConversations)
	chat.Put("/v2/conversations/:id.json", s.handleUpdateConversation)
	chat.Put("/v2/conversations/:id/user-settings.json", s.handleUserSettings)
	chat.Get("/v2/rooms/:id/messages.json", s.handleRoomMessages)
	chat.Post("/rooms/:id/messages.json", s.handleCreateMessage)
	chat.Delete("/rooms/:id/messages.json", s.handleDeleteMessages)
	chat.Put("/rooms/:id/messages.json", s.handleUndeleteMessages)
	chat.Get("/v2/messages.json", s.handleUserMessages)

	people := authed.Group("/people")
	people.Put("/:id/impersonate.json", s.handleImpersonate)
	people.Put("/impersonate/revert.json", s.handleImpersonateRevert)

	return app
}

func ok(c fiber.Ctx, payload any) error {
	return c.JSON(payload)
}

func fail(c fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": message})
}

func paramID(c fiber.Ctx) (int64, error) {
	return strconv.ParseInt(c.Params("id"), 10, 64)
}

func queryInt(c fiber.Ctx, key, fallback string) int {
	v, err := strconv.Atoi(c.Query(key, fallback))
	if err != nil {
		return 0
	}
	return v
}

func queryTime(c fiber.Ctx, key string) time.Time {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s *Server) handleLogin(c fiber.Ctx) error {
	var body struct {
		Username   string `json:"username"`
		Password   string `json:"password"`
		RememberMe bool   `json:"rememberMe"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid login body")
	}

	var acct *account
	if body.Password == keyLoginPassword {
		acct = s.accountByAPIKey(body.Username)
		if acct == nil {
			return fail(c, fiber.StatusUnauthorized, "unknown API key")
		}
	} else {
		found, ok := s.accountByHandle(body.Username)
		if !ok {
			found = s.accountByEmail(body.Username)
		}
		if found == nil {
			return fail(c, fiber.StatusUnauthorized, "unknown user")
		}
		match, err := argon2id.ComparePasswordAndHash(body.Password, found.passwordHash)
		if err != nil || !match {
			return fail(c, fiber.StatusUnauthorized, "wrong password")
		}
		acct = found
	}

	token, err := s.mintToken(acct.person.ID, 0)
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "mint token")
	}
	s.setAuthCookie(c, token)
	return ok(c, fiber.Map{"status": "ok", "userId": acct.person.ID})
}

func (s *Server) handleLogout(c fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleMe(c fiber.Ctx) error {
	acct := currentAccount(c)
	payload := wire.AccountPayload{
		ID:             acct.person.ID,
		URL:            s.BaseURL() + "/",
		InstallationID: s.cfg.InstallationID,
		User:           acct.person,
	}
	if c.Query("includeAuth") == "true" {
		payload.AuthKey = acct.authKey
	}
	return ok(c, fiber.Map{"account": payload})
}

func (s *Server) handlePeople(c fiber.Ctx) error {
	if s.failFetches.Load() {
		return fail(c, fiber.StatusInternalServerError, "listing disabled")
	}
	people := s.listPeople(c.Query("filter[searchTerm]"), queryTime(c, "filter[updatedAfter]"))
	offset := queryInt(c, "page[offset]", "0")
	limit := queryInt(c, "page[limit]", "50")
	return ok(c, fiber.Map{
		"people": paginate(people, offset, limit),
		"offset": offset,
		"limit":  limit,
		"total":  len(people),
	})
}

func (s *Server) handleGetPerson(c fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid person id")
	}
	acct, found := s.account(id)
	if !found {
		return fail(c, fiber.StatusNotFound, "person not found")
	}
	return ok(c, fiber.Map{"person": acct.person})
}

func (s *Server) handleUpdatePerson(c fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid person id")
	}
	var body struct {
		Person map[string]any `json:"person"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid person body")
	}

	changed, err := s.applyPersonUpdate(id, body.Person)
	if err != nil {
		return fail(c, fiber.StatusNotFound, err.Error())
	}
	for key, value := range changed {
		s.Push("user.modified", wire.UserModifiedContents{UserID: id, Key: key, Value: value})
	}
	acct, _ := s.account(id)
	return ok(c, fiber.Map{"person": acct.person})
}

func (s *Server) handleGetRoom(c fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid room id")
	}
	includeUsers := c.Query("includeUserData") == "true"

	s.mu.RLock()
	r, found := s.rooms[id]
	if !found {
		s.mu.RUnlock()
		return fail(c, fiber.StatusNotFound, "room not found")
	}
	payload := s.roomPayloadLocked(r, includeUsers, false)
	s.mu.RUnlock()
	return ok(c, fiber.Map{"room": payload})
}

func (s *Server) handleCreateRoom(c fiber.Ctx) error {
	acct := currentAccount(c)
	var body struct {
		Room struct {
			Handles []string `json:"handles"`
			Message struct {
				Body string `json:"body"`
			} `json:"message"`
		} `json:"room"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid room body")
	}

	ids := []int64{acct.person.ID}
	for _, handle := range body.Room.Handles {
		other, found := s.accountByHandle(strings.TrimPrefix(handle, "@"))
		if !found {
			return fail(c, fiber.StatusUnprocessableEntity, "unknown handle "+handle)
		}
		if other.person.ID != acct.person.ID {
			ids = append(ids, other.person.ID)
		}
	}

	roomID := s.AddRoom("", "", ids...)
	if body.Room.Message.Body != "" {
		s.mu.Lock()
		msg := s.appendMessageLocked(roomID, acct.person.ID, body.Room.Message.Body)
		s.mu.Unlock()
		if msg != nil {
			s.broadcastMessageCreated(*msg, nil)
		}
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"room": fiber.Map{"id": roomID}})
}

func (s *Server) handleDeleteRoom(c fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid room id")
	}
	s.mu.Lock()
	_, found := s.rooms[id]
	delete(s.rooms, id)
	s.mu.Unlock()
	if !found {
		return fail(c, fiber.StatusNotFound, "room not found")
	}
	s.Push("room.deleted", wire.RoomRefContents{RoomID: id})
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleConversations(c fiber.Ctx) error {
	if s.failFetches.Load() {
		return fail(c, fiber.StatusInternalServerError, "listing disabled")
	}
	acct := currentAccount(c)
	rooms := s.listRooms(
		acct.person.ID,
		c.Query("filter[searchTerm]"),
		queryTime(c, "filter[activityAfter]"),
		c.Query("includeUserData") == "true",
		c.Query("includeMessageData") == "true",
	)
	offset := queryInt(c, "page[offset]", "0")
	limit := queryInt(c, "page[limit]", "50")
	return ok(c, fiber.Map{
		"conversations": paginate(rooms, offset, limit),
		"offset":        offset,
		"limit":         limit,
		"total":         len(rooms),
	})
}

func (s *Server) handleUpdateConversation(c fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid room id")
	}
	var body struct {
		Conversation struct {
			Title string `json:"title"`
		} `json:"conversation"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid conversation body")
	}

	s.mu.Lock()
	r, found := s.rooms[id]
	if found {
		title := body.Conversation.Title
		r.payload.Title = &title
		now := wire.NewTime(time.Now())
		r.payload.UpdatedAt = &now
	}
	s.mu.Unlock()
	if !found {
		return fail(c, fiber.StatusNotFound, "room not found")
	}
	s.Push("room.updated", wire.RoomRefContents{RoomID: id})
	return ok(c, fiber.Map{"status": "ok"})
}

func (s *Server) handleUserSettings(c fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid room id")
	}
	var body struct {
		UserSettings struct {
			MessageIDHistoryStartsAfter int64 `json:"messageIdHistoryStartsAfter"`
		} `json:"userSettings"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid user settings body")
	}

	s.mu.Lock()
	r, found := s.rooms[id]
	if found {
		r.historyStartsAfterID = body.UserSettings.MessageIDHistoryStartsAfter
	}
	s.mu.Unlock()
	if !found {
		return fail(c, fiber.StatusNotFound, "room not found")
	}
	return ok(c, fiber.Map{"status": "ok"})
}

func (s *Server) handleRoomMessages(c fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid room id")
	}
	msgs := s.Messages(id)
	if msgs == nil {
		return fail(c, fiber.StatusNotFound, "room not found")
	}
	return ok(c, fiber.Map{"messages": msgs})
}

func (s *Server) handleCreateMessage(c fiber.Ctx) error {
	acct := currentAccount(c)
	id, err := paramID(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid room id")
	}
	var body struct {
		Message struct {
			Body string `json:"body"`
		} `json:"message"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid message body")
	}

	s.mu.Lock()
	msg := s.appendMessageLocked(id, acct.person.ID, body.Message.Body)
	s.mu.Unlock()
	if msg == nil {
		return fail(c, fiber.StatusNotFound, "room not found")
	}
	s.broadcastMessageCreated(*msg, nil)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": *msg})
}

func (s *Server) handleDeleteMessages(c fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid room id")
	}
	var body struct {
		IDs []int64 `json:"ids"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid delete body")
	}

	if !s.setMessagesStatus(id, body.IDs, "deleted") {
		return fail(c, fiber.StatusNotFound, "room not found")
	}
	s.Push("room.messages.deleted", wire.MessagesDeletedContents{RoomID: id, IDs: body.IDs})
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleUndeleteMessages(c fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid room id")
	}
	var body struct {
		Messages []struct {
			ID     int64  `json:"id"`
			Status string `json:"status"`
		} `json:"messages"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid undelete body")
	}

	ids := make([]int64, 0, len(body.Messages))
	for _, m := range body.Messages {
		ids = append(ids, m.ID)
	}
	if !s.setMessagesStatus(id, ids, "active") {
		return fail(c, fiber.StatusNotFound, "room not found")
	}
	s.Push("room.messages.deleted-undone", wire.MessagesDeletedContents{RoomID: id, IDs: ids})
	return ok(c, fiber.Map{"status": "ok"})
}

func (s *Server) handleUserMessages(c fiber.Ctx) error {
	if s.failFetches.Load() {
		return fail(c, fiber.StatusInternalServerError, "listing disabled")
	}
	acct := currentAccount(c)
	msgs := s.listUserMessages(acct.person.ID, queryTime(c, "createdAfter"))

	page := queryInt(c, "page", "1")
	if page < 1 {
		page = 1
	}
	size := queryInt(c, "pageSize", "50")
	if size < 1 {
		size = 50
	}
	return ok(c, fiber.Map{"messages": paginate(msgs, (page-1)*size, size)})
}

func (s *Server) handleImpersonate(c fiber.Ctx) error {
	acct := currentAccount(c)
	claims := c.Locals("claims").(*authClaims)
	id, err := paramID(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid person id")
	}
	if _, found := s.account(id); !found {
		return fail(c, fiber.StatusNotFound, "person not found")
	}

	actorID := acct.person.ID
	if claims.ActorID != "" {
		actorID, _ = strconv.ParseInt(claims.ActorID, 10, 64)
	}
	token, err := s.mintToken(id, actorID)
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "mint token")
	}
	s.setAuthCookie(c, token)
	return ok(c, fiber.Map{"status": "ok"})
}

func (s *Server) handleImpersonateRevert(c fiber.Ctx) error {
	acct := currentAccount(c)
	claims := c.Locals("claims").(*authClaims)

	actorID := acct.person.ID
	if claims.ActorID != "" {
		actorID, _ = strconv.ParseInt(claims.ActorID, 10, 64)
	}
	token, err := s.mintToken(actorID, 0)
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "mint token")
	}
	s.setAuthCookie(c, token)
	return ok(c, fiber.Map{"status": "ok"})
}
