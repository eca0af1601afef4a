package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gator-chat/internal/accounts"
	"gator-chat/internal/api"
	"gator-chat/internal/config"
	"gator-chat/internal/database"
	"gator-chat/internal/engine"
	"gator-chat/internal/messaging"
	"gator-chat/internal/middleware"
	"gator-chat/internal/models"
	"gator-chat/internal/utils"
	"gator-chat/internal/websocket"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testServer struct {
	*Server
	http *httptest.Server
}

type account struct {
	id    uuid.UUID
	name  string
	token string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{
		Server:         &config.ServerConfig{RequestTimeout: 2 * time.Second, MetricsEnabled: true},
		Auth:           &config.AuthConfig{JWTSecret: "handler-test-secret", TokenTTL: time.Hour},
		Chat:           &config.ChatConfig{DeleteWindow: 2 * time.Minute},
		AllowedOrigins: []string{"*"},
	}
	metrics := utils.NewMetricsCollector()
	services := engine.NewServices(database.NewMemoryStore(), messaging.Options{}, accounts.WithBcryptCost(bcrypt.MinCost))
	e := engine.NewEngine(actor.NewActorSystem(), services, metrics, 2*time.Second)
	hub := websocket.NewHub(e, metrics)
	protocol := websocket.NewProtocol(hub, e, nil, metrics)

	s := NewServer(e, protocol, middleware.NewTokenManager(cfg.Auth), metrics, cfg)
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(func() {
		srv.Close()
		e.Stop()
	})
	return &testServer{Server: s, http: srv}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.http.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func decodeBody[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

func errorCode(t *testing.T, raw []byte) string {
	t.Helper()
	return decodeBody[utils.AppError](t, raw).Code
}

func (ts *testServer) register(t *testing.T, name string) account {
	t.Helper()
	status, body := ts.do(t, http.MethodPost, "/api/auth/register", "", accounts.RegisterRequest{
		Username: name, Email: name + "@example.com", Password: "password123",
	})
	require.Equal(t, http.StatusCreated, status, string(body))
	resp := decodeBody[api.LoginResponse](t, body)
	return account{id: resp.User.ID, name: name, token: resp.Token}
}

func (ts *testServer) befriend(t *testing.T, a, b account) {
	t.Helper()
	status, body := ts.do(t, http.MethodPost, "/api/friends/request", a.token, FriendRequestRequest{Username: b.name})
	require.Equal(t, http.StatusCreated, status, string(body))
	f := decodeBody[models.Friendship](t, body)
	status, body = ts.do(t, http.MethodPost, "/api/friends/requests/"+f.ID.String()+"/accept", b.token, nil)
	require.Equal(t, http.StatusOK, status, string(body))
}

func (ts *testServer) dial(t *testing.T, a account) *ws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws?token=" + a.token
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return ts.Hub.IsOnline(a.id) }, 2*time.Second, 10*time.Millisecond)
	return conn
}

// expect reads frames until one named event arrives.
func expect[T any](t *testing.T, conn *ws.Conn, event string) T {
	t.Helper()
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var env websocket.Envelope
		require.NoError(t, conn.ReadJSON(&env), "waiting for %s", event)
		if env.Event == event {
			var v T
			require.NoError(t, json.Unmarshal(env.Data, &v))
			return v
		}
	}
}

func TestRegisterLoginAndAuth(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "alice")
	assert.NotEmpty(t, alice.token)

	status, body := ts.do(t, http.MethodPost, "/api/auth/register", "", accounts.RegisterRequest{
		Username: "ALICE", Email: "other@example.com", Password: "password123",
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, utils.ErrConflict, errorCode(t, body))

	status, body = ts.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{Username: "alice", Password: "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, utils.ErrUnauthorized, errorCode(t, body))

	status, body = ts.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{Username: "Alice", Password: "password123"})
	require.Equal(t, http.StatusOK, status, string(body))
	login := decodeBody[api.LoginResponse](t, body)
	assert.Equal(t, alice.id.String(), login.UserID)

	status, body = ts.do(t, http.MethodGet, "/api/settings", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, utils.ErrAuthRequired, errorCode(t, body))

	status, body = ts.do(t, http.MethodGet, "/api/settings", login.Token, nil)
	require.Equal(t, http.StatusOK, status)
	settings := decodeBody[models.Settings](t, body)
	assert.True(t, *settings.Privacy.ReadReceipts)

	status, _ = ts.do(t, http.MethodPost, "/api/settings/change-password", login.Token, ChangePasswordRequest{
		CurrentPassword: "password123", NewPassword: "another-secret",
	})
	assert.Equal(t, http.StatusOK, status)
	status, _ = ts.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{Username: "alice", Password: "another-secret"})
	assert.Equal(t, http.StatusOK, status)
}

func TestFriendRoutes(t *testing.T) {
	ts := newTestServer(t)
	alice, bob := ts.register(t, "alice"), ts.register(t, "bob")

	status, body := ts.do(t, http.MethodPost, "/api/friends/request", alice.token, FriendRequestRequest{Username: "bob"})
	require.Equal(t, http.StatusCreated, status, string(body))
	request := decodeBody[models.Friendship](t, body)

	status, body = ts.do(t, http.MethodGet, "/api/friends/requests", bob.token, nil)
	require.Equal(t, http.StatusOK, status)
	pending := decodeBody[[]api.FriendRequestView](t, body)
	require.Len(t, pending, 1)
	assert.Equal(t, "alice", pending[0].From.Username)

	status, body = ts.do(t, http.MethodPost, "/api/friends/requests/"+request.ID.String()+"/accept", alice.token, nil)
	assert.Equal(t, http.StatusForbidden, status, "only the target answers")
	assert.Equal(t, utils.ErrForbidden, errorCode(t, body))

	status, _ = ts.do(t, http.MethodPost, "/api/friends/requests/"+request.ID.String()+"/accept", bob.token, nil)
	require.Equal(t, http.StatusOK, status)

	status, body = ts.do(t, http.MethodGet, "/api/friends/list", alice.token, nil)
	require.Equal(t, http.StatusOK, status)
	friends := decodeBody[[]api.FriendView](t, body)
	require.Len(t, friends, 1)
	assert.Equal(t, "bob", friends[0].Friend.Username)

	status, _ = ts.do(t, http.MethodDelete, "/api/friends/"+bob.id.String(), alice.token, nil)
	assert.Equal(t, http.StatusOK, status)
	status, body = ts.do(t, http.MethodGet, "/api/messages/conversation/"+bob.id.String(), alice.token, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, utils.ErrForbidden, errorCode(t, body))

	status, body = ts.do(t, http.MethodPost, "/api/friends/requests/not-a-uuid/accept", bob.token, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, utils.ErrValidation, errorCode(t, body))
}

func TestBlockRoutes(t *testing.T) {
	ts := newTestServer(t)
	alice, bob := ts.register(t, "alice"), ts.register(t, "bob")

	status, _ := ts.do(t, http.MethodPost, "/api/block/"+bob.id.String(), alice.token, nil)
	require.Equal(t, http.StatusOK, status)
	status, body := ts.do(t, http.MethodPost, "/api/block/"+bob.id.String(), alice.token, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, utils.ErrConflict, errorCode(t, body))

	status, body = ts.do(t, http.MethodGet, "/api/block/check/"+alice.id.String(), bob.token, nil)
	require.Equal(t, http.StatusOK, status)
	check := decodeBody[accounts.BlockStatus](t, body)
	assert.False(t, check.IsBlocked)
	assert.True(t, check.IsBlockedBy)

	status, body = ts.do(t, http.MethodPost, "/api/friends/request", bob.token, FriendRequestRequest{Username: "alice"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, utils.ErrBlocked, errorCode(t, body))

	status, body = ts.do(t, http.MethodGet, "/api/block/list", alice.token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decodeBody[[]models.UserSummary](t, body), 1)

	status, _ = ts.do(t, http.MethodDelete, "/api/block/"+bob.id.String(), alice.token, nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = ts.do(t, http.MethodDelete, "/api/block/"+bob.id.String(), alice.token, nil)
	assert.Equal(t, http.StatusConflict, status)
}

func TestProfileAndSearchRoutes(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "alice")
	ts.register(t, "alina")
	ts.register(t, "bob")

	status, body := ts.do(t, http.MethodGet, "/api/users/search?q=ali", alice.token, nil)
	require.Equal(t, http.StatusOK, status)
	found := decodeBody[[]map[string]interface{}](t, body)
	require.Len(t, found, 1)
	assert.Equal(t, "alina", found[0]["username"])

	status, _ = ts.do(t, http.MethodGet, "/api/users/search?q=a&limit=x", alice.token, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	bio := "swamp dweller"
	status, _ = ts.do(t, http.MethodPut, "/api/users/profile", alice.token, models.ProfileUpdate{Bio: &bio})
	require.Equal(t, http.StatusOK, status)

	status, body = ts.do(t, http.MethodGet, "/api/users/"+alice.id.String(), alice.token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, bio, decodeBody[map[string]interface{}](t, body)["bio"])

	status, _ = ts.do(t, http.MethodGet, "/api/users/"+uuid.NewString(), alice.token, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, status)
	health := decodeBody[api.HealthResponse](t, body)
	assert.Equal(t, "healthy", health.Status)
	assert.Zero(t, health.OnlineUsers)

	status, body = ts.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "chat_requests_total")
}

func TestWebSocketRequiresToken(t *testing.T) {
	ts := newTestServer(t)
	base := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws"

	_, resp, err := ws.DefaultDialer.Dial(base, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = ws.DefaultDialer.Dial(base+"?token=garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestChatOverWebSocket(t *testing.T) {
	ts := newTestServer(t)
	alice, bob := ts.register(t, "alice"), ts.register(t, "bob")
	ts.befriend(t, alice, bob)

	aliceConn := ts.dial(t, alice)
	bobConn := ts.dial(t, bob)
	online := expect[websocket.FriendStatusPayload](t, aliceConn, websocket.EventFriendStatusChanged)
	assert.Equal(t, bob.id, online.UserID)
	assert.True(t, online.IsOnline)

	raw, err := websocket.Encode(websocket.EventSendMessage, websocket.SendMessagePayload{
		ReceiverID: bob.id, Content: "hello bob", TempID: "tmp-1",
	})
	require.NoError(t, err)
	require.NoError(t, aliceConn.WriteMessage(ws.TextMessage, raw))

	sent := expect[websocket.MessageSentPayload](t, aliceConn, websocket.EventMessageSent)
	assert.Equal(t, "tmp-1", sent.TempID)
	delivered := expect[websocket.MessageDeliveredPayload](t, aliceConn, websocket.EventMessageDelivered)
	assert.Equal(t, sent.ServerID, delivered.ServerID)

	incoming := expect[websocket.NewMessagePayload](t, bobConn, websocket.EventNewMessage)
	assert.Equal(t, "hello bob", incoming.Message.Content)

	status, body := ts.do(t, http.MethodPost, "/api/messages/"+sent.ServerID.String()+"/react", bob.token, ReactRequest{Emoji: "🎉"})
	require.Equal(t, http.StatusOK, status, string(body))
	reaction := expect[websocket.ReactionPayload](t, aliceConn, websocket.EventMessageReaction)
	assert.Equal(t, "🎉", reaction.Emoji)

	status, _ = ts.do(t, http.MethodPost, "/api/messages/"+sent.ServerID.String()+"/delete-for-everyone", bob.token, nil)
	assert.Equal(t, http.StatusForbidden, status, "only the sender")
	status, _ = ts.do(t, http.MethodPost, "/api/messages/"+sent.ServerID.String()+"/delete-for-everyone", alice.token, nil)
	require.Equal(t, http.StatusOK, status)
	deleted := expect[websocket.MessageDeletedPayload](t, bobConn, websocket.EventMessageDeletedEveryone)
	assert.Equal(t, sent.ServerID, deleted.MessageID)

	status, body = ts.do(t, http.MethodGet, "/api/messages/conversation/"+alice.id.String(), bob.token, nil)
	require.Equal(t, http.StatusOK, status)
	history := decodeBody[api.ConversationView](t, body)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, models.DeletedPlaceholder, history.Messages[0].Content)

	require.NoError(t, bobConn.Close())
	offline := expect[websocket.FriendStatusPayload](t, aliceConn, websocket.EventFriendStatusChanged)
	assert.False(t, offline.IsOnline)
}

func TestHistoryFetchNotifiesSender(t *testing.T) {
	ts := newTestServer(t)
	alice, bob := ts.register(t, "alice"), ts.register(t, "bob")
	ts.befriend(t, alice, bob)
	aliceConn := ts.dial(t, alice)

	raw, err := websocket.Encode(websocket.EventSendMessage, websocket.SendMessagePayload{
		ReceiverID: bob.id, Content: "while you were out", TempID: "tmp-2",
	})
	require.NoError(t, err)
	require.NoError(t, aliceConn.WriteMessage(ws.TextMessage, raw))
	sent := expect[websocket.MessageSentPayload](t, aliceConn, websocket.EventMessageSent)
	assert.Equal(t, models.StatusSent, sent.Status)

	status, body := ts.do(t, http.MethodGet, "/api/messages/conversation/"+alice.id.String(), bob.token, nil)
	require.Equal(t, http.StatusOK, status)
	history := decodeBody[api.ConversationView](t, body)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, models.StatusDelivered, history.Messages[0].Status)

	delivered := expect[websocket.MessageDeliveredPayload](t, aliceConn, websocket.EventMessageDelivered)
	assert.Equal(t, sent.ServerID, delivered.ServerID)
	assert.Empty(t, delivered.TempID)

	status, body = ts.do(t, http.MethodGet, "/api/messages/conversations", bob.token, nil)
	require.Equal(t, http.StatusOK, status)
	recent := decodeBody[[]api.ConversationSummaryView](t, body)
	require.Len(t, recent, 1)
	assert.Equal(t, sent.ServerID, recent[0].LastMessage.ID)
}

func TestPrivacyUpdatePushedToFriends(t *testing.T) {
	ts := newTestServer(t)
	alice, bob := ts.register(t, "alice"), ts.register(t, "bob")
	ts.befriend(t, alice, bob)
	bobConn := ts.dial(t, bob)
	ts.dial(t, alice)
	expect[websocket.FriendStatusPayload](t, bobConn, websocket.EventFriendStatusChanged)

	status, body := ts.do(t, http.MethodPost, "/api/settings/privacy", alice.token, models.PrivacySettings{OnlineStatus: models.Bool(false)})
	require.Equal(t, http.StatusOK, status)
	resolved := decodeBody[models.PrivacySettings](t, body)
	assert.False(t, *resolved.OnlineStatus)
	assert.True(t, *resolved.TypingIndicator)

	changed := expect[websocket.FriendPrivacyPayload](t, bobConn, websocket.EventFriendPrivacyChanged)
	assert.Equal(t, alice.id, changed.UserID)
	assert.False(t, changed.IsOnline)
}
