package websocket

import (
	"context"
	"testing"
	"time"

	"gator-chat/internal/accounts"
	"gator-chat/internal/database"
	"gator-chat/internal/engine"
	"gator-chat/internal/messaging"
	"gator-chat/internal/middleware"
	"gator-chat/internal/models"
	"gator-chat/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type harness struct {
	t        *testing.T
	engine   *engine.Engine
	hub      *Hub
	protocol *Protocol
}

func newHarness(t *testing.T, limiter *middleware.MapLimiter) *harness {
	t.Helper()
	services := engine.NewServices(database.NewMemoryStore(), messaging.Options{}, accounts.WithBcryptCost(bcrypt.MinCost))
	e := engine.NewEngine(actor.NewActorSystem(), services, nil, 2*time.Second)
	t.Cleanup(e.Stop)
	hub := NewHub(e, nil)
	return &harness{t: t, engine: e, hub: hub, protocol: NewProtocol(hub, e, limiter, nil)}
}

func (h *harness) user(name string) *models.User {
	h.t.Helper()
	u, err := h.engine.Register(context.Background(), accounts.RegisterRequest{
		Username: name, Email: name + "@example.com", Password: "password123",
	})
	require.NoError(h.t, err)
	return u
}

func (h *harness) befriend(a, b *models.User) {
	h.t.Helper()
	ctx := context.Background()
	req, err := h.engine.SendFriendRequest(ctx, a.ID, b.Username)
	require.NoError(h.t, err)
	_, err = h.engine.AcceptFriendRequest(ctx, req.Friendship.ID, b.ID)
	require.NoError(h.t, err)
}

func (h *harness) connect(u *models.User) *Client {
	c := NewClient(h.hub, u.ID, u.Username, nil)
	h.hub.Register(context.Background(), c)
	drain(h.t, c)
	return c
}

func (h *harness) emit(c *Client, event string, data interface{}) {
	h.t.Helper()
	raw, err := Encode(event, data)
	require.NoError(h.t, err)
	h.protocol.Handle(c, raw)
}

func only(t *testing.T, envs []Envelope, name string) Envelope {
	t.Helper()
	matched := eventsNamed(envs, name)
	require.Len(t, matched, 1, "expected exactly one %s in %v", name, envs)
	return matched[0]
}

func TestSendToOnlineFriendDeliversAndReads(t *testing.T) {
	h := newHarness(t, nil)
	alice, bob := h.user("alice"), h.user("bob")
	h.befriend(alice, bob)
	aliceConn, bobConn := h.connect(alice), h.connect(bob)
	drain(t, aliceConn)

	h.emit(aliceConn, EventSendMessage, SendMessagePayload{ReceiverID: bob.ID, Content: "hi", TempID: "tmp-1"})

	aliceGot := drain(t, aliceConn)
	sent := decode[MessageSentPayload](t, only(t, aliceGot, EventMessageSent))
	assert.Equal(t, "tmp-1", sent.TempID)
	assert.Equal(t, models.StatusSent, sent.Status)
	assert.NotEqual(t, uuid.Nil, sent.ServerID)

	delivered := decode[MessageDeliveredPayload](t, only(t, aliceGot, EventMessageDelivered))
	assert.Equal(t, "tmp-1", delivered.TempID)
	assert.Equal(t, sent.ServerID, delivered.ServerID)
	assert.Equal(t, EventMessageSent, aliceGot[0].Event, "ack precedes delivery receipt")

	incoming := decode[NewMessagePayload](t, only(t, drain(t, bobConn), EventNewMessage))
	assert.Equal(t, sent.ServerID, incoming.Message.ID)
	assert.Equal(t, models.StatusDelivered, incoming.Message.Status)
	assert.Equal(t, "alice", incoming.SenderSummary.Username)

	h.emit(bobConn, EventMarkAsRead, MarkAsReadPayload{MessageIDs: []uuid.UUID{sent.ServerID}, SenderID: alice.ID})
	read := decode[MessagesReadPayload](t, only(t, drain(t, aliceConn), EventMessagesRead))
	assert.Equal(t, []uuid.UUID{sent.ServerID}, read.MessageIDs)
	assert.Equal(t, bob.ID, read.ReadBy)

	h.emit(bobConn, EventMarkAsRead, MarkAsReadPayload{MessageIDs: []uuid.UUID{sent.ServerID}, SenderID: alice.ID})
	assert.Empty(t, eventsNamed(drain(t, aliceConn), EventMessagesRead), "second read changes nothing")

	history, err := h.engine.Conversation(context.Background(), alice.ID, bob.ID, nil)
	require.NoError(t, err)
	require.Len(t, history.Messages, 1)
	m := history.Messages[0]
	assert.Equal(t, models.StatusRead, m.Status)
	require.NotNil(t, m.ReadAt)
	assert.True(t, m.ReadAt.Equal(read.ReadAt), "first readAt is kept")
}

func TestSendToOfflineFriendStaysSentUntilHistoryFetch(t *testing.T) {
	h := newHarness(t, nil)
	alice, bob := h.user("alice"), h.user("bob")
	h.befriend(alice, bob)
	aliceConn := h.connect(alice)

	h.emit(aliceConn, EventSendMessage, SendMessagePayload{ReceiverID: bob.ID, Content: "you there?", TempID: "tmp-2"})
	got := drain(t, aliceConn)
	sent := decode[MessageSentPayload](t, only(t, got, EventMessageSent))
	assert.Empty(t, eventsNamed(got, EventMessageDelivered))

	ctx := context.Background()
	history, err := h.engine.Conversation(ctx, alice.ID, bob.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, history.Messages[0].Status, "sender's fetch does not deliver")

	history, err = h.engine.Conversation(ctx, bob.ID, alice.ID, nil)
	require.NoError(t, err)
	require.Len(t, history.Delivered, 1)
	h.protocol.NotifyDelivered(history.Delivered)

	delivered := decode[MessageDeliveredPayload](t, only(t, drain(t, aliceConn), EventMessageDelivered))
	assert.Equal(t, sent.ServerID, delivered.ServerID)
	assert.Empty(t, delivered.TempID)
}

func TestSendRejectionsCarryTempID(t *testing.T) {
	h := newHarness(t, nil)
	alice, bob, carol := h.user("alice"), h.user("bob"), h.user("carol")
	h.befriend(alice, carol)
	aliceConn, bobConn := h.connect(alice), h.connect(bob)
	carolConn := h.connect(carol)
	drain(t, aliceConn)

	h.emit(aliceConn, EventSendMessage, SendMessagePayload{ReceiverID: bob.ID, Content: "hello stranger", TempID: "tmp-3"})
	rejection := decode[ErrorPayload](t, only(t, drain(t, aliceConn), EventError))
	assert.Equal(t, utils.ErrForbidden, rejection.Code)
	assert.Equal(t, "tmp-3", rejection.TempID)
	assert.Empty(t, drain(t, bobConn), "no push for a rejected send")

	require.NoError(t, h.engine.Block(context.Background(), alice.ID, carol.ID))
	h.emit(carolConn, EventSendMessage, SendMessagePayload{ReceiverID: alice.ID, Content: "hey", TempID: "tmp-4"})
	rejection = decode[ErrorPayload](t, only(t, drain(t, carolConn), EventError))
	assert.Equal(t, utils.ErrBlocked, rejection.Code, "blocked regardless of friendship")
	assert.Equal(t, "tmp-4", rejection.TempID)

	h.emit(aliceConn, EventSendMessage, SendMessagePayload{ReceiverID: carol.ID, Content: "   ", TempID: "tmp-5"})
	rejection = decode[ErrorPayload](t, only(t, drain(t, aliceConn), EventError))
	assert.Equal(t, utils.ErrValidation, rejection.Code)

	h.protocol.Handle(aliceConn, []byte("{not json"))
	assert.Len(t, eventsNamed(drain(t, aliceConn), EventError), 1)
}

func TestNotificationsOffLeavesMessageSent(t *testing.T) {
	h := newHarness(t, nil)
	alice, bob := h.user("alice"), h.user("bob")
	h.befriend(alice, bob)
	_, err := h.engine.UpdateNotifications(context.Background(), bob.ID, models.NotificationSettings{MessageNotifications: models.Bool(false)})
	require.NoError(t, err)
	aliceConn, bobConn := h.connect(alice), h.connect(bob)
	drain(t, aliceConn)

	h.emit(aliceConn, EventSendMessage, SendMessagePayload{ReceiverID: bob.ID, Content: "psst", TempID: "tmp-6"})
	got := drain(t, aliceConn)
	only(t, got, EventMessageSent)
	assert.Empty(t, eventsNamed(got, EventMessageDelivered))
	assert.Empty(t, eventsNamed(drain(t, bobConn), EventNewMessage))
}

func TestReadReceiptsFollowReaderSetting(t *testing.T) {
	h := newHarness(t, nil)
	alice, bob := h.user("alice"), h.user("bob")
	h.befriend(alice, bob)
	_, err := h.engine.UpdatePrivacy(context.Background(), bob.ID, models.PrivacySettings{ReadReceipts: models.Bool(false)})
	require.NoError(t, err)
	aliceConn, bobConn := h.connect(alice), h.connect(bob)
	drain(t, aliceConn)

	h.emit(aliceConn, EventSendMessage, SendMessagePayload{ReceiverID: bob.ID, Content: "read me", TempID: "tmp-7"})
	sent := decode[MessageSentPayload](t, only(t, drain(t, aliceConn), EventMessageSent))
	drain(t, bobConn)

	h.emit(bobConn, EventMarkAsRead, MarkAsReadPayload{MessageIDs: []uuid.UUID{sent.ServerID}, SenderID: alice.ID})
	assert.Empty(t, eventsNamed(drain(t, aliceConn), EventMessagesRead))

	history, err := h.engine.Conversation(context.Background(), alice.ID, bob.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, history.Messages[0].Status, "status still advances")
}

func TestMarkAsReadIgnoresOtherConversations(t *testing.T) {
	h := newHarness(t, nil)
	alice, bob, carol := h.user("alice"), h.user("bob"), h.user("carol")
	h.befriend(alice, bob)
	h.befriend(carol, bob)
	aliceConn, bobConn, carolConn := h.connect(alice), h.connect(bob), h.connect(carol)

	h.emit(carolConn, EventSendMessage, SendMessagePayload{ReceiverID: bob.ID, Content: "from carol", TempID: "c1"})
	fromCarol := decode[MessageSentPayload](t, only(t, drain(t, carolConn), EventMessageSent))
	drain(t, aliceConn)
	drain(t, bobConn)

	h.emit(bobConn, EventMarkAsRead, MarkAsReadPayload{MessageIDs: []uuid.UUID{fromCarol.ServerID}, SenderID: alice.ID})
	assert.Empty(t, drain(t, aliceConn))
	assert.Empty(t, drain(t, carolConn))

	h.emit(aliceConn, EventMarkAsRead, MarkAsReadPayload{MessageIDs: []uuid.UUID{fromCarol.ServerID}, SenderID: carol.ID})
	assert.Empty(t, drain(t, carolConn), "alice is not the receiver")
}

func TestTypingGatedBySender(t *testing.T) {
	h := newHarness(t, nil)
	alice, bob := h.user("alice"), h.user("bob")
	h.befriend(alice, bob)
	aliceConn, bobConn := h.connect(alice), h.connect(bob)
	drain(t, aliceConn)

	h.emit(aliceConn, EventTypingStart, TypingPayload{ReceiverID: bob.ID})
	typing := decode[UserTypingPayload](t, only(t, drain(t, bobConn), EventUserTyping))
	assert.True(t, typing.IsTyping)
	assert.Equal(t, "alice", typing.Username)

	h.emit(aliceConn, EventTypingStop, TypingPayload{ReceiverID: bob.ID})
	typing = decode[UserTypingPayload](t, only(t, drain(t, bobConn), EventUserTyping))
	assert.False(t, typing.IsTyping)

	_, err := h.engine.UpdatePrivacy(context.Background(), alice.ID, models.PrivacySettings{TypingIndicator: models.Bool(false)})
	require.NoError(t, err)
	drain(t, bobConn)

	h.emit(aliceConn, EventTypingStart, TypingPayload{ReceiverID: bob.ID})
	assert.Empty(t, eventsNamed(drain(t, bobConn), EventUserTyping))

	h.emit(aliceConn, EventTypingStop, TypingPayload{ReceiverID: bob.ID})
	assert.Empty(t, eventsNamed(drain(t, bobConn), EventUserTyping), "stop is gated like start")
}

func TestInboundEventsAreRateLimited(t *testing.T) {
	h := newHarness(t, middleware.NewMapLimiter(0.001, 2, time.Minute))
	alice, bob := h.user("alice"), h.user("bob")
	h.befriend(alice, bob)
	aliceConn := h.connect(alice)

	for i := 0; i < 2; i++ {
		h.emit(aliceConn, EventTypingStop, TypingPayload{ReceiverID: bob.ID})
	}
	assert.Empty(t, eventsNamed(drain(t, aliceConn), EventError))

	h.emit(aliceConn, EventSendMessage, SendMessagePayload{ReceiverID: bob.ID, Content: "spam", TempID: "tmp-8"})
	rejection := decode[ErrorPayload](t, only(t, drain(t, aliceConn), EventError))
	assert.Equal(t, utils.ErrTooManyRequests, rejection.Code)
	assert.Equal(t, "tmp-8", rejection.TempID)
}

func TestReactionAndDeletePushesReachBothParties(t *testing.T) {
	h := newHarness(t, nil)
	alice, bob := h.user("alice"), h.user("bob")
	h.befriend(alice, bob)
	aliceConn, bobConn := h.connect(alice), h.connect(bob)
	drain(t, aliceConn)
	ctx := context.Background()

	h.emit(aliceConn, EventSendMessage, SendMessagePayload{ReceiverID: bob.ID, Content: "react to me", TempID: "tmp-9"})
	sent := decode[MessageSentPayload](t, only(t, drain(t, aliceConn), EventMessageSent))
	drain(t, aliceConn)
	drain(t, bobConn)

	m, err := h.engine.React(ctx, sent.ServerID, bob.ID, "👍")
	require.NoError(t, err)
	h.protocol.NotifyReaction(m, bob.ID, "👍")
	for _, c := range []*Client{aliceConn, bobConn} {
		p := decode[ReactionPayload](t, only(t, drain(t, c), EventMessageReaction))
		assert.Equal(t, "👍", p.Reactions[bob.ID])
	}

	m, err = h.engine.DeleteForEveryone(ctx, sent.ServerID, alice.ID)
	require.NoError(t, err)
	h.protocol.NotifyDeletedForEveryone(m)
	for _, c := range []*Client{aliceConn, bobConn} {
		p := decode[MessageDeletedPayload](t, only(t, drain(t, c), EventMessageDeletedEveryone))
		assert.Equal(t, sent.ServerID, p.MessageID)
		assert.NotNil(t, p.DeletedAt)
	}
}

func TestFriendNotifications(t *testing.T) {
	h := newHarness(t, nil)
	alice, bob := h.user("alice"), h.user("bob")
	aliceConn, bobConn := h.connect(alice), h.connect(bob)
	ctx := context.Background()

	req, err := h.engine.SendFriendRequest(ctx, alice.ID, "bob")
	require.NoError(t, err)
	h.protocol.NotifyFriendRequest(req)
	incoming := decode[FriendRequestPayload](t, only(t, drain(t, bobConn), EventFriendRequest))
	assert.Equal(t, req.Friendship.ID, incoming.RequestID)
	assert.Equal(t, "alice", incoming.From.Username)

	accepted, err := h.engine.AcceptFriendRequest(ctx, req.Friendship.ID, bob.ID)
	require.NoError(t, err)
	h.protocol.NotifyFriendAccepted(accepted)
	ack := decode[FriendAcceptedPayload](t, only(t, drain(t, aliceConn), EventFriendRequestAccepted))
	assert.Equal(t, "bob", ack.Friend.Username)

	updated, err := h.engine.UpdatePrivacy(ctx, alice.ID, models.PrivacySettings{OnlineStatus: models.Bool(false)})
	require.NoError(t, err)
	h.protocol.NotifyPrivacyChanged(ctx, updated)
	changed := decode[FriendPrivacyPayload](t, only(t, drain(t, bobConn), EventFriendPrivacyChanged))
	assert.False(t, changed.IsOnline)
	assert.False(t, *changed.Privacy.OnlineStatus)
	assert.True(t, *changed.Privacy.LastSeen)
}

func TestFriendRequestNotificationRespectsSetting(t *testing.T) {
	h := newHarness(t, nil)
	alice, bob := h.user("alice"), h.user("bob")
	ctx := context.Background()
	_, err := h.engine.UpdateNotifications(ctx, bob.ID, models.NotificationSettings{FriendRequests: models.Bool(false)})
	require.NoError(t, err)
	bobConn := h.connect(bob)

	req, err := h.engine.SendFriendRequest(ctx, alice.ID, "bob")
	require.NoError(t, err)
	h.protocol.NotifyFriendRequest(req)
	assert.Empty(t, drain(t, bobConn))
}
