package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"gator-chat/internal/database"
	"gator-chat/internal/models"
	"gator-chat/internal/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db    *database.MemoryStore
	lc    *Lifecycle
	now   time.Time
	alice *models.User
	bob   *models.User
}

func (f *fixture) clock() time.Time { return f.now }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{db: database.NewMemoryStore(), now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	f.lc = NewLifecycle(f.db, f.db, f.db, Options{Now: f.clock})
	f.alice = f.user(t, "alice")
	f.bob = f.user(t, "bob")
	return f
}

func (f *fixture) user(t *testing.T, name string) *models.User {
	t.Helper()
	u := &models.User{ID: uuid.New(), Username: name, Email: name + "@example.com", CreatedAt: f.now, LastSeen: f.now}
	require.NoError(t, f.db.CreateUser(context.Background(), u))
	return u
}

func (f *fixture) befriend(t *testing.T, a, b *models.User) {
	t.Helper()
	ctx := context.Background()
	fr, err := f.db.CreateFriendship(ctx, a.ID, b.ID, f.now)
	require.NoError(t, err)
	_, err = f.db.UpdateFriendshipStatus(ctx, fr.ID, models.FriendshipAccepted, f.now)
	require.NoError(t, err)
}

func (f *fixture) send(t *testing.T, from, to *models.User, content string) *models.Message {
	t.Helper()
	res, err := f.lc.Send(context.Background(), SendRequest{SenderID: from.ID, ReceiverID: to.ID, Content: content})
	require.NoError(t, err)
	return res.Message
}

func TestSendBetweenFriends(t *testing.T) {
	f := newFixture(t)
	f.befriend(t, f.alice, f.bob)

	res, err := f.lc.Send(context.Background(), SendRequest{SenderID: f.alice.ID, ReceiverID: f.bob.ID, Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, res.Message.Status)
	assert.Equal(t, models.MessageText, res.Message.Type)
	assert.Equal(t, f.now, res.Message.CreatedAt)
	assert.Equal(t, f.bob.ID, res.Receiver.ID)
	assert.NotEqual(t, uuid.Nil, res.Message.ID)

	stored, err := f.db.FindMessage(context.Background(), res.Message.ID)
	require.NoError(t, err)
	assert.Equal(t, "hi", stored.Content)
}

func TestSendRequiresFriendship(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.lc.Send(ctx, SendRequest{SenderID: f.alice.ID, ReceiverID: f.bob.ID, Content: "hi"})
	assert.True(t, utils.IsErrorCode(err, utils.ErrForbidden))

	// pending is not enough
	_, err = f.db.CreateFriendship(ctx, f.alice.ID, f.bob.ID, f.now)
	require.NoError(t, err)
	_, err = f.lc.Send(ctx, SendRequest{SenderID: f.alice.ID, ReceiverID: f.bob.ID, Content: "hi"})
	assert.True(t, utils.IsErrorCode(err, utils.ErrForbidden))

	msgs, err := f.db.FindByConversationID(ctx, models.ConversationID(f.alice.ID, f.bob.ID), nil)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSendRejectedWhenBlockedEitherWay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.befriend(t, f.alice, f.bob)
	require.NoError(t, f.db.SetBlocked(ctx, f.alice.ID, f.bob.ID, true))

	_, err := f.lc.Send(ctx, SendRequest{SenderID: f.bob.ID, ReceiverID: f.alice.ID, Content: "hey"})
	assert.True(t, utils.IsErrorCode(err, utils.ErrBlocked))

	_, err = f.lc.Send(ctx, SendRequest{SenderID: f.alice.ID, ReceiverID: f.bob.ID, Content: "hey"})
	assert.True(t, utils.IsErrorCode(err, utils.ErrBlocked))
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	f.befriend(t, f.alice, f.bob)
	ctx := context.Background()

	cases := []SendRequest{
		{SenderID: f.alice.ID, ReceiverID: f.bob.ID, Content: "   "},
		{SenderID: f.alice.ID, ReceiverID: f.alice.ID, Content: "me"},
		{SenderID: f.alice.ID, ReceiverID: uuid.Nil, Content: "nobody"},
		{SenderID: f.alice.ID, ReceiverID: f.bob.ID, Content: "x", Type: "voice"},
		{SenderID: f.alice.ID, ReceiverID: f.bob.ID, Content: string(make([]byte, DefaultMaxContentLength+1))},
	}
	for _, req := range cases {
		_, err := f.lc.Send(ctx, req)
		assert.True(t, utils.IsErrorCode(err, utils.ErrValidation), "%+v", req.Type)
	}

	_, err := f.lc.Send(ctx, SendRequest{SenderID: f.alice.ID, ReceiverID: uuid.New(), Content: "hi"})
	assert.True(t, utils.IsErrorCode(err, utils.ErrNotFound))
}

func TestStatusIsMonotonicAndIdempotent(t *testing.T) {
	f := newFixture(t)
	f.befriend(t, f.alice, f.bob)
	ctx := context.Background()
	msg := f.send(t, f.alice, f.bob, "hi")

	f.now = f.now.Add(time.Second)
	delivered, changed, err := f.lc.MarkDelivered(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	firstDelivery := *delivered.DeliveredAt

	f.now = f.now.Add(time.Second)
	_, changed, err = f.lc.MarkDelivered(ctx, msg.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	f.now = f.now.Add(time.Second)
	read, changed, err := f.lc.MarkRead(ctx, msg.ID, f.bob.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	firstRead := *read.ReadAt

	f.now = f.now.Add(time.Second)
	again, changed, err := f.lc.MarkRead(ctx, msg.ID, f.bob.ID)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, firstRead, *again.ReadAt)

	_, changed, err = f.lc.MarkDelivered(ctx, msg.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	final, err := f.db.FindMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, final.Status)
	assert.Equal(t, firstDelivery, *final.DeliveredAt)
	assert.Equal(t, firstRead, *final.ReadAt)
}

func TestMarkReadOnlyByReceiver(t *testing.T) {
	f := newFixture(t)
	f.befriend(t, f.alice, f.bob)
	msg := f.send(t, f.alice, f.bob, "hi")

	_, _, err := f.lc.MarkRead(context.Background(), msg.ID, f.alice.ID)
	assert.True(t, utils.IsErrorCode(err, utils.ErrForbidden))
}

func TestMarkReadBatchReportsOnlyChanges(t *testing.T) {
	f := newFixture(t)
	carol := f.user(t, "carol")
	f.befriend(t, f.alice, f.bob)
	f.befriend(t, carol, f.bob)
	ctx := context.Background()

	m1 := f.send(t, f.alice, f.bob, "one")
	m2 := f.send(t, f.alice, f.bob, "two")
	fromCarol := f.send(t, carol, f.bob, "other pair")
	mine := f.send(t, f.bob, f.alice, "bob's own")

	res, err := f.lc.MarkReadBatch(ctx, f.bob.ID, f.alice.ID,
		[]uuid.UUID{m1.ID, m1.ID, m2.ID, fromCarol.ID, mine.ID, uuid.New()})
	require.NoError(t, err)
	require.Len(t, res.Changed, 2)
	assert.Equal(t, f.bob.ID, res.Reader.ID)

	res, err = f.lc.MarkReadBatch(ctx, f.bob.ID, f.alice.ID, []uuid.UUID{m1.ID, m2.ID})
	require.NoError(t, err)
	assert.Empty(t, res.Changed)

	_, err = f.lc.MarkReadBatch(ctx, f.bob.ID, f.alice.ID, nil)
	assert.True(t, utils.IsErrorCode(err, utils.ErrValidation))
}

// flakyMessages fails status updates for one message.
type flakyMessages struct {
	*database.MemoryStore
	failOn uuid.UUID
}

func (f *flakyMessages) UpdateStatus(ctx context.Context, id uuid.UUID, next models.MessageStatus, at time.Time) (bool, error) {
	if id == f.failOn {
		return false, utils.NewTransientError("update status", errors.New("disk full"))
	}
	return f.MemoryStore.UpdateStatus(ctx, id, next, at)
}

func TestMarkReadBatchSurvivesStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.befriend(t, f.alice, f.bob)
	ctx := context.Background()

	m1 := f.send(t, f.alice, f.bob, "one")
	m2 := f.send(t, f.alice, f.bob, "two")
	m3 := f.send(t, f.alice, f.bob, "three")

	flaky := &flakyMessages{MemoryStore: f.db, failOn: m2.ID}
	lc := NewLifecycle(f.db, flaky, f.db, Options{Now: f.clock})

	res, err := lc.MarkReadBatch(ctx, f.bob.ID, f.alice.ID, []uuid.UUID{m1.ID, m2.ID, m3.ID})
	require.NoError(t, err)
	var changed []uuid.UUID
	for _, m := range res.Changed {
		changed = append(changed, m.ID)
	}
	assert.Equal(t, []uuid.UUID{m1.ID, m3.ID}, changed, "reads before and after the failure are reported")
	assert.Equal(t, []uuid.UUID{m2.ID}, res.Failed)

	flaky.failOn = uuid.Nil
	res, err = lc.MarkReadBatch(ctx, f.bob.ID, f.alice.ID, []uuid.UUID{m1.ID, m2.ID, m3.ID})
	require.NoError(t, err)
	require.Len(t, res.Changed, 1)
	assert.Equal(t, m2.ID, res.Changed[0].ID)
	assert.Empty(t, res.Failed)
}

func TestReactions(t *testing.T) {
	f := newFixture(t)
	f.befriend(t, f.alice, f.bob)
	ctx := context.Background()
	msg := f.send(t, f.alice, f.bob, "hi")

	got, err := f.lc.React(ctx, msg.ID, f.bob.ID, "👍")
	require.NoError(t, err)
	assert.Equal(t, "👍", got.Reactions[f.bob.ID])

	got, err = f.lc.React(ctx, msg.ID, f.bob.ID, "🎉")
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]string{f.bob.ID: "🎉"}, got.Reactions)

	for _, bad := range []string{"", "ok", "👍👍", "👍 "} {
		_, err = f.lc.React(ctx, msg.ID, f.bob.ID, bad)
		assert.True(t, utils.IsErrorCode(err, utils.ErrValidation), bad)
	}

	got, err = f.lc.Unreact(ctx, msg.ID, f.bob.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Reactions)

	_, err = f.lc.React(ctx, uuid.New(), f.bob.ID, "👍")
	assert.True(t, utils.IsErrorCode(err, utils.ErrNotFound))

	carol := f.user(t, "carol")
	_, err = f.lc.React(ctx, msg.ID, carol.ID, "👍")
	assert.True(t, utils.IsErrorCode(err, utils.ErrForbidden), "outsiders cannot react")
	_, err = f.lc.DeleteForUser(ctx, msg.ID, carol.ID)
	assert.True(t, utils.IsErrorCode(err, utils.ErrForbidden))
}

func TestDeleteForEveryoneWindow(t *testing.T) {
	f := newFixture(t)
	f.befriend(t, f.alice, f.bob)
	ctx := context.Background()
	msg := f.send(t, f.alice, f.bob, "oops")

	_, err := f.lc.DeleteForEveryone(ctx, msg.ID, f.bob.ID)
	assert.True(t, utils.IsErrorCode(err, utils.ErrForbidden))

	f.now = f.now.Add(3 * time.Minute)
	_, err = f.lc.DeleteForEveryone(ctx, msg.ID, f.alice.ID)
	assert.True(t, utils.IsErrorCode(err, utils.ErrExpired))

	f.now = msg.CreatedAt.Add(2 * time.Minute)
	_, err = f.lc.DeleteForEveryone(ctx, msg.ID, f.alice.ID)
	assert.True(t, utils.IsErrorCode(err, utils.ErrExpired), "the window is exclusive")

	history, err := f.lc.Conversation(ctx, f.bob.ID, f.alice.ID, nil)
	require.NoError(t, err)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "oops", history.Messages[0].Content)
	assert.False(t, history.Messages[0].IsDeletedForEveryone)

	fresh := f.send(t, f.alice, f.bob, "quick")
	f.now = f.now.Add(time.Minute)
	deleted, err := f.lc.DeleteForEveryone(ctx, fresh.ID, f.alice.ID)
	require.NoError(t, err)
	assert.True(t, deleted.IsDeletedForEveryone)
	assert.Equal(t, "quick", deleted.Content, "stored content is retained")
	assert.Equal(t, models.DeletedPlaceholder, deleted.ViewFor(f.bob.ID).Content)
}

func TestDeleteForUserHidesOnlyForThatUser(t *testing.T) {
	f := newFixture(t)
	f.befriend(t, f.alice, f.bob)
	ctx := context.Background()
	msg := f.send(t, f.alice, f.bob, "secret")

	_, err := f.lc.DeleteForUser(ctx, msg.ID, f.bob.ID)
	require.NoError(t, err)
	_, err = f.lc.DeleteForUser(ctx, msg.ID, f.bob.ID)
	require.NoError(t, err)

	bobView, err := f.lc.Conversation(ctx, f.bob.ID, f.alice.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, bobView.Messages)

	aliceView, err := f.lc.Conversation(ctx, f.alice.ID, f.bob.ID, nil)
	require.NoError(t, err)
	assert.Len(t, aliceView.Messages, 1)
}

func TestConversationDeliversPendingMessages(t *testing.T) {
	f := newFixture(t)
	f.befriend(t, f.alice, f.bob)
	ctx := context.Background()
	first := f.send(t, f.alice, f.bob, "while you were away")
	f.now = f.now.Add(time.Second)
	f.send(t, f.bob, f.alice, "reply")

	history, err := f.lc.Conversation(ctx, f.bob.ID, f.alice.ID, nil)
	require.NoError(t, err)
	require.Len(t, history.Messages, 2)
	require.Len(t, history.Delivered, 1)
	assert.Equal(t, first.ID, history.Delivered[0].ID)
	assert.Equal(t, models.StatusDelivered, history.Messages[0].Status)
	assert.Equal(t, models.StatusSent, history.Messages[1].Status, "bob's own message is untouched")

	history, err = f.lc.Conversation(ctx, f.bob.ID, f.alice.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, history.Delivered)

	stranger := f.user(t, "mallory")
	_, err = f.lc.Conversation(ctx, stranger.ID, f.alice.ID, nil)
	assert.True(t, utils.IsErrorCode(err, utils.ErrForbidden))
}

func TestRecentConversations(t *testing.T) {
	f := newFixture(t)
	carol := f.user(t, "carol")
	dave := f.user(t, "dave")
	f.befriend(t, f.alice, f.bob)
	f.befriend(t, f.alice, carol)
	f.now = f.now.Add(time.Minute)
	f.befriend(t, f.alice, dave)

	f.now = f.now.Add(time.Minute)
	f.send(t, f.alice, carol, "hello carol")
	f.now = f.now.Add(time.Minute)
	f.send(t, f.bob, f.alice, "hello alice")

	recent, err := f.lc.RecentConversations(context.Background(), f.alice.ID)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, f.bob.ID, recent[0].Friend.ID)
	assert.Equal(t, "hello alice", recent[0].LastMessage.Content)
	assert.Equal(t, carol.ID, recent[1].Friend.ID)
	assert.Equal(t, dave.ID, recent[2].Friend.ID)
	assert.Nil(t, recent[2].LastMessage)
}
