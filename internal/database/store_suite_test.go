package database

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gator-chat/internal/models"
	"gator-chat/internal/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreSuite exercises one backend through the DBAdapter contract. Every
// subtest creates its own users so backends may share state across runs.
func runStoreSuite(t *testing.T, db DBAdapter) {
	t.Run("Identity", func(t *testing.T) { testIdentity(t, db) })
	t.Run("Blocklist", func(t *testing.T) { testBlocklist(t, db) })
	t.Run("Search", func(t *testing.T) { testSearch(t, db) })
	t.Run("ConversationLog", func(t *testing.T) { testConversationLog(t, db) })
	t.Run("StatusForwardOnly", func(t *testing.T) { testStatusForwardOnly(t, db) })
	t.Run("StatusConcurrentDelivery", func(t *testing.T) { testStatusConcurrent(t, db) })
	t.Run("ReactionsAndDeletes", func(t *testing.T) { testReactionsAndDeletes(t, db) })
	t.Run("RecentConversations", func(t *testing.T) { testRecentConversations(t, db) })
	t.Run("Friendships", func(t *testing.T) { testFriendships(t, db) })
}

func baseTime() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func newTestUser(t *testing.T, db DBAdapter, prefix string) *models.User {
	t.Helper()
	id := uuid.New()
	u := &models.User{
		ID:             id,
		Username:       fmt.Sprintf("%s%s", prefix, id.String()[:8]),
		Email:          fmt.Sprintf("%s@example.com", id.String()[:12]),
		HashedPassword: "hash",
		Bio:            "",
		Status:         models.DefaultStatus,
		LastSeen:       baseTime(),
		CreatedAt:      baseTime(),
	}
	require.NoError(t, db.CreateUser(context.Background(), u))
	return u
}

func newTestMessage(t *testing.T, db DBAdapter, from, to uuid.UUID, content string, at time.Time) *models.Message {
	t.Helper()
	m := &models.Message{
		ID:         uuid.New(),
		SenderID:   from,
		ReceiverID: to,
		Content:    content,
		Type:       models.MessageText,
		CreatedAt:  at,
		Status:     models.StatusSent,
		Reactions:  map[uuid.UUID]string{},
	}
	require.NoError(t, db.CreateMessage(context.Background(), m))
	return m
}

func testIdentity(t *testing.T, db DBAdapter) {
	ctx := context.Background()
	u := newTestUser(t, db, "Alice")

	found, err := db.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Username, found.Username)
	assert.Equal(t, models.DefaultStatus, found.Status)

	found, err = db.FindUserByUsername(ctx, strings.ToUpper(u.Username))
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)

	dup := &models.User{ID: uuid.New(), Username: strings.ToLower(u.Username), Email: "other-" + u.Email, CreatedAt: baseTime(), LastSeen: baseTime()}
	err = db.CreateUser(ctx, dup)
	assert.True(t, utils.IsErrorCode(err, utils.ErrConflict))

	dupEmail := &models.User{ID: uuid.New(), Username: "x" + u.Username, Email: u.Email, CreatedAt: baseTime(), LastSeen: baseTime()}
	err = db.CreateUser(ctx, dupEmail)
	assert.True(t, utils.IsErrorCode(err, utils.ErrConflict))

	_, err = db.FindUserByID(ctx, uuid.New())
	assert.True(t, utils.IsErrorCode(err, utils.ErrNotFound))

	updated, err := db.UpdatePrivacySettings(ctx, u.ID, models.PrivacySettings{ReadReceipts: models.Bool(false)})
	require.NoError(t, err)
	assert.False(t, models.Enabled(updated.Settings.Privacy.ReadReceipts))
	assert.True(t, models.Enabled(updated.Settings.Privacy.TypingIndicator))

	updated, err = db.UpdatePrivacySettings(ctx, u.ID, models.PrivacySettings{TypingIndicator: models.Bool(false)})
	require.NoError(t, err)
	assert.False(t, models.Enabled(updated.Settings.Privacy.ReadReceipts), "earlier flag must survive a partial update")
	assert.False(t, models.Enabled(updated.Settings.Privacy.TypingIndicator))

	updated, err = db.UpdateNotificationSettings(ctx, u.ID, models.NotificationSettings{MessageNotifications: models.Bool(false)})
	require.NoError(t, err)
	assert.False(t, models.Enabled(updated.Settings.Notifications.MessageNotifications))
	assert.True(t, models.Enabled(updated.Settings.Notifications.FriendRequests))

	bio := "gone fishing"
	updated, err = db.UpdateProfile(ctx, u.ID, models.ProfileUpdate{Bio: &bio})
	require.NoError(t, err)
	assert.Equal(t, bio, updated.Bio)
	assert.Equal(t, models.DefaultStatus, updated.Status)

	seen := baseTime().Add(time.Minute)
	require.NoError(t, db.UpdateOnlineStatus(ctx, u.ID, true, "conn-1", seen))
	found, err = db.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, found.IsOnline)
	assert.Equal(t, "conn-1", found.ConnectionRef)
	assert.WithinDuration(t, seen, found.LastSeen, time.Millisecond)

	// A replaced connection going away leaves the newer one in place.
	require.NoError(t, db.UpdateOnlineStatus(ctx, u.ID, true, "conn-2", seen.Add(time.Second)))
	require.NoError(t, db.UpdateOnlineStatus(ctx, u.ID, false, "conn-1", seen.Add(2*time.Second)))
	found, err = db.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, found.IsOnline)
	assert.Equal(t, "conn-2", found.ConnectionRef)

	require.NoError(t, db.UpdateOnlineStatus(ctx, u.ID, false, "conn-2", seen.Add(3*time.Second)))
	found, err = db.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, found.IsOnline)
	assert.Empty(t, found.ConnectionRef)
	assert.WithinDuration(t, seen.Add(3*time.Second), found.LastSeen, time.Millisecond)

	err = db.UpdateOnlineStatus(ctx, uuid.New(), false, "conn-9", seen)
	assert.True(t, utils.IsErrorCode(err, utils.ErrNotFound))

	require.NoError(t, db.UpdatePassword(ctx, u.ID, "new-hash"))
	found, err = db.FindUserByUsernameOrEmail(ctx, "nobody-"+u.Username, u.Email)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", found.HashedPassword)
}

func testBlocklist(t *testing.T, db DBAdapter) {
	ctx := context.Background()
	a := newTestUser(t, db, "blocker")
	b := newTestUser(t, db, "blocked")

	require.NoError(t, db.SetBlocked(ctx, a.ID, b.ID, true))
	require.NoError(t, db.SetBlocked(ctx, a.ID, b.ID, true))

	found, err := db.FindUserByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b.ID}, found.BlockedUsers)
	assert.True(t, found.HasBlocked(b.ID))

	require.NoError(t, db.SetBlocked(ctx, a.ID, b.ID, false))
	found, err = db.FindUserByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, found.BlockedUsers)

	err = db.SetBlocked(ctx, uuid.New(), b.ID, true)
	assert.True(t, utils.IsErrorCode(err, utils.ErrNotFound))
}

func testSearch(t *testing.T, db DBAdapter) {
	ctx := context.Background()
	tag := strings.ReplaceAll(uuid.NewString()[:6], "-", "")
	for i := 0; i < 3; i++ {
		u := &models.User{
			ID:        uuid.New(),
			Username:  fmt.Sprintf("%sSrch%d", tag, i),
			Email:     fmt.Sprintf("srch%s%d@example.com", tag, i),
			CreatedAt: baseTime(),
			LastSeen:  baseTime(),
		}
		require.NoError(t, db.CreateUser(ctx, u))
	}

	users, err := db.SearchUsers(ctx, strings.ToUpper(tag), 10)
	require.NoError(t, err)
	assert.Len(t, users, 3)

	users, err = db.SearchUsers(ctx, tag, 2)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	users, err = db.SearchUsers(ctx, tag+"%", 10)
	require.NoError(t, err)
	assert.Empty(t, users)

	users, err = db.SearchUsers(ctx, "srch", 10)
	require.NoError(t, err)
	for _, u := range users {
		assert.NotContains(t, u.Username, tag, "search matches from the start of the username")
	}
}

func testConversationLog(t *testing.T, db DBAdapter) {
	ctx := context.Background()
	a := newTestUser(t, db, "loga")
	b := newTestUser(t, db, "logb")
	start := baseTime()

	m1 := newTestMessage(t, db, a.ID, b.ID, "one", start)
	m2 := newTestMessage(t, db, b.ID, a.ID, "two", start.Add(time.Second))
	m3 := newTestMessage(t, db, a.ID, b.ID, "three", start.Add(2*time.Second))

	convID := models.ConversationID(b.ID, a.ID)
	msgs, err := db.FindByConversationID(ctx, convID, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []uuid.UUID{m1.ID, m2.ID, m3.ID}, []uuid.UUID{msgs[0].ID, msgs[1].ID, msgs[2].ID})
	assert.Equal(t, models.StatusSent, msgs[0].Status)
	assert.Nil(t, msgs[0].DeliveredAt)

	since := m1.CreatedAt
	msgs, err = db.FindByConversationID(ctx, convID, &since)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	found, err := db.FindMessage(ctx, m2.ID)
	require.NoError(t, err)
	assert.Equal(t, "two", found.Content)
	assert.Equal(t, convID, found.ConversationID())

	_, err = db.FindMessage(ctx, uuid.New())
	assert.True(t, utils.IsErrorCode(err, utils.ErrNotFound))
}

func testStatusForwardOnly(t *testing.T, db DBAdapter) {
	ctx := context.Background()
	a := newTestUser(t, db, "sta")
	b := newTestUser(t, db, "stb")
	start := baseTime()
	m := newTestMessage(t, db, a.ID, b.ID, "hi", start)

	changed, err := db.UpdateStatus(ctx, m.ID, models.StatusDelivered, start.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = db.UpdateStatus(ctx, m.ID, models.StatusDelivered, start.Add(5*time.Second))
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = db.UpdateStatus(ctx, m.ID, models.StatusRead, start.Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = db.UpdateStatus(ctx, m.ID, models.StatusDelivered, start.Add(3*time.Second))
	require.NoError(t, err)
	assert.False(t, changed, "read must never regress to delivered")

	changed, err = db.UpdateStatus(ctx, m.ID, models.StatusRead, start.Add(4*time.Second))
	require.NoError(t, err)
	assert.False(t, changed)

	found, err := db.FindMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, found.Status)
	require.NotNil(t, found.DeliveredAt)
	require.NotNil(t, found.ReadAt)
	assert.WithinDuration(t, start.Add(time.Second), *found.DeliveredAt, time.Millisecond)
	assert.WithinDuration(t, start.Add(2*time.Second), *found.ReadAt, time.Millisecond)

	direct := newTestMessage(t, db, a.ID, b.ID, "straight to read", start)
	changed, err = db.UpdateStatus(ctx, direct.ID, models.StatusRead, start.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, changed)
	found, err = db.FindMessage(ctx, direct.ID)
	require.NoError(t, err)
	assert.Nil(t, found.DeliveredAt)

	_, err = db.UpdateStatus(ctx, uuid.New(), models.StatusDelivered, start)
	assert.True(t, utils.IsErrorCode(err, utils.ErrNotFound))
}

func testStatusConcurrent(t *testing.T, db DBAdapter) {
	ctx := context.Background()
	a := newTestUser(t, db, "cca")
	b := newTestUser(t, db, "ccb")
	m := newTestMessage(t, db, a.ID, b.ID, "race", baseTime())

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			changed, err := db.UpdateStatus(ctx, m.ID, models.StatusDelivered, baseTime())
			if assert.NoError(t, err) && changed {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func testReactionsAndDeletes(t *testing.T, db DBAdapter) {
	ctx := context.Background()
	a := newTestUser(t, db, "ra")
	b := newTestUser(t, db, "rb")
	start := baseTime()
	m := newTestMessage(t, db, a.ID, b.ID, "react to me", start)

	got, err := db.AddReaction(ctx, m.ID, b.ID, "👍")
	require.NoError(t, err)
	assert.Equal(t, "👍", got.Reactions[b.ID])

	got, err = db.AddReaction(ctx, m.ID, b.ID, "🎉")
	require.NoError(t, err)
	assert.Len(t, got.Reactions, 1)
	assert.Equal(t, "🎉", got.Reactions[b.ID])

	got, err = db.RemoveReaction(ctx, m.ID, b.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Reactions)

	got, err = db.SoftDeleteForUser(ctx, m.ID, b.ID)
	require.NoError(t, err)
	got, err = db.SoftDeleteForUser(ctx, m.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b.ID}, got.DeletedFor)
	assert.Nil(t, got.ViewFor(b.ID))
	assert.NotNil(t, got.ViewFor(a.ID))

	got, err = db.SoftDeleteForEveryone(ctx, m.ID, start.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, got.IsDeletedForEveryone)
	require.NotNil(t, got.DeletedAt)
	assert.Equal(t, models.DeletedPlaceholder, got.ViewFor(a.ID).Content)

	_, err = db.AddReaction(ctx, uuid.New(), a.ID, "👍")
	assert.True(t, utils.IsErrorCode(err, utils.ErrNotFound))
}

func testRecentConversations(t *testing.T, db DBAdapter) {
	ctx := context.Background()
	me := newTestUser(t, db, "me")
	x := newTestUser(t, db, "px")
	y := newTestUser(t, db, "py")
	start := baseTime()

	newTestMessage(t, db, me.ID, x.ID, "x1", start)
	newTestMessage(t, db, me.ID, y.ID, "y1", start.Add(time.Second))
	latestX := newTestMessage(t, db, x.ID, me.ID, "x2", start.Add(2*time.Second))

	recent, err := db.FindRecentConversationsByUser(ctx, me.ID)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, latestX.ID, recent[0].ID)
	assert.Equal(t, "y1", recent[1].Content)
}

func testFriendships(t *testing.T, db DBAdapter) {
	ctx := context.Background()
	a := newTestUser(t, db, "fa")
	b := newTestUser(t, db, "fb")
	now := baseTime()

	f, err := db.CreateFriendship(ctx, a.ID, b.ID, now)
	require.NoError(t, err)
	assert.Equal(t, models.FriendshipPending, f.Status)

	_, err = db.CreateFriendship(ctx, b.ID, a.ID, now)
	assert.True(t, utils.IsErrorCode(err, utils.ErrConflict), "reverse pair must collide")

	byPair, err := db.FindByPair(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, f.ID, byPair.ID)

	pending, err := db.FindPending(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, a.ID, pending[0].UserID)

	pending, err = db.FindPending(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	accepted, err := db.UpdateFriendshipStatus(ctx, f.ID, models.FriendshipAccepted, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, models.FriendshipAccepted, accepted.Status)

	for _, id := range []uuid.UUID{a.ID, b.ID} {
		friends, err := db.FindAccepted(ctx, id)
		require.NoError(t, err)
		require.Len(t, friends, 1)
		assert.Equal(t, f.ID, friends[0].ID)
	}

	require.NoError(t, db.DeleteFriendship(ctx, f.ID))
	err = db.DeleteFriendship(ctx, f.ID)
	assert.True(t, utils.IsErrorCode(err, utils.ErrNotFound))

	_, err = db.FindByPair(ctx, a.ID, b.ID)
	assert.True(t, utils.IsErrorCode(err, utils.ErrNotFound))
}
