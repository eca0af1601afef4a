package websocket

import (
	"context"
	"sync"
	"time"

	"gator-chat/internal/models"
	"gator-chat/internal/privacy"
	"gator-chat/internal/utils"

	"github.com/google/uuid"
	jww "github.com/spf13/jwalterweatherman"
)

// Directory is what the hub needs from the rest of the system: who a user's
// friends are, and a place to persist presence.
type Directory interface {
	FriendIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	SetPresence(ctx context.Context, userID uuid.UUID, isOnline bool, connectionRef string, at time.Time) (*models.User, error)
}

// Hub is the presence table: one authoritative live connection per user.
// It is built once at startup and shared by the protocol and the REST
// handlers.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*Client

	directory Directory
	metrics   *utils.MetricsCollector
	now       func() time.Time
}

func NewHub(directory Directory, metrics *utils.MetricsCollector) *Hub {
	return &Hub{
		clients:   make(map[uuid.UUID]*Client),
		directory: directory,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Register makes c the user's authoritative connection, persists the user
// as online and tells live friends. An older connection of the same user
// stays open but no longer receives pushes.
func (h *Hub) Register(ctx context.Context, c *Client) {
	h.mu.Lock()
	previous := h.clients[c.UserID]
	h.clients[c.UserID] = c
	online := len(h.clients)
	h.mu.Unlock()

	if previous != nil {
		jww.INFO.Printf("User %s reconnected; connection %s replaces %s", c.UserID, c.ID, previous.ID)
	} else {
		jww.INFO.Printf("WebSocket client registered for User %s (%s)", c.UserID, c.ID)
	}
	h.setOnlineGauge(online)
	h.transition(ctx, c, true)
}

// Unregister removes c if it is still the user's authoritative connection.
// A stale handle is ignored and leaves the user online.
func (h *Hub) Unregister(ctx context.Context, c *Client) bool {
	h.mu.Lock()
	current, ok := h.clients[c.UserID]
	if !ok || current != c {
		h.mu.Unlock()
		jww.DEBUG.Printf("Ignoring unregister of stale connection %s for User %s", c.ID, c.UserID)
		return false
	}
	delete(h.clients, c.UserID)
	online := len(h.clients)
	h.mu.Unlock()

	jww.INFO.Printf("WebSocket client unregistered for User %s (%s)", c.UserID, c.ID)
	h.setOnlineGauge(online)
	h.transition(ctx, c, false)
	return true
}

// Lookup returns the user's authoritative connection.
func (h *Hub) Lookup(userID uuid.UUID) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[userID]
	return c, ok
}

func (h *Hub) IsOnline(userID uuid.UUID) bool {
	_, ok := h.Lookup(userID)
	return ok
}

func (h *Hub) OnlineCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Push queues an event for userID's live connection. It reports false when
// the user is offline or the connection's buffer is full; the event is then
// lost.
func (h *Hub) Push(userID uuid.UUID, event string, data interface{}) bool {
	c, ok := h.Lookup(userID)
	if !ok {
		return false
	}
	return h.pushTo(c, event, data)
}

func (h *Hub) pushTo(c *Client, event string, data interface{}) bool {
	payload, err := Encode(event, data)
	if err != nil {
		jww.ERROR.Printf("Encoding %s for User %s: %v", event, c.UserID, err)
		return false
	}
	if !c.Enqueue(payload) {
		jww.WARN.Printf("Dropped %s for User %s: connection %s not accepting", event, c.UserID, c.ID)
		return false
	}
	if h.metrics != nil {
		h.metrics.RecordEvent(event)
	}
	return true
}

// transition persists the presence change of c's user and broadcasts it.
// Store failures are logged and swallowed.
//
// Writes for one user may land in any order relative to the table, so after
// its own write a transition reconciles the store with the table and only
// broadcasts when c still decides the user's presence.
func (h *Hub) transition(ctx context.Context, c *Client, isOnline bool) {
	user, err := h.directory.SetPresence(ctx, c.UserID, isOnline, c.ID.String(), h.now().UTC())
	if err != nil {
		jww.ERROR.Printf("Persisting presence of User %s: %v", c.UserID, err)
		return
	}
	user, err = h.reconcile(ctx, user)
	if err != nil {
		jww.ERROR.Printf("Reconciling presence of User %s: %v", c.UserID, err)
		return
	}

	current, live := h.Lookup(c.UserID)
	if (isOnline && current != c) || (!isOnline && live) {
		return
	}
	h.broadcastPresence(ctx, user)
}

// maxReconcileWrites bounds corrective writes when transitions keep racing.
const maxReconcileWrites = 3

// reconcile rewrites the stored presence of user until it agrees with the
// table: online under the current connection, or offline when there is none.
func (h *Hub) reconcile(ctx context.Context, user *models.User) (*models.User, error) {
	for i := 0; i < maxReconcileWrites; i++ {
		current, live := h.Lookup(user.ID)
		switch {
		case live && (!user.IsOnline || user.ConnectionRef != current.ID.String()):
			jww.DEBUG.Printf("Presence of User %s behind connection %s; rewriting", user.ID, current.ID)
			next, err := h.directory.SetPresence(ctx, user.ID, true, current.ID.String(), h.now().UTC())
			if err != nil {
				return nil, err
			}
			user = next
		case !live && user.IsOnline:
			jww.DEBUG.Printf("User %s stored online without a connection; clearing", user.ID)
			next, err := h.directory.SetPresence(ctx, user.ID, false, user.ConnectionRef, h.now().UTC())
			if err != nil {
				return nil, err
			}
			user = next
		default:
			return user, nil
		}
	}
	return user, nil
}

func (h *Hub) broadcastPresence(ctx context.Context, user *models.User) {
	friends, err := h.directory.FriendIDs(ctx, user.ID)
	if err != nil {
		jww.ERROR.Printf("Loading friends of User %s for presence broadcast: %v", user.ID, err)
		return
	}

	presence := privacy.PresenceOf(user.Settings.Privacy, user.IsOnline, user.LastSeen)
	payload := FriendStatusPayload{
		UserID:   user.ID,
		Username: user.Username,
		IsOnline: presence.IsOnline,
		LastSeen: presence.LastSeen,
	}
	for _, friendID := range friends {
		h.Push(friendID, EventFriendStatusChanged, payload)
	}
}

func (h *Hub) setOnlineGauge(n int) {
	if h.metrics != nil {
		h.metrics.SetOnlineUsers(n)
	}
}
