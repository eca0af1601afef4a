package websocket

import (
	"context"
	"encoding/json"
	"time"

	"gator-chat/internal/friendship"
	"gator-chat/internal/messaging"
	"gator-chat/internal/middleware"
	"gator-chat/internal/models"
	"gator-chat/internal/privacy"
	"gator-chat/internal/utils"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// Backend is the part of the engine the realtime protocol drives.
type Backend interface {
	SendMessage(ctx context.Context, req messaging.SendRequest) (*messaging.SendResult, error)
	MarkDelivered(ctx context.Context, messageID uuid.UUID) (*models.Message, bool, error)
	MarkRead(ctx context.Context, readerID, senderID uuid.UUID, messageIDs []uuid.UUID) (*messaging.ReadResult, error)
	GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
}

const defaultEventTimeout = 10 * time.Second

// Protocol couples the message lifecycle to live connections. Every push is
// at most once: a push to an offline or saturated connection is dropped.
type Protocol struct {
	hub     *Hub
	backend Backend
	limiter *middleware.MapLimiter
	metrics *utils.MetricsCollector
	timeout time.Duration
}

func NewProtocol(hub *Hub, backend Backend, limiter *middleware.MapLimiter, metrics *utils.MetricsCollector) *Protocol {
	return &Protocol{
		hub:     hub,
		backend: backend,
		limiter: limiter,
		metrics: metrics,
		timeout: defaultEventTimeout,
	}
}

func (p *Protocol) Hub() *Hub {
	return p.hub
}

// Handle processes one inbound frame from c.
func (p *Protocol) Handle(c *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		p.reject(c, utils.NewValidationError("malformed event"), "")
		return
	}
	if p.metrics != nil {
		p.metrics.IncrementRequests()
		p.metrics.RecordEvent(env.Event)
	}
	if !p.limiter.Allow(c.UserID.String(), time.Now()) {
		p.reject(c, utils.NewAppError(utils.ErrTooManyRequests, "slow down", nil), tempIDOf(env))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	switch env.Event {
	case EventSendMessage:
		p.handleSendMessage(ctx, c, env.Data)
	case EventMarkAsRead:
		p.handleMarkAsRead(ctx, c, env.Data)
	case EventTypingStart:
		p.handleTyping(ctx, c, env.Data, true)
	case EventTypingStop:
		p.handleTyping(ctx, c, env.Data, false)
	default:
		p.reject(c, utils.NewValidationError("unknown event %q", env.Event), "")
	}
}

// tempIDOf digs the correlation id out of a send so even a throttled send
// can be failed on the client.
func tempIDOf(env Envelope) string {
	if env.Event != EventSendMessage {
		return ""
	}
	var payload struct {
		TempID string `json:"tempId"`
	}
	json.Unmarshal(env.Data, &payload)
	return payload.TempID
}

// reject answers the originating connection with an error event.
func (p *Protocol) reject(c *Client, err error, tempID string) {
	appErr := utils.AsAppError(err)
	if p.metrics != nil {
		p.metrics.IncrementErrors()
	}
	p.hub.pushTo(c, EventError, ErrorPayload{Code: appErr.Code, Message: appErr.Message, TempID: tempID})
}

func (p *Protocol) handleSendMessage(ctx context.Context, c *Client, data json.RawMessage) {
	var req SendMessagePayload
	if err := json.Unmarshal(data, &req); err != nil {
		p.reject(c, utils.NewValidationError("malformed send-message payload"), "")
		return
	}

	result, err := p.backend.SendMessage(ctx, messaging.SendRequest{
		SenderID:   c.UserID,
		ReceiverID: req.ReceiverID,
		Content:    req.Content,
		Type:       req.Type,
	})
	if err != nil {
		jww.DEBUG.Printf("send-message from %s rejected: %v", c.UserID, err)
		p.reject(c, err, req.TempID)
		return
	}

	msg := result.Message
	p.hub.pushTo(c, EventMessageSent, MessageSentPayload{
		TempID:   req.TempID,
		ServerID: msg.ID,
		Status:   msg.Status,
		Message:  msg,
	})

	receiver := result.Receiver
	if !p.hub.IsOnline(receiver.ID) {
		return
	}
	if !models.Enabled(receiver.Settings.Notifications.MessageNotifications) {
		jww.DEBUG.Printf("User %s has message notifications off; %s stays sent", receiver.ID, msg.ID)
		return
	}

	delivered, changed, err := p.backend.MarkDelivered(ctx, msg.ID)
	if err != nil {
		jww.ERROR.Printf("Marking %s delivered: %v", msg.ID, err)
		return
	}
	p.hub.Push(receiver.ID, EventNewMessage, NewMessagePayload{
		Message:       delivered.ViewFor(receiver.ID),
		SenderSummary: privacy.Summary(result.Sender),
	})
	if changed && delivered.DeliveredAt != nil {
		p.hub.pushTo(c, EventMessageDelivered, MessageDeliveredPayload{
			TempID:      req.TempID,
			ServerID:    delivered.ID,
			DeliveredAt: *delivered.DeliveredAt,
		})
	}
}

func (p *Protocol) handleMarkAsRead(ctx context.Context, c *Client, data json.RawMessage) {
	var req MarkAsReadPayload
	if err := json.Unmarshal(data, &req); err != nil {
		p.reject(c, utils.NewValidationError("malformed mark-as-read payload"), "")
		return
	}

	result, err := p.backend.MarkRead(ctx, c.UserID, req.SenderID, req.MessageIDs)
	if err != nil {
		p.reject(c, err, "")
		return
	}
	if len(result.Failed) > 0 {
		p.reject(c, utils.NewTransientError("mark as read",
			errors.Errorf("%d of %d messages not marked", len(result.Failed), len(req.MessageIDs))), "")
	}
	if len(result.Changed) == 0 {
		return
	}
	// The reader's own flag decides whether the sender learns about it.
	if !privacy.Allows(result.Reader.Settings.Privacy, privacy.ReadReceipts) {
		jww.DEBUG.Printf("User %s has read receipts off; not notifying senders", c.UserID)
		return
	}

	bySender := make(map[uuid.UUID]*MessagesReadPayload)
	for _, m := range result.Changed {
		receipt, ok := bySender[m.SenderID]
		if !ok {
			receipt = &MessagesReadPayload{ReadBy: c.UserID}
			if m.ReadAt != nil {
				receipt.ReadAt = *m.ReadAt
			}
			bySender[m.SenderID] = receipt
		}
		receipt.MessageIDs = append(receipt.MessageIDs, m.ID)
	}
	for senderID, receipt := range bySender {
		p.hub.Push(senderID, EventMessagesRead, receipt)
	}
}

func (p *Protocol) handleTyping(ctx context.Context, c *Client, data json.RawMessage, isTyping bool) {
	var req TypingPayload
	if err := json.Unmarshal(data, &req); err != nil || req.ReceiverID == uuid.Nil {
		p.reject(c, utils.NewValidationError("receiverId is required"), "")
		return
	}
	if req.ReceiverID == c.UserID {
		return
	}

	sender, err := p.backend.GetUser(ctx, c.UserID)
	if err != nil {
		jww.WARN.Printf("Typing indicator for %s dropped: %v", c.UserID, err)
		return
	}
	if !privacy.Allows(sender.Settings.Privacy, privacy.TypingIndicator) {
		return
	}
	p.hub.Push(req.ReceiverID, EventUserTyping, UserTypingPayload{
		UserID:   c.UserID,
		Username: sender.Username,
		IsTyping: isTyping,
	})
}

// NotifyDelivered tells senders that a history fetch delivered their
// messages. There is no tempId to echo; clients match on serverId.
func (p *Protocol) NotifyDelivered(messages []*models.Message) {
	for _, m := range messages {
		if m.DeliveredAt == nil {
			continue
		}
		p.hub.Push(m.SenderID, EventMessageDelivered, MessageDeliveredPayload{
			ServerID:    m.ID,
			DeliveredAt: *m.DeliveredAt,
		})
	}
}

// NotifyFriendRequest pushes a new request to its target unless they turned
// friend request notifications off.
func (p *Protocol) NotifyFriendRequest(t *friendship.Transition) {
	if !models.Enabled(t.Target.Settings.Notifications.FriendRequests) {
		return
	}
	p.hub.Push(t.Target.ID, EventFriendRequest, FriendRequestPayload{
		RequestID: t.Friendship.ID,
		From:      privacy.Summary(t.Requester),
	})
}

// NotifyFriendAccepted tells the requester their request was accepted.
func (p *Protocol) NotifyFriendAccepted(t *friendship.Transition) {
	p.hub.Push(t.Requester.ID, EventFriendRequestAccepted, FriendAcceptedPayload{
		RequestID: t.Friendship.ID,
		Friend:    privacy.Summary(t.Target),
	})
}

// NotifyPrivacyChanged re-projects user's presence for every live friend.
func (p *Protocol) NotifyPrivacyChanged(ctx context.Context, user *models.User) {
	friends, err := p.hub.directory.FriendIDs(ctx, user.ID)
	if err != nil {
		jww.ERROR.Printf("Loading friends of User %s for privacy broadcast: %v", user.ID, err)
		return
	}
	presence := privacy.PresenceOf(user.Settings.Privacy, p.hub.IsOnline(user.ID), user.LastSeen)
	payload := FriendPrivacyPayload{
		UserID:   user.ID,
		Privacy:  user.Settings.Privacy.Resolved(),
		IsOnline: presence.IsOnline,
		LastSeen: presence.LastSeen,
	}
	for _, friendID := range friends {
		p.hub.Push(friendID, EventFriendPrivacyChanged, payload)
	}
}

// NotifyReaction pushes a reaction change to both participants.
func (p *Protocol) NotifyReaction(m *models.Message, userID uuid.UUID, emoji string) {
	event := EventMessageReaction
	if emoji == "" {
		event = EventMessageReactionRemoved
	}
	payload := ReactionPayload{MessageID: m.ID, UserID: userID, Emoji: emoji, Reactions: m.Reactions}
	p.hub.Push(m.SenderID, event, payload)
	p.hub.Push(m.ReceiverID, event, payload)
}

// NotifyDeletedForEveryone pushes a tombstone to both participants.
func (p *Protocol) NotifyDeletedForEveryone(m *models.Message) {
	payload := MessageDeletedPayload{MessageID: m.ID, DeletedAt: m.DeletedAt}
	p.hub.Push(m.SenderID, EventMessageDeletedEveryone, payload)
	p.hub.Push(m.ReceiverID, EventMessageDeletedEveryone, payload)
}
