// Package messaging owns the message state machine: validation, friendship
// and block preconditions, forward-only status changes, reactions and soft
// deletion.
package messaging

import (
	"context"
	"sort"
	"strings"
	"time"

	"gator-chat/internal/database"
	"gator-chat/internal/models"
	"gator-chat/internal/utils"

	"github.com/google/uuid"
	jww "github.com/spf13/jwalterweatherman"
)

const (
	DefaultMaxContentLength = 5000
	DefaultDeleteWindow     = 2 * time.Minute
)

type Options struct {
	MaxContentLength int
	// DeleteWindow bounds how long after sending a message may be deleted
	// for everyone.
	DeleteWindow time.Duration
	Now          func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxContentLength <= 0 {
		o.MaxContentLength = DefaultMaxContentLength
	}
	if o.DeleteWindow <= 0 {
		o.DeleteWindow = DefaultDeleteWindow
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Lifecycle validates and persists messages and advances their status. It
// re-reads state from the stores on every call.
type Lifecycle struct {
	users    database.IdentityStore
	messages database.ConversationStore
	friends  database.FriendshipStore
	opts     Options
}

func NewLifecycle(users database.IdentityStore, messages database.ConversationStore, friends database.FriendshipStore, opts Options) *Lifecycle {
	return &Lifecycle{
		users:    users,
		messages: messages,
		friends:  friends,
		opts:     opts.withDefaults(),
	}
}

type SendRequest struct {
	SenderID   uuid.UUID
	ReceiverID uuid.UUID
	Content    string
	Type       models.MessageType
}

// SendResult carries both parties so callers can apply their settings
// without another lookup.
type SendResult struct {
	Message  *models.Message
	Sender   *models.User
	Receiver *models.User
}

func (l *Lifecycle) validateSend(req *SendRequest) error {
	if req.ReceiverID == uuid.Nil {
		return utils.NewValidationError("receiverId is required")
	}
	if req.ReceiverID == req.SenderID {
		return utils.NewValidationError("cannot send a message to yourself")
	}
	if strings.TrimSpace(req.Content) == "" {
		return utils.NewValidationError("message content cannot be empty")
	}
	if len(req.Content) > l.opts.MaxContentLength {
		return utils.NewValidationError("message content exceeds %d bytes", l.opts.MaxContentLength)
	}
	if req.Type == "" {
		req.Type = models.MessageText
	}
	if !req.Type.Valid() {
		return utils.NewValidationError("unsupported message type %q", req.Type)
	}
	return nil
}

// Send persists a new message with status sent. Both users must be accepted
// friends and neither may have blocked the other.
func (l *Lifecycle) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if err := l.validateSend(&req); err != nil {
		return nil, err
	}

	sender, err := l.users.FindUserByID(ctx, req.SenderID)
	if err != nil {
		return nil, err
	}
	receiver, err := l.users.FindUserByID(ctx, req.ReceiverID)
	if err != nil {
		if utils.IsErrorCode(err, utils.ErrNotFound) {
			return nil, utils.NewNotFoundError("receiver")
		}
		return nil, err
	}

	if err := checkNotBlocked(sender, receiver); err != nil {
		return nil, err
	}
	if err := l.requireFriends(ctx, sender.ID, receiver.ID, "you can only message friends"); err != nil {
		return nil, err
	}

	msg := &models.Message{
		ID:         uuid.New(),
		SenderID:   sender.ID,
		ReceiverID: receiver.ID,
		Content:    req.Content,
		Type:       req.Type,
		CreatedAt:  l.opts.Now().UTC(),
		Status:     models.StatusSent,
		Reactions:  map[uuid.UUID]string{},
	}
	if err := l.messages.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	jww.DEBUG.Printf("Message %s persisted for conversation %s", msg.ID, msg.ConversationID())
	return &SendResult{Message: msg, Sender: sender, Receiver: receiver}, nil
}

func checkNotBlocked(a, b *models.User) error {
	if a.HasBlocked(b.ID) {
		return utils.NewAppError(utils.ErrBlocked, "you have blocked this user", nil)
	}
	if b.HasBlocked(a.ID) {
		return utils.NewAppError(utils.ErrBlocked, "you cannot message this user", nil)
	}
	return nil
}

// requireFriends fails with FORBIDDEN unless a and b share an accepted friendship.
func (l *Lifecycle) requireFriends(ctx context.Context, a, b uuid.UUID, reason string) error {
	f, err := l.friends.FindByPair(ctx, a, b)
	if err != nil {
		if utils.IsErrorCode(err, utils.ErrNotFound) {
			return utils.NewForbiddenError(reason)
		}
		return err
	}
	if f.Status != models.FriendshipAccepted {
		return utils.NewForbiddenError(reason)
	}
	return nil
}

// MarkDelivered moves a sent message to delivered. The returned flag is false
// when the message had already moved on; timestamps are never overwritten.
func (l *Lifecycle) MarkDelivered(ctx context.Context, messageID uuid.UUID) (*models.Message, bool, error) {
	changed, err := l.messages.UpdateStatus(ctx, messageID, models.StatusDelivered, l.opts.Now().UTC())
	if err != nil {
		return nil, false, err
	}
	msg, err := l.messages.FindMessage(ctx, messageID)
	if err != nil {
		return nil, false, err
	}
	return msg, changed, nil
}

// MarkRead moves a message addressed to readerID to read.
func (l *Lifecycle) MarkRead(ctx context.Context, messageID, readerID uuid.UUID) (*models.Message, bool, error) {
	msg, err := l.messages.FindMessage(ctx, messageID)
	if err != nil {
		return nil, false, err
	}
	if msg.ReceiverID != readerID {
		return nil, false, utils.NewForbiddenError("only the receiver can mark a message as read")
	}
	changed, err := l.messages.UpdateStatus(ctx, messageID, models.StatusRead, l.opts.Now().UTC())
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return msg, false, nil
	}
	msg, err = l.messages.FindMessage(ctx, messageID)
	if err != nil {
		return nil, false, err
	}
	return msg, true, nil
}

// ReadResult lists the messages whose status actually changed and the ids
// the store failed on.
type ReadResult struct {
	Reader  *models.User
	Changed []*models.Message
	Failed  []uuid.UUID
}

// MarkReadBatch marks every listed message sent by senderID to readerID as
// read. Ids that belong to another pair or are already read are skipped. A
// store failure on one id does not stop the batch; it lands in Failed so the
// changes made so far are still reported.
func (l *Lifecycle) MarkReadBatch(ctx context.Context, readerID, senderID uuid.UUID, messageIDs []uuid.UUID) (*ReadResult, error) {
	if len(messageIDs) == 0 {
		return nil, utils.NewValidationError("messageIds cannot be empty")
	}
	reader, err := l.users.FindUserByID(ctx, readerID)
	if err != nil {
		return nil, err
	}

	result := &ReadResult{Reader: reader}
	seen := make(map[uuid.UUID]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		current, err := l.messages.FindMessage(ctx, id)
		if err != nil {
			if !utils.IsErrorCode(err, utils.ErrNotFound) {
				jww.WARN.Printf("Read mark of %s by %s failed: %v", id, readerID, err)
				result.Failed = append(result.Failed, id)
			}
			continue
		}
		if current.ReceiverID != readerID || (senderID != uuid.Nil && current.SenderID != senderID) {
			jww.DEBUG.Printf("Skipping read mark of %s by %s: not addressed to reader", id, readerID)
			continue
		}

		msg, changed, err := l.MarkRead(ctx, id, readerID)
		if err != nil {
			jww.WARN.Printf("Read mark of %s by %s failed: %v", id, readerID, err)
			result.Failed = append(result.Failed, id)
			continue
		}
		if changed {
			result.Changed = append(result.Changed, msg)
		}
	}
	return result, nil
}

// React sets userID's reaction, replacing any earlier one.
func (l *Lifecycle) React(ctx context.Context, messageID, userID uuid.UUID, emoji string) (*models.Message, error) {
	if err := ValidateReaction(emoji); err != nil {
		return nil, err
	}
	if err := l.requireParticipant(ctx, messageID, userID); err != nil {
		return nil, err
	}
	return l.messages.AddReaction(ctx, messageID, userID, emoji)
}

func (l *Lifecycle) Unreact(ctx context.Context, messageID, userID uuid.UUID) (*models.Message, error) {
	if err := l.requireParticipant(ctx, messageID, userID); err != nil {
		return nil, err
	}
	return l.messages.RemoveReaction(ctx, messageID, userID)
}

// DeleteForUser hides the message from userID only.
func (l *Lifecycle) DeleteForUser(ctx context.Context, messageID, userID uuid.UUID) (*models.Message, error) {
	if err := l.requireParticipant(ctx, messageID, userID); err != nil {
		return nil, err
	}
	return l.messages.SoftDeleteForUser(ctx, messageID, userID)
}

func (l *Lifecycle) requireParticipant(ctx context.Context, messageID, userID uuid.UUID) error {
	msg, err := l.messages.FindMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != userID && msg.ReceiverID != userID {
		return utils.NewForbiddenError("not a participant of this message")
	}
	return nil
}

// DeleteForEveryone tombstones the message for both parties. Only the sender
// may do so, and only inside the delete window.
func (l *Lifecycle) DeleteForEveryone(ctx context.Context, messageID, requesterID uuid.UUID) (*models.Message, error) {
	msg, err := l.messages.FindMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != requesterID {
		return nil, utils.NewForbiddenError("you can only delete your own messages")
	}
	now := l.opts.Now().UTC()
	if now.Sub(msg.CreatedAt) >= l.opts.DeleteWindow {
		return nil, utils.NewAppError(utils.ErrExpired,
			"messages can only be deleted for everyone within "+l.opts.DeleteWindow.String()+" of sending", nil)
	}
	return l.messages.SoftDeleteForEveryone(ctx, messageID, now)
}

// History is a conversation as one participant sees it.
type History struct {
	Peer     *models.User
	Messages []*models.Message
	// Delivered lists messages this fetch advanced from sent to delivered.
	Delivered []*models.Message
}

// Conversation returns the log between viewerID and peerID. Messages the
// viewer had not yet received are marked delivered as a side effect.
func (l *Lifecycle) Conversation(ctx context.Context, viewerID, peerID uuid.UUID, since *time.Time) (*History, error) {
	peer, err := l.users.FindUserByID(ctx, peerID)
	if err != nil {
		return nil, err
	}
	if err := l.requireFriends(ctx, viewerID, peerID, "you can only view conversations with friends"); err != nil {
		return nil, err
	}

	msgs, err := l.messages.FindByConversationID(ctx, models.ConversationID(viewerID, peerID), since)
	if err != nil {
		return nil, err
	}

	history := &History{Peer: peer, Messages: make([]*models.Message, 0, len(msgs))}
	for _, m := range msgs {
		if m.ReceiverID == viewerID && m.Status == models.StatusSent {
			updated, changed, err := l.MarkDelivered(ctx, m.ID)
			if err != nil {
				return nil, err
			}
			if changed {
				history.Delivered = append(history.Delivered, updated)
			}
			m = updated
		}
		if view := m.ViewFor(viewerID); view != nil {
			history.Messages = append(history.Messages, view)
		}
	}
	return history, nil
}

// ConversationSummary is one row of the recent conversations list.
type ConversationSummary struct {
	Friend       *models.User
	LastMessage  *models.Message
	LastActivity time.Time
}

// RecentConversations lists every accepted friend with the latest message
// exchanged, most recently active first.
func (l *Lifecycle) RecentConversations(ctx context.Context, userID uuid.UUID) ([]ConversationSummary, error) {
	friendships, err := l.friends.FindAccepted(ctx, userID)
	if err != nil {
		return nil, err
	}
	latest, err := l.messages.FindRecentConversationsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	byConversation := make(map[string]*models.Message, len(latest))
	for _, m := range latest {
		byConversation[m.ConversationID()] = m
	}

	out := make([]ConversationSummary, 0, len(friendships))
	for _, f := range friendships {
		friendID := f.Other(userID)
		friend, err := l.users.FindUserByID(ctx, friendID)
		if err != nil {
			if utils.IsErrorCode(err, utils.ErrNotFound) {
				continue
			}
			return nil, err
		}
		summary := ConversationSummary{Friend: friend, LastActivity: f.CreatedAt}
		if m, ok := byConversation[models.ConversationID(userID, friendID)]; ok {
			summary.LastMessage = m.ViewFor(userID)
			summary.LastActivity = m.CreatedAt
		}
		out = append(out, summary)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, nil
}
