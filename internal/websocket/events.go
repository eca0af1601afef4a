package websocket

import (
	"encoding/json"
	"time"

	"gator-chat/internal/models"

	"github.com/google/uuid"
)

// Inbound events
const (
	EventSendMessage = "send-message"
	EventMarkAsRead  = "mark-as-read"
	EventTypingStart = "typing-start"
	EventTypingStop  = "typing-stop"
)

// Outbound events
const (
	EventMessageSent            = "message-sent"
	EventNewMessage             = "new-message"
	EventMessageDelivered       = "message-delivered"
	EventMessagesRead           = "messages-read"
	EventUserTyping             = "user-typing"
	EventFriendStatusChanged    = "friend-status-changed"
	EventFriendPrivacyChanged   = "friend-privacy-changed"
	EventFriendRequest          = "friend-request"
	EventFriendRequestAccepted  = "friend-request-accepted"
	EventMessageReaction        = "message-reaction"
	EventMessageReactionRemoved = "message-reaction-removed"
	EventMessageDeletedEveryone = "message-deleted-everyone"
	EventError                  = "error"
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Encode wraps data in an envelope.
func Encode(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

type SendMessagePayload struct {
	ReceiverID uuid.UUID          `json:"receiverId"`
	Content    string             `json:"content"`
	Type       models.MessageType `json:"type"`
	TempID     string             `json:"tempId"`
}

type MessageSentPayload struct {
	TempID   string               `json:"tempId"`
	ServerID uuid.UUID            `json:"serverId"`
	Status   models.MessageStatus `json:"status"`
	Message  *models.Message      `json:"message"`
}

type NewMessagePayload struct {
	Message       *models.Message    `json:"message"`
	SenderSummary models.UserSummary `json:"senderSummary"`
}

// MessageDeliveredPayload carries no tempId when the delivery was caused by
// a history fetch rather than the original send.
type MessageDeliveredPayload struct {
	TempID      string    `json:"tempId,omitempty"`
	ServerID    uuid.UUID `json:"serverId"`
	DeliveredAt time.Time `json:"deliveredAt"`
}

type MarkAsReadPayload struct {
	MessageIDs []uuid.UUID `json:"messageIds"`
	SenderID   uuid.UUID   `json:"senderId"`
}

type MessagesReadPayload struct {
	MessageIDs []uuid.UUID `json:"messageIds"`
	ReadBy     uuid.UUID   `json:"readBy"`
	ReadAt     time.Time   `json:"readAt"`
}

type TypingPayload struct {
	ReceiverID uuid.UUID `json:"receiverId"`
}

type UserTypingPayload struct {
	UserID   uuid.UUID `json:"userId"`
	Username string    `json:"username,omitempty"`
	IsTyping bool      `json:"isTyping"`
}

type FriendStatusPayload struct {
	UserID   uuid.UUID  `json:"userId"`
	Username string     `json:"username"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen"`
}

type FriendPrivacyPayload struct {
	UserID   uuid.UUID              `json:"userId"`
	Privacy  models.PrivacySettings `json:"privacy"`
	IsOnline bool                   `json:"isOnline"`
	LastSeen *time.Time             `json:"lastSeen"`
}

type FriendRequestPayload struct {
	RequestID uuid.UUID          `json:"requestId"`
	From      models.UserSummary `json:"from"`
}

type FriendAcceptedPayload struct {
	RequestID uuid.UUID          `json:"requestId"`
	Friend    models.UserSummary `json:"friend"`
}

type ReactionPayload struct {
	MessageID uuid.UUID            `json:"messageId"`
	UserID    uuid.UUID            `json:"userId"`
	Emoji     string               `json:"emoji,omitempty"`
	Reactions map[uuid.UUID]string `json:"reactions"`
}

type MessageDeletedPayload struct {
	MessageID uuid.UUID  `json:"messageId"`
	DeletedAt *time.Time `json:"deletedAt"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TempID  string `json:"tempId,omitempty"`
}
