package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageType is the kind of payload a message carries.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile:
		return true
	}
	return false
}

// MessageStatus is the server-authoritative lifecycle state of a message.
// Sending only ever exists on the client.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// Rank orders the forward-only states. Failed has no rank.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return -1
}

// CanAdvanceTo reports whether the transition s -> next moves strictly forward.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	if s == StatusFailed || next == StatusFailed {
		return s == StatusSending && next == StatusFailed
	}
	return next.Rank() > s.Rank()
}

// Predecessors lists the states from which next may be entered on the server.
func (next MessageStatus) Predecessors() []MessageStatus {
	switch next {
	case StatusDelivered:
		return []MessageStatus{StatusSent}
	case StatusRead:
		return []MessageStatus{StatusSent, StatusDelivered}
	}
	return nil
}

// DeletedPlaceholder replaces content deleted for everyone when rendered.
const DeletedPlaceholder = "This message was deleted"

type Message struct {
	ID                   uuid.UUID            `json:"id"`
	SenderID             uuid.UUID            `json:"senderId"`
	ReceiverID           uuid.UUID            `json:"receiverId"`
	Content              string               `json:"content"`
	Type                 MessageType          `json:"messageType"`
	CreatedAt            time.Time            `json:"timestamp"`
	Status               MessageStatus        `json:"status"`
	DeliveredAt          *time.Time           `json:"deliveredAt"`
	ReadAt               *time.Time           `json:"readAt"`
	Reactions            map[uuid.UUID]string `json:"reactions"`
	DeletedFor           []uuid.UUID          `json:"deletedFor"`
	IsDeletedForEveryone bool                 `json:"isDeletedForEveryone"`
	DeletedAt            *time.Time           `json:"deletedAt,omitempty"`
}

// ConversationID derives the order-independent conversation key of two users.
func ConversationID(a, b uuid.UUID) string {
	x, y := a.String(), b.String()
	if y < x {
		x, y = y, x
	}
	return x + "_" + y
}

// ParticipantsOf splits a conversation id back into its two user ids.
func ParticipantsOf(conversationID string) (uuid.UUID, uuid.UUID, bool) {
	left, right, ok := strings.Cut(conversationID, "_")
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	a, errA := uuid.Parse(left)
	b, errB := uuid.Parse(right)
	if errA != nil || errB != nil {
		return uuid.Nil, uuid.Nil, false
	}
	return a, b, true
}

func (m *Message) ConversationID() string {
	return ConversationID(m.SenderID, m.ReceiverID)
}

func (m *Message) Involves(userID uuid.UUID) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// Peer returns the other participant from userID's point of view.
func (m *Message) Peer(userID uuid.UUID) uuid.UUID {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

func (m *Message) IsDeletedFor(userID uuid.UUID) bool {
	for _, id := range m.DeletedFor {
		if id == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers never alias store-owned state.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.DeliveredAt = cloneTime(m.DeliveredAt)
	c.ReadAt = cloneTime(m.ReadAt)
	c.DeletedAt = cloneTime(m.DeletedAt)
	c.Reactions = make(map[uuid.UUID]string, len(m.Reactions))
	for k, v := range m.Reactions {
		c.Reactions[k] = v
	}
	c.DeletedFor = append([]uuid.UUID(nil), m.DeletedFor...)
	return &c
}

// ViewFor renders the message as viewer sees it: nil when viewer deleted it
// for themselves, placeholder content when deleted for everyone.
func (m *Message) ViewFor(viewer uuid.UUID) *Message {
	if m.IsDeletedFor(viewer) {
		return nil
	}
	v := m.Clone()
	if v.IsDeletedForEveryone {
		v.Content = DeletedPlaceholder
		v.Reactions = map[uuid.UUID]string{}
	}
	return v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
