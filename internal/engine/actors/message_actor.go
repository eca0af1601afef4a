package actors

import (
	"time"

	"gator-chat/internal/messaging"
	"gator-chat/internal/models"
	"gator-chat/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
)

// Message types handled by the MessageActor
type (
	SendMessageMsg struct {
		Request messaging.SendRequest
	}

	MarkDeliveredMsg struct {
		MessageID uuid.UUID
	}

	// MarkReadMsg marks a batch read on behalf of ReaderID. SenderID
	// restricts the batch to one conversation.
	MarkReadMsg struct {
		ReaderID   uuid.UUID
		SenderID   uuid.UUID
		MessageIDs []uuid.UUID
	}

	ReactMsg struct {
		MessageID uuid.UUID
		UserID    uuid.UUID
		Emoji     string
	}

	UnreactMsg struct {
		MessageID uuid.UUID
		UserID    uuid.UUID
	}

	DeleteForUserMsg struct {
		MessageID uuid.UUID
		UserID    uuid.UUID
	}

	DeleteForEveryoneMsg struct {
		MessageID   uuid.UUID
		RequesterID uuid.UUID
	}

	GetConversationMsg struct {
		ViewerID uuid.UUID
		PeerID   uuid.UUID
		Since    *time.Time
	}

	GetRecentConversationsMsg struct {
		UserID uuid.UUID
	}
)

// Delivery answers MarkDeliveredMsg.
type Delivery struct {
	Message *models.Message
	Changed bool
}

// MessageActor drives the message lifecycle.
type MessageActor struct {
	base
	lifecycle *messaging.Lifecycle
}

func NewMessageActor(lifecycle *messaging.Lifecycle, metrics *utils.MetricsCollector, opTimeout time.Duration) actor.Actor {
	return &MessageActor{base: newBase(metrics, opTimeout), lifecycle: lifecycle}
}

func (a *MessageActor) Receive(context actor.Context) {
	start := time.Now()
	ctx, cancel := a.opContext()
	defer cancel()

	switch msg := context.Message().(type) {
	case *SendMessageMsg:
		result, err := a.lifecycle.Send(ctx, msg.Request)
		a.reply(context, "send_message", start, result, err)

	case *MarkDeliveredMsg:
		m, changed, err := a.lifecycle.MarkDelivered(ctx, msg.MessageID)
		a.reply(context, "mark_delivered", start, &Delivery{Message: m, Changed: changed}, err)

	case *MarkReadMsg:
		result, err := a.lifecycle.MarkReadBatch(ctx, msg.ReaderID, msg.SenderID, msg.MessageIDs)
		a.reply(context, "mark_read", start, result, err)

	case *ReactMsg:
		m, err := a.lifecycle.React(ctx, msg.MessageID, msg.UserID, msg.Emoji)
		a.reply(context, "react", start, m, err)

	case *UnreactMsg:
		m, err := a.lifecycle.Unreact(ctx, msg.MessageID, msg.UserID)
		a.reply(context, "unreact", start, m, err)

	case *DeleteForUserMsg:
		m, err := a.lifecycle.DeleteForUser(ctx, msg.MessageID, msg.UserID)
		a.reply(context, "delete_for_user", start, m, err)

	case *DeleteForEveryoneMsg:
		m, err := a.lifecycle.DeleteForEveryone(ctx, msg.MessageID, msg.RequesterID)
		a.reply(context, "delete_for_everyone", start, m, err)

	case *GetConversationMsg:
		history, err := a.lifecycle.Conversation(ctx, msg.ViewerID, msg.PeerID, msg.Since)
		a.reply(context, "get_conversation", start, history, err)

	case *GetRecentConversationsMsg:
		summaries, err := a.lifecycle.RecentConversations(ctx, msg.UserID)
		a.reply(context, "recent_conversations", start, summaries, err)
	}
}
