package api

import (
	"time"

	"gator-chat/internal/models"
	"gator-chat/internal/privacy"

	"github.com/google/uuid"
)

// FriendRequestView is a pending request as shown to its target.
type FriendRequestView struct {
	ID        uuid.UUID          `json:"id"`
	From      models.UserSummary `json:"from"`
	CreatedAt time.Time          `json:"createdAt"`
}

// FriendView is an accepted friend with presence projected through their
// privacy settings.
type FriendView struct {
	FriendshipID uuid.UUID             `json:"friendshipId"`
	Friend       privacy.PublicProfile `json:"friend"`
	Since        time.Time             `json:"since"`
}

type ConversationView struct {
	Friend   privacy.PublicProfile `json:"friend"`
	Messages []*models.Message     `json:"messages"`
}

type ConversationSummaryView struct {
	Friend       privacy.PublicProfile `json:"friend"`
	LastMessage  *models.Message       `json:"lastMessage"`
	LastActivity time.Time             `json:"lastActivity"`
}

type HealthResponse struct {
	Status      string    `json:"status"`
	OnlineUsers int       `json:"onlineUsers"`
	ServerTime  time.Time `json:"serverTime"`
}

// MessageResponse acknowledges an operation that returns no entity.
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
