package database

import (
	"context"
	"fmt"
	"time"

	"gator-chat/internal/config"
	"gator-chat/internal/models"

	"github.com/google/uuid"
)

// IdentityStore persists user records, their settings and blocklists.
// Lookups of an absent user return a NOT_FOUND AppError.
type IdentityStore interface {
	FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// FindUserByUsername matches case-insensitively.
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
	FindUserByUsernameOrEmail(ctx context.Context, username, email string) (*models.User, error)
	// CreateUser fails with CONFLICT when the username or email is taken.
	CreateUser(ctx context.Context, user *models.User) error
	UpdateProfile(ctx context.Context, id uuid.UUID, update models.ProfileUpdate) (*models.User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	UpdatePrivacySettings(ctx context.Context, id uuid.UUID, settings models.PrivacySettings) (*models.User, error)
	UpdateNotificationSettings(ctx context.Context, id uuid.UUID, settings models.NotificationSettings) (*models.User, error)
	// UpdateOnlineStatus records a connect, making connectionRef current, or
	// the disconnect of connectionRef. A disconnect of any other connection
	// than the stored one changes nothing.
	UpdateOnlineStatus(ctx context.Context, id uuid.UUID, isOnline bool, connectionRef string, lastSeen time.Time) error
	// SetBlocked adds target to (or removes it from) id's blocklist.
	SetBlocked(ctx context.Context, id, target uuid.UUID, blocked bool) error
	// SearchUsers matches usernames starting with query, ignoring case.
	SearchUsers(ctx context.Context, query string, limit int) ([]*models.User, error)
}

// ConversationStore persists messages keyed by their conversation id.
type ConversationStore interface {
	CreateMessage(ctx context.Context, msg *models.Message) error
	FindMessage(ctx context.Context, id uuid.UUID) (*models.Message, error)
	// FindByConversationID returns the log ordered by server timestamp,
	// optionally only messages created after since.
	FindByConversationID(ctx context.Context, conversationID string, since *time.Time) ([]*models.Message, error)
	// UpdateStatus moves a message forward to next in one atomic step. It
	// reports false when the message was already at or beyond next.
	// Timestamps are first-write-wins.
	UpdateStatus(ctx context.Context, id uuid.UUID, next models.MessageStatus, at time.Time) (bool, error)
	AddReaction(ctx context.Context, id, userID uuid.UUID, emoji string) (*models.Message, error)
	RemoveReaction(ctx context.Context, id, userID uuid.UUID) (*models.Message, error)
	SoftDeleteForUser(ctx context.Context, id, userID uuid.UUID) (*models.Message, error)
	SoftDeleteForEveryone(ctx context.Context, id uuid.UUID, at time.Time) (*models.Message, error)
	// FindRecentConversationsByUser returns the newest message of every
	// conversation userID takes part in.
	FindRecentConversationsByUser(ctx context.Context, userID uuid.UUID) ([]*models.Message, error)
}

// FriendshipStore persists one record per unordered user pair.
type FriendshipStore interface {
	// CreateFriendship fails with CONFLICT if the pair already has a record.
	CreateFriendship(ctx context.Context, userID, friendID uuid.UUID, at time.Time) (*models.Friendship, error)
	FindFriendship(ctx context.Context, id uuid.UUID) (*models.Friendship, error)
	// FindByPair is order-independent.
	FindByPair(ctx context.Context, a, b uuid.UUID) (*models.Friendship, error)
	// FindPending returns requests addressed to forUserID.
	FindPending(ctx context.Context, forUserID uuid.UUID) ([]*models.Friendship, error)
	FindAccepted(ctx context.Context, forUserID uuid.UUID) ([]*models.Friendship, error)
	UpdateFriendshipStatus(ctx context.Context, id uuid.UUID, status models.FriendshipStatus, at time.Time) (*models.Friendship, error)
	DeleteFriendship(ctx context.Context, id uuid.UUID) error
}

// DBAdapter is the full persistence surface one backend provides.
type DBAdapter interface {
	IdentityStore
	ConversationStore
	FriendshipStore

	InitializeTables(ctx context.Context) error
	Close(ctx context.Context) error
}

// Open connects the backend selected in cfg.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (DBAdapter, error) {
	switch cfg.Type {
	case config.DBMemory:
		return NewMemoryStore(), nil
	case config.DBPostgres:
		return NewPostgresDB(cfg.URI)
	case config.DBMongo:
		return NewMongoDB(ctx, cfg.URI, cfg.Name)
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}
}
