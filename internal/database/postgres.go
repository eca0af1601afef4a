// internal/database/postgres.go
package database

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"gator-chat/internal/models"
	"gator-chat/internal/utils"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// PostgresDB represents a PostgreSQL database connection
type PostgresDB struct {
	DB *sqlx.DB
}

// NewPostgresDB creates a new PostgreSQL database connection
func NewPostgresDB(connectionString string) (*PostgresDB, error) {
	db, err := sqlx.Connect("postgres", connectionString)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to PostgreSQL")
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping PostgreSQL")
	}

	jww.INFO.Println("Successfully connected to PostgreSQL")

	return &PostgresDB{DB: db}, nil
}

// Close closes the database connection
func (p *PostgresDB) Close(ctx context.Context) error {
	jww.INFO.Println("Closing PostgreSQL connection...")
	return p.DB.Close()
}

// InitializeTables creates all necessary tables if they don't exist
func (p *PostgresDB) InitializeTables(ctx context.Context) error {
	statements := []struct {
		name  string
		query string
	}{
		{"users table", `
			CREATE TABLE IF NOT EXISTS users (
				id UUID PRIMARY KEY,
				schema_version INTEGER NOT NULL DEFAULT 1,
				username VARCHAR(30) NOT NULL,
				username_key VARCHAR(30) UNIQUE NOT NULL,
				email VARCHAR(255) UNIQUE NOT NULL,
				password_hash VARCHAR(100) NOT NULL,
				avatar TEXT,
				bio TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT '',
				is_online BOOLEAN NOT NULL DEFAULT FALSE,
				last_seen TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				connection_ref TEXT NOT NULL DEFAULT '',
				blocked_users TEXT[] NOT NULL DEFAULT '{}',
				settings JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			)`},
		{"messages table", `
			CREATE TABLE IF NOT EXISTS messages (
				id UUID PRIMARY KEY,
				schema_version INTEGER NOT NULL DEFAULT 1,
				conversation_id TEXT NOT NULL,
				sender_id UUID NOT NULL REFERENCES users(id),
				receiver_id UUID NOT NULL REFERENCES users(id),
				content TEXT NOT NULL,
				message_type VARCHAR(10) NOT NULL DEFAULT 'text',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				status VARCHAR(10) NOT NULL,
				delivered_at TIMESTAMP WITH TIME ZONE,
				read_at TIMESTAMP WITH TIME ZONE,
				reactions JSONB NOT NULL DEFAULT '{}',
				deleted_for TEXT[] NOT NULL DEFAULT '{}',
				is_deleted_for_everyone BOOLEAN NOT NULL DEFAULT FALSE,
				deleted_at TIMESTAMP WITH TIME ZONE
			)`},
		{"messages conversation index", `
			CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages (conversation_id, created_at)`},
		{"friendships table", `
			CREATE TABLE IF NOT EXISTS friendships (
				id UUID PRIMARY KEY,
				schema_version INTEGER NOT NULL DEFAULT 1,
				pair_key TEXT UNIQUE NOT NULL,
				user_id UUID NOT NULL REFERENCES users(id),
				friend_id UUID NOT NULL REFERENCES users(id),
				status VARCHAR(10) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			)`},
	}

	for _, stmt := range statements {
		if _, err := p.DB.ExecContext(ctx, stmt.query); err != nil {
			return errors.Wrapf(err, "failed to create %s", stmt.name)
		}
	}

	jww.INFO.Println("PostgreSQL tables initialized")
	return nil
}

func isUniqueViolation(err error) (*pq.Error, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return pqErr, true
	}
	return nil, false
}

// likePattern escapes LIKE wildcards so query is matched literally.
func likePattern(query string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(usernameKey(query)) + "%"
}

// --- Identity ---

func (p *PostgresDB) getUser(ctx context.Context, query string, args ...interface{}) (*models.User, error) {
	var rec UserRecord
	if err := p.DB.GetContext(ctx, &rec, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, utils.NewNotFoundError("user")
		}
		return nil, utils.NewTransientError("query user", err)
	}
	return recordToUser(rec)
}

func (p *PostgresDB) FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return p.getUser(ctx, `SELECT * FROM users WHERE id = $1`, id.String())
}

func (p *PostgresDB) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return p.getUser(ctx, `SELECT * FROM users WHERE username_key = $1`, usernameKey(username))
}

func (p *PostgresDB) FindUserByUsernameOrEmail(ctx context.Context, username, email string) (*models.User, error) {
	return p.getUser(ctx, `SELECT * FROM users WHERE username_key = $1 OR email = $2 LIMIT 1`,
		usernameKey(username), strings.ToLower(strings.TrimSpace(email)))
}

func (p *PostgresDB) CreateUser(ctx context.Context, user *models.User) error {
	rec := userToRecord(user)
	query := `
		INSERT INTO users (id, schema_version, username, username_key, email, password_hash, avatar, bio,
			status, is_online, last_seen, connection_ref, blocked_users, settings, created_at)
		VALUES (:id, :schema_version, :username, :username_key, :email, :password_hash, :avatar, :bio,
			:status, :is_online, :last_seen, :connection_ref, :blocked_users, :settings, :created_at)
	`
	if _, err := p.DB.NamedExecContext(ctx, query, rec); err != nil {
		if pqErr, ok := isUniqueViolation(err); ok {
			if strings.Contains(pqErr.Constraint, "email") {
				return utils.NewConflictError("email already registered")
			}
			return utils.NewConflictError("username already taken")
		}
		return utils.NewTransientError("save user", err)
	}
	return nil
}

// updateUser reads the row under lock, applies fn and writes every mutable
// column back inside one transaction.
func (p *PostgresDB) updateUser(ctx context.Context, id uuid.UUID, fn func(u *models.User)) (*models.User, error) {
	tx, err := p.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, utils.NewTransientError("begin user update", err)
	}
	defer tx.Rollback()

	var rec UserRecord
	if err := tx.GetContext(ctx, &rec, `SELECT * FROM users WHERE id = $1 FOR UPDATE`, id.String()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, utils.NewNotFoundError("user")
		}
		return nil, utils.NewTransientError("lock user", err)
	}
	u, err := recordToUser(rec)
	if err != nil {
		return nil, err
	}
	fn(u)
	next := userToRecord(u)

	query := `
		UPDATE users SET avatar = :avatar, bio = :bio, status = :status, password_hash = :password_hash,
			settings = :settings, schema_version = :schema_version
		WHERE id = :id
	`
	if _, err := tx.NamedExecContext(ctx, query, next); err != nil {
		return nil, utils.NewTransientError("update user", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, utils.NewTransientError("commit user update", err)
	}
	return u, nil
}

func (p *PostgresDB) UpdateProfile(ctx context.Context, id uuid.UUID, update models.ProfileUpdate) (*models.User, error) {
	return p.updateUser(ctx, id, func(u *models.User) {
		if update.Avatar != nil {
			avatar := *update.Avatar
			u.Avatar = &avatar
		}
		if update.Bio != nil {
			u.Bio = *update.Bio
		}
		if update.Status != nil {
			u.Status = *update.Status
		}
	})
}

func (p *PostgresDB) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return p.execUser(ctx, "update password",
		`UPDATE users SET password_hash = $2 WHERE id = $1`, id.String(), passwordHash)
}

func (p *PostgresDB) UpdatePrivacySettings(ctx context.Context, id uuid.UUID, settings models.PrivacySettings) (*models.User, error) {
	return p.updateUser(ctx, id, func(u *models.User) {
		u.Settings.Privacy = u.Settings.Privacy.Merge(settings)
	})
}

func (p *PostgresDB) UpdateNotificationSettings(ctx context.Context, id uuid.UUID, settings models.NotificationSettings) (*models.User, error) {
	return p.updateUser(ctx, id, func(u *models.User) {
		u.Settings.Notifications = u.Settings.Notifications.Merge(settings)
	})
}

func (p *PostgresDB) UpdateOnlineStatus(ctx context.Context, id uuid.UUID, isOnline bool, connectionRef string, lastSeen time.Time) error {
	if isOnline {
		return p.execUser(ctx, "update online status",
			`UPDATE users SET is_online = TRUE, connection_ref = $2, last_seen = $3 WHERE id = $1`,
			id.String(), connectionRef, lastSeen)
	}
	result, err := p.DB.ExecContext(ctx,
		`UPDATE users SET is_online = FALSE, connection_ref = '', last_seen = $3 WHERE id = $1 AND connection_ref = $2`,
		id.String(), connectionRef, lastSeen)
	if err != nil {
		return utils.NewTransientError("update online status", err)
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	// Zero rows is a stale disconnect unless the user is gone.
	_, err = p.FindUserByID(ctx, id)
	return err
}

func (p *PostgresDB) SetBlocked(ctx context.Context, id, target uuid.UUID, blocked bool) error {
	query := `UPDATE users SET blocked_users = array_remove(blocked_users, $2::text) WHERE id = $1`
	if blocked {
		query = `UPDATE users SET blocked_users = array_append(array_remove(blocked_users, $2::text), $2::text) WHERE id = $1`
	}
	return p.execUser(ctx, "update blocklist", query, id.String(), target.String())
}

// execUser runs a single-row user update and maps zero rows to NOT_FOUND.
func (p *PostgresDB) execUser(ctx context.Context, op, query string, args ...interface{}) error {
	result, err := p.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return utils.NewTransientError(op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return utils.NewTransientError(op, err)
	}
	if rowsAffected == 0 {
		return utils.NewNotFoundError("user")
	}
	return nil
}

func (p *PostgresDB) SearchUsers(ctx context.Context, query string, limit int) ([]*models.User, error) {
	var recs []UserRecord
	err := p.DB.SelectContext(ctx, &recs,
		`SELECT * FROM users WHERE username_key LIKE $1 ORDER BY username_key LIMIT $2`,
		likePattern(query), limit)
	if err != nil {
		return nil, utils.NewTransientError("search users", err)
	}
	users := make([]*models.User, 0, len(recs))
	for _, rec := range recs {
		u, err := recordToUser(rec)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// --- Conversations ---

func (p *PostgresDB) CreateMessage(ctx context.Context, msg *models.Message) error {
	rec := messageToRecord(msg)
	query := `
		INSERT INTO messages (id, schema_version, conversation_id, sender_id, receiver_id, content, message_type,
			created_at, status, delivered_at, read_at, reactions, deleted_for, is_deleted_for_everyone, deleted_at)
		VALUES (:id, :schema_version, :conversation_id, :sender_id, :receiver_id, :content, :message_type,
			:created_at, :status, :delivered_at, :read_at, :reactions, :deleted_for, :is_deleted_for_everyone, :deleted_at)
	`
	if _, err := p.DB.NamedExecContext(ctx, query, rec); err != nil {
		if _, ok := isUniqueViolation(err); ok {
			return utils.NewConflictError("message already exists")
		}
		return utils.NewTransientError("save message", err)
	}
	return nil
}

func (p *PostgresDB) getMessage(ctx context.Context, op, query string, args ...interface{}) (*models.Message, error) {
	var rec MessageRecord
	if err := p.DB.GetContext(ctx, &rec, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, utils.NewNotFoundError("message")
		}
		return nil, utils.NewTransientError(op, err)
	}
	return recordToMessage(rec)
}

func (p *PostgresDB) FindMessage(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	return p.getMessage(ctx, "query message", `SELECT * FROM messages WHERE id = $1`, id.String())
}

func (p *PostgresDB) selectMessages(ctx context.Context, op, query string, args ...interface{}) ([]*models.Message, error) {
	var recs []MessageRecord
	if err := p.DB.SelectContext(ctx, &recs, query, args...); err != nil {
		return nil, utils.NewTransientError(op, err)
	}
	msgs := make([]*models.Message, 0, len(recs))
	for _, rec := range recs {
		m, err := recordToMessage(rec)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (p *PostgresDB) FindByConversationID(ctx context.Context, conversationID string, since *time.Time) ([]*models.Message, error) {
	if since != nil {
		return p.selectMessages(ctx, "query conversation",
			`SELECT * FROM messages WHERE conversation_id = $1 AND created_at > $2 ORDER BY created_at, id`,
			conversationID, *since)
	}
	return p.selectMessages(ctx, "query conversation",
		`SELECT * FROM messages WHERE conversation_id = $1 ORDER BY created_at, id`, conversationID)
}

func (p *PostgresDB) UpdateStatus(ctx context.Context, id uuid.UUID, next models.MessageStatus, at time.Time) (bool, error) {
	from := make([]string, 0, 2)
	for _, s := range next.Predecessors() {
		from = append(from, string(s))
	}
	if len(from) == 0 {
		return false, nil
	}

	query := `
		UPDATE messages SET
			status = $2::text,
			delivered_at = CASE WHEN $2::text = 'delivered' THEN COALESCE(delivered_at, $3) ELSE delivered_at END,
			read_at = CASE WHEN $2::text = 'read' THEN COALESCE(read_at, $3) ELSE read_at END
		WHERE id = $1 AND status = ANY($4)
	`
	result, err := p.DB.ExecContext(ctx, query, id.String(), string(next), at, pq.Array(from))
	if err != nil {
		return false, utils.NewTransientError("update message status", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, utils.NewTransientError("update message status", err)
	}
	if rowsAffected > 0 {
		return true, nil
	}

	var exists bool
	if err := p.DB.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM messages WHERE id = $1)`, id.String()); err != nil {
		return false, utils.NewTransientError("check message", err)
	}
	if !exists {
		return false, utils.NewNotFoundError("message")
	}
	return false, nil
}

func (p *PostgresDB) AddReaction(ctx context.Context, id, userID uuid.UUID, emoji string) (*models.Message, error) {
	return p.getMessage(ctx, "add reaction",
		`UPDATE messages SET reactions = reactions || jsonb_build_object($2::text, $3::text) WHERE id = $1 RETURNING *`,
		id.String(), userID.String(), emoji)
}

func (p *PostgresDB) RemoveReaction(ctx context.Context, id, userID uuid.UUID) (*models.Message, error) {
	return p.getMessage(ctx, "remove reaction",
		`UPDATE messages SET reactions = reactions - $2::text WHERE id = $1 RETURNING *`,
		id.String(), userID.String())
}

func (p *PostgresDB) SoftDeleteForUser(ctx context.Context, id, userID uuid.UUID) (*models.Message, error) {
	return p.getMessage(ctx, "delete message for user", `
		UPDATE messages SET deleted_for = CASE
			WHEN $2::text = ANY(deleted_for) THEN deleted_for
			ELSE array_append(deleted_for, $2::text) END
		WHERE id = $1 RETURNING *`,
		id.String(), userID.String())
}

func (p *PostgresDB) SoftDeleteForEveryone(ctx context.Context, id uuid.UUID, at time.Time) (*models.Message, error) {
	return p.getMessage(ctx, "delete message for everyone", `
		UPDATE messages SET is_deleted_for_everyone = TRUE, deleted_at = COALESCE(deleted_at, $2)
		WHERE id = $1 RETURNING *`,
		id.String(), at)
}

func (p *PostgresDB) FindRecentConversationsByUser(ctx context.Context, userID uuid.UUID) ([]*models.Message, error) {
	msgs, err := p.selectMessages(ctx, "query recent conversations", `
		SELECT DISTINCT ON (conversation_id) * FROM messages
		WHERE sender_id = $1 OR receiver_id = $1
		ORDER BY conversation_id, created_at DESC`,
		userID.String())
	if err != nil {
		return nil, err
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].CreatedAt.After(msgs[j].CreatedAt) })
	return msgs, nil
}

// --- Friendships ---

func (p *PostgresDB) CreateFriendship(ctx context.Context, userID, friendID uuid.UUID, at time.Time) (*models.Friendship, error) {
	f := &models.Friendship{
		ID:        uuid.New(),
		UserID:    userID,
		FriendID:  friendID,
		Status:    models.FriendshipPending,
		CreatedAt: at,
		UpdatedAt: at,
	}
	query := `
		INSERT INTO friendships (id, schema_version, pair_key, user_id, friend_id, status, created_at, updated_at)
		VALUES (:id, :schema_version, :pair_key, :user_id, :friend_id, :status, :created_at, :updated_at)
	`
	if _, err := p.DB.NamedExecContext(ctx, query, friendshipToRecord(f)); err != nil {
		if _, ok := isUniqueViolation(err); ok {
			return nil, utils.NewConflictError("friendship already exists")
		}
		return nil, utils.NewTransientError("save friendship", err)
	}
	return f, nil
}

func (p *PostgresDB) getFriendship(ctx context.Context, op, query string, args ...interface{}) (*models.Friendship, error) {
	var rec FriendshipRecord
	if err := p.DB.GetContext(ctx, &rec, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, utils.NewNotFoundError("friendship")
		}
		return nil, utils.NewTransientError(op, err)
	}
	return recordToFriendship(rec)
}

func (p *PostgresDB) selectFriendships(ctx context.Context, op, query string, args ...interface{}) ([]*models.Friendship, error) {
	var recs []FriendshipRecord
	if err := p.DB.SelectContext(ctx, &recs, query, args...); err != nil {
		return nil, utils.NewTransientError(op, err)
	}
	out := make([]*models.Friendship, 0, len(recs))
	for _, rec := range recs {
		f, err := recordToFriendship(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func (p *PostgresDB) FindFriendship(ctx context.Context, id uuid.UUID) (*models.Friendship, error) {
	return p.getFriendship(ctx, "query friendship", `SELECT * FROM friendships WHERE id = $1`, id.String())
}

func (p *PostgresDB) FindByPair(ctx context.Context, a, b uuid.UUID) (*models.Friendship, error) {
	return p.getFriendship(ctx, "query friendship pair",
		`SELECT * FROM friendships WHERE pair_key = $1`, models.PairKey(a, b))
}

func (p *PostgresDB) FindPending(ctx context.Context, forUserID uuid.UUID) ([]*models.Friendship, error) {
	return p.selectFriendships(ctx, "query pending requests",
		`SELECT * FROM friendships WHERE friend_id = $1 AND status = 'pending' ORDER BY created_at`,
		forUserID.String())
}

func (p *PostgresDB) FindAccepted(ctx context.Context, forUserID uuid.UUID) ([]*models.Friendship, error) {
	return p.selectFriendships(ctx, "query friends",
		`SELECT * FROM friendships WHERE (user_id = $1 OR friend_id = $1) AND status = 'accepted' ORDER BY created_at`,
		forUserID.String())
}

func (p *PostgresDB) UpdateFriendshipStatus(ctx context.Context, id uuid.UUID, status models.FriendshipStatus, at time.Time) (*models.Friendship, error) {
	return p.getFriendship(ctx, "update friendship",
		`UPDATE friendships SET status = $2, updated_at = $3 WHERE id = $1 RETURNING *`,
		id.String(), string(status), at)
}

func (p *PostgresDB) DeleteFriendship(ctx context.Context, id uuid.UUID) error {
	result, err := p.DB.ExecContext(ctx, `DELETE FROM friendships WHERE id = $1`, id.String())
	if err != nil {
		return utils.NewTransientError("delete friendship", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return utils.NewTransientError("delete friendship", err)
	}
	if rowsAffected == 0 {
		return utils.NewNotFoundError("friendship")
	}
	return nil
}
