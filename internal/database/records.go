package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gator-chat/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// CurrentSchemaVersion is written into every record. Readers accept any
// version up to it; fields added later must decode from their zero value.
const CurrentSchemaVersion = 1

// UserRecord is the stored shape of a user, shared by every backend.
type UserRecord struct {
	SchemaVersion int         `db:"schema_version" bson:"schemaVersion"`
	ID            string      `db:"id" bson:"_id"`
	Username      string      `db:"username" bson:"username"`
	UsernameKey   string      `db:"username_key" bson:"usernameKey"`
	Email         string      `db:"email" bson:"email"`
	PasswordHash  string      `db:"password_hash" bson:"passwordHash"`
	Avatar        *string     `db:"avatar" bson:"avatar"`
	Bio           string      `db:"bio" bson:"bio"`
	Status        string      `db:"status" bson:"status"`
	IsOnline      bool        `db:"is_online" bson:"isOnline"`
	LastSeen      time.Time   `db:"last_seen" bson:"lastSeen"`
	ConnectionRef string      `db:"connection_ref" bson:"connectionRef"`
	BlockedUsers  StringList  `db:"blocked_users" bson:"blockedUsers"`
	Settings      SettingsDoc `db:"settings" bson:"settings"`
	CreatedAt     time.Time   `db:"created_at" bson:"createdAt"`
}

// MessageRecord is the stored shape of a message.
type MessageRecord struct {
	SchemaVersion        int         `db:"schema_version" bson:"schemaVersion"`
	ID                   string      `db:"id" bson:"_id"`
	ConversationID       string      `db:"conversation_id" bson:"conversationId"`
	SenderID             string      `db:"sender_id" bson:"senderId"`
	ReceiverID           string      `db:"receiver_id" bson:"receiverId"`
	Content              string      `db:"content" bson:"content"`
	MessageType          string      `db:"message_type" bson:"messageType"`
	CreatedAt            time.Time   `db:"created_at" bson:"timestamp"`
	Status               string      `db:"status" bson:"status"`
	DeliveredAt          *time.Time  `db:"delivered_at" bson:"deliveredAt"`
	ReadAt               *time.Time  `db:"read_at" bson:"readAt"`
	Reactions            ReactionDoc `db:"reactions" bson:"reactions"`
	DeletedFor           StringList  `db:"deleted_for" bson:"deletedFor"`
	IsDeletedForEveryone bool        `db:"is_deleted_for_everyone" bson:"isDeletedForEveryone"`
	DeletedAt            *time.Time  `db:"deleted_at" bson:"deletedAt"`
}

// FriendshipRecord is the stored shape of a friendship. PairKey is unique so
// (A,B) and (B,A) can never both exist.
type FriendshipRecord struct {
	SchemaVersion int       `db:"schema_version" bson:"schemaVersion"`
	ID            string    `db:"id" bson:"_id"`
	PairKey       string    `db:"pair_key" bson:"pairKey"`
	UserID        string    `db:"user_id" bson:"userId"`
	FriendID      string    `db:"friend_id" bson:"friendId"`
	Status        string    `db:"status" bson:"status"`
	CreatedAt     time.Time `db:"created_at" bson:"createdAt"`
	UpdatedAt     time.Time `db:"updated_at" bson:"updatedAt"`
}

// StringList is a text[] column in Postgres and a plain array in Mongo.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	return pq.StringArray(l).Value()
}

func (l *StringList) Scan(src interface{}) error {
	var arr pq.StringArray
	if err := arr.Scan(src); err != nil {
		return err
	}
	*l = StringList(arr)
	return nil
}

// SettingsDoc is a JSONB column in Postgres and an embedded document in Mongo.
type SettingsDoc struct {
	Privacy       models.PrivacySettings      `json:"privacy" bson:"privacy"`
	Notifications models.NotificationSettings `json:"notifications" bson:"notifications"`
}

func (s SettingsDoc) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	return string(b), err
}

func (s *SettingsDoc) Scan(src interface{}) error {
	return scanJSON(src, s)
}

// ReactionDoc maps user id to a single emoji.
type ReactionDoc map[string]string

func (r ReactionDoc) Value() (driver.Value, error) {
	if r == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]string(r))
	return string(b), err
}

func (r *ReactionDoc) Scan(src interface{}) error {
	m := map[string]string{}
	if err := scanJSON(src, &m); err != nil {
		return err
	}
	*r = m
	return nil
}

func scanJSON(src interface{}, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("cannot scan %T into json document", src)
	}
}

// usernameKey is the case-insensitive lookup key of a username.
func usernameKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func userToRecord(u *models.User) UserRecord {
	blocked := make(StringList, 0, len(u.BlockedUsers))
	for _, id := range u.BlockedUsers {
		blocked = append(blocked, id.String())
	}
	return UserRecord{
		SchemaVersion: CurrentSchemaVersion,
		ID:            u.ID.String(),
		Username:      u.Username,
		UsernameKey:   usernameKey(u.Username),
		Email:         strings.ToLower(strings.TrimSpace(u.Email)),
		PasswordHash:  u.HashedPassword,
		Avatar:        u.Avatar,
		Bio:           u.Bio,
		Status:        u.Status,
		IsOnline:      u.IsOnline,
		LastSeen:      u.LastSeen,
		ConnectionRef: u.ConnectionRef,
		BlockedUsers:  blocked,
		Settings: SettingsDoc{
			Privacy:       u.Settings.Privacy,
			Notifications: u.Settings.Notifications,
		},
		CreatedAt: u.CreatedAt,
	}
}

func recordToUser(r UserRecord) (*models.User, error) {
	if r.SchemaVersion > CurrentSchemaVersion {
		return nil, fmt.Errorf("user %s has unsupported schema version %d", r.ID, r.SchemaVersion)
	}
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid user ID in database: %v", err)
	}
	blocked, err := parseIDs(r.BlockedUsers)
	if err != nil {
		return nil, fmt.Errorf("invalid blocked user ID for %s: %v", r.ID, err)
	}
	u := &models.User{
		ID:             id,
		Username:       r.Username,
		Email:          r.Email,
		HashedPassword: r.PasswordHash,
		Avatar:         r.Avatar,
		Bio:            r.Bio,
		Status:         r.Status,
		IsOnline:       r.IsOnline,
		LastSeen:       r.LastSeen,
		ConnectionRef:  r.ConnectionRef,
		BlockedUsers:   blocked,
		Settings: models.Settings{
			Privacy:       r.Settings.Privacy,
			Notifications: r.Settings.Notifications,
		},
		CreatedAt: r.CreatedAt,
	}
	return u.Clone(), nil
}

func messageToRecord(m *models.Message) MessageRecord {
	reactions := make(ReactionDoc, len(m.Reactions))
	for userID, emoji := range m.Reactions {
		reactions[userID.String()] = emoji
	}
	deletedFor := make(StringList, 0, len(m.DeletedFor))
	for _, id := range m.DeletedFor {
		deletedFor = append(deletedFor, id.String())
	}
	return MessageRecord{
		SchemaVersion:        CurrentSchemaVersion,
		ID:                   m.ID.String(),
		ConversationID:       m.ConversationID(),
		SenderID:             m.SenderID.String(),
		ReceiverID:           m.ReceiverID.String(),
		Content:              m.Content,
		MessageType:          string(m.Type),
		CreatedAt:            m.CreatedAt,
		Status:               string(m.Status),
		DeliveredAt:          m.DeliveredAt,
		ReadAt:               m.ReadAt,
		Reactions:            reactions,
		DeletedFor:           deletedFor,
		IsDeletedForEveryone: m.IsDeletedForEveryone,
		DeletedAt:            m.DeletedAt,
	}
}

func recordToMessage(r MessageRecord) (*models.Message, error) {
	if r.SchemaVersion > CurrentSchemaVersion {
		return nil, fmt.Errorf("message %s has unsupported schema version %d", r.ID, r.SchemaVersion)
	}
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid message ID in database: %v", err)
	}
	senderID, err := uuid.Parse(r.SenderID)
	if err != nil {
		return nil, fmt.Errorf("invalid sender ID for message %s: %v", r.ID, err)
	}
	receiverID, err := uuid.Parse(r.ReceiverID)
	if err != nil {
		return nil, fmt.Errorf("invalid receiver ID for message %s: %v", r.ID, err)
	}
	deletedFor, err := parseIDs(r.DeletedFor)
	if err != nil {
		return nil, fmt.Errorf("invalid deletedFor entry for message %s: %v", r.ID, err)
	}
	reactions := make(map[uuid.UUID]string, len(r.Reactions))
	for userID, emoji := range r.Reactions {
		uid, err := uuid.Parse(userID)
		if err != nil {
			return nil, fmt.Errorf("invalid reaction user ID for message %s: %v", r.ID, err)
		}
		reactions[uid] = emoji
	}
	msgType := models.MessageType(r.MessageType)
	if msgType == "" {
		msgType = models.MessageText
	}
	m := &models.Message{
		ID:                   id,
		SenderID:             senderID,
		ReceiverID:           receiverID,
		Content:              r.Content,
		Type:                 msgType,
		CreatedAt:            r.CreatedAt,
		Status:               models.MessageStatus(r.Status),
		DeliveredAt:          r.DeliveredAt,
		ReadAt:               r.ReadAt,
		Reactions:            reactions,
		DeletedFor:           deletedFor,
		IsDeletedForEveryone: r.IsDeletedForEveryone,
		DeletedAt:            r.DeletedAt,
	}
	return m.Clone(), nil
}

func friendshipToRecord(f *models.Friendship) FriendshipRecord {
	return FriendshipRecord{
		SchemaVersion: CurrentSchemaVersion,
		ID:            f.ID.String(),
		PairKey:       models.PairKey(f.UserID, f.FriendID),
		UserID:        f.UserID.String(),
		FriendID:      f.FriendID.String(),
		Status:        string(f.Status),
		CreatedAt:     f.CreatedAt,
		UpdatedAt:     f.UpdatedAt,
	}
}

func recordToFriendship(r FriendshipRecord) (*models.Friendship, error) {
	if r.SchemaVersion > CurrentSchemaVersion {
		return nil, fmt.Errorf("friendship %s has unsupported schema version %d", r.ID, r.SchemaVersion)
	}
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid friendship ID in database: %v", err)
	}
	userID, err := uuid.Parse(r.UserID)
	if err != nil {
		return nil, fmt.Errorf("invalid requester ID for friendship %s: %v", r.ID, err)
	}
	friendID, err := uuid.Parse(r.FriendID)
	if err != nil {
		return nil, fmt.Errorf("invalid target ID for friendship %s: %v", r.ID, err)
	}
	return &models.Friendship{
		ID:        id,
		UserID:    userID,
		FriendID:  friendID,
		Status:    models.FriendshipStatus(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

func parseIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
