package database

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gator-chat/internal/models"
	"gator-chat/internal/utils"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// legacyNamespace derives stable ids for legacy records that lack a uuid, so
// importing the same directory twice finds the earlier rows.
var legacyNamespace = uuid.MustParse("6f1c52a4-5d0e-4c4b-9a59-3f0e2b7c8d11")

// Files of the JSON data directory the chat server kept before it had a
// database.
const (
	legacyUsersFile    = "users.json"
	legacyFriendsFile  = "friends.json"
	legacyMessagesFile = "messages.json"
)

type legacyUser struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	Password     string    `json:"password"` // bcrypt hash
	Avatar       string    `json:"avatar"`
	Status       string    `json:"status"`
	LastSeen     time.Time `json:"lastSeen"`
	CreatedAt    time.Time `json:"createdAt"`
	BlockedUsers []string  `json:"blockedUsers"`
}

type legacyFriend struct {
	UserID     string     `json:"userId"`
	FriendID   string     `json:"friendId"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
	AcceptedAt *time.Time `json:"acceptedAt"`
}

type legacyMessage struct {
	ID                   string            `json:"id"`
	SenderID             string            `json:"senderId"`
	ReceiverID           string            `json:"receiverId"`
	Content              string            `json:"content"`
	MessageType          string            `json:"messageType"`
	Timestamp            time.Time         `json:"timestamp"`
	Status               string            `json:"status"`
	IsRead               bool              `json:"isRead"`
	Reactions            map[string]string `json:"reactions"`
	DeletedFor           []string          `json:"deletedFor"`
	IsDeletedForEveryone bool              `json:"isDeletedForEveryone"`
}

// ImportReport counts what an import wrote and what it found already there.
type ImportReport struct {
	Users       int
	Friendships int
	Messages    int
	Skipped     int
}

// ImportLegacy copies users, friendships and messages from a legacy JSON data
// directory into db. Records already present are skipped, so an interrupted
// import can be rerun. Friendships and messages that reference unknown users
// are dropped.
func ImportLegacy(ctx context.Context, db DBAdapter, dir string, now time.Time) (*ImportReport, error) {
	var users []legacyUser
	if err := readLegacy(dir, legacyUsersFile, &users); err != nil {
		return nil, err
	}
	var friends []legacyFriend
	if err := readLegacy(dir, legacyFriendsFile, &friends); err != nil {
		return nil, err
	}
	conversations := map[string][]legacyMessage{}
	if err := readLegacy(dir, legacyMessagesFile, &conversations); err != nil {
		return nil, err
	}

	report := &ImportReport{}
	ids := make(map[string]uuid.UUID, len(users))
	for _, lu := range users {
		id, err := importUser(ctx, db, lu, now)
		switch {
		case err == nil:
			report.Users++
		case utils.IsErrorCode(err, utils.ErrConflict):
			existing, findErr := db.FindUserByUsernameOrEmail(ctx, lu.Username, strings.ToLower(strings.TrimSpace(lu.Email)))
			if findErr != nil {
				return report, errors.Wrapf(findErr, "resolving existing user %s", lu.Username)
			}
			id = existing.ID
			report.Skipped++
		default:
			return report, errors.Wrapf(err, "importing user %s", lu.Username)
		}
		ids[lu.ID] = id
	}

	// Blocklists can only be resolved once every user has an id.
	for _, lu := range users {
		for _, blocked := range lu.BlockedUsers {
			target, ok := ids[blocked]
			if !ok {
				continue
			}
			if err := db.SetBlocked(ctx, ids[lu.ID], target, true); err != nil {
				return report, errors.Wrapf(err, "importing blocklist of %s", lu.Username)
			}
		}
	}

	for _, lf := range friends {
		userID, ok1 := ids[lf.UserID]
		friendID, ok2 := ids[lf.FriendID]
		if !ok1 || !ok2 || lf.Status != string(models.FriendshipPending) && lf.Status != string(models.FriendshipAccepted) {
			jww.DEBUG.Printf("Dropping legacy friendship %s -> %s (%s)", lf.UserID, lf.FriendID, lf.Status)
			continue
		}
		created, err := importFriendship(ctx, db, userID, friendID, lf, now)
		if err != nil {
			return report, errors.Wrapf(err, "importing friendship %s -> %s", lf.UserID, lf.FriendID)
		}
		if created {
			report.Friendships++
		} else {
			report.Skipped++
		}
	}

	for key, messages := range conversations {
		for i, lm := range messages {
			msg, ok := legacyToMessage(key, i, lm, ids, now)
			if !ok {
				jww.DEBUG.Printf("Dropping legacy message %d of %s: unknown participant", i, key)
				continue
			}
			err := db.CreateMessage(ctx, msg)
			switch {
			case err == nil:
				report.Messages++
			case utils.IsErrorCode(err, utils.ErrConflict):
				report.Skipped++
			default:
				return report, errors.Wrapf(err, "importing message %d of %s", i, key)
			}
		}
	}
	return report, nil
}

func readLegacy(dir, name string, into interface{}) error {
	raw, err := os.ReadFile(filepath.Join(dir, name))
	if os.IsNotExist(err) {
		jww.WARN.Printf("Legacy import: %s not found in %s; skipping", name, dir)
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "reading %s", name)
	}
	return errors.Wrapf(json.Unmarshal(raw, into), "parsing %s", name)
}

func legacyID(raw string) uuid.UUID {
	if id, err := uuid.Parse(raw); err == nil {
		return id
	}
	return uuid.NewSHA1(legacyNamespace, []byte(raw))
}

func orNow(t, now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return t.UTC()
}

func importUser(ctx context.Context, db DBAdapter, lu legacyUser, now time.Time) (uuid.UUID, error) {
	u := &models.User{
		ID:             legacyID(lu.ID),
		Username:       lu.Username,
		Email:          strings.ToLower(strings.TrimSpace(lu.Email)),
		HashedPassword: lu.Password,
		Status:         lu.Status,
		LastSeen:       orNow(lu.LastSeen, now),
		CreatedAt:      orNow(lu.CreatedAt, now),
	}
	if u.Status == "" {
		u.Status = models.DefaultStatus
	}
	if lu.Avatar != "" {
		avatar := lu.Avatar
		u.Avatar = &avatar
	}
	return u.ID, db.CreateUser(ctx, u)
}

func importFriendship(ctx context.Context, db DBAdapter, userID, friendID uuid.UUID, lf legacyFriend, now time.Time) (bool, error) {
	if _, err := db.FindByPair(ctx, userID, friendID); err == nil {
		return false, nil
	} else if !utils.IsErrorCode(err, utils.ErrNotFound) {
		return false, err
	}

	f, err := db.CreateFriendship(ctx, userID, friendID, orNow(lf.CreatedAt, now))
	if utils.IsErrorCode(err, utils.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if lf.Status != string(models.FriendshipAccepted) {
		return true, nil
	}
	accepted := f.CreatedAt
	if lf.AcceptedAt != nil {
		accepted = lf.AcceptedAt.UTC()
	}
	_, err = db.UpdateFriendshipStatus(ctx, f.ID, models.FriendshipAccepted, accepted)
	return true, err
}

func legacyToMessage(key string, index int, lm legacyMessage, ids map[string]uuid.UUID, now time.Time) (*models.Message, bool) {
	sender, ok1 := ids[lm.SenderID]
	receiver, ok2 := ids[lm.ReceiverID]
	if !ok1 || !ok2 {
		return nil, false
	}

	id, err := uuid.Parse(lm.ID)
	if err != nil {
		id = uuid.NewSHA1(legacyNamespace, []byte(key+"/"+strconv.Itoa(index)+"/"+lm.Timestamp.String()))
	}
	created := orNow(lm.Timestamp, now)
	msg := &models.Message{
		ID:                   id,
		SenderID:             sender,
		ReceiverID:           receiver,
		Content:              lm.Content,
		Type:                 models.MessageType(lm.MessageType),
		CreatedAt:            created,
		Status:               models.MessageStatus(lm.Status),
		Reactions:            map[uuid.UUID]string{},
		IsDeletedForEveryone: lm.IsDeletedForEveryone,
	}
	if !msg.Type.Valid() {
		msg.Type = models.MessageText
	}
	if lm.IsRead {
		msg.Status = models.StatusRead
	}
	// Legacy files never recorded when a message was delivered or read.
	switch msg.Status {
	case models.StatusRead:
		msg.ReadAt = &created
	case models.StatusDelivered:
		msg.DeliveredAt = &created
	default:
		msg.Status = models.StatusSent
	}
	if msg.IsDeletedForEveryone {
		msg.DeletedAt = &created
	}
	for userID, emoji := range lm.Reactions {
		if uid, ok := ids[userID]; ok {
			msg.Reactions[uid] = emoji
		}
	}
	for _, userID := range lm.DeletedFor {
		if uid, ok := ids[userID]; ok {
			msg.DeletedFor = append(msg.DeletedFor, uid)
		}
	}
	return msg, true
}
