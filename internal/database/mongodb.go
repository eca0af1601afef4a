// internal/database/mongodb.go
package database

import (
	"context"
	"regexp"
	"strings"
	"time"

	"gator-chat/internal/models"
	"gator-chat/internal/utils"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoDB struct {
	Client      *mongo.Client
	Users       *mongo.Collection
	Messages    *mongo.Collection
	Friendships *mongo.Collection
}

func NewMongoDB(ctx context.Context, uri, dbName string) (*MongoDB, error) {
	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	opts := options.Client().ApplyURI(uri).SetServerAPIOptions(serverAPI)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to MongoDB")
	}

	// Ping the database to verify connection
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err(); err != nil {
		return nil, errors.Wrap(err, "failed to ping MongoDB")
	}

	jww.INFO.Println("Successfully connected to MongoDB")

	if dbName == "" {
		dbName = "gator_chat"
	}
	db := client.Database(dbName)
	return &MongoDB{
		Client:      client,
		Users:       db.Collection("users"),
		Messages:    db.Collection("messages"),
		Friendships: db.Collection("friendships"),
	}, nil
}

func (m *MongoDB) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}

// InitializeTables creates the indexes the stores rely on for uniqueness.
func (m *MongoDB) InitializeTables(ctx context.Context) error {
	indexes := []struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}{
		{m.Users, []mongo.IndexModel{
			{Keys: bson.D{{Key: "usernameKey", Value: 1}}, Options: options.Index().SetUnique(true).SetName("username_unique")},
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName("email_unique")},
		}},
		{m.Messages, []mongo.IndexModel{
			{Keys: bson.D{{Key: "conversationId", Value: 1}, {Key: "timestamp", Value: 1}}},
			{Keys: bson.D{{Key: "senderId", Value: 1}}},
			{Keys: bson.D{{Key: "receiverId", Value: 1}}},
		}},
		{m.Friendships, []mongo.IndexModel{
			{Keys: bson.D{{Key: "pairKey", Value: 1}}, Options: options.Index().SetUnique(true).SetName("pair_unique")},
			{Keys: bson.D{{Key: "friendId", Value: 1}, {Key: "status", Value: 1}}},
		}},
	}
	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateMany(ctx, idx.models); err != nil {
			return errors.Wrapf(err, "failed to create indexes on %s", idx.coll.Name())
		}
	}
	jww.INFO.Println("MongoDB indexes initialized")
	return nil
}

func mongoErr(op, what string, err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return utils.NewNotFoundError(what)
	}
	return utils.NewTransientError(op, err)
}

// --- Identity ---

func (m *MongoDB) findUser(ctx context.Context, filter bson.M) (*models.User, error) {
	var rec UserRecord
	if err := m.Users.FindOne(ctx, filter).Decode(&rec); err != nil {
		return nil, mongoErr("query user", "user", err)
	}
	return recordToUser(rec)
}

func (m *MongoDB) FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return m.findUser(ctx, bson.M{"_id": id.String()})
}

func (m *MongoDB) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return m.findUser(ctx, bson.M{"usernameKey": usernameKey(username)})
}

func (m *MongoDB) FindUserByUsernameOrEmail(ctx context.Context, username, email string) (*models.User, error) {
	return m.findUser(ctx, bson.M{"$or": []bson.M{
		{"usernameKey": usernameKey(username)},
		{"email": strings.ToLower(strings.TrimSpace(email))},
	}})
}

func (m *MongoDB) CreateUser(ctx context.Context, user *models.User) error {
	if _, err := m.Users.InsertOne(ctx, userToRecord(user)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if strings.Contains(err.Error(), "email") {
				return utils.NewConflictError("email already registered")
			}
			return utils.NewConflictError("username already taken")
		}
		return utils.NewTransientError("save user", err)
	}
	return nil
}

// updateUser applies a $set and returns the document after the update.
func (m *MongoDB) updateUser(ctx context.Context, id uuid.UUID, set bson.M) (*models.User, error) {
	if len(set) == 0 {
		return m.FindUserByID(ctx, id)
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var rec UserRecord
	err := m.Users.FindOneAndUpdate(ctx, bson.M{"_id": id.String()}, bson.M{"$set": set}, opts).Decode(&rec)
	if err != nil {
		return nil, mongoErr("update user", "user", err)
	}
	return recordToUser(rec)
}

func (m *MongoDB) UpdateProfile(ctx context.Context, id uuid.UUID, update models.ProfileUpdate) (*models.User, error) {
	set := bson.M{}
	if update.Avatar != nil {
		set["avatar"] = *update.Avatar
	}
	if update.Bio != nil {
		set["bio"] = *update.Bio
	}
	if update.Status != nil {
		set["status"] = *update.Status
	}
	return m.updateUser(ctx, id, set)
}

func (m *MongoDB) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	_, err := m.updateUser(ctx, id, bson.M{"passwordHash": passwordHash})
	return err
}

// Embedded settings structs carry no bson tags, so their keys are the
// lowercased field names.
func (m *MongoDB) UpdatePrivacySettings(ctx context.Context, id uuid.UUID, settings models.PrivacySettings) (*models.User, error) {
	set := bson.M{}
	setFlag(set, "settings.privacy.onlinestatus", settings.OnlineStatus)
	setFlag(set, "settings.privacy.lastseen", settings.LastSeen)
	setFlag(set, "settings.privacy.profilephoto", settings.ProfilePhoto)
	setFlag(set, "settings.privacy.readreceipts", settings.ReadReceipts)
	setFlag(set, "settings.privacy.typingindicator", settings.TypingIndicator)
	return m.updateUser(ctx, id, set)
}

func (m *MongoDB) UpdateNotificationSettings(ctx context.Context, id uuid.UUID, settings models.NotificationSettings) (*models.User, error) {
	set := bson.M{}
	setFlag(set, "settings.notifications.messagenotifications", settings.MessageNotifications)
	setFlag(set, "settings.notifications.friendrequests", settings.FriendRequests)
	return m.updateUser(ctx, id, set)
}

func setFlag(set bson.M, key string, flag *bool) {
	if flag != nil {
		set[key] = *flag
	}
}

func (m *MongoDB) UpdateOnlineStatus(ctx context.Context, id uuid.UUID, isOnline bool, connectionRef string, lastSeen time.Time) error {
	if isOnline {
		_, err := m.updateUser(ctx, id, bson.M{
			"isOnline":      true,
			"connectionRef": connectionRef,
			"lastSeen":      lastSeen,
		})
		return err
	}
	res, err := m.Users.UpdateOne(ctx,
		bson.M{"_id": id.String(), "connectionRef": connectionRef},
		bson.M{"$set": bson.M{"isOnline": false, "connectionRef": "", "lastSeen": lastSeen}})
	if err != nil {
		return mongoErr("update online status", "user", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	_, err = m.FindUserByID(ctx, id)
	return err
}

func (m *MongoDB) SetBlocked(ctx context.Context, id, target uuid.UUID, blocked bool) error {
	update := bson.M{"$pull": bson.M{"blockedUsers": target.String()}}
	if blocked {
		update = bson.M{"$addToSet": bson.M{"blockedUsers": target.String()}}
	}
	result, err := m.Users.UpdateOne(ctx, bson.M{"_id": id.String()}, update)
	if err != nil {
		return utils.NewTransientError("update blocklist", err)
	}
	if result.MatchedCount == 0 {
		return utils.NewNotFoundError("user")
	}
	return nil
}

func (m *MongoDB) SearchUsers(ctx context.Context, query string, limit int) ([]*models.User, error) {
	filter := bson.M{"usernameKey": bson.M{"$regex": "^" + regexp.QuoteMeta(usernameKey(query))}}
	opts := options.Find().SetSort(bson.D{{Key: "usernameKey", Value: 1}}).SetLimit(int64(limit))
	cursor, err := m.Users.Find(ctx, filter, opts)
	if err != nil {
		return nil, utils.NewTransientError("search users", err)
	}
	defer cursor.Close(ctx)

	var recs []UserRecord
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, utils.NewTransientError("decode users", err)
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

func (m *MongoDB) CreateMessage(ctx context.Context, msg *models.Message) error {
	if _, err := m.Messages.InsertOne(ctx, messageToRecord(msg)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return utils.NewConflictError("message already exists")
		}
		return utils.NewTransientError("save message", err)
	}
	return nil
}

func (m *MongoDB) FindMessage(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	var rec MessageRecord
	if err := m.Messages.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&rec); err != nil {
		return nil, mongoErr("query message", "message", err)
	}
	return recordToMessage(rec)
}

func decodeMessages(ctx context.Context, cursor *mongo.Cursor) ([]*models.Message, error) {
	defer cursor.Close(ctx)
	var recs []MessageRecord
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, utils.NewTransientError("decode messages", err)
	}
	msgs := make([]*models.Message, 0, len(recs))
	for _, rec := range recs {
		msg, err := recordToMessage(rec)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (m *MongoDB) FindByConversationID(ctx context.Context, conversationID string, since *time.Time) ([]*models.Message, error) {
	filter := bson.M{"conversationId": conversationID}
	if since != nil {
		filter["timestamp"] = bson.M{"$gt": *since}
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := m.Messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, utils.NewTransientError("query conversation", err)
	}
	return decodeMessages(ctx, cursor)
}

func (m *MongoDB) UpdateStatus(ctx context.Context, id uuid.UUID, next models.MessageStatus, at time.Time) (bool, error) {
	from := make([]string, 0, 2)
	for _, s := range next.Predecessors() {
		from = append(from, string(s))
	}
	if len(from) == 0 {
		return false, nil
	}

	set := bson.M{"status": string(next)}
	switch next {
	case models.StatusDelivered:
		set["deliveredAt"] = bson.M{"$ifNull": bson.A{"$deliveredAt", at}}
	case models.StatusRead:
		set["readAt"] = bson.M{"$ifNull": bson.A{"$readAt", at}}
	}
	filter := bson.M{"_id": id.String(), "status": bson.M{"$in": from}}
	result, err := m.Messages.UpdateOne(ctx, filter, mongo.Pipeline{{{Key: "$set", Value: set}}})
	if err != nil {
		return false, utils.NewTransientError("update message status", err)
	}
	if result.MatchedCount > 0 {
		return true, nil
	}

	count, err := m.Messages.CountDocuments(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return false, utils.NewTransientError("check message", err)
	}
	if count == 0 {
		return false, utils.NewNotFoundError("message")
	}
	return false, nil
}

func (m *MongoDB) updateMessage(ctx context.Context, op string, id uuid.UUID, update interface{}) (*models.Message, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var rec MessageRecord
	if err := m.Messages.FindOneAndUpdate(ctx, bson.M{"_id": id.String()}, update, opts).Decode(&rec); err != nil {
		return nil, mongoErr(op, "message", err)
	}
	return recordToMessage(rec)
}

func (m *MongoDB) AddReaction(ctx context.Context, id, userID uuid.UUID, emoji string) (*models.Message, error) {
	return m.updateMessage(ctx, "add reaction", id,
		bson.M{"$set": bson.M{"reactions." + userID.String(): emoji}})
}

func (m *MongoDB) RemoveReaction(ctx context.Context, id, userID uuid.UUID) (*models.Message, error) {
	return m.updateMessage(ctx, "remove reaction", id,
		bson.M{"$unset": bson.M{"reactions." + userID.String(): ""}})
}

func (m *MongoDB) SoftDeleteForUser(ctx context.Context, id, userID uuid.UUID) (*models.Message, error) {
	return m.updateMessage(ctx, "delete message for user", id,
		bson.M{"$addToSet": bson.M{"deletedFor": userID.String()}})
}

func (m *MongoDB) SoftDeleteForEveryone(ctx context.Context, id uuid.UUID, at time.Time) (*models.Message, error) {
	return m.updateMessage(ctx, "delete message for everyone", id, mongo.Pipeline{{{Key: "$set", Value: bson.M{
		"isDeletedForEveryone": true,
		"deletedAt":            bson.M{"$ifNull": bson.A{"$deletedAt", at}},
	}}}})
}

func (m *MongoDB) FindRecentConversationsByUser(ctx context.Context, userID uuid.UUID) ([]*models.Message, error) {
	uid := userID.String()
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"$or": []bson.M{{"senderId": uid}, {"receiverId": uid}}}}},
		{{Key: "$sort", Value: bson.D{{Key: "timestamp", Value: -1}}}},
		{{Key: "$group", Value: bson.M{"_id": "$conversationId", "latest": bson.M{"$first": "$$ROOT"}}}},
		{{Key: "$replaceRoot", Value: bson.M{"newRoot": "$latest"}}},
		{{Key: "$sort", Value: bson.D{{Key: "timestamp", Value: -1}}}},
	}
	cursor, err := m.Messages.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, utils.NewTransientError("query recent conversations", err)
	}
	return decodeMessages(ctx, cursor)
}

// --- Friendships ---

func (m *MongoDB) CreateFriendship(ctx context.Context, userID, friendID uuid.UUID, at time.Time) (*models.Friendship, error) {
	f := &models.Friendship{
		ID:        uuid.New(),
		UserID:    userID,
		FriendID:  friendID,
		Status:    models.FriendshipPending,
		CreatedAt: at,
		UpdatedAt: at,
	}
	if _, err := m.Friendships.InsertOne(ctx, friendshipToRecord(f)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, utils.NewConflictError("friendship already exists")
		}
		return nil, utils.NewTransientError("save friendship", err)
	}
	return f, nil
}

func (m *MongoDB) findFriendship(ctx context.Context, filter bson.M) (*models.Friendship, error) {
	var rec FriendshipRecord
	if err := m.Friendships.FindOne(ctx, filter).Decode(&rec); err != nil {
		return nil, mongoErr("query friendship", "friendship", err)
	}
	return recordToFriendship(rec)
}

func (m *MongoDB) FindFriendship(ctx context.Context, id uuid.UUID) (*models.Friendship, error) {
	return m.findFriendship(ctx, bson.M{"_id": id.String()})
}

func (m *MongoDB) FindByPair(ctx context.Context, a, b uuid.UUID) (*models.Friendship, error) {
	return m.findFriendship(ctx, bson.M{"pairKey": models.PairKey(a, b)})
}

func (m *MongoDB) findFriendships(ctx context.Context, filter bson.M) ([]*models.Friendship, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cursor, err := m.Friendships.Find(ctx, filter, opts)
	if err != nil {
		return nil, utils.NewTransientError("query friendships", err)
	}
	defer cursor.Close(ctx)

	var recs []FriendshipRecord
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, utils.NewTransientError("decode friendships", err)
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

func (m *MongoDB) FindPending(ctx context.Context, forUserID uuid.UUID) ([]*models.Friendship, error) {
	return m.findFriendships(ctx, bson.M{"friendId": forUserID.String(), "status": string(models.FriendshipPending)})
}

func (m *MongoDB) FindAccepted(ctx context.Context, forUserID uuid.UUID) ([]*models.Friendship, error) {
	uid := forUserID.String()
	return m.findFriendships(ctx, bson.M{
		"$or":    []bson.M{{"userId": uid}, {"friendId": uid}},
		"status": string(models.FriendshipAccepted),
	})
}

func (m *MongoDB) UpdateFriendshipStatus(ctx context.Context, id uuid.UUID, status models.FriendshipStatus, at time.Time) (*models.Friendship, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	update := bson.M{"$set": bson.M{"status": string(status), "updatedAt": at}}
	var rec FriendshipRecord
	if err := m.Friendships.FindOneAndUpdate(ctx, bson.M{"_id": id.String()}, update, opts).Decode(&rec); err != nil {
		return nil, mongoErr("update friendship", "friendship", err)
	}
	return recordToFriendship(rec)
}

func (m *MongoDB) DeleteFriendship(ctx context.Context, id uuid.UUID) error {
	result, err := m.Friendships.DeleteOne(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return utils.NewTransientError("delete friendship", err)
	}
	if result.DeletedCount == 0 {
		return utils.NewNotFoundError("friendship")
	}
	return nil
}
