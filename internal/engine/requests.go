package engine

import (
	"context"
	"time"

	"gator-chat/internal/accounts"
	"gator-chat/internal/engine/actors"
	"gator-chat/internal/friendship"
	"gator-chat/internal/messaging"
	"gator-chat/internal/models"
	"gator-chat/internal/privacy"

	"github.com/google/uuid"
)

// Accounts

func (e *Engine) Register(ctx context.Context, req accounts.RegisterRequest) (*models.User, error) {
	return Ask[*models.User](ctx, e, e.userActor, &actors.RegisterUserMsg{Request: req})
}

func (e *Engine) Login(ctx context.Context, username, password string) (*models.User, error) {
	return Ask[*models.User](ctx, e, e.userActor, &actors.LoginMsg{Username: username, Password: password})
}

func (e *Engine) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	_, err := Ask[bool](ctx, e, e.userActor, &actors.ChangePasswordMsg{UserID: userID, CurrentPassword: current, NewPassword: next})
	return err
}

func (e *Engine) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return Ask[*models.User](ctx, e, e.userActor, &actors.GetUserMsg{UserID: userID})
}

func (e *Engine) GetProfile(ctx context.Context, viewerID, userID uuid.UUID) (privacy.PublicProfile, error) {
	return Ask[privacy.PublicProfile](ctx, e, e.userActor, &actors.GetProfileMsg{ViewerID: viewerID, UserID: userID})
}

func (e *Engine) UpdateProfile(ctx context.Context, userID uuid.UUID, update models.ProfileUpdate) (*models.User, error) {
	return Ask[*models.User](ctx, e, e.userActor, &actors.UpdateProfileMsg{UserID: userID, Update: update})
}

func (e *Engine) SearchUsers(ctx context.Context, callerID uuid.UUID, query string, limit int) ([]privacy.PublicProfile, error) {
	return Ask[[]privacy.PublicProfile](ctx, e, e.userActor, &actors.SearchUsersMsg{CallerID: callerID, Query: query, Limit: limit})
}

func (e *Engine) GetSettings(ctx context.Context, userID uuid.UUID) (models.Settings, error) {
	return Ask[models.Settings](ctx, e, e.userActor, &actors.GetSettingsMsg{UserID: userID})
}

func (e *Engine) UpdatePrivacy(ctx context.Context, userID uuid.UUID, settings models.PrivacySettings) (*models.User, error) {
	return Ask[*models.User](ctx, e, e.userActor, &actors.UpdatePrivacyMsg{UserID: userID, Settings: settings})
}

func (e *Engine) UpdateNotifications(ctx context.Context, userID uuid.UUID, settings models.NotificationSettings) (*models.User, error) {
	return Ask[*models.User](ctx, e, e.userActor, &actors.UpdateNotificationsMsg{UserID: userID, Settings: settings})
}

func (e *Engine) Block(ctx context.Context, userID, targetID uuid.UUID) error {
	_, err := Ask[bool](ctx, e, e.userActor, &actors.BlockUserMsg{UserID: userID, TargetID: targetID})
	return err
}

func (e *Engine) Unblock(ctx context.Context, userID, targetID uuid.UUID) error {
	_, err := Ask[bool](ctx, e, e.userActor, &actors.UnblockUserMsg{UserID: userID, TargetID: targetID})
	return err
}

func (e *Engine) BlockedUsers(ctx context.Context, userID uuid.UUID) ([]models.UserSummary, error) {
	return Ask[[]models.UserSummary](ctx, e, e.userActor, &actors.ListBlockedMsg{UserID: userID})
}

func (e *Engine) CheckBlocked(ctx context.Context, userID, targetID uuid.UUID) (accounts.BlockStatus, error) {
	return Ask[accounts.BlockStatus](ctx, e, e.userActor, &actors.CheckBlockedMsg{UserID: userID, TargetID: targetID})
}

// SetPresence persists a connect or disconnect of userID.
func (e *Engine) SetPresence(ctx context.Context, userID uuid.UUID, isOnline bool, connectionRef string, at time.Time) (*models.User, error) {
	return Ask[*models.User](ctx, e, e.userActor, &actors.SetPresenceMsg{UserID: userID, IsOnline: isOnline, ConnectionRef: connectionRef, At: at})
}

// Friendships

func (e *Engine) SendFriendRequest(ctx context.Context, requesterID uuid.UUID, targetUsername string) (*friendship.Transition, error) {
	return Ask[*friendship.Transition](ctx, e, e.friendshipActor, &actors.SendFriendRequestMsg{RequesterID: requesterID, TargetUsername: targetUsername})
}

func (e *Engine) AcceptFriendRequest(ctx context.Context, requestID, actorID uuid.UUID) (*friendship.Transition, error) {
	return Ask[*friendship.Transition](ctx, e, e.friendshipActor, &actors.AcceptFriendRequestMsg{RequestID: requestID, ActorID: actorID})
}

func (e *Engine) DeclineFriendRequest(ctx context.Context, requestID, actorID uuid.UUID) (*models.Friendship, error) {
	return Ask[*models.Friendship](ctx, e, e.friendshipActor, &actors.DeclineFriendRequestMsg{RequestID: requestID, ActorID: actorID})
}

func (e *Engine) RemoveFriend(ctx context.Context, userID, friendID uuid.UUID) error {
	_, err := Ask[bool](ctx, e, e.friendshipActor, &actors.RemoveFriendMsg{UserID: userID, FriendID: friendID})
	return err
}

func (e *Engine) PendingRequests(ctx context.Context, userID uuid.UUID) ([]friendship.PendingRequest, error) {
	return Ask[[]friendship.PendingRequest](ctx, e, e.friendshipActor, &actors.GetPendingRequestsMsg{UserID: userID})
}

func (e *Engine) Friends(ctx context.Context, userID uuid.UUID) ([]friendship.Friend, error) {
	return Ask[[]friendship.Friend](ctx, e, e.friendshipActor, &actors.GetFriendsMsg{UserID: userID})
}

func (e *Engine) FriendIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return Ask[[]uuid.UUID](ctx, e, e.friendshipActor, &actors.GetFriendIDsMsg{UserID: userID})
}

// Messages

func (e *Engine) SendMessage(ctx context.Context, req messaging.SendRequest) (*messaging.SendResult, error) {
	return Ask[*messaging.SendResult](ctx, e, e.messageActor, &actors.SendMessageMsg{Request: req})
}

func (e *Engine) MarkDelivered(ctx context.Context, messageID uuid.UUID) (*models.Message, bool, error) {
	d, err := Ask[*actors.Delivery](ctx, e, e.messageActor, &actors.MarkDeliveredMsg{MessageID: messageID})
	if err != nil {
		return nil, false, err
	}
	return d.Message, d.Changed, nil
}

func (e *Engine) MarkRead(ctx context.Context, readerID, senderID uuid.UUID, messageIDs []uuid.UUID) (*messaging.ReadResult, error) {
	return Ask[*messaging.ReadResult](ctx, e, e.messageActor, &actors.MarkReadMsg{ReaderID: readerID, SenderID: senderID, MessageIDs: messageIDs})
}

func (e *Engine) React(ctx context.Context, messageID, userID uuid.UUID, emoji string) (*models.Message, error) {
	return Ask[*models.Message](ctx, e, e.messageActor, &actors.ReactMsg{MessageID: messageID, UserID: userID, Emoji: emoji})
}

func (e *Engine) Unreact(ctx context.Context, messageID, userID uuid.UUID) (*models.Message, error) {
	return Ask[*models.Message](ctx, e, e.messageActor, &actors.UnreactMsg{MessageID: messageID, UserID: userID})
}

func (e *Engine) DeleteForUser(ctx context.Context, messageID, userID uuid.UUID) (*models.Message, error) {
	return Ask[*models.Message](ctx, e, e.messageActor, &actors.DeleteForUserMsg{MessageID: messageID, UserID: userID})
}

func (e *Engine) DeleteForEveryone(ctx context.Context, messageID, requesterID uuid.UUID) (*models.Message, error) {
	return Ask[*models.Message](ctx, e, e.messageActor, &actors.DeleteForEveryoneMsg{MessageID: messageID, RequesterID: requesterID})
}

func (e *Engine) Conversation(ctx context.Context, viewerID, peerID uuid.UUID, since *time.Time) (*messaging.History, error) {
	return Ask[*messaging.History](ctx, e, e.messageActor, &actors.GetConversationMsg{ViewerID: viewerID, PeerID: peerID, Since: since})
}

func (e *Engine) RecentConversations(ctx context.Context, userID uuid.UUID) ([]messaging.ConversationSummary, error) {
	return Ask[[]messaging.ConversationSummary](ctx, e, e.messageActor, &actors.GetRecentConversationsMsg{UserID: userID})
}
