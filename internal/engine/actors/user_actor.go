package actors

import (
	"time"

	"gator-chat/internal/accounts"
	"gator-chat/internal/models"
	"gator-chat/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
)

// Message types handled by the UserActor
type (
	RegisterUserMsg struct {
		Request accounts.RegisterRequest
	}

	LoginMsg struct {
		Username string
		Password string
	}

	ChangePasswordMsg struct {
		UserID          uuid.UUID
		CurrentPassword string
		NewPassword     string
	}

	GetUserMsg struct {
		UserID uuid.UUID
	}

	GetProfileMsg struct {
		ViewerID uuid.UUID
		UserID   uuid.UUID
	}

	UpdateProfileMsg struct {
		UserID uuid.UUID
		Update models.ProfileUpdate
	}

	SearchUsersMsg struct {
		CallerID uuid.UUID
		Query    string
		Limit    int
	}

	GetSettingsMsg struct {
		UserID uuid.UUID
	}

	UpdatePrivacyMsg struct {
		UserID   uuid.UUID
		Settings models.PrivacySettings
	}

	UpdateNotificationsMsg struct {
		UserID   uuid.UUID
		Settings models.NotificationSettings
	}

	BlockUserMsg struct {
		UserID   uuid.UUID
		TargetID uuid.UUID
	}

	UnblockUserMsg struct {
		UserID   uuid.UUID
		TargetID uuid.UUID
	}

	ListBlockedMsg struct {
		UserID uuid.UUID
	}

	CheckBlockedMsg struct {
		UserID   uuid.UUID
		TargetID uuid.UUID
	}

	// SetPresenceMsg records a connect or disconnect.
	SetPresenceMsg struct {
		UserID        uuid.UUID
		IsOnline      bool
		ConnectionRef string
		At            time.Time
	}
)

// UserActor owns registration, credentials, profiles, settings, blocklists
// and persisted presence.
type UserActor struct {
	base
	accounts *accounts.Service
}

func NewUserActor(svc *accounts.Service, metrics *utils.MetricsCollector, opTimeout time.Duration) actor.Actor {
	return &UserActor{base: newBase(metrics, opTimeout), accounts: svc}
}

func (a *UserActor) Receive(context actor.Context) {
	start := time.Now()
	ctx, cancel := a.opContext()
	defer cancel()

	switch msg := context.Message().(type) {
	case *RegisterUserMsg:
		user, err := a.accounts.Register(ctx, msg.Request)
		a.reply(context, "register_user", start, user, err)

	case *LoginMsg:
		user, err := a.accounts.Login(ctx, msg.Username, msg.Password)
		a.reply(context, "login", start, user, err)

	case *ChangePasswordMsg:
		err := a.accounts.ChangePassword(ctx, msg.UserID, msg.CurrentPassword, msg.NewPassword)
		a.reply(context, "change_password", start, true, err)

	case *GetUserMsg:
		user, err := a.accounts.Me(ctx, msg.UserID)
		a.reply(context, "get_user", start, user, err)

	case *GetProfileMsg:
		profile, err := a.accounts.Profile(ctx, msg.ViewerID, msg.UserID)
		a.reply(context, "get_profile", start, profile, err)

	case *UpdateProfileMsg:
		user, err := a.accounts.UpdateProfile(ctx, msg.UserID, msg.Update)
		a.reply(context, "update_profile", start, user, err)

	case *SearchUsersMsg:
		results, err := a.accounts.Search(ctx, msg.CallerID, msg.Query, msg.Limit)
		a.reply(context, "search_users", start, results, err)

	case *GetSettingsMsg:
		settings, err := a.accounts.Settings(ctx, msg.UserID)
		a.reply(context, "get_settings", start, settings, err)

	case *UpdatePrivacyMsg:
		user, err := a.accounts.UpdatePrivacy(ctx, msg.UserID, msg.Settings)
		a.reply(context, "update_privacy", start, user, err)

	case *UpdateNotificationsMsg:
		user, err := a.accounts.UpdateNotifications(ctx, msg.UserID, msg.Settings)
		a.reply(context, "update_notifications", start, user, err)

	case *BlockUserMsg:
		err := a.accounts.Block(ctx, msg.UserID, msg.TargetID)
		a.reply(context, "block_user", start, true, err)

	case *UnblockUserMsg:
		err := a.accounts.Unblock(ctx, msg.UserID, msg.TargetID)
		a.reply(context, "unblock_user", start, true, err)

	case *ListBlockedMsg:
		blocked, err := a.accounts.BlockedUsers(ctx, msg.UserID)
		a.reply(context, "list_blocked", start, blocked, err)

	case *CheckBlockedMsg:
		status, err := a.accounts.CheckBlocked(ctx, msg.UserID, msg.TargetID)
		a.reply(context, "check_blocked", start, status, err)

	case *SetPresenceMsg:
		user, err := a.accounts.SetPresence(ctx, msg.UserID, msg.IsOnline, msg.ConnectionRef, msg.At)
		a.reply(context, "set_presence", start, user, err)
	}
}
