// Package accounts covers registration, credentials, profiles, settings and
// blocklists.
package accounts

import (
	"context"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"gator-chat/internal/database"
	"gator-chat/internal/models"
	"gator-chat/internal/privacy"
	"gator-chat/internal/utils"

	"github.com/google/uuid"
	jww "github.com/spf13/jwalterweatherman"
	"golang.org/x/crypto/bcrypt"
)

const (
	MinUsernameLength  = 3
	MaxUsernameLength  = 30
	MinPasswordLength  = 6
	DefaultSearchLimit = 10
	MaxSearchLimit     = 50
	maxBioLength       = 500
	maxStatusLength    = 140
)

type Service struct {
	users      database.IdentityStore
	now        func() time.Time
	bcryptCost int
}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithBcryptCost lowers hashing cost, for tests.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

func NewService(users database.IdentityStore, opts ...Option) *Service {
	s := &Service{users: users, now: time.Now, bcryptCost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func validateUsername(username string) error {
	if n := len([]rune(username)); n < MinUsernameLength || n > MaxUsernameLength {
		return utils.NewValidationError("username must be %d-%d characters", MinUsernameLength, MaxUsernameLength)
	}
	for _, r := range username {
		if unicode.IsSpace(r) {
			return utils.NewValidationError("username cannot contain spaces")
		}
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return utils.NewValidationError("password must be at least %d characters", MinPasswordLength)
	}
	return nil
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.ToLower(strings.TrimSpace(req.Email))

	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return nil, utils.NewValidationError("a valid email is required")
	}
	if err := validatePassword(req.Password); err != nil {
		return nil, err
	}

	if _, err := s.users.FindUserByUsernameOrEmail(ctx, username, email); err == nil {
		return nil, utils.NewConflictError("username or email already exists")
	} else if !utils.IsErrorCode(err, utils.ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrValidation, "password cannot be hashed", err)
	}

	now := s.now().UTC()
	user := &models.User{
		ID:             uuid.New(),
		Username:       username,
		Email:          email,
		HashedPassword: string(hash),
		Status:         models.DefaultStatus,
		LastSeen:       now,
		CreatedAt:      now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	jww.INFO.Printf("Registered user %s (%s)", user.Username, user.ID)
	return user, nil
}

// Login checks a username/password pair. Every failure reads the same to
// the caller.
func (s *Service) Login(ctx context.Context, username, password string) (*models.User, error) {
	invalid := utils.NewAppError(utils.ErrUnauthorized, "invalid credentials", nil)

	user, err := s.users.FindUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if utils.IsErrorCode(err, utils.ErrNotFound) {
			return nil, invalid
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(password)); err != nil {
		jww.DEBUG.Printf("Failed login for %s", user.Username)
		return nil, invalid
	}
	return user, nil
}

func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	if current == "" || next == "" {
		return utils.NewValidationError("current password and new password are required")
	}
	if err := validatePassword(next); err != nil {
		return err
	}
	user, err := s.users.FindUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(current)); err != nil {
		return utils.NewValidationError("current password is incorrect")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), s.bcryptCost)
	if err != nil {
		return utils.NewAppError(utils.ErrValidation, "password cannot be hashed", err)
	}
	return s.users.UpdatePassword(ctx, userID, string(hash))
}

func (s *Service) Me(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return s.users.FindUserByID(ctx, userID)
}

// SetPresence records a connect or disconnect and returns the updated user.
func (s *Service) SetPresence(ctx context.Context, userID uuid.UUID, isOnline bool, connectionRef string, at time.Time) (*models.User, error) {
	if err := s.users.UpdateOnlineStatus(ctx, userID, isOnline, connectionRef, at); err != nil {
		return nil, err
	}
	return s.users.FindUserByID(ctx, userID)
}

func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, update models.ProfileUpdate) (*models.User, error) {
	if update.Bio != nil && len([]rune(*update.Bio)) > maxBioLength {
		return nil, utils.NewValidationError("bio cannot exceed %d characters", maxBioLength)
	}
	if update.Status != nil && len([]rune(*update.Status)) > maxStatusLength {
		return nil, utils.NewValidationError("status cannot exceed %d characters", maxStatusLength)
	}
	return s.users.UpdateProfile(ctx, userID, update)
}

// Profile renders userID as viewerID may see it.
func (s *Service) Profile(ctx context.Context, viewerID, userID uuid.UUID) (privacy.PublicProfile, error) {
	user, err := s.users.FindUserByID(ctx, userID)
	if err != nil {
		return privacy.PublicProfile{}, err
	}
	return privacy.ProfileFor(user, viewerID == userID), nil
}

// Search matches usernames containing query and never returns the caller.
func (s *Service) Search(ctx context.Context, callerID uuid.UUID, query string, limit int) ([]privacy.PublicProfile, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, utils.NewValidationError("search query is required")
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}

	users, err := s.users.SearchUsers(ctx, query, limit+1)
	if err != nil {
		return nil, err
	}
	out := make([]privacy.PublicProfile, 0, len(users))
	for _, u := range users {
		if u.ID == callerID {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, privacy.ProfileFor(u, false))
	}
	return out, nil
}

// Settings returns the user's settings with every flag made explicit.
func (s *Service) Settings(ctx context.Context, userID uuid.UUID) (models.Settings, error) {
	user, err := s.users.FindUserByID(ctx, userID)
	if err != nil {
		return models.Settings{}, err
	}
	return models.Settings{
		Privacy:       user.Settings.Privacy.Resolved(),
		Notifications: user.Settings.Notifications.Resolved(),
	}, nil
}

func (s *Service) UpdatePrivacy(ctx context.Context, userID uuid.UUID, update models.PrivacySettings) (*models.User, error) {
	return s.users.UpdatePrivacySettings(ctx, userID, update)
}

func (s *Service) UpdateNotifications(ctx context.Context, userID uuid.UUID, update models.NotificationSettings) (*models.User, error) {
	return s.users.UpdateNotificationSettings(ctx, userID, update)
}

func (s *Service) Block(ctx context.Context, userID, targetID uuid.UUID) error {
	if userID == targetID {
		return utils.NewValidationError("cannot block yourself")
	}
	user, err := s.users.FindUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := s.users.FindUserByID(ctx, targetID); err != nil {
		return err
	}
	if user.HasBlocked(targetID) {
		return utils.NewConflictError("user already blocked")
	}
	if err := s.users.SetBlocked(ctx, userID, targetID, true); err != nil {
		return err
	}
	jww.INFO.Printf("User %s blocked %s", userID, targetID)
	return nil
}

func (s *Service) Unblock(ctx context.Context, userID, targetID uuid.UUID) error {
	user, err := s.users.FindUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !user.HasBlocked(targetID) {
		return utils.NewConflictError("user is not blocked")
	}
	return s.users.SetBlocked(ctx, userID, targetID, false)
}

func (s *Service) BlockedUsers(ctx context.Context, userID uuid.UUID) ([]models.UserSummary, error) {
	user, err := s.users.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]models.UserSummary, 0, len(user.BlockedUsers))
	for _, id := range user.BlockedUsers {
		blocked, err := s.users.FindUserByID(ctx, id)
		if err != nil {
			if utils.IsErrorCode(err, utils.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, privacy.Summary(blocked))
	}
	return out, nil
}

type BlockStatus struct {
	IsBlocked   bool `json:"isBlocked"`
	IsBlockedBy bool `json:"isBlockedBy"`
}

func (s *Service) CheckBlocked(ctx context.Context, userID, targetID uuid.UUID) (BlockStatus, error) {
	user, err := s.users.FindUserByID(ctx, userID)
	if err != nil {
		return BlockStatus{}, err
	}
	target, err := s.users.FindUserByID(ctx, targetID)
	if err != nil {
		return BlockStatus{}, err
	}
	return BlockStatus{
		IsBlocked:   user.HasBlocked(targetID),
		IsBlockedBy: target.HasBlocked(userID),
	}, nil
}
