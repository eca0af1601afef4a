package database

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"gator-chat/internal/models"
	"gator-chat/internal/utils"

	"github.com/google/uuid"
)

// MemoryStore keeps records in process memory. Every mutation runs under a
// single lock, so conditional updates are atomic.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]UserRecord
	messages    map[string]MessageRecord
	friendships map[string]FriendshipRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]UserRecord),
		messages:    make(map[string]MessageRecord),
		friendships: make(map[string]FriendshipRecord),
	}
}

func (s *MemoryStore) InitializeTables(ctx context.Context) error { return nil }

func (s *MemoryStore) Close(ctx context.Context) error { return nil }

// Identity

func (s *MemoryStore) FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[id.String()]
	if !ok {
		return nil, utils.NewNotFoundError("user")
	}
	return recordToUser(rec)
}

func (s *MemoryStore) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := usernameKey(username)
	for _, rec := range s.users {
		if rec.UsernameKey == key {
			return recordToUser(rec)
		}
	}
	return nil, utils.NewNotFoundError("user")
}

func (s *MemoryStore) FindUserByUsernameOrEmail(ctx context.Context, username, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := usernameKey(username)
	email = strings.ToLower(strings.TrimSpace(email))
	for _, rec := range s.users {
		if rec.UsernameKey == key || (email != "" && rec.Email == email) {
			return recordToUser(rec)
		}
	}
	return nil, utils.NewNotFoundError("user")
}

func (s *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	rec := userToRecord(user)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[rec.ID]; exists {
		return utils.NewConflictError("user already exists")
	}
	for _, other := range s.users {
		if other.UsernameKey == rec.UsernameKey {
			return utils.NewConflictError("username already taken")
		}
		if rec.Email != "" && other.Email == rec.Email {
			return utils.NewConflictError("email already registered")
		}
	}
	s.users[rec.ID] = rec
	return nil
}

// updateUser applies fn to the stored user and writes the result back.
func (s *MemoryStore) updateUser(id uuid.UUID, fn func(u *models.User)) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[id.String()]
	if !ok {
		return nil, utils.NewNotFoundError("user")
	}
	u, err := recordToUser(rec)
	if err != nil {
		return nil, err
	}
	fn(u)
	s.users[rec.ID] = userToRecord(u)
	return u.Clone(), nil
}

func (s *MemoryStore) UpdateProfile(ctx context.Context, id uuid.UUID, update models.ProfileUpdate) (*models.User, error) {
	return s.updateUser(id, func(u *models.User) {
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

func (s *MemoryStore) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	_, err := s.updateUser(id, func(u *models.User) {
		u.HashedPassword = passwordHash
	})
	return err
}

func (s *MemoryStore) UpdatePrivacySettings(ctx context.Context, id uuid.UUID, settings models.PrivacySettings) (*models.User, error) {
	return s.updateUser(id, func(u *models.User) {
		u.Settings.Privacy = u.Settings.Privacy.Merge(settings)
	})
}

func (s *MemoryStore) UpdateNotificationSettings(ctx context.Context, id uuid.UUID, settings models.NotificationSettings) (*models.User, error) {
	return s.updateUser(id, func(u *models.User) {
		u.Settings.Notifications = u.Settings.Notifications.Merge(settings)
	})
}

func (s *MemoryStore) UpdateOnlineStatus(ctx context.Context, id uuid.UUID, isOnline bool, connectionRef string, lastSeen time.Time) error {
	_, err := s.updateUser(id, func(u *models.User) {
		if !isOnline && u.ConnectionRef != connectionRef {
			return
		}
		u.IsOnline = isOnline
		u.ConnectionRef = connectionRef
		if !isOnline {
			u.ConnectionRef = ""
		}
		u.LastSeen = lastSeen
	})
	return err
}

func (s *MemoryStore) SetBlocked(ctx context.Context, id, target uuid.UUID, blocked bool) error {
	_, err := s.updateUser(id, func(u *models.User) {
		kept := u.BlockedUsers[:0]
		for _, b := range u.BlockedUsers {
			if b != target {
				kept = append(kept, b)
			}
		}
		if blocked {
			kept = append(kept, target)
		}
		u.BlockedUsers = kept
	})
	return err
}

func (s *MemoryStore) SearchUsers(ctx context.Context, query string, limit int) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	needle := usernameKey(query)
	matches := make([]UserRecord, 0)
	for _, rec := range s.users {
		if strings.HasPrefix(rec.UsernameKey, needle) {
			matches = append(matches, rec)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].UsernameKey < matches[j].UsernameKey })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	users := make([]*models.User, 0, len(matches))
	for _, rec := range matches {
		u, err := recordToUser(rec)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// Conversations

func (s *MemoryStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	rec := messageToRecord(msg)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.messages[rec.ID]; exists {
		return utils.NewConflictError("message already exists")
	}
	s.messages[rec.ID] = rec
	return nil
}

func (s *MemoryStore) FindMessage(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.messages[id.String()]
	if !ok {
		return nil, utils.NewNotFoundError("message")
	}
	return recordToMessage(rec)
}

func (s *MemoryStore) FindByConversationID(ctx context.Context, conversationID string, since *time.Time) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := make([]MessageRecord, 0)
	for _, rec := range s.messages {
		if rec.ConversationID != conversationID {
			continue
		}
		if since != nil && !rec.CreatedAt.After(*since) {
			continue
		}
		recs = append(recs, rec)
	}
	return sortedMessages(recs)
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id uuid.UUID, next models.MessageStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.messages[id.String()]
	if !ok {
		return false, utils.NewNotFoundError("message")
	}
	allowed := false
	for _, from := range next.Predecessors() {
		if rec.Status == string(from) {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}
	rec.Status = string(next)
	stamp := at
	switch next {
	case models.StatusDelivered:
		if rec.DeliveredAt == nil {
			rec.DeliveredAt = &stamp
		}
	case models.StatusRead:
		if rec.ReadAt == nil {
			rec.ReadAt = &stamp
		}
	}
	s.messages[rec.ID] = rec
	return true, nil
}

// updateMessage applies fn to the stored message and writes the result back.
func (s *MemoryStore) updateMessage(id uuid.UUID, fn func(m *models.Message)) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.messages[id.String()]
	if !ok {
		return nil, utils.NewNotFoundError("message")
	}
	m, err := recordToMessage(rec)
	if err != nil {
		return nil, err
	}
	fn(m)
	s.messages[rec.ID] = messageToRecord(m)
	return m.Clone(), nil
}

func (s *MemoryStore) AddReaction(ctx context.Context, id, userID uuid.UUID, emoji string) (*models.Message, error) {
	return s.updateMessage(id, func(m *models.Message) {
		m.Reactions[userID] = emoji
	})
}

func (s *MemoryStore) RemoveReaction(ctx context.Context, id, userID uuid.UUID) (*models.Message, error) {
	return s.updateMessage(id, func(m *models.Message) {
		delete(m.Reactions, userID)
	})
}

func (s *MemoryStore) SoftDeleteForUser(ctx context.Context, id, userID uuid.UUID) (*models.Message, error) {
	return s.updateMessage(id, func(m *models.Message) {
		if !m.IsDeletedFor(userID) {
			m.DeletedFor = append(m.DeletedFor, userID)
		}
	})
}

func (s *MemoryStore) SoftDeleteForEveryone(ctx context.Context, id uuid.UUID, at time.Time) (*models.Message, error) {
	return s.updateMessage(id, func(m *models.Message) {
		if m.IsDeletedForEveryone {
			return
		}
		stamp := at
		m.IsDeletedForEveryone = true
		m.DeletedAt = &stamp
	})
}

func (s *MemoryStore) FindRecentConversationsByUser(ctx context.Context, userID uuid.UUID) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	uid := userID.String()
	latest := make(map[string]MessageRecord)
	for _, rec := range s.messages {
		if rec.SenderID != uid && rec.ReceiverID != uid {
			continue
		}
		if cur, ok := latest[rec.ConversationID]; !ok || rec.CreatedAt.After(cur.CreatedAt) {
			latest[rec.ConversationID] = rec
		}
	}
	recs := make([]MessageRecord, 0, len(latest))
	for _, rec := range latest {
		recs = append(recs, rec)
	}
	msgs, err := sortedMessages(recs)
	if err != nil {
		return nil, err
	}
	// newest conversation first
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func sortedMessages(recs []MessageRecord) ([]*models.Message, error) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
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

// Friendships

func (s *MemoryStore) CreateFriendship(ctx context.Context, userID, friendID uuid.UUID, at time.Time) (*models.Friendship, error) {
	f := &models.Friendship{
		ID:        uuid.New(),
		UserID:    userID,
		FriendID:  friendID,
		Status:    models.FriendshipPending,
		CreatedAt: at,
		UpdatedAt: at,
	}
	rec := friendshipToRecord(f)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.friendships {
		if other.PairKey == rec.PairKey {
			return nil, utils.NewConflictError("friendship already exists")
		}
	}
	s.friendships[rec.ID] = rec
	return f.Clone(), nil
}

func (s *MemoryStore) FindFriendship(ctx context.Context, id uuid.UUID) (*models.Friendship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.friendships[id.String()]
	if !ok {
		return nil, utils.NewNotFoundError("friendship")
	}
	return recordToFriendship(rec)
}

func (s *MemoryStore) FindByPair(ctx context.Context, a, b uuid.UUID) (*models.Friendship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := models.PairKey(a, b)
	for _, rec := range s.friendships {
		if rec.PairKey == key {
			return recordToFriendship(rec)
		}
	}
	return nil, utils.NewNotFoundError("friendship")
}

func (s *MemoryStore) FindPending(ctx context.Context, forUserID uuid.UUID) ([]*models.Friendship, error) {
	uid := forUserID.String()
	return s.filterFriendships(func(rec FriendshipRecord) bool {
		return rec.Status == string(models.FriendshipPending) && rec.FriendID == uid
	})
}

func (s *MemoryStore) FindAccepted(ctx context.Context, forUserID uuid.UUID) ([]*models.Friendship, error) {
	uid := forUserID.String()
	return s.filterFriendships(func(rec FriendshipRecord) bool {
		return rec.Status == string(models.FriendshipAccepted) && (rec.UserID == uid || rec.FriendID == uid)
	})
}

func (s *MemoryStore) filterFriendships(keep func(FriendshipRecord) bool) ([]*models.Friendship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := make([]FriendshipRecord, 0)
	for _, rec := range s.friendships {
		if keep(rec) {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })
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

func (s *MemoryStore) UpdateFriendshipStatus(ctx context.Context, id uuid.UUID, status models.FriendshipStatus, at time.Time) (*models.Friendship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.friendships[id.String()]
	if !ok {
		return nil, utils.NewNotFoundError("friendship")
	}
	rec.Status = string(status)
	rec.UpdatedAt = at
	s.friendships[rec.ID] = rec
	return recordToFriendship(rec)
}

func (s *MemoryStore) DeleteFriendship(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.friendships[id.String()]; !ok {
		return utils.NewNotFoundError("friendship")
	}
	delete(s.friendships, id.String())
	return nil
}
