// Package friendship implements the request, accept, decline and remove
// transitions over the one-record-per-pair friendship store.
package friendship

import (
	"context"
	"strings"
	"time"

	"gator-chat/internal/database"
	"gator-chat/internal/models"
	"gator-chat/internal/utils"

	"github.com/google/uuid"
	jww "github.com/spf13/jwalterweatherman"
)

type Service struct {
	users   database.IdentityStore
	friends database.FriendshipStore
	now     func() time.Time
}

func NewService(users database.IdentityStore, friends database.FriendshipStore, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{users: users, friends: friends, now: now}
}

// Transition is a friendship together with both of its parties.
type Transition struct {
	Friendship *models.Friendship
	Requester  *models.User
	Target     *models.User
}

// Request opens a pending friendship from requesterID to the user named
// targetUsername. Any existing record for the pair rejects the request.
func (s *Service) Request(ctx context.Context, requesterID uuid.UUID, targetUsername string) (*Transition, error) {
	targetUsername = strings.TrimSpace(targetUsername)
	if targetUsername == "" {
		return nil, utils.NewValidationError("friend username is required")
	}

	requester, err := s.users.FindUserByID(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	target, err := s.users.FindUserByUsername(ctx, targetUsername)
	if err != nil {
		return nil, err
	}
	if target.ID == requester.ID {
		return nil, utils.NewValidationError("you cannot add yourself")
	}
	if requester.HasBlocked(target.ID) || target.HasBlocked(requester.ID) {
		return nil, utils.NewAppError(utils.ErrBlocked, "cannot send a friend request to this user", nil)
	}

	existing, err := s.friends.FindByPair(ctx, requester.ID, target.ID)
	switch {
	case err == nil:
		return nil, conflictFor(existing)
	case !utils.IsErrorCode(err, utils.ErrNotFound):
		return nil, err
	}

	f, err := s.friends.CreateFriendship(ctx, requester.ID, target.ID, s.now().UTC())
	if err != nil {
		// lost a race with a concurrent request for the same pair
		if utils.IsErrorCode(err, utils.ErrConflict) {
			if existing, findErr := s.friends.FindByPair(ctx, requester.ID, target.ID); findErr == nil {
				return nil, conflictFor(existing)
			}
		}
		return nil, err
	}

	jww.INFO.Printf("Friend request %s: %s -> %s", f.ID, requester.Username, target.Username)
	return &Transition{Friendship: f, Requester: requester, Target: target}, nil
}

func conflictFor(f *models.Friendship) error {
	if f.Status == models.FriendshipAccepted {
		return utils.NewConflictError("you are already friends")
	}
	return utils.NewConflictError("friend request already sent")
}

// pendingFor loads a pending request that actorID is allowed to answer.
func (s *Service) pendingFor(ctx context.Context, requestID, actorID uuid.UUID) (*models.Friendship, error) {
	f, err := s.friends.FindFriendship(ctx, requestID)
	if err != nil {
		if utils.IsErrorCode(err, utils.ErrNotFound) {
			return nil, utils.NewNotFoundError("friend request")
		}
		return nil, err
	}
	if f.FriendID != actorID {
		return nil, utils.NewForbiddenError("only the recipient can answer a friend request")
	}
	if f.Status != models.FriendshipPending {
		return nil, utils.NewConflictError("friend request already accepted")
	}
	return f, nil
}

// Accept moves a pending request to accepted. Only its target may accept.
func (s *Service) Accept(ctx context.Context, requestID, actorID uuid.UUID) (*Transition, error) {
	f, err := s.pendingFor(ctx, requestID, actorID)
	if err != nil {
		return nil, err
	}
	updated, err := s.friends.UpdateFriendshipStatus(ctx, f.ID, models.FriendshipAccepted, s.now().UTC())
	if err != nil {
		return nil, err
	}

	requester, err := s.users.FindUserByID(ctx, updated.UserID)
	if err != nil {
		return nil, err
	}
	target, err := s.users.FindUserByID(ctx, updated.FriendID)
	if err != nil {
		return nil, err
	}
	jww.INFO.Printf("Friend request %s accepted by %s", f.ID, target.Username)
	return &Transition{Friendship: updated, Requester: requester, Target: target}, nil
}

// Decline deletes a pending request so the requester may ask again later.
func (s *Service) Decline(ctx context.Context, requestID, actorID uuid.UUID) (*models.Friendship, error) {
	f, err := s.pendingFor(ctx, requestID, actorID)
	if err != nil {
		return nil, err
	}
	if err := s.friends.DeleteFriendship(ctx, f.ID); err != nil {
		return nil, err
	}
	jww.INFO.Printf("Friend request %s declined", f.ID)
	return f, nil
}

// Remove deletes an accepted friendship. Either party may remove it; message
// history is kept.
func (s *Service) Remove(ctx context.Context, userID, friendID uuid.UUID) error {
	f, err := s.friends.FindByPair(ctx, userID, friendID)
	if err != nil {
		if utils.IsErrorCode(err, utils.ErrNotFound) {
			return utils.NewNotFoundError("friendship")
		}
		return err
	}
	if f.Status != models.FriendshipAccepted {
		return utils.NewNotFoundError("friendship")
	}
	return s.friends.DeleteFriendship(ctx, f.ID)
}

// PendingRequest is an incoming request with its sender.
type PendingRequest struct {
	Friendship *models.Friendship
	Requester  *models.User
}

func (s *Service) Pending(ctx context.Context, userID uuid.UUID) ([]PendingRequest, error) {
	pending, err := s.friends.FindPending(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]PendingRequest, 0, len(pending))
	for _, f := range pending {
		requester, err := s.users.FindUserByID(ctx, f.UserID)
		if err != nil {
			if utils.IsErrorCode(err, utils.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, PendingRequest{Friendship: f, Requester: requester})
	}
	return out, nil
}

// Friend is one accepted relationship seen from a user.
type Friend struct {
	Friendship *models.Friendship
	User       *models.User
}

func (s *Service) Friends(ctx context.Context, userID uuid.UUID) ([]Friend, error) {
	accepted, err := s.friends.FindAccepted(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Friend, 0, len(accepted))
	for _, f := range accepted {
		u, err := s.users.FindUserByID(ctx, f.Other(userID))
		if err != nil {
			if utils.IsErrorCode(err, utils.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, Friend{Friendship: f, User: u})
	}
	return out, nil
}

// FriendIDs lists the counterparts of userID's accepted friendships.
func (s *Service) FriendIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	accepted, err := s.friends.FindAccepted(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(accepted))
	for _, f := range accepted {
		ids = append(ids, f.Other(userID))
	}
	return ids, nil
}

func (s *Service) AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error) {
	f, err := s.friends.FindByPair(ctx, a, b)
	if err != nil {
		if utils.IsErrorCode(err, utils.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return f.Status == models.FriendshipAccepted, nil
}
