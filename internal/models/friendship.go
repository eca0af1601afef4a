package models

import (
	"time"

	"github.com/google/uuid"
)

type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
)

// Friendship is one record per unordered pair. UserID sent the request,
// FriendID received it and is the only party that may answer it.
type Friendship struct {
	ID        uuid.UUID        `json:"id"`
	UserID    uuid.UUID        `json:"userId"`
	FriendID  uuid.UUID        `json:"friendId"`
	Status    FriendshipStatus `json:"status"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

func (f *Friendship) Involves(userID uuid.UUID) bool {
	return f.UserID == userID || f.FriendID == userID
}

// Other returns the counterpart of userID in the relationship.
func (f *Friendship) Other(userID uuid.UUID) uuid.UUID {
	if f.UserID == userID {
		return f.FriendID
	}
	return f.UserID
}

func (f *Friendship) Clone() *Friendship {
	if f == nil {
		return nil
	}
	c := *f
	return &c
}

// PairKey is the order-independent key of a user pair.
func PairKey(a, b uuid.UUID) string {
	return ConversationID(a, b)
}
