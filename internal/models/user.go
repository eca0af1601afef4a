package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultStatus is the status line given to new accounts.
const DefaultStatus = "Hey there! I am using ChatApp"

type User struct {
	ID             uuid.UUID   `json:"id"`
	Username       string      `json:"username"`
	Email          string      `json:"email"`
	HashedPassword string      `json:"-"`
	Avatar         *string     `json:"avatar"`
	Bio            string      `json:"bio"`
	Status         string      `json:"status"`
	IsOnline       bool        `json:"isOnline"`
	LastSeen       time.Time   `json:"lastSeen"`
	ConnectionRef  string      `json:"-"` // weak reference to the live connection
	BlockedUsers   []uuid.UUID `json:"blockedUsers"`
	Settings       Settings    `json:"settings"`
	CreatedAt      time.Time   `json:"createdAt"`
}

func (u *User) HasBlocked(other uuid.UUID) bool {
	for _, id := range u.BlockedUsers {
		if id == other {
			return true
		}
	}
	return false
}

func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.Avatar != nil {
		a := *u.Avatar
		c.Avatar = &a
	}
	c.BlockedUsers = append([]uuid.UUID(nil), u.BlockedUsers...)
	c.Settings = u.Settings.Clone()
	return &c
}

// Summary is the small identity card attached to pushed events.
func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Username: u.Username, Avatar: u.Avatar}
}

type UserSummary struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Avatar   *string   `json:"avatar"`
}

// ProfileUpdate carries the display fields a user may change. Nil leaves a
// field untouched.
type ProfileUpdate struct {
	Avatar *string `json:"avatar"`
	Bio    *string `json:"bio"`
	Status *string `json:"status"`
}
