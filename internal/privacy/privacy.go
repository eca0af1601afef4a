// Package privacy decides which presence and identity fields an observer may
// see. Decisions always use the data owner's settings, never the observer's.
package privacy

import (
	"time"

	"gator-chat/internal/models"
)

// Field names a gated attribute of a user.
type Field string

const (
	OnlineStatus    Field = "onlineStatus"
	LastSeen        Field = "lastSeen"
	ProfilePhoto    Field = "profilePhoto"
	ReadReceipts    Field = "readReceipts"
	TypingIndicator Field = "typingIndicator"
)

// Allows reports whether owner shares field. Unset flags share.
func Allows(owner models.PrivacySettings, field Field) bool {
	switch field {
	case OnlineStatus:
		return models.Enabled(owner.OnlineStatus)
	case LastSeen:
		return models.Enabled(owner.LastSeen)
	case ProfilePhoto:
		return models.Enabled(owner.ProfilePhoto)
	case ReadReceipts:
		return models.Enabled(owner.ReadReceipts)
	case TypingIndicator:
		return models.Enabled(owner.TypingIndicator)
	}
	return true
}

// Project returns raw when owner shares field and the field's hidden value
// otherwise: false for onlineStatus, nil for everything else.
func Project(owner models.PrivacySettings, field Field, raw interface{}) interface{} {
	if Allows(owner, field) {
		return raw
	}
	if field == OnlineStatus {
		return false
	}
	return nil
}

// Presence is what an observer learns about a user's connection state.
type Presence struct {
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen"`
}

// PresenceOf gates isOnline and lastSeen independently.
func PresenceOf(owner models.PrivacySettings, isOnline bool, lastSeen time.Time) Presence {
	p := Presence{IsOnline: isOnline && Allows(owner, OnlineStatus)}
	if Allows(owner, LastSeen) && !lastSeen.IsZero() {
		ts := lastSeen
		p.LastSeen = &ts
	}
	return p
}

// PublicProfile is a user as seen by someone other than themselves.
type PublicProfile struct {
	ID       string     `json:"id"`
	Username string     `json:"username"`
	Avatar   *string    `json:"avatar"`
	Bio      string     `json:"bio"`
	Status   string     `json:"status"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen"`
}

// ProfileFor renders u for an observer. Owners see their own profile ungated.
func ProfileFor(u *models.User, observerIsOwner bool) PublicProfile {
	settings := u.Settings.Privacy
	if observerIsOwner {
		settings = models.PrivacySettings{}
	}
	presence := PresenceOf(settings, u.IsOnline, u.LastSeen)
	profile := PublicProfile{
		ID:       u.ID.String(),
		Username: u.Username,
		Bio:      u.Bio,
		Status:   u.Status,
		IsOnline: presence.IsOnline,
		LastSeen: presence.LastSeen,
	}
	if Allows(settings, ProfilePhoto) && u.Avatar != nil {
		avatar := *u.Avatar
		profile.Avatar = &avatar
	}
	return profile
}

// Summary is the sender card attached to pushed events, photo gated.
func Summary(u *models.User) models.UserSummary {
	s := u.Summary()
	if !Allows(u.Settings.Privacy, ProfilePhoto) {
		s.Avatar = nil
	}
	return s
}
