package models

// Every flag is a pointer: nil means "never set" and reads as enabled.
type Settings struct {
	Privacy       PrivacySettings      `json:"privacy"`
	Notifications NotificationSettings `json:"notifications"`
}

type PrivacySettings struct {
	OnlineStatus    *bool `json:"onlineStatus,omitempty"`
	LastSeen        *bool `json:"lastSeen,omitempty"`
	ProfilePhoto    *bool `json:"profilePhoto,omitempty"`
	ReadReceipts    *bool `json:"readReceipts,omitempty"`
	TypingIndicator *bool `json:"typingIndicator,omitempty"`
}

type NotificationSettings struct {
	MessageNotifications *bool `json:"messageNotifications,omitempty"`
	FriendRequests       *bool `json:"friendRequests,omitempty"`
}

// Enabled reads a settings flag with the open-by-default policy.
func Enabled(flag *bool) bool {
	return flag == nil || *flag
}

func Bool(b bool) *bool { return &b }

// Merge overlays the flags that are set in update.
func (p PrivacySettings) Merge(update PrivacySettings) PrivacySettings {
	pick(&p.OnlineStatus, update.OnlineStatus)
	pick(&p.LastSeen, update.LastSeen)
	pick(&p.ProfilePhoto, update.ProfilePhoto)
	pick(&p.ReadReceipts, update.ReadReceipts)
	pick(&p.TypingIndicator, update.TypingIndicator)
	return p
}

func (n NotificationSettings) Merge(update NotificationSettings) NotificationSettings {
	pick(&n.MessageNotifications, update.MessageNotifications)
	pick(&n.FriendRequests, update.FriendRequests)
	return n
}

// Resolved returns the settings with every flag made explicit.
func (p PrivacySettings) Resolved() PrivacySettings {
	return PrivacySettings{
		OnlineStatus:    Bool(Enabled(p.OnlineStatus)),
		LastSeen:        Bool(Enabled(p.LastSeen)),
		ProfilePhoto:    Bool(Enabled(p.ProfilePhoto)),
		ReadReceipts:    Bool(Enabled(p.ReadReceipts)),
		TypingIndicator: Bool(Enabled(p.TypingIndicator)),
	}
}

func (n NotificationSettings) Resolved() NotificationSettings {
	return NotificationSettings{
		MessageNotifications: Bool(Enabled(n.MessageNotifications)),
		FriendRequests:       Bool(Enabled(n.FriendRequests)),
	}
}

func (s Settings) Clone() Settings {
	return Settings{
		Privacy:       PrivacySettings{}.Merge(s.Privacy),
		Notifications: NotificationSettings{}.Merge(s.Notifications),
	}
}

func pick(dst **bool, src *bool) {
	if src != nil {
		v := *src
		*dst = &v
	}
}
