package api

import (
	"time"

	"gator-chat/internal/models"
)

// LoginResponse is returned by both register and login.
type LoginResponse struct {
	Success   bool         `json:"success"`
	Token     string       `json:"token,omitempty"`
	ExpiresAt time.Time    `json:"expiresAt"`
	UserID    string       `json:"userId"`
	User      *models.User `json:"user"`
}
