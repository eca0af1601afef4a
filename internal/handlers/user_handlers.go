package handlers

import (
	"net/http"
	"strconv"

	"gator-chat/internal/accounts"
	"gator-chat/internal/api"
	"gator-chat/internal/models"
	"gator-chat/internal/utils"

	jww "github.com/spf13/jwalterweatherman"
)

// LoginRequest represents a request to log in a user
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ChangePasswordRequest carries the current password for re-authentication.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// HandleRegister creates an account and signs the new user in.
func (s *Server) HandleRegister() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req accounts.RegisterRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx, cancel := s.requestContext(r)
		defer cancel()
		user, err := s.Engine.Register(ctx, req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.issueToken(w, r, http.StatusCreated, user)
	}
}

// HandleLogin handles requests to log in a user
func (s *Server) HandleLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx, cancel := s.requestContext(r)
		defer cancel()
		user, err := s.Engine.Login(ctx, req.Username, req.Password)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		jww.INFO.Printf("User %s logged in", user.ID)
		s.issueToken(w, r, http.StatusOK, user)
	}
}

func (s *Server) issueToken(w http.ResponseWriter, r *http.Request, status int, user *models.User) {
	token, expiresAt, err := s.Tokens.GenerateToken(user.ID, user.Username)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, status, api.LoginResponse{
		Success:   true,
		Token:     token,
		ExpiresAt: expiresAt,
		UserID:    user.ID.String(),
		User:      user,
	})
}

func (s *Server) HandleSearchUsers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				s.writeError(w, r, utils.NewValidationError("invalid limit"))
				return
			}
			limit = n
		}

		ctx, cancel := s.requestContext(r)
		defer cancel()
		users, err := s.Engine.SearchUsers(ctx, callerID(r), r.URL.Query().Get("q"), limit)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, users)
	}
}

// HandleGetProfile returns a user's profile as the caller may see it.
func (s *Server) HandleGetProfile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := pathID(r, "id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx, cancel := s.requestContext(r)
		defer cancel()
		profile, err := s.Engine.GetProfile(ctx, callerID(r), userID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	}
}

func (s *Server) HandleUpdateProfile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var update models.ProfileUpdate
		if err := decodeJSON(r, &update); err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx, cancel := s.requestContext(r)
		defer cancel()
		user, err := s.Engine.UpdateProfile(ctx, callerID(r), update)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

func (s *Server) HandleGetSettings() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := s.requestContext(r)
		defer cancel()
		settings, err := s.Engine.GetSettings(ctx, callerID(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	}
}

// HandleUpdatePrivacy stores the new flags and re-projects the caller's
// presence for every live friend.
func (s *Server) HandleUpdatePrivacy() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var settings models.PrivacySettings
		if err := decodeJSON(r, &settings); err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx, cancel := s.requestContext(r)
		defer cancel()
		user, err := s.Engine.UpdatePrivacy(ctx, callerID(r), settings)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.Protocol.NotifyPrivacyChanged(ctx, user)
		writeJSON(w, http.StatusOK, user.Settings.Privacy.Resolved())
	}
}

func (s *Server) HandleUpdateNotifications() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var settings models.NotificationSettings
		if err := decodeJSON(r, &settings); err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx, cancel := s.requestContext(r)
		defer cancel()
		user, err := s.Engine.UpdateNotifications(ctx, callerID(r), settings)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user.Settings.Notifications.Resolved())
	}
}

func (s *Server) HandleChangePassword() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChangePasswordRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx, cancel := s.requestContext(r)
		defer cancel()
		if err := s.Engine.ChangePassword(ctx, callerID(r), req.CurrentPassword, req.NewPassword); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, api.MessageResponse{Success: true, Message: "password changed"})
	}
}

func (s *Server) HandleBlock() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		targetID, err := pathID(r, "userId")
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx, cancel := s.requestContext(r)
		defer cancel()
		if err := s.Engine.Block(ctx, callerID(r), targetID); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, api.MessageResponse{Success: true, Message: "user blocked"})
	}
}

func (s *Server) HandleUnblock() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		targetID, err := pathID(r, "userId")
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx, cancel := s.requestContext(r)
		defer cancel()
		if err := s.Engine.Unblock(ctx, callerID(r), targetID); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, api.MessageResponse{Success: true, Message: "user unblocked"})
	}
}

func (s *Server) HandleListBlocked() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := s.requestContext(r)
		defer cancel()
		blocked, err := s.Engine.BlockedUsers(ctx, callerID(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, blocked)
	}
}

func (s *Server) HandleCheckBlocked() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		targetID, err := pathID(r, "userId")
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx, cancel := s.requestContext(r)
		defer cancel()
		status, err := s.Engine.CheckBlocked(ctx, callerID(r), targetID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}
