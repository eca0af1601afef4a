package handlers

import (
	"net/http"
	"time"

	"gator-chat/internal/api"
)

// HandleHealth reports liveness and how many users hold a live connection.
func (s *Server) HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, api.HealthResponse{
			Status:      "healthy",
			OnlineUsers: s.Hub.OnlineCount(),
			ServerTime:  time.Now().UTC(),
		})
	}
}
