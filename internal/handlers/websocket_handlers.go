package handlers

import (
	"context"
	"net/http"

	"gator-chat/internal/utils"
	"gator-chat/internal/websocket"

	jww "github.com/spf13/jwalterweatherman"
)

// HandleWebSocket authenticates the token query parameter, upgrades the
// connection and makes it the user's live connection.
func (s *Server) HandleWebSocket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.URL.Query().Get("token")
		if tokenString == "" {
			s.writeError(w, r, utils.NewAppError(utils.ErrAuthRequired, "missing authentication token", nil))
			return
		}
		claims, err := s.Tokens.ValidateToken(tokenString)
		if err != nil {
			jww.DEBUG.Printf("WebSocket connection refused: %v", err)
			s.writeError(w, r, err)
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// The upgrader has already answered the request.
			jww.WARN.Printf("WebSocket upgrade failed for User %s: %v", claims.UserID, err)
			return
		}

		client := websocket.NewClient(s.Hub, claims.UserID, claims.Username, conn)
		ctx, cancel := context.WithTimeout(context.Background(), s.RequestTimeout)
		s.Hub.Register(ctx, client)
		cancel()

		go client.WritePump()
		go client.ReadPump(s.Protocol.Handle)
	}
}
