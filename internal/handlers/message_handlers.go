package handlers

import (
	"net/http"
	"time"

	"gator-chat/internal/api"
	"gator-chat/internal/privacy"
	"gator-chat/internal/utils"
)

// ReactRequest carries the single emoji to set.
type ReactRequest struct {
	Emoji string `json:"emoji"`
}

// HandleConversation returns the log with one friend. Fetching it delivers
// whatever the caller had not yet received, and the senders are told.
func (s *Server) HandleConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		friendID, err := pathID(r, "friendId")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var since *time.Time
		if raw := r.URL.Query().Get("since"); raw != "" {
			t, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				s.writeError(w, r, utils.NewValidationError("since must be an RFC 3339 timestamp"))
				return
			}
			since = &t
		}

		ctx, cancel := s.requestContext(r)
		defer cancel()
		history, err := s.Engine.Conversation(ctx, callerID(r), friendID, since)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.Protocol.NotifyDelivered(history.Delivered)

		writeJSON(w, http.StatusOK, api.ConversationView{
			Friend:   privacy.ProfileFor(history.Peer, false),
			Messages: history.Messages,
		})
	}
}

func (s *Server) HandleRecentConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := s.requestContext(r)
		defer cancel()
		summaries, err := s.Engine.RecentConversations(ctx, callerID(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		views := make([]api.ConversationSummaryView, 0, len(summaries))
		for _, c := range summaries {
			views = append(views, api.ConversationSummaryView{
				Friend:       privacy.ProfileFor(c.Friend, false),
				LastMessage:  c.LastMessage,
				LastActivity: c.LastActivity,
			})
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func (s *Server) HandleReact() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		messageID, err := pathID(r, "id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req ReactRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		userID := callerID(r)
		ctx, cancel := s.requestContext(r)
		defer cancel()
		m, err := s.Engine.React(ctx, messageID, userID, req.Emoji)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.Protocol.NotifyReaction(m, userID, req.Emoji)
		writeJSON(w, http.StatusOK, m.ViewFor(userID))
	}
}

func (s *Server) HandleUnreact() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		messageID, err := pathID(r, "id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		userID := callerID(r)
		ctx, cancel := s.requestContext(r)
		defer cancel()
		m, err := s.Engine.Unreact(ctx, messageID, userID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.Protocol.NotifyReaction(m, userID, "")
		writeJSON(w, http.StatusOK, m.ViewFor(userID))
	}
}

func (s *Server) HandleDeleteForMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		messageID, err := pathID(r, "id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx, cancel := s.requestContext(r)
		defer cancel()
		if _, err := s.Engine.DeleteForUser(ctx, messageID, callerID(r)); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, api.MessageResponse{Success: true, Message: "message deleted for you"})
	}
}

// HandleDeleteForEveryone tombstones a message the caller sent recently and
// pushes the tombstone to both parties.
func (s *Server) HandleDeleteForEveryone() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		messageID, err := pathID(r, "id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		userID := callerID(r)
		ctx, cancel := s.requestContext(r)
		defer cancel()
		m, err := s.Engine.DeleteForEveryone(ctx, messageID, userID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.Protocol.NotifyDeletedForEveryone(m)
		writeJSON(w, http.StatusOK, m.ViewFor(userID))
	}
}
