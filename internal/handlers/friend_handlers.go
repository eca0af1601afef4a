package handlers

import (
	"net/http"

	"gator-chat/internal/api"
	"gator-chat/internal/privacy"

	jww "github.com/spf13/jwalterweatherman"
)

// FriendRequestRequest names the user to befriend.
type FriendRequestRequest struct {
	Username string `json:"username"`
}

func (s *Server) HandleSendFriendRequest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req FriendRequestRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx, cancel := s.requestContext(r)
		defer cancel()
		t, err := s.Engine.SendFriendRequest(ctx, callerID(r), req.Username)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		jww.INFO.Printf("Friend request %s from %s to %s", t.Friendship.ID, t.Requester.ID, t.Target.ID)
		s.Protocol.NotifyFriendRequest(t)
		writeJSON(w, http.StatusCreated, t.Friendship)
	}
}

// HandlePendingRequests lists requests waiting for the caller's answer.
func (s *Server) HandlePendingRequests() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := s.requestContext(r)
		defer cancel()
		pending, err := s.Engine.PendingRequests(ctx, callerID(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		views := make([]api.FriendRequestView, 0, len(pending))
		for _, p := range pending {
			views = append(views, api.FriendRequestView{
				ID:        p.Friendship.ID,
				From:      privacy.Summary(p.Requester),
				CreatedAt: p.Friendship.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func (s *Server) HandleAcceptFriendRequest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID, err := pathID(r, "id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx, cancel := s.requestContext(r)
		defer cancel()
		t, err := s.Engine.AcceptFriendRequest(ctx, requestID, callerID(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.Protocol.NotifyFriendAccepted(t)
		writeJSON(w, http.StatusOK, t.Friendship)
	}
}

func (s *Server) HandleDeclineFriendRequest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID, err := pathID(r, "id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx, cancel := s.requestContext(r)
		defer cancel()
		f, err := s.Engine.DeclineFriendRequest(ctx, requestID, callerID(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, f)
	}
}

// HandleListFriends returns accepted friends with presence projected
// through each friend's own privacy settings.
func (s *Server) HandleListFriends() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := s.requestContext(r)
		defer cancel()
		friends, err := s.Engine.Friends(ctx, callerID(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		views := make([]api.FriendView, 0, len(friends))
		for _, f := range friends {
			views = append(views, api.FriendView{
				FriendshipID: f.Friendship.ID,
				Friend:       privacy.ProfileFor(f.User, false),
				Since:        f.Friendship.UpdatedAt,
			})
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func (s *Server) HandleRemoveFriend() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		friendID, err := pathID(r, "friendId")
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx, cancel := s.requestContext(r)
		defer cancel()
		if err := s.Engine.RemoveFriend(ctx, callerID(r), friendID); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, api.MessageResponse{Success: true, Message: "friend removed"})
	}
}
