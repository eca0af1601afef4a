package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"gator-chat/internal/accounts"
	"gator-chat/internal/api"
	"gator-chat/internal/models"
	"gator-chat/internal/utils"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// API is a thin client for the REST surface.
type API struct {
	BaseURL string
	HTTP    *http.Client
}

func NewAPI(baseURL string) *API {
	return &API{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Session is a signed-in user.
type Session struct {
	UserID   uuid.UUID
	Username string
	Token    string
}

// do sends body as JSON and decodes the reply into out. Error replies come
// back as *utils.AppError.
func (a *API) do(ctx context.Context, method, path, token string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "encoding %s %s", method, path)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, reader)
	if err != nil {
		return errors.Wrapf(err, "building %s %s", method, path)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		appErr := &utils.AppError{}
		if err := json.NewDecoder(resp.Body).Decode(appErr); err != nil || appErr.Code == "" {
			return errors.Errorf("%s %s: status %d", method, path, resp.StatusCode)
		}
		return appErr
	}
	if out == nil {
		return nil
	}
	return errors.Wrapf(json.NewDecoder(resp.Body).Decode(out), "decoding %s %s", method, path)
}

func (a *API) session(resp api.LoginResponse) (*Session, error) {
	if resp.User == nil || resp.Token == "" {
		return nil, errors.New("login response without user or token")
	}
	return &Session{UserID: resp.User.ID, Username: resp.User.Username, Token: resp.Token}, nil
}

func (a *API) Register(ctx context.Context, req accounts.RegisterRequest) (*Session, error) {
	var resp api.LoginResponse
	if err := a.do(ctx, http.MethodPost, "/api/auth/register", "", req, &resp); err != nil {
		return nil, err
	}
	return a.session(resp)
}

func (a *API) Login(ctx context.Context, username, password string) (*Session, error) {
	var resp api.LoginResponse
	body := map[string]string{"username": username, "password": password}
	if err := a.do(ctx, http.MethodPost, "/api/auth/login", "", body, &resp); err != nil {
		return nil, err
	}
	return a.session(resp)
}

func (a *API) SendFriendRequest(ctx context.Context, s *Session, username string) (*models.Friendship, error) {
	var f models.Friendship
	if err := a.do(ctx, http.MethodPost, "/api/friends/request", s.Token, map[string]string{"username": username}, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (a *API) PendingRequests(ctx context.Context, s *Session) ([]api.FriendRequestView, error) {
	var pending []api.FriendRequestView
	err := a.do(ctx, http.MethodGet, "/api/friends/requests", s.Token, nil, &pending)
	return pending, err
}

func (a *API) AcceptFriendRequest(ctx context.Context, s *Session, requestID uuid.UUID) error {
	return a.do(ctx, http.MethodPost, "/api/friends/requests/"+requestID.String()+"/accept", s.Token, nil, nil)
}

func (a *API) Friends(ctx context.Context, s *Session) ([]api.FriendView, error) {
	var friends []api.FriendView
	err := a.do(ctx, http.MethodGet, "/api/friends/list", s.Token, nil, &friends)
	return friends, err
}

func (a *API) Conversation(ctx context.Context, s *Session, friendID uuid.UUID) (*api.ConversationView, error) {
	var view api.ConversationView
	if err := a.do(ctx, http.MethodGet, "/api/messages/conversation/"+friendID.String(), s.Token, nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (a *API) React(ctx context.Context, s *Session, messageID uuid.UUID, emoji string) error {
	return a.do(ctx, http.MethodPost, "/api/messages/"+messageID.String()+"/react", s.Token, map[string]string{"emoji": emoji}, nil)
}

// Connect opens the realtime channel for s.
func (a *API) Connect(ctx context.Context, s *Session) (*Client, error) {
	return Dial(ctx, a.BaseURL, s.Token, s.UserID)
}
