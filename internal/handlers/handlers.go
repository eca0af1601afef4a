package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"gator-chat/internal/config"
	"gator-chat/internal/engine"
	"gator-chat/internal/middleware"
	"gator-chat/internal/utils"
	"gator-chat/internal/websocket"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	jww "github.com/spf13/jwalterweatherman"
)

// Login attempts allowed per client address.
const (
	loginPerSecond = 0.5
	loginBurst     = 10
)

// Server holds all server dependencies: the engine, the realtime protocol and
// the HTTP concerns around them.
type Server struct {
	Engine         *engine.Engine
	Hub            *websocket.Hub
	Protocol       *websocket.Protocol
	Tokens         *middleware.TokenManager
	Metrics        *utils.MetricsCollector
	CORS           *middleware.CORSConfig
	LoginLimiter   *middleware.MapLimiter
	RequestTimeout time.Duration
	MetricsEnabled bool

	upgrader ws.Upgrader
}

// NewServer creates a new Server instance with the given components
func NewServer(
	e *engine.Engine,
	protocol *websocket.Protocol,
	tokens *middleware.TokenManager,
	metrics *utils.MetricsCollector,
	cfg *config.Config,
) *Server {
	s := &Server{
		Engine:         e,
		Hub:            protocol.Hub(),
		Protocol:       protocol,
		Tokens:         tokens,
		Metrics:        metrics,
		CORS:           middleware.DefaultCORSConfig(cfg.AllowedOrigins),
		LoginLimiter:   middleware.NewMapLimiter(loginPerSecond, loginBurst, 10*time.Minute),
		RequestTimeout: cfg.Server.RequestTimeout,
		MetricsEnabled: cfg.Server.MetricsEnabled,
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = 5 * time.Second
	}
	s.upgrader = ws.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.CORS.OriginAllowed(origin)
		},
	}
	return s
}

// Routes builds the HTTP surface. Everything under /api except register,
// login and health needs a bearer token; /ws authenticates from its query.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	auth := s.Tokens.ApplyJWTMiddleware

	// Core endpoints
	mux.HandleFunc("GET /api/health", s.HandleHealth())
	if s.MetricsEnabled && s.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.Metrics.Registry(), promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("GET /ws", s.HandleWebSocket())

	// Account endpoints
	mux.HandleFunc("POST /api/auth/register", s.HandleRegister())
	mux.HandleFunc("POST /api/auth/login", middleware.RateLimitByIP(s.LoginLimiter, s.HandleLogin()))
	mux.HandleFunc("GET /api/users/search", auth(s.HandleSearchUsers()))
	mux.HandleFunc("GET /api/users/{id}", auth(s.HandleGetProfile()))
	mux.HandleFunc("PUT /api/users/profile", auth(s.HandleUpdateProfile()))

	// Friend endpoints
	mux.HandleFunc("POST /api/friends/request", auth(s.HandleSendFriendRequest()))
	mux.HandleFunc("GET /api/friends/requests", auth(s.HandlePendingRequests()))
	mux.HandleFunc("POST /api/friends/requests/{id}/accept", auth(s.HandleAcceptFriendRequest()))
	mux.HandleFunc("POST /api/friends/requests/{id}/decline", auth(s.HandleDeclineFriendRequest()))
	mux.HandleFunc("GET /api/friends/list", auth(s.HandleListFriends()))
	mux.HandleFunc("DELETE /api/friends/{friendId}", auth(s.HandleRemoveFriend()))

	// Message endpoints
	mux.HandleFunc("GET /api/messages/conversation/{friendId}", auth(s.HandleConversation()))
	mux.HandleFunc("GET /api/messages/conversations", auth(s.HandleRecentConversations()))
	mux.HandleFunc("POST /api/messages/{id}/react", auth(s.HandleReact()))
	mux.HandleFunc("DELETE /api/messages/{id}/react", auth(s.HandleUnreact()))
	mux.HandleFunc("POST /api/messages/{id}/delete-for-me", auth(s.HandleDeleteForMe()))
	mux.HandleFunc("POST /api/messages/{id}/delete-for-everyone", auth(s.HandleDeleteForEveryone()))

	// Settings endpoints
	mux.HandleFunc("GET /api/settings", auth(s.HandleGetSettings()))
	mux.HandleFunc("POST /api/settings/privacy", auth(s.HandleUpdatePrivacy()))
	mux.HandleFunc("POST /api/settings/notifications", auth(s.HandleUpdateNotifications()))
	mux.HandleFunc("POST /api/settings/change-password", auth(s.HandleChangePassword()))

	// Block endpoints
	mux.HandleFunc("POST /api/block/{userId}", auth(s.HandleBlock()))
	mux.HandleFunc("DELETE /api/block/{userId}", auth(s.HandleUnblock()))
	mux.HandleFunc("GET /api/block/list", auth(s.HandleListBlocked()))
	mux.HandleFunc("GET /api/block/check/{userId}", auth(s.HandleCheckBlocked()))

	return middleware.CORSMiddleware(s.CORS)(s.countRequests(mux))
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Metrics != nil {
			s.Metrics.IncrementRequests()
		}
		next.ServeHTTP(w, r)
	})
}

// requestContext bounds an engine call by the server's request timeout.
func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.RequestTimeout)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := utils.AsAppError(err)
	if s.Metrics != nil {
		s.Metrics.IncrementErrors()
	}
	if appErr.Code == utils.ErrTransientIO || appErr.Code == utils.ErrActorTimeout {
		jww.ERROR.Printf("%s %s failed: %v", r.Method, r.URL.Path, err)
	} else {
		jww.DEBUG.Printf("%s %s rejected: %s", r.Method, r.URL.Path, appErr.Code)
	}
	middleware.WriteError(w, appErr)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		jww.ERROR.Printf("Failed to encode response: %v", err)
	}
}

func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return utils.NewValidationError("invalid request body")
	}
	return nil
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, utils.NewValidationError("invalid %s format", name)
	}
	return id, nil
}

// callerID is the authenticated user; the JWT middleware guarantees it.
func callerID(r *http.Request) uuid.UUID {
	id, _ := middleware.GetUserIDFromContext(r.Context())
	return id
}
