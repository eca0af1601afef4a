// internal/middleware/jwt.go
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"gator-chat/internal/config"
	"gator-chat/internal/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	jww "github.com/spf13/jwalterweatherman"
)

const tokenIssuer = "gator-chat"

// Claims represents the JWT claims for our application
type Claims struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
	jwt.RegisteredClaims
}

// UnprotectedRoutes defines routes that don't require JWT authentication
var UnprotectedRoutes = map[string]bool{
	"/api/health":        true,
	"/api/auth/register": true,
	"/api/auth/login":    true,
	"/metrics":           true,
}

// TokenManager issues and validates the HS256 tokens used by the REST API
// and the websocket handshake.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenManager(cfg *config.AuthConfig) *TokenManager {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenManager{secret: []byte(cfg.JWTSecret), ttl: ttl, now: time.Now}
}

// GenerateToken creates a new JWT token for the given user
func (m *TokenManager) GenerateToken(userID uuid.UUID, username string) (string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(m.ttl)

	claims := &Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   userID.String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateToken parses tokenString and checks signature, method and expiry.
// Failures are UNAUTHORIZED AppErrors.
func (m *TokenManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			return m.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrUnauthorized, "invalid or expired token", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == uuid.Nil {
		return nil, utils.NewAppError(utils.ErrUnauthorized, "invalid token", nil)
	}
	return claims, nil
}

// bearerToken extracts the token from an Authorization header.
func bearerToken(r *http.Request) (string, *utils.AppError) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", utils.NewAppError(utils.ErrAuthRequired, "authorization header required", nil)
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", utils.NewAppError(utils.ErrUnauthorized, "invalid authorization format", nil)
	}
	return strings.TrimPrefix(authHeader, "Bearer "), nil
}

func (m *TokenManager) authenticate(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
	tokenString, appErr := bearerToken(r)
	if appErr != nil {
		WriteError(w, appErr)
		return nil, false
	}
	claims, err := m.ValidateToken(tokenString)
	if err != nil {
		jww.DEBUG.Printf("JWT Error on %s: %v", r.URL.Path, err)
		WriteError(w, err)
		return nil, false
	}

	ctx := SetUserIDInContext(r.Context(), claims.UserID)
	ctx = SetUsernameInContext(ctx, claims.Username)
	return r.WithContext(ctx), true
}

// AuthMiddleware is a middleware function to validate JWT tokens
func (m *TokenManager) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UnprotectedRoutes[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		if authed, ok := m.authenticate(w, r); ok {
			next.ServeHTTP(w, authed)
		}
	})
}

// ApplyJWTMiddleware wraps a handler function with JWT authentication
func (m *TokenManager) ApplyJWTMiddleware(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if authed, ok := m.authenticate(w, r); ok {
			handler(w, authed)
		}
	}
}

// WriteError renders err as {"code","message"} with the matching status.
func WriteError(w http.ResponseWriter, err error) {
	appErr := utils.AsAppError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(utils.AppErrorToHTTPStatus(appErr.Code))
	json.NewEncoder(w).Encode(appErr)
}

// Define a custom context key type to avoid collisions
type contextKey string

const (
	// UserIDKey is the key used to store the user ID in the context
	UserIDKey   contextKey = "user_id"
	UsernameKey contextKey = "username"
)

// SetUserIDInContext saves the user ID in the request context
func SetUserIDInContext(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserIDFromContext retrieves the user ID from the context
func GetUserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(UserIDKey).(uuid.UUID)
	return userID, ok
}

func SetUsernameInContext(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, UsernameKey, username)
}

func GetUsernameFromContext(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(UsernameKey).(string)
	return username, ok
}
