package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type contextKey struct{}

var claimsKey = contextKey{}

// SessionClaims identifies the user behind a request.
type SessionClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// SessionManager issues and verifies HS256 session tokens.
type SessionManager struct {
	secret     []byte
	issuer     string
	expiration time.Duration
	clock      clock.Clock
	logger     *zap.SugaredLogger
}

func NewSessionManager(secret string, logger *zap.SugaredLogger) *SessionManager {
	return NewSessionManagerWithClock(secret, clock.New(), logger)
}

func NewSessionManagerWithClock(secret string, clock clock.Clock, logger *zap.SugaredLogger) *SessionManager {
	return &SessionManager{
		secret:     []byte(secret),
		issuer:     "horoscope",
		expiration: 7 * 24 * time.Hour,
		clock:      clock,
		logger:     logger,
	}
}

// Issue signs a session token for the user.
func (s *SessionManager) Issue(userID, email string) (string, error) {
	now := s.clock.Now()
	claims := &SessionClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiration)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %v", err)
	}
	return signed, nil
}

// Validate parses the token and checks its signature, issuer and lifetime.
func (s *SessionManager) Validate(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&SessionClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %v", err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("token has no user")
	}
	return claims, nil
}

// ExtractToken returns the bearer token of the Authorization header.
func ExtractToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("missing authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", fmt.Errorf("malformed authorization header")
	}
	return parts[1], nil
}

// Middleware rejects requests without a valid session token and stores the
// claims in the request context.
func (s *SessionManager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := ExtractToken(r)
		if err != nil {
			unauthorized(w, err.Error())
			return
		}

		claims, err := s.Validate(token)
		if err != nil {
			s.logger.Debugw("Rejected session token", "error", err)
			unauthorized(w, "invalid or expired session")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

func WithClaims(ctx context.Context, claims *SessionClaims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// GetClaimsFromContext extracts session claims from request context
func GetClaimsFromContext(ctx context.Context) (*SessionClaims, error) {
	claims, ok := ctx.Value(claimsKey).(*SessionClaims)
	if !ok {
		return nil, fmt.Errorf("no session claims found in context")
	}
	return claims, nil
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message, "code": "UNAUTHORIZED"})
}
