// Package auth issues and validates the JWT bearer tokens that protect
// the read and patch API. Device ingest is authenticated by the envelope
// HMAC instead and never passes through this package.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"telemetry-gateway/internal/common/errors"
	"telemetry-gateway/internal/config"
	"telemetry-gateway/internal/storage"
)

const tokenLifetime = 24 * time.Hour

type contextKey string

const claimsContextKey contextKey = "auth.claims"

type Claims struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	IsDefault bool   `json:"is_default"`
	jwt.RegisteredClaims
}

type Auth struct {
	storage   storage.Storage
	jwtSecret []byte
}

func New(store storage.Storage, cfg *config.Config) (*Auth, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.ConfigError("JWT_SECRET is required")
	}
	return &Auth{
		storage:   store,
		jwtSecret: []byte(cfg.JWTSecret),
	}, nil
}

// Login validates credentials against storage and returns a signed token.
func (a *Auth) Login(username, password string) (string, *storage.User, error) {
	user, err := a.storage.ValidateUser(username, password)
	if err != nil {
		return "", nil, err
	}

	token, err := a.GenerateJWT(user.ID, user.Username, user.IsDefault)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

func (a *Auth) GenerateJWT(userID, username string, isDefault bool) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:    userID,
		Username:  username,
		IsDefault: isDefault,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "telemetry-gateway",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.jwtSecret)
	if err != nil {
		return "", errors.InternalError("failed to sign token", err)
	}
	return signed, nil
}

func (a *Auth) ValidateJWT(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return nil, errors.AuthError("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.AuthError("invalid token")
	}
	return claims, nil
}

// RequireAuth rejects requests without a valid Bearer token.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			unauthorized(w, "authentication required")
			return
		}

		claims, err := a.ValidateJWT(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			unauthorized(w, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClaimsFromContext returns the claims RequireAuth attached, if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*Claims)
	return claims, ok
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
