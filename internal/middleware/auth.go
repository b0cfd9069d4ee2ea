// Package middleware carries the JWT auth middleware shared by the REST API
// and the websocket handshake.
package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const (
	UserKey     contextKey = "user_id"
	UsernameKey contextKey = "username"
)

// TokenValidator is what we need from the user service. The interface keeps
// this package decoupled from it.
type TokenValidator interface {
	ValidateToken(tokenString string) (int, string, error)
}

type AuthMiddleware struct {
	validator TokenValidator
}

func NewAuthMiddleware(v TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""

		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 {
				tokenString = parts[1]
			}
		}

		// Browsers can't set headers on a websocket handshake, so the
		// realtime client passes the token as a query param instead.
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}

		if tokenString == "" {
			http.Error(w, "Missing authentication token", http.StatusUnauthorized)
			return
		}

		userID, username, err := am.validator.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserKey, userID)
		ctx = context.WithValue(ctx, UsernameKey, username)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserID extracts the authenticated user id injected by Handle.
func UserID(ctx context.Context) (int, bool) {
	id, ok := ctx.Value(UserKey).(int)
	return id, ok
}
