// Package middleware provides HTTP middleware for the API router.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/lauritssn/yolo-llm-vision/internal/auth"
)

type contextKey string

const userContextKey contextKey = "user"

// Auth enforces bearer-token authentication when the authenticator has it
// enabled; otherwise requests pass through untouched.
func Auth(authenticator *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !authenticator.IsEnabled() {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				unauthorized(w, "missing authorization header")
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				unauthorized(w, "invalid authorization header format")
				return
			}

			claims, err := authenticator.ValidateToken(parts[1])
			if err != nil {
				if err == auth.ErrExpiredToken {
					unauthorized(w, "token has expired")
				} else {
					unauthorized(w, "invalid token")
				}
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error": "` + msg + `"}`))
}

// UserFromContext returns the authenticated user's claims, or nil when the
// request was not authenticated.
func UserFromContext(ctx context.Context) *auth.Claims {
	claims, ok := ctx.Value(userContextKey).(*auth.Claims)
	if !ok {
		return nil
	}
	return claims
}
