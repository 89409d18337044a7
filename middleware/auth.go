// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielhkuo/votequest/auth"
)

type contextKey struct{ name string }

var userIDKey = &contextKey{"user-id"}

// WithUserID returns a copy of ctx carrying the authenticated user ID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the authenticated user ID, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequireAuth rejects requests without a valid session token and stores
// the session's user ID in the request context.
func RequireAuth(secret string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				ErrorResponse(w, http.StatusUnauthorized, "Missing bearer token")
				return
			}

			claims, err := auth.ParseSession(secret, token)
			if err != nil {
				ErrorResponse(w, http.StatusUnauthorized, "Invalid or expired session")
				return
			}

			next(w, r.WithContext(WithUserID(r.Context(), claims.Subject)))
		}
	}
}

// OptionalAuth stores the session's user ID when a valid token is present
// and otherwise passes the request through unchanged.
func OptionalAuth(secret string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if token := BearerToken(r); token != "" {
				if claims, err := auth.ParseSession(secret, token); err == nil {
					r = r.WithContext(WithUserID(r.Context(), claims.Subject))
				}
			}
			next(w, r)
		}
	}
}
