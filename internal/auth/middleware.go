package auth

import (
	"context"
	"net/http"
	"time"
)

type contextKey string

const (
	UserIDKey   contextKey = "user_id"
	UsernameKey contextKey = "username"
)

// OptionalIdentity stores the caller's user id in the request context when
// the request carries a readable, unexpired bearer token.
func OptionalIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tokenString := ExtractTokenFromBearer(r.Header.Get("Authorization")); tokenString != "" {
			if identity, err := ParseIdentity(tokenString, time.Now()); err == nil {
				ctx := context.WithValue(r.Context(), UserIDKey, identity.UserID)
				ctx = context.WithValue(ctx, UsernameKey, identity.Username)
				r = r.WithContext(ctx)
			}
		}
		next.ServeHTTP(w, r)
	})
}

// UserIDFromContext returns the user id set by OptionalIdentity
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok && userID != ""
}
