package middleware

import (
	"context"
	"net/http"
	"strings"

	"complaint-portal/pkg/auth"
	"complaint-portal/pkg/response"
)

type contextKey string

const (
	SessionContextKey   contextKey = "session"
	AuthorityContextKey contextKey = "authority"
)

// Authenticator validates bearer tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (auth.Session, error)
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
// Browsers cannot set headers on websocket upgrades, so the access_token
// query parameter is accepted as well.
func BearerToken(r *http.Request) (string, bool) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			return "", false
		}
		return strings.TrimSpace(tokenString), true
	}
	if t := r.URL.Query().Get("access_token"); t != "" {
		return t, true
	}
	return "", false
}

func AuthMiddleware(authenticator Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" && r.URL.Query().Get("access_token") == "" {
				response.Error(w, http.StatusUnauthorized, "Missing Authorization header", "")
				return
			}
			tokenString, ok := BearerToken(r)
			if !ok {
				response.Error(w, http.StatusUnauthorized, "Invalid token format", "Format must be Bearer <token>")
				return
			}

			session, err := authenticator.Authenticate(r.Context(), tokenString)
			if err != nil {
				response.FromError(w, r, "Invalid or expired token", err)
				return
			}

			ctx := context.WithValue(r.Context(), SessionContextKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func SessionFromContext(ctx context.Context) (auth.Session, bool) {
	s, ok := ctx.Value(SessionContextKey).(auth.Session)
	return s, ok
}
