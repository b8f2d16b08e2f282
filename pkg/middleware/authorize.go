package middleware

import (
	"context"
	"net/http"

	"complaint-portal/pkg/auth"
	"complaint-portal/pkg/models"
	"complaint-portal/pkg/response"
)

type Authorizer interface {
	Authorize(ctx context.Context, s auth.Session) (models.Authority, error)
}

// RequireAuthority admits sessions whose identity is a registered
// authority. Others are signed out by the authorizer and get 403.
func RequireAuthority(authorizer Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, ok := SessionFromContext(r.Context())
			if !ok {
				response.Error(w, http.StatusUnauthorized, "Unauthorized", "")
				return
			}

			authority, err := authorizer.Authorize(r.Context(), session)
			if err != nil {
				response.FromError(w, r, "Access denied. You are not an authorized authority.", err)
				return
			}

			ctx := context.WithValue(r.Context(), AuthorityContextKey, authority)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireActiveAuthority rejects authorities marked Inactive.
func RequireActiveAuthority(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authority, ok := AuthorityFromContext(r.Context())
		if !ok {
			response.Error(w, http.StatusUnauthorized, "Unauthorized", "")
			return
		}
		if authority.Status == models.AuthorityInactive {
			response.Error(w, http.StatusForbidden, "Forbidden", "Authority is inactive")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func AuthorityFromContext(ctx context.Context) (models.Authority, bool) {
	a, ok := ctx.Value(AuthorityContextKey).(models.Authority)
	return a, ok
}
