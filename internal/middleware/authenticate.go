package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/oralhistory/backend/internal/auth"
	"github.com/oralhistory/backend/internal/logging"
	"github.com/oralhistory/backend/internal/models"
	"github.com/oralhistory/backend/internal/repositories"
)

// TokenAuthenticator resolves an opaque access token to a user id.
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, accessToken string) (string, error)
}

// UserLookup loads the user behind a token.
type UserLookup interface {
	FindByID(ctx context.Context, id string) (models.User, error)
}

// Authenticate resolves a Bearer token into an auth.Principal on the
// request context. Requests without a token continue anonymously; a token
// that does not resolve is answered with 401 so clients know to refresh.
func Authenticate(tokens TokenAuthenticator, users UserLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			userID, err := tokens.Authenticate(ctx, token)
			if err != nil {
				if !errors.Is(err, auth.ErrSessionNotFound) && !errors.Is(err, auth.ErrAccessTokenExpired) {
					logging.FromContext(ctx).Error("authenticate token", "error", err)
				}
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			user, err := users.FindByID(ctx, userID)
			switch {
			case errors.Is(err, repositories.ErrNotFound):
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			case err != nil:
				logging.FromContext(ctx).Error("load authenticated user", "error", err, "user_id", userID)
				writeError(w, http.StatusInternalServerError, "internal server error")
				return
			case user.DeletedAt != nil:
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx = auth.WithPrincipal(ctx, auth.Principal{UserID: user.ID, Role: user.Role})
			ctx = logging.WithUserID(ctx, user.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser answers 401 when Authenticate found no caller.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.PrincipalFromContext(r.Context()); !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin answers 401 for anonymous callers and 403 for non-admins.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := auth.PrincipalFromContext(r.Context())
		switch err := p.RequireAdmin(); {
		case errors.Is(err, auth.ErrUnauthenticated):
			writeError(w, http.StatusUnauthorized, "authentication required")
		case err != nil:
			writeError(w, http.StatusForbidden, "admin access required")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// bearerToken reads the Authorization header. Browsers cannot set headers on
// EventSource requests, so event streams may pass access_token instead.
func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" && r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		return strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
