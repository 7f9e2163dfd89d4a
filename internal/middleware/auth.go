package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/windfall/pronunciation_service/internal/service"
	"github.com/windfall/pronunciation_service/pkg/response"
)

type contextKey string

const claimsKey contextKey = "session_claims"

// Authenticator validates a bearer token against the session store.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*service.TokenClaims, error)
}

// Auth returns a middleware that requires a bearer token for an open session.
func Auth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				response.Unauthorized(w, "missing authorization header")
				return
			}

			token, ok := BearerToken(r)
			if !ok {
				response.Unauthorized(w, "invalid authorization format")
				return
			}

			claims, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				response.Error(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// GetClaims returns the session claims set by Auth.
func GetClaims(ctx context.Context) *service.TokenClaims {
	if c, ok := ctx.Value(claimsKey).(*service.TokenClaims); ok {
		return c
	}
	return nil
}

// GetIdentifier returns the authenticated learner identifier, if any.
func GetIdentifier(ctx context.Context) string {
	if c := GetClaims(ctx); c != nil {
		return c.Identifier
	}
	return ""
}
