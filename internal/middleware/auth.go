package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/dukerupert/tuition/internal/domain"
)

// TokenVerifier verifies identity-provider ID tokens.
// firebase.Auth implements it.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, idToken string) (*domain.Principal, error)
}

// WithPrincipal extracts the bearer token, verifies it and adds the principal to
// the request context. This middleware is optional - a missing or invalid token
// leaves the request unauthenticated and RequireAuth decides what to do.
func WithPrincipal(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			principal, err := verifier.VerifyToken(r.Context(), token)
			if err != nil {
				GetLogger(r.Context()).Debug().Err(err).Msg("Rejected ID token")
				next.ServeHTTP(w, r)
				return
			}

			ctx := domain.NewContextWithPrincipal(r.Context(), principal)
			l := GetLogger(ctx).With().Str("uid", principal.UID).Logger()
			next.ServeHTTP(w, r.WithContext(l.WithContext(ctx)))
		})
	}
}

// RequireAuth ensures the request carries a verified principal, returning 401 if not.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !domain.IsAuthenticated(r.Context()) {
			respondUnauthorized(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin ensures the principal carries the admin claim, returning 403 if not.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !domain.IsAuthenticated(r.Context()) {
			respondUnauthorized(w, r)
			return
		}
		if !domain.IsAdmin(r.Context()) {
			respondForbidden(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
