package middleware

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
)

// WithRequestLogger creates middleware that injects a request-scoped logger into the context.
// The logger includes request metadata (request_id, method, path, client_ip).
// WithPrincipal later adds the caller's uid.
// This middleware should be placed after RequestID in the middleware chain.
func WithRequestLogger(base zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lc := base.With().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("client_ip", GetClientIP(r))

			if requestID := GetRequestID(r.Context()); requestID != "" {
				lc = lc.Str("request_id", requestID)
			}

			requestLogger := lc.Logger()
			next.ServeHTTP(w, r.WithContext(requestLogger.WithContext(r.Context())))
		})
	}
}

// GetLogger retrieves the request-scoped logger from the context.
// Services read the same logger through zerolog.Ctx.
func GetLogger(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}
