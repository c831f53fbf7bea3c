package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"dbhub/internal/core"
)

type contextKey int

const userIDKey contextKey = iota

// UserIDFrom returns the authenticated caller's user id stored by the API-key
// middleware.
func UserIDFrom(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

// KeyVerifier resolves a presented API key to its record. Satisfied by
// service.AuthService.
type KeyVerifier interface {
	VerifyAPIKey(plainKey string) (*core.APIKey, error)
}

// RequireAPIKey rejects requests without a valid X-API-Key header and stores
// the key owner's user id in the request context.
func RequireAPIKey(verifier KeyVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			plainKey := r.Header.Get("X-API-Key")
			if plainKey == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing X-API-Key header"})
				return
			}

			key, err := verifier.VerifyAPIKey(plainKey)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid X-API-Key"})
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, key.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogging emits one structured log line per request with method, path,
// status and duration.
func RequestLogging(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rw, r)

			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rw.status).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

// responseWriter captures the status code for the logging middleware.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
