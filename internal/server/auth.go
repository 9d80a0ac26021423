package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/MrWong99/voicepages/internal/observe"
)

// HeaderAPIKey carries the API key when one is configured.
const HeaderAPIKey = "X-API-Key"

// withAuth rejects requests without the configured API key: 401 when the
// header is missing, 403 when it does not match.
func (s *Server) withAuth(next http.Handler) http.Handler {
	if s.apiKey == "" {
		return next
	}
	want := []byte(s.apiKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(HeaderAPIKey)
		if got == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: HeaderAPIKey + " header required"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			observe.Logger(r.Context()).Warn("rejected api key", slog.String("path", r.URL.Path))
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "invalid API key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
