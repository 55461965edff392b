package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/docchat-go/internal/logging"
)

// authChallenge is the WWW-Authenticate value sent with every 401.
const authChallenge = `Bearer realm="docchat"`

// authMiddleware enforces a shared API key on session routes. With an empty
// apiKey it returns next unchanged; the missing key is reported once at
// startup.
//
// The key is accepted either as
//
//	Authorization: Bearer <apiKey>
//
// or as an X-API-Key header for clients that cannot set Authorization on
// multipart uploads. The presented value is never logged.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context())

		token := presentedKey(r)
		switch {
		case token == "":
			log.Warn("auth: missing credentials", slog.String("path", r.URL.Path))
			w.Header().Set("WWW-Authenticate", authChallenge)
			writeJSON(w, r, http.StatusUnauthorized, errorResponse{Error: "authorization required"})
		case subtle.ConstantTimeCompare([]byte(token), want) != 1:
			log.Warn("auth: invalid token", slog.String("path", r.URL.Path))
			w.Header().Set("WWW-Authenticate", authChallenge+` error="invalid_token"`)
			writeJSON(w, r, http.StatusUnauthorized, errorResponse{Error: "invalid token"})
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// presentedKey returns the bearer token, falling back to X-API-Key.
func presentedKey(r *http.Request) string {
	if t := bearerToken(r); t != "" {
		return t
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. Returns an empty string if the header is absent or malformed.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
