// Package authmw provides HTTP middleware for inbound request authentication.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BasicAuth returns middleware that validates the request carries HTTP Basic
// credentials matching the configured (username, password) pair. Comparison
// uses constant-time equality to prevent timing side-channel attacks. Used to
// gate the webhook and self-restart paths.
func BasicAuth(username, password string) func(http.Handler) http.Handler {
	wantUser := []byte(username)
	wantPass := []byte(password)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || !strings.HasPrefix(r.Header.Get("Authorization"), "Basic ") ||
				subtle.ConstantTimeCompare([]byte(user), wantUser) != 1 ||
				subtle.ConstantTimeCompare([]byte(pass), wantPass) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="jarvis"`)
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
