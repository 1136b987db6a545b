package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerSecret admits only requests presenting the shared secret as a bearer
// token. With no secret configured the route does not exist.
func BearerSecret(secret string, next http.Handler) http.Handler {
	expected := []byte(strings.TrimSpace(secret))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(expected) == 0 {
			writeError(w, http.StatusNotFound, "not found")
			return
		}

		header := strings.TrimSpace(r.Header.Get("Authorization"))
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		presented := []byte(strings.TrimSpace(parts[1]))
		if subtle.ConstantTimeCompare(presented, expected) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}
