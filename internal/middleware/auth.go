package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AdminAuth gates every admin route with a single bearer token check. The
// undo engine itself never re-checks permissions; authorization lives here,
// at the dispatch boundary. An empty configured token disables the gate
// (local development).
func AdminAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
