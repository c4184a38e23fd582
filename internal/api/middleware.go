// Package api exposes the note repository and graph queries over REST using chi.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthMiddleware returns middleware that validates a Bearer token.
// If enabled is false, all requests pass through (disabled mode).
// GET requests may pass the token as ?access_token= instead, since
// browser EventSource clients cannot set headers.
func AuthMiddleware(enabled bool, token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}
			got, ok := bearer(r)
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="zettel"`)
				writeJSON(w, http.StatusUnauthorized, errResponse{Error: "unauthorized", Kind: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearer(r *http.Request) (string, bool) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		return strings.CutPrefix(auth, "Bearer ")
	}
	if r.Method == http.MethodGet {
		if t := r.URL.Query().Get("access_token"); t != "" {
			return t, true
		}
	}
	return "", false
}
