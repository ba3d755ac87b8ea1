package auth

import (
	"net/http"
	"strings"
)

// Middleware is a chi-compatible HTTP middleware that enforces Bearer token
// authentication on the control API.
//
// Public paths that bypass auth:
//   - GET /healthz (liveness probe)
//   - POST /api/v1/auth/login (password login that hands out the token)
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if m.isAuthenticated(r) {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
	})
}

// isAuthenticated checks the request for a valid Bearer token.
func (m *Manager) isAuthenticated(r *http.Request) bool {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return m.ValidateToken(strings.TrimPrefix(auth, "Bearer "))
	}
	return false
}

func isPublicPath(path string) bool {
	return path == "/healthz" || path == "/api/v1/auth/login"
}
