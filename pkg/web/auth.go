package web

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// bearerToken extracts the caller's access token from the Authorization
// header. The token is never logged or persisted; it exists only to be
// handed to the spawned CLI through its environment.
func bearerToken(r *http.Request) (string, *APIError) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", NewAPIError(ErrCodeUnauthorized, "missing Authorization header")
	}
	scheme, token, found := strings.Cut(auth, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", NewAPIError(ErrCodeUnauthorized, "Authorization header must be \"Bearer <access token>\"")
	}
	return strings.TrimSpace(token), nil
}

// adminMiddleware gates an endpoint behind the configured bcrypt admin
// password hash, supplied by the client in the X-Admin-Password header.
// With no hash configured the endpoint is disabled outright.
func (s *Server) adminMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hash := s.cfg.Server.AdminPasswordHash
		if hash == "" {
			NotFound(w, "admin endpoints are not enabled")
			return
		}
		password := r.Header.Get("X-Admin-Password")
		if password == "" {
			Unauthorized(w, "missing X-Admin-Password header")
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
			Unauthorized(w, "invalid admin password")
			return
		}
		next(w, r)
	}
}
