package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Authorizer decides whether a request may use the protected intake routes
// and reports the requester's identity for job attribution.
type Authorizer interface {
	Authorize(r *http.Request) (identity string, ok bool)
}

// TokenAuthorizer accepts requests bearing a shared API token. An empty
// token disables authentication entirely.
type TokenAuthorizer struct {
	Token string
}

func (a TokenAuthorizer) Authorize(r *http.Request) (string, bool) {
	if a.Token == "" {
		return "", true
	}
	header := r.Header.Get("Authorization")
	presented, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(a.Token)) != 1 {
		return "", false
	}
	return "token", true
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := s.authorizer.Authorize(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		if identity != "" {
			r.Header.Set(identityHeader, identity)
		}
		next(w, r)
	}
}

// identityHeader carries the authorized identity between middleware and
// handlers within one request.
const identityHeader = "X-Trestle-Identity"
