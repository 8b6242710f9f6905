package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// authRealm is advertised in challenges. Maven and Gradle only send the
// credentials of a settings.xml server entry after a Basic challenge.
const authRealm = "repository-proxy"

// authMiddleware requires the auth_token from the credentials file on every
// request except the exact paths /health and /metrics. The token is accepted
// as a Bearer token or as the password of Basic credentials, whatever the
// username. When AuthToken is empty the middleware is a no-op.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	if s.config.AuthToken == "" {
		return next
	}

	token := []byte(s.config.AuthToken)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		provided, scheme, ok := requestToken(r)
		if !ok || subtle.ConstantTimeCompare([]byte(provided), token) != 1 {
			s.logger.Debug("rejected unauthenticated request",
				"method", r.Method,
				"path", r.URL.Path,
				"scheme", scheme)
			unauthorizedResponse(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requestToken extracts the presented token and the scheme it came with.
func requestToken(r *http.Request) (token, scheme string, ok bool) {
	if _, password, ok := r.BasicAuth(); ok {
		return password, "basic", true
	}
	auth := r.Header.Get("Authorization")
	if rest, found := strings.CutPrefix(auth, "Bearer "); found {
		return rest, "bearer", true
	}
	if auth == "" {
		return "", "none", false
	}
	return "", "unsupported", false
}

func unauthorizedResponse(w http.ResponseWriter) {
	w.Header().Add("WWW-Authenticate", `Basic realm="`+authRealm+`"`)
	w.Header().Add("WWW-Authenticate", `Bearer realm="`+authRealm+`"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": "repository access requires the proxy auth token"}) //nolint:errcheck
}
