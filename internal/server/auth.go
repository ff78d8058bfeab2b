package server

import (
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// authenticate rejects requests without the shared token before any handler
// runs: 401 when the header is missing or not a bearer token, 403 when the
// token differs.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, bearerPrefix)
		if !ok {
			s.log.Warn().Str("path", r.URL.Path).Msg("missing or malformed authorization header")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if token != s.token {
			s.log.Warn().Str("path", r.URL.Path).Msg("invalid authentication token")
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
