package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/zhubert/koine/internal/errs"
)

// requireBearer rejects requests whose Authorization header does not carry
// the configured key.
func (s *Server) requireBearer(next http.Handler) http.Handler {
	want := []byte(s.cfg.Server.AuthKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok || subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			writeError(w, s.requestLog(r), errs.New(errs.CodeUnauthorized, "missing or invalid bearer token"), s.builder.Redact)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
