package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// acceptedSchemes Authorization 头允许的前缀
var acceptedSchemes = []string{"Bot ", "Bearer "}

// extractToken 解析 Authorization 头，格式不对时返回 false
func extractToken(header string) (string, bool) {
	for _, scheme := range acceptedSchemes {
		if strings.HasPrefix(header, scheme) {
			token := strings.TrimSpace(header[len(scheme):])
			return token, token != ""
		}
	}
	return "", false
}

// requireToken 校验静态 bearer token：缺失或格式错误 401，不匹配 403
func (s *Server) requireToken(next http.Handler) http.Handler {
	expected := []byte(s.config.Auth.AccessToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := extractToken(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, http.StatusUnauthorized, "Missing or invalid authorization header")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
			log.Warn().Str("request_id", requestIDFrom(r.Context())).Str("path", r.URL.Path).Msg("🔒 Invalid access token")
			writeError(w, http.StatusForbidden, "Invalid access token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
