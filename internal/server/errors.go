package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/cliffyan/kagi-search-proxy/internal/engine"
)

// statusClientClosed 客户端已断开，状态码只用于日志
const statusClientClosed = 499

// ErrorResponse 错误响应体
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("❌ Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: status})
}

// statusForError 上游错误映射为 HTTP 状态码
// 只有请求方自己断开时才返回 499，浏览器侧的取消按上游失败处理
func statusForError(r *http.Request, err error) int {
	if r.Context().Err() != nil {
		return statusClientClosed
	}
	switch {
	case errors.Is(err, engine.ErrEmptyQuery), errors.Is(err, engine.ErrInvalidURL):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrEngineNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
