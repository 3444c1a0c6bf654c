package server

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/cliffyan/kagi-search-proxy/internal/engine"
	"github.com/cliffyan/kagi-search-proxy/internal/mcp"
)

// SearchResponse 搜索响应，没有结果时 data 省略，响应体为 {}
type SearchResponse struct {
	Data []engine.SearchResult `json:"data,omitempty"`
}

// TimeResponse 当前时间
type TimeResponse struct {
	Time string `json:"time"`
}

// FetchResponse 页面内容（Markdown）
type FetchResponse struct {
	Content string `json:"content"`
}

// handleSearch GET /api/v0/search?q=
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}

	results, err := s.engineManager.Search(r.Context(), engine.SearchRequest{Query: query})
	if err != nil {
		log.Error().Err(err).Str("request_id", requestIDFrom(r.Context())).Msg("❌ Search request failed")
		writeError(w, statusForError(r, err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, SearchResponse{Data: results})
}

// handleFetch GET /api/fetch?url=
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	pageURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if pageURL == "" {
		writeError(w, http.StatusBadRequest, "query parameter url is required")
		return
	}

	content, err := s.engineManager.Fetch(r.Context(), pageURL)
	if err != nil {
		writeError(w, statusForError(r, err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, FetchResponse{Content: content})
}

// handleTime GET /api/time
func (s *Server) handleTime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, TimeResponse{Time: mcp.FormatTime(s.now())})
}

// handleHealth 健康检查端点
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": s.config.MCP.ServerName,
		"version": s.config.MCP.ServerVersion,
		"engines": s.engineManager.GetEngineNames(),
	})
}
