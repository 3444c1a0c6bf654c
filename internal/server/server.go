package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/cliffyan/kagi-search-proxy/internal/config"
	"github.com/cliffyan/kagi-search-proxy/internal/engine"
	"github.com/cliffyan/kagi-search-proxy/internal/mcp"
	"github.com/cliffyan/kagi-search-proxy/internal/metrics"
)

// Server HTTP 服务器
type Server struct {
	config        *config.Config
	engineManager *engine.Manager
	mcpServer     *mcp.Server
	metrics       *metrics.Metrics
	now           func() time.Time
}

// New 创建新的服务器实例
func New(cfg *config.Config, em *engine.Manager, m *metrics.Metrics) *Server {
	return &Server{
		config:        cfg,
		engineManager: em,
		mcpServer:     mcp.NewServer(cfg, em),
		metrics:       m,
		now:           time.Now,
	}
}

// Handler 组装路由与中间件
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /api/v0/search", s.requireToken(http.HandlerFunc(s.handleSearch)))
	mux.Handle("GET /api/fetch", s.requireToken(http.HandlerFunc(s.handleFetch)))
	mux.HandleFunc("GET /api/time", s.handleTime)

	// MCP 端点，/mcp 兼容旧客户端
	mcpHandler := s.requireToken(s.mcpServer.Handler())
	mux.Handle("/tools/mcp", mcpHandler)
	mux.Handle("/mcp", mcpHandler)

	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	var handler http.Handler = s.withAccessLog(mux)
	handler = withRequestID(handler)

	if s.config.Server.CORS.Enabled {
		c := cors.New(cors.Options{
			AllowedOrigins:   []string{s.config.Server.CORS.Origin},
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{"Mcp-Session-Id", requestIDHeader},
			AllowCredentials: true,
		})
		handler = c.Handler(handler)
	}
	return handler
}

// Start 启动 HTTP 服务器，ctx 取消后优雅关闭
func (s *Server) Start(ctx context.Context) error {
	addr := s.config.Addr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("🚀 Starting HTTP server")
	log.Info().Str("endpoint", "http://"+addr+"/api/v0/search").Msg("📡 Search endpoint")
	log.Info().Str("endpoint", "http://"+addr+"/tools/mcp").Msg("📡 MCP endpoint")
	log.Info().Str("endpoint", "http://"+addr+"/health").Msg("❤️ Health check")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("🛑 Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
