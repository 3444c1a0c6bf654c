package mcp

import (
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cliffyan/kagi-search-proxy/internal/config"
	"github.com/cliffyan/kagi-search-proxy/internal/engine"
)

// Server MCP 适配层，把搜索能力暴露为 MCP 工具
type Server struct {
	config        *config.Config
	engineManager *engine.Manager
	server        *mcp.Server
	now           func() time.Time
}

// NewServer 创建 MCP 服务并注册工具
func NewServer(cfg *config.Config, em *engine.Manager) *Server {
	s := &Server{
		config:        cfg,
		engineManager: em,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.MCP.ServerName,
			Version: cfg.MCP.ServerVersion,
		}, nil),
		now: time.Now,
	}
	s.registerTools()
	return s
}

// MCPServer 返回底层 SDK server
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}

// Handler streamable HTTP 传输，无状态模式
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, &mcp.StreamableHTTPOptions{Stateless: true})
}
