package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"

	"github.com/cliffyan/kagi-search-proxy/internal/engine"
)

// 工具名称与 REST 接口的 operation id 保持一致
const (
	ToolSearch = "search"
	ToolFetch  = "fetch"
	ToolTime   = "time"
)

// SearchArgs search 工具参数
type SearchArgs struct {
	Q string `json:"q" jsonschema:"the search query"`
}

// FetchArgs fetch 工具参数
type FetchArgs struct {
	URL string `json:"url" jsonschema:"absolute http or https URL of the page to fetch"`
}

// TimeArgs time 工具没有参数
type TimeArgs struct{}

// SearchPayload 与 /api/v0/search 的响应体相同
type SearchPayload struct {
	Data []engine.SearchResult `json:"data,omitempty"`
}

// registerTools 注册全部工具
func (s *Server) registerTools() {
	tools := s.config.MCP.Tools

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolSearch,
		Description: tools.SearchDescription,
	}, s.handleSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolFetch,
		Description: tools.FetchDescription,
	}, s.handleFetch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolTime,
		Description: tools.TimeDescription,
	}, s.handleTime)
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, args SearchArgs) (*mcp.CallToolResult, any, error) {
	log.Info().Str("tool", ToolSearch).Str("query", args.Q).Msg("🔧 MCP tool call")

	if args.Q == "" {
		return errorResult("q is required"), nil, nil
	}

	results, err := s.engineManager.Search(ctx, engine.SearchRequest{Query: args.Q})
	if err != nil {
		return errorResult(fmt.Sprintf("Search failed: %v", err)), nil, nil
	}

	body, err := json.MarshalIndent(SearchPayload{Data: results}, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to format results: %v", err)), nil, nil
	}
	return textResult(string(body)), nil, nil
}

func (s *Server) handleFetch(ctx context.Context, _ *mcp.CallToolRequest, args FetchArgs) (*mcp.CallToolResult, any, error) {
	log.Info().Str("tool", ToolFetch).Str("url", args.URL).Msg("🔧 MCP tool call")

	content, err := s.engineManager.Fetch(ctx, args.URL)
	if err != nil {
		return errorResult(fmt.Sprintf("Fetch failed: %v", err)), nil, nil
	}
	return textResult(content), nil, nil
}

func (s *Server) handleTime(_ context.Context, _ *mcp.CallToolRequest, _ TimeArgs) (*mcp.CallToolResult, any, error) {
	return textResult(FormatTime(s.now())), nil, nil
}

// FormatTime ISO8601 UTC，精确到秒
func FormatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}
