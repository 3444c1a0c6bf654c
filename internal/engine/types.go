package engine

import (
	"context"
	"errors"
)

// SearchResult 搜索结果
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// SearchEngine 搜索引擎接口
type SearchEngine interface {
	// Name 返回引擎名称
	Name() string
	// Search 执行搜索
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// PageFetcher 抓取页面并转换为 Markdown
type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) (string, error)
}

// SearchRequest 搜索请求
type SearchRequest struct {
	Query  string `json:"q"`
	Engine string `json:"engine,omitempty"`
}

var (
	// ErrAuthFailed Kagi token 登录失败
	ErrAuthFailed = errors.New("invalid token or authentication failed")
	// ErrSessionExpired 搜索时被重定向到登录页
	ErrSessionExpired = errors.New("kagi session expired")
	// ErrEngineNotFound 引擎未注册
	ErrEngineNotFound = errors.New("search engine not found")
	// ErrInvalidURL 抓取地址不是 http(s)
	ErrInvalidURL = errors.New("url must be an absolute http or https URL")
	// ErrEmptyQuery 查询为空
	ErrEmptyQuery = errors.New("query is required")
)
