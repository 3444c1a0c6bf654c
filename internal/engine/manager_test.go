package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cliffyan/kagi-search-proxy/internal/config"
	"github.com/cliffyan/kagi-search-proxy/internal/metrics"
)

type stubEngine struct {
	name    string
	results []SearchResult
	err     error
	queries []string
}

func (s *stubEngine) Name() string { return s.name }

func (s *stubEngine) Search(_ context.Context, query string) ([]SearchResult, error) {
	s.queries = append(s.queries, query)
	return s.results, s.err
}

type stubFetcher struct {
	content string
	err     error
}

func (s *stubFetcher) Fetch(context.Context, string) (string, error) {
	return s.content, s.err
}

func newTestManager(t *testing.T) (*Manager, *metrics.Metrics) {
	t.Helper()
	cfg := &config.Config{Search: config.SearchConfig{DefaultEngine: "kagi", RateBurst: 1}}
	m := metrics.New()
	return NewManager(cfg, m), m
}

func TestManager_SearchUsesDefaultEngine(t *testing.T) {
	mgr, m := newTestManager(t)
	eng := &stubEngine{name: "kagi", results: []SearchResult{{Title: "Go", URL: "https://go.dev", Snippet: "Go"}}}
	mgr.RegisterEngine(eng)

	results, err := mgr.Search(context.Background(), SearchRequest{Query: "  golang  "})
	require.NoError(t, err)

	assert.Len(t, results, 1)
	assert.Equal(t, []string{"golang"}, eng.queries)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SearchRequests.WithLabelValues("kagi", "ok")))
}

func TestManager_SearchErrors(t *testing.T) {
	mgr, m := newTestManager(t)
	upstream := errors.New("selector miss")
	mgr.RegisterEngine(&stubEngine{name: "kagi", err: upstream})

	_, err := mgr.Search(context.Background(), SearchRequest{Query: ""})
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = mgr.Search(context.Background(), SearchRequest{Query: "go", Engine: "bing"})
	assert.ErrorIs(t, err, ErrEngineNotFound)

	_, err = mgr.Search(context.Background(), SearchRequest{Query: "go"})
	assert.ErrorIs(t, err, upstream)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SearchRequests.WithLabelValues("kagi", "error")))
}

func TestManager_SearchCancelledContext(t *testing.T) {
	cfg := &config.Config{Search: config.SearchConfig{DefaultEngine: "kagi", RateLimit: 0.001, RateBurst: 1}}
	mgr := NewManager(cfg, nil)
	mgr.RegisterEngine(&stubEngine{name: "kagi"})

	// 第一次消耗掉唯一的令牌
	_, err := mgr.Search(context.Background(), SearchRequest{Query: "go"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = mgr.Search(ctx, SearchRequest{Query: "go"})
	assert.Error(t, err)
}

func TestManager_GetEngineNames(t *testing.T) {
	mgr, _ := newTestManager(t)
	mgr.RegisterEngine(&stubEngine{name: "kagi"})
	mgr.RegisterEngine(&stubEngine{name: "archive"})

	assert.Equal(t, []string{"archive", "kagi"}, mgr.GetEngineNames())
}

func TestManager_Fetch(t *testing.T) {
	mgr, m := newTestManager(t)

	_, err := mgr.Fetch(context.Background(), "https://kagi.com")
	assert.Error(t, err, "fetcher not configured")

	mgr.SetFetcher(&stubFetcher{content: "# Kagi"})

	_, err = mgr.Fetch(context.Background(), "not a url")
	assert.ErrorIs(t, err, ErrInvalidURL)

	content, err := mgr.Fetch(context.Background(), "https://kagi.com")
	require.NoError(t, err)
	assert.Equal(t, "# Kagi", content)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FetchRequests.WithLabelValues("ok")))
}

func TestManager_ThrottledPastDeadline(t *testing.T) {
	cfg := &config.Config{Search: config.SearchConfig{DefaultEngine: "kagi", RateLimit: 0.001, RateBurst: 1}}
	mgr := NewManager(cfg, nil)
	mgr.RegisterEngine(&stubEngine{name: "kagi"})
	mgr.SetFetcher(&stubFetcher{content: "ok"})

	_, err := mgr.Search(context.Background(), SearchRequest{Query: "go"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// 下一个令牌要约 1000 秒后才到，限流器立即放弃
	_, err = mgr.Search(ctx, SearchRequest{Query: "go"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = mgr.Fetch(ctx, "https://kagi.com")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NoError(t, ctx.Err())
}
