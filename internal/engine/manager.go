package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/cliffyan/kagi-search-proxy/internal/config"
	"github.com/cliffyan/kagi-search-proxy/internal/metrics"
)

// Manager 搜索引擎管理器
type Manager struct {
	engines       map[string]SearchEngine
	fetcher       PageFetcher
	defaultEngine string
	limiter       *rate.Limiter
	metrics       *metrics.Metrics
	mu            sync.RWMutex
}

// NewManager 创建搜索引擎管理器
func NewManager(cfg *config.Config, m *metrics.Metrics) *Manager {
	limit := rate.Inf
	if cfg.Search.RateLimit > 0 {
		limit = rate.Limit(cfg.Search.RateLimit)
	}
	return &Manager{
		engines:       make(map[string]SearchEngine),
		defaultEngine: cfg.Search.DefaultEngine,
		limiter:       rate.NewLimiter(limit, cfg.Search.RateBurst),
		metrics:       m,
	}
}

// RegisterEngine 注册搜索引擎
func (m *Manager) RegisterEngine(engine SearchEngine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.engines[engine.Name()] = engine
	log.Info().Str("engine", engine.Name()).Msg("📝 Registered search engine")
}

// SetFetcher 设置页面抓取器
func (m *Manager) SetFetcher(f PageFetcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetcher = f
}

// GetEngine 获取搜索引擎
func (m *Manager) GetEngine(name string) (SearchEngine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	engine, ok := m.engines[name]
	return engine, ok
}

// GetEngineNames 获取所有引擎名称（排序）
func (m *Manager) GetEngineNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.engines))
	for name := range m.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Search 执行搜索
func (m *Manager) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	name := req.Engine
	if name == "" {
		name = m.defaultEngine
	}
	eng, ok := m.GetEngine(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEngineNotFound, name)
	}

	if err := m.wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	results, err := eng.Search(ctx, query)
	elapsed := time.Since(start)

	if m.metrics != nil {
		m.metrics.SearchDuration.WithLabelValues(name).Observe(elapsed.Seconds())
		m.metrics.SearchRequests.WithLabelValues(name, outcome(err)).Inc()
		if err == nil {
			m.metrics.SearchResults.Observe(float64(len(results)))
		}
	}

	if err != nil {
		log.Error().Err(err).Str("engine", name).Dur("elapsed", elapsed).Msg("❌ Search failed")
		return nil, err
	}

	log.Info().Str("engine", name).Int("results", len(results)).Dur("elapsed", elapsed).Msg("✅ Search finished")
	return results, nil
}

// Fetch 抓取页面内容
func (m *Manager) Fetch(ctx context.Context, pageURL string) (string, error) {
	m.mu.RLock()
	f := m.fetcher
	m.mu.RUnlock()
	if f == nil {
		return "", errors.New("page fetcher not configured")
	}
	if err := ValidateFetchURL(pageURL); err != nil {
		return "", err
	}

	if err := m.wait(ctx); err != nil {
		return "", err
	}

	content, err := f.Fetch(ctx, pageURL)
	if m.metrics != nil {
		m.metrics.FetchRequests.WithLabelValues(outcome(err)).Inc()
	}
	if err != nil {
		log.Error().Err(err).Str("url", pageURL).Msg("❌ Fetch failed")
		return "", err
	}
	return content, nil
}

// wait 等待限流令牌
// rate.Limiter 在令牌来不及到达截止时间时提前返回，这里统一成 context.DeadlineExceeded
func (m *Manager) wait(ctx context.Context) error {
	err := m.limiter.Wait(ctx)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("rate limiter: %w", ctxErr)
	}
	if _, ok := ctx.Deadline(); ok {
		return fmt.Errorf("rate limiter: %w: %w", context.DeadlineExceeded, err)
	}
	return fmt.Errorf("rate limiter: %w", err)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
