package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"

	"github.com/cliffyan/kagi-search-proxy/internal/config"
)

const kagiEngineName = "kagi"

// 结果页选择器
const (
	selResultsBox = ".results-box"
	selResult     = ".search-result"
	selTitle      = ".__sri-title"
	selURLLink    = ".__sri-url-box a"
	selSnippet    = ".__sri-desc"
)

// KagiEngine 通过无头浏览器驱动 Kagi 搜索
type KagiEngine struct {
	browser      *BrowserManager
	token        string
	baseURL      string
	timeout      time.Duration
	pollAttempts int
	pollInterval time.Duration

	mu      sync.RWMutex
	cookies []*network.CookieParam
}

// NewKagiEngine 创建 Kagi 搜索引擎
func NewKagiEngine(bm *BrowserManager, cfg config.KagiConfig) *KagiEngine {
	return &KagiEngine{
		browser:      bm,
		token:        cfg.Token,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		timeout:      cfg.Timeout,
		pollAttempts: cfg.PollAttempts,
		pollInterval: cfg.PollInterval,
	}
}

// Name 返回引擎名称
func (e *KagiEngine) Name() string {
	return kagiEngineName
}

// Authenticate 使用会话 token 登录并保存 cookie
func (e *KagiEngine) Authenticate(ctx context.Context) error {
	tabCtx, cancel, err := e.browser.NewTabContext(ctx, e.timeout)
	if err != nil {
		return fmt.Errorf("failed to initialize browser: %w", err)
	}
	defer cancel()

	var location string
	var cookies []*network.Cookie
	err = chromedp.Run(tabCtx,
		chromedp.Navigate(e.tokenURL()),
		chromedp.Location(&location),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = network.GetCookies().WithURLs([]string{e.baseURL}).Do(ctx)
			return err
		}),
	)
	if err != nil {
		return fmt.Errorf("kagi login navigation failed: %w", err)
	}

	if !isAuthenticatedLocation(location) {
		log.Debug().Str("location", redactToken(location)).Msg("❌ [Kagi] Login landed on unexpected page")
		return ErrAuthFailed
	}

	e.mu.Lock()
	e.cookies = toCookieParams(cookies)
	e.mu.Unlock()

	log.Info().Int("cookies", len(cookies)).Msg("✅ [Kagi] Authenticated")
	return nil
}

// Search 执行搜索，会话过期时重新登录一次
func (e *KagiEngine) Search(ctx context.Context, query string) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	results, err := e.searchPage(ctx, query)
	if errors.Is(err, ErrSessionExpired) {
		log.Warn().Msg("⚠️ [Kagi] Session expired, re-authenticating")
		if err := e.Authenticate(ctx); err != nil {
			return nil, err
		}
		results, err = e.searchPage(ctx, query)
	}
	return results, err
}

// searchPage 打开标签页并抓取结果
func (e *KagiEngine) searchPage(ctx context.Context, query string) ([]SearchResult, error) {
	tabCtx, cancel, err := e.browser.NewTabContext(ctx, e.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize browser: %w", err)
	}
	defer cancel()

	searchURL := e.searchURL(query)
	log.Debug().Str("url", searchURL).Msg("🌐 [Kagi] Navigating")

	var location string
	err = chromedp.Run(tabCtx,
		chromedp.ActionFunc(e.installCookies),
		chromedp.Navigate(searchURL),
		chromedp.Location(&location),
	)
	if err != nil {
		return nil, fmt.Errorf("browser navigation failed: %w", err)
	}
	if isSignInLocation(location) {
		return nil, ErrSessionExpired
	}

	found, err := e.waitForResults(tabCtx)
	if err != nil {
		return nil, err
	}
	if !found {
		log.Debug().Str("query", query).Msg("🔍 [Kagi] No results rendered")
		return []SearchResult{}, nil
	}

	var html string
	if err := chromedp.Run(tabCtx, GetPageSource(&html)); err != nil {
		return nil, fmt.Errorf("read page source failed: %w", err)
	}
	log.Debug().Int("bytes", len(html)).Msg("🔍 [Kagi] Got page HTML")

	return ParseResults(html)
}

// waitForResults 轮询等待结果渲染
func (e *KagiEngine) waitForResults(ctx context.Context) (bool, error) {
	script := fmt.Sprintf(`document.querySelectorAll(%q).length`, selResultsBox+" "+selResult)
	for i := 0; i < e.pollAttempts; i++ {
		var count int
		if err := chromedp.Run(ctx, chromedp.Evaluate(script, &count)); err != nil {
			return false, fmt.Errorf("query results failed: %w", err)
		}
		if count > 0 {
			return true, nil
		}
		log.Debug().Int("attempt", i+1).Msg("🔁 [Kagi] Results not rendered yet, retrying")
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(e.pollInterval):
		}
	}
	return false, nil
}

// installCookies 在新标签页上写入登录时保存的 cookie
func (e *KagiEngine) installCookies(ctx context.Context) error {
	e.mu.RLock()
	cookies := e.cookies
	e.mu.RUnlock()
	if len(cookies) == 0 {
		return nil
	}
	return network.SetCookies(cookies).Do(ctx)
}

func (e *KagiEngine) tokenURL() string {
	return e.baseURL + "/search?token=" + url.QueryEscape(e.token)
}

func (e *KagiEngine) searchURL(query string) string {
	return e.baseURL + "/search?q=" + url.QueryEscape(query)
}

// ParseResults 从结果页 HTML 提取 title / url / snippet，缺字段的条目跳过
func ParseResults(html string) ([]SearchResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse HTML failed: %w", err)
	}

	results := make([]SearchResult, 0)
	seen := make(map[string]bool)

	doc.Find(selResultsBox).Find(selResult).Each(func(i int, s *goquery.Selection) {
		titleEl := s.Find(selTitle).First()
		if titleEl.Length() == 0 {
			log.Debug().Int("index", i).Msg("Search result title not found, skipping")
			return
		}
		href, ok := s.Find(selURLLink).First().Attr("href")
		if !ok || href == "" {
			log.Debug().Int("index", i).Msg("Search result URL not found, skipping")
			return
		}
		snippetEl := s.Find(selSnippet).First()
		if snippetEl.Length() == 0 {
			log.Debug().Int("index", i).Msg("Search result snippet not found, skipping")
			return
		}

		if seen[href] {
			return
		}
		seen[href] = true

		results = append(results, SearchResult{
			Title:   cleanText(titleEl.Text()),
			URL:     href,
			Snippet: cleanText(snippetEl.Text()),
		})
	})

	return results, nil
}

// cleanText 折叠空白
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// isAuthenticatedLocation token 登录成功后 Kagi 会跳转到首页
func isAuthenticatedLocation(location string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	return u.Path == "/"
}

func isSignInLocation(location string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	return strings.HasPrefix(u.Path, "/signin") || strings.HasPrefix(u.Path, "/login")
}

// redactToken 日志中隐藏 token 参数
func redactToken(location string) string {
	u, err := url.Parse(location)
	if err != nil {
		return ""
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func toCookieParams(cookies []*network.Cookie) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: c.SameSite,
		})
	}
	return params
}
