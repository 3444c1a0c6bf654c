package engine

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"
)

// strippedElements 转换前移除的元素
var strippedElements = []string{"script", "style", "noscript", "header", "footer"}

// BrowserFetcher 用浏览器加载页面，适用于需要执行 JS 的站点
type BrowserFetcher struct {
	browser *BrowserManager
	timeout time.Duration
}

// NewBrowserFetcher 创建页面抓取器
func NewBrowserFetcher(bm *BrowserManager, timeout time.Duration) *BrowserFetcher {
	return &BrowserFetcher{browser: bm, timeout: timeout}
}

// Fetch 抓取页面并返回 Markdown
func (f *BrowserFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	if err := ValidateFetchURL(pageURL); err != nil {
		return "", err
	}

	tabCtx, cancel, err := f.browser.NewTabContext(ctx, f.timeout)
	if err != nil {
		return "", fmt.Errorf("failed to initialize browser: %w", err)
	}
	defer cancel()

	log.Debug().Str("url", pageURL).Msg("🌐 [Fetch] Navigating")

	var html string
	err = chromedp.Run(tabCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		GetPageSource(&html),
	)
	if err != nil {
		return "", fmt.Errorf("browser navigation failed: %w", err)
	}

	return HTMLToMarkdown(html)
}

// ValidateFetchURL 仅允许绝对 http(s) 地址
func ValidateFetchURL(pageURL string) error {
	u, err := url.Parse(strings.TrimSpace(pageURL))
	if err != nil || u.Host == "" {
		return ErrInvalidURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrInvalidURL
	}
	return nil
}

// HTMLToMarkdown 去掉脚本、样式、页眉页脚后转换为 Markdown
func HTMLToMarkdown(html string) (string, error) {
	if strings.TrimSpace(html) == "" {
		return "", nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse HTML failed: %w", err)
	}
	doc.Find(strings.Join(strippedElements, ",")).Remove()

	cleaned, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("render HTML failed: %w", err)
	}

	md, err := htmltomarkdown.ConvertString(cleaned)
	if err != nil {
		return "", fmt.Errorf("convert to markdown failed: %w", err)
	}
	return strings.TrimSpace(md), nil
}
