package engine

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"
)

// BrowserOptions 浏览器启动参数
type BrowserOptions struct {
	ExecPath string
	ProxyURL string
	Headless bool
}

// BrowserManager 浏览器管理器，整个进程共享一个浏览器，每个请求一个标签页
type BrowserManager struct {
	opts        BrowserOptions
	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	cancelFunc  context.CancelFunc
	mu          sync.Mutex
	initialized bool
}

// NewBrowserManager 创建浏览器管理器
func NewBrowserManager(opts BrowserOptions) *BrowserManager {
	return &BrowserManager{opts: opts}
}

// findChromePath 查找 Chrome 可执行文件路径
func findChromePath(preferred string) string {
	var paths []string
	if preferred != "" {
		paths = append(paths, preferred)
	}

	switch runtime.GOOS {
	case "darwin":
		paths = append(paths,
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		)
	case "linux":
		paths = append(paths,
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/usr/bin/google-chrome",
			"/usr/bin/google-chrome-stable",
			"/snap/bin/chromium",
		)
	case "windows":
		paths = append(paths,
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
			os.Getenv("LOCALAPPDATA")+`\Google\Chrome\Application\chrome.exe`,
		)
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			log.Debug().Str("path", p).Msg("🔍 Found Chrome")
			return p
		}
	}

	return ""
}

// Initialize 启动浏览器，重复调用无副作用
func (bm *BrowserManager) Initialize() error {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.initLocked()
}

func (bm *BrowserManager) initLocked() error {
	if bm.initialized && bm.browserCtx.Err() != nil {
		// Chrome 进程退出或浏览器上下文被取消，丢弃后重新启动
		log.Warn().Err(bm.browserCtx.Err()).Msg("⚠️ Browser is gone, relaunching")
		bm.releaseLocked()
	}
	if bm.initialized {
		return nil
	}

	chromePath := findChromePath(bm.opts.ExecPath)
	if chromePath == "" {
		return fmt.Errorf("Chrome/Chromium not found. Please install Chrome browser or set CHROME_PATH")
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(chromePath),

		chromedp.Flag("headless", bm.opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),

		// 模拟真实浏览器
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("lang", "en-US"),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)

	if bm.opts.ProxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(bm.opts.ProxyURL))
		log.Info().Str("proxy", bm.opts.ProxyURL).Msg("🌐 Browser using proxy")
	}

	bm.allocCtx, bm.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	bm.browserCtx, bm.cancelFunc = chromedp.NewContext(bm.allocCtx,
		chromedp.WithLogf(log.Printf),
		chromedp.WithErrorf(func(format string, args ...any) {
			log.Error().Msgf(format, args...)
		}),
	)

	// 启动浏览器（预热）
	if err := chromedp.Run(bm.browserCtx); err != nil {
		bm.cancelFunc()
		bm.allocCancel()
		return fmt.Errorf("failed to start browser: %w", err)
	}

	bm.initialized = true
	log.Info().Bool("headless", bm.opts.Headless).Str("path", chromePath).Msg("✅ Browser initialized")
	return nil
}

// NewTabContext 创建新的标签页上下文，parent 取消时标签页一并关闭
func (bm *BrowserManager) NewTabContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc, error) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	if err := bm.initLocked(); err != nil {
		return nil, nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(bm.browserCtx)
	timeoutCtx, timeoutCancel := context.WithTimeout(tabCtx, timeout)

	// 请求方断开时关闭标签页
	stop := context.AfterFunc(parent, timeoutCancel)

	return timeoutCtx, func() {
		stop()
		timeoutCancel()
		tabCancel()
	}, nil
}

// Close 关闭浏览器
func (bm *BrowserManager) Close() {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	if !bm.initialized {
		return
	}
	bm.releaseLocked()
	log.Info().Msg("🔴 Browser closed")
}

func (bm *BrowserManager) releaseLocked() {
	if bm.cancelFunc != nil {
		bm.cancelFunc()
	}
	if bm.allocCancel != nil {
		bm.allocCancel()
	}
	bm.initialized = false
}

// IsInitialized 检查浏览器是否已启动且仍然存活
func (bm *BrowserManager) IsInitialized() bool {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.initialized && bm.browserCtx.Err() == nil
}

// GetPageSource 获取页面源码
func GetPageSource(html *string) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		return chromedp.Run(ctx,
			chromedp.OuterHTML("html", html, chromedp.ByQuery),
		)
	}
}
