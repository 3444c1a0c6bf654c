package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cliffyan/kagi-search-proxy/internal/config"
)

const (
	fakeKagiToken  = "good-token"
	sessionCookie  = "kagi_session"
	sessionValue   = "valid"
	lateResultPage = `<html><body><div class="results-box" id="box"></div>
<script>
setTimeout(function () {
  document.getElementById("box").innerHTML =
    '<div class="search-result"><h3 class="__sri-title">Late result</h3>' +
    '<div class="__sri-url-box"><a href="https://late.example/">late.example</a></div>' +
    '<div class="__sri-desc">Rendered after a delay.</div></div>';
}, 300);
</script></body></html>`
	emptyResultPage = `<html><body><div class="results-box"></div><p>No results.</p></body></html>`
)

// fakeKagi 模拟 Kagi 的 token 登录、会话 cookie 和结果页
type fakeKagi struct {
	fixture     []byte
	logins      atomic.Int32
	expireNext  atomic.Bool
	searchCalls atomic.Int32
}

func (k *fakeKagi) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/":
		_, _ = w.Write([]byte(`<html><body>home</body></html>`))
	case "/signin":
		_, _ = w.Write([]byte(`<html><body>sign in</body></html>`))
	case "/search":
		if token := r.URL.Query().Get("token"); token != "" {
			k.logins.Add(1)
			if token != fakeKagiToken {
				_, _ = w.Write([]byte(`<html><body>bad token</body></html>`))
				return
			}
			http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: sessionValue, Path: "/"})
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}

		k.searchCalls.Add(1)
		c, err := r.Cookie(sessionCookie)
		if err != nil || c.Value != sessionValue || k.expireNext.Swap(false) {
			http.Redirect(w, r, "/signin", http.StatusFound)
			return
		}
		switch r.URL.Query().Get("q") {
		case "late":
			_, _ = w.Write([]byte(lateResultPage))
		case "nothing":
			_, _ = w.Write([]byte(emptyResultPage))
		default:
			_, _ = w.Write(k.fixture)
		}
	default:
		http.NotFound(w, r)
	}
}

func TestKagiEngine_Browser(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a headless browser")
	}
	if findChromePath(os.Getenv("CHROME_PATH")) == "" {
		t.Skip("Chrome/Chromium not installed")
	}

	fixture, err := os.ReadFile("testdata/kagi_results.html")
	require.NoError(t, err)
	kagi := &fakeKagi{fixture: fixture}
	upstream := httptest.NewServer(kagi)
	t.Cleanup(upstream.Close)

	bm := NewBrowserManager(BrowserOptions{ExecPath: os.Getenv("CHROME_PATH"), Headless: true})
	t.Cleanup(bm.Close)

	newEngine := func(token string, attempts int, interval time.Duration) *KagiEngine {
		return NewKagiEngine(bm, config.KagiConfig{
			Token:        token,
			BaseURL:      upstream.URL,
			Timeout:      30 * time.Second,
			PollAttempts: attempts,
			PollInterval: interval,
		})
	}
	ctx := context.Background()

	eng := newEngine(fakeKagiToken, 10, 100*time.Millisecond)
	require.NoError(t, eng.Authenticate(ctx))
	require.Equal(t, int32(1), kagi.logins.Load())

	t.Run("results page", func(t *testing.T) {
		results, err := eng.Search(ctx, "golang")
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "https://go.dev/", results[0].URL)
		assert.Equal(t, "A Tour of Go", results[1].Title)
	})

	t.Run("results rendered after polling", func(t *testing.T) {
		results, err := eng.Search(ctx, "late")
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "https://late.example/", results[0].URL)
	})

	t.Run("results never render", func(t *testing.T) {
		quick := newEngine(fakeKagiToken, 3, 50*time.Millisecond)
		quick.cookies = eng.cookies

		start := time.Now()
		results, err := quick.Search(ctx, "nothing")
		require.NoError(t, err)
		assert.NotNil(t, results)
		assert.Empty(t, results)
		assert.GreaterOrEqual(t, time.Since(start), 3*50*time.Millisecond)
	})

	t.Run("expired session re-authenticates once", func(t *testing.T) {
		before := kagi.logins.Load()
		kagi.expireNext.Store(true)

		results, err := eng.Search(ctx, "golang")
		require.NoError(t, err)
		assert.Len(t, results, 2)
		assert.Equal(t, before+1, kagi.logins.Load())
	})

	t.Run("bad token", func(t *testing.T) {
		bad := newEngine("wrong", 1, 10*time.Millisecond)
		assert.ErrorIs(t, bad.Authenticate(ctx), ErrAuthFailed)
	})

	t.Run("dead browser is relaunched", func(t *testing.T) {
		bm.mu.Lock()
		bm.cancelFunc()
		bm.mu.Unlock()
		assert.False(t, bm.IsInitialized())

		require.NoError(t, eng.Authenticate(ctx))
		results, err := eng.Search(ctx, "golang")
		require.NoError(t, err)
		assert.Len(t, results, 2)
		assert.True(t, bm.IsInitialized())
	})
}
