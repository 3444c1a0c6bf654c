package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cliffyan/kagi-search-proxy/internal/config"
	"github.com/cliffyan/kagi-search-proxy/internal/engine"
	"github.com/cliffyan/kagi-search-proxy/internal/metrics"
	"github.com/cliffyan/kagi-search-proxy/internal/server"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// .env 可选
	if err := godotenv.Load(); err == nil {
		log.Info().Msg("📄 Loaded .env")
	}

	log.Info().Msg("🔍 Starting kagi-search-proxy...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Invalid configuration")
	}

	zerolog.SetGlobalLevel(cfg.LogLevel())
	if cfg.Log.JSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	cfg.Print()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bm := engine.NewBrowserManager(engine.BrowserOptions{
		ExecPath: cfg.Browser.ExecPath,
		ProxyURL: cfg.GetProxyURL(),
		Headless: cfg.Browser.Headless,
	})
	defer bm.Close()

	if err := bm.Initialize(); err != nil {
		log.Fatal().Err(err).Msg("❌ Browser unavailable")
	}

	kagi := engine.NewKagiEngine(bm, cfg.Kagi)
	if err := kagi.Authenticate(ctx); err != nil {
		bm.Close()
		log.Fatal().Err(err).Msg("❌ Kagi authentication failed")
	}

	m := metrics.New()
	engineManager := engine.NewManager(cfg, m)
	engineManager.RegisterEngine(kagi)
	engineManager.SetFetcher(engine.NewBrowserFetcher(bm, cfg.Search.FetchTimeout))

	srv := server.New(cfg, engineManager, m)
	if err := srv.Start(ctx); err != nil {
		bm.Close()
		log.Fatal().Err(err).Msg("❌ Server failed")
	}
	log.Info().Msg("👋 Bye")
}
