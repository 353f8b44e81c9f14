// Command chatlens runs the live chat translation overlay.
// It:
//   - Loads configuration and initializes structured logging.
//   - Builds the page loop, the message locator, the overlay manager and
//     the cached translation client (in-memory or Redis).
//   - Feeds the page from a snapshot file or a Twitch channel.
//   - Runs the orchestrator that translates incoming messages and the voice
//     reply listener.
//   - Exposes an HTTP server with /healthz, /readyz, /status, /metrics,
//     /speech/transcript and /admin/reset.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/onnwee/chatlens/chat"
	"github.com/onnwee/chatlens/config"
	"github.com/onnwee/chatlens/dom"
	"github.com/onnwee/chatlens/locator"
	"github.com/onnwee/chatlens/overlay"
	"github.com/onnwee/chatlens/page"
	"github.com/onnwee/chatlens/server"
	"github.com/onnwee/chatlens/source"
	"github.com/onnwee/chatlens/speech"
	"github.com/onnwee/chatlens/telemetry"
	"github.com/onnwee/chatlens/translator"
)

const version = "1.0.0"

func main() {
	// .env is a local dev convenience; production relies on real env
	config.LoadDotEnv(".env")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.LogLevel, cfg.LogFormat))

	telemetry.Init()

	// Tracing is optional; it exports only when OTEL_EXPORTER_OTLP_ENDPOINT is set.
	shutdown, err := telemetry.InitTracing("chatlens", version)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cache, err := openCache(ctx, cfg)
	if err != nil {
		slog.Error("translation cache unavailable", slog.Any("err", err), slog.String("backend", cfg.CacheBackend))
		os.Exit(1)
	}
	if c, ok := cache.(interface{ Close() error }); ok {
		defer func() {
			if err := c.Close(); err != nil {
				slog.Warn("closing translation cache", slog.Any("err", err))
			}
		}()
	}
	tr := translator.New(translator.Options{
		Endpoint:      cfg.TranslateEndpoint,
		Timeout:       cfg.TranslateTimeout,
		MaxConcurrent: cfg.TranslateMaxConcurrent,
		Cache:         cache,
		UserAgent:     cfg.UserAgent,
	})

	doc := dom.New()
	p := page.New(doc, cfg.PageLocation)
	loc := locator.New(doc, cfg.Hints, locator.WithExclude(overlay.Within))
	overlays := overlay.NewManager(doc, loc.ContentElement, overlay.NewMessages(cfg.UILocale))
	orch := chat.New(p, loc, overlays, tr, chat.Options{
		TargetLanguage:      cfg.TargetLanguage,
		SourceLanguage:      cfg.SourceLanguage,
		VoiceLanguage:       cfg.VoiceLanguage,
		ReplyLanguage:       cfg.ReplyLanguage,
		RescanInterval:      cfg.RescanInterval,
		ThreadCheckInterval: cfg.ThreadCheckInterval,
	})
	feed := speech.NewFeed()

	slog.Info("starting chatlens",
		slog.String("version", version),
		slog.String("target", cfg.TargetLanguage),
		slog.String("source", cfg.Source),
		slog.String("cache", cfg.CacheBackend),
	)

	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("component exited with error", slog.String("component", name), slog.Any("err", err))
			}
		}()
	}

	spawn("page", p.Run)
	spawn("orchestrator", orch.Run)
	spawn("voice", func(ctx context.Context) error { return orch.ListenVoice(ctx, feed) })

	switch cfg.Source {
	case config.SourceFile:
		fs := source.NewFileSource(cfg.PageFile)
		fs.Debounce = cfg.PageDebounce
		spawn("file_source", func(ctx context.Context) error { return fs.Run(ctx, p) })
	case config.SourceTwitch:
		ts := source.NewTwitchSource(source.TwitchConfig{
			Channel:     cfg.TwitchChannel,
			Username:    cfg.TwitchBotUsername,
			OAuthToken:  cfg.TwitchOAuthToken,
			MaxMessages: cfg.TwitchMaxMessages,
		})
		spawn("twitch_source", func(ctx context.Context) error { return ts.Run(ctx, p) })
	default:
		slog.Info("no page source configured; waiting for an external driver")
	}

	if os.Getenv("ENABLE_PPROF") == "1" {
		startPprof(os.Getenv("PPROF_ADDR"))
	}

	spawn("http", func(ctx context.Context) error {
		return server.Start(ctx, server.Deps{Orchestrator: orch, Running: p.Running, Feed: feed}, cfg.HTTPAddr)
	})

	<-ctx.Done()
	slog.Info("shutting down")
	wg.Wait()
}

// newLogger builds the slog handler from LOG_LEVEL and LOG_FORMAT.
// Defaults: level=info, format=text.
func newLogger(level, format string) *slog.Logger {
	lvl := slog.LevelInfo
	unknown := false
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		unknown = true
	}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	logger := slog.New(handler)
	if unknown {
		logger.Warn("unknown LOG_LEVEL, using info", slog.String("value", level))
	}
	return logger
}

func openCache(ctx context.Context, cfg *config.Config) (translator.Cache, error) {
	if cfg.CacheBackend != config.CacheRedis {
		return translator.NewMemoryCache(), nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return translator.OpenRedisCache(pingCtx, cfg.RedisURL, cfg.CacheTTL)
}

func startPprof(addr string) {
	if addr == "" {
		addr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", addr))
		srv := &http.Server{
			Addr:              addr,
			Handler:           nil, // default mux exposes /debug/pprof
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}
