package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deusflow/coinrelay/internal/api"
	"github.com/deusflow/coinrelay/internal/app"
	"github.com/deusflow/coinrelay/internal/cache"
	"github.com/deusflow/coinrelay/internal/config"
	"github.com/deusflow/coinrelay/internal/format"
	"github.com/deusflow/coinrelay/internal/gemini"
	"github.com/deusflow/coinrelay/internal/logger"
	"github.com/deusflow/coinrelay/internal/metrics"
	"github.com/deusflow/coinrelay/internal/news"
	"github.com/deusflow/coinrelay/internal/publisher"
	"github.com/deusflow/coinrelay/internal/ratelimit"
	"github.com/deusflow/coinrelay/internal/rss"
	"github.com/deusflow/coinrelay/internal/scraper"
	"github.com/deusflow/coinrelay/internal/storage"
	"github.com/deusflow/coinrelay/internal/translate"
	"github.com/deusflow/coinrelay/internal/twitter"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, config.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.Init(cfg.Debug)

	sources, err := config.LoadSources(cfg.SourcesFile)
	if err != nil {
		slog.Error("Failed to load sources", "file", cfg.SourcesFile, "error", err)
		os.Exit(1)
	}
	slog.Info("Sources loaded", "feeds", len(sources.Feeds), "entries_per_feed", sources.EntriesPerFeed)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// A nil store keeps the HTTP surface up with the bot degraded.
	var store storage.Store
	st, err := storage.Open(ctx, storage.Options{
		Driver:      cfg.StoreDriver,
		DBPath:      cfg.DBPath,
		DatabaseURL: cfg.DatabaseURL,
		FilePath:    cfg.FilePath,
	})
	if err != nil {
		slog.Error("Failed to open store", "driver", cfg.StoreDriver, "error", err)
		m.SetError(err.Error())
	} else {
		store = st
		defer store.Close()
	}

	var poster publisher.Poster
	client, err := twitter.New(twitter.Credentials{
		ConsumerKey:       cfg.ConsumerKey,
		ConsumerSecret:    cfg.ConsumerSecret,
		AccessToken:       cfg.AccessToken,
		AccessTokenSecret: cfg.AccessTokenSecret,
	})
	if err != nil {
		slog.Error("Posting client unavailable", "error", err)
	} else {
		poster = client
	}

	translationCache := cache.New(cache.DefaultTTL, cache.DefaultMaxEntries)
	defer translationCache.Stop()

	backends := []translate.Backend{translate.NewGoogle()}
	if cfg.GeminiAPIKey != "" {
		budget := ratelimit.NewDailyBudget("gemini", cfg.MaxGeminiRequests)
		gc, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, budget)
		if err != nil {
			slog.Warn("Gemini fallback disabled", "error", err)
		} else {
			defer gc.Close()
			backends = append(backends, gc)
		}
	}
	translator := translate.NewAdapter(cfg.TargetLang, backends,
		translate.WithCache(translationCache),
		translate.WithFailureHook(m.IncrementTranslationFailures),
		translate.WithLogger(logger.Component("translate")),
	)

	var collectOpts []news.Option
	if store != nil {
		collectOpts = append(collectOpts, news.WithPostedFilter(store))
	}
	collector := news.NewCollector(sources, rss.NewFetcher(), translator, m, collectOpts...)
	formatter := format.New(sources.HashtagPools(), sources.GeneralHashtags, nil)
	pub := publisher.New(store, poster, formatter,
		publisher.WithImages(scraper.NewResolver()),
		publisher.WithMetrics(m),
	)

	bot := app.New(app.Options{
		Collector:        collector,
		Publisher:        pub,
		Store:            store,
		Waits:            cfg.Waits,
		MaxPostsPerCycle: cfg.MaxPostsPerCycle,
		Metrics:          m,
	})
	if status := bot.Status(); status.Degraded {
		slog.Warn("Bot starts degraded", "missing", status.Missing)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewServer(api.NewHandler(ctx, bot, store, m)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	if cfg.ManualStart {
		slog.Info("Bot idle, waiting for /start_bot_manual")
	} else {
		bot.Start(ctx)
	}

	<-ctx.Done()
	hits, misses := translationCache.Stats()
	slog.Info("Shutting down", "translation_cache_hits", hits, "translation_cache_misses", misses)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}

	// the store is closed by a deferred call, after the loop has returned
	bot.Wait()
	slog.Info("Bot stopped")
}
