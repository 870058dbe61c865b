package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"digest_fetcher/internal/config"
	"digest_fetcher/internal/domain"
	"digest_fetcher/internal/logging"
	"digest_fetcher/internal/metrics"
	"digest_fetcher/internal/scheduler"
	"digest_fetcher/internal/service"
	"digest_fetcher/internal/settings"
	"digest_fetcher/internal/source"
	"digest_fetcher/internal/source/website"
	"digest_fetcher/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	once := flag.Bool("once", false, "run a single cycle and exit")
	inspect := flag.String("source", "", "log the state of the source with this id and exit")
	flag.Parse()

	logger := logging.New("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = logging.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	db, err := postgres.Connect(ctx, cfg.Database.DSN(), postgres.Options{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	cache := settings.ConnectCache(ctx, cfg.Redis, logger)
	if cache != nil {
		defer cache.Close()
	}

	settingsService := settings.NewService(
		postgres.NewSettingsStore(db),
		cache,
		settings.Defaults(cfg),
		settings.Options{CacheTTL: cfg.Settings.CacheTTL, LookupTimeout: cfg.Settings.LookupTimeout},
		logger,
	)

	sourceStore := postgres.NewSourceStore(db)
	articleStore := postgres.NewArticleStore(db)
	jobRunStore := postgres.NewJobRunStore(db)
	txManager := postgres.NewTransactionManager(db)
	clock := service.SystemClock()

	if *inspect != "" {
		if err := logSource(ctx, sourceStore, articleStore, *inspect, logger); err != nil {
			logger.Error("failed to inspect source", "error", err)
			os.Exit(1)
		}
		return
	}

	fetchers := source.NewRegistry().
		Register(domain.SourceTypeWebsite, website.New(website.Config{
			Client: website.ClientConfig{
				Timeout:        cfg.HTTP.Timeout,
				UserAgent:      cfg.HTTP.UserAgent,
				MaxAttempts:    cfg.HTTP.Retry.MaxAttempts,
				InitialBackoff: cfg.HTTP.Retry.InitialBackoff,
				MaxBackoff:     cfg.HTTP.Retry.MaxBackoff,
			},
			MaxArticles: cfg.HTTP.MaxArticles,
			Concurrency: cfg.HTTP.Concurrency,
		}, logger))

	upserter := service.NewArticleUpserter(articleStore, txManager, clock, cfg.Fetcher.FirstFetchLookback, logger)

	runner := service.NewFetchCycleRunner(
		sourceStore,
		fetchers,
		upserter,
		txManager,
		service.NewJobRunRecorder(jobRunStore, clock),
		settingsService,
		clock,
		cfg.Fetcher.SourceTimeout,
		logger,
	)

	m := metrics.New()

	if *once {
		stats, err := runner.RunCycle(ctx, 0)
		m.ObserveCycle(stats, err)
		if err != nil {
			logger.Error("cycle failed", "error", err)
			os.Exit(1)
		}
		return
	}

	go func() {
		if err := m.Serve(ctx, cfg.Metrics.Addr, logger); err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	sched := scheduler.NewScheduler(runner, m, cfg.Fetcher.Interval, cfg.Fetcher.Jitter, 0, logger)

	logger.Info("starting fetch worker",
		"interval", cfg.Fetcher.Interval,
		"jitter", cfg.Fetcher.Jitter,
		"max_sources", cfg.Fetcher.MaxSources,
	)

	if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}
}

func logSource(ctx context.Context, sources *postgres.SourceStore, articles *postgres.ArticleStore, rawID string, logger *slog.Logger) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("parse source id: %w", err)
	}

	src, err := sources.Get(ctx, id)
	if err != nil {
		return err
	}
	count, err := articles.CountBySource(ctx, id)
	if err != nil {
		return err
	}

	logger.Info("source",
		"id", src.ID,
		"name", src.Name,
		"url", src.URL,
		"type", src.Type,
		"enabled", src.Enabled,
		"fetch_interval_minutes", src.FetchIntervalMinutes,
		"last_fetched_at", src.LastFetchedAt,
		"articles", count,
	)
	return nil
}
