package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"digest_fetcher/internal/config"
	"digest_fetcher/internal/digest"
	"digest_fetcher/internal/domain"
	"digest_fetcher/internal/logging"
	"digest_fetcher/internal/metrics"
	"digest_fetcher/internal/publisher"
	"digest_fetcher/internal/scheduler"
	"digest_fetcher/internal/service"
	"digest_fetcher/internal/settings"
	"digest_fetcher/internal/storage/postgres"
	"digest_fetcher/internal/timeofday"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	once := flag.Bool("once", false, "attempt today's digest now and exit")
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

	// Notifications are optional; without a broker URL digests are only stored.
	var notifier digest.Publisher
	if cfg.RabbitMQ.URL != "" {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		defer rabbitMQ.Close()
		notifier = rabbitMQ
	}

	digestStore := postgres.NewDigestStore(db)
	txManager := postgres.NewTransactionManager(db)
	runs := service.NewJobRunRecorder(postgres.NewJobRunStore(db), service.SystemClock())

	builder := digest.NewBuilder(digestStore, txManager, notifier, settingsService, logger)
	digestScheduler := service.NewDigestScheduler(digestStore, builder, runs, settingsService, logger)

	if last, err := runs.Latest(ctx, domain.JobDigestScheduler); err == nil {
		logger.Info("last digest run",
			"status", last.Status,
			"started_at", last.StartedAt,
			"details", last.Details,
		)
	} else if !errors.Is(err, domain.ErrNotFound) {
		logger.Warn("failed to read last digest run", "error", err)
	}

	m := metrics.New()

	if *once {
		outcome, err := digestScheduler.RunOnce(ctx, time.Now())
		m.ObserveDigest(outcome)
		if err != nil {
			logger.Error("digest run failed", "error", err)
			os.Exit(1)
		}
		logger.Info("digest run finished", "outcome", outcome)

		today, err := digestStore.GetByDate(ctx, time.Now())
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				logger.Warn("failed to read today's digest", "error", err)
			}
			return
		}
		logger.Info("today's digest",
			"id", today.ID,
			"status", today.Status,
			"article_count", today.ArticleCount,
			"notified_at", today.NotifiedAt,
		)
		return
	}

	go func() {
		if err := m.Serve(ctx, cfg.Metrics.Addr, logger); err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	// Config validation already parsed the time, so this cannot fail.
	fallback, _ := timeofday.Parse(cfg.Digest.Time)

	loop := scheduler.NewDaily(digestScheduler, m, fallback, cfg.Digest.RunTimeout, logger)

	logger.Info("starting digest scheduler",
		"default_time_utc", cfg.Digest.Time,
		"notifications", notifier != nil,
	)

	if err := loop.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("digest loop error", "error", err)
		os.Exit(1)
	}
}
