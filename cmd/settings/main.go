package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	_ "github.com/lib/pq"

	"digest_fetcher/internal/config"
	"digest_fetcher/internal/logging"
	"digest_fetcher/internal/settings"
	"digest_fetcher/internal/storage/postgres"
)

// settings prints the effective runtime settings or stores a new value:
//
//	settings                          print the resolved snapshot
//	settings set digest_time '"07:30"' store a JSON value and drop the cache
func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := logging.New("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return 1
	}
	logger = logging.New(cfg.LogLevel)

	ctx := context.Background()

	db, err := postgres.Connect(ctx, cfg.Database.DSN(), postgres.Options{})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return 1
	}
	defer db.Close()

	cache := settings.ConnectCache(ctx, cfg.Redis, logger)
	if cache != nil {
		defer cache.Close()
	}

	store := postgres.NewSettingsStore(db)
	svc := settings.NewService(store, cache, settings.Defaults(cfg), settings.Options{
		CacheTTL:      cfg.Settings.CacheTTL,
		LookupTimeout: cfg.Settings.LookupTimeout,
	}, logger)

	switch flag.Arg(0) {
	case "":
	case "set":
		key, raw := flag.Arg(1), flag.Arg(2)
		if !settings.Known(key) || raw == "" {
			fmt.Fprintf(os.Stderr, "usage: settings set <key> <json value>; known keys: %v\n", settings.Keys())
			return 1
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			logger.Error("value is not valid JSON", "key", key, "error", err)
			return 1
		}
		if err := store.Set(ctx, key, value); err != nil {
			logger.Error("failed to store setting", "key", key, "error", err)
			return 1
		}
		if err := svc.Invalidate(ctx); err != nil {
			logger.Warn("failed to invalidate settings cache", "error", err)
		}
		logger.Info("setting stored", "key", key)
	default:
		fmt.Fprintln(os.Stderr, "usage: settings [set <key> <json value>]")
		return 1
	}

	out, err := json.MarshalIndent(svc.Snapshot(ctx), "", "  ")
	if err != nil {
		logger.Error("failed to encode settings", "error", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}
