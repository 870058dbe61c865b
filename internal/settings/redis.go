package settings

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"digest_fetcher/internal/config"
)

const redisPingTimeout = 2 * time.Second

// ConnectCache opens the optional settings cache. It returns nil when no
// address is configured or the server does not answer; settings then always
// come from the store.
func ConnectCache(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("settings cache unavailable, continuing without it", "addr", cfg.Addr, "error", err)
		_ = client.Close()
		return nil
	}

	logger.Info("connected to settings cache", "addr", cfg.Addr)
	return client
}
