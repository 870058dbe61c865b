// Package settings resolves runtime-tunable values stored in the settings
// table. Lookups are bounded by a timeout and fall back to compiled-in
// defaults key by key, so a missing or broken store never stalls a worker.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"digest_fetcher/internal/config"
	"digest_fetcher/internal/timeofday"
)

// Setting keys as stored in the settings table.
const (
	KeyFetchIntervalMinutes = "fetch_interval_minutes"
	KeyDigestTime           = "digest_time"
	KeyMaxSourcesPerCycle   = "max_sources_per_cycle"
	KeyFetchEnabled         = "fetch_enabled"
	KeyDigestEnabled        = "digest_enabled"
	KeyDigestSections       = "digest_sections"
	KeyNotifications        = "notifications"
)

var keys = []string{
	KeyFetchIntervalMinutes,
	KeyDigestTime,
	KeyMaxSourcesPerCycle,
	KeyFetchEnabled,
	KeyDigestEnabled,
	KeyDigestSections,
	KeyNotifications,
}

// Keys lists every recognised setting key.
func Keys() []string {
	return slices.Clone(keys)
}

func Known(key string) bool {
	return slices.Contains(keys, key)
}

const cacheKey = "digest_fetcher:settings"

// Values is a resolved, validated settings snapshot.
type Values struct {
	FetchIntervalMinutes int      `json:"fetch_interval_minutes"`
	DigestTime           string   `json:"digest_time"`
	MaxSourcesPerCycle   int      `json:"max_sources_per_cycle"`
	FetchEnabled         bool     `json:"fetch_enabled"`
	DigestEnabled        bool     `json:"digest_enabled"`
	DigestSections       []string `json:"digest_sections"`
	Notifications        bool     `json:"notifications"`
}

// Defaults derives the fallback snapshot from static configuration.
func Defaults(cfg *config.Config) Values {
	return Values{
		FetchIntervalMinutes: cfg.Fetcher.DefaultIntervalMinutes,
		DigestTime:           cfg.Digest.Time,
		MaxSourcesPerCycle:   cfg.Fetcher.MaxSources,
		FetchEnabled:         true,
		DigestEnabled:        true,
		DigestSections:       cfg.Digest.Sections,
		Notifications:        cfg.Digest.Notifications,
	}
}

type Store interface {
	All(ctx context.Context) (map[string]json.RawMessage, error)
}

type Options struct {
	CacheTTL      time.Duration
	LookupTimeout time.Duration
}

type Service struct {
	store    Store
	cache    *redis.Client
	defaults Values
	opts     Options
	logger   *slog.Logger
}

// NewService creates a provider. cache may be nil.
func NewService(store Store, cache *redis.Client, defaults Values, opts Options, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		cache:    cache,
		defaults: defaults,
		opts:     opts,
		logger:   logger.With("component", "settings"),
	}
}

// Snapshot returns the current settings. It never fails.
func (s *Service) Snapshot(ctx context.Context) Values {
	if s.opts.LookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.LookupTimeout)
		defer cancel()
	}

	if v, ok := s.fromCache(ctx); ok {
		return v
	}

	raw, err := s.store.All(ctx)
	if err != nil {
		s.logger.Warn("settings unavailable, using defaults", "error", err)
		return s.defaults
	}

	v := s.resolve(raw)
	s.toCache(ctx, v)

	return v
}

func (s *Service) fromCache(ctx context.Context) (Values, bool) {
	if s.cache == nil {
		return Values{}, false
	}

	data, err := s.cache.Get(ctx, cacheKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Debug("settings cache read failed", "error", err)
		}
		return Values{}, false
	}

	var v Values
	if err := json.Unmarshal(data, &v); err != nil {
		s.logger.Debug("settings cache entry invalid", "error", err)
		return Values{}, false
	}
	return v, true
}

func (s *Service) toCache(ctx context.Context, v Values) {
	if s.cache == nil || s.opts.CacheTTL <= 0 {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey, data, s.opts.CacheTTL).Err(); err != nil {
		s.logger.Debug("settings cache write failed", "error", err)
	}
}

// Invalidate drops the cached snapshot so the next lookup hits the store.
func (s *Service) Invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Del(ctx, cacheKey).Err()
}

func (s *Service) resolve(raw map[string]json.RawMessage) Values {
	v := s.defaults

	decode(s, raw, KeyFetchIntervalMinutes, &v.FetchIntervalMinutes, positive)
	decode(s, raw, KeyMaxSourcesPerCycle, &v.MaxSourcesPerCycle, positive)
	decode(s, raw, KeyDigestTime, &v.DigestTime, func(t string) error {
		_, err := timeofday.Parse(t)
		return err
	})
	decode(s, raw, KeyFetchEnabled, &v.FetchEnabled, nil)
	decode(s, raw, KeyDigestEnabled, &v.DigestEnabled, nil)
	decode(s, raw, KeyDigestSections, &v.DigestSections, nil)
	decode(s, raw, KeyNotifications, &v.Notifications, nil)

	return v
}

func positive(n int) error {
	if n < 1 {
		return fmt.Errorf("must be a positive integer, got %d", n)
	}
	return nil
}

// decode overwrites *dst with raw[key] when present and valid.
func decode[T any](s *Service, raw map[string]json.RawMessage, key string, dst *T, validate func(T) error) {
	data, ok := raw[key]
	if !ok {
		return
	}

	var val T
	if err := json.Unmarshal(data, &val); err != nil {
		s.logger.Warn("invalid setting, using default", "key", key, "error", err)
		return
	}
	if validate != nil {
		if err := validate(val); err != nil {
			s.logger.Warn("invalid setting, using default", "key", key, "error", err)
			return
		}
	}
	*dst = val
}
