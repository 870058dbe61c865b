package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"digest_fetcher/internal/timeofday"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	HTTP     HTTPConfig     `yaml:"http"`
	Fetcher  FetcherConfig  `yaml:"fetcher"`
	Digest   DigestConfig   `yaml:"digest"`
	Settings SettingsConfig `yaml:"settings"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	LogLevel string         `yaml:"log_level"`
}

type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	QueueName  string `yaml:"queue_name"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`

	MaxOpenConns int `yaml:"max_open_conns"`
	MaxIdleConns int `yaml:"max_idle_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// URL returns the database address in the form golang-migrate expects.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type HTTPConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	UserAgent   string        `yaml:"user_agent"`
	MaxArticles int           `yaml:"max_articles"`
	Concurrency int           `yaml:"concurrency"`
	Retry       RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type FetcherConfig struct {
	Interval               time.Duration `yaml:"interval"`
	Jitter                 time.Duration `yaml:"jitter"`
	MaxSources             int           `yaml:"max_sources"`
	SourceTimeout          time.Duration `yaml:"source_timeout"`
	FirstFetchLookback     time.Duration `yaml:"first_fetch_lookback"`
	DefaultIntervalMinutes int           `yaml:"default_interval_minutes"`
}

type DigestConfig struct {
	Time          string        `yaml:"time"`
	Sections      []string      `yaml:"sections"`
	Notifications bool          `yaml:"notifications"`
	RunTimeout    time.Duration `yaml:"run_timeout"`
}

type SettingsConfig struct {
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	LookupTimeout time.Duration `yaml:"lookup_timeout"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := defaults()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// defaults is the configuration before the file is applied. Keys present in
// the file overwrite these values, so an explicit zero stays zero and is
// caught by Validate.
func defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Port:         5432,
			SSLMode:      "disable",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		RabbitMQ: RabbitMQConfig{
			Exchange:   "digest_fetcher",
			RoutingKey: "digests",
			QueueName:  "digest_notifications",
		},
		HTTP: HTTPConfig{
			Timeout:     30 * time.Second,
			UserAgent:   "DigestFetcher/1.0",
			MaxArticles: 20,
			Concurrency: 5,
			Retry: RetryConfig{
				MaxAttempts:    3,
				InitialBackoff: 1 * time.Second,
				MaxBackoff:     30 * time.Second,
			},
		},
		Fetcher: FetcherConfig{
			Interval:               5 * time.Minute,
			Jitter:                 1 * time.Minute,
			MaxSources:             10,
			SourceTimeout:          2 * time.Minute,
			FirstFetchLookback:     24 * time.Hour,
			DefaultIntervalMinutes: 60,
		},
		Digest: DigestConfig{
			Time:       "08:00",
			Sections:   []string{"security_news", "product_news", "market"},
			RunTimeout: 10 * time.Minute,
		},
		Settings: SettingsConfig{
			CacheTTL:      30 * time.Second,
			LookupTimeout: 2 * time.Second,
		},
		LogLevel: "info",
	}
}

// Validate rejects static values that must not be silently defaulted. An
// interval or timeout set to zero in the file is an error, not a request for
// the default.
func (c *Config) Validate() error {
	var errs []error

	if c.Fetcher.Interval <= 0 {
		errs = append(errs, fmt.Errorf("fetcher.interval must be positive, got %s", c.Fetcher.Interval))
	}
	if c.Fetcher.Jitter < 0 {
		errs = append(errs, fmt.Errorf("fetcher.jitter must not be negative, got %s", c.Fetcher.Jitter))
	}
	if c.Fetcher.MaxSources < 1 {
		errs = append(errs, fmt.Errorf("fetcher.max_sources must be at least 1, got %d", c.Fetcher.MaxSources))
	}
	if c.Fetcher.SourceTimeout <= 0 {
		errs = append(errs, fmt.Errorf("fetcher.source_timeout must be positive, got %s", c.Fetcher.SourceTimeout))
	}
	if c.Fetcher.DefaultIntervalMinutes < 1 {
		errs = append(errs, fmt.Errorf("fetcher.default_interval_minutes must be positive, got %d", c.Fetcher.DefaultIntervalMinutes))
	}
	if c.Digest.RunTimeout <= 0 {
		errs = append(errs, fmt.Errorf("digest.run_timeout must be positive, got %s", c.Digest.RunTimeout))
	}
	if _, err := timeofday.Parse(c.Digest.Time); err != nil {
		errs = append(errs, fmt.Errorf("digest.time: %w", err))
	}
	if c.HTTP.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("http.retry.max_attempts must be at least 1, got %d", c.HTTP.Retry.MaxAttempts))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
