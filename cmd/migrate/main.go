package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"digest_fetcher/internal/config"
	"digest_fetcher/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to config file")
	migrationsDir := flag.String("path", "migrations", "directory holding the migration files")
	flag.Parse()

	logger := logging.New("info")

	direction := flag.Arg(0)
	if direction != "up" && direction != "down" {
		fmt.Fprintln(os.Stderr, "usage: migrate [-config path] [-path dir] <up|down>")
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return 1
	}

	m, err := migrate.New("file://"+*migrationsDir, cfg.Database.URL())
	if err != nil {
		logger.Error("failed to create migrate instance", "error", err)
		return 1
	}
	defer func() { _, _ = m.Close() }()

	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	}

	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("no migrations to apply", "direction", direction)
		return 0
	}
	if err != nil {
		logger.Error("migration failed", "direction", direction, "error", err)
		return 1
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		logger.Warn("failed to read schema version", "error", err)
	}
	logger.Info("migration completed", "direction", direction, "version", version, "dirty", dirty)
	return 0
}
