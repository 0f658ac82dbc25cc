package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/kurihiro0119/contribution-mirror/internal/aggregator"
	"github.com/kurihiro0119/contribution-mirror/internal/api"
	"github.com/kurihiro0119/contribution-mirror/internal/config"
	"github.com/kurihiro0119/contribution-mirror/internal/storage"
	"github.com/kurihiro0119/contribution-mirror/internal/storage/postgres"
	"github.com/kurihiro0119/contribution-mirror/internal/storage/sqlite"
)

func main() {
	envFile := flag.String("config", "", "env file (default is .env)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*envFile)
	if err != nil {
		fatal(logger, "failed to load configuration", err)
	}
	if err := cfg.ValidateStorage(); err != nil {
		fatal(logger, "invalid storage configuration", err)
	}

	// Initialize storage
	var store storage.Storage
	switch cfg.StorageType {
	case "postgres":
		store, err = postgres.NewPostgresStorage(cfg.PostgresURL)
		if err != nil {
			fatal(logger, "failed to initialize PostgreSQL storage", err)
		}
	default:
		store, err = sqlite.NewSQLiteStorage(cfg.SQLitePath)
		if err != nil {
			fatal(logger, "failed to initialize SQLite storage", err)
		}
	}
	defer store.Close()

	handler := api.NewHandler(store, aggregator.NewAggregator(store))
	router := api.SetupRoutes(handler, logger)

	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	logger.Info("starting API server", "addr", addr, "storage", cfg.StorageType)

	if err := router.Run(addr); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
