package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/emberwatch/emberwatch-backend/internal/bus"
	"github.com/emberwatch/emberwatch-backend/internal/config"
	"github.com/emberwatch/emberwatch-backend/internal/db"
	"github.com/emberwatch/emberwatch-backend/internal/harvester"
	"github.com/emberwatch/emberwatch-backend/internal/logging"
	"github.com/emberwatch/emberwatch-backend/internal/models"
	"github.com/emberwatch/emberwatch-backend/internal/observability"
	"github.com/emberwatch/emberwatch-backend/internal/storage"
)

// The harvester runs one ingestion pass over every configured source and
// exits; scheduling repeated runs is left to cron or the platform.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("component", "harvester")

	sources, err := config.LoadDatasets(cfg.DatasetsFile)
	if err != nil {
		logger.Error("load dataset sources", "error", err)
		os.Exit(1)
	}

	gdb, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect database", "error", err)
		os.Exit(1)
	}
	if err := models.Migrate(gdb); err != nil {
		logger.Error("migrate database", "error", err)
		os.Exit(1)
	}

	metrics := observability.New(prometheus.DefaultRegisterer)

	h := harvester.New(
		storage.New(gdb),
		bus.NewPGSender(gdb),
		nil,
		logger,
		metrics,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("harvest started", "sources", len(sources))

	if err := h.Run(ctx, sources); err != nil {
		logger.Error("harvest finished with errors", "error", err)
		os.Exit(1)
	}

	logger.Info("harvest finished")
}
