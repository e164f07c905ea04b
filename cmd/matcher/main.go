package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/emberwatch/emberwatch-backend/internal/bus"
	"github.com/emberwatch/emberwatch-backend/internal/config"
	"github.com/emberwatch/emberwatch-backend/internal/db"
	"github.com/emberwatch/emberwatch-backend/internal/logging"
	"github.com/emberwatch/emberwatch-backend/internal/matcher"
	"github.com/emberwatch/emberwatch-backend/internal/models"
	"github.com/emberwatch/emberwatch-backend/internal/observability"
	"github.com/emberwatch/emberwatch-backend/internal/storage"
	"github.com/emberwatch/emberwatch-backend/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("component", "matcher")

	gdb, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect database", "error", err)
		os.Exit(1)
	}
	if err := models.Migrate(gdb); err != nil {
		logger.Error("migrate database", "error", err)
		os.Exit(1)
	}

	listener, err := bus.NewListener(cfg.DatabaseURL, bus.ChannelTriggerMatching)
	if err != nil {
		logger.Error("open listener", "error", err)
		os.Exit(1)
	}
	defer func() { _ = listener.Close() }()

	metrics := observability.New(prometheus.DefaultRegisterer)
	if cfg.MetricsAddr != "" {
		go observability.ListenAndServe(cfg.MetricsAddr, logger)
	}

	engine := matcher.New(
		storage.New(gdb),
		bus.NewPGSender(gdb),
		clockwork.NewRealClock(),
		logger,
		metrics,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("matcher started")

	if err := worker.Run(ctx, listener, engine.Handle); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("matcher stopped", "error", err)
		os.Exit(1)
	}

	logger.Info("matcher stopped")
}
