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
	"golang.org/x/time/rate"

	"github.com/emberwatch/emberwatch-backend/internal/bus"
	"github.com/emberwatch/emberwatch-backend/internal/config"
	"github.com/emberwatch/emberwatch-backend/internal/db"
	"github.com/emberwatch/emberwatch-backend/internal/delivery"
	"github.com/emberwatch/emberwatch-backend/internal/logging"
	"github.com/emberwatch/emberwatch-backend/internal/models"
	"github.com/emberwatch/emberwatch-backend/internal/notifier"
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

	logger := logging.New(cfg.LogLevel).With("component", "notifier")

	gdb, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect database", "error", err)
		os.Exit(1)
	}
	if err := models.Migrate(gdb); err != nil {
		logger.Error("migrate database", "error", err)
		os.Exit(1)
	}

	listener, err := bus.NewListener(cfg.DatabaseURL, bus.ChannelTriggerNotifying)
	if err != nil {
		logger.Error("open listener", "error", err)
		os.Exit(1)
	}
	defer func() { _ = listener.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var publisher notifier.Publisher
	if cfg.Dry {
		logger.Info("dry mode, deliveries are logged only")
		publisher = delivery.NewLogPublisher(logger)
	} else {
		publisher, err = delivery.NewSNSPublisher(ctx)
		if err != nil {
			logger.Error("build sns publisher", "error", err)
			os.Exit(1)
		}
	}

	metrics := observability.New(prometheus.DefaultRegisterer)
	if cfg.MetricsAddr != "" {
		go observability.ListenAndServe(cfg.MetricsAddr, logger)
	}

	dispatcher := notifier.New(
		storage.New(gdb),
		publisher,
		rate.NewLimiter(rate.Limit(cfg.DeliveryRatePerSecond), 1),
		clockwork.NewRealClock(),
		logger,
		metrics,
	)

	logger.Info("notifier started")

	if err := worker.Run(ctx, listener, dispatcher.Handle); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("notifier stopped", "error", err)
		os.Exit(1)
	}

	logger.Info("notifier stopped")
}
