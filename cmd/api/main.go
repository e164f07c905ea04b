package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/emberwatch/emberwatch-backend/internal/api"
	"github.com/emberwatch/emberwatch-backend/internal/bus"
	"github.com/emberwatch/emberwatch-backend/internal/config"
	"github.com/emberwatch/emberwatch-backend/internal/db"
	"github.com/emberwatch/emberwatch-backend/internal/logging"
	"github.com/emberwatch/emberwatch-backend/internal/middleware"
	"github.com/emberwatch/emberwatch-backend/internal/models"
	"github.com/emberwatch/emberwatch-backend/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("component", "api")

	gdb, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect database", "error", err)
		os.Exit(1)
	}
	if err := models.Migrate(gdb); err != nil {
		logger.Error("migrate database", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(storage.New(gdb), bus.NewPGSender(gdb), logger)

	r := chi.NewRouter()
	r.Use(middleware.CORSMiddleware)
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/", handler.Routes())

	addr := "0.0.0.0:" + cfg.HTTPPort
	logger.Info("api listening", "addr", addr)

	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Error("api stopped", "error", err)
		os.Exit(1)
	}
}
