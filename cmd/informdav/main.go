package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"informdav/internal/backend"
	"informdav/internal/caldav"
	"informdav/internal/config"
	"informdav/internal/feed"
	"informdav/internal/metrics"
	"informdav/internal/upstream"
)

const prodID = "-//informdav//CalDAV adapter//EN"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := upstream.NewClient(cfg.Upstream, logger)
	bk := backend.New(cfg.Backend, client, logger)

	davHandler := caldav.NewHandler(bk, caldav.Options{
		Prefix:   cfg.CalDAVPrefix,
		Username: cfg.CalDAVUsername,
		Password: cfg.CalDAVPassword,
		Logger:   logger,
	})
	feedHandler := feed.New(bk, cfg.Backend.OwnerKey, prodID, logger)

	chi.RegisterMethod("PROPFIND")
	chi.RegisterMethod("REPORT")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware())
	r.Use(middleware.Recoverer)

	if cfg.MetricsEnabled {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/feed.ics", feedHandler)
	r.Mount(strings.TrimSuffix(cfg.CalDAVPrefix, "/"), davHandler)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", cfg.ListenAddr, "caldav_prefix", cfg.CalDAVPrefix)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
