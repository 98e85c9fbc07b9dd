package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/deepfry/internal/config"
	"github.com/dunamismax/deepfry/internal/logging"
	"github.com/dunamismax/deepfry/internal/pipeline"
	"github.com/dunamismax/deepfry/internal/storage"
	"github.com/dunamismax/deepfry/internal/store"
	"github.com/dunamismax/deepfry/internal/telemetry"
	"github.com/dunamismax/deepfry/internal/webhook"
	"github.com/dunamismax/deepfry/internal/worker"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := config.Load()
	logger := logging.New("worker", cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := pipeline.Startup(logger); err != nil {
		logger.WithError(err).Fatal("image runtime startup failed")
	}
	defer pipeline.Shutdown()

	shutdownTracing, err := telemetry.SetupTracing(ctx, "deepfry-worker", cfg.Trace, logger)
	if err != nil {
		logger.WithError(err).Fatal("tracing setup failed")
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.WithError(err).Warn("tracing shutdown failed")
		}
	}()

	jobStore, err := store.Open(ctx, cfg.Database.DSN)
	if err != nil {
		logger.WithError(err).Fatal("job store unavailable")
	}
	defer jobStore.Close()

	objects, err := storage.NewClient(cfg.Storage)
	if err != nil {
		logger.WithError(err).Fatal("object storage client failed")
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		logger.WithError(err).Warn("bucket check failed")
	}

	hooks := webhook.NewClient(webhook.Config{
		SigningSecret:  cfg.Webhook.SigningSecret,
		Timeout:        cfg.Webhook.Timeout,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		InitialBackoff: cfg.Webhook.InitialBackoff,
		MaxBackoff:     cfg.Webhook.MaxBackoff,
	})

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, objects, hooks, jobStore, jobStore)
	if err != nil {
		logger.WithError(err).Fatal("worker setup failed")
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server failed")
		}
	}()

	logger.WithFields(logrus.Fields{
		"concurrency":     cfg.Worker.Concurrency,
		"max_active_jobs": cfg.Worker.MaxActiveJobs,
		"queue":           cfg.Queue.Name,
		"redis":           cfg.Queue.RedisAddr,
		"metrics_addr":    cfg.Worker.MetricsAddr,
	}).Info("starting worker")

	if err := srv.Start(); err != nil {
		logger.WithError(err).Fatal("worker failed")
	}

	<-ctx.Done()
	logger.Info("shutting down")
	srv.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("metrics server shutdown failed")
	}
}
