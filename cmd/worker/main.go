package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/imagecpr/internal/codec"
	"github.com/dunamismax/imagecpr/internal/config"
	"github.com/dunamismax/imagecpr/internal/logging"
	"github.com/dunamismax/imagecpr/internal/storage"
	"github.com/dunamismax/imagecpr/internal/store"
	"github.com/dunamismax/imagecpr/internal/telemetry"
	"github.com/dunamismax/imagecpr/internal/webhook"
	"github.com/dunamismax/imagecpr/internal/worker"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New("worker", cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("worker failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Trace("imagecpr-worker"), logger)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	if err := codec.Startup(); err != nil {
		return err
	}
	defer codec.Shutdown()

	jobStore, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer jobStore.Close()

	deps := worker.Dependencies{
		JobStore: jobStore,
		Webhook: webhook.NewClient(cfg.Webhook.Client()),
	}

	storageClient, err := storage.NewClient(cfg.StorageClient())
	if err != nil {
		logger.Warn("object storage disabled, only local_file jobs will run", zap.Error(err))
	} else {
		deps.Storage = storageClient
	}

	logger.Info("starting worker",
		zap.Int("concurrency", cfg.Worker.Concurrency),
		zap.Int("max_active_jobs", cfg.Worker.MaxActiveJobs),
		zap.String("queue", cfg.Queue.Name),
		zap.String("redis", cfg.Queue.RedisAddr),
		zap.String("codec_backend", codec.Backend),
	)

	srv := worker.NewServer(logger, cfg.Queue, cfg.Worker, deps)

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	// asynq.Server.Run blocks until SIGTERM or SIGINT and then drains.
	return srv.Run()
}
