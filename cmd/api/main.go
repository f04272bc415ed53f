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

	"github.com/dunamismax/imagecpr/internal/api"
	"github.com/dunamismax/imagecpr/internal/codec"
	"github.com/dunamismax/imagecpr/internal/config"
	"github.com/dunamismax/imagecpr/internal/logging"
	"github.com/dunamismax/imagecpr/internal/queue"
	"github.com/dunamismax/imagecpr/internal/ratelimit"
	"github.com/dunamismax/imagecpr/internal/storage"
	"github.com/dunamismax/imagecpr/internal/store"
	"github.com/dunamismax/imagecpr/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New("api", cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Trace("imagecpr-api"), logger)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	if err := codec.Startup(); err != nil {
		return err
	}
	defer codec.Shutdown()

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.ClientOptions())
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close error", zap.Error(err))
		}
	}()

	jobStore, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer jobStore.Close()

	opts := api.Options{
		Logger:         logger,
		Queue:          queueClient,
		JobStore:       jobStore,
		PresignTTL:     cfg.API.PresignExpiry,
		MaxUploadBytes: cfg.API.MaxUploadBytes,
		MaxPixels:      cfg.API.MaxPixels,
	}

	storageClient, err := storage.NewClient(cfg.StorageClient())
	if err != nil {
		logger.Warn("object storage disabled", zap.Error(err))
	} else if err := storageClient.EnsureBucket(ctx); err != nil {
		logger.Warn("object storage disabled", zap.Error(err))
	} else {
		opts.Storage = storageClient
	}

	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer redisClient.Close()

		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, ratelimit.Options{
			Capacity: cfg.RateLimit.Capacity,
			Window:   cfg.RateLimit.Window,
		})
		if err != nil {
			return err
		}
		opts.RateLimiter = limiter
	}

	app := api.NewServer(opts)
	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.API.Addr),
			zap.String("codec_backend", codec.Backend),
			zap.String("job_store", cfg.Database.Driver),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	return nil
}

