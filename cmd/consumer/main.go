package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"task-manager/internal/analytics"
	"task-manager/internal/config"
	"task-manager/internal/logging"
	"task-manager/internal/store"
	"task-manager/internal/stream"
	"task-manager/internal/telemetry"
	"task-manager/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout).With().
		Str("service", "consumer").
		Str("consumer", cfg.ConsumerName).
		Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := store.NewRedisClient(cfg.StreamRedis, cfg.StoreTimeout+cfg.ConsumerBlock)
	defer client.Close()

	consumer := stream.NewConsumer(client, cfg.StreamName, cfg.ConsumerGroup, cfg.ConsumerName, cfg.ConsumerBatch, cfg.ConsumerBlock)
	processor := worker.NewProcessor(consumer, worker.Options{
		MaxAttempts:    cfg.MaxAttempts,
		BackoffInitial: cfg.BackoffInitial,
		BackoffMax:     cfg.BackoffMax,
	}, logger)
	processor.RegisterHandler("log", analytics.NewLogSink(logger).Handle)

	if cfg.PostgresDSN != "" {
		pg, err := analytics.NewPostgresSink(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect postgres")
		}
		defer pg.Close()
		if err := pg.RunMigrations(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrations")
		}
		processor.RegisterHandler("postgres", pg.Handle)
	}
	if cfg.ArchiveS3Bucket != "" {
		archive, err := analytics.NewS3Archive(ctx, analytics.S3Config{
			Bucket:    cfg.ArchiveS3Bucket,
			Region:    cfg.ArchiveS3Region,
			Endpoint:  cfg.ArchiveS3Endpoint,
			PathStyle: cfg.ArchiveS3PathStyle,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("init s3 archive")
		}
		processor.RegisterHandler("s3", archive.Handle)
	}

	metricsServer := newMetricsServer(cfg.MetricsAddr, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("stream", cfg.StreamName).
			Str("group", cfg.ConsumerGroup).
			Int("max_attempts", cfg.MaxAttempts).
			Msg("consumer started")
		if err := processor.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("consumer stopped")
	}
	logger.Info().Msg("consumer stopped")
}

func newMetricsServer(addr string, logger zerolog.Logger) *http.Server {
	r := chi.NewRouter()
	r.Use(logging.Middleware(logger))
	r.Mount("/metrics", telemetry.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
}
