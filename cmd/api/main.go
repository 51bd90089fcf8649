package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"task-manager/internal/api"
	"task-manager/internal/config"
	"task-manager/internal/logging"
	"task-manager/internal/orchestrator"
	"task-manager/internal/ratelimit"
	"task-manager/internal/store"
	"task-manager/internal/stream"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout).With().Str("service", "api").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clients := newClientSet(cfg.StoreTimeout)
	defer clients.Close(logger)

	taskRedis := clients.For(cfg.TaskRedis)
	locationRedis := clients.For(cfg.LocationRedis)
	streamRedis := clients.For(cfg.StreamRedis)

	dispatcher := stream.NewDispatcher(
		stream.NewPublisher(streamRedis, cfg.StreamName, cfg.StreamMaxLen),
		cfg.PublishQueueSize, cfg.PublishWorkers, cfg.PublishTimeout, logger,
	)
	dispatcher.Start()

	svc := orchestrator.New(
		store.NewLocationStore(locationRedis, cfg.StoreTimeout, logger),
		store.NewTaskStore(taskRedis, cfg.StoreTimeout, logger),
		dispatcher,
		logger,
	)
	limiter := ratelimit.NewTokenBucket(clients.For(cfg.RateLimitRedis), cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	server := api.New(svc, logger,
		api.WithRateLimit(limiter.Middleware(logger)),
		api.WithHealthCheck(clients.Ping),
	)

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", httpServer.Addr).Str("env", cfg.Env).Msg("api listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		if derr := dispatcher.Close(shutdownCtx); derr != nil {
			logger.Warn().Err(derr).Msg("event queue not drained")
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("api stopped")
	}
	logger.Info().Msg("api stopped")
}

// clientSet shares one client between stores that point at the same database.
type clientSet struct {
	timeout time.Duration
	clients map[config.RedisConfig]*redis.Client
}

func newClientSet(timeout time.Duration) *clientSet {
	return &clientSet{timeout: timeout, clients: make(map[config.RedisConfig]*redis.Client)}
}

func (c *clientSet) For(rc config.RedisConfig) *redis.Client {
	if client, ok := c.clients[rc]; ok {
		return client
	}
	client := store.NewRedisClient(rc, c.timeout)
	c.clients[rc] = client
	return client
}

func (c *clientSet) Ping(ctx context.Context) error {
	for _, client := range c.clients {
		if err := store.Ping(ctx, client, c.timeout); err != nil {
			return err
		}
	}
	return nil
}

func (c *clientSet) Close(logger zerolog.Logger) {
	for rc, client := range c.clients {
		if err := client.Close(); err != nil {
			logger.Warn().Err(err).Str("addr", rc.Addr()).Msg("close redis client")
		}
	}
}
