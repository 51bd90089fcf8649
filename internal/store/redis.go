package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"task-manager/internal/apperrors"
	"task-manager/internal/config"
)

// NewRedisClient builds a pooled client for one logical database. Socket
// timeouts follow the store timeout so a stalled server surfaces as an error.
func NewRedisClient(cfg config.RedisConfig, timeout time.Duration) *redis.Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
}

// Ping checks that the client can reach its server.
func Ping(ctx context.Context, client *redis.Client, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return apperrors.Upstream(client.Ping(ctx).Err(), "ping redis")
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func toArgs(rec map[string]string) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
