package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"REDIS_HOST", "REDIS_PORT", "REDIS_DB", "TASK_REDIS_HOST", "STREAM_NAME", "STORE_TIMEOUT"} {
		t.Setenv(k, "")
	}

	cfg := FromEnv()
	assert.Equal(t, "localhost:6379", cfg.TaskRedis.Addr())
	assert.Equal(t, cfg.TaskRedis, cfg.LocationRedis)
	assert.Equal(t, cfg.TaskRedis, cfg.StreamRedis)
	assert.Equal(t, "task-stream", cfg.StreamName)
	assert.Equal(t, "analytics-group", cfg.ConsumerGroup)
	assert.Equal(t, 2*time.Second, cfg.StoreTimeout)
	assert.NotEmpty(t, cfg.ConsumerName)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.ShutdownGrace)
}

func TestFromEnvPerStoreOverrides(t *testing.T) {
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("LOCATION_REDIS_DB", "3")
	t.Setenv("STREAM_REDIS_HOST", "stream-redis")
	t.Setenv("RATE_LIMIT_REDIS_DB", "7")
	t.Setenv("STORE_TIMEOUT", "750ms")
	t.Setenv("ARCHIVE_S3_PATH_STYLE", "true")

	cfg := FromEnv()
	assert.Equal(t, "redis:6380", cfg.TaskRedis.Addr())
	assert.Equal(t, 0, cfg.TaskRedis.DB)
	assert.Equal(t, 3, cfg.LocationRedis.DB)
	assert.Equal(t, "redis", cfg.LocationRedis.Host)
	assert.Equal(t, "stream-redis:6380", cfg.StreamRedis.Addr())
	assert.Equal(t, 7, cfg.RateLimitRedis.DB)
	assert.Equal(t, "redis:6380", cfg.RateLimitRedis.Addr())
	assert.Equal(t, 750*time.Millisecond, cfg.StoreTimeout)
	assert.True(t, cfg.ArchiveS3PathStyle)
}

func TestFromEnvIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("REDIS_PORT", "not-a-port")
	t.Setenv("RATE_LIMIT_REFILL_PER_SEC", "fast")
	t.Setenv("CONSUMER_BLOCK", "forever")

	cfg := FromEnv()
	assert.Equal(t, 6379, cfg.TaskRedis.Port)
	assert.InDelta(t, 20.0, cfg.RateLimitRefill, 0)
	assert.Equal(t, 5*time.Second, cfg.ConsumerBlock)
}
