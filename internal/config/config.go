package config

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// RedisConfig addresses one logical Redis database.
type RedisConfig struct {
	Host     string
	Port     int
	DB       int
	Password string
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// Config holds shared runtime configuration for the API and consumer services.
type Config struct {
	Env         string
	HTTPPort    string
	MetricsAddr string
	LogLevel    string
	LogFormat   string

	TaskRedis     RedisConfig
	LocationRedis RedisConfig
	StreamRedis   RedisConfig
	StoreTimeout  time.Duration

	StreamName       string
	StreamMaxLen     int64
	PublishQueueSize int
	PublishWorkers   int
	PublishTimeout   time.Duration

	ConsumerGroup  string
	ConsumerName   string
	ConsumerBatch  int64
	ConsumerBlock  time.Duration
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	ShutdownGrace  time.Duration

	RateLimitRedis    RedisConfig
	RateLimitCapacity int
	RateLimitRefill   float64

	PostgresDSN string

	ArchiveS3Bucket    string
	ArchiveS3Region    string
	ArchiveS3Endpoint  string
	ArchiveS3PathStyle bool
}

// Load reads an optional .env file and then the environment, with defaults for local development.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads configuration from environment variables only.
func FromEnv() Config {
	shared := RedisConfig{
		Host:     getEnv("REDIS_HOST", "localhost"),
		Port:     getEnvInt("REDIS_PORT", 6379),
		DB:       getEnvInt("REDIS_DB", 0),
		Password: getEnv("REDIS_PASSWORD", ""),
	}
	return Config{
		Env:         getEnv("APP_ENV", "dev"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),

		TaskRedis:     redisFor("TASK", shared),
		LocationRedis: redisFor("LOCATION", shared),
		StreamRedis:   redisFor("STREAM", shared),
		StoreTimeout:  getEnvDuration("STORE_TIMEOUT", 2*time.Second),

		StreamName:       getEnv("STREAM_NAME", "task-stream"),
		StreamMaxLen:     int64(getEnvInt("STREAM_MAXLEN", 0)),
		PublishQueueSize: getEnvInt("PUBLISH_QUEUE_SIZE", 256),
		PublishWorkers:   getEnvInt("PUBLISH_WORKERS", 2),
		PublishTimeout:   getEnvDuration("PUBLISH_TIMEOUT", 2*time.Second),

		ConsumerGroup:  getEnv("CONSUMER_GROUP", "analytics-group"),
		ConsumerName:   getEnv("CONSUMER_NAME", defaultConsumerName()),
		ConsumerBatch:  int64(getEnvInt("CONSUMER_BATCH", 10)),
		ConsumerBlock:  getEnvDuration("CONSUMER_BLOCK", 5*time.Second),
		MaxAttempts:    getEnvInt("CONSUMER_MAX_ATTEMPTS", 5),
		BackoffInitial: getEnvDuration("BACKOFF_INITIAL", time.Second),
		BackoffMax:     getEnvDuration("BACKOFF_MAX", 30*time.Second),
		ShutdownGrace:  getEnvDuration("SHUTDOWN_GRACE", 10*time.Second),

		RateLimitRedis:    redisFor("RATE_LIMIT", shared),
		RateLimitCapacity: getEnvInt("RATE_LIMIT_CAPACITY", 50),
		RateLimitRefill:   getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", 20),

		PostgresDSN: getEnv("POSTGRES_DSN", ""),

		ArchiveS3Bucket:    getEnv("ARCHIVE_S3_BUCKET", ""),
		ArchiveS3Region:    getEnv("ARCHIVE_S3_REGION", "us-east-1"),
		ArchiveS3Endpoint:  getEnv("ARCHIVE_S3_ENDPOINT", ""),
		ArchiveS3PathStyle: getEnvBool("ARCHIVE_S3_PATH_STYLE", false),
	}
}

// redisFor lets PREFIX_REDIS_HOST/PORT/DB override the shared Redis settings per store.
func redisFor(prefix string, shared RedisConfig) RedisConfig {
	return RedisConfig{
		Host:     getEnv(prefix+"_REDIS_HOST", shared.Host),
		Port:     getEnvInt(prefix+"_REDIS_PORT", shared.Port),
		DB:       getEnvInt(prefix+"_REDIS_DB", shared.DB),
		Password: getEnv(prefix+"_REDIS_PASSWORD", shared.Password),
	}
}

func defaultConsumerName() string {
	if hostname, _ := os.Hostname(); hostname != "" {
		return hostname
	}
	return "analytics-consumer-" + strconv.Itoa(os.Getpid())
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
