package configuration

import (
	"fmt"
	"time"

	"github.com/go-redis/redis"

	"github.com/armadaproject/tracelens/internal/common/database"
	"github.com/armadaproject/tracelens/internal/gateway"
	"github.com/armadaproject/tracelens/internal/queue"
	"github.com/armadaproject/tracelens/internal/runquery"
	"github.com/armadaproject/tracelens/internal/sweeper"
)

type Configuration struct {
	// Port the HTTP API (ingestion, read endpoints and /health) listens on.
	HttpPort uint16 `validate:"required"`
	// Port the prometheus /metrics endpoint listens on.
	MetricsPort uint16 `validate:"required"`

	Logging LoggingConfig

	// Origins allowed by CORS on the HTTP API. Empty disables the CORS middleware.
	CorsAllowedOrigins []string

	Redis    redis.UniversalOptions
	Postgres database.PostgresConfig
	Storage  StorageConfig

	// Which parts of the service this process runs.
	Roles RolesConfig

	Gateway GatewayConfig
	Queue   QueueConfig
	Worker  WorkerConfig
	Sweeper SweeperConfig
	Query   QueryConfig

	// How long to keep trying to reach redis and postgres on startup.
	StartupRetries    uint          `validate:"gte=1"`
	StartupRetryDelay time.Duration `validate:"required"`

	// How long the HTTP server waits for in-flight requests on shutdown.
	ShutdownGracePeriod time.Duration
}

type LoggingConfig struct {
	Level  string `validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
	Format string `validate:"omitempty,oneof=text json"`
}

type StorageBackend string

const (
	StoragePostgres StorageBackend = "postgres"
	StorageMemory   StorageBackend = "memory"
)

type StorageConfig struct {
	// postgres or memory. The memory backend keeps runs in process and is meant for development.
	Backend StorageBackend `validate:"required,oneof=postgres memory"`
	// API keys registered with the memory backend on startup, mapped to user ids.
	MemoryApiKeys map[string]int64
	// Apply pending migrations on startup. Only used by the postgres backend.
	MigrateOnStartup bool
}

type RolesConfig struct {
	Gateway bool
	Worker  bool
	Sweeper bool
	Query   bool
}

func (r RolesConfig) Any() bool {
	return r.Gateway || r.Worker || r.Sweeper || r.Query
}

type GatewayConfig struct {
	CreatePriority int
	UpdatePriority int
	// Upper bound on the size of a request body, e.g. "10M".
	BodyLimit string
}

func (c GatewayConfig) ToGatewayConfig() gateway.Config {
	return gateway.Config{CreatePriority: c.CreatePriority, UpdatePriority: c.UpdatePriority}
}

type QueueBackend string

const (
	QueueRedis  QueueBackend = "redis"
	QueueMemory QueueBackend = "memory"
)

type QueueConfig struct {
	// redis or memory. Jobs in the memory queue are lost on restart and are only visible to this process.
	Backend QueueBackend `validate:"required,oneof=redis memory"`
	// Name of the queue. Keys in redis are prefixed with it.
	Name             string        `validate:"required"`
	MaxAttempts      int           `validate:"gte=1"`
	Backoff          time.Duration `validate:"required"`
	MaxBackoff       time.Duration
	RemoveOnComplete bool
}

func (c QueueConfig) Options() queue.Options {
	return queue.Options{
		MaxAttempts:      c.MaxAttempts,
		Backoff:          c.Backoff,
		MaxBackoff:       c.MaxBackoff,
		RemoveOnComplete: c.RemoveOnComplete,
	}
}

// AuthErrorPolicy decides what the worker does with a job whose API key is rejected.
type AuthErrorPolicy string

const (
	// Retry the job like any other failure, in case the key is created shortly afterwards.
	AuthErrorRetry AuthErrorPolicy = "retry"
	// Fail the job immediately.
	AuthErrorFail AuthErrorPolicy = "fail"
)

func ParseAuthErrorPolicy(s string) (AuthErrorPolicy, error) {
	switch AuthErrorPolicy(s) {
	case "":
		return AuthErrorRetry, nil
	case AuthErrorRetry, AuthErrorFail:
		return AuthErrorPolicy(s), nil
	default:
		return "", fmt.Errorf("unknown auth error policy %q, expected %q or %q", s, AuthErrorRetry, AuthErrorFail)
	}
}

type WorkerConfig struct {
	Concurrency  int `validate:"gte=1"`
	PollInterval time.Duration
	// At most RateLimitJobs jobs are started per RateLimitWindow. Zero disables the limit.
	RateLimitJobs   int `validate:"gte=0"`
	RateLimitWindow time.Duration
	// Used for events that carry no api_key. Empty disables the fallback.
	DefaultApiKey   string `validate:"omitempty,uuid"`
	AuthErrorPolicy AuthErrorPolicy
	// Number of resolved API keys kept in memory.
	ApiKeyCacheSize int `validate:"gte=1"`
}

func (c WorkerConfig) ConsumerConfig() queue.ConsumerConfig {
	return queue.ConsumerConfig{
		Concurrency:     c.Concurrency,
		PollInterval:    c.PollInterval,
		RateLimitJobs:   c.RateLimitJobs,
		RateLimitWindow: c.RateLimitWindow,
	}
}

type SweeperConfig struct {
	Interval           time.Duration `validate:"required"`
	CompletedRetention time.Duration
	CompletedLimit     int
	FailedRetention    time.Duration
	FailedLimit        int
	StalledAfter       time.Duration
}

func (c SweeperConfig) ToSweeperConfig() sweeper.Config {
	return sweeper.Config{
		Interval:           c.Interval,
		CompletedRetention: c.CompletedRetention,
		CompletedLimit:     c.CompletedLimit,
		FailedRetention:    c.FailedRetention,
		FailedLimit:        c.FailedLimit,
		StalledAfter:       c.StalledAfter,
	}
}

type QueryConfig struct {
	Lookback     time.Duration `validate:"required"`
	DefaultLimit int           `validate:"gte=1"`
	NewestLimit  int           `validate:"gte=1"`
	MaxLimit     int           `validate:"gte=1"`
}

func (c QueryConfig) ToHandlerConfig() runquery.Config {
	return runquery.Config{
		Lookback:     c.Lookback,
		DefaultLimit: c.DefaultLimit,
		NewestLimit:  c.NewestLimit,
		MaxLimit:     c.MaxLimit,
	}
}
