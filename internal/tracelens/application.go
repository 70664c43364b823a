// Package tracelens assembles the gateway, merge worker, sweeper and read API into one process.
package tracelens

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-redis/redis"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/armadaproject/tracelens/internal/common"
	"github.com/armadaproject/tracelens/internal/common/health"
	"github.com/armadaproject/tracelens/internal/common/runerrors"
	"github.com/armadaproject/tracelens/internal/gateway"
	"github.com/armadaproject/tracelens/internal/merger"
	"github.com/armadaproject/tracelens/internal/queue"
	"github.com/armadaproject/tracelens/internal/runquery"
	"github.com/armadaproject/tracelens/internal/runstore"
	"github.com/armadaproject/tracelens/internal/sweeper"
	"github.com/armadaproject/tracelens/internal/tracelens/configuration"
	"github.com/armadaproject/tracelens/internal/tracelens/metrics"
)

// Run starts the roles enabled in config and blocks until ctx is cancelled or one of them fails.
func Run(ctx context.Context, config configuration.Configuration) error {
	if !config.Roles.Any() {
		return errors.New("no roles enabled")
	}
	g, ctx := errgroup.WithContext(ctx)

	startupCompleteCheck := health.NewStartupCompleteChecker()
	healthChecks := health.NewMultiChecker()
	healthChecks.Add("startup", startupCompleteCheck)

	services, err := NewServices(ctx, config, clock.RealClock{}, metrics.NewMetrics(metrics.MetricsPrefix, prometheus.DefaultRegisterer), healthChecks)
	if err != nil {
		return err
	}
	defer services.Close()

	shutdownMetricServer := common.ServeMetrics(config.MetricsPort)
	defer shutdownMetricServer()

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", config.HttpPort)
		log.Infof("HTTP API listening on %s", addr)
		if err := services.Echo.Start(addr); err != nil && err != http.ErrServerClosed {
			return errors.WithStack(err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownGracePeriod)
		defer cancel()
		if err := services.Echo.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("HTTP server did not shut down cleanly")
		}
		return nil
	})
	if services.Consumer != nil {
		g.Go(func() error { return services.Consumer.Run(ctx) })
	}
	if services.Sweeper != nil {
		g.Go(func() error { return services.Sweeper.Run(ctx) })
	}

	// Mark startup as complete, will allow the health check to return healthy
	startupCompleteCheck.MarkComplete()

	return g.Wait()
}

// Services are the components of one process, built from the configuration but not yet started.
// Components for disabled roles are nil.
type Services struct {
	Queue    queue.Queue
	Gateway  *gateway.Gateway
	Consumer *queue.Consumer
	Sweeper  *sweeper.Sweeper
	Echo     *echo.Echo
	closers  []func()
}

// NewServices connects to the configured backends and builds the components of every enabled role.
// Checks for each backend are added to healthChecks.
func NewServices(
	ctx context.Context,
	config configuration.Configuration,
	clock clock.WithTicker,
	m *metrics.Metrics,
	healthChecks *health.MultiChecker,
) (*Services, error) {
	s := &Services{}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	q, err := s.openQueue(ctx, config, clock, healthChecks)
	if err != nil {
		return nil, err
	}
	s.Queue = q

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	if len(config.CorsAllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: config.CorsAllowedOrigins}))
	}
	if config.Gateway.BodyLimit != "" {
		e.Use(middleware.BodyLimit(config.Gateway.BodyLimit))
	}
	e.GET("/health", health.EchoHandler(healthChecks))
	e.GET("/queue/counts", gateway.HandleQueueCounts(q))
	s.Echo = e

	if config.Roles.Gateway {
		s.Gateway = gateway.New(q, config.Gateway.ToGatewayConfig(), clock, m)
		e.POST("/runs/batch", s.Gateway.HandleBatch)
	}
	if config.Roles.Sweeper {
		s.Sweeper = sweeper.New(q, config.Sweeper.ToSweeperConfig(), clock, m)
	}
	if config.Roles.Worker || config.Roles.Query {
		storage, err := s.openStorage(ctx, config, healthChecks)
		if err != nil {
			return nil, err
		}
		if config.Roles.Worker {
			users, err := runstore.NewCachedUserLookup(storage.users, config.Worker.ApiKeyCacheSize)
			if err != nil {
				return nil, err
			}
			processor := merger.NewProcessor(storage.runs, users, config.Worker.DefaultApiKey, clock, m)
			s.Consumer = queue.NewConsumer(q, processor, config.Worker.ConsumerConfig(), IsTerminal(config.Worker.AuthErrorPolicy), m).
				WithClock(clock)
		}
		if config.Roles.Query {
			runquery.NewHandler(storage.reader, config.Query.ToHandlerConfig(), clock).Register(e)
		}
	}

	ok = true
	return s, nil
}

// Close releases the backend connections. Components must be stopped first.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// IsTerminal returns the classification of processing errors that are not worth retrying.
// Every error is retried except authentication failures under AuthErrorFail.
func IsTerminal(policy configuration.AuthErrorPolicy) func(error) bool {
	return func(err error) bool {
		return policy == configuration.AuthErrorFail && runerrors.IsAuth(err)
	}
}

func (s *Services) openQueue(ctx context.Context, config configuration.Configuration, clock clock.Clock, healthChecks *health.MultiChecker) (queue.Queue, error) {
	switch config.Queue.Backend {
	case configuration.QueueMemory:
		log.Warn("Using the in-memory job queue; queued events are lost on restart")
		return queue.NewMemoryQueue(config.Queue.Options(), clock), nil
	case configuration.QueueRedis:
		log.Infof("Connecting to redis at %v", config.Redis.Addrs)
		client := redis.NewUniversalClient(&config.Redis)
		s.closers = append(s.closers, func() {
			if err := client.Close(); err != nil {
				log.WithError(errors.WithStack(err)).Warn("Redis client didn't close down cleanly")
			}
		})
		rq := queue.NewRedisQueue(client, config.Queue.Name, config.Queue.Options()).WithClock(clock)
		if err := withStartupRetries(ctx, config, "redis", rq.Ping); err != nil {
			return nil, err
		}
		healthChecks.Add("redis", health.CheckerFunc(rq.Ping))
		return rq, nil
	default:
		return nil, errors.Errorf("unknown queue backend %q", config.Queue.Backend)
	}
}

type storage struct {
	runs   runstore.RunStore
	users  runstore.UserLookup
	reader runquery.RunRepository
}

func (s *Services) openStorage(ctx context.Context, config configuration.Configuration, healthChecks *health.MultiChecker) (*storage, error) {
	switch config.Storage.Backend {
	case configuration.StorageMemory:
		log.Warn("Using the in-memory run store; runs are lost on restart")
		store, err := runstore.NewMemDbStore()
		if err != nil {
			return nil, err
		}
		for key, userId := range config.Storage.MemoryApiKeys {
			if err := store.AddApiKey(key, userId); err != nil {
				return nil, err
			}
		}
		return &storage{runs: store, users: store, reader: store}, nil
	case configuration.StoragePostgres:
		var pool *postgresHandles
		err := withStartupRetries(ctx, config, "postgres", func() error {
			var err error
			pool, err = openPostgres(ctx, config.Postgres)
			return err
		})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, pool.Close)
		if config.Storage.MigrateOnStartup {
			if err := MigrateDatabase(ctx, pool.pgx); err != nil {
				return nil, err
			}
		}
		healthChecks.Add("postgres", health.CheckerFunc(func() error {
			checkCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return pool.pgx.Ping(checkCtx)
		}))
		return &storage{
			runs:   runstore.NewPostgresRunStore(pool.pgx),
			users:  runstore.NewPostgresUserLookup(pool.pgx),
			reader: runquery.NewSqlRunRepository(pool.sql),
		}, nil
	default:
		return nil, errors.Errorf("unknown storage backend %q", config.Storage.Backend)
	}
}

// withStartupRetries calls connect until it succeeds, config.StartupRetries attempts are used up or ctx is cancelled.
func withStartupRetries(ctx context.Context, config configuration.Configuration, name string, connect func() error) error {
	err := retry.Do(
		connect,
		retry.Context(ctx),
		retry.Attempts(config.StartupRetries),
		retry.Delay(config.StartupRetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).Warnf("Could not connect to %s (attempt %d of %d)", name, n+1, config.StartupRetries)
		}),
	)
	return errors.WithMessagef(err, "connecting to %s", name)
}
