package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/splitpulse/internal/adapter/auth"
	"github.com/pscheid92/splitpulse/internal/adapter/httpserver"
	"github.com/pscheid92/splitpulse/internal/adapter/memory"
	"github.com/pscheid92/splitpulse/internal/adapter/metrics"
	"github.com/pscheid92/splitpulse/internal/adapter/postgres"
	"github.com/pscheid92/splitpulse/internal/adapter/redis"
	"github.com/pscheid92/splitpulse/internal/app"
	"github.com/pscheid92/splitpulse/internal/domain"
	"github.com/pscheid92/splitpulse/internal/platform/config"
	"github.com/pscheid92/splitpulse/internal/platform/logging"
	"github.com/pscheid92/splitpulse/internal/platform/version"
	"github.com/pscheid92/splitpulse/internal/stream"
	goredis "github.com/redis/go-redis/v9"
)

type appMetrics struct {
	registry *prometheus.Registry
	http     *metrics.HTTPMetrics
	stream   *metrics.StreamMetrics
	pubsub   *metrics.PubSubMetrics
	redis    *metrics.RedisMetrics
	database *metrics.DatabaseMetrics
}

func setupMetrics() appMetrics {
	reg := metrics.NewRegistry()
	return appMetrics{
		registry: reg,
		http:     metrics.NewHTTPMetrics(reg),
		stream:   metrics.NewStreamMetrics(reg),
		pubsub:   metrics.NewPubSubMetrics(reg),
		redis:    metrics.NewRedisMetrics(reg),
		database: metrics.NewDatabaseMetrics(reg),
	}
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config, m *metrics.DatabaseMetrics) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, m)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(cfg *config.Config, m *metrics.RedisMetrics) *goredis.Client {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := redis.NewClient(ctx, cfg.RedisURL, m)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func runGracefulShutdown(srv *httpserver.Server, registry *stream.Registry, stopBackground context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		// Open streams never finish on their own; end them before draining.
		registry.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		stopBackground()
		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting",
		"env", cfg.AppEnv,
		"port", cfg.Port,
		"version", version.Get().String(),
		"broker_mode", cfg.BrokerMode(),
		"stream_enabled", cfg.StreamEnabled,
	)

	m := setupMetrics()
	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	var (
		repo   domain.NotificationRepository
		checks []httpserver.HealthCheck
	)
	if cfg.InMemoryStore() {
		slog.Warn("DATABASE_URL not set, keeping notifications in memory")
		repo = memory.NewNotificationRepo(clock)
	} else {
		pool := setupDB(cfg, m.database)
		defer pool.Close()
		repo = postgres.NewNotificationRepo(pool)
		checks = append(checks, httpserver.HealthCheck{Name: "postgres", Check: pool.Ping})
	}

	registry := stream.NewRegistry(stream.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		IdleTimeout:       cfg.IdleTimeout,
		MaxConnections:    cfg.MaxConnections,
		Clock:             clock,
		Metrics:           m.stream,
	})

	var publisher domain.Publisher
	if cfg.BrokerMode() {
		redisClient := setupRedis(cfg, m.redis)
		defer func() { _ = redisClient.Close() }()

		broker := redis.NewBrokerPublisher(redisClient, registry, m.pubsub)
		go func() {
			if err := broker.Run(bgCtx); err != nil {
				slog.Error("Push channel subscription ended", "error", err)
			}
		}()
		publisher = broker
		checks = append(checks, httpserver.HealthCheck{
			Name:  "broker",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	} else {
		publisher = stream.NewDirectPublisher(registry, m.pubsub)
	}

	svc := app.NewService(repo, publisher)
	verifier := auth.NewVerifier(cfg.AuthSecret, auth.DefaultTokenTTL)

	opts := []httpserver.Option{
		httpserver.WithHealthChecks(checks...),
		httpserver.WithMetrics(m.registry, m.http),
		httpserver.WithClock(clock),
	}
	if cfg.ServiceSecret != "" {
		opts = append(opts, httpserver.WithServiceVerifier(auth.NewServiceVerifier(cfg.ServiceSecret, auth.DefaultTokenTTL)))
	} else {
		slog.Warn("SERVICE_AUTH_SECRET not set, notification creation over HTTP is disabled")
	}

	srv := httpserver.NewServer(cfg, svc, verifier, registry, opts...)

	done := runGracefulShutdown(srv, registry, stopBackground)

	slog.Info("Server starting", "port", cfg.Port, "api_prefix", cfg.APIPrefix)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
