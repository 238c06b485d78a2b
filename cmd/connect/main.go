package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/fitbridge/fitbridge-connect/internal/adapter/cache"
	oauthadapter "github.com/fitbridge/fitbridge-connect/internal/adapter/oauth"
	"github.com/fitbridge/fitbridge-connect/internal/config"
	"github.com/fitbridge/fitbridge-connect/internal/crypto"
	httptransport "github.com/fitbridge/fitbridge-connect/internal/http"
	"github.com/fitbridge/fitbridge-connect/internal/http/handler"
	"github.com/fitbridge/fitbridge-connect/internal/jobs"
	"github.com/fitbridge/fitbridge-connect/internal/provider"
	"github.com/fitbridge/fitbridge-connect/internal/ratelimit"
	"github.com/fitbridge/fitbridge-connect/internal/repository"
	"github.com/fitbridge/fitbridge-connect/internal/server"
	"github.com/fitbridge/fitbridge-connect/internal/service/connect"
	"github.com/fitbridge/fitbridge-connect/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newRedisClient,
			newEnvelope,
			provider.NewRegistry,
			newConnectionRepository,
			newAuditLogRepository,
			newRateLimitRepository,
			newStateStore,
			newProviderClient,
			ratelimit.NewLimiter,
			connect.NewService,
			handler.NewConnectHandler,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, runMigrations, startScheduler, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	tp, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return tp.Shutdown(stopCtx)
		},
	})

	return tp, nil
}

func newSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newEnvelope(cfg config.Config) (*crypto.Envelope, error) {
	return crypto.NewEnvelope(cfg.TokenEncryptionKey)
}

func newConnectionRepository(pool *pgxpool.Pool, node *snowflake.Node) repository.ConnectionRepository {
	return repository.NewPostgresConnectionRepo(pool, node)
}

func newAuditLogRepository(pool *pgxpool.Pool, node *snowflake.Node) repository.AuditLogRepository {
	return repository.NewPostgresAuditLogRepo(pool, node)
}

func newRateLimitRepository(pool *pgxpool.Pool) repository.RateLimitRepository {
	return repository.NewPostgresRateLimitRepo(pool)
}

func newStateStore(client redis.UniversalClient) repository.StateStore {
	return cacheadapter.NewRedisStateStore(client)
}

func newProviderClient(cfg config.Config) oauthadapter.ProviderClient {
	return oauthadapter.NewHTTPProviderClient(nil, cfg.ProviderTimeout)
}

func runMigrations(cfg config.Config, logger *zap.Logger) error {
	if err := repository.Migrate(cfg.DatabaseURL); err != nil {
		return err
	}
	logger.Info("database migrations applied")
	return nil
}

func startScheduler(lc fx.Lifecycle, service connect.Service, cfg config.Config, logger *zap.Logger) {
	scheduler := jobs.NewScheduler(service, logger)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return scheduler.Start(cfg.SweepSchedule)
		},
		OnStop: func(context.Context) error {
			scheduler.Stop()
			return nil
		},
	})
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
