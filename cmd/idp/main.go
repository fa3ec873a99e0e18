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

	cacheadapter "github.com/smallbiznis/legacy-idp/internal/adapter/cache"
	"github.com/smallbiznis/legacy-idp/internal/bootstrap"
	"github.com/smallbiznis/legacy-idp/internal/clients"
	"github.com/smallbiznis/legacy-idp/internal/config"
	"github.com/smallbiznis/legacy-idp/internal/credential"
	httptransport "github.com/smallbiznis/legacy-idp/internal/http"
	"github.com/smallbiznis/legacy-idp/internal/http/handler"
	"github.com/smallbiznis/legacy-idp/internal/idtoken"
	apimiddleware "github.com/smallbiznis/legacy-idp/internal/middleware"
	"github.com/smallbiznis/legacy-idp/internal/server"
	"github.com/smallbiznis/legacy-idp/internal/service"
	"github.com/smallbiznis/legacy-idp/internal/store"
	"github.com/smallbiznis/legacy-idp/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newRepositories,
			newRateLimiter,
			newKeyManager,
			newIDTokenIssuer,
			credential.NewVerifier,
			clients.NewRegistry,
			service.NewAuthService,
			newDiscoveryService,
			handler.NewAuthHandler,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, bootstrap.SeedDemoData, startHTTPServer),
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
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func newRepositories(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (store.UserRepository, store.ClientRepository, store.CodeRepository, store.TokenRepository, store.KeyRepository, error) {
	var (
		users      store.UserRepository
		oauthCli   store.ClientRepository
		codes      store.CodeRepository
		tokens     store.TokenRepository
		signingKey store.KeyRepository
	)

	switch cfg.StorageBackend {
	case config.StoragePostgres:
		pool, err := newPGXPool(lc, cfg)
		if err != nil {
			return nil, nil, nil, nil, nil, err
		}
		users = store.NewPostgresUserRepo(pool)
		oauthCli = store.NewPostgresClientRepo(pool)
		codes = store.NewPostgresCodeRepo(pool)
		tokens = store.NewPostgresTokenRepo(pool)
		signingKey = store.NewPostgresKeyRepo(pool)
	default:
		users = store.NewMemoryUserRepo()
		oauthCli = store.NewMemoryClientRepo()
		codes = store.NewMemoryCodeRepo()
		tokens = store.NewMemoryTokenRepo()
		signingKey = store.NewMemoryKeyRepo()
	}

	if cfg.RedisCodeStore {
		client, err := newRedisClient(lc, cfg)
		if err != nil {
			return nil, nil, nil, nil, nil, err
		}
		codes = cacheadapter.NewRedisCodeStore(client)
		logger.Info("authorization codes backed by redis", zap.String("addr", cfg.RedisAddr))
	}

	return users, oauthCli, codes, tokens, signingKey, nil
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

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newKeyManager(repo store.KeyRepository) *idtoken.KeyManager {
	return idtoken.NewKeyManager(repo)
}

func newIDTokenIssuer(manager *idtoken.KeyManager, cfg config.Config) *idtoken.Issuer {
	return idtoken.NewIssuer(manager, cfg.IDTokenTTL)
}

func newDiscoveryService() *service.DiscoveryService {
	return &service.DiscoveryService{}
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

			logger.Info("http server listening", zap.String("addr", addr))
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
