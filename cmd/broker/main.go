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

	"github.com/see4tech/oauth-service/internal/adapter/platform"
	"github.com/see4tech/oauth-service/internal/apikey"
	"github.com/see4tech/oauth-service/internal/bootstrap"
	"github.com/see4tech/oauth-service/internal/config"
	"github.com/see4tech/oauth-service/internal/domain"
	httptransport "github.com/see4tech/oauth-service/internal/http"
	"github.com/see4tech/oauth-service/internal/http/handler"
	httpmiddleware "github.com/see4tech/oauth-service/internal/http/middleware"
	apimiddleware "github.com/see4tech/oauth-service/internal/middleware"
	"github.com/see4tech/oauth-service/internal/repository"
	"github.com/see4tech/oauth-service/internal/secret"
	"github.com/see4tech/oauth-service/internal/server"
	"github.com/see4tech/oauth-service/internal/service/broker"
	"github.com/see4tech/oauth-service/internal/state"
	"github.com/see4tech/oauth-service/internal/telemetry"
	"github.com/see4tech/oauth-service/internal/token"
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
			newSecretBox,
			newTokenRepository,
			newAPIKeyRepository,
			newStateRegistry,
			newPlatformRegistry,
			newTokenStore,
			newOrchestrator,
			newAPIKeyService,
			newRateLimiter,
			newOAuthHandler,
			newAuthMiddleware,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, bootstrap.EnsureSchema, startHTTPServer),
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
	node, err := snowflake.NewNode(1)
	return node, err
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

// newSecretBox loads or creates the token encryption key. A present but
// unreadable key file aborts startup rather than risking a silent re-key.
func newSecretBox(cfg config.Config, logger *zap.Logger) (*secret.Box, error) {
	box, err := secret.LoadOrCreateKey(cfg.EncryptionKeyPath)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}
	logger.Info("encryption key loaded", zap.String("path", cfg.EncryptionKeyPath))
	return box, nil
}

func newTokenRepository(pool *pgxpool.Pool) repository.TokenRepository {
	return repository.NewPostgresTokenRepo(pool)
}

func newAPIKeyRepository(pool *pgxpool.Pool) repository.APIKeyRepository {
	return repository.NewPostgresAPIKeyRepo(pool)
}

func newStateRegistry(client redis.UniversalClient, node *snowflake.Node, cfg config.Config) *state.Registry {
	return state.NewRegistry(client, node, cfg.StateTTL)
}

func newPlatformRegistry(cfg config.Config, logger *zap.Logger) *platform.Registry {
	var adapters []platform.Adapter
	for p, creds := range cfg.Platforms {
		switch p {
		case domain.PlatformTwitter:
			adapters = append(adapters, platform.NewTwitter(creds))
		case domain.PlatformLinkedIn:
			adapters = append(adapters, platform.NewLinkedIn(creds))
		case domain.PlatformFacebook:
			adapters = append(adapters, platform.NewFacebook(creds))
		case domain.PlatformInstagram:
			adapters = append(adapters, platform.NewInstagram(creds))
		}
	}
	reg := platform.NewRegistry(adapters...)
	logger.Info("platform adapters registered", zap.Int("count", len(adapters)))
	return reg
}

func newTokenStore(repo repository.TokenRepository, box *secret.Box, logger *zap.Logger) *token.Store {
	return token.NewStore(repo, box, logger)
}

func newOrchestrator(registry *state.Registry, tokens *token.Store, platforms *platform.Registry, cfg config.Config, logger *zap.Logger) *broker.Orchestrator {
	return broker.NewOrchestrator(registry, tokens, platforms, cfg.ProviderTimeout, cfg.RefreshBuffer, logger)
}

func newAPIKeyService(repo repository.APIKeyRepository, logger *zap.Logger) *apikey.Service {
	return apikey.NewService(repo, logger)
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newOAuthHandler(orchestrator *broker.Orchestrator, tokens *token.Store, keys *apikey.Service, logger *zap.Logger) *handler.OAuthHandler {
	return handler.NewOAuthHandler(orchestrator, tokens, keys, logger)
}

func newAuthMiddleware(cfg config.Config) *httpmiddleware.Auth {
	return httpmiddleware.NewAuth(cfg.ServiceAPIKey)
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
