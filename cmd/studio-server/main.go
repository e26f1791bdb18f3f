// Command studio-server runs the studio engine as an HTTP service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/studio-engine/internal/config"
	"github.com/Sternrassler/studio-engine/internal/httpserver"
	"github.com/Sternrassler/studio-engine/pkg/batch"
	"github.com/Sternrassler/studio-engine/pkg/client"
	"github.com/Sternrassler/studio-engine/pkg/credential"
	"github.com/Sternrassler/studio-engine/pkg/keystore"
	"github.com/Sternrassler/studio-engine/pkg/logging"
	"github.com/Sternrassler/studio-engine/pkg/session"
)

func main() {
	config.LoadEnvFiles()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.Logging())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, cleanup, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to start studio server")
	}
	defer cleanup()

	if err := srv.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("Studio server stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("Studio server stopped")
}

// build wires the stores, the pool, the client and the server.
func build(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*httpserver.Server, func(), error) {
	store, cleanup, err := credentialStore(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	pool := credential.NewPool(store, credential.Config{
		Retry: credential.RetryConfig{
			MaxAttempts:       cfg.QuotaMaxAttempts,
			InitialBackoff:    cfg.QuotaRetryBackoff,
			MaxBackoff:        cfg.QuotaRetryBackoff,
			BackoffMultiplier: 1,
		},
		Sleep:               credential.Sleep,
		ValidateConcurrency: cfg.ValidateConcurrency,
	})

	c, err := client.New(client.Config{
		BaseURL:    cfg.GeminiBaseURL,
		APIVersion: cfg.GeminiAPIVersion,
		ImageModel: cfg.ImageModel,
		TextModel:  cfg.TextModel,
		Timeout:    cfg.HTTPTimeout,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("create client: %w", err)
	}

	orch := batch.New(nil, batch.Config{Sleep: credential.Sleep, Timeout: cfg.BatchTimeout})
	runner := batch.NewStudioRunner(orch, pool, c)

	sessions, err := session.NewFileStore(cfg.SessionDir, cfg.SessionFile)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	srv := httpserver.New(cfg, logger, httpserver.Deps{
		Pool:     pool,
		Client:   c,
		Runner:   runner,
		Sessions: sessions,
	})
	if err := srv.LoadInitial(ctx); err != nil {
		logger.Warn().Err(err).Str("file", cfg.SessionFile).Msg("Initial session not loaded")
	}
	return srv, cleanup, nil
}

// credentialStore returns the Redis store when REDIS_URL is set and an
// in-memory store otherwise. The system credential comes from API_KEY.
func credentialStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (credential.Store, func(), error) {
	var system *credential.Credential
	if cfg.APIKey != "" {
		c := credential.NewSystemCredential(cfg.APIKey, cfg.SystemKeyOwnerID)
		system = &c
	}

	if !cfg.UsesRedis() {
		logger.Info().Msg("Credentials kept in memory")
		if system == nil {
			return credential.NewMemoryStore(), func() {}, nil
		}
		return credential.NewMemoryStore(*system), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	redisClient := redis.NewClient(opts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = redisClient.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info().Str("addr", opts.Addr).Msg("Connected to Redis")

	store := keystore.NewRedisStore(redisClient, system, logging.NewLogger(logging.ComponentKeystore))
	return store, func() { _ = redisClient.Close() }, nil
}
