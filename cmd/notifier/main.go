package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tinywideclouds/go-notification-service/cmd"
	"github.com/tinywideclouds/go-notification-service/internal/app"
	"github.com/tinywideclouds/go-notification-service/internal/auth"
	"github.com/tinywideclouds/go-notification-service/internal/ratelimit"
	"github.com/tinywideclouds/go-notification-service/internal/realtime"
	"github.com/tinywideclouds/go-notification-service/internal/router"
	"github.com/tinywideclouds/go-notification-service/notifyservice"
	"github.com/tinywideclouds/go-notification-service/notifyservice/config"
)

func main() {
	// 1. Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := log.With().Str("service", "go-notification-service").Logger()

	// 2. Load config.yaml and apply environment overrides
	cfg, err := cmd.Load(logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.ApplyEnvOverrides(logger); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	// 3. Create dependencies
	ctx := context.Background()
	deps, err := newDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize dependencies")
	}

	// 4. Create the delivery router on top of the broadcast bus
	instanceID := uuid.NewString()
	deliveryRouter := router.New(
		instanceID,
		deps.Bus,
		logger.With().Str("component", "Router").Logger(),
	)

	// 5. Create identity verification and the two admission scopes
	verifier, err := auth.NewVerifier(cfg.SigningSecret, cfg.TokenTTL, time.Now)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create token verifier")
	}
	httpLimiter, err := ratelimit.New(ratelimit.Config{
		Window:  cfg.HTTPRateLimit.Window,
		Ceiling: cfg.HTTPRateLimit.Ceiling,
	}, time.Now)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create HTTP rate limiter")
	}
	socketLimiter, err := ratelimit.New(ratelimit.Config{
		Window:  cfg.SocketRateLimit.Window,
		Ceiling: cfg.SocketRateLimit.Ceiling,
	}, time.Now)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create socket rate limiter")
	}

	// 6. Create the two main services
	apiService, err := notifyservice.New(
		cfg,
		deps.Ledger,
		deliveryRouter,
		httpLimiter,
		logger.With().Str("component", "ApiService").Logger(),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create API service")
	}

	connManager, err := realtime.NewConnectionManager(
		cfg.WebSocketPort,
		verifier,
		socketLimiter,
		deps.Ledger,
		deliveryRouter,
		cfg.AllowedOrigins,
		logger.With().Str("component", "ConnManager").Logger(),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Connection Manager")
	}

	// 7. Run the application
	app.Run(ctx, logger, apiService, connManager)
}

// newDependencies builds the stateful backend container.
func newDependencies(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (*cmd.Dependencies, error) {
	if !cfg.IsProduction() {
		return cmd.NewLocalDependencies(ctx, cfg, time.Now, logger)
	}
	return cmd.NewProdDependencies(ctx, cfg, time.Now, logger)
}
