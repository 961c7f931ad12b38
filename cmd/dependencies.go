package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tinywideclouds/go-notification-service/internal/bus"
	"github.com/tinywideclouds/go-notification-service/internal/ledger"
	"github.com/tinywideclouds/go-notification-service/notifyservice/config"
	"github.com/tinywideclouds/go-notification-service/pkg/notify"
)

// Dependencies is the container for the service's stateful backends.
type Dependencies struct {
	DB     *bun.DB
	Ledger *ledger.Store
	Bus    notify.Bus
}

// NewLocalDependencies creates in-process backends for local development: an
// in-memory SQLite ledger and a single-instance broadcast bus. Nothing
// survives a restart.
func NewLocalDependencies(ctx context.Context, cfg *config.AppConfig, clock func() time.Time, logger zerolog.Logger) (*Dependencies, error) {
	logger.Warn().Msg("Running in 'local' mode. Ledger and bus are in-memory only.")

	sqldb, err := sql.Open("sqlite3", "file::memory:?cache=shared")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())

	return assemble(ctx, cfg, db, bus.NewInMemoryBus(), clock, logger)
}

// NewProdDependencies connects to Postgres and, when configured, Redis. A
// missing Redis address degrades to the in-memory bus, which is only correct
// for a single service instance.
func NewProdDependencies(ctx context.Context, cfg *config.AppConfig, clock func() time.Time, logger zerolog.Logger) (*Dependencies, error) {
	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	sqldb.SetMaxOpenConns(cfg.Database.PoolSize)
	if err := sqldb.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db := bun.NewDB(sqldb, pgdialect.New())

	broadcastBus, err := newBroadcastBus(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	return assemble(ctx, cfg, db, broadcastBus, clock, logger)
}

// newBroadcastBus creates the cross-instance broadcast transport.
func newBroadcastBus(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (notify.Bus, error) {
	if cfg.Redis.Addr == "" {
		logger.Warn().Msg("No Redis address configured. Using in-memory bus; cross-instance fan-out is disabled.")
		return bus.NewInMemoryBus(), nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	redisBus, err := bus.NewRedisBus(ctx, rdb, logger.With().Str("component", "RedisBus").Logger())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis bus at %s: %w", cfg.Redis.Addr, err)
	}
	logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis broadcast bus")
	return redisBus, nil
}

func assemble(ctx context.Context, cfg *config.AppConfig, db *bun.DB, broadcastBus notify.Bus, clock func() time.Time, logger zerolog.Logger) (*Dependencies, error) {
	store, err := ledger.NewStore(db, logger.With().Str("component", "Ledger").Logger(), clock)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger store: %w", err)
	}
	if err := store.CreateSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to create ledger schema: %w", err)
	}

	return &Dependencies{
		DB:     db,
		Ledger: store,
		Bus:    broadcastBus,
	}, nil
}
