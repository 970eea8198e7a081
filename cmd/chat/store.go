package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"firstprinciple-chat/internal/config"
	"firstprinciple-chat/internal/database"
	"firstprinciple-chat/internal/kv"
)

// openStore returns the configured key-value backend and a function that
// releases it.
func openStore(ctx context.Context, cfg *config.ClientConfig, logger zerolog.Logger) (kv.Store, func(), error) {
	switch cfg.HistoryBackend {
	case config.BackendSQLite:
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := kv.OpenSQLite(ctx, filepath.Join(cfg.DataDir, "chat.db"))
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil

	case config.BackendRedis:
		client, err := database.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return kv.NewRedis(client, "firstprinciple:"), func() { client.Close() }, nil

	case config.BackendPostgres:
		pool, err := database.NewPostgresPool(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := database.RunMigrations(pool, logger); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return kv.NewPostgres(pool), pool.Close, nil

	case config.BackendFile:
		store, err := kv.NewFile(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown history backend %q", cfg.HistoryBackend)
	}
}
