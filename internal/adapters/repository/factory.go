package repository

import (
	"context"
	"fmt"

	"github.com/taskmaster/workspace/internal/infrastructure/config"
	"github.com/taskmaster/workspace/internal/infrastructure/database"
	"github.com/taskmaster/workspace/internal/ports"
)

const redisConnectAttempts = 5

// Open connects the state repository selected by cfg.Storage.Driver.
// The returned repository owns the connection.
func Open(ctx context.Context, cfg *config.Config) (ports.StateRepository, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		db, err := database.New(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return NewPostgresStateRepository(db), nil
	case "sqlite", "":
		db, err := database.OpenSQLite(cfg.SQLite)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		repo, err := NewGormStateRepository(db)
		if err != nil {
			_ = database.CloseGorm(db)
			return nil, err
		}
		return repo, nil
	case "redis":
		client, err := database.OpenRedis(ctx, cfg.Redis, redisConnectAttempts)
		if err != nil {
			return nil, fmt.Errorf("open redis: %w", err)
		}
		return NewRedisStateRepository(client, cfg.Redis.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
