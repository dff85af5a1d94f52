// Package storage provides named-slot blob storage backends.
package storage

import (
	"fmt"
	"log/slog"

	"linguachat/internal/config"
	"linguachat/internal/domain"
)

const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Open builds the slot backend selected in cfg.
func Open(cfg config.StorageConfig, logger *slog.Logger) (domain.Slot, error) {
	switch cfg.Backend {
	case BackendSQLite, "":
		return NewSQLite(cfg.Path, logger)
	case BackendBolt:
		return NewBolt(cfg.Path)
	case BackendRedis:
		return NewRedis(cfg.RedisURL, cfg.KeyPrefix)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
