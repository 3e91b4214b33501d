// Package store builds the forecaster's model repository from configuration.
package store

import (
	"log/slog"

	"github.com/HatiCode/bizcast/cmd/forecaster/config"
	"github.com/HatiCode/bizcast/pkg/storage"
)

// New creates the configured repository. The in-process cache only fronts
// the file and redis backends.
func New(cfg *config.Config, logger *slog.Logger) (storage.Repository, error) {
	scfg := storage.Config{
		Backend:       cfg.Storage,
		Dir:           cfg.ModelDir,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		CacheSize:     cfg.CacheSize,
		CacheTTL:      cfg.CacheTTL,
	}

	repo, err := storage.New(scfg)
	if err != nil {
		return nil, err
	}

	switch cfg.Storage {
	case "file":
		logger.Info("using file model storage", "dir", cfg.ModelDir, "cache_size", cfg.CacheSize, "cache_ttl", cfg.CacheTTL)
	case "redis":
		logger.Info("using Redis model storage", "addr", cfg.RedisAddr, "db", cfg.RedisDB, "cache_size", cfg.CacheSize, "cache_ttl", cfg.CacheTTL)
	default:
		logger.Info("using in-memory model storage")
	}
	return repo, nil
}
