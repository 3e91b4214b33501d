// Package storage persists trained model artifacts.
//
// Every implementation stores at most one artifact per models.Key and
// overwrites on Save: the newest training run for a key always wins. Load
// returns *models.ModelNotFoundError for absent keys so callers can match
// models.ErrModelNotFound.
package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/HatiCode/bizcast/pkg/models"
)

// Repository stores model artifacts keyed by (backend, business, metric).
type Repository interface {
	Exists(ctx context.Context, key models.Key) (bool, error)
	Save(ctx context.Context, key models.Key, artifact *models.Artifact) error
	Load(ctx context.Context, key models.Key) (*models.Artifact, error)
	Keys(ctx context.Context) ([]models.Key, error)
	Delete(ctx context.Context, key models.Key) (bool, error)
}

// Config selects and configures a Repository.
type Config struct {
	Backend string // memory, file or redis

	Dir string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// CacheSize > 0 puts an in-process LRU in front of the file and redis
	// backends.
	CacheSize int
	CacheTTL  time.Duration
}

// New builds the repository described by cfg.
func New(cfg Config) (Repository, error) {
	var repo Repository
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return NewMemoryRepository(), nil
	case "file":
		r, err := NewFileRepository(cfg.Dir)
		if err != nil {
			return nil, err
		}
		repo = r
	case "redis":
		r, err := NewRedisRepository(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		repo = r
	default:
		return nil, fmt.Errorf("unknown storage backend %q (must be memory, file or redis)", cfg.Backend)
	}

	if cfg.CacheSize > 0 {
		return NewCachedRepository(repo, cfg.CacheSize, cfg.CacheTTL), nil
	}
	return repo, nil
}

// Close releases repo's resources if it holds any.
func Close(repo Repository) error {
	if c, ok := repo.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// Ping checks repo's backing store if it can be checked. Repositories
// without a remote dependency always report healthy.
func Ping(ctx context.Context, repo Repository) error {
	if p, ok := repo.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return ctx.Err()
}

var errNilArtifact = errors.New("artifact cannot be nil")

// prepare validates key and returns a copy of a stamped with key and path.
func prepare(key models.Key, a *models.Artifact, path string) (*models.Artifact, error) {
	if a == nil {
		return nil, errNilArtifact
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	out := clone(a)
	out.Key = key
	out.StoragePath = path
	return out, nil
}

func clone(a *models.Artifact) *models.Artifact {
	out := *a
	out.FeatureOrder = slices.Clone(a.FeatureOrder)
	out.State = slices.Clone(a.State)
	if a.Metrics.TestSamples != nil {
		n := *a.Metrics.TestSamples
		out.Metrics.TestSamples = &n
	}
	return &out
}

func sortKeys(keys []models.Key) {
	slices.SortFunc(keys, func(a, b models.Key) int {
		return strings.Compare(a.String(), b.String())
	})
}
