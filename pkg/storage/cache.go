package storage

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/HatiCode/bizcast/pkg/models"
)

// CachedRepository keeps recently loaded artifacts in a bounded, expiring
// LRU in front of another repository. Writes and deletes go through to the
// inner repository first.
//
// The cache is per process: an artifact replaced by another instance is
// served stale until its entry expires.
type CachedRepository struct {
	inner Repository
	cache *expirable.LRU[models.Key, *models.Artifact]
}

// NewCachedRepository wraps inner with an LRU of size entries. ttl <= 0
// keeps entries until evicted.
func NewCachedRepository(inner Repository, size int, ttl time.Duration) *CachedRepository {
	if ttl < 0 {
		ttl = 0
	}
	return &CachedRepository{
		inner: inner,
		cache: expirable.NewLRU[models.Key, *models.Artifact](size, nil, ttl),
	}
}

func (c *CachedRepository) Exists(ctx context.Context, key models.Key) (bool, error) {
	if c.cache.Contains(key) {
		return true, nil
	}
	return c.inner.Exists(ctx, key)
}

func (c *CachedRepository) Save(ctx context.Context, key models.Key, artifact *models.Artifact) error {
	if err := c.inner.Save(ctx, key, artifact); err != nil {
		c.cache.Remove(key)
		return err
	}
	stored := clone(artifact)
	stored.Key = key
	c.cache.Add(key, stored)
	return nil
}

func (c *CachedRepository) Load(ctx context.Context, key models.Key) (*models.Artifact, error) {
	if a, ok := c.cache.Get(key); ok {
		return clone(a), nil
	}
	a, err := c.inner.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, clone(a))
	return a, nil
}

func (c *CachedRepository) Keys(ctx context.Context) ([]models.Key, error) {
	return c.inner.Keys(ctx)
}

func (c *CachedRepository) Delete(ctx context.Context, key models.Key) (bool, error) {
	c.cache.Remove(key)
	return c.inner.Delete(ctx, key)
}

// Close closes the inner repository.
func (c *CachedRepository) Close() error {
	c.cache.Purge()
	return Close(c.inner)
}

// Ping checks the inner repository.
func (c *CachedRepository) Ping(ctx context.Context) error {
	return Ping(ctx, c.inner)
}
