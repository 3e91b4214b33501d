package storage

import (
	"context"
	"sync"

	"github.com/HatiCode/bizcast/pkg/models"
)

// MemoryRepository keeps artifacts in a map. It is safe for concurrent use
// and loses everything on restart.
type MemoryRepository struct {
	mu        sync.RWMutex
	artifacts map[models.Key]*models.Artifact
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{artifacts: make(map[models.Key]*models.Artifact)}
}

func (s *MemoryRepository) Exists(ctx context.Context, key models.Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.artifacts[key]
	return ok, nil
}

// Save stores a copy of artifact, replacing any previous one for key.
func (s *MemoryRepository) Save(ctx context.Context, key models.Key, artifact *models.Artifact) error {
	stored, err := prepare(key, artifact, "memory://"+key.String())
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[key] = stored
	artifact.StoragePath = stored.StoragePath
	return nil
}

// Load returns a copy of the stored artifact.
func (s *MemoryRepository) Load(ctx context.Context, key models.Key) (*models.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.artifacts[key]
	if !ok {
		return nil, &models.ModelNotFoundError{Key: key}
	}
	return clone(a), nil
}

func (s *MemoryRepository) Keys(ctx context.Context) ([]models.Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	keys := make([]models.Key, 0, len(s.artifacts))
	for k := range s.artifacts {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sortKeys(keys)
	return keys, nil
}

// Delete removes the artifact for key and reports whether one existed.
func (s *MemoryRepository) Delete(ctx context.Context, key models.Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.artifacts[key]
	delete(s.artifacts, key)
	return existed, nil
}

// Len returns the number of stored artifacts.
func (s *MemoryRepository) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.artifacts)
}
