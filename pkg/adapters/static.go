package adapters

import (
	"context"
	"slices"
	"sync"

	"github.com/HatiCode/bizcast/pkg/series"
)

type staticKey struct {
	businessID int64
	metric     string
}

// StaticLoader serves series registered with Set. It is safe for
// concurrent use.
type StaticLoader struct {
	mu   sync.RWMutex
	data map[staticKey][]series.Observation
}

// NewStaticLoader returns an empty loader.
func NewStaticLoader() *StaticLoader {
	return &StaticLoader{data: make(map[staticKey][]series.Observation)}
}

// Set replaces the series for (businessID, metric).
func (s *StaticLoader) Set(businessID int64, metric string, obs []series.Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[staticKey{businessID, metric}] = slices.Clone(obs)
}

func (s *StaticLoader) Name() string { return "static" }

func (s *StaticLoader) Load(ctx context.Context, businessID int64, metric string) ([]series.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	obs := s.data[staticKey{businessID, metric}]
	if len(obs) == 0 {
		return nil, noData(businessID, metric)
	}
	return slices.Clone(obs), nil
}
