package models

import (
	"fmt"
	"slices"

	"github.com/HatiCode/bizcast/pkg/features"
)

// Registry is the set of backends available in this process. It is built
// once at startup and read-only afterwards.
type Registry struct {
	backends map[BackendID]Backend
}

// NewRegistry registers backends by their ID; a later backend with the same
// ID replaces an earlier one.
func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{backends: make(map[BackendID]Backend, len(backends))}
	for _, b := range backends {
		r.backends[b.ID()] = b
	}
	return r
}

// BuildRegistry constructs the enabled backends from their configuration.
// An empty enabled list yields an empty registry.
func BuildRegistry(enabled []string, cfg features.Config, tree BoostParams, additive AdditiveParams) (*Registry, error) {
	var backends []Backend
	for _, name := range enabled {
		id, err := ParseBackendID(name)
		if err != nil {
			return nil, err
		}
		switch id {
		case Tree:
			b, err := NewTreeBackend(cfg, tree)
			if err != nil {
				return nil, fmt.Errorf("tree backend: %w", err)
			}
			backends = append(backends, b)
		case Additive:
			b, err := NewAdditiveBackend(cfg, additive)
			if err != nil {
				return nil, fmt.Errorf("additive backend: %w", err)
			}
			backends = append(backends, b)
		}
	}
	return NewRegistry(backends...), nil
}

// Get returns the backend registered under id.
func (r *Registry) Get(id BackendID) (Backend, bool) {
	b, ok := r.backends[id]
	return b, ok
}

// Has reports whether id is available.
func (r *Registry) Has(id BackendID) bool {
	_, ok := r.backends[id]
	return ok
}

// Available lists registered backends in preference order, followed by any
// others sorted by id.
func (r *Registry) Available() []BackendID {
	ids := make([]BackendID, 0, len(r.backends))
	for _, id := range Preference {
		if r.Has(id) {
			ids = append(ids, id)
		}
	}
	var rest []BackendID
	for id := range r.backends {
		if !slices.Contains(Preference, id) {
			rest = append(rest, id)
		}
	}
	slices.Sort(rest)
	return append(ids, rest...)
}
