// Package adapters provides the loaders that fetch raw daily observations
// for a (business, metric) pair from the store holding business records.
//
// Each loader implements the Loader interface. Available loaders:
//   - HTTPLoader     — calls a REST endpoint and extracts dates and values with gjson
//   - PostgresLoader — runs a parameterised query through a pgx pool
//   - MySQLLoader    — runs a parameterised query through database/sql
//   - StaticLoader   — serves fixed series from memory (tests and demos)
//
// Loaders only fetch. Deduplication, ordering and gap filling belong to
// series.Clean, so a loader may return observations in any order and with
// NaN for missing values.
package adapters

import (
	"context"

	"github.com/HatiCode/bizcast/pkg/series"
)

// Loader fetches the raw observations of one metric of one business.
//
// Load must return a *series.NoDataError when the store has nothing for the
// key, and should respect context cancellation and deadlines.
type Loader interface {
	Load(ctx context.Context, businessID int64, metric string) ([]series.Observation, error)

	// Name returns a short identifier, e.g. "http" or "postgres".
	Name() string
}

func noData(businessID int64, metric string) error {
	return &series.NoDataError{BusinessID: businessID, Metric: metric}
}
