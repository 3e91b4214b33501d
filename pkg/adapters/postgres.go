package adapters

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/HatiCode/bizcast/pkg/series"
)

// DefaultPostgresQuery reads one metric of one business from a narrow
// business_metrics table. Custom queries must take the business id as $1
// and the metric name as $2 and return (date, value) rows.
const DefaultPostgresQuery = `
	SELECT observed_on, value
	FROM business_metrics
	WHERE business_id = $1 AND metric_name = $2
	ORDER BY observed_on ASC
`

// PostgresLoader reads observations from PostgreSQL. NULL values become NaN.
type PostgresLoader struct {
	pool  *pgxpool.Pool
	query string
}

// NewPostgresLoader wraps an existing pool. An empty query selects
// DefaultPostgresQuery.
func NewPostgresLoader(pool *pgxpool.Pool, query string) *PostgresLoader {
	if query == "" {
		query = DefaultPostgresQuery
	}
	return &PostgresLoader{pool: pool, query: query}
}

// ConnectPostgres opens a pool for dsn and checks it with a ping.
func ConnectPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn cannot be empty")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return pool, nil
}

func (p *PostgresLoader) Name() string { return "postgres" }

func (p *PostgresLoader) Load(ctx context.Context, businessID int64, metric string) ([]series.Observation, error) {
	rows, err := p.pool.Query(ctx, p.query, businessID, metric)
	if err != nil {
		return nil, fmt.Errorf("postgres query: %w", err)
	}
	defer rows.Close()

	var obs []series.Observation
	for rows.Next() {
		var (
			date  time.Time
			value *float64
		)
		if err := rows.Scan(&date, &value); err != nil {
			return nil, fmt.Errorf("postgres scan: %w", err)
		}
		v := math.NaN()
		if value != nil {
			v = *value
		}
		obs = append(obs, series.Observation{Date: date, Value: v})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres rows: %w", err)
	}

	if len(obs) == 0 {
		return nil, noData(businessID, metric)
	}
	return obs, nil
}

// Close closes the underlying pool.
func (p *PostgresLoader) Close() error {
	p.pool.Close()
	return nil
}
