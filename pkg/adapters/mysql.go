package adapters

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/HatiCode/bizcast/pkg/series"
)

// DefaultMySQLQuery is DefaultPostgresQuery with MySQL placeholders.
const DefaultMySQLQuery = `
	SELECT observed_on, value
	FROM business_metrics
	WHERE business_id = ? AND metric_name = ?
	ORDER BY observed_on ASC
`

// MySQLLoader reads observations from MySQL. The DSN must set
// parseTime=true so DATE and DATETIME columns scan into time.Time.
type MySQLLoader struct {
	db    *sql.DB
	query string
}

// NewMySQLLoader opens and pings a connection pool for dsn.
// dsn format: "user:pass@tcp(host:3306)/dbname?parseTime=true"
func NewMySQLLoader(ctx context.Context, dsn, query string) (*MySQLLoader, error) {
	if dsn == "" {
		return nil, errors.New("mysql dsn cannot be empty")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return newMySQLLoader(db, query), nil
}

func newMySQLLoader(db *sql.DB, query string) *MySQLLoader {
	if query == "" {
		query = DefaultMySQLQuery
	}
	return &MySQLLoader{db: db, query: query}
}

func (m *MySQLLoader) Name() string { return "mysql" }

func (m *MySQLLoader) Load(ctx context.Context, businessID int64, metric string) ([]series.Observation, error) {
	rows, err := m.db.QueryContext(ctx, m.query, businessID, metric)
	if err != nil {
		return nil, fmt.Errorf("mysql query: %w", err)
	}
	defer rows.Close()

	var obs []series.Observation
	for rows.Next() {
		var (
			date  time.Time
			value sql.NullFloat64
		)
		if err := rows.Scan(&date, &value); err != nil {
			return nil, fmt.Errorf("mysql scan: %w", err)
		}
		v := math.NaN()
		if value.Valid {
			v = value.Float64
		}
		obs = append(obs, series.Observation{Date: date, Value: v})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mysql rows: %w", err)
	}

	if len(obs) == 0 {
		return nil, noData(businessID, metric)
	}
	return obs, nil
}

// Close closes the connection pool.
func (m *MySQLLoader) Close() error {
	return m.db.Close()
}
