package features

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/HatiCode/bizcast/pkg/series"
)

// Table is the training matrix produced from a cleaned series: one row per
// complete date, columns in Schema order, Targets aligned with Rows.
type Table struct {
	Schema  Schema
	Dates   []time.Time
	Rows    [][]float64
	Targets []float64
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// Split cuts the table chronologically: the oldest int(len*frac) rows form
// train, the rest test. Rows are shared, not copied.
func (t *Table) Split(frac float64) (train, test *Table) {
	idx := int(float64(t.Len()) * frac)
	return t.slice(0, idx), t.slice(idx, t.Len())
}

func (t *Table) slice(from, to int) *Table {
	return &Table{
		Schema:  t.Schema,
		Dates:   t.Dates[from:to],
		Rows:    t.Rows[from:to],
		Targets: t.Targets[from:to],
	}
}

// Builder derives calendar, lag and rolling features from a cleaned series.
type Builder struct {
	cfg    Config
	schema Schema
	feats  []feature
}

// NewBuilder validates cfg and prepares the feature schema it implies.
func NewBuilder(cfg Config) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("feature config: %w", err)
	}
	schema, err := NewSchema(cfg.Names())
	if err != nil {
		return nil, err
	}
	feats := make([]feature, 0, schema.Len())
	for _, name := range schema.names {
		f, err := parseFeature(name)
		if err != nil {
			return nil, err
		}
		feats = append(feats, f)
	}
	return &Builder{cfg: cfg, schema: schema, feats: feats}, nil
}

// Schema returns the column order of every table this builder produces.
func (b *Builder) Schema() Schema { return b.schema }

// Build turns a cleaned series into a training table.
//
// Lags are positional: lag_k of row i is the value at position i-k. Rolling
// statistics cover the w values ending at row i inclusive and use the sample
// standard deviation. Rows whose windows reach before the series start are
// dropped. Fewer than MinTrainingSamples complete rows is an
// InsufficientDataError.
func (b *Builder) Build(obs []series.Observation) (*Table, error) {
	values := series.Values(obs)
	start := b.cfg.firstCompleteRow()
	n := max(len(values)-start, 0)

	if err := RequireSamples(n, b.cfg.MinTrainingSamples); err != nil {
		return nil, err
	}

	t := &Table{
		Schema:  b.schema,
		Dates:   make([]time.Time, 0, n),
		Rows:    make([][]float64, 0, n),
		Targets: make([]float64, 0, n),
	}
	for i := start; i < len(values); i++ {
		row := make([]float64, len(b.feats))
		for j, f := range b.feats {
			switch f.kind {
			case kindCalendar:
				row[j] = calendarValue(f.name, obs[i].Date)
			case kindLag:
				row[j] = values[i-f.n]
			case kindRollingMean:
				row[j] = stat.Mean(values[i-f.n+1:i+1], nil)
			case kindRollingStd:
				row[j] = stat.StdDev(values[i-f.n+1:i+1], nil)
			}
		}
		t.Dates = append(t.Dates, obs[i].Date)
		t.Rows = append(t.Rows, row)
		t.Targets = append(t.Targets, values[i])
	}
	return t, nil
}
