// Package connector loads datasets into in-memory tables for rule evaluation.
package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Row is one record: field name to scalar value (string, int64, float64,
// bool or nil). Nested documents from JSON or Mongo are kept as
// map[string]any / []any and are opaque to conditions.
type Row map[string]any

// Table is an ordered sequence of rows. A row's position is its index.
type Table []Row

// Columns returns the union of field names, ordered by the first row that
// has them and alphabetically within a row.
func (t Table) Columns() []string {
	seen := make(map[string]bool)
	var cols []string
	for _, r := range t {
		for _, k := range slices.Sorted(maps.Keys(r)) {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	return cols
}

// fillColumns gives every row every column, absent values becoming nil,
// so that schemaless sources behave like a rectangular table.
func (t Table) fillColumns() Table {
	cols := t.Columns()
	for _, r := range t {
		for _, c := range cols {
			if _, ok := r[c]; !ok {
				r[c] = nil
			}
		}
	}
	return t
}

// Connector loads one kind of data source.
type Connector interface {
	// Load reads the full dataset at location.
	Load(ctx context.Context, location string) (Table, error)
	// Validate is a cheap check that location exists and looks readable.
	Validate(ctx context.Context, location string) bool
}

// Source describes a named data source. Database connectors use the
// query options; file connectors only need Location.
type Source struct {
	Location   string `yaml:"location" json:"location"`
	Query      string `yaml:"query,omitempty" json:"query,omitempty"`           // SQL sources
	Table      string `yaml:"table,omitempty" json:"table,omitempty"`           // SQL table or Mongo collection
	Filter     string `yaml:"filter,omitempty" json:"filter,omitempty"`         // Mongo extended-JSON filter
	Projection string `yaml:"projection,omitempty" json:"projection,omitempty"` // Mongo extended-JSON projection
	Limit      int64  `yaml:"limit,omitempty" json:"limit,omitempty"`
}

// Config holds per-kind connector settings.
type Config struct {
	CSV      CSVOptions      `yaml:"csv"`
	JSON     JSONOptions     `yaml:"json"`
	Postgres DatabaseOptions `yaml:"postgres"`
	SQL      DatabaseOptions `yaml:"sql"`
	MongoDB  DatabaseOptions `yaml:"mongodb"`
}

// DatabaseOptions apply to every database-backed connector.
type DatabaseOptions struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	QueryTimeout   time.Duration `yaml:"query_timeout"`
}

func (o DatabaseOptions) withDefaults() DatabaseOptions {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = 5 * time.Minute
	}
	return o
}

// normalize converts driver and decoder values into the scalar set rows use.
func normalize(v any) any {
	switch x := v.(type) {
	case nil, bool, string, int64:
		return x
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return float64(x)
		}
		return int64(x)
	case float32:
		return normalize(float64(x))
	case float64:
		if math.IsNaN(x) {
			return nil
		}
		return x
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case []byte:
		return string(x)
	case [16]byte:
		return uuid.UUID(x).String()
	case uuid.UUID:
		return x.String()
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = normalize(val)
		}
		return out
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

func normalizeRow(m map[string]any) Row {
	r := make(Row, len(m))
	for k, v := range m {
		r[k] = normalize(v)
	}
	return r
}
