package connector

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"
)

// YAML reads a sequence of mappings, or a mapping with a "rows" sequence.
type YAML struct{}

// NewYAML creates a YAML connector.
func NewYAML() *YAML { return &YAML{} }

// Load implements Connector.
func (y *YAML) Load(ctx context.Context, location string) (Table, error) {
	data, err := readFile(ctx, location)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, loadFailed(location, err)
	}
	if m, ok := doc.(map[string]any); ok {
		rows, found := m["rows"]
		if !found {
			return nil, loadFailed(location, fmt.Errorf(`expected a list of records or a "rows" key`))
		}
		doc = rows
	}
	items, ok := doc.([]any)
	if !ok {
		if doc == nil {
			return Table{}, nil
		}
		return nil, loadFailed(location, fmt.Errorf("expected a list of records, got %T", doc))
	}
	table := make(Table, 0, len(items))
	for i, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			return nil, loadFailed(location, fmt.Errorf("record %d: expected a mapping, got %T", i, it))
		}
		table = append(table, normalizeRow(obj))
	}
	return table.fillColumns(), nil
}

// Validate implements Connector.
func (y *YAML) Validate(_ context.Context, location string) bool {
	return isFile(location)
}
