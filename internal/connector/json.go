package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// JSONOptions configure the JSON connector.
type JSONOptions struct {
	// Lines reads one JSON object per line instead of a top-level array.
	Lines bool `yaml:"lines"`
}

// JSON reads either an array of objects or JSON lines.
type JSON struct {
	opts JSONOptions
}

// NewJSON creates a JSON connector.
func NewJSON(opts JSONOptions) *JSON {
	return &JSON{opts: opts}
}

// Load implements Connector.
func (j *JSON) Load(ctx context.Context, location string) (Table, error) {
	data, err := readFile(ctx, location)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, empty(location)
	}

	var table Table
	if j.opts.Lines || data[firstNonSpace(data)] == '{' {
		table, err = decodeLines(data)
	} else {
		table, err = decodeArray(data)
	}
	if err != nil {
		return nil, loadFailed(location, err)
	}
	return table.fillColumns(), nil
}

// Validate implements Connector.
func (j *JSON) Validate(_ context.Context, location string) bool {
	return isFile(location)
}

func firstNonSpace(data []byte) int {
	return len(data) - len(bytes.TrimLeft(data, " \t\r\n"))
}

func decodeArray(data []byte) (Table, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var items []any
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("expected an array of objects: %w", err)
	}
	table := make(Table, 0, len(items))
	for i, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("element %d: expected an object, got %T", i, it)
		}
		table = append(table, normalizeRow(obj))
	}
	return table, nil
}

func decodeLines(data []byte) (Table, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var table Table
	for i := 1; ; i++ {
		var obj map[string]any
		err := dec.Decode(&obj)
		if errors.Is(err, io.EOF) {
			return table, nil
		}
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		table = append(table, normalizeRow(obj))
	}
}
