package connector

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// CSVOptions configure the CSV connector.
type CSVOptions struct {
	// Delimiter is a single character, or "auto" to sniff it from the header.
	Delimiter string `yaml:"delimiter"`
	// InferTypes converts columns to bool, int64 or float64 when every
	// non-null value in the column parses as that type. Default true.
	InferTypes *bool `yaml:"infer_types"`
	// NullValues are cell values read as null. Defaults to the common
	// spreadsheet markers (empty, NA, N/A, NULL, NaN, None, ...).
	NullValues []string `yaml:"null_values"`
}

var defaultNullValues = []string{"", "#N/A", "N/A", "NA", "NULL", "NaN", "None", "n/a", "nan", "null"}

// CSV reads delimited text files with a header row.
type CSV struct {
	opts  CSVOptions
	nulls map[string]bool
}

// NewCSV creates a CSV connector.
func NewCSV(opts CSVOptions) *CSV {
	if opts.Delimiter == "" {
		opts.Delimiter = "auto"
	}
	if opts.NullValues == nil {
		opts.NullValues = defaultNullValues
	}
	nulls := make(map[string]bool, len(opts.NullValues))
	for _, v := range opts.NullValues {
		nulls[v] = true
	}
	return &CSV{opts: opts, nulls: nulls}
}

// Load implements Connector.
func (c *CSV) Load(ctx context.Context, location string) (Table, error) {
	data, err := readFile(ctx, location)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = c.delimiter(location, data)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, empty(location)
	}
	if err != nil {
		return nil, loadFailed(location, err)
	}
	cols := headerNames(header)

	var records [][]string
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, loadFailed(location, err)
		}
		if len(rec) > len(cols) {
			return nil, loadFailed(location, fmt.Errorf("line %d: expected %d fields, saw %d", line, len(cols), len(rec)))
		}
		if len(rec) == 1 && rec[0] == "" && len(cols) > 1 {
			continue // blank line
		}
		records = append(records, rec)
	}

	conv := make([]func(string) any, len(cols))
	for i := range cols {
		conv[i] = c.columnConverter(records, i)
	}
	table := make(Table, 0, len(records))
	for _, rec := range records {
		row := make(Row, len(cols))
		for i, name := range cols {
			if i >= len(rec) || c.nulls[rec[i]] {
				row[name] = nil
				continue
			}
			row[name] = conv[i](rec[i])
		}
		table = append(table, row)
	}
	return table, nil
}

// Validate implements Connector.
func (c *CSV) Validate(_ context.Context, location string) bool {
	return isFile(location)
}

func (c *CSV) delimiter(location string, data []byte) rune {
	if c.opts.Delimiter != "auto" {
		if c.opts.Delimiter == `\t` {
			return '\t'
		}
		return []rune(c.opts.Delimiter)[0]
	}
	if strings.EqualFold(filepath.Ext(location), ".tsv") {
		return '\t'
	}
	return sniffDelimiter(data)
}

// sniffDelimiter picks the candidate that occurs most often in the header line.
func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	best, bestN := ',', 0
	for _, d := range []rune{',', ';', '\t', '|'} {
		if n := bytes.Count(line, []byte(string(d))); n > bestN {
			best, bestN = d, n
		}
	}
	return best
}

// headerNames fills blank names and de-duplicates repeats as "name.1".
func headerNames(header []string) []string {
	cols := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", i)
		}
		if n := seen[name]; n > 0 {
			seen[name] = n + 1
			name = fmt.Sprintf("%s.%d", name, n)
		} else {
			seen[name] = 1
		}
		cols[i] = name
	}
	return cols
}

// columnConverter infers one type for the whole column, the way spreadsheet
// tools do: a column with a single non-numeric cell stays text.
func (c *CSV) columnConverter(records [][]string, col int) func(string) any {
	asString := func(s string) any { return s }
	if c.opts.InferTypes != nil && !*c.opts.InferTypes {
		return asString
	}
	isBool, isInt, isFloat := true, true, true
	seen := false
	for _, rec := range records {
		if col >= len(rec) || c.nulls[rec[col]] {
			continue
		}
		v := rec[col]
		seen = true
		if _, ok := parseBool(v); !ok {
			isBool = false
		}
		if _, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err != nil {
			isInt = false
		}
		if _, ok := parseFloat(v); !ok {
			isFloat = false
		}
		if !isBool && !isFloat {
			return asString
		}
	}
	switch {
	case !seen:
		return asString
	case isBool:
		return func(s string) any { b, _ := parseBool(s); return b }
	case isInt:
		return func(s string) any { i, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64); return i }
	case isFloat:
		return func(s string) any { f, _ := parseFloat(s); return f }
	}
	return asString
}

func parseBool(s string) (bool, bool) {
	switch strings.TrimSpace(s) {
	case "true", "True", "TRUE":
		return true, true
	case "false", "False", "FALSE":
		return false, true
	}
	return false, false
}

// parseFloat accepts plain decimal notation only; "inf" and "nan" stay text.
func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, "iInN_xX") {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

func isFile(location string) bool {
	info, err := os.Stat(location)
	return err == nil && !info.IsDir()
}

// readFile reads a local dataset, mapping the common failures to LoadError.
func readFile(ctx context.Context, location string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(location)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(location)
	}
	if err != nil {
		return nil, loadFailed(location, err)
	}
	if info.IsDir() {
		return nil, &LoadError{Location: location, Reason: "is a directory"}
	}
	if info.Size() == 0 {
		return nil, empty(location)
	}
	data, err := os.ReadFile(location)
	if err != nil {
		return nil, loadFailed(location, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, empty(location)
	}
	return data, nil
}
