package connector

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// Constructor builds a connector for one source.
type Constructor func(src Source) Connector

// Factory picks a connector for a location: named sources first, then the
// URL scheme, then the file extension. It is safe for concurrent reads;
// Register and AddSource should only be called at startup.
type Factory struct {
	mu      sync.RWMutex
	schemes map[string]Constructor // "postgres" → pgx
	exts    map[string]Constructor // ".csv" → CSV
	sources map[string]Source      // alias → source
}

// NewFactory creates a Factory with every built-in connector registered.
func NewFactory(cfg Config) *Factory {
	f := &Factory{
		schemes: make(map[string]Constructor),
		exts:    make(map[string]Constructor),
		sources: make(map[string]Source),
	}

	csvCtor := func(Source) Connector { return NewCSV(cfg.CSV) }
	for _, ext := range []string{".csv", ".tsv", ".txt"} {
		f.Register(ext, csvCtor)
	}
	f.Register(".json", func(Source) Connector { return NewJSON(cfg.JSON) })
	linesCtor := func(Source) Connector {
		opts := cfg.JSON
		opts.Lines = true
		return NewJSON(opts)
	}
	f.Register(".jsonl", linesCtor)
	f.Register(".ndjson", linesCtor)
	yamlCtor := func(Source) Connector { return NewYAML() }
	f.Register(".yaml", yamlCtor)
	f.Register(".yml", yamlCtor)

	pg := func(src Source) Connector { return NewPostgres(src, cfg.Postgres) }
	f.Register("postgres", pg)
	f.Register("postgresql", pg)
	f.Register("sql+postgres", func(src Source) Connector { return NewSQL("postgres", src, cfg.SQL) })
	mongo := func(src Source) Connector { return NewMongo(src, cfg.MongoDB) }
	f.Register("mongodb", mongo)
	f.Register("mongodb+srv", mongo)
	return f
}

// Register adds a constructor. Kinds starting with "." are file extensions,
// anything else is a URL scheme. Panics on duplicate kind to surface
// misconfiguration early.
func (f *Factory) Register(kind string, c Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kind = strings.ToLower(kind)
	target := f.schemes
	if strings.HasPrefix(kind, ".") {
		target = f.exts
	}
	if _, exists := target[kind]; exists {
		panic(fmt.Sprintf("connector registry: duplicate kind %q", kind))
	}
	target[kind] = c
}

// AddSource registers a named data source that rules can reference by name.
func (f *Factory) AddSource(name string, src Source) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources[name] = src
}

// Source returns the named data source, if registered.
func (f *Factory) Source(name string) (Source, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	src, ok := f.sources[name]
	return src, ok
}

// SupportedFormats lists registered extensions and schemes, sorted.
func (f *Factory) SupportedFormats() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.exts)+len(f.schemes))
	for k := range f.exts {
		out = append(out, k)
	}
	for k := range f.schemes {
		out = append(out, k+"://")
	}
	slices.Sort(out)
	return out
}

// Resolve maps a rule's data_source to the location handed to Load.
// Named sources stay as they are, URLs and absolute paths are used as-is,
// anything else is relative to dataRoot.
func (f *Factory) Resolve(dataSource, dataRoot string) string {
	if _, ok := f.Source(dataSource); ok {
		return dataSource
	}
	if isURL(dataSource) || filepath.IsAbs(dataSource) || dataRoot == "" {
		return dataSource
	}
	return filepath.Join(dataRoot, dataSource)
}

// For returns the connector and source for location.
func (f *Factory) For(location string) (Connector, Source, error) {
	src, ok := f.Source(location)
	if !ok {
		src = Source{Location: location}
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if scheme, ok := schemeOf(src.Location); ok {
		if c, ok := f.schemes[scheme]; ok {
			return c(src), src, nil
		}
		return nil, src, f.unsupported(location, scheme+"://")
	}
	ext := strings.ToLower(filepath.Ext(src.Location))
	if c, ok := f.exts[ext]; ok {
		return c(src), src, nil
	}
	if ext == "" {
		ext = "(none)"
	}
	return nil, src, f.unsupported(location, ext)
}

// unsupported must be called with f.mu held.
func (f *Factory) unsupported(location, kind string) error {
	var supported []string
	for k := range f.exts {
		supported = append(supported, k)
	}
	for k := range f.schemes {
		supported = append(supported, k+"://")
	}
	slices.Sort(supported)
	return &LoadError{
		Location: Redact(location),
		Reason:   fmt.Sprintf("unsupported format %s (supported: %s)", kind, strings.Join(supported, ", ")),
		Err:      ErrUnsupportedFormat,
	}
}

// Load picks a connector for location and loads it.
func (f *Factory) Load(ctx context.Context, location string) (Table, error) {
	c, src, err := f.For(location)
	if err != nil {
		return nil, err
	}
	return c.Load(ctx, src.Location)
}

// Validate reports whether location has a connector and passes its check.
func (f *Factory) Validate(ctx context.Context, location string) bool {
	c, src, err := f.For(location)
	if err != nil {
		return false
	}
	return c.Validate(ctx, src.Location)
}

func isURL(s string) bool {
	_, ok := schemeOf(s)
	return ok
}

func schemeOf(location string) (string, bool) {
	i := strings.Index(location, "://")
	if i <= 0 {
		return "", false
	}
	return strings.ToLower(location[:i]), true
}
