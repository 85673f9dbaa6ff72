// Package config loads the application configuration. Layers apply in
// order: built-in defaults, the YAML file, then COMPLIANCE_* variables from
// a .env file and the process environment, the process winning.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix starts every environment override. Nested keys are separated
// by a double underscore: COMPLIANCE_ENGINE__WORKERS=4 sets engine.workers.
const EnvPrefix = "COMPLIANCE_"

// DefaultFile is read when no config path is given, if it exists.
const DefaultFile = "compliance.yaml"

// Loader builds a Config from its layers.
type Loader struct {
	// Path is the YAML file. Empty means DefaultFile, which may be absent;
	// an explicit Path must exist.
	Path string
	// EnvFile is a dotenv file. Empty means ".env" next to the config file;
	// a missing file is skipped.
	EnvFile string
	// Environ returns the process environment. Defaults to os.Environ.
	Environ func() []string
}

// Load reads the config at path with the default environment sources.
func Load(path string) (*Config, error) {
	return Loader{Path: path}.Load()
}

// Load applies every layer and validates the result.
func (l Loader) Load() (*Config, error) {
	cfg := Default()

	path, optional := l.Path, false
	if path == "" {
		path, optional = DefaultFile, true
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case optional && errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	env, err := l.environment(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	if overrides := envOverrides(env); overrides != nil {
		data, err := yaml.Marshal(overrides)
		if err != nil {
			return nil, fmt.Errorf("encode environment overrides: %w", err)
		}
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("apply environment overrides: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode merges a YAML document into cfg. Keys not present leave the
// current value in place; unknown keys are errors.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// environment returns KEY=VALUE pairs from the dotenv file overlaid with
// the process environment.
func (l Loader) environment(dir string) (map[string]string, error) {
	out := make(map[string]string)

	envFile := l.EnvFile
	if envFile == "" {
		envFile = filepath.Join(dir, ".env")
	}
	vars, err := godotenv.Read(envFile)
	switch {
	case err == nil:
		for k, v := range vars {
			out[k] = v
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read env file %s: %w", envFile, err)
	}

	environ := l.Environ
	if environ == nil {
		environ = os.Environ
	}
	for _, kv := range environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out, nil
}

// envOverrides turns COMPLIANCE_A__B=v variables into a YAML mapping node
// {a: {b: v}}. Values are plain scalars, so YAML decides their type; a value
// starting with '[' is read as a flow sequence.
func envOverrides(env map[string]string) *yaml.Node {
	keys := make([]string, 0, len(env))
	for k := range env {
		if strings.HasPrefix(k, EnvPrefix) && len(k) > len(EnvPrefix) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)

	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range keys {
		path := strings.Split(strings.ToLower(strings.TrimPrefix(k, EnvPrefix)), "__")
		node := root
		for _, part := range path[:len(path)-1] {
			node = child(node, part)
		}
		setChild(node, path[len(path)-1], scalar(env[k]))
	}
	return root
}

func child(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			if m.Content[i+1].Kind != yaml.MappingNode {
				m.Content[i+1] = &yaml.Node{Kind: yaml.MappingNode}
			}
			return m.Content[i+1]
		}
	}
	c := &yaml.Node{Kind: yaml.MappingNode}
	m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, c)
	return c
}

func setChild(m *yaml.Node, key string, v *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			m.Content[i+1] = v
			return
		}
	}
	m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, v)
}

func scalar(v string) *yaml.Node {
	if strings.HasPrefix(strings.TrimSpace(v), "[") {
		var doc yaml.Node
		if err := yaml.Unmarshal([]byte(v), &doc); err == nil && len(doc.Content) == 1 && doc.Content[0].Kind == yaml.SequenceNode {
			return doc.Content[0]
		}
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Value: v}
}
