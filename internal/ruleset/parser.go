// Package ruleset turns YAML rule documents into rule.Rule values.
package ruleset

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gyaneshwarpardhi/compliance/internal/rule"
)

// ruleDoc is the on-disk shape of one rule. Pointer fields distinguish
// "absent" from "zero" so defaults can be applied.
type ruleDoc struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Condition   string  `yaml:"condition"`
	DataSource  string  `yaml:"data_source"`
	Description string  `yaml:"description"`
	Severity    *string `yaml:"severity"`
	Filter      string  `yaml:"filter"`
	Enabled     *bool   `yaml:"enabled"`
}

// Parse reads every rule from a YAML document. The document may be a single
// rule mapping, a sequence of rule mappings, or a mapping with a "rules"
// sequence; several "---" separated documents are concatenated. An empty
// document yields no rules and no error.
//
// If any rule is invalid no rules are returned and the error joins every
// problem found in the document.
func Parse(data []byte, origin string) ([]rule.Rule, error) {
	fragments, err := fragments(data, origin)
	if err != nil {
		return nil, err
	}
	rules := make([]rule.Rule, 0, len(fragments))
	var errs []error
	for i, frag := range fragments {
		r, err := buildRule(frag, i, origin)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rules = append(rules, r)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return rules, nil
}

// fragments normalizes the three accepted document forms into a flat list
// of rule nodes in document order.
func fragments(data []byte, origin string) ([]*yaml.Node, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var out []*yaml.Node
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, &SyntaxError{Path: origin, Err: err}
		}
		if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
			continue
		}
		root := doc.Content[0]
		switch root.Kind {
		case yaml.SequenceNode:
			out = append(out, root.Content...)
		case yaml.MappingNode:
			list := mappingValue(root, "rules")
			if list == nil {
				out = append(out, root)
				continue
			}
			switch {
			case isNull(list):
			case list.Kind == yaml.SequenceNode:
				out = append(out, list.Content...)
			default:
				return nil, &SyntaxError{Path: origin, Err: fmt.Errorf("line %d: rules must be a list", list.Line)}
			}
		case yaml.ScalarNode:
			if !isNull(root) {
				return nil, &SyntaxError{Path: origin, Err: fmt.Errorf("line %d: expected a rule mapping or a list of rules", root.Line)}
			}
		default:
			return nil, &SyntaxError{Path: origin, Err: fmt.Errorf("line %d: expected a rule mapping or a list of rules", root.Line)}
		}
	}
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.Tag == "!!null"
}

func buildRule(node *yaml.Node, index int, origin string) (rule.Rule, error) {
	if node.Kind != yaml.MappingNode {
		return rule.Rule{}, fmt.Errorf("%s: rule #%d (line %d): expected a mapping", origin, index+1, node.Line)
	}
	var d ruleDoc
	if err := node.Decode(&d); err != nil {
		return rule.Rule{}, fmt.Errorf("%s: rule #%d: %w", origin, index+1, err)
	}

	r := rule.Rule{
		ID:          strings.TrimSpace(d.ID),
		Name:        strings.TrimSpace(d.Name),
		Condition:   strings.TrimSpace(d.Condition),
		DataSource:  strings.TrimSpace(d.DataSource),
		Description: strings.TrimSpace(d.Description),
		Filter:      strings.TrimSpace(d.Filter),
		Severity:    rule.SeverityMedium,
		Enabled:     true,
		Origin:      origin,
	}
	if d.Enabled != nil {
		r.Enabled = *d.Enabled
	}

	var missing []string
	for _, f := range []struct{ name, val string }{
		{"id", r.ID},
		{"name", r.Name},
		{"condition", r.Condition},
		{"data_source", r.DataSource},
	} {
		if f.val == "" {
			missing = append(missing, f.name)
		}
	}
	var errs []error
	if len(missing) > 0 {
		errs = append(errs, &ValidationError{RuleID: r.ID, Index: index, Origin: origin, Missing: missing})
	}
	if d.Severity != nil {
		sev, ok := rule.ParseSeverity(*d.Severity)
		if !ok {
			errs = append(errs, &SeverityError{RuleID: r.ID, Value: *d.Severity})
		}
		r.Severity = sev
	}
	if len(errs) > 0 {
		return rule.Rule{}, errors.Join(errs...)
	}
	return r, nil
}

// ParseFile reads and parses one rule file.
func ParseFile(path string) ([]rule.Rule, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	return Parse(data, path)
}

// ParseFiles parses each file independently. Rules keep file order, then
// document order; a file that fails contributes a FileError and no rules.
func ParseFiles(paths []string) ([]rule.Rule, []FileError) {
	var (
		rules []rule.Rule
		errs  []FileError
	)
	for _, p := range paths {
		rs, err := ParseFile(p)
		if err != nil {
			errs = append(errs, FileError{Path: p, Err: err})
			continue
		}
		rules = append(rules, rs...)
	}
	return rules, errs
}

// ParseDir parses every *.yaml and *.yml file directly inside dir, in
// lexical order.
func ParseDir(dir string) ([]rule.Rule, []FileError, error) {
	paths, err := ruleFiles(dir)
	if err != nil {
		return nil, nil, err
	}
	rules, errs := ParseFiles(paths)
	return rules, errs, nil
}

// IsRuleFile reports whether name follows the rule file naming convention.
func IsRuleFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func ruleFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("read rules dir %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !IsRuleFile(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// Duplicates returns rule IDs that occur more than once, in order of first
// appearance.
func Duplicates(rules []rule.Rule) []string {
	count := make(map[string]int, len(rules))
	var order []string
	for _, r := range rules {
		if count[r.ID] == 0 {
			order = append(order, r.ID)
		}
		count[r.ID]++
	}
	var dups []string
	for _, id := range order {
		if count[id] > 1 {
			dups = append(dups, id)
		}
	}
	return dups
}
