package ruleset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/gyaneshwarpardhi/compliance/internal/rule"
)

// Policy decides what a malformed rule file does to the rest of the load.
type Policy int

const (
	// PolicyContinue records the bad file in Set.Errors and keeps going.
	PolicyContinue Policy = iota
	// PolicyFailFast aborts the load on the first bad file.
	PolicyFailFast
)

func (p Policy) String() string {
	if p == PolicyFailFast {
		return "fail_fast"
	}
	return "continue"
}

// ParsePolicy accepts "continue" or "fail_fast" (also "fail-fast").
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "continue":
		return PolicyContinue, nil
	case "fail_fast", "fail-fast", "failfast":
		return PolicyFailFast, nil
	}
	return PolicyContinue, fmt.Errorf("unknown rule file policy %q (want continue or fail_fast)", s)
}

// Set is the outcome of loading a rule source.
type Set struct {
	Rules  []rule.Rule
	Errors []FileError
}

// Err joins the per-file errors, or returns nil when every file parsed.
func (s *Set) Err() error {
	if len(s.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(s.Errors))
	for i := range s.Errors {
		errs[i] = &s.Errors[i]
	}
	return errors.Join(errs...)
}

// Load reads rules from a single file or from every rule file in a
// directory. A missing path is always an error (ErrSourceNotFound). Other
// problems are recorded per file unless policy is PolicyFailFast.
func Load(path string, policy Policy) (*Set, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("stat rules %s: %w", path, err)
	}

	var paths []string
	if info.IsDir() {
		if paths, err = ruleFiles(path); err != nil {
			return nil, err
		}
	} else {
		paths = []string{path}
	}

	set := &Set{Rules: []rule.Rule{}}
	for _, p := range paths {
		rs, err := ParseFile(p)
		if err != nil {
			fe := FileError{Path: p, Err: err}
			if policy == PolicyFailFast {
				return nil, &fe
			}
			set.Errors = append(set.Errors, fe)
			continue
		}
		set.Rules = append(set.Rules, rs...)
	}
	return set, nil
}
