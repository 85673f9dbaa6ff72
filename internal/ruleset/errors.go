package ruleset

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gyaneshwarpardhi/compliance/internal/rule"
)

// ErrSourceNotFound is returned when a rule file or directory does not exist.
var ErrSourceNotFound = errors.New("rule source not found")

// ValidationError reports every required field missing from one rule.
type ValidationError struct {
	RuleID  string
	Index   int // position of the rule within its document, 0-based
	Origin  string
	Missing []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	if e.Origin != "" {
		b.WriteString(e.Origin)
		b.WriteString(": ")
	}
	fmt.Fprintf(&b, "rule #%d", e.Index+1)
	if e.RuleID != "" {
		fmt.Fprintf(&b, " (%s)", e.RuleID)
	}
	fmt.Fprintf(&b, ": missing required field(s): %s", strings.Join(e.Missing, ", "))
	return b.String()
}

// SeverityError reports a severity that matches none of the known levels.
type SeverityError struct {
	RuleID string
	Value  string
}

func (e *SeverityError) Error() string {
	names := make([]string, len(rule.Severities))
	for i, s := range rule.Severities {
		names[i] = string(s)
	}
	return fmt.Sprintf("rule %q: invalid severity %q (want one of %s)", e.RuleID, e.Value, strings.Join(names, ", "))
}

// SyntaxError wraps a YAML decoding failure for a whole document.
type SyntaxError struct {
	Path string
	Err  error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("parse rules %s: %v", e.Path, e.Err)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// FileError records why one rule file contributed no rules.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }
