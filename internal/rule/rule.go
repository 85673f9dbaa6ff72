package rule

import "strings"

// Severity ranks how serious a failing rule is.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Severities lists every valid severity from least to most serious.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// ParseSeverity matches s case-insensitively against the known severities.
func ParseSeverity(s string) (Severity, bool) {
	up := Severity(strings.ToUpper(strings.TrimSpace(s)))
	for _, sev := range Severities {
		if sev == up {
			return sev, true
		}
	}
	return "", false
}

// Rank returns 0 (LOW) … 3 (CRITICAL), or -1 for an unknown value.
func (s Severity) Rank() int {
	for i, sev := range Severities {
		if sev == s {
			return i
		}
	}
	return -1
}

// Rule is a single compliance check. It is built once by the rule parser
// and treated as read-only afterwards.
type Rule struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Condition   string   `json:"condition" yaml:"condition"`
	DataSource  string   `json:"data_source" yaml:"data_source"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Severity    Severity `json:"severity" yaml:"severity"`
	Filter      string   `json:"filter,omitempty" yaml:"filter,omitempty"` // empty = every row
	Enabled     bool     `json:"enabled" yaml:"enabled"`

	// Origin is the rule file this rule came from, if any.
	Origin string `json:"origin,omitempty" yaml:"-"`
}

// HasFilter reports whether rows are pre-filtered before the condition runs.
func (r Rule) HasFilter() bool {
	return strings.TrimSpace(r.Filter) != ""
}

// Enabled returns the subset of rules that are switched on, keeping order.
func Enabled(rules []Rule) []Rule {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}
