// Package report renders a finished scan as JSON, CSV, HTML or a console
// summary.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/compliance/internal/engine"
	"github.com/gyaneshwarpardhi/compliance/internal/rule"
)

// File names written by WriteFiles.
const (
	JSONFile = "results.json"
	CSVFile  = "violations.csv"
	HTMLFile = "report.html"
)

// Summary counts results per status.
type Summary struct {
	Total    int     `json:"total"`
	Passed   int     `json:"passed"`
	Failed   int     `json:"failed"`
	Errors   int     `json:"errors"`
	Skipped  int     `json:"skipped"`
	PassRate float64 `json:"pass_rate"` // passed / evaluated rules, percent
}

// RuleFileError is a rule file that could not be parsed.
type RuleFileError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Document is everything a writer needs about one scan.
type Document struct {
	ScanID      string          `json:"scan_id"`
	RunID       string          `json:"run_id,omitempty"`
	GeneratedAt time.Time       `json:"timestamp"`
	DurationMs  int64           `json:"duration_ms"`
	Summary     Summary         `json:"summary"`
	Stats       engine.Stats    `json:"stats"`
	Results     []rule.Result   `json:"results"`
	RuleErrors  []RuleFileError `json:"rule_errors,omitempty"`
}

// Build assembles a Document from an engine report.
func Build(scanID string, rep *engine.Report) *Document {
	doc := &Document{
		ScanID:      scanID,
		RunID:       rep.RunID,
		GeneratedAt: time.Now().UTC(),
		DurationMs:  rep.Duration.Milliseconds(),
		Summary:     Summarize(rep.Results),
		Stats:       rep.Stats,
		Results:     rep.Results,
	}
	for _, fe := range rep.RuleErrors {
		doc.RuleErrors = append(doc.RuleErrors, RuleFileError{Path: fe.Path, Error: fe.Err.Error()})
	}
	return doc
}

// Summarize counts results per status.
func Summarize(results []rule.Result) Summary {
	var s Summary
	for _, r := range results {
		s.Total++
		switch r.Status {
		case rule.StatusPass:
			s.Passed++
		case rule.StatusFail:
			s.Failed++
		case rule.StatusError:
			s.Errors++
		case rule.StatusSkipped:
			s.Skipped++
		}
	}
	if evaluated := s.Total - s.Skipped; evaluated > 0 {
		s.PassRate = float64(s.Passed) / float64(evaluated) * 100
	}
	return s
}

// Failures returns the FAIL results.
func (d *Document) Failures() []rule.Result {
	var out []rule.Result
	for _, r := range d.Results {
		if r.Status == rule.StatusFail {
			out = append(out, r)
		}
	}
	return out
}

// Options tune every writer.
type Options struct {
	Pretty            bool
	IncludeViolations bool
	MaxViolations     int // per rule; 0 = unlimited
	Colorize          bool
}

// limited returns results with violations capped at max, or dropped when
// include is false. The input is not modified.
func limited(results []rule.Result, include bool, max int) []rule.Result {
	out := make([]rule.Result, len(results))
	copy(out, results)
	for i := range out {
		switch {
		case !include:
			out[i].Violations = nil
		case max > 0 && len(out[i].Violations) > max:
			out[i].Violations = out[i].Violations[:max]
		}
	}
	return out
}

// WriteFiles writes every file format in formats into dir and returns the
// paths written. "console" is not a file format and is ignored here.
func WriteFiles(dir string, doc *Document, formats []string, opts Options) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("report: create %s: %w", dir, err)
	}
	var written []string
	for _, f := range formats {
		var name string
		var write func(*os.File) error
		switch strings.ToLower(f) {
		case "json":
			name, write = JSONFile, func(w *os.File) error { return WriteJSON(w, doc, opts) }
		case "csv":
			name, write = CSVFile, func(w *os.File) error { return WriteCSV(w, doc, opts) }
		case "html":
			name, write = HTMLFile, func(w *os.File) error { return WriteHTML(w, doc, opts) }
		case "console":
			continue
		default:
			return written, fmt.Errorf("report: unknown format %q", f)
		}
		path := filepath.Join(dir, name)
		if err := writeFile(path, write); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	return f.Close()
}
