// Package scan runs one complete compliance scan: load rules, evaluate the
// enabled ones, write reports and send alerts.
package scan

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/gyaneshwarpardhi/compliance/internal/engine"
	"github.com/gyaneshwarpardhi/compliance/internal/metrics"
	"github.com/gyaneshwarpardhi/compliance/internal/notify"
	"github.com/gyaneshwarpardhi/compliance/internal/report"
	"github.com/gyaneshwarpardhi/compliance/internal/rule"
	"github.com/gyaneshwarpardhi/compliance/internal/ruleset"
)

// IDLayout formats the time part of a scan ID.
const IDLayout = "20060102_150405"

// Options configures a Scanner.
type Options struct {
	RulesPath string
	DataRoot  string
	Policy    ruleset.Policy
	// Rules overrides how rules are loaded, e.g. from a watched
	// ruleset.Loader. Defaults to ruleset.Load(RulesPath, Policy).
	Rules func() (*ruleset.Set, error)

	// OutputDir receives one directory per scan. Empty writes no files.
	OutputDir string
	Formats   []string
	Report    report.Options
	// Console receives the console summary when Formats includes "console".
	Console io.Writer
}

// Result is a finished scan.
type Result struct {
	ID       string
	Dir      string
	Files    []string
	Document *report.Document
}

// Scanner runs scans. It is safe for concurrent use; scans do not share
// state other than the latest result.
type Scanner struct {
	engine   *engine.Engine
	notifier *notify.Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	opts     Options

	mu     sync.RWMutex
	latest *Result
}

// New creates a Scanner. notifier and m may be nil.
func New(eng *engine.Engine, notifier *notify.Notifier, logger *slog.Logger, m *metrics.Metrics, opts Options) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Rules == nil {
		path, policy := opts.RulesPath, opts.Policy
		opts.Rules = func() (*ruleset.Set, error) { return ruleset.Load(path, policy) }
	}
	return &Scanner{engine: eng, notifier: notifier, logger: logger, metrics: m, opts: opts}
}

// Run loads the rules and scans.
func (s *Scanner) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	set, err := s.opts.Rules()
	if err != nil {
		s.metrics.ObserveScan(time.Since(start), err)
		return nil, fmt.Errorf("load rules: %w", err)
	}
	return s.RunSet(ctx, set)
}

// RunSet scans an already loaded rule set. Disabled rules are reported as
// SKIPPED in their original position.
func (s *Scanner) RunSet(ctx context.Context, set *ruleset.Set) (*Result, error) {
	start := time.Now()
	s.metrics.SetRulesLoaded(len(set.Rules))

	enabled := rule.Enabled(set.Rules)
	rep := s.engine.RunRules(ctx, enabled, s.opts.DataRoot)
	rep.RuleErrors = set.Errors
	rep.Results = merge(set.Rules, rep.Results)

	id := start.UTC().Format(IDLayout) + "_" + shortID(rep.RunID)
	logger := s.logger.With("scan_id", id)
	doc := report.Build(id, rep)
	res := &Result{ID: id, Document: doc}

	err := s.write(res)
	if err != nil {
		logger.Error("writing reports failed", "error", err)
	}
	if nerr := s.notifier.Notify(ctx, doc); nerr != nil {
		logger.Warn("some alerts were not delivered", "error", nerr)
	}

	s.mu.Lock()
	s.latest = res
	s.mu.Unlock()

	s.metrics.ObserveScan(time.Since(start), err)
	logger.Info("scan completed",
		"rules", doc.Summary.Total,
		"passed", doc.Summary.Passed,
		"failed", doc.Summary.Failed,
		"errors", doc.Summary.Errors,
		"skipped", doc.Summary.Skipped,
		"dir", res.Dir,
	)
	return res, err
}

// Latest returns the most recent scan, or nil before the first one.
func (s *Scanner) Latest() *Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

func (s *Scanner) write(res *Result) error {
	for _, f := range s.opts.Formats {
		if f == "console" && s.opts.Console != nil {
			if err := report.WriteConsole(s.opts.Console, res.Document, s.opts.Report); err != nil {
				return err
			}
		}
	}
	if s.opts.OutputDir == "" {
		return nil
	}
	res.Dir = filepath.Join(s.opts.OutputDir, res.ID)
	files, err := report.WriteFiles(res.Dir, res.Document, s.opts.Formats, s.opts.Report)
	res.Files = files
	return err
}

// merge lays evaluated results back over the full rule list, filling
// disabled rules with SKIPPED. evaluated holds one result per enabled rule
// in order.
func merge(all []rule.Rule, evaluated []rule.Result) []rule.Result {
	out := make([]rule.Result, 0, len(all))
	next := 0
	for _, r := range all {
		if r.Enabled {
			out = append(out, evaluated[next])
			next++
			continue
		}
		out = append(out, rule.SkippedResult(r))
	}
	return out
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
