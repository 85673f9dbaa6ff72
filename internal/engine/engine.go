// Package engine evaluates rules against the datasets they name.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/compliance/internal/condition"
	"github.com/gyaneshwarpardhi/compliance/internal/connector"
	"github.com/gyaneshwarpardhi/compliance/internal/metrics"
	"github.com/gyaneshwarpardhi/compliance/internal/rule"
	"github.com/gyaneshwarpardhi/compliance/internal/ruleset"
)

// ContextCheckInterval is how many rows are evaluated between checks for
// cancellation and rule timeouts.
const ContextCheckInterval = 100

// ErrRuleTimeout marks an ERROR result whose rule ran past its deadline.
var ErrRuleTimeout = errors.New("rule timeout")

// Loader loads the dataset at a resolved location. connector.Factory
// satisfies it.
type Loader interface {
	Load(ctx context.Context, location string) (connector.Table, error)
}

// Resolver maps a rule's data_source onto a location under dataRoot.
type Resolver interface {
	Resolve(dataSource, dataRoot string) string
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(dataSource, dataRoot string) string

func (f ResolverFunc) Resolve(dataSource, dataRoot string) string { return f(dataSource, dataRoot) }

// DefaultResolver uses URLs and absolute paths as they are and joins
// everything else onto dataRoot.
var DefaultResolver = ResolverFunc(func(dataSource, dataRoot string) string {
	if strings.Contains(dataSource, "://") || filepath.IsAbs(dataSource) || dataRoot == "" {
		return dataSource
	}
	return filepath.Join(dataRoot, dataSource)
})

// Stats summarises one run.
type Stats struct {
	RulesLoaded    int `json:"rules_loaded"`
	RulesExecuted  int `json:"rules_executed"`
	RowsProcessed  int `json:"total_rows_processed"`
	DatasetsLoaded int `json:"datasets_loaded"`
	LoadFailures   int `json:"load_failures"`
}

// Report is the outcome of one run. Results are in rule order.
type Report struct {
	RunID      string              `json:"run_id"`
	StartedAt  time.Time           `json:"started_at"`
	Duration   time.Duration       `json:"duration_ns"`
	Results    []rule.Result       `json:"results"`
	RuleErrors []ruleset.FileError `json:"-"`
	Stats      Stats               `json:"stats"`
}

// Counts returns the number of results per status.
func (r *Report) Counts() map[rule.Status]int {
	out := make(map[rule.Status]int, 4)
	for _, res := range r.Results {
		out[res.Status]++
	}
	return out
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records run metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithDebug logs every condition evaluation at debug level.
func WithDebug(on bool) Option {
	return func(e *Engine) { e.debug = on }
}

// WithWorkers evaluates up to n data source groups concurrently.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithRuleTimeout bounds each rule's evaluation. Zero means no limit.
func WithRuleTimeout(d time.Duration) Option {
	return func(e *Engine) { e.ruleTimeout = d }
}

// WithResolver overrides how data_source values become locations.
func WithResolver(r Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithPolicy sets how Run treats malformed rule files.
func WithPolicy(p ruleset.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// Engine evaluates rules. It holds no per-run state and is safe for
// concurrent use.
type Engine struct {
	loader      Loader
	resolver    Resolver
	logger      *slog.Logger
	metrics     *metrics.Metrics
	debug       bool
	workers     int
	ruleTimeout time.Duration
	policy      ruleset.Policy
	evaluator   *condition.Evaluator
}

// New creates an Engine. If loader also implements Resolver it is used to
// resolve data sources unless WithResolver says otherwise.
func New(loader Loader, opts ...Option) *Engine {
	e := &Engine{loader: loader, workers: 1}
	if r, ok := loader.(Resolver); ok {
		e.resolver = r
	}
	for _, o := range opts {
		o(e)
	}
	if e.resolver == nil {
		e.resolver = DefaultResolver
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.workers < 1 {
		e.workers = 1
	}
	var evalOpts []condition.Option
	if e.debug {
		evalOpts = append(evalOpts, condition.WithDebug(e.logger))
	}
	e.evaluator = condition.NewEvaluator(evalOpts...)
	return e
}

// Run loads rules from ruleSource (a file or a directory) and evaluates
// them against datasets under dataRoot. Only a missing rule source, or a
// bad rule file under PolicyFailFast, is returned as an error; malformed
// files are otherwise listed in Report.RuleErrors.
func (e *Engine) Run(ctx context.Context, ruleSource, dataRoot string) (*Report, error) {
	set, err := ruleset.Load(ruleSource, e.policy)
	if err != nil {
		return nil, err
	}
	for _, fe := range set.Errors {
		e.logger.Warn("rule file skipped", "path", fe.Path, "error", fe.Err)
	}
	rep := e.RunRules(ctx, set.Rules, dataRoot)
	rep.RuleErrors = set.Errors
	return rep, nil
}

// RunRules evaluates rules as given, for callers that filter rules first.
func (e *Engine) RunRules(ctx context.Context, rules []rule.Rule, dataRoot string) *Report {
	start := time.Now()
	rep := &Report{
		RunID:     uuid.NewString(),
		StartedAt: start.UTC(),
		Results:   make([]rule.Result, len(rules)),
		Stats:     Stats{RulesLoaded: len(rules)},
	}
	logger := e.logger.With("run_id", rep.RunID)

	groups := plan(rules, func(ds string) string { return e.resolver.Resolve(ds, dataRoot) })
	cache := newDatasetCache(e.loader, e.metrics)
	var rows atomic.Int64

	runGroup := func(ctx context.Context, g *group) {
		e.metrics.GroupStarted()
		defer e.metrics.GroupDone()
		rows.Add(int64(e.runGroup(ctx, logger, g, rules, cache, rep.Results)))
	}

	if e.workers == 1 || len(groups) < 2 {
		for _, g := range groups {
			runGroup(ctx, g)
		}
	} else {
		pool := newWorkerPool(ctx, min(e.workers, len(groups)), len(groups), runGroup)
		for _, g := range groups {
			pool.Submit(g) // queue holds every group
		}
		pool.Drain()
	}

	rep.Stats.RulesExecuted = len(rules)
	rep.Stats.RowsProcessed = int(rows.Load())
	rep.Stats.DatasetsLoaded, rep.Stats.LoadFailures = cache.counts()
	rep.Duration = time.Since(start)

	counts := rep.Counts()
	logger.Info("run finished",
		"rules", len(rules),
		"groups", len(groups),
		"pass", counts[rule.StatusPass],
		"fail", counts[rule.StatusFail],
		"error", counts[rule.StatusError],
		"duration_ms", rep.Duration.Milliseconds(),
	)
	return rep
}

// runGroup loads the group's dataset once and evaluates each of its rules,
// writing results into their slots. It returns the rows processed.
func (e *Engine) runGroup(ctx context.Context, logger *slog.Logger, g *group, rules []rule.Rule, cache *datasetCache, results []rule.Result) int {
	table, err := cache.get(ctx, g.location)
	if err != nil {
		logger.Warn("dataset load failed", "data_source", connector.Redact(g.dataSource), "error", err)
		for _, i := range g.indices {
			results[i] = rule.ErrorResult(rules[i], err)
			e.metrics.ObserveRule(string(rule.StatusError), 0, 0)
		}
		return 0
	}
	logger.Debug("dataset loaded", "data_source", connector.Redact(g.dataSource), "rows", len(table), "rules", len(g.indices))

	processed := 0
	for _, i := range g.indices {
		res := e.EvaluateRule(ctx, rules[i], table)
		results[i] = res
		processed += res.TotalRows
	}
	return processed
}

// EvaluateRule applies one rule to an already loaded table.
func (e *Engine) EvaluateRule(ctx context.Context, r rule.Rule, table connector.Table) rule.Result {
	start := time.Now()
	res := e.evaluate(ctx, r, table)
	elapsed := time.Since(start)

	res.ExecutionTimeMs = float64(elapsed) / float64(time.Millisecond)
	res.EvaluatedAt = time.Now().UTC()
	e.metrics.ObserveRule(string(res.Status), res.TotalRows, elapsed)

	attrs := []any{"rule_id", r.ID, "status", res.Status, "total", res.TotalRows, "failed", res.FailedRows}
	if res.Status == rule.StatusError {
		e.logger.Warn("rule errored", append(attrs, "error", res.Error)...)
	} else {
		e.logger.Debug("rule evaluated", attrs...)
	}
	return res
}

func (e *Engine) evaluate(ctx context.Context, r rule.Rule, table connector.Table) (res rule.Result) {
	parent := ctx
	if e.ruleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.ruleTimeout)
		defer cancel()
	}
	defer func() {
		if p := recover(); p != nil {
			res = rule.ErrorResult(r, fmt.Errorf("panic evaluating rule: %v", p))
		}
	}()

	var filter *condition.Program
	if r.HasFilter() {
		prog, err := e.evaluator.Compile(r.Filter)
		if err != nil {
			return rule.ErrorResult(r, fmt.Errorf("invalid filter: %w", err))
		}
		filter = prog
	}

	var (
		total, passed int
		violations    []rule.Violation
	)
	for i, row := range table {
		if i%ContextCheckInterval == 0 {
			if err := e.interrupted(parent, ctx); err != nil {
				return rule.ErrorResult(r, err)
			}
		}
		fields := condition.Row(row)
		if filter != nil {
			keep, err := filter.Eval(fields)
			if err != nil {
				e.logger.Debug("filter error, row excluded", "rule_id", r.ID, "row_index", i, "error", err)
				continue
			}
			if !keep {
				continue
			}
		}
		total++
		if e.evaluator.Evaluate(r.Condition, fields) {
			passed++
		} else {
			violations = append(violations, rule.NewViolation(i, row))
		}
	}
	if err := e.interrupted(parent, ctx); err != nil {
		return rule.ErrorResult(r, err)
	}

	status := rule.StatusPass
	if len(violations) > 0 {
		status = rule.StatusFail
	}
	return rule.Result{
		RuleID:     r.ID,
		RuleName:   r.Name,
		Severity:   r.Severity,
		Status:     status,
		TotalRows:  total,
		PassedRows: passed,
		FailedRows: len(violations),
		Violations: violations,
	}
}

// interrupted reports run cancellation, or ErrRuleTimeout once the rule's
// own deadline has passed.
func (e *Engine) interrupted(parent, ctx context.Context) error {
	if err := parent.Err(); err != nil {
		return fmt.Errorf("run cancelled: %w", err)
	}
	if e.ruleTimeout <= 0 {
		return nil
	}
	deadline, _ := ctx.Deadline()
	if ctx.Err() != nil || !time.Now().Before(deadline) {
		return fmt.Errorf("%w: exceeded %s", ErrRuleTimeout, e.ruleTimeout)
	}
	return nil
}
