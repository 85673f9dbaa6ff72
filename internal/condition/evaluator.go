package condition

import (
	"fmt"
	"log/slog"
	"sync"
)

// EvalContext provides field values during evaluation.
type EvalContext interface {
	Resolve(name string) (any, bool)
}

// Row is the usual EvalContext: one record keyed by column name.
type Row map[string]any

// Resolve looks name up verbatim. There is no path traversal.
func (r Row) Resolve(name string) (any, bool) {
	v, ok := r[name]
	return v, ok
}

// Eval walks the AST and returns the resulting value.
func Eval(expr Expr, ctx EvalContext) (any, error) {
	switch e := expr.(type) {
	case *LiteralExpr:
		return e.Value, nil
	case *FieldExpr:
		v, ok := ctx.Resolve(e.Name)
		if !ok {
			return nil, fmt.Errorf("name %q is not defined", e.Name)
		}
		return v, nil
	case *ListExpr:
		items := make([]any, len(e.Items))
		for i, it := range e.Items {
			v, err := Eval(it, ctx)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return items, nil
	case *NotExpr:
		v, err := Eval(e.Expr, ctx)
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil
	case *NegExpr:
		v, err := Eval(e.Expr, ctx)
		if err != nil {
			return nil, err
		}
		return negate(v)
	case *BinaryExpr:
		return evalBinary(e, ctx)
	case *ComparisonExpr:
		return evalComparison(e, ctx)
	case *ArithExpr:
		left, err := Eval(e.Left, ctx)
		if err != nil {
			return nil, err
		}
		right, err := Eval(e.Right, ctx)
		if err != nil {
			return nil, err
		}
		return apply(e.Op, left, right)
	default:
		return nil, fmt.Errorf("unknown expr type %T", expr)
	}
}

// "and" / "or" short-circuit and yield the deciding operand.
func evalBinary(e *BinaryExpr, ctx EvalContext) (any, error) {
	left, err := Eval(e.Left, ctx)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case "and":
		if !truthy(left) {
			return left, nil
		}
		return Eval(e.Right, ctx)
	case "or":
		if truthy(left) {
			return left, nil
		}
		return Eval(e.Right, ctx)
	default:
		return nil, fmt.Errorf("unknown binary op %q", e.Op)
	}
}

// a < b < c means a < b and b < c, with b evaluated once.
func evalComparison(e *ComparisonExpr, ctx EvalContext) (any, error) {
	left, err := Eval(e.Operands[0], ctx)
	if err != nil {
		return nil, err
	}
	for i, op := range e.Ops {
		right, err := Eval(e.Operands[i+1], ctx)
		if err != nil {
			return nil, err
		}
		v, err := apply(op, left, right)
		if err != nil {
			return nil, err
		}
		if !truthy(v) {
			return false, nil
		}
		left = right
	}
	return true, nil
}

// Program is a compiled condition.
type Program struct {
	source string
	expr   Expr
	fields []string
}

// Compile parses condition into a reusable Program.
func Compile(condition string) (*Program, error) {
	expr, err := Parse(condition)
	if err != nil {
		return nil, fmt.Errorf("invalid condition %q: %w", condition, err)
	}
	return &Program{source: condition, expr: expr, fields: fieldNames(expr)}, nil
}

// Source returns the condition text the program was compiled from.
func (p *Program) Source() string { return p.source }

// Fields lists the distinct field names the condition references, in order
// of first appearance.
func (p *Program) Fields() []string { return p.fields }

// Eval evaluates the program against ctx and reduces the result to a bool.
func (p *Program) Eval(ctx EvalContext) (result bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = false, fmt.Errorf("panic evaluating %q: %v", p.source, r)
		}
	}()
	v, err := Eval(p.expr, ctx)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

func fieldNames(expr Expr) []string {
	var names []string
	seen := map[string]bool{}
	var walk func(Expr)
	walk = func(e Expr) {
		switch n := e.(type) {
		case *FieldExpr:
			if !seen[n.Name] {
				seen[n.Name] = true
				names = append(names, n.Name)
			}
		case *BinaryExpr:
			walk(n.Left)
			walk(n.Right)
		case *ArithExpr:
			walk(n.Left)
			walk(n.Right)
		case *NotExpr:
			walk(n.Expr)
		case *NegExpr:
			walk(n.Expr)
		case *ComparisonExpr:
			for _, o := range n.Operands {
				walk(o)
			}
		case *ListExpr:
			for _, it := range n.Items {
				walk(it)
			}
		}
	}
	walk(expr)
	return names
}

// -----------------------------------------------------------------------
// Evaluator
// -----------------------------------------------------------------------

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithDebug logs every evaluation (condition, bound fields, outcome) at
// debug level on logger.
func WithDebug(logger *slog.Logger) Option {
	return func(e *Evaluator) {
		e.debug = logger != nil
		e.logger = logger
	}
}

type compiled struct {
	prog *Program
	err  error
}

// Evaluator evaluates condition strings against rows, caching compiled
// programs. It is safe for concurrent use.
type Evaluator struct {
	debug  bool
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]compiled
}

// NewEvaluator returns an Evaluator.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{cache: make(map[string]compiled)}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Compile returns the cached program for condition, compiling it on first use.
func (e *Evaluator) Compile(condition string) (*Program, error) {
	e.mu.RLock()
	c, ok := e.cache[condition]
	e.mu.RUnlock()
	if ok {
		return c.prog, c.err
	}
	prog, err := Compile(condition)
	e.mu.Lock()
	e.cache[condition] = compiled{prog: prog, err: err}
	e.mu.Unlock()
	return prog, err
}

// Evaluate reports whether row satisfies condition. Any parse error,
// evaluation error or panic yields false.
func (e *Evaluator) Evaluate(condition string, row Row) (result bool) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			result, err = false, fmt.Errorf("panic: %v", r)
		}
		if e.debug {
			e.trace(condition, row, result, err)
		}
	}()
	prog, err := e.Compile(condition)
	if err != nil {
		return false
	}
	result, err = prog.Eval(row)
	return result
}

func (e *Evaluator) trace(condition string, row Row, result bool, err error) {
	attrs := []any{slog.String("condition", condition), slog.Bool("result", result)}
	if prog, cerr := e.Compile(condition); cerr == nil {
		bound := make(map[string]any, len(prog.Fields()))
		for _, f := range prog.Fields() {
			if v, ok := row[f]; ok {
				bound[f] = v
			}
		}
		attrs = append(attrs, slog.Any("fields", bound))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	e.logger.Debug("condition evaluated", attrs...)
}
