package condition

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Operator is a binary operator token.
type Operator string

const (
	OpEq    Operator = "=="
	OpNeq   Operator = "!="
	OpGt    Operator = ">"
	OpGte   Operator = ">="
	OpLt    Operator = "<"
	OpLte   Operator = "<="
	OpIn    Operator = "in"
	OpNotIn Operator = "not in"
	OpAdd   Operator = "+"
	OpSub   Operator = "-"
	OpMul   Operator = "*"
	OpDiv   Operator = "/"
)

// ErrDivisionByZero is returned when the right operand of "/" is zero.
var ErrDivisionByZero = errors.New("division by zero")

type binaryFunc func(left, right any) (any, error)

// operators is the complete set of binary operations an expression can
// perform. The parser only ever produces tokens present here.
var operators = map[Operator]binaryFunc{
	OpEq:  func(l, r any) (any, error) { return equal(l, r), nil },
	OpNeq: func(l, r any) (any, error) { return !equal(l, r), nil },
	OpLt:  ordered(OpLt, func(c int) bool { return c < 0 }),
	OpLte: ordered(OpLte, func(c int) bool { return c <= 0 }),
	OpGt:  ordered(OpGt, func(c int) bool { return c > 0 }),
	OpGte: ordered(OpGte, func(c int) bool { return c >= 0 }),
	OpIn:  func(l, r any) (any, error) { return membership(l, r) },
	OpNotIn: func(l, r any) (any, error) {
		ok, err := membership(l, r)
		return !ok, err
	},
	OpAdd: add,
	OpSub: arith(OpSub, func(a, b float64) (float64, error) { return a - b, nil }),
	OpMul: arith(OpMul, func(a, b float64) (float64, error) { return a * b, nil }),
	OpDiv: arith(OpDiv, func(a, b float64) (float64, error) {
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return a / b, nil
	}),
}

func isComparison(op Operator) bool {
	switch op {
	case OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte:
		return true
	}
	return false
}

// apply looks op up in the operator table.
func apply(op Operator, left, right any) (any, error) {
	fn, ok := operators[op]
	if !ok {
		return nil, fmt.Errorf("unknown operator: %s", op)
	}
	return fn(left, right)
}

// toFloat64 coerces a numeric value to float64. Bools are not numbers here.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// toInt64 reports v as an int64 when it is an integer type that fits.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), uint64(n) <= math.MaxInt64
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), n <= math.MaxInt64
	}
	return 0, false
}

// compareNumbers orders two numbers. Integers compare exactly; anything
// else compares as float64.
func compareNumbers(left, right any) (int, bool) {
	if li, ok := toInt64(left); ok {
		if ri, ok := toInt64(right); ok {
			switch {
			case li < ri:
				return -1, true
			case li > ri:
				return 1, true
			}
			return 0, true
		}
	}
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if !lok || !rok {
		return 0, false
	}
	switch {
	case lf < rf:
		return -1, true
	case lf > rf:
		return 1, true
	case lf == rf:
		return 0, true
	}
	// NaN is unordered.
	return 2, true
}

// equal compares numbers by value and everything else by type and value.
// Values of unrelated types are never equal.
func equal(left, right any) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	if c, ok := compareNumbers(left, right); ok {
		return c == 0
	}
	switch l := left.(type) {
	case string:
		r, ok := right.(string)
		return ok && l == r
	case bool:
		r, ok := right.(bool)
		return ok && l == r
	case []any:
		r, ok := right.([]any)
		if !ok || len(l) != len(r) {
			return false
		}
		for i := range l {
			if !equal(l[i], r[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// ordered builds an ordering operator over numbers or over strings.
func ordered(op Operator, test func(int) bool) binaryFunc {
	return func(left, right any) (any, error) {
		if c, ok := compareNumbers(left, right); ok {
			if c == 2 {
				return false, nil
			}
			return test(c), nil
		}
		ls, lok := left.(string)
		rs, rok := right.(string)
		if lok && rok {
			return test(strings.Compare(ls, rs)), nil
		}
		return nil, fmt.Errorf("operator %s not supported between %s and %s", op, typeName(left), typeName(right))
	}
}

// membership implements "in": element of a list or substring of a string.
func membership(item, container any) (bool, error) {
	switch c := container.(type) {
	case []any:
		for _, el := range c {
			if equal(item, el) {
				return true, nil
			}
		}
		return false, nil
	case string:
		s, ok := item.(string)
		if !ok {
			return false, fmt.Errorf("'in <string>' requires string as left operand, not %s", typeName(item))
		}
		return strings.Contains(c, s), nil
	}
	return false, fmt.Errorf("argument of type %s is not a container", typeName(container))
}

func add(left, right any) (any, error) {
	if ls, ok := left.(string); ok {
		if rs, ok := right.(string); ok {
			return ls + rs, nil
		}
	}
	return arith(OpAdd, func(a, b float64) (float64, error) { return a + b, nil })(left, right)
}

func arith(op Operator, fn func(a, b float64) (float64, error)) binaryFunc {
	return func(left, right any) (any, error) {
		lf, lok := toFloat64(left)
		rf, rok := toFloat64(right)
		if !lok || !rok {
			return nil, fmt.Errorf("operator %s requires numeric operands, got %s and %s", op, typeName(left), typeName(right))
		}
		return fn(lf, rf)
	}
}

func negate(v any) (any, error) {
	f, ok := toFloat64(v)
	if !ok {
		return nil, fmt.Errorf("bad operand type for unary -: %s", typeName(v))
	}
	return -f, nil
}

// truthy maps a value to a boolean: null, false, zero, "" and empty lists
// are false, everything else is true.
func truthy(v any) bool {
	if v == nil {
		return false
	}
	if f, ok := toFloat64(v); ok {
		return f != 0
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case []any:
		return "list"
	}
	if _, ok := toFloat64(v); ok {
		return "number"
	}
	return fmt.Sprintf("%T", v)
}
