package condition

import (
	"bytes"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"testing"
)

func row(kv ...any) Row {
	r := make(Row)
	for i := 0; i < len(kv)-1; i += 2 {
		r[kv[i].(string)] = kv[i+1]
	}
	return r
}

type evalCase struct {
	name    string
	expr    string
	row     Row
	want    bool
	wantErr bool
}

func TestProgramEval(t *testing.T) {
	cases := []evalCase{
		// Numeric comparisons
		{name: "gte int field", expr: "age >= 18", row: row("age", int64(20)), want: true},
		{name: "gt false", expr: "amount > 1000", row: row("amount", float64(500)), want: false},
		{name: "mixed int float", expr: "amount == 1000", row: row("amount", int64(1000)), want: true},
		{name: "lte equal", expr: "score <= 9.5", row: row("score", 9.5), want: true},
		{name: "chained compare true", expr: "0 < age < 65", row: row("age", int64(30)), want: true},
		{name: "chained compare false", expr: "0 < age < 65", row: row("age", int64(70)), want: false},
		// Strings
		{name: "eq string", expr: `role == "admin"`, row: row("role", "admin"), want: true},
		{name: "single quoted", expr: `role == 'admin'`, row: row("role", "admin"), want: true},
		{name: "neq string", expr: `role != "admin"`, row: row("role", "user"), want: true},
		{name: "string ordering", expr: `name < "m"`, row: row("name", "alice"), want: true},
		{name: "number vs string never equal", expr: `count == "5"`, row: row("count", int64(5)), want: false},
		// Booleans and null
		{name: "bool field eq", expr: "mfa_enabled == true", row: row("mfa_enabled", true), want: true},
		{name: "capitalised alias", expr: "mfa_enabled == True", row: row("mfa_enabled", true), want: true},
		{name: "bare field truthy", expr: "mfa_enabled", row: row("mfa_enabled", false), want: false},
		{name: "null equality", expr: "manager == null", row: row("manager", nil), want: true},
		{name: "none alias", expr: "manager != None", row: row("manager", "bob"), want: true},
		// Logic
		{name: "and both true", expr: `role == "admin" and mfa_enabled`, row: row("role", "admin", "mfa_enabled", true), want: true},
		{name: "AND upper case", expr: `role == "admin" AND mfa_enabled`, row: row("role", "admin", "mfa_enabled", false), want: false},
		{name: "or first true", expr: `role == "admin" or age > 50`, row: row("role", "admin", "age", int64(10)), want: true},
		{name: "not", expr: "not mfa_enabled", row: row("mfa_enabled", false), want: true},
		{name: "not binds tighter than and", expr: "not a and b", row: row("a", false, "b", true), want: true},
		{name: "parenthesised not", expr: "not (a and b)", row: row("a", true, "b", true), want: false},
		{name: "or short-circuits missing field", expr: "ok or missing > 1", row: row("ok", true), want: true},
		// Membership
		{name: "in list", expr: `status in ['active', 'pending']`, row: row("status", "pending"), want: true},
		{name: "in tuple", expr: "level in (1, 2)", row: row("level", int64(2)), want: true},
		{name: "not in list", expr: `status not in ["disabled"]`, row: row("status", "active"), want: true},
		{name: "substring", expr: `"adm" in role`, row: row("role", "sysadmin"), want: true},
		{name: "empty tuple", expr: "x in ()", row: row("x", int64(1)), want: false},
		// Arithmetic
		{name: "precedence", expr: "2 * 3 + 1 == 7", row: row(), want: true},
		{name: "field arithmetic", expr: "age + 1 == 21", row: row("age", int64(20)), want: true},
		{name: "float division", expr: "used / quota > 0.5", row: row("used", int64(3), "quota", int64(4)), want: true},
		{name: "unary minus", expr: "-balance > 0", row: row("balance", float64(-10)), want: true},
		{name: "string concat", expr: `first + "." + last == "ada.lovelace"`, row: row("first", "ada", "last", "lovelace"), want: true},
		{name: "backtick field", expr: "`first name` == 'Ann'", row: row("first name", "Ann"), want: true},
		{name: "accented field", expr: `prénom == "Zoë"`, row: row("prénom", "Zoë"), want: true},
		{name: "cjk field", expr: `名前 != 'x' and 年齢2 > 1`, row: row("名前", "太郎", "年齢2", int64(3)), want: true},
		// Exact numbers
		{name: "large ints distinct", expr: "id == 9007199254740993", row: row("id", int64(9007199254740992)), want: false},
		{name: "large ints ordered", expr: "id < 9007199254740993", row: row("id", int64(9007199254740992)), want: true},
		{name: "float sum not rounded", expr: "0.1 + 0.2 == 0.3", row: row(), want: false},
		{name: "int equals whole float", expr: "amount == 1000.0", row: row("amount", int64(1000)), want: true},
		{name: "uint field", expr: "n == 7", row: row("n", uint32(7)), want: true},
		// Errors
		{name: "unknown field", expr: "missing > 10", row: row("amount", float64(100)), wantErr: true},
		{name: "divide by zero", expr: "age / 0 > 1", row: row("age", int64(3)), wantErr: true},
		{name: "order string and number", expr: `age > "10"`, row: row("age", int64(20)), wantErr: true},
		{name: "order against null", expr: "age > null", row: row("age", int64(20)), wantErr: true},
		{name: "in non container", expr: "1 in age", row: row("age", int64(20)), wantErr: true},
		{name: "negate string", expr: "-name == 1", row: row("name", "x"), wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prog, err := Compile(tc.expr)
			if err != nil {
				t.Fatalf("Compile(%q) error: %v", tc.expr, err)
			}
			got, err := prog.Eval(tc.row)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil (result=%v)", got)
				}
				if got {
					t.Errorf("failed evaluation must be false")
				}
				return
			}
			if err != nil {
				t.Fatalf("Eval error: %v", err)
			}
			if got != tc.want {
				t.Errorf("Eval(%q) = %v, want %v", tc.expr, got, tc.want)
			}
		})
	}
}

func TestDivisionByZeroIsTyped(t *testing.T) {
	prog, err := Compile("x / 0")
	if err != nil {
		t.Fatal(err)
	}
	_, err = prog.Eval(row("x", 1))
	if !errors.Is(err, ErrDivisionByZero) {
		t.Errorf("got %v, want ErrDivisionByZero", err)
	}
}

func TestParse_Errors(t *testing.T) {
	cases := []string{
		`"unterminated`,
		`amount 1000`, // missing operator
		``,
		`   `,
		`(a == 1`,
		`a = 1`,
		`!a`,
		`a ==`,
		`and`,
		`[1, 2`,
		"`unterminated",
		"\xa0a == 1",
		"a\x85 == 1",
	}
	for _, expr := range cases {
		t.Run(expr, func(t *testing.T) {
			_, err := Parse(expr)
			if err == nil {
				t.Errorf("expected parse error for %q, got nil", expr)
			}
		})
	}
}

// Nothing outside the closed grammar may reach the evaluator.
func TestParse_RejectsHostLanguageSyntax(t *testing.T) {
	cases := []string{
		`len(name) > 3`,
		`__import__('os')`,
		`name.upper() == "A"`,
		`x.__class__`,
		`items[0] == 1`,
		`lambda: 1`,
		`a if b else c`,
		`open("/etc/passwd")`,
		`x; y`,
	}
	for _, expr := range cases {
		t.Run(expr, func(t *testing.T) {
			if _, err := Parse(expr); err == nil {
				t.Errorf("Parse(%q) accepted input outside the grammar", expr)
			}
		})
	}
}

func TestProgramFields(t *testing.T) {
	prog, err := Compile("a > 1 and (b in [a, c] or not d)")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a", "b", "c", "d"}
	if got := prog.Fields(); !reflect.DeepEqual(got, want) {
		t.Errorf("Fields() = %v, want %v", got, want)
	}
	if prog.Source() != "a > 1 and (b in [a, c] or not d)" {
		t.Errorf("Source() = %q", prog.Source())
	}
}

func TestEvaluatorNeverFails(t *testing.T) {
	ev := NewEvaluator()
	inputs := []string{
		"", "(", ")", "[", "]", ",", "==", "not", "not in", "1 +", "- -", "a b c",
		"((((((((", "'", "`", "1e", "1..2 > 0", "x / 0", "[] < 1", "null + 1",
		"a in b", "nested == 1", "-[1]", `"a" * 2`,
		strings.Repeat("(", 1<<20) + "1",
		strings.Repeat("(", MaxDepth+1) + "1" + strings.Repeat(")", MaxDepth+1),
		strings.Repeat("[", MaxDepth+1) + "1" + strings.Repeat("]", MaxDepth+1),
		strings.Repeat("not ", MaxDepth+1) + "b",
		strings.Repeat("-", MaxDepth+1) + "a",
		"a == 1 or " + strings.Repeat("a == 1 or ", MaxLength/10) + "b",
	}
	r := row("a", int64(1), "b", true, "nested", map[string]any{"k": 1})
	for _, in := range inputs {
		name := in
		if len(name) > 40 {
			name = name[:40] + "..."
		}
		t.Run(name, func(t *testing.T) {
			if ev.Evaluate(in, r) {
				t.Errorf("Evaluate(%q) = true, want false", in)
			}
		})
	}
}

func TestParse_Limits(t *testing.T) {
	nested := strings.Repeat("(", MaxDepth-1) + "a > 1" + strings.Repeat(")", MaxDepth-1)
	if _, err := Parse(nested); err != nil {
		t.Errorf("nesting below the limit rejected: %v", err)
	}
	deep := strings.Repeat("(", MaxDepth+1) + "a > 1" + strings.Repeat(")", MaxDepth+1)
	if _, err := Parse(deep); err == nil || !strings.Contains(err.Error(), "nested deeper") {
		t.Errorf("Parse(deep) error = %v, want nesting error", err)
	}
	long := "a == '" + strings.Repeat("x", MaxLength) + "'"
	if _, err := Parse(long); err == nil || !strings.Contains(err.Error(), "byte limit") {
		t.Errorf("Parse(long) error = %v, want length error", err)
	}
}

func TestParse_NumberLiterals(t *testing.T) {
	cases := []struct {
		in   string
		want any
	}{
		{"42", int64(42)},
		{"4.5", 4.5},
		{"1e3", 1000.0},
		{"99999999999999999999", 1e20},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			expr, err := Parse(tc.in)
			if err != nil {
				t.Fatal(err)
			}
			lit, ok := expr.(*LiteralExpr)
			if !ok || lit.Value != tc.want {
				t.Errorf("Parse(%q) = %#v, want literal %#v", tc.in, expr, tc.want)
			}
		})
	}
}

func TestEvaluatorCachesPrograms(t *testing.T) {
	ev := NewEvaluator()
	p1, err := ev.Compile("age >= 18")
	if err != nil {
		t.Fatal(err)
	}
	p2, _ := ev.Compile("age >= 18")
	if p1 != p2 {
		t.Errorf("expected cached program to be reused")
	}
	_, err1 := ev.Compile("age >=")
	_, err2 := ev.Compile("age >=")
	if err1 == nil || err1 != err2 {
		t.Errorf("expected cached compile error, got %v / %v", err1, err2)
	}
}

func TestEvaluatorDebugDoesNotChangeResult(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	quiet := NewEvaluator()
	loud := NewEvaluator(WithDebug(logger))

	for _, tc := range []struct {
		cond string
		r    Row
	}{
		{"age >= 18", row("age", int64(20))},
		{"age >= 18", row("age", int64(12))},
		{"age / 0", row("age", int64(1))},
	} {
		if quiet.Evaluate(tc.cond, tc.r) != loud.Evaluate(tc.cond, tc.r) {
			t.Errorf("debug mode changed result of %q", tc.cond)
		}
	}
	out := buf.String()
	if strings.Count(out, "condition evaluated") != 3 {
		t.Errorf("expected one debug record per evaluation, got:\n%s", out)
	}
	if !strings.Contains(out, "division by zero") {
		t.Errorf("expected evaluation error in debug output, got:\n%s", out)
	}
}
