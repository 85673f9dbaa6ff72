package condition

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxLength is the longest condition, in bytes, the parser accepts.
	MaxLength = 4096
	// MaxDepth bounds nesting of parentheses, lists, not and unary minus.
	MaxDepth = 128
)

// -----------------------------------------------------------------------
// AST nodes
// -----------------------------------------------------------------------

// Expr is the common interface for all AST nodes.
type Expr interface {
	exprNode()
}

// BinaryExpr represents "and" / "or".
type BinaryExpr struct {
	Op    string // "and" | "or"
	Left  Expr
	Right Expr
}

func (*BinaryExpr) exprNode() {}

// NotExpr represents not <expr>.
type NotExpr struct {
	Expr Expr
}

func (*NotExpr) exprNode() {}

// ComparisonExpr represents a comparison chain: a < b <= c is
// Operands [a b c], Ops [< <=].
type ComparisonExpr struct {
	Operands []Expr
	Ops      []Operator
}

func (*ComparisonExpr) exprNode() {}

// ArithExpr represents + - * /.
type ArithExpr struct {
	Op    Operator
	Left  Expr
	Right Expr
}

func (*ArithExpr) exprNode() {}

// NegExpr represents unary minus.
type NegExpr struct {
	Expr Expr
}

func (*NegExpr) exprNode() {}

// LiteralExpr holds a pre-parsed constant: int64, float64, string, bool or nil.
type LiteralExpr struct {
	Value any
}

func (*LiteralExpr) exprNode() {}

// FieldExpr references a row field by its exact name.
type FieldExpr struct {
	Name string
}

func (*FieldExpr) exprNode() {}

// ListExpr is a [a, b] or (a, b) literal, only useful on the right of "in".
type ListExpr struct {
	Items []Expr
}

func (*ListExpr) exprNode() {}

// -----------------------------------------------------------------------
// Tokenizer
// -----------------------------------------------------------------------

type tokenKind int

const (
	tokWord   tokenKind = iota // identifier or keyword
	tokField                   // `quoted field name`
	tokOp                      // == != >= <= > < + - * /
	tokString                  // "…" or '…'
	tokNumber                  // 42 | 3.14 | 1e3
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
	tokEOF
)

type token struct {
	kind tokenKind
	val  string
	pos  int
}

func tokenize(expr string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(expr) {
		ch := expr[i]
		r, width := utf8.DecodeRuneInString(expr[i:])
		if unicode.IsSpace(r) {
			i += width
			continue
		}
		switch ch {
		case '(':
			tokens = append(tokens, token{tokLParen, "(", i})
			i++
			continue
		case ')':
			tokens = append(tokens, token{tokRParen, ")", i})
			i++
			continue
		case '[':
			tokens = append(tokens, token{tokLBracket, "[", i})
			i++
			continue
		case ']':
			tokens = append(tokens, token{tokRBracket, "]", i})
			i++
			continue
		case ',':
			tokens = append(tokens, token{tokComma, ",", i})
			i++
			continue
		}
		// Comparison operators. A lone '=' or '!' is not part of the grammar.
		if ch == '=' || ch == '!' || ch == '<' || ch == '>' {
			if i+1 < len(expr) && expr[i+1] == '=' {
				tokens = append(tokens, token{tokOp, expr[i : i+2], i})
				i += 2
				continue
			}
			if ch == '=' || ch == '!' {
				return nil, fmt.Errorf("unexpected operator %q at position %d", ch, i)
			}
			tokens = append(tokens, token{tokOp, string(ch), i})
			i++
			continue
		}
		// Arithmetic. Unary minus is resolved by the parser.
		if ch == '+' || ch == '-' || ch == '*' || ch == '/' {
			tokens = append(tokens, token{tokOp, string(ch), i})
			i++
			continue
		}
		if ch == '"' || ch == '\'' {
			quote := ch
			j := i + 1
			for j < len(expr) && expr[j] != quote {
				if expr[j] == '\\' {
					j++ // skip escaped char
				}
				j++
			}
			if j >= len(expr) {
				return nil, fmt.Errorf("unterminated string starting at position %d", i)
			}
			inner := expr[i+1 : j]
			inner = strings.ReplaceAll(inner, `\"`, `"`)
			inner = strings.ReplaceAll(inner, `\'`, `'`)
			inner = strings.ReplaceAll(inner, `\\`, `\`)
			tokens = append(tokens, token{tokString, inner, i})
			i = j + 1
			continue
		}
		if ch == '`' {
			j := strings.IndexByte(expr[i+1:], '`')
			if j < 0 {
				return nil, fmt.Errorf("unterminated field name starting at position %d", i)
			}
			name := expr[i+1 : i+1+j]
			if name == "" {
				return nil, fmt.Errorf("empty field name at position %d", i)
			}
			tokens = append(tokens, token{tokField, name, i})
			i += j + 2
			continue
		}
		if isDigit(ch) || (ch == '.' && i+1 < len(expr) && isDigit(expr[i+1])) {
			j := i
			for j < len(expr) && (isDigit(expr[j]) || expr[j] == '.') {
				j++
			}
			if j < len(expr) && (expr[j] == 'e' || expr[j] == 'E') {
				k := j + 1
				if k < len(expr) && (expr[k] == '+' || expr[k] == '-') {
					k++
				}
				if k < len(expr) && isDigit(expr[k]) {
					for k < len(expr) && isDigit(expr[k]) {
						k++
					}
					j = k
				}
			}
			tokens = append(tokens, token{tokNumber, expr[i:j], i})
			i = j
			continue
		}
		// Words: field names and the keywords and/or/not/in/true/false/null.
		if isWordStart(r) {
			j := i + width
			for j < len(expr) {
				next, w := utf8.DecodeRuneInString(expr[j:])
				if !isWordStart(next) && !unicode.IsDigit(next) {
					break
				}
				j += w
			}
			tokens = append(tokens, token{tokWord, expr[i:j], i})
			i = j
			continue
		}
		return nil, fmt.Errorf("unexpected character %q at position %d", r, i)
	}
	tokens = append(tokens, token{tokEOF, "", len(expr)})
	return tokens, nil
}

func isDigit(ch byte) bool { return '0' <= ch && ch <= '9' }

// isWordStart accepts letters in any script; utf8.RuneError never matches.
func isWordStart(r rune) bool {
	return r == '_' || (r != utf8.RuneError && unicode.IsLetter(r))
}

// keywords can never be used as bare field names; quote them with backticks.
var keywords = map[string]struct{}{
	"and": {}, "or": {}, "not": {}, "in": {},
	"true": {}, "false": {}, "null": {}, "none": {},
}

func isKeyword(t token, kw string) bool {
	return t.kind == tokWord && strings.ToLower(t.val) == kw
}

// -----------------------------------------------------------------------
// Recursive-descent parser
// -----------------------------------------------------------------------

type parser struct {
	tokens []token
	pos    int
	depth  int
}

// enter guards one level of recursion; every successful enter is paired
// with a leave.
func (p *parser) enter() error {
	if p.depth >= MaxDepth {
		return fmt.Errorf("expression nested deeper than %d levels at %s", MaxDepth, describe(p.peek()))
	}
	p.depth++
	return nil
}

func (p *parser) leave() { p.depth-- }

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) peekAt(n int) token {
	if p.pos+n >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.pos+n]
}

func (p *parser) consume() token {
	t := p.tokens[p.pos]
	p.pos++
	return t
}

func (p *parser) expect(kind tokenKind, val string) error {
	t := p.peek()
	if t.kind != kind {
		return fmt.Errorf("expected %q but got %s", val, describe(t))
	}
	p.consume()
	return nil
}

func describe(t token) string {
	if t.kind == tokEOF {
		return "end of expression"
	}
	return fmt.Sprintf("%q at position %d", t.val, t.pos)
}

// Parse parses an expression string into an AST.
func Parse(expr string) (Expr, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("empty expression")
	}
	if len(expr) > MaxLength {
		return nil, fmt.Errorf("expression is %d bytes, longer than the %d byte limit", len(expr), MaxLength)
	}
	tokens, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("unexpected token %s after expression", describe(p.peek()))
	}
	return node, nil
}

// or_expr = and_expr ( "or" and_expr )*
func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for isKeyword(p.peek(), "or") {
		p.consume()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "or", Left: left, Right: right}
	}
	return left, nil
}

// and_expr = not_expr ( "and" not_expr )*
func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for isKeyword(p.peek(), "and") {
		p.consume()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "and", Left: left, Right: right}
	}
	return left, nil
}

// not_expr = "not" not_expr | comparison
func (p *parser) parseNot() (Expr, error) {
	if isKeyword(p.peek(), "not") {
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		p.consume()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &NotExpr{Expr: inner}, nil
	}
	return p.parseComparison()
}

// comparison = sum ( comp_op sum )*
func (p *parser) parseComparison() (Expr, error) {
	first, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	cmp := &ComparisonExpr{Operands: []Expr{first}}
	for {
		op, ok := p.comparisonOp()
		if !ok {
			break
		}
		right, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		cmp.Ops = append(cmp.Ops, op)
		cmp.Operands = append(cmp.Operands, right)
	}
	if len(cmp.Ops) == 0 {
		return first, nil
	}
	return cmp, nil
}

// comparisonOp consumes the next comparison operator if there is one.
func (p *parser) comparisonOp() (Operator, bool) {
	t := p.peek()
	switch {
	case t.kind == tokOp && isComparison(Operator(t.val)):
		p.consume()
		return Operator(t.val), true
	case isKeyword(t, "in"):
		p.consume()
		return OpIn, true
	case isKeyword(t, "not") && isKeyword(p.peekAt(1), "in"):
		p.consume()
		p.consume()
		return OpNotIn, true
	}
	return "", false
}

// sum = term ( ("+" | "-") term )*
func (p *parser) parseSum() (Expr, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for t := p.peek(); t.kind == tokOp && (t.val == "+" || t.val == "-"); t = p.peek() {
		p.consume()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &ArithExpr{Op: Operator(t.val), Left: left, Right: right}
	}
	return left, nil
}

// term = unary ( ("*" | "/") unary )*
func (p *parser) parseTerm() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for t := p.peek(); t.kind == tokOp && (t.val == "*" || t.val == "/"); t = p.peek() {
		p.consume()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &ArithExpr{Op: Operator(t.val), Left: left, Right: right}
	}
	return left, nil
}

// unary = "-" unary | primary
func (p *parser) parseUnary() (Expr, error) {
	if t := p.peek(); t.kind == tokOp && t.val == "-" {
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		p.consume()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &NegExpr{Expr: inner}, nil
	}
	return p.parsePrimary()
}

// primary = literal | field | "(" or_expr ")" | "(" list ")" | "[" list "]"
func (p *parser) parsePrimary() (Expr, error) {
	t := p.peek()
	switch t.kind {
	case tokString:
		p.consume()
		return &LiteralExpr{Value: t.val}, nil
	case tokNumber:
		p.consume()
		if !strings.ContainsAny(t.val, ".eE") {
			if n, err := strconv.ParseInt(t.val, 10, 64); err == nil {
				return &LiteralExpr{Value: n}, nil
			}
		}
		f, err := strconv.ParseFloat(t.val, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at position %d", t.val, t.pos)
		}
		return &LiteralExpr{Value: f}, nil
	case tokField:
		p.consume()
		return &FieldExpr{Name: t.val}, nil
	case tokWord:
		p.consume()
		switch strings.ToLower(t.val) {
		case "true":
			return &LiteralExpr{Value: true}, nil
		case "false":
			return &LiteralExpr{Value: false}, nil
		case "null", "none":
			return &LiteralExpr{Value: nil}, nil
		}
		if _, reserved := keywords[strings.ToLower(t.val)]; reserved {
			return nil, fmt.Errorf("unexpected keyword %s", describe(t))
		}
		if next := p.peek(); next.kind == tokLParen {
			return nil, fmt.Errorf("function calls are not supported: %s", describe(t))
		}
		return &FieldExpr{Name: t.val}, nil
	case tokLBracket:
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		p.consume()
		items, err := p.parseItems(tokRBracket)
		if err != nil {
			return nil, err
		}
		return &ListExpr{Items: items}, nil
	case tokLParen:
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		p.consume()
		if p.peek().kind == tokRParen {
			p.consume()
			return &ListExpr{}, nil
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind == tokComma {
			// Tuple literal: (a, b, c)
			p.consume()
			rest, err := p.parseItems(tokRParen)
			if err != nil {
				return nil, err
			}
			return &ListExpr{Items: append([]Expr{inner}, rest...)}, nil
		}
		if err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		return inner, nil
	default:
		return nil, fmt.Errorf("expected operand, got %s", describe(t))
	}
}

// parseItems reads comma separated expressions up to the closing token.
// A trailing comma is allowed.
func (p *parser) parseItems(closing tokenKind) ([]Expr, error) {
	var items []Expr
	for p.peek().kind != closing {
		item, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if p.peek().kind != tokComma {
			break
		}
		p.consume()
	}
	closeVal := ")"
	if closing == tokRBracket {
		closeVal = "]"
	}
	if err := p.expect(closing, closeVal); err != nil {
		return nil, err
	}
	return items, nil
}
