// Package expr parses and evaluates price expressions over 18-decimal
// fixed-point values. An expression is a sequence of assignment
// statements followed by one final expression:
//
//	spread = bid - ask;
//	mid + spread / 2
//
// Identifiers resolve against caller-supplied symbols; characters that
// would otherwise terminate an identifier ('[', ']', '-', '/', spaces)
// can be escaped with a backslash, so exotic price names like
// USD\-\[bwBTC\/ETH\ SLP\] work as symbols.
package expr

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"price-feed-oracle/internal/decimals"
)

// UnresolvedSymbolError reports an identifier with no bound value.
type UnresolvedSymbolError struct {
	Symbol string
}

func (e *UnresolvedSymbolError) Error() string {
	return fmt.Sprintf("unresolved symbol %q", e.Symbol)
}

// EvaluationError reports arithmetic that cannot produce a value,
// such as division by zero.
type EvaluationError struct {
	Reason string
}

func (e *EvaluationError) Error() string {
	return "evaluation failed: " + e.Reason
}

type nodeKind int

const (
	nodeNumber nodeKind = iota
	nodeSymbol
	nodeUnary
	nodeBinary
	nodeCall
)

type node struct {
	kind   nodeKind
	value  *big.Int // nodeNumber, 18 decimals
	symbol string   // nodeSymbol
	op     byte     // nodeUnary, nodeBinary
	left   *node
	right  *node
	fn     string // nodeCall
	args   []*node
}

type statement struct {
	name string
	expr *node
}

// Expression is a parsed, reusable price expression.
type Expression struct {
	statements []statement
	final      *node
	symbols    []string
}

// Parse compiles src. Syntax errors surface here so a malformed
// expression fails at construction, not at pricing time.
func Parse(src string) (*Expression, error) {
	p := &parser{lexer: newLexer(src)}
	if err := p.next(); err != nil {
		return nil, err
	}

	expr := &Expression{}
	assigned := map[string]bool{}
	free := map[string]bool{}

	collect := func(n *node) {
		walk(n, func(n *node) {
			if n.kind == nodeSymbol && !assigned[n.symbol] {
				free[n.symbol] = true
			}
		})
	}

	for {
		start := p.tok
		n, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.tok.kind == tokAssign {
			if start.kind != tokIdent || n.kind != nodeSymbol {
				return nil, fmt.Errorf("assignment target must be an identifier")
			}
			if err := p.next(); err != nil {
				return nil, err
			}
			value, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if p.tok.kind != tokSemicolon {
				return nil, fmt.Errorf("expected ';' after assignment to %q", n.symbol)
			}
			if err := p.next(); err != nil {
				return nil, err
			}
			collect(value)
			expr.statements = append(expr.statements, statement{name: n.symbol, expr: value})
			assigned[n.symbol] = true
			continue
		}
		if p.tok.kind != tokEOF {
			return nil, fmt.Errorf("unexpected %q after expression", p.tok.text)
		}
		collect(n)
		expr.final = n
		break
	}

	for symbol := range free {
		expr.symbols = append(expr.symbols, symbol)
	}
	sort.Strings(expr.symbols)
	return expr, nil
}

// Identifiers returns the free symbols the expression needs bound,
// sorted.
func (e *Expression) Identifiers() []string {
	out := make([]string, len(e.symbols))
	copy(out, e.symbols)
	return out
}

// Evaluate computes the expression over 18-decimal fixed-point
// symbol values.
func (e *Expression) Evaluate(symbols map[string]*big.Int) (*big.Int, error) {
	scope := make(map[string]*big.Int, len(symbols)+len(e.statements))
	for name, value := range symbols {
		scope[name] = value
	}
	for _, stmt := range e.statements {
		value, err := eval(stmt.expr, scope)
		if err != nil {
			return nil, err
		}
		scope[stmt.name] = value
	}
	return eval(e.final, scope)
}

func walk(n *node, visit func(*node)) {
	if n == nil {
		return
	}
	visit(n)
	walk(n.left, visit)
	walk(n.right, visit)
	for _, arg := range n.args {
		walk(arg, visit)
	}
}

var one18 = decimals.Pow10(18)

func eval(n *node, scope map[string]*big.Int) (*big.Int, error) {
	switch n.kind {
	case nodeNumber:
		return new(big.Int).Set(n.value), nil
	case nodeSymbol:
		value, ok := scope[n.symbol]
		if !ok || value == nil {
			return nil, &UnresolvedSymbolError{Symbol: n.symbol}
		}
		return value, nil
	case nodeUnary:
		value, err := eval(n.left, scope)
		if err != nil {
			return nil, err
		}
		return new(big.Int).Neg(value), nil
	case nodeBinary:
		left, err := eval(n.left, scope)
		if err != nil {
			return nil, err
		}
		right, err := eval(n.right, scope)
		if err != nil {
			return nil, err
		}
		switch n.op {
		case '+':
			return new(big.Int).Add(left, right), nil
		case '-':
			return new(big.Int).Sub(left, right), nil
		case '*':
			return decimals.DivRound(new(big.Int).Mul(left, right), one18), nil
		case '/':
			if right.Sign() == 0 {
				return nil, &EvaluationError{Reason: "division by zero"}
			}
			return decimals.DivRound(new(big.Int).Mul(left, one18), right), nil
		}
	case nodeCall:
		args := make([]*big.Int, len(n.args))
		for i, argNode := range n.args {
			value, err := eval(argNode, scope)
			if err != nil {
				return nil, err
			}
			args[i] = value
		}
		return callFn(n.fn, args)
	}
	return nil, &EvaluationError{Reason: "malformed expression node"}
}

func callFn(fn string, args []*big.Int) (*big.Int, error) {
	if len(args) == 0 {
		return nil, &EvaluationError{Reason: fn + " needs at least one argument"}
	}
	switch fn {
	case "median":
		sorted := make([]*big.Int, len(args))
		copy(sorted, args)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Cmp(sorted[j]) < 0 })
		mid := len(sorted) / 2
		if len(sorted)%2 == 1 {
			return new(big.Int).Set(sorted[mid]), nil
		}
		sum := new(big.Int).Add(sorted[mid-1], sorted[mid])
		return decimals.DivRound(sum, big.NewInt(2)), nil
	case "mean":
		sum := new(big.Int)
		for _, arg := range args {
			sum.Add(sum, arg)
		}
		return decimals.DivRound(sum, big.NewInt(int64(len(args)))), nil
	case "min":
		best := args[0]
		for _, arg := range args[1:] {
			if arg.Cmp(best) < 0 {
				best = arg
			}
		}
		return new(big.Int).Set(best), nil
	case "max":
		best := args[0]
		for _, arg := range args[1:] {
			if arg.Cmp(best) > 0 {
				best = arg
			}
		}
		return new(big.Int).Set(best), nil
	case "round":
		if len(args) != 1 {
			return nil, &EvaluationError{Reason: "round takes exactly one argument"}
		}
		// Round to whole units, keeping the 18-decimal scale.
		units := decimals.DivRound(args[0], one18)
		return units.Mul(units, one18), nil
	}
	return nil, &EvaluationError{Reason: "unknown function " + fn}
}

// --- parsing ---

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
	tokAssign
	tokSemicolon
)

type token struct {
	kind tokenKind
	text string
	num  *big.Int
}

type lexer struct {
	src string
	pos int
}

func newLexer(src string) *lexer { return &lexer{src: src} }

func (l *lexer) lex() (token, error) {
	for l.pos < len(l.src) && isSpace(l.src[l.pos]) {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF}, nil
	}

	c := l.src[l.pos]
	switch {
	case c >= '0' && c <= '9' || c == '.':
		start := l.pos
		for l.pos < len(l.src) && (l.src[l.pos] >= '0' && l.src[l.pos] <= '9' || l.src[l.pos] == '.') {
			l.pos++
		}
		text := l.src[start:l.pos]
		d, err := decimal.NewFromString(text)
		if err != nil {
			return token{}, fmt.Errorf("malformed number %q", text)
		}
		return token{kind: tokNumber, text: text, num: d.Shift(18).BigInt()}, nil
	case isIdentStart(c) || c == '\\':
		var sb strings.Builder
		for l.pos < len(l.src) {
			if l.src[l.pos] == '\\' && l.pos+1 < len(l.src) {
				sb.WriteByte(l.src[l.pos+1])
				l.pos += 2
				continue
			}
			if !isIdentPart(l.src[l.pos]) {
				break
			}
			sb.WriteByte(l.src[l.pos])
			l.pos++
		}
		return token{kind: tokIdent, text: sb.String()}, nil
	}

	l.pos++
	switch c {
	case '+', '-', '*', '/':
		return token{kind: tokOp, text: string(c)}, nil
	case '(':
		return token{kind: tokLParen, text: "("}, nil
	case ')':
		return token{kind: tokRParen, text: ")"}, nil
	case ',':
		return token{kind: tokComma, text: ","}, nil
	case '=':
		return token{kind: tokAssign, text: "="}, nil
	case ';':
		return token{kind: tokSemicolon, text: ";"}, nil
	}
	return token{}, fmt.Errorf("unexpected character %q", string(c))
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }

func isIdentStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}

type parser struct {
	lexer *lexer
	tok   token
}

func (p *parser) next() error {
	tok, err := p.lexer.lex()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) parseExpr() (*node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && (p.tok.text == "+" || p.tok.text == "-") {
		op := p.tok.text[0]
		if err := p.next(); err != nil {
			return nil, err
		}
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &node{kind: nodeBinary, op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseTerm() (*node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && (p.tok.text == "*" || p.tok.text == "/") {
		op := p.tok.text[0]
		if err := p.next(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &node{kind: nodeBinary, op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (*node, error) {
	if p.tok.kind == tokOp && p.tok.text == "-" {
		if err := p.next(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &node{kind: nodeUnary, op: '-', left: operand}, nil
	}
	return p.parsePrimary()
}

func isFunction(name string) bool {
	switch name {
	case "median", "mean", "min", "max", "round":
		return true
	}
	return false
}

func (p *parser) parsePrimary() (*node, error) {
	switch p.tok.kind {
	case tokNumber:
		n := &node{kind: nodeNumber, value: p.tok.num}
		return n, p.next()
	case tokIdent:
		name := p.tok.text
		if err := p.next(); err != nil {
			return nil, err
		}
		if p.tok.kind == tokLParen && isFunction(name) {
			return p.parseCall(name)
		}
		return &node{kind: nodeSymbol, symbol: name}, nil
	case tokLParen:
		if err := p.next(); err != nil {
			return nil, err
		}
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, fmt.Errorf("expected ')', got %q", p.tok.text)
		}
		return inner, p.next()
	}
	return nil, fmt.Errorf("unexpected token %q", p.tok.text)
}

func (p *parser) parseCall(name string) (*node, error) {
	// Consume '('.
	if err := p.next(); err != nil {
		return nil, err
	}
	call := &node{kind: nodeCall, fn: name}
	for {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		call.args = append(call.args, arg)
		if p.tok.kind == tokComma {
			if err := p.next(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if p.tok.kind != tokRParen {
		return nil, fmt.Errorf("expected ')' closing %s(...), got %q", name, p.tok.text)
	}
	return call, p.next()
}
