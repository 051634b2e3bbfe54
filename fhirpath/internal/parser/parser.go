// Package parser builds expression trees from FHIRPath source text.
//
// Binary operators are handled by precedence climbing over the table in
// package ast. Parsing stops at the first error.
package parser

import (
	"fmt"

	"github.com/damedic/fhirpath-engine/fhirpath/internal/ast"
	"github.com/damedic/fhirpath-engine/fhirpath/internal/lexer"
)

const maxNesting = 512

// Error reports malformed grammar at a token position.
type Error struct {
	Pos      int
	Expected string
	Found    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("parse error at %d: expected %s, found %s", e.Pos, e.Expected, e.Found)
}

var calendarUnits = map[string]bool{
	"year": true, "years": true,
	"month": true, "months": true,
	"week": true, "weeks": true,
	"day": true, "days": true,
	"hour": true, "hours": true,
	"minute": true, "minutes": true,
	"second": true, "seconds": true,
	"millisecond": true, "milliseconds": true,
}

// IsCalendarUnit reports whether word is a calendar duration keyword.
func IsCalendarUnit(word string) bool {
	return calendarUnits[word]
}

type parser struct {
	tokens []lexer.Token
	pos    int
	depth  int
}

// Parse tokenizes and parses text. Lexer errors are returned unchanged.
func Parse(text string) (ast.Node, error) {
	tokens, err := lexer.Tokenize(text)
	if err != nil {
		return nil, err
	}
	return ParseTokens(tokens)
}

// ParseTokens parses a token stream terminated by an EOF token.
func ParseTokens(tokens []lexer.Token) (ast.Node, error) {
	if len(tokens) == 0 || tokens[len(tokens)-1].Kind != lexer.EOF {
		tokens = append(tokens, lexer.Token{Kind: lexer.EOF})
	}
	p := &parser{tokens: tokens}
	n, err := p.expression(ast.PrecImplies)
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.Kind != lexer.EOF {
		return nil, p.unexpected(t, "end of input")
	}
	return n, nil
}

func (p *parser) peek() lexer.Token {
	return p.tokens[p.pos]
}

func (p *parser) peekAt(n int) lexer.Token {
	if p.pos+n >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.pos+n]
}

func (p *parser) advance() lexer.Token {
	t := p.tokens[p.pos]
	if t.Kind != lexer.EOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(text string) (lexer.Token, error) {
	t := p.peek()
	if !t.Is(text) {
		return t, p.unexpected(t, fmt.Sprintf("%q", text))
	}
	return p.advance(), nil
}

func (p *parser) unexpected(t lexer.Token, expected string) *Error {
	found := t.Kind.String()
	if t.Kind != lexer.EOF {
		found = fmt.Sprintf("%q", t.Text)
	}
	return &Error{Pos: t.Pos, Expected: expected, Found: found}
}

// binaryOperator returns the operator symbol and precedence if t can
// continue an expression as an infix operator.
func binaryOperator(t lexer.Token) (string, int, bool) {
	switch t.Kind {
	case lexer.Operator, lexer.Identifier:
		prec, ok := ast.BinaryPrecedence(t.Text)
		return t.Text, prec, ok
	}
	return "", 0, false
}

func (p *parser) expression(minPrec int) (ast.Node, error) {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxNesting {
		return nil, &Error{Pos: p.peek().Pos, Expected: "shallower nesting", Found: "expression nested too deeply"}
	}

	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		op, prec, ok := binaryOperator(t)
		if !ok || prec < minPrec {
			return left, nil
		}
		p.advance()

		if op == "is" || op == "as" {
			typ, err := p.typeName()
			if err != nil {
				return nil, err
			}
			left = &ast.TypeOp{At: t.Pos, Op: op, Operand: left, Type: typ}
			continue
		}

		next := prec + 1
		if ast.BinaryAssociativity(op) == ast.RightAssociative {
			next = prec
		}
		right, err := p.expression(next)
		if err != nil {
			return nil, err
		}
		left = &ast.Binary{At: t.Pos, Op: op, Left: left, Right: right}
	}
}

func (p *parser) unary() (ast.Node, error) {
	t := p.peek()
	if t.Kind == lexer.Operator && (t.Text == "+" || t.Text == "-") {
		p.advance()
		p.depth++
		defer func() { p.depth-- }()
		if p.depth > maxNesting {
			return nil, &Error{Pos: t.Pos, Expected: "shallower nesting", Found: "expression nested too deeply"}
		}
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &ast.Unary{At: t.Pos, Op: t.Text, Operand: operand}, nil
	}
	return p.postfix()
}

func (p *parser) postfix() (ast.Node, error) {
	n, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		switch {
		case t.Is("."):
			p.advance()
			name, err := p.identifier(true)
			if err != nil {
				return nil, err
			}
			if p.peek().Is("(") {
				args, err := p.arguments()
				if err != nil {
					return nil, err
				}
				n = &ast.Call{At: name.Pos, Target: n, Name: name.Value, Args: args}
			} else {
				n = &ast.Path{At: name.Pos, Target: n, Name: name.Value}
			}
		case t.Is("["):
			p.advance()
			idx, err := p.expression(ast.PrecImplies)
			if err != nil {
				return nil, err
			}
			if _, err := p.expect("]"); err != nil {
				return nil, err
			}
			n = &ast.Index{At: t.Pos, Target: n, Index: idx}
		default:
			return n, nil
		}
	}
}

func (p *parser) term() (ast.Node, error) {
	t := p.peek()
	switch t.Kind {
	case lexer.Number:
		p.advance()
		return p.maybeQuantity(t, t.Value)
	case lexer.LongNumber:
		p.advance()
		return &ast.Literal{At: t.Pos, Kind: ast.LongLiteral, Value: t.Value}, nil
	case lexer.String:
		p.advance()
		return &ast.Literal{At: t.Pos, Kind: ast.StringLiteral, Value: t.Value}, nil
	case lexer.Date:
		p.advance()
		return &ast.Literal{At: t.Pos, Kind: ast.DateLiteral, Value: t.Value}, nil
	case lexer.DateTime:
		p.advance()
		return &ast.Literal{At: t.Pos, Kind: ast.DateTimeLiteral, Value: t.Value}, nil
	case lexer.Time:
		p.advance()
		return &ast.Literal{At: t.Pos, Kind: ast.TimeLiteral, Value: t.Value}, nil
	case lexer.Variable:
		p.advance()
		return &ast.Variable{At: t.Pos, Name: t.Value}, nil
	case lexer.Special:
		p.advance()
		return &ast.Special{At: t.Pos, Name: t.Value}, nil
	case lexer.Delimiter:
		switch t.Text {
		case "(":
			p.advance()
			inner, err := p.expression(ast.PrecImplies)
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(")"); err != nil {
				return nil, err
			}
			return inner, nil
		case "{":
			p.advance()
			if _, err := p.expect("}"); err != nil {
				return nil, err
			}
			return &ast.Literal{At: t.Pos, Kind: ast.EmptyLiteral}, nil
		}
	case lexer.Identifier:
		switch t.Text {
		case "true", "false":
			p.advance()
			return &ast.Literal{At: t.Pos, Kind: ast.BooleanLiteral, Value: t.Text}, nil
		}
		// keywords only start a term when used as a function name, e.g. `is(Integer)`
		if ast.IsKeyword(t.Text) && !p.peekAt(1).Is("(") {
			return nil, p.unexpected(t, "expression")
		}
		fallthrough
	case lexer.DelimitedIdentifier:
		p.advance()
		if p.peek().Is("(") {
			args, err := p.arguments()
			if err != nil {
				return nil, err
			}
			return &ast.Call{At: t.Pos, Name: t.Value, Args: args}, nil
		}
		return &ast.Path{At: t.Pos, Name: t.Value}, nil
	}
	return nil, p.unexpected(t, "expression")
}

func (p *parser) maybeQuantity(number lexer.Token, value string) (ast.Node, error) {
	next := p.peek()
	switch {
	case next.Kind == lexer.String:
		p.advance()
		return &ast.Literal{At: number.Pos, Kind: ast.QuantityLiteral, Value: value, Unit: next.Value}, nil
	case next.Kind == lexer.Identifier && calendarUnits[next.Text]:
		p.advance()
		return &ast.Literal{At: number.Pos, Kind: ast.QuantityLiteral, Value: value, Unit: next.Text, Calendar: true}, nil
	}
	return &ast.Literal{At: number.Pos, Kind: ast.NumberLiteral, Value: value}, nil
}

// identifier consumes a plain or delimited identifier. Keywords are
// accepted after '.', where they cannot be mistaken for operators.
func (p *parser) identifier(allowKeywords bool) (lexer.Token, error) {
	t := p.peek()
	switch t.Kind {
	case lexer.DelimitedIdentifier:
		return p.advance(), nil
	case lexer.Identifier:
		if !allowKeywords && ast.IsKeyword(t.Text) {
			break
		}
		return p.advance(), nil
	}
	return t, p.unexpected(t, "identifier")
}

func (p *parser) typeName() (ast.TypeName, error) {
	first, err := p.identifier(false)
	if err != nil {
		return ast.TypeName{}, err
	}
	if p.peek().Is(".") && isIdentifierToken(p.peekAt(1)) {
		p.advance()
		second, err := p.identifier(true)
		if err != nil {
			return ast.TypeName{}, err
		}
		return ast.TypeName{Namespace: first.Value, Name: second.Value}, nil
	}
	return ast.TypeName{Name: first.Value}, nil
}

func isIdentifierToken(t lexer.Token) bool {
	return t.Kind == lexer.Identifier || t.Kind == lexer.DelimitedIdentifier
}

func (p *parser) arguments() ([]ast.Node, error) {
	if _, err := p.expect("("); err != nil {
		return nil, err
	}
	var args []ast.Node
	if p.peek().Is(")") {
		p.advance()
		return args, nil
	}
	for {
		arg, err := p.expression(ast.PrecImplies)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		t := p.peek()
		if t.Is(")") {
			p.advance()
			return args, nil
		}
		if !t.Is(",") {
			return nil, p.unexpected(t, `"," or ")"`)
		}
		p.advance()
	}
}
