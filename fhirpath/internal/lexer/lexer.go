package lexer

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

const eof = -1

// Lexer scans FHIRPath source text one token at a time.
type Lexer struct {
	input   string
	start   int
	current int
	width   int
}

// New creates a lexer over input.
func New(input string) *Lexer {
	return &Lexer{input: input}
}

// Tokenize scans the whole input. The returned slice always ends with an
// EOF token unless an error is returned.
func Tokenize(input string) ([]Token, error) {
	l := New(input)
	var tokens []Token
	for {
		t, err := l.Next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
		if t.Kind == EOF {
			return tokens, nil
		}
	}
}

// Next returns the next token.
func (l *Lexer) Next() (Token, error) {
	if err := l.skipSpaceAndComments(); err != nil {
		return Token{}, err
	}
	l.start = l.current

	ch := l.next()
	switch {
	case ch == eof:
		return l.token(EOF, ""), nil
	case ch == '\'':
		return l.scanQuoted('\'', String)
	case ch == '`':
		return l.scanQuoted('`', DelimitedIdentifier)
	case ch == '@':
		return l.scanTemporal()
	case ch == '%':
		return l.scanVariable()
	case ch == '$':
		return l.scanSpecial()
	case isDigit(ch):
		l.backup()
		return l.scanNumber()
	case isIdentStart(ch):
		l.acceptWhile(isIdentPart)
		t := l.token(Identifier, "")
		t.Value = t.Text
		return t, nil
	}

	switch ch {
	case '(', ')', '[', ']', '{', '}', ',', '.':
		return l.token(Delimiter, ""), nil
	case '+', '-', '*', '/', '&', '|', '=', '~':
		return l.token(Operator, ""), nil
	case '<', '>':
		l.accept('=')
		return l.token(Operator, ""), nil
	case '!':
		if l.accept('=') || l.accept('~') {
			return l.token(Operator, ""), nil
		}
	}
	return Token{}, l.errorf("unexpected character %q", ch)
}

func (l *Lexer) skipSpaceAndComments() error {
	for {
		l.acceptWhile(isSpace)
		rest := l.input[l.current:]
		switch {
		case strings.HasPrefix(rest, "//"):
			end := strings.IndexByte(rest, '\n')
			if end < 0 {
				l.current = len(l.input)
			} else {
				l.current += end + 1
			}
		case strings.HasPrefix(rest, "/*"):
			end := strings.Index(rest[2:], "*/")
			if end < 0 {
				return &Error{Pos: l.current, End: len(l.input), Reason: "unterminated comment"}
			}
			l.current += end + 4
		default:
			return nil
		}
	}
}

// scanQuoted reads a string literal or delimited identifier. The opening
// quote has been consumed.
func (l *Lexer) scanQuoted(quote rune, kind Kind) (Token, error) {
	var b strings.Builder
	for {
		ch := l.next()
		switch ch {
		case eof:
			what := "string"
			if kind == DelimitedIdentifier {
				what = "delimited identifier"
			}
			return Token{}, &Error{Pos: l.start, End: l.current, Reason: "unterminated " + what}
		case quote:
			t := l.token(kind, b.String())
			return t, nil
		case '\\':
			escPos := l.current - 1
			r, err := l.scanEscape()
			if err != nil {
				err.Pos = escPos
				return Token{}, err
			}
			b.WriteRune(r)
		default:
			b.WriteRune(ch)
		}
	}
}

func (l *Lexer) scanEscape() (rune, *Error) {
	ch := l.next()
	switch ch {
	case '\'', '"', '`', '\\', '/':
		return ch, nil
	case 'f':
		return '\f', nil
	case 'n':
		return '\n', nil
	case 'r':
		return '\r', nil
	case 't':
		return '\t', nil
	case 'u':
		if l.current+4 > len(l.input) {
			return 0, &Error{End: len(l.input), Reason: "incomplete unicode escape"}
		}
		hex := l.input[l.current : l.current+4]
		v, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return 0, &Error{End: l.current + 4, Reason: "invalid unicode escape \\u" + hex}
		}
		l.current += 4
		return rune(v), nil
	case eof:
		return 0, &Error{End: l.current, Reason: "unterminated escape sequence"}
	}
	return 0, &Error{End: l.current, Reason: "invalid escape sequence \\" + string(ch)}
}

func (l *Lexer) scanNumber() (Token, error) {
	l.acceptWhile(isDigit)
	// a fraction needs a digit after the dot, otherwise the dot is an invocation
	if l.peek() == '.' && isDigit(l.peekAt(1)) {
		l.next()
		l.acceptWhile(isDigit)
	}
	if p := l.peek(); p == 'e' || p == 'E' {
		// only treat it as an exponent when it cannot start an identifier
		save := l.current
		l.next()
		l.accept('+', '-')
		if !isDigit(l.peek()) {
			if isIdentPart(l.peek()) && l.current == save+1 {
				l.current = save
				return l.numberToken()
			}
			return Token{}, &Error{Pos: save, End: l.current, Reason: "malformed exponent"}
		}
		l.acceptWhile(isDigit)
	}
	return l.numberToken()
}

func (l *Lexer) numberToken() (Token, error) {
	if l.peek() == 'L' && !isIdentPart(l.peekAt(1)) {
		text := l.input[l.start:l.current]
		if strings.ContainsAny(text, ".eE") {
			return Token{}, l.errorf("long literal must be an integer")
		}
		l.next()
		return l.token(LongNumber, text), nil
	}
	t := l.token(Number, "")
	t.Value = t.Text
	return t, nil
}

// scanTemporal reads date, datetime and time literals after '@'.
func (l *Lexer) scanTemporal() (Token, error) {
	if l.accept('T') {
		if err := l.scanClock(); err != nil {
			return Token{}, err
		}
		return l.token(Time, l.input[l.start+1:l.current]), nil
	}

	if !l.digits(4) {
		return Token{}, l.errorf("malformed date literal")
	}
	if l.peek() == '-' {
		l.next()
		if !l.digits(2) {
			return Token{}, l.errorf("malformed date literal")
		}
		if l.peek() == '-' {
			l.next()
			if !l.digits(2) {
				return Token{}, l.errorf("malformed date literal")
			}
		}
	}
	if l.peek() != 'T' {
		return l.token(Date, l.input[l.start+1:l.current]), nil
	}
	l.next()
	if isDigit(l.peek()) {
		if err := l.scanClock(); err != nil {
			return Token{}, err
		}
	}
	if err := l.scanZone(); err != nil {
		return Token{}, err
	}
	return l.token(DateTime, l.input[l.start+1:l.current]), nil
}

func (l *Lexer) scanClock() error {
	if !l.digits(2) {
		return l.errorf("malformed time literal")
	}
	if l.peek() == ':' {
		l.next()
		if !l.digits(2) {
			return l.errorf("malformed time literal")
		}
		if l.peek() == ':' {
			l.next()
			if !l.digits(2) {
				return l.errorf("malformed time literal")
			}
			if l.peek() == '.' && isDigit(l.peekAt(1)) {
				l.next()
				l.acceptWhile(isDigit)
			}
		}
	}
	return nil
}

func (l *Lexer) scanZone() error {
	switch l.peek() {
	case 'Z':
		l.next()
	case '+', '-':
		if !isDigit(l.peekAt(1)) {
			return nil
		}
		l.next()
		if !l.digits(2) || !l.accept(':') || !l.digits(2) {
			return l.errorf("malformed timezone offset")
		}
	}
	return nil
}

func (l *Lexer) scanVariable() (Token, error) {
	switch ch := l.next(); {
	case ch == '`':
		t, err := l.scanQuoted('`', Variable)
		return t, err
	case ch == '\'':
		t, err := l.scanQuoted('\'', Variable)
		return t, err
	case isIdentStart(ch):
		l.acceptWhile(isIdentPart)
		return l.token(Variable, l.input[l.start+1:l.current]), nil
	}
	return Token{}, l.errorf("malformed variable name")
}

func (l *Lexer) scanSpecial() (Token, error) {
	l.acceptWhile(isIdentPart)
	switch name := l.input[l.start:l.current]; name {
	case "$this", "$index", "$total":
		return l.token(Special, name), nil
	default:
		return Token{}, l.errorf("unknown special variable %q", name)
	}
}

func (l *Lexer) token(kind Kind, value string) Token {
	return Token{
		Kind:  kind,
		Text:  l.input[l.start:l.current],
		Value: value,
		Pos:   l.start,
		End:   l.current,
	}
}

func (l *Lexer) errorf(reason string, args ...any) *Error {
	return &Error{Pos: l.start, End: l.current, Reason: fmt.Sprintf(reason, args...)}
}

func (l *Lexer) next() rune {
	if l.current >= len(l.input) {
		l.width = 0
		return eof
	}
	r, w := utf8.DecodeRuneInString(l.input[l.current:])
	l.width = w
	l.current += w
	return r
}

func (l *Lexer) backup() {
	l.current -= l.width
}

func (l *Lexer) peek() rune {
	return l.peekAt(0)
}

// peekAt returns the n-th rune ahead, n counting in bytes for ASCII lookahead.
func (l *Lexer) peekAt(n int) rune {
	i := l.current + n
	if i >= len(l.input) {
		return eof
	}
	r, _ := utf8.DecodeRuneInString(l.input[i:])
	return r
}

func (l *Lexer) accept(valid ...rune) bool {
	p := l.peek()
	for _, r := range valid {
		if p == r {
			l.next()
			return true
		}
	}
	return false
}

func (l *Lexer) acceptWhile(f func(rune) bool) {
	for f(l.peek()) {
		l.next()
	}
}

func (l *Lexer) digits(n int) bool {
	for i := 0; i < n; i++ {
		if !isDigit(l.peek()) {
			return false
		}
		l.next()
	}
	return true
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func isIdentStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isIdentPart(r rune) bool { return isIdentStart(r) || isDigit(r) }

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\f'
}
