// Package lexer turns FHIRPath source text into tokens.
package lexer

import "fmt"

// Kind classifies a token.
type Kind uint8

const (
	EOF Kind = iota
	Identifier
	DelimitedIdentifier
	String
	Number
	LongNumber
	Date
	DateTime
	Time
	Operator
	Delimiter
	Variable
	Special
)

var kindNames = [...]string{
	EOF:                 "end of input",
	Identifier:          "identifier",
	DelimitedIdentifier: "delimited identifier",
	String:              "string",
	Number:              "number",
	LongNumber:          "long number",
	Date:                "date",
	DateTime:            "datetime",
	Time:                "time",
	Operator:            "operator",
	Delimiter:           "delimiter",
	Variable:            "variable",
	Special:             "special variable",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Token is a lexical unit together with its source span.
//
// Text is the verbatim source slice. Value is the decoded form: string
// contents without quotes and escapes, identifier and variable names
// without delimiters, date literals without the leading '@'.
type Token struct {
	Kind  Kind
	Text  string
	Value string
	Pos   int
	End   int
}

// Is reports whether the token is an operator, delimiter or plain
// identifier with exactly the given text.
func (t Token) Is(text string) bool {
	switch t.Kind {
	case Operator, Delimiter, Identifier:
		return t.Text == text
	}
	return false
}

func (t Token) String() string {
	if t.Kind == EOF {
		return t.Kind.String()
	}
	return fmt.Sprintf("%s %q", t.Kind, t.Text)
}

// Error is returned for malformed input.
type Error struct {
	Pos    int
	End    int
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("lex error at %d: %s", e.Pos, e.Reason)
}
