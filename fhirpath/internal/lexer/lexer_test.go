package lexer

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

type tok struct {
	Kind  Kind
	Text  string
	Value string
}

func simplify(tokens []Token) []tok {
	out := make([]tok, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, tok{t.Kind, t.Text, t.Value})
	}
	return out
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []tok
	}{
		{
			name:  "arithmetic",
			input: "1 + 1",
			want: []tok{
				{Number, "1", "1"},
				{Operator, "+", ""},
				{Number, "1", "1"},
				{EOF, "", ""},
			},
		},
		{
			name:  "path with function",
			input: "Patient.name.where(family = 'Doe')",
			want: []tok{
				{Identifier, "Patient", "Patient"},
				{Delimiter, ".", ""},
				{Identifier, "name", "name"},
				{Delimiter, ".", ""},
				{Identifier, "where", "where"},
				{Delimiter, "(", ""},
				{Identifier, "family", "family"},
				{Operator, "=", ""},
				{String, "'Doe'", "Doe"},
				{Delimiter, ")", ""},
				{EOF, "", ""},
			},
		},
		{
			name:  "multi character operators",
			input: "a<=b!=c!~d>=e",
			want: []tok{
				{Identifier, "a", "a"},
				{Operator, "<=", ""},
				{Identifier, "b", "b"},
				{Operator, "!=", ""},
				{Identifier, "c", "c"},
				{Operator, "!~", ""},
				{Identifier, "d", "d"},
				{Operator, ">=", ""},
				{Identifier, "e", "e"},
				{EOF, "", ""},
			},
		},
		{
			name:  "string escapes",
			input: `'it\'s\nA\\'`,
			want: []tok{
				{String, `'it\'s\nA\\'`, "it's\nA\\"},
				{EOF, "", ""},
			},
		},
		{
			name:  "decimal and long",
			input: "3.14 42L 1.5e3",
			want: []tok{
				{Number, "3.14", "3.14"},
				{LongNumber, "42L", "42"},
				{Number, "1.5e3", "1.5e3"},
				{EOF, "", ""},
			},
		},
		{
			name:  "number followed by invocation",
			input: "1.toString()",
			want: []tok{
				{Number, "1", "1"},
				{Delimiter, ".", ""},
				{Identifier, "toString", "toString"},
				{Delimiter, "(", ""},
				{Delimiter, ")", ""},
				{EOF, "", ""},
			},
		},
		{
			name:  "temporal literals",
			input: "@2015-02-04 @2015-02-04T14:34:28.123+09:00 @T14:30 @2015T",
			want: []tok{
				{Date, "@2015-02-04", "2015-02-04"},
				{DateTime, "@2015-02-04T14:34:28.123+09:00", "2015-02-04T14:34:28.123+09:00"},
				{Time, "@T14:30", "T14:30"},
				{DateTime, "@2015T", "2015T"},
				{EOF, "", ""},
			},
		},
		{
			name:  "variables and specials",
			input: "%ucum %`my var` $this $index",
			want: []tok{
				{Variable, "%ucum", "ucum"},
				{Variable, "%`my var`", "my var"},
				{Special, "$this", "$this"},
				{Special, "$index", "$index"},
				{EOF, "", ""},
			},
		},
		{
			name:  "comments",
			input: "a // trailing\n/* block\ncomment */ b",
			want: []tok{
				{Identifier, "a", "a"},
				{Identifier, "b", "b"},
				{EOF, "", ""},
			},
		},
		{
			name:  "delimited identifier",
			input: "`div`",
			want: []tok{
				{DelimitedIdentifier, "`div`", "div"},
				{EOF, "", ""},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Tokenize(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, simplify(got)); diff != "" {
				t.Errorf("tokens mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTokenizePositions(t *testing.T) {
	got, err := Tokenize("ab + 'c'")
	if err != nil {
		t.Fatal(err)
	}
	want := []Token{
		{Kind: Identifier, Text: "ab", Value: "ab", Pos: 0, End: 2},
		{Kind: Operator, Text: "+", Pos: 3, End: 4},
		{Kind: String, Text: "'c'", Value: "c", Pos: 5, End: 8},
		{Kind: EOF, Pos: 8, End: 8},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tokens mismatch (-want +got):\n%s", diff)
	}
}

func TestTokenizeErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  *Error
	}{
		{"unterminated string", "'abc", &Error{Pos: 0, End: 4, Reason: "unterminated string"}},
		{"unterminated delimited identifier", "`abc", &Error{Pos: 0, End: 4, Reason: "unterminated delimited identifier"}},
		{"bad escape", `'a\qb'`, &Error{Pos: 2, Reason: `invalid escape sequence \q`}},
		{"malformed exponent", "1e+", &Error{Pos: 1, Reason: "malformed exponent"}},
		{"malformed date", "@20-01", &Error{Pos: 0, Reason: "malformed date literal"}},
		{"malformed time", "@T1", &Error{Pos: 0, Reason: "malformed time literal"}},
		{"stray character", "a # b", &Error{Pos: 2, Reason: `unexpected character '#'`}},
		{"unknown special", "$foo", &Error{Pos: 0, Reason: `unknown special variable "$foo"`}},
		{"unterminated comment", "a /* b", &Error{Pos: 2, Reason: "unterminated comment"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Tokenize(tt.input)
			var lexErr *Error
			if !errors.As(err, &lexErr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if diff := cmp.Diff(tt.want, lexErr, cmpopts.IgnoreFields(Error{}, "End")); diff != "" {
				t.Errorf("error mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
