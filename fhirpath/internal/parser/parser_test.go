package parser

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/damedic/fhirpath-engine/fhirpath/internal/ast"
	"github.com/damedic/fhirpath-engine/fhirpath/internal/lexer"
)

func cmpNodes() cmp.Option {
	return cmp.Options{
		cmpopts.IgnoreFields(ast.Literal{}, "At"),
		cmpopts.IgnoreFields(ast.Path{}, "At"),
		cmpopts.IgnoreFields(ast.Call{}, "At"),
		cmpopts.IgnoreFields(ast.Index{}, "At"),
		cmpopts.IgnoreFields(ast.Binary{}, "At"),
		cmpopts.IgnoreFields(ast.Unary{}, "At"),
		cmpopts.IgnoreFields(ast.TypeOp{}, "At"),
		cmpopts.IgnoreFields(ast.Variable{}, "At"),
		cmpopts.IgnoreFields(ast.Special{}, "At"),
	}
}

func num(v string) *ast.Literal { return &ast.Literal{Kind: ast.NumberLiteral, Value: v} }
func str(v string) *ast.Literal { return &ast.Literal{Kind: ast.StringLiteral, Value: v} }
func path(target ast.Node, name string) *ast.Path {
	return &ast.Path{Target: target, Name: name}
}
func bin(op string, l, r ast.Node) *ast.Binary { return &ast.Binary{Op: op, Left: l, Right: r} }

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  ast.Node
	}{
		{
			name:  "addition",
			input: "1 + 1",
			want:  bin("+", num("1"), num("1")),
		},
		{
			name:  "multiplication binds tighter",
			input: "1 + 2 * 3",
			want:  bin("+", num("1"), bin("*", num("2"), num("3"))),
		},
		{
			name:  "left associative",
			input: "1 - 2 - 3",
			want:  bin("-", bin("-", num("1"), num("2")), num("3")),
		},
		{
			name:  "implies is right associative",
			input: "a implies b implies c",
			want:  bin("implies", path(nil, "a"), bin("implies", path(nil, "b"), path(nil, "c"))),
		},
		{
			name:  "and binds tighter than or",
			input: "a or b and c",
			want:  bin("or", path(nil, "a"), bin("and", path(nil, "b"), path(nil, "c"))),
		},
		{
			name:  "parentheses",
			input: "(1 + 2) * 3",
			want:  bin("*", bin("+", num("1"), num("2")), num("3")),
		},
		{
			name:  "path and where",
			input: "name.where(family = 'Doe').family",
			want: path(&ast.Call{
				Target: path(nil, "name"),
				Name:   "where",
				Args:   []ast.Node{bin("=", path(nil, "family"), str("Doe"))},
			}, "family"),
		},
		{
			name:  "indexer",
			input: "name[0].given",
			want:  path(&ast.Index{Target: path(nil, "name"), Index: num("0")}, "given"),
		},
		{
			name:  "unary minus binds looser than invocation",
			input: "-1.abs()",
			want:  &ast.Unary{Op: "-", Operand: &ast.Call{Target: num("1"), Name: "abs"}},
		},
		{
			name:  "type operator with qualified name",
			input: "value is FHIR.Quantity",
			want: &ast.TypeOp{
				Op:      "is",
				Operand: path(nil, "value"),
				Type:    ast.TypeName{Namespace: "FHIR", Name: "Quantity"},
			},
		},
		{
			name:  "union below additive",
			input: "a | b + c",
			want:  bin("|", path(nil, "a"), bin("+", path(nil, "b"), path(nil, "c"))),
		},
		{
			name:  "quantity literals",
			input: "4 'mg' + 2 days",
			want: bin("+",
				&ast.Literal{Kind: ast.QuantityLiteral, Value: "4", Unit: "mg"},
				&ast.Literal{Kind: ast.QuantityLiteral, Value: "2", Unit: "days", Calendar: true},
			),
		},
		{
			name:  "variables and specials",
			input: "%resource.id = $this",
			want:  bin("=", path(&ast.Variable{Name: "resource"}, "id"), &ast.Special{Name: "$this"}),
		},
		{
			name:  "empty and boolean literals",
			input: "{} | true",
			want:  bin("|", &ast.Literal{Kind: ast.EmptyLiteral}, &ast.Literal{Kind: ast.BooleanLiteral, Value: "true"}),
		},
		{
			name:  "keyword as member name",
			input: "x.`div`.contains('a')",
			want: &ast.Call{
				Target: path(path(nil, "x"), "div"),
				Name:   "contains",
				Args:   []ast.Node{str("a")},
			},
		},
		{
			name:  "membership and equality",
			input: "1 in (1 | 2) = true",
			want: bin("in", num("1"), bin("=",
				bin("|", num("1"), num("2")),
				&ast.Literal{Kind: ast.BooleanLiteral, Value: "true"},
			)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got, cmpNodes()); diff != "" {
				t.Errorf("tree mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	inputs := []string{
		"1 + 1",
		"(1 + 2) * 3",
		"1 - (2 - 3)",
		"a implies (b implies c)",
		"(a implies b) implies c",
		"Patient.name.where(family = 'Doe').given.first()",
		"name.select(given & ' ' & family)",
		"-(1 + 2)",
		"-(-1)",
		"(-1).abs()",
		"1 - -1",
		"(1 | 2 | 2 | 3).count()",
		"value is FHIR.Quantity and (value as Quantity) > 5 'mg'",
		"x.`div`.`weird name`",
		"`and`.exists()",
		`'line\nbreak\t\'quoted\''`,
		"@2015-02-04T14:34:28Z - 1 day",
		"@T14:30:00.000 > @T12:00",
		"%`my var` + %resource.id.length()",
		"aggregate($this + $total, 0)",
		"10L div 3 mod 2",
		"{}.empty() xor true",
		"a.b[0][1].c",
		"(a as B).c",
		"a is B is C",
		"(1 + 2).toString()",
		"defineVariable('v', 1).select(%v)",
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			first, err := Parse(in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			printed := first.String()
			second, err := Parse(printed)
			if err != nil {
				t.Fatalf("reparse of %q failed: %v", printed, err)
			}
			if !ast.Equal(first, second) {
				t.Errorf("round trip changed the tree:\n  in:      %s\n  printed: %s\n  again:   %s", in, printed, second.String())
			}
			if second.String() != printed {
				t.Errorf("normalized form is not stable: %q vs %q", printed, second.String())
			}
		})
	}
}

func TestNormalizedForm(t *testing.T) {
	tests := map[string]string{
		"1+1":                     "1 + 1",
		"((1 + 2)) * 3":           "(1 + 2) * 3",
		"a  and(b)":               "a and b",
		"x.where( y = 'a' )":      "x.where(y = 'a')",
		"Patient . name . family": "Patient.name.family",
		"4  'mg'":                 "4 'mg'",
	}
	for in, want := range tests {
		n, err := Parse(in)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if got := n.String(); got != want {
			t.Errorf("%q printed as %q, want %q", in, got, want)
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  *Error
	}{
		{"dangling operator", "1 +", &Error{Pos: 3, Expected: "expression", Found: "end of input"}},
		{"unclosed paren", "(1 + 2", &Error{Pos: 6, Expected: `")"`, Found: "end of input"}},
		{"missing member", "a.", &Error{Pos: 2, Expected: "identifier", Found: "end of input"}},
		{"trailing tokens", "a b", &Error{Pos: 2, Expected: "end of input", Found: `"b"`}},
		{"bad argument list", "f(1 2)", &Error{Pos: 4, Expected: `"," or ")"`, Found: `"2"`}},
		{"keyword as term", "and", &Error{Pos: 0, Expected: "expression", Found: `"and"`}},
		{"bad type name", "a is 5", &Error{Pos: 5, Expected: "identifier", Found: `"5"`}},
		{"unclosed indexer", "a[0", &Error{Pos: 3, Expected: `"]"`, Found: "end of input"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			var perr *Error
			if !errors.As(err, &perr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if diff := cmp.Diff(tt.want, perr); diff != "" {
				t.Errorf("error mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParsePassesLexErrorsThrough(t *testing.T) {
	_, err := Parse("'unterminated")
	var lerr *lexer.Error
	if !errors.As(err, &lerr) {
		t.Fatalf("expected *lexer.Error, got %v", err)
	}
	if lerr.Pos != 0 {
		t.Errorf("Pos = %d, want 0", lerr.Pos)
	}
}

func TestParseNestingLimit(t *testing.T) {
	in := ""
	for i := 0; i < maxNesting+10; i++ {
		in += "("
	}
	in += "1"
	for i := 0; i < maxNesting+10; i++ {
		in += ")"
	}
	_, err := Parse(in)
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *Error, got %v", err)
	}
}

func TestLiteralPositions(t *testing.T) {
	n, err := Parse("a + 'b'")
	if err != nil {
		t.Fatal(err)
	}
	b := n.(*ast.Binary)
	if diff := cmp.Diff(&ast.Literal{At: 4, Kind: ast.StringLiteral, Value: "b"}, b.Right); diff != "" {
		t.Errorf("literal mismatch (-want +got):\n%s", diff)
	}
	if b.Pos() != 2 {
		t.Errorf("operator Pos = %d, want 2", b.Pos())
	}
}
