// Package ast defines the immutable expression tree produced by the parser.
//
// Parentheses are not represented as nodes. Printing a tree inserts them
// wherever operator precedence requires, so that parsing the printed form
// yields a tree equal to the original.
package ast

// Node is an expression tree node.
type Node interface {
	// Pos is the byte offset of the node in the source text.
	Pos() int
	String() string
	node()
}

// LiteralKind distinguishes literal values.
type LiteralKind uint8

const (
	EmptyLiteral LiteralKind = iota
	BooleanLiteral
	StringLiteral
	NumberLiteral
	LongLiteral
	DateLiteral
	DateTimeLiteral
	TimeLiteral
	QuantityLiteral
)

var literalKindNames = [...]string{
	EmptyLiteral:    "Empty",
	BooleanLiteral:  "Boolean",
	StringLiteral:   "String",
	NumberLiteral:   "Number",
	LongLiteral:     "Long",
	DateLiteral:     "Date",
	DateTimeLiteral: "DateTime",
	TimeLiteral:     "Time",
	QuantityLiteral: "Quantity",
}

func (k LiteralKind) String() string {
	if int(k) < len(literalKindNames) {
		return literalKindNames[k]
	}
	return "Unknown"
}

// Literal is a constant value. Value holds the decoded lexical form: string
// contents without quotes, numbers as written, temporal values without '@'.
// Quantities keep their number in Value and their unit in Unit; Calendar is
// set for unquoted calendar duration keywords like `days`.
type Literal struct {
	At       int
	Kind     LiteralKind
	Value    string
	Unit     string
	Calendar bool
}

// Path navigates to the named child of Target, or of the current focus
// when Target is nil.
type Path struct {
	At     int
	Target Node
	Name   string
}

// Call invokes a function on Target, or on the current focus when Target
// is nil. Args are unevaluated; the registry decides which of them are
// evaluated eagerly and which per item.
type Call struct {
	At     int
	Target Node
	Name   string
	Args   []Node
}

// Index selects the element at position Index of Target.
type Index struct {
	At     int
	Target Node
	Index  Node
}

// Binary is an infix operator application.
type Binary struct {
	At    int
	Op    string
	Left  Node
	Right Node
}

// Unary is a prefix '+' or '-'.
type Unary struct {
	At      int
	Op      string
	Operand Node
}

// TypeOp is an `is` or `as` expression with a type specifier operand.
type TypeOp struct {
	At      int
	Op      string
	Operand Node
	Type    TypeName
}

// TypeName is a possibly qualified type identifier such as `FHIR.Patient`.
type TypeName struct {
	Namespace string
	Name      string
}

// Variable is an environment variable reference such as `%resource`.
type Variable struct {
	At   int
	Name string
}

// Special is one of `$this`, `$index` or `$total`.
type Special struct {
	At   int
	Name string
}

func (n *Literal) Pos() int  { return n.At }
func (n *Path) Pos() int     { return n.At }
func (n *Call) Pos() int     { return n.At }
func (n *Index) Pos() int    { return n.At }
func (n *Binary) Pos() int   { return n.At }
func (n *Unary) Pos() int    { return n.At }
func (n *TypeOp) Pos() int   { return n.At }
func (n *Variable) Pos() int { return n.At }
func (n *Special) Pos() int  { return n.At }

func (*Literal) node()  {}
func (*Path) node()     {}
func (*Call) node()     {}
func (*Index) node()    {}
func (*Binary) node()   {}
func (*Unary) node()    {}
func (*TypeOp) node()   {}
func (*Variable) node() {}
func (*Special) node()  {}

func (t TypeName) String() string {
	name := quoteIdentifier(t.Name)
	if t.Namespace == "" {
		return name
	}
	return quoteIdentifier(t.Namespace) + "." + name
}

// Equal reports whether two trees are structurally identical, ignoring
// source positions.
func Equal(a, b Node) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case *Literal:
		y, ok := b.(*Literal)
		return ok && x.Kind == y.Kind && x.Value == y.Value && x.Unit == y.Unit && x.Calendar == y.Calendar
	case *Path:
		y, ok := b.(*Path)
		return ok && x.Name == y.Name && Equal(x.Target, y.Target)
	case *Call:
		y, ok := b.(*Call)
		if !ok || x.Name != y.Name || len(x.Args) != len(y.Args) || !Equal(x.Target, y.Target) {
			return false
		}
		for i := range x.Args {
			if !Equal(x.Args[i], y.Args[i]) {
				return false
			}
		}
		return true
	case *Index:
		y, ok := b.(*Index)
		return ok && Equal(x.Target, y.Target) && Equal(x.Index, y.Index)
	case *Binary:
		y, ok := b.(*Binary)
		return ok && x.Op == y.Op && Equal(x.Left, y.Left) && Equal(x.Right, y.Right)
	case *Unary:
		y, ok := b.(*Unary)
		return ok && x.Op == y.Op && Equal(x.Operand, y.Operand)
	case *TypeOp:
		y, ok := b.(*TypeOp)
		return ok && x.Op == y.Op && x.Type == y.Type && Equal(x.Operand, y.Operand)
	case *Variable:
		y, ok := b.(*Variable)
		return ok && x.Name == y.Name
	case *Special:
		y, ok := b.(*Special)
		return ok && x.Name == y.Name
	}
	return false
}

// Walk calls fn for n and all of its descendants in depth-first order,
// stopping the descent below a node for which fn returns false.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	switch x := n.(type) {
	case *Path:
		Walk(x.Target, fn)
	case *Call:
		Walk(x.Target, fn)
		for _, a := range x.Args {
			Walk(a, fn)
		}
	case *Index:
		Walk(x.Target, fn)
		Walk(x.Index, fn)
	case *Binary:
		Walk(x.Left, fn)
		Walk(x.Right, fn)
	case *Unary:
		Walk(x.Operand, fn)
	case *TypeOp:
		Walk(x.Operand, fn)
	}
}
