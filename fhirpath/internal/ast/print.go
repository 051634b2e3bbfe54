package ast

import (
	"fmt"
	"strings"
)

var keywords = map[string]bool{
	"and": true, "or": true, "xor": true, "implies": true,
	"is": true, "as": true, "div": true, "mod": true,
	"in": true, "contains": true, "true": true, "false": true,
}

// IsKeyword reports whether name is reserved at the start of a term.
func IsKeyword(name string) bool {
	return keywords[name]
}

func isPlainIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

func quoteIdentifier(name string) string {
	if isPlainIdentifier(name) && !keywords[name] {
		return name
	}
	return "`" + escape(name, '`') + "`"
}

// memberName prints a name following '.', where keywords are unambiguous.
func memberName(name string) string {
	if isPlainIdentifier(name) {
		return name
	}
	return "`" + escape(name, '`') + "`"
}

// QuoteString renders s as a FHIRPath string literal.
func QuoteString(s string) string {
	return "'" + escape(s, '\'') + "'"
}

func escape(s string, quote rune) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case quote, '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\f':
			b.WriteString(`\f`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&b, `\u%04x`, r)
				continue
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (n *Literal) String() string {
	switch n.Kind {
	case EmptyLiteral:
		return "{}"
	case StringLiteral:
		return QuoteString(n.Value)
	case LongLiteral:
		return n.Value + "L"
	case DateLiteral, DateTimeLiteral, TimeLiteral:
		return "@" + n.Value
	case QuantityLiteral:
		if n.Calendar {
			return n.Value + " " + n.Unit
		}
		return n.Value + " " + QuoteString(n.Unit)
	}
	return n.Value
}

func (n *Path) String() string {
	if n.Target == nil {
		return quoteIdentifier(n.Name)
	}
	return postfixTarget(n.Target) + "." + memberName(n.Name)
}

func (n *Call) String() string {
	var b strings.Builder
	if n.Target != nil {
		b.WriteString(postfixTarget(n.Target))
		b.WriteByte('.')
		b.WriteString(memberName(n.Name))
	} else if isPlainIdentifier(n.Name) {
		b.WriteString(n.Name)
	} else {
		b.WriteString(quoteIdentifier(n.Name))
	}
	b.WriteByte('(')
	for i, a := range n.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(a.String())
	}
	b.WriteByte(')')
	return b.String()
}

func (n *Index) String() string {
	return postfixTarget(n.Target) + "[" + n.Index.String() + "]"
}

func (n *Binary) String() string {
	prec := binaryPrecedence[n.Op]
	left, right := n.Left.String(), n.Right.String()

	lp, rp := precedenceOf(n.Left), precedenceOf(n.Right)
	if BinaryAssociativity(n.Op) == RightAssociative {
		if lp <= prec {
			left = "(" + left + ")"
		}
		if rp < prec {
			right = "(" + right + ")"
		}
	} else {
		if lp < prec {
			left = "(" + left + ")"
		}
		if rp <= prec {
			right = "(" + right + ")"
		}
	}
	return left + " " + n.Op + " " + right
}

func (n *Unary) String() string {
	operand := n.Operand.String()
	if precedenceOf(n.Operand) <= PrecUnary {
		operand = "(" + operand + ")"
	}
	return n.Op + operand
}

func (n *TypeOp) String() string {
	operand := n.Operand.String()
	if precedenceOf(n.Operand) < PrecType {
		operand = "(" + operand + ")"
	}
	return operand + " " + n.Op + " " + n.Type.String()
}

func (n *Variable) String() string {
	if isPlainIdentifier(n.Name) {
		return "%" + n.Name
	}
	return "%`" + escape(n.Name, '`') + "`"
}

func (n *Special) String() string {
	return n.Name
}

func postfixTarget(n Node) string {
	if precedenceOf(n) < PrecPostfix {
		return "(" + n.String() + ")"
	}
	return n.String()
}
