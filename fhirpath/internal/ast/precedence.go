package ast

// Associativity of a binary operator.
type Associativity uint8

const (
	LeftAssociative Associativity = iota
	RightAssociative
)

// Precedence levels, higher binds tighter.
const (
	PrecImplies = iota + 1
	PrecOr
	PrecAnd
	PrecMembership
	PrecEquality
	PrecInequality
	PrecUnion
	PrecType
	PrecAdditive
	PrecMultiplicative
	PrecUnary
	PrecPostfix
)

var binaryPrecedence = map[string]int{
	"implies":  PrecImplies,
	"or":       PrecOr,
	"xor":      PrecOr,
	"and":      PrecAnd,
	"in":       PrecMembership,
	"contains": PrecMembership,
	"=":        PrecEquality,
	"~":        PrecEquality,
	"!=":       PrecEquality,
	"!~":       PrecEquality,
	"<":        PrecInequality,
	">":        PrecInequality,
	"<=":       PrecInequality,
	">=":       PrecInequality,
	"|":        PrecUnion,
	"is":       PrecType,
	"as":       PrecType,
	"+":        PrecAdditive,
	"-":        PrecAdditive,
	"&":        PrecAdditive,
	"*":        PrecMultiplicative,
	"/":        PrecMultiplicative,
	"div":      PrecMultiplicative,
	"mod":      PrecMultiplicative,
}

// BinaryPrecedence returns the precedence of a binary operator symbol.
func BinaryPrecedence(op string) (int, bool) {
	p, ok := binaryPrecedence[op]
	return p, ok
}

// BinaryAssociativity returns the associativity of a binary operator.
func BinaryAssociativity(op string) Associativity {
	if op == "implies" {
		return RightAssociative
	}
	return LeftAssociative
}

// precedenceOf returns the binding strength of a node as an operand.
func precedenceOf(n Node) int {
	switch x := n.(type) {
	case *Binary:
		return binaryPrecedence[x.Op]
	case *TypeOp:
		return PrecType
	case *Unary:
		return PrecUnary
	}
	return PrecPostfix
}
