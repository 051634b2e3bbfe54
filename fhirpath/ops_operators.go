package fhirpath

import (
	"context"
	"errors"

	"github.com/cockroachdb/apd/v3"

	"github.com/damedic/fhirpath-engine/fhirpath/internal/ast"
	"github.com/damedic/fhirpath-engine/fhirpath/internal/overflow"
)

func operatorOperations() []Operation {
	return []Operation{
		NewSyncOperation(binary("=", ast.PrecEquality), equals),
		NewSyncOperation(binary("!=", ast.PrecEquality), notEquals),
		NewSyncOperation(binary("~", ast.PrecEquality), equivalent),
		NewSyncOperation(binary("!~", ast.PrecEquality), notEquivalent),

		NewSyncOperation(binary("<", ast.PrecInequality).singleton(), comparison(func(c int) bool { return c < 0 })),
		NewSyncOperation(binary(">", ast.PrecInequality).singleton(), comparison(func(c int) bool { return c > 0 })),
		NewSyncOperation(binary("<=", ast.PrecInequality).singleton(), comparison(func(c int) bool { return c <= 0 })),
		NewSyncOperation(binary(">=", ast.PrecInequality).singleton(), comparison(func(c int) bool { return c >= 0 })),

		NewSyncOperation(binary("+", ast.PrecAdditive).singleton(), arithmetic("+", func(ctx context.Context, a, b Element) (Element, error) {
			if e, ok := a.(addElement); ok {
				return e.Add(ctx, b)
			}
			return nil, incompatible("+", a, b)
		})),
		NewSyncOperation(binary("-", ast.PrecAdditive).singleton(), arithmetic("-", func(ctx context.Context, a, b Element) (Element, error) {
			if e, ok := a.(subtractElement); ok {
				return e.Subtract(ctx, b)
			}
			return nil, incompatible("-", a, b)
		})),
		NewSyncOperation(binary("*", ast.PrecMultiplicative).singleton(), arithmetic("*", func(ctx context.Context, a, b Element) (Element, error) {
			if e, ok := a.(multiplyElement); ok {
				return e.Multiply(ctx, b)
			}
			return nil, incompatible("*", a, b)
		})),
		NewSyncOperation(binary("/", ast.PrecMultiplicative).singleton(), arithmetic("/", func(ctx context.Context, a, b Element) (Element, error) {
			if e, ok := a.(divideElement); ok {
				return e.Divide(ctx, b)
			}
			return nil, incompatible("/", a, b)
		})),
		NewSyncOperation(binary("div", ast.PrecMultiplicative).singleton(), arithmetic("div", func(ctx context.Context, a, b Element) (Element, error) {
			if e, ok := a.(divElement); ok {
				return e.Div(ctx, b)
			}
			return nil, incompatible("div", a, b)
		})),
		NewSyncOperation(binary("mod", ast.PrecMultiplicative).singleton(), arithmetic("mod", func(ctx context.Context, a, b Element) (Element, error) {
			if e, ok := a.(modElement); ok {
				return e.Mod(ctx, b)
			}
			return nil, incompatible("mod", a, b)
		})),
		NewSyncOperation(binary("&", ast.PrecAdditive), concatenate),

		NewSyncOperation(binary("|", ast.PrecUnion), func(inv *Invocation) (Collection, error) {
			return inv.Args[0].Union(inv.Args[1]), nil
		}),
		NewSyncOperation(binary("in", ast.PrecMembership), func(inv *Invocation) (Collection, error) {
			return membership(inv.Args[0], inv.Args[1])
		}),
		NewSyncOperation(binary("contains", ast.PrecMembership), func(inv *Invocation) (Collection, error) {
			return membership(inv.Args[1], inv.Args[0])
		}),

		NewOperation(binary("and", ast.PrecAnd).lambdas(1), and),
		NewOperation(binary("or", ast.PrecOr).lambdas(1), or),
		NewOperation(binary("implies", ast.PrecImplies).lambdas(1).rightAssociative(), implies),
		NewSyncOperation(binary("xor", ast.PrecOr), xor),
		NewSyncOperation(function("not", 0, 0), func(inv *Invocation) (Collection, error) {
			b, ok, err := truthValue(inv.Input)
			if err != nil || !ok {
				return nil, err
			}
			return boolResult(!b), nil
		}),

		NewSyncOperation(unary("unary-").singleton(), negate),
		NewSyncOperation(unary("unary+").singleton(), func(inv *Invocation) (Collection, error) {
			switch p, _ := unwrapPrimitive(inv.Args[0][0]); p.(type) {
			case Integer, Long, Decimal, Quantity:
				return Collection{p}, nil
			}
			return nil, incompatible("+", nil, inv.Args[0][0])
		}),

		typeOperation(binary("is", ast.PrecType).lambdas(1), isOperation),
		typeOperation(binary("as", ast.PrecType).lambdas(1), asOperation),
	}
}

// coerceTemporal parses a String operand compared against a date, date
// time or time.
func coerceTemporal(a, b Element) (Element, Element) {
	if s, ok := a.(String); ok {
		return parseLike(s, b), b
	}
	if s, ok := b.(String); ok {
		return a, parseLike(s, a)
	}
	return a, b
}

func parseLike(s String, like Element) Element {
	switch like.(type) {
	case Date:
		if d, err := ParseDate(string(s)); err == nil {
			return d
		}
		if dt, err := ParseDateTime(string(s)); err == nil {
			return dt
		}
	case DateTime:
		if dt, err := ParseDateTime(string(s)); err == nil {
			return dt
		}
	case Time:
		if t, err := ParseTime(string(s)); err == nil {
			return t
		}
	}
	return s
}

func coerceCollections(a, b Collection) (Collection, Collection) {
	if len(a) != 1 || len(b) != 1 {
		return a, b
	}
	x, y := coerceTemporal(a[0], b[0])
	return Collection{x}, Collection{y}
}

func equals(inv *Invocation) (Collection, error) {
	a, b := coerceCollections(inv.Args[0], inv.Args[1])
	eq, ok := collectionEqual(inv.Context(), a, b)
	if !ok {
		return nil, nil
	}
	return boolResult(eq), nil
}

func notEquals(inv *Invocation) (Collection, error) {
	a, b := coerceCollections(inv.Args[0], inv.Args[1])
	eq, ok := collectionEqual(inv.Context(), a, b)
	if !ok {
		return nil, nil
	}
	return boolResult(!eq), nil
}

func equivalent(inv *Invocation) (Collection, error) {
	a, b := coerceCollections(inv.Args[0], inv.Args[1])
	return boolResult(a.Equivalent(b)), nil
}

func notEquivalent(inv *Invocation) (Collection, error) {
	a, b := coerceCollections(inv.Args[0], inv.Args[1])
	return boolResult(!a.Equivalent(b)), nil
}

// compareElements orders two singletons. ok is false when they are
// incomparable.
func compareElements(ctx context.Context, a, b Element) (int, bool, error) {
	pa, aok := unwrapPrimitive(a)
	pb, bok := unwrapPrimitive(b)
	if !aok || !bok {
		return 0, false, incompatible("<", a, b)
	}
	pa, pb = coerceTemporal(pa, pb)
	c, ok := pa.(cmpElement)
	if !ok {
		return 0, false, incompatible("<", pa, pb)
	}
	return c.Cmp(ctx, pb)
}

func comparison(test func(int) bool) SyncFunc {
	return func(inv *Invocation) (Collection, error) {
		c, ok, err := compareElements(inv.Context(), inv.Args[0][0], inv.Args[1][0])
		if err != nil || !ok {
			return nil, err
		}
		return boolResult(test(c)), nil
	}
}

func arithmetic(op string, apply func(ctx context.Context, a, b Element) (Element, error)) SyncFunc {
	return func(inv *Invocation) (Collection, error) {
		a, aok := unwrapPrimitive(inv.Args[0][0])
		b, bok := unwrapPrimitive(inv.Args[1][0])
		if !aok || !bok {
			return nil, incompatible(op, inv.Args[0][0], inv.Args[1][0])
		}
		r, err := apply(inv.Context(), a, b)
		if err != nil || r == nil {
			return nil, err
		}
		return Collection{r}, nil
	}
}

// concatenate treats empty operands as empty strings.
func concatenate(inv *Invocation) (Collection, error) {
	var out String
	for _, c := range inv.Args {
		switch len(c) {
		case 0:
		case 1:
			s, ok, err := elementTo[String](c[0], false)
			if err != nil || !ok {
				return nil, incompatible("&", c[0], out)
			}
			out += s
		default:
			return nil, nil
		}
	}
	return Collection{out}, nil
}

func membership(item, collection Collection) (Collection, error) {
	switch len(item) {
	case 0:
		return nil, nil
	case 1:
		return boolResult(collection.Contains(item[0])), nil
	}
	return nil, nil
}

// truthValue applies singleton evaluation for boolean contexts. ok is false
// for the empty collection.
func truthValue(c Collection) (value bool, ok bool, err error) {
	switch len(c) {
	case 0:
		return false, false, nil
	case 1:
		b, ok, err := c[0].ToBoolean(false)
		if err != nil || !ok {
			// a single non-boolean value counts as true
			return true, true, nil
		}
		return bool(b), true, nil
	}
	return false, false, nil
}

func and(ctx context.Context, inv *Invocation) (Collection, error) {
	left, lok, err := truthValue(inv.Args[0])
	if err != nil {
		return nil, err
	}
	if lok && !left {
		return boolResult(false), nil
	}
	r, err := inv.EvalArg(ctx, 1)
	if err != nil {
		return nil, err
	}
	right, rok, err := truthValue(r)
	switch {
	case err != nil:
		return nil, err
	case rok && !right:
		return boolResult(false), nil
	case lok && rok:
		return boolResult(true), nil
	}
	return nil, nil
}

func or(ctx context.Context, inv *Invocation) (Collection, error) {
	left, lok, err := truthValue(inv.Args[0])
	if err != nil {
		return nil, err
	}
	if lok && left {
		return boolResult(true), nil
	}
	r, err := inv.EvalArg(ctx, 1)
	if err != nil {
		return nil, err
	}
	right, rok, err := truthValue(r)
	switch {
	case err != nil:
		return nil, err
	case rok && right:
		return boolResult(true), nil
	case lok && rok:
		return boolResult(false), nil
	}
	return nil, nil
}

func implies(ctx context.Context, inv *Invocation) (Collection, error) {
	left, lok, err := truthValue(inv.Args[0])
	if err != nil {
		return nil, err
	}
	if lok && !left {
		return boolResult(true), nil
	}
	r, err := inv.EvalArg(ctx, 1)
	if err != nil {
		return nil, err
	}
	right, rok, err := truthValue(r)
	switch {
	case err != nil:
		return nil, err
	case rok && right:
		return boolResult(true), nil
	case lok && rok:
		return boolResult(false), nil
	}
	return nil, nil
}

func xor(inv *Invocation) (Collection, error) {
	left, lok, err := truthValue(inv.Args[0])
	if err != nil {
		return nil, err
	}
	right, rok, err := truthValue(inv.Args[1])
	if err != nil || !lok || !rok {
		return nil, err
	}
	return boolResult(left != right), nil
}

func negate(inv *Invocation) (Collection, error) {
	p, _ := unwrapPrimitive(inv.Args[0][0])
	switch v := p.(type) {
	case Integer:
		if n, ok := overflow.Neg(int32(v)); ok {
			return Collection{Integer(n)}, nil
		}
		return nil, nil
	case Long:
		if n, ok := overflow.Neg(int64(v)); ok {
			return Collection{Long(n)}, nil
		}
		return nil, nil
	case Decimal:
		return Collection{Decimal{Value: new(apd.Decimal).Neg(v.Value)}}, nil
	case Quantity:
		return Collection{Quantity{Value: Decimal{Value: new(apd.Decimal).Neg(v.Value.Value)}, Unit: v.Unit}}, nil
	}
	return nil, incompatible("-", nil, inv.Args[0][0])
}

// typeTest checks one operand against a type specifier read from argument
// typeArg.
type typeTest func(ctx context.Context, r *TypeReflector, env lookupEnv, inv *Invocation, focus Collection, spec TypeSpecifier) (Collection, error)

// typeOperation runs a type test from cached class definitions, falling back
// to provider lookups when one is missing.
func typeOperation(meta OperationMetadata, test typeTest) Operation {
	typeArg := meta.Lambda[0]
	focusOf := func(inv *Invocation) Collection {
		if inv.Kind == FunctionKind {
			return inv.Input
		}
		return inv.Args[0]
	}
	return NewHybridOperation(meta,
		func(inv *Invocation) (Collection, bool, error) {
			spec, err := inv.TypeArg(typeArg)
			if err != nil {
				return nil, true, err
			}
			env := inv.Env.lookupEnv()
			env.syncOnly = true
			r, err := test(inv.Context(), inv.Env.Reflector, env, inv, focusOf(inv), spec)
			if errors.Is(err, errNotCached) {
				return nil, false, nil
			}
			return r, true, err
		},
		func(ctx context.Context, inv *Invocation) (Collection, error) {
			spec, err := inv.TypeArg(typeArg)
			if err != nil {
				return nil, err
			}
			return test(ctx, inv.Env.Reflector, inv.Env.lookupEnv(), inv, focusOf(inv), spec)
		},
	)
}

func isOperation(ctx context.Context, r *TypeReflector, env lookupEnv, inv *Invocation, focus Collection, spec TypeSpecifier) (Collection, error) {
	switch len(focus) {
	case 0:
		return nil, nil
	case 1:
	default:
		return nil, typeErrorf(inv.Pos, "%s: expected a single element, got %d", inv.Name, len(focus))
	}
	ok, err := r.isA(ctx, env, focus[0], spec)
	if err != nil {
		return nil, err
	}
	return boolResult(ok), nil
}

func asOperation(ctx context.Context, r *TypeReflector, env lookupEnv, inv *Invocation, focus Collection, spec TypeSpecifier) (Collection, error) {
	switch len(focus) {
	case 0:
		return nil, nil
	case 1:
	default:
		return nil, typeErrorf(inv.Pos, "%s: expected a single element, got %d", inv.Name, len(focus))
	}
	ok, err := r.isA(ctx, env, focus[0], spec)
	if err != nil || !ok {
		return nil, err
	}
	return focus, nil
}

func ofTypeOperation(ctx context.Context, r *TypeReflector, env lookupEnv, inv *Invocation, focus Collection, spec TypeSpecifier) (Collection, error) {
	var out Collection
	for _, e := range focus {
		ok, err := r.isA(ctx, env, e, spec)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}
