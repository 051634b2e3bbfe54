package fhirpath

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/damedic/fhirpath-engine/fhirpath/internal/ast"
)

// evaluator walks expression trees depth first, left to right.
type evaluator struct{}

func (evaluator) EvaluateLambda(ctx context.Context, expr Expression, ec EvaluationContext) (Collection, error) {
	result, _, err := eval(ctx, ec, expr.tree)
	return result, err
}

// eval returns the result of node and the scope visible to an invocation
// chained onto it.
func eval(ctx context.Context, ec EvaluationContext, node ast.Node) (Collection, *Scope, error) {
	ec.depth++
	if ec.MaxDepth > 0 && ec.depth > ec.MaxDepth {
		return nil, nil, fmt.Errorf("evaluation exceeds maximum depth of %d at %d", ec.MaxDepth, node.Pos())
	}

	switch n := node.(type) {
	case *ast.Literal:
		c, err := literal(n)
		return c, ec.Scope, err
	case *ast.Path:
		return evalPath(ctx, ec, n)
	case *ast.Call:
		focus, scope := ec.Input, ec.Scope
		if n.Target != nil {
			var err error
			focus, scope, err = eval(ctx, ec, n.Target)
			if err != nil {
				return nil, nil, err
			}
		}
		env := ec
		env.Scope = scope
		return dispatch(ctx, env, n.Name, FunctionKind, n.At, focus, n.Args)
	case *ast.Index:
		target, scope, err := eval(ctx, ec, n.Target)
		if err != nil {
			return nil, nil, err
		}
		idx, _, err := eval(ctx, ec, n.Index)
		if err != nil {
			return nil, nil, err
		}
		i, ok, err := Singleton[Integer](idx)
		if err != nil || !ok || i < 0 || int(i) >= len(target) {
			return nil, scope, err
		}
		return Collection{target[i]}, scope, nil
	case *ast.Binary:
		return dispatch(ctx, ec, n.Op, BinaryKind, n.At, nil, []ast.Node{n.Left, n.Right})
	case *ast.Unary:
		return dispatch(ctx, ec, "unary"+n.Op, UnaryKind, n.At, nil, []ast.Node{n.Operand})
	case *ast.TypeOp:
		typeNode := typeNameNode(n.Type, n.At)
		return dispatch(ctx, ec, n.Op, BinaryKind, n.At, nil, []ast.Node{n.Operand, typeNode})
	case *ast.Variable:
		c, err := variable(ec, n)
		return c, ec.Scope, err
	case *ast.Special:
		c, err := special(ec, n)
		return c, ec.Scope, err
	}
	return nil, nil, fmt.Errorf("unexpected expression node %T", node)
}

func typeNameNode(t ast.TypeName, pos int) ast.Node {
	if t.Namespace == "" {
		return &ast.Path{At: pos, Name: t.Name}
	}
	return &ast.Path{At: pos, Target: &ast.Path{At: pos, Name: t.Namespace}, Name: t.Name}
}

func evalPath(ctx context.Context, ec EvaluationContext, n *ast.Path) (Collection, *Scope, error) {
	focus, scope := ec.Input, ec.Scope
	if n.Target != nil {
		var err error
		focus, scope, err = eval(ctx, ec, n.Target)
		if err != nil {
			return nil, nil, err
		}
	}

	var members Collection
	for _, e := range focus {
		members = append(members, e.Children(n.Name)...)
	}
	if len(members) > 0 || n.Target != nil || !startsUpper(n.Name) {
		return members, scope, nil
	}

	// a leading type name, as in `Patient.name`, filters the focus by type
	spec := TypeSpecifier{Name: n.Name}
	for _, e := range focus {
		if _, isObj := e.(*Object); !isObj {
			continue
		}
		ok, err := ec.isA(ctx, e, spec)
		if err != nil && !errors.Is(err, ErrMissingCapability) {
			return nil, nil, err
		}
		if ok {
			members = append(members, e)
		}
	}
	return members, scope, nil
}

func startsUpper(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}
	return false
}

// dispatch evaluates the eager arguments, resolves the operation and runs
// it, synchronous path first.
func dispatch(
	ctx context.Context,
	env EvaluationContext,
	name string, kind OperationKind, pos int,
	focus Collection, args []ast.Node,
) (Collection, *Scope, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	meta, err := env.Registry.checkArity(name, kind, len(args), pos)
	if err != nil {
		return nil, nil, err
	}

	inv := &Invocation{
		Name:   name,
		Kind:   kind,
		Pos:    pos,
		Args:   make([]Collection, len(args)),
		Exprs:  make([]Expression, len(args)),
		Env:    env,
		lambda: meta.Lambda,
	}
	if kind == FunctionKind {
		inv.Input = focus
	}
	for i, a := range args {
		inv.Exprs[i] = Expression{tree: a}
		if meta.lazy(i) {
			continue
		}
		// bindings made inside an argument stay inside it
		v, _, err := eval(ctx, env, a)
		if err != nil {
			return nil, nil, err
		}
		inv.Args[i] = v
	}

	op, hit, err := env.Registry.resolve(name, kind, inv.Signature(), pos)
	env.Metrics.dispatch(hit)
	if err != nil {
		return nil, nil, err
	}
	if !hit {
		env.logger().Debug().
			Str("operation", name).
			Str("signature", inv.Signature().String()).
			Msg("dispatch cache miss")
	}

	if meta = op.Metadata(); meta.Singleton && !singletonOperands(inv, meta) {
		return nil, env.Scope, nil
	}

	result, err := run(env.valueContext(ctx), op, inv)
	switch {
	case errors.Is(err, errIncompatible):
		return nil, env.Scope, nil
	case err != nil:
		return nil, nil, err
	}
	if inv.scopeOut != nil {
		return result, inv.scopeOut, nil
	}
	return result, env.Scope, nil
}

func singletonOperands(inv *Invocation, meta OperationMetadata) bool {
	if inv.Kind == FunctionKind && len(inv.Input) != 1 {
		return false
	}
	for i := range inv.Exprs {
		if !meta.lazy(i) && len(inv.Args[i]) != 1 {
			return false
		}
	}
	return true
}

func literal(n *ast.Literal) (Collection, error) {
	switch n.Kind {
	case ast.EmptyLiteral:
		return nil, nil
	case ast.BooleanLiteral:
		return Collection{Boolean(n.Value == "true")}, nil
	case ast.StringLiteral:
		return Collection{String(n.Value)}, nil
	case ast.NumberLiteral:
		if strings.ContainsAny(n.Value, ".eE") {
			d, err := NewDecimal(n.Value)
			if err != nil {
				return nil, typeErrorf(n.At, "%s", err)
			}
			return Collection{d}, nil
		}
		i, err := strconv.ParseInt(n.Value, 10, 64)
		if err != nil {
			return nil, typeErrorf(n.At, "integer literal %s out of range", n.Value)
		}
		return Collection{numberFromInt(i)}, nil
	case ast.LongLiteral:
		i, err := strconv.ParseInt(n.Value, 10, 64)
		if err != nil {
			return nil, typeErrorf(n.At, "long literal %s out of range", n.Value)
		}
		return Collection{Long(i)}, nil
	case ast.DateLiteral:
		d, err := ParseDate(n.Value)
		if err != nil {
			return nil, typeErrorf(n.At, "%s", err)
		}
		return Collection{d}, nil
	case ast.DateTimeLiteral:
		dt, err := ParseDateTime(n.Value)
		if err != nil {
			return nil, typeErrorf(n.At, "%s", err)
		}
		return Collection{dt}, nil
	case ast.TimeLiteral:
		t, err := ParseTime(n.Value)
		if err != nil {
			return nil, typeErrorf(n.At, "%s", err)
		}
		return Collection{t}, nil
	case ast.QuantityLiteral:
		v, err := NewDecimal(n.Value)
		if err != nil {
			return nil, typeErrorf(n.At, "%s", err)
		}
		return Collection{Quantity{Value: v, Unit: String(n.Unit)}}, nil
	}
	return nil, typeErrorf(n.At, "unsupported literal kind %s", n.Kind)
}

const (
	ucumSystem  = "http://unitsofmeasure.org"
	sctSystem   = "http://snomed.info/sct"
	loincSystem = "http://loinc.org"
)

func variable(ec EvaluationContext, n *ast.Variable) (Collection, error) {
	switch n.Name {
	case "context", "resource", "rootResource":
		return ec.Root, nil
	case "ucum":
		return Collection{String(ucumSystem)}, nil
	case "sct":
		return Collection{String(sctSystem)}, nil
	case "loinc":
		return Collection{String(loincSystem)}, nil
	}
	if v, ok := ec.Scope.Lookup(n.Name); ok {
		return v, nil
	}
	if name, ok := strings.CutPrefix(n.Name, "vs-"); ok {
		return Collection{String("http://hl7.org/fhir/ValueSet/" + name)}, nil
	}
	if name, ok := strings.CutPrefix(n.Name, "ext-"); ok {
		return Collection{String("http://hl7.org/fhir/StructureDefinition/" + name)}, nil
	}
	return nil, typeErrorf(n.At, "undefined variable %%%s", n.Name)
}

func special(ec EvaluationContext, n *ast.Special) (Collection, error) {
	switch n.Name {
	case "$this":
		if this, ok := ec.Scope.This(); ok {
			return Collection{this}, nil
		}
		return ec.Input, nil
	case "$index":
		if i, ok := ec.Scope.Index(); ok {
			return Collection{Integer(i)}, nil
		}
		return nil, typeErrorf(n.At, "$index is only defined inside a lambda argument")
	case "$total":
		if total, ok := ec.Scope.Total(); ok {
			return total, nil
		}
		return nil, typeErrorf(n.At, "$total is only defined inside aggregate()")
	}
	return nil, typeErrorf(n.At, "unknown special variable %s", n.Name)
}
