package fhirpath

import (
	"context"
	"slices"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/rs/zerolog"

	"github.com/damedic/fhirpath-engine/fhirpath/internal/ast"
)

// LambdaEvaluator re-enters the evaluator for unevaluated arguments.
type LambdaEvaluator interface {
	EvaluateLambda(ctx context.Context, expr Expression, ec EvaluationContext) (Collection, error)
}

// EvaluationContext is the state of one evaluation frame. It is passed by
// value; frames never modify their parent's context.
type EvaluationContext struct {
	// Input is the focus expressions without explicit target apply to:
	// the evaluation input, or $this inside a lambda.
	Input Collection
	// Root is the evaluation input, %context and %resource.
	Root      Collection
	Scope     *Scope
	Registry  *Registry
	Provider  ModelProvider
	Reflector *TypeReflector
	Lambda    LambdaEvaluator
	Units     UnitConverter
	Tracer    Tracer
	Logger    *zerolog.Logger
	Metrics   *Metrics
	Timeout   time.Duration
	MaxDepth  int
	Now       time.Time
	APD       *apd.Context

	depth int
}

// valueContext installs the value level settings consumed by Element
// methods.
func (ec EvaluationContext) valueContext(ctx context.Context) context.Context {
	if ec.APD != nil {
		ctx = WithAPDContext(ctx, ec.APD)
	}
	if ec.Units != nil {
		ctx = WithUnitConverter(ctx, ec.Units)
	}
	return ctx
}

func (ec EvaluationContext) logger() *zerolog.Logger {
	if ec.Logger != nil {
		return ec.Logger
	}
	l := zerolog.Nop()
	return &l
}

// Invocation is one call of an operation.
type Invocation struct {
	Name string
	Kind OperationKind
	Pos  int
	// Input is the collection a function is invoked on. Operators have
	// none.
	Input Collection
	// Args holds the evaluated arguments, or operands for operators.
	// Entries at lambda indices are nil.
	Args []Collection
	// Exprs holds all arguments unevaluated.
	Exprs []Expression
	// Env is the frame the invocation happens in.
	Env EvaluationContext

	ctx      context.Context
	lambda   []int
	sig      Signature
	scopeOut *Scope
}

// Context returns the context of a synchronous invocation. It carries
// value settings like the decimal precision, never a deadline to wait on.
func (inv *Invocation) Context() context.Context {
	if inv.ctx == nil {
		return inv.Env.valueContext(context.Background())
	}
	return inv.ctx
}

func (inv *Invocation) withContext(ctx context.Context) *Invocation {
	inv.ctx = ctx
	return inv
}

// Signature is the argument type signature used for dispatch.
func (inv *Invocation) Signature() Signature {
	if inv.sig != nil {
		return inv.sig
	}
	var sig Signature
	if inv.Kind == FunctionKind {
		sig = append(sig, collectionType(inv.Input))
	}
	for i := range inv.Exprs {
		if !inv.lazy(i) {
			sig = append(sig, collectionType(inv.Arg(i)))
		} else {
			sig = append(sig, "Expression")
		}
	}
	inv.sig = sig
	return sig
}

func (inv *Invocation) lazy(i int) bool {
	return slices.Contains(inv.lambda, i)
}

// Arg returns the evaluated argument i; nil when absent or lazy.
func (inv *Invocation) Arg(i int) Collection {
	if i < 0 || i >= len(inv.Args) {
		return nil
	}
	return inv.Args[i]
}

// HasArg reports whether argument i was passed.
func (inv *Invocation) HasArg(i int) bool {
	return i >= 0 && i < len(inv.Exprs)
}

// EvalArg evaluates argument i in the invocation's frame. Evaluated
// arguments are returned as they are.
func (inv *Invocation) EvalArg(ctx context.Context, i int) (Collection, error) {
	if !inv.HasArg(i) || !inv.lazy(i) {
		return inv.Arg(i), nil
	}
	return inv.Env.Lambda.EvaluateLambda(ctx, inv.Exprs[i], inv.Env)
}

// EvalOn evaluates argument i with input as focus.
func (inv *Invocation) EvalOn(ctx context.Context, i int, input Collection) (Collection, error) {
	env := inv.Env
	env.Input = input
	return inv.Env.Lambda.EvaluateLambda(ctx, inv.Exprs[i], env)
}

// EvalLambda evaluates argument i for one item, binding $this and $index.
func (inv *Invocation) EvalLambda(ctx context.Context, i int, item Element, index int) (Collection, error) {
	env := inv.Env
	env.Input = Collection{item}
	env.Scope = env.Scope.Enter(item, index)
	return inv.Env.Lambda.EvaluateLambda(ctx, inv.Exprs[i], env)
}

// EvalAggregate is EvalLambda with $total bound.
func (inv *Invocation) EvalAggregate(ctx context.Context, i int, item Element, index int, total Collection) (Collection, error) {
	env := inv.Env
	env.Input = Collection{item}
	env.Scope = env.Scope.EnterAggregate(item, index, total)
	return inv.Env.Lambda.EvaluateLambda(ctx, inv.Exprs[i], env)
}

// TypeArg reads argument i as a type specifier, e.g. `FHIR.Patient`.
func (inv *Invocation) TypeArg(i int) (TypeSpecifier, error) {
	if !inv.HasArg(i) {
		return TypeSpecifier{}, typeErrorf(inv.Pos, "%s: missing type argument", inv.Name)
	}
	spec, ok := typeSpecifierOf(inv.Exprs[i].tree)
	if !ok {
		return TypeSpecifier{}, typeErrorf(inv.Exprs[i].tree.Pos(), "%s: expected a type specifier, got %s", inv.Name, inv.Exprs[i])
	}
	return spec, nil
}

func typeSpecifierOf(n ast.Node) (TypeSpecifier, bool) {
	switch x := n.(type) {
	case *ast.Path:
		if x.Target == nil {
			return TypeSpecifier{Name: x.Name}, true
		}
		if ns, ok := x.Target.(*ast.Path); ok && ns.Target == nil {
			return TypeSpecifier{Namespace: ns.Name, Name: x.Name}, true
		}
	case *ast.Literal:
		if x.Kind == ast.StringLiteral {
			return ParseTypeSpecifier(x.Value), true
		}
	}
	return TypeSpecifier{}, false
}

// Define binds name for the rest of the invocation chain.
func (inv *Invocation) Define(name string, value Collection) error {
	scope := inv.Env.Scope
	if inv.scopeOut != nil {
		scope = inv.scopeOut
	}
	next, err := scope.Define(name, value)
	if err != nil {
		return typeErrorf(inv.Pos, "%s", err)
	}
	inv.scopeOut = next
	return nil
}
