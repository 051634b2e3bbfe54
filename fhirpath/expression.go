package fhirpath

import (
	"context"
	"fmt"
	"time"

	"github.com/damedic/fhirpath-engine/fhirpath/internal/ast"
	"github.com/damedic/fhirpath-engine/fhirpath/internal/parser"
)

// Expression represents a parsed FHIRPath expression that can be evaluated against a FHIR resource.
// Expressions are created using the Parse or MustParse functions.
type Expression struct {
	tree ast.Node
}

// String returns the normalized form of the expression. Parsing it again
// yields an equal expression.
func (e Expression) String() string {
	if e.tree == nil {
		return ""
	}
	return e.tree.String()
}

// Equal reports whether both expressions have the same structure.
func (e Expression) Equal(other Expression) bool {
	return ast.Equal(e.tree, other.tree)
}

// Parse parses a FHIRPath expression string and returns an Expression object.
// If the expression cannot be parsed, a *LexError or *ParseError is returned.
//
// Example:
//
//	expr, err := fhirpath.Parse("Patient.name.given")
//	if err != nil {
//	    // Handle error
//	}
func Parse(expr string) (Expression, error) {
	tree, err := parser.Parse(expr)
	if err != nil {
		return Expression{}, err
	}
	return Expression{tree: tree}, nil
}

// MustParse parses a FHIRPath expression string and returns an Expression object.
// If the expression cannot be parsed, it panics.
//
// This function is useful when you know the expression is valid and want to avoid
// error checking, such as in tests or with hardcoded expressions.
//
// Example:
//
//	expr := fhirpath.MustParse("Patient.name.given")
func MustParse(path string) Expression {
	expr, err := Parse(path)
	if err != nil {
		panic(err)
	}
	return expr
}

// Evaluate parses text and evaluates it against input.
//
// Example:
//
//	result, err := fhirpath.Evaluate(ctx, "name.where(use = 'official').family", patient, fhirpath.Configuration{})
func Evaluate(ctx context.Context, text string, input Element, cfg Configuration) (Collection, error) {
	expr, err := Parse(text)
	if err != nil {
		return nil, err
	}
	return expr.Evaluate(ctx, input, cfg)
}

// Evaluate evaluates the expression against a single input element. A nil
// input evaluates against the empty collection.
func (e Expression) Evaluate(ctx context.Context, input Element, cfg Configuration) (Collection, error) {
	if input == nil {
		return e.EvaluateCollection(ctx, nil, cfg)
	}
	return e.EvaluateCollection(ctx, Collection{input}, cfg)
}

// EvaluateCollection evaluates the expression with input as focus and as
// %context.
func (e Expression) EvaluateCollection(ctx context.Context, input Collection, cfg Configuration) (Collection, error) {
	if e.tree == nil {
		return nil, fmt.Errorf("evaluate: empty expression")
	}
	defer cfg.Metrics.observeEvaluation(time.Now())

	result, _, err := eval(ctx, newEvaluationContext(ctx, input, cfg), e.tree)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func newEvaluationContext(ctx context.Context, input Collection, cfg Configuration) EvaluationContext {
	ec := EvaluationContext{
		Input:     input,
		Root:      input,
		Scope:     NewScope(cfg.Variables),
		Registry:  cfg.registry(),
		Provider:  cfg.ModelProvider,
		Reflector: cfg.reflector(),
		Lambda:    evaluator{},
		Units:     cfg.Units,
		Tracer:    cfg.Tracer,
		Logger:    cfg.logger(ctx),
		Metrics:   cfg.Metrics,
		Timeout:   cfg.timeout(),
		MaxDepth:  cfg.maxDepth(),
		Now:       cfg.now(),
		APD:       cfg.apdContext(ctx),
	}
	if ec.Units == nil {
		ec.Units = DefaultUnits
	}
	if ec.Tracer == nil {
		ec.Tracer = tracerFrom(ctx)
	}
	return ec
}
