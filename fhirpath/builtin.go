package fhirpath

import (
	"github.com/damedic/fhirpath-engine/fhirpath/internal/ast"
)

// DefaultRegistry returns a new registry holding all built-in functions and
// operators. Each call returns an independent registry; callers may add
// their own operations to it.
func DefaultRegistry(opts ...RegistryOption) *Registry {
	r := NewRegistry(opts...)
	r.MustRegister(operatorOperations()...)
	r.MustRegister(existenceOperations()...)
	r.MustRegister(subsettingOperations()...)
	r.MustRegister(conversionOperations()...)
	r.MustRegister(stringOperations()...)
	r.MustRegister(mathOperations()...)
	r.MustRegister(utilityOperations()...)
	r.MustRegister(reflectionOperations()...)
	r.MustRegister(fhirOperations()...)
	return r
}

// function describes a function taking between minArgs and maxArgs
// arguments.
func function(name string, minArgs, maxArgs int) OperationMetadata {
	return OperationMetadata{Name: name, Kind: FunctionKind, MinArgs: minArgs, MaxArgs: maxArgs}
}

func binary(name string, precedence int) OperationMetadata {
	return OperationMetadata{
		Name:       name,
		Kind:       BinaryKind,
		Precedence: precedence,
		MinArgs:    2,
		MaxArgs:    2,
	}
}

func unary(name string) OperationMetadata {
	return OperationMetadata{
		Name:       name,
		Kind:       UnaryKind,
		Precedence: ast.PrecUnary,
		MinArgs:    1,
		MaxArgs:    1,
	}
}

// lambdas marks the given arguments as passed unevaluated.
func (m OperationMetadata) lambdas(i ...int) OperationMetadata {
	m.Lambda = i
	return m
}

// singleton marks the operation as yielding empty for non-singleton
// operands.
func (m OperationMetadata) singleton() OperationMetadata {
	m.Singleton = true
	return m
}

func (m OperationMetadata) rightAssociative() OperationMetadata {
	m.Associativity = RightAssociative
	return m
}

func boolResult(b bool) Collection {
	return Collection{Boolean(b)}
}
