package fhirpath

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/damedic/fhirpath-engine/fhirpath/internal/lexer"
	"github.com/damedic/fhirpath-engine/fhirpath/internal/parser"
)

// ErrorClass groups the errors an expression can fail with.
type ErrorClass uint8

const (
	ClassUnknown ErrorClass = iota
	ClassLex
	ClassParse
	ClassUnknownOperation
	ClassArgumentCount
	ClassMissingCapability
	ClassTimeout
	ClassType
)

var errorClassNames = [...]string{
	ClassUnknown:           "unknown",
	ClassLex:               "lex",
	ClassParse:             "parse",
	ClassUnknownOperation:  "unknown-operation",
	ClassArgumentCount:     "argument-count",
	ClassMissingCapability: "missing-capability",
	ClassTimeout:           "timeout",
	ClassType:              "type",
}

func (c ErrorClass) String() string {
	if int(c) < len(errorClassNames) {
		return errorClassNames[c]
	}
	return "unknown"
}

var (
	// ErrTimeout matches every TimeoutError.
	ErrTimeout = errors.New("operation timed out")
	// ErrMissingCapability matches every MissingCapabilityError.
	ErrMissingCapability = errors.New("missing capability")
)

type (
	// LexError reports malformed source text.
	LexError = lexer.Error
	// ParseError reports malformed grammar.
	ParseError = parser.Error
)

// UnknownOperationError is returned when no function or operator is
// registered under Name.
type UnknownOperationError struct {
	Name string
	Pos  int
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("unknown operation %q at %d", e.Name, e.Pos)
}

// ArgumentCountMismatchError reports a call with the wrong number of
// arguments. Max is -1 for variadic operations.
type ArgumentCountMismatchError struct {
	Name     string
	Min, Max int
	Got      int
	Pos      int
}

func (e *ArgumentCountMismatchError) Error() string {
	var expected string
	switch {
	case e.Min == e.Max:
		expected = fmt.Sprint(e.Min)
	case e.Max < 0:
		expected = fmt.Sprintf("at least %d", e.Min)
	default:
		expected = fmt.Sprintf("%d to %d", e.Min, e.Max)
	}
	return fmt.Sprintf("%s at %d: expected %s arguments, got %d", e.Name, e.Pos, expected, e.Got)
}

// MissingCapabilityError is returned by operations that need a collaborator
// which was not configured, typically the model provider.
type MissingCapabilityError struct {
	Operation  string
	Capability string
}

func (e *MissingCapabilityError) Error() string {
	return fmt.Sprintf("%s requires a %s", e.Operation, e.Capability)
}

func (e *MissingCapabilityError) Is(target error) bool {
	return target == ErrMissingCapability
}

// TimeoutError is returned when a provider call exceeds the configured
// timeout.
type TimeoutError struct {
	Operation string
	After     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Operation, e.After)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// TypeError reports explicit misuse, e.g. an invalid cast target, a
// non-boolean criteria result or an undefined variable.
type TypeError struct {
	Pos     int
	Message string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("type error at %d: %s", e.Pos, e.Message)
}

func typeErrorf(pos int, format string, args ...any) *TypeError {
	return &TypeError{Pos: pos, Message: fmt.Sprintf(format, args...)}
}

// Classify returns the class of the first typed error in err's chain.
func Classify(err error) ErrorClass {
	var (
		lexErr     *LexError
		parseErr   *ParseError
		unknownErr *UnknownOperationError
		countErr   *ArgumentCountMismatchError
		typeErr    *TypeError
	)
	switch {
	case err == nil:
		return ClassUnknown
	case errors.As(err, &lexErr):
		return ClassLex
	case errors.As(err, &parseErr):
		return ClassParse
	case errors.As(err, &unknownErr):
		return ClassUnknownOperation
	case errors.As(err, &countErr):
		return ClassArgumentCount
	case errors.Is(err, ErrMissingCapability):
		return ClassMissingCapability
	case errors.Is(err, ErrTimeout):
		return ClassTimeout
	case errors.As(err, &typeErr):
		return ClassType
	}
	return ClassUnknown
}
