package fhirpath

import (
	"fmt"
)

// systemVariables can not be redefined with defineVariable.
var systemVariables = map[string]bool{
	"context":      true,
	"resource":     true,
	"rootResource": true,
	"ucum":         true,
	"sct":          true,
	"loinc":        true,
}

// Scope is an immutable frame of variable bindings. Frames link to their
// parent; binding a variable or entering a lambda creates a new frame and
// leaves the parent untouched.
type Scope struct {
	parent *Scope
	level  int

	name  string
	value Collection

	lambda   bool
	this     Element
	index    int
	total    Collection
	hasTotal bool
}

// NewScope creates a root frame holding vars.
func NewScope(vars map[string]Collection) *Scope {
	var s *Scope
	for name, value := range vars {
		s = s.bind(name, value)
	}
	return s
}

func (s *Scope) bind(name string, value Collection) *Scope {
	return &Scope{parent: s, level: s.Level(), name: name, value: value}
}

// Level is the lambda nesting depth of s.
func (s *Scope) Level() int {
	if s == nil {
		return 0
	}
	return s.level
}

// Lookup finds the innermost binding of name.
func (s *Scope) Lookup(name string) (Collection, bool) {
	for f := s; f != nil; f = f.parent {
		if !f.lambda && f.name == name {
			return f.value, true
		}
	}
	return nil, false
}

// Define binds name in a new frame. Redefining a system variable, or a
// name bound on the same lambda level, is an error.
func (s *Scope) Define(name string, value Collection) (*Scope, error) {
	if systemVariables[name] {
		return s, fmt.Errorf("can not redefine system variable %%%s", name)
	}
	level := s.Level()
	for f := s; f != nil && f.level == level; f = f.parent {
		if !f.lambda && f.name == name {
			return s, fmt.Errorf("variable %%%s is already defined", name)
		}
	}
	return s.bind(name, value), nil
}

// Enter creates the frame for one lambda iteration over item.
func (s *Scope) Enter(item Element, index int) *Scope {
	return &Scope{parent: s, level: s.Level() + 1, lambda: true, this: item, index: index}
}

// EnterAggregate is Enter with $total bound.
func (s *Scope) EnterAggregate(item Element, index int, total Collection) *Scope {
	f := s.Enter(item, index)
	f.total, f.hasTotal = total, true
	return f
}

// This returns $this of the innermost lambda.
func (s *Scope) This() (Element, bool) {
	f := s.innermostLambda()
	if f == nil {
		return nil, false
	}
	return f.this, true
}

// Index returns $index of the innermost lambda.
func (s *Scope) Index() (int, bool) {
	f := s.innermostLambda()
	if f == nil {
		return 0, false
	}
	return f.index, true
}

// Total returns $total of the innermost aggregate.
func (s *Scope) Total() (Collection, bool) {
	for f := s; f != nil; f = f.parent {
		if f.lambda && f.hasTotal {
			return f.total, true
		}
	}
	return nil, false
}

func (s *Scope) innermostLambda() *Scope {
	for f := s; f != nil; f = f.parent {
		if f.lambda {
			return f
		}
	}
	return nil
}
