package fhirpath

import (
	"context"
	"sync"
)

// TypeSource supplies class definitions by type name.
type TypeSource interface {
	// GetTypeInfo looks up a type by qualified (`FHIR.Patient`) or
	// unqualified name. ok is false for unknown types.
	GetTypeInfo(ctx context.Context, name string) (info TypeInfo, ok bool, err error)
}

// ReferenceResolver resolves references like `Patient/123`.
type ReferenceResolver interface {
	ResolveReference(ctx context.Context, ref string) (e Element, ok bool, err error)
}

// ModelProvider is the schema and reference capability the interpreter
// calls but does not implement. Implementations must be safe for
// concurrent use.
type ModelProvider interface {
	TypeSource
	ReferenceResolver
}

type combinedProvider struct {
	TypeSource
	ReferenceResolver
}

// CombineProviders composes a type source with a reference resolver,
// e.g. a StaticModelProvider with a rest.Client. Either may be nil.
func CombineProviders(types TypeSource, refs ReferenceResolver) ModelProvider {
	if types == nil {
		types = &StaticModelProvider{}
	}
	if refs == nil {
		refs = &StaticModelProvider{}
	}
	return combinedProvider{TypeSource: types, ReferenceResolver: refs}
}

// StaticModelProvider is an in-memory ModelProvider.
type StaticModelProvider struct {
	mu        sync.RWMutex
	types     map[string]TypeInfo
	resources map[string]Element
}

// NewStaticModelProvider creates a provider knowing the given types.
func NewStaticModelProvider(types ...TypeInfo) *StaticModelProvider {
	p := &StaticModelProvider{}
	for _, t := range types {
		p.AddType(t)
	}
	return p
}

// AddType registers info under its qualified name.
func (p *StaticModelProvider) AddType(info TypeInfo) {
	name, ok := info.QualifiedName()
	if !ok {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.types == nil {
		p.types = make(map[string]TypeInfo)
	}
	p.types[name.String()] = info
}

// AddResource makes e resolvable under ref.
func (p *StaticModelProvider) AddResource(ref string, e Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resources == nil {
		p.resources = make(map[string]Element)
	}
	p.resources[ref] = e
}

func (p *StaticModelProvider) GetTypeInfo(ctx context.Context, name string) (TypeInfo, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if t, ok := p.types[name]; ok {
		return t, true, nil
	}
	spec := ParseTypeSpecifier(name)
	if spec.Namespace == "" {
		for _, ns := range []string{"FHIR", "System"} {
			if t, ok := p.types[ns+"."+spec.Name]; ok {
				return t, true, nil
			}
		}
	}
	return nil, false, nil
}

func (p *StaticModelProvider) ResolveReference(ctx context.Context, ref string) (Element, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.resources[ref]
	return e, ok, nil
}
