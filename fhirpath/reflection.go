package fhirpath

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/damedic/fhirpath-engine/fhirpath/internal/cache"
)

const (
	// DefaultTypeCacheSize is the type cache capacity of NewTypeReflector(0).
	DefaultTypeCacheSize = 256
	// DefaultSampleSize is the number of elements inspected to type a
	// collection.
	DefaultSampleSize = 10
)

// TypeReflector answers type queries, caching class definitions fetched
// from the model provider by provider and qualified name. One reflector
// can serve configurations with different providers: each provider sees
// only the definitions it returned itself.
//
// Safe for concurrent use. Identical concurrent lookups share one provider
// call.
type TypeReflector struct {
	// SampleSize bounds the elements inspected by TypeOf. Set it before
	// first use.
	SampleSize int
	// Timeout bounds provider calls made through TypeOf and TypeOfElement.
	Timeout time.Duration
	Metrics *Metrics

	cache *cache.LRU[TypeInfo]
	group singleflight.Group

	mu        sync.Mutex
	providers map[any]string
}

// NewTypeReflector creates a reflector whose cache holds up to cacheSize
// class definitions. Zero selects DefaultTypeCacheSize.
func NewTypeReflector(cacheSize int) *TypeReflector {
	if cacheSize <= 0 {
		cacheSize = DefaultTypeCacheSize
	}
	return &TypeReflector{
		SampleSize: DefaultSampleSize,
		cache:      cache.New[TypeInfo](cacheSize),
	}
}

// CacheLen returns the number of cached lookups, negative ones included.
func (r *TypeReflector) CacheLen() int {
	return r.cache.Len()
}

// Invalidate drops all cached class definitions.
func (r *TypeReflector) Invalidate() {
	r.cache.Clear()
}

// providerKey identifies provider within the cache keys. Comparable
// providers are numbered in order of first use. Other providers are told
// apart by their type only.
func (r *TypeReflector) providerKey(provider ModelProvider) string {
	if v := reflect.ValueOf(provider); !v.Comparable() {
		return fmt.Sprintf("%T", provider)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if key, ok := r.providers[provider]; ok {
		return key
	}
	if r.providers == nil {
		r.providers = make(map[any]string)
	}
	key := strconv.Itoa(len(r.providers))
	r.providers[provider] = key
	return key
}

// lookupEnv carries what a lookup needs from its evaluation.
type lookupEnv struct {
	provider ModelProvider
	timeout  time.Duration
	metrics  *Metrics
	logger   *zerolog.Logger
	syncOnly bool
}

func (ec EvaluationContext) lookupEnv() lookupEnv {
	return lookupEnv{
		provider: ec.Provider,
		timeout:  ec.Timeout,
		metrics:  ec.Metrics,
		logger:   ec.logger(),
	}
}

func (r *TypeReflector) env(ctx context.Context, provider ModelProvider) lookupEnv {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return lookupEnv{provider: provider, timeout: timeout, metrics: r.Metrics, logger: zerolog.Ctx(ctx)}
}

// errNotCached makes the synchronous path decline.
var errNotCached = errors.New("type not cached")

func qualifiedClassName(name string) string {
	if strings.Contains(name, ".") {
		return name
	}
	return "FHIR." + name
}

// ClassInfo returns the definition of the named type, asking the provider
// on a cache miss.
func (r *TypeReflector) ClassInfo(ctx context.Context, provider ModelProvider, name string) (TypeInfo, bool, error) {
	return r.lookup(ctx, r.env(ctx, provider), name)
}

func (r *TypeReflector) lookup(ctx context.Context, env lookupEnv, name string) (TypeInfo, bool, error) {
	qualified := qualifiedClassName(name)
	if env.provider == nil {
		if env.syncOnly {
			return nil, false, errNotCached
		}
		env.metrics.typeLookup(false)
		return nil, false, &MissingCapabilityError{Operation: "type lookup " + qualified, Capability: "model provider"}
	}

	key := r.providerKey(env.provider) + "|" + qualified
	if info, ok := r.cache.Get(key); ok {
		env.metrics.typeLookup(true)
		return info, info != nil, nil
	}
	if env.syncOnly {
		return nil, false, errNotCached
	}
	env.metrics.typeLookup(false)

	v, err, _ := r.group.Do(key, func() (any, error) {
		env.logger.Debug().Str("type", qualified).Msg("provider type lookup")
		info, ok, err := callProvider(ctx, env, "GetTypeInfo", qualified, func(ctx context.Context) (TypeInfo, bool, error) {
			return env.provider.GetTypeInfo(ctx, qualified)
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			info = nil
		}
		r.cache.Set(key, info)
		return info, nil
	})
	if err != nil {
		return nil, false, err
	}
	info, _ := v.(TypeInfo)
	return info, info != nil, nil
}

// callProvider runs call under the lookup timeout. A provider ignoring its
// context is abandoned when the deadline passes.
func callProvider[T any](
	ctx context.Context,
	env lookupEnv,
	method, arg string,
	call func(context.Context) (T, bool, error),
) (T, bool, error) {
	timeout := env.timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, ok, err := call(cctx)
		done <- result{v, ok, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-cctx.Done():
		res.err = cctx.Err()
	}
	if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil {
		env.logger.Warn().
			Str("method", method).
			Str("argument", arg).
			Dur("timeout", timeout).
			Msg("model provider call timed out")
		res.err = &TimeoutError{Operation: method + " " + arg, After: timeout}
	}
	env.metrics.providerCall(method, res.err, res.ok)
	return res.v, res.ok, res.err
}

// TypeOfElement describes a single element. Document objects with a known
// type need a model provider; anonymous objects are described as tuples.
func (r *TypeReflector) TypeOfElement(ctx context.Context, provider ModelProvider, e Element) (TypeInfo, error) {
	return r.typeOfElement(ctx, r.env(ctx, provider), e)
}

func (r *TypeReflector) typeOfElement(ctx context.Context, env lookupEnv, e Element) (TypeInfo, error) {
	o, isObj := e.(*Object)
	if !isObj {
		return e.TypeInfo(), nil
	}
	switch {
	case o.typeName != "":
		info, ok, err := r.lookup(ctx, env, "FHIR."+o.typeName)
		if err != nil {
			return nil, err
		}
		if !ok {
			return o.TypeInfo(), nil
		}
		return info, nil
	case o.path != "":
		info, ok, err := r.elementType(ctx, env, o.path)
		if err != nil {
			return nil, err
		}
		if _, choice := info.(ChoiceTypeInfo); !ok || choice {
			return o.TypeInfo(), nil
		}
		return info, nil
	}
	return o.TypeInfo(), nil
}

// ElementType returns the declared type of the element at path, such as
// `Patient.name` or `Observation.value`. An element declared with several
// types is described by a ChoiceTypeInfo.
func (r *TypeReflector) ElementType(ctx context.Context, provider ModelProvider, path string) (TypeInfo, bool, error) {
	return r.elementType(ctx, r.env(ctx, provider), path)
}

// elementType follows an element path through the class definitions. A
// choice element ends the walk: its members cannot be followed without
// knowing the chosen type.
func (r *TypeReflector) elementType(ctx context.Context, env lookupEnv, path string) (TypeInfo, bool, error) {
	segments := strings.Split(path, ".")
	current := "FHIR." + segments[0]
	for i, seg := range segments[1:] {
		info, ok, err := r.lookup(ctx, env, current)
		if err != nil || !ok {
			return nil, false, err
		}
		class, isClass := info.(ClassInfo)
		if !isClass {
			return nil, false, nil
		}
		types := class.ElementTypes(seg)
		switch {
		case len(types) == 0:
			return nil, false, nil
		case len(types) > 1:
			if i < len(segments)-2 {
				return nil, false, nil
			}
			return ChoiceTypeInfo{Choices: types}, true, nil
		}
		current = types[0].String()
	}
	if strings.HasPrefix(current, "System.") {
		return systemType(strings.TrimPrefix(current, "System.")), true, nil
	}
	return r.lookup(ctx, env, current)
}

// TypeOf describes a whole collection: the element type for singletons, a
// ListTypeInfo otherwise.
//
// Only the first SampleSize elements are inspected. If they agree, their
// type is the element type; if not, it is their nearest common ancestor.
// Elements past the sample are never looked at, so a collection whose
// tail differs in type is reported with the sampled type. This keeps the
// cost of typing large collections bounded at the price of exactness.
func (r *TypeReflector) TypeOf(ctx context.Context, provider ModelProvider, c Collection) (TypeInfo, error) {
	return r.typeOf(ctx, r.env(ctx, provider), c)
}

func (r *TypeReflector) typeOf(ctx context.Context, env lookupEnv, c Collection) (TypeInfo, error) {
	switch len(c) {
	case 0:
		return ListTypeInfo{ElementType: anyType, Cardinality: "0..*"}, nil
	case 1:
		return r.typeOfElement(ctx, env, c[0])
	}

	n := r.SampleSize
	if n <= 0 {
		n = DefaultSampleSize
	}
	sample := c[:min(n, len(c))]
	types := make([]TypeInfo, 0, len(sample))
	for _, e := range sample {
		t, err := r.typeOfElement(ctx, env, e)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	elementType, err := r.commonAncestor(ctx, env, types)
	if err != nil {
		return nil, err
	}
	return ListTypeInfo{ElementType: elementType, Cardinality: "0..*"}, nil
}

func (r *TypeReflector) commonAncestor(ctx context.Context, env lookupEnv, types []TypeInfo) (TypeSpecifier, error) {
	chains := make([][]TypeSpecifier, len(types))
	for i, t := range types {
		chain, err := r.baseChain(ctx, env, t)
		if err != nil {
			return TypeSpecifier{}, err
		}
		chains[i] = chain
	}
candidates:
	for _, candidate := range chains[0] {
		for _, chain := range chains[1:] {
			if !containsType(chain, candidate) {
				continue candidates
			}
		}
		return candidate, nil
	}
	return anyType, nil
}

// baseChain lists t and its ancestors, ending with System.Any.
func (r *TypeReflector) baseChain(ctx context.Context, env lookupEnv, t TypeInfo) ([]TypeSpecifier, error) {
	var chain []TypeSpecifier
	for range maxBaseDepth {
		name, ok := t.QualifiedName()
		if !ok || name == anyType {
			break
		}
		chain = append(chain, name)
		base, ok := t.BaseTypeName()
		if !ok || base == anyType || base.Namespace == "System" {
			break
		}
		next, found, err := r.lookup(ctx, env, base.String())
		if errors.Is(err, ErrMissingCapability) || (err == nil && !found) {
			chain = append(chain, qualify(base))
			break
		}
		if err != nil {
			return nil, err
		}
		t = next
	}
	return append(chain, anyType), nil
}

const maxBaseDepth = 32

func qualify(t TypeSpecifier) TypeSpecifier {
	if t.Namespace == "" {
		t.Namespace = "FHIR"
	}
	return t
}

func containsType(chain []TypeSpecifier, t TypeSpecifier) bool {
	for _, c := range chain {
		if c == t {
			return true
		}
	}
	return false
}

// fhirPrimitives maps FHIR primitive type names to the System types
// documents carry them as.
var fhirPrimitives = map[string]string{
	"boolean":      "Boolean",
	"string":       "String",
	"code":         "String",
	"id":           "String",
	"uri":          "String",
	"url":          "String",
	"canonical":    "String",
	"markdown":     "String",
	"oid":          "String",
	"uuid":         "String",
	"base64Binary": "String",
	"xhtml":        "String",
	"integer":      "Integer",
	"positiveInt":  "Integer",
	"unsignedInt":  "Integer",
	"integer64":    "Long",
	"decimal":      "Decimal",
	"date":         "Date",
	"dateTime":     "DateTime",
	"instant":      "DateTime",
	"time":         "Time",
}

// isA reports whether e is of type spec or a subtype of it. Without a
// model provider, document objects only match their declared type.
func (ec EvaluationContext) isA(ctx context.Context, e Element, spec TypeSpecifier) (bool, error) {
	return ec.Reflector.isA(ctx, ec.lookupEnv(), e, spec)
}

func (r *TypeReflector) isA(ctx context.Context, env lookupEnv, e Element, spec TypeSpecifier) (bool, error) {
	if spec.Namespace == "System" && spec.Name == "Any" {
		return true, nil
	}
	o, isObj := e.(*Object)
	if !isObj {
		name, ok := e.TypeInfo().QualifiedName()
		if !ok {
			return false, nil
		}
		switch spec.Namespace {
		case "", "System":
			if spec.Name == name.Name {
				return true, nil
			}
		}
		if spec.Namespace == "" || spec.Namespace == "FHIR" {
			return fhirPrimitives[spec.Name] == name.Name && name.Namespace == "System", nil
		}
		return false, nil
	}

	if spec.Namespace == "System" {
		return false, nil
	}
	declared := o.typeName
	if declared == "" {
		if o.path == "" {
			return false, nil
		}
		info, ok, err := r.elementType(ctx, env, o.path)
		if err != nil {
			if errors.Is(err, ErrMissingCapability) {
				return false, nil
			}
			return false, err
		}
		name, named := TypeSpecifier{}, false
		if ok {
			name, named = info.QualifiedName()
		}
		if !named {
			return false, nil
		}
		declared = name.Name
	}
	if declared == spec.Name {
		return true, nil
	}
	if env.provider == nil {
		return false, nil
	}

	current := declared
	for range maxBaseDepth {
		info, ok, err := r.lookup(ctx, env, "FHIR."+current)
		if err != nil || !ok {
			return false, err
		}
		base, ok := info.BaseTypeName()
		if !ok || base.Namespace == "System" {
			return false, nil
		}
		if base.Name == spec.Name {
			return true, nil
		}
		current = base.Name
	}
	return false, nil
}
