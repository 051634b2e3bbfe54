package fhirpath

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/damedic/fhirpath-engine/fhirpath/internal/cache"
)

// OperationKind tells functions from operators. A function and an operator
// may share a name, e.g. `contains`.
type OperationKind uint8

const (
	FunctionKind OperationKind = iota
	UnaryKind
	BinaryKind
)

func (k OperationKind) String() string {
	switch k {
	case UnaryKind:
		return "unary"
	case BinaryKind:
		return "binary"
	}
	return "function"
}

type Associativity uint8

const (
	LeftAssociative Associativity = iota
	RightAssociative
)

// OperationMetadata describes an operation to the evaluator.
type OperationMetadata struct {
	Name          string
	Kind          OperationKind
	Precedence    int
	Associativity Associativity
	// MinArgs and MaxArgs bound the argument count. MaxArgs is -1 for
	// variadic functions. Operators count their operands.
	MinArgs, MaxArgs int
	// Sync marks operations implementing SyncOperation.
	Sync bool
	// Lambda lists the argument indices passed unevaluated. They are
	// evaluated per item, lazily, or read as type specifiers.
	Lambda []int
	// Singleton operations yield empty unless the focus (for functions)
	// and every evaluated argument hold exactly one element.
	Singleton bool
	// Signature restricts an overload to matching argument types.
	// Nil accepts everything.
	Signature func(Signature) bool
}

func (m OperationMetadata) lazy(i int) bool {
	return slices.Contains(m.Lambda, i)
}

func (m OperationMetadata) accepts(n int) bool {
	return n >= m.MinArgs && (m.MaxArgs < 0 || n <= m.MaxArgs)
}

// Operation is a function or operator.
type Operation interface {
	Metadata() OperationMetadata
	Evaluate(ctx context.Context, inv *Invocation) (Collection, error)
}

// SyncOperation can run without suspending. applicable is false when the
// synchronous path can not answer, e.g. because a type is not cached yet;
// the evaluator then falls back to Evaluate.
type SyncOperation interface {
	Operation
	EvaluateSync(inv *Invocation) (result Collection, applicable bool, err error)
}

type (
	SyncFunc  func(inv *Invocation) (Collection, error)
	AsyncFunc func(ctx context.Context, inv *Invocation) (Collection, error)
	// TryFunc is a synchronous path that may decline.
	TryFunc func(inv *Invocation) (result Collection, applicable bool, err error)
)

type operation struct {
	meta  OperationMetadata
	sync  TryFunc
	async AsyncFunc
}

// NewOperation creates an operation that always runs the asynchronous path.
func NewOperation(meta OperationMetadata, fn AsyncFunc) Operation {
	meta.Sync = false
	return &operation{meta: meta, async: fn}
}

// NewSyncOperation creates a pure operation.
func NewSyncOperation(meta OperationMetadata, fn SyncFunc) SyncOperation {
	meta.Sync = true
	return &operation{meta: meta, sync: func(inv *Invocation) (Collection, bool, error) {
		r, err := fn(inv)
		return r, true, err
	}}
}

// NewHybridOperation creates an operation with a synchronous fast path and
// an asynchronous fallback.
func NewHybridOperation(meta OperationMetadata, sync TryFunc, async AsyncFunc) SyncOperation {
	meta.Sync = true
	return &operation{meta: meta, sync: sync, async: async}
}

func (o *operation) Metadata() OperationMetadata { return o.meta }

func (o *operation) Evaluate(ctx context.Context, inv *Invocation) (Collection, error) {
	if o.async != nil {
		return o.async(ctx, inv)
	}
	r, _, err := o.sync(inv.withContext(ctx))
	return r, err
}

func (o *operation) EvaluateSync(inv *Invocation) (Collection, bool, error) {
	if o.sync == nil {
		return nil, false, nil
	}
	return o.sync(inv)
}

// Signature lists argument types: `System.Integer`, `{}` for empty,
// `List<System.String>` for collections, `Expression` for unevaluated
// arguments. Functions have their focus as first entry.
type Signature []string

func (s Signature) String() string {
	return strings.Join(s, ",")
}

// Arg returns entry i, or "" when missing.
func (s Signature) Arg(i int) string {
	if i < 0 || i >= len(s) {
		return ""
	}
	return s[i]
}

func collectionType(c Collection) string {
	switch len(c) {
	case 0:
		return "{}"
	case 1:
		return elementType(c[0])
	}
	return "List<" + elementType(c[0]) + ">"
}

func elementType(e Element) string {
	if o, ok := e.(*Object); ok {
		if p := o.primitive(); p != nil {
			return elementType(p)
		}
		if o.typeName == "" {
			return "Tuple"
		}
		return "FHIR." + o.typeName
	}
	if name, ok := e.TypeInfo().QualifiedName(); ok {
		return name.String()
	}
	return "System.Any"
}

type opKey struct {
	name string
	kind OperationKind
}

// DefaultDispatchCacheSize is the dispatch cache capacity unless set with
// WithDispatchCacheSize.
const DefaultDispatchCacheSize = 512

// Registry is the single table of functions and operators.
//
// Safe for concurrent use. Registering invalidates the dispatch and arity
// caches.
type Registry struct {
	mu       sync.RWMutex
	ops      map[opKey][]Operation
	dispatch *cache.LRU[Operation]
	// arity maps name, kind and argument count to the accepting overload's
	// metadata.
	arity *cache.LRU[OperationMetadata]
}

type RegistryOption func(*registryOptions)

type registryOptions struct {
	cacheSize int
}

// WithDispatchCacheSize sets the capacity of the dispatch cache.
func WithDispatchCacheSize(size int) RegistryOption {
	return func(o *registryOptions) {
		if size > 0 {
			o.cacheSize = size
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	o := registryOptions{cacheSize: DefaultDispatchCacheSize}
	for _, opt := range opts {
		opt(&o)
	}
	return &Registry{
		ops:      make(map[opKey][]Operation),
		dispatch: cache.New[Operation](o.cacheSize),
		arity:    cache.New[OperationMetadata](o.cacheSize),
	}
}

// Register adds op. Operations sharing name and kind are overloads, tried
// in registration order.
func (r *Registry) Register(op Operation) error {
	m := op.Metadata()
	switch {
	case m.Name == "":
		return fmt.Errorf("register operation: missing name")
	case m.MaxArgs >= 0 && m.MinArgs > m.MaxArgs:
		return fmt.Errorf("register %s: min args %d exceed max args %d", m.Name, m.MinArgs, m.MaxArgs)
	case m.Kind == UnaryKind && (m.MinArgs != 1 || m.MaxArgs != 1):
		return fmt.Errorf("register %s: unary operators take one operand", m.Name)
	case m.Kind == BinaryKind && (m.MinArgs != 2 || m.MaxArgs != 2):
		return fmt.Errorf("register %s: binary operators take two operands", m.Name)
	}
	if _, isSync := op.(SyncOperation); m.Sync && !isSync {
		return fmt.Errorf("register %s: declared sync but does not implement SyncOperation", m.Name)
	}
	for _, i := range m.Lambda {
		if i < 0 || (m.MaxArgs >= 0 && i >= m.MaxArgs) {
			return fmt.Errorf("register %s: lambda index %d out of range", m.Name, i)
		}
	}

	key := opKey{m.Name, m.Kind}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing := r.ops[key]; len(existing) > 0 {
		if !slices.Equal(existing[0].Metadata().Lambda, m.Lambda) {
			return fmt.Errorf("register %s: overloads must agree on lambda arguments", m.Name)
		}
	}
	r.ops[key] = append(r.ops[key], op)
	r.dispatch.Clear()
	r.arity.Clear()
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(ops ...Operation) {
	for _, op := range ops {
		if err := r.Register(op); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the overloads registered under name and kind.
func (r *Registry) Lookup(name string, kind OperationKind) []Operation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.ops[opKey{name, kind}])
}

// Resolve picks the first overload accepting sig.
func (r *Registry) Resolve(name string, kind OperationKind, sig Signature) (Operation, error) {
	op, _, err := r.resolve(name, kind, sig, -1)
	return op, err
}

func dispatchKey(name string, kind OperationKind, sig Signature) string {
	return name + "/" + kind.String() + "(" + sig.String() + ")"
}

// resolve reports whether the dispatch cache answered.
func (r *Registry) resolve(name string, kind OperationKind, sig Signature, pos int) (Operation, bool, error) {
	key := dispatchKey(name, kind, sig)
	if op, ok := r.dispatch.Get(key); ok {
		return op, true, nil
	}

	overloads := r.Lookup(name, kind)
	if len(overloads) == 0 {
		return nil, false, &UnknownOperationError{Name: name, Pos: pos}
	}
	for _, op := range overloads {
		if match := op.Metadata().Signature; match == nil || match(sig) {
			r.dispatch.Set(key, op)
			return op, false, nil
		}
	}
	return nil, false, typeErrorf(pos, "%s is not defined for arguments (%s)", name, sig)
}

// checkArity validates n arguments against the overloads of name.
// Failures are not cached.
func (r *Registry) checkArity(name string, kind OperationKind, n, pos int) (OperationMetadata, error) {
	key := name + "/" + kind.String() + "#" + strconv.Itoa(n)
	if m, ok := r.arity.Get(key); ok {
		return m, nil
	}

	overloads := r.Lookup(name, kind)
	if len(overloads) == 0 {
		return OperationMetadata{}, &UnknownOperationError{Name: name, Pos: pos}
	}
	for _, op := range overloads {
		if m := op.Metadata(); m.accepts(n) {
			r.arity.Set(key, m)
			return m, nil
		}
	}
	m := overloads[0].Metadata()
	return m, &ArgumentCountMismatchError{Name: name, Min: m.MinArgs, Max: m.MaxArgs, Got: n, Pos: pos}
}

// Evaluate resolves and runs an operation, trying the synchronous path
// first.
func (r *Registry) Evaluate(ctx context.Context, name string, inv *Invocation) (Collection, error) {
	r.prepare(name, inv)
	op, err := r.Resolve(name, inv.Kind, inv.Signature())
	if err != nil {
		return nil, err
	}
	return run(ctx, op, inv)
}

// TryEvaluateSync runs only the synchronous path. applicable is false for
// asynchronous operations and when the operation declined.
func (r *Registry) TryEvaluateSync(name string, inv *Invocation) (Collection, bool, error) {
	r.prepare(name, inv)
	op, err := r.Resolve(name, inv.Kind, inv.Signature())
	if err != nil {
		return nil, true, err
	}
	return trySync(op, inv)
}

// prepare fills in the invocation's unevaluated argument indices.
func (r *Registry) prepare(name string, inv *Invocation) {
	if inv.Name == "" {
		inv.Name = name
	}
	if inv.lambda != nil || inv.sig != nil {
		return
	}
	if overloads := r.Lookup(name, inv.Kind); len(overloads) > 0 {
		inv.lambda = overloads[0].Metadata().Lambda
	}
}

func trySync(op Operation, inv *Invocation) (Collection, bool, error) {
	syncOp, ok := op.(SyncOperation)
	if !ok || !op.Metadata().Sync {
		return nil, false, nil
	}
	return syncOp.EvaluateSync(inv)
}

func run(ctx context.Context, op Operation, inv *Invocation) (Collection, error) {
	inv = inv.withContext(ctx)
	if r, applicable, err := trySync(op, inv); applicable || err != nil {
		return r, err
	}
	return op.Evaluate(ctx, inv)
}

// Names lists registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool, len(r.ops))
	var names []string
	for k := range r.ops {
		if !seen[k.name] {
			seen[k.name] = true
			names = append(names, k.name)
		}
	}
	sort.Strings(names)
	return names
}

// Clone returns a registry with the same operations and an empty dispatch
// cache of the same capacity.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := &Registry{
		ops:      make(map[opKey][]Operation, len(r.ops)),
		dispatch: cache.New[Operation](r.dispatch.Capacity()),
		arity:    cache.New[OperationMetadata](r.arity.Capacity()),
	}
	for k, ops := range r.ops {
		c.ops[k] = slices.Clone(ops)
	}
	return c
}

// CacheLen returns the number of cached resolutions.
func (r *Registry) CacheLen() int {
	return r.dispatch.Len()
}
