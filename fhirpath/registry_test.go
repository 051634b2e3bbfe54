package fhirpath

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterValidation(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name string
		op   Operation
		want string
	}{
		{
			name: "missing name",
			op:   NewSyncOperation(OperationMetadata{Kind: FunctionKind}, nil),
			want: "missing name",
		},
		{
			name: "inverted bounds",
			op:   NewSyncOperation(function("f", 2, 1), nil),
			want: "exceed max args",
		},
		{
			name: "binary arity",
			op:   NewSyncOperation(OperationMetadata{Name: "~~", Kind: BinaryKind, MinArgs: 1, MaxArgs: 1}, nil),
			want: "two operands",
		},
		{
			name: "lambda out of range",
			op:   NewOperation(function("g", 1, 1).lambdas(3), nil),
			want: "out of range",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(tt.op)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRegistryOverloadsAgreeOnLambdas(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewOperation(function("f", 1, 1).lambdas(0), nil)))
	err := r.Register(NewSyncOperation(function("f", 1, 1), nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agree on lambda")
}

func TestRegistryDispatchCache(t *testing.T) {
	r := DefaultRegistry()
	sig := Signature{"System.Integer", "System.Integer"}

	first, err := r.Resolve("+", BinaryKind, sig)
	require.NoError(t, err)
	assert.Equal(t, 1, r.CacheLen())

	// resolving again answers from the cache with the same operation
	second, err := r.Resolve("+", BinaryKind, sig)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, r.CacheLen())

	_, err = r.Resolve("+", BinaryKind, Signature{"System.Decimal", "System.Integer"})
	require.NoError(t, err)
	assert.Equal(t, 2, r.CacheLen())

	// registering invalidates
	r.MustRegister(NewSyncOperation(function("custom", 0, 0), func(inv *Invocation) (Collection, error) {
		return nil, nil
	}))
	assert.Equal(t, 0, r.CacheLen())
}

func TestRegistryDispatchCacheBounded(t *testing.T) {
	r := DefaultRegistry(WithDispatchCacheSize(4))
	for _, typ := range []string{"System.Integer", "System.Decimal", "System.String", "System.Boolean", "System.Long", "System.Date"} {
		_, err := r.Resolve("=", BinaryKind, Signature{typ, typ})
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, r.CacheLen(), 4)
}

func TestRegistrySignatureOverloads(t *testing.T) {
	r := DefaultRegistry()
	onStrings := NewSyncOperation(OperationMetadata{
		Name: "describe", Kind: FunctionKind, MinArgs: 0, MaxArgs: 0,
		Signature: func(s Signature) bool { return s.Arg(0) == "System.String" },
	}, func(inv *Invocation) (Collection, error) {
		return Collection{String("string")}, nil
	})
	fallback := NewSyncOperation(function("describe", 0, 0), func(inv *Invocation) (Collection, error) {
		return Collection{String("other")}, nil
	})
	r.MustRegister(onStrings, fallback)

	ctx := context.Background()
	for input, want := range map[string]string{"'a'.describe()": "string", "1.describe()": "other"} {
		got, err := Evaluate(ctx, input, nil, Configuration{Registry: r})
		require.NoError(t, err)
		assert.Equal(t, Collection{String(want)}, got, input)
	}
}

func TestRegistryCustomAsyncFunction(t *testing.T) {
	r := DefaultRegistry()
	var calls int
	r.MustRegister(NewOperation(function("lookupCode", 1, 1), func(ctx context.Context, inv *Invocation) (Collection, error) {
		calls++
		code, _ := stringArg(inv, 0)
		return Collection{String(strings.ToUpper(code))}, nil
	}))

	got, err := Evaluate(context.Background(), "lookupCode('abc') & lookupCode('d')", nil, Configuration{Registry: r})
	require.NoError(t, err)
	assert.Equal(t, Collection{String("ABCD")}, got)
	assert.Equal(t, 2, calls)
}

func TestRegistryArity(t *testing.T) {
	r := DefaultRegistry()

	_, err := r.checkArity("substring", FunctionKind, 3, 7)
	var countErr *ArgumentCountMismatchError
	require.ErrorAs(t, err, &countErr)
	assert.Equal(t, 1, countErr.Min)
	assert.Equal(t, 2, countErr.Max)
	assert.Equal(t, 3, countErr.Got)
	assert.Equal(t, 7, countErr.Pos)

	_, err = r.checkArity("nope", FunctionKind, 0, 0)
	var unknown *UnknownOperationError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "nope", unknown.Name)
}

func TestRegistryArityCached(t *testing.T) {
	r := DefaultRegistry()

	m, err := r.checkArity("substring", FunctionKind, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, "substring", m.Name)
	assert.Equal(t, 1, r.arity.Len())

	// a hit answers without the table, failures are not stored
	again, err := r.checkArity("substring", FunctionKind, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, m.MaxArgs, again.MaxArgs)
	_, err = r.checkArity("substring", FunctionKind, 5, 0)
	require.Error(t, err)
	assert.Equal(t, 1, r.arity.Len())

	r.MustRegister(NewOperation(function("lookupCode", 1, 1), func(context.Context, *Invocation) (Collection, error) {
		return nil, nil
	}))
	assert.Equal(t, 0, r.arity.Len(), "registering invalidates the arity cache")

	assert.Equal(t, 0, r.Clone().arity.Len())
}

func TestRegistryEvaluateDirect(t *testing.T) {
	r := DefaultRegistry()
	inv := &Invocation{
		Kind:  FunctionKind,
		Input: Collection{String("a"), String("b")},
		Args:  []Collection{{String("+")}},
		Exprs: []Expression{MustParse("'+'")},
		Env:   EvaluationContext{Registry: r, Lambda: evaluator{}},
	}
	got, err := r.Evaluate(context.Background(), "join", inv)
	require.NoError(t, err)
	assert.Equal(t, Collection{String("a+b")}, got)

	// where takes its argument unevaluated
	inv = &Invocation{
		Kind:  FunctionKind,
		Input: Collection{Integer(1), Integer(2), Integer(3)},
		Args:  make([]Collection, 1),
		Exprs: []Expression{MustParse("$this >= 2")},
		Env:   EvaluationContext{Registry: r, Lambda: evaluator{}},
	}
	got, err = r.Evaluate(context.Background(), "where", inv)
	require.NoError(t, err)
	assert.Equal(t, Collection{Integer(2), Integer(3)}, got)
}

func TestRegistryTryEvaluateSync(t *testing.T) {
	r := DefaultRegistry()
	inv := &Invocation{
		Kind:  BinaryKind,
		Args:  []Collection{{Integer(2)}, {Integer(3)}},
		Exprs: []Expression{MustParse("2"), MustParse("3")},
		Env:   EvaluationContext{Registry: r},
	}
	got, applicable, err := r.TryEvaluateSync("*", inv)
	require.NoError(t, err)
	assert.True(t, applicable)
	assert.Equal(t, Collection{Integer(6)}, got)

	// asynchronous-only operations decline
	inv = &Invocation{
		Kind:  BinaryKind,
		Args:  []Collection{{Boolean(true)}, nil},
		Exprs: []Expression{MustParse("true"), MustParse("false")},
		Env:   EvaluationContext{Registry: r, Lambda: evaluator{}},
	}
	_, applicable, err = r.TryEvaluateSync("and", inv)
	require.NoError(t, err)
	assert.False(t, applicable)
}

func TestRegistryConcurrentDispatch(t *testing.T) {
	r := DefaultRegistry()
	cfg := Configuration{Registry: r}
	expr := MustParse("(1 | 2 | 3).where($this > 1).select($this * 2)")

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				_, err := expr.Evaluate(context.Background(), nil, cfg)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	assert.Positive(t, r.CacheLen())
}

func TestRegistryClone(t *testing.T) {
	r := DefaultRegistry()
	_, err := r.Resolve("+", BinaryKind, Signature{"System.Integer", "System.Integer"})
	require.NoError(t, err)

	c := r.Clone()
	assert.Equal(t, r.Names(), c.Names())
	assert.Equal(t, 0, c.CacheLen())

	c.MustRegister(NewSyncOperation(function("onlyInClone", 0, 0), func(inv *Invocation) (Collection, error) {
		return nil, nil
	}))
	assert.Contains(t, c.Names(), "onlyInClone")
	assert.NotContains(t, r.Names(), "onlyInClone")
}
