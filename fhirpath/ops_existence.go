package fhirpath

import (
	"context"
	"fmt"
)

func existenceOperations() []Operation {
	return []Operation{
		NewSyncOperation(function("empty", 0, 0), func(inv *Invocation) (Collection, error) {
			return boolResult(len(inv.Input) == 0), nil
		}),
		NewOperation(function("exists", 0, 1).lambdas(0), func(ctx context.Context, inv *Invocation) (Collection, error) {
			if !inv.HasArg(0) {
				return boolResult(len(inv.Input) > 0), nil
			}
			matched, err := filter(ctx, inv, 0)
			if err != nil {
				return nil, err
			}
			return boolResult(len(matched) > 0), nil
		}),
		NewOperation(function("all", 1, 1).lambdas(0), func(ctx context.Context, inv *Invocation) (Collection, error) {
			for i, e := range inv.Input {
				r, err := inv.EvalLambda(ctx, 0, e, i)
				if err != nil {
					return nil, err
				}
				if b, ok, _ := Singleton[Boolean](r); !ok || !bool(b) {
					return boolResult(false), nil
				}
			}
			return boolResult(true), nil
		}),
		NewSyncOperation(function("allTrue", 0, 0), booleanQuantifier(true, true)),
		NewSyncOperation(function("anyTrue", 0, 0), booleanQuantifier(false, true)),
		NewSyncOperation(function("allFalse", 0, 0), booleanQuantifier(true, false)),
		NewSyncOperation(function("anyFalse", 0, 0), booleanQuantifier(false, false)),
		NewSyncOperation(function("subsetOf", 1, 1), func(inv *Invocation) (Collection, error) {
			return boolResult(subset(inv.Input, inv.Args[0])), nil
		}),
		NewSyncOperation(function("supersetOf", 1, 1), func(inv *Invocation) (Collection, error) {
			return boolResult(subset(inv.Args[0], inv.Input)), nil
		}),
		NewSyncOperation(function("count", 0, 0), func(inv *Invocation) (Collection, error) {
			return Collection{Integer(len(inv.Input))}, nil
		}),
		NewSyncOperation(function("distinct", 0, 0), func(inv *Invocation) (Collection, error) {
			return inv.Input.Distinct(), nil
		}),
		NewSyncOperation(function("isDistinct", 0, 0), func(inv *Invocation) (Collection, error) {
			return boolResult(len(inv.Input.Distinct()) == len(inv.Input)), nil
		}),

		NewOperation(function("where", 1, 1).lambdas(0), func(ctx context.Context, inv *Invocation) (Collection, error) {
			return filter(ctx, inv, 0)
		}),
		NewOperation(function("select", 1, 1).lambdas(0), func(ctx context.Context, inv *Invocation) (Collection, error) {
			var out Collection
			for i, e := range inv.Input {
				r, err := inv.EvalLambda(ctx, 0, e, i)
				if err != nil {
					return nil, err
				}
				out = append(out, r...)
			}
			return out, nil
		}),
		NewOperation(function("repeat", 1, 1).lambdas(0), func(ctx context.Context, inv *Invocation) (Collection, error) {
			return repeat(ctx, inv, true)
		}),
		NewOperation(function("repeatAll", 1, 1).lambdas(0), func(ctx context.Context, inv *Invocation) (Collection, error) {
			return repeat(ctx, inv, false)
		}),
	}
}

func subsettingOperations() []Operation {
	return []Operation{
		NewSyncOperation(function("single", 0, 0), func(inv *Invocation) (Collection, error) {
			if len(inv.Input) > 1 {
				return nil, typeErrorf(inv.Pos, "single: expected at most one element, got %d", len(inv.Input))
			}
			return inv.Input, nil
		}),
		NewSyncOperation(function("first", 0, 0), func(inv *Invocation) (Collection, error) {
			if len(inv.Input) == 0 {
				return nil, nil
			}
			return inv.Input[:1], nil
		}),
		NewSyncOperation(function("last", 0, 0), func(inv *Invocation) (Collection, error) {
			if len(inv.Input) == 0 {
				return nil, nil
			}
			return inv.Input[len(inv.Input)-1:], nil
		}),
		NewSyncOperation(function("tail", 0, 0), func(inv *Invocation) (Collection, error) {
			if len(inv.Input) <= 1 {
				return nil, nil
			}
			return inv.Input[1:], nil
		}),
		NewSyncOperation(function("skip", 1, 1), func(inv *Invocation) (Collection, error) {
			n, ok, err := integerArg(inv, 0)
			if err != nil || !ok {
				return nil, err
			}
			if n <= 0 {
				return inv.Input, nil
			}
			if n >= len(inv.Input) {
				return nil, nil
			}
			return inv.Input[n:], nil
		}),
		NewSyncOperation(function("take", 1, 1), func(inv *Invocation) (Collection, error) {
			n, ok, err := integerArg(inv, 0)
			if err != nil || !ok || n <= 0 {
				return nil, err
			}
			return inv.Input[:min(n, len(inv.Input))], nil
		}),
		NewSyncOperation(function("intersect", 1, 1), func(inv *Invocation) (Collection, error) {
			return inv.Input.Intersect(inv.Args[0]), nil
		}),
		NewSyncOperation(function("exclude", 1, 1), func(inv *Invocation) (Collection, error) {
			return inv.Input.Exclude(inv.Args[0]), nil
		}),
		NewSyncOperation(function("union", 1, 1), func(inv *Invocation) (Collection, error) {
			return inv.Input.Union(inv.Args[0]), nil
		}),
		NewSyncOperation(function("combine", 1, 1), func(inv *Invocation) (Collection, error) {
			return inv.Input.Combine(inv.Args[0]), nil
		}),
	}
}

// filter keeps the items for which argument i evaluates to true.
func filter(ctx context.Context, inv *Invocation, i int) (Collection, error) {
	var out Collection
	for idx, e := range inv.Input {
		r, err := inv.EvalLambda(ctx, i, e, idx)
		if err != nil {
			return nil, err
		}
		if b, ok, _ := Singleton[Boolean](r); ok && bool(b) {
			out = append(out, e)
		}
	}
	return out, nil
}

// booleanQuantifier implements allTrue, anyTrue, allFalse and anyFalse.
func booleanQuantifier(all, want bool) SyncFunc {
	return func(inv *Invocation) (Collection, error) {
		for _, e := range inv.Input {
			b, ok, err := e.ToBoolean(false)
			if err != nil || !ok {
				return nil, incompatible(inv.Name, e, Boolean(want))
			}
			matches := bool(b) == want
			if all && !matches {
				return boolResult(false), nil
			}
			if !all && matches {
				return boolResult(true), nil
			}
		}
		return boolResult(all), nil
	}
}

func subset(c, of Collection) bool {
	for _, e := range c {
		if !of.Contains(e) {
			return false
		}
	}
	return true
}

// repeat applies the projection to the input, then to its results, until
// nothing new turns up. distinct drops items already seen.
func repeat(ctx context.Context, inv *Invocation, distinct bool) (Collection, error) {
	limit := inv.Env.MaxDepth
	if limit <= 0 {
		limit = DefaultMaxDepth
	}
	var out Collection
	current := inv.Input
	for round := 0; len(current) > 0; round++ {
		if round >= limit {
			return nil, fmt.Errorf("%s: no fixed point after %d rounds", inv.Name, round)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var next Collection
		for i, e := range current {
			r, err := inv.EvalLambda(ctx, 0, e, i)
			if err != nil {
				return nil, err
			}
			for _, item := range r {
				if distinct && out.Contains(item) {
					continue
				}
				out = append(out, item)
				next = append(next, item)
			}
		}
		current = next
	}
	return out, nil
}

// integerArg reads argument i as a singleton Integer.
func integerArg(inv *Invocation, i int) (int, bool, error) {
	v, ok, err := Singleton[Integer](inv.Arg(i))
	if err != nil || !ok {
		return 0, false, err
	}
	return int(v), true, nil
}

// stringArg reads argument i as a singleton String.
func stringArg(inv *Invocation, i int) (string, bool) {
	v, ok, _ := Singleton[String](inv.Arg(i))
	return string(v), ok
}
