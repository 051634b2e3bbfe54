package fhirpath

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Collection is the result of every expression.
type Collection []Element

// Equal implements `=`. ok is false when the result is empty: either side
// is empty or an element comparison is undetermined.
func (c Collection) Equal(other Collection) (eq bool, ok bool) {
	return collectionEqual(context.Background(), c, other)
}

func collectionEqual(ctx context.Context, c, other Collection) (eq bool, ok bool) {
	if len(c) == 0 || len(other) == 0 {
		return false, false
	}
	if len(c) != len(other) {
		return false, true
	}
	for i, e := range c {
		eq, ok := elementsEqual(ctx, e, other[i])
		if !ok || !eq {
			return false, ok
		}
	}
	return true, true
}

// elementsEqual compares quantities with the converter installed in ctx.
func elementsEqual(ctx context.Context, a, b Element) (eq bool, ok bool) {
	pa, aok := unwrapPrimitive(a)
	pb, bok := unwrapPrimitive(b)
	if aok && bok {
		qa, aIsQ := pa.(Quantity)
		qb, bIsQ := pb.(Quantity)
		if aIsQ && bIsQ {
			c, ok, err := compareQuantities(unitConverter(ctx), qa, qb)
			if err != nil || !ok {
				return false, false
			}
			return c == 0, true
		}
	}
	return a.Equal(b)
}

// Equivalent implements `~`: order does not matter and the result is never
// empty.
func (c Collection) Equivalent(other Collection) bool {
	if len(c) != len(other) {
		return false
	}
	matched := make([]bool, len(other))
outer:
	for _, e := range c {
		for j, o := range other {
			if !matched[j] && e.Equivalent(o) {
				matched[j] = true
				continue outer
			}
		}
		return false
	}
	return true
}

// Contains reports whether an element equal to e is present.
func (c Collection) Contains(e Element) bool {
	for _, x := range c {
		if eq, ok := x.Equal(e); ok && eq {
			return true
		}
	}
	return false
}

// Distinct removes duplicates, keeping first occurrences in order.
func (c Collection) Distinct() Collection {
	var out Collection
	for _, e := range c {
		if !out.Contains(e) {
			out = append(out, e)
		}
	}
	return out
}

// Union merges both collections and removes duplicates.
func (c Collection) Union(other Collection) Collection {
	merged := make(Collection, 0, len(c)+len(other))
	merged = append(merged, c...)
	merged = append(merged, other...)
	return merged.Distinct()
}

// Combine concatenates both collections, keeping duplicates.
func (c Collection) Combine(other Collection) Collection {
	combined := slices.Clone(c)
	return append(combined, other...)
}

// Intersect returns the distinct elements present in both collections.
func (c Collection) Intersect(other Collection) Collection {
	var out Collection
	for _, e := range c {
		if other.Contains(e) && !out.Contains(e) {
			out = append(out, e)
		}
	}
	return out
}

// Exclude returns the elements not present in other, keeping duplicates.
func (c Collection) Exclude(other Collection) Collection {
	var out Collection
	for _, e := range c {
		if !other.Contains(e) {
			out = append(out, e)
		}
	}
	return out
}

func (c Collection) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Element(c))
}

func (c Collection) String() string {
	if len(c) == 0 {
		return "{ }"
	}
	var b strings.Builder
	b.WriteString("{ ")
	for i, e := range c {
		if i > 0 {
			b.WriteString(", ")
		}
		// strings.Builder never fails
		_, _ = fmt.Fprint(&b, e)
	}
	b.WriteString(" }")
	return b.String()
}
