package fhirpath

import (
	"context"
)

func conversionOperations() []Operation {
	ops := []Operation{
		NewOperation(function("iif", 2, 3).lambdas(0, 1, 2), iif),
	}
	ops = append(ops, conversion[Boolean]("Boolean")...)
	ops = append(ops, conversion[String]("String")...)
	ops = append(ops, conversion[Integer]("Integer")...)
	ops = append(ops, conversion[Long]("Long")...)
	ops = append(ops, conversion[Decimal]("Decimal")...)
	ops = append(ops, conversion[Date]("Date")...)
	ops = append(ops, conversion[DateTime]("DateTime")...)
	ops = append(ops, conversion[Time]("Time")...)
	ops = append(ops,
		NewSyncOperation(function("toQuantity", 0, 1).singleton(), func(inv *Invocation) (Collection, error) {
			q, ok := toQuantity(inv)
			if !ok {
				return nil, nil
			}
			return Collection{q}, nil
		}),
		NewSyncOperation(function("convertsToQuantity", 0, 1).singleton(), func(inv *Invocation) (Collection, error) {
			_, ok := toQuantity(inv)
			return boolResult(ok), nil
		}),
	)
	return ops
}

// conversion creates toT and convertsToT.
func conversion[T Element](typeName string) []Operation {
	convert := func(inv *Invocation) (T, bool) {
		v, ok, err := elementTo[T](inv.Input[0], true)
		return v, ok && err == nil
	}
	return []Operation{
		NewSyncOperation(function("to"+typeName, 0, 0).singleton(), func(inv *Invocation) (Collection, error) {
			v, ok := convert(inv)
			if !ok {
				return nil, nil
			}
			return Collection{v}, nil
		}),
		NewSyncOperation(function("convertsTo"+typeName, 0, 0).singleton(), func(inv *Invocation) (Collection, error) {
			_, ok := convert(inv)
			return boolResult(ok), nil
		}),
	}
}

// toQuantity converts the focus and, when a unit argument is given,
// expresses it in that unit.
func toQuantity(inv *Invocation) (Quantity, bool) {
	q, ok, err := elementTo[Quantity](inv.Input[0], true)
	if err != nil || !ok {
		return Quantity{}, false
	}
	if !inv.HasArg(0) {
		return q, true
	}
	unit, ok := stringArg(inv, 0)
	if !ok {
		return Quantity{}, false
	}
	units := inv.Env.Units
	if units == nil {
		units = unitConverter(inv.Context())
	}
	return convertTo(units, q, String(unit))
}

// iif evaluates only the chosen branch.
func iif(ctx context.Context, inv *Invocation) (Collection, error) {
	if len(inv.Input) > 1 {
		return nil, typeErrorf(inv.Pos, "iif: expected at most one input element, got %d", len(inv.Input))
	}
	eval := func(i int) (Collection, error) {
		if len(inv.Input) == 1 {
			return inv.EvalLambda(ctx, i, inv.Input[0], 0)
		}
		return inv.EvalOn(ctx, i, inv.Input)
	}

	criterion, err := eval(0)
	if err != nil {
		return nil, err
	}
	if len(criterion) > 1 {
		return nil, typeErrorf(inv.Pos, "iif: criterion must be a single boolean")
	}
	if b, ok, _ := Singleton[Boolean](criterion); ok && bool(b) {
		return eval(1)
	}
	if inv.HasArg(2) {
		return eval(2)
	}
	return nil, nil
}
