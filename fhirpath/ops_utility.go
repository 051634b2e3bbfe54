package fhirpath

import (
	"context"
	"time"
)

func utilityOperations() []Operation {
	return []Operation{
		NewSyncOperation(function("children", 0, 0), func(inv *Invocation) (Collection, error) {
			var out Collection
			for _, e := range inv.Input {
				out = append(out, e.Children()...)
			}
			return out, nil
		}),
		NewSyncOperation(function("descendants", 0, 0), descendants),

		NewOperation(function("trace", 1, 2).lambdas(1), trace),
		NewSyncOperation(function("now", 0, 0), func(inv *Invocation) (Collection, error) {
			return Collection{DateTime{Value: inv.Env.now(), Precision: PrecisionMillisecond, HasTimeZone: true}}, nil
		}),
		NewSyncOperation(function("today", 0, 0), func(inv *Invocation) (Collection, error) {
			y, m, d := inv.Env.now().Date()
			return Collection{Date{Value: time.Date(y, m, d, 0, 0, 0, 0, time.UTC), Precision: PrecisionDay}}, nil
		}),
		NewSyncOperation(function("timeOfDay", 0, 0), func(inv *Invocation) (Collection, error) {
			n := inv.Env.now()
			clock := time.Date(0, time.January, 1, n.Hour(), n.Minute(), n.Second(), n.Nanosecond(), time.UTC)
			return Collection{Time{Value: clock, Precision: PrecisionMillisecond}}, nil
		}),
		NewOperation(function("defineVariable", 1, 2).lambdas(1), defineVariable),
		NewOperation(function("aggregate", 1, 2).lambdas(0), aggregate),

		NewSyncOperation(function("precision", 0, 0).singleton(), precision),
		NewSyncOperation(function("lowBoundary", 0, 1).singleton(), boundary(false)),
		NewSyncOperation(function("highBoundary", 0, 1).singleton(), boundary(true)),
		NewSyncOperation(function("comparable", 1, 1).singleton(), comparable),

		dateComponent("yearOf", PrecisionYear, func(t time.Time) int { return t.Year() }),
		dateComponent("monthOf", PrecisionMonth, func(t time.Time) int { return int(t.Month()) }),
		dateComponent("dayOf", PrecisionDay, func(t time.Time) int { return t.Day() }),
		dateComponent("hourOf", PrecisionHour, func(t time.Time) int { return t.Hour() }),
		dateComponent("minuteOf", PrecisionMinute, func(t time.Time) int { return t.Minute() }),
		dateComponent("secondOf", PrecisionSecond, func(t time.Time) int { return t.Second() }),
		dateComponent("millisecondOf", PrecisionMillisecond, func(t time.Time) int { return t.Nanosecond() / int(time.Millisecond) }),
	}
}

func (ec EvaluationContext) now() time.Time {
	if ec.Now.IsZero() {
		return time.Now()
	}
	return ec.Now
}

func descendants(inv *Invocation) (Collection, error) {
	var out Collection
	current := inv.Input
	for len(current) > 0 {
		var next Collection
		for _, e := range current {
			next = append(next, e.Children()...)
		}
		out = append(out, next...)
		current = next
	}
	return out, nil
}

// trace logs the focus, or the projection in argument 1, and passes the
// focus on.
func trace(ctx context.Context, inv *Invocation) (Collection, error) {
	name, ok := stringArg(inv, 0)
	if !ok {
		return nil, typeErrorf(inv.Pos, "trace: name must be a string")
	}
	values := inv.Input
	if inv.HasArg(1) {
		var err error
		if values, err = inv.EvalOn(ctx, 1, inv.Input); err != nil {
			return nil, err
		}
	}
	tracer := inv.Env.Tracer
	if tracer == nil {
		tracer = tracerFrom(ctx)
	}
	if l := inv.Env.Logger; l != nil {
		ctx = l.WithContext(ctx)
	}
	if err := tracer.Log(ctx, name, values); err != nil {
		return nil, err
	}
	return inv.Input, nil
}

func defineVariable(ctx context.Context, inv *Invocation) (Collection, error) {
	name, ok := stringArg(inv, 0)
	if !ok {
		return nil, typeErrorf(inv.Pos, "defineVariable: name must be a string")
	}
	value := inv.Input
	if inv.HasArg(1) {
		var err error
		if value, err = inv.EvalOn(ctx, 1, inv.Input); err != nil {
			return nil, err
		}
	}
	if err := inv.Define(name, value); err != nil {
		return nil, err
	}
	return inv.Input, nil
}

func aggregate(ctx context.Context, inv *Invocation) (Collection, error) {
	total := inv.Arg(1)
	for i, e := range inv.Input {
		r, err := inv.EvalAggregate(ctx, 0, e, i, total)
		if err != nil {
			return nil, err
		}
		total = r
	}
	return total, nil
}

func precision(inv *Invocation) (Collection, error) {
	p, _ := unwrapPrimitive(inv.Input[0])
	switch v := p.(type) {
	case Decimal:
		return Collection{Integer(v.Scale())}, nil
	case Integer, Long:
		return Collection{Integer(0)}, nil
	case Date:
		return Collection{Integer(v.PrecisionDigits())}, nil
	case DateTime:
		return Collection{Integer(v.PrecisionDigits())}, nil
	case Time:
		return Collection{Integer(v.PrecisionDigits())}, nil
	}
	return nil, incompatible("precision", inv.Input[0], nil)
}

// Default output precisions of lowBoundary and highBoundary.
const (
	defaultDecimalBoundary  = 8
	defaultDateBoundary     = 8
	defaultDateTimeBoundary = 17
	defaultTimeBoundary     = 9
)

func boundary(upper bool) SyncFunc {
	return func(inv *Invocation) (Collection, error) {
		digits, hasDigits := -1, inv.HasArg(0)
		if hasDigits {
			n, ok, err := integerArg(inv, 0)
			if err != nil || !ok {
				return nil, err
			}
			digits = n
		}
		orDefault := func(d int) int {
			if hasDigits {
				return digits
			}
			return d
		}

		p, _ := unwrapPrimitive(inv.Input[0])
		switch v := p.(type) {
		case Integer, Long, Decimal:
			d, _, _ := v.ToDecimal(false)
			b, ok, err := decimalBoundary(inv.Context(), d, orDefault(defaultDecimalBoundary), upper)
			if err != nil || !ok {
				return nil, err
			}
			return Collection{b}, nil
		case Quantity:
			b, ok, err := decimalBoundary(inv.Context(), v.Value, orDefault(defaultDecimalBoundary), upper)
			if err != nil || !ok {
				return nil, err
			}
			return Collection{Quantity{Value: b, Unit: v.Unit}}, nil
		case Date:
			b, ok := v.LowBoundary(orDefault(defaultDateBoundary))
			if upper {
				b, ok = v.HighBoundary(orDefault(defaultDateBoundary))
			}
			if !ok {
				return nil, nil
			}
			return Collection{b}, nil
		case DateTime:
			b, ok := v.LowBoundary(orDefault(defaultDateTimeBoundary))
			if upper {
				b, ok = v.HighBoundary(orDefault(defaultDateTimeBoundary))
			}
			if !ok {
				return nil, nil
			}
			return Collection{b}, nil
		case Time:
			b, ok := v.LowBoundary(orDefault(defaultTimeBoundary))
			if upper {
				b, ok = v.HighBoundary(orDefault(defaultTimeBoundary))
			}
			if !ok {
				return nil, nil
			}
			return Collection{b}, nil
		}
		return nil, incompatible(inv.Name, inv.Input[0], nil)
	}
}

// decimalBoundary accepts output scales from 0 to 28.
func decimalBoundary(ctx context.Context, d Decimal, scale int, upper bool) (Decimal, bool, error) {
	if scale < 0 || scale > 28 {
		return Decimal{}, false, nil
	}
	var (
		b   Decimal
		err error
	)
	if upper {
		b, err = d.HighBoundary(ctx, scale)
	} else {
		b, err = d.LowBoundary(ctx, scale)
	}
	return b, err == nil, err
}

func comparable(inv *Invocation) (Collection, error) {
	a, aok, _ := Singleton[Quantity](inv.Input)
	b, bok, _ := Singleton[Quantity](inv.Args[0])
	if !aok || !bok {
		return nil, nil
	}
	units := inv.Env.Units
	if units == nil {
		units = unitConverter(inv.Context())
	}
	_, ac, aok := units.Canonical(a.Value, a.Unit)
	_, bc, bok := units.Canonical(b.Value, b.Unit)
	return boolResult(aok && bok && ac == bc), nil
}

// dateComponent extracts a component present at precision want or finer.
func dateComponent(name string, want Precision, get func(time.Time) int) Operation {
	return NewSyncOperation(function(name, 0, 0).singleton(), func(inv *Invocation) (Collection, error) {
		var (
			v    time.Time
			prec Precision
		)
		p, _ := unwrapPrimitive(inv.Input[0])
		switch e := p.(type) {
		case Date:
			v, prec = e.Value, e.Precision
		case DateTime:
			v, prec = e.Value, e.Precision
		case Time:
			if want < PrecisionHour {
				return nil, nil
			}
			v, prec = e.Value, e.Precision
		default:
			return nil, incompatible(name, inv.Input[0], nil)
		}
		if prec < want {
			return nil, nil
		}
		return Collection{Integer(get(v))}, nil
	})
}
