package fhirpath

import (
	"github.com/cockroachdb/apd/v3"

	"github.com/damedic/fhirpath-engine/fhirpath/internal/overflow"
)

func mathOperations() []Operation {
	return []Operation{
		NewSyncOperation(function("abs", 0, 0).singleton(), abs),
		NewSyncOperation(function("ceiling", 0, 0).singleton(), integral((*apd.Context).Ceil)),
		NewSyncOperation(function("floor", 0, 0).singleton(), integral((*apd.Context).Floor)),
		NewSyncOperation(function("truncate", 0, 0).singleton(), integral(truncate)),
		NewSyncOperation(function("exp", 0, 0).singleton(), decimalFunction((*apd.Context).Exp)),
		NewSyncOperation(function("ln", 0, 0).singleton(), decimalFunction((*apd.Context).Ln)),
		NewSyncOperation(function("sqrt", 0, 0).singleton(), decimalFunction((*apd.Context).Sqrt)),
		NewSyncOperation(function("log", 1, 1).singleton(), logarithm),
		NewSyncOperation(function("power", 1, 1).singleton(), power),
		NewSyncOperation(function("round", 0, 1).singleton(), round),
	}
}

func truncate(c *apd.Context, res, x *apd.Decimal) (apd.Condition, error) {
	var frac apd.Decimal
	x.Modf(res, &frac)
	return 0, nil
}

// decimalOf reads the focus as a Decimal.
func decimalOf(inv *Invocation) (Decimal, bool) {
	p, ok := unwrapPrimitive(inv.Input[0])
	if !ok {
		return Decimal{}, false
	}
	switch p.(type) {
	case Integer, Long, Decimal:
		d, ok, err := p.ToDecimal(false)
		return d, ok && err == nil
	}
	return Decimal{}, false
}

// finite wraps res as a Decimal unless the operation failed or left the
// finite range; math domain errors yield empty.
func finite(res *apd.Decimal, err error) Collection {
	if err != nil || res.Form != apd.Finite {
		return nil
	}
	return Collection{Decimal{Value: res}}
}

func abs(inv *Invocation) (Collection, error) {
	p, _ := unwrapPrimitive(inv.Input[0])
	switch v := p.(type) {
	case Integer:
		if v >= 0 {
			return Collection{v}, nil
		}
		if n, ok := overflow.Neg(int32(v)); ok {
			return Collection{Integer(n)}, nil
		}
		return nil, nil
	case Long:
		if v >= 0 {
			return Collection{v}, nil
		}
		if n, ok := overflow.Neg(int64(v)); ok {
			return Collection{Long(n)}, nil
		}
		return nil, nil
	case Decimal:
		return Collection{Decimal{Value: new(apd.Decimal).Abs(v.Value)}}, nil
	case Quantity:
		return Collection{Quantity{Value: Decimal{Value: new(apd.Decimal).Abs(v.Value.Value)}, Unit: v.Unit}}, nil
	}
	return nil, incompatible("abs", p, nil)
}

type unaryDecimalOp func(c *apd.Context, res, x *apd.Decimal) (apd.Condition, error)

// integral rounds to an integer, keeping Integer and Long inputs as they are.
func integral(op unaryDecimalOp) SyncFunc {
	return func(inv *Invocation) (Collection, error) {
		p, _ := unwrapPrimitive(inv.Input[0])
		switch p.(type) {
		case Integer, Long:
			return Collection{p}, nil
		}
		d, ok := decimalOf(inv)
		if !ok {
			return nil, incompatible(inv.Name, inv.Input[0], nil)
		}
		var res apd.Decimal
		if _, err := op(apdContext(inv.Context()), &res, d.Value); err != nil {
			return nil, nil
		}
		i, err := res.Int64()
		if err != nil {
			return nil, nil
		}
		return Collection{numberFromInt(i)}, nil
	}
}

func decimalFunction(op unaryDecimalOp) SyncFunc {
	return func(inv *Invocation) (Collection, error) {
		d, ok := decimalOf(inv)
		if !ok {
			return nil, incompatible(inv.Name, inv.Input[0], nil)
		}
		var res apd.Decimal
		_, err := op(apdContext(inv.Context()), &res, d.Value)
		return finite(&res, err), nil
	}
}

func logarithm(inv *Invocation) (Collection, error) {
	d, ok := decimalOf(inv)
	if !ok {
		return nil, incompatible("log", inv.Input[0], nil)
	}
	base, ok, _ := Singleton[Decimal](inv.Args[0])
	if !ok {
		return nil, nil
	}
	c := apdContext(inv.Context())
	var num, den, res apd.Decimal
	if _, err := c.Ln(&num, d.Value); err != nil {
		return nil, nil
	}
	if _, err := c.Ln(&den, base.Value); err != nil || den.IsZero() {
		return nil, nil
	}
	_, err := c.Quo(&res, &num, &den)
	return finite(&res, err), nil
}

func power(inv *Invocation) (Collection, error) {
	base, _ := unwrapPrimitive(inv.Input[0])
	exponent, _ := unwrapPrimitive(inv.Args[0][0])
	if e, ok := exponent.(Integer); ok && e >= 0 {
		switch b := base.(type) {
		case Integer:
			if r, ok := intPow(int32(b), int(e)); ok {
				return Collection{Integer(r)}, nil
			}
			return nil, nil
		case Long:
			if r, ok := intPow(int64(b), int(e)); ok {
				return Collection{Long(r)}, nil
			}
			return nil, nil
		}
	}

	d, ok := decimalOf(inv)
	if !ok {
		return nil, incompatible("power", inv.Input[0], inv.Args[0][0])
	}
	e, ok, _ := Singleton[Decimal](inv.Args[0])
	if !ok {
		return nil, nil
	}
	var res apd.Decimal
	_, err := apdContext(inv.Context()).Pow(&res, d.Value, e.Value)
	return finite(&res, err), nil
}

func round(inv *Invocation) (Collection, error) {
	d, ok := decimalOf(inv)
	if !ok {
		return nil, incompatible("round", inv.Input[0], nil)
	}
	precision := 0
	if inv.HasArg(0) {
		p, ok, err := integerArg(inv, 0)
		if err != nil || !ok {
			return nil, err
		}
		if p < 0 {
			return nil, typeErrorf(inv.Pos, "round: precision must not be negative, got %d", p)
		}
		precision = p
	}
	c := *apdContext(inv.Context())
	c.Rounding = apd.RoundHalfUp
	if need := uint32(int(d.Value.NumDigits()) + precision + 1); c.Precision < need {
		c.Precision = need
	}
	var res apd.Decimal
	_, err := c.Quantize(&res, d.Value, -int32(precision))
	return finite(&res, err), nil
}

// intPow computes b**e by squaring, reporting false on overflow.
func intPow[T overflow.Int](b T, e int) (T, bool) {
	r := T(1)
	for e > 0 {
		var ok bool
		if e&1 == 1 {
			if r, ok = overflow.Mul(r, b); !ok {
				return 0, false
			}
		}
		e >>= 1
		if e > 0 {
			if b, ok = overflow.Mul(b, b); !ok {
				return 0, false
			}
		}
	}
	return r, true
}
