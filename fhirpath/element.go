package fhirpath

import (
	"context"
	"encoding/json"
	"fmt"
)

// Element is a single value flowing through an evaluation.
//
// System primitives, quantities, type descriptors and JSON document nodes
// all implement it.
type Element interface {
	// Children returns all child nodes with given names.
	//
	// If no name is passed, all children are returned.
	Children(name ...string) Collection
	ToBoolean(explicit bool) (v Boolean, ok bool, err error)
	ToString(explicit bool) (v String, ok bool, err error)
	ToInteger(explicit bool) (v Integer, ok bool, err error)
	ToLong(explicit bool) (v Long, ok bool, err error)
	ToDecimal(explicit bool) (v Decimal, ok bool, err error)
	ToDate(explicit bool) (v Date, ok bool, err error)
	ToTime(explicit bool) (v Time, ok bool, err error)
	ToDateTime(explicit bool) (v DateTime, ok bool, err error)
	ToQuantity(explicit bool) (v Quantity, ok bool, err error)
	// Equal reports equality; ok is false when the result is unknown,
	// e.g. for date times of different precision.
	Equal(other Element) (eq bool, ok bool)
	Equivalent(other Element) bool
	TypeInfo() TypeInfo
	json.Marshaler
	fmt.Stringer
}

type cmpElement interface {
	Element
	// Cmp reports ok=false when the operands are incomparable,
	// e.g. quantities with incompatible units.
	Cmp(ctx context.Context, other Element) (cmp int, ok bool, err error)
}

// Arithmetic operations return a nil Element when the result is empty,
// e.g. on division by zero or integer overflow.
type multiplyElement interface {
	Element
	Multiply(ctx context.Context, other Element) (Element, error)
}

type divideElement interface {
	Element
	Divide(ctx context.Context, other Element) (Element, error)
}

type divElement interface {
	Element
	Div(ctx context.Context, other Element) (Element, error)
}

type modElement interface {
	Element
	Mod(ctx context.Context, other Element) (Element, error)
}

type addElement interface {
	Element
	Add(ctx context.Context, other Element) (Element, error)
}

type subtractElement interface {
	Element
	Subtract(ctx context.Context, other Element) (Element, error)
}

// elementTo converts e to the primitive type T.
func elementTo[T Element](e Element, explicit bool) (v T, ok bool, err error) {
	switch any(v).(type) {
	case Boolean:
		r, ok, err := e.ToBoolean(explicit)
		return any(r).(T), ok, err
	case String:
		r, ok, err := e.ToString(explicit)
		return any(r).(T), ok, err
	case Integer:
		r, ok, err := e.ToInteger(explicit)
		return any(r).(T), ok, err
	case Long:
		r, ok, err := e.ToLong(explicit)
		return any(r).(T), ok, err
	case Decimal:
		r, ok, err := e.ToDecimal(explicit)
		return any(r).(T), ok, err
	case Date:
		r, ok, err := e.ToDate(explicit)
		return any(r).(T), ok, err
	case Time:
		r, ok, err := e.ToTime(explicit)
		return any(r).(T), ok, err
	case DateTime:
		r, ok, err := e.ToDateTime(explicit)
		return any(r).(T), ok, err
	case Quantity:
		r, ok, err := e.ToQuantity(explicit)
		return any(r).(T), ok, err
	}
	return v, false, fmt.Errorf("can not convert to type %T", v)
}

// Singleton returns the only element of c converted to T.
//
// Empty collections and collections with more than one element yield
// ok=false, following singleton evaluation of collections.
func Singleton[T Element](c Collection) (v T, ok bool, err error) {
	if len(c) != 1 {
		return v, false, nil
	}
	v, ok, err = elementTo[T](c[0], false)
	if err != nil {
		// implicit conversion not possible: treated as empty
		return v, false, nil
	}
	return v, ok, nil
}

// unwrapPrimitive returns the System primitive backing e, if any.
func unwrapPrimitive(e Element) (Element, bool) {
	switch v := e.(type) {
	case Boolean, String, Integer, Long, Decimal, Date, Time, DateTime, Quantity:
		return v, true
	case *Object:
		if p := v.primitive(); p != nil {
			return p, true
		}
	}
	return nil, false
}

// defaultConversionError supplies the conversions a type does not support.
type defaultConversionError[F any] struct{}

func (defaultConversionError[F]) ToBoolean(explicit bool) (v Boolean, ok bool, err error) {
	return false, false, conversionError[F, Boolean]()
}
func (defaultConversionError[F]) ToString(explicit bool) (v String, ok bool, err error) {
	return "", false, conversionError[F, String]()
}
func (defaultConversionError[F]) ToInteger(explicit bool) (v Integer, ok bool, err error) {
	return 0, false, conversionError[F, Integer]()
}
func (defaultConversionError[F]) ToLong(explicit bool) (v Long, ok bool, err error) {
	return 0, false, conversionError[F, Long]()
}
func (defaultConversionError[F]) ToDecimal(explicit bool) (v Decimal, ok bool, err error) {
	return Decimal{}, false, conversionError[F, Decimal]()
}
func (defaultConversionError[F]) ToDate(explicit bool) (v Date, ok bool, err error) {
	return Date{}, false, conversionError[F, Date]()
}
func (defaultConversionError[F]) ToTime(explicit bool) (v Time, ok bool, err error) {
	return Time{}, false, conversionError[F, Time]()
}
func (defaultConversionError[F]) ToDateTime(explicit bool) (v DateTime, ok bool, err error) {
	return DateTime{}, false, conversionError[F, DateTime]()
}
func (defaultConversionError[F]) ToQuantity(explicit bool) (v Quantity, ok bool, err error) {
	return Quantity{}, false, conversionError[F, Quantity]()
}

func conversionError[F any, T Element]() error {
	var (
		f F
		t T
	)
	return fmt.Errorf("%T can not be converted to %T", f, t)
}

func implicitConversionError[F Element, T Element](f F) error {
	var t T
	return fmt.Errorf("%T %v can not be implicitly converted to %T", f, f, t)
}
