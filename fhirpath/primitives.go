package fhirpath

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/damedic/fhirpath-engine/fhirpath/internal/overflow"
)

// errIncompatible marks operands whose types do not support an operator.
// The operator layer turns it into an empty result.
var errIncompatible = errors.New("incompatible operand types")

func incompatible(op string, left, right Element) error {
	return fmt.Errorf("%w: %T %s %T", errIncompatible, left, op, right)
}

var anyType = TypeSpecifier{Namespace: "System", Name: "Any"}

func systemType(name string) SimpleTypeInfo {
	return SimpleTypeInfo{Namespace: "System", Name: name, BaseType: anyType}
}

type Boolean bool

func (b Boolean) Children(name ...string) Collection { return nil }

func (b Boolean) ToBoolean(explicit bool) (v Boolean, ok bool, err error) {
	return b, true, nil
}
func (b Boolean) ToString(explicit bool) (v String, ok bool, err error) {
	if !explicit {
		return "", false, implicitConversionError[Boolean, String](b)
	}
	return String(b.String()), true, nil
}
func (b Boolean) ToInteger(explicit bool) (v Integer, ok bool, err error) {
	if !explicit {
		return 0, false, implicitConversionError[Boolean, Integer](b)
	}
	if b {
		return 1, true, nil
	}
	return 0, true, nil
}
func (b Boolean) ToLong(explicit bool) (v Long, ok bool, err error) {
	i, ok, err := b.ToInteger(explicit)
	return Long(i), ok, err
}
func (b Boolean) ToDecimal(explicit bool) (v Decimal, ok bool, err error) {
	if !explicit {
		return Decimal{}, false, implicitConversionError[Boolean, Decimal](b)
	}
	if b {
		return Decimal{Value: apd.New(10, -1)}, true, nil
	}
	return Decimal{Value: apd.New(0, -1)}, true, nil
}
func (b Boolean) ToDate(explicit bool) (v Date, ok bool, err error) {
	return Date{}, false, conversionError[Boolean, Date]()
}
func (b Boolean) ToTime(explicit bool) (v Time, ok bool, err error) {
	return Time{}, false, conversionError[Boolean, Time]()
}
func (b Boolean) ToDateTime(explicit bool) (v DateTime, ok bool, err error) {
	return DateTime{}, false, conversionError[Boolean, DateTime]()
}
func (b Boolean) ToQuantity(explicit bool) (v Quantity, ok bool, err error) {
	d, ok, err := b.ToDecimal(explicit)
	if err != nil || !ok {
		return Quantity{}, ok, err
	}
	return Quantity{Value: d, Unit: "1"}, true, nil
}
func (b Boolean) Equal(other Element) (eq bool, ok bool) {
	if o, isObj := other.(*Object); isObj {
		return o.Equal(b)
	}
	o, isBool := other.(Boolean)
	return isBool && b == o, true
}
func (b Boolean) Equivalent(other Element) bool {
	eq, ok := b.Equal(other)
	return ok && eq
}
func (b Boolean) TypeInfo() TypeInfo { return systemType("Boolean") }
func (b Boolean) MarshalJSON() ([]byte, error) {
	return json.Marshal(bool(b))
}
func (b Boolean) String() string {
	return strconv.FormatBool(bool(b))
}

type String string

func (s String) Children(name ...string) Collection { return nil }

var (
	trueStrings  = []string{"true", "t", "yes", "y", "1", "1.0"}
	falseStrings = []string{"false", "f", "no", "n", "0", "0.0"}
	integerRegex = regexp.MustCompile(`^[+-]?\d+$`)
	decimalRegex = regexp.MustCompile(`^[+-]?\d+(\.\d+)?$`)
)

func (s String) ToBoolean(explicit bool) (v Boolean, ok bool, err error) {
	if !explicit {
		return false, false, implicitConversionError[String, Boolean](s)
	}
	lower := strings.ToLower(string(s))
	for _, t := range trueStrings {
		if lower == t {
			return true, true, nil
		}
	}
	for _, f := range falseStrings {
		if lower == f {
			return false, true, nil
		}
	}
	return false, false, nil
}
func (s String) ToString(explicit bool) (v String, ok bool, err error) {
	return s, true, nil
}
func (s String) ToInteger(explicit bool) (v Integer, ok bool, err error) {
	if !explicit {
		return 0, false, implicitConversionError[String, Integer](s)
	}
	if !integerRegex.MatchString(string(s)) {
		return 0, false, nil
	}
	i, err := strconv.ParseInt(string(s), 10, 32)
	if err != nil {
		return 0, false, nil
	}
	return Integer(i), true, nil
}
func (s String) ToLong(explicit bool) (v Long, ok bool, err error) {
	if !explicit {
		return 0, false, implicitConversionError[String, Long](s)
	}
	if !integerRegex.MatchString(string(s)) {
		return 0, false, nil
	}
	i, err := strconv.ParseInt(string(s), 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return Long(i), true, nil
}
func (s String) ToDecimal(explicit bool) (v Decimal, ok bool, err error) {
	if !explicit {
		return Decimal{}, false, implicitConversionError[String, Decimal](s)
	}
	if !decimalRegex.MatchString(string(s)) {
		return Decimal{}, false, nil
	}
	d, _, err := apd.NewFromString(string(s))
	if err != nil {
		return Decimal{}, false, nil
	}
	return Decimal{Value: d}, true, nil
}
func (s String) ToDate(explicit bool) (v Date, ok bool, err error) {
	if !explicit {
		return Date{}, false, implicitConversionError[String, Date](s)
	}
	d, err := ParseDate(string(s))
	if err != nil {
		return Date{}, false, nil
	}
	return d, true, nil
}
func (s String) ToTime(explicit bool) (v Time, ok bool, err error) {
	if !explicit {
		return Time{}, false, implicitConversionError[String, Time](s)
	}
	t, err := ParseTime(string(s))
	if err != nil {
		return Time{}, false, nil
	}
	return t, true, nil
}
func (s String) ToDateTime(explicit bool) (v DateTime, ok bool, err error) {
	if !explicit {
		return DateTime{}, false, implicitConversionError[String, DateTime](s)
	}
	dt, err := ParseDateTime(string(s))
	if err != nil {
		return DateTime{}, false, nil
	}
	return dt, true, nil
}
func (s String) ToQuantity(explicit bool) (v Quantity, ok bool, err error) {
	if !explicit {
		return Quantity{}, false, implicitConversionError[String, Quantity](s)
	}
	q, err := ParseQuantity(string(s))
	if err != nil {
		return Quantity{}, false, nil
	}
	return q, true, nil
}
func (s String) Equal(other Element) (eq bool, ok bool) {
	if o, isObj := other.(*Object); isObj {
		return o.Equal(s)
	}
	o, isString := other.(String)
	return isString && s == o, true
}

var (
	whitespaceRegex = regexp.MustCompile(`\s+`)
	foldCaser       = cases.Fold()
)

// normalizeString prepares a string for equivalence: case folded with runs
// of whitespace collapsed to a single space.
func normalizeString(s string) string {
	return whitespaceRegex.ReplaceAllString(strings.TrimSpace(foldCaser.String(s)), " ")
}

func (s String) Equivalent(other Element) bool {
	var o String
	switch v := other.(type) {
	case String:
		o = v
	case *Object:
		return v.Equivalent(s)
	default:
		return false
	}
	return normalizeString(string(s)) == normalizeString(string(o))
}
func (s String) Cmp(ctx context.Context, other Element) (cmp int, ok bool, err error) {
	o, isString := other.(String)
	if !isString {
		return 0, false, incompatible("<", s, other)
	}
	return strings.Compare(string(s), string(o)), true, nil
}
func (s String) Add(ctx context.Context, other Element) (Element, error) {
	o, isString := other.(String)
	if !isString {
		return nil, incompatible("+", s, other)
	}
	return s + o, nil
}
func (s String) TypeInfo() TypeInfo { return systemType("String") }
func (s String) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}
func (s String) String() string {
	return "'" + strings.ReplaceAll(string(s), "'", `\'`) + "'"
}

var (
	upperCaser = cases.Upper(language.Und)
	lowerCaser = cases.Lower(language.Und)
)

type Integer int32

func (i Integer) Children(name ...string) Collection { return nil }

func (i Integer) ToBoolean(explicit bool) (v Boolean, ok bool, err error) {
	if !explicit {
		return false, false, implicitConversionError[Integer, Boolean](i)
	}
	switch i {
	case 0:
		return false, true, nil
	case 1:
		return true, true, nil
	}
	return false, false, nil
}
func (i Integer) ToString(explicit bool) (v String, ok bool, err error) {
	if !explicit {
		return "", false, implicitConversionError[Integer, String](i)
	}
	return String(i.String()), true, nil
}
func (i Integer) ToInteger(explicit bool) (v Integer, ok bool, err error) {
	return i, true, nil
}
func (i Integer) ToLong(explicit bool) (v Long, ok bool, err error) {
	return Long(i), true, nil
}
func (i Integer) ToDecimal(explicit bool) (v Decimal, ok bool, err error) {
	return Decimal{Value: apd.New(int64(i), 0)}, true, nil
}
func (i Integer) ToDate(explicit bool) (v Date, ok bool, err error) {
	return Date{}, false, conversionError[Integer, Date]()
}
func (i Integer) ToTime(explicit bool) (v Time, ok bool, err error) {
	return Time{}, false, conversionError[Integer, Time]()
}
func (i Integer) ToDateTime(explicit bool) (v DateTime, ok bool, err error) {
	return DateTime{}, false, conversionError[Integer, DateTime]()
}
func (i Integer) ToQuantity(explicit bool) (v Quantity, ok bool, err error) {
	return Quantity{Value: Decimal{Value: apd.New(int64(i), 0)}, Unit: "1"}, true, nil
}
func (i Integer) Equal(other Element) (eq bool, ok bool) {
	switch o := other.(type) {
	case Integer:
		return i == o, true
	case Long:
		return Long(i) == o, true
	case Decimal, Quantity, *Object:
		return other.Equal(i)
	}
	return false, true
}
func (i Integer) Equivalent(other Element) bool {
	switch other.(type) {
	case Decimal, Quantity, *Object:
		return other.Equivalent(i)
	}
	eq, ok := i.Equal(other)
	return ok && eq
}
func (i Integer) Cmp(ctx context.Context, other Element) (cmp int, ok bool, err error) {
	return Long(i).Cmp(ctx, other)
}
func (i Integer) Multiply(ctx context.Context, other Element) (Element, error) {
	if o, isInt := other.(Integer); isInt {
		r, ok := overflow.Mul(int32(i), int32(o))
		if !ok {
			return nil, nil
		}
		return Integer(r), nil
	}
	return Long(i).Multiply(ctx, other)
}
func (i Integer) Divide(ctx context.Context, other Element) (Element, error) {
	d, _, _ := i.ToDecimal(false)
	return d.Divide(ctx, other)
}
func (i Integer) Div(ctx context.Context, other Element) (Element, error) {
	if o, isInt := other.(Integer); isInt {
		r, ok := overflow.Div(int32(i), int32(o))
		if !ok {
			return nil, nil
		}
		return Integer(r), nil
	}
	return Long(i).Div(ctx, other)
}
func (i Integer) Mod(ctx context.Context, other Element) (Element, error) {
	if o, isInt := other.(Integer); isInt {
		r, ok := overflow.Mod(int32(i), int32(o))
		if !ok {
			return nil, nil
		}
		return Integer(r), nil
	}
	return Long(i).Mod(ctx, other)
}
func (i Integer) Add(ctx context.Context, other Element) (Element, error) {
	if o, isInt := other.(Integer); isInt {
		r, ok := overflow.Add(int32(i), int32(o))
		if !ok {
			return nil, nil
		}
		return Integer(r), nil
	}
	return Long(i).Add(ctx, other)
}
func (i Integer) Subtract(ctx context.Context, other Element) (Element, error) {
	if o, isInt := other.(Integer); isInt {
		r, ok := overflow.Sub(int32(i), int32(o))
		if !ok {
			return nil, nil
		}
		return Integer(r), nil
	}
	return Long(i).Subtract(ctx, other)
}
func (i Integer) TypeInfo() TypeInfo { return systemType("Integer") }
func (i Integer) MarshalJSON() ([]byte, error) {
	return json.Marshal(int32(i))
}
func (i Integer) String() string {
	return strconv.FormatInt(int64(i), 10)
}

type Long int64

func (l Long) Children(name ...string) Collection { return nil }

func (l Long) ToBoolean(explicit bool) (v Boolean, ok bool, err error) {
	if !explicit {
		return false, false, implicitConversionError[Long, Boolean](l)
	}
	switch l {
	case 0:
		return false, true, nil
	case 1:
		return true, true, nil
	}
	return false, false, nil
}
func (l Long) ToString(explicit bool) (v String, ok bool, err error) {
	if !explicit {
		return "", false, implicitConversionError[Long, String](l)
	}
	return String(l.String()), true, nil
}
func (l Long) ToInteger(explicit bool) (v Integer, ok bool, err error) {
	if !explicit {
		return 0, false, implicitConversionError[Long, Integer](l)
	}
	if int64(int32(l)) != int64(l) {
		return 0, false, nil
	}
	return Integer(l), true, nil
}
func (l Long) ToLong(explicit bool) (v Long, ok bool, err error) {
	return l, true, nil
}
func (l Long) ToDecimal(explicit bool) (v Decimal, ok bool, err error) {
	return Decimal{Value: apd.New(int64(l), 0)}, true, nil
}
func (l Long) ToDate(explicit bool) (v Date, ok bool, err error) {
	return Date{}, false, conversionError[Long, Date]()
}
func (l Long) ToTime(explicit bool) (v Time, ok bool, err error) {
	return Time{}, false, conversionError[Long, Time]()
}
func (l Long) ToDateTime(explicit bool) (v DateTime, ok bool, err error) {
	return DateTime{}, false, conversionError[Long, DateTime]()
}
func (l Long) ToQuantity(explicit bool) (v Quantity, ok bool, err error) {
	return Quantity{Value: Decimal{Value: apd.New(int64(l), 0)}, Unit: "1"}, true, nil
}
func (l Long) Equal(other Element) (eq bool, ok bool) {
	switch o := other.(type) {
	case Integer:
		return l == Long(o), true
	case Long:
		return l == o, true
	case Decimal, Quantity, *Object:
		return other.Equal(l)
	}
	return false, true
}
func (l Long) Equivalent(other Element) bool {
	switch other.(type) {
	case Decimal, Quantity, *Object:
		return other.Equivalent(l)
	}
	eq, ok := l.Equal(other)
	return ok && eq
}
func (l Long) Cmp(ctx context.Context, other Element) (cmp int, ok bool, err error) {
	switch o := other.(type) {
	case Integer:
		return compareInts(int64(l), int64(o)), true, nil
	case Long:
		return compareInts(int64(l), int64(o)), true, nil
	case Decimal, Quantity:
		d, _, _ := l.ToDecimal(false)
		return d.Cmp(ctx, other)
	}
	return 0, false, incompatible("<", l, other)
}

// longOperand widens an Integer or Long operand. Decimal operands report
// false so the caller can promote the whole operation.
func longOperand(op string, l Long, other Element) (Long, bool, error) {
	switch o := other.(type) {
	case Integer:
		return Long(o), true, nil
	case Long:
		return o, true, nil
	case Decimal:
		return 0, false, nil
	}
	return 0, false, incompatible(op, l, other)
}

func (l Long) Multiply(ctx context.Context, other Element) (Element, error) {
	o, ok, err := longOperand("*", l, other)
	if err != nil {
		return nil, err
	}
	if !ok {
		d, _, _ := l.ToDecimal(false)
		return d.Multiply(ctx, other)
	}
	r, ok := overflow.Mul(int64(l), int64(o))
	if !ok {
		return nil, nil
	}
	return Long(r), nil
}
func (l Long) Divide(ctx context.Context, other Element) (Element, error) {
	d, _, _ := l.ToDecimal(false)
	return d.Divide(ctx, other)
}
func (l Long) Div(ctx context.Context, other Element) (Element, error) {
	o, ok, err := longOperand("div", l, other)
	if err != nil {
		return nil, err
	}
	if !ok {
		d, _, _ := l.ToDecimal(false)
		return d.Div(ctx, other)
	}
	r, ok := overflow.Div(int64(l), int64(o))
	if !ok {
		return nil, nil
	}
	return Long(r), nil
}
func (l Long) Mod(ctx context.Context, other Element) (Element, error) {
	o, ok, err := longOperand("mod", l, other)
	if err != nil {
		return nil, err
	}
	if !ok {
		d, _, _ := l.ToDecimal(false)
		return d.Mod(ctx, other)
	}
	r, ok := overflow.Mod(int64(l), int64(o))
	if !ok {
		return nil, nil
	}
	return Long(r), nil
}
func (l Long) Add(ctx context.Context, other Element) (Element, error) {
	o, ok, err := longOperand("+", l, other)
	if err != nil {
		return nil, err
	}
	if !ok {
		d, _, _ := l.ToDecimal(false)
		return d.Add(ctx, other)
	}
	r, ok := overflow.Add(int64(l), int64(o))
	if !ok {
		return nil, nil
	}
	return Long(r), nil
}
func (l Long) Subtract(ctx context.Context, other Element) (Element, error) {
	o, ok, err := longOperand("-", l, other)
	if err != nil {
		return nil, err
	}
	if !ok {
		d, _, _ := l.ToDecimal(false)
		return d.Subtract(ctx, other)
	}
	r, ok := overflow.Sub(int64(l), int64(o))
	if !ok {
		return nil, nil
	}
	return Long(r), nil
}
func (l Long) TypeInfo() TypeInfo { return systemType("Long") }
func (l Long) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(l))
}
func (l Long) String() string {
	return strconv.FormatInt(int64(l), 10)
}

func compareInts(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

type Decimal struct {
	defaultConversionError[Decimal]
	Value *apd.Decimal
}

// NewDecimal parses s into a Decimal, keeping its scale.
func NewDecimal(s string) (Decimal, error) {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return Decimal{Value: d}, nil
}

func (d Decimal) Children(name ...string) Collection { return nil }

func (d Decimal) ToBoolean(explicit bool) (v Boolean, ok bool, err error) {
	if !explicit {
		return false, false, implicitConversionError[Decimal, Boolean](d)
	}
	switch {
	case d.Value.Cmp(apd.New(1, 0)) == 0:
		return true, true, nil
	case d.Value.IsZero():
		return false, true, nil
	}
	return false, false, nil
}
func (d Decimal) ToString(explicit bool) (v String, ok bool, err error) {
	if !explicit {
		return "", false, implicitConversionError[Decimal, String](d)
	}
	return String(d.String()), true, nil
}
func (d Decimal) ToDecimal(explicit bool) (v Decimal, ok bool, err error) {
	return d, true, nil
}
func (d Decimal) ToQuantity(explicit bool) (v Quantity, ok bool, err error) {
	return Quantity{Value: d, Unit: "1"}, true, nil
}

// decimalOperand promotes numeric operands to Decimal.
func decimalOperand(op string, d Decimal, other Element) (Decimal, error) {
	switch o := other.(type) {
	case Decimal:
		return o, nil
	case Integer, Long:
		v, _, _ := o.ToDecimal(false)
		return v, nil
	}
	return Decimal{}, incompatible(op, d, other)
}

func (d Decimal) Equal(other Element) (eq bool, ok bool) {
	switch other.(type) {
	case Quantity, *Object:
		return other.Equal(d)
	}
	o, err := decimalOperand("=", d, other)
	if err != nil {
		return false, true
	}
	return d.Value.Cmp(o.Value) == 0, true
}

// Equivalent compares at the precision of the less precise operand.
func (d Decimal) Equivalent(other Element) bool {
	switch other.(type) {
	case Quantity, *Object:
		return other.Equivalent(d)
	}
	o, err := decimalOperand("~", d, other)
	if err != nil {
		return false
	}
	scale := min(d.Scale(), o.Scale())
	var a, b apd.Decimal
	if _, err := apd.BaseContext.WithPrecision(defaultDecimalPrecision).Quantize(&a, d.Value, -int32(scale)); err != nil {
		return false
	}
	if _, err := apd.BaseContext.WithPrecision(defaultDecimalPrecision).Quantize(&b, o.Value, -int32(scale)); err != nil {
		return false
	}
	return a.Cmp(&b) == 0
}
func (d Decimal) Cmp(ctx context.Context, other Element) (cmp int, ok bool, err error) {
	if q, isQuantity := other.(Quantity); isQuantity {
		self, _, _ := d.ToQuantity(false)
		return self.Cmp(ctx, q)
	}
	o, err := decimalOperand("<", d, other)
	if err != nil {
		return 0, false, err
	}
	return d.Value.Cmp(o.Value), true, nil
}

type apdOp func(c *apd.Context, res, x, y *apd.Decimal) (apd.Condition, error)

func (d Decimal) arith(ctx context.Context, op string, other Element, f apdOp, zeroIsEmpty bool) (Element, error) {
	if q, isQuantity := other.(Quantity); isQuantity && (op == "*" || op == "/") {
		self, _, _ := d.ToQuantity(false)
		if op == "*" {
			return self.Multiply(ctx, q)
		}
		return self.Divide(ctx, q)
	}
	o, err := decimalOperand(op, d, other)
	if err != nil {
		return nil, err
	}
	if zeroIsEmpty && o.Value.IsZero() {
		return nil, nil
	}
	var res apd.Decimal
	if _, err := f(apdContext(ctx), &res, d.Value, o.Value); err != nil {
		return nil, fmt.Errorf("decimal %s: %w", op, err)
	}
	return Decimal{Value: &res}, nil
}

func (d Decimal) Multiply(ctx context.Context, other Element) (Element, error) {
	return d.arith(ctx, "*", other, (*apd.Context).Mul, false)
}
func (d Decimal) Divide(ctx context.Context, other Element) (Element, error) {
	r, err := d.arith(ctx, "/", other, (*apd.Context).Quo, true)
	if dec, ok := r.(Decimal); ok && err == nil {
		return Decimal{Value: trimZeros(dec.Value)}, nil
	}
	return r, err
}
func (d Decimal) Div(ctx context.Context, other Element) (Element, error) {
	r, err := d.arith(ctx, "div", other, (*apd.Context).QuoInteger, true)
	if err != nil || r == nil {
		return r, err
	}
	// truncated division of decimals yields an Integer
	i, err := r.(Decimal).Value.Int64()
	if err != nil {
		return nil, nil
	}
	if int64(int32(i)) != i {
		return Long(i), nil
	}
	return Integer(i), nil
}
func (d Decimal) Mod(ctx context.Context, other Element) (Element, error) {
	return d.arith(ctx, "mod", other, (*apd.Context).Rem, true)
}
func (d Decimal) Add(ctx context.Context, other Element) (Element, error) {
	return d.arith(ctx, "+", other, (*apd.Context).Add, false)
}
func (d Decimal) Subtract(ctx context.Context, other Element) (Element, error) {
	return d.arith(ctx, "-", other, (*apd.Context).Sub, false)
}

// trimZeros drops trailing fractional zeros introduced by division.
func trimZeros(v *apd.Decimal) *apd.Decimal {
	var r apd.Decimal
	r.Reduce(v)
	if r.Exponent > 0 {
		// keep integral results in plain notation
		_, _ = apd.BaseContext.WithPrecision(defaultDecimalPrecision).Quantize(&r, &r, 0)
	}
	return &r
}

// Scale returns the number of digits after the decimal point.
func (d Decimal) Scale() int {
	if d.Value.Exponent < 0 {
		return int(-d.Value.Exponent)
	}
	return 0
}

// LowBoundary returns the least value the decimal could stand for given
// its precision, rendered with outputScale fractional digits.
func (d Decimal) LowBoundary(ctx context.Context, outputScale int) (Decimal, error) {
	return d.boundary(ctx, outputScale, apd.RoundFloor, (*apd.Context).Sub)
}

// HighBoundary is the counterpart of LowBoundary.
func (d Decimal) HighBoundary(ctx context.Context, outputScale int) (Decimal, error) {
	return d.boundary(ctx, outputScale, apd.RoundCeiling, (*apd.Context).Add)
}

func (d Decimal) boundary(ctx context.Context, outputScale int, rounding apd.Rounder, f apdOp) (Decimal, error) {
	calc := *apdContext(ctx)
	calc.Rounding = rounding
	if need := uint32(d.Scale() + outputScale + int(d.Value.NumDigits()) + 2); calc.Precision < need {
		calc.Precision = need
	}
	var half apd.Decimal
	half.SetFinite(5, -1-int32(d.Scale()))

	var shifted, out apd.Decimal
	if _, err := f(&calc, &shifted, d.Value, &half); err != nil {
		return Decimal{}, err
	}
	if _, err := calc.Quantize(&out, &shifted, -int32(outputScale)); err != nil {
		return Decimal{}, err
	}
	return Decimal{Value: &out}, nil
}

func (d Decimal) TypeInfo() TypeInfo { return systemType("Decimal") }
func (d Decimal) MarshalJSON() ([]byte, error) {
	return []byte(d.String()), nil
}
func (d Decimal) String() string {
	if d.Value == nil {
		return "0"
	}
	return d.Value.Text('f')
}

type apdContextKey struct{}

// WithAPDContext installs the decimal arithmetic context into ctx.
//
// Example:
//
//	ctx = fhirpath.WithAPDContext(ctx, apd.BaseContext.WithPrecision(10))
func WithAPDContext(ctx context.Context, apdContext *apd.Context) context.Context {
	return context.WithValue(ctx, apdContextKey{}, apdContext)
}

// defaultDecimalPrecision keeps at least 18 fractional digits for values
// with large integer parts.
const defaultDecimalPrecision uint32 = 34

var defaultAPDContext = apd.BaseContext.WithPrecision(defaultDecimalPrecision)

func apdContext(ctx context.Context) *apd.Context {
	if ctx != nil {
		if c, ok := ctx.Value(apdContextKey{}).(*apd.Context); ok && c != nil {
			return c
		}
	}
	return defaultAPDContext
}
