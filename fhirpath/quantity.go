package fhirpath

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/apd/v3"

	"github.com/damedic/fhirpath-engine/fhirpath/internal/parser"
)

type Quantity struct {
	defaultConversionError[Quantity]
	Value Decimal
	Unit  String
}

// ParseQuantity parses `value 'unit'`, `value unit` or a plain number.
func ParseQuantity(s string) (Quantity, error) {
	s = strings.TrimSpace(s)
	num, unit, hasUnit := strings.Cut(s, " ")
	v, err := NewDecimal(num)
	if err != nil || !decimalRegex.MatchString(num) {
		return Quantity{}, fmt.Errorf("invalid quantity %q", s)
	}
	if !hasUnit {
		return Quantity{Value: v, Unit: "1"}, nil
	}
	unit = strings.TrimSpace(unit)
	switch {
	case len(unit) >= 2 && unit[0] == '\'' && unit[len(unit)-1] == '\'':
		unit = unit[1 : len(unit)-1]
	case parser.IsCalendarUnit(unit):
	default:
		return Quantity{}, fmt.Errorf("invalid quantity %q: unit must be quoted", s)
	}
	return Quantity{Value: v, Unit: String(unit)}, nil
}

func (q Quantity) Children(name ...string) Collection { return nil }

func (q Quantity) ToString(explicit bool) (v String, ok bool, err error) {
	if !explicit {
		return "", false, implicitConversionError[Quantity, String](q)
	}
	return String(q.String()), true, nil
}
func (q Quantity) ToQuantity(explicit bool) (v Quantity, ok bool, err error) {
	return q, true, nil
}

// quantityOperand lifts numbers to dimensionless quantities.
func quantityOperand(op string, q Quantity, other Element) (Quantity, error) {
	switch o := other.(type) {
	case Quantity:
		return o, nil
	case Integer, Long, Decimal:
		v, _, _ := o.ToQuantity(false)
		return v, nil
	}
	return Quantity{}, incompatible(op, q, other)
}

// Equal uses the default unit converter. Operators with access to an
// evaluation context use the configured converter instead.
func (q Quantity) Equal(other Element) (eq bool, ok bool) {
	if o, isObj := other.(*Object); isObj {
		return o.Equal(q)
	}
	o, err := quantityOperand("=", q, other)
	if err != nil {
		return false, true
	}
	c, ok, err := compareQuantities(DefaultUnits, q, o)
	if err != nil || !ok {
		return false, false
	}
	return c == 0, true
}
func (q Quantity) Equivalent(other Element) bool {
	if o, isObj := other.(*Object); isObj {
		return o.Equivalent(q)
	}
	o, err := quantityOperand("~", q, other)
	if err != nil {
		return false
	}
	a, aUnit, aok := DefaultUnits.Canonical(q.Value, q.Unit)
	b, bUnit, bok := DefaultUnits.Canonical(o.Value, o.Unit)
	if !aok || !bok || aUnit != bUnit {
		return false
	}
	return a.Equivalent(b)
}
func (q Quantity) Cmp(ctx context.Context, other Element) (cmp int, ok bool, err error) {
	o, err := quantityOperand("<", q, other)
	if err != nil {
		return 0, false, err
	}
	return compareQuantities(unitConverter(ctx), q, o)
}

func compareQuantities(units UnitConverter, a, b Quantity) (int, bool, error) {
	av, au, aok := units.Canonical(a.Value, a.Unit)
	bv, bu, bok := units.Canonical(b.Value, b.Unit)
	if !aok || !bok || au != bu {
		return 0, false, nil
	}
	return av.Value.Cmp(bv.Value), true, nil
}

// convertTo expresses q in unit. ok is false for incompatible units.
func convertTo(units UnitConverter, q Quantity, unit String) (Quantity, bool) {
	if q.Unit == unit {
		return q, true
	}
	v, canon, ok := units.Canonical(q.Value, q.Unit)
	if !ok {
		return Quantity{}, false
	}
	one, targetCanon, ok := units.Canonical(Decimal{Value: apd.New(1, 0)}, unit)
	if !ok || canon != targetCanon {
		return Quantity{}, false
	}
	var res apd.Decimal
	if _, err := defaultAPDContext.Quo(&res, v.Value, one.Value); err != nil {
		return Quantity{}, false
	}
	return Quantity{Value: Decimal{Value: trimZeros(&res)}, Unit: unit}, true
}

func (q Quantity) Add(ctx context.Context, other Element) (Element, error) {
	return q.sum(ctx, "+", other, (*apd.Context).Add)
}
func (q Quantity) Subtract(ctx context.Context, other Element) (Element, error) {
	return q.sum(ctx, "-", other, (*apd.Context).Sub)
}
func (q Quantity) sum(ctx context.Context, op string, other Element, f apdOp) (Element, error) {
	o, isQuantity := other.(Quantity)
	if !isQuantity {
		return nil, incompatible(op, q, other)
	}
	converted, ok := convertTo(unitConverter(ctx), o, q.Unit)
	if !ok {
		return nil, nil
	}
	var res apd.Decimal
	if _, err := f(apdContext(ctx), &res, q.Value.Value, converted.Value.Value); err != nil {
		return nil, err
	}
	return Quantity{Value: Decimal{Value: &res}, Unit: q.Unit}, nil
}
func (q Quantity) Multiply(ctx context.Context, other Element) (Element, error) {
	o, err := quantityOperand("*", q, other)
	if err != nil {
		return nil, err
	}
	var res apd.Decimal
	if _, err := apdContext(ctx).Mul(&res, q.Value.Value, o.Value.Value); err != nil {
		return nil, err
	}
	return Quantity{Value: Decimal{Value: &res}, Unit: productUnit(q.Unit, o.Unit)}, nil
}
func (q Quantity) Divide(ctx context.Context, other Element) (Element, error) {
	o, err := quantityOperand("/", q, other)
	if err != nil {
		return nil, err
	}
	if o.Value.Value.IsZero() {
		return nil, nil
	}
	unit := quotientUnit(q.Unit, o.Unit)
	if converted, ok := convertTo(unitConverter(ctx), o, q.Unit); ok && q.Unit != "1" {
		o, unit = converted, "1"
	}
	var res apd.Decimal
	if _, err := apdContext(ctx).Quo(&res, q.Value.Value, o.Value.Value); err != nil {
		return nil, err
	}
	return Quantity{Value: Decimal{Value: trimZeros(&res)}, Unit: unit}, nil
}

func productUnit(a, b String) String {
	switch {
	case a == "1":
		return b
	case b == "1":
		return a
	}
	return String(wrapUnit(a, "/") + "." + wrapUnit(b, "/"))
}

func quotientUnit(a, b String) String {
	switch {
	case a == b:
		return "1"
	case b == "1":
		return a
	}
	return String(wrapUnit(a, "/") + "/" + wrapUnit(b, "./"))
}

func wrapUnit(u String, special string) string {
	if strings.ContainsAny(string(u), special) {
		return "(" + string(u) + ")"
	}
	return string(u)
}

func (q Quantity) TypeInfo() TypeInfo { return systemType("Quantity") }
func (q Quantity) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.String())
}
func (q Quantity) String() string {
	if parser.IsCalendarUnit(string(q.Unit)) {
		return q.Value.String() + " " + string(q.Unit)
	}
	return q.Value.String() + " '" + string(q.Unit) + "'"
}

// UnitConverter brings quantities into a canonical unit so they can be
// compared. Implementations must be safe for concurrent use.
type UnitConverter interface {
	// Canonical returns value expressed in the canonical unit of unit.
	// ok is false for units the converter does not know.
	Canonical(value Decimal, unit String) (Decimal, String, bool)
}

type unitConverterKey struct{}

// WithUnitConverter installs units into ctx for quantity operators.
func WithUnitConverter(ctx context.Context, units UnitConverter) context.Context {
	return context.WithValue(ctx, unitConverterKey{}, units)
}

func unitConverter(ctx context.Context) UnitConverter {
	if ctx != nil {
		if u, ok := ctx.Value(unitConverterKey{}).(UnitConverter); ok && u != nil {
			return u
		}
	}
	return DefaultUnits
}

// UnitTable is a UnitConverter backed by linear conversion factors.
// Units missing from the table are only comparable to themselves.
type UnitTable map[String]UnitFactor

// UnitFactor expresses one unit as a multiple of a canonical unit.
type UnitFactor struct {
	Canonical String
	Factor    string
}

func (t UnitTable) Canonical(value Decimal, unit String) (Decimal, String, bool) {
	if unit == "" {
		unit = "1"
	}
	f, ok := t[unit]
	if !ok {
		return value, unit, true
	}
	factor, _, err := apd.NewFromString(f.Factor)
	if err != nil {
		return Decimal{}, "", false
	}
	var res apd.Decimal
	if _, err := defaultAPDContext.Mul(&res, value.Value, factor); err != nil {
		return Decimal{}, "", false
	}
	return Decimal{Value: &res}, f.Canonical, true
}

// DefaultUnits covers common UCUM mass, length, volume and time units and
// the calendar duration keywords. Calendar years and months only compare
// with each other, never with the UCUM 'a' and 'mo'.
var DefaultUnits UnitConverter = UnitTable{
	"1": {"1", "1"},
	"%": {"1", "0.01"},

	"kg": {"g", "1000"},
	"g":  {"g", "1"},
	"mg": {"g", "0.001"},
	"ug": {"g", "0.000001"},
	"ng": {"g", "0.000000001"},

	"[lb_av]": {"g", "453.59237"},
	"[oz_av]": {"g", "28.349523125"},

	"km":      {"m", "1000"},
	"m":       {"m", "1"},
	"dm":      {"m", "0.1"},
	"cm":      {"m", "0.01"},
	"mm":      {"m", "0.001"},
	"um":      {"m", "0.000001"},
	"nm":      {"m", "0.000000001"},
	"[in_i]":  {"m", "0.0254"},
	"[ft_i]":  {"m", "0.3048"},
	"[yd_i]":  {"m", "0.9144"},
	"[mi_i]":  {"m", "1609.344"},
	"m2":      {"m2", "1"},
	"cm2":     {"m2", "0.0001"},
	"L":       {"m3", "0.001"},
	"l":       {"m3", "0.001"},
	"dL":      {"m3", "0.0001"},
	"cL":      {"m3", "0.00001"},
	"mL":      {"m3", "0.000001"},
	"uL":      {"m3", "0.000000001"},
	"m3":      {"m3", "1"},
	"cm3":     {"m3", "0.000001"},
	"mmol/L":  {"mol/m3", "1"},
	"mol/L":   {"mol/m3", "1000"},
	"mg/dL":   {"g/m3", "10"},
	"g/L":     {"g/m3", "1"},
	"mm[Hg]":  {"Pa", "133.322"},
	"kPa":     {"Pa", "1000"},
	"Pa":      {"Pa", "1"},

	"/min":        {"1/s", "0.01666666666666666666666666666666667"},
	"{beats}/min": {"1/s", "0.01666666666666666666666666666666667"},

	"a":   {"s", "31557600"},
	"mo":  {"s", "2629800"},
	"wk":  {"s", "604800"},
	"d":   {"s", "86400"},
	"h":   {"s", "3600"},
	"min": {"s", "60"},
	"s":   {"s", "1"},
	"ms":  {"s", "0.001"},

	"year":         {"cal:mo", "12"},
	"years":        {"cal:mo", "12"},
	"month":        {"cal:mo", "1"},
	"months":       {"cal:mo", "1"},
	"week":         {"s", "604800"},
	"weeks":        {"s", "604800"},
	"day":          {"s", "86400"},
	"days":         {"s", "86400"},
	"hour":         {"s", "3600"},
	"hours":        {"s", "3600"},
	"minute":       {"s", "60"},
	"minutes":      {"s", "60"},
	"second":       {"s", "1"},
	"seconds":      {"s", "1"},
	"millisecond":  {"s", "0.001"},
	"milliseconds": {"s", "0.001"},
}
