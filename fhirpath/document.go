package fhirpath

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/cockroachdb/apd/v3"
	"github.com/iancoleman/strcase"
)

// Object is a structured node of a JSON document, e.g. a resource or one
// of its complex elements.
type Object struct {
	typeName string
	path     string
	fields   map[string]any
	keys     []string
}

// NewObject wraps decoded JSON. Numbers should be json.Number values, as
// produced by a decoder with UseNumber enabled. typeName may be empty; a
// resourceType field takes precedence.
func NewObject(typeName string, fields map[string]any) *Object {
	if rt, ok := fields["resourceType"].(string); ok {
		typeName = rt
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "resourceType" || strings.HasPrefix(k, "_") {
			continue
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	o := &Object{typeName: typeName, fields: fields, keys: keys}
	if typeName != "" {
		o.path = typeName
	}
	return o
}

// ParseJSON decodes a single JSON object, typically a resource.
func ParseJSON(r io.Reader) (*Object, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("decode document: expected an object")
	}
	return NewObject("", fields), nil
}

// MustParseJSON is like ParseJSON for literal input and panics on error.
func MustParseJSON(s string) *Object {
	o, err := ParseJSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return o
}

// FromJSONValue converts a decoded JSON value into a collection. Arrays are
// flattened and nulls dropped.
func FromJSONValue(v any) Collection {
	return convertJSON(v, "", "")
}

// TypeName returns the declared type, or "" when it is not known from the
// document alone.
func (o *Object) TypeName() string { return o.typeName }

// Path returns the element path of o, e.g. "Patient.name".
func (o *Object) Path() string { return o.path }

// Field returns the raw JSON value stored under key.
func (o *Object) Field(key string) (any, bool) {
	v, ok := o.fields[key]
	return v, ok
}

func (o *Object) childPath(name string) string {
	if o.path == "" {
		return ""
	}
	return o.path + "." + name
}

func (o *Object) Children(name ...string) Collection {
	var children Collection
	if len(name) == 0 {
		for _, k := range o.keys {
			children = append(children, convertJSON(o.fields[k], "", o.childPath(k))...)
		}
		return children
	}
	for _, n := range name {
		if v, ok := o.fields[n]; ok {
			children = append(children, convertJSON(v, "", o.childPath(n))...)
			continue
		}
		children = append(children, o.choice(n)...)
	}
	return children
}

// choice resolves `value` to `valueQuantity`, `valueString`, ...
func (o *Object) choice(name string) Collection {
	for _, k := range o.keys {
		suffix, ok := strings.CutPrefix(k, name)
		if !ok || suffix == "" || !unicode.IsUpper(rune(suffix[0])) {
			continue
		}
		typ := choiceTypeName(suffix)
		if !primitiveTypes[typ] && !complexTypes[typ] {
			// valueSet is no value[x]
			continue
		}
		return convertChoice(o.fields[k], typ, o.childPath(name))
	}
	return nil
}

var primitiveTypes = map[string]bool{
	"base64Binary": true, "boolean": true, "canonical": true, "code": true,
	"date": true, "dateTime": true, "decimal": true, "id": true, "instant": true,
	"integer": true, "integer64": true, "markdown": true, "oid": true,
	"positiveInt": true, "string": true, "time": true, "unsignedInt": true,
	"uri": true, "url": true, "uuid": true, "xhtml": true,
}

// complexTypes are the data types a choice element can carry besides the
// primitives.
var complexTypes = map[string]bool{
	"Address": true, "Age": true, "Annotation": true, "Attachment": true,
	"Availability": true, "CodeableConcept": true, "CodeableReference": true,
	"Coding": true, "ContactDetail": true, "ContactPoint": true,
	"Contributor": true, "Count": true, "DataRequirement": true,
	"Distance": true, "Dosage": true, "Duration": true, "Expression": true,
	"ExtendedContactDetail": true, "HumanName": true, "Identifier": true,
	"Meta": true, "Money": true, "MonetaryComponent": true,
	"ParameterDefinition": true, "Period": true, "Quantity": true,
	"Range": true, "Ratio": true, "RatioRange": true, "Reference": true,
	"RelatedArtifact": true, "SampledData": true, "Signature": true,
	"Timing": true, "TriggerDefinition": true, "UsageContext": true,
	"VirtualServiceDetail": true,
}

// choiceTypeName maps a choice suffix to its FHIR type name: primitive
// types are lower camel case, complex types upper camel case.
func choiceTypeName(suffix string) string {
	if lower := strcase.ToLowerCamel(suffix); primitiveTypes[lower] {
		return lower
	}
	return strcase.ToCamel(suffix)
}

func convertChoice(v any, typ, path string) Collection {
	s, isString := v.(string)
	if !isString {
		return convertJSON(v, typ, path)
	}
	switch typ {
	case "date":
		if d, err := ParseDate(s); err == nil {
			return Collection{d}
		}
	case "dateTime", "instant":
		if dt, err := ParseDateTime(s); err == nil {
			return Collection{dt}
		}
	case "time":
		if t, err := ParseTime(s); err == nil {
			return Collection{t}
		}
	}
	return Collection{String(s)}
}

func convertJSON(v any, typ, path string) Collection {
	switch v := v.(type) {
	case nil:
		return nil
	case []any:
		var c Collection
		for _, item := range v {
			c = append(c, convertJSON(item, typ, path)...)
		}
		return c
	case map[string]any:
		o := NewObject(typ, v)
		if _, isResource := v["resourceType"]; !isResource && path != "" {
			o.path = path
		}
		return Collection{o}
	case string:
		return Collection{String(v)}
	case bool:
		return Collection{Boolean(v)}
	case json.Number:
		if n, ok := numberElement(v.String()); ok {
			return Collection{n}
		}
	case float64:
		if n, ok := numberElement(strconv.FormatFloat(v, 'f', -1, 64)); ok {
			return Collection{n}
		}
	case int:
		return Collection{numberFromInt(int64(v))}
	case int64:
		return Collection{numberFromInt(v)}
	}
	return nil
}

func numberFromInt(i int64) Element {
	if int64(int32(i)) == i {
		return Integer(i)
	}
	return Long(i)
}

// numberElement picks Integer for int32 values, Long for larger integers
// and Decimal otherwise.
func numberElement(s string) (Element, bool) {
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return numberFromInt(i), true
		}
	}
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return nil, false
	}
	return Decimal{Value: d}, true
}

var quantityTypes = map[string]bool{
	"Quantity": true, "SimpleQuantity": true, "MoneyQuantity": true,
	"Age": true, "Count": true, "Distance": true, "Duration": true,
}

var quantityKeys = map[string]bool{
	"value": true, "unit": true, "system": true, "code": true,
	"comparator": true, "id": true, "extension": true,
}

// primitive returns the System value an object stands for. Only quantities
// have one.
func (o *Object) primitive() Element {
	if !quantityTypes[o.typeName] {
		if o.typeName != "" {
			return nil
		}
		for _, k := range o.keys {
			if !quantityKeys[k] {
				return nil
			}
		}
	}
	num, ok := o.fields["value"].(json.Number)
	if !ok {
		return nil
	}
	d, _, err := apd.NewFromString(num.String())
	if err != nil {
		return nil
	}
	unit := "1"
	if code, ok := o.fields["code"].(string); ok {
		unit = code
	} else if u, ok := o.fields["unit"].(string); ok {
		unit = u
	}
	return Quantity{Value: Decimal{Value: d}, Unit: String(unit)}
}

func (o *Object) ToBoolean(explicit bool) (v Boolean, ok bool, err error) {
	if p := o.primitive(); p != nil {
		return p.ToBoolean(explicit)
	}
	return false, false, conversionError[*Object, Boolean]()
}
func (o *Object) ToString(explicit bool) (v String, ok bool, err error) {
	if p := o.primitive(); p != nil {
		return p.ToString(explicit)
	}
	return "", false, conversionError[*Object, String]()
}
func (o *Object) ToInteger(explicit bool) (v Integer, ok bool, err error) {
	if p := o.primitive(); p != nil {
		return p.ToInteger(explicit)
	}
	return 0, false, conversionError[*Object, Integer]()
}
func (o *Object) ToLong(explicit bool) (v Long, ok bool, err error) {
	if p := o.primitive(); p != nil {
		return p.ToLong(explicit)
	}
	return 0, false, conversionError[*Object, Long]()
}
func (o *Object) ToDecimal(explicit bool) (v Decimal, ok bool, err error) {
	if p := o.primitive(); p != nil {
		return p.ToDecimal(explicit)
	}
	return Decimal{}, false, conversionError[*Object, Decimal]()
}
func (o *Object) ToDate(explicit bool) (v Date, ok bool, err error) {
	return Date{}, false, conversionError[*Object, Date]()
}
func (o *Object) ToTime(explicit bool) (v Time, ok bool, err error) {
	return Time{}, false, conversionError[*Object, Time]()
}
func (o *Object) ToDateTime(explicit bool) (v DateTime, ok bool, err error) {
	return DateTime{}, false, conversionError[*Object, DateTime]()
}
func (o *Object) ToQuantity(explicit bool) (v Quantity, ok bool, err error) {
	if p := o.primitive(); p != nil {
		return p.ToQuantity(explicit)
	}
	return Quantity{}, false, conversionError[*Object, Quantity]()
}

// Equal compares member-wise.
func (o *Object) Equal(other Element) (eq bool, ok bool) {
	if p := o.primitive(); p != nil {
		if op, isObj := other.(*Object); isObj {
			if q := op.primitive(); q != nil {
				return p.Equal(q)
			}
			return false, true
		}
		return p.Equal(other)
	}
	op, isObj := other.(*Object)
	if !isObj {
		return false, true
	}
	return o.sameMembers(op, func(a, b Collection) bool {
		eq, ok := a.Equal(b)
		return ok && eq
	}), true
}

func (o *Object) Equivalent(other Element) bool {
	if p := o.primitive(); p != nil {
		if op, isObj := other.(*Object); isObj {
			if q := op.primitive(); q != nil {
				return p.Equivalent(q)
			}
			return false
		}
		return p.Equivalent(other)
	}
	op, isObj := other.(*Object)
	if !isObj {
		return false
	}
	return o.sameMembers(op, Collection.Equivalent)
}

func (o *Object) sameMembers(other *Object, same func(a, b Collection) bool) bool {
	if o == other {
		return true
	}
	if o.typeName != other.typeName || !slices.Equal(o.keys, other.keys) {
		return false
	}
	for _, k := range o.keys {
		a, b := o.Children(k), other.Children(k)
		if len(a) == 0 && len(b) == 0 {
			continue
		}
		if !same(a, b) {
			return false
		}
	}
	return true
}

// TypeInfo describes what the document alone reveals. The reflector refines
// it with class definitions from the model provider.
func (o *Object) TypeInfo() TypeInfo {
	if o.typeName != "" {
		return ClassInfo{Namespace: "FHIR", Name: o.typeName}
	}
	var elements []TupleTypeInfoElement
	for _, k := range o.keys {
		t := TypeSpecifier{Namespace: "System", Name: "Any"}
		if c := o.Children(k); len(c) > 0 {
			if q, ok := c[0].TypeInfo().QualifiedName(); ok {
				t = q
			}
		}
		elements = append(elements, TupleTypeInfoElement{Name: k, Type: t})
	}
	return TupleTypeInfo{Element: elements}
}

func (o *Object) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.fields)
}

func (o *Object) String() string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(o.fields); err != nil {
		return "null"
	}
	return strings.TrimSpace(buf.String())
}
