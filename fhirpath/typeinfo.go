package fhirpath

import (
	"encoding/json"
	"slices"
	"strings"
)

// TypeInfo describes a type. Values returned by type() implement it.
type TypeInfo interface {
	Element
	QualifiedName() (TypeSpecifier, bool)
	BaseTypeName() (TypeSpecifier, bool)
}

func wants(names []string, name string) bool {
	return len(names) == 0 || slices.Contains(names, name)
}

func indented(v any) string {
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "null"
	}
	return string(buf)
}

// reflectionType describes one of the reflection types themselves.
func reflectionType(name string, elements ...ClassInfoElement) ClassInfo {
	return ClassInfo{Namespace: "System", Name: name, BaseType: anyType, Element: elements}
}

func field(name, typ string) ClassInfoElement {
	return ClassInfoElement{Name: name, Type: TypeSpecifier{Namespace: "System", Name: typ}}
}

type SimpleTypeInfo struct {
	defaultConversionError[SimpleTypeInfo]
	Namespace string        `json:"namespace"`
	Name      string        `json:"name"`
	BaseType  TypeSpecifier `json:"baseType"`
}

func (i SimpleTypeInfo) QualifiedName() (TypeSpecifier, bool) {
	return TypeSpecifier{Namespace: i.Namespace, Name: i.Name}, true
}
func (i SimpleTypeInfo) BaseTypeName() (TypeSpecifier, bool) {
	return i.BaseType, i.BaseType.Name != ""
}
func (i SimpleTypeInfo) Children(name ...string) Collection {
	var children Collection
	if wants(name, "namespace") {
		children = append(children, String(i.Namespace))
	}
	if wants(name, "name") {
		children = append(children, String(i.Name))
	}
	if wants(name, "baseType") && i.BaseType.Name != "" {
		children = append(children, i.BaseType)
	}
	return children
}
func (i SimpleTypeInfo) Equal(other Element) (eq bool, ok bool) {
	return i == other, true
}
func (i SimpleTypeInfo) Equivalent(other Element) bool {
	return i == other
}
func (i SimpleTypeInfo) TypeInfo() TypeInfo {
	return reflectionType("SimpleTypeInfo",
		field("namespace", "String"), field("name", "String"), field("baseType", "TypeSpecifier"))
}
func (i SimpleTypeInfo) MarshalJSON() ([]byte, error) {
	type alias SimpleTypeInfo
	return json.Marshal(alias(i))
}
func (i SimpleTypeInfo) String() string { return indented(i) }

type ClassInfo struct {
	defaultConversionError[ClassInfo]
	Namespace string             `json:"namespace"`
	Name      string             `json:"name"`
	BaseType  TypeSpecifier      `json:"baseType"`
	Element   []ClassInfoElement `json:"element"`
}

func (i ClassInfo) QualifiedName() (TypeSpecifier, bool) {
	return TypeSpecifier{Namespace: i.Namespace, Name: i.Name}, true
}
func (i ClassInfo) BaseTypeName() (TypeSpecifier, bool) {
	return i.BaseType, i.BaseType.Name != ""
}

// ElementNamed returns the element definition with the given name.
func (i ClassInfo) ElementNamed(name string) (ClassInfoElement, bool) {
	for _, e := range i.Element {
		if e.Name == name {
			return e, true
		}
	}
	return ClassInfoElement{}, false
}

// ElementTypes returns the types declared for the element name, one per
// definition. Choice elements are defined once per allowed type. Types are
// qualified, FHIR by default, and never lists.
func (i ClassInfo) ElementTypes(name string) []TypeSpecifier {
	var types []TypeSpecifier
	for _, e := range i.Element {
		if e.Name != name {
			continue
		}
		t := e.Type
		t.List = false
		if t.Namespace == "" {
			t.Namespace = "FHIR"
		}
		types = append(types, t)
	}
	return types
}

func (i ClassInfo) Children(name ...string) Collection {
	var children Collection
	if wants(name, "namespace") {
		children = append(children, String(i.Namespace))
	}
	if wants(name, "name") {
		children = append(children, String(i.Name))
	}
	if wants(name, "baseType") && i.BaseType.Name != "" {
		children = append(children, i.BaseType)
	}
	if wants(name, "element") {
		for _, e := range i.Element {
			children = append(children, e)
		}
	}
	return children
}
func (i ClassInfo) Equal(other Element) (eq bool, ok bool) {
	o, ok := other.(ClassInfo)
	if !ok {
		return false, true
	}
	return i.Namespace == o.Namespace &&
		i.Name == o.Name &&
		i.BaseType == o.BaseType &&
		slices.Equal(i.Element, o.Element), true
}
func (i ClassInfo) Equivalent(other Element) bool {
	eq, _ := i.Equal(other)
	return eq
}
func (i ClassInfo) TypeInfo() TypeInfo {
	return reflectionType("ClassInfo",
		field("namespace", "String"), field("name", "String"),
		field("baseType", "TypeSpecifier"), field("element", "ClassInfoElement"))
}
func (i ClassInfo) MarshalJSON() ([]byte, error) {
	type alias ClassInfo
	return json.Marshal(alias(i))
}
func (i ClassInfo) String() string { return indented(i) }

// ClassInfoElement is one named, typed element of a class. Max is "*" for
// unbounded elements.
type ClassInfoElement struct {
	defaultConversionError[ClassInfoElement]
	Name       string        `json:"name"`
	Type       TypeSpecifier `json:"type"`
	IsOneBased bool          `json:"isOneBased"`
	Min        int           `json:"min"`
	Max        string        `json:"max,omitempty"`
}

// Repeating reports whether the element can hold more than one value.
func (i ClassInfoElement) Repeating() bool {
	return i.Max == "*" || (i.Max != "" && i.Max != "0" && i.Max != "1")
}

func (i ClassInfoElement) Children(name ...string) Collection {
	var children Collection
	if wants(name, "name") {
		children = append(children, String(i.Name))
	}
	if wants(name, "type") {
		children = append(children, i.Type)
	}
	if wants(name, "isOneBased") {
		children = append(children, Boolean(i.IsOneBased))
	}
	return children
}
func (i ClassInfoElement) Equal(other Element) (eq bool, ok bool) {
	return i == other, true
}
func (i ClassInfoElement) Equivalent(other Element) bool {
	return i == other
}
func (i ClassInfoElement) TypeInfo() TypeInfo {
	return reflectionType("ClassInfoElement",
		field("name", "String"), field("type", "TypeSpecifier"), field("isOneBased", "Boolean"))
}
func (i ClassInfoElement) MarshalJSON() ([]byte, error) {
	type alias ClassInfoElement
	return json.Marshal(alias(i))
}
func (i ClassInfoElement) String() string { return indented(i) }

// ListTypeInfo describes a collection. Cardinality uses the `min..max`
// notation, e.g. "0..*".
type ListTypeInfo struct {
	defaultConversionError[ListTypeInfo]
	ElementType TypeSpecifier `json:"elementType"`
	Cardinality string        `json:"cardinality"`
}

func (i ListTypeInfo) QualifiedName() (TypeSpecifier, bool) {
	return TypeSpecifier{Namespace: i.ElementType.Namespace, Name: i.ElementType.Name, List: true}, true
}
func (i ListTypeInfo) BaseTypeName() (TypeSpecifier, bool) {
	return TypeSpecifier{}, false
}
func (i ListTypeInfo) Children(name ...string) Collection {
	var children Collection
	if wants(name, "elementType") {
		children = append(children, i.ElementType)
	}
	if wants(name, "cardinality") && i.Cardinality != "" {
		children = append(children, String(i.Cardinality))
	}
	return children
}
func (i ListTypeInfo) Equal(other Element) (eq bool, ok bool) {
	return i == other, true
}
func (i ListTypeInfo) Equivalent(other Element) bool {
	return i == other
}
func (i ListTypeInfo) TypeInfo() TypeInfo {
	return reflectionType("ListTypeInfo", field("elementType", "TypeSpecifier"), field("cardinality", "String"))
}
func (i ListTypeInfo) MarshalJSON() ([]byte, error) {
	type alias ListTypeInfo
	return json.Marshal(alias(i))
}
func (i ListTypeInfo) String() string { return indented(i) }

// TupleTypeInfo describes anonymous structures.
type TupleTypeInfo struct {
	defaultConversionError[TupleTypeInfo]
	Element []TupleTypeInfoElement `json:"element"`
}

func (i TupleTypeInfo) QualifiedName() (TypeSpecifier, bool) {
	return TypeSpecifier{}, false
}
func (i TupleTypeInfo) BaseTypeName() (TypeSpecifier, bool) {
	return TypeSpecifier{}, false
}
func (i TupleTypeInfo) Children(name ...string) Collection {
	var children Collection
	if wants(name, "element") {
		for _, e := range i.Element {
			children = append(children, e)
		}
	}
	return children
}
func (i TupleTypeInfo) Equal(other Element) (eq bool, ok bool) {
	o, ok := other.(TupleTypeInfo)
	if !ok {
		return false, true
	}
	return slices.Equal(i.Element, o.Element), true
}
func (i TupleTypeInfo) Equivalent(other Element) bool {
	eq, _ := i.Equal(other)
	return eq
}
func (i TupleTypeInfo) TypeInfo() TypeInfo {
	return reflectionType("TupleTypeInfo", field("element", "TupleTypeInfoElement"))
}
func (i TupleTypeInfo) MarshalJSON() ([]byte, error) {
	type alias TupleTypeInfo
	return json.Marshal(alias(i))
}
func (i TupleTypeInfo) String() string { return indented(i) }

type TupleTypeInfoElement struct {
	defaultConversionError[TupleTypeInfoElement]
	Name       string        `json:"name"`
	Type       TypeSpecifier `json:"type"`
	IsOneBased bool          `json:"isOneBased"`
}

func (i TupleTypeInfoElement) Children(name ...string) Collection {
	var children Collection
	if wants(name, "name") {
		children = append(children, String(i.Name))
	}
	if wants(name, "type") {
		children = append(children, i.Type)
	}
	if wants(name, "isOneBased") {
		children = append(children, Boolean(i.IsOneBased))
	}
	return children
}
func (i TupleTypeInfoElement) Equal(other Element) (eq bool, ok bool) {
	return i == other, true
}
func (i TupleTypeInfoElement) Equivalent(other Element) bool {
	return i == other
}
func (i TupleTypeInfoElement) TypeInfo() TypeInfo {
	return reflectionType("TupleTypeInfoElement",
		field("name", "String"), field("type", "TypeSpecifier"), field("isOneBased", "Boolean"))
}
func (i TupleTypeInfoElement) MarshalJSON() ([]byte, error) {
	type alias TupleTypeInfoElement
	return json.Marshal(alias(i))
}
func (i TupleTypeInfoElement) String() string { return indented(i) }

// ChoiceTypeInfo describes an element that may hold one of several types,
// such as `Observation.value`.
type ChoiceTypeInfo struct {
	defaultConversionError[ChoiceTypeInfo]
	Choices []TypeSpecifier `json:"choices"`
}

func (i ChoiceTypeInfo) QualifiedName() (TypeSpecifier, bool) {
	return TypeSpecifier{}, false
}
func (i ChoiceTypeInfo) BaseTypeName() (TypeSpecifier, bool) {
	return TypeSpecifier{}, false
}
func (i ChoiceTypeInfo) Children(name ...string) Collection {
	var children Collection
	if wants(name, "choices") {
		for _, c := range i.Choices {
			children = append(children, c)
		}
	}
	return children
}
func (i ChoiceTypeInfo) Equal(other Element) (eq bool, ok bool) {
	o, ok := other.(ChoiceTypeInfo)
	if !ok {
		return false, true
	}
	return slices.Equal(i.Choices, o.Choices), true
}
func (i ChoiceTypeInfo) Equivalent(other Element) bool {
	eq, _ := i.Equal(other)
	return eq
}
func (i ChoiceTypeInfo) TypeInfo() TypeInfo {
	return reflectionType("ChoiceTypeInfo", field("choices", "TypeSpecifier"))
}
func (i ChoiceTypeInfo) MarshalJSON() ([]byte, error) {
	type alias ChoiceTypeInfo
	return json.Marshal(alias(i))
}
func (i ChoiceTypeInfo) String() string { return indented(i) }

// TypeSpecifier names a type, optionally qualified and optionally a list.
type TypeSpecifier struct {
	defaultConversionError[TypeSpecifier]
	Namespace string
	Name      string
	List      bool
}

// ParseTypeSpecifier parses `Name`, `Namespace.Name` or `List<...>`.
func ParseTypeSpecifier(s string) TypeSpecifier {
	var list bool
	if strings.HasPrefix(s, "List<") && strings.HasSuffix(s, ">") {
		s, list = s[len("List<"):len(s)-1], true
	}
	ns, name, qualified := strings.Cut(s, ".")
	if !qualified {
		return TypeSpecifier{Name: strings.Trim(ns, "`"), List: list}
	}
	return TypeSpecifier{Namespace: strings.Trim(ns, "`"), Name: strings.Trim(name, "`"), List: list}
}

func (t TypeSpecifier) Children(name ...string) Collection { return nil }
func (t TypeSpecifier) Equal(other Element) (eq bool, ok bool) {
	return t == other, true
}
func (t TypeSpecifier) Equivalent(other Element) bool {
	return t == other
}
func (t TypeSpecifier) TypeInfo() TypeInfo { return systemType("TypeSpecifier") }
func (t TypeSpecifier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}
func (t TypeSpecifier) String() string {
	s := t.Name
	if t.Namespace != "" {
		s = t.Namespace + "." + t.Name
	}
	if t.List {
		return "List<" + s + ">"
	}
	return s
}
