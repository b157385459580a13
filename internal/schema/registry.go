// Package schema holds the type registry the translator consults for
// path resolution: per (type, field) it reports the declared element type,
// whether the field is array-valued, and the physical variants of
// polymorphic (choice) fields.
//
// Definitions are written in CUE. A default set covering common resource
// types and datatypes is embedded; callers may layer additional CUE files
// on top before freezing the registry. After Load the registry is
// immutable and safe for concurrent use.
package schema

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// FieldInfo describes one field of a record type.
type FieldInfo struct {
	// DeclaredType is the element type name ("string", "HumanName", …).
	// For choice fields it is empty; ChoiceTypes carries the options.
	DeclaredType string

	// Array reports whether the field is array-valued, which decides
	// whether navigation introduces a row-multiplying unnest step.
	Array bool

	// ChoiceTypes lists the type options of a polymorphic field, in
	// declaration order ("Quantity", "string", …). Empty for plain fields.
	ChoiceTypes []string
}

// Polymorphic reports whether the field is a choice field realized as one
// of several type-suffixed physical fields.
func (f FieldInfo) Polymorphic() bool {
	return len(f.ChoiceTypes) > 0
}

// Registry maps (type name, field name) to field metadata. Immutable after
// construction.
type Registry struct {
	types map[string]map[string]FieldInfo
}

// Lookup returns metadata for a field of a type. The second result is
// false when the type or field is not declared; callers treat unknown
// fields as scalar extractions of unknown type.
func (r *Registry) Lookup(typeName, field string) (FieldInfo, bool) {
	fields, ok := r.types[typeName]
	if !ok {
		return FieldInfo{}, false
	}
	info, ok := fields[field]
	return info, ok
}

// HasType reports whether a type is declared in the registry.
func (r *Registry) HasType(typeName string) bool {
	_, ok := r.types[typeName]
	return ok
}

// Types returns the number of declared types. Used for diagnostics.
func (r *Registry) Types() int {
	return len(r.types)
}

var titleCaser = cases.Title(language.English, cases.NoLower)

// VariantField returns the physical field name for one type option of a
// choice field: ("value", "dateTime") → "valueDateTime".
func VariantField(logical, typeName string) string {
	return logical + titleCaser.String(typeName)
}

// Variants expands a choice field into its physical field names, in
// declaration order.
func (f FieldInfo) Variants(logical string) []string {
	variants := make([]string, 0, len(f.ChoiceTypes))
	for _, typeName := range f.ChoiceTypes {
		variants = append(variants, VariantField(logical, typeName))
	}
	return variants
}

// Primitive semantic types, used to pick cast targets for comparisons.
// Everything else is treated as a complex (JSON object) type.
var primitiveTypes = map[string]string{
	"boolean":      "boolean",
	"integer":      "integer",
	"positiveInt":  "integer",
	"unsignedInt":  "integer",
	"decimal":      "decimal",
	"string":       "string",
	"code":         "string",
	"id":           "string",
	"uri":          "string",
	"url":          "string",
	"canonical":    "string",
	"markdown":     "string",
	"base64Binary": "string",
	"date":         "date",
	"dateTime":     "datetime",
	"instant":      "datetime",
	"time":         "time",
}

// SemanticType maps a declared element type to the semantic category used
// for safe casting ("integer", "decimal", "string", "boolean", "date",
// "datetime", "time"). Complex types map to "".
func SemanticType(declaredType string) string {
	return primitiveTypes[declaredType]
}

// IsPrimitive reports whether a declared type is a primitive.
func IsPrimitive(declaredType string) bool {
	_, ok := primitiveTypes[declaredType]
	return ok
}
