// Package dialect provides per-engine SQL syntax primitives: JSON
// extraction, array unnesting, type introspection and non-throwing casts.
// Implementations are pure syntax providers with no decision logic; the
// translator owns all semantics.
package dialect

import (
	"fmt"
	"strings"
)

// Semantic cast targets understood by SafeCast.
const (
	CastInteger  = "integer"
	CastDecimal  = "decimal"
	CastBoolean  = "boolean"
	CastString   = "string"
	CastDate     = "date"
	CastDateTime = "datetime"
	CastTime     = "time"
)

// Unnest describes how one engine expands a JSON array into rows. FromSQL
// is appended to the FROM clause of the unnesting step; ValueExpr and
// OrdExpr reference the produced element and its zero-based ordinal.
type Unnest struct {
	ValueExpr string
	OrdExpr   string
	FromSQL   string
}

// Dialect is the capability set the translator and executor consume.
// Implementations must be stateless and immutable; a single instance is
// shared by concurrent translations.
type Dialect interface {
	Name() string

	// ExtractJSONField returns an expression extracting path from doc as
	// a JSON value. An empty path yields the document itself.
	ExtractJSONField(doc string, path []string) string

	// ExtractJSONString returns an expression extracting path from doc
	// as engine text (unquoted for JSON strings).
	ExtractJSONString(doc string, path []string) string

	// UnnestJSONArray expands an array-valued path of doc into rows.
	UnnestJSONArray(doc string, path []string, alias string) Unnest

	// JSONType returns an expression yielding the engine's JSON type
	// name for value.
	JSONType(value string) string

	// JSONTypeNames lists the engine JSON type names that correspond to
	// a semantic type ("string", "integer", "decimal", "boolean",
	// "object", "array").
	JSONTypeNames(semantic string) []string

	// JSONArrayLength returns an expression yielding the length of a
	// JSON array value.
	JSONArrayLength(value string) string

	// JSONArray builds a JSON array literal from element expressions.
	JSONArray(elems []string) string

	// SplitString splits a text value on a literal separator, yielding a
	// JSON array of strings.
	SplitString(value, separator string) string

	// SafeCast converts a textual value to the semantic target type
	// without raising on malformed input; malformed values become NULL
	// (or the engine's closest non-throwing equivalent).
	SafeCast(value, target string) string

	// Placeholder returns the parameter marker for 1-based position i.
	Placeholder(i int) string

	// CreateResourceTable returns DDL for a resource table holding
	// (id, resource-document) rows.
	CreateResourceTable(table string) string

	// UpsertResource returns the parameterized insert-or-replace
	// statement for a resource table.
	UpsertResource(table string) string
}

// ForEngine returns the dialect for an engine name.
func ForEngine(name string) (Dialect, error) {
	switch name {
	case "duckdb":
		return DuckDB{}, nil
	case "postgres":
		return Postgres{}, nil
	case "sqlite":
		return SQLite{}, nil
	}
	return nil, fmt.Errorf("unknown engine %q (supported: duckdb, postgres, sqlite)", name)
}

// QuoteString renders a SQL string literal with single quotes doubled.
// Shared by all dialects; none of the targets need more than this.
func QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// jsonPath renders a SQLite/DuckDB-style JSON path: ["a","b"] → "$.a.b".
func jsonPath(path []string) string {
	if len(path) == 0 {
		return "$"
	}
	return "$." + strings.Join(path, ".")
}
