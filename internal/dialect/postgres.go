package dialect

import (
	"fmt"
	"strings"
)

// Postgres targets the server-based engine with documents in a jsonb
// column. Postgres has no TRY_CAST, so SafeCast guards each conversion
// with a pattern check; values failing the pattern become NULL instead of
// raising a cast error.
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func pgPathArgs(path []string) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = QuoteString(p)
	}
	return strings.Join(parts, ", ")
}

func (Postgres) ExtractJSONField(doc string, path []string) string {
	if len(path) == 0 {
		return doc
	}
	return fmt.Sprintf("jsonb_extract_path(%s, %s)", doc, pgPathArgs(path))
}

func (Postgres) ExtractJSONString(doc string, path []string) string {
	if len(path) == 0 {
		return fmt.Sprintf("(%s #>> '{}')", doc)
	}
	return fmt.Sprintf("jsonb_extract_path_text(%s, %s)", doc, pgPathArgs(path))
}

func (p Postgres) UnnestJSONArray(doc string, path []string, alias string) Unnest {
	source := p.ExtractJSONField(doc, path)
	// Guard non-array values so scalar data yields zero rows instead of
	// a runtime error.
	guarded := fmt.Sprintf(
		"CASE WHEN jsonb_typeof(%s) = 'array' THEN %s ELSE '[]'::jsonb END",
		source, source)
	return Unnest{
		ValueExpr: alias + ".value",
		OrdExpr:   fmt.Sprintf("(%s.ord - 1)", alias),
		FromSQL: fmt.Sprintf(
			" CROSS JOIN LATERAL jsonb_array_elements(%s) WITH ORDINALITY AS %s(value, ord)",
			guarded, alias),
	}
}

func (Postgres) JSONType(value string) string {
	return fmt.Sprintf("jsonb_typeof(%s)", value)
}

func (Postgres) JSONTypeNames(semantic string) []string {
	switch semantic {
	case "string":
		return []string{"string"}
	case "integer", "decimal":
		return []string{"number"}
	case "boolean":
		return []string{"boolean"}
	case "object":
		return []string{"object"}
	case "array":
		return []string{"array"}
	}
	return nil
}

func (Postgres) JSONArrayLength(value string) string {
	return fmt.Sprintf("jsonb_array_length(%s)", value)
}

func (Postgres) JSONArray(elems []string) string {
	return "jsonb_build_array(" + joinExprs(elems) + ")"
}

func (Postgres) SplitString(value, separator string) string {
	return fmt.Sprintf("to_jsonb(string_to_array(%s, %s))", value, QuoteString(separator))
}

func (Postgres) SafeCast(value, target string) string {
	switch target {
	case CastInteger:
		return fmt.Sprintf(`CASE WHEN (%s) ~ '^-?[0-9]+$' THEN (%s)::bigint END`, value, value)
	case CastDecimal:
		return fmt.Sprintf(`CASE WHEN (%s) ~ '^-?[0-9]+(\.[0-9]+)?$' THEN (%s)::numeric END`, value, value)
	case CastBoolean:
		return fmt.Sprintf(`CASE WHEN lower(%s) IN ('true', 'false') THEN (%s)::boolean END`, value, value)
	case CastDate:
		return fmt.Sprintf(`CASE WHEN (%s) ~ '^\d{4}-\d{2}-\d{2}$' THEN (%s)::date END`, value, value)
	case CastDateTime:
		return fmt.Sprintf(`CASE WHEN (%s) ~ '^\d{4}-\d{2}-\d{2}T' THEN (%s)::timestamptz END`, value, value)
	case CastTime:
		return fmt.Sprintf(`CASE WHEN (%s) ~ '^\d{2}:\d{2}' THEN (%s)::time END`, value, value)
	}
	return fmt.Sprintf("(%s)::text", value)
}

func (Postgres) Placeholder(i int) string { return fmt.Sprintf("$%d", i) }

func (Postgres) CreateResourceTable(table string) string {
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, resource JSONB NOT NULL)", table)
}

func (Postgres) UpsertResource(table string) string {
	return fmt.Sprintf(
		"INSERT INTO %s (id, resource) VALUES ($1, $2::jsonb) ON CONFLICT (id) DO UPDATE SET resource = excluded.resource", table)
}
