package dialect

import "fmt"

// SQLite targets the lightweight embedded engine through the json1
// functions. Documents are stored as JSON text. SQLite casts never raise,
// but CAST coerces malformed input to zero values, so date/time and
// boolean conversions are guarded explicitly.
type SQLite struct{}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) ExtractJSONField(doc string, path []string) string {
	if len(path) == 0 {
		return doc
	}
	return fmt.Sprintf("json_extract(%s, %s)", doc, QuoteString(jsonPath(path)))
}

func (SQLite) ExtractJSONString(doc string, path []string) string {
	// json_extract already yields SQL text for JSON strings.
	if len(path) == 0 {
		return doc
	}
	return fmt.Sprintf("json_extract(%s, %s)", doc, QuoteString(jsonPath(path)))
}

func (SQLite) UnnestJSONArray(doc string, path []string, alias string) Unnest {
	return Unnest{
		ValueExpr: alias + ".value",
		OrdExpr:   alias + ".key",
		FromSQL:   fmt.Sprintf(", json_each(%s, %s) AS %s", doc, QuoteString(jsonPath(path)), alias),
	}
}

func (SQLite) JSONType(value string) string {
	return fmt.Sprintf("json_type(%s)", value)
}

func (SQLite) JSONTypeNames(semantic string) []string {
	switch semantic {
	case "string":
		return []string{"text"}
	case "integer":
		return []string{"integer"}
	case "decimal":
		return []string{"integer", "real"}
	case "boolean":
		return []string{"true", "false"}
	case "object":
		return []string{"object"}
	case "array":
		return []string{"array"}
	}
	return nil
}

func (SQLite) JSONArrayLength(value string) string {
	return fmt.Sprintf("json_array_length(%s)", value)
}

func (SQLite) JSONArray(elems []string) string {
	return "json_array(" + joinExprs(elems) + ")"
}

func (SQLite) SplitString(value, separator string) string {
	// No split function in SQLite; build a JSON array textually by
	// replacing separators with element boundaries.
	return fmt.Sprintf(`json('["' || replace(%s, %s, '","') || '"]')`,
		value, QuoteString(separator))
}

func (SQLite) SafeCast(value, target string) string {
	switch target {
	case CastInteger:
		return fmt.Sprintf(
			"CASE WHEN %s GLOB '-[0-9]*' OR %s GLOB '[0-9]*' THEN CAST(%s AS INTEGER) END",
			value, value, value)
	case CastDecimal:
		return fmt.Sprintf(
			"CASE WHEN %s GLOB '-[0-9]*' OR %s GLOB '[0-9]*' THEN CAST(%s AS REAL) END",
			value, value, value)
	case CastBoolean:
		return fmt.Sprintf(
			"CASE WHEN %s IN ('true', '1', 1) THEN 1 WHEN %s IN ('false', '0', 0) THEN 0 END",
			value, value)
	case CastDate:
		// date() returns NULL for malformed input.
		return fmt.Sprintf("date(%s)", value)
	case CastDateTime:
		return fmt.Sprintf("datetime(%s)", value)
	case CastTime:
		return fmt.Sprintf("time(%s)", value)
	}
	return fmt.Sprintf("CAST(%s AS TEXT)", value)
}

func (SQLite) Placeholder(int) string { return "?" }

func (SQLite) CreateResourceTable(table string) string {
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, resource TEXT NOT NULL)", table)
}

func (SQLite) UpsertResource(table string) string {
	return fmt.Sprintf(
		"INSERT INTO %s (id, resource) VALUES (?, ?) ON CONFLICT (id) DO UPDATE SET resource = excluded.resource", table)
}
