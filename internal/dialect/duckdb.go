package dialect

import "fmt"

// DuckDB targets the embedded analytical engine via its JSON extension.
// Documents are stored in a JSON column; TRY_CAST provides non-throwing
// conversion natively.
type DuckDB struct{}

func (DuckDB) Name() string { return "duckdb" }

func (DuckDB) ExtractJSONField(doc string, path []string) string {
	if len(path) == 0 {
		return doc
	}
	return fmt.Sprintf("json_extract(%s, %s)", doc, QuoteString(jsonPath(path)))
}

func (DuckDB) ExtractJSONString(doc string, path []string) string {
	if len(path) == 0 {
		return fmt.Sprintf("json_extract_string(%s, '$')", doc)
	}
	return fmt.Sprintf("json_extract_string(%s, %s)", doc, QuoteString(jsonPath(path)))
}

func (DuckDB) UnnestJSONArray(doc string, path []string, alias string) Unnest {
	return Unnest{
		ValueExpr: alias + ".value",
		OrdExpr:   fmt.Sprintf("CAST(%s.key AS BIGINT)", alias),
		FromSQL:   fmt.Sprintf(", json_each(%s, %s) AS %s", doc, QuoteString(jsonPath(path)), alias),
	}
}

func (DuckDB) JSONType(value string) string {
	return fmt.Sprintf("json_type(%s)", value)
}

func (DuckDB) JSONTypeNames(semantic string) []string {
	switch semantic {
	case "string":
		return []string{"VARCHAR"}
	case "integer":
		return []string{"BIGINT", "UBIGINT"}
	case "decimal":
		return []string{"BIGINT", "UBIGINT", "DOUBLE"}
	case "boolean":
		return []string{"BOOLEAN"}
	case "object":
		return []string{"OBJECT"}
	case "array":
		return []string{"ARRAY"}
	}
	return nil
}

func (DuckDB) JSONArrayLength(value string) string {
	return fmt.Sprintf("json_array_length(%s)", value)
}

func (DuckDB) JSONArray(elems []string) string {
	return "json_array(" + joinExprs(elems) + ")"
}

func (DuckDB) SplitString(value, separator string) string {
	return fmt.Sprintf("to_json(str_split(%s, %s))", value, QuoteString(separator))
}

func (DuckDB) SafeCast(value, target string) string {
	switch target {
	case CastInteger:
		return fmt.Sprintf("TRY_CAST(%s AS BIGINT)", value)
	case CastDecimal:
		return fmt.Sprintf("TRY_CAST(%s AS DOUBLE)", value)
	case CastBoolean:
		return fmt.Sprintf("TRY_CAST(%s AS BOOLEAN)", value)
	case CastDate:
		return fmt.Sprintf("TRY_CAST(%s AS DATE)", value)
	case CastDateTime:
		return fmt.Sprintf("TRY_CAST(%s AS TIMESTAMP)", value)
	case CastTime:
		return fmt.Sprintf("TRY_CAST(%s AS TIME)", value)
	}
	return fmt.Sprintf("CAST(%s AS VARCHAR)", value)
}

func (DuckDB) Placeholder(int) string { return "?" }

func (DuckDB) CreateResourceTable(table string) string {
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (id VARCHAR PRIMARY KEY, resource JSON NOT NULL)", table)
}

func (DuckDB) UpsertResource(table string) string {
	return fmt.Sprintf(
		"INSERT INTO %s (id, resource) VALUES (?, ?) ON CONFLICT (id) DO UPDATE SET resource = excluded.resource", table)
}

func joinExprs(elems []string) string {
	out := ""
	for i, e := range elems {
		if i > 0 {
			out += ", "
		}
		out += e
	}
	return out
}
