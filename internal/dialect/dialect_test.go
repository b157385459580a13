package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForEngine(t *testing.T) {
	for _, name := range []string{"duckdb", "postgres", "sqlite"} {
		d, err := ForEngine(name)
		require.NoError(t, err)
		assert.Equal(t, name, d.Name())
	}

	_, err := ForEngine("oracle")
	assert.Error(t, err)
}

func TestQuoteString(t *testing.T) {
	assert.Equal(t, "'official'", QuoteString("official"))
	assert.Equal(t, "'it''s'", QuoteString("it's"))
}

func TestExtractJSONField(t *testing.T) {
	assert.Equal(t,
		"json_extract(doc, '$.name.family')",
		DuckDB{}.ExtractJSONField("doc", []string{"name", "family"}))
	assert.Equal(t,
		"json_extract(doc, '$.name.family')",
		SQLite{}.ExtractJSONField("doc", []string{"name", "family"}))
	assert.Equal(t,
		"jsonb_extract_path(doc, 'name', 'family')",
		Postgres{}.ExtractJSONField("doc", []string{"name", "family"}))
}

func TestExtractJSONField_EmptyPath(t *testing.T) {
	assert.Equal(t, "doc", DuckDB{}.ExtractJSONField("doc", nil))
	assert.Equal(t, "doc", SQLite{}.ExtractJSONField("doc", nil))
	assert.Equal(t, "doc", Postgres{}.ExtractJSONField("doc", nil))
}

func TestExtractJSONString(t *testing.T) {
	assert.Equal(t,
		"json_extract_string(doc, '$.gender')",
		DuckDB{}.ExtractJSONString("doc", []string{"gender"}))
	assert.Equal(t,
		"jsonb_extract_path_text(doc, 'gender')",
		Postgres{}.ExtractJSONString("doc", []string{"gender"}))
}

func TestUnnestJSONArray(t *testing.T) {
	u := SQLite{}.UnnestJSONArray("p.resource", []string{"name"}, "t0")
	assert.Equal(t, "t0.value", u.ValueExpr)
	assert.Equal(t, "t0.key", u.OrdExpr)
	assert.Equal(t, ", json_each(p.resource, '$.name') AS t0", u.FromSQL)

	u = Postgres{}.UnnestJSONArray("p.resource", []string{"name"}, "t0")
	assert.Equal(t, "t0.value", u.ValueExpr)
	assert.Contains(t, u.FromSQL, "jsonb_array_elements")
	assert.Contains(t, u.FromSQL, "WITH ORDINALITY")
	assert.Contains(t, u.FromSQL, "jsonb_typeof") // non-array guard
	assert.Equal(t, "(t0.ord - 1)", u.OrdExpr)    // zero-based like the others
}

func TestSafeCast_NonThrowing(t *testing.T) {
	// DuckDB has TRY_CAST natively.
	assert.Equal(t, "TRY_CAST(v AS DATE)", DuckDB{}.SafeCast("v", CastDate))

	// Postgres guards with a pattern check.
	pg := Postgres{}.SafeCast("v", CastDate)
	assert.Contains(t, pg, "CASE WHEN")
	assert.Contains(t, pg, "::date")

	// SQLite date() yields NULL for malformed values.
	assert.Equal(t, "date(v)", SQLite{}.SafeCast("v", CastDate))
}

func TestSafeCast_Numeric(t *testing.T) {
	assert.Equal(t, "TRY_CAST(v AS DOUBLE)", DuckDB{}.SafeCast("v", CastDecimal))
	assert.Contains(t, Postgres{}.SafeCast("v", CastInteger), "::bigint")
	assert.Contains(t, SQLite{}.SafeCast("v", CastInteger), "CAST(v AS INTEGER)")
}

func TestJSONArray(t *testing.T) {
	assert.Equal(t, "json_array(1, 2)", DuckDB{}.JSONArray([]string{"1", "2"}))
	assert.Equal(t, "jsonb_build_array(1, 2)", Postgres{}.JSONArray([]string{"1", "2"}))
}

func TestSplitString(t *testing.T) {
	assert.Equal(t, "to_json(str_split(v, ','))", DuckDB{}.SplitString("v", ","))
	assert.Equal(t, "to_jsonb(string_to_array(v, ','))", Postgres{}.SplitString("v", ","))
	assert.Contains(t, SQLite{}.SplitString("v", ","), "replace(v, ','")
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "?", SQLite{}.Placeholder(1))
	assert.Equal(t, "?", DuckDB{}.Placeholder(3))
	assert.Equal(t, "$2", Postgres{}.Placeholder(2))
}

func TestJSONTypeNames(t *testing.T) {
	assert.Equal(t, []string{"text"}, SQLite{}.JSONTypeNames("string"))
	assert.Equal(t, []string{"VARCHAR"}, DuckDB{}.JSONTypeNames("string"))
	assert.Equal(t, []string{"number"}, Postgres{}.JSONTypeNames("integer"))
	assert.Nil(t, SQLite{}.JSONTypeNames("unknown"))
}

func TestResourceTableDDL(t *testing.T) {
	assert.Contains(t, DuckDB{}.CreateResourceTable("patient"), "JSON NOT NULL")
	assert.Contains(t, Postgres{}.CreateResourceTable("patient"), "JSONB NOT NULL")
	assert.Contains(t, SQLite{}.UpsertResource("patient"), "ON CONFLICT")
	assert.Contains(t, Postgres{}.UpsertResource("patient"), "$2::jsonb")
}
