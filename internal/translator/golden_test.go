package translator_test

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/fhirql/fhirql/internal/cte"
)

// Full rendered statements are pinned as golden files; regenerate with
// go test ./internal/translator -update after intentional SQL changes.
func TestGoldenSQL(t *testing.T) {
	cases := []struct {
		name         string
		engine       string
		expression   string
		resourceType string
	}{
		{"scalar_birthdate_sqlite", "sqlite", "Patient.birthDate", "Patient"},
		{"name_family_sqlite", "sqlite", "Patient.name.family", "Patient"},
		{"where_official_sqlite", "sqlite", "Patient.name.where(use = 'official').family", "Patient"},
		{"value_coalesce_sqlite", "sqlite", "Observation.value", "Observation"},
		{"name_count_sqlite", "sqlite", "Patient.name.count()", "Patient"},
		{"name_family_postgres", "postgres", "Patient.name.family", "Patient"},
		{"name_family_duckdb", "duckdb", "Patient.name.family", "Patient"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stmt, err := cte.Assemble(translate(t, tc.engine, tc.expression, tc.resourceType))
			require.NoError(t, err)

			g := goldie.New(t,
				goldie.WithFixtureDir("testdata/golden"),
				goldie.WithNameSuffix(".golden"),
			)
			g.Assert(t, tc.name, []byte(stmt.SQL))
		})
	}
}
