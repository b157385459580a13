package cte_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fhirql/fhirql/internal/cte"
	"github.com/fhirql/fhirql/internal/translator"
)

func frag(id, sql string, deps ...string) *translator.Fragment {
	return &translator.Fragment{ID: id, SQL: sql, DependsOn: deps}
}

func TestAssembleEmpty(t *testing.T) {
	_, err := cte.Assemble(nil)
	assert.ErrorIs(t, err, cte.ErrNoFragments)
}

func TestAssembleOrdersDependencies(t *testing.T) {
	a := frag("step_0", "SELECT id AS resource_id, resource FROM patient")
	b := frag("step_1", "SELECT p.resource_id, p.resource AS value FROM step_0 p", "step_0")
	b.Meta.ValueColumn = "value"

	// Listed out of dependency order on purpose.
	stmt, err := cte.Assemble([]*translator.Fragment{a, b})
	require.NoError(t, err)
	require.True(t, strings.Index(stmt.SQL, "step_0 AS (") < strings.Index(stmt.SQL, "step_1 AS ("))
	assert.True(t, strings.HasPrefix(stmt.SQL, "WITH "))
	assert.Contains(t, stmt.SQL, "SELECT resource_id, value FROM step_1 ORDER BY resource_id")
}

func TestAssembleColumns(t *testing.T) {
	a := frag("step_0", "SELECT id AS resource_id, resource FROM patient")
	b := frag("step_1", "SELECT p.resource_id, 1 AS n FROM step_0 p", "step_0")
	b.Meta.ValueColumn = "n"
	b.Meta.ResultType = "integer"

	stmt, err := cte.Assemble([]*translator.Fragment{a, b})
	require.NoError(t, err)
	require.Len(t, stmt.Columns, 2)
	assert.Equal(t, cte.Column{Name: "resource_id", Type: "string"}, stmt.Columns[0])
	assert.Equal(t, cte.Column{Name: "n", Type: "integer"}, stmt.Columns[1])
}

func TestAssembleComplexValueTypesAsJSON(t *testing.T) {
	a := frag("step_0", "SELECT id AS resource_id, resource FROM patient")
	b := frag("step_1", "SELECT p.resource_id, p.resource AS value FROM step_0 p", "step_0")
	b.Meta.ValueColumn = "value"

	stmt, err := cte.Assemble([]*translator.Fragment{a, b})
	require.NoError(t, err)
	assert.Equal(t, "json", stmt.Columns[1].Type)
}

func TestAssembleConstant(t *testing.T) {
	c := frag("step_0", "SELECT json_array(1, 2) AS result")
	c.Meta.ValueColumn = "result"
	c.Meta.Constant = true

	stmt, err := cte.Assemble([]*translator.Fragment{c})
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "SELECT result FROM step_0")
	assert.NotContains(t, stmt.SQL, "resource_id")
	require.Len(t, stmt.Columns, 1)
}

func TestAssembleRecursive(t *testing.T) {
	a := frag("step_0", "SELECT id AS resource_id, resource FROM patient")
	r := frag("step_1", "SELECT 1 AS total UNION ALL SELECT total + 1 FROM step_1 WHERE total < 3", "step_0")
	r.Recursive = true
	r.Meta.ValueColumn = "total"

	stmt, err := cte.Assemble([]*translator.Fragment{a, r})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stmt.SQL, "WITH RECURSIVE "))
}

func TestAssembleRejectsUnknownDependency(t *testing.T) {
	b := frag("step_1", "SELECT 1", "step_9")
	b.Meta.ValueColumn = "x"
	_, err := cte.Assemble([]*translator.Fragment{b})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown step")
}

func TestAssembleRejectsCycles(t *testing.T) {
	a := frag("step_0", "SELECT 1", "step_1")
	b := frag("step_1", "SELECT 2", "step_0")
	b.Meta.ValueColumn = "x"
	_, err := cte.Assemble([]*translator.Fragment{a, b})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestAssembleRejectsDuplicateIDs(t *testing.T) {
	a := frag("step_0", "SELECT 1")
	b := frag("step_0", "SELECT 2")
	b.Meta.ValueColumn = "x"
	_, err := cte.Assemble([]*translator.Fragment{a, b})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestAssembleRejectsMissingValueColumn(t *testing.T) {
	a := frag("step_0", "SELECT id AS resource_id, resource FROM patient")
	_, err := cte.Assemble([]*translator.Fragment{a})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "value column")
}
