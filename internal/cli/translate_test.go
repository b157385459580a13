package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateText(t *testing.T) {
	out, _, err := executeCommand(t, "translate", "Patient.name.family")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "WITH step_0 AS ("))
	assert.Contains(t, out, "json_each(p.resource, '$.name')")
	assert.Contains(t, out, "ORDER BY resource_id")
}

func TestTranslateJSON(t *testing.T) {
	out, _, err := executeCommand(t, "--format", "json", "translate", "Patient.birthDate")
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)

	data := resp.Data.(map[string]any)
	assert.Equal(t, "Patient.birthDate", data["expression"])
	assert.Equal(t, "Patient", data["resource"])
	assert.Equal(t, "sqlite", data["engine"])
	assert.Contains(t, data["sql"], "json_extract(p.resource, '$.birthDate')")
	assert.Len(t, data["columns"], 2)
}

func TestTranslateEngineFlag(t *testing.T) {
	out, _, err := executeCommand(t, "--engine", "postgres", "translate", "Patient.name.family")
	require.NoError(t, err)
	assert.Contains(t, out, "jsonb_array_elements")
	assert.NotContains(t, out, "json_each")
}

func TestTranslateExplicitResource(t *testing.T) {
	out, _, err := executeCommand(t, "translate", "--resource", "Patient", "name.family")
	require.NoError(t, err)
	assert.Contains(t, out, "name_item")
}

func TestTranslateCannotInferResource(t *testing.T) {
	out, _, err := executeCommand(t, "translate", "name.family")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "pass --resource")
}

func TestTranslateUnknownFunction(t *testing.T) {
	out, _, err := executeCommand(t, "translate", "Patient.name.fuzz()")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [UNKNOWN_FUNCTION]")
}

func TestTranslateErrorJSONEnvelope(t *testing.T) {
	out, _, err := executeCommand(t, "--format", "json", "translate", "Patient.name.fuzz()")
	require.Error(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "UNKNOWN_FUNCTION", resp.Error.Code)
}
