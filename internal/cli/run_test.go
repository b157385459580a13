package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedDatabase loads a small bundle into a sqlite file and returns its path.
func seedDatabase(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	bundle := filepath.Join(dir, "bundle.ndjson")
	contents := `{"resourceType":"Patient","id":"p1","birthDate":"1974-12-25","name":[{"use":"official","family":"Chalmers"}]}
{"resourceType":"Patient","id":"p2","birthDate":"1982-01-23","name":[{"use":"nickname","family":"Windsor"},{"use":"official","family":"Notsowell"}]}
`
	require.NoError(t, os.WriteFile(bundle, []byte(contents), 0o644))

	db := filepath.Join(dir, "clinical.db")
	out, _, err := executeCommand(t, "load", bundle, "--dsn", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Loaded 2 resource(s) into 1 table(s)")
	return db
}

func TestLoadThenRun(t *testing.T) {
	db := seedDatabase(t)

	out, _, err := executeCommand(t, "run", "Patient.name.count()", "--dsn", db)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "resource_id\tcount_value", lines[0])
	assert.Equal(t, "p1\t1", lines[1])
	assert.Equal(t, "p2\t2", lines[2])
}

func TestRunJSON(t *testing.T) {
	db := seedDatabase(t)

	out, _, err := executeCommand(t, "--format", "json", "run", "Patient.birthDate", "--dsn", db)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)

	data := resp.Data.(map[string]any)
	assert.NotEmpty(t, data["run_id"])
	rows := data["rows"].([]any)
	require.Len(t, rows, 2)
	first := rows[0].([]any)
	assert.Equal(t, "p1", first[0])
	assert.Equal(t, "1974-12-25", first[1])
}

func TestRunAgainstEmptyDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "empty.db")

	out, _, err := executeCommand(t, "run", "Patient.birthDate", "--dsn", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [ENGINE]")
}

func TestLoadMissingFile(t *testing.T) {
	_, _, err := executeCommand(t, "load", filepath.Join(t.TempDir(), "absent.ndjson"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestLoadMalformedBundle(t *testing.T) {
	dir := t.TempDir()
	bundle := filepath.Join(dir, "bad.ndjson")
	require.NoError(t, os.WriteFile(bundle, []byte("{not json}\n"), 0o644))

	out, _, err := executeCommand(t, "load", bundle, "--dsn", filepath.Join(dir, "x.db"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [LOAD]")
}
