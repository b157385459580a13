package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// executeCommand runs the root command with args and captures output.
func executeCommand(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "fhirql", cmd.Use)
	assert.Contains(t, cmd.Long, "FHIRPath")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"translate", "run", "load"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	require.NotNil(t, cmd.PersistentFlags().Lookup("engine"))
	require.NotNil(t, cmd.PersistentFlags().Lookup("dsn"))
}

func TestInvalidFormatRejected(t *testing.T) {
	_, _, err := executeCommand(t, "--format", "xml", "translate", "Patient.birthDate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestResolveConfigFlagOverrides(t *testing.T) {
	cfg, err := resolveConfig(&RootOptions{Engine: "duckdb", DSN: "/tmp/x.db"})
	require.NoError(t, err)
	assert.Equal(t, "duckdb", cfg.Engine)
	assert.Equal(t, "/tmp/x.db", cfg.DSN)

	cfg, err = resolveConfig(&RootOptions{})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Engine)
	assert.Equal(t, ":memory:", cfg.DSN)
}
