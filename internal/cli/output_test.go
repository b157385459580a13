package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fhirql/fhirql/internal/translator"
)

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitCommandError, GetExitCode(errors.New("boom")))
	assert.Equal(t, ExitFailure, GetExitCode(&ExitError{Code: ExitFailure, Message: "x"}))
}

func TestExitErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")
	err := &ExitError{Code: ExitFailure, Message: "outer", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "outer")
	assert.Contains(t, err.Error(), "inner")
}

func TestFormatterSuccessJSON(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &buf}
	require.NoError(t, f.Success(map[string]int{"rows": 2}))

	var resp Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Nil(t, resp.Error)
}

func TestFormatterErrorText(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "text", Writer: &buf}
	require.NoError(t, f.Error("TYPE_MISMATCH", "cannot add date to boolean"))
	assert.Equal(t, "Error [TYPE_MISMATCH]: cannot add date to boolean\n", buf.String())
}

func TestVerboseLogGoesToErrWriter(t *testing.T) {
	var out, errOut bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &out, ErrWriter: &errOut, Verbose: true}
	f.VerboseLog("step %d", 3)
	assert.Empty(t, out.String())
	assert.Equal(t, "step 3\n", errOut.String())

	f.Verbose = false
	f.VerboseLog("never shown")
	assert.Equal(t, "step 3\n", errOut.String())
}

func TestErrorCodeMapping(t *testing.T) {
	terr := &translator.Error{Code: translator.ErrUnknownFunction, Message: "nope"}
	assert.Equal(t, "UNKNOWN_FUNCTION", errorCode(terr))
	assert.Equal(t, "PARSE", errorCode(errors.New("unexpected token")))
}
