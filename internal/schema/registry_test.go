package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	reg, err := Load()
	require.NoError(t, err)

	assert.True(t, reg.HasType("Patient"))
	assert.True(t, reg.HasType("Observation"))
	assert.True(t, reg.HasType("HumanName"))
	assert.Greater(t, reg.Types(), 10)
}

func TestLookup_ArrayField(t *testing.T) {
	reg, err := Load()
	require.NoError(t, err)

	info, ok := reg.Lookup("Patient", "name")
	require.True(t, ok)
	assert.True(t, info.Array)
	assert.Equal(t, "HumanName", info.DeclaredType)
	assert.False(t, info.Polymorphic())
}

func TestLookup_ScalarField(t *testing.T) {
	reg, err := Load()
	require.NoError(t, err)

	info, ok := reg.Lookup("Patient", "birthDate")
	require.True(t, ok)
	assert.False(t, info.Array)
	assert.Equal(t, "date", info.DeclaredType)
}

func TestLookup_ChoiceField(t *testing.T) {
	reg, err := Load()
	require.NoError(t, err)

	info, ok := reg.Lookup("Observation", "value")
	require.True(t, ok)
	require.True(t, info.Polymorphic())
	assert.Contains(t, info.ChoiceTypes, "Quantity")
	assert.Contains(t, info.ChoiceTypes, "string")

	variants := info.Variants("value")
	assert.Contains(t, variants, "valueQuantity")
	assert.Contains(t, variants, "valueString")
	assert.Contains(t, variants, "valueDateTime")
}

func TestLookup_Unknown(t *testing.T) {
	reg, err := Load()
	require.NoError(t, err)

	_, ok := reg.Lookup("Patient", "nonexistent")
	assert.False(t, ok)
	_, ok = reg.Lookup("Spaceship", "name")
	assert.False(t, ok)
}

func TestVariantField_Capitalization(t *testing.T) {
	assert.Equal(t, "valueQuantity", VariantField("value", "Quantity"))
	assert.Equal(t, "valueDateTime", VariantField("value", "dateTime"))
	assert.Equal(t, "deceasedBoolean", VariantField("deceased", "boolean"))
	assert.Equal(t, "onsetString", VariantField("onset", "string"))
}

func TestSemanticType(t *testing.T) {
	assert.Equal(t, "date", SemanticType("date"))
	assert.Equal(t, "datetime", SemanticType("dateTime"))
	assert.Equal(t, "datetime", SemanticType("instant"))
	assert.Equal(t, "string", SemanticType("code"))
	assert.Equal(t, "integer", SemanticType("positiveInt"))
	assert.Equal(t, "", SemanticType("HumanName"))

	assert.True(t, IsPrimitive("decimal"))
	assert.False(t, IsPrimitive("CodeableConcept"))
}

func TestLoadDir_ExtendsDefaults(t *testing.T) {
	dir := t.TempDir()
	extra := `schemas: {
	Device: {
		status: {type: "code"}
		serialNumber: {type: "string"}
		contact: {type: "ContactPoint", array: true}
	}
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "device.cue"), []byte(extra), 0o644))

	reg, err := LoadDir(dir)
	require.NoError(t, err)

	assert.True(t, reg.HasType("Patient")) // defaults survive
	info, ok := reg.Lookup("Device", "contact")
	require.True(t, ok)
	assert.True(t, info.Array)
	assert.Equal(t, "ContactPoint", info.DeclaredType)
}

func TestLoadDir_MalformedDefinition(t *testing.T) {
	dir := t.TempDir()
	bad := `schemas: {
	Broken: {
		field: {array: true}
	}
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.cue"), []byte(bad), 0o644))

	_, err := LoadDir(dir)
	require.Error(t, err)

	var defErr *DefinitionError
	require.ErrorAs(t, err, &defErr)
	assert.Equal(t, "Broken", defErr.Type)
	assert.Equal(t, "field", defErr.Field)
}

func TestLoadDir_Missing(t *testing.T) {
	_, err := LoadDir(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
