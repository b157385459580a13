package schema

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var defaultSchemaCUE []byte

// DefinitionError reports a malformed entry in a CUE schema definition.
type DefinitionError struct {
	Type    string
	Field   string
	Message string
}

func (e *DefinitionError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("schema definition %s.%s: %s", e.Type, e.Field, e.Message)
	}
	return fmt.Sprintf("schema definition %s: %s", e.Type, e.Message)
}

// Load builds the registry from the embedded default definitions.
func Load() (*Registry, error) {
	ctx := cuecontext.New()
	value := ctx.CompileBytes(defaultSchemaCUE, cue.Filename("schema.cue"))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("compile embedded schema: %s", cueerrors.Details(err, nil))
	}
	return buildRegistry(value)
}

// LoadDir builds the registry from the embedded defaults unified with all
// .cue files found in dir. User definitions extend or override defaults.
func LoadDir(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read schema directory: %w", err)
	}

	ctx := cuecontext.New()
	value := ctx.CompileBytes(defaultSchemaCUE, cue.Filename("schema.cue"))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("compile embedded schema: %s", cueerrors.Details(err, nil))
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".cue") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names) // deterministic unification order

	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read schema file %s: %w", path, err)
		}
		extra := ctx.CompileBytes(data, cue.Filename(path))
		if err := extra.Err(); err != nil {
			return nil, fmt.Errorf("compile %s: %s", path, cueerrors.Details(err, nil))
		}
		value = value.Unify(extra)
		if err := value.Err(); err != nil {
			return nil, fmt.Errorf("unify %s: %s", path, cueerrors.Details(err, nil))
		}
	}

	return buildRegistry(value)
}

// buildRegistry walks the schemas struct and materializes the immutable
// lookup table.
func buildRegistry(value cue.Value) (*Registry, error) {
	schemas := value.LookupPath(cue.ParsePath("schemas"))
	if !schemas.Exists() {
		return nil, &DefinitionError{Type: "schemas", Message: "top-level schemas struct is required"}
	}

	types := make(map[string]map[string]FieldInfo)

	typeIter, err := schemas.Fields()
	if err != nil {
		return nil, fmt.Errorf("iterate schemas: %w", err)
	}
	for typeIter.Next() {
		typeName := typeIter.Selector().Unquoted()
		fields, err := parseFields(typeName, typeIter.Value())
		if err != nil {
			return nil, err
		}
		types[typeName] = fields
	}

	return &Registry{types: types}, nil
}

func parseFields(typeName string, v cue.Value) (map[string]FieldInfo, error) {
	fields := make(map[string]FieldInfo)

	fieldIter, err := v.Fields()
	if err != nil {
		return nil, &DefinitionError{Type: typeName, Message: "type definition must be a struct"}
	}
	for fieldIter.Next() {
		fieldName := fieldIter.Selector().Unquoted()
		info, err := parseFieldInfo(typeName, fieldName, fieldIter.Value())
		if err != nil {
			return nil, err
		}
		fields[fieldName] = info
	}
	return fields, nil
}

func parseFieldInfo(typeName, fieldName string, v cue.Value) (FieldInfo, error) {
	var info FieldInfo

	choiceVal := v.LookupPath(cue.ParsePath("choice"))
	if choiceVal.Exists() {
		iter, err := choiceVal.List()
		if err != nil {
			return info, &DefinitionError{Type: typeName, Field: fieldName, Message: "choice must be a list of type names"}
		}
		for iter.Next() {
			option, err := iter.Value().String()
			if err != nil {
				return info, &DefinitionError{Type: typeName, Field: fieldName, Message: "choice entries must be strings"}
			}
			info.ChoiceTypes = append(info.ChoiceTypes, option)
		}
		if len(info.ChoiceTypes) == 0 {
			return info, &DefinitionError{Type: typeName, Field: fieldName, Message: "choice list is empty"}
		}
		return info, nil
	}

	typeVal := v.LookupPath(cue.ParsePath("type"))
	if !typeVal.Exists() {
		return info, &DefinitionError{Type: typeName, Field: fieldName, Message: "either type or choice is required"}
	}
	declared, err := typeVal.String()
	if err != nil {
		return info, &DefinitionError{Type: typeName, Field: fieldName, Message: "type must be a string"}
	}
	info.DeclaredType = declared

	arrayVal := v.LookupPath(cue.ParsePath("array"))
	if arrayVal.Exists() {
		isArray, err := arrayVal.Bool()
		if err != nil {
			return info, &DefinitionError{Type: typeName, Field: fieldName, Message: "array must be a boolean"}
		}
		info.Array = isArray
	}

	return info, nil
}
