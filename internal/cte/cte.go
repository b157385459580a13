// Package cte assembles translated fragments into a single executable
// statement: a WITH clause holding every step in dependency order,
// followed by the final projection.
package cte

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fhirql/fhirql/internal/translator"
)

// ErrNoFragments is returned when assembly is asked to render an empty
// fragment list.
var ErrNoFragments = errors.New("cte: no fragments to assemble")

// Column describes one column of the final result set.
type Column struct {
	Name string `json:"name"`
	// Type is the semantic type ("integer", "string", …); "json" for
	// complex values.
	Type string `json:"type"`
}

// Statement is a complete, executable query.
type Statement struct {
	SQL     string
	Columns []Column
}

// Assemble orders fragments so every dependency is defined before use and
// renders the WITH chain. The last fragment carries the result; its
// metadata decides the final projection. The same fragment list always
// renders byte-identical SQL.
func Assemble(frags []*translator.Fragment) (*Statement, error) {
	if len(frags) == 0 {
		return nil, ErrNoFragments
	}

	ordered, err := order(frags)
	if err != nil {
		return nil, err
	}

	with := "WITH "
	for _, f := range ordered {
		if f.Recursive {
			with = "WITH RECURSIVE "
			break
		}
	}

	var b strings.Builder
	b.WriteString(with)
	for i, f := range ordered {
		if i > 0 {
			b.WriteString(",\n")
		}
		fmt.Fprintf(&b, "%s AS (\n  %s\n)", f.ID, f.SQL)
	}
	b.WriteString("\n")

	last := frags[len(frags)-1]
	if last.Meta.ValueColumn == "" {
		return nil, fmt.Errorf("cte: fragment %s carries no value column", last.ID)
	}

	var columns []Column
	valueType := last.Meta.ResultType
	if valueType == "" {
		valueType = "json"
	}
	if last.Meta.Constant {
		fmt.Fprintf(&b, "SELECT %s FROM %s", last.Meta.ValueColumn, last.ID)
		columns = []Column{{Name: last.Meta.ValueColumn, Type: valueType}}
	} else {
		fmt.Fprintf(&b, "SELECT resource_id, %s FROM %s ORDER BY resource_id", last.Meta.ValueColumn, last.ID)
		if last.Meta.OrdColumn != "" {
			fmt.Fprintf(&b, ", %s", last.Meta.OrdColumn)
		}
		columns = []Column{
			{Name: "resource_id", Type: "string"},
			{Name: last.Meta.ValueColumn, Type: valueType},
		}
	}

	return &Statement{SQL: b.String(), Columns: columns}, nil
}

// order returns fragments in dependency order, stable with respect to the
// input so rendering stays deterministic.
func order(frags []*translator.Fragment) ([]*translator.Fragment, error) {
	byID := make(map[string]*translator.Fragment, len(frags))
	for _, f := range frags {
		if _, dup := byID[f.ID]; dup {
			return nil, fmt.Errorf("cte: duplicate fragment id %s", f.ID)
		}
		byID[f.ID] = f
	}
	for _, f := range frags {
		for _, dep := range f.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("cte: fragment %s depends on unknown step %s", f.ID, dep)
			}
		}
	}

	placed := make(map[string]bool, len(frags))
	ordered := make([]*translator.Fragment, 0, len(frags))
	remaining := len(frags)
	for remaining > 0 {
		progressed := false
		for _, f := range frags {
			if placed[f.ID] {
				continue
			}
			ready := true
			for _, dep := range f.DependsOn {
				if dep != f.ID && !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				placed[f.ID] = true
				ordered = append(ordered, f)
				remaining--
				progressed = true
			}
		}
		if !progressed {
			return nil, errors.New("cte: dependency cycle between fragments")
		}
	}
	return ordered, nil
}
