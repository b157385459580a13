package translator

import (
	"fmt"
	"strings"

	"github.com/fhirql/fhirql/internal/ast"
	"github.com/fhirql/fhirql/internal/dialect"
	"github.com/fhirql/fhirql/internal/schema"
)

// visitTypeOp handles is, as and ofType. On a pending choice field the
// type name selects the physical variant; elsewhere is/ofType test the
// stored JSON type and as narrows statically.
func (t *Translator) visitTypeOp(ctx *tcontext, n *ast.Node) (result, error) {
	res := result{kind: resRows}
	if n.Target != nil {
		r, err := t.visit(ctx, n.Target)
		if err != nil {
			return result{}, err
		}
		res = r
	}

	if res.kind == resRows && ctx.cur.choice != nil {
		return t.choiceTypeOp(ctx, n)
	}

	if !t.knownTypeName(n.TypeName) {
		return result{}, errf(ErrUnresolvableType, n.Source, "unknown type %q", n.TypeName)
	}

	switch res.kind {
	case resEmpty:
		return res, nil
	case resExpr:
		return t.scalarTypeOp(ctx, n, res)
	case resPredArray:
		return result{}, errf(ErrTypeMismatch, n.Source,
			"type operations cannot apply to an array field inside a predicate")
	case resRows:
		return t.rowsTypeOp(ctx, n)
	}
	return result{}, errf(ErrTypeMismatch, n.Source, "value does not support type operations")
}

func (t *Translator) knownTypeName(typeName string) bool {
	return typeName != "" &&
		(t.reg.HasType(typeName) || schema.IsPrimitive(typeName))
}

// choiceTypeOp resolves a type operation against an unresolved choice
// field: the named type picks one physical variant.
func (t *Translator) choiceTypeOp(ctx *tcontext, n *ast.Node) (result, error) {
	ch := ctx.cur.choice
	matched := ""
	for _, option := range ch.info.ChoiceTypes {
		if strings.EqualFold(option, n.TypeName) {
			matched = option
			break
		}
	}
	if matched == "" {
		if !t.knownTypeName(n.TypeName) {
			return result{}, errf(ErrUnresolvableType, n.Source, "unknown type %q", n.TypeName)
		}
		// A valid type the choice can never hold.
		ctx.cur.choice = nil
		if n.Op == "is" {
			return result{kind: resExpr, expr: "FALSE", semType: "boolean"}, nil
		}
		return result{kind: resEmpty}, nil
	}

	field := schema.VariantField(ch.logical, matched)
	path := append(append([]string(nil), ch.docPath...), field)
	ctx.cur.choice = nil

	if n.Op == "is" {
		return result{
			kind:    resExpr,
			expr:    fmt.Sprintf("(%s IS NOT NULL)", t.d.ExtractJSONField(ch.docBase, path)),
			semType: "boolean",
		}, nil
	}

	// as / ofType: narrow to the variant and keep navigating.
	ctx.cur.base = ch.docBase
	ctx.cur.path = path
	ctx.cur.elemType = matched
	ctx.cur.semType = schema.SemanticType(matched)
	ctx.cur.text = false
	ctx.cur.poly = true
	return result{kind: resRows}, nil
}

func (t *Translator) scalarTypeOp(ctx *tcontext, n *ast.Node, res result) (result, error) {
	targetSem := schema.SemanticType(n.TypeName)
	matches := strings.EqualFold(res.elemType, n.TypeName) ||
		(res.semType != "" && res.semType == targetSem)
	switch n.Op {
	case "is":
		expr := "FALSE"
		if matches {
			expr = "TRUE"
		}
		return result{kind: resExpr, expr: expr, semType: "boolean", isConst: res.isConst}, nil
	case "as", "ofType":
		if matches {
			return res, nil
		}
		return result{kind: resEmpty}, nil
	}
	return result{}, errf(ErrTypeMismatch, n.Source, "unknown type operation %q", n.Op)
}

func (t *Translator) rowsTypeOp(ctx *tcontext, n *ast.Node) (result, error) {
	targetSem := schema.SemanticType(n.TypeName)

	// Statically known element type decides without inspecting data.
	if ctx.cur.elemType != "" {
		matches := strings.EqualFold(ctx.cur.elemType, n.TypeName) ||
			(ctx.cur.semType != "" && ctx.cur.semType == targetSem)
		switch n.Op {
		case "is":
			expr := "FALSE"
			if matches {
				expr = "TRUE"
			}
			return result{kind: resExpr, expr: expr, semType: "boolean"}, nil
		default:
			if matches {
				return result{kind: resRows}, nil
			}
			return result{kind: resEmpty}, nil
		}
	}

	// Unknown static type: test the stored JSON type.
	cond := t.jsonTypeCondition(t.cursorValue(ctx, false), n.TypeName)
	if n.Op == "is" {
		return result{kind: resExpr, expr: "(" + cond + ")", semType: "boolean"}, nil
	}

	col := "oftype_item"
	ordSel, ordCol := "", ""
	if ctx.cur.ordColumn != "" {
		ordSel = fmt.Sprintf(", p.%s AS elem_ord", ctx.cur.ordColumn)
		ordCol = "elem_ord"
	}
	id := ctx.nextID()
	ctx.add(&Fragment{
		ID: id,
		SQL: fmt.Sprintf("SELECT p.resource_id, %s AS %s%s FROM %s p WHERE %s",
			t.cursorValue(ctx, false), col, ordSel, ctx.cur.step, cond),
		DependsOn: []string{ctx.cur.step},
		Meta: Meta{
			Function:    "ofType",
			ElementType: n.TypeName,
			ResultType:  targetSem,
			SourcePath:  ctx.sourcePath(),
			ValueColumn: col,
			OrdColumn:   ordCol,
			Polymorphic: ctx.cur.poly,
		},
	})
	ctx.cur = cursor{
		step:      id,
		base:      "p." + col,
		elemType:  n.TypeName,
		semType:   targetSem,
		ordColumn: ordCol,
		text:      false,
		poly:      ctx.cur.poly,
		srcPath:   ctx.cur.srcPath,
	}
	return result{kind: resRows}, nil
}

// jsonTypeCondition tests a JSON value against the storage types a
// semantic category maps to in the active dialect. Temporal types are
// stored as JSON strings.
func (t *Translator) jsonTypeCondition(val, typeName string) string {
	category := schema.SemanticType(typeName)
	switch category {
	case "date", "datetime", "time":
		category = "string"
	case "":
		category = "object"
	}
	names := t.d.JSONTypeNames(category)
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = dialect.QuoteString(name)
	}
	return fmt.Sprintf("%s IN (%s)", t.d.JSONType(val), strings.Join(quoted, ", "))
}
