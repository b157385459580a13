// Package translator compiles canonical expression trees into ordered SQL
// fragment lists. Each fragment is one CTE; navigation through array
// fields emits row-multiplying unnest steps, scalar navigation accumulates
// lazily into extraction paths, and reductions correlate back to the base
// step so every resource appears in the result.
//
// Translation is pure: it renders SQL text against a dialect and a type
// registry and never touches a database. The same expression always
// produces byte-identical SQL.
package translator

import (
	"fmt"
	"strings"

	"github.com/fhirql/fhirql/internal/ast"
	"github.com/fhirql/fhirql/internal/dialect"
	"github.com/fhirql/fhirql/internal/fhirpath"
	"github.com/fhirql/fhirql/internal/schema"
)

const baseStepID = "step_0"

// Translator renders expressions for one dialect against one registry.
// Safe for concurrent use; all per-translation state lives in a tcontext.
type Translator struct {
	d   dialect.Dialect
	reg *schema.Registry
}

func New(d dialect.Dialect, reg *schema.Registry) *Translator {
	return &Translator{d: d, reg: reg}
}

// resultKind classifies what a visited subtree produced.
type resultKind int

const (
	// resRows: the value is the rows of the context's current step, with
	// the cursor describing the value expression within them.
	resRows resultKind = iota

	// resExpr: an inline scalar expression in the current step's row
	// context.
	resExpr

	// resArray: a constructed JSON array expression with no resource
	// correlation.
	resArray

	// resEmpty: the empty collection {}.
	resEmpty

	// resPredArray: an array field reached inside a lambda body; carried
	// as document + path and resolved by the consuming operator as a
	// subquery rather than an unnest step.
	resPredArray
)

type result struct {
	kind     resultKind
	expr     string
	semType  string
	elemType string

	// isConst marks values with no row dependency (literals, today(),
	// operators over constants). Constant results render without a
	// resource correlation.
	isConst bool

	// elems holds the element expressions of a constant constructed
	// collection, kept unrendered so union and combine can merge arms.
	elems []string

	// predicate-array payload
	doc  string
	path []string
}

// Translate compiles an expression rooted at resourceType into an ordered
// fragment list. On error no fragments are returned.
func (t *Translator) Translate(expression, resourceType string) ([]*Fragment, error) {
	raw, err := fhirpath.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", expression, err)
	}
	node, err := ast.Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("normalize %q: %w", expression, err)
	}
	if !t.reg.HasType(resourceType) {
		return nil, errf(ErrUnresolvableType, expression, "unknown resource type %q", resourceType)
	}

	ctx := &tcontext{
		resourceType: resourceType,
		table:        strings.ToLower(resourceType),
		expr:         expression,
	}
	ctx.add(&Fragment{
		ID:  baseStepID,
		SQL: fmt.Sprintf("SELECT id AS resource_id, resource FROM %s", ctx.table),
		Meta: Meta{
			Function:    "base",
			ElementType: resourceType,
		},
	})
	ctx.seq = 1
	ctx.resetToRoot()

	res, err := t.visit(ctx, node)
	if err != nil {
		return nil, err
	}
	if err := t.finalize(ctx, res); err != nil {
		return nil, err
	}
	return ctx.fragments, nil
}

func (t *Translator) visit(ctx *tcontext, n *ast.Node) (result, error) {
	switch n.Kind {
	case ast.KindIdentifier:
		return t.visitIdentifier(ctx, n)
	case ast.KindLiteral:
		return t.visitLiteral(n)
	case ast.KindFunctionCall:
		return t.visitCall(ctx, n)
	case ast.KindBinaryOp:
		return t.visitBinary(ctx, n)
	case ast.KindUnaryOp:
		return t.visitUnary(ctx, n)
	case ast.KindTypeOp:
		return t.visitTypeOp(ctx, n)
	case ast.KindVariable:
		return t.visitVariable(ctx, n)
	case ast.KindEmpty:
		return result{kind: resEmpty}, nil
	}
	return result{}, errf(ErrTypeMismatch, n.Source, "unhandled node kind %s", n.Kind)
}

func (t *Translator) visitIdentifier(ctx *tcontext, n *ast.Node) (result, error) {
	if n.Target != nil {
		res, err := t.visit(ctx, n.Target)
		if err != nil {
			return result{}, err
		}
		switch res.kind {
		case resRows:
			// navigate below
		case resPredArray:
			return result{}, errf(ErrTypeMismatch, n.Source,
				"cannot navigate %q through an array field inside a predicate", n.Name)
		default:
			return result{}, errf(ErrTypeMismatch, n.Source,
				"cannot navigate %q from a scalar value", n.Name)
		}
		return t.navigate(ctx, n)
	}

	// A bare leading segment naming the root type anchors the expression
	// without navigating.
	if n.Name == ctx.resourceType && t.atRoot(ctx) {
		return result{kind: resRows}, nil
	}
	return t.navigate(ctx, n)
}

func (t *Translator) atRoot(ctx *tcontext) bool {
	return ctx.cur.step == baseStepID &&
		ctx.cur.base == "p.resource" &&
		len(ctx.cur.path) == 0 &&
		ctx.cur.choice == nil &&
		ctx.cur.elemType == ctx.resourceType
}

// navigate applies one path segment to the cursor.
func (t *Translator) navigate(ctx *tcontext, n *ast.Node) (result, error) {
	name := n.Name
	if ctx.cur.choice != nil {
		t.materializeChoice(ctx)
	}

	info, known := t.reg.Lookup(ctx.cur.elemType, name)
	if !known {
		// Unknown fields extract as scalars of unknown type rather than
		// failing, so expressions can reach past the registry's coverage.
		ctx.appendPath(name)
		ctx.pushSrc(name)
		ctx.cur.elemType = ""
		ctx.cur.semType = ""
		return result{kind: resRows}, nil
	}

	if info.Polymorphic() {
		ctx.cur.choice = &choiceState{
			logical: name,
			info:    info,
			docBase: ctx.cur.base,
			docPath: append([]string(nil), ctx.cur.path...),
		}
		ctx.pushSrc(name)
		ctx.cur.elemType = ""
		ctx.cur.semType = ""
		return result{kind: resRows}, nil
	}

	if info.Array {
		if ctx.inPredicate {
			return result{
				kind:     resPredArray,
				doc:      ctx.cur.base,
				path:     append(append([]string(nil), ctx.cur.path...), name),
				elemType: info.DeclaredType,
				semType:  schema.SemanticType(info.DeclaredType),
			}, nil
		}
		return t.emitUnnest(ctx, name, info)
	}

	ctx.appendPath(name)
	ctx.pushSrc(name)
	ctx.cur.elemType = info.DeclaredType
	ctx.cur.semType = schema.SemanticType(info.DeclaredType)
	return result{kind: resRows}, nil
}

// emitUnnest materializes an array field as a row-multiplying step. The
// new step carries the element, a zero-based ordinal and the resource id.
func (t *Translator) emitUnnest(ctx *tcontext, name string, info schema.FieldInfo) (result, error) {
	path := append(append([]string(nil), ctx.cur.path...), name)
	un := t.d.UnnestJSONArray(ctx.cur.base, path, "u")

	ord := un.OrdExpr
	if ctx.cur.ordColumn != "" {
		// Composite ordinal keeps flattened elements in document order
		// when unnesting below an earlier unnest.
		ord = fmt.Sprintf("(p.%s * 1000000 + %s)", ctx.cur.ordColumn, un.OrdExpr)
	}

	id := ctx.nextID()
	col := name + "_item"
	ctx.pushSrc(name)
	frag := &Fragment{
		ID: id,
		SQL: fmt.Sprintf("SELECT p.resource_id, %s AS %s, %s AS elem_ord FROM %s p%s",
			un.ValueExpr, col, ord, ctx.cur.step, un.FromSQL),
		DependsOn: []string{ctx.cur.step},
		Meta: Meta{
			Function:    "unnest",
			ElementType: info.DeclaredType,
			ResultType:  schema.SemanticType(info.DeclaredType),
			SourcePath:  ctx.sourcePath(),
			ValueColumn: col,
			OrdColumn:   "elem_ord",
		},
	}
	ctx.add(frag)
	ctx.cur = cursor{
		step:      id,
		base:      "p." + col,
		elemType:  info.DeclaredType,
		semType:   schema.SemanticType(info.DeclaredType),
		ordColumn: "elem_ord",
		srcPath:   ctx.cur.srcPath,
	}
	return result{kind: resRows}, nil
}

// materializeChoice resolves a pending polymorphic field by coalescing its
// physical variants in declaration order.
func (t *Translator) materializeChoice(ctx *tcontext) {
	ch := ctx.cur.choice
	exprs := make([]string, 0, len(ch.info.ChoiceTypes))
	for _, typeName := range ch.info.ChoiceTypes {
		field := schema.VariantField(ch.logical, typeName)
		exprs = append(exprs, t.d.ExtractJSONField(ch.docBase, append(append([]string(nil), ch.docPath...), field)))
	}
	ctx.cur.base = "COALESCE(" + strings.Join(exprs, ", ") + ")"
	ctx.cur.path = nil
	ctx.cur.choice = nil
	ctx.cur.poly = true
	ctx.cur.elemType = ""
	ctx.cur.semType = ""
}

func (t *Translator) visitLiteral(n *ast.Node) (result, error) {
	switch n.Lit {
	case fhirpath.LitString:
		return result{kind: resExpr, expr: dialect.QuoteString(n.Value), semType: "string", isConst: true}, nil
	case fhirpath.LitInteger:
		return result{kind: resExpr, expr: n.Value, semType: "integer", isConst: true}, nil
	case fhirpath.LitDecimal:
		return result{kind: resExpr, expr: n.Value, semType: "decimal", isConst: true}, nil
	case fhirpath.LitBoolean:
		return result{kind: resExpr, expr: strings.ToUpper(n.Value), semType: "boolean", isConst: true}, nil
	case fhirpath.LitDate:
		return result{kind: resExpr, expr: t.d.SafeCast(dialect.QuoteString(n.Value), dialect.CastDate), semType: "date", isConst: true}, nil
	case fhirpath.LitDateTime:
		return result{kind: resExpr, expr: t.d.SafeCast(dialect.QuoteString(n.Value), dialect.CastDateTime), semType: "datetime", isConst: true}, nil
	case fhirpath.LitTime:
		return result{kind: resExpr, expr: t.d.SafeCast(dialect.QuoteString(n.Value), dialect.CastTime), semType: "time", isConst: true}, nil
	}
	return result{}, errf(ErrTypeMismatch, n.Source, "unhandled literal kind")
}

func (t *Translator) visitVariable(ctx *tcontext, n *ast.Node) (result, error) {
	b, ok := ctx.lookupBinding(n.Name)
	if !ok {
		return result{}, errf(ErrUnresolvableType, n.Source, "variable %s is not bound here", n.Name)
	}
	if n.Name == "$this" {
		// Rebase the cursor on the bound element so property access
		// keeps navigating ($this.family renders like a bare family).
		ctx.cur = cursor{
			step:      ctx.cur.step,
			base:      b.expr,
			elemType:  b.elemType,
			semType:   b.semType,
			ordColumn: ctx.cur.ordColumn,
			text:      b.semType != "",
			srcPath:   ctx.cur.srcPath,
		}
		return result{kind: resRows, semType: b.semType, elemType: b.elemType}, nil
	}
	return result{kind: resExpr, expr: b.expr, semType: b.semType, elemType: b.elemType}, nil
}

func (t *Translator) visitUnary(ctx *tcontext, n *ast.Node) (result, error) {
	if len(n.Args) != 1 {
		return result{}, errf(ErrArity, n.Source, "unary %q needs one operand", n.Op)
	}
	operand, err := t.visit(ctx, n.Args[0])
	if err != nil {
		return result{}, err
	}
	expr, semType, err := t.scalarExpr(ctx, operand, n.Args[0].Source)
	if err != nil {
		return result{}, err
	}
	switch n.Op {
	case "-":
		if semType != "integer" && semType != "decimal" && semType != "" {
			return result{}, errf(ErrTypeMismatch, n.Source, "cannot negate a %s value", semType)
		}
		if semType == "" {
			expr = t.d.SafeCast(expr, dialect.CastDecimal)
			semType = "decimal"
		}
		return result{kind: resExpr, expr: "(-" + expr + ")", semType: semType}, nil
	case "+":
		return result{kind: resExpr, expr: expr, semType: semType}, nil
	}
	return result{}, errf(ErrTypeMismatch, n.Source, "unknown unary operator %q", n.Op)
}

// scalarExpr renders any result as an inline scalar expression in the
// current row context. Rows results become lazy extractions; text output
// is used for primitives so comparisons and casts see SQL scalars.
func (t *Translator) scalarExpr(ctx *tcontext, res result, src string) (string, string, error) {
	switch res.kind {
	case resExpr:
		return res.expr, res.semType, nil
	case resEmpty:
		return "NULL", "", nil
	case resRows:
		if ctx.cur.choice != nil {
			t.materializeChoice(ctx)
		}
		return t.cursorValue(ctx, true), ctx.cur.semType, nil
	case resArray:
		return res.expr, "collection", nil
	case resPredArray:
		return "", "", errf(ErrTypeMismatch, src,
			"array field cannot be used as a scalar inside a predicate")
	}
	return "", "", errf(ErrTypeMismatch, src, "value cannot be used as a scalar")
}

// cursorValue renders the cursor's current value. asText selects the
// string-typed extraction for primitive values, so comparisons and casts
// see SQL scalars instead of quoted JSON.
func (t *Translator) cursorValue(ctx *tcontext, asText bool) string {
	if len(ctx.cur.path) == 0 && ctx.cur.text {
		return ctx.cur.base
	}
	if asText && ctx.cur.semType != "" {
		return t.d.ExtractJSONString(ctx.cur.base, ctx.cur.path)
	}
	if len(ctx.cur.path) == 0 {
		return ctx.cur.base
	}
	return t.d.ExtractJSONField(ctx.cur.base, ctx.cur.path)
}

// stepValue renders the cursor value for storage in a new step's column:
// text for primitives, JSON for complex values.
func (t *Translator) stepValue(ctx *tcontext) string {
	return t.cursorValue(ctx, true)
}

// resolveChoice materializes any pending polymorphic field.
func (t *Translator) resolveChoice(ctx *tcontext) {
	if ctx.cur.choice != nil {
		t.materializeChoice(ctx)
	}
}

func columnName(segment string) string {
	var b strings.Builder
	for _, r := range segment {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "value"
	}
	return b.String()
}

// finalize appends the result-bearing fragment when the visited tree
// left the value implicit.
func (t *Translator) finalize(ctx *tcontext, res result) error {
	switch res.kind {
	case resRows:
		if ctx.cur.choice != nil {
			t.materializeChoice(ctx)
		}
		last := ctx.lastFragment()
		plain := strings.TrimPrefix(ctx.cur.base, "p.")
		if len(ctx.cur.path) == 0 && last != nil && last.ID == ctx.cur.step &&
			last.Meta.ValueColumn != "" && plain == last.Meta.ValueColumn {
			return nil
		}
		col := "value"
		if n := len(ctx.cur.srcPath); n > 0 {
			col = columnName(ctx.cur.srcPath[n-1])
		}
		expr := t.cursorValue(ctx, ctx.cur.semType != "")
		ctx.add(&Fragment{
			ID: ctx.nextID(),
			SQL: fmt.Sprintf("SELECT p.resource_id, %s AS %s FROM %s p",
				expr, col, ctx.cur.step),
			DependsOn: []string{ctx.cur.step},
			Meta: Meta{
				Function:    "project",
				ElementType: ctx.cur.elemType,
				ResultType:  ctx.cur.semType,
				SourcePath:  ctx.sourcePath(),
				ValueColumn: col,
				Polymorphic: ctx.cur.poly,
			},
		})
		return nil

	case resExpr:
		if res.isConst {
			ctx.add(&Fragment{
				ID:  ctx.nextID(),
				SQL: fmt.Sprintf("SELECT %s AS result", res.expr),
				Meta: Meta{
					Function:    "result",
					ResultType:  res.semType,
					ValueColumn: "result",
					Constant:    true,
				},
			})
			return nil
		}
		ctx.add(&Fragment{
			ID: ctx.nextID(),
			SQL: fmt.Sprintf("SELECT p.resource_id, %s AS result FROM %s p",
				res.expr, ctx.cur.step),
			DependsOn: []string{ctx.cur.step},
			Meta: Meta{
				Function:    "result",
				ResultType:  res.semType,
				ElementType: res.elemType,
				ValueColumn: "result",
			},
		})
		return nil

	case resArray:
		expr := res.expr
		if expr == "" {
			expr = t.d.JSONArray(res.elems)
		}
		if res.isConst {
			ctx.add(&Fragment{
				ID:  ctx.nextID(),
				SQL: fmt.Sprintf("SELECT %s AS result", expr),
				Meta: Meta{
					Function:    "result",
					ResultType:  "collection",
					ValueColumn: "result",
					Constant:    true,
				},
			})
			return nil
		}
		ctx.add(&Fragment{
			ID: ctx.nextID(),
			SQL: fmt.Sprintf("SELECT p.resource_id, %s AS result FROM %s p",
				expr, ctx.cur.step),
			DependsOn: []string{ctx.cur.step},
			Meta: Meta{
				Function:    "result",
				ResultType:  "collection",
				ValueColumn: "result",
			},
		})
		return nil

	case resEmpty:
		ctx.add(&Fragment{
			ID:  ctx.nextID(),
			SQL: "SELECT NULL AS result WHERE 1 = 0",
			Meta: Meta{
				Function:    "result",
				ValueColumn: "result",
				Constant:    true,
			},
		})
		return nil
	}
	return errf(ErrTypeMismatch, ctx.expr, "expression does not produce a value")
}
