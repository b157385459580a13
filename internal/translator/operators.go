package translator

import (
	"fmt"
	"strings"

	"github.com/fhirql/fhirql/internal/ast"
	"github.com/fhirql/fhirql/internal/dialect"
)

// operand is a rendered binary operand with enough type information to
// drive the coercion rules.
type operand struct {
	expr    string
	semType string
	isConst bool
	pred    *result // set for array fields inside predicates
	cur     cursor  // cursor after translating this operand
}

func (t *Translator) visitBinary(ctx *tcontext, n *ast.Node) (result, error) {
	if len(n.Args) != 2 {
		return result{}, errf(ErrArity, n.Source, "operator %q needs two operands", n.Op)
	}
	if n.Op == "|" {
		left, err := t.visit(ctx, n.Args[0])
		if err != nil {
			return result{}, err
		}
		return t.fnMerge(ctx, left, n.Args[1], true, n.Source)
	}

	switch n.Op {
	case "and", "or", "xor", "implies":
		return t.logicalOp(ctx, n)
	}

	entry := ctx.saveCursor()
	left, err := t.binaryOperand(ctx, n.Args[0])
	if err != nil {
		return result{}, err
	}
	ctx.restoreCursor(entry)
	right, err := t.binaryOperand(ctx, n.Args[1])
	if err != nil {
		return result{}, err
	}

	// Pick the surviving row context. Operands from two different
	// row-multiplying steps have no shared row to combine in.
	switch {
	case left.cur.step == right.cur.step:
		// either cursor works; keep the right one
	case right.isConst || right.pred != nil:
		ctx.restoreCursor(left.cur)
	case left.isConst || left.pred != nil:
		// right cursor already current
	default:
		return result{}, errf(ErrTypeMismatch, n.Source,
			"operands of %q come from different element contexts", n.Op)
	}

	if left.pred != nil || right.pred != nil {
		return t.predArrayCompare(ctx, n, left, right)
	}

	switch n.Op {
	case "=", "!=", "~", "<", ">", "<=", ">=":
		return t.comparison(ctx, n, left, right)
	case "+", "-", "*", "/", "div", "mod":
		return t.arithmetic(ctx, n, left, right)
	case "&":
		return result{
			kind:    resExpr,
			expr:    fmt.Sprintf("(COALESCE(%s, '') || COALESCE(%s, ''))", left.expr, right.expr),
			semType: "string",
			isConst: left.isConst && right.isConst,
		}, nil
	}
	return result{}, errf(ErrTypeMismatch, n.Source, "unknown operator %q", n.Op)
}

func (t *Translator) binaryOperand(ctx *tcontext, n *ast.Node) (operand, error) {
	res, err := t.visit(ctx, n)
	if err != nil {
		return operand{}, err
	}
	if res.kind == resPredArray {
		return operand{pred: &res, semType: res.semType, cur: ctx.saveCursor()}, nil
	}
	expr, semType, err := t.scalarExpr(ctx, res, n.Source)
	if err != nil {
		return operand{}, err
	}
	return operand{expr: expr, semType: semType, isConst: res.isConst, cur: ctx.saveCursor()}, nil
}

func (t *Translator) logicalOp(ctx *tcontext, n *ast.Node) (result, error) {
	entry := ctx.saveCursor()
	lRes, err := t.visit(ctx, n.Args[0])
	var l string
	if err == nil {
		l, err = t.boolExpr(ctx, lRes, n.Args[0].Source)
	}
	if err != nil {
		return result{}, err
	}
	lCur := ctx.saveCursor()
	ctx.restoreCursor(entry)
	rRes, err := t.visit(ctx, n.Args[1])
	var r string
	if err == nil {
		r, err = t.boolExpr(ctx, rRes, n.Args[1].Source)
	}
	if err != nil {
		return result{}, err
	}
	rCur := ctx.saveCursor()

	// Operands that materialized their own steps (reductions on either
	// side) render against different row contexts and must be brought
	// into one before they can share a boolean.
	exprs, err := t.alignRowExprs(ctx, n.Source, n.Op, []rowExpr{
		{expr: l, cur: lCur, isConst: lRes.isConst},
		{expr: r, cur: rCur, isConst: rRes.isConst},
	})
	if err != nil {
		return result{}, err
	}
	l, r = exprs[0], exprs[1]

	var expr string
	switch n.Op {
	case "and":
		expr = fmt.Sprintf("(%s AND %s)", l, r)
	case "or":
		expr = fmt.Sprintf("(%s OR %s)", l, r)
	case "xor":
		expr = fmt.Sprintf("(COALESCE(%s, FALSE) <> COALESCE(%s, FALSE))", l, r)
	case "implies":
		expr = fmt.Sprintf("(NOT COALESCE(%s, FALSE) OR COALESCE(%s, FALSE))", l, r)
	}
	return result{
		kind:    resExpr,
		expr:    expr,
		semType: "boolean",
		isConst: lRes.isConst && rRes.isConst,
	}, nil
}

// rowExpr is a rendered SQL expression together with the row context it
// was rendered against.
type rowExpr struct {
	expr    string
	cur     cursor
	isConst bool
}

// alignRowExprs rewrites expressions rendered against different steps so
// they are valid in a single row context. Expressions already sharing one
// step pass through; otherwise each source step is projected to a narrow
// value step and the value steps are joined on resource_id. Only steps
// yielding at most one row per resource can be joined this way. On return
// the cursor points at the shared step.
func (t *Translator) alignRowExprs(ctx *tcontext, src, op string, parts []rowExpr) ([]string, error) {
	exprs := make([]string, len(parts))
	for i, p := range parts {
		exprs[i] = p.expr
	}

	stepIdx := map[string]int{}
	var srcCurs []cursor
	for _, p := range parts {
		if p.isConst {
			continue
		}
		if _, ok := stepIdx[p.cur.step]; !ok {
			stepIdx[p.cur.step] = len(srcCurs)
			srcCurs = append(srcCurs, p.cur)
		}
	}
	switch len(srcCurs) {
	case 0:
		return exprs, nil
	case 1:
		ctx.restoreCursor(srcCurs[0])
		return exprs, nil
	}

	for _, c := range srcCurs {
		if !ctx.oneRowPerResource(c.step) {
			return nil, errf(ErrTypeMismatch, src,
				"operands of %q come from different element contexts", op)
		}
	}

	// Expressions were rendered against alias p of their own step; they
	// cannot be re-aliased textually, so each step gets a projection
	// carrying the values it owns.
	cols := make([][]string, len(srcCurs))
	colOf := make([]string, len(parts))
	for i, p := range parts {
		if p.isConst {
			continue
		}
		k := stepIdx[p.cur.step]
		colOf[i] = fmt.Sprintf("v_%d", i)
		cols[k] = append(cols[k], fmt.Sprintf("%s AS %s", p.expr, colOf[i]))
	}
	valueSteps := make([]string, len(srcCurs))
	for k, c := range srcCurs {
		id := ctx.nextID()
		ctx.add(&Fragment{
			ID:        id,
			SQL:       fmt.Sprintf("SELECT p.resource_id, %s FROM %s p", strings.Join(cols[k], ", "), c.step),
			DependsOn: []string{c.step},
			Meta:      Meta{Function: "operand", IsAggregate: true},
		})
		valueSteps[k] = id
	}

	from := fmt.Sprintf("%s j0", valueSteps[0])
	for k := 1; k < len(valueSteps); k++ {
		from += fmt.Sprintf(" JOIN %s j%d ON j%d.resource_id = j0.resource_id", valueSteps[k], k, k)
	}
	var sel []string
	for i := range parts {
		if parts[i].isConst {
			continue
		}
		sel = append(sel, fmt.Sprintf("j%d.%s AS %s", stepIdx[parts[i].cur.step], colOf[i], colOf[i]))
	}
	id := ctx.nextID()
	ctx.add(&Fragment{
		ID:        id,
		SQL:       fmt.Sprintf("SELECT j0.resource_id, %s FROM %s", strings.Join(sel, ", "), from),
		DependsOn: valueSteps,
		Meta:      Meta{Function: "join", IsAggregate: true},
	})

	var base string
	for i := range parts {
		if !parts[i].isConst {
			exprs[i] = "p." + colOf[i]
			if base == "" {
				base = exprs[i]
			}
		}
	}
	ctx.cur = cursor{step: id, base: base, text: true, srcPath: ctx.cur.srcPath}
	return exprs, nil
}

// predArrayCompare turns equality against an array field inside a
// predicate into a containment subquery over the array's elements.
func (t *Translator) predArrayCompare(ctx *tcontext, n *ast.Node, left, right operand) (result, error) {
	if left.pred != nil && right.pred != nil {
		return result{}, errf(ErrTypeMismatch, n.Source, "cannot compare two array fields")
	}
	arr, other := left, right
	if right.pred != nil {
		arr, other = right, left
	}
	switch n.Op {
	case "=", "!=":
	default:
		return result{}, errf(ErrTypeMismatch, n.Source,
			"operator %q cannot apply to an array field inside a predicate", n.Op)
	}

	un := t.d.UnnestJSONArray(arr.pred.doc, arr.pred.path, "w")
	from := standaloneFrom(un.FromSQL)
	val := t.d.ExtractJSONString(un.ValueExpr, nil)
	expr := fmt.Sprintf("EXISTS (SELECT 1 FROM %s WHERE %s = %s)", from, val, other.expr)
	if n.Op == "!=" {
		expr = "NOT " + expr
	}
	return result{kind: resExpr, expr: expr, semType: "boolean"}, nil
}

// standaloneFrom strips the join prefix a dialect's unnest clause carries
// so it can serve as the sole FROM source of a subquery.
func standaloneFrom(fromSQL string) string {
	s := strings.TrimPrefix(fromSQL, ", ")
	s = strings.TrimPrefix(s, " CROSS JOIN LATERAL ")
	return s
}

// comparison renders =, !=, ~ and the orderings, casting the untyped side
// to the tagged side's semantic type so text extracted from documents
// compares as the right domain.
func (t *Translator) comparison(ctx *tcontext, n *ast.Node, left, right operand) (result, error) {
	target, err := comparisonTarget(n, left, right)
	if err != nil {
		return result{}, err
	}

	lExpr, rExpr := left.expr, right.expr
	if cast := castFor(target); cast != "" && target != "string" {
		if !left.isConst || left.semType != target {
			lExpr = t.d.SafeCast(lExpr, cast)
		}
		if !right.isConst || right.semType != target {
			rExpr = t.d.SafeCast(rExpr, cast)
		}
	}

	var expr string
	switch n.Op {
	case "~":
		// Equivalence: case-insensitive for text, plain equality
		// otherwise.
		if target == "string" || target == "" {
			expr = fmt.Sprintf("(lower(%s) = lower(%s))", lExpr, rExpr)
		} else {
			expr = fmt.Sprintf("(%s = %s)", lExpr, rExpr)
		}
	case "!=":
		expr = fmt.Sprintf("(%s <> %s)", lExpr, rExpr)
	default:
		expr = fmt.Sprintf("(%s %s %s)", lExpr, n.Op, rExpr)
	}
	return result{
		kind:    resExpr,
		expr:    expr,
		semType: "boolean",
		isConst: left.isConst && right.isConst,
	}, nil
}

func comparisonTarget(n *ast.Node, left, right operand) (string, error) {
	l, r := left.semType, right.semType
	switch {
	case l == r:
		return l, nil
	case l == "":
		return r, nil
	case r == "":
		return l, nil
	}
	if isNumeric(l) && isNumeric(r) {
		return "decimal", nil
	}
	if isTemporal(l) && isTemporal(r) {
		return "datetime", nil
	}
	return "", errf(ErrTypeMismatch, n.Source, "cannot compare %s with %s", l, r)
}

func isNumeric(semType string) bool {
	return semType == "integer" || semType == "decimal"
}

func isTemporal(semType string) bool {
	return semType == "date" || semType == "datetime"
}

// arithmetic renders the numeric operators. Division always yields a
// decimal and returns empty on a zero divisor; div and mod are
// integer-only and reject decimal operands outright.
func (t *Translator) arithmetic(ctx *tcontext, n *ast.Node, left, right operand) (result, error) {
	l, r := left.semType, right.semType

	// String concatenation via +.
	if n.Op == "+" && l == "string" && r == "string" {
		return result{
			kind:    resExpr,
			expr:    fmt.Sprintf("(%s || %s)", left.expr, right.expr),
			semType: "string",
			isConst: left.isConst && right.isConst,
		}, nil
	}

	for _, sem := range []string{l, r} {
		switch sem {
		case "integer", "decimal", "":
		default:
			return result{}, errf(ErrTypeMismatch, n.Source, "operator %q cannot apply to %s values", n.Op, sem)
		}
	}
	if (n.Op == "div" || n.Op == "mod") && (l == "decimal" || r == "decimal") {
		return result{}, errf(ErrTypeMismatch, n.Source, "%s needs integer operands", n.Op)
	}

	resultSem := "integer"
	if n.Op == "/" || l == "decimal" || r == "decimal" {
		resultSem = "decimal"
	}
	castTarget := dialect.CastInteger
	if resultSem == "decimal" {
		castTarget = dialect.CastDecimal
	}

	lExpr, rExpr := left.expr, right.expr
	if !left.isConst || (l != "integer" && l != "decimal") {
		lExpr = t.d.SafeCast(lExpr, castTarget)
	}
	if !right.isConst || (r != "integer" && r != "decimal") {
		rExpr = t.d.SafeCast(rExpr, castTarget)
	}

	var expr string
	switch n.Op {
	case "/":
		expr = fmt.Sprintf("(%s / NULLIF(%s, 0))", lExpr, rExpr)
	case "div":
		// Truncating integer division via the remainder identity, which
		// every target engine computes the same way.
		expr = fmt.Sprintf("((%s - (%s %% NULLIF(%s, 0))) / NULLIF(%s, 0))", lExpr, lExpr, rExpr, rExpr)
	case "mod":
		expr = fmt.Sprintf("(%s %% NULLIF(%s, 0))", lExpr, rExpr)
	default:
		expr = fmt.Sprintf("(%s %s %s)", lExpr, n.Op, rExpr)
	}
	return result{
		kind:    resExpr,
		expr:    expr,
		semType: resultSem,
		isConst: left.isConst && right.isConst,
	}, nil
}
