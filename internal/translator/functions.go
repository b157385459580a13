package translator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fhirql/fhirql/internal/ast"
	"github.com/fhirql/fhirql/internal/dialect"
	"github.com/fhirql/fhirql/internal/fhirpath"
)

func checkArity(n *ast.Node, min, max int) error {
	if len(n.Args) >= min && len(n.Args) <= max {
		return nil
	}
	if min == max {
		return errf(ErrArity, n.Source, "%s() takes %d argument(s), got %d", n.Name, min, len(n.Args))
	}
	return errf(ErrArity, n.Source, "%s() takes %d to %d arguments, got %d", n.Name, min, max, len(n.Args))
}

func (t *Translator) visitCall(ctx *tcontext, n *ast.Node) (result, error) {
	switch n.Name {
	case "today":
		if err := checkArity(n, 0, 0); err != nil {
			return result{}, err
		}
		return result{kind: resExpr, expr: "CURRENT_DATE", semType: "date", isConst: true}, nil
	case "now":
		if err := checkArity(n, 0, 0); err != nil {
			return result{}, err
		}
		return result{kind: resExpr, expr: "CURRENT_TIMESTAMP", semType: "datetime", isConst: true}, nil
	case "iif":
		return t.fnIif(ctx, n)
	}

	// Everything else operates on a receiver: the translated target, or
	// the enclosing context when the call starts the expression.
	recv := result{kind: resRows}
	if n.Target != nil {
		r, err := t.visit(ctx, n.Target)
		if err != nil {
			return result{}, err
		}
		recv = r
	}

	switch n.Name {
	case "where":
		if err := checkArity(n, 1, 1); err != nil {
			return result{}, err
		}
		return t.fnWhere(ctx, recv, n.Args[0], n.Source)
	case "select":
		if err := checkArity(n, 1, 1); err != nil {
			return result{}, err
		}
		return t.fnSelect(ctx, recv, n.Args[0], n.Source)
	case "exists":
		if err := checkArity(n, 0, 1); err != nil {
			return result{}, err
		}
		if len(n.Args) == 1 {
			filtered, err := t.fnWhere(ctx, recv, n.Args[0], n.Source)
			if err != nil {
				return result{}, err
			}
			recv = filtered
		}
		return t.fnExists(ctx, recv, false, n.Source)
	case "empty":
		if err := checkArity(n, 0, 0); err != nil {
			return result{}, err
		}
		return t.fnExists(ctx, recv, true, n.Source)
	case "not":
		if err := checkArity(n, 0, 0); err != nil {
			return result{}, err
		}
		return t.fnNot(ctx, recv, n.Source)
	case "count":
		if err := checkArity(n, 0, 0); err != nil {
			return result{}, err
		}
		return t.fnCount(ctx, recv, n.Source)
	case "first", "last", "tail":
		if err := checkArity(n, 0, 0); err != nil {
			return result{}, err
		}
		return t.fnSubset(ctx, recv, n.Name, 0, n.Source)
	case "skip", "take":
		if err := checkArity(n, 1, 1); err != nil {
			return result{}, err
		}
		k, err := intLiteral(n.Args[0], n.Name, n.Source)
		if err != nil {
			return result{}, err
		}
		return t.fnSubset(ctx, recv, n.Name, k, n.Source)
	case "sum", "min", "max", "avg":
		if err := checkArity(n, 0, 0); err != nil {
			return result{}, err
		}
		return t.fnReduce(ctx, recv, n.Name, n.Source)
	case "all":
		if err := checkArity(n, 1, 1); err != nil {
			return result{}, err
		}
		return t.fnAll(ctx, recv, n.Args[0], n.Source)
	case "aggregate":
		if err := checkArity(n, 1, 2); err != nil {
			return result{}, err
		}
		return t.fnAggregate(ctx, recv, n)
	case "combine":
		if err := checkArity(n, 1, 1); err != nil {
			return result{}, err
		}
		return t.fnMerge(ctx, recv, n.Args[0], false, n.Source)
	case "union":
		if err := checkArity(n, 1, 1); err != nil {
			return result{}, err
		}
		return t.fnMerge(ctx, recv, n.Args[0], true, n.Source)
	case "split":
		if err := checkArity(n, 1, 1); err != nil {
			return result{}, err
		}
		return t.fnSplit(ctx, recv, n.Args[0], n.Source)
	}
	return result{}, errf(ErrUnknownFunction, n.Source, "unknown function %s()", n.Name)
}

func intLiteral(arg *ast.Node, fn, src string) (int, error) {
	if arg.Kind != ast.KindLiteral || arg.Lit != fhirpath.LitInteger {
		return 0, errf(ErrTypeMismatch, src, "%s() takes an integer literal", fn)
	}
	k, err := strconv.Atoi(arg.Value)
	if err != nil || k < 0 {
		return 0, errf(ErrTypeMismatch, src, "%s() takes a non-negative integer, got %q", fn, arg.Value)
	}
	return k, nil
}

// boolExpr renders a result as a SQL boolean in the current row context.
func (t *Translator) boolExpr(ctx *tcontext, res result, src string) (string, error) {
	switch res.kind {
	case resEmpty:
		return "FALSE", nil
	case resPredArray:
		return "", errf(ErrTypeMismatch, src, "expected a boolean, got an array field")
	}
	expr, semType, err := t.scalarExpr(ctx, res, src)
	if err != nil {
		return "", err
	}
	switch semType {
	case "boolean":
		return expr, nil
	case "":
		return t.d.SafeCast(expr, dialect.CastBoolean), nil
	}
	return "", errf(ErrTypeMismatch, src, "expected a boolean, got %s", semType)
}

// fnWhere filters the current collection by a predicate. The predicate is
// translated against the element row context with $this (and $index when
// ordered) bound; rows failing or lacking the predicate are dropped.
func (t *Translator) fnWhere(ctx *tcontext, recv result, pred *ast.Node, src string) (result, error) {
	if recv.kind == resEmpty {
		return recv, nil
	}
	if recv.kind != resRows {
		return result{}, errf(ErrTypeMismatch, src, "where() needs a navigable collection")
	}
	t.resolveChoice(ctx)

	saved := ctx.saveCursor()
	ordExpr := ""
	if ctx.cur.ordColumn != "" {
		ordExpr = "p." + ctx.cur.ordColumn
	}
	ctx.pushBinding(binding{
		name:     "$this",
		expr:     t.cursorValue(ctx, true),
		ordExpr:  ordExpr,
		semType:  ctx.cur.semType,
		elemType: ctx.cur.elemType,
	})
	wasPred := ctx.inPredicate
	ctx.inPredicate = true

	predRes, err := t.visit(ctx, pred)
	var predSQL string
	if err == nil {
		if predRes.kind == resPredArray {
			// A bare array field is truthy when non-empty.
			predSQL = t.predArrayExists(predRes)
		} else {
			predSQL, err = t.boolExpr(ctx, predRes, pred.Source)
		}
	}

	ctx.inPredicate = wasPred
	ctx.popBinding()
	ctx.restoreCursor(saved)
	if err != nil {
		return result{}, err
	}

	col := "where_item"
	ordSel, ordCol := "", ""
	if ctx.cur.ordColumn != "" {
		ordSel = fmt.Sprintf(", p.%s AS elem_ord", ctx.cur.ordColumn)
		ordCol = "elem_ord"
	}
	id := ctx.nextID()
	ctx.add(&Fragment{
		ID: id,
		SQL: fmt.Sprintf("SELECT p.resource_id, %s AS %s%s FROM %s p WHERE COALESCE(%s, FALSE)",
			t.stepValue(ctx), col, ordSel, ctx.cur.step, predSQL),
		DependsOn: []string{ctx.cur.step},
		Meta: Meta{
			Function:    "where",
			ElementType: ctx.cur.elemType,
			ResultType:  ctx.cur.semType,
			SourcePath:  ctx.sourcePath(),
			ValueColumn: col,
			OrdColumn:   ordCol,
			Polymorphic: ctx.cur.poly,
		},
	})
	ctx.cur = cursor{
		step:      id,
		base:      "p." + col,
		elemType:  ctx.cur.elemType,
		semType:   ctx.cur.semType,
		ordColumn: ordCol,
		text:      ctx.cur.semType != "",
		poly:      ctx.cur.poly,
		srcPath:   ctx.cur.srcPath,
	}
	return result{kind: resRows}, nil
}

// fnSelect maps each element through an expression.
func (t *Translator) fnSelect(ctx *tcontext, recv result, body *ast.Node, src string) (result, error) {
	if recv.kind == resEmpty {
		return recv, nil
	}
	if recv.kind != resRows {
		return result{}, errf(ErrTypeMismatch, src, "select() needs a navigable collection")
	}
	t.resolveChoice(ctx)

	saved := ctx.saveCursor()
	ordExpr := ""
	if ctx.cur.ordColumn != "" {
		ordExpr = "p." + ctx.cur.ordColumn
	}
	ctx.pushBinding(binding{
		name:     "$this",
		expr:     t.cursorValue(ctx, true),
		ordExpr:  ordExpr,
		semType:  ctx.cur.semType,
		elemType: ctx.cur.elemType,
	})
	wasPred := ctx.inPredicate
	ctx.inPredicate = true

	bodyRes, err := t.visit(ctx, body)
	var itemExpr, semType, elemType string
	if err == nil {
		if bodyRes.kind == resPredArray {
			itemExpr = t.d.ExtractJSONField(bodyRes.doc, bodyRes.path)
			elemType = bodyRes.elemType
		} else {
			elemType = ctx.cur.elemType
			if bodyRes.kind != resRows {
				elemType = bodyRes.elemType
			}
			itemExpr, semType, err = t.scalarExpr(ctx, bodyRes, body.Source)
		}
	}

	ctx.inPredicate = wasPred
	ctx.popBinding()
	ctx.restoreCursor(saved)
	if err != nil {
		return result{}, err
	}

	col := "select_item"
	ordSel, ordCol := "", ""
	if ctx.cur.ordColumn != "" {
		ordSel = fmt.Sprintf(", p.%s AS elem_ord", ctx.cur.ordColumn)
		ordCol = "elem_ord"
	}
	id := ctx.nextID()
	ctx.add(&Fragment{
		ID: id,
		SQL: fmt.Sprintf("SELECT p.resource_id, %s AS %s%s FROM %s p",
			itemExpr, col, ordSel, ctx.cur.step),
		DependsOn: []string{ctx.cur.step},
		Meta: Meta{
			Function:    "select",
			ElementType: elemType,
			ResultType:  semType,
			SourcePath:  ctx.sourcePath(),
			ValueColumn: col,
			OrdColumn:   ordCol,
		},
	})
	ctx.cur = cursor{
		step:      id,
		base:      "p." + col,
		elemType:  elemType,
		semType:   semType,
		ordColumn: ordCol,
		text:      semType != "",
		srcPath:   ctx.cur.srcPath,
	}
	return result{kind: resRows}, nil
}

func (t *Translator) fnNot(ctx *tcontext, recv result, src string) (result, error) {
	b, err := t.boolExpr(ctx, recv, src)
	if err != nil {
		return result{}, err
	}
	return result{kind: resExpr, expr: "(NOT " + b + ")", semType: "boolean", isConst: recv.isConst}, nil
}

// fnSubset implements the positional functions. Ordered collections are
// windowed per resource; a single-valued receiver degenerates to a no-op
// or an always-empty filter.
func (t *Translator) fnSubset(ctx *tcontext, recv result, name string, k int, src string) (result, error) {
	if recv.kind == resEmpty {
		return recv, nil
	}
	if recv.kind == resPredArray && (name == "first" || name == "last") {
		return t.predArraySubset(recv, name), nil
	}
	if recv.kind != resRows {
		return result{}, errf(ErrTypeMismatch, src, "%s() needs a navigable collection", name)
	}
	t.resolveChoice(ctx)
	if ctx.cur.elemType == "" {
		ctx.cur.elemType, ctx.cur.semType = ctx.recoverElemType()
	}

	if ctx.cur.ordColumn == "" {
		// At most one element per resource.
		switch name {
		case "first", "last":
			return result{kind: resRows}, nil
		case "skip":
			if k == 0 {
				return result{kind: resRows}, nil
			}
		case "take":
			if k >= 1 {
				return result{kind: resRows}, nil
			}
		}
		return t.emptySubset(ctx, name), nil
	}

	var cond string
	desc := ""
	switch name {
	case "first":
		cond = "q.rn = 1"
	case "last":
		cond = "q.rn = 1"
		desc = " DESC"
	case "tail":
		cond = "q.rn > 1"
	case "skip":
		cond = fmt.Sprintf("q.rn > %d", k)
	case "take":
		cond = fmt.Sprintf("q.rn <= %d", k)
	}

	col := name + "_item"
	ord := "p." + ctx.cur.ordColumn
	id := ctx.nextID()
	ctx.add(&Fragment{
		ID: id,
		SQL: fmt.Sprintf(
			"SELECT q.resource_id, q.%s, q.elem_ord FROM (SELECT p.resource_id, %s AS %s, %s AS elem_ord, ROW_NUMBER() OVER (PARTITION BY p.resource_id ORDER BY %s%s) AS rn FROM %s p) q WHERE %s",
			col, t.stepValue(ctx), col, ord, ord, desc, ctx.cur.step, cond),
		DependsOn: []string{ctx.cur.step},
		Meta: Meta{
			Function:     name,
			ElementType:  ctx.cur.elemType,
			ResultType:   ctx.cur.semType,
			SourcePath:   ctx.sourcePath(),
			ValueColumn:  col,
			OrdColumn:    "elem_ord",
			SubsetFilter: true,
			Polymorphic:  ctx.cur.poly,
		},
	})
	ordCol := "elem_ord"
	if name == "first" || name == "last" {
		// One row per resource; positional state is spent.
		ordCol = ""
	}
	ctx.cur = cursor{
		step:      id,
		base:      "p." + col,
		elemType:  ctx.cur.elemType,
		semType:   ctx.cur.semType,
		ordColumn: ordCol,
		text:      ctx.cur.semType != "",
		poly:      ctx.cur.poly,
		srcPath:   ctx.cur.srcPath,
	}
	return result{kind: resRows}, nil
}

func (t *Translator) emptySubset(ctx *tcontext, name string) result {
	col := name + "_item"
	id := ctx.nextID()
	ctx.add(&Fragment{
		ID: id,
		SQL: fmt.Sprintf("SELECT p.resource_id, %s AS %s FROM %s p WHERE 1 = 0",
			t.stepValue(ctx), col, ctx.cur.step),
		DependsOn: []string{ctx.cur.step},
		Meta: Meta{
			Function:     name,
			ElementType:  ctx.cur.elemType,
			ResultType:   ctx.cur.semType,
			SourcePath:   ctx.sourcePath(),
			ValueColumn:  col,
			SubsetFilter: true,
		},
	})
	ctx.cur = cursor{
		step:     id,
		base:     "p." + col,
		elemType: ctx.cur.elemType,
		semType:  ctx.cur.semType,
		text:     ctx.cur.semType != "",
		srcPath:  ctx.cur.srcPath,
	}
	return result{kind: resRows}
}

// fnSplit turns a delimited string into a constructed collection.
func (t *Translator) fnSplit(ctx *tcontext, recv result, arg *ast.Node, src string) (result, error) {
	if arg.Kind != ast.KindLiteral || arg.Lit != fhirpath.LitString {
		return result{}, errf(ErrTypeMismatch, src, "split() separator must be a string literal")
	}
	if recv.kind == resEmpty {
		return recv, nil
	}
	expr, semType, err := t.scalarExpr(ctx, recv, src)
	if err != nil {
		return result{}, err
	}
	if semType != "string" && semType != "" {
		return result{}, errf(ErrTypeMismatch, src, "split() needs a string, got %s", semType)
	}
	return result{
		kind:     resArray,
		expr:     t.d.SplitString(expr, arg.Value),
		semType:  "collection",
		elemType: "string",
		isConst:  recv.isConst,
	}, nil
}

// mergeArm is one side of a union or combine: either rendered SQL rows or
// a list of constant element expressions.
type mergeArm struct {
	sql      string
	deps     []string
	elems    []string
	elemType string
	semType  string
}

func (t *Translator) armOf(ctx *tcontext, res result, col, src string) (mergeArm, error) {
	switch res.kind {
	case resEmpty:
		return mergeArm{}, nil
	case resExpr:
		if res.isConst {
			return mergeArm{elems: []string{res.expr}, semType: res.semType, elemType: res.elemType}, nil
		}
		return mergeArm{
			sql:     fmt.Sprintf("SELECT p.resource_id, %s AS %s FROM %s p", res.expr, col, ctx.cur.step),
			deps:    []string{ctx.cur.step},
			semType: res.semType,
		}, nil
	case resArray:
		if res.isConst && len(res.elems) > 0 {
			return mergeArm{elems: res.elems, elemType: res.elemType}, nil
		}
		return mergeArm{}, errf(ErrTypeMismatch, src, "cannot merge a constructed collection")
	case resRows:
		t.resolveChoice(ctx)
		return mergeArm{
			sql:      fmt.Sprintf("SELECT p.resource_id, %s AS %s FROM %s p", t.stepValue(ctx), col, ctx.cur.step),
			deps:     []string{ctx.cur.step},
			elemType: ctx.cur.elemType,
			semType:  ctx.cur.semType,
		}, nil
	}
	return mergeArm{}, errf(ErrTypeMismatch, src, "value cannot be merged")
}

// fnMerge implements | (distinct union) and combine() (multiset append).
// Pure-literal arms fold into a constructed collection at translation
// time; row arms become a set-operation step with a synthesized ordinal.
func (t *Translator) fnMerge(ctx *tcontext, recv result, argNode *ast.Node, dedup bool, src string) (result, error) {
	col := "combine_item"
	if dedup {
		col = "union_item"
	}

	left, err := t.armOf(ctx, recv, col, src)
	if err != nil {
		return result{}, err
	}

	saved := ctx.saveCursor()
	ctx.resetToRoot()
	argRes, err := t.visit(ctx, argNode)
	var right mergeArm
	if err == nil {
		right, err = t.armOf(ctx, argRes, col, argNode.Source)
	}
	if err != nil {
		ctx.restoreCursor(saved)
		return result{}, err
	}

	if left.sql == "" && right.sql == "" {
		ctx.restoreCursor(saved)
		elems := append(append([]string(nil), left.elems...), right.elems...)
		if dedup {
			elems = dedupeExprs(elems)
		}
		if len(elems) == 0 {
			return result{kind: resEmpty}, nil
		}
		elemType := left.elemType
		if elemType != right.elemType {
			elemType = ""
		}
		return result{kind: resArray, elems: elems, semType: "collection", elemType: elemType, isConst: true}, nil
	}

	var parts []string
	var deps []string
	addArm := func(a mergeArm) {
		if a.sql != "" {
			parts = append(parts, a.sql)
			deps = append(deps, a.deps...)
		}
		for _, e := range a.elems {
			parts = append(parts, fmt.Sprintf("SELECT p.resource_id, %s AS %s FROM %s p", e, col, baseStepID))
			deps = append(deps, baseStepID)
		}
	}
	addArm(left)
	addArm(right)

	setOp := " UNION ALL "
	fn := "combine"
	if dedup {
		setOp = " UNION "
		fn = "union"
	}
	elemType := left.elemType
	semType := left.semType
	if right.sql != "" || len(right.elems) > 0 {
		if right.elemType != elemType {
			elemType = ""
		}
		if right.semType != semType {
			semType = ""
		}
	}

	id := ctx.nextID()
	ctx.add(&Fragment{
		ID: id,
		SQL: fmt.Sprintf(
			"SELECT m.resource_id, m.%s, ROW_NUMBER() OVER (PARTITION BY m.resource_id ORDER BY m.%s) - 1 AS elem_ord FROM (%s) m",
			col, col, strings.Join(parts, setOp)),
		DependsOn: dedupeExprs(deps),
		Meta: Meta{
			Function:    fn,
			ElementType: elemType,
			ResultType:  semType,
			ValueColumn: col,
			OrdColumn:   "elem_ord",
		},
	})
	ctx.cur = cursor{
		step:      id,
		base:      "p." + col,
		elemType:  elemType,
		semType:   semType,
		ordColumn: "elem_ord",
		text:      semType != "",
	}
	return result{kind: resRows}, nil
}

func dedupeExprs(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, e := range in {
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}

// fnIif validates the criterion shape before translating anything, then
// renders a CASE expression. A structurally non-boolean criterion is a
// type error even when the branches would translate.
func (t *Translator) fnIif(ctx *tcontext, n *ast.Node) (result, error) {
	if err := checkArity(n, 2, 3); err != nil {
		return result{}, err
	}
	if n.Target != nil {
		if _, err := t.visit(ctx, n.Target); err != nil {
			return result{}, err
		}
	}
	crit := n.Args[0]
	if err := iifCriterionError(crit); err != nil {
		return result{}, err
	}

	entry := ctx.saveCursor()
	critRes, err := t.visit(ctx, crit)
	var critSQL string
	if err == nil {
		critSQL, err = t.boolExpr(ctx, critRes, crit.Source)
	}
	if err != nil {
		return result{}, err
	}
	// A reduction criterion (name.exists()) lives in its own step; the
	// cursor it produced is kept so the CASE can reference it, and the
	// branches are reconciled with it below.
	critCur := ctx.saveCursor()

	branch := func(b *ast.Node) (string, string, cursor, bool, error) {
		ctx.restoreCursor(entry)
		res, err := t.visit(ctx, b)
		if err != nil {
			return "", "", cursor{}, false, err
		}
		if res.kind == resEmpty {
			return "NULL", "", entry, true, nil
		}
		expr, semType, err := t.scalarExpr(ctx, res, b.Source)
		return expr, semType, ctx.saveCursor(), res.isConst, err
	}

	thenSQL, thenSem, thenCur, thenConst, err := branch(n.Args[1])
	if err != nil {
		return result{}, err
	}
	elseSQL, elseSem, elseCur, elseConst := "NULL", "", entry, true
	if len(n.Args) == 3 {
		elseSQL, elseSem, elseCur, elseConst, err = branch(n.Args[2])
		if err != nil {
			return result{}, err
		}
	}

	exprs, err := t.alignRowExprs(ctx, n.Source, "iif", []rowExpr{
		{expr: critSQL, cur: critCur, isConst: critRes.isConst},
		{expr: thenSQL, cur: thenCur, isConst: thenConst},
		{expr: elseSQL, cur: elseCur, isConst: elseConst},
	})
	if err != nil {
		return result{}, err
	}
	critSQL, thenSQL, elseSQL = exprs[0], exprs[1], exprs[2]
	if critRes.isConst && thenConst && elseConst {
		ctx.restoreCursor(entry)
	}

	semType := thenSem
	if semType == "" {
		semType = elseSem
	}
	return result{
		kind:    resExpr,
		expr:    fmt.Sprintf("CASE WHEN COALESCE(%s, FALSE) THEN %s ELSE %s END", critSQL, thenSQL, elseSQL),
		semType: semType,
		isConst: critRes.isConst && thenConst && elseConst,
	}, nil
}

// iifCriterionError rejects criterion shapes that can never be boolean.
// Identifiers and variables pass here and are type-checked after
// translation instead.
func iifCriterionError(n *ast.Node) error {
	switch n.Kind {
	case ast.KindLiteral:
		if n.Lit != fhirpath.LitBoolean {
			return errf(ErrTypeMismatch, n.Source, "iif() criterion must be a boolean expression")
		}
	case ast.KindBinaryOp:
		switch n.Op {
		case "=", "!=", "~", "<", ">", "<=", ">=", "and", "or", "xor", "implies":
		default:
			return errf(ErrTypeMismatch, n.Source, "iif() criterion must be a boolean expression, operator %q is not", n.Op)
		}
	case ast.KindFunctionCall:
		switch n.Name {
		case "exists", "empty", "not", "all", "iif":
		default:
			return errf(ErrTypeMismatch, n.Source, "iif() criterion must be a boolean expression, %s() does not produce one", n.Name)
		}
	case ast.KindTypeOp:
		if n.Op != "is" {
			return errf(ErrTypeMismatch, n.Source, "iif() criterion must be a boolean expression")
		}
	case ast.KindUnaryOp:
		return errf(ErrTypeMismatch, n.Source, "iif() criterion must be a boolean expression")
	}
	return nil
}
