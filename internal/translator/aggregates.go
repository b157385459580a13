package translator

import (
	"fmt"
	"strings"

	"github.com/fhirql/fhirql/internal/ast"
	"github.com/fhirql/fhirql/internal/dialect"
)

// castFor maps a semantic type to the dialect cast target, empty when the
// value stays text.
func castFor(semType string) string {
	switch semType {
	case "integer":
		return dialect.CastInteger
	case "decimal":
		return dialect.CastDecimal
	case "boolean":
		return dialect.CastBoolean
	case "date":
		return dialect.CastDate
	case "datetime":
		return dialect.CastDateTime
	case "time":
		return dialect.CastTime
	}
	return ""
}

// isSubquery detects operands whose translation already rendered a
// parenthesized subquery, which reductions wrap with EXISTS instead of a
// null check.
func isSubquery(expr string) bool {
	return strings.HasPrefix(expr, "(SELECT ")
}

// predArrayLength counts an array field inside a predicate without
// leaving the row context.
func (t *Translator) predArrayLength(res result) string {
	return fmt.Sprintf("COALESCE(%s, 0)",
		t.d.JSONArrayLength(t.d.ExtractJSONField(res.doc, res.path)))
}

func (t *Translator) predArrayExists(res result) string {
	return fmt.Sprintf("(%s > 0)", t.predArrayLength(res))
}

// predArraySubset picks the first or last element of an array field
// inside a predicate as a scalar subquery, staying in the row context.
func (t *Translator) predArraySubset(res result, name string) result {
	un := t.d.UnnestJSONArray(res.doc, res.path, "w")
	from := standaloneFrom(un.FromSQL)
	val := un.ValueExpr
	if res.semType != "" {
		val = t.d.ExtractJSONString(un.ValueExpr, nil)
	}
	desc := ""
	if name == "last" {
		desc = " DESC"
	}
	return result{
		kind:     resExpr,
		expr:     fmt.Sprintf("(SELECT %s FROM %s ORDER BY %s%s LIMIT 1)", val, from, un.OrdExpr, desc),
		semType:  res.semType,
		elemType: res.elemType,
	}
}

// fnCount reduces the current collection to a per-resource element count.
// Counts correlate back to the base step so resources with no matching
// elements report zero.
func (t *Translator) fnCount(ctx *tcontext, recv result, src string) (result, error) {
	switch recv.kind {
	case resEmpty:
		return result{kind: resExpr, expr: "0", semType: "integer", isConst: true}, nil
	case resExpr:
		return result{
			kind:    resExpr,
			expr:    fmt.Sprintf("(CASE WHEN %s IS NULL THEN 0 ELSE 1 END)", recv.expr),
			semType: "integer",
			isConst: recv.isConst,
		}, nil
	case resArray:
		expr := recv.expr
		if expr == "" {
			expr = t.d.JSONArray(recv.elems)
		}
		return result{
			kind:    resExpr,
			expr:    fmt.Sprintf("COALESCE(%s, 0)", t.d.JSONArrayLength(expr)),
			semType: "integer",
			isConst: recv.isConst,
		}, nil
	case resPredArray:
		return result{kind: resExpr, expr: t.predArrayLength(recv), semType: "integer"}, nil
	}

	t.resolveChoice(ctx)
	val := t.cursorValue(ctx, true)
	id := ctx.nextID()
	ctx.add(&Fragment{
		ID: id,
		SQL: fmt.Sprintf(
			"SELECT b.resource_id, COUNT(%s) AS count_value FROM %s b LEFT JOIN %s p ON p.resource_id = b.resource_id GROUP BY b.resource_id",
			val, baseStepID, ctx.cur.step),
		DependsOn: []string{baseStepID, ctx.cur.step},
		Meta: Meta{
			Function:    "count",
			ResultType:  "integer",
			SourcePath:  ctx.sourcePath(),
			ValueColumn: "count_value",
			IsAggregate: true,
		},
	})
	ctx.cur = cursor{
		step:     id,
		base:     "p.count_value",
		elemType: "integer",
		semType:  "integer",
		text:     true,
		srcPath:  ctx.cur.srcPath,
	}
	return result{kind: resRows}, nil
}

// fnExists reduces to a per-resource boolean; negate selects empty().
func (t *Translator) fnExists(ctx *tcontext, recv result, negate bool, src string) (result, error) {
	switch recv.kind {
	case resEmpty:
		if negate {
			return result{kind: resExpr, expr: "TRUE", semType: "boolean", isConst: true}, nil
		}
		return result{kind: resExpr, expr: "FALSE", semType: "boolean", isConst: true}, nil
	case resExpr:
		if isSubquery(recv.expr) {
			op := "EXISTS "
			if negate {
				op = "NOT EXISTS "
			}
			return result{kind: resExpr, expr: op + recv.expr, semType: "boolean", isConst: recv.isConst}, nil
		}
		cmp := "IS NOT NULL"
		if negate {
			cmp = "IS NULL"
		}
		return result{
			kind:    resExpr,
			expr:    fmt.Sprintf("(%s %s)", recv.expr, cmp),
			semType: "boolean",
			isConst: recv.isConst,
		}, nil
	case resArray:
		expr := recv.expr
		if expr == "" {
			expr = t.d.JSONArray(recv.elems)
		}
		op := ">"
		if negate {
			op = "="
		}
		return result{
			kind:    resExpr,
			expr:    fmt.Sprintf("(COALESCE(%s, 0) %s 0)", t.d.JSONArrayLength(expr), op),
			semType: "boolean",
			isConst: recv.isConst,
		}, nil
	case resPredArray:
		op := ">"
		if negate {
			op = "="
		}
		return result{
			kind:    resExpr,
			expr:    fmt.Sprintf("(%s %s 0)", t.predArrayLength(recv), op),
			semType: "boolean",
		}, nil
	}

	t.resolveChoice(ctx)
	val := t.cursorValue(ctx, true)
	op, col, fn := "EXISTS", "exists_value", "exists"
	if negate {
		op, col, fn = "NOT EXISTS", "empty_value", "empty"
	}
	id := ctx.nextID()
	ctx.add(&Fragment{
		ID: id,
		SQL: fmt.Sprintf(
			"SELECT b.resource_id, %s (SELECT 1 FROM %s p WHERE p.resource_id = b.resource_id AND %s IS NOT NULL) AS %s FROM %s b",
			op, ctx.cur.step, val, col, baseStepID),
		DependsOn: []string{baseStepID, ctx.cur.step},
		Meta: Meta{
			Function:    fn,
			ResultType:  "boolean",
			SourcePath:  ctx.sourcePath(),
			ValueColumn: col,
			IsAggregate: true,
		},
	})
	ctx.cur = cursor{
		step:     id,
		base:     "p." + col,
		elemType: "boolean",
		semType:  "boolean",
		text:     true,
		srcPath:  ctx.cur.srcPath,
	}
	return result{kind: resRows}, nil
}

// fnReduce implements sum, min, max and avg as grouped aggregates joined
// back to the base step.
func (t *Translator) fnReduce(ctx *tcontext, recv result, name, src string) (result, error) {
	switch recv.kind {
	case resEmpty:
		return recv, nil
	case resExpr:
		// A single value reduces to itself; avg and sum still need a
		// numeric type.
		if name == "sum" || name == "avg" {
			switch recv.semType {
			case "integer", "decimal", "":
			default:
				return result{}, errf(ErrTypeMismatch, src, "cannot %s %s values", name, recv.semType)
			}
		}
		return recv, nil
	case resArray, resPredArray:
		return result{}, errf(ErrTypeMismatch, src, "cannot %s a constructed collection", name)
	}

	t.resolveChoice(ctx)
	if ctx.cur.elemType == "" {
		ctx.cur.elemType, ctx.cur.semType = ctx.recoverElemType()
	}
	sem := ctx.cur.semType
	val := t.cursorValue(ctx, true)
	var resultSem string
	switch name {
	case "sum", "avg":
		switch sem {
		case "integer":
			val = t.d.SafeCast(val, dialect.CastInteger)
		case "decimal", "":
			val = t.d.SafeCast(val, dialect.CastDecimal)
		default:
			return result{}, errf(ErrTypeMismatch, src, "cannot %s %s values", name, sem)
		}
		resultSem = "decimal"
		if name == "sum" && sem == "integer" {
			resultSem = "integer"
		}
	case "min", "max":
		if cast := castFor(sem); cast != "" && sem != "string" {
			val = t.d.SafeCast(val, cast)
		}
		resultSem = sem
	}

	col := name + "_value"
	id := ctx.nextID()
	ctx.add(&Fragment{
		ID: id,
		SQL: fmt.Sprintf(
			"SELECT b.resource_id, %s(%s) AS %s FROM %s b LEFT JOIN %s p ON p.resource_id = b.resource_id GROUP BY b.resource_id",
			strings.ToUpper(name), val, col, baseStepID, ctx.cur.step),
		DependsOn: []string{baseStepID, ctx.cur.step},
		Meta: Meta{
			Function:    name,
			ResultType:  resultSem,
			ElementType: ctx.cur.elemType,
			SourcePath:  ctx.sourcePath(),
			ValueColumn: col,
			IsAggregate: true,
		},
	})
	ctx.cur = cursor{
		step:    id,
		base:    "p." + col,
		semType: resultSem,
		text:    true,
		srcPath: ctx.cur.srcPath,
	}
	return result{kind: resRows}, nil
}

// fnAll reports per resource whether every element satisfies the
// predicate; vacuously true when the collection is empty.
func (t *Translator) fnAll(ctx *tcontext, recv result, pred *ast.Node, src string) (result, error) {
	if recv.kind == resEmpty {
		return result{kind: resExpr, expr: "TRUE", semType: "boolean", isConst: true}, nil
	}
	if recv.kind == resExpr {
		saved := ctx.saveCursor()
		ctx.pushBinding(binding{name: "$this", expr: recv.expr, semType: recv.semType, elemType: recv.elemType})
		predRes, err := t.visit(ctx, pred)
		var predSQL string
		if err == nil {
			predSQL, err = t.boolExpr(ctx, predRes, pred.Source)
		}
		ctx.popBinding()
		ctx.restoreCursor(saved)
		if err != nil {
			return result{}, err
		}
		return result{
			kind:    resExpr,
			expr:    fmt.Sprintf("(%s IS NULL OR COALESCE(%s, FALSE))", recv.expr, predSQL),
			semType: "boolean",
		}, nil
	}
	if recv.kind != resRows {
		return result{}, errf(ErrTypeMismatch, src, "all() needs a navigable collection")
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
		predSQL, err = t.boolExpr(ctx, predRes, pred.Source)
	}

	ctx.inPredicate = wasPred
	ctx.popBinding()
	ctx.restoreCursor(saved)
	if err != nil {
		return result{}, err
	}
	val := t.cursorValue(ctx, true)

	id := ctx.nextID()
	ctx.add(&Fragment{
		ID: id,
		SQL: fmt.Sprintf(
			"SELECT b.resource_id, NOT EXISTS (SELECT 1 FROM %s p WHERE p.resource_id = b.resource_id AND %s IS NOT NULL AND NOT COALESCE(%s, FALSE)) AS all_value FROM %s b",
			ctx.cur.step, val, predSQL, baseStepID),
		DependsOn: []string{baseStepID, ctx.cur.step},
		Meta: Meta{
			Function:    "all",
			ResultType:  "boolean",
			SourcePath:  ctx.sourcePath(),
			ValueColumn: "all_value",
			IsAggregate: true,
		},
	})
	ctx.cur = cursor{
		step:     id,
		base:     "p.all_value",
		elemType: "boolean",
		semType:  "boolean",
		text:     true,
		srcPath:  ctx.cur.srcPath,
	}
	return result{kind: resRows}, nil
}

// fnAggregate folds the collection through a recursive CTE. Elements are
// enumerated 1..N per resource; the accumulator row for step n joins
// element n+1 with $total, $this and $index bound. Without a seed the
// fold starts from the first element. Fragments produced while probing
// the fold body are rolled back so only the three aggregate steps remain.
func (t *Translator) fnAggregate(ctx *tcontext, recv result, n *ast.Node) (result, error) {
	if recv.kind != resRows {
		return result{}, errf(ErrTypeMismatch, n.Source, "aggregate() needs a navigable collection")
	}
	t.resolveChoice(ctx)
	if ctx.cur.elemType == "" {
		ctx.cur.elemType, ctx.cur.semType = ctx.recoverElemType()
	}
	elemType, elemSem := ctx.cur.elemType, ctx.cur.semType

	orderExpr := t.stepValue(ctx)
	if ctx.cur.ordColumn != "" {
		orderExpr = "p." + ctx.cur.ordColumn
	}
	stepE := ctx.nextID()
	ctx.add(&Fragment{
		ID: stepE,
		SQL: fmt.Sprintf(
			"SELECT p.resource_id, %s AS agg_item, ROW_NUMBER() OVER (PARTITION BY p.resource_id ORDER BY %s) AS rn FROM %s p",
			t.stepValue(ctx), orderExpr, ctx.cur.step),
		DependsOn: []string{ctx.cur.step},
		Meta: Meta{
			Function:    "aggregate_elems",
			ElementType: elemType,
			ResultType:  elemSem,
			SourcePath:  ctx.sourcePath(),
			ValueColumn: "agg_item",
			OrdColumn:   "rn",
		},
	})

	hasInit := len(n.Args) == 2
	var initExpr, initSem string
	if hasInit {
		m := ctx.mark()
		saved := ctx.saveCursor()
		ctx.resetToRoot()
		res, err := t.visit(ctx, n.Args[1])
		if err == nil {
			initExpr, initSem, err = t.scalarExpr(ctx, res, n.Args[1].Source)
		}
		ctx.restoreCursor(saved)
		ctx.rollback(m)
		if err != nil {
			return result{}, err
		}
		if !res.isConst {
			return result{}, errf(ErrTypeMismatch, n.Source, "aggregate() seed must be a constant")
		}
	}

	totalSem := initSem
	if totalSem == "" {
		totalSem = elemSem
	}

	m := ctx.mark()
	saved := ctx.saveCursor()
	ctx.cur = cursor{step: stepE, base: "e.agg_item", elemType: elemType, semType: elemSem, text: elemSem != ""}
	ctx.pushBinding(binding{name: "$this", expr: "e.agg_item", ordExpr: "(e.rn - 1)", semType: elemSem, elemType: elemType})
	ctx.pushBinding(binding{name: "$total", expr: "a.total", semType: totalSem})
	wasPred := ctx.inPredicate
	ctx.inPredicate = true

	bodyRes, err := t.visit(ctx, n.Args[0])
	var bodySQL, bodySem string
	if err == nil {
		bodySQL, bodySem, err = t.scalarExpr(ctx, bodyRes, n.Args[0].Source)
	}

	ctx.inPredicate = wasPred
	ctx.popBinding()
	ctx.popBinding()
	ctx.restoreCursor(saved)
	ctx.rollback(m)
	if err != nil {
		return result{}, err
	}

	stepA := ctx.nextID()
	var seed string
	deps := []string{stepE}
	if hasInit {
		seed = fmt.Sprintf("SELECT b.resource_id, %s AS total, 0 AS rn FROM %s b", initExpr, baseStepID)
		deps = append(deps, baseStepID)
	} else {
		seedVal := "e.agg_item"
		if cast := castFor(elemSem); cast != "" && elemSem != "string" {
			seedVal = t.d.SafeCast(seedVal, cast)
		}
		seed = fmt.Sprintf("SELECT e.resource_id, %s AS total, 1 AS rn FROM %s e WHERE e.rn = 1", seedVal, stepE)
	}
	rec := fmt.Sprintf(
		"SELECT e.resource_id, %s AS total, e.rn AS rn FROM %s a JOIN %s e ON e.resource_id = a.resource_id AND e.rn = a.rn + 1",
		bodySQL, stepA, stepE)
	ctx.add(&Fragment{
		ID:        stepA,
		SQL:       seed + " UNION ALL " + rec,
		DependsOn: deps,
		Recursive: true,
		Meta: Meta{
			Function:    "aggregate_fold",
			ResultType:  totalSem,
			ValueColumn: "total",
			OrdColumn:   "rn",
		},
	})

	resultSem := bodySem
	if resultSem == "" {
		resultSem = totalSem
	}
	id := ctx.nextID()
	ctx.add(&Fragment{
		ID: id,
		SQL: fmt.Sprintf(
			"SELECT p.resource_id, p.total AS aggregate_value FROM %s p WHERE p.rn = (SELECT COUNT(*) FROM %s e WHERE e.resource_id = p.resource_id)",
			stepA, stepE),
		DependsOn: []string{stepA, stepE},
		Meta: Meta{
			Function:    "aggregate",
			ResultType:  resultSem,
			SourcePath:  ctx.sourcePath(),
			ValueColumn: "aggregate_value",
			IsAggregate: true,
		},
	})
	ctx.cur = cursor{
		step:    id,
		base:    "p.aggregate_value",
		semType: resultSem,
		text:    true,
		srcPath: ctx.cur.srcPath,
	}
	return result{kind: resRows}, nil
}
