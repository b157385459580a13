package translator_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fhirql/fhirql/internal/cte"
	"github.com/fhirql/fhirql/internal/dialect"
	"github.com/fhirql/fhirql/internal/schema"
	"github.com/fhirql/fhirql/internal/translator"
)

func newTranslator(t *testing.T, engine string) *translator.Translator {
	t.Helper()
	d, err := dialect.ForEngine(engine)
	require.NoError(t, err)
	reg, err := schema.Load()
	require.NoError(t, err)
	return translator.New(d, reg)
}

func translate(t *testing.T, engine, expr, resourceType string) []*translator.Fragment {
	t.Helper()
	frags, err := newTranslator(t, engine).Translate(expr, resourceType)
	require.NoError(t, err)
	return frags
}

func render(t *testing.T, engine, expr, resourceType string) string {
	t.Helper()
	stmt, err := cte.Assemble(translate(t, engine, expr, resourceType))
	require.NoError(t, err)
	return stmt.SQL
}

func findFragment(frags []*translator.Fragment, fn string) *translator.Fragment {
	for _, f := range frags {
		if f.Meta.Function == fn {
			return f
		}
	}
	return nil
}

func translationError(t *testing.T, engine, expr, resourceType string) *translator.Error {
	t.Helper()
	_, err := newTranslator(t, engine).Translate(expr, resourceType)
	require.Error(t, err)
	var te *translator.Error
	require.True(t, errors.As(err, &te), "expected a translation error, got %v", err)
	return te
}

func TestScalarPath(t *testing.T) {
	frags := translate(t, "sqlite", "Patient.birthDate", "Patient")
	require.Len(t, frags, 2)

	assert.Equal(t, "step_0", frags[0].ID)
	assert.Contains(t, frags[0].SQL, "FROM patient")

	assert.Contains(t, frags[1].SQL, "json_extract(p.resource, '$.birthDate') AS birthDate")
	assert.Equal(t, "date", frags[1].Meta.ResultType)
	assert.Equal(t, []string{"step_0"}, frags[1].DependsOn)
}

func TestArrayNavigationUnnests(t *testing.T) {
	frags := translate(t, "sqlite", "Patient.name.family", "Patient")
	require.Len(t, frags, 3)

	unnest := findFragment(frags, "unnest")
	require.NotNil(t, unnest)
	assert.Contains(t, unnest.SQL, "json_each(p.resource, '$.name')")
	assert.Contains(t, unnest.SQL, "AS elem_ord")
	assert.Equal(t, "HumanName", unnest.Meta.ElementType)
	assert.Equal(t, "name_item", unnest.Meta.ValueColumn)
	assert.Equal(t, "elem_ord", unnest.Meta.OrdColumn)

	assert.Contains(t, frags[2].SQL, "json_extract(p.name_item, '$.family') AS family")
}

func TestNestedArrayKeepsDocumentOrder(t *testing.T) {
	frags := translate(t, "sqlite", "Patient.name.given", "Patient")
	require.Len(t, frags, 3)

	// Second unnest folds the parent ordinal into the element ordinal so
	// flattened values stay in document order.
	assert.Contains(t, frags[2].SQL, "json_each(p.name_item, '$.given')")
	assert.Contains(t, frags[2].SQL, "p.elem_ord * 1000000")
	assert.Equal(t, "string", frags[2].Meta.ResultType)
}

func TestRootAnchorIsNoOp(t *testing.T) {
	withAnchor := render(t, "sqlite", "Patient.birthDate", "Patient")
	bare := render(t, "sqlite", "birthDate", "Patient")
	assert.Equal(t, withAnchor, bare)
}

func TestWhereFilter(t *testing.T) {
	frags := translate(t, "sqlite", "Patient.name.where(use = 'official').family", "Patient")

	where := findFragment(frags, "where")
	require.NotNil(t, where)
	assert.Contains(t, where.SQL, "WHERE COALESCE((json_extract(p.name_item, '$.use') = 'official'), FALSE)")
	assert.Equal(t, "where_item", where.Meta.ValueColumn)
	assert.Equal(t, "HumanName", where.Meta.ElementType)
	assert.Equal(t, "elem_ord", where.Meta.OrdColumn)

	final := frags[len(frags)-1]
	assert.Contains(t, final.SQL, "json_extract(p.where_item, '$.family')")
}

func TestWhereOnArrayFieldUsesContainment(t *testing.T) {
	frags := translate(t, "sqlite", "Patient.name.where(given = 'Jim')", "Patient")

	where := findFragment(frags, "where")
	require.NotNil(t, where)
	// The array field inside the predicate stays in the row context as an
	// EXISTS over its elements instead of a new unnest step.
	assert.Contains(t, where.SQL, "EXISTS (SELECT 1 FROM json_each(p.name_item, '$.given') AS w WHERE w.value = 'Jim')")
}

func TestWhereThisBinding(t *testing.T) {
	frags := translate(t, "sqlite", "Patient.name.given.where($this = 'Anna')", "Patient")
	where := findFragment(frags, "where")
	require.NotNil(t, where)
	assert.Contains(t, where.SQL, "= 'Anna'")
}

func TestSubsetFunctions(t *testing.T) {
	t.Run("first", func(t *testing.T) {
		frags := translate(t, "sqlite", "Patient.name.first().family", "Patient")
		first := findFragment(frags, "first")
		require.NotNil(t, first)
		assert.True(t, first.Meta.SubsetFilter)
		assert.Contains(t, first.SQL, "ROW_NUMBER() OVER (PARTITION BY p.resource_id ORDER BY p.elem_ord)")
		assert.Contains(t, first.SQL, "WHERE q.rn = 1")
		assert.Equal(t, "first_item", first.Meta.ValueColumn)
		assert.Equal(t, "HumanName", first.Meta.ElementType)
	})

	t.Run("last orders descending", func(t *testing.T) {
		frags := translate(t, "sqlite", "Patient.name.last()", "Patient")
		last := findFragment(frags, "last")
		require.NotNil(t, last)
		assert.Contains(t, last.SQL, "ORDER BY p.elem_ord DESC")
		assert.Contains(t, last.SQL, "WHERE q.rn = 1")
	})

	t.Run("skip and take", func(t *testing.T) {
		frags := translate(t, "sqlite", "Patient.name.skip(1).take(2)", "Patient")
		skip := findFragment(frags, "skip")
		require.NotNil(t, skip)
		assert.Contains(t, skip.SQL, "WHERE q.rn > 1")
		take := findFragment(frags, "take")
		require.NotNil(t, take)
		assert.Contains(t, take.SQL, "WHERE q.rn <= 2")
	})

	t.Run("tail", func(t *testing.T) {
		frags := translate(t, "sqlite", "Patient.name.tail()", "Patient")
		tail := findFragment(frags, "tail")
		require.NotNil(t, tail)
		assert.Contains(t, tail.SQL, "WHERE q.rn > 1")
	})

	t.Run("navigation continues after skip", func(t *testing.T) {
		frags := translate(t, "sqlite", "Patient.name.skip(1).given", "Patient")
		skip := findFragment(frags, "skip")
		require.NotNil(t, skip)
		final := frags[len(frags)-1]
		assert.Contains(t, final.SQL, "json_each(p.skip_item, '$.given')")
	})

	t.Run("first on a scalar is a no-op", func(t *testing.T) {
		plain := render(t, "sqlite", "Patient.birthDate", "Patient")
		first := render(t, "sqlite", "Patient.birthDate.first()", "Patient")
		assert.Equal(t, plain, first)
	})

	t.Run("skip argument must be an integer literal", func(t *testing.T) {
		te := translationError(t, "sqlite", "Patient.name.skip('x')", "Patient")
		assert.Equal(t, translator.ErrTypeMismatch, te.Code)
	})
}

func TestIndexingLowersToSkipFirst(t *testing.T) {
	indexed := render(t, "sqlite", "Patient.name[1].family", "Patient")
	lowered := render(t, "sqlite", "Patient.name.skip(1).first().family", "Patient")
	assert.Equal(t, lowered, indexed)
}

func TestCount(t *testing.T) {
	frags := translate(t, "sqlite", "Patient.name.count()", "Patient")
	count := findFragment(frags, "count")
	require.NotNil(t, count)
	assert.True(t, count.Meta.IsAggregate)
	// Correlates back to the base so resources without names count zero.
	assert.Contains(t, count.SQL, "FROM step_0 b LEFT JOIN step_1 p ON p.resource_id = b.resource_id")
	assert.Contains(t, count.SQL, "COUNT(p.name_item)")
	assert.Contains(t, count.SQL, "GROUP BY b.resource_id")
	assert.Equal(t, "integer", count.Meta.ResultType)
}

func TestExistsAndEmpty(t *testing.T) {
	frags := translate(t, "sqlite", "Patient.name.exists()", "Patient")
	exists := findFragment(frags, "exists")
	require.NotNil(t, exists)
	assert.True(t, exists.Meta.IsAggregate)
	assert.Contains(t, exists.SQL, "EXISTS (SELECT 1 FROM step_1 p WHERE p.resource_id = b.resource_id")

	frags = translate(t, "sqlite", "Patient.name.empty()", "Patient")
	empty := findFragment(frags, "empty")
	require.NotNil(t, empty)
	assert.Contains(t, empty.SQL, "NOT EXISTS")
}

func TestExistsWithCriterionFiltersFirst(t *testing.T) {
	frags := translate(t, "sqlite", "Patient.name.exists(use = 'official')", "Patient")
	require.NotNil(t, findFragment(frags, "where"))
	require.NotNil(t, findFragment(frags, "exists"))
}

func TestReductions(t *testing.T) {
	frags := translate(t, "sqlite", "Observation.component.value.as(Quantity).value.sum()", "Observation")
	sum := findFragment(frags, "sum")
	require.NotNil(t, sum)
	assert.True(t, sum.Meta.IsAggregate)
	assert.Contains(t, sum.SQL, "SUM(")
	assert.Contains(t, sum.SQL, "'$.valueQuantity.value'")
	assert.Contains(t, sum.SQL, "LEFT JOIN")

	frags = translate(t, "sqlite", "Patient.name.given.min()", "Patient")
	min := findFragment(frags, "min")
	require.NotNil(t, min)
	assert.Contains(t, min.SQL, "MIN(")
	assert.Equal(t, "string", min.Meta.ResultType)
}

func TestSumRejectsStrings(t *testing.T) {
	te := translationError(t, "sqlite", "Patient.name.given.sum()", "Patient")
	assert.Equal(t, translator.ErrTypeMismatch, te.Code)
}

func TestAll(t *testing.T) {
	frags := translate(t, "sqlite", "Patient.name.all(use = 'official')", "Patient")
	all := findFragment(frags, "all")
	require.NotNil(t, all)
	assert.True(t, all.Meta.IsAggregate)
	assert.Contains(t, all.SQL, "NOT EXISTS")
	assert.Contains(t, all.SQL, "NOT COALESCE(")
}

func TestPolymorphicCoalesce(t *testing.T) {
	frags := translate(t, "sqlite", "Observation.value", "Observation")
	final := frags[len(frags)-1]
	assert.True(t, final.Meta.Polymorphic)
	// Variants coalesce in declaration order.
	assert.Contains(t, final.SQL,
		"COALESCE(json_extract(p.resource, '$.valueQuantity'), json_extract(p.resource, '$.valueCodeableConcept')")
	assert.Contains(t, final.SQL, "'$.valuePeriod'))")
}

func TestChoiceNarrowing(t *testing.T) {
	frags := translate(t, "sqlite", "Observation.value.as(Quantity).unit", "Observation")
	require.Len(t, frags, 2)
	assert.Contains(t, frags[1].SQL, "json_extract(p.resource, '$.valueQuantity.unit') AS unit")
	assert.True(t, frags[1].Meta.Polymorphic)
}

func TestChoiceIsTest(t *testing.T) {
	frags := translate(t, "sqlite", "Observation.value is Quantity", "Observation")
	final := frags[len(frags)-1]
	assert.Contains(t, final.SQL, "(json_extract(p.resource, '$.valueQuantity') IS NOT NULL) AS result")
}

func TestChoiceOfTypeOutsideOptions(t *testing.T) {
	// deceased can only be boolean or dateTime; asking for Period yields
	// the empty collection.
	frags := translate(t, "sqlite", "Patient.deceased.as(Period)", "Patient")
	final := frags[len(frags)-1]
	assert.True(t, final.Meta.Constant)
	assert.Contains(t, final.SQL, "WHERE 1 = 0")
}

func TestComparisonCoercion(t *testing.T) {
	frags := translate(t, "sqlite", "Patient.birthDate < @2000-01-01", "Patient")
	final := frags[len(frags)-1]
	// Extracted side is cast to the literal's type; the literal is
	// already typed.
	assert.Contains(t, final.SQL, "date(json_extract(p.resource, '$.birthDate')) < date('2000-01-01')")
}

func TestEquivalenceIsCaseInsensitive(t *testing.T) {
	frags := translate(t, "sqlite", "Patient.gender ~ 'MALE'", "Patient")
	final := frags[len(frags)-1]
	assert.Contains(t, final.SQL, "lower(json_extract(p.resource, '$.gender')) = lower('MALE')")
}

func TestArithmetic(t *testing.T) {
	t.Run("division yields decimal and guards zero", func(t *testing.T) {
		frags := translate(t, "sqlite", "7 / 2", "Patient")
		final := frags[len(frags)-1]
		assert.Contains(t, final.SQL, "NULLIF(2, 0)")
		assert.True(t, final.Meta.Constant)
	})

	t.Run("div uses the remainder identity", func(t *testing.T) {
		frags := translate(t, "sqlite", "7 div 2", "Patient")
		final := frags[len(frags)-1]
		assert.Contains(t, final.SQL, "% NULLIF(2, 0)")
	})

	t.Run("div rejects decimals", func(t *testing.T) {
		te := translationError(t, "sqlite", "7.5 div 2", "Patient")
		assert.Equal(t, translator.ErrTypeMismatch, te.Code)
	})

	t.Run("mod rejects decimals", func(t *testing.T) {
		te := translationError(t, "sqlite", "7 mod 2.5", "Patient")
		assert.Equal(t, translator.ErrTypeMismatch, te.Code)
	})

	t.Run("string concatenation", func(t *testing.T) {
		frags := translate(t, "sqlite", "Patient.name.first().family & ', MD'", "Patient")
		final := frags[len(frags)-1]
		assert.Contains(t, final.SQL, "|| COALESCE(', MD', '')")
	})

	t.Run("arithmetic on dates is rejected", func(t *testing.T) {
		te := translationError(t, "sqlite", "Patient.birthDate + 1", "Patient")
		assert.Equal(t, translator.ErrTypeMismatch, te.Code)
	})
}

func TestUnionDeduplicates(t *testing.T) {
	frags := translate(t, "sqlite", "Patient.name.given | Patient.name.prefix", "Patient")
	union := findFragment(frags, "union")
	require.NotNil(t, union)
	assert.Contains(t, union.SQL, " UNION ")
	assert.NotContains(t, union.SQL, "UNION ALL")
	assert.Equal(t, "union_item", union.Meta.ValueColumn)
	assert.Equal(t, "elem_ord", union.Meta.OrdColumn)
}

func TestCombineKeepsDuplicates(t *testing.T) {
	frags := translate(t, "sqlite", "Patient.name.given.combine(Patient.name.prefix)", "Patient")
	combine := findFragment(frags, "combine")
	require.NotNil(t, combine)
	assert.Contains(t, combine.SQL, "UNION ALL")
}

func TestLiteralCollections(t *testing.T) {
	t.Run("union of literals folds and dedups", func(t *testing.T) {
		frags := translate(t, "sqlite", "1 | 2 | 1", "Patient")
		final := frags[len(frags)-1]
		assert.True(t, final.Meta.Constant)
		assert.Contains(t, final.SQL, "json_array(1, 2)")
	})

	t.Run("combine of literals keeps duplicates", func(t *testing.T) {
		frags := translate(t, "sqlite", "1.combine(1)", "Patient")
		final := frags[len(frags)-1]
		assert.Contains(t, final.SQL, "json_array(1, 1)")
	})

	t.Run("count of a constructed collection measures the array", func(t *testing.T) {
		frags := translate(t, "sqlite", "(1 | 2 | 1).count()", "Patient")
		final := frags[len(frags)-1]
		assert.True(t, final.Meta.Constant)
		assert.Contains(t, final.SQL, "json_array_length(json_array(1, 2))")
	})
}

func TestSplit(t *testing.T) {
	frags := translate(t, "sqlite", "Patient.name.first().family.split('-').count()", "Patient")
	final := frags[len(frags)-1]
	assert.Contains(t, final.SQL, "json_array_length(")
	assert.Contains(t, final.SQL, "replace(")
	assert.Equal(t, "integer", final.Meta.ResultType)
}

func TestIif(t *testing.T) {
	t.Run("renders a guarded case expression", func(t *testing.T) {
		frags := translate(t, "sqlite", "iif(Patient.gender = 'male', 'M', 'F')", "Patient")
		final := frags[len(frags)-1]
		assert.Contains(t, final.SQL, "CASE WHEN COALESCE((json_extract(p.resource, '$.gender') = 'male'), FALSE) THEN 'M' ELSE 'F' END")
	})

	t.Run("missing else defaults to empty", func(t *testing.T) {
		frags := translate(t, "sqlite", "iif(Patient.active, 'yes')", "Patient")
		final := frags[len(frags)-1]
		assert.Contains(t, final.SQL, "ELSE NULL END")
	})

	t.Run("non-boolean literal criterion is rejected", func(t *testing.T) {
		te := translationError(t, "sqlite", "iif(5, 'a', 'b')", "Patient")
		assert.Equal(t, translator.ErrTypeMismatch, te.Code)
	})

	t.Run("union criterion is rejected", func(t *testing.T) {
		te := translationError(t, "sqlite", "iif(Patient.name | Patient.telecom, 'a', 'b')", "Patient")
		assert.Equal(t, translator.ErrTypeMismatch, te.Code)
	})

	t.Run("collection-valued function criterion is rejected", func(t *testing.T) {
		te := translationError(t, "sqlite", "iif(Patient.name.first(), 'a', 'b')", "Patient")
		assert.Equal(t, translator.ErrTypeMismatch, te.Code)
	})

	t.Run("reduction criterion keeps its step", func(t *testing.T) {
		frags := translate(t, "sqlite", "iif(Patient.name.exists(), 'has', 'none')", "Patient")
		exists := findFragment(frags, "exists")
		require.NotNil(t, exists)
		// The CASE must select from the step that owns exists_value, not
		// from the entry context.
		final := frags[len(frags)-1]
		assert.Contains(t, final.SQL, "CASE WHEN COALESCE(p.exists_value, FALSE) THEN 'has' ELSE 'none' END")
		assert.Contains(t, final.SQL, "FROM "+exists.ID+" p")
	})

	t.Run("reduction criterion with a row-valued branch joins contexts", func(t *testing.T) {
		frags := translate(t, "sqlite", "iif(Patient.name.exists(), Patient.gender, 'none')", "Patient")
		require.NotNil(t, findFragment(frags, "join"))
	})
}

func TestWhereThisNavigatesLikeBareField(t *testing.T) {
	bare := render(t, "sqlite", "Patient.name.where(use = 'official').family", "Patient")
	bound := render(t, "sqlite", "Patient.name.where($this.use = 'official').family", "Patient")
	assert.Equal(t, bare, bound)
}

func TestSubsetOnArrayFieldInPredicate(t *testing.T) {
	t.Run("first compares via a scalar subquery", func(t *testing.T) {
		frags := translate(t, "sqlite", "Patient.name.where(given.first() = 'Peter')", "Patient")
		where := findFragment(frags, "where")
		require.NotNil(t, where)
		assert.Contains(t, where.SQL,
			"(SELECT w.value FROM json_each(p.name_item, '$.given') AS w ORDER BY w.key LIMIT 1) = 'Peter'")
	})

	t.Run("last orders descending", func(t *testing.T) {
		frags := translate(t, "sqlite", "Patient.name.where(given.last() = 'Windsor')", "Patient")
		where := findFragment(frags, "where")
		require.NotNil(t, where)
		assert.Contains(t, where.SQL, "ORDER BY w.key DESC LIMIT 1")
	})

	t.Run("exists wraps the subquery structurally", func(t *testing.T) {
		frags := translate(t, "sqlite", "Patient.name.where(given.first().exists())", "Patient")
		where := findFragment(frags, "where")
		require.NotNil(t, where)
		assert.Contains(t, where.SQL, "EXISTS (SELECT w.value FROM json_each(p.name_item, '$.given')")
	})
}

func TestLogicalOperandsAcrossSteps(t *testing.T) {
	t.Run("reductions on both sides join on resource_id", func(t *testing.T) {
		frags := translate(t, "sqlite", "Patient.name.exists() and Patient.birthDate.exists()", "Patient")

		join := findFragment(frags, "join")
		require.NotNil(t, join)
		assert.True(t, join.Meta.IsAggregate)
		assert.Contains(t, join.SQL, "ON j1.resource_id = j0.resource_id")

		// Both operands survive into the combined expression.
		final := frags[len(frags)-1]
		assert.Contains(t, final.SQL, "(p.v_0 AND p.v_1)")
		assert.Contains(t, final.SQL, "FROM "+join.ID+" p")
	})

	t.Run("chained logicals keep joining", func(t *testing.T) {
		frags := translate(t, "sqlite",
			"Patient.name.exists() and Patient.birthDate.exists() and Patient.gender.exists()", "Patient")
		final := frags[len(frags)-1]
		assert.Contains(t, final.SQL, " AND ")
		assert.Contains(t, final.SQL, "p.v_0")
		assert.Contains(t, final.SQL, "p.v_1")
	})

	t.Run("operands in one row context need no join", func(t *testing.T) {
		frags := translate(t, "sqlite", "Patient.gender = 'male' and Patient.active", "Patient")
		assert.Nil(t, findFragment(frags, "join"))
	})

	t.Run("multi-row operand context is rejected", func(t *testing.T) {
		te := translationError(t, "sqlite", "Patient.name.given = 'Anna' and Patient.birthDate.exists()", "Patient")
		assert.Equal(t, translator.ErrTypeMismatch, te.Code)
	})
}

func TestAggregate(t *testing.T) {
	t.Run("with seed", func(t *testing.T) {
		frags := translate(t, "sqlite", "Patient.name.given.aggregate($this & $total, '')", "Patient")

		elems := findFragment(frags, "aggregate_elems")
		require.NotNil(t, elems)
		assert.Contains(t, elems.SQL, "ROW_NUMBER() OVER (PARTITION BY p.resource_id ORDER BY p.elem_ord) AS rn")

		fold := findFragment(frags, "aggregate_fold")
		require.NotNil(t, fold)
		assert.True(t, fold.Recursive)
		assert.Contains(t, fold.SQL, "'' AS total, 0 AS rn FROM step_0 b")
		assert.Contains(t, fold.SQL, "UNION ALL")
		assert.Contains(t, fold.SQL, "e.rn = a.rn + 1")
		assert.Contains(t, fold.SQL, "e.agg_item")
		assert.Contains(t, fold.SQL, "a.total")

		final := findFragment(frags, "aggregate")
		require.NotNil(t, final)
		assert.True(t, final.Meta.IsAggregate)
		assert.Contains(t, final.SQL, "p.rn = (SELECT COUNT(*)")
	})

	t.Run("without seed starts from the first element", func(t *testing.T) {
		frags := translate(t, "sqlite", "Patient.name.given.aggregate($total & $this)", "Patient")
		fold := findFragment(frags, "aggregate_fold")
		require.NotNil(t, fold)
		assert.Contains(t, fold.SQL, "WHERE e.rn = 1")
	})

	t.Run("index binding", func(t *testing.T) {
		frags := translate(t, "sqlite", "Patient.name.given.aggregate(iif($index = 0, $this, $total))", "Patient")
		fold := findFragment(frags, "aggregate_fold")
		require.NotNil(t, fold)
		assert.Contains(t, fold.SQL, "(e.rn - 1)")
	})

	t.Run("assembles under WITH RECURSIVE", func(t *testing.T) {
		sql := render(t, "sqlite", "Patient.name.given.aggregate($this & $total, '')", "Patient")
		assert.Contains(t, sql, "WITH RECURSIVE ")
	})

	t.Run("body probing leaves no stray fragments", func(t *testing.T) {
		frags := translate(t, "sqlite", "Patient.name.given.aggregate($this & $total, '')", "Patient")
		for _, f := range frags {
			assert.Contains(t,
				[]string{"base", "unnest", "aggregate_elems", "aggregate_fold", "aggregate"},
				f.Meta.Function)
		}
	})
}

func TestTypeOps(t *testing.T) {
	t.Run("static is", func(t *testing.T) {
		frags := translate(t, "sqlite", "Patient.birthDate is date", "Patient")
		final := frags[len(frags)-1]
		assert.Contains(t, final.SQL, "TRUE AS result")
	})

	t.Run("static as mismatch is empty", func(t *testing.T) {
		frags := translate(t, "sqlite", "Patient.birthDate.as(integer)", "Patient")
		final := frags[len(frags)-1]
		assert.Contains(t, final.SQL, "WHERE 1 = 0")
	})

	t.Run("unknown type name", func(t *testing.T) {
		te := translationError(t, "sqlite", "Observation.value.as(Frobnitz)", "Observation")
		assert.Equal(t, translator.ErrUnresolvableType, te.Code)
	})
}

func TestVariables(t *testing.T) {
	te := translationError(t, "sqlite", "$total + 1", "Patient")
	assert.Equal(t, translator.ErrUnresolvableType, te.Code)
}

func TestErrorTaxonomy(t *testing.T) {
	t.Run("unknown function", func(t *testing.T) {
		te := translationError(t, "sqlite", "Patient.name.frobnicate()", "Patient")
		assert.Equal(t, translator.ErrUnknownFunction, te.Code)
		assert.Contains(t, te.Error(), "frobnicate")
	})

	t.Run("arity", func(t *testing.T) {
		te := translationError(t, "sqlite", "Patient.name.where()", "Patient")
		assert.Equal(t, translator.ErrArity, te.Code)
	})

	t.Run("unknown resource type", func(t *testing.T) {
		te := translationError(t, "sqlite", "name.family", "Starship")
		assert.Equal(t, translator.ErrUnresolvableType, te.Code)
	})

	t.Run("no partial fragments on error", func(t *testing.T) {
		frags, err := newTranslator(t, "sqlite").Translate("Patient.name.frobnicate()", "Patient")
		require.Error(t, err)
		assert.Nil(t, frags)
	})
}

func TestUnknownFieldsExtractAsScalars(t *testing.T) {
	frags := translate(t, "sqlite", "Patient.extension", "Patient")
	final := frags[len(frags)-1]
	assert.Contains(t, final.SQL, "json_extract(p.resource, '$.extension')")
}

func TestDeterministicOutput(t *testing.T) {
	expr := "Patient.name.where(use = 'official').given.first()"
	first := render(t, "sqlite", expr, "Patient")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, render(t, "sqlite", expr, "Patient"))
	}
}

func TestDialectVariants(t *testing.T) {
	t.Run("postgres", func(t *testing.T) {
		sql := render(t, "postgres", "Patient.name.family", "Patient")
		assert.Contains(t, sql, "CROSS JOIN LATERAL jsonb_array_elements(")
		assert.Contains(t, sql, "WITH ORDINALITY")
		assert.Contains(t, sql, "jsonb_extract_path_text(p.name_item, 'family')")
	})

	t.Run("duckdb", func(t *testing.T) {
		sql := render(t, "duckdb", "Patient.name.family", "Patient")
		assert.Contains(t, sql, "json_each(p.resource, '$.name')")
		assert.Contains(t, sql, "json_extract_string(p.name_item, '$.family')")
	})

	t.Run("postgres safe casts never throw", func(t *testing.T) {
		sql := render(t, "postgres", "Patient.birthDate < @2000-01-01", "Patient")
		assert.Contains(t, sql, "CASE WHEN")
		assert.Contains(t, sql, "::date")
	})
}
