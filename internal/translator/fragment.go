package translator

// Meta carries per-fragment facts used downstream: by later translation
// steps (element type recovery for subset steps), by the CTE assembler
// (recursive fragments, final projection) and by callers inspecting the
// plan.
type Meta struct {
	// Function names the operation that produced the fragment ("where",
	// "first", "unnest", "base", …).
	Function string

	// ResultType is the semantic type of the value column ("integer",
	// "string", …); empty for complex JSON values.
	ResultType string

	// ElementType is the declared element type flowing through the value
	// column ("HumanName", "string", …).
	ElementType string

	// SourcePath is the dotted path that produced the fragment, for
	// diagnostics.
	SourcePath string

	// ValueColumn names the column holding the fragment's value. Empty
	// for the base fragment, whose payload is the whole document.
	ValueColumn string

	// OrdColumn names the element-order column, empty when the fragment
	// carries at most one row per resource.
	OrdColumn string

	// IsAggregate marks reduction fragments: one row per resource,
	// correlated back to the base so resources with no matching elements
	// still appear.
	IsAggregate bool

	// SubsetFilter marks positional subsetting fragments (first, last,
	// skip, take, tail).
	SubsetFilter bool

	// Polymorphic marks fragments whose value was resolved from a choice
	// field via variant coalescing.
	Polymorphic bool

	// Constant marks fragments with no resource correlation (constructed
	// collections of pure literals).
	Constant bool
}

// Fragment is one CTE in the translation output. SQL is the body (a full
// SELECT); the assembler wires bodies together in dependency order under a
// single WITH clause.
type Fragment struct {
	// ID is the deterministic CTE name ("step_0", "step_1", …). The same
	// expression always yields the same IDs, so emitted SQL is reproducible.
	ID string

	// SQL is the SELECT body of the CTE.
	SQL string

	// DependsOn lists the IDs of fragments this body references. The
	// assembler orders the WITH clause so that every dependency is defined
	// before use.
	DependsOn []string

	// Recursive marks a self-referencing body; its presence upgrades the
	// clause to WITH RECURSIVE.
	Recursive bool

	Meta Meta
}
