package translator

import (
	"fmt"
	"strings"

	"github.com/fhirql/fhirql/internal/schema"
)

// binding is one frame on the lambda variable stack. expr is a SQL
// expression valid in the row context of the step that pushed it.
type binding struct {
	name     string // "$this", "$total"
	expr     string
	ordExpr  string // expression for $index, set by iterating frames
	semType  string
	elemType string
}

// choiceState tracks a polymorphic field that has been navigated to but
// not yet resolved. A following as()/ofType() narrows it to one variant;
// anything else forces variant coalescing.
type choiceState struct {
	logical string
	info    schema.FieldInfo
	docBase string
	docPath []string // path up to, not including, the variant field
}

// cursor is the translator's position in the document: the current step,
// the SQL expression for the current value within that step's rows, and
// any path components accumulated lazily since the last materialization.
type cursor struct {
	step      string
	base      string   // value expression, row context "FROM <step> p"
	path      []string // pending scalar components under base
	elemType  string   // declared type of the current element
	semType   string
	ordColumn string // element-order column of the current step
	choice    *choiceState

	// text reports that base already holds extracted SQL text rather
	// than a JSON value, so it must not be unwrapped again.
	text bool

	poly    bool     // value flowed through a variant coalesce
	srcPath []string // dotted path for diagnostics
}

// tcontext carries all mutable translation state. One instance per
// Translate call; never shared.
type tcontext struct {
	resourceType string
	table        string
	expr         string // full expression text, attached to errors

	fragments []*Fragment
	seq       int
	bindings  []binding
	cur       cursor

	// inPredicate is set while translating lambda bodies, where array
	// fields resolve to EXISTS subqueries instead of unnest steps.
	inPredicate bool
}

func (c *tcontext) nextID() string {
	id := fmt.Sprintf("step_%d", c.seq)
	c.seq++
	return id
}

func (c *tcontext) add(f *Fragment) {
	c.fragments = append(c.fragments, f)
}

// lastFragment returns the most recent fragment, nil before the base is
// emitted.
func (c *tcontext) lastFragment() *Fragment {
	if len(c.fragments) == 0 {
		return nil
	}
	return c.fragments[len(c.fragments)-1]
}

// fragmentMark captures the fragment list and step counter so speculative
// translation (aggregate bodies) can be rolled back without leaking
// partial steps into the output.
type fragmentMark struct {
	count int
	seq   int
}

func (c *tcontext) mark() fragmentMark {
	return fragmentMark{count: len(c.fragments), seq: c.seq}
}

func (c *tcontext) rollback(m fragmentMark) {
	c.fragments = c.fragments[:m.count]
	c.seq = m.seq
}

func (c *tcontext) pushBinding(b binding) {
	c.bindings = append(c.bindings, b)
}

func (c *tcontext) popBinding() {
	c.bindings = c.bindings[:len(c.bindings)-1]
}

// lookupBinding resolves a variable innermost-first.
func (c *tcontext) lookupBinding(name string) (binding, bool) {
	for i := len(c.bindings) - 1; i >= 0; i-- {
		if c.bindings[i].name == name {
			return c.bindings[i], true
		}
		// $index is owned by the same frame as $this.
		if name == "$index" && c.bindings[i].name == "$this" && c.bindings[i].ordExpr != "" {
			return binding{name: "$index", expr: c.bindings[i].ordExpr, semType: "integer"}, true
		}
	}
	return binding{}, false
}

// saveCursor returns a deep copy of the cursor so branch translations
// (union arms, combine arguments) can restore position afterwards.
func (c *tcontext) saveCursor() cursor {
	saved := c.cur
	saved.path = append([]string(nil), c.cur.path...)
	saved.srcPath = append([]string(nil), c.cur.srcPath...)
	if c.cur.choice != nil {
		choice := *c.cur.choice
		choice.docPath = append([]string(nil), c.cur.choice.docPath...)
		saved.choice = &choice
	}
	return saved
}

func (c *tcontext) restoreCursor(saved cursor) {
	c.cur = saved
}

// resetToRoot points the cursor back at the base fragment, used when a
// branch expression starts a fresh path from the resource root.
func (c *tcontext) resetToRoot() {
	c.cur = cursor{
		step:     baseStepID,
		base:     "p.resource",
		elemType: c.resourceType,
	}
}

func (c *tcontext) appendPath(segment string) {
	c.cur.path = append(append([]string(nil), c.cur.path...), segment)
}

func (c *tcontext) pushSrc(segment string) {
	c.cur.srcPath = append(append([]string(nil), c.cur.srcPath...), segment)
}

func (c *tcontext) sourcePath() string {
	return strings.Join(c.cur.srcPath, ".")
}

// oneRowPerResource reports whether a step yields at most one row per
// resource, which makes it joinable on resource_id alone. The base step
// and reduction steps qualify; unnest and filter steps do not.
func (c *tcontext) oneRowPerResource(step string) bool {
	if step == baseStepID {
		return true
	}
	for _, f := range c.fragments {
		if f.ID == step {
			return f.Meta.IsAggregate
		}
	}
	return false
}

// recoverElemType walks back through step metadata to find the element
// type flowing through the current collection when the cursor lost it.
func (c *tcontext) recoverElemType() (elemType, semType string) {
	for i := len(c.fragments) - 1; i >= 0; i-- {
		m := c.fragments[i].Meta
		if m.OrdColumn != "" && m.ElementType != "" {
			return m.ElementType, m.ResultType
		}
	}
	return "", ""
}
