// Package ast defines the canonical expression tree consumed by the
// translator, and the Normalizer that produces it from the raw parse tree.
//
// The canonical tree is a strict tree of tagged variants with no cycles and
// no back-references. Each node is owned by the translation call that built
// it. The translator dispatches on Kind with an exhaustive switch, so every
// reachable shape is named here rather than inferred from an under-typed
// parse tree.
package ast

import (
	"fmt"

	"github.com/fhirql/fhirql/internal/fhirpath"
)

// Kind identifies the canonical node variant.
type Kind int

const (
	// KindIdentifier is a path segment (field access). Target is the
	// expression it navigates from, nil at the root of an expression.
	KindIdentifier Kind = iota

	// KindLiteral is a typed constant. Lit carries the semantic type tag
	// used downstream to pick cast targets.
	KindLiteral

	// KindFunctionCall is an invocation. Target is the receiver (nil for
	// context-free calls like today()), Args the argument expressions.
	KindFunctionCall

	// KindBinaryOp has exactly two operands in Args.
	KindBinaryOp

	// KindUnaryOp has exactly one operand in Args.
	KindUnaryOp

	// KindTypeOp is is/as/ofType with the type name already resolved to a
	// plain string, regardless of how the source spelled it.
	KindTypeOp

	// KindVariable is a lambda-bound variable: $this, $index, $total.
	KindVariable

	// KindEmpty is the empty collection literal {}.
	KindEmpty
)

func (k Kind) String() string {
	switch k {
	case KindIdentifier:
		return "Identifier"
	case KindLiteral:
		return "Literal"
	case KindFunctionCall:
		return "FunctionCall"
	case KindBinaryOp:
		return "BinaryOp"
	case KindUnaryOp:
		return "UnaryOp"
	case KindTypeOp:
		return "TypeOp"
	case KindVariable:
		return "Variable"
	case KindEmpty:
		return "Empty"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Node is a canonical expression tree node. Treated as immutable once
// returned from Normalize.
type Node struct {
	Kind Kind

	// Name holds the identifier, function or variable name.
	Name string

	// Op holds the operator for BinaryOp/UnaryOp ("=", "+", "and", …)
	// and the operation for TypeOp ("is", "as", "ofType").
	Op string

	// TypeName is the resolved type argument of a TypeOp.
	TypeName string

	// Lit and Value describe a literal: semantic tag plus raw text.
	Lit   fhirpath.LiteralKind
	Value string

	// Target is the receiver of an Identifier, FunctionCall or TypeOp in
	// an invocation chain. A property access following a function call is
	// represented as an Identifier whose Target is that call, resolved
	// once during normalization.
	Target *Node

	// Args holds function arguments and operator operands.
	Args []*Node

	// Source is the expression text that produced this node, attached to
	// translation errors.
	Source string
}

// ParseIntegrityError reports a raw parse tree shape the normalizer cannot
// turn into a canonical node: an empty or unresolvable node after
// unwrapping, or wrapper nesting past the depth guard.
type ParseIntegrityError struct {
	NodeKind string
	Message  string
	Source   string
}

func (e *ParseIntegrityError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("parse integrity: %s node: %s (in %q)", e.NodeKind, e.Message, e.Source)
	}
	return fmt.Sprintf("parse integrity: %s node: %s", e.NodeKind, e.Message)
}
