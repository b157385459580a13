package ast

import (
	"strings"

	"github.com/fhirql/fhirql/internal/fhirpath"
)

// maxUnwrapDepth bounds how many transparent wrapper nodes the normalizer
// will peel before concluding the tree is malformed.
const maxUnwrapDepth = 64

// Normalize converts a raw parse tree into the canonical tagged-variant
// tree. It unwraps grouping nodes, rewrites property access after a
// function call to bind to the call's result, lowers indexers to
// skip/first, and resolves type-operator arguments into plain type names.
func Normalize(raw *fhirpath.Node) (*Node, error) {
	unwrapped, err := unwrap(raw)
	if err != nil {
		return nil, err
	}

	switch unwrapped.Kind {
	case fhirpath.NodeIdent:
		return &Node{
			Kind:   KindIdentifier,
			Name:   unwrapped.Name,
			Source: unwrapped.Text(),
		}, nil

	case fhirpath.NodeVariable:
		return &Node{
			Kind:   KindVariable,
			Name:   unwrapped.Name,
			Source: unwrapped.Text(),
		}, nil

	case fhirpath.NodeLiteral:
		return &Node{
			Kind:   KindLiteral,
			Lit:    unwrapped.Lit,
			Value:  unwrapped.Value,
			Source: unwrapped.Text(),
		}, nil

	case fhirpath.NodeEmpty:
		return &Node{Kind: KindEmpty, Source: unwrapped.Text()}, nil

	case fhirpath.NodeMember:
		target, err := Normalize(unwrapped.Target)
		if err != nil {
			return nil, err
		}
		// A bare property access directly after a function call binds to
		// the result of that call. The chain is resolved here, once, so
		// no per-function patching is needed downstream.
		return &Node{
			Kind:   KindIdentifier,
			Name:   unwrapped.Name,
			Target: target,
			Source: unwrapped.Text(),
		}, nil

	case fhirpath.NodeCall:
		return normalizeCall(unwrapped)

	case fhirpath.NodeIndex:
		return normalizeIndex(unwrapped)

	case fhirpath.NodeBinary:
		return normalizeBinary(unwrapped)

	case fhirpath.NodeUnary:
		return normalizeUnary(unwrapped)
	}

	return nil, &ParseIntegrityError{
		NodeKind: "unknown",
		Message:  "unrecognized raw node",
		Source:   unwrapped.Text(),
	}
}

// unwrap peels transparent grouping wrappers until a semantically
// meaningful node is reached, guarding against pathological nesting.
func unwrap(raw *fhirpath.Node) (*fhirpath.Node, error) {
	if raw == nil {
		return nil, &ParseIntegrityError{NodeKind: "nil", Message: "missing node"}
	}
	for depth := 0; raw.Kind == fhirpath.NodeGroup; depth++ {
		if depth >= maxUnwrapDepth {
			return nil, &ParseIntegrityError{
				NodeKind: "Group",
				Message:  "wrapper nesting exceeds depth guard",
				Source:   raw.Text(),
			}
		}
		if len(raw.Children) != 1 || raw.Children[0] == nil {
			return nil, &ParseIntegrityError{
				NodeKind: "Group",
				Message:  "empty grouping node",
				Source:   raw.Text(),
			}
		}
		raw = raw.Children[0]
	}
	return raw, nil
}

func normalizeCall(raw *fhirpath.Node) (*Node, error) {
	var target *Node
	if raw.Target != nil {
		var err error
		target, err = Normalize(raw.Target)
		if err != nil {
			return nil, err
		}
	}

	// is/as/ofType in invocation form carry their type argument as an
	// expression; resolve it to a plain name here.
	switch raw.Name {
	case "is", "as", "ofType":
		if len(raw.Children) != 1 {
			return nil, &ParseIntegrityError{
				NodeKind: "FunctionCall",
				Message:  raw.Name + " requires exactly one type argument",
				Source:   raw.Text(),
			}
		}
		typeName, err := resolveTypeName(raw.Children[0])
		if err != nil {
			return nil, err
		}
		return &Node{
			Kind:     KindTypeOp,
			Op:       raw.Name,
			TypeName: typeName,
			Target:   target,
			Source:   raw.Text(),
		}, nil
	}

	args := make([]*Node, 0, len(raw.Children))
	for _, child := range raw.Children {
		arg, err := Normalize(child)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}

	return &Node{
		Kind:   KindFunctionCall,
		Name:   raw.Name,
		Target: target,
		Args:   args,
		Source: raw.Text(),
	}, nil
}

// normalizeIndex lowers x[n] to x.skip(n).first(), which already has
// well-defined per-resource semantics in the translator.
func normalizeIndex(raw *fhirpath.Node) (*Node, error) {
	target, err := Normalize(raw.Target)
	if err != nil {
		return nil, err
	}
	if len(raw.Children) != 1 {
		return nil, &ParseIntegrityError{
			NodeKind: "Index",
			Message:  "indexer requires exactly one subscript",
			Source:   raw.Text(),
		}
	}
	index, err := Normalize(raw.Children[0])
	if err != nil {
		return nil, err
	}

	skip := &Node{
		Kind:   KindFunctionCall,
		Name:   "skip",
		Target: target,
		Args:   []*Node{index},
		Source: raw.Text(),
	}
	return &Node{
		Kind:   KindFunctionCall,
		Name:   "first",
		Target: skip,
		Source: raw.Text(),
	}, nil
}

func normalizeBinary(raw *fhirpath.Node) (*Node, error) {
	if len(raw.Children) != 2 {
		return nil, &ParseIntegrityError{
			NodeKind: "BinaryOp",
			Message:  "operator requires two operands",
			Source:   raw.Text(),
		}
	}

	// Infix type tests: value is Quantity, value as Quantity.
	if raw.Op == "is" || raw.Op == "as" {
		target, err := Normalize(raw.Children[0])
		if err != nil {
			return nil, err
		}
		typeName, err := resolveTypeName(raw.Children[1])
		if err != nil {
			return nil, err
		}
		return &Node{
			Kind:     KindTypeOp,
			Op:       raw.Op,
			TypeName: typeName,
			Target:   target,
			Source:   raw.Text(),
		}, nil
	}

	left, err := Normalize(raw.Children[0])
	if err != nil {
		return nil, err
	}
	right, err := Normalize(raw.Children[1])
	if err != nil {
		return nil, err
	}
	return &Node{
		Kind:   KindBinaryOp,
		Op:     raw.Op,
		Args:   []*Node{left, right},
		Source: raw.Text(),
	}, nil
}

func normalizeUnary(raw *fhirpath.Node) (*Node, error) {
	if len(raw.Children) != 1 {
		return nil, &ParseIntegrityError{
			NodeKind: "UnaryOp",
			Message:  "unary operator requires one operand",
			Source:   raw.Text(),
		}
	}
	operand, err := Normalize(raw.Children[0])
	if err != nil {
		return nil, err
	}

	// Fold signs into numeric literals so downstream code sees a plain
	// typed constant.
	if operand.Kind == KindLiteral && (operand.Lit == fhirpath.LitInteger || operand.Lit == fhirpath.LitDecimal) {
		folded := *operand
		if raw.Op == "-" {
			folded.Value = "-" + operand.Value
		}
		folded.Source = raw.Text()
		return &folded, nil
	}
	if raw.Op == "+" {
		return operand, nil
	}

	return &Node{
		Kind:   KindUnaryOp,
		Op:     raw.Op,
		Args:   []*Node{operand},
		Source: raw.Text(),
	}, nil
}

// resolveTypeName extracts a type name from any representation the grammar
// allows: a typed identifier, a qualified identifier chain (FHIR.Quantity),
// a string literal, or the raw token text as a last resort.
func resolveTypeName(raw *fhirpath.Node) (string, error) {
	unwrapped, err := unwrap(raw)
	if err != nil {
		return "", err
	}

	switch unwrapped.Kind {
	case fhirpath.NodeIdent:
		return unwrapped.Name, nil
	case fhirpath.NodeMember:
		// Qualified name: keep the final segment (System.String → String).
		return unwrapped.Name, nil
	case fhirpath.NodeLiteral:
		if unwrapped.Lit == fhirpath.LitString && unwrapped.Value != "" {
			return unwrapped.Value, nil
		}
	}

	if text := strings.TrimSpace(unwrapped.Text()); text != "" {
		return text, nil
	}
	return "", &ParseIntegrityError{
		NodeKind: "TypeOp",
		Message:  "cannot resolve type name argument",
		Source:   raw.Text(),
	}
}
