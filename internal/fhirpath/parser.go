// Package fhirpath tokenizes and parses FHIRPath expressions into a raw
// parse tree. The tree deliberately preserves grouping nodes and invocation
// structure as written; canonicalization (unwrapping, chained-call rewrites,
// type-argument resolution) happens in the ast package.
package fhirpath

import "strings"

// NodeKind identifies the grammatical class of a raw parse tree node.
type NodeKind int

const (
	NodeIdent    NodeKind = iota // bare identifier (field or resource type)
	NodeVariable                 // $this, $index, $total
	NodeLiteral                  // string, number, boolean, date/time
	NodeEmpty                    // {} empty collection
	NodeGroup                    // (expr) — transparent precedence wrapper
	NodeMember                   // target.name
	NodeCall                     // name(args...), with or without a target
	NodeIndex                    // target[expr]
	NodeBinary                   // left op right
	NodeUnary                    // op operand (unary minus/plus)
)

// LiteralKind classifies literal nodes. The kind doubles as the semantic
// type tag used downstream to pick cast targets for comparisons.
type LiteralKind int

const (
	LitNone LiteralKind = iota
	LitString
	LitInteger
	LitDecimal
	LitBoolean
	LitDate
	LitDateTime
	LitTime
)

// Node is a raw parse tree node.
//
// The tree is a strict tree: every node is owned by its parent and nodes
// are never shared or cyclic. Target holds the receiver of a member
// access, invocation or index (nil for root-level identifiers and bare
// function calls such as today()).
type Node struct {
	Kind     NodeKind
	Name     string      // identifier or function name
	Op       string      // operator for Binary/Unary
	Lit      LiteralKind // literal class for NodeLiteral
	Value    string      // raw literal value
	Target   *Node       // receiver in an invocation chain
	Children []*Node     // operands or call arguments
	Pos      int         // byte offset of the node's first token
	end      int         // byte offset just past the node's last token
	src      string      // full expression text (shared, read-only)
}

// Text returns the source text that produced this node.
func (n *Node) Text() string {
	if n == nil || n.src == "" || n.Pos < 0 || n.end > len(n.src) || n.Pos >= n.end {
		return ""
	}
	return strings.TrimSpace(n.src[n.Pos:n.end])
}

// Parse tokenizes and parses a FHIRPath expression into a raw parse tree.
func Parse(expression string) (*Node, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, &SyntaxError{Message: "empty expression", Pos: 0}
	}

	tokens, err := Tokenize(expression)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens, src: expression}
	node, err := p.parseExpression(0)
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.Kind != TokenEOF {
		return nil, &SyntaxError{Message: "unexpected trailing token " + tok.String(), Pos: tok.Pos}
	}
	return node, nil
}

type parser struct {
	tokens []Token
	pos    int
	src    string
}

func (p *parser) peek() Token {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return Token{Kind: TokenEOF, Pos: len(p.src)}
}

func (p *parser) advance() Token {
	t := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind TokenKind, what string) (Token, error) {
	t := p.advance()
	if t.Kind != kind {
		return t, &SyntaxError{Message: "expected " + what + ", got " + t.String(), Pos: t.Pos}
	}
	return t, nil
}

// Infix precedence, loosest first. Mirrors the FHIRPath grammar:
//
//	implies < or/xor < and < equality < comparison < union < type ops
//	< additive < multiplicative < unary < invocation
func (p *parser) infixPrecedence(tok Token) (int, string) {
	switch tok.Kind {
	case TokenIdent:
		switch tok.Value {
		case "implies":
			return 1, "implies"
		case "or":
			return 2, "or"
		case "xor":
			return 2, "xor"
		case "and":
			return 3, "and"
		case "is":
			return 7, "is"
		case "as":
			return 7, "as"
		case "div":
			return 9, "div"
		case "mod":
			return 9, "mod"
		}
	case TokenEq:
		return 4, "="
	case TokenNe:
		return 4, "!="
	case TokenEquiv:
		return 4, "~"
	case TokenLt:
		return 5, "<"
	case TokenGt:
		return 5, ">"
	case TokenLe:
		return 5, "<="
	case TokenGe:
		return 5, ">="
	case TokenPipe:
		return 6, "|"
	case TokenPlus:
		return 8, "+"
	case TokenMinus:
		return 8, "-"
	case TokenAmp:
		return 8, "&"
	case TokenStar:
		return 9, "*"
	case TokenSlash:
		return 9, "/"
	}
	return -1, ""
}

func (p *parser) parseExpression(minPrec int) (*Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		prec, op := p.infixPrecedence(tok)
		if prec < minPrec {
			break
		}
		p.advance()
		right, err := p.parseExpression(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &Node{
			Kind:     NodeBinary,
			Op:       op,
			Children: []*Node{left, right},
			Pos:      left.Pos,
			end:      right.end,
			src:      p.src,
		}
	}
	return left, nil
}

func (p *parser) parseUnary() (*Node, error) {
	tok := p.peek()
	if tok.Kind == TokenMinus || tok.Kind == TokenPlus {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Node{
			Kind:     NodeUnary,
			Op:       tok.Value,
			Children: []*Node{operand},
			Pos:      tok.Pos,
			end:      operand.end,
			src:      p.src,
		}, nil
	}
	return p.parsePostfix()
}

// parsePostfix parses a primary expression followed by any number of
// member accesses, invocations and indexers.
func (p *parser) parsePostfix() (*Node, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for {
		switch p.peek().Kind {
		case TokenDot:
			p.advance()
			name, err := p.expect(TokenIdent, "identifier after '.'")
			if err != nil {
				return nil, err
			}
			if p.peek().Kind == TokenLParen {
				node, err = p.parseCall(name.Value, node, node.Pos)
				if err != nil {
					return nil, err
				}
			} else {
				node = &Node{
					Kind:   NodeMember,
					Name:   name.Value,
					Target: node,
					Pos:    node.Pos,
					end:    name.Pos + len(name.Value),
					src:    p.src,
				}
			}
		case TokenLBrack:
			p.advance()
			index, err := p.parseExpression(0)
			if err != nil {
				return nil, err
			}
			closing, err := p.expect(TokenRBrack, "']'")
			if err != nil {
				return nil, err
			}
			node = &Node{
				Kind:     NodeIndex,
				Target:   node,
				Children: []*Node{index},
				Pos:      node.Pos,
				end:      closing.Pos + 1,
				src:      p.src,
			}
		default:
			return node, nil
		}
	}
}

// parseCall parses the argument list of an invocation. The opening paren
// is still pending when this is called.
func (p *parser) parseCall(name string, target *Node, startPos int) (*Node, error) {
	if _, err := p.expect(TokenLParen, "'('"); err != nil {
		return nil, err
	}

	var args []*Node
	if p.peek().Kind != TokenRParen {
		for {
			arg, err := p.parseExpression(0)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().Kind != TokenComma {
				break
			}
			p.advance()
		}
	}
	closing, err := p.expect(TokenRParen, "')'")
	if err != nil {
		return nil, err
	}

	return &Node{
		Kind:     NodeCall,
		Name:     name,
		Target:   target,
		Children: args,
		Pos:      startPos,
		end:      closing.Pos + 1,
		src:      p.src,
	}, nil
}

func (p *parser) parsePrimary() (*Node, error) {
	tok := p.peek()

	switch tok.Kind {
	case TokenNumber:
		p.advance()
		lit := LitInteger
		if strings.Contains(tok.Value, ".") {
			lit = LitDecimal
		}
		return p.literal(tok, lit, tok.Value), nil

	case TokenString:
		p.advance()
		return p.literal(tok, LitString, tok.Value), nil

	case TokenDateTime:
		p.advance()
		return p.literal(tok, classifyDateTime(tok.Value), strings.TrimPrefix(tok.Value, "T")), nil

	case TokenVariable:
		p.advance()
		return &Node{
			Kind: NodeVariable,
			Name: tok.Value,
			Pos:  tok.Pos,
			end:  tok.Pos + len(tok.Value),
			src:  p.src,
		}, nil

	case TokenLBrace:
		p.advance()
		closing, err := p.expect(TokenRBrace, "'}'")
		if err != nil {
			return nil, err
		}
		return &Node{Kind: NodeEmpty, Pos: tok.Pos, end: closing.Pos + 1, src: p.src}, nil

	case TokenLParen:
		p.advance()
		inner, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		closing, err := p.expect(TokenRParen, "')'")
		if err != nil {
			return nil, err
		}
		// Grouping is preserved as a wrapper node so downstream stages can
		// see (and unwrap) the original precedence structure.
		return &Node{
			Kind:     NodeGroup,
			Children: []*Node{inner},
			Pos:      tok.Pos,
			end:      closing.Pos + 1,
			src:      p.src,
		}, nil

	case TokenIdent:
		p.advance()
		if tok.Value == "true" || tok.Value == "false" {
			return p.literal(tok, LitBoolean, tok.Value), nil
		}
		if p.peek().Kind == TokenLParen {
			return p.parseCall(tok.Value, nil, tok.Pos)
		}
		return &Node{
			Kind: NodeIdent,
			Name: tok.Value,
			Pos:  tok.Pos,
			end:  tok.Pos + len(tok.Value),
			src:  p.src,
		}, nil
	}

	return nil, &SyntaxError{Message: "unexpected token " + tok.String(), Pos: tok.Pos}
}

func (p *parser) literal(tok Token, kind LiteralKind, value string) *Node {
	end := tok.Pos + len(tok.Value)
	if kind == LitString {
		// Token value is unescaped; length may differ from the source span.
		// Find the closing quote from the token start instead.
		for end = tok.Pos + 1; end < len(p.src) && p.src[end] != '\''; end++ {
			if p.src[end] == '\\' {
				end++
			}
		}
		end++
	}
	if kind == LitDate || kind == LitDateTime || kind == LitTime {
		end = tok.Pos + 1 + len(tok.Value) // account for '@'
	}
	return &Node{
		Kind:  NodeLiteral,
		Lit:   kind,
		Value: value,
		Pos:   tok.Pos,
		end:   end,
		src:   p.src,
	}
}

// classifyDateTime distinguishes @2024-01-01 (date), @2024-01-01T10:00:00Z
// (datetime) and @T14:30 (time) literals.
func classifyDateTime(value string) LiteralKind {
	if strings.HasPrefix(value, "T") {
		return LitTime
	}
	if strings.Contains(value, "T") {
		return LitDateTime
	}
	return LitDate
}
