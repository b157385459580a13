package fhirpath

import "fmt"

// TokenKind identifies the lexical class of a token.
type TokenKind int

const (
	TokenIdent    TokenKind = iota // identifier or keyword
	TokenVariable                  // $this, $index, $total
	TokenNumber                    // integer or decimal
	TokenString                    // 'single-quoted'
	TokenDateTime                  // @2024-01-01, @2024-01-01T10:00:00Z, @T14:30
	TokenDot                       // .
	TokenLParen                    // (
	TokenRParen                    // )
	TokenLBrace                    // {
	TokenRBrace                    // }
	TokenLBrack                    // [
	TokenRBrack                    // ]
	TokenComma                     // ,
	TokenEq                        // =
	TokenNe                        // !=
	TokenEquiv                     // ~
	TokenLt                        // <
	TokenGt                        // >
	TokenLe                        // <=
	TokenGe                        // >=
	TokenPipe                      // |
	TokenPlus                      // +
	TokenMinus                     // -
	TokenStar                      // *
	TokenSlash                     // /
	TokenAmp                       // & (string concatenation)
	TokenEOF                       // end of input
)

// Token is a single lexical unit with its source position.
// Pos is a byte offset into the original expression, used for
// error reporting.
type Token struct {
	Kind  TokenKind
	Value string
	Pos   int
}

func (t Token) String() string {
	if t.Kind == TokenEOF {
		return "<eof>"
	}
	return fmt.Sprintf("%q", t.Value)
}

// Keywords that act as infix operators when they appear between operands.
// "is" and "as" are type operators; the rest are boolean/arithmetic.
var operatorKeywords = map[string]bool{
	"and":     true,
	"or":      true,
	"xor":     true,
	"implies": true,
	"div":     true,
	"mod":     true,
	"is":      true,
	"as":      true,
}
