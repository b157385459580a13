package fhirpath

import (
	"fmt"
	"strings"
	"unicode"
)

// SyntaxError reports a lexical or grammatical problem in an expression.
// Pos is a byte offset into the expression text.
type SyntaxError struct {
	Message string
	Pos     int
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d: %s", e.Pos, e.Message)
}

// Tokenize splits a FHIRPath expression into tokens.
// The returned slice always ends with a TokenEOF entry.
func Tokenize(input string) ([]Token, error) {
	var tokens []Token
	i := 0
	n := len(input)

	for i < n {
		ch := input[i]

		if ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' {
			i++
			continue
		}

		start := i

		switch {
		case ch == '.':
			tokens = append(tokens, Token{TokenDot, ".", start})
			i++
		case ch == '(':
			tokens = append(tokens, Token{TokenLParen, "(", start})
			i++
		case ch == ')':
			tokens = append(tokens, Token{TokenRParen, ")", start})
			i++
		case ch == '{':
			tokens = append(tokens, Token{TokenLBrace, "{", start})
			i++
		case ch == '}':
			tokens = append(tokens, Token{TokenRBrace, "}", start})
			i++
		case ch == '[':
			tokens = append(tokens, Token{TokenLBrack, "[", start})
			i++
		case ch == ']':
			tokens = append(tokens, Token{TokenRBrack, "]", start})
			i++
		case ch == ',':
			tokens = append(tokens, Token{TokenComma, ",", start})
			i++
		case ch == '|':
			tokens = append(tokens, Token{TokenPipe, "|", start})
			i++
		case ch == '+':
			tokens = append(tokens, Token{TokenPlus, "+", start})
			i++
		case ch == '-':
			tokens = append(tokens, Token{TokenMinus, "-", start})
			i++
		case ch == '*':
			tokens = append(tokens, Token{TokenStar, "*", start})
			i++
		case ch == '/':
			tokens = append(tokens, Token{TokenSlash, "/", start})
			i++
		case ch == '&':
			tokens = append(tokens, Token{TokenAmp, "&", start})
			i++
		case ch == '~':
			tokens = append(tokens, Token{TokenEquiv, "~", start})
			i++
		case ch == '=':
			tokens = append(tokens, Token{TokenEq, "=", start})
			i++
		case ch == '!':
			if i+1 < n && input[i+1] == '=' {
				tokens = append(tokens, Token{TokenNe, "!=", start})
				i += 2
			} else {
				return nil, &SyntaxError{Message: "unexpected character '!'", Pos: start}
			}
		case ch == '<':
			if i+1 < n && input[i+1] == '=' {
				tokens = append(tokens, Token{TokenLe, "<=", start})
				i += 2
			} else {
				tokens = append(tokens, Token{TokenLt, "<", start})
				i++
			}
		case ch == '>':
			if i+1 < n && input[i+1] == '=' {
				tokens = append(tokens, Token{TokenGe, ">=", start})
				i += 2
			} else {
				tokens = append(tokens, Token{TokenGt, ">", start})
				i++
			}
		case ch == '$':
			// Environment variable: $this, $index, $total
			j := i + 1
			for j < n && (input[j] == '_' || unicode.IsLetter(rune(input[j])) || unicode.IsDigit(rune(input[j]))) {
				j++
			}
			if j == i+1 {
				return nil, &SyntaxError{Message: "bare '$' without variable name", Pos: start}
			}
			tokens = append(tokens, Token{TokenVariable, input[i:j], start})
			i = j
		case ch == '\'':
			value, next, err := lexString(input, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, Token{TokenString, value, start})
			i = next
		case ch == '`':
			// Backtick-quoted identifier: `div`, `where`, reserved words as fields.
			j := i + 1
			for j < n && input[j] != '`' {
				j++
			}
			if j >= n {
				return nil, &SyntaxError{Message: "unterminated quoted identifier", Pos: start}
			}
			tokens = append(tokens, Token{TokenIdent, input[i+1 : j], start})
			i = j + 1
		case ch == '@':
			// Date, datetime or time literal: @2024-01-01, @2024-01-01T10:00Z, @T14:30
			j := i + 1
			for j < n && isDateTimeChar(input[j]) {
				j++
			}
			if j == i+1 {
				return nil, &SyntaxError{Message: "empty date/time literal", Pos: start}
			}
			tokens = append(tokens, Token{TokenDateTime, input[i+1 : j], start})
			i = j
		case ch >= '0' && ch <= '9':
			j := i
			for j < n && input[j] >= '0' && input[j] <= '9' {
				j++
			}
			// A '.' is part of the number only when followed by a digit;
			// otherwise it is dot navigation (e.g. 5.toString()).
			if j+1 < n && input[j] == '.' && input[j+1] >= '0' && input[j+1] <= '9' {
				j += 2
				for j < n && input[j] >= '0' && input[j] <= '9' {
					j++
				}
			}
			tokens = append(tokens, Token{TokenNumber, input[i:j], start})
			i = j
		case ch == '_' || unicode.IsLetter(rune(ch)):
			j := i
			for j < n && (input[j] == '_' || unicode.IsLetter(rune(input[j])) || unicode.IsDigit(rune(input[j]))) {
				j++
			}
			tokens = append(tokens, Token{TokenIdent, input[i:j], start})
			i = j
		default:
			return nil, &SyntaxError{Message: fmt.Sprintf("unexpected character %q", string(ch)), Pos: start}
		}
	}

	tokens = append(tokens, Token{TokenEOF, "", n})
	return tokens, nil
}

// lexString consumes a single-quoted string literal starting at input[start].
// Returns the unescaped value and the offset just past the closing quote.
func lexString(input string, start int) (string, int, error) {
	var sb strings.Builder
	i := start + 1
	n := len(input)
	for i < n && input[i] != '\'' {
		if input[i] == '\\' && i+1 < n {
			i++
			switch input[i] {
			case '\\':
				sb.WriteByte('\\')
			case '\'':
				sb.WriteByte('\'')
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			default:
				sb.WriteByte(input[i])
			}
		} else {
			sb.WriteByte(input[i])
		}
		i++
	}
	if i >= n {
		return "", 0, &SyntaxError{Message: "unterminated string literal", Pos: start}
	}
	return sb.String(), i + 1, nil
}

func isDateTimeChar(ch byte) bool {
	return (ch >= '0' && ch <= '9') ||
		ch == '-' || ch == ':' || ch == 'T' || ch == 'Z' || ch == '+' || ch == '.'
}
