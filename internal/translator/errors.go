package translator

import (
	"errors"
	"fmt"
)

// Code categorizes translation-time failures.
type Code string

const (
	// ErrUnknownFunction is raised for a function name the translator
	// does not implement.
	ErrUnknownFunction Code = "UNKNOWN_FUNCTION"

	// ErrArity is raised when a function receives the wrong number of
	// arguments.
	ErrArity Code = "ARITY"

	// ErrTypeMismatch is raised when operand types cannot be combined
	// (div on decimals, non-boolean iif criterion, …).
	ErrTypeMismatch Code = "TYPE_MISMATCH"

	// ErrUnresolvableType is raised when a type name or variable cannot
	// be resolved against the registry or binding stack.
	ErrUnresolvableType Code = "UNRESOLVABLE_TYPE"
)

// Error is a translation-time failure with the offending expression text
// attached. No partial SQL is ever returned alongside an Error.
type Error struct {
	Code    Code
	Message string
	Expr    string
}

func (e *Error) Error() string {
	if e.Expr != "" {
		return fmt.Sprintf("%s: %s (in %q)", e.Code, e.Message, e.Expr)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func errf(code Code, expr, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Expr: expr}
}

// IsTranslationError reports whether err is (or wraps) a translator Error.
func IsTranslationError(err error) bool {
	var te *Error
	return errors.As(err, &te)
}
