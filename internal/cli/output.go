package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fhirql/fhirql/internal/ast"
	"github.com/fhirql/fhirql/internal/translator"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // successful execution
	ExitFailure      = 1 // translation or query failure
	ExitCommandError = 2 // command error (bad flags, missing files, config)
)

// ExitError carries a specific exit code out of a RunE function. The
// message has already been written through the formatter when one of
// these is returned, so main only maps it to a process exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// GetExitCode extracts the exit code from an error. Errors that are not
// ExitError (cobra flag errors, PersistentPreRunE failures) map to
// ExitCommandError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // diagnostic output; defaults to Writer
	Verbose   bool
}

// Response is the standard JSON envelope for CLI output.
type Response struct {
	Status string         `json:"status"` // "ok" or "error"
	Data   any            `json:"data,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

// ResponseError describes a failure in a JSON response.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Success emits a successful payload in the configured format. Text-mode
// callers usually render their own output and only use this for JSON.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(Response{Status: "ok", Data: data})
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error emits a failure in the configured format.
func (f *OutputFormatter) Error(code, message string) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(Response{
			Status: "error",
			Error:  &ResponseError{Code: code, Message: message},
		})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	return nil
}

// VerboseLog writes a diagnostic line when verbose mode is on. It goes to
// ErrWriter so JSON output on Writer stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// fail emits err through the formatter and returns a silent ExitError so
// main exits with exitCode without printing the message twice.
func fail(f *OutputFormatter, exitCode int, code string, err error) error {
	f.Error(code, err.Error())
	return &ExitError{Code: exitCode, Message: err.Error(), Err: err}
}

// errorCode maps translation-stack errors to stable response codes.
func errorCode(err error) string {
	var terr *translator.Error
	if errors.As(err, &terr) {
		return string(terr.Code)
	}
	var perr *ast.ParseIntegrityError
	if errors.As(err, &perr) {
		return "PARSE_INTEGRITY"
	}
	return "PARSE"
}
