package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/caps/internal/errs"
)

// Process exit codes.
const (
	ExitFailure      = 1 // a check failed: invalid description, failing scenario, diverging replay
	ExitCommandError = 2 // the command could not run: missing path, unreadable journal
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError returns an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError returns an ExitError around err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns the exit code for err. Errors that are not an
// ExitError exit with ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// ErrorCode returns the problem error code (STILL_DIRTY, JOURNAL_CORRUPT,
// ...) carried by err, or fallback.
func ErrorCode(err error, fallback string) string {
	var e *errs.Error
	if errors.As(err, &e) {
		return string(e.Code)
	}
	return fallback
}

// ErrorDetail is the entity and diagnostic attached to a coded error.
type ErrorDetail struct {
	Entity string   `json:"entity,omitempty"`
	Lines  []string `json:"lines,omitempty"`
	Fatal  bool     `json:"fatal,omitempty"`
}

// detailOf returns the detail of a coded error, nil when there is none.
func detailOf(err error) *ErrorDetail {
	var e *errs.Error
	if !errors.As(err, &e) {
		return nil
	}
	if e.Entity == "" && len(e.Lines) == 0 && !e.Code.Fatal() {
		return nil
	}
	return &ErrorDetail{Entity: e.Entity, Lines: e.Lines, Fatal: e.Code.Fatal()}
}

// OutputFormatter writes command results as text or JSON.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // verbose output; keeps JSON on Writer parseable
	Verbose   bool
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error part of a CLIResponse.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success writes data: an "ok" envelope in JSON, its default format as text.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error writes an error envelope. In text mode an ErrorDetail is always
// printed; other details only with --verbose.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	switch d := details.(type) {
	case nil:
	case *ErrorDetail:
		if d.Fatal {
			fmt.Fprintln(f.Writer, "  session is unusable, resume from a checkpoint")
		}
		for _, line := range d.Lines {
			fmt.Fprintf(f.Writer, "  %s\n", line)
		}
	default:
		if f.Verbose {
			fmt.Fprintf(f.Writer, "Details: %v\n", details)
		}
	}
	return nil
}

// Fail reports err and returns an ExitError with the given exit code.
// The reported code is the problem error code of err when it has one.
func (f *OutputFormatter) Fail(exit int, fallback, message string, err error) error {
	var details any
	if d := detailOf(err); d != nil {
		details = d
	}
	_ = f.Error(ErrorCode(err, fallback), fmt.Sprintf("%s: %v", message, err), details)
	return WrapExitError(exit, message, err)
}

// VerboseLog writes a line to ErrWriter (or Writer) when verbose.
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
