package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Process exit codes.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Assertion or verification failure
	ExitCommandError = 2 // Command error (unreadable scenario, journal not found, etc.)
)

// Error codes reported in JSON output.
const (
	ErrCodeGeneric         = "E001" // Generic/unknown error
	ErrCodeNotFound        = "E002" // Scenario file or journal not found
	ErrCodeInvalidScenario = "E003" // Scenario failed to parse, validate or execute
	ErrCodeJournal         = "E004" // Journal open/read/write failed
	ErrCodeAssertion       = "E005" // Scenario assertions failed
	ErrCodeStress          = "E006" // Stress run verification failed
)

// ExitError carries the process exit code out of a command.
type ExitError struct {
	Code    int    // ExitFailure or ExitCommandError
	ErrCode string // E0xx code, when the failure has one
	Message string
	Err     error

	// Reported is set once the failure was written to the command's output,
	// so main does not print it a second time.
	Reported bool
}

func (e *ExitError) Error() string {
	var prefix string
	if e.ErrCode != "" {
		prefix = "[" + e.ErrCode + "] "
	}
	if e.Err != nil {
		return fmt.Sprintf("%s%s: %v", prefix, e.Message, e.Err)
	}
	return prefix + e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError without an underlying cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError creates an ExitError around err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps err to a process exit code. Errors that are not an
// ExitError (cobra usage errors, for one) exit with ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// IsReported reports whether err was already written by an OutputFormatter.
func IsReported(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr) && exitErr.Reported
}

// CLIResponse is the envelope of every JSON document a command prints.
type CLIResponse struct {
	Status string    `json:"status"`           // "ok" or "error"
	Data   any       `json:"data,omitempty"`   // command payload
	Error  *CLIError `json:"error,omitempty"`  // set when Status is "error"
	RunID  string    `json:"run_id,omitempty"` // journal run, when one was written
}

// CLIError is the error member of a CLIResponse.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// OutputFormatter writes command results as text or as one JSON document.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // verbose diagnostics; falls back to Writer
	Verbose   bool
}

// Emit writes resp as JSON, or calls text for human-readable output.
func (f *OutputFormatter) Emit(resp CLIResponse, text func(w io.Writer)) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(resp)
	}
	text(f.Writer)
	return nil
}

// Fail writes a command failure and returns the matching ExitError.
// In text mode the cause is only shown with --verbose.
func (f *OutputFormatter) Fail(exit int, code, message string, cause error) *ExitError {
	var details any
	if cause != nil {
		details = cause.Error()
	}

	err := f.Emit(CLIResponse{
		Status: "error",
		Error:  &CLIError{Code: code, Message: message, Details: details},
	}, func(w io.Writer) {
		fmt.Fprintf(w, "Error [%s]: %s\n", code, message)
		if f.Verbose && details != nil {
			fmt.Fprintf(w, "Details: %v\n", details)
		}
	})

	return &ExitError{
		Code:     exit,
		ErrCode:  code,
		Message:  message,
		Err:      cause,
		Reported: err == nil,
	}
}

// VerboseLog writes a diagnostic line when verbose output is enabled.
// It goes to ErrWriter so JSON on Writer stays parseable.
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
