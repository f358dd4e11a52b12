package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Violations, failed scenarios, diverging replays
	ExitCommandError = 2 // Bad arguments, unreadable files, database errors
)

// ExitError carries the process exit code for an error.
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

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. A nil error is
// success; an error without a code is a failure.
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

// CLIResponse is the JSON envelope for every command.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError describes why a command failed.
type CLIError struct {
	Code    string `json:"code"` // E_RUN_FAILED, E_CHECK_FAILED, ...
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// OutputFormatter writes command results as JSON or text.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// Emit writes data. In JSON mode it is wrapped in a CLIResponse; in text
// mode text renders it. A non-nil fail marks the response as an error and
// comes back as an ExitFailure error.
func (f *OutputFormatter) Emit(data any, fail *CLIError, text func(w io.Writer) error) error {
	if f.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: data}
		if fail != nil {
			resp.Status = "error"
			resp.Error = fail
		}
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return err
		}
	} else if err := text(f.Writer); err != nil {
		return err
	}

	if fail != nil {
		return NewExitError(ExitFailure, fail.Message)
	}
	return nil
}
