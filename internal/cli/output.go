package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // a reconciler pass left work behind
	ExitCommandError = 2 // bad flags, unreadable config, unreachable store
	ExitStorageFull  = 3 // the local queue could not accept the entry
)

// ExitError carries the process exit code for a failed command.
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

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from err, ExitFailure by default.
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

// response is the JSON envelope printed with --format json.
type response struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// printer writes command results as text or JSON.
type printer struct {
	format string
	w      io.Writer
}

// Result prints data; text is used for the text format.
func (p printer) Result(data any, text string) error {
	if p.format == "json" {
		return json.NewEncoder(p.w).Encode(response{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(p.w, text)
	return err
}

// Failure prints err in the JSON envelope. Text output leaves errors to
// cobra.
func (p printer) Failure(data any, err error) {
	if p.format == "json" {
		_ = json.NewEncoder(p.w).Encode(response{Status: "error", Data: data, Error: err.Error()})
	}
}
