package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/sqlpersistence/internal/correlation"
	"github.com/roach88/sqlpersistence/internal/scriptwriter"
	"github.com/roach88/sqlpersistence/internal/sqlerr"
	"github.com/roach88/sqlpersistence/internal/typeinfo"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Some sagas or scripts failed (rejected types, unsupported dialect mappings)
	ExitCommandError = 2 // Command error (bad flags, unreadable module, unreachable database)
)

// Error codes for failures outside type loading (E0xx) and saga
// extraction (E2xx).
const (
	ErrCodeSettings = "E301" // Settings file or flags invalid
	ErrCodeScript   = "E302" // Script could not be rendered or written
	ErrCodeDatabase = "E303" // Database could not be opened or a script failed
	ErrCodeCleanup  = "E304" // Outbox cleanup failed
	ErrCodeGeneric  = "E300"
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
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

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Response is the JSON envelope of every command.
type Response struct {
	Status string        `json:"status"` // "ok" or "error"
	Data   any           `json:"data,omitempty"`
	Errors []ErrorDetail `json:"errors,omitempty"`
}

// ErrorDetail describes one failure.
type ErrorDetail struct {
	Code    string `json:"code"`
	Entity  string `json:"entity,omitempty"`
	Message string `json:"message"`
}

// textRenderer is implemented by results with a human-readable form.
type textRenderer interface {
	RenderText(w io.Writer)
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Diagnostics and logs; defaults to Writer
	Verbose   bool
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return f.encode(Response{Status: "ok", Data: data})
	}
	f.renderText(data)
	return nil
}

// Failure outputs a partial result together with the failures that
// accompanied it.
func (f *OutputFormatter) Failure(data any, details []ErrorDetail) error {
	if f.Format == "json" {
		return f.encode(Response{Status: "error", Data: data, Errors: details})
	}
	if data != nil {
		f.renderText(data)
	}
	for _, d := range details {
		if d.Entity != "" {
			fmt.Fprintf(f.Writer, "✗ [%s] %s: %s\n", d.Code, d.Entity, d.Message)
		} else {
			fmt.Fprintf(f.Writer, "✗ [%s] %s\n", d.Code, d.Message)
		}
	}
	return nil
}

// Error outputs a single command-level error.
func (f *OutputFormatter) Error(code, message string) error {
	if f.Format == "json" {
		return f.encode(Response{Status: "error", Errors: []ErrorDetail{{Code: code, Message: message}}})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	return nil
}

// Logger returns a logger writing to the diagnostic writer, as JSON when the
// output format is JSON. Debug records are kept only in verbose mode.
func (f *OutputFormatter) Logger() *slog.Logger {
	level := slog.LevelWarn
	if f.Verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if f.Format == "json" {
		return slog.New(slog.NewJSONHandler(f.GetErrWriter(), opts))
	}
	return slog.New(slog.NewTextHandler(f.GetErrWriter(), opts))
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

func (f *OutputFormatter) encode(resp Response) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func (f *OutputFormatter) renderText(data any) {
	if r, ok := data.(textRenderer); ok {
		r.RenderText(f.Writer)
		return
	}
	fmt.Fprintln(f.Writer, data)
}

// errorDetails flattens joined errors into one detail per failure.
func errorDetails(err error) []ErrorDetail {
	var details []ErrorDetail
	for _, e := range flatten(err) {
		details = append(details, detail(e))
	}
	return details
}

func flatten(err error) []error {
	if err == nil {
		return nil
	}
	switch err.(type) {
	case *sqlerr.OpError, *correlation.ValidationError, *scriptwriter.EntityError, *typeinfo.LoadError:
		return []error{err}
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []error
		for _, e := range joined.Unwrap() {
			out = append(out, flatten(e)...)
		}
		return out
	}
	return []error{err}
}

func detail(err error) ErrorDetail {
	var (
		ve *correlation.ValidationError
		ee *scriptwriter.EntityError
		le *typeinfo.LoadError
	)
	switch {
	case errors.As(err, &ve):
		return ErrorDetail{Code: string(ve.Reason), Entity: ve.TypeName, Message: ve.Message}
	case errors.As(err, &ee):
		return ErrorDetail{Code: ErrCodeScript, Entity: ee.Dialect.String() + " " + ee.Entity, Message: ee.Err.Error()}
	case errors.As(err, &le):
		return ErrorDetail{Code: le.Code, Message: le.Error()}
	}
	return ErrorDetail{Code: ErrCodeGeneric, Message: err.Error()}
}
