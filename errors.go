package stepflow

import (
	"fmt"
)

// UnresolvedVariableError indicates a {{memory.path}} token referenced a
// path that does not exist in memory. A missing variable will not become
// present on retry, so this error is fatal for the step and is never
// retried.
type UnresolvedVariableError struct {
	Path string
}

func (e *UnresolvedVariableError) Error() string {
	return fmt.Sprintf("memory variable %q not found", e.Path)
}

// SchemaValidationError indicates a malformed workflow document or a memory
// state that violates the workflow's memory schema. It aborts a run before
// any step executes.
type SchemaValidationError struct {
	Subject string // "workflow document" or "memory"
	Err     error
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("%s validation failed: %v", e.Subject, e.Err)
}

func (e *SchemaValidationError) Unwrap() error {
	return e.Err
}

// OutputNotJSONError indicates captured output could not be parsed as JSON
// for a JSON-path success check. It counts as a failed attempt and is
// eligible for retry.
type OutputNotJSONError struct {
	Err error
}

func (e *OutputNotJSONError) Error() string {
	return fmt.Sprintf("output is not valid JSON: %v", e.Err)
}

func (e *OutputNotJSONError) Unwrap() error {
	return e.Err
}

// MemoryUpdateError indicates a memory_update spec could not extract or
// store a value. It degrades an otherwise-successful attempt to a failed
// one, since downstream steps likely depend on the extracted memory.
type MemoryUpdateError struct {
	Variable string
	Err      error
}

func (e *MemoryUpdateError) Error() string {
	if e.Variable == "" {
		return fmt.Sprintf("memory update failed: %v", e.Err)
	}
	return fmt.Sprintf("memory update for %q failed: %v", e.Variable, e.Err)
}

func (e *MemoryUpdateError) Unwrap() error {
	return e.Err
}

// StepExhaustedError indicates a step consumed its full retry budget without
// a successful attempt. It is fatal to the workflow: remaining steps are not
// executed.
type StepExhaustedError struct {
	StepName string
	Attempts int
	ExitCode int
	Reason   string
}

func (e *StepExhaustedError) Error() string {
	msg := fmt.Sprintf("step %q failed after %d attempt", e.StepName, e.Attempts)
	if e.Attempts != 1 {
		msg += "s"
	}
	msg += fmt.Sprintf(" (exit code %d)", e.ExitCode)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}
