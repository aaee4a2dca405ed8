package stepflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"
)

// timeoutExitCode is the synthesized exit code for attempts aborted by the
// per-step timeout, matching the conventional shell exit code.
const timeoutExitCode = 124

// StepExecutorOptions configures a StepExecutor.
type StepExecutorOptions struct {
	Logger  *slog.Logger
	Queries *JSONQueryEngine

	// Shell is the interpreter commands are handed to with -c.
	// Defaults to /bin/sh.
	Shell string
}

// StepExecutor runs a single step: pre-execution delay, template
// substitution, the attempt loop with retry delays and per-attempt timeout,
// success validation, and memory extraction. It mutates the shared memory
// only when an attempt succeeds including extraction.
type StepExecutor struct {
	logger  *slog.Logger
	queries *JSONQueryEngine
	shell   string
}

// NewStepExecutor creates a StepExecutor, filling in defaults for any unset
// options.
func NewStepExecutor(opts StepExecutorOptions) *StepExecutor {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Queries == nil {
		opts.Queries = NewJSONQueryEngine()
	}
	if opts.Shell == "" {
		opts.Shell = "/bin/sh"
	}
	return &StepExecutor{
		logger:  opts.Logger,
		queries: opts.Queries,
		shell:   opts.Shell,
	}
}

// ExecuteStep runs one command step against the current memory. The returned
// StepResult reflects the last attempt (or the first successful one). The
// error is nil on success; otherwise it is an UnresolvedVariableError for a
// missing template variable (never retried) or a StepExhaustedError once the
// retry budget is spent.
func (e *StepExecutor) ExecuteStep(ctx context.Context, step *Step, memory Memory) (*StepResult, error) {
	start := time.Now()
	result := &StepResult{StepName: step.Name, StartTime: start}

	if delay := step.DelayDuration(); delay > 0 {
		e.logger.Info("waiting before step execution", "step", step.Name, "delay", delay)
		if err := sleepContext(ctx, delay); err != nil {
			result.Error = err.Error()
			result.Duration = time.Since(start)
			return result, err
		}
	}

	command, err := ResolveTemplate(step.Command, memory)
	if err != nil {
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result, err
	}
	if command != step.Command {
		e.logger.Debug("command after substitution", "step", step.Name, "command", command)
	}

	maxAttempts := step.MaxRetries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			e.logger.Info("retrying step",
				"step", step.Name,
				"attempt", attempt,
				"max_attempts", maxAttempts,
				"retry_delay", step.RetryDelayDuration())
			if err := sleepContext(ctx, step.RetryDelayDuration()); err != nil {
				result.Error = err.Error()
				result.Duration = time.Since(start)
				return result, err
			}
		}

		stdout, stderr, exitCode := e.runCommand(ctx, command, step.TimeoutDuration())
		e.logger.Debug("attempt output",
			"step", step.Name, "attempt", attempt, "exit_code", exitCode,
			"stdout", stdout, "stderr", stderr)
		result.Attempts = attempt
		result.ExitCode = exitCode
		result.Stdout = stdout
		result.Stderr = stderr

		ok, verr := evaluateSuccess(e.logger, e.queries, stdout, exitCode, step.Success)
		if verr != nil {
			result.Error = verr.Error()
			e.logger.Warn("step validation failed",
				"step", step.Name, "attempt", attempt, "error", verr)
			continue
		}
		if !ok {
			result.Error = failureReason(step.Success, exitCode)
			e.logger.Warn("step attempt failed",
				"step", step.Name, "attempt", attempt, "exit_code", exitCode, "reason", result.Error)
			continue
		}

		updated, uerr := applyMemoryUpdates(e.queries, stdout, step.MemoryUpdate, memory)
		if uerr != nil {
			// A successful command with failed extraction is a failed
			// attempt: downstream steps depend on the extracted memory.
			result.Error = uerr.Error()
			e.logger.Warn("memory update failed",
				"step", step.Name, "attempt", attempt, "error", uerr)
			continue
		}
		if len(step.MemoryUpdate) > 0 {
			commitMemory(memory, updated)
			e.logger.Info("memory updated",
				"step", step.Name, "updates", len(step.MemoryUpdate))
		}

		result.Succeeded = true
		result.Error = ""
		result.Duration = time.Since(start)
		e.logger.Info("step completed",
			"step", step.Name, "attempts", attempt, "exit_code", exitCode)
		return result, nil
	}

	result.Duration = time.Since(start)
	return result, &StepExhaustedError{
		StepName: step.Name,
		Attempts: maxAttempts,
		ExitCode: result.ExitCode,
		Reason:   result.Error,
	}
}

// runCommand executes one attempt in a shell, bounded by timeout. A timeout
// aborts the subprocess and synthesizes exit code 124 with an indicator in
// stderr. A launch failure is reported through a non-zero exit code and the
// error text in stderr; both are ordinary failed attempts, never process
// fatal.
func (e *StepExecutor) runCommand(ctx context.Context, command string, timeout time.Duration) (string, string, int) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(attemptCtx, e.shell, "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		note := fmt.Sprintf("command timed out after %s", timeout)
		if stderr.Len() > 0 {
			note = "\n" + note
		}
		return stdout.String(), stderr.String() + note, timeoutExitCode
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.String(), stderr.String(), exitErr.ExitCode()
		}
		// The shell itself failed to start.
		note := err.Error()
		if stderr.Len() > 0 {
			note = "\n" + note
		}
		return stdout.String(), stderr.String() + note, -1
	}
	return stdout.String(), stderr.String(), 0
}

// failureReason renders a human-readable message naming which validation
// failed.
func failureReason(spec *SuccessSpec, exitCode int) string {
	switch {
	case spec == nil:
		return fmt.Sprintf("command exited with code %d", exitCode)
	case spec.Regex != "":
		return fmt.Sprintf("output did not match success regex (exit code %d)", exitCode)
	case spec.Value != nil:
		return fmt.Sprintf("JSON query %q did not equal expected value", spec.JSON)
	default:
		return fmt.Sprintf("JSON query %q not found in output", spec.JSON)
	}
}

// commitMemory replaces the contents of memory with the updated copy.
func commitMemory(memory, updated Memory) {
	clear(memory)
	for key, value := range updated {
		memory[key] = value
	}
}

// sleepContext waits for d or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
