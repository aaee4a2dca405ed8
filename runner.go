package stepflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.jetify.com/typeid"
)

// maxNestingDepth bounds nested workflow recursion so a workflow that
// invokes itself fails cleanly instead of recursing forever.
const maxNestingDepth = 25

// NewRunID returns a new identifier for one workflow run.
func NewRunID() string {
	id, err := typeid.WithPrefix("run")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// RunnerOptions configures a workflow run.
type RunnerOptions struct {
	Workflow *Workflow

	// MemoryInput is a JSON object string of memory overrides: the highest
	// standard priority, above MemoryFile and the workflow's own defaults.
	MemoryInput string

	// MemoryFile is a path to a JSON file of memory overrides, applied above
	// the workflow defaults and below MemoryInput.
	MemoryFile string

	// MemoryOverrides are explicit top-level overrides applied above every
	// other source. Nested runs use this to pass the derived parent memory.
	MemoryOverrides map[string]any

	Logger       *slog.Logger
	Callbacks    RunCallbacks
	ResultLogger ResultLogger
	Formatter    RunFormatter
	Executor     *StepExecutor
	RunID        string

	depth int // nesting depth, set internally for nested runs
}

// Runner executes a workflow: it seeds and owns the memory store, validates
// it against the memory schema, iterates steps in document order, recurses
// into nested workflows, and aggregates step results into a WorkflowResult.
type Runner struct {
	workflow        *Workflow
	memoryInput     string
	memoryFile      string
	memoryOverrides map[string]any
	logger          *slog.Logger
	callbacks       RunCallbacks
	resultLogger    ResultLogger
	formatter       RunFormatter
	executor        *StepExecutor
	queries         *JSONQueryEngine
	runID           string
	depth           int
}

// NewRunner creates a Runner, filling in defaults for any unset options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Workflow == nil {
		return nil, fmt.Errorf("workflow is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Callbacks == nil {
		opts.Callbacks = &BaseRunCallbacks{}
	}
	if opts.ResultLogger == nil {
		opts.ResultLogger = NewNullResultLogger()
	}
	if opts.Formatter == nil {
		opts.Formatter = NewNullFormatter()
	}
	if opts.RunID == "" {
		opts.RunID = NewRunID()
	}
	queries := NewJSONQueryEngine()
	if opts.Executor == nil {
		opts.Executor = NewStepExecutor(StepExecutorOptions{
			Logger:  opts.Logger,
			Queries: queries,
		})
	}
	return &Runner{
		workflow:        opts.Workflow,
		memoryInput:     opts.MemoryInput,
		memoryFile:      opts.MemoryFile,
		memoryOverrides: opts.MemoryOverrides,
		logger:          opts.Logger.With("run_id", opts.RunID),
		callbacks:       opts.Callbacks,
		resultLogger:    opts.ResultLogger,
		formatter:       opts.Formatter,
		executor:        opts.Executor,
		queries:         queries,
		runID:           opts.RunID,
		depth:           opts.depth,
	}, nil
}

// RunID returns the run identifier.
func (r *Runner) RunID() string {
	return r.runID
}

// Run executes the workflow to completion or first unrecoverable failure.
// The returned WorkflowResult carries every executed step's result in order;
// it is non-nil whenever at least the memory seeding succeeded.
func (r *Runner) Run(ctx context.Context) (*WorkflowResult, error) {
	memory, err := r.seedMemory()
	if err != nil {
		return nil, err
	}
	if schema := r.workflow.Memory().Schema; len(schema) > 0 {
		validator, verr := defaultSchemaValidator()
		if verr != nil {
			return nil, verr
		}
		if err := validator.ValidateMemory(memory, schema); err != nil {
			r.logger.Error("memory schema validation failed", "error", err)
			return nil, err
		}
	}

	steps := r.workflow.Steps()
	result := &WorkflowResult{
		WorkflowName: r.workflow.Name(),
		RunID:        r.runID,
		StartTime:    time.Now(),
	}

	r.logger.Info("starting workflow",
		"workflow", r.workflow.Name(),
		"steps", len(steps),
		"memory_keys", len(memory))
	r.formatter.PrintWorkflowStart(r.workflow.Name(), r.runID, len(steps))
	r.callbacks.BeforeWorkflowRun(ctx, &WorkflowRunEvent{
		RunID:        r.runID,
		WorkflowName: r.workflow.Name(),
		StepCount:    len(steps),
		StartTime:    result.StartTime,
		Memory:       memory.Snapshot(),
	})

	var runErr error
	for i, step := range steps {
		r.formatter.PrintStepStart(i+1, len(steps), step)
		stepStart := time.Now()
		r.callbacks.BeforeStepExecution(ctx, &StepExecutionEvent{
			RunID:        r.runID,
			WorkflowName: r.workflow.Name(),
			StepName:     step.Name,
			StepIndex:    i + 1,
			StepCount:    len(steps),
			Command:      step.Command,
			StartTime:    stepStart,
		})

		var stepResult *StepResult
		var stepErr error
		if step.IsNestedWorkflow() {
			stepResult, stepErr = r.executeNestedStep(ctx, step, memory)
		} else {
			stepResult, stepErr = r.executor.ExecuteStep(ctx, step, memory)
		}
		result.StepResults = append(result.StepResults, stepResult)

		if logErr := r.resultLogger.LogStepResult(ctx, r.runID, stepResult); logErr != nil {
			r.logger.Error("failed to log step result", "step", step.Name, "error", logErr)
		}
		stepEnd := time.Now()
		r.callbacks.AfterStepExecution(ctx, &StepExecutionEvent{
			RunID:        r.runID,
			WorkflowName: r.workflow.Name(),
			StepName:     step.Name,
			StepIndex:    i + 1,
			StepCount:    len(steps),
			Command:      step.Command,
			StartTime:    stepStart,
			EndTime:      stepEnd,
			Duration:     stepEnd.Sub(stepStart),
			Result:       stepResult,
			Error:        stepErr,
		})
		r.formatter.PrintStepResult(stepResult)

		if stepErr != nil {
			r.logger.Error("workflow aborted",
				"step", step.Name,
				"attempts", stepResult.Attempts,
				"error", stepErr)
			runErr = stepErr
			break
		}
	}

	result.Succeeded = runErr == nil
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.FinalMemory = memory.Snapshot()

	if logErr := r.resultLogger.LogRunResult(ctx, result); logErr != nil {
		r.logger.Error("failed to log run result", "error", logErr)
	}
	r.callbacks.AfterWorkflowRun(ctx, &WorkflowRunEvent{
		RunID:        r.runID,
		WorkflowName: r.workflow.Name(),
		StepCount:    len(steps),
		StartTime:    result.StartTime,
		EndTime:      result.EndTime,
		Duration:     result.Duration,
		Memory:       result.FinalMemory,
		Succeeded:    result.Succeeded,
		Error:        runErr,
	})
	r.formatter.PrintRunResult(result)

	if runErr != nil {
		return result, runErr
	}
	r.logger.Info("workflow completed", "workflow", r.workflow.Name())
	return result, nil
}

// seedMemory builds the effective initial memory from the documented
// priority chain: initial defaults, then workflow variables, then file
// overrides, then string overrides, then explicit overrides. Each source
// merges shallowly at the top level; an overriding key replaces the prior
// value entirely.
func (r *Runner) seedMemory() (Memory, error) {
	memory := NewMemory()
	spec := r.workflow.Memory()
	memory.Merge(spec.Initial)
	memory.Merge(spec.Variables)

	if r.memoryFile != "" {
		data, err := os.ReadFile(r.memoryFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read memory file: %w", err)
		}
		var overrides map[string]any
		if err := json.Unmarshal(data, &overrides); err != nil {
			return nil, fmt.Errorf("invalid JSON in memory file: %w", err)
		}
		memory.Merge(overrides)
	}
	if r.memoryInput != "" {
		var overrides map[string]any
		if err := json.Unmarshal([]byte(r.memoryInput), &overrides); err != nil {
			return nil, fmt.Errorf("invalid JSON in memory input: %w", err)
		}
		memory.Merge(overrides)
	}
	memory.Merge(r.memoryOverrides)
	return memory, nil
}

// executeNestedStep runs a step whose command is another workflow document.
// The child run receives a derived copy of the parent memory (snapshot plus
// the step's explicit memory inputs) and its final memory is merged back
// into the parent on success, child keys overwriting parent keys. The child
// run's summary JSON serves as the step's captured output for success
// validation and memory extraction.
func (r *Runner) executeNestedStep(ctx context.Context, step *Step, memory Memory) (*StepResult, error) {
	start := time.Now()
	result := &StepResult{StepName: step.Name, StartTime: start}

	if r.depth+1 >= maxNestingDepth {
		err := fmt.Errorf("nested workflow depth limit (%d) exceeded at step %q", maxNestingDepth, step.Name)
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result, &StepExhaustedError{StepName: step.Name, Attempts: 1, ExitCode: 1, Reason: err.Error()}
	}

	if delay := step.DelayDuration(); delay > 0 {
		if err := sleepContext(ctx, delay); err != nil {
			result.Error = err.Error()
			result.Duration = time.Since(start)
			return result, err
		}
	}

	path, err := ResolveTemplate(step.Workflow, memory)
	if err != nil {
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result, err
	}
	inputs, err := resolveTemplateMap(step.MemoryInput, memory)
	if err != nil {
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result, err
	}
	path = r.resolveWorkflowPath(path)

	maxAttempts := step.MaxRetries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			r.logger.Info("retrying nested workflow",
				"step", step.Name, "attempt", attempt, "max_attempts", maxAttempts)
			if err := sleepContext(ctx, step.RetryDelayDuration()); err != nil {
				result.Error = err.Error()
				result.Duration = time.Since(start)
				return result, err
			}
		}
		result.Attempts = attempt

		childResult, runErr := r.runChildWorkflow(ctx, path, memory, inputs)
		summary := renderRunSummary(childResult, runErr)
		result.Stdout = summary
		result.ExitCode = 0
		if runErr != nil {
			result.ExitCode = 1
		}

		ok, verr := evaluateSuccess(r.logger, r.queries, summary, result.ExitCode, step.Success)
		if verr != nil {
			result.Error = verr.Error()
			continue
		}
		if !ok {
			result.Error = failureReason(step.Success, result.ExitCode)
			if runErr != nil {
				result.Error = runErr.Error()
			}
			r.logger.Warn("nested workflow attempt failed",
				"step", step.Name, "attempt", attempt, "reason", result.Error)
			continue
		}

		updated, uerr := applyMemoryUpdates(r.queries, summary, step.MemoryUpdate, memory)
		if uerr != nil {
			result.Error = uerr.Error()
			continue
		}
		commitMemory(memory, updated)
		if childResult != nil {
			// Child keys overwrite parent keys; untouched parent keys stay.
			memory.Merge(childResult.FinalMemory)
		}

		result.Succeeded = true
		result.Error = ""
		result.Duration = time.Since(start)
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

// runChildWorkflow loads and executes one nested workflow attempt.
func (r *Runner) runChildWorkflow(ctx context.Context, path string, memory Memory, inputs map[string]any) (*WorkflowResult, error) {
	child, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	derived := memory.Clone()
	derived.Merge(inputs)

	childRunner, err := NewRunner(RunnerOptions{
		Workflow:        child,
		MemoryOverrides: derived.Snapshot(),
		Logger:          r.logger.With("nested_workflow", child.Name()),
		ResultLogger:    r.resultLogger,
		depth:           r.depth + 1,
	})
	if err != nil {
		return nil, err
	}
	return childRunner.Run(ctx)
}

// resolveWorkflowPath resolves a nested workflow path relative to the parent
// workflow's file when the path is not absolute.
func (r *Runner) resolveWorkflowPath(path string) string {
	if filepath.IsAbs(path) || r.workflow.Path() == "" {
		return path
	}
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return filepath.Join(filepath.Dir(r.workflow.Path()), path)
}

// renderRunSummary renders a nested run's outcome as the JSON document used
// for success validation and memory extraction.
func renderRunSummary(result *WorkflowResult, runErr error) string {
	summary := map[string]any{
		"status": "failed",
	}
	if result != nil {
		completed := 0
		for _, stepResult := range result.StepResults {
			if stepResult.Succeeded {
				completed++
			}
		}
		summary["status"] = result.Status()
		summary["run_id"] = result.RunID
		summary["workflow_name"] = result.WorkflowName
		summary["completed_steps"] = completed
		summary["memory"] = result.FinalMemory
	}
	if runErr != nil {
		summary["error"] = runErr.Error()
	}
	encoded, err := json.Marshal(map[string]any{"workflow_result": summary})
	if err != nil {
		return fmt.Sprintf(`{"workflow_result":{"status":"failed","error":%q}}`, err.Error())
	}
	return string(encoded)
}
