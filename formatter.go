package stepflow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fatih/color"
)

// RunFormatter renders run progress for human consumption. The Runner calls
// it in execution order; implementations decide how much to show.
type RunFormatter interface {
	PrintWorkflowStart(workflowName, runID string, stepCount int)
	PrintStepStart(index, total int, step *Step)
	PrintStepResult(result *StepResult)
	PrintRunResult(result *WorkflowResult)
}

// NullFormatter is a no-op implementation of RunFormatter.
type NullFormatter struct{}

func NewNullFormatter() *NullFormatter {
	return &NullFormatter{}
}

func (f *NullFormatter) PrintWorkflowStart(workflowName, runID string, stepCount int) {}
func (f *NullFormatter) PrintStepStart(index, total int, step *Step)                  {}
func (f *NullFormatter) PrintStepResult(result *StepResult)                           {}
func (f *NullFormatter) PrintRunResult(result *WorkflowResult)                        {}

// ColorFormatter prints colorized progress to stdout. With Verbose set it
// also echoes each step's captured stdout and stderr.
type ColorFormatter struct {
	Verbose bool
}

func NewColorFormatter(verbose bool) *ColorFormatter {
	return &ColorFormatter{Verbose: verbose}
}

func (f *ColorFormatter) PrintWorkflowStart(workflowName, runID string, stepCount int) {
	color.Blue("Starting workflow: %s", workflowName)
	color.White("Run ID: %s", runID)
	color.White("Steps to execute: %d", stepCount)
}

func (f *ColorFormatter) PrintStepStart(index, total int, step *Step) {
	color.Cyan("\n[%d/%d] Executing step: %s", index, total, step.Name)
	if step.IsNestedWorkflow() {
		color.White("Workflow: %s", step.Workflow)
	} else {
		color.White("Command: %s", step.Command)
	}
	if step.MaxRetries > 0 {
		color.White("Max retries: %d", step.MaxRetries)
	}
}

func (f *ColorFormatter) PrintStepResult(result *StepResult) {
	if result.Succeeded {
		color.Green("✓ Step %q completed (exit code %d, %d attempt%s, %s)",
			result.StepName, result.ExitCode, result.Attempts,
			plural(result.Attempts), result.Duration.Round(time.Millisecond))
	} else {
		color.Red("✗ Step %q failed: %s", result.StepName, result.Error)
	}
	if f.Verbose {
		if result.Stdout != "" {
			fmt.Println(result.Stdout)
		}
		if result.Stderr != "" {
			color.Yellow("%s", result.Stderr)
		}
	}
}

func (f *ColorFormatter) PrintRunResult(result *WorkflowResult) {
	if result.Succeeded {
		color.Green("\nWorkflow %q completed successfully in %s",
			result.WorkflowName, result.Duration.Round(time.Millisecond))
	} else {
		color.Red("\nWorkflow %q failed after %s",
			result.WorkflowName, result.Duration.Round(time.Millisecond))
	}
	if encoded, err := json.MarshalIndent(result.FinalMemory, "", "  "); err == nil {
		color.White("Final memory:")
		fmt.Println(string(encoded))
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
