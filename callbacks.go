package stepflow

import (
	"context"
	"time"
)

// RunCallbacks defines the callback interface for workflow run events. The
// Runner invokes callbacks synchronously, in execution order.
type RunCallbacks interface {
	BeforeWorkflowRun(ctx context.Context, event *WorkflowRunEvent)
	AfterWorkflowRun(ctx context.Context, event *WorkflowRunEvent)

	BeforeStepExecution(ctx context.Context, event *StepExecutionEvent)
	AfterStepExecution(ctx context.Context, event *StepExecutionEvent)
}

// WorkflowRunEvent provides context for run-level events.
type WorkflowRunEvent struct {
	RunID        string
	WorkflowName string
	StepCount    int
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
	Memory       map[string]any
	Succeeded    bool
	Error        error
}

// StepExecutionEvent provides context for step-level events.
type StepExecutionEvent struct {
	RunID        string
	WorkflowName string
	StepName     string
	StepIndex    int // 1-based
	StepCount    int
	Command      string
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
	Result       *StepResult
	Error        error
}

// BaseRunCallbacks provides a default implementation that does nothing.
// Embed it to implement only the callbacks of interest.
type BaseRunCallbacks struct{}

func (b *BaseRunCallbacks) BeforeWorkflowRun(ctx context.Context, event *WorkflowRunEvent) {
	// noop
}

func (b *BaseRunCallbacks) AfterWorkflowRun(ctx context.Context, event *WorkflowRunEvent) {
	// noop
}

func (b *BaseRunCallbacks) BeforeStepExecution(ctx context.Context, event *StepExecutionEvent) {
	// noop
}

func (b *BaseRunCallbacks) AfterStepExecution(ctx context.Context, event *StepExecutionEvent) {
	// noop
}
