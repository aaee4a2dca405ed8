package stepflow

import "time"

// StepResult records the authoritative outcome of one step: the last attempt,
// or the first successful one.
type StepResult struct {
	StepName  string        `json:"step_name"`
	Attempts  int           `json:"attempts"`
	ExitCode  int           `json:"exit_code"`
	Stdout    string        `json:"stdout,omitempty"`
	Stderr    string        `json:"stderr,omitempty"`
	Succeeded bool          `json:"succeeded"`
	Duration  time.Duration `json:"duration"`
	StartTime time.Time     `json:"start_time"`
	Error     string        `json:"error,omitempty"`
}

// WorkflowResult aggregates the outcome of one workflow run. Every executed
// step contributes a result in order; steps after an aborting failure are
// absent because they never ran.
type WorkflowResult struct {
	WorkflowName string         `json:"workflow_name"`
	RunID        string         `json:"run_id"`
	StepResults  []*StepResult  `json:"step_results"`
	FinalMemory  map[string]any `json:"final_memory"`
	Succeeded    bool           `json:"succeeded"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      time.Time      `json:"end_time"`
	Duration     time.Duration  `json:"duration"`
}

// Status renders the run outcome as a short string for reporting.
func (r *WorkflowResult) Status() string {
	if r.Succeeded {
		return "success"
	}
	return "failed"
}
