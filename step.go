package stepflow

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultRetryDelay separates attempts when the step does not set one.
	DefaultRetryDelay = time.Second

	// DefaultTimeout bounds a single command attempt when the step does not
	// set one.
	DefaultTimeout = 5 * time.Minute
)

// SuccessSpec decides whether a step attempt succeeded. Exactly one of Regex
// and JSON must be set; this exclusivity is enforced when the workflow is
// loaded, not at use time. Value optionally requires the resolved JSON query
// to equal a specific value instead of merely existing.
type SuccessSpec struct {
	Regex string `json:"regex,omitempty" yaml:"regex,omitempty"`
	JSON  string `json:"json,omitempty" yaml:"json,omitempty"`
	Value any    `json:"value,omitempty" yaml:"value,omitempty"`
}

func (s *SuccessSpec) validate() error {
	if (s.Regex == "") == (s.JSON == "") {
		return fmt.Errorf("success spec requires exactly one of regex or json")
	}
	if s.Value != nil && s.JSON == "" {
		return fmt.Errorf("success value requires a json query")
	}
	return nil
}

// UpdateSpec extracts a value from captured output into memory. Exactly one
// of Regex and JSON must be set. Variable is the dotted memory path to write;
// a leading "memory." prefix is accepted and stripped.
type UpdateSpec struct {
	Regex    string `json:"regex,omitempty" yaml:"regex,omitempty"`
	JSON     string `json:"json,omitempty" yaml:"json,omitempty"`
	Variable string `json:"variable" yaml:"variable"`
}

func (u *UpdateSpec) validate() error {
	if (u.Regex == "") == (u.JSON == "") {
		return fmt.Errorf("memory update requires exactly one of regex or json")
	}
	if u.Variable == "" {
		return fmt.Errorf("memory update requires a variable path")
	}
	return nil
}

// memoryPath returns the variable path with any leading "memory." stripped.
func (u *UpdateSpec) memoryPath() string {
	return strings.TrimPrefix(u.Variable, "memory.")
}

// Step is one execution unit in a workflow: either a shell command or a
// nested workflow invocation, with its own delay, timeout, retry, success
// validation, and memory extraction configuration.
type Step struct {
	Name    string `json:"name" yaml:"name"`
	Command string `json:"command,omitempty" yaml:"command,omitempty"`

	// Workflow names a workflow document to run in place of a command. The
	// path is template-substituted against memory. MemoryInput supplies
	// explicit top-level overrides for the nested run.
	Workflow    string         `json:"workflow,omitempty" yaml:"workflow,omitempty"`
	MemoryInput map[string]any `json:"memory,omitempty" yaml:"memory,omitempty"`

	MaxRetries   int           `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	Delay        float64       `json:"delay,omitempty" yaml:"delay,omitempty"`
	RetryDelay   *float64      `json:"retryDelay,omitempty" yaml:"retryDelay,omitempty"`
	Timeout      *float64      `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Success      *SuccessSpec  `json:"success,omitempty" yaml:"success,omitempty"`
	MemoryUpdate []*UpdateSpec `json:"memory_update,omitempty" yaml:"memory_update,omitempty"`
}

func (s *Step) validate() error {
	if s.Name == "" {
		return fmt.Errorf("step name required")
	}
	if (s.Command == "") == (s.Workflow == "") {
		return fmt.Errorf("step %q requires exactly one of command or workflow", s.Name)
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("step %q: max_retries must be non-negative", s.Name)
	}
	if s.Delay < 0 {
		return fmt.Errorf("step %q: delay must be non-negative", s.Name)
	}
	if s.RetryDelay != nil && *s.RetryDelay < 0 {
		return fmt.Errorf("step %q: retryDelay must be non-negative", s.Name)
	}
	if s.Timeout != nil && *s.Timeout <= 0 {
		return fmt.Errorf("step %q: timeout must be positive", s.Name)
	}
	if s.Success != nil {
		if err := s.Success.validate(); err != nil {
			return fmt.Errorf("step %q: %w", s.Name, err)
		}
	}
	for i, update := range s.MemoryUpdate {
		if update == nil {
			return fmt.Errorf("step %q: memory_update %d is empty", s.Name, i)
		}
		if err := update.validate(); err != nil {
			return fmt.Errorf("step %q: %w", s.Name, err)
		}
	}
	return nil
}

// IsNestedWorkflow reports whether the step invokes another workflow
// document instead of a shell command.
func (s *Step) IsNestedWorkflow() bool {
	return s.Workflow != ""
}

// DelayDuration returns the pre-execution delay.
func (s *Step) DelayDuration() time.Duration {
	return secondsToDuration(s.Delay)
}

// RetryDelayDuration returns the delay between attempts.
func (s *Step) RetryDelayDuration() time.Duration {
	if s.RetryDelay == nil {
		return DefaultRetryDelay
	}
	return secondsToDuration(*s.RetryDelay)
}

// TimeoutDuration returns the per-attempt wall-clock timeout.
func (s *Step) TimeoutDuration() time.Duration {
	if s.Timeout == nil {
		return DefaultTimeout
	}
	return secondsToDuration(*s.Timeout)
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
