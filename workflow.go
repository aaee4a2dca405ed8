package stepflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// MemorySpec configures the workflow's initial memory. Initial supplies the
// lowest-priority defaults, Variables overrides them, and Schema (a JSON
// Schema document) is applied to the effective memory after CLI overrides
// are merged in, before any step executes.
type MemorySpec struct {
	Variables map[string]any `json:"variables,omitempty" yaml:"variables,omitempty"`
	Initial   map[string]any `json:"initial,omitempty" yaml:"initial,omitempty"`
	Schema    map[string]any `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// Options are used to configure a workflow.
type Options struct {
	Name   string     `json:"name" yaml:"name"`
	Memory MemorySpec `json:"memory" yaml:"memory"`
	Steps  []*Step    `json:"steps" yaml:"steps"`
	Path   string     `json:"path,omitempty" yaml:"path,omitempty"`
}

// Workflow defines a repeatable process as an ordered list of steps with a
// shared memory store. Immutable once loaded; step order is fixed by
// document order and never reordered.
type Workflow struct {
	name   string
	memory MemorySpec
	steps  []*Step
	path   string
}

// New returns a new Workflow configured with the given options.
func New(opts Options) (*Workflow, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("workflow name required")
	}
	if len(opts.Steps) == 0 {
		return nil, fmt.Errorf("steps required")
	}
	seen := make(map[string]struct{}, len(opts.Steps))
	for _, step := range opts.Steps {
		if step == nil {
			return nil, fmt.Errorf("step must not be empty")
		}
		if err := step.validate(); err != nil {
			return nil, fmt.Errorf("workflow validation failed: %w", err)
		}
		if _, exists := seen[step.Name]; exists {
			return nil, fmt.Errorf("workflow validation failed: duplicate step name %q", step.Name)
		}
		seen[step.Name] = struct{}{}
	}
	return &Workflow{
		name:   opts.Name,
		memory: opts.Memory,
		steps:  opts.Steps,
		path:   opts.Path,
	}, nil
}

// Name returns the workflow name.
func (w *Workflow) Name() string {
	return w.name
}

// Memory returns the workflow memory configuration.
func (w *Workflow) Memory() MemorySpec {
	return w.memory
}

// Steps returns the workflow steps in document order.
func (w *Workflow) Steps() []*Step {
	return w.steps
}

// Path returns the file the workflow was loaded from, if any.
func (w *Workflow) Path() string {
	return w.path
}

// LoadFile loads a workflow from a JSON or YAML file. The document is
// validated against the workflow schema before the workflow is built, so
// malformed documents are rejected before any step executes.
func LoadFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	wf, err := load(data, strings.EqualFold(filepath.Ext(path), ".json"))
	if err != nil {
		return nil, err
	}
	wf.path = path
	return wf, nil
}

// LoadString loads a workflow from a JSON or YAML document string.
func LoadString(data string) (*Workflow, error) {
	trimmed := strings.TrimSpace(data)
	return load([]byte(data), strings.HasPrefix(trimmed, "{"))
}

func load(data []byte, isJSON bool) (*Workflow, error) {
	var doc any
	var opts Options
	if isJSON {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("invalid JSON in workflow document: %w", err)
		}
		if err := json.Unmarshal(data, &opts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow document: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("invalid YAML in workflow document: %w", err)
		}
		if err := yaml.Unmarshal(data, &opts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow document: %w", err)
		}
	}
	validator, err := defaultSchemaValidator()
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateDocument(doc); err != nil {
		return nil, err
	}
	return New(opts)
}
