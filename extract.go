package stepflow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// applyMemoryUpdates runs each update spec in order against the captured
// stdout and returns an updated copy of memory; the caller's memory is not
// touched. Later updates see earlier updates' effects. The first failing
// spec aborts the remaining ones and returns a MemoryUpdateError, which
// degrades the whole attempt to a failure.
func applyMemoryUpdates(queries *JSONQueryEngine, stdout string, specs []*UpdateSpec, memory Memory) (Memory, error) {
	if len(specs) == 0 {
		return memory, nil
	}
	updated := memory.Clone()
	for _, spec := range specs {
		value, err := extractValue(queries, stdout, spec)
		if err != nil {
			return nil, &MemoryUpdateError{Variable: spec.Variable, Err: err}
		}
		if err := updated.Set(spec.memoryPath(), value); err != nil {
			return nil, &MemoryUpdateError{Variable: spec.Variable, Err: err}
		}
	}
	return updated, nil
}

func extractValue(queries *JSONQueryEngine, stdout string, spec *UpdateSpec) (any, error) {
	if spec.JSON != "" {
		// Output is re-parsed per spec, independent of the success check.
		var doc any
		if err := json.Unmarshal([]byte(strings.TrimSpace(stdout)), &doc); err != nil {
			return nil, &OutputNotJSONError{Err: err}
		}
		value, present, err := queries.Resolve(spec.JSON, doc)
		if err != nil {
			return nil, err
		}
		if !present {
			return nil, fmt.Errorf("JSON query %q not found in output", spec.JSON)
		}
		return value, nil
	}

	// Extraction patterns may span lines, so dot crosses newlines here,
	// unlike success validation.
	pattern, err := regexp.Compile("(?ms)" + spec.Regex)
	if err != nil {
		return nil, fmt.Errorf("invalid regex %q: %w", spec.Regex, err)
	}
	if pattern.NumSubexp() != 1 {
		return nil, fmt.Errorf("regex %q must have exactly one capture group, has %d", spec.Regex, pattern.NumSubexp())
	}
	match := pattern.FindStringSubmatch(stdout)
	if match == nil {
		return nil, fmt.Errorf("regex %q did not match output", spec.Regex)
	}
	// Captured text is stored as a string.
	return match[1], nil
}
