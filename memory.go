package stepflow

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Memory is the workflow's mutable state tree. Values are JSON-compatible:
// nil, bool, numbers, strings, []any, and map[string]any. Memory is owned by
// a single Runner for the duration of one run; execution is strictly
// sequential so no locking is needed.
type Memory map[string]any

// NewMemory returns an empty memory tree.
func NewMemory() Memory {
	return Memory{}
}

// splitPath splits a dotted path into its segments.
func splitPath(path string) []string {
	return strings.Split(path, ".")
}

// lookupPath resolves a dotted path against a JSON-compatible document.
// Segments address map keys or sequence indices (e.g. "items.0.name").
// The boolean reports presence, so an explicit null value at the path is
// still found.
func lookupPath(doc any, path string) (any, bool) {
	current := doc
	for _, segment := range splitPath(path) {
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = value
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}
			current = node[index]
		default:
			return nil, false
		}
	}
	return current, true
}

// Lookup resolves a dotted path in memory. The boolean reports whether the
// path exists; explicit null values count as present.
func (m Memory) Lookup(path string) (any, bool) {
	return lookupPath(map[string]any(m), path)
}

// Set writes a value at a dotted path, creating intermediate maps as needed.
// Descending into an existing non-container value is an error rather than a
// silent overwrite, since downstream steps may depend on the existing value.
func (m Memory) Set(path string, value any) error {
	segments := splitPath(path)
	current := map[string]any(m)
	for _, segment := range segments[:len(segments)-1] {
		next, ok := current[segment]
		if !ok {
			child := map[string]any{}
			current[segment] = child
			current = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("memory path %q: segment %q holds a non-container value", path, segment)
		}
		current = child
	}
	current[segments[len(segments)-1]] = value
	return nil
}

// Clone returns a deep copy of the memory tree.
func (m Memory) Clone() Memory {
	return Memory(deepCopyMap(map[string]any(m)))
}

// Merge applies top-level keys from overrides onto the memory. The merge is
// shallow: an overriding key replaces the prior value entirely, nested maps
// are not merged recursively.
func (m Memory) Merge(overrides map[string]any) {
	for key, value := range overrides {
		m[key] = deepCopyValue(value)
	}
}

// Snapshot returns the memory as a plain map for reporting.
func (m Memory) Snapshot() map[string]any {
	return deepCopyMap(map[string]any(m))
}

func deepCopyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = deepCopyValue(value)
	}
	return out
}

func deepCopyValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return deepCopyMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

// formatValue renders a memory value for template substitution. Numbers are
// rendered without superfluous formatting, booleans as true/false, and
// containers as compact JSON.
func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	case map[string]any, []any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	default:
		return fmt.Sprintf("%v", v)
	}
}
