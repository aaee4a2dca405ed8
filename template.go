package stepflow

import (
	"regexp"
	"strings"
)

// memoryTokenPattern matches {{memory.<dotted.path>}} substitution tokens.
var memoryTokenPattern = regexp.MustCompile(`\{\{memory\.([^}]+)\}\}`)

// ResolveTemplate replaces every {{memory.<dotted.path>}} token in input with
// the string form of the value stored at that path. Substitution is a single
// pass over the input: substituted values are never rescanned for further
// tokens. If any referenced path is missing, an UnresolvedVariableError is
// returned and no partially-substituted string is produced.
func ResolveTemplate(input string, memory Memory) (string, error) {
	matches := memoryTokenPattern.FindAllStringSubmatchIndex(input, -1)
	if len(matches) == 0 {
		return input, nil
	}
	var out strings.Builder
	out.Grow(len(input))
	last := 0
	for _, match := range matches {
		path := input[match[2]:match[3]]
		value, ok := memory.Lookup(path)
		if !ok {
			return "", &UnresolvedVariableError{Path: path}
		}
		out.WriteString(input[last:match[0]])
		out.WriteString(formatValue(value))
		last = match[1]
	}
	out.WriteString(input[last:])
	return out.String(), nil
}

// resolveTemplateMap applies ResolveTemplate to every string value in the
// map. Non-string values pass through unchanged. Used for nested-workflow
// memory inputs.
func resolveTemplateMap(in map[string]any, memory Memory) (map[string]any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		if s, ok := value.(string); ok {
			resolved, err := ResolveTemplate(s, memory)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
			continue
		}
		out[key] = deepCopyValue(value)
	}
	return out, nil
}
