package stepflow

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
)

// evaluateSuccess decides whether a step attempt counts as successful. With
// no spec, success means exit code zero. A regex spec matches anywhere in
// the captured stdout in multiline mode and governs regardless of the exit
// code. A json spec requires the stdout to parse as JSON and the query to
// resolve; the exit code does not participate. Pure evaluation over captured
// output, no side effects beyond logging.
func evaluateSuccess(logger *slog.Logger, queries *JSONQueryEngine, stdout string, exitCode int, spec *SuccessSpec) (bool, error) {
	if spec == nil {
		return exitCode == 0, nil
	}
	if spec.JSON != "" {
		return evaluateJSONSuccess(queries, stdout, spec)
	}
	pattern, err := regexp.Compile("(?m)" + spec.Regex)
	if err != nil {
		// An unusable pattern falls back to exit-code validation so a typo in
		// the workflow does not make a healthy step unfailable or unpassable.
		logger.Warn("invalid success regex, falling back to exit code",
			"pattern", spec.Regex, "error", err)
		return exitCode == 0, nil
	}
	return pattern.MatchString(stdout), nil
}

func evaluateJSONSuccess(queries *JSONQueryEngine, stdout string, spec *SuccessSpec) (bool, error) {
	var doc any
	if err := json.Unmarshal([]byte(strings.TrimSpace(stdout)), &doc); err != nil {
		return false, &OutputNotJSONError{Err: err}
	}
	value, present, err := queries.Resolve(spec.JSON, doc)
	if err != nil {
		return false, err
	}
	if !present {
		return false, nil
	}
	if spec.Value != nil {
		return jsonValueEqual(value, spec.Value), nil
	}
	return true, nil
}

// jsonValueEqual compares two JSON-compatible values, normalizing numeric
// types so a YAML integer equals the float64 produced by encoding/json.
func jsonValueEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for key, value := range av {
			other, exists := bv[key]
			if !exists || !jsonValueEqual(value, other) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !jsonValueEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	}
	if af, ok := asFloat(a); ok {
		bf, bok := asFloat(b)
		return bok && af == bf
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
