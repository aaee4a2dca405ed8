package stepflow

import (
	"fmt"
	"strings"
	"sync"

	"github.com/itchyny/gojq"
)

// JSONQueryEngine resolves JSON queries against parsed command output. Two
// query forms are supported: dotted paths ("home.city", "items.0.name"),
// resolved natively with presence semantics where an explicit null counts as
// present, and jq expressions (any query starting with "."), compiled with
// gojq and cached for reuse. A jq expression counts as present only when it
// produces a non-null value, since jq cannot distinguish a missing path from
// an explicit null.
type JSONQueryEngine struct {
	mu    sync.Mutex
	cache map[string]*gojq.Code
}

// NewJSONQueryEngine creates a query engine with an empty compilation cache.
func NewJSONQueryEngine() *JSONQueryEngine {
	return &JSONQueryEngine{cache: make(map[string]*gojq.Code)}
}

// Resolve evaluates query against doc. The boolean reports presence.
func (e *JSONQueryEngine) Resolve(query string, doc any) (any, bool, error) {
	if query == "" {
		return nil, false, fmt.Errorf("empty JSON query")
	}
	if strings.HasPrefix(query, ".") {
		return e.resolveJQ(query, doc)
	}
	value, ok := lookupPath(doc, query)
	return value, ok, nil
}

// resolveJQ evaluates a jq expression and returns its first output.
func (e *JSONQueryEngine) resolveJQ(query string, doc any) (any, bool, error) {
	code, err := e.getOrCompile(query)
	if err != nil {
		return nil, false, err
	}
	iter := code.Run(doc)
	value, ok := iter.Next()
	if !ok {
		return nil, false, nil
	}
	if jqErr, isErr := value.(error); isErr {
		return nil, false, fmt.Errorf("jq evaluation of %q failed: %w", query, jqErr)
	}
	return value, value != nil, nil
}

// getOrCompile returns a cached compiled query or compiles and caches it.
func (e *JSONQueryEngine) getOrCompile(query string) (*gojq.Code, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if code, ok := e.cache[query]; ok {
		return code, nil
	}
	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("jq parse error in %q: %w", query, err)
	}
	code, err := gojq.Compile(parsed,
		// Block $ENV and env access from workflow-supplied queries.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, fmt.Errorf("jq compile error in %q: %w", query, err)
	}
	e.cache[query] = code
	return code, nil
}
