package stepflow

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// workflowSchemaJSON is the JSON Schema every workflow document must satisfy
// before execution. Embedded as a constant to avoid filesystem dependencies.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://stepflow.dev/schemas/workflow.json",
  "type": "object",
  "required": ["name", "memory", "steps"],
  "properties": {
    "name": { "type": "string", "minLength": 1 },
    "memory": {
      "type": "object",
      "properties": {
        "variables": { "type": "object" },
        "initial": { "type": "object" },
        "schema": { "type": "object" }
      }
    },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    }
  },
  "$defs": {
    "step": {
      "type": "object",
      "required": ["name"],
      "oneOf": [
        { "required": ["command"] },
        { "required": ["workflow"] }
      ],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "command": { "type": "string", "minLength": 1 },
        "workflow": { "type": "string", "minLength": 1 },
        "memory": { "type": "object" },
        "max_retries": { "type": "integer", "minimum": 0 },
        "delay": { "type": "number", "minimum": 0 },
        "retryDelay": { "type": "number", "minimum": 0 },
        "timeout": { "type": "number", "exclusiveMinimum": 0 },
        "success": { "$ref": "#/$defs/success" },
        "memory_update": {
          "type": "array",
          "items": { "$ref": "#/$defs/update" }
        }
      }
    },
    "success": {
      "type": "object",
      "oneOf": [
        { "required": ["regex"] },
        { "required": ["json"] }
      ],
      "properties": {
        "regex": { "type": "string" },
        "json": { "type": "string" },
        "value": {}
      }
    },
    "update": {
      "type": "object",
      "required": ["variable"],
      "oneOf": [
        { "required": ["regex"] },
        { "required": ["json"] }
      ],
      "properties": {
        "regex": { "type": "string" },
        "json": { "type": "string" },
        "variable": {
          "type": "string",
          "pattern": "^(memory\\.)?[a-zA-Z_][a-zA-Z0-9_]*(\\.[a-zA-Z0-9_]+)*$"
        }
      }
    }
  }
}`

// SchemaValidator validates workflow documents against the embedded workflow
// schema and effective memory against user-supplied memory schemas. Safe for
// concurrent use.
type SchemaValidator struct {
	workflowSchema *jsonschema.Schema

	// mu guards the cache for user-supplied memory schemas.
	mu    sync.Mutex
	cache map[string]*jsonschema.Schema
}

// NewSchemaValidator creates a SchemaValidator with the workflow schema
// pre-compiled.
func NewSchemaValidator() (*SchemaValidator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat()
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := compiler.AddResource("https://stepflow.dev/schemas/workflow.json", doc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}
	compiled, err := compiler.Compile("https://stepflow.dev/schemas/workflow.json")
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}
	return &SchemaValidator{
		workflowSchema: compiled,
		cache:          make(map[string]*jsonschema.Schema),
	}, nil
}

// defaultSchemaValidator returns the process-wide validator, compiling the
// workflow schema once.
var defaultSchemaValidator = sync.OnceValues(NewSchemaValidator)

// ValidateDocument validates a parsed workflow document against the workflow
// schema.
func (v *SchemaValidator) ValidateDocument(doc any) error {
	normalized, err := toJSONValue(doc)
	if err != nil {
		return &SchemaValidationError{Subject: "workflow document", Err: err}
	}
	if err := v.workflowSchema.Validate(normalized); err != nil {
		return &SchemaValidationError{Subject: "workflow document", Err: summarizeValidation(err)}
	}
	return nil
}

// ValidateMemory validates effective memory against a user-supplied JSON
// Schema document, as found in a workflow's memory.schema field.
func (v *SchemaValidator) ValidateMemory(memory Memory, schema map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	compiled, err := v.getOrCompileMemorySchema(schema)
	if err != nil {
		return &SchemaValidationError{Subject: "memory", Err: err}
	}
	doc, err := toJSONValue(map[string]any(memory))
	if err != nil {
		return &SchemaValidationError{Subject: "memory", Err: err}
	}
	if err := compiled.Validate(doc); err != nil {
		return &SchemaValidationError{Subject: "memory", Err: summarizeValidation(err)}
	}
	return nil
}

// getOrCompileMemorySchema compiles a memory schema, caching by its JSON
// encoding so repeated runs of the same workflow reuse the compiled form.
func (v *SchemaValidator) getOrCompileMemorySchema(schema map[string]any) (*jsonschema.Schema, error) {
	encoded, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode memory schema: %w", err)
	}
	key := string(encoded)

	v.mu.Lock()
	defer v.mu.Unlock()
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal memory schema: %w", err)
	}
	// Each schema gets a unique URL to avoid collisions in the compiler.
	url := fmt.Sprintf("stepflow://memory-schema/%d", len(v.cache))
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat()
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add memory schema resource: %w", err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile memory schema: %w", err)
	}
	v.cache[key] = compiled
	return compiled, nil
}

// toJSONValue round-trips a Go value through JSON encoding so numbers become
// json.Number, as the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(encoded)))
}

// summarizeValidation flattens a jsonschema validation error tree into a
// single error listing each violation with its instance location.
func summarizeValidation(err error) error {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err
	}
	violations := collectViolations(verr)
	if len(violations) == 0 {
		return verr
	}
	return fmt.Errorf("%s", strings.Join(violations, "; "))
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
