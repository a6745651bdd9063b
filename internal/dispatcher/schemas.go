package dispatcher

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// schemaFor compiles a JSON Schema document (as a Go value, the same shape
// encoding/json decodes a literal schema into) under a synthetic resource
// name, following goadesign-goa-ai's registry.validatePayloadAgainstSchema
// compile-then-validate idiom. Each tool's schema is compiled once at
// package init rather than per call.
func schemaFor(name string, doc map[string]any) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("dispatcher: add schema resource %s: %v", name, err))
	}
	schema, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("dispatcher: compile schema %s: %v", name, err))
	}
	return schema
}

var runTaskSchema = schemaFor("run_task.json", map[string]any{
	"type":     "object",
	"required": []any{"task"},
	"properties": map[string]any{
		"task":       map[string]any{"type": "string", "minLength": 1, "maxLength": maxTaskLength},
		"sessionId":  map[string]any{"type": "string"},
		"repository": map[string]any{"type": "string", "pattern": "^https://github.com/"},
		"branch":     map[string]any{"type": "string"},
		"model":      map[string]any{"type": "string"},
		"title":      map[string]any{"type": "string"},
	},
	"additionalProperties": false,
})

var getResultSchema = schemaFor("get_result.json", map[string]any{
	"type":     "object",
	"required": []any{"runId"},
	"properties": map[string]any{
		"runId": map[string]any{"type": "string", "minLength": 1},
	},
	"additionalProperties": false,
})

var listRunsSchema = schemaFor("list_runs.json", map[string]any{
	"type": "object",
	"properties": map[string]any{
		"sessionId": map[string]any{"type": "string"},
		"status":    map[string]any{"type": "string", "enum": []any{"started", "running", "completed", "failed"}},
		"limit":     map[string]any{"type": "integer", "minimum": 1, "maximum": 100},
		"before":    map[string]any{"type": []any{"integer", "string"}},
	},
	"additionalProperties": false,
})

// maxTaskLength bounds the `task` field (§4.4 "task (≤ max len)"); the spec
// names the constraint but not the number, so this control plane picks a
// generous bound well above any realistic task description.
const maxTaskLength = 16384

// validate decodes raw into a generic payload and checks it against schema,
// returning a structured VALIDATION error on any mismatch.
func validate(schema *jsonschema.Schema, raw json.RawMessage) (any, error) {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, newValidationError(fmt.Sprintf("invalid JSON input: %v", err))
	}
	if err := schema.Validate(payload); err != nil {
		return nil, newValidationError(err.Error())
	}
	return payload, nil
}
