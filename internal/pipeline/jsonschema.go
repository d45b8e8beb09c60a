package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

const definitionSchemaURL = "https://orchestrator.dev/schemas/pipeline.json"

// definitionSchemaJSON is the JSON Schema a pipeline document must satisfy.
const definitionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://orchestrator.dev/schemas/pipeline.json",
  "type": "object",
  "required": ["identifier", "stages"],
  "properties": {
    "identifier": { "$ref": "#/$defs/identifier" },
    "name": { "type": "string" },
    "description": { "type": "string" },
    "inputs": { "type": "object" },
    "input_schema": { "type": "object" },
    "timeout": { "$ref": "#/$defs/duration" },
    "stages": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/stage" }
    },
    "triggers": {
      "type": "array",
      "items": { "$ref": "#/$defs/trigger" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "identifier": {
      "type": "string",
      "pattern": "^[A-Za-z_][A-Za-z0-9_-]*$"
    },
    "duration": {
      "type": "string",
      "pattern": "^([0-9]+(ns|us|µs|ms|s|m|h))+$"
    },
    "on_failure": {
      "type": "string",
      "enum": ["fail", "ignore", "abort"]
    },
    "stage": {
      "type": "object",
      "required": ["identifier", "steps"],
      "properties": {
        "identifier": { "$ref": "#/$defs/identifier" },
        "name": { "type": "string" },
        "type": { "type": "string", "minLength": 1 },
        "when": { "type": "string", "minLength": 1 },
        "timeout": { "$ref": "#/$defs/duration" },
        "on_failure": { "$ref": "#/$defs/on_failure" },
        "steps": {
          "type": "array",
          "minItems": 1,
          "items": { "$ref": "#/$defs/step" }
        }
      },
      "additionalProperties": false
    },
    "step": {
      "type": "object",
      "required": ["identifier", "type"],
      "properties": {
        "identifier": { "$ref": "#/$defs/identifier" },
        "name": { "type": "string" },
        "type": { "type": "string", "minLength": 1 },
        "mode": { "type": "string", "enum": ["SYNC", "ASYNC", "TASK"] },
        "when": { "type": "string", "minLength": 1 },
        "params": { "type": "object" },
        "timeout": { "$ref": "#/$defs/duration" },
        "retry": { "$ref": "#/$defs/retry" },
        "on_failure": { "$ref": "#/$defs/on_failure" },
        "capabilities": {
          "type": "array",
          "items": { "$ref": "#/$defs/capability" }
        }
      },
      "additionalProperties": false
    },
    "retry": {
      "type": "object",
      "required": ["max_attempts"],
      "properties": {
        "max_attempts": { "type": "integer", "minimum": 1 },
        "backoff": { "type": "string", "enum": ["none", "constant", "linear", "exponential"] },
        "delay": { "$ref": "#/$defs/duration" },
        "max_delay": { "$ref": "#/$defs/duration" }
      },
      "additionalProperties": false
    },
    "capability": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": { "type": "string", "enum": ["HTTP", "BINARY", "SOCKET", "ENV"] },
        "params": {
          "type": "object",
          "additionalProperties": { "type": "string" }
        }
      },
      "additionalProperties": false
    },
    "trigger": {
      "type": "object",
      "required": ["identifier", "cron"],
      "properties": {
        "identifier": { "$ref": "#/$defs/identifier" },
        "cron": { "type": "string", "minLength": 1 },
        "inputs": { "type": "object" }
      },
      "additionalProperties": false
    }
  }
}`

var (
	definitionSchemaOnce sync.Once
	definitionSchema     *jsonschema.Schema
	definitionSchemaErr  error
)

func compiledDefinitionSchema() (*jsonschema.Schema, error) {
	definitionSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.AssertFormat()
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(definitionSchemaJSON))
		if err != nil {
			definitionSchemaErr = fmt.Errorf("unmarshal pipeline schema: %w", err)
			return
		}
		if err := c.AddResource(definitionSchemaURL, doc); err != nil {
			definitionSchemaErr = fmt.Errorf("add pipeline schema resource: %w", err)
			return
		}
		definitionSchema, definitionSchemaErr = c.Compile(definitionSchemaURL)
	})
	return definitionSchema, definitionSchemaErr
}

// validateDocument checks a decoded YAML document against the pipeline schema.
func validateDocument(doc any) error {
	sch, err := compiledDefinitionSchema()
	if err != nil {
		return schema.NewError(schema.ErrCodeConfiguration, "pipeline schema unavailable").WithCause(err)
	}
	v, err := toJSONValue(doc)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "pipeline is not representable as JSON").WithCause(err)
	}
	if err := sch.Validate(v); err != nil {
		return toSchemaError(err)
	}
	return nil
}

// InputValidator validates execution inputs against a definition's
// input_schema. Compiled schemas are cached; it is safe for concurrent use.
type InputValidator struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewInputValidator creates an InputValidator.
func NewInputValidator() *InputValidator {
	return &InputValidator{cache: make(map[string]*jsonschema.Schema)}
}

// Validate checks inputs against inputSchema. An empty schema accepts anything.
func (v *InputValidator) Validate(inputs map[string]any, inputSchema map[string]any) error {
	if len(inputSchema) == 0 {
		return nil
	}
	if inputs == nil {
		inputs = map[string]any{}
	}
	compiled, err := v.getOrCompile(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid input schema").WithCause(err)
	}
	doc, err := toJSONValue(inputs)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize inputs").WithCause(err)
	}
	if err := compiled.Validate(doc); err != nil {
		return toSchemaError(err)
	}
	return nil
}

func (v *InputValidator) getOrCompile(inputSchema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(inputSchema)
	if err != nil {
		return nil, err
	}
	key := string(raw)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	url := fmt.Sprintf("orchestrator://input-schema/%d", len(v.cache))
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	v.cache[key] = compiled
	return compiled, nil
}

// toJSONValue round-trips v through JSON so numbers become json.Number, as
// the jsonschema library expects.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

func toSchemaError(err error) *schema.Error {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}
	violations := collectViolations(verr)
	switch len(violations) {
	case 0:
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	case 1:
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
			WithDetails(map[string]any{"violations": violations})
	}
}

// collectViolations flattens a ValidationError tree into leaf messages
// prefixed with their instance location.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var out []string
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}
