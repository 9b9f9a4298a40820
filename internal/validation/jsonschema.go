package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/GGPrompts/flowcanvas/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// bundleSchemaJSON is the JSON Schema for GraphBundle validation.
// Embedded as a constant to avoid filesystem dependencies.
const bundleSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://flowcanvas.dev/schemas/bundle.json",
  "type": "object",
  "required": ["steps", "edges", "positions"],
  "properties": {
    "id": { "type": "string" },
    "name": { "type": "string" },
    "steps": {
      "type": "array",
      "items": { "$ref": "#/$defs/step" }
    },
    "edges": {
      "type": "array",
      "items": { "$ref": "#/$defs/edge" }
    },
    "notes": {
      "type": "array",
      "items": { "$ref": "#/$defs/note" }
    },
    "positions": { "$ref": "#/$defs/positions" }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["id", "label", "nodeType"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "label": {
          "type": "string",
          "minLength": 1
        },
        "description": { "type": "string" },
        "nodeType": {
          "type": "string",
          "enum": [
            "entry", "skill-invocation", "background-agent", "tool-call",
            "shell-command", "decision", "completion", "group-container"
          ]
        },
        "resourcePath": { "type": "string" },
        "promptPath": { "type": "string" },
        "condition": { "type": "string" },
        "metadata": {}
      },
      "additionalProperties": false
    },
    "edge": {
      "type": "object",
      "required": ["source", "target"],
      "properties": {
        "source": {
          "type": "string",
          "minLength": 1
        },
        "target": {
          "type": "string",
          "minLength": 1
        },
        "sourceHandle": { "type": "string" },
        "targetHandle": { "type": "string" },
        "label": { "type": "string" }
      },
      "additionalProperties": false
    },
    "note": {
      "type": "object",
      "required": ["id", "appearsWithStep", "content"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "appearsWithStep": {
          "type": "integer",
          "minimum": 0
        },
        "position": { "$ref": "#/$defs/point" },
        "content": { "type": "string" },
        "width": {
          "type": "number",
          "minimum": 0
        },
        "height": {
          "type": "number",
          "minimum": 0
        }
      },
      "additionalProperties": false
    },
    "point": {
      "type": "object",
      "required": ["x", "y"],
      "properties": {
        "x": { "type": "number" },
        "y": { "type": "number" }
      },
      "additionalProperties": false
    },
    "positions": {
      "type": "object",
      "additionalProperties": { "$ref": "#/$defs/point" }
    }
  }
}`

// fragmentSchemaJSON is the JSON Schema for Fragment validation. Fragments
// reuse the bundle's step/edge/note shapes but have no identity of their own.
const fragmentSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://flowcanvas.dev/schemas/fragment.json",
  "type": "object",
  "required": ["steps", "positions"],
  "properties": {
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "https://flowcanvas.dev/schemas/bundle.json#/$defs/step" }
    },
    "edges": {
      "type": "array",
      "items": { "$ref": "https://flowcanvas.dev/schemas/bundle.json#/$defs/edge" }
    },
    "notes": {
      "type": "array",
      "items": { "$ref": "https://flowcanvas.dev/schemas/bundle.json#/$defs/note" }
    },
    "positions": { "$ref": "https://flowcanvas.dev/schemas/bundle.json#/$defs/positions" }
  },
  "additionalProperties": false
}`

// JSONSchemaValidator implements the Validator interface using JSON Schema
// Draft 2020-12. It is safe for concurrent use.
type JSONSchemaValidator struct {
	bundleSchema   *jsonschema.Schema
	fragmentSchema *jsonschema.Schema

	conditions *ConditionChecker

	// mu guards the cache for dynamic metadata-schema compilation.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a new JSONSchemaValidator with the bundle and
// fragment schemas pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	for url, raw := range map[string]string{
		"https://flowcanvas.dev/schemas/bundle.json":   bundleSchemaJSON,
		"https://flowcanvas.dev/schemas/fragment.json": fragmentSchemaJSON,
	} {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema %s: %w", url, err)
		}
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", url, err)
		}
	}

	bundle, err := c.Compile("https://flowcanvas.dev/schemas/bundle.json")
	if err != nil {
		return nil, fmt.Errorf("compile bundle schema: %w", err)
	}
	fragment, err := c.Compile("https://flowcanvas.dev/schemas/fragment.json")
	if err != nil {
		return nil, fmt.Errorf("compile fragment schema: %w", err)
	}

	conditions, err := NewConditionChecker()
	if err != nil {
		return nil, fmt.Errorf("create condition checker: %w", err)
	}

	return &JSONSchemaValidator{
		bundleSchema:   bundle,
		fragmentSchema: fragment,
		conditions:     conditions,
		cache:          make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateBundle validates a GraphBundle against the bundle JSON Schema plus
// structural checks, and surfaces non-fatal issues (dangling edges, decision
// conditions that do not compile) as warnings in the returned error details.
func (v *JSONSchemaValidator) ValidateBundle(bundle *schema.GraphBundle) error {
	if bundle == nil {
		return schema.NewError(schema.ErrCodeValidation, "graph bundle is nil")
	}

	doc, err := toJSONValue(bundle)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize graph bundle").WithCause(err)
	}
	if err := v.bundleSchema.Validate(doc); err != nil {
		return toCanvasError(err)
	}

	result := checkBundleStructure(bundle)
	v.conditions.CheckBundle(bundle, result)
	return result.ToError()
}

// ValidateFragment validates a Fragment against the fragment JSON Schema plus
// structural checks scoped to the fragment itself.
func (v *JSONSchemaValidator) ValidateFragment(frag *schema.Fragment) error {
	if frag == nil {
		return schema.NewError(schema.ErrCodeValidation, "fragment is nil")
	}

	doc, err := toJSONValue(frag)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize fragment").WithCause(err)
	}
	if err := v.fragmentSchema.Validate(doc); err != nil {
		return toCanvasError(err)
	}

	return checkFragmentStructure(frag).ToError()
}

// ValidateMetadata validates a step's raw metadata against a caller-supplied
// JSON Schema. The schema is compiled and cached for subsequent calls.
func (v *JSONSchemaValidator) ValidateMetadata(metadata json.RawMessage, metaSchema []byte) error {
	if len(metaSchema) == 0 {
		return nil // no schema means no validation needed
	}
	if len(metadata) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "metadata is empty")
	}

	compiled, err := v.getOrCompile(metaSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid metadata schema").WithCause(err)
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(metadata)))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "metadata is not valid JSON").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toCanvasError(err)
	}
	return nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each dynamic schema gets a unique URL to avoid collisions in the compiler.
	url := fmt.Sprintf("flowcanvas://metadata-schema/%d", len(v.cache))

	// Use a fresh compiler per dynamic schema to avoid resource collision.
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

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toCanvasError converts a jsonschema.ValidationError into a CanvasError
// with clear, actionable messages for agent consumption.
func toCanvasError(err error) *schema.CanvasError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
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

var _ Validator = (*JSONSchemaValidator)(nil)
