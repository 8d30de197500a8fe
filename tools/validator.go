package tools

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// SchemaValidator checks call arguments against tool parameter schemas.
// Compiled schemas are cached by their source text.
type SchemaValidator struct {
	mu    sync.Mutex
	cache map[string]*gojsonschema.Schema
}

// NewSchemaValidator creates a new schema validator.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{
		cache: make(map[string]*gojsonschema.Schema),
	}
}

// ValidateArgs validates args against decl's parameter schema. Tools without
// a schema accept anything.
func (sv *SchemaValidator) ValidateArgs(decl *Declaration, args json.RawMessage) error {
	if len(decl.Parameters) == 0 {
		return nil
	}
	schema, err := sv.getSchema(decl.Parameters)
	if err != nil {
		return fmt.Errorf("invalid parameter schema for tool %s: %w", decl.Name, err)
	}

	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage("{}")
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return &ValidationError{Tool: decl.Name, Detail: err.Error()}
	}
	if !result.Valid() {
		details := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			details[i] = desc.String()
		}
		return &ValidationError{Tool: decl.Name, Detail: strings.Join(details, "; ")}
	}
	return nil
}

// CheckSchema reports whether a parameter schema compiles.
func (sv *SchemaValidator) CheckSchema(parameters json.RawMessage) error {
	_, err := sv.getSchema(parameters)
	return err
}

func (sv *SchemaValidator) getSchema(raw json.RawMessage) (*gojsonschema.Schema, error) {
	key := string(raw)

	sv.mu.Lock()
	defer sv.mu.Unlock()

	if schema, ok := sv.cache[key]; ok {
		return schema, nil
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(normalizeSchema(doc)))
	if err != nil {
		return nil, err
	}
	sv.cache[key] = schema
	return schema, nil
}

// normalizeSchema lower-cases "type" values so function-declaration schemas
// ("OBJECT", "STRING") are valid JSON schema.
func normalizeSchema(node any) any {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			switch {
			case k == "type":
				out[k] = lowerType(child)
			case k == "properties":
				// property names are user data; only their schemas are normalized
				if props, ok := child.(map[string]any); ok {
					normalized := make(map[string]any, len(props))
					for name, prop := range props {
						normalized[name] = normalizeSchema(prop)
					}
					out[k] = normalized
					continue
				}
				out[k] = child
			default:
				out[k] = normalizeSchema(child)
			}
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = normalizeSchema(child)
		}
		return out
	default:
		return v
	}
}

func lowerType(v any) any {
	switch t := v.(type) {
	case string:
		return strings.ToLower(t)
	case []any:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = lowerType(s)
		}
		return out
	default:
		return v
	}
}
