package pluginrt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaValidator compiles and caches the JSON Schema documents declared
// by plugin manifests (args_schema / output_schema / config_schema),
// enforcing the "unknown options are rejected at load time" contract of
// §4.2 and §9.
type SchemaValidator struct {
	compiled map[string]*jsonschema.Schema
}

// NewSchemaValidator creates an empty validator.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{compiled: make(map[string]*jsonschema.Schema)}
}

// Compile registers schema under key (typically "<plugin_id>.<kind>")
// for later validation.
func (v *SchemaValidator) Compile(key string, schema json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://pipeline.local/schema/%s.json", key)
	if err := c.AddResource(url, strings.NewReader(string(schema))); err != nil {
		return fmt.Errorf("pluginrt: add schema resource %s: %w", key, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return fmt.Errorf("pluginrt: compile schema %s: %w", key, err)
	}
	v.compiled[key] = compiled
	return nil
}

// Validate checks doc (already decoded to a generic interface{}) against
// the compiled schema for key. If no schema was registered for key,
// validation is skipped — the caller still must not silently accept
// partially-valid output per §4.2 ("any diagnostic yielding non-schema
// output causes the output to be discarded, not partially consumed").
func (v *SchemaValidator) Validate(key string, doc interface{}) error {
	schema, ok := v.compiled[key]
	if !ok {
		return nil
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("pluginrt: schema validation failed for %s: %w", key, err)
	}
	return nil
}
