package models

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/config-v1.json
var configSchemaJSON string

var configSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config-v1.json", strings.NewReader(configSchemaJSON)); err != nil {
		panic(fmt.Sprintf("models: add schema resource: %v", err))
	}
	return compiler.MustCompile("config-v1.json")
}

// Marshal returns the compact wire form of c, suitable for a single
// protocol line.
func Marshal(c *Config) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("marshal config: nil configuration")
	}
	return json.Marshal(c)
}

// Parse decodes a wire payload into a Config.
//
// A payload that is not JSON yields the json decoding error. A payload that
// is JSON but breaks the schema or any shape invariant yields a
// *ValidationError. On any error the returned Config is nil, so a half-valid
// payload is never observable.
func Parse(payload []byte) (*Config, error) {
	var doc interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := configSchema.Validate(doc); err != nil {
		return nil, &ValidationError{Reason: schemaReason(err)}
	}
	var c Config
	if err := json.Unmarshal(payload, &c); err != nil {
		// The schema allows integral floats such as 1.0 where an int is
		// expected; the typed decode does not.
		var te *json.UnmarshalTypeError
		if errors.As(err, &te) {
			return nil, &ValidationError{Field: te.Field, Reason: fmt.Sprintf("want %s, got JSON %s", te.Type, te.Value)}
		}
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// schemaReason flattens a schema failure to its most specific cause.
func schemaReason(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := ve.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return fmt.Sprintf("%s: %s", loc, ve.Message)
}
