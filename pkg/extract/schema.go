package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// payloadSchema compiles once; the field set is fixed for the whole run.
var (
	payloadSchemaOnce sync.Once
	payloadSchema     *jsonschema.Schema
	payloadSchemaErr  error
)

// buildPayloadSchemaMap returns the JSON-Schema (draft 2020-12 subset) the
// model output must satisfy: an object with every expected field present
// as a string.
func buildPayloadSchemaMap() map[string]any {
	props := make(map[string]any, len(FieldNames))
	for _, f := range FieldNames {
		props[f] = map[string]any{"type": "string"}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   FieldNames,
	}
}

func compilePayloadSchema() (*jsonschema.Schema, error) {
	payloadSchemaOnce.Do(func() {
		b, err := json.Marshal(buildPayloadSchemaMap())
		if err != nil {
			payloadSchemaErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("payload.json", bytes.NewReader(b)); err != nil {
			payloadSchemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		payloadSchema, payloadSchemaErr = compiler.Compile("payload.json")
	})
	return payloadSchema, payloadSchemaErr
}

// ValidatePayload checks a cleaned payload against the extraction schema.
func ValidatePayload(data []byte) error {
	schema, err := compilePayloadSchema()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("payload does not match schema: %w", err)
	}
	return nil
}
