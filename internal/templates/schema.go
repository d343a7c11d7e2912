package templates

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const workflowSchemaURL = "workflow-template.schema.json"

const workflowSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["nodes", "connections"],
  "properties": {
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["type", "name"],
        "properties": {
          "type": {"type": "string", "minLength": 1},
          "name": {"type": "string", "minLength": 1},
          "credentials": {
            "type": "object",
            "additionalProperties": {
              "type": "object",
              "properties": {
                "id": {"type": ["string", "number"]},
                "name": {"type": "string"}
              }
            }
          }
        }
      }
    },
    "connections": {"type": "object"},
    "settings": {"type": "object"}
  }
}`

var (
	compiledSchema     *jsonschema.Schema
	compiledSchemaErr  error
	compiledSchemaOnce sync.Once
)

func workflowDocumentSchema() (*jsonschema.Schema, error) {
	compiledSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(workflowSchemaURL, bytes.NewReader([]byte(workflowSchema))); err != nil {
			compiledSchemaErr = err
			return
		}
		compiledSchema, compiledSchemaErr = compiler.Compile(workflowSchemaURL)
	})

	return compiledSchema, compiledSchemaErr
}

// ValidateDocument checks a raw workflow template document against the
// workflow template schema.
func ValidateDocument(data []byte) error {
	schema, err := workflowDocumentSchema()
	if err != nil {
		return fmt.Errorf("failed to compile workflow schema: %w", err)
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var doc interface{}
	if err := decoder.Decode(&doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := schema.Validate(doc); err != nil {
		return err
	}

	return nil
}
