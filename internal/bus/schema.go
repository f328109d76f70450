package bus

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/OrcaBus/platform-integration-tests/internal/domain"
)

// envelopeSchema is the contract every inbound envelope must satisfy before
// the engine will look at it. Kept permissive about payload fields; only the
// correlation surface is pinned.
const envelopeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "source", "detailType", "detail"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "source": {"type": "string"},
    "detailType": {"type": "string", "minLength": 1},
    "detail": {
      "type": "object",
      "required": ["runCorrelationId", "testMode"],
      "properties": {
        "runCorrelationId": {"type": "string", "minLength": 1},
        "testMode": {"type": "boolean"},
        "eventId": {"type": "string"},
        "schemaVersion": {"type": "string"},
        "seq": {"type": "integer", "minimum": 0},
        "causedBy": {"type": "string"}
      }
    }
  }
}`

// Validator checks envelopes against the compiled JSON schema.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the envelope schema.
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("envelope.schema.json", bytes.NewReader([]byte(envelopeSchema))); err != nil {
		return nil, fmt.Errorf("add envelope schema: %w", err)
	}
	schema, err := compiler.Compile("envelope.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile envelope schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate checks raw envelope bytes against the schema.
func (v *Validator) Validate(data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	return nil
}
