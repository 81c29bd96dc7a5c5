package server

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// envelopeSchema is the contract for inbound event envelopes. Producers
// on other stacks emit exactly this shape.
const envelopeSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["categoryName"],
	"properties": {
		"categoryName": {
			"type": "string",
			"minLength": 1
		},
		"id": {
			"type": "string",
			"minLength": 1
		},
		"project": {
			"type": "object",
			"required": ["id"],
			"properties": {
				"id": {"type": "integer", "minimum": 1},
				"slug": {"type": "string"}
			}
		}
	}
}`

type envelopeValidator struct {
	schema *jsonschema.Schema
}

func newEnvelopeValidator() (*envelopeValidator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(envelopeSchema))
	if err != nil {
		return nil, fmt.Errorf("parse envelope schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("envelope.json", doc); err != nil {
		return nil, fmt.Errorf("register envelope schema: %w", err)
	}
	schema, err := compiler.Compile("envelope.json")
	if err != nil {
		return nil, fmt.Errorf("compile envelope schema: %w", err)
	}
	return &envelopeValidator{schema: schema}, nil
}

func (v *envelopeValidator) Validate(raw []byte) error {
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return newValidationError("body", "invalid_json", "request body is not valid JSON")
	}
	if err := v.schema.Validate(instance); err != nil {
		return newValidationError("body", "schema_violation", err.Error())
	}
	return nil
}
