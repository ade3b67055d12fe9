package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"croncat/internal/domain"
)

// Request schemas for methods that take a payload. Methods without an entry
// accept any payload and ignore it.
const (
	accountSchema = `{
		"type": "object",
		"properties": {"account_id": {"type": "string"}},
		"additionalProperties": false
	}`

	payableSchema = `{
		"type": "object",
		"properties": {"payable_account_id": {"type": "string"}},
		"additionalProperties": false
	}`

	taskSchema = `{
		"type": "object",
		"properties": {"hash": {"type": "string", "minLength": 1}},
		"required": ["hash"],
		"additionalProperties": false
	}`

	moveBalancesSchema = `{
		"type": "object",
		"properties": {
			"destination": {"type": "string", "minLength": 1},
			"movements": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"native": {"type": "array", "items": {"$ref": "#/definitions/coin"}},
						"token": {
							"type": "object",
							"properties": {
								"address": {"type": "string", "minLength": 1},
								"amount": {"type": "integer", "minimum": 0}
							},
							"required": ["address", "amount"],
							"additionalProperties": false
						}
					},
					"additionalProperties": false
				}
			}
		},
		"required": ["destination", "movements"],
		"additionalProperties": false,
		"definitions": {
			"coin": {
				"type": "object",
				"properties": {
					"denom": {"type": "string", "minLength": 1},
					"amount": {"type": "integer", "minimum": 0}
				},
				"required": ["denom", "amount"],
				"additionalProperties": false
			}
		}
	}`

	settingsSchema = `{
		"type": "object",
		"properties": {
			"owner_id": {"type": "string", "minLength": 1},
			"treasury_id": {"type": "string"},
			"slot_granularity": {"type": "integer", "minimum": 0},
			"paused": {"type": "boolean"},
			"agent_fee": {
				"type": "object",
				"properties": {
					"denom": {"type": "string", "minLength": 1},
					"amount": {"type": "integer", "minimum": 0}
				},
				"required": ["denom", "amount"],
				"additionalProperties": false
			},
			"gas_price": {"type": "integer", "minimum": 0},
			"proxy_callback_gas": {"type": "integer", "minimum": 0},
			"min_tasks_per_agent": {"type": "integer", "minimum": 1},
			"agents_eject_threshold": {"type": "integer", "minimum": 0},
			"agent_nomination_duration": {"type": "integer", "minimum": 1}
		},
		"additionalProperties": false
	}`
)

// compileSchema compiles a JSON Schema document.
func compileSchema(method, raw string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	url := method + ".json"
	if err := compiler.AddResource(url, bytes.NewReader([]byte(raw))); err != nil {
		return nil, fmt.Errorf("add schema resource for %q: %w", method, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", method, err)
	}
	return compiled, nil
}

// mustCompileSchema is compileSchema for the built-in schemas above.
func mustCompileSchema(method, raw string) *jsonschema.Schema {
	s, err := compileSchema(method, raw)
	if err != nil {
		panic(err)
	}
	return s
}

// validatePayload checks payload against schema. An empty payload is
// validated as an empty object.
func validatePayload(schema *jsonschema.Schema, payload json.RawMessage) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return domain.NewDomainError("gateway.validate", domain.ErrRPCInvalidPayload, "invalid JSON: "+err.Error())
	}
	if err := schema.Validate(v); err != nil {
		return domain.NewDomainError("gateway.validate", domain.ErrRPCInvalidPayload, err.Error())
	}
	return nil
}
