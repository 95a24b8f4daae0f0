package oracle

import (
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonschema"

	"agentindex/internal/domain"
)

// Output schemas. Validation happens before unmarshaling into result
// structs, so a model that returns the right shape with wrong types is
// rejected with a clear reason instead of silently zeroing fields.
const parseSchemaJSON = `{
	"type": "object",
	"required": ["is_agent"],
	"properties": {
		"is_agent": {"type": "boolean"},
		"category": {"type": "string"},
		"capabilities": {"type": "array", "items": {"type": "string"}},
		"description_short": {"type": "string"}
	}
}`

const classifySchemaJSON = `{
	"type": "object",
	"required": ["recommendation"],
	"properties": {
		"category_refined": {"type": ["string", "null"]},
		"capabilities_refined": {"type": ["array", "null"], "items": {"type": "string"}},
		"tags_refined": {"type": ["array", "null"], "items": {"type": "string"}},
		"trust_signals": {
			"type": "object",
			"properties": {
				"has_tests": {"type": "boolean"},
				"has_ci": {"type": "boolean"},
				"has_license": {"type": "boolean"},
				"has_examples": {"type": "boolean"},
				"active_maintenance": {"type": "boolean"},
				"clear_documentation": {"type": "boolean"},
				"known_author": {"type": "boolean"}
			}
		},
		"security_assessment": {
			"type": "object",
			"properties": {
				"score": {"type": "number"},
				"concerns": {"type": ["array", "null"], "items": {"type": "string"}},
				"requires_api_keys": {"type": "boolean"},
				"data_access_level": {"type": "string"}
			}
		},
		"duplicate_risk": {
			"type": "object",
			"properties": {
				"is_fork_or_clone": {"type": "boolean"},
				"similar_to": {"type": ["string", "null"]}
			}
		},
		"quality_override": {"type": ["number", "null"], "minimum": 0, "maximum": 1},
		"recommendation": {"type": "string", "enum": ["index", "deprioritize", "remove"]}
	}
}`

const compareSchemaJSON = `{
	"type": "object",
	"required": ["is_duplicate", "confidence"],
	"properties": {
		"is_duplicate": {"type": "boolean"},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"relationship": {"type": "string", "enum": ["identical", "fork", "wrapper", "related", "different"]},
		"keep": {"type": "string", "enum": ["a", "b", "both"]},
		"reason": {"type": ["string", "null"]}
	}
}`

var (
	parseSchema    = mustCompile(parseSchemaJSON)
	classifySchema = mustCompile(classifySchemaJSON)
	compareSchema  = mustCompile(compareSchemaJSON)
)

func mustCompile(src string) *jsonschema.Schema {
	schema, err := jsonschema.NewCompiler().Compile([]byte(src))
	if err != nil {
		panic(fmt.Sprintf("oracle: invalid schema: %v", err))
	}
	return schema
}

// validate checks raw against schema and returns an OracleParseError on
// failure, carrying the raw output for provenance.
func validate(stage string, schema *jsonschema.Schema, raw json.RawMessage) error {
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return &domain.OracleParseError{Stage: stage, Raw: clip(string(raw), 2000), Reason: err.Error()}
	}
	result := schema.Validate(data)
	if !result.IsValid() {
		return &domain.OracleParseError{
			Stage:  stage,
			Raw:    clip(string(raw), 2000),
			Reason: fmt.Sprintf("schema violation: %s", result.Error()),
		}
	}
	return nil
}
