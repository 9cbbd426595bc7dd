package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

const suggestSchema = `{
	"type": "object",
	"required": ["tabId", "messages"],
	"properties": {
		"tabId": {"type": "integer"},
		"requestId": {"type": "string", "minLength": 1, "maxLength": 128},
		"messages": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["role", "content"],
				"properties": {
					"role": {"enum": ["system", "user", "assistant"]},
					"content": {"type": "string"}
				}
			}
		},
		"profile": {"type": "string"},
		"model": {"type": "string"},
		"systemPrompt": {"type": "string"},
		"temperature": {"type": "number", "minimum": 0, "maximum": 2},
		"maxTokens": {"type": "integer", "minimum": 1},
		"maxRetries": {"type": "integer", "minimum": 0, "maximum": 10}
	}
}`

const tabClosedSchema = `{
	"type": "object",
	"required": ["tabId"],
	"properties": {
		"tabId": {"type": "integer"}
	}
}`

const requestCancelSchema = `{
	"type": "object",
	"required": ["requestId"],
	"properties": {
		"requestId": {"type": "string", "minLength": 1}
	}
}`

const subscribeSchema = `{
	"type": "object",
	"properties": {
		"tabIds": {"type": "array", "items": {"type": "integer"}, "maxItems": 1000},
		"all": {"type": "boolean"}
	}
}`

const historySchema = `{
	"type": "object",
	"properties": {
		"tabId": {"type": "integer"},
		"outcome": {"enum": ["succeeded", "failed", "exhausted", "aborted", "cancelled"]},
		"limit": {"type": "integer", "minimum": 1, "maximum": 500}
	}
}`

func compileSchema(src string) (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
}

func validateParams(schema *gojsonschema.Schema, params map[string]interface{}) *RPCError {
	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return &RPCError{Code: InvalidParams, Message: "Invalid params", Data: err.Error()}
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return &RPCError{
		Code:    InvalidParams,
		Message: "Invalid params: " + problems[0],
		Data:    problems,
	}
}

// decodeParams copies validated params into a typed struct.
func decodeParams(params map[string]interface{}, out interface{}) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &RPCError{Code: InvalidParams, Message: fmt.Sprintf("Invalid params: %v", err)}
	}
	return nil
}
