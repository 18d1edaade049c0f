package gateway

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ParamSchema is a JSON Schema document for an RPC method's params object.
type ParamSchema map[string]interface{}

func compileSchema(schema ParamSchema) (*gojsonschema.Schema, error) {
	if schema == nil {
		return nil, nil
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(map[string]interface{}(schema)))
	if err != nil {
		return nil, fmt.Errorf("invalid params schema: %w", err)
	}
	return compiled, nil
}

func validateParams(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return fmt.Errorf("invalid params: %s", strings.Join(problems, "; "))
}

var messageSendSchema = ParamSchema{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []interface{}{"channel_id", "text"},
	"properties": map[string]interface{}{
		"channel_id": map[string]interface{}{"type": "string", "minLength": 1},
		"text":       map[string]interface{}{"type": "string"},
	},
}

var channelHistorySchema = ParamSchema{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []interface{}{"channel_id"},
	"properties": map[string]interface{}{
		"channel_id": map[string]interface{}{"type": "string", "minLength": 1},
		"limit":      map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 500},
	},
}

var channelSubscribeSchema = ParamSchema{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []interface{}{"channel_id"},
	"properties": map[string]interface{}{
		"channel_id": map[string]interface{}{"type": "string", "minLength": 1},
	},
}

// ChannelParamSchema accepts a single required channel_id, the shape used by
// host methods such as agent.start and agent.stop.
var ChannelParamSchema = channelSubscribeSchema
