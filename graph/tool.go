package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/smallnest/spice/errs"
)

// ToolResult is the outcome of one tool execution.
type ToolResult struct {
	// Content is the textual result, if any.
	Content string

	// Data holds structured results merged into the message data.
	Data map[string]any
}

// Tool is an executable capability with a JSON-schema described
// parameter set.
type Tool interface {
	Name() string
	Description() string

	// ParameterSchema returns the JSON schema of the parameters map.
	ParameterSchema() map[string]any

	// CanExecute pre-validates params against the schema.
	CanExecute(params map[string]any) bool

	// Execute runs the tool.
	Execute(ctx context.Context, params map[string]any) (ToolResult, error)
}

// FuncTool implements Tool around a function, validating parameters
// with a compiled JSON schema.
type FuncTool struct {
	name        string
	description string
	schema      map[string]any
	compiled    *jsonschema.Schema
	fn          func(ctx context.Context, params map[string]any) (ToolResult, error)
}

var _ Tool = (*FuncTool)(nil)

// NewFuncTool creates a tool. schema may be nil, in which case any
// parameters validate.
func NewFuncTool(name, description string, schema map[string]any,
	fn func(ctx context.Context, params map[string]any) (ToolResult, error),
) (*FuncTool, error) {
	if name == "" {
		return nil, errs.Configuration("tool name must not be empty")
	}
	if fn == nil {
		return nil, errs.Configuration("tool " + name + " missing executor")
	}

	t := &FuncTool{name: name, description: description, schema: schema, fn: fn}
	if schema != nil {
		compiled, err := compileSchema(name, schema)
		if err != nil {
			return nil, err
		}
		t.compiled = compiled
	}
	return t, nil
}

func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, errs.Serialization("failed to encode tool schema", err)
	}
	compiler := jsonschema.NewCompiler()
	url := fmt.Sprintf("inline://tool/%s.json", name)
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, errs.Configuration("invalid schema for tool " + name).WithContextValue("cause", err.Error())
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, errs.Configuration("failed to compile schema for tool " + name).WithContextValue("cause", err.Error())
	}
	return compiled, nil
}

// Name implements Tool.
func (t *FuncTool) Name() string { return t.name }

// Description implements Tool.
func (t *FuncTool) Description() string { return t.description }

// ParameterSchema implements Tool.
func (t *FuncTool) ParameterSchema() map[string]any { return t.schema }

// CanExecute implements Tool.
func (t *FuncTool) CanExecute(params map[string]any) bool {
	if t.compiled == nil {
		return true
	}
	// The validator wants plain JSON types; round-trip normalizes
	// ints, structs and the like.
	raw, err := json.Marshal(params)
	if err != nil {
		return false
	}
	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return false
	}
	return t.compiled.Validate(normalized) == nil
}

// Execute implements Tool.
func (t *FuncTool) Execute(ctx context.Context, params map[string]any) (ToolResult, error) {
	if !t.CanExecute(params) {
		return ToolResult{}, errs.Validation("parameters do not match schema for tool " + t.name).
			WithContextValue("toolName", t.name)
	}
	return t.fn(ctx, params)
}

// ToOpenAIFunctionSpec exports the tool as an OpenAI function spec.
// With strict set, additionalProperties is forced off.
func ToOpenAIFunctionSpec(t Tool, strict bool) map[string]any {
	params := t.ParameterSchema()
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	if strict {
		clone := make(map[string]any, len(params)+1)
		for k, v := range params {
			clone[k] = v
		}
		clone["additionalProperties"] = false
		params = clone
	}
	spec := map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        t.Name(),
			"description": t.Description(),
			"parameters":  params,
		},
	}
	if strict {
		spec["function"].(map[string]any)["strict"] = true
	}
	return spec
}
