package message

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Well-known tool-call names used by the HITL flow.
const (
	// ToolCallUserSelection asks the user to pick one of an enumerated set of items.
	ToolCallUserSelection = "request_user_selection"

	// ToolCallUserInput asks the user for free-form input.
	ToolCallUserInput = "request_user_input"

	// ToolCallUserResponse carries the user's answer back on resume.
	ToolCallUserResponse = "user_response"
)

// ToolCall is a structured function-call record carried on a message.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// NewToolCall creates a tool call with a fresh unique id.
func NewToolCall(name string, arguments map[string]any) ToolCall {
	return ToolCall{
		ID:        uuid.New().String(),
		Name:      name,
		Arguments: arguments,
	}
}

// Argument reads a single argument; ok is false when absent.
func (tc ToolCall) Argument(key string) (any, bool) {
	v, ok := tc.Arguments[key]
	return v, ok
}

// StringArgument reads a string argument, empty when absent or mistyped.
func (tc ToolCall) StringArgument(key string) string {
	if v, ok := tc.Arguments[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// MapArgument reads a map argument, nil when absent or mistyped.
func (tc ToolCall) MapArgument(key string) map[string]any {
	if v, ok := tc.Arguments[key]; ok {
		if m, ok := v.(map[string]any); ok {
			return m
		}
	}
	return nil
}

func (tc ToolCall) String() string {
	data, err := json.Marshal(tc)
	if err != nil {
		return tc.Name
	}
	return string(data)
}
