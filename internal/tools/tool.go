// Package tools is the single source of truth for callable tools.
//
// Tools describe themselves in one internal schema dialect (Definition and
// ParameterProperty). Provider wire shapes are derived on demand by the
// Render* functions, so registering or removing a tool is reflected in the
// very next provider request.
package tools

import (
	"context"
	"fmt"
	"strconv"
)

// Schema types understood by every renderer.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
)

// ParameterProperty is a small recursive JSON-schema subset.
type ParameterProperty struct {
	Type        string                        `json:"type"`
	Description string                        `json:"description,omitempty"`
	Enum        []string                      `json:"enum,omitempty"`
	Items       *ParameterProperty            `json:"items,omitempty"`
	Properties  map[string]*ParameterProperty `json:"properties,omitempty"`
	Required    []string                      `json:"required,omitempty"`
	Default     any                           `json:"default,omitempty"`
}

// Parameters is the top-level object schema of a tool.
type Parameters struct {
	Type       string                        `json:"type"`
	Properties map[string]*ParameterProperty `json:"properties"`
	Required   []string                      `json:"required"`
}

// Definition describes a tool to a model.
type Definition struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Parameters  Parameters `json:"parameters"`
}

// Result is the outcome of one tool invocation.
type Result struct {
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Output     string         `json:"output"`
	IsError    bool           `json:"is_error"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ErrorResult builds an isError result.
func ErrorResult(format string, args ...any) Result {
	return Result{Output: fmt.Sprintf(format, args...), IsError: true}
}

// Call is one tool invocation requested by a model.
type Call struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Tool is a callable capability. Execute reports failures through
// Result.IsError; it never returns a Go error.
type Tool interface {
	Name() string
	Description() string
	Definition() Definition
	Execute(ctx context.Context, args map[string]any) Result
}

// ObjectParams is a shorthand for building a Parameters value.
func ObjectParams(props map[string]*ParameterProperty, required ...string) Parameters {
	if props == nil {
		props = map[string]*ParameterProperty{}
	}
	if required == nil {
		required = []string{}
	}
	return Parameters{Type: TypeObject, Properties: props, Required: required}
}

// StringArg reads an optional string argument.
func StringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// BoolArg reads an optional boolean argument. String forms such as "true"
// are accepted since some models quote scalars.
func BoolArg(args map[string]any, key string) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

// NumberArg reads an optional numeric argument. JSON numbers decode as
// float64; ints and numeric strings are accepted too.
func NumberArg(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
