package tools

import (
	"strings"

	"google.golang.org/genai"
)

// AnthropicTool is one entry of the Anthropic Messages API "tools" array.
type AnthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// OpenAITool is one entry of the OpenAI Chat Completions "tools" array.
type OpenAITool struct {
	Type     string         `json:"type"`
	Function OpenAIFunction `json:"function"`
}

// OpenAIFunction is the function body of an OpenAITool.
type OpenAIFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// RenderAnthropic renders definitions as Anthropic tools.
func RenderAnthropic(defs []Definition) []AnthropicTool {
	out := make([]AnthropicTool, 0, len(defs))
	for _, d := range defs {
		out = append(out, AnthropicTool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.Parameters.JSONSchema(),
		})
	}
	return out
}

// RenderOpenAI renders definitions as OpenAI function tools.
func RenderOpenAI(defs []Definition) []OpenAITool {
	out := make([]OpenAITool, 0, len(defs))
	for _, d := range defs {
		out = append(out, OpenAITool{
			Type: "function",
			Function: OpenAIFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters.JSONSchema(),
			},
		})
	}
	return out
}

// RenderGemini renders definitions as a single Gemini tool carrying one
// function declaration per definition. Type tokens are upper-cased as the
// Gemini API requires. It returns nil for an empty set.
func RenderGemini(defs []Definition) []*genai.Tool {
	if len(defs) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, d := range defs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: geminiProperties(d.Parameters.Properties),
				Required:   cloneStrings(d.Parameters.Required),
			},
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// JSONSchema renders the parameters as a plain JSON-schema object.
func (p Parameters) JSONSchema() map[string]any {
	props := make(map[string]any, len(p.Properties))
	for name, prop := range p.Properties {
		props[name] = prop.JSONSchema()
	}
	required := cloneStrings(p.Required)
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       TypeObject,
		"properties": props,
		"required":   required,
	}
}

// JSONSchema renders one property as a plain JSON-schema object.
func (p *ParameterProperty) JSONSchema() map[string]any {
	if p == nil {
		return map[string]any{"type": TypeString}
	}
	out := map[string]any{"type": p.Type}
	if p.Description != "" {
		out["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		out["enum"] = cloneStrings(p.Enum)
	}
	if p.Items != nil {
		out["items"] = p.Items.JSONSchema()
	}
	if len(p.Properties) > 0 {
		props := make(map[string]any, len(p.Properties))
		for name, child := range p.Properties {
			props[name] = child.JSONSchema()
		}
		out["properties"] = props
	}
	if len(p.Required) > 0 {
		out["required"] = cloneStrings(p.Required)
	}
	if p.Default != nil {
		out["default"] = p.Default
	}
	return out
}

func geminiProperties(props map[string]*ParameterProperty) map[string]*genai.Schema {
	out := make(map[string]*genai.Schema, len(props))
	for name, p := range props {
		out[name] = geminiSchema(p)
	}
	return out
}

func geminiSchema(p *ParameterProperty) *genai.Schema {
	if p == nil {
		return &genai.Schema{Type: genai.TypeString}
	}
	s := &genai.Schema{
		Type:        genai.Type(strings.ToUpper(p.Type)),
		Description: p.Description,
		Enum:        cloneStrings(p.Enum),
		Default:     p.Default,
	}
	if p.Items != nil {
		s.Items = geminiSchema(p.Items)
	}
	if len(p.Properties) > 0 {
		s.Properties = geminiProperties(p.Properties)
	}
	if len(p.Required) > 0 {
		s.Required = cloneStrings(p.Required)
	}
	return s
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
