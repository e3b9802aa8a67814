package mcp

import (
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/hashi/internal/tools"
)

// translateInputSchema maps a remote tool's JSON schema into the registry's
// internal dialect. Integer collapses to number; the mapping is not meant
// to round-trip.
func translateInputSchema(s mcplib.ToolInputSchema) tools.Parameters {
	props := make(map[string]*tools.ParameterProperty, len(s.Properties))
	for name, raw := range s.Properties {
		props[name] = translateProperty(raw)
	}
	return tools.ObjectParams(props, s.Required...)
}

func translateProperty(raw any) *tools.ParameterProperty {
	m, ok := raw.(map[string]any)
	if !ok {
		return &tools.ParameterProperty{Type: tools.TypeString}
	}

	p := &tools.ParameterProperty{Type: schemaType(m)}
	if d, ok := m["description"].(string); ok {
		p.Description = d
	}
	if enum, ok := m["enum"].([]any); ok {
		for _, v := range enum {
			p.Enum = append(p.Enum, fmt.Sprint(v))
		}
	}
	if items, ok := m["items"]; ok {
		p.Items = translateProperty(items)
	}
	if nested, ok := m["properties"].(map[string]any); ok {
		p.Properties = make(map[string]*tools.ParameterProperty, len(nested))
		for name, child := range nested {
			p.Properties[name] = translateProperty(child)
		}
	}
	p.Required = stringList(m["required"])
	if def, ok := m["default"]; ok {
		p.Default = def
	}
	return p
}

// schemaType resolves the property type, accepting union forms such as
// ["string", "null"] and inferring from structure when type is absent.
func schemaType(m map[string]any) string {
	var t string
	switch v := m["type"].(type) {
	case string:
		t = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "null" {
				t = s
				break
			}
		}
	}
	switch t {
	case tools.TypeInteger:
		return tools.TypeNumber
	case tools.TypeString, tools.TypeNumber, tools.TypeBoolean, tools.TypeObject, tools.TypeArray:
		return t
	}
	if _, ok := m["properties"]; ok {
		return tools.TypeObject
	}
	if _, ok := m["items"]; ok {
		return tools.TypeArray
	}
	return tools.TypeString
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
