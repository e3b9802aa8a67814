package mcp

import (
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hashi/internal/tools"
)

func TestTranslateInputSchema(t *testing.T) {
	in := mcplib.ToolInputSchema{
		Type: "object",
		Properties: map[string]any{
			"count": map[string]any{"type": "integer", "description": "How many", "default": float64(3)},
			"mode":  map[string]any{"type": "string", "enum": []any{"fast", "slow"}},
			"tags":  map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
			"opts": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"deep": map[string]any{"type": "boolean"},
				},
				"required": []any{"deep"},
			},
			"maybe":    map[string]any{"type": []any{"null", "string"}},
			"inferred": map[string]any{"properties": map[string]any{}},
			"garbage":  "not a schema",
		},
		Required: []string{"count"},
	}

	out := translateInputSchema(in)
	assert.Equal(t, tools.TypeObject, out.Type)
	assert.Equal(t, []string{"count"}, out.Required)

	count := out.Properties["count"]
	require.NotNil(t, count)
	assert.Equal(t, tools.TypeNumber, count.Type, "integer collapses to number")
	assert.Equal(t, "How many", count.Description)
	assert.Equal(t, float64(3), count.Default)

	assert.Equal(t, []string{"fast", "slow"}, out.Properties["mode"].Enum)
	assert.Equal(t, tools.TypeNumber, out.Properties["tags"].Items.Type)

	opts := out.Properties["opts"]
	assert.Equal(t, tools.TypeObject, opts.Type)
	assert.Equal(t, []string{"deep"}, opts.Required)
	assert.Equal(t, tools.TypeBoolean, opts.Properties["deep"].Type)

	assert.Equal(t, tools.TypeString, out.Properties["maybe"].Type)
	assert.Equal(t, tools.TypeObject, out.Properties["inferred"].Type)
	assert.Equal(t, tools.TypeString, out.Properties["garbage"].Type)
}

func TestFlattenContent(t *testing.T) {
	out := flattenContent([]mcplib.Content{
		mcplib.NewTextContent("a"),
		&mcplib.TextContent{Type: "text", Text: "b"},
	})
	assert.Equal(t, "a\nb", out)
	assert.Equal(t, "", flattenContent(nil))
}
