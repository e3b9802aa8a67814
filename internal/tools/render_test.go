package tools

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func sampleDefinition() Definition {
	return Definition{
		Name:        "search_files",
		Description: "Search files by pattern",
		Parameters: ObjectParams(map[string]*ParameterProperty{
			"pattern": {Type: TypeString, Description: "Glob pattern"},
			"limit":   {Type: TypeNumber, Description: "Max results", Default: 10},
			"kinds": {
				Type:        TypeArray,
				Description: "File kinds",
				Items:       &ParameterProperty{Type: TypeString, Enum: []string{"file", "dir"}},
			},
			"filter": {
				Type:        TypeObject,
				Description: "Extra filters",
				Properties: map[string]*ParameterProperty{
					"hidden": {Type: TypeBoolean, Description: "Include hidden"},
				},
				Required: []string{"hidden"},
			},
		}, "pattern"),
	}
}

func TestRenderAnthropic(t *testing.T) {
	out := RenderAnthropic([]Definition{sampleDefinition()})
	require.Len(t, out, 1)
	tool := out[0]
	assert.Equal(t, "search_files", tool.Name)
	assert.Equal(t, "Search files by pattern", tool.Description)
	assert.Equal(t, "object", tool.InputSchema["type"])
	assert.Equal(t, []string{"pattern"}, tool.InputSchema["required"])

	props := tool.InputSchema["properties"].(map[string]any)
	pattern := props["pattern"].(map[string]any)
	assert.Equal(t, "string", pattern["type"])
	assert.Equal(t, "Glob pattern", pattern["description"])

	raw, err := json.Marshal(out)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"input_schema"`)
}

func TestRenderOpenAI(t *testing.T) {
	out := RenderOpenAI([]Definition{sampleDefinition()})
	require.Len(t, out, 1)
	fn := out[0].Function
	assert.Equal(t, "function", out[0].Type)
	assert.Equal(t, "search_files", fn.Name)
	assert.Equal(t, []string{"pattern"}, fn.Parameters["required"])

	props := fn.Parameters["properties"].(map[string]any)
	limit := props["limit"].(map[string]any)
	assert.Equal(t, "number", limit["type"])
	assert.Equal(t, "Max results", limit["description"])
	assert.Equal(t, 10, limit["default"])

	kinds := props["kinds"].(map[string]any)
	items := kinds["items"].(map[string]any)
	assert.Equal(t, []string{"file", "dir"}, items["enum"])

	filter := props["filter"].(map[string]any)
	assert.Equal(t, []string{"hidden"}, filter["required"])
}

func TestRenderGemini(t *testing.T) {
	out := RenderGemini([]Definition{sampleDefinition()})
	require.Len(t, out, 1)
	require.Len(t, out[0].FunctionDeclarations, 1)
	decl := out[0].FunctionDeclarations[0]
	assert.Equal(t, "search_files", decl.Name)
	assert.Equal(t, "Search files by pattern", decl.Description)
	assert.Equal(t, genai.TypeObject, decl.Parameters.Type)
	assert.Equal(t, []string{"pattern"}, decl.Parameters.Required)

	pattern := decl.Parameters.Properties["pattern"]
	assert.Equal(t, genai.Type("STRING"), pattern.Type)
	assert.Equal(t, "Glob pattern", pattern.Description)
	assert.Equal(t, genai.TypeNumber, decl.Parameters.Properties["limit"].Type)
	assert.Equal(t, genai.TypeArray, decl.Parameters.Properties["kinds"].Type)
	assert.Equal(t, genai.TypeString, decl.Parameters.Properties["kinds"].Items.Type)
	hidden := decl.Parameters.Properties["filter"].Properties["hidden"]
	assert.Equal(t, genai.TypeBoolean, hidden.Type)

	assert.Nil(t, RenderGemini(nil))
}

func TestRender_PreservesNameRequiredTypesAcrossDialects(t *testing.T) {
	def := sampleDefinition()
	anth := RenderAnthropic([]Definition{def})[0]
	oai := RenderOpenAI([]Definition{def})[0].Function
	gem := RenderGemini([]Definition{def})[0].FunctionDeclarations[0]

	assert.Equal(t, def.Name, anth.Name)
	assert.Equal(t, def.Name, oai.Name)
	assert.Equal(t, def.Name, gem.Name)

	assert.Equal(t, def.Parameters.Required, anth.InputSchema["required"])
	assert.Equal(t, def.Parameters.Required, oai.Parameters["required"])
	assert.Equal(t, def.Parameters.Required, gem.Parameters.Required)

	anthProps := anth.InputSchema["properties"].(map[string]any)
	oaiProps := oai.Parameters["properties"].(map[string]any)
	for name, prop := range def.Parameters.Properties {
		a := anthProps[name].(map[string]any)
		o := oaiProps[name].(map[string]any)
		g := gem.Parameters.Properties[name]
		require.NotNil(t, g, name)

		assert.Equal(t, prop.Type, a["type"], name)
		assert.Equal(t, prop.Type, o["type"], name)
		assert.Equal(t, genai.Type(strings.ToUpper(prop.Type)), g.Type, name)
		assert.Equal(t, prop.Description, a["description"], name)
		assert.Equal(t, prop.Description, o["description"], name)
		assert.Equal(t, prop.Description, g.Description, name)
	}
}

func TestRender_ReflectsRegistryChanges(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(&fakeTool{name: "one"}))
	assert.Len(t, RenderOpenAI(r.Definitions()), 1)

	require.NoError(t, r.Register(&fakeTool{name: "two"}))
	assert.Len(t, RenderAnthropic(r.Definitions()), 2)

	r.Unregister("one")
	assert.Len(t, RenderGemini(r.Definitions())[0].FunctionDeclarations, 1)
}
