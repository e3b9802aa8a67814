package mcp

import (
	"context"
	"encoding/json"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/hashi/internal/tools"
)

// remoteTool proxies one tool of a connected MCP server.
type remoteTool struct {
	name       string
	remoteName string
	def        tools.Definition
	client     Client
}

func newRemoteTool(serverID string, t mcplib.Tool, c Client) *remoteTool {
	name := ExposedName(serverID, t.Name)
	return &remoteTool{
		name:       name,
		remoteName: t.Name,
		client:     c,
		def: tools.Definition{
			Name:        name,
			Description: t.Description,
			Parameters:  translateInputSchema(t.InputSchema),
		},
	}
}

// ExposedName is the registry name of a remote tool.
func ExposedName(serverID, toolName string) string {
	return serverID + "_" + toolName
}

func (t *remoteTool) Name() string                 { return t.name }
func (t *remoteTool) Description() string          { return t.def.Description }
func (t *remoteTool) Definition() tools.Definition { return t.def }

func (t *remoteTool) Execute(ctx context.Context, args map[string]any) tools.Result {
	req := mcplib.CallToolRequest{}
	req.Params.Name = t.remoteName
	req.Params.Arguments = args

	res, err := t.client.CallTool(ctx, req)
	if err != nil {
		return tools.ErrorResult("mcp: call %s: %v", t.name, err)
	}
	return tools.Result{
		Output:  flattenContent(res.Content),
		IsError: res.IsError,
	}
}

// flattenContent joins text blocks with newlines and JSON-encodes any
// non-text block in place.
func flattenContent(content []mcplib.Content) string {
	parts := make([]string, 0, len(content))
	for _, c := range content {
		switch v := c.(type) {
		case mcplib.TextContent:
			parts = append(parts, v.Text)
		case *mcplib.TextContent:
			parts = append(parts, v.Text)
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				continue
			}
			parts = append(parts, string(raw))
		}
	}
	return strings.Join(parts, "\n")
}
