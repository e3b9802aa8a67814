package mcp

import (
	"context"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/hashi/internal/tools"
)

// Server exposes local tools to MCP clients. Calls are executed through the
// registry so they get the same abort handling and metrics as model calls.
type Server struct {
	mcpServer *mcpserver.MCPServer
	registry  *tools.Registry
	logger    *slog.Logger
}

// NewServer creates an MCP server publishing the given tools, which must
// already be registered in registry.
func NewServer(registry *tools.Registry, exposed []tools.Tool, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{registry: registry, logger: logger}
	s.mcpServer = mcpserver.NewMCPServer(
		"hashi",
		version,
		mcpserver.WithToolCapabilities(true),
	)
	for _, t := range exposed {
		s.mcpServer.AddTool(toMCPTool(t.Definition()), s.handler(t.Name()))
	}
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) handler(name string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		res := s.registry.Execute(ctx, name, request.GetArguments())
		if res.IsError {
			s.logger.Debug("mcp: tool call failed", "tool", name, "output", res.Output)
			return mcplib.NewToolResultError(res.Output), nil
		}
		return mcplib.NewToolResultText(res.Output), nil
	}
}

func toMCPTool(def tools.Definition) mcplib.Tool {
	props := make(map[string]any, len(def.Parameters.Properties))
	for name, p := range def.Parameters.Properties {
		props[name] = p.JSONSchema()
	}
	return mcplib.Tool{
		Name:        def.Name,
		Description: def.Description,
		InputSchema: mcplib.ToolInputSchema{
			Type:       tools.TypeObject,
			Properties: props,
			Required:   def.Parameters.Required,
		},
	}
}
