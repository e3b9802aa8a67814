// Package mcp bridges Model Context Protocol servers and the tool registry.
//
// The Bridge is the client side: it connects to configured MCP servers over
// stdio or streamable HTTP, discovers their tools, and registers each one
// as "<serverID>_<toolName>". Server is the other direction: it exposes
// local tools to MCP clients.
package mcp

import (
	"context"
	"fmt"
	"os"
	"sort"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/hashi/internal/model"
)

// Transport kinds.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// ServerConfig describes one MCP server to connect to.
type ServerConfig struct {
	ID        string            `json:"id"`
	Transport string            `json:"transport"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	URL       string            `json:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// Validate checks that the config names a usable transport.
func (c ServerConfig) Validate() error {
	if err := model.ValidateServerID(c.ID); err != nil {
		return fmt.Errorf("mcp: server %q: %w", c.ID, err)
	}
	switch c.Transport {
	case TransportStdio:
		if c.Command == "" {
			return fmt.Errorf("mcp: server %s: stdio transport requires command", c.ID)
		}
	case TransportHTTP:
		if c.URL == "" {
			return fmt.Errorf("mcp: server %s: http transport requires url", c.ID)
		}
	default:
		return fmt.Errorf("mcp: server %s: unknown transport %q", c.ID, c.Transport)
	}
	return nil
}

// Client is the subset of the mcp-go client the bridge uses.
type Client interface {
	Initialize(ctx context.Context, req mcplib.InitializeRequest) (*mcplib.InitializeResult, error)
	ListTools(ctx context.Context, req mcplib.ListToolsRequest) (*mcplib.ListToolsResult, error)
	CallTool(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error)
	Close() error
}

// TransportFactory opens a started, not yet initialized client for a server.
type TransportFactory interface {
	Open(ctx context.Context, cfg ServerConfig) (Client, error)
}

// DefaultFactory opens real stdio and streamable HTTP transports.
type DefaultFactory struct{}

func (DefaultFactory) Open(ctx context.Context, cfg ServerConfig) (Client, error) {
	switch cfg.Transport {
	case TransportStdio:
		// The stdio client spawns and starts the subprocess itself.
		c, err := mcpclient.NewStdioMCPClientWithOptions(cfg.Command, mergeEnv(cfg.Env), cfg.Args)
		if err != nil {
			return nil, fmt.Errorf("mcp: start stdio server %s: %w", cfg.ID, err)
		}
		return c, nil
	case TransportHTTP:
		var opts []mcptransport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, mcptransport.WithHTTPHeaders(cfg.Headers))
		}
		c, err := mcpclient.NewStreamableHttpClient(cfg.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("mcp: create http client %s: %w", cfg.ID, err)
		}
		if err := c.Start(ctx); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("mcp: start http client %s: %w", cfg.ID, err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("mcp: server %s: unknown transport %q", cfg.ID, cfg.Transport)
	}
}

// mergeEnv layers configured variables over the current environment in a
// deterministic order.
func mergeEnv(extra map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}
