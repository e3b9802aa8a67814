package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/hashi/internal/tools"
)

// ErrNotConnected is returned when a server id has no live connection.
var ErrNotConnected = errors.New("mcp: server not connected")

// maxToolPages bounds tools/list pagination against a misbehaving server.
const maxToolPages = 50

type connection struct {
	cfg    ServerConfig
	client Client
	tools  []tools.Tool
}

// Bridge owns the live MCP connections and their registered tools.
type Bridge struct {
	registry      *tools.Registry
	factory       TransportFactory
	clientName    string
	clientVersion string
	logger        *slog.Logger

	// connectMu serializes Connect so concurrent calls for the same id
	// cannot both open a transport.
	connectMu sync.Mutex
	mu        sync.RWMutex
	conns     map[string]*connection
}

// NewBridge creates a bridge that registers discovered tools into registry.
// A nil factory uses DefaultFactory.
func NewBridge(registry *tools.Registry, factory TransportFactory, version string, logger *slog.Logger) *Bridge {
	if factory == nil {
		factory = DefaultFactory{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		registry:      registry,
		factory:       factory,
		clientName:    "hashi",
		clientVersion: version,
		logger:        logger,
		conns:         make(map[string]*connection),
	}
}

// Connect opens, initializes, and discovers tools for a server. Connecting
// an id that is already live returns the cached tools without reconnecting.
func (b *Bridge) Connect(ctx context.Context, cfg ServerConfig) ([]tools.Tool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b.connectMu.Lock()
	defer b.connectMu.Unlock()

	if existing := b.lookup(cfg.ID); existing != nil {
		return append([]tools.Tool(nil), existing.tools...), nil
	}

	client, err := b.factory.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	remote, err := b.handshake(ctx, client)
	if err != nil {
		b.closeQuietly(cfg.ID, client)
		return nil, fmt.Errorf("mcp: connect %s: %w", cfg.ID, err)
	}

	conn := &connection{cfg: cfg, client: client}
	for _, rt := range remote {
		t := newRemoteTool(cfg.ID, rt, client)
		if err := b.registry.Register(t); err != nil {
			b.logger.Warn("mcp: skipping tool", "server", cfg.ID, "tool", t.Name(), "error", err)
			continue
		}
		conn.tools = append(conn.tools, t)
	}

	b.mu.Lock()
	b.conns[cfg.ID] = conn
	b.mu.Unlock()

	b.logger.Info("mcp: server connected", "server", cfg.ID, "transport", cfg.Transport, "tools", len(conn.tools))
	return append([]tools.Tool(nil), conn.tools...), nil
}

func (b *Bridge) handshake(ctx context.Context, client Client) ([]mcplib.Tool, error) {
	initReq := mcplib.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcplib.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcplib.Implementation{Name: b.clientName, Version: b.clientVersion}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	var all []mcplib.Tool
	req := mcplib.ListToolsRequest{}
	for page := 0; page < maxToolPages; page++ {
		res, err := client.ListTools(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("list tools: %w", err)
		}
		all = append(all, res.Tools...)
		if res.NextCursor == "" {
			break
		}
		req.Params.Cursor = res.NextCursor
	}
	return all, nil
}

// Disconnect closes a server's transport and removes its tools. Close
// failures are logged; the tools and connection record are removed
// regardless.
func (b *Bridge) Disconnect(id string) error {
	b.mu.Lock()
	conn, ok := b.conns[id]
	delete(b.conns, id)
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, id)
	}

	for _, t := range conn.tools {
		b.registry.Unregister(t.Name())
	}
	b.closeQuietly(id, conn.client)
	b.logger.Info("mcp: server disconnected", "server", id)
	return nil
}

// DisconnectAll disconnects every live server.
func (b *Bridge) DisconnectAll() {
	for _, id := range b.Connected() {
		_ = b.Disconnect(id)
	}
}

// Connected returns the ids of live servers, sorted.
func (b *Bridge) Connected() []string {
	b.mu.RLock()
	ids := make([]string, 0, len(b.conns))
	for id := range b.conns {
		ids = append(ids, id)
	}
	b.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Tools returns the registered tools of one server.
func (b *Bridge) Tools(id string) ([]tools.Tool, error) {
	conn := b.lookup(id)
	if conn == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, id)
	}
	return append([]tools.Tool(nil), conn.tools...), nil
}

func (b *Bridge) lookup(id string) *connection {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.conns[id]
}

func (b *Bridge) closeQuietly(id string, c Client) {
	if err := c.Close(); err != nil {
		b.logger.Warn("mcp: close failed", "server", id, "error", err)
	}
}
