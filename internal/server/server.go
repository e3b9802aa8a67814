// Package server is the HTTP ingress transport. Chat bridges post inbound
// messages to POST /v1/messages and receive the reply either as JSON or, for
// code-mode instructions, as a server-sent event stream of progress chunks.
// The local tool set is also served over MCP at /mcp.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/hashi/internal/adapter"
	"github.com/ashita-ai/hashi/internal/auth"
	"github.com/ashita-ai/hashi/internal/model"
	"github.com/ashita-ai/hashi/internal/procreg"
	"github.com/ashita-ai/hashi/internal/ratelimit"
	"github.com/ashita-ai/hashi/internal/router"
	"github.com/ashita-ai/hashi/internal/stream"
)

// Agent is the message entry point the ingress drives.
type Agent interface {
	ProcessMessage(ctx context.Context, msg model.Message, onProgress func(string)) string
	ShouldStream(from, text string) bool
}

// Status reports the active adapter and provider for /health.
type Status interface {
	Adapter() adapter.Adapter
	Provider() (router.ProviderState, error)
}

// Config holds all dependencies and settings for a Server. Optional fields
// (nil = disabled): Tokens, Limiter, MCPServer, Procs.
type Config struct {
	Agent  Agent
	Status Status
	Logger *slog.Logger

	Tokens    *auth.TokenManager
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer
	Procs     *procreg.Registry

	Addr         string
	ReadTimeout  time.Duration
	MaxBodyBytes int64
	Chunker      stream.ChunkerConfig
	Version      string
}

// Server is the hashi HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// New creates a server with all routes configured.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	h := &handlers{
		agent:        cfg.Agent,
		status:       cfg.Status,
		procs:        cfg.Procs,
		logger:       cfg.Logger,
		maxBodyBytes: cfg.MaxBodyBytes,
		chunker:      cfg.Chunker,
		version:      cfg.Version,
	}

	var limiter ratelimit.Limiter = ratelimit.NoopLimiter{}
	if cfg.Limiter != nil {
		limiter = cfg.Limiter
	}
	limited := ratelimit.Middleware(limiter, principalKey, cfg.Logger)

	mux := http.NewServeMux()
	mux.Handle("POST /v1/messages", limited(http.HandlerFunc(h.handleMessage)))
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", limited(mcpserver.NewStreamableHTTPServer(cfg.MCPServer)))
	}
	mux.HandleFunc("GET /health", h.handleHealth)

	// Outermost executes first:
	// request ID → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.Tokens, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("server: listening", "addr", ln.Addr().String())
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	return s.httpServer.Shutdown(ctx)
}
