// Package hashi is the public API for embedding the hashi agent.
//
// hashi bridges chat transports to coding-CLI adapters and LLM chat
// providers. Embedders construct an App and run it:
//
//	app, err := hashi.New(
//	    hashi.WithVersion(version),
//	    hashi.WithLogger(logger),
//	)
//	if err != nil { ... }
//	defer app.Close(context.Background())
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph is one-way: hashi (root) imports internal/*, and
// internal/* never imports the root package.
package hashi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/hashi/internal/adapter"
	"github.com/ashita-ai/hashi/internal/agent"
	"github.com/ashita-ai/hashi/internal/auth"
	"github.com/ashita-ai/hashi/internal/config"
	"github.com/ashita-ai/hashi/internal/configstore"
	"github.com/ashita-ai/hashi/internal/handoff"
	"github.com/ashita-ai/hashi/internal/llm"
	"github.com/ashita-ai/hashi/internal/llm/anthropic"
	"github.com/ashita-ai/hashi/internal/llm/gemini"
	"github.com/ashita-ai/hashi/internal/llm/openai"
	"github.com/ashita-ai/hashi/internal/mcp"
	"github.com/ashita-ai/hashi/internal/procreg"
	"github.com/ashita-ai/hashi/internal/ratelimit"
	"github.com/ashita-ai/hashi/internal/router"
	"github.com/ashita-ai/hashi/internal/server"
	"github.com/ashita-ai/hashi/internal/telemetry"
	"github.com/ashita-ai/hashi/internal/tools"
	"github.com/ashita-ai/hashi/internal/transport/console"
)

const (
	mcpConnectTimeout = 30 * time.Second
	shutdownTimeout   = 10 * time.Second
	providerTimeout   = 5 * time.Minute
)

// App is the hashi agent lifecycle. Construct with New, run with Run, and
// release resources with Close.
type App struct {
	cfg          config.Config
	procs        *procreg.Registry
	bridge       *mcp.Bridge
	handoffStore handoff.Store
	router       *router.Router
	agent        *agent.Agent
	srv          *server.Server    // nil when HASHI_HTTP_ADDR is empty
	limiter      ratelimit.Limiter // nil when srv is nil
	console      *console.Console  // nil unless HASHI_CONSOLE
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New loads configuration, restores persisted agent state, connects the
// configured MCP servers, and wires every subsystem. It does not accept
// connections or read input; call Run.
func New(opts ...Option) (app *App, err error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	var cfg config.Config
	if o.config != nil {
		cfg = *o.config
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	} else {
		// Load .env file if present (non-fatal; production won't have one).
		_ = godotenv.Load()
		if cfg, err = config.Load(); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	logger.Info("hashi starting", "version", version, "http_addr", cfg.HTTPAddr, "console", cfg.Console)

	ctx := context.Background()
	a := &App{cfg: cfg, logger: logger, version: version}
	// Unwind whatever was built if a later step fails.
	defer func() {
		if err != nil {
			_ = a.Close(ctx)
		}
	}()

	a.otelShutdown, err = telemetry.Init(ctx, telemetry.Config{
		Endpoint:       cfg.OTELEndpoint,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		Insecure:       cfg.OTELInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	store := configstore.New(cfg.ConfigPath)
	file, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load agent state: %w", err)
	}
	if unknown := file.UnknownKeys(); len(unknown) > 0 {
		logger.Warn("hashi: ignoring unknown config keys", "path", cfg.ConfigPath, "keys", unknown)
	}

	a.procs = procreg.New(procreg.Config{
		MaxOutputChars:        cfg.MaxOutputChars,
		PendingMaxOutputChars: cfg.PendingMaxOutputChars,
		Retention:             cfg.ProcessRetention,
		SweepInterval:         cfg.ProcessSweepInterval,
	}, logger)

	registry := tools.NewRegistry(logger)
	exposed := []tools.Tool{
		tools.NewExecTool(a.procs, file.ProjectPath),
		tools.NewProcessTool(a.procs),
	}
	exposed = append(exposed, o.extraTools...)
	for _, t := range exposed {
		if err := registry.Register(t); err != nil {
			return nil, fmt.Errorf("register tool: %w", err)
		}
	}

	a.bridge = mcp.NewBridge(registry, nil, version, logger)
	a.connectMCPServers(ctx, file.MCPServers)

	httpClient := &http.Client{Timeout: providerTimeout}
	providers := llm.NewRegistry(
		anthropic.New("", httpClient),
		openai.New("openai", "", httpClient),
		openai.New("openrouter", openai.OpenRouterBaseURL, httpClient),
		gemini.New(""),
	)

	a.handoffStore, err = newHandoffStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("handoff store: %w", err)
	}

	factory := o.adapterFactory
	if factory == nil {
		factory = a.cliAdapterFactory(store)
	}

	a.router, err = router.New(ctx, router.Config{
		Store:     store,
		Tools:     registry,
		Providers: providers,
		Handoff:   handoff.NewManager(a.handoffStore, logger),
		Adapters:  factory,
		APIKeys: map[string]string{
			"anthropic":  cfg.AnthropicAPIKey,
			"openai":     cfg.OpenAIAPIKey,
			"gemini":     cfg.GeminiAPIKey,
			"openrouter": cfg.OpenRouterAPIKey,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	a.agent = agent.New(a.router, store, logger)

	if cfg.HTTPAddr != "" {
		if err := a.newServer(registry, exposed); err != nil {
			return nil, err
		}
	} else {
		logger.Info("http ingress: disabled")
	}

	if cfg.Console {
		in, out, errOut := o.consoleIn, o.consoleOut, o.consoleErr
		if in == nil {
			in, out, errOut = os.Stdin, os.Stdout, os.Stderr
		}
		a.console = console.New(console.Config{
			Agent:   a.agent,
			User:    cfg.ConsoleUser,
			In:      in,
			Out:     out,
			Err:     errOut,
			Chunker: cfg.ChunkerConfig(),
			Logger:  logger,
		})
	}

	if a.srv == nil && a.console == nil {
		return nil, errors.New("no transport enabled: set HASHI_HTTP_ADDR or HASHI_CONSOLE=true")
	}
	return a, nil
}

// cliAdapterFactory builds CLI adapters that run in the configured project
// directory. The project path is re-read on every switch.
func (a *App) cliAdapterFactory(store *configstore.Store) router.AdapterFactory {
	return func(id string) (adapter.Adapter, error) {
		f, err := store.Load()
		if err != nil {
			return nil, err
		}
		return adapter.New(id, a.procs, adapter.Options{Cwd: f.ProjectPath, Logger: a.logger})
	}
}

func (a *App) connectMCPServers(ctx context.Context, entries []configstore.MCPServerEntry) {
	for _, e := range entries {
		if e.Disabled {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, mcpConnectTimeout)
		discovered, err := a.bridge.Connect(cctx, e.ServerConfig())
		cancel()
		if err != nil {
			a.logger.Warn("mcp: connect failed", "server", e.ID, "error", err)
			continue
		}
		a.logger.Info("mcp: connected", "server", e.ID, "tools", len(discovered))
	}
}

func newHandoffStore(ctx context.Context, cfg config.Config) (handoff.Store, error) {
	if cfg.HandoffStore == config.HandoffStoreSQLite {
		s, err := handoff.NewSQLiteStore(ctx, filepath.Join(cfg.DataDir, "handoffs.db"))
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := handoff.NewFileStore(filepath.Join(cfg.DataDir, "handoffs"))
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (a *App) newServer(registry *tools.Registry, exposed []tools.Tool) error {
	var tokens *auth.TokenManager
	if a.cfg.IngressSecret != "" {
		var err error
		if tokens, err = auth.NewTokenManager(a.cfg.IngressSecret); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	} else {
		a.logger.Warn("http ingress: auth disabled (no HASHI_INGRESS_SECRET)")
	}

	a.limiter = ratelimit.NewMemoryLimiter(a.cfg.RateLimitRPS, a.cfg.RateLimitBurst)
	a.logger.Info("rate limiting: memory (in-process token bucket)",
		"rps", a.cfg.RateLimitRPS, "burst", a.cfg.RateLimitBurst)

	a.srv = server.New(server.Config{
		Agent:        a.agent,
		Status:       a.router,
		Logger:       a.logger,
		Tokens:       tokens,
		Limiter:      a.limiter,
		MCPServer:    mcp.NewServer(registry, exposed, a.version, a.logger).MCPServer(),
		Procs:        a.procs,
		Addr:         a.cfg.HTTPAddr,
		ReadTimeout:  a.cfg.ReadTimeout,
		MaxBodyBytes: a.cfg.MaxBodyBytes,
		Chunker:      a.cfg.ChunkerConfig(),
		Version:      a.version,
	})
	return nil
}

// Handler returns the HTTP ingress handler, or nil when the listener is
// disabled.
func (a *App) Handler() http.Handler {
	if a.srv == nil {
		return nil
	}
	return a.srv.Handler()
}

// Run serves the enabled transports until ctx is done, a transport fails,
// or the console reaches end of input with no HTTP listener.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.srv != nil {
		g.Go(a.srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := a.srv.Shutdown(sctx); err != nil {
				a.logger.Error("http shutdown error", "error", err)
			}
			return nil
		})
	}
	if a.console != nil {
		g.Go(func() error { return a.console.Run(gctx) })
	}
	return g.Wait()
}

// Close aborts any running command, disconnects the adapter and MCP servers,
// stops the process sweeper, and flushes telemetry. It is safe after a
// partial New.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.router != nil {
		if err := a.router.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.bridge != nil {
		a.bridge.DisconnectAll()
	}
	if a.procs != nil {
		a.procs.Close()
	}
	if a.handoffStore != nil {
		if err := a.handoffStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("handoff store: %w", err))
		}
	}
	if a.limiter != nil {
		_ = a.limiter.Close()
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: %w", err))
		}
	}
	a.logger.Info("hashi stopped")
	return errors.Join(errs...)
}
