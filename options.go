package hashi

import (
	"io"
	"log/slog"

	"github.com/ashita-ai/hashi/internal/config"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
type resolvedOptions struct {
	config         *config.Config
	logger         *slog.Logger
	version        string
	adapterFactory AdapterFactory
	extraTools     []Tool
	consoleIn      io.Reader
	consoleOut     io.Writer
	consoleErr     io.Writer
}

// WithConfig replaces the environment-derived configuration. The value is
// validated the same way as the environment.
func WithConfig(cfg config.Config) Option {
	return func(o *resolvedOptions) { o.config = &cfg }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint, the
// MCP handshake and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithAdapterFactory replaces the built-in CLI adapters.
func WithAdapterFactory(f AdapterFactory) Option {
	return func(o *resolvedOptions) { o.adapterFactory = f }
}

// WithTools registers additional local tools alongside exec and process.
// They are offered to chat providers and exposed over MCP.
func WithTools(t ...Tool) Option {
	return func(o *resolvedOptions) { o.extraTools = append(o.extraTools, t...) }
}

// WithConsoleIO overrides the console transport's streams (stdin, stdout and
// stderr by default).
func WithConsoleIO(in io.Reader, out, errOut io.Writer) Option {
	return func(o *resolvedOptions) {
		o.consoleIn = in
		o.consoleOut = out
		o.consoleErr = errOut
	}
}
