// Package config loads and validates process configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ashita-ai/hashi/internal/stream"
)

// Handoff store backends.
const (
	HandoffStoreFile   = "file"
	HandoffStoreSQLite = "sqlite"
)

// Config holds all process configuration. Persisted agent state (authorized
// user, active provider, MCP servers) lives in the config file managed by
// configstore, not here.
type Config struct {
	// Paths.
	ConfigPath string // JSON agent state file.
	DataDir    string // Handoff snapshots and other runtime data.

	// HTTP ingress. Empty HTTPAddr disables the listener.
	HTTPAddr       string
	IngressSecret  string // HS256 secret for bearer tokens; empty disables auth.
	RateLimitRPS   float64
	RateLimitBurst int
	ReadTimeout    time.Duration
	MaxBodyBytes   int64

	// Console transport.
	Console     bool
	ConsoleUser string

	HandoffStore string

	// Process registry bounds.
	ProcessRetention      time.Duration
	ProcessSweepInterval  time.Duration
	MaxOutputChars        int
	PendingMaxOutputChars int

	// Block chunking.
	ChunkMinChars int
	ChunkMaxChars int
	ChunkBreak    string

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string
	OTELInsecure bool

	// Provider API-key fallbacks used when the config file carries none.
	AnthropicAPIKey  string
	OpenAIAPIKey     string
	GeminiAPIKey     string
	OpenRouterAPIKey string

	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
// Every malformed variable is reported, not just the first.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	dataDir := envStr("HASHI_DATA_DIR", filepath.Join(home, ".hashi"))

	cfg := Config{
		ConfigPath:       envStr("HASHI_CONFIG_PATH", filepath.Join(dataDir, "config.json")),
		DataDir:          dataDir,
		HTTPAddr:         envStr("HASHI_HTTP_ADDR", ":8088"),
		IngressSecret:    envStr("HASHI_INGRESS_SECRET", ""),
		ConsoleUser:      envStr("HASHI_CONSOLE_USER", "console"),
		HandoffStore:     envStr("HASHI_HANDOFF_STORE", HandoffStoreFile),
		ChunkBreak:       envStr("HASHI_CHUNK_BREAK", string(stream.BreakParagraph)),
		OTELEndpoint:     envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:      envStr("OTEL_SERVICE_NAME", "hashi"),
		AnthropicAPIKey:  envStr("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:     envStr("OPENAI_API_KEY", ""),
		GeminiAPIKey:     envStr("GEMINI_API_KEY", ""),
		OpenRouterAPIKey: envStr("OPENROUTER_API_KEY", ""),
		LogLevel:         envStr("HASHI_LOG_LEVEL", "info"),
	}
	// HASHI_HTTP_ADDR="" explicitly disables the listener.
	if v, ok := os.LookupEnv("HASHI_HTTP_ADDR"); ok && v == "" {
		cfg.HTTPAddr = ""
	}

	var burst, maxOut, pendingMax, chunkMin, chunkMax, maxBody int
	var e error
	cfg.RateLimitRPS, e = envFloat("HASHI_RATE_LIMIT_RPS", 2)
	collect(e)
	burst, e = envInt("HASHI_RATE_LIMIT_BURST", 10)
	collect(e)
	cfg.RateLimitBurst = burst
	cfg.ReadTimeout, e = envDuration("HASHI_READ_TIMEOUT", 30*time.Second)
	collect(e)
	maxBody, e = envInt("HASHI_MAX_REQUEST_BODY_BYTES", 1*1024*1024) // 1 MB default
	collect(e)
	cfg.MaxBodyBytes = int64(maxBody)
	cfg.Console, e = envBool("HASHI_CONSOLE", false)
	collect(e)
	cfg.ProcessRetention, e = envDuration("HASHI_PROCESS_RETENTION", 30*time.Minute)
	collect(e)
	cfg.ProcessSweepInterval, e = envDuration("HASHI_PROCESS_SWEEP_INTERVAL", time.Minute)
	collect(e)
	maxOut, e = envInt("HASHI_MAX_OUTPUT_CHARS", 200_000)
	collect(e)
	cfg.MaxOutputChars = maxOut
	pendingMax, e = envInt("HASHI_PENDING_MAX_OUTPUT_CHARS", 30_000)
	collect(e)
	cfg.PendingMaxOutputChars = pendingMax
	chunkMin, e = envInt("HASHI_CHUNK_MIN_CHARS", 200)
	collect(e)
	cfg.ChunkMinChars = chunkMin
	chunkMax, e = envInt("HASHI_CHUNK_MAX_CHARS", 1500)
	collect(e)
	cfg.ChunkMaxChars = chunkMax
	cfg.OTELInsecure, e = envBool("HASHI_OTEL_INSECURE", false)
	collect(e)

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if c.ChunkMinChars <= 0 || c.ChunkMaxChars <= 0 {
		return fmt.Errorf("config: HASHI_CHUNK_MIN_CHARS and HASHI_CHUNK_MAX_CHARS must be positive")
	}
	if c.ChunkMinChars > c.ChunkMaxChars {
		return fmt.Errorf("config: HASHI_CHUNK_MIN_CHARS (%d) exceeds HASHI_CHUNK_MAX_CHARS (%d)", c.ChunkMinChars, c.ChunkMaxChars)
	}
	if _, err := stream.ParseBreakMode(c.ChunkBreak); err != nil {
		return fmt.Errorf("config: HASHI_CHUNK_BREAK: %w", err)
	}
	switch c.HandoffStore {
	case HandoffStoreFile, HandoffStoreSQLite:
	default:
		return fmt.Errorf("config: HASHI_HANDOFF_STORE=%q must be %q or %q", c.HandoffStore, HandoffStoreFile, HandoffStoreSQLite)
	}
	if c.MaxOutputChars <= 0 || c.PendingMaxOutputChars <= 0 {
		return fmt.Errorf("config: output caps must be positive")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("config: HASHI_RATE_LIMIT_RPS and HASHI_RATE_LIMIT_BURST must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("config: HASHI_MAX_REQUEST_BODY_BYTES must be positive")
	}
	return nil
}

// ChunkerConfig returns the block chunker settings.
func (c Config) ChunkerConfig() stream.ChunkerConfig {
	mode, _ := stream.ParseBreakMode(c.ChunkBreak)
	return stream.ChunkerConfig{MinChars: c.ChunkMinChars, MaxChars: c.ChunkMaxChars, BreakMode: mode}
}

// SlogLevel maps LogLevel onto a slog level. Unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
