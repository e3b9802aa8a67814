package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"slices"
	"strings"
	"sync"

	"github.com/ashita-ai/hashi/internal/model"
	"github.com/ashita-ai/hashi/internal/procreg"
	"github.com/ashita-ai/hashi/internal/stream"
)

// MaxResultChars caps the text returned from one command.
const MaxResultChars = 2000

// Options configures a CLI adapter.
type Options struct {
	// Cwd is the project directory the CLI runs in.
	Cwd string
	// BinaryPath overrides the catalog binary, mainly for tests.
	BinaryPath string
	Model      string
	Logger     *slog.Logger
}

// CLI runs a catalog binary through the process registry.
type CLI struct {
	spec   Spec
	procs  *procreg.Registry
	norm   *stream.Normalizer
	cwd    string
	binary string
	logger *slog.Logger

	mu        sync.Mutex
	model     string
	connected bool
	running   string // session id of the in-flight command
	files     model.TrackedFiles
}

var _ Adapter = (*CLI)(nil)

// New constructs the adapter registered under id.
func New(id string, procs *procreg.Registry, opts Options) (*CLI, error) {
	spec, err := Lookup(id)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	binary := opts.BinaryPath
	if binary == "" {
		binary = spec.Binary
	}
	m := opts.Model
	if m == "" {
		m = spec.DefaultModel
	}
	return &CLI{
		spec:   spec,
		procs:  procs,
		norm:   stream.NewNormalizer(),
		cwd:    opts.Cwd,
		binary: binary,
		logger: logger.With("adapter", id),
		model:  m,
	}, nil
}

func (c *CLI) ID() string { return c.spec.ID }

// Connect resolves the binary on PATH.
func (c *CLI) Connect(context.Context) error {
	if _, err := exec.LookPath(c.binary); err != nil {
		return fmt.Errorf("adapter: %s: %w", c.spec.ID, err)
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

// Disconnect aborts any in-flight command.
func (c *CLI) Disconnect(context.Context) error {
	c.Abort()
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return nil
}

func (c *CLI) ExecuteCommand(ctx context.Context, instruction string, history []model.ConversationEntry, onProgress func(string)) (string, error) {
	c.mu.Lock()
	m := c.model
	c.mu.Unlock()

	prompt := renderPrompt(instruction, history)
	c.noteHistoryFiles(history)

	var progressMu sync.Mutex
	p, err := c.procs.Spawn(ctx, procreg.SpawnOptions{
		Path: c.binary,
		Args: c.spec.Args(prompt, m),
		Cwd:  c.cwd,
		OnOutput: func(_ procreg.Stream, chunk string) {
			if onProgress == nil {
				return
			}
			progressMu.Lock()
			defer progressMu.Unlock()
			onProgress(chunk)
		},
	})
	if err != nil {
		return "", fmt.Errorf("adapter: %s: %w", c.spec.ID, err)
	}

	c.mu.Lock()
	c.running = p.ID
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.running == p.ID {
			c.running = ""
		}
		c.mu.Unlock()
	}()

	snap, err := p.Wait()
	if err != nil {
		return "", fmt.Errorf("adapter: %s: %w", c.spec.ID, err)
	}

	out := truncate(c.norm.Normalize(snap.Aggregated), MaxResultChars)
	c.trackOutputFiles(out)
	if snap.ExitCode != 0 {
		c.logger.Warn("adapter: command failed", "exit_code", snap.ExitCode, "signal", snap.ExitSignal)
		if strings.TrimSpace(out) == "" {
			return "", fmt.Errorf("adapter: %s exited with code %d", c.spec.ID, snap.ExitCode)
		}
		return "", fmt.Errorf("adapter: %s exited with code %d: %s", c.spec.ID, snap.ExitCode, out)
	}
	if strings.TrimSpace(out) == "" {
		out = "(no output)"
	}
	return out, nil
}

func (c *CLI) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := "idle"
	if c.running != "" {
		state = "running"
	}
	conn := "not connected"
	if c.connected {
		conn = "connected"
	}
	m := c.model
	if m == "" {
		m = "default"
	}
	return fmt.Sprintf("%s (%s): %s, %s, model %s", c.spec.Name, c.spec.ID, conn, state, m)
}

// Abort kills the in-flight command's process tree, if any.
func (c *CLI) Abort() {
	c.mu.Lock()
	id := c.running
	c.mu.Unlock()
	if id == "" {
		return
	}
	if err := c.procs.Kill(id, false); err != nil && !errors.Is(err, procreg.ErrNotFound) {
		c.logger.Warn("adapter: abort failed", "session", id, "error", err)
	}
}

func (c *CLI) AvailableModels() []model.ModelInfo {
	return slices.Clone(c.spec.Models)
}

func (c *CLI) CurrentModel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// SetModel accepts any non-empty id; CLIs validate model names themselves.
func (c *CLI) SetModel(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("adapter: empty model id")
	}
	c.mu.Lock()
	c.model = id
	c.mu.Unlock()
	return nil
}

func (c *CLI) TrackedFiles() model.TrackedFiles {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.TrackedFiles{
		Modified: slices.Clone(c.files.Modified),
		Read:     slices.Clone(c.files.Read),
	}
}

var (
	modifiedVerbs = []string{"edited", "modified", "wrote", "created", "updated", "files modified:"}
	readVerbs     = []string{"read", "viewed", "files read:"}
)

// trackOutputFiles records paths the CLI reports touching, e.g.
// "Edited src/main.go".
func (c *CLI) trackOutputFiles(out string) {
	for line := range strings.Lines(out) {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		if paths := pathsAfter(line, lower, modifiedVerbs); len(paths) > 0 {
			c.addFiles(paths, nil)
		} else if paths := pathsAfter(line, lower, readVerbs); len(paths) > 0 {
			c.addFiles(nil, paths)
		}
	}
}

func (c *CLI) noteHistoryFiles(history []model.ConversationEntry) {
	for _, e := range history {
		if e.Role == model.RoleUser {
			c.trackOutputFiles(e.Content)
		}
	}
}

func (c *CLI) addFiles(modified, read []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range modified {
		if !slices.Contains(c.files.Modified, p) {
			c.files.Modified = append(c.files.Modified, p)
		}
	}
	for _, p := range read {
		if !slices.Contains(c.files.Read, p) && !slices.Contains(c.files.Modified, p) {
			c.files.Read = append(c.files.Read, p)
		}
	}
}

func pathsAfter(line, lower string, verbs []string) []string {
	for _, v := range verbs {
		if !strings.HasPrefix(lower, v+" ") {
			continue
		}
		var out []string
		for _, f := range strings.FieldsFunc(line[len(v)+1:], func(r rune) bool { return r == ',' || r == ' ' }) {
			f = strings.Trim(f, "`'\".:")
			if looksLikePath(f) {
				out = append(out, f)
			}
		}
		return out
	}
	return nil
}

func looksLikePath(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t") {
		return false
	}
	return strings.Contains(s, "/") || (strings.Contains(s, ".") && !strings.HasSuffix(s, "."))
}

// truncate keeps the first n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
