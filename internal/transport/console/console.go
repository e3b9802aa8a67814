// Package console is a line-oriented stdin/stdout transport for running the
// agent locally. Each input line is one message from the configured user.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/ashita-ai/hashi/internal/ctxutil"
	"github.com/ashita-ai/hashi/internal/model"
	"github.com/ashita-ai/hashi/internal/stream"
)

// maxLineBytes bounds one input line.
const maxLineBytes = 1 << 20

// Agent is the subset of the agent core the console drives.
type Agent interface {
	ProcessMessage(ctx context.Context, msg model.Message, onProgress func(string)) string
	ShouldStream(from, text string) bool
}

// Config wires a console transport. Nil writers discard.
type Config struct {
	Agent   Agent
	User    string
	In      io.Reader
	Out     io.Writer
	Err     io.Writer
	Chunker stream.ChunkerConfig
	Logger  *slog.Logger
}

// Console reads messages from In and writes replies to Out. Typing pulses go
// to Err so piped output stays clean.
type Console struct {
	agent   Agent
	user    string
	in      io.Reader
	chunker stream.ChunkerConfig
	logger  *slog.Logger

	mu  sync.Mutex // serializes writes to out and err
	out io.Writer
	err io.Writer
}

// New creates a console transport.
func New(cfg Config) *Console {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Out == nil {
		cfg.Out = io.Discard
	}
	if cfg.Err == nil {
		cfg.Err = io.Discard
	}
	if cfg.User == "" {
		cfg.User = "console"
	}
	return &Console{
		agent:   cfg.Agent,
		user:    cfg.User,
		in:      cfg.In,
		chunker: cfg.Chunker,
		logger:  cfg.Logger,
		out:     cfg.Out,
		err:     cfg.Err,
	}
}

// Run reads lines until EOF or ctx is done. Each message is handled on its
// own goroutine so a /cancel or a new instruction can reach the router while
// a code command is still running. Run waits for in-flight messages before
// returning.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	c.logger.Info("console: ready", "user", c.user)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				if err := <-scanErr; err != nil {
					return fmt.Errorf("console: read input: %w", err)
				}
				return nil
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.handle(ctx, text)
			}()
		}
	}
}

func (c *Console) handle(ctx context.Context, text string) {
	msg := model.NewMessage(c.user, text)
	ctx = ctxutil.WithPrincipal(ctx, msg.From)
	if !c.agent.ShouldStream(msg.From, msg.Text) {
		c.println(c.agent.ProcessMessage(ctx, msg, nil))
		return
	}

	signaler := stream.NewSignaler(stream.PlatformConsole, func(context.Context) error {
		return c.write(c.err, "…\n")
	}, c.logger)
	pipe := stream.NewPipeline(c.chunker, signaler, func(_ context.Context, chunk model.StreamChunk) error {
		if chunk.Text == "" {
			return nil
		}
		return c.write(c.out, chunk.Text+"\n")
	}, c.logger)

	signaler.SignalTyping(ctx)
	reply := c.agent.ProcessMessage(ctx, msg, pipe.Progress(ctx))
	pipe.Flush(ctx, false)
	c.println(reply)
}

func (c *Console) println(s string) {
	if err := c.write(c.out, s+"\n"); err != nil {
		c.logger.Warn("console: write failed", "error", err)
	}
}

func (c *Console) write(w io.Writer, s string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.WriteString(w, s)
	return err
}
