package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ashita-ai/hashi/internal/procreg"
)

// ExecTool runs shell commands through the process registry.
type ExecTool struct {
	procs      *procreg.Registry
	defaultCwd string
}

// NewExecTool creates the "exec" tool. defaultCwd is used when the model
// does not pass cwd.
func NewExecTool(procs *procreg.Registry, defaultCwd string) *ExecTool {
	return &ExecTool{procs: procs, defaultCwd: defaultCwd}
}

func (t *ExecTool) Name() string { return "exec" }

func (t *ExecTool) Description() string {
	return "Run a shell command. Foreground commands return their output and exit code; " +
		"background commands return a session id that the process tool can inspect."
}

func (t *ExecTool) Definition() Definition {
	return Definition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: ObjectParams(map[string]*ParameterProperty{
			"command":        {Type: TypeString, Description: "Shell command line to run"},
			"cwd":            {Type: TypeString, Description: "Working directory"},
			"background":     {Type: TypeBoolean, Description: "Return immediately and keep the process running", Default: false},
			"timeoutSeconds": {Type: TypeNumber, Description: "Kill the command after this many seconds (foreground only)"},
		}, "command"),
	}
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]any) Result {
	command := strings.TrimSpace(StringArg(args, "command"))
	if command == "" {
		return ErrorResult("exec: command is required")
	}
	cwd := StringArg(args, "cwd")
	if cwd == "" {
		cwd = t.defaultCwd
	}

	if BoolArg(args, "background") {
		p, err := t.procs.Spawn(context.WithoutCancel(ctx), procreg.SpawnOptions{
			Command:    command,
			Cwd:        cwd,
			Background: true,
		})
		if err != nil {
			return ErrorResult("exec: %v", err)
		}
		return Result{
			Output:   fmt.Sprintf("started background session %s (pid %d)", p.ID, p.PID),
			Metadata: map[string]any{"sessionId": p.ID, "pid": p.PID},
		}
	}

	runCtx := ctx
	if secs, ok := NumberArg(args, "timeoutSeconds"); ok && secs > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeoutCause(ctx, time.Duration(secs*float64(time.Second)), errCommandTimeout)
		defer cancel()
	}

	p, err := t.procs.Spawn(runCtx, procreg.SpawnOptions{Command: command, Cwd: cwd})
	if err != nil {
		return ErrorResult("exec: %v", err)
	}
	snap, err := p.Wait()
	meta := map[string]any{"exitCode": snap.ExitCode, "truncated": snap.Truncated}
	if err != nil {
		msg := "cancelled"
		if errors.Is(err, errCommandTimeout) {
			msg = "timed out"
		}
		return Result{Output: fmt.Sprintf("command %s\n%s", msg, snap.Tail), IsError: true, Metadata: meta}
	}

	out := snap.Aggregated
	if snap.Truncated {
		out = "[output truncated]\n" + out
	}
	out = strings.TrimRight(out, "\n") + fmt.Sprintf("\n[exit code %d]", snap.ExitCode)
	return Result{Output: out, IsError: snap.ExitCode != 0, Metadata: meta}
}

var errCommandTimeout = errors.New("command timed out")
