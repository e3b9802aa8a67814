package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ashita-ai/hashi/internal/procreg"
)

// ProcessTool inspects and controls background sessions.
type ProcessTool struct {
	procs *procreg.Registry
}

// NewProcessTool creates the "process" tool.
func NewProcessTool(procs *procreg.Registry) *ProcessTool {
	return &ProcessTool{procs: procs}
}

func (t *ProcessTool) Name() string { return "process" }

func (t *ProcessTool) Description() string {
	return "Manage background command sessions: list them, poll new output, read the log tail, or kill one."
}

func (t *ProcessTool) Definition() Definition {
	return Definition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: ObjectParams(map[string]*ParameterProperty{
			"action":    {Type: TypeString, Description: "Operation to perform", Enum: []string{"list", "poll", "log", "kill"}},
			"sessionId": {Type: TypeString, Description: "Session id for poll, log, and kill"},
		}, "action"),
	}
}

func (t *ProcessTool) Execute(_ context.Context, args map[string]any) Result {
	action := StringArg(args, "action")
	id := StringArg(args, "sessionId")
	if action != "list" && id == "" {
		return ErrorResult("process: sessionId is required for %s", action)
	}

	switch action {
	case "list":
		return Result{Output: t.list()}
	case "poll":
		snap, ok := t.procs.Get(id)
		if !ok {
			return ErrorResult("process: no session %s", id)
		}
		if snap.Exited {
			return Result{Output: fmt.Sprintf("%s\n[exited with code %d]", snap.Tail, snap.ExitCode)}
		}
		stdout, _ := t.procs.DrainPending(id, procreg.Stdout)
		stderr, _ := t.procs.DrainPending(id, procreg.Stderr)
		out := stdout
		if stderr != "" {
			out += "\n[stderr]\n" + stderr
		}
		if out == "" {
			out = "(no new output)"
		}
		return Result{Output: out + "\n[running]"}
	case "log":
		snap, ok := t.procs.Get(id)
		if !ok {
			return ErrorResult("process: no session %s", id)
		}
		return Result{Output: snap.Tail, Metadata: map[string]any{"truncated": snap.Truncated}}
	case "kill":
		if err := t.procs.Kill(id, false); err != nil {
			return ErrorResult("process: kill %s: %v", id, err)
		}
		return Result{Output: "killed " + id}
	default:
		return ErrorResult("process: unknown action %q", action)
	}
}

func (t *ProcessTool) list() string {
	var b strings.Builder
	now := time.Now()
	for _, s := range t.procs.Running() {
		fmt.Fprintf(&b, "%s running %s  %s\n", s.ID, now.Sub(s.StartedAt).Round(time.Second), s.Command)
	}
	for _, s := range t.procs.Finished() {
		fmt.Fprintf(&b, "%s exited(%d)  %s\n", s.ID, s.ExitCode, s.Command)
	}
	if b.Len() == 0 {
		return "no sessions"
	}
	return strings.TrimRight(b.String(), "\n")
}
