package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/hashi/internal/ctxutil"
	"github.com/ashita-ai/hashi/internal/telemetry"
)

// ErrUnknownTool is reported (as an isError result) for unregistered names.
var ErrUnknownTool = errors.New("tools: unknown tool")

// ErrDuplicateTool is returned by Register when the name is taken.
var ErrDuplicateTool = errors.New("tools: duplicate tool name")

// Registry holds the available tools. Safe for concurrent use.
type Registry struct {
	logger *slog.Logger

	mu    sync.RWMutex
	tools map[string]Tool

	executions metric.Int64Counter
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{logger: logger, tools: make(map[string]Tool)}
	r.executions, _ = telemetry.Meter("hashi/tools").Int64Counter("hashi.tools.executions",
		metric.WithDescription("Tool invocations by tool name and outcome"))
	return r
}

// Register adds a tool. Names are unique across the registry.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if name == "" {
		return errors.New("tools: register: empty tool name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.tools[name] = t
	return nil
}

// Unregister removes a tool by name and reports whether it existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tools[name]
	delete(r.tools, name)
	return ok
}

// UnregisterPrefix removes every tool whose name starts with prefix and
// returns how many were removed.
func (r *Registry) UnregisterPrefix(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for name := range r.tools {
		if strings.HasPrefix(name, prefix) {
			delete(r.tools, name)
			n++
		}
	}
	return n
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// List returns the registered tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Definitions returns a fresh definition for every tool, sorted by name.
func (r *Registry) Definitions() []Definition {
	list := r.List()
	defs := make([]Definition, 0, len(list))
	for _, t := range list {
		defs = append(defs, t.Definition())
	}
	return defs
}

// Execute runs one tool. Unknown names, an already-ended context, and tool
// panics all come back as isError results.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tools: tool panicked", "tool", name, "principal", ctxutil.PrincipalFromContext(ctx), "panic", p)
			res = ErrorResult("tool %s failed: %v", name, p)
		}
		r.record(ctx, name, res.IsError)
	}()

	t, ok := r.Get(name)
	if !ok {
		return ErrorResult("%v: %s", ErrUnknownTool, name)
	}
	if err := ctx.Err(); err != nil {
		return abortedResult(ctx, name)
	}
	if args == nil {
		args = map[string]any{}
	}
	r.logger.Debug("tools: execute", "tool", name, "principal", ctxutil.PrincipalFromContext(ctx))
	res = t.Execute(ctx, args)
	if ctx.Err() != nil && !res.IsError {
		// The tool ignored cancellation; do not hand back a result that
		// raced the abort.
		return abortedResult(ctx, name)
	}
	return res
}

// ExecuteAll runs calls concurrently and returns results in call order,
// each tagged with its call id.
func (r *Registry) ExecuteAll(ctx context.Context, calls []Call) []Result {
	results := make([]Result, len(calls))
	var g errgroup.Group
	for i, c := range calls {
		g.Go(func() error {
			res := r.Execute(ctx, c.Name, c.Args)
			res.ToolCallID = c.ID
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Registry) record(ctx context.Context, name string, isError bool) {
	if r.executions == nil {
		return
	}
	r.executions.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(
		attribute.String("tool", name),
		attribute.Bool("error", isError),
	))
}

func abortedResult(ctx context.Context, name string) Result {
	return Result{
		Output:   fmt.Sprintf("tool %s aborted: %v", name, context.Cause(ctx)),
		IsError:  true,
		Metadata: map[string]any{"aborted": true},
	}
}
