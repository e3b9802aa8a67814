package tools

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hashi/internal/testutil"
)

type fakeTool struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context, args map[string]any) Result
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "fake " + f.name }
func (f *fakeTool) Definition() Definition {
	return Definition{Name: f.name, Description: f.Description(), Parameters: ObjectParams(nil)}
}
func (f *fakeTool) Execute(ctx context.Context, args map[string]any) Result {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx, args)
	}
	return Result{Output: "ok:" + StringArg(args, "v")}
}

func TestRegistry_RegisterAndList(t *testing.T) {
	r := NewRegistry(testutil.TestLogger())
	require.NoError(t, r.Register(&fakeTool{name: "b"}))
	require.NoError(t, r.Register(&fakeTool{name: "a"}))
	err := r.Register(&fakeTool{name: "a"})
	assert.ErrorIs(t, err, ErrDuplicateTool)

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "a", defs[0].Name)
	assert.Equal(t, "b", defs[1].Name)

	require.NoError(t, r.Register(&fakeTool{name: "srv_x"}))
	require.NoError(t, r.Register(&fakeTool{name: "srv_y"}))
	assert.Equal(t, 2, r.UnregisterPrefix("srv_"))
	assert.True(t, r.Unregister("a"))
	assert.False(t, r.Unregister("a"))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_ExecuteUnknownTool(t *testing.T) {
	r := NewRegistry(testutil.TestLogger())
	res := r.Execute(context.Background(), "missing", nil)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Output, "missing")
}

func TestRegistry_ExecutePreAborted(t *testing.T) {
	r := NewRegistry(testutil.TestLogger())
	tool := &fakeTool{name: "t"}
	require.NoError(t, r.Register(tool))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := r.Execute(ctx, "t", nil)
	assert.True(t, res.IsError)
	assert.Equal(t, true, res.Metadata["aborted"])
	assert.Equal(t, int32(0), tool.calls.Load(), "tool must not run after abort")
}

func TestRegistry_ExecuteRecoversPanic(t *testing.T) {
	r := NewRegistry(testutil.TestLogger())
	require.NoError(t, r.Register(&fakeTool{name: "boom", fn: func(context.Context, map[string]any) Result {
		panic("kaboom")
	}}))
	var res Result
	assert.NotPanics(t, func() { res = r.Execute(context.Background(), "boom", nil) })
	assert.True(t, res.IsError)
	assert.Contains(t, res.Output, "kaboom")
}

func TestRegistry_ExecuteAllTagsIDsConcurrently(t *testing.T) {
	r := NewRegistry(testutil.TestLogger())
	var inFlight, peak atomic.Int32
	slow := &fakeTool{name: "slow", fn: func(_ context.Context, args map[string]any) Result {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		inFlight.Add(-1)
		return Result{Output: StringArg(args, "v")}
	}}
	require.NoError(t, r.Register(slow))

	results := r.ExecuteAll(context.Background(), []Call{
		{ID: "c1", Name: "slow", Args: map[string]any{"v": "one"}},
		{ID: "c2", Name: "nope"},
		{ID: "c3", Name: "slow", Args: map[string]any{"v": "three"}},
	})
	require.Len(t, results, 3)
	assert.Equal(t, "c1", results[0].ToolCallID)
	assert.Equal(t, "one", results[0].Output)
	assert.Equal(t, "c2", results[1].ToolCallID)
	assert.True(t, results[1].IsError)
	assert.Equal(t, "c3", results[2].ToolCallID)
	assert.Equal(t, "three", results[2].Output)
	assert.Equal(t, int32(2), peak.Load())
}

func TestRegistry_ExecuteAllAfterAbort(t *testing.T) {
	r := NewRegistry(testutil.TestLogger())
	require.NoError(t, r.Register(&fakeTool{name: "t"}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, res := range r.ExecuteAll(ctx, []Call{{ID: "1", Name: "t"}, {ID: "2", Name: "t"}}) {
		assert.True(t, res.IsError)
		assert.Contains(t, res.Output, "aborted")
	}
}

func TestArgHelpers(t *testing.T) {
	args := map[string]any{"s": "x", "n": 2.5, "ns": "3", "b": true, "bs": "true", "i": 4}
	assert.Equal(t, "x", StringArg(args, "s"))
	assert.Equal(t, "2.5", StringArg(args, "n"))
	assert.Equal(t, "", StringArg(args, "missing"))
	assert.True(t, BoolArg(args, "b"))
	assert.True(t, BoolArg(args, "bs"))
	assert.False(t, BoolArg(args, "missing"))

	n, ok := NumberArg(args, "n")
	assert.True(t, ok)
	assert.Equal(t, 2.5, n)
	n, ok = NumberArg(args, "ns")
	assert.True(t, ok)
	assert.Equal(t, 3.0, n)
	n, ok = NumberArg(args, "i")
	assert.True(t, ok)
	assert.Equal(t, 4.0, n)
	_, ok = NumberArg(args, "s")
	assert.False(t, ok)
}
