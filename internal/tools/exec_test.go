package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hashi/internal/procreg"
	"github.com/ashita-ai/hashi/internal/testutil"
)

func newProcs(t *testing.T) *procreg.Registry {
	t.Helper()
	r := procreg.New(procreg.Config{}, testutil.TestLogger())
	t.Cleanup(r.Close)
	return r
}

func TestExecTool_Foreground(t *testing.T) {
	testutil.SkipUnlessPOSIX(t)
	tool := NewExecTool(newProcs(t), t.TempDir())

	res := tool.Execute(context.Background(), map[string]any{"command": "echo hello"})
	assert.False(t, res.IsError)
	assert.Equal(t, "hello\n[exit code 0]", res.Output)

	res = tool.Execute(context.Background(), map[string]any{"command": "exit 3"})
	assert.True(t, res.IsError)
	assert.Contains(t, res.Output, "[exit code 3]")
}

func TestExecTool_UsesCwd(t *testing.T) {
	testutil.SkipUnlessPOSIX(t)
	dir := t.TempDir()
	tool := NewExecTool(newProcs(t), "")
	res := tool.Execute(context.Background(), map[string]any{"command": "pwd", "cwd": dir})
	require.False(t, res.IsError, res.Output)
	assert.Contains(t, res.Output, dir)
}

func TestExecTool_Timeout(t *testing.T) {
	testutil.SkipUnlessPOSIX(t)
	tool := NewExecTool(newProcs(t), "")
	start := time.Now()
	res := tool.Execute(context.Background(), map[string]any{"command": "sleep 20", "timeoutSeconds": 0.2})
	assert.True(t, res.IsError)
	assert.True(t, strings.HasPrefix(res.Output, "command timed out"))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecTool_RequiresCommand(t *testing.T) {
	tool := NewExecTool(newProcs(t), "")
	res := tool.Execute(context.Background(), map[string]any{})
	assert.True(t, res.IsError)
}

func TestProcessTool_BackgroundLifecycle(t *testing.T) {
	testutil.SkipUnlessPOSIX(t)
	procs := newProcs(t)
	execTool := NewExecTool(procs, "")
	procTool := NewProcessTool(procs)

	res := execTool.Execute(context.Background(), map[string]any{
		"command":    "echo started; sleep 30",
		"background": true,
	})
	require.False(t, res.IsError, res.Output)
	id, _ := res.Metadata["sessionId"].(string)
	require.NotEmpty(t, id)

	list := procTool.Execute(context.Background(), map[string]any{"action": "list"})
	assert.Contains(t, list.Output, id)

	assert.Eventually(t, func() bool {
		snap, ok := procs.Get(id)
		return ok && strings.Contains(snap.Aggregated, "started")
	}, 5*time.Second, 20*time.Millisecond)

	poll := procTool.Execute(context.Background(), map[string]any{"action": "poll", "sessionId": id})
	assert.Contains(t, poll.Output, "started")
	assert.Contains(t, poll.Output, "[running]")

	kill := procTool.Execute(context.Background(), map[string]any{"action": "kill", "sessionId": id})
	require.False(t, kill.IsError, kill.Output)

	assert.Eventually(t, func() bool {
		snap, ok := procs.Get(id)
		return ok && snap.Exited
	}, 5*time.Second, 20*time.Millisecond)

	logRes := procTool.Execute(context.Background(), map[string]any{"action": "log", "sessionId": id})
	assert.Contains(t, logRes.Output, "started")
}

func TestProcessTool_Validation(t *testing.T) {
	procTool := NewProcessTool(newProcs(t))
	assert.True(t, procTool.Execute(context.Background(), map[string]any{"action": "poll"}).IsError)
	assert.True(t, procTool.Execute(context.Background(), map[string]any{"action": "poll", "sessionId": "x"}).IsError)
	assert.True(t, procTool.Execute(context.Background(), map[string]any{"action": "dance", "sessionId": "x"}).IsError)
	assert.Equal(t, "no sessions", procTool.Execute(context.Background(), map[string]any{"action": "list"}).Output)
}
