package procreg

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hashi/internal/testutil"
)

func TestSpawn_CapturesOutputAndExitCode(t *testing.T) {
	testutil.SkipUnlessPOSIX(t)
	r := newTestRegistry(Config{})
	defer r.Close()

	var mu sync.Mutex
	var streamed strings.Builder
	p, err := r.Spawn(context.Background(), SpawnOptions{
		Command: "echo out; echo err 1>&2; exit 7",
		OnOutput: func(_ Stream, chunk string) {
			mu.Lock()
			streamed.WriteString(chunk)
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	snap, err := p.Wait()
	require.NoError(t, err)
	assert.Equal(t, 7, snap.ExitCode)
	assert.True(t, snap.Exited)
	assert.Contains(t, snap.Aggregated, "out")
	assert.Contains(t, snap.Aggregated, "err")
	mu.Lock()
	assert.Contains(t, streamed.String(), "out")
	mu.Unlock()

	_, ok := r.Get(p.ID)
	assert.False(t, ok, "foreground session is discarded after exit")
}

func TestSpawn_DirectExecWithArgs(t *testing.T) {
	testutil.SkipUnlessPOSIX(t)
	r := newTestRegistry(Config{})
	defer r.Close()

	script := testutil.WriteScript(t, "args.sh", `echo "got:$1:$2"`)
	p, err := r.Spawn(context.Background(), SpawnOptions{Path: script, Args: []string{"a b", "c"}})
	require.NoError(t, err)
	snap, err := p.Wait()
	require.NoError(t, err)
	assert.Equal(t, "got:a b:c\n", snap.Aggregated)
}

func TestSpawn_CancelKillsProcessTree(t *testing.T) {
	testutil.SkipUnlessPOSIX(t)
	r := newTestRegistry(Config{})
	defer r.Close()

	cause := errors.New("pre-empted")
	ctx, cancel := context.WithCancelCause(context.Background())
	// The child shell spawns a grandchild sleep; both must die.
	p, err := r.Spawn(ctx, SpawnOptions{Command: "sleep 30 & sleep 30; wait"})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	cancel(cause)

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process tree was not killed on cancel")
	}
	snap, err := p.Wait()
	assert.ErrorIs(t, err, cause)
	assert.NotEqual(t, 0, snap.ExitCode)
}

func TestSpawn_BackgroundSurvivesCancelAndIsRetained(t *testing.T) {
	testutil.SkipUnlessPOSIX(t)
	r := newTestRegistry(Config{})
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	p, err := r.Spawn(ctx, SpawnOptions{Command: "sleep 0.2; echo bg-done", Background: true})
	require.NoError(t, err)
	cancel()

	snap, err := p.Wait()
	require.NoError(t, err)
	assert.Equal(t, 0, snap.ExitCode)

	kept, ok := r.Get(p.ID)
	require.True(t, ok)
	assert.Contains(t, kept.Aggregated, "bg-done")
}

func TestSpawn_KillRunningSession(t *testing.T) {
	testutil.SkipUnlessPOSIX(t)
	r := newTestRegistry(Config{})
	defer r.Close()

	p, err := r.Spawn(context.Background(), SpawnOptions{Command: "sleep 30", Background: true})
	require.NoError(t, err)
	require.NoError(t, r.Kill(p.ID, true))

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("force kill did not stop the process")
	}
	snap, _ := p.Wait()
	assert.Equal(t, "SIGKILL", snap.ExitSignal)
}

func TestSpawn_AlreadyCancelled(t *testing.T) {
	r := newTestRegistry(Config{})
	defer r.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Spawn(ctx, SpawnOptions{Command: "echo hi"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, r.Running())
}
