package procreg

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hashi/internal/testutil"
)

func newTestRegistry(cfg Config) *Registry {
	r := New(cfg, testutil.TestLogger())
	return r
}

func TestRegistry_AggregatedCapAndMonotonicTruncation(t *testing.T) {
	r := newTestRegistry(Config{MaxOutputChars: 100, PendingMaxOutputChars: 40})
	defer r.Close()
	id := r.Create(CreateOptions{Command: "test"})

	for i := 0; i < 30; i++ {
		r.AppendOutput(id, Stdout, strings.Repeat("x", 7))
		snap, ok := r.Get(id)
		require.True(t, ok)
		assert.LessOrEqual(t, len(snap.Aggregated), 100)
		if i >= 15 {
			assert.True(t, snap.Truncated)
		}
	}

	r.AppendOutput(id, Stdout, "y")
	snap, _ := r.Get(id)
	assert.True(t, snap.Truncated, "truncated never resets")
	assert.True(t, strings.HasSuffix(snap.Aggregated, "y"))
}

func TestRegistry_PendingCapIsMinOfBoth(t *testing.T) {
	r := newTestRegistry(Config{MaxOutputChars: 30, PendingMaxOutputChars: 50})
	defer r.Close()
	id := r.Create(CreateOptions{Command: "test"})

	r.AppendOutput(id, Stdout, strings.Repeat("a", 45))
	r.AppendOutput(id, Stderr, "err")

	out, err := r.DrainPending(id, Stdout)
	require.NoError(t, err)
	assert.Len(t, out, 30)

	errOut, err := r.DrainPending(id, Stderr)
	require.NoError(t, err)
	assert.Equal(t, "err", errOut)

	out, _ = r.DrainPending(id, Stdout)
	assert.Empty(t, out, "drain clears the pending buffer")
}

func TestRegistry_TailIsLast2000(t *testing.T) {
	r := newTestRegistry(Config{})
	defer r.Close()
	id := r.Create(CreateOptions{Command: "test"})

	r.AppendOutput(id, Stdout, strings.Repeat("a", 3000))
	r.AppendOutput(id, Stdout, "END")
	snap, _ := r.Get(id)
	assert.Len(t, snap.Tail, TailChars)
	assert.True(t, strings.HasSuffix(snap.Tail, "END"))
	assert.False(t, snap.Truncated)
}

func TestRegistry_CapNeverSplitsRunes(t *testing.T) {
	r := newTestRegistry(Config{MaxOutputChars: 5})
	defer r.Close()
	id := r.Create(CreateOptions{Command: "test"})

	r.AppendOutput(id, Stdout, "\u00e9\u00e9\u00e9")
	snap, _ := r.Get(id)
	assert.Equal(t, "\u00e9\u00e9", snap.Aggregated)
}

func TestRegistry_MarkExited(t *testing.T) {
	r := newTestRegistry(Config{})
	defer r.Close()

	fg := r.Create(CreateOptions{Command: "fg"})
	bg := r.Create(CreateOptions{Command: "bg"})
	require.NoError(t, r.MarkBackgrounded(bg))

	_, err := r.MarkExited(fg, 0, "")
	require.NoError(t, err)
	snap, err := r.MarkExited(bg, 3, "")
	require.NoError(t, err)
	assert.True(t, snap.Exited)
	assert.Equal(t, 3, snap.ExitCode)

	_, ok := r.Get(fg)
	assert.False(t, ok, "foreground sessions are discarded on exit")
	kept, ok := r.Get(bg)
	require.True(t, ok)
	assert.True(t, kept.Backgrounded)
	assert.Empty(t, r.Running())
	assert.Len(t, r.Finished(), 1)

	_, err = r.MarkExited(bg, 0, "")
	assert.ErrorIs(t, err, ErrNotFound)

	r.AppendOutput(bg, Stdout, "late output")
	kept, _ = r.Get(bg)
	assert.NotContains(t, kept.Aggregated, "late output")
}

func TestRegistry_SweepRetention(t *testing.T) {
	r := newTestRegistry(Config{Retention: 30 * time.Minute})
	defer r.Close()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	old := r.Create(CreateOptions{Command: "old", Backgrounded: true})
	_, err := r.MarkExited(old, 0, "")
	require.NoError(t, err)

	now = now.Add(20 * time.Minute)
	recent := r.Create(CreateOptions{Command: "recent", Backgrounded: true})
	_, err = r.MarkExited(recent, 0, "")
	require.NoError(t, err)

	assert.Equal(t, 0, r.Sweep())

	now = now.Add(11 * time.Minute)
	assert.Equal(t, 1, r.Sweep())
	_, ok := r.Get(old)
	assert.False(t, ok)
	_, ok = r.Get(recent)
	assert.True(t, ok)
}

func TestRegistry_UnknownSession(t *testing.T) {
	r := newTestRegistry(Config{})
	defer r.Close()
	_, err := r.DrainPending("nope", Stdout)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, r.MarkBackgrounded("nope"), ErrNotFound)
	assert.ErrorIs(t, r.Kill("nope", false), ErrNotFound)
}
