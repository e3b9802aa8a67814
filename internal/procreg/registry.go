// Package procreg tracks spawned external processes as named sessions.
//
// Output is capped per session so arbitrarily chatty processes use bounded
// memory. Sessions explicitly marked backgrounded survive their exit as
// finished snapshots until a periodic sweep removes them.
package procreg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/hashi/internal/telemetry"
)

// ErrNotFound is returned for unknown session ids.
var ErrNotFound = errors.New("procreg: session not found")

const (
	DefaultMaxOutputChars        = 200_000
	DefaultPendingMaxOutputChars = 30_000
	DefaultRetention             = 30 * time.Minute
	DefaultSweepInterval         = time.Minute
)

// Config bounds per-session memory and finished-session lifetime.
type Config struct {
	MaxOutputChars        int
	PendingMaxOutputChars int
	Retention             time.Duration
	SweepInterval         time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxOutputChars <= 0 {
		c.MaxOutputChars = DefaultMaxOutputChars
	}
	if c.PendingMaxOutputChars <= 0 {
		c.PendingMaxOutputChars = DefaultPendingMaxOutputChars
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	return c
}

// Registry owns running and finished sessions. Safe for concurrent use.
type Registry struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	running  map[string]*session
	finished map[string]Snapshot

	sweepOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once

	truncations atomic.Int64
}

// New creates a Registry. The sweeper starts on the first Create.
func New(cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		cfg:      cfg.withDefaults(),
		logger:   logger,
		now:      time.Now,
		running:  make(map[string]*session),
		finished: make(map[string]Snapshot),
		done:     make(chan struct{}),
	}
	r.registerMetrics()
	return r
}

// CreateOptions describes a new session.
type CreateOptions struct {
	Command      string
	Cwd          string
	Backgrounded bool
}

// Create registers a new running session and returns its id.
func (r *Registry) Create(opts CreateOptions) string {
	r.sweepOnce.Do(func() { go r.sweepLoop() })

	s := &session{
		id:                    uuid.NewString(),
		command:               opts.Command,
		cwd:                   opts.Cwd,
		startedAt:             r.now().UTC(),
		maxOutputChars:        r.cfg.MaxOutputChars,
		pendingMaxOutputChars: r.cfg.PendingMaxOutputChars,
		backgrounded:          opts.Backgrounded,
	}
	r.mu.Lock()
	r.running[s.id] = s
	r.mu.Unlock()
	return s.id
}

// AppendOutput records a chunk of output for a running session. Output for
// unknown or exited sessions is dropped.
func (r *Registry) AppendOutput(id string, stream Stream, chunk string) {
	if chunk == "" {
		return
	}
	r.mu.Lock()
	s, ok := r.running[id]
	var trimmed bool
	if ok {
		trimmed = s.append(stream, chunk)
	}
	r.mu.Unlock()
	if trimmed {
		r.truncations.Add(1)
	}
}

// DrainPending returns and clears the pending buffer for one stream.
func (r *Registry) DrainPending(id string, stream Stream) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.running[id]
	if !ok {
		return "", ErrNotFound
	}
	return s.drainPending(stream), nil
}

// MarkBackgrounded flags a running session so its snapshot is kept after exit.
func (r *Registry) MarkBackgrounded(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.running[id]
	if !ok {
		return ErrNotFound
	}
	s.backgrounded = true
	return nil
}

// MarkExited records process exit, releases the process handle, and removes
// the session from the running set. Only backgrounded sessions are kept as
// finished snapshots. It returns the final snapshot.
func (r *Registry) MarkExited(id string, exitCode int, exitSignal string) (Snapshot, error) {
	r.mu.Lock()
	s, ok := r.running[id]
	if !ok {
		r.mu.Unlock()
		return Snapshot{}, ErrNotFound
	}
	delete(r.running, id)
	s.exited = true
	s.exitCode = exitCode
	s.exitSignal = exitSignal
	s.exitedAt = r.now().UTC()
	snap := s.snapshot()
	release := s.release
	s.cmd = nil
	s.release = nil
	s.pendingStdout, s.pendingStderr = "", ""
	if s.backgrounded {
		r.finished[id] = snap
	}
	r.mu.Unlock()

	if release != nil {
		release()
	}
	return snap, nil
}

// Get returns a running or finished session.
func (r *Registry) Get(id string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.running[id]; ok {
		return s.snapshot(), true
	}
	snap, ok := r.finished[id]
	return snap, ok
}

// Running lists running sessions, oldest first.
func (r *Registry) Running() []Snapshot {
	r.mu.Lock()
	out := make([]Snapshot, 0, len(r.running))
	for _, s := range r.running {
		out = append(out, s.snapshot())
	}
	r.mu.Unlock()
	sortByStart(out)
	return out
}

// Finished lists retained finished sessions, oldest first.
func (r *Registry) Finished() []Snapshot {
	r.mu.Lock()
	out := make([]Snapshot, 0, len(r.finished))
	for _, snap := range r.finished {
		out = append(out, snap)
	}
	r.mu.Unlock()
	sortByStart(out)
	return out
}

// Kill terminates a running session's process tree.
func (r *Registry) Kill(id string, force bool) error {
	r.mu.Lock()
	s, ok := r.running[id]
	var pid int
	if ok && s.cmd != nil && s.cmd.Process != nil {
		pid = s.cmd.Process.Pid
	}
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if pid == 0 {
		return fmt.Errorf("procreg: session %s has no process", id)
	}
	if force {
		return ForceKillProcess(pid)
	}
	return KillProcessTree(pid, DefaultGracePeriod)
}

// Sweep removes finished sessions older than the retention window and
// returns how many were removed.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.cfg.Retention)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, snap := range r.finished {
		if snap.ExitedAt.Before(cutoff) {
			delete(r.finished, id)
			n++
		}
	}
	return n
}

// Close stops the sweeper. Running processes are left alone.
func (r *Registry) Close() {
	r.closeOnce.Do(func() { close(r.done) })
}

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Debug("procreg: swept finished sessions", "count", n)
			}
		case <-r.done:
			return
		}
	}
}

func (r *Registry) attach(id string, s func(*session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.running[id]; ok {
		s(sess)
	}
}

func (r *Registry) counts() (running, finished int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running), len(r.finished)
}

func (r *Registry) registerMetrics() {
	meter := telemetry.Meter("hashi/procreg")

	_, _ = meter.Int64ObservableGauge("hashi.procreg.running",
		metric.WithDescription("Number of running process sessions"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			n, _ := r.counts()
			o.Observe(int64(n))
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("hashi.procreg.finished",
		metric.WithDescription("Number of retained finished background sessions"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			_, n := r.counts()
			o.Observe(int64(n))
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("hashi.procreg.truncated_total",
		metric.WithDescription("Total output appends that dropped old bytes"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(r.truncations.Load())
			return nil
		}),
	)
}

func sortByStart(s []Snapshot) {
	sort.Slice(s, func(i, j int) bool { return s[i].StartedAt.Before(s[j].StartedAt) })
}
