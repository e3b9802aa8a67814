package procreg

import (
	"os/exec"
	"time"
	"unicode/utf8"
)

// Stream identifies which pipe a chunk of output came from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// TailChars is the size of the rolling tail kept for every session.
const TailChars = 2000

// session is the mutable record for a running process. All fields are
// guarded by Registry.mu.
type session struct {
	id                    string
	command               string
	cwd                   string
	startedAt             time.Time
	maxOutputChars        int
	pendingMaxOutputChars int

	aggregated    string
	tail          string
	pendingStdout string
	pendingStderr string
	truncated     bool
	backgrounded  bool

	exited     bool
	exitCode   int
	exitSignal string
	exitedAt   time.Time

	cmd     *exec.Cmd
	release func()
}

// Snapshot is a read-only copy of a session's state.
type Snapshot struct {
	ID           string    `json:"id"`
	Command      string    `json:"command"`
	Cwd          string    `json:"cwd,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	Aggregated   string    `json:"aggregated"`
	Tail         string    `json:"tail"`
	Truncated    bool      `json:"truncated"`
	Backgrounded bool      `json:"backgrounded"`
	Exited       bool      `json:"exited"`
	ExitCode     int       `json:"exit_code"`
	ExitSignal   string    `json:"exit_signal,omitempty"`
	ExitedAt     time.Time `json:"exited_at,omitzero"`
	PID          int       `json:"pid,omitempty"`
}

func (s *session) snapshot() Snapshot {
	snap := Snapshot{
		ID:           s.id,
		Command:      s.command,
		Cwd:          s.cwd,
		StartedAt:    s.startedAt,
		Aggregated:   s.aggregated,
		Tail:         s.tail,
		Truncated:    s.truncated,
		Backgrounded: s.backgrounded,
		Exited:       s.exited,
		ExitCode:     s.exitCode,
		ExitSignal:   s.exitSignal,
		ExitedAt:     s.exitedAt,
	}
	if s.cmd != nil && s.cmd.Process != nil {
		snap.PID = s.cmd.Process.Pid
	}
	return snap
}

// append adds a chunk to the pending buffer for its stream and to the
// aggregated output. It reports whether the aggregated buffer was trimmed
// by this call.
func (s *session) append(stream Stream, chunk string) bool {
	pendingCap := min(s.pendingMaxOutputChars, s.maxOutputChars)
	switch stream {
	case Stderr:
		s.pendingStderr, _ = capTail(s.pendingStderr+chunk, pendingCap)
	default:
		s.pendingStdout, _ = capTail(s.pendingStdout+chunk, pendingCap)
	}

	var trimmed bool
	s.aggregated, trimmed = capTail(s.aggregated+chunk, s.maxOutputChars)
	if trimmed {
		s.truncated = true
	}
	s.tail, _ = capTail(s.aggregated, TailChars)
	return trimmed
}

func (s *session) drainPending(stream Stream) string {
	var out string
	switch stream {
	case Stderr:
		out, s.pendingStderr = s.pendingStderr, ""
	default:
		out, s.pendingStdout = s.pendingStdout, ""
	}
	return out
}

// capTail keeps at most limit bytes from the end of s, never starting in the
// middle of a UTF-8 sequence.
func capTail(s string, limit int) (string, bool) {
	if limit <= 0 {
		return "", s != ""
	}
	if len(s) <= limit {
		return s, false
	}
	start := len(s) - limit
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:], true
}
