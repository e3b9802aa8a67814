// Package stream turns raw subprocess output into bounded, transport-sized
// progress chunks.
//
// Data flows Normalizer -> Chunker -> onChunk callback, with a typing
// Signaler pulsed for every non-empty delta. Pipeline composes the three.
package stream

import (
	"strings"
	"unicode"

	"github.com/charmbracelet/x/ansi"
)

// spinnerRunes are the frames CLI tools redraw while idle. ASCII spinners
// (| / - \) are left out: those characters also make up markdown tables and
// rules.
const spinnerRunes = "⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏⠁⠂⠄⡀⢀⠠⠐⠈◐◓◑◒●○"

// Normalizer strips terminal noise from subprocess output.
type Normalizer struct {
	// Heartbeats are whole lines (after trimming) that carry no content,
	// e.g. "Thinking..." keep-alives. Matching is case-insensitive.
	Heartbeats []string
}

// NewNormalizer returns a Normalizer with the default heartbeat set.
func NewNormalizer() *Normalizer {
	return &Normalizer{Heartbeats: []string{"thinking", "thinking...", "working", "working...", "ping", "keepalive"}}
}

// Normalize removes ANSI escapes, carriage-return redraws, control
// characters, spinner frames, and heartbeat lines. It returns "" when the
// input is entirely noise. Input made only of line breaks is returned as
// those line breaks, since a blank line delta is a paragraph boundary.
func (n *Normalizer) Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	s := ansi.Strip(raw)
	s = strings.ReplaceAll(s, "\r\n", "\n")

	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		// A bare \r means the tool redrew the line; only the last frame counts.
		if i := strings.LastIndexByte(line, '\r'); i >= 0 {
			line = line[i+1:]
		}
		line = stripControl(line)
		if n.isNoise(line) {
			continue
		}
		kept = append(kept, line)
	}
	out := strings.Join(kept, "\n")
	if strings.TrimSpace(out) == "" {
		return strings.Repeat("\n", strings.Count(out, "\n"))
	}
	// Preserve a trailing newline so the chunker still sees paragraph breaks
	// that straddle two deltas.
	if strings.HasSuffix(s, "\n") && !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out
}

func (n *Normalizer) isNoise(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		// Blank lines are structure, not noise.
		return false
	}
	if strings.Trim(trimmed, spinnerRunes+" ") == "" {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, hb := range n.Heartbeats {
		if lower == hb {
			return true
		}
	}
	return false
}

func stripControl(s string) string {
	if strings.IndexFunc(s, isDroppedControl) < 0 {
		return s
	}
	return strings.Map(func(r rune) rune {
		if isDroppedControl(r) {
			return -1
		}
		return r
	}, s)
}

func isDroppedControl(r rune) bool {
	return r != '\t' && r != '\n' && unicode.IsControl(r)
}
