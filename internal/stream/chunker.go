package stream

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rivo/uniseg"
)

// BreakMode is the preferred natural breakpoint for non-forced cuts.
type BreakMode string

const (
	BreakParagraph BreakMode = "paragraph"
	BreakSentence  BreakMode = "sentence"
	BreakNewline   BreakMode = "newline"
)

// forcedBreakWindow is how many characters back from MaxChars a forced cut
// looks for a natural breakpoint before hard-cutting.
const forcedBreakWindow = 50

// ParseBreakMode validates a configured break mode.
func ParseBreakMode(s string) (BreakMode, error) {
	switch m := BreakMode(strings.ToLower(strings.TrimSpace(s))); m {
	case BreakParagraph, BreakSentence, BreakNewline:
		return m, nil
	case "":
		return BreakParagraph, nil
	default:
		return "", fmt.Errorf("stream: unknown break mode %q", s)
	}
}

// ChunkerConfig bounds chunk sizes. Sizes count characters (runes), not
// bytes; cuts never split a grapheme cluster.
type ChunkerConfig struct {
	MinChars  int
	MaxChars  int
	BreakMode BreakMode
}

// Chunker accumulates text and extracts bounded, naturally broken prefixes.
// It is not safe for concurrent use; Pipeline serializes access.
type Chunker struct {
	cfg ChunkerConfig
	buf strings.Builder
}

// NewChunker creates a Chunker. Out-of-range sizes are clamped so MinChars
// is at least 1 and never exceeds MaxChars.
func NewChunker(cfg ChunkerConfig) *Chunker {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 1500
	}
	if cfg.MinChars <= 0 {
		cfg.MinChars = 1
	}
	if cfg.MinChars > cfg.MaxChars {
		cfg.MinChars = cfg.MaxChars
	}
	if cfg.BreakMode == "" {
		cfg.BreakMode = BreakParagraph
	}
	return &Chunker{cfg: cfg}
}

// Config returns the effective configuration after clamping.
func (c *Chunker) Config() ChunkerConfig { return c.cfg }

// Len returns the number of buffered characters.
func (c *Chunker) Len() int { return utf8.RuneCountInString(c.buf.String()) }

// AddText appends text and returns every chunk that is now ready.
func (c *Chunker) AddText(text string) []string {
	if text == "" {
		return nil
	}
	c.buf.WriteString(text)

	var chunks []string
	s := c.buf.String()
	for {
		n := utf8.RuneCountInString(s)
		if n < c.cfg.MinChars {
			break
		}
		var cut int
		if n >= c.cfg.MaxChars {
			cut = c.forcedCut(s)
		} else {
			cut = c.naturalCut(s)
			if cut < 0 {
				break
			}
		}
		chunks = append(chunks, s[:cut])
		s = s[cut:]
	}
	if len(chunks) > 0 {
		c.buf.Reset()
		c.buf.WriteString(s)
	}
	return chunks
}

// Flush drains the buffer. It returns "" and false when only whitespace is
// buffered.
func (c *Chunker) Flush() (string, bool) {
	s := c.buf.String()
	c.buf.Reset()
	if strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// forcedCut returns a cut position in [MinChars, MaxChars] for a buffer that
// has reached MaxChars.
func (c *Chunker) forcedCut(s string) int {
	hi := byteOffset(s, c.cfg.MaxChars)
	lo := byteOffset(s, max(c.cfg.MaxChars-forcedBreakWindow, c.cfg.MinChars))
	window := s[:hi]

	if i := strings.LastIndex(window[lo:], "\n\n"); i >= 0 {
		return lo + i + 2
	}
	if i := lastSentenceEnd(window, lo); i >= 0 {
		return i
	}
	if i := strings.LastIndexByte(window[lo:], '\n'); i >= 0 {
		return lo + i + 1
	}
	if i := strings.LastIndexByte(window[lo:], ' '); i >= 0 {
		return lo + i + 1
	}
	return graphemeFloor(s, hi)
}

// naturalCut returns a cut position that leaves a prefix of at least
// MinChars, or -1 if the configured breakpoint chain finds none.
func (c *Chunker) naturalCut(s string) int {
	lo := byteOffset(s, c.cfg.MinChars)
	mode := c.cfg.BreakMode
	if mode == BreakParagraph {
		if i := strings.LastIndex(s, "\n\n"); i >= 0 && i+2 >= lo {
			return i + 2
		}
		mode = BreakSentence
	}
	if mode == BreakSentence {
		if i := lastSentenceEnd(s, 0); i >= lo {
			return i
		}
	}
	if i := strings.LastIndexByte(s, '\n'); i >= 0 && i+1 >= lo {
		return i + 1
	}
	return -1
}

// lastSentenceEnd finds the last "[.!?]<space>" whose punctuation lies at or
// after lo and returns the index just past the whitespace, or -1.
func lastSentenceEnd(s string, lo int) int {
	for i := len(s) - 2; i >= lo; i-- {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\t':
				return i + 2
			}
		}
	}
	return -1
}

// byteOffset returns the byte index just past the first n runes of s, or
// len(s) when s is shorter.
func byteOffset(s string, n int) int {
	for i := range s {
		if n == 0 {
			return i
		}
		n--
	}
	return len(s)
}

// graphemeFloor returns the largest grapheme boundary <= n, falling back to
// n when the first cluster alone is longer.
func graphemeFloor(s string, n int) int {
	pos := 0
	state := -1
	rest := s
	for len(rest) > 0 {
		cluster, next, _, newState := uniseg.FirstGraphemeClusterInString(rest, state)
		if pos+len(cluster) > n {
			break
		}
		pos += len(cluster)
		rest, state = next, newState
	}
	if pos == 0 {
		return n
	}
	return pos
}
