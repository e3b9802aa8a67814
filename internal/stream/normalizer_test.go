package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizer(t *testing.T) {
	n := NewNormalizer()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello world", "hello world"},
		{"ansi colors", "\x1b[31mred\x1b[0m text", "red text"},
		{"carriage return redraw", "10%\r50%\r100% done", "100% done"},
		{"crlf", "a\r\nb", "a\nb"},
		{"spinner only", "⠋ ", ""},
		{"heartbeat", "Thinking...\n", ""},
		{"heartbeat among content", "step 1\nthinking\nstep 2", "step 1\nstep 2"},
		{"control chars", "bell\x07 here", "bell here"},
		{"keeps paragraph break", "para one\n\npara two\n", "para one\n\npara two\n"},
		{"empty", "", ""},
		{"markdown table", "| a | b |\n|---|---|\n| 1 | 2 |\n", "| a | b |\n|---|---|\n| 1 | 2 |\n"},
		{"horizontal rule", "intro\n---\nnext\n", "intro\n---\nnext\n"},
		{"ellipsis line", "loading\n...\n", "loading\n...\n"},
		{"blank line delta", "\n", "\n"},
		{"blank lines delta", "\n\n", "\n\n"},
		{"spaces only", "   ", ""},
		{"spinner then newline", "⠙ ⠹\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, n.Normalize(tt.in))
		})
	}
}
