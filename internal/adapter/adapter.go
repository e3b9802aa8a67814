// Package adapter defines the coding-adapter contract and the built-in CLI
// adapters. An adapter executes a coding instruction by running an external
// CLI tool as a subprocess.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/ashita-ai/hashi/internal/model"
)

// ErrUnknownAdapter is returned for ids missing from the catalog.
var ErrUnknownAdapter = errors.New("adapter: unknown adapter")

// Adapter executes coding instructions. ExecuteCommand must kill any
// subprocess it started when ctx ends.
type Adapter interface {
	ID() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	ExecuteCommand(ctx context.Context, instruction string, history []model.ConversationEntry, onProgress func(string)) (string, error)
	Status() string
	Abort()
	AvailableModels() []model.ModelInfo
	CurrentModel() string
	SetModel(id string) error
	TrackedFiles() model.TrackedFiles
}

// SystemPrompt is passed to every CLI that accepts one.
const SystemPrompt = "You are a coding agent operated remotely through a chat interface. " +
	"Work in the current project directory, keep answers short, and summarize the files you changed."

// Spec describes one catalog entry.
type Spec struct {
	ID           string
	Name         string
	Binary       string
	DefaultModel string
	Models       []model.ModelInfo

	// Args builds the argument list for one invocation. model may be empty.
	Args func(prompt, model string) []string
}

var catalog = []Spec{
	{
		ID:           "claude-code",
		Name:         "Claude Code",
		Binary:       "claude",
		DefaultModel: "sonnet",
		Models: []model.ModelInfo{
			{ID: "sonnet", Name: "Sonnet", Description: "balanced default"},
			{ID: "opus", Name: "Opus", Description: "most capable"},
			{ID: "haiku", Name: "Haiku", Description: "fastest"},
		},
		Args: func(prompt, m string) []string {
			args := []string{"-p", prompt, "--append-system-prompt", SystemPrompt}
			if m != "" {
				args = append(args, "--model", m)
			}
			return args
		},
	},
	{
		ID:           "codex",
		Name:         "Codex CLI",
		Binary:       "codex",
		DefaultModel: "gpt-5-codex",
		Models: []model.ModelInfo{
			{ID: "gpt-5-codex", Name: "GPT-5 Codex", Description: "default coding model"},
			{ID: "gpt-5", Name: "GPT-5", Description: "general model"},
		},
		Args: func(prompt, m string) []string {
			args := []string{"exec"}
			if m != "" {
				args = append(args, "--model", m)
			}
			return append(args, SystemPrompt+"\n\n"+prompt)
		},
	},
	{
		ID:           "gemini-cli",
		Name:         "Gemini CLI",
		Binary:       "gemini",
		DefaultModel: "gemini-2.5-pro",
		Models: []model.ModelInfo{
			{ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro"},
			{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash"},
		},
		Args: func(prompt, m string) []string {
			var args []string
			if m != "" {
				args = append(args, "-m", m)
			}
			return append(args, "-p", SystemPrompt+"\n\n"+prompt)
		},
	},
	{
		ID:     "aider",
		Name:   "Aider",
		Binary: "aider",
		Args: func(prompt, m string) []string {
			args := []string{"--yes-always", "--no-pretty", "--message", prompt}
			if m != "" {
				args = append(args, "--model", m)
			}
			return args
		},
	},
}

// Catalog returns the built-in adapter specs in display order.
func Catalog() []Spec {
	return slices.Clone(catalog)
}

// Lookup finds a catalog entry by id.
func Lookup(id string) (Spec, error) {
	for _, s := range catalog {
		if s.ID == id {
			return s, nil
		}
	}
	return Spec{}, fmt.Errorf("%w: %q", ErrUnknownAdapter, id)
}

// IDs returns the catalog ids in display order.
func IDs() []string {
	ids := make([]string, len(catalog))
	for i, s := range catalog {
		ids[i] = s.ID
	}
	return ids
}

// renderPrompt folds prior conversation into a single prompt, since the CLIs
// are invoked fresh for every instruction.
func renderPrompt(instruction string, history []model.ConversationEntry) string {
	if len(history) == 0 {
		return instruction
	}
	var b strings.Builder
	b.WriteString("Previous conversation:\n")
	for _, e := range history {
		fmt.Fprintf(&b, "%s: %s\n", e.Role, e.Content)
	}
	b.WriteString("\nCurrent request:\n")
	b.WriteString(instruction)
	return b.String()
}
