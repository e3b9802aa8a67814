// Package adaptertest provides an in-memory Adapter for tests.
package adaptertest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/ashita-ai/hashi/internal/adapter"
	"github.com/ashita-ai/hashi/internal/model"
)

// Call records one ExecuteCommand invocation.
type Call struct {
	Instruction string
	History     []model.ConversationEntry
}

// Fake is a scriptable Adapter. With Block set, ExecuteCommand waits until
// its context ends or Release is called.
type Fake struct {
	AdapterID     string
	Reply         func(instruction string) (string, error)
	Block         bool
	DisconnectErr error
	Files         model.TrackedFiles

	mu           sync.Mutex
	model        string
	calls        []Call
	started      chan struct{}
	release      chan struct{}
	connected    bool
	disconnected int
}

var _ adapter.Adapter = (*Fake)(nil)

// New returns a fake adapter with the given id that echoes instructions.
func New(id string) *Fake {
	return &Fake{AdapterID: id, started: make(chan struct{}, 16), release: make(chan struct{})}
}

// Factory returns a router-style factory that builds fakes for catalog ids
// and records every adapter it created.
func Factory(created *[]*Fake, mu *sync.Mutex) func(string) (adapter.Adapter, error) {
	return func(id string) (adapter.Adapter, error) {
		if _, err := adapter.Lookup(id); err != nil {
			return nil, err
		}
		f := New(id)
		mu.Lock()
		*created = append(*created, f)
		mu.Unlock()
		return f, nil
	}
}

func (f *Fake) ID() string { return f.AdapterID }

func (f *Fake) Connect(context.Context) error {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *Fake) Disconnect(context.Context) error {
	f.mu.Lock()
	f.connected = false
	f.disconnected++
	f.mu.Unlock()
	return f.DisconnectErr
}

func (f *Fake) ExecuteCommand(ctx context.Context, instruction string, history []model.ConversationEntry, onProgress func(string)) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Instruction: instruction, History: slices.Clone(history)})
	f.mu.Unlock()
	select {
	case f.started <- struct{}{}:
	default:
	}

	if onProgress != nil {
		onProgress("working on " + instruction)
	}
	if f.Block {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("adaptertest: %w", context.Cause(ctx))
		case <-f.release:
		}
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("adaptertest: %w", context.Cause(ctx))
	}
	if f.Reply != nil {
		return f.Reply(instruction)
	}
	return "done: " + instruction, nil
}

// Started is signalled each time ExecuteCommand begins.
func (f *Fake) Started() <-chan struct{} { return f.started }

// Release unblocks every blocked ExecuteCommand.
func (f *Fake) Release() { close(f.release) }

func (f *Fake) Status() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fmt.Sprintf("%s ready (model %s)", f.AdapterID, f.model)
}

func (f *Fake) Abort() {}

func (f *Fake) AvailableModels() []model.ModelInfo {
	return []model.ModelInfo{{ID: "fast", Name: "Fast"}, {ID: "smart", Name: "Smart"}}
}

func (f *Fake) CurrentModel() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.model
}

func (f *Fake) SetModel(id string) error {
	if id == "" {
		return errors.New("adaptertest: empty model")
	}
	f.mu.Lock()
	f.model = id
	f.mu.Unlock()
	return nil
}

func (f *Fake) TrackedFiles() model.TrackedFiles { return f.Files }

// Calls returns the recorded invocations.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// Disconnects reports how many times Disconnect was called.
func (f *Fake) Disconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnected
}
