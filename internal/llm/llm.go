// Package llm runs chat-completion providers through one tool-use loop.
//
// A Provider only translates between the internal conversation model and
// its wire format; the loop in RunToolLoop is shared by every provider.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ashita-ai/hashi/internal/model"
	"github.com/ashita-ai/hashi/internal/tools"
)

// MaxToolIterations bounds provider round-trips per instruction.
const MaxToolIterations = 10

// DefaultSystemPrompt is sent with every chat instruction.
const DefaultSystemPrompt = "You are a helpful assistant reachable over a chat app. " +
	"Answer concisely. Use the available tools when they help answer the user."

// ErrUnknownProvider is returned for provider names with no registration.
var ErrUnknownProvider = errors.New("llm: unknown provider")

// MaxIterationsMessage is returned instead of an answer when the model
// keeps requesting tools past MaxToolIterations.
var MaxIterationsMessage = model.Warn("Reached maximum tool iterations (%d)", MaxToolIterations)

// Request is one chat instruction.
type Request struct {
	APIKey      string
	Model       string
	System      string
	Instruction string
	Tools       []tools.Definition
}

// Turn is one model response: either final text or tool calls.
type Turn struct {
	Text  string
	Calls []tools.Call
}

// Session holds one provider-specific conversation.
type Session interface {
	// Send performs one round-trip with everything accumulated so far.
	Send(ctx context.Context) (Turn, error)
	// AddToolResults appends the model's tool-call turn and the results in
	// the provider's tool-result message shape.
	AddToolResults(turn Turn, results []tools.Result)
}

// Provider adapts one chat-completion API.
type Provider interface {
	Name() string
	NewSession(ctx context.Context, req Request) (Session, error)
}

// RunToolLoop sends the instruction and executes requested tools until the
// model answers without tool calls or MaxToolIterations round-trips have
// happened. A nil registry disables tools.
func RunToolLoop(ctx context.Context, p Provider, req Request, registry *tools.Registry) (string, error) {
	if req.System == "" {
		req.System = DefaultSystemPrompt
	}
	if registry != nil {
		req.Tools = registry.Definitions()
	}
	sess, err := p.NewSession(ctx, req)
	if err != nil {
		return "", fmt.Errorf("llm: %s: new session: %w", p.Name(), err)
	}

	for i := 1; i <= MaxToolIterations; i++ {
		turn, err := sess.Send(ctx)
		if err != nil {
			return "", fmt.Errorf("llm: %s: %w", p.Name(), err)
		}
		if len(turn.Calls) == 0 {
			return turn.Text, nil
		}
		if i == MaxToolIterations {
			break
		}
		var results []tools.Result
		if registry != nil {
			results = registry.ExecuteAll(ctx, turn.Calls)
		} else {
			results = make([]tools.Result, len(turn.Calls))
			for j, c := range turn.Calls {
				results[j] = tools.ErrorResult("tools are disabled")
				results[j].ToolCallID = c.ID
			}
		}
		sess.AddToolResults(turn, results)
	}
	return MaxIterationsMessage, nil
}

// Registry maps provider names to implementations. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates a registry holding the given providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Register adds or replaces a provider.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get looks up a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names returns registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}
