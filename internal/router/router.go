// Package router owns the active chat provider and coding adapter and routes
// instructions to them. Code commands run single-flight through an
// OperationSlot; chat requests run on the caller's context.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/hashi/internal/adapter"
	"github.com/ashita-ai/hashi/internal/configstore"
	"github.com/ashita-ai/hashi/internal/handoff"
	"github.com/ashita-ai/hashi/internal/llm"
	"github.com/ashita-ai/hashi/internal/model"
	"github.com/ashita-ai/hashi/internal/telemetry"
	"github.com/ashita-ai/hashi/internal/tools"
)

// DefaultAdapter is used when the config file names none.
const DefaultAdapter = "claude-code"

// AdapterFactory constructs the adapter registered under id. It returns an
// error wrapping adapter.ErrUnknownAdapter for unknown ids.
type AdapterFactory func(id string) (adapter.Adapter, error)

// Config wires the router's collaborators.
type Config struct {
	Store     *configstore.Store
	Tools     *tools.Registry
	Providers *llm.Registry
	Handoff   *handoff.Manager
	Adapters  AdapterFactory
	Slot      OperationSlot // nil means NewGlobalSlot()

	// APIKeys are fallbacks per provider name for keys absent from the
	// config file, usually from the environment.
	APIKeys map[string]string
	Logger  *slog.Logger
}

// ProviderState is the active chat provider as resolved from config.
type ProviderState struct {
	Name   string
	Model  string
	APIKey string
}

// ProviderChoice is a provider selectable from the switch menu.
type ProviderChoice struct {
	Name  string
	Model string
}

// SwitchResult summarizes an adapter switch.
type SwitchResult struct {
	HandoffGenerated bool
	OldAdapter       string
	NewAdapter       string
	EntryCount       int
}

// Router routes instructions to the active provider or adapter.
type Router struct {
	store     *configstore.Store
	tools     *tools.Registry
	providers *llm.Registry
	handoff   *handoff.Manager
	factory   AdapterFactory
	slot      OperationSlot
	apiKeys   map[string]string
	logger    *slog.Logger

	// switchMu serializes adapter switches; mu guards the adapter pointer.
	switchMu sync.Mutex
	mu       sync.RWMutex
	adapter  adapter.Adapter

	codeCommands metric.Int64Counter
	chatRequests metric.Int64Counter
}

// New builds a router, restoring the active adapter, its model override, and
// any pending handoff from the previous run. An unknown adapter id in the
// config file is fatal.
func New(ctx context.Context, cfg Config) (*Router, error) {
	if cfg.Store == nil || cfg.Adapters == nil {
		return nil, errors.New("router: store and adapter factory are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		store:     cfg.Store,
		tools:     cfg.Tools,
		providers: cfg.Providers,
		handoff:   cfg.Handoff,
		factory:   cfg.Adapters,
		slot:      cfg.Slot,
		apiKeys:   cfg.APIKeys,
		logger:    logger,
	}
	if r.slot == nil {
		r.slot = NewGlobalSlot()
	}
	if r.providers == nil {
		r.providers = llm.NewRegistry()
	}
	if r.handoff == nil {
		r.handoff = handoff.NewManager(nil, logger)
	}

	f, err := r.store.Load()
	if err != nil {
		return nil, fmt.Errorf("router: load config: %w", err)
	}
	id := f.IDEType
	if id == "" {
		id = DefaultAdapter
	}
	a, err := r.openAdapter(ctx, id, f)
	if err != nil {
		return nil, err
	}
	r.adapter = a

	if ok, err := r.handoff.RestoreLatest(ctx, id); err != nil {
		logger.Warn("router: restore handoff failed", "adapter", id, "error", err)
	} else if ok {
		logger.Info("router: restored pending handoff", "adapter", id)
	}

	meter := telemetry.Meter("hashi/router")
	r.codeCommands, _ = meter.Int64Counter("hashi.router.code_commands",
		metric.WithDescription("Code-mode commands by outcome"))
	r.chatRequests, _ = meter.Int64Counter("hashi.router.chat_requests",
		metric.WithDescription("Chat-mode requests by provider"))
	return r, nil
}

// openAdapter constructs id, applies its persisted model override, and
// connects it. Connect failures are logged; the adapter is still usable.
func (r *Router) openAdapter(ctx context.Context, id string, f configstore.File) (adapter.Adapter, error) {
	a, err := r.factory(id)
	if err != nil {
		return nil, fmt.Errorf("router: adapter %q: %w", id, err)
	}
	if m := f.AdapterModels[id]; m != "" {
		if err := a.SetModel(m); err != nil {
			r.logger.Warn("router: restore adapter model failed", "adapter", id, "model", m, "error", err)
		}
	}
	if err := a.Connect(ctx); err != nil {
		r.logger.Warn("router: adapter connect failed", "adapter", id, "error", err)
	}
	return a, nil
}

// RouteToCode runs instruction on the active adapter. Any command already
// in the slot is aborted first. An error wrapping ErrAborted means this
// command was pre-empted (ErrPreempted) or cancelled (ErrCancelled).
func (r *Router) RouteToCode(ctx context.Context, key, instruction string, onProgress func(string)) (string, error) {
	opCtx, release := r.slot.Start(ctx, key)
	defer release()

	a := r.Adapter()
	r.handoff.AddEntry(model.RoleUser, instruction, a.ID())
	history := r.handoff.TakePending(ctx)

	out, err := a.ExecuteCommand(opCtx, instruction, history, onProgress)
	if err != nil {
		if cause := context.Cause(opCtx); errors.Is(cause, ErrAborted) {
			r.countCode(ctx, "aborted")
			r.logger.Info("router: command aborted", "adapter", a.ID(), "key", key, "cause", cause)
			return "", fmt.Errorf("router: %s: %w", a.ID(), cause)
		}
		r.countCode(ctx, "error")
		return "", fmt.Errorf("router: %s: %w", a.ID(), err)
	}
	r.handoff.AddEntry(model.RoleAssistant, out, a.ID())
	r.countCode(ctx, "ok")
	return out, nil
}

// AbortCurrentCommand cancels the in-flight code command for key (every key
// under the global slot). It reports whether a command was running.
func (r *Router) AbortCurrentCommand(key string) bool {
	return r.slot.Cancel(key)
}

// RouteToChat answers instruction with the active chat provider. Missing
// configuration yields a [WARN] string rather than an error.
func (r *Router) RouteToChat(ctx context.Context, instruction string) (string, error) {
	ps, err := r.Provider()
	if err != nil {
		return "", err
	}
	if ps.Name == "" {
		return model.Warn("No chat provider configured. Use /switch to choose one."), nil
	}
	if ps.APIKey == "" {
		return model.Warn("No API key configured for provider %s. Add it to the config file or set its API key environment variable.", ps.Name), nil
	}
	if ps.Model == "" {
		return model.Warn("No model configured for provider %s. Use /switch to choose one.", ps.Name), nil
	}
	p, err := r.providers.Get(ps.Name)
	if err != nil {
		return model.Warn("Unknown provider %s.", ps.Name), nil
	}

	r.chatRequests.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(attribute.String("provider", ps.Name)))
	out, err := llm.RunToolLoop(ctx, p, llm.Request{
		APIKey:      ps.APIKey,
		Model:       ps.Model,
		Instruction: instruction,
	}, r.tools)
	if err != nil {
		return "", fmt.Errorf("router: chat: %w", err)
	}
	return out, nil
}

// SwitchAdapter hands the conversation off from the active adapter to id.
// Switching to the active adapter is a no-op.
func (r *Router) SwitchAdapter(ctx context.Context, id string) (SwitchResult, error) {
	r.switchMu.Lock()
	defer r.switchMu.Unlock()

	old := r.Adapter()
	res := SwitchResult{OldAdapter: old.ID(), NewAdapter: id, EntryCount: r.handoff.Len()}
	if id == old.ID() {
		return res, nil
	}

	f, err := r.store.Load()
	if err != nil {
		return SwitchResult{}, fmt.Errorf("router: load config: %w", err)
	}
	next, err := r.openAdapter(ctx, id, f)
	if err != nil {
		return SwitchResult{}, err
	}

	_, res.HandoffGenerated = r.handoff.Generate(ctx, old.ID(), id, old.TrackedFiles())

	if err := old.Disconnect(ctx); err != nil {
		r.logger.Warn("router: old adapter disconnect failed", "adapter", old.ID(), "error", err)
	}

	r.mu.Lock()
	r.adapter = next
	r.mu.Unlock()

	if _, err := r.store.Update(func(f *configstore.File) error {
		f.IDEType = id
		return nil
	}); err != nil {
		r.logger.Warn("router: persist adapter failed", "adapter", id, "error", err)
	}
	r.logger.Info("router: adapter switched", "from", old.ID(), "to", id,
		"handoff", res.HandoffGenerated, "entries", res.EntryCount)
	return res, nil
}

// SetAdapterModel changes the active adapter's model and persists it so a
// restart resumes it.
func (r *Router) SetAdapterModel(modelID string) error {
	a := r.Adapter()
	if err := a.SetModel(modelID); err != nil {
		return err
	}
	_, err := r.store.Update(func(f *configstore.File) error {
		if f.AdapterModels == nil {
			f.AdapterModels = make(map[string]string)
		}
		f.AdapterModels[a.ID()] = a.CurrentModel()
		return nil
	})
	if err != nil {
		return fmt.Errorf("router: persist adapter model: %w", err)
	}
	return nil
}

// SetProvider makes name the active chat provider with its configured model.
func (r *Router) SetProvider(name string) error {
	if _, err := r.providers.Get(name); err != nil {
		return err
	}
	_, err := r.store.Update(func(f *configstore.File) error {
		m := f.Providers[name].Model
		if m == "" {
			return fmt.Errorf("router: provider %s has no model configured", name)
		}
		f.AIProvider = name
		f.AIModel = m
		return nil
	})
	return err
}

// Provider resolves the active chat provider from config.
func (r *Router) Provider() (ProviderState, error) {
	f, err := r.store.Load()
	if err != nil {
		return ProviderState{}, fmt.Errorf("router: load config: %w", err)
	}
	ps := ProviderState{Name: f.AIProvider, Model: f.AIModel}
	if ps.Name == "" {
		return ps, nil
	}
	settings := f.Providers[ps.Name]
	if ps.Model == "" {
		ps.Model = settings.Model
	}
	ps.APIKey = settings.APIKey
	if ps.APIKey == "" {
		ps.APIKey = r.apiKeys[ps.Name]
	}
	return ps, nil
}

// ConfiguredProviders lists registered providers that have a model set.
func (r *Router) ConfiguredProviders() ([]ProviderChoice, error) {
	f, err := r.store.Load()
	if err != nil {
		return nil, fmt.Errorf("router: load config: %w", err)
	}
	var out []ProviderChoice
	for name, s := range f.Providers {
		if s.Model == "" {
			continue
		}
		if _, err := r.providers.Get(name); err != nil {
			continue
		}
		out = append(out, ProviderChoice{Name: name, Model: s.Model})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Adapter returns the active adapter.
func (r *Router) Adapter() adapter.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapter
}

// AdapterStatus describes the active adapter.
func (r *Router) AdapterStatus() string {
	return r.Adapter().Status()
}

// Close disconnects the active adapter, aborting its in-flight command.
func (r *Router) Close(ctx context.Context) error {
	if err := r.Adapter().Disconnect(ctx); err != nil {
		return fmt.Errorf("router: disconnect: %w", err)
	}
	return nil
}

func (r *Router) countCode(ctx context.Context, outcome string) {
	r.codeCommands.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
