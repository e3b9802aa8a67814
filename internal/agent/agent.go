// Package agent is the entry point for inbound messages. It owns the
// authorization gate, per-user mode and switch-menu state, and command
// interception, and delegates real work to the router.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/ashita-ai/hashi/internal/adapter"
	"github.com/ashita-ai/hashi/internal/configstore"
	"github.com/ashita-ai/hashi/internal/model"
	"github.com/ashita-ai/hashi/internal/router"
)

// Router is the subset of *router.Router the agent drives.
type Router interface {
	RouteToCode(ctx context.Context, key, instruction string, onProgress func(string)) (string, error)
	RouteToChat(ctx context.Context, instruction string) (string, error)
	SwitchAdapter(ctx context.Context, id string) (router.SwitchResult, error)
	AbortCurrentCommand(key string) bool
	Adapter() adapter.Adapter
	AdapterStatus() string
	SetAdapterModel(modelID string) error
	SetProvider(name string) error
	Provider() (router.ProviderState, error)
	ConfiguredProviders() ([]router.ProviderChoice, error)
}

var _ Router = (*router.Router)(nil)

// Agent processes messages. Safe for concurrent use by several transports.
type Agent struct {
	router Router
	store  *configstore.Store
	logger *slog.Logger

	// authMu serializes the first-sender claim.
	authMu sync.Mutex

	mu    sync.Mutex
	users map[string]*userState
}

type userState struct {
	mode    model.Mode
	pending SwitchState
}

// New creates an agent.
func New(r Router, store *configstore.Store, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{router: r, store: store, logger: logger, users: make(map[string]*userState)}
}

// ProcessMessage handles one inbound message and returns the reply. It
// never returns an error: failures are rendered as tagged strings.
// onProgress, if non-nil, receives raw progress text from code commands.
func (a *Agent) ProcessMessage(ctx context.Context, msg model.Message, onProgress func(string)) (reply string) {
	defer func() {
		if rec := recover(); rec != nil {
			a.logger.Error("agent: panic processing message", "from", msg.From, "panic", rec, "stack", string(debug.Stack()))
			reply = model.Error(fmt.Errorf("internal error: %v", rec))
		}
	}()

	ok, err := a.authorize(msg.From)
	if err != nil {
		a.logger.Error("agent: authorization check failed", "from", msg.From, "error", err)
		return model.Error(err)
	}
	if !ok {
		a.logger.Warn("agent: rejected unauthorized sender", "from", msg.From)
		return model.Unauthorized
	}

	text := strings.TrimSpace(msg.Text)
	if state := a.pending(msg.From); state != SwitchNone {
		next, out := a.handleSelection(ctx, msg.From, state, text)
		a.setPending(msg.From, next)
		return out
	}

	if out, handled := a.handleCommand(ctx, msg.From, text); handled {
		return out
	}

	if a.mode(msg.From) == model.ModeCode {
		out, err := a.router.RouteToCode(ctx, msg.From, text, onProgress)
		switch {
		case errors.Is(err, router.ErrPreempted):
			return model.Aborted("Previous command cancelled, processing new request.")
		case errors.Is(err, router.ErrAborted):
			return model.Aborted("Command cancelled.")
		case err != nil:
			a.logger.Warn("agent: code command failed", "from", msg.From, "error", err)
			return model.Error(err)
		}
		return out
	}

	out, err := a.router.RouteToChat(ctx, text)
	if err != nil {
		a.logger.Warn("agent: chat request failed", "from", msg.From, "error", err)
		return model.Error(err)
	}
	return out
}

// authorize applies the first-sender-claims rule.
func (a *Agent) authorize(from string) (bool, error) {
	if err := model.ValidatePrincipalID(from); err != nil {
		return false, nil
	}
	a.authMu.Lock()
	defer a.authMu.Unlock()

	f, err := a.store.Load()
	if err != nil {
		return false, fmt.Errorf("agent: load config: %w", err)
	}
	if f.AuthorizedUser != "" {
		return f.AuthorizedUser == from, nil
	}

	var owner string
	if _, err := a.store.Update(func(f *configstore.File) error {
		if f.AuthorizedUser == "" {
			f.AuthorizedUser = from
		}
		owner = f.AuthorizedUser
		return nil
	}); err != nil {
		return false, fmt.Errorf("agent: persist authorized user: %w", err)
	}
	if owner == from {
		a.logger.Info("agent: authorized user claimed", "user", from)
	}
	return owner == from, nil
}

// command names recognized when no switch menu is open.
const (
	cmdCode     = "/code"
	cmdChat     = "/chat"
	cmdCancel   = "/cancel"
	cmdSwitch   = "/switch"
	cmdCLIModel = "/cli-model"
	cmdHelp     = "/help"
	cmdStatus   = "/status"
)

func normalizeCommand(text string) string {
	c := strings.ToLower(strings.TrimSpace(text))
	switch c {
	case "help":
		return cmdHelp
	case "status":
		return cmdStatus
	}
	return c
}

func isCommand(text string) bool {
	switch normalizeCommand(text) {
	case cmdCode, cmdChat, cmdCancel, cmdSwitch, cmdCLIModel, cmdHelp, cmdStatus:
		return true
	}
	return false
}

func (a *Agent) handleCommand(ctx context.Context, from, text string) (string, bool) {
	switch normalizeCommand(text) {
	case cmdCode:
		a.setMode(from, model.ModeCode)
		return fmt.Sprintf("Code mode on. Instructions go to %s. Send /chat to switch back.", a.router.Adapter().ID()), true
	case cmdChat:
		a.setMode(from, model.ModeChat)
		return "Chat mode on. Messages go to the chat provider.", true
	case cmdCancel:
		if a.router.AbortCurrentCommand(from) {
			return "Cancelled the running command.", true
		}
		return "No command is running.", true
	case cmdSwitch:
		a.setPending(from, SwitchMain)
		return mainMenu, true
	case cmdCLIModel:
		next, out := a.openModelMenu()
		a.setPending(from, next)
		return out, true
	case cmdHelp:
		return helpText, true
	case cmdStatus:
		return a.status(ctx, from), true
	}
	return "", false
}

func (a *Agent) status(_ context.Context, from string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Mode: %s\n", a.mode(from))
	fmt.Fprintf(&b, "Adapter: %s\n", a.router.AdapterStatus())
	ps, err := a.router.Provider()
	switch {
	case err != nil:
		fmt.Fprintf(&b, "Chat provider: unavailable (%v)", err)
	case ps.Name == "":
		b.WriteString("Chat provider: not configured")
	default:
		m := ps.Model
		if m == "" {
			m = "no model"
		}
		fmt.Fprintf(&b, "Chat provider: %s (%s)", ps.Name, m)
	}
	return b.String()
}

const helpText = `Commands:
/code - send messages to the coding adapter
/chat - send messages to the chat provider
/cancel - cancel the running code command
/switch - change chat provider or coding adapter
/cli-model - change the coding adapter's model
status - show current mode, adapter and provider
help - show this message`

// ShouldStream reports whether a transport should render progress for
// text: only free text in code mode with no switch menu open.
func (a *Agent) ShouldStream(from, text string) bool {
	if isCommand(text) {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.users[from]
	if !ok {
		return false
	}
	return u.pending == SwitchNone && u.mode == model.ModeCode
}

// IsUserInCodeMode reports whether from is in code mode.
func (a *Agent) IsUserInCodeMode(from string) bool {
	return a.mode(from) == model.ModeCode
}

// IsPendingSwitch reports whether from has a switch menu open.
func (a *Agent) IsPendingSwitch(from string) bool {
	return a.pending(from) != SwitchNone
}

func (a *Agent) user(from string) *userState {
	u, ok := a.users[from]
	if !ok {
		u = &userState{mode: model.ModeChat}
		a.users[from] = u
	}
	return u
}

func (a *Agent) mode(from string) model.Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.user(from).mode
}

func (a *Agent) setMode(from string, m model.Mode) {
	a.mu.Lock()
	a.user(from).mode = m
	a.mu.Unlock()
}

func (a *Agent) pending(from string) SwitchState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.user(from).pending
}

func (a *Agent) setPending(from string, s SwitchState) {
	a.mu.Lock()
	a.user(from).pending = s
	a.mu.Unlock()
}
