package agent

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ashita-ai/hashi/internal/adapter"
	"github.com/ashita-ai/hashi/internal/model"
)

// SwitchState is the position in the /switch and /cli-model menus.
type SwitchState int

const (
	SwitchNone SwitchState = iota
	SwitchMain
	SwitchProvider
	SwitchAdapter
	SwitchCLIModel
	SwitchCLIModelCustom
)

func (s SwitchState) String() string {
	switch s {
	case SwitchNone:
		return "none"
	case SwitchMain:
		return "main"
	case SwitchProvider:
		return "provider"
	case SwitchAdapter:
		return "adapter"
	case SwitchCLIModel:
		return "cli-model"
	case SwitchCLIModelCustom:
		return "cli-model-custom"
	default:
		return fmt.Sprintf("SwitchState(%d)", int(s))
	}
}

// transition handles one selection in state s and returns the next state
// and the reply. Every branch that does not open a sub-menu returns
// SwitchNone.
type transition func(a *Agent, ctx context.Context, input string) (SwitchState, string)

var transitions = map[SwitchState]transition{
	SwitchMain:           (*Agent).selectMain,
	SwitchProvider:       (*Agent).selectProvider,
	SwitchAdapter:        (*Agent).selectAdapter,
	SwitchCLIModel:       (*Agent).selectCLIModel,
	SwitchCLIModelCustom: (*Agent).selectCustomModel,
}

const mainMenu = "Switch what?\n1. LLM chat provider\n2. Coding adapter\nReply with a number."

// handleSelection interprets text as a menu selection. The state is cleared
// before the transition runs, so a failure mid-flow leaves the user free.
func (a *Agent) handleSelection(ctx context.Context, from string, s SwitchState, text string) (SwitchState, string) {
	a.setPending(from, SwitchNone)
	t, ok := transitions[s]
	if !ok {
		return SwitchNone, model.Warn("Unknown menu state %s. Menu closed.", s)
	}
	return t(a, ctx, text)
}

func invalidSelection(input string) string {
	return model.Warn("Invalid selection %q. Menu closed; send /switch to try again.", input)
}

func (a *Agent) selectMain(_ context.Context, input string) (SwitchState, string) {
	switch input {
	case "1":
		return a.openProviderMenu()
	case "2":
		return a.openAdapterMenu()
	}
	return SwitchNone, invalidSelection(input)
}

func (a *Agent) openProviderMenu() (SwitchState, string) {
	choices, err := a.router.ConfiguredProviders()
	if err != nil {
		return SwitchNone, model.Error(err)
	}
	if len(choices) == 0 {
		return SwitchNone, model.Warn("No chat providers have a model configured.")
	}
	current, _ := a.router.Provider()
	var b strings.Builder
	b.WriteString("Choose a chat provider:\n")
	for i, c := range choices {
		marker := ""
		if c.Name == current.Name {
			marker = " (current)"
		}
		fmt.Fprintf(&b, "%d. %s: %s%s\n", i+1, c.Name, c.Model, marker)
	}
	return SwitchProvider, strings.TrimRight(b.String(), "\n")
}

// selectProvider re-reads the provider list so a stale number cannot pick
// an entry that was removed since the menu was shown.
func (a *Agent) selectProvider(_ context.Context, input string) (SwitchState, string) {
	choices, err := a.router.ConfiguredProviders()
	if err != nil {
		return SwitchNone, model.Error(err)
	}
	i, ok := pick(input, len(choices))
	if !ok {
		return SwitchNone, invalidSelection(input)
	}
	choice := choices[i]
	if current, err := a.router.Provider(); err == nil && current.Name == choice.Name && current.Model == choice.Model {
		return SwitchNone, fmt.Sprintf("Already using %s (%s).", choice.Name, choice.Model)
	}
	if err := a.router.SetProvider(choice.Name); err != nil {
		return SwitchNone, model.Error(err)
	}
	return SwitchNone, fmt.Sprintf("Chat provider switched to %s (%s).", choice.Name, choice.Model)
}

func (a *Agent) openAdapterMenu() (SwitchState, string) {
	current := a.router.Adapter().ID()
	var b strings.Builder
	b.WriteString("Choose a coding adapter:\n")
	for i, s := range adapter.Catalog() {
		marker := ""
		if s.ID == current {
			marker = " (current)"
		}
		fmt.Fprintf(&b, "%d. %s (%s)%s\n", i+1, s.Name, s.ID, marker)
	}
	return SwitchAdapter, strings.TrimRight(b.String(), "\n")
}

func (a *Agent) selectAdapter(ctx context.Context, input string) (SwitchState, string) {
	catalog := adapter.Catalog()
	id := ""
	if i, ok := pick(input, len(catalog)); ok {
		id = catalog[i].ID
	} else if _, err := adapter.Lookup(strings.ToLower(input)); err == nil {
		id = strings.ToLower(input)
	} else {
		return SwitchNone, invalidSelection(input)
	}

	if id == a.router.Adapter().ID() {
		return SwitchNone, fmt.Sprintf("Already using %s.", id)
	}
	res, err := a.router.SwitchAdapter(ctx, id)
	if err != nil {
		return SwitchNone, model.Error(err)
	}
	if res.HandoffGenerated {
		return SwitchNone, fmt.Sprintf("Switched from %s to %s. Handed off %d messages of context.", res.OldAdapter, res.NewAdapter, res.EntryCount)
	}
	return SwitchNone, fmt.Sprintf("Switched from %s to %s.", res.OldAdapter, res.NewAdapter)
}

func (a *Agent) openModelMenu() (SwitchState, string) {
	ad := a.router.Adapter()
	models := ad.AvailableModels()
	var b strings.Builder
	fmt.Fprintf(&b, "Choose a model for %s:\n", ad.ID())
	for i, m := range models {
		marker := ""
		if m.ID == ad.CurrentModel() {
			marker = " (current)"
		}
		fmt.Fprintf(&b, "%d. %s%s\n", i+1, m.ID, marker)
	}
	fmt.Fprintf(&b, "%d. Other (type a model id)", len(models)+1)
	return SwitchCLIModel, b.String()
}

func (a *Agent) selectCLIModel(_ context.Context, input string) (SwitchState, string) {
	ad := a.router.Adapter()
	models := ad.AvailableModels()
	i, ok := pick(input, len(models)+1)
	if !ok {
		return SwitchNone, invalidSelection(input)
	}
	if i == len(models) {
		return SwitchCLIModelCustom, fmt.Sprintf("Type the model id for %s.", ad.ID())
	}
	return a.applyModel(models[i].ID)
}

func (a *Agent) selectCustomModel(_ context.Context, input string) (SwitchState, string) {
	if input == "" || strings.ContainsAny(input, " \t\n") {
		return SwitchNone, invalidSelection(input)
	}
	return a.applyModel(input)
}

func (a *Agent) applyModel(id string) (SwitchState, string) {
	ad := a.router.Adapter()
	if id == ad.CurrentModel() {
		return SwitchNone, fmt.Sprintf("Already using model %s.", id)
	}
	if err := a.router.SetAdapterModel(id); err != nil {
		return SwitchNone, model.Error(err)
	}
	return SwitchNone, fmt.Sprintf("%s model set to %s.", ad.ID(), id)
}

// pick parses a 1-based menu number.
func pick(input string, n int) (int, bool) {
	i, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || i < 1 || i > n {
		return 0, false
	}
	return i - 1, true
}
