// Package llmtest provides a canned chat provider for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/ashita-ai/hashi/internal/llm"
	"github.com/ashita-ai/hashi/internal/tools"
)

// Provider answers every instruction with Reply. It records the requests
// it was given.
type Provider struct {
	ProviderName string
	Reply        string

	mu       sync.Mutex
	requests []llm.Request
}

var _ llm.Provider = (*Provider)(nil)

func (p *Provider) Name() string { return p.ProviderName }

func (p *Provider) NewSession(_ context.Context, req llm.Request) (llm.Session, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	return session{reply: p.Reply}, nil
}

// Requests returns the recorded requests.
func (p *Provider) Requests() []llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.Request(nil), p.requests...)
}

type session struct{ reply string }

func (s session) Send(context.Context) (llm.Turn, error) { return llm.Turn{Text: s.reply}, nil }

func (session) AddToolResults(llm.Turn, []tools.Result) {}
