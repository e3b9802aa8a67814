// Package gemini implements the Gemini API as an llm.Provider using the
// google.golang.org/genai SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/ashita-ai/hashi/internal/llm"
	"github.com/ashita-ai/hashi/internal/tools"
)

// Content roles.
const (
	roleUser  = "user"
	roleModel = "model"
)

// Provider calls GenerateContent. BaseURL overrides the API endpoint.
type Provider struct {
	baseURL string
}

// New creates a provider. An empty baseURL uses the SDK default.
func New(baseURL string) *Provider {
	return &Provider{baseURL: baseURL}
}

func (p *Provider) Name() string { return "gemini" }

func (p *Provider) NewSession(ctx context.Context, req llm.Request) (llm.Session, error) {
	if req.APIKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	cfg := &genai.ClientConfig{
		APIKey:  req.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if p.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: p.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	genCfg := &genai.GenerateContentConfig{Tools: tools.RenderGemini(req.Tools)}
	if req.System != "" {
		genCfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	return &session{
		client: client,
		model:  req.Model,
		config: genCfg,
		contents: []*genai.Content{{
			Role:  roleUser,
			Parts: []*genai.Part{{Text: req.Instruction}},
		}},
	}, nil
}

type session struct {
	client   *genai.Client
	model    string
	config   *genai.GenerateContentConfig
	contents []*genai.Content
	last     *genai.Content
	names    map[string]string
}

func (s *session) Send(ctx context.Context) (llm.Turn, error) {
	resp, err := s.client.Models.GenerateContent(ctx, s.model, s.contents, s.config)
	if err != nil {
		return llm.Turn{}, fmt.Errorf("gemini: generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return llm.Turn{}, errors.New("gemini: response has no candidates")
	}
	s.last = resp.Candidates[0].Content

	var turn llm.Turn
	var text []string
	s.names = make(map[string]string)
	for _, part := range s.last.Parts {
		switch {
		case part.FunctionCall != nil:
			fc := part.FunctionCall
			if fc.ID == "" {
				fc.ID = uuid.NewString()
			}
			s.names[fc.ID] = fc.Name
			args := fc.Args
			if args == nil {
				args = map[string]any{}
			}
			turn.Calls = append(turn.Calls, tools.Call{ID: fc.ID, Name: fc.Name, Args: args})
		case part.Text != "" && !part.Thought:
			text = append(text, part.Text)
		}
	}
	turn.Text = strings.Join(text, "")
	return turn, nil
}

func (s *session) AddToolResults(_ llm.Turn, results []tools.Result) {
	if s.last.Role == "" {
		s.last.Role = roleModel
	}
	s.contents = append(s.contents, s.last)

	parts := make([]*genai.Part, 0, len(results))
	for _, r := range results {
		response := map[string]any{"output": r.Output}
		if r.IsError {
			response = map[string]any{"error": r.Output}
		}
		parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
			ID:       r.ToolCallID,
			Name:     s.names[r.ToolCallID],
			Response: response,
		}})
	}
	s.contents = append(s.contents, &genai.Content{Role: roleUser, Parts: parts})
}
