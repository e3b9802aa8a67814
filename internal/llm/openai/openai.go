// Package openai implements the OpenAI Chat Completions API as an
// llm.Provider. OpenAI-compatible gateways such as OpenRouter reuse it with
// a different name and base URL.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ashita-ai/hashi/internal/llm"
	"github.com/ashita-ai/hashi/internal/tools"
)

const (
	DefaultBaseURL    = "https://api.openai.com/v1"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// Provider calls a Chat Completions endpoint.
type Provider struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

// New creates a provider registered under name. An empty baseURL uses
// DefaultBaseURL.
func New(name, baseURL string, httpClient *http.Client) *Provider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Provider{name: name, baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) NewSession(_ context.Context, req llm.Request) (llm.Session, error) {
	if req.APIKey == "" {
		return nil, errors.New(p.name + ": api key is required")
	}
	msgs := []chatMessage{}
	if req.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.System})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: req.Instruction})
	return &session{p: p, req: req, tools: tools.RenderOpenAI(req.Tools), messages: msgs}, nil
}

type toolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type chatRequest struct {
	Model    string             `json:"model"`
	Messages []chatMessage      `json:"messages"`
	Tools    []tools.OpenAITool `json:"tools,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

type session struct {
	p        *Provider
	req      llm.Request
	tools    []tools.OpenAITool
	messages []chatMessage
	last     chatMessage
}

func (s *session) Send(ctx context.Context) (llm.Turn, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+s.req.APIKey)

	var resp chatResponse
	body := chatRequest{Model: s.req.Model, Messages: s.messages, Tools: s.tools}
	if err := llm.PostJSON(ctx, s.p.httpClient, s.p.name, s.p.baseURL+"/chat/completions", headers, body, &resp, decodeError); err != nil {
		return llm.Turn{}, err
	}
	if len(resp.Choices) == 0 {
		return llm.Turn{}, errors.New(s.p.name + ": response has no choices")
	}
	msg := resp.Choices[0].Message
	s.last = msg

	turn := llm.Turn{Text: msg.Content}
	for i, tc := range msg.ToolCalls {
		if tc.ID == "" {
			tc.ID = "call_" + uuid.NewString()
			s.last.ToolCalls[i].ID = tc.ID
		}
		args := map[string]any{}
		if strings.TrimSpace(tc.Function.Arguments) != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args = map[string]any{"_raw": tc.Function.Arguments}
			}
		}
		turn.Calls = append(turn.Calls, tools.Call{ID: tc.ID, Name: tc.Function.Name, Args: args})
	}
	return turn, nil
}

func (s *session) AddToolResults(_ llm.Turn, results []tools.Result) {
	s.last.Role = "assistant"
	s.messages = append(s.messages, s.last)
	for _, r := range results {
		content := r.Output
		if r.IsError {
			content = "Error: " + content
		}
		s.messages = append(s.messages, chatMessage{Role: "tool", ToolCallID: r.ToolCallID, Content: content})
	}
}

func decodeError(body []byte) (string, string) {
	var e struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) != nil {
		return "", ""
	}
	return e.Error.Type, e.Error.Message
}
