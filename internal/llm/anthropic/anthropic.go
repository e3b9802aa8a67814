// Package anthropic implements the Anthropic Messages API as an llm.Provider.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ashita-ai/hashi/internal/llm"
	"github.com/ashita-ai/hashi/internal/tools"
)

const (
	DefaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"
	maxTokens      = 4096
)

// Provider calls the Messages API.
type Provider struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a provider. An empty baseURL uses DefaultBaseURL.
func New(baseURL string, httpClient *http.Client) *Provider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Provider{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) NewSession(_ context.Context, req llm.Request) (llm.Session, error) {
	if req.APIKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	return &session{
		p:     p,
		req:   req,
		tools: tools.RenderAnthropic(req.Tools),
		messages: []message{{
			Role:    "user",
			Content: []contentBlock{{Type: "text", Text: req.Instruction}},
		}},
	}, nil
}

type contentBlock struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Input     any    `json:"input,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type messagesRequest struct {
	Model     string                `json:"model"`
	MaxTokens int                   `json:"max_tokens"`
	System    string                `json:"system,omitempty"`
	Messages  []message             `json:"messages"`
	Tools     []tools.AnthropicTool `json:"tools,omitempty"`
}

type messagesResponse struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
}

type session struct {
	p        *Provider
	req      llm.Request
	tools    []tools.AnthropicTool
	messages []message
	last     []contentBlock
}

func (s *session) Send(ctx context.Context) (llm.Turn, error) {
	body := messagesRequest{
		Model:     s.req.Model,
		MaxTokens: maxTokens,
		System:    s.req.System,
		Messages:  s.messages,
		Tools:     s.tools,
	}
	headers := http.Header{}
	headers.Set("x-api-key", s.req.APIKey)
	headers.Set("anthropic-version", apiVersion)

	var resp messagesResponse
	if err := llm.PostJSON(ctx, s.p.httpClient, "anthropic", s.p.baseURL+"/v1/messages", headers, body, &resp, decodeError); err != nil {
		return llm.Turn{}, err
	}
	s.last = resp.Content

	var turn llm.Turn
	var text []string
	for _, b := range resp.Content {
		switch b.Type {
		case "text":
			text = append(text, b.Text)
		case "tool_use":
			args, _ := b.Input.(map[string]any)
			if args == nil {
				args = map[string]any{}
			}
			turn.Calls = append(turn.Calls, tools.Call{ID: b.ID, Name: b.Name, Args: args})
		}
	}
	turn.Text = strings.Join(text, "\n")
	return turn, nil
}

func (s *session) AddToolResults(_ llm.Turn, results []tools.Result) {
	s.messages = append(s.messages, message{Role: "assistant", Content: s.last})
	blocks := make([]contentBlock, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, contentBlock{
			Type:      "tool_result",
			ToolUseID: r.ToolCallID,
			Content:   r.Output,
			IsError:   r.IsError,
		})
	}
	s.messages = append(s.messages, message{Role: "user", Content: blocks})
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
