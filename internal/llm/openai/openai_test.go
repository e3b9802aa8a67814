package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hashi/internal/llm"
	"github.com/ashita-ai/hashi/internal/testutil"
	"github.com/ashita-ai/hashi/internal/tools"
)

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "echo" }
func (echoTool) Definition() tools.Definition {
	return tools.Definition{Name: "echo", Description: "echo", Parameters: tools.ObjectParams(map[string]*tools.ParameterProperty{
		"text": {Type: tools.TypeString, Description: "text"},
	}, "text")}
}
func (echoTool) Execute(_ context.Context, args map[string]any) tools.Result {
	return tools.Result{Output: "echo:" + tools.StringArg(args, "text")}
}

func TestRunToolLoop_OpenAICompatible(t *testing.T) {
	var requests []chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-or", r.Header.Get("Authorization"))
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		requests = append(requests, req)

		w.Header().Set("Content-Type", "application/json")
		if len(requests) == 1 {
			_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[{"id":"call_1","type":"function","function":{"name":"echo","arguments":"{\"text\":\"ping\"}"}}]},"finish_reason":"tool_calls"}]}`)
			return
		}
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"pong"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	reg := tools.NewRegistry(testutil.TestLogger())
	require.NoError(t, reg.Register(echoTool{}))

	p := New("openrouter", srv.URL, srv.Client())
	out, err := llm.RunToolLoop(context.Background(), p, llm.Request{APIKey: "sk-or", Model: "m", Instruction: "ping it"}, reg)
	require.NoError(t, err)
	assert.Equal(t, "pong", out)

	require.Len(t, requests, 2)
	first := requests[0]
	assert.Equal(t, "system", first.Messages[0].Role)
	assert.Equal(t, "user", first.Messages[1].Role)
	require.Len(t, first.Tools, 1)
	assert.Equal(t, "function", first.Tools[0].Type)
	assert.Equal(t, "echo", first.Tools[0].Function.Name)

	second := requests[1].Messages
	require.Len(t, second, 4)
	assert.Equal(t, "assistant", second[2].Role)
	require.Len(t, second[2].ToolCalls, 1)
	assert.Equal(t, "tool", second[3].Role)
	assert.Equal(t, "call_1", second[3].ToolCallID)
	assert.Equal(t, "echo:ping", second[3].Content)
}

func TestSession_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	sess, err := New("openai", srv.URL, srv.Client()).NewSession(context.Background(), llm.Request{APIKey: "k"})
	require.NoError(t, err)
	_, err = sess.Send(context.Background())
	assert.ErrorContains(t, err, "no choices")
}

func TestSession_MalformedArgumentsKeepRaw(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","tool_calls":[{"type":"function","function":{"name":"echo","arguments":"{not json"}}]}}]}`)
	}))
	defer srv.Close()

	sess, err := New("openai", srv.URL, srv.Client()).NewSession(context.Background(), llm.Request{APIKey: "k"})
	require.NoError(t, err)
	turn, err := sess.Send(context.Background())
	require.NoError(t, err)
	require.Len(t, turn.Calls, 1)
	assert.NotEmpty(t, turn.Calls[0].ID, "missing ids are generated")
	assert.Equal(t, "{not json", turn.Calls[0].Args["_raw"])
}
