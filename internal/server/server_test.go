package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hashi/internal/adapter"
	"github.com/ashita-ai/hashi/internal/adapter/adaptertest"
	"github.com/ashita-ai/hashi/internal/auth"
	"github.com/ashita-ai/hashi/internal/ctxutil"
	"github.com/ashita-ai/hashi/internal/model"
	"github.com/ashita-ai/hashi/internal/procreg"
	"github.com/ashita-ai/hashi/internal/ratelimit"
	"github.com/ashita-ai/hashi/internal/router"
	"github.com/ashita-ai/hashi/internal/stream"
	"github.com/ashita-ai/hashi/internal/testutil"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeAgent struct {
	mu        sync.Mutex
	stream    bool
	progress  []string
	reply     string
	seen      []model.Message
	principal string
	panics    bool
}

func (a *fakeAgent) ProcessMessage(ctx context.Context, msg model.Message, onProgress func(string)) string {
	if a.panics {
		panic("boom")
	}
	a.mu.Lock()
	a.seen = append(a.seen, msg)
	a.principal = ctxutil.PrincipalFromContext(ctx)
	a.mu.Unlock()
	if onProgress != nil {
		for _, p := range a.progress {
			onProgress(p)
		}
	}
	return a.reply
}

func (a *fakeAgent) ShouldStream(string, string) bool { return a.stream }

type fakeStatus struct {
	adapter adapter.Adapter
	state   router.ProviderState
}

func (s fakeStatus) Adapter() adapter.Adapter                { return s.adapter }
func (s fakeStatus) Provider() (router.ProviderState, error) { return s.state, nil }

func newTestServer(t *testing.T, agent *fakeAgent, mutate func(*Config)) http.Handler {
	t.Helper()
	cfg := Config{
		Agent:   agent,
		Status:  fakeStatus{adapter: adaptertest.New("codex"), state: router.ProviderState{Name: "anthropic"}},
		Logger:  testutil.TestLogger(),
		Chunker: stream.ChunkerConfig{MinChars: 1, MaxChars: 200, BreakMode: stream.BreakParagraph},
		Version: "test",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg).Handler()
}

func postMessage(t *testing.T, h http.Handler, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMessage_JSON(t *testing.T) {
	agent := &fakeAgent{reply: "hello back"}
	h := newTestServer(t, agent, nil)

	rec := postMessage(t, h, `{"from":"telegram:42","text":"hello"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp messageResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "hello back", resp.Response)
	require.Len(t, agent.seen, 1)
	assert.Equal(t, "telegram:42", agent.seen[0].From)
	assert.Equal(t, "hello", agent.seen[0].Text)
	assert.Equal(t, "telegram:42", agent.principal)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestMessage_RejectsBadBodies(t *testing.T) {
	h := newTestServer(t, &fakeAgent{}, func(c *Config) { c.MaxBodyBytes = 64 })

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{"from":`, http.StatusBadRequest},
		{"unknown field", `{"from":"a","text":"b","extra":1}`, http.StatusBadRequest},
		{"missing from", `{"text":"b"}`, http.StatusBadRequest},
		{"too large", `{"from":"a","text":"` + strings.Repeat("x", 200) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postMessage(t, h, tt.body, nil)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

type sseEvent struct {
	name string
	data string
}

func readEvents(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	var cur sseEvent
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if cur.name != "" {
				events = append(events, cur)
			}
			cur = sseEvent{}
		}
	}
	require.NoError(t, sc.Err())
	return events
}

func TestMessage_StreamsCodeCommands(t *testing.T) {
	agent := &fakeAgent{
		stream:   true,
		progress: []string{"Reading files.\n\n", "Editing main.go.\n\n"},
		reply:    "All done.",
	}
	h := newTestServer(t, agent, nil)

	rec := postMessage(t, h, `{"from":"u1","text":"fix the bug"}`, map[string]string{"Accept": "text/event-stream"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := readEvents(t, rec.Body.String())
	require.NotEmpty(t, events)
	assert.Equal(t, "typing", events[0].name)

	last := events[len(events)-1]
	assert.Equal(t, "done", last.name)
	var done messageResponse
	require.NoError(t, json.Unmarshal([]byte(last.data), &done))
	assert.Equal(t, "All done.", done.Response)

	var chunks []model.StreamChunk
	var text strings.Builder
	for _, e := range events {
		if e.name != "chunk" {
			continue
		}
		var c model.StreamChunk
		require.NoError(t, json.Unmarshal([]byte(e.data), &c))
		chunks = append(chunks, c)
		text.WriteString(c.Text)
	}
	require.NotEmpty(t, chunks)
	assert.True(t, chunks[len(chunks)-1].IsComplete)
	for i, c := range chunks {
		assert.Equal(t, i+1, c.Seq)
	}
	assert.Contains(t, text.String(), "Reading files.")
	assert.Contains(t, text.String(), "Editing main.go.")
}

func TestMessage_NoStreamWithoutAcceptHeader(t *testing.T) {
	agent := &fakeAgent{stream: true, progress: []string{"ignored"}, reply: "ok"}
	h := newTestServer(t, agent, nil)

	rec := postMessage(t, h, `{"from":"u1","text":"run"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
}

func TestAuth(t *testing.T) {
	tokens, err := auth.NewTokenManager(testSecret)
	require.NoError(t, err)
	h := newTestServer(t, &fakeAgent{reply: "ok"}, func(c *Config) { c.Tokens = tokens })

	rec := postMessage(t, h, `{"from":"u1","text":"hi"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postMessage(t, h, `{"from":"u1","text":"hi"}`, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tok, err := tokens.Issue("telegram", time.Hour)
	require.NoError(t, err)
	rec = postMessage(t, h, `{"from":"u1","text":"hi"}`, map[string]string{"Authorization": "Bearer " + tok})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health stays public.
	hrec := httptest.NewRecorder()
	h.ServeHTTP(hrec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, hrec.Code)
}

func TestRateLimit(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(0.001, 1)
	t.Cleanup(func() { _ = limiter.Close() })
	h := newTestServer(t, &fakeAgent{reply: "ok"}, func(c *Config) { c.Limiter = limiter })

	assert.Equal(t, http.StatusOK, postMessage(t, h, `{"from":"u1","text":"a"}`, nil).Code)
	rec := postMessage(t, h, `{"from":"u1","text":"b"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestRecovery(t *testing.T) {
	h := newTestServer(t, &fakeAgent{panics: true}, nil)
	rec := postMessage(t, h, `{"from":"u1","text":"a"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealth(t *testing.T) {
	procs := procreg.New(procreg.Config{}, testutil.TestLogger())
	t.Cleanup(procs.Close)
	procs.Create(procreg.CreateOptions{Command: "sleep 10"})

	h := newTestServer(t, &fakeAgent{}, func(c *Config) { c.Procs = procs })
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "codex", resp.Adapter)
	assert.Equal(t, "anthropic", resp.Provider)
	assert.Equal(t, 1, resp.RunningProcesses)
}

func TestMCPEndpoint(t *testing.T) {
	srv := mcpserver.NewMCPServer("hashi", "test", mcpserver.WithToolCapabilities(false))
	h := newTestServer(t, &fakeAgent{}, func(c *Config) { c.MCPServer = srv })

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"t","version":"1"}}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"serverInfo"`)
}
