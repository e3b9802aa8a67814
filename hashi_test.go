package hashi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hashi/internal/adapter/adaptertest"
	"github.com/ashita-ai/hashi/internal/config"
	"github.com/ashita-ai/hashi/internal/testutil"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		ConfigPath:            filepath.Join(dir, "config.json"),
		DataDir:               dir,
		RateLimitRPS:          100,
		RateLimitBurst:        100,
		ReadTimeout:           5 * time.Second,
		MaxBodyBytes:          1 << 20,
		ConsoleUser:           "console",
		HandoffStore:          config.HandoffStoreFile,
		ProcessRetention:      time.Minute,
		ProcessSweepInterval:  time.Minute,
		MaxOutputChars:        10_000,
		PendingMaxOutputChars: 1_000,
		ChunkMinChars:         1,
		ChunkMaxChars:         500,
		ChunkBreak:            "paragraph",
		ServiceName:           "hashi-test",
	}
}

func fakeAdapters() AdapterFactory {
	var created []*adaptertest.Fake
	var mu sync.Mutex
	return adaptertest.Factory(&created, &mu)
}

func TestNew_RequiresTransport(t *testing.T) {
	_, err := New(WithConfig(testConfig(t)), WithLogger(testutil.TestLogger()), WithAdapterFactory(fakeAdapters()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no transport enabled")
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.HandoffStore = "postgres"
	_, err := New(WithConfig(cfg), WithLogger(testutil.TestLogger()))
	require.Error(t, err)
}

func TestRun_ConsoleEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	cfg.Console = true

	var out, errOut bytes.Buffer
	app, err := New(
		WithConfig(cfg),
		WithLogger(testutil.TestLogger()),
		WithAdapterFactory(fakeAdapters()),
		WithConsoleIO(strings.NewReader("status\n"), &out, &errOut),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	assert.Nil(t, app.Handler())

	require.NoError(t, app.Run(context.Background()))
	assert.Contains(t, out.String(), "Mode: chat")
	assert.Contains(t, out.String(), "Adapter:")

	// The first principal claimed the agent and the claim was persisted.
	data, err := os.ReadFile(cfg.ConfigPath)
	require.NoError(t, err)
	var file map[string]any
	require.NoError(t, json.Unmarshal(data, &file))
	assert.Equal(t, "console", file["authorizedUser"])
}

func TestHTTPIngress(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.HandoffStore = config.HandoffStoreSQLite

	app, err := New(WithConfig(cfg), WithLogger(testutil.TestLogger()), WithAdapterFactory(fakeAdapters()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	h := app.Handler()
	require.NotNil(t, h)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
	assert.Equal(t, "claude-code", health["adapter"])

	body := `{"from":"telegram:1","text":"/code"}`
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	body = `{"from":"telegram:1","text":"add tests"}`
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "done: add tests", resp["response"])

	assert.FileExists(t, filepath.Join(cfg.DataDir, "handoffs.db"))
}
