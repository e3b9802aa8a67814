package handoff_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hashi/internal/handoff"
	"github.com/ashita-ai/hashi/internal/model"
	"github.com/ashita-ai/hashi/internal/testutil"
)

func seed(m *handoff.Manager) {
	m.AddEntry(model.RoleUser, "Add retries to the uploader", "claude-code")
	m.AddEntry(model.RoleAssistant, "I'll wrap the PUT in a backoff loop. Tests pass.", "claude-code")
}

func TestGenerate_EmptyConversation(t *testing.T) {
	m := handoff.NewManager(nil, testutil.TestLogger())
	_, ok := m.Generate(context.Background(), "claude-code", "codex", model.TrackedFiles{})
	assert.False(t, ok)
	assert.False(t, m.HasPending())
}

func TestGenerate_ArmsPendingOnce(t *testing.T) {
	m := handoff.NewManager(nil, testutil.TestLogger())
	seed(m)

	snap, ok := m.Generate(context.Background(), "claude-code", "codex",
		model.TrackedFiles{Modified: []string{"upload.go"}})
	require.True(t, ok)
	assert.Equal(t, 2, snap.EntryCount)
	assert.Equal(t, "Add retries to the uploader", snap.Summary.Task)
	assert.Contains(t, snap.Summary.Decisions[0], "backoff loop")
	assert.Equal(t, 2, m.Len(), "conversation is kept after a handoff")

	pending := m.TakePending(context.Background())
	require.Len(t, pending, 2)
	assert.Equal(t, model.RoleUser, pending[0].Role)
	assert.Contains(t, pending[0].Content, "claude-code")
	assert.Contains(t, pending[0].Content, "upload.go")
	assert.Equal(t, model.RoleAssistant, pending[1].Role)

	assert.Nil(t, m.TakePending(context.Background()), "pending transcript is consumed")
}

func TestSummarize_ClipsLongText(t *testing.T) {
	long := make([]rune, 900)
	for i := range long {
		long[i] = 'x'
	}
	s := handoff.Summarize([]model.ConversationEntry{{Role: model.RoleUser, Content: string(long)}})
	assert.Equal(t, 501, len([]rune(s.Task)))
}

func testStores(t *testing.T) map[string]handoff.Store {
	t.Helper()
	dir := t.TempDir()
	fs, err := handoff.NewFileStore(filepath.Join(dir, "handoffs"))
	require.NoError(t, err)
	ss, err := handoff.NewSQLiteStore(context.Background(), filepath.Join(dir, "handoffs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })
	return map[string]handoff.Store{"file": fs, "sqlite": ss}
}

func TestStores_SaveLatestList(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, ok, err := store.Latest(ctx)
			require.NoError(t, err)
			assert.False(t, ok)

			base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
			for i, to := range []string{"codex", "gemini-cli", "aider"} {
				require.NoError(t, store.Save(ctx, handoff.Snapshot{
					ID:          to,
					CreatedAt:   base.Add(time.Duration(i) * time.Minute),
					FromAdapter: "claude-code",
					ToAdapter:   to,
				}))
			}

			latest, ok, err := store.Latest(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "aider", latest.ToAdapter)

			list, err := store.List(ctx, 2)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "aider", list[0].ID)
			assert.Equal(t, "gemini-cli", list[1].ID)

			all, err := store.List(ctx, 0)
			require.NoError(t, err)
			assert.Len(t, all, 3)
		})
	}
}

func TestRestoreLatest(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m := handoff.NewManager(store, testutil.TestLogger())
			seed(m)
			_, ok := m.Generate(ctx, "claude-code", "codex", model.TrackedFiles{})
			require.True(t, ok)

			fresh := handoff.NewManager(store, testutil.TestLogger())
			restored, err := fresh.RestoreLatest(ctx, "aider")
			require.NoError(t, err)
			assert.False(t, restored, "snapshot addressed to another adapter")

			restored, err = fresh.RestoreLatest(ctx, "codex")
			require.NoError(t, err)
			assert.True(t, restored)
			assert.Len(t, fresh.TakePending(ctx), 2)
		})
	}
}

func TestRestoreLatest_SkipsConsumedAfterRestart(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m := handoff.NewManager(store, testutil.TestLogger())
			seed(m)
			snap, ok := m.Generate(ctx, "claude-code", "codex", model.TrackedFiles{})
			require.True(t, ok)

			// First run: the transcript is injected into one command.
			require.Len(t, m.TakePending(ctx), 2)

			latest, ok, err := store.Latest(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, snap.ID, latest.ID)
			require.NotNil(t, latest.ConsumedAt)

			// Second run over the same store: nothing is re-armed.
			restarted := handoff.NewManager(store, testutil.TestLogger())
			restored, err := restarted.RestoreLatest(ctx, "codex")
			require.NoError(t, err)
			assert.False(t, restored)
			assert.False(t, restarted.HasPending())
			assert.Nil(t, restarted.TakePending(ctx))
		})
	}
}

func TestRestoreLatest_UnconsumedSurvivesRestarts(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m := handoff.NewManager(store, testutil.TestLogger())
			seed(m)
			_, ok := m.Generate(ctx, "claude-code", "codex", model.TrackedFiles{})
			require.True(t, ok)

			// Restarted before any command ran: still pending.
			second := handoff.NewManager(store, testutil.TestLogger())
			restored, err := second.RestoreLatest(ctx, "codex")
			require.NoError(t, err)
			require.True(t, restored)
			require.Len(t, second.TakePending(ctx), 2)

			third := handoff.NewManager(store, testutil.TestLogger())
			restored, err = third.RestoreLatest(ctx, "codex")
			require.NoError(t, err)
			assert.False(t, restored, "restored transcript was consumed by the second run")
		})
	}
}

func TestStores_MarkConsumedUnknownID(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			err := store.MarkConsumed(context.Background(), "missing", time.Now())
			assert.ErrorIs(t, err, handoff.ErrNotFound)
		})
	}
}

func TestSQLiteStore_MigratesLegacyTable(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "handoffs.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `
	CREATE TABLE handoffs (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		from_adapter TEXT NOT NULL DEFAULT '',
		to_adapter TEXT NOT NULL DEFAULT '',
		entry_count INTEGER NOT NULL DEFAULT 0,
		payload TEXT NOT NULL
	);
	INSERT INTO handoffs (id, created_at, to_adapter, payload)
	VALUES ('old', 1, 'codex', '{"id":"old","to_adapter":"codex"}');
	`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	store, err := handoff.NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	latest, ok, err := store.Latest(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, latest.ConsumedAt)

	require.NoError(t, store.MarkConsumed(ctx, "old", time.Now()))
	latest, _, err = store.Latest(ctx)
	require.NoError(t, err)
	assert.NotNil(t, latest.ConsumedAt)
}
