// Package handoff records the conversation with the active coding adapter
// and turns it into a context transcript when the user switches adapters.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/hashi/internal/model"
)

const (
	// maxEntries caps the in-memory conversation; oldest entries go first.
	maxEntries   = 200
	summaryChars = 500
	maxDecisions = 5
)

// ErrNotFound is returned when a store has no snapshot with the given id.
var ErrNotFound = errors.New("handoff: snapshot not found")

// Summary is the derived task/approach/decision digest of a conversation.
type Summary struct {
	Task      string   `json:"task"`
	Approach  string   `json:"approach"`
	Decisions []string `json:"decisions"`
}

// Snapshot is the persisted form of one adapter handoff.
type Snapshot struct {
	ID          string                    `json:"id"`
	CreatedAt   time.Time                 `json:"created_at"`
	FromAdapter string                    `json:"from_adapter"`
	ToAdapter   string                    `json:"to_adapter"`
	EntryCount  int                       `json:"entry_count"`
	Summary     Summary                   `json:"summary"`
	Files       model.TrackedFiles        `json:"files"`
	Entries     []model.ConversationEntry `json:"entries"`
	// ConsumedAt is set once the transcript has been injected into a command.
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

// Store persists snapshots.
type Store interface {
	Save(ctx context.Context, s Snapshot) error
	Latest(ctx context.Context) (Snapshot, bool, error)
	List(ctx context.Context, limit int) ([]Snapshot, error)
	// MarkConsumed records that snapshot id was injected at the given time.
	MarkConsumed(ctx context.Context, id string, at time.Time) error
	Close() error
}

// Manager holds the live conversation and any pending handoff transcript.
// Safe for concurrent use.
type Manager struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	entries   []model.ConversationEntry
	pending   []model.ConversationEntry
	pendingID string
}

// NewManager creates a manager. A nil store keeps handoffs in memory only.
func NewManager(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, logger: logger, now: time.Now}
}

// AddEntry appends one conversation turn.
func (m *Manager) AddEntry(role model.Role, content, adapter string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, model.ConversationEntry{
		Role:      role,
		Content:   content,
		Timestamp: m.now().UTC(),
		Adapter:   adapter,
	})
	if over := len(m.entries) - maxEntries; over > 0 {
		m.entries = append([]model.ConversationEntry(nil), m.entries[over:]...)
	}
}

// Entries returns a copy of the conversation.
func (m *Manager) Entries() []model.ConversationEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.ConversationEntry(nil), m.entries...)
}

// Len returns the number of recorded entries.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// HasPending reports whether a handoff transcript is waiting to be injected.
func (m *Manager) HasPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending) > 0
}

// TakePending returns the pending handoff transcript and clears it, so it is
// injected exactly once. The backing snapshot is marked consumed so a restart
// does not arm it again.
func (m *Manager) TakePending(ctx context.Context) []model.ConversationEntry {
	m.mu.Lock()
	p, id := m.pending, m.pendingID
	m.pending, m.pendingID = nil, ""
	m.mu.Unlock()

	if len(p) > 0 && id != "" && m.store != nil {
		if err := m.store.MarkConsumed(ctx, id, m.now().UTC()); err != nil {
			m.logger.Warn("handoff: mark snapshot consumed failed", "id", id, "error", err)
		}
	}
	return p
}

// Generate builds a handoff from the current conversation, persists it, and
// arms it as the pending transcript for the next command. The conversation
// itself is kept. It reports false when there is nothing to hand off.
func (m *Manager) Generate(ctx context.Context, from, to string, files model.TrackedFiles) (Snapshot, bool) {
	m.mu.Lock()
	if len(m.entries) == 0 {
		m.mu.Unlock()
		return Snapshot{}, false
	}
	entries := append([]model.ConversationEntry(nil), m.entries...)
	snap := Snapshot{
		ID:          uuid.NewString(),
		CreatedAt:   m.now().UTC(),
		FromAdapter: from,
		ToAdapter:   to,
		EntryCount:  len(entries),
		Summary:     Summarize(entries),
		Files:       files,
		Entries:     entries,
	}
	m.mu.Unlock()

	// pendingID stays empty when the snapshot was not persisted, so there is
	// nothing to mark consumed later.
	var id string
	if m.store != nil {
		if err := m.store.Save(ctx, snap); err != nil {
			m.logger.Warn("handoff: save snapshot failed", "from", from, "to", to, "error", err)
		} else {
			id = snap.ID
		}
	}

	m.mu.Lock()
	m.pending = Transcript(snap)
	m.pendingID = id
	m.mu.Unlock()
	return snap, true
}

// RestoreLatest arms the most recent persisted handoff as the pending
// transcript when it is addressed to adapter and has not been consumed yet.
// Older snapshots are never restored: a newer handoff supersedes them. It
// reports whether one was restored.
func (m *Manager) RestoreLatest(ctx context.Context, adapter string) (bool, error) {
	if m.store == nil {
		return false, nil
	}
	snap, ok, err := m.store.Latest(ctx)
	if err != nil {
		return false, fmt.Errorf("handoff: restore: %w", err)
	}
	if !ok || snap.ToAdapter != adapter || snap.ConsumedAt != nil {
		return false, nil
	}
	m.mu.Lock()
	m.pending = Transcript(snap)
	m.pendingID = snap.ID
	m.mu.Unlock()
	return true, nil
}

// Summarize derives the task (first user turn), the approach (last
// assistant turn), and decision sentences from the conversation.
func Summarize(entries []model.ConversationEntry) Summary {
	var s Summary
	for _, e := range entries {
		if e.Role == model.RoleUser && s.Task == "" {
			s.Task = clip(e.Content, summaryChars)
		}
		if e.Role == model.RoleAssistant {
			s.Approach = clip(e.Content, summaryChars)
			for _, d := range decisionSentences(e.Content) {
				if len(s.Decisions) < maxDecisions {
					s.Decisions = append(s.Decisions, d)
				}
			}
		}
	}
	return s
}

// Transcript renders a snapshot as synthetic prior turns for the next
// adapter.
func Transcript(s Snapshot) []model.ConversationEntry {
	var b strings.Builder
	fmt.Fprintf(&b, "Context handoff from %s (%d prior messages).\n", s.FromAdapter, s.EntryCount)
	if s.Summary.Task != "" {
		fmt.Fprintf(&b, "Task: %s\n", s.Summary.Task)
	}
	if s.Summary.Approach != "" {
		fmt.Fprintf(&b, "Latest progress: %s\n", s.Summary.Approach)
	}
	if len(s.Summary.Decisions) > 0 {
		b.WriteString("Decisions:\n")
		for _, d := range s.Summary.Decisions {
			fmt.Fprintf(&b, "- %s\n", d)
		}
	}
	if len(s.Files.Modified) > 0 {
		fmt.Fprintf(&b, "Files modified: %s\n", strings.Join(s.Files.Modified, ", "))
	}
	if len(s.Files.Read) > 0 {
		fmt.Fprintf(&b, "Files read: %s\n", strings.Join(s.Files.Read, ", "))
	}

	ts := s.CreatedAt
	return []model.ConversationEntry{
		{Role: model.RoleUser, Content: strings.TrimRight(b.String(), "\n"), Timestamp: ts, Adapter: s.FromAdapter},
		{Role: model.RoleAssistant, Content: fmt.Sprintf("Understood. Continuing the work started in %s.", s.FromAdapter), Timestamp: ts, Adapter: s.ToAdapter},
	}
}

var decisionMarkers = []string{"decided", "i'll ", "i will ", "we will ", "going to ", "chose ", "instead of "}

func decisionSentences(text string) []string {
	var out []string
	for _, sentence := range splitSentences(text) {
		lower := strings.ToLower(sentence)
		for _, m := range decisionMarkers {
			if strings.Contains(lower, m) {
				out = append(out, clip(sentence, 200))
				break
			}
		}
	}
	return out
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?', '\n':
			if s := strings.TrimSpace(text[start : i+1]); len(s) > 1 {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
