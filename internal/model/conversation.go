package model

import "time"

// Role identifies the speaker of a conversation entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ConversationEntry is one turn recorded by the handoff context manager.
type ConversationEntry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Adapter   string    `json:"adapter,omitempty"`
}

// ModelInfo describes a model a coding adapter can run with.
type ModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// TrackedFiles lists files an adapter touched during a session.
type TrackedFiles struct {
	Modified []string `json:"modified"`
	Read     []string `json:"read"`
}

// StreamChunk is one block of progress text delivered to a transport.
// Seq increases per pipeline and serves as an idempotency key for
// transports that may redeliver.
type StreamChunk struct {
	Seq        int       `json:"seq"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	IsComplete bool      `json:"is_complete"`
}
