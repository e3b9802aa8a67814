package model

import (
	"fmt"
	"time"
)

// Message is one inbound event from a transport. It is never persisted.
type Message struct {
	From      string    `json:"from"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage stamps a message with the current time.
func NewMessage(from, text string) Message {
	return Message{From: from, Text: text, Timestamp: time.Now().UTC()}
}

// Mode selects which backend answers free-text messages for a user.
type Mode string

const (
	ModeChat Mode = "chat"
	ModeCode Mode = "code"
)

// ValidatePrincipalID checks that a principal ID is usable as an authorization
// key. Transports produce IDs like "telegram:12345" or "user@example", so the
// allowed alphabet is ASCII alphanumerics plus . - _ @ : and /.
func ValidatePrincipalID(id string) error {
	if len(id) == 0 {
		return fmt.Errorf("principal id is required")
	}
	if len(id) > 255 {
		return fmt.Errorf("principal id must be at most 255 characters")
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') &&
			c != '.' && c != '-' && c != '_' && c != '@' && c != ':' && c != '/' {
			return fmt.Errorf("principal id contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}

// ValidateServerID checks an MCP server id. Server ids prefix every exposed
// tool name, so they must start with a letter and contain only alphanumerics,
// hyphens, and underscores.
func ValidateServerID(id string) error {
	if len(id) == 0 {
		return fmt.Errorf("server id must not be empty")
	}
	if len(id) > 64 {
		return fmt.Errorf("server id must be at most 64 characters")
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		isLetter := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		if i == 0 {
			if !isLetter {
				return fmt.Errorf("server id must start with a letter, got %q", c)
			}
			continue
		}
		if !isLetter && (c < '0' || c > '9') && c != '-' && c != '_' {
			return fmt.Errorf("server id contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}
