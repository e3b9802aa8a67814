package hashi

import (
	"github.com/ashita-ai/hashi/internal/adapter"
	"github.com/ashita-ai/hashi/internal/model"
	"github.com/ashita-ai/hashi/internal/tools"
)

// Adapter is a coding-CLI backend. Supply custom implementations with
// WithAdapterFactory.
type Adapter = adapter.Adapter

// AdapterFactory builds the adapter for a catalog id.
type AdapterFactory = func(id string) (Adapter, error)

// Tool is a capability the chat providers may call. Register extra tools
// with WithTools.
type Tool = tools.Tool

// ToolResult is the outcome of one tool call.
type ToolResult = tools.Result

// Message is one inbound event from a transport.
type Message = model.Message

// ConversationEntry is one turn in the handoff transcript.
type ConversationEntry = model.ConversationEntry
