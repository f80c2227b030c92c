// Package llm abstracts the chat model behind the segment analyzer and the
// summarizer. The interface is deliberately small: one blocking Chat call
// over role-tagged messages with optional tool schemas and image payloads.
package llm

import (
	"context"
	"encoding/json"
)

// Message is one turn of a conversation. An Image attaches a base64 image
// block ahead of the text content; ToolCalls appear on assistant turns;
// ToolID marks a tool-result turn.
type Message struct {
	Role           string
	Content        string
	Image          []byte
	ImageMediaType string
	ToolCalls      []ToolCall
	ToolID         string
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

// ToolSchema describes one tool offered to the model.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Provider executes one model turn.
type Provider interface {
	Chat(ctx context.Context, msgs []Message, tools []ToolSchema, maxTokens int64) (Message, error)
}
