// Package model is the single gateway to the LLM provider. Every classifier
// and agent call goes through it so that usage, latency, and cost end up in
// the api-call log, and so structured responses are validated against their
// JSON schema before callers see them.
package model

import (
	"context"
	"encoding/json"
)

// Tier selects a capability/cost class; the client resolves it to a
// concrete model ID.
type Tier string

const (
	TierHaiku  Tier = "haiku"
	TierSonnet Tier = "sonnet"
	TierOpus   Tier = "opus"
)

// Block is one content block in a message, in either direction. Type is
// "text", "tool_use", or "tool_result".
type Block struct {
	Type string

	// Text content, for "text" blocks.
	Text string

	// Tool invocation fields, for "tool_use" blocks.
	ToolUseID string
	ToolName  string
	ToolInput json.RawMessage

	// Tool result fields, for "tool_result" blocks.
	ResultFor string
	Result    string
	IsError   bool
}

// TextBlock builds a text content block.
func TextBlock(text string) Block {
	return Block{Type: "text", Text: text}
}

// ToolResultBlock builds a tool_result block answering one tool_use.
func ToolResultBlock(toolUseID, content string, isError bool) Block {
	return Block{Type: "tool_result", ResultFor: toolUseID, Result: content, IsError: isError}
}

// Message is one conversation turn. Role is "user" or "assistant".
type Message struct {
	Role   string
	Blocks []Block
}

// UserText builds a single-text-block user message.
func UserText(text string) Message {
	return Message{Role: "user", Blocks: []Block{TextBlock(text)}}
}

// ToolDef describes one tool offered to the model.
type ToolDef struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// CompletionRequest is a fully resolved provider request.
type CompletionRequest struct {
	Model     string
	System    string
	Messages  []Message
	MaxTokens int64
	Tools     []ToolDef
}

// Completion is one provider response turn.
type Completion struct {
	Blocks       []Block
	StopReason   string
	InputTokens  int64
	OutputTokens int64
}

// Text concatenates the completion's text blocks.
func (c *Completion) Text() string {
	var out string
	for _, b := range c.Blocks {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}

// ToolUses returns the completion's tool_use blocks.
func (c *Completion) ToolUses() []Block {
	var uses []Block
	for _, b := range c.Blocks {
		if b.Type == "tool_use" {
			uses = append(uses, b)
		}
	}
	return uses
}

// Provider executes one completion against a backing model API.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}
