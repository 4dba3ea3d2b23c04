// Package llm defines the Analyzer's LLM backend contract: a conversational,
// tool-calling request/response shape independent of any specific provider.
package llm

import (
	"context"
	"encoding/json"
)

// Provider is the interface for any LLM backend the Analyzer drives.
type Provider interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// Request is the input to the LLM provider: the running transcript plus the
// fixed tool schema available this turn.
type Request struct {
	MaxTokens int
	System    string
	Messages  []Message
	Tools     []ToolDef
}

// ToolDef describes one callable tool in the provider's expected format.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Response is the LLM's reply: generated content, why it stopped, and usage.
type Response struct {
	Content    []ContentBlock
	StopReason StopReason
	Usage      Usage
}

// StopReason indicates why the model stopped generating.
type StopReason string

const (
	StopEnd     StopReason = "end_turn"
	StopToolUse StopReason = "tool_use"
)

// Message is one turn of the conversation, from the user or the assistant.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock is either a text block or a tool-use/tool-result block.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// Usage reports token consumption for one Send call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
