// Package claude implements llm.Provider against the Anthropic Messages API.
package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/jarvis/internal/llm"
)

// anthropicMessagesURL is a var so tests can redirect it to a local server.
var anthropicMessagesURL = "https://api.anthropic.com/v1/messages"

// Client implements llm.Provider for the Claude API.
type Client struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

// New creates a Claude API client for the given API key and model name.
func New(apiKey, model string) *Client {
	return &Client{
		apiKey: apiKey,
		model:  model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// wireRequest is the payload shape the Messages API expects.
type wireRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Messages  []llm.Message `json:"messages"`
	Tools     []llm.ToolDef `json:"tools,omitempty"`
}

// wireResponse is the payload shape the Messages API returns.
type wireResponse struct {
	ID         string             `json:"id"`
	Content    []llm.ContentBlock `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      llm.Usage          `json:"usage"`
}

// Send implements llm.Provider.
func (c *Client) Send(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	wire := wireRequest{
		Model:     c.model,
		MaxTokens: req.MaxTokens,
		System:    req.System,
		Messages:  req.Messages,
		Tools:     req.Tools,
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		anthropicMessagesURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("claude api error %d: %s", resp.StatusCode, string(respBody))
	}

	var out wireResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return &llm.Response{
		Content:    out.Content,
		StopReason: llm.StopReason(out.StopReason),
		Usage:      out.Usage,
	}, nil
}
