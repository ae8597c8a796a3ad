// Package llm provides LLM client interfaces and implementations.
package llm

import (
	"context"
	"encoding/json"
)

// Raw stream event types. Providers normalize their wire dialects into these
// tags; field aliases (Args vs Input) are resolved later by the classifier.
const (
	EventTextDelta      = "text-delta"
	EventReasoningDelta = "reasoning-delta"
	EventToolCall       = "tool-call"
	EventToolResult     = "tool-result"
	EventSource         = "source"
	EventStepStart      = "step-start"
	EventStepFinish     = "step-finish"
	EventFinish         = "finish"
	EventError          = "error"
)

// StreamEvent is one raw event from a provider generation stream.
type StreamEvent struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`

	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`

	Boundary string `json:"boundary,omitempty"`

	FinishReason string `json:"finish_reason,omitempty"`
	ErrorText    string `json:"error,omitempty"`
}

// EventCallback is called for each event during streaming. Returning an error
// aborts the stream.
type EventCallback func(ev StreamEvent) error

// ChatMessage represents a chat message for the provider call.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest represents a streaming completion request.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64

	// Credential overrides the client's configured API key for this request.
	// Opaque passthrough; never logged or inspected.
	Credential string
}

// StreamResult summarizes a finished (or failed-partway) stream.
type StreamResult struct {
	Model        string
	TokensIn     int
	TokensOut    int
	FinishReason string
	LatencyMs    int64
}

// Client is the interface for LLM providers.
type Client interface {
	// StreamGenerate opens a streaming generation call and invokes the
	// callback for every event until the stream ends.
	StreamGenerate(ctx context.Context, req *CompletionRequest, onEvent EventCallback) (*StreamResult, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// NewClient creates a new LLM client based on provider.
func NewClient(provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	default:
		return NewAnthropicClient(apiKey)
	}
}
