package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message represents a finalized conversation message.
type Message struct {
	// Identity
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	TenantID       string `json:"tenant_id"`

	// Content
	Role  Role   `json:"role"`
	Parts []Part `json:"parts,omitempty"`
	Text  string `json:"text"`

	// LLM metadata (nullable for non-assistant messages)
	Model        *string `json:"model,omitempty"`
	TokensIn     *int    `json:"tokens_in,omitempty"`
	TokensOut    *int    `json:"tokens_out,omitempty"`
	LatencyMs    *int64  `json:"latency_ms,omitempty"`
	FinishReason *string `json:"finish_reason,omitempty"`

	// Timestamps
	CreatedAt     time.Time  `json:"created_at"`
	StreamStarted *time.Time `json:"stream_started,omitempty"`
	StreamEnded   *time.Time `json:"stream_ended,omitempty"`

	// JetStream metadata (populated on read)
	Sequence uint64 `json:"sequence,omitempty"`
}

// ListMessagesResponse is the response for listing persisted messages.
type ListMessagesResponse struct {
	Messages     []Message `json:"messages"`
	HasMore      bool      `json:"has_more"`
	LastSequence uint64    `json:"last_sequence"`
}
