package model

import (
	"time"
)

// JobStatus is the lifecycle status of a generation job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusStreaming JobStatus = "streaming"
	JobStatusCompleted JobStatus = "completed"
	JobStatusError     JobStatus = "error"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// Job is one server-tracked generation attempt for a single conversation turn.
// It is mutated only by the orchestrator that owns it; transports read
// snapshots.
type Job struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	TenantID       string    `json:"tenant_id"`
	Status         JobStatus `json:"status"`

	// Accumulated content
	Parts         []Part `json:"parts"`
	Text          string `json:"text"`
	PartsReceived int    `json:"parts_received"`

	// Terminal metadata
	MessageID    string `json:"message_id,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	Error        string `json:"error,omitempty"`
	Interrupted  bool   `json:"interrupted,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateJobRequest is the poll-transport request to start a generation job.
// The same payload shape starts a push-transport generation.
type CreateJobRequest struct {
	Messages []HistoryEntry `json:"messages"`
	Model    string         `json:"model,omitempty"`
}

// CreateJobResponse returns the job id before generation begins.
type CreateJobResponse struct {
	JobID  string    `json:"job_id"`
	Status JobStatus `json:"status"`
}
