package model

import (
	"time"
)

// PushEventType identifies an event emitted on the push channel.
type PushEventType string

const (
	PushEventConnected      PushEventType = "connected"
	PushEventStart          PushEventType = "start"
	PushEventMessageStart   PushEventType = "message-start"
	PushEventTextDelta      PushEventType = "text-delta"
	PushEventReasoningDelta PushEventType = "reasoning-delta"
	PushEventToolCall       PushEventType = "tool-call"
	PushEventToolResult     PushEventType = "tool-result"
	PushEventSource         PushEventType = "source"
	PushEventStep           PushEventType = "step"
	PushEventProgress       PushEventType = "progress"
	PushEventMessageEnd     PushEventType = "message-end"
	PushEventHeartbeat      PushEventType = "heartbeat"
	PushEventWarning        PushEventType = "warning"
	PushEventError          PushEventType = "error"
	PushEventDone           PushEventType = "done"
)

// PartUpdateEvent is one push-channel progress event mirroring a classified
// part update. The payload shape matches the poll snapshot fields so a client
// can switch transports without changing its reducer.
type PartUpdateEvent struct {
	JobID         string `json:"job_id"`
	Part          *Part  `json:"part,omitempty"`
	Text          string `json:"text,omitempty"`
	PartsReceived int    `json:"parts_received"`
}

// DoneEvent is the single terminal success event on the push channel.
type DoneEvent struct {
	JobID        string `json:"job_id"`
	MessageID    string `json:"message_id,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	Text         string `json:"text"`
	Parts        []Part `json:"parts"`
}

// WarningEvent carries an advisory, such as an output-length stop.
type WarningEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorEvent represents an error event.
type ErrorEvent struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// HeartbeatEvent represents an application-level heartbeat, distinguishable
// from the transport keep-alive comments.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
