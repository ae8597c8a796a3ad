// Package model defines data structures for the generation relay.
package model

import (
	"encoding/json"
)

// PartType identifies the variant of a message part.
type PartType string

const (
	PartTypeText         PartType = "text"
	PartTypeReasoning    PartType = "reasoning"
	PartTypeToolCall     PartType = "tool-call"
	PartTypeSource       PartType = "source"
	PartTypeStepBoundary PartType = "step-boundary"
)

// ToolCallState is the lifecycle state of a tool-call part.
type ToolCallState string

const (
	ToolCallStateInputAvailable  ToolCallState = "input-available"
	ToolCallStateOutputAvailable ToolCallState = "output-available"
)

// Part is one typed fragment of an assistant turn.
//
// Text and Reasoning parts accumulate into Text. Tool-call parts carry the
// call id, tool name, canonical Input and, once resolved, Output. Args mirrors
// Input for consumers that still read the older field name.
type Part struct {
	Type PartType `json:"type"`

	// text / reasoning
	Text string `json:"text,omitempty"`

	// tool-call
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	State      ToolCallState   `json:"state,omitempty"`

	// source
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`

	// step-boundary, opaque passthrough
	Boundary string `json:"boundary,omitempty"`
}

// PlainText returns the concatenated text content of a part list, text parts
// only. This is the legacy projection carried on the Job for clients that do
// not understand parts.
func PlainText(parts []Part) string {
	var out string
	for _, p := range parts {
		if p.Type == PartTypeText {
			out += p.Text
		}
	}
	return out
}

// HistoryEntry is one prior conversation turn supplied by the client.
// The budgeter treats it as read-only input; trimming produces copies.
type HistoryEntry struct {
	Role      Role   `json:"role"`
	Parts     []Part `json:"parts"`
	CreatedAt string `json:"created_at,omitempty"`
}
