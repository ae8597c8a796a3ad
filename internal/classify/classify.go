// Package classify normalizes raw provider stream events into part updates.
//
// This is the single place provider dialect differences are resolved. Nothing
// downstream branches on alternate field names or unknown event tags.
package classify

import (
	"encoding/json"

	"github.com/relayloop/chatrelay/internal/llm"
	"github.com/relayloop/chatrelay/pkg/logger"
)

// Op is the normalized part-update instruction.
type Op string

const (
	OpAppendText         Op = "append-text"
	OpAppendReasoning    Op = "append-reasoning"
	OpOpenToolCall       Op = "open-tool-call"
	OpResolveToolCall    Op = "resolve-tool-call"
	OpAppendSource       Op = "append-source"
	OpAppendStepBoundary Op = "append-step-boundary"
	OpSetFinishReason    Op = "set-finish-reason"
	OpError              Op = "error"
	OpNoop               Op = "no-op"
)

// Update is one normalized part-update instruction derived from a raw event.
type Update struct {
	Op Op

	Text string

	ToolCallID string
	ToolName   string
	Input      json.RawMessage
	Output     json.RawMessage

	URL   string
	Title string

	Boundary string

	FinishReason string
	ErrorText    string
}

// Classifier maps raw stream events to part updates.
type Classifier struct {
	logger *logger.Logger
}

// New creates a classifier.
func New(log *logger.Logger) *Classifier {
	return &Classifier{logger: log}
}

// Classify maps one raw provider event to a normalized update. Unrecognized
// event types are logged and produce a no-op; classification never fails.
func (c *Classifier) Classify(ev llm.StreamEvent) Update {
	switch ev.Type {
	case llm.EventTextDelta:
		return Update{Op: OpAppendText, Text: ev.Text}

	case llm.EventReasoningDelta:
		return Update{Op: OpAppendReasoning, Text: ev.Text}

	case llm.EventToolCall:
		return Update{
			Op:         OpOpenToolCall,
			ToolCallID: ev.ToolCallID,
			ToolName:   ev.ToolName,
			Input:      canonicalInput(ev),
		}

	case llm.EventToolResult:
		return Update{
			Op:         OpResolveToolCall,
			ToolCallID: ev.ToolCallID,
			Output:     ev.Result,
		}

	case llm.EventSource:
		return Update{Op: OpAppendSource, URL: ev.URL, Title: ev.Title}

	case llm.EventStepStart, llm.EventStepFinish:
		return Update{Op: OpAppendStepBoundary, Boundary: ev.Type}

	case llm.EventFinish:
		return Update{Op: OpSetFinishReason, FinishReason: ev.FinishReason}

	case llm.EventError:
		return Update{Op: OpError, ErrorText: ev.ErrorText}

	default:
		c.logger.Warn("unrecognized stream event type", "type", ev.Type)
		return Update{Op: OpNoop}
	}
}

// canonicalInput resolves the input-field alias: some dialects name the tool
// input "input", others "args". The canonical field wins when both are set.
func canonicalInput(ev llm.StreamEvent) json.RawMessage {
	if len(ev.Input) > 0 {
		return ev.Input
	}
	return ev.Args
}
