// Package accumulate builds the ordered part sequence of an assistant turn.
//
// The sequence is append-only: position reflects arrival order, and later
// events may only extend the open tail run or resolve an existing tool call
// in place. Nothing is ever reordered after the fact.
package accumulate

import (
	"encoding/json"

	"github.com/relayloop/chatrelay/internal/classify"
	"github.com/relayloop/chatrelay/internal/model"
)

// AppendText extends the open text run at the tail, or opens a new text part.
func AppendText(parts []model.Part, text string) []model.Part {
	if n := len(parts); n > 0 && parts[n-1].Type == model.PartTypeText {
		parts[n-1].Text += text
		return parts
	}
	return append(parts, model.Part{Type: model.PartTypeText, Text: text})
}

// AppendReasoning extends the open reasoning run at the tail, or opens a new
// reasoning part. Because only the tail run is ever extended, a reasoning
// part always precedes any text part opened after it.
func AppendReasoning(parts []model.Part, text string) []model.Part {
	if n := len(parts); n > 0 && parts[n-1].Type == model.PartTypeReasoning {
		parts[n-1].Text += text
		return parts
	}
	return append(parts, model.Part{Type: model.PartTypeReasoning, Text: text})
}

// OpenToolCall appends a tool-call part in input-available state. The part is
// visible to readers immediately, before its result arrives. If a part with
// the same call id already exists, its input is updated in place instead of
// appending a duplicate.
func OpenToolCall(parts []model.Part, callID, toolName string, input json.RawMessage) []model.Part {
	for i := range parts {
		if parts[i].Type == model.PartTypeToolCall && parts[i].ToolCallID == callID {
			if len(input) > 0 {
				parts[i].Input = input
				parts[i].Args = input
			}
			if toolName != "" {
				parts[i].ToolName = toolName
			}
			return parts
		}
	}
	return append(parts, model.Part{
		Type:       model.PartTypeToolCall,
		ToolCallID: callID,
		ToolName:   toolName,
		Input:      input,
		Args:       input,
		State:      model.ToolCallStateInputAvailable,
	})
}

// ResolveToolCall transitions the matching open tool call to output-available,
// attaching the result. It reports whether the event was applied: a resolve
// for an unknown or already-resolved call id is dropped (out-of-order or
// duplicate delivery).
func ResolveToolCall(parts []model.Part, callID string, output json.RawMessage) ([]model.Part, bool) {
	for i := range parts {
		if parts[i].Type != model.PartTypeToolCall || parts[i].ToolCallID != callID {
			continue
		}
		if parts[i].State == model.ToolCallStateOutputAvailable {
			return parts, false
		}
		parts[i].Output = output
		parts[i].State = model.ToolCallStateOutputAvailable
		return parts, true
	}
	return parts, false
}

// AppendSource appends a source citation part.
func AppendSource(parts []model.Part, url, title string) []model.Part {
	return append(parts, model.Part{Type: model.PartTypeSource, URL: url, Title: title})
}

// AppendStepBoundary appends a step-boundary marker, passed through opaquely.
func AppendStepBoundary(parts []model.Part, boundary string) []model.Part {
	return append(parts, model.Part{Type: model.PartTypeStepBoundary, Boundary: boundary})
}

// Apply dispatches one classified update onto the part sequence. The second
// return reports whether the update changed the sequence. Finish-reason,
// error and no-op updates carry terminal metadata rather than parts and are
// never applied here.
func Apply(parts []model.Part, u classify.Update) ([]model.Part, bool) {
	switch u.Op {
	case classify.OpAppendText:
		return AppendText(parts, u.Text), true
	case classify.OpAppendReasoning:
		return AppendReasoning(parts, u.Text), true
	case classify.OpOpenToolCall:
		return OpenToolCall(parts, u.ToolCallID, u.ToolName, u.Input), true
	case classify.OpResolveToolCall:
		return ResolveToolCall(parts, u.ToolCallID, u.Output)
	case classify.OpAppendSource:
		return AppendSource(parts, u.URL, u.Title), true
	case classify.OpAppendStepBoundary:
		return AppendStepBoundary(parts, u.Boundary), true
	default:
		return parts, false
	}
}
