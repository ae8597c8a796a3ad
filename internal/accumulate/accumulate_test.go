package accumulate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayloop/chatrelay/internal/classify"
	"github.com/relayloop/chatrelay/internal/model"
)

func TestAppendTextMergesAdjacentDeltas(t *testing.T) {
	var parts []model.Part
	parts = AppendText(parts, "Hello")
	parts = AppendText(parts, " world")

	require.Len(t, parts, 1)
	assert.Equal(t, model.PartTypeText, parts[0].Type)
	assert.Equal(t, "Hello world", parts[0].Text)
}

func TestAppendTextOpensNewRunAfterOtherPart(t *testing.T) {
	var parts []model.Part
	parts = AppendText(parts, "before")
	parts = AppendStepBoundary(parts, "step-start")
	parts = AppendText(parts, "after")

	require.Len(t, parts, 3)
	assert.Equal(t, "before", parts[0].Text)
	assert.Equal(t, model.PartTypeStepBoundary, parts[1].Type)
	assert.Equal(t, "after", parts[2].Text)
}

func TestReasoningPrecedesTextOpenedAfterIt(t *testing.T) {
	var parts []model.Part
	parts = AppendReasoning(parts, "thinking")
	parts = AppendReasoning(parts, " harder")
	parts = AppendText(parts, "answer")
	parts = AppendText(parts, " here")

	require.Len(t, parts, 2)
	assert.Equal(t, model.PartTypeReasoning, parts[0].Type)
	assert.Equal(t, "thinking harder", parts[0].Text)
	assert.Equal(t, model.PartTypeText, parts[1].Type)
	assert.Equal(t, "answer here", parts[1].Text)
}

func TestOpenToolCallVisibleBeforeResult(t *testing.T) {
	var parts []model.Part
	parts = OpenToolCall(parts, "call-1", "lookup", json.RawMessage(`{"q":"go"}`))

	require.Len(t, parts, 1)
	assert.Equal(t, model.PartTypeToolCall, parts[0].Type)
	assert.Equal(t, model.ToolCallStateInputAvailable, parts[0].State)
	assert.Equal(t, "lookup", parts[0].ToolName)
	assert.Empty(t, parts[0].Output)
}

func TestOpenToolCallUpdatesExistingInPlace(t *testing.T) {
	var parts []model.Part
	parts = OpenToolCall(parts, "call-1", "lookup", nil)
	parts = OpenToolCall(parts, "call-1", "lookup", json.RawMessage(`{"q":"go"}`))

	require.Len(t, parts, 1)
	assert.JSONEq(t, `{"q":"go"}`, string(parts[0].Input))
}

func TestResolveToolCallInPlace(t *testing.T) {
	var parts []model.Part
	parts = OpenToolCall(parts, "call-1", "lookup", json.RawMessage(`{"q":"go"}`))
	parts = AppendText(parts, "looking that up")

	parts, applied := ResolveToolCall(parts, "call-1", json.RawMessage(`42`))
	require.True(t, applied)
	require.Len(t, parts, 2)

	// Resolution mutates the existing part; position does not change.
	assert.Equal(t, model.PartTypeToolCall, parts[0].Type)
	assert.Equal(t, model.ToolCallStateOutputAvailable, parts[0].State)
	assert.Equal(t, "42", string(parts[0].Output))
	assert.Equal(t, model.PartTypeText, parts[1].Type)
}

func TestResolveToolCallDropsDuplicateAndUnknown(t *testing.T) {
	var parts []model.Part
	parts = OpenToolCall(parts, "call-1", "lookup", nil)

	parts, applied := ResolveToolCall(parts, "call-1", json.RawMessage(`"first"`))
	require.True(t, applied)

	// A second resolve for the same call is a duplicate delivery.
	parts, applied = ResolveToolCall(parts, "call-1", json.RawMessage(`"second"`))
	assert.False(t, applied)
	assert.Equal(t, `"first"`, string(parts[0].Output))

	// A resolve for a call that was never opened is dropped.
	parts, applied = ResolveToolCall(parts, "call-9", json.RawMessage(`"orphan"`))
	assert.False(t, applied)
	require.Len(t, parts, 1)
}

func TestApplyDispatch(t *testing.T) {
	var parts []model.Part

	parts, applied := Apply(parts, classify.Update{Op: classify.OpAppendText, Text: "hi"})
	assert.True(t, applied)

	parts, applied = Apply(parts, classify.Update{Op: classify.OpAppendSource, URL: "https://example.com", Title: "Example"})
	assert.True(t, applied)

	parts, applied = Apply(parts, classify.Update{Op: classify.OpNoop})
	assert.False(t, applied)

	parts, applied = Apply(parts, classify.Update{Op: classify.OpSetFinishReason, FinishReason: "stop"})
	assert.False(t, applied)

	require.Len(t, parts, 2)
	assert.Equal(t, model.PartTypeText, parts[0].Type)
	assert.Equal(t, model.PartTypeSource, parts[1].Type)
}
