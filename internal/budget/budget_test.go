package budget

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayloop/chatrelay/internal/model"
)

func textEntry(role model.Role, text string) model.HistoryEntry {
	return model.HistoryEntry{
		Role:  role,
		Parts: []model.Part{{Type: model.PartTypeText, Text: text}},
	}
}

func TestTrimReturnsInputUnchangedWhenItFits(t *testing.T) {
	b := Budget{TokenCeiling: 1000, ToolOutputCeiling: 100}
	history := []model.HistoryEntry{
		textEntry(model.RoleUser, "hello"),
		textEntry(model.RoleAssistant, "hi there"),
	}

	out := b.Trim(history)
	assert.Equal(t, history, out)

	// Trimming is idempotent: a fitting history passes through again.
	assert.Equal(t, out, b.Trim(out))
}

func TestTrimDropsOldestFirst(t *testing.T) {
	// Each entry is 100 bytes of text, 25 tokens. Ceiling of 60 tokens fits
	// two entries.
	b := Budget{TokenCeiling: 60, ToolOutputCeiling: 100}
	pad := strings.Repeat("x", 100)
	history := []model.HistoryEntry{
		textEntry(model.RoleUser, "oldest "+pad),
		textEntry(model.RoleAssistant, "middle "+pad),
		textEntry(model.RoleUser, "newest "+pad),
	}

	out := b.Trim(history)
	require.Len(t, out, 2)
	assert.Contains(t, out[0].Parts[0].Text, "middle")
	assert.Contains(t, out[1].Parts[0].Text, "newest")
}

func TestTrimKeepsFloorEvenOverCeiling(t *testing.T) {
	b := Budget{TokenCeiling: 10, ToolOutputCeiling: 100}
	pad := strings.Repeat("x", 400)
	history := []model.HistoryEntry{
		textEntry(model.RoleUser, pad),
		textEntry(model.RoleAssistant, pad),
		textEntry(model.RoleUser, pad),
	}

	// Every entry alone exceeds the ceiling, yet the most recent exchange
	// survives.
	out := b.Trim(history)
	require.Len(t, out, MinEntries)
	assert.Equal(t, model.RoleAssistant, out[0].Role)
	assert.Equal(t, model.RoleUser, out[1].Role)
}

func TestTrimTruncatesOversizedToolOutputs(t *testing.T) {
	b := Budget{TokenCeiling: 100000, ToolOutputCeiling: 10}
	bigOutput, _ := json.Marshal(strings.Repeat("r", 500))
	history := []model.HistoryEntry{
		textEntry(model.RoleUser, "run the tool"),
		{
			Role: model.RoleAssistant,
			Parts: []model.Part{{
				Type:       model.PartTypeToolCall,
				ToolCallID: "call-1",
				ToolName:   "lookup",
				State:      model.ToolCallStateOutputAvailable,
				Output:     bigOutput,
			}},
		},
	}

	out := b.Trim(history)
	require.Len(t, out, 2)

	var truncated string
	require.NoError(t, json.Unmarshal(out[1].Parts[0].Output, &truncated))
	assert.Contains(t, truncated, "tokens truncated]")
	assert.Less(t, len(truncated), len(bigOutput))

	// The original history is untouched.
	assert.Equal(t, bigOutput, []byte(history[1].Parts[0].Output))
}

func TestTrimFiltersUnresolvedToolCalls(t *testing.T) {
	b := Budget{TokenCeiling: 100000, ToolOutputCeiling: 5000}
	history := []model.HistoryEntry{
		textEntry(model.RoleUser, "first question"),
		{
			Role: model.RoleAssistant,
			Parts: []model.Part{
				{Type: model.PartTypeText, Text: "let me check"},
				{
					Type:       model.PartTypeToolCall,
					ToolCallID: "call-1",
					ToolName:   "lookup",
					State:      model.ToolCallStateInputAvailable,
				},
			},
		},
		textEntry(model.RoleUser, "second question"),
	}

	out := b.Trim(history)
	require.Len(t, out, 3)

	// The dangling call is gone; the text around it survives.
	require.Len(t, out[1].Parts, 1)
	assert.Equal(t, model.PartTypeText, out[1].Parts[0].Type)
	assert.Equal(t, "let me check", out[1].Parts[0].Text)
}

func TestTrimReplacesFullyEmptiedTurnWithPlaceholder(t *testing.T) {
	b := Budget{TokenCeiling: 100000, ToolOutputCeiling: 5000}
	history := []model.HistoryEntry{
		textEntry(model.RoleUser, "question"),
		{
			Role: model.RoleAssistant,
			Parts: []model.Part{{
				Type:       model.PartTypeToolCall,
				ToolCallID: "call-1",
				ToolName:   "lookup",
				State:      model.ToolCallStateInputAvailable,
			}},
		},
		textEntry(model.RoleUser, "are you still there"),
	}

	out := b.Trim(history)
	require.Len(t, out, 3)
	require.Len(t, out[1].Parts, 1)
	assert.Equal(t, model.PartTypeText, out[1].Parts[0].Type)
	assert.Equal(t, InterruptedPlaceholder, out[1].Parts[0].Text)
}

func TestTruncationKeepsValidUTF8(t *testing.T) {
	b := Budget{TokenCeiling: 100000, ToolOutputCeiling: 10}

	// Two-byte runes straddle the byte-offset cut point.
	bigOutput, _ := json.Marshal(strings.Repeat("é", 300))
	history := []model.HistoryEntry{
		textEntry(model.RoleUser, "run the tool"),
		{
			Role: model.RoleAssistant,
			Parts: []model.Part{{
				Type:       model.PartTypeToolCall,
				ToolCallID: "call-1",
				ToolName:   "lookup",
				State:      model.ToolCallStateOutputAvailable,
				Output:     bigOutput,
			}},
		},
	}

	out := b.Trim(history)
	require.Len(t, out, 2)

	var truncated string
	require.NoError(t, json.Unmarshal(out[1].Parts[0].Output, &truncated))
	assert.True(t, utf8.ValidString(truncated))
	assert.NotContains(t, truncated, "�")
	assert.Contains(t, truncated, "tokens truncated]")
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("a", 100)))
}
