// Package budget keeps outbound conversation history under the token ceiling.
//
// Budgeting governs only the provider call. Persisted and displayed history
// is always the full original; every transformation here produces copies.
package budget

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/relayloop/chatrelay/internal/model"
)

// InterruptedPlaceholder replaces the parts of an assistant turn that was
// emptied by unresolved-tool-call filtering.
const InterruptedPlaceholder = "The previous response was interrupted before it could complete."

// MinEntries is the context floor: the model always sees at least the most
// recent exchange, even when it exceeds the ceiling.
const MinEntries = 2

// Budget holds the stateless truncation configuration.
type Budget struct {
	// TokenCeiling caps the total outbound history size, in tokens.
	TokenCeiling int
	// ToolOutputCeiling caps each individual tool output, in tokens.
	ToolOutputCeiling int
}

// EstimateTokens estimates the token count of a string. Four bytes per token,
// deterministic; the same scheme everywhere so budgeting is reproducible.
func EstimateTokens(s string) int {
	return len(s) / 4
}

// Trim returns a history that fits the ceiling: unresolved tool calls are
// filtered out, oversized tool outputs truncated, and the oldest entries
// dropped until the remainder fits, never going below MinEntries. If the
// input already satisfies all of that it is returned unchanged.
func (b Budget) Trim(history []model.HistoryEntry) []model.HistoryEntry {
	sanitized, changed := sanitize(history)

	total := 0
	for _, e := range sanitized {
		total += entryTokens(e)
	}

	if !changed && total <= b.TokenCeiling && !b.anyToolOutputOversized(sanitized) {
		return history
	}

	// Walk newest to oldest, accepting entries until the ceiling would be
	// exceeded. The floor wins over the ceiling.
	kept := 0
	running := 0
	for i := len(sanitized) - 1; i >= 0; i-- {
		cost := entryTokens(sanitized[i])
		if kept >= MinEntries && running+cost > b.TokenCeiling {
			break
		}
		running += cost
		kept++
	}

	out := make([]model.HistoryEntry, kept)
	copy(out, sanitized[len(sanitized)-kept:])

	for i := range out {
		out[i] = b.truncateToolOutputs(out[i])
	}

	return out
}

// sanitize filters unresolved tool calls out of assistant turns, replacing a
// fully emptied turn with an interruption placeholder. A dangling tool call
// with no result would be rejected by the provider.
func sanitize(history []model.HistoryEntry) ([]model.HistoryEntry, bool) {
	changed := false
	out := make([]model.HistoryEntry, len(history))
	copy(out, history)

	for i, entry := range out {
		if entry.Role != model.RoleAssistant || !hasUnresolvedToolCall(entry.Parts) {
			continue
		}
		changed = true

		filtered := make([]model.Part, 0, len(entry.Parts))
		for _, p := range entry.Parts {
			if p.Type == model.PartTypeToolCall && p.State != model.ToolCallStateOutputAvailable {
				continue
			}
			filtered = append(filtered, p)
		}
		if len(filtered) == 0 {
			filtered = []model.Part{{Type: model.PartTypeText, Text: InterruptedPlaceholder}}
		}
		out[i].Parts = filtered
	}

	return out, changed
}

func hasUnresolvedToolCall(parts []model.Part) bool {
	for _, p := range parts {
		if p.Type == model.PartTypeToolCall && p.State != model.ToolCallStateOutputAvailable {
			return true
		}
	}
	return false
}

func (b Budget) anyToolOutputOversized(history []model.HistoryEntry) bool {
	for _, e := range history {
		for _, p := range e.Parts {
			if p.Type == model.PartTypeToolCall && EstimateTokens(string(p.Output)) > b.ToolOutputCeiling {
				return true
			}
		}
	}
	return false
}

// truncateToolOutputs replaces each oversized tool output inside the entry
// with its truncated text plus an explicit marker stating how much was cut.
func (b Budget) truncateToolOutputs(entry model.HistoryEntry) model.HistoryEntry {
	needsCopy := false
	for _, p := range entry.Parts {
		if p.Type == model.PartTypeToolCall && EstimateTokens(string(p.Output)) > b.ToolOutputCeiling {
			needsCopy = true
			break
		}
	}
	if !needsCopy {
		return entry
	}

	parts := make([]model.Part, len(entry.Parts))
	copy(parts, entry.Parts)

	for i, p := range parts {
		if p.Type != model.PartTypeToolCall {
			continue
		}
		tokens := EstimateTokens(string(p.Output))
		if tokens <= b.ToolOutputCeiling {
			continue
		}
		// Back the cut point off to a rune boundary so the kept prefix
		// stays valid UTF-8.
		keepBytes := b.ToolOutputCeiling * 4
		for keepBytes > 0 && !utf8.RuneStart(p.Output[keepBytes]) {
			keepBytes--
		}
		cut := tokens - b.ToolOutputCeiling
		truncated := fmt.Sprintf("%s... [%d tokens truncated]", string(p.Output[:keepBytes]), cut)
		raw, _ := json.Marshal(truncated)
		parts[i].Output = raw
	}

	entry.Parts = parts
	return entry
}

func entryTokens(e model.HistoryEntry) int {
	total := 0
	for _, p := range e.Parts {
		total += EstimateTokens(p.Text)
		total += EstimateTokens(string(p.Input))
		total += EstimateTokens(string(p.Output))
	}
	return total
}
