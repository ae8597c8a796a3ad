package llm

import (
	"context"
	"errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient is the Anthropic LLM client.
type AnthropicClient struct {
	client *anthropic.Client
	apiKey string
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	return &AnthropicClient{
		client: client,
		apiKey: apiKey,
	}, nil
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

// Models returns available models.
func (c *AnthropicClient) Models() []string {
	return []string{
		"claude-3-5-sonnet-20241022",
		"claude-3-5-haiku-20241022",
		"claude-3-opus-20240229",
		"claude-3-sonnet-20240229",
		"claude-3-haiku-20240307",
	}
}

// StreamGenerate opens a streaming messages call and emits normalized events.
func (c *AnthropicClient) StreamGenerate(ctx context.Context, req *CompletionRequest, onEvent EventCallback) (*StreamResult, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	// Convert messages to Anthropic format
	messages := make([]anthropic.MessageParam, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = anthropic.MessageParam{
			Role: anthropic.F(anthropic.MessageParamRole(msg.Role)),
			Content: anthropic.F([]anthropic.ContentBlockParamUnion{
				anthropic.TextBlockParam{
					Type: anthropic.F(anthropic.TextBlockParamTypeText),
					Text: anthropic.F(msg.Content),
				},
			}),
		}
	}

	var opts []option.RequestOption
	if req.Credential != "" {
		opts = append(opts, option.WithAPIKey(req.Credential))
	}

	stream := c.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F(model),
		MaxTokens: anthropic.F(int64(maxTokens)),
		Messages:  anthropic.F(messages),
	}, opts...)

	var tokensIn, tokensOut int
	var stopReason string

	message := stream.Current()

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case anthropic.MessageStreamEventTypeContentBlockDelta:
			delta, _ := event.Delta.(anthropic.ContentBlockDeltaEventDelta)
			switch string(delta.Type) {
			case "text_delta":
				if err := onEvent(StreamEvent{Type: EventTextDelta, Text: delta.Text}); err != nil {
					return nil, err
				}
			case "thinking_delta":
				if err := onEvent(StreamEvent{Type: EventReasoningDelta, Text: delta.Text}); err != nil {
					return nil, err
				}
			}
		case anthropic.MessageStreamEventTypeContentBlockStart:
			// Step boundaries mark the edge of each content block.
			if err := onEvent(StreamEvent{Type: EventStepStart}); err != nil {
				return nil, err
			}
		case anthropic.MessageStreamEventTypeContentBlockStop:
			if err := onEvent(StreamEvent{Type: EventStepFinish}); err != nil {
				return nil, err
			}
		case anthropic.MessageStreamEventTypeMessageDelta:
			delta, _ := event.Delta.(anthropic.MessageDeltaEventDelta)
			stopReason = normalizeStopReason(string(delta.StopReason))
			tokensOut = int(event.Usage.OutputTokens)
		}
	}

	if err := stream.Err(); err != nil {
		return nil, err
	}

	if err := onEvent(StreamEvent{Type: EventFinish, FinishReason: stopReason}); err != nil {
		return nil, err
	}

	tokensIn = int(message.Message.Usage.InputTokens)

	return &StreamResult{
		Model:        model,
		TokensIn:     tokensIn,
		TokensOut:    tokensOut,
		FinishReason: stopReason,
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

// normalizeStopReason folds provider dialect stop reasons into the common
// vocabulary: "stop" for a natural end, "length" for an output-limit stop.
func normalizeStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence", "stop", "":
		if reason == "" {
			return ""
		}
		return "stop"
	case "max_tokens", "length":
		return "length"
	case "tool_use", "tool_calls":
		return "tool-call"
	default:
		return reason
	}
}
