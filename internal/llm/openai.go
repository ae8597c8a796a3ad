package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient is the OpenAI LLM client.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(apiKey string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	client := openai.NewClient(apiKey)

	return &OpenAIClient{
		client: client,
	}, nil
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return "openai"
}

// Models returns available models.
func (c *OpenAIClient) Models() []string {
	return []string{
		"gpt-4o",
		"gpt-4o-mini",
		"gpt-4-turbo",
		"gpt-4",
		"gpt-3.5-turbo",
	}
}

// StreamGenerate opens a streaming chat completion and emits normalized events.
func (c *OpenAIClient) StreamGenerate(ctx context.Context, req *CompletionRequest, onEvent EventCallback) (*StreamResult, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = "gpt-4o"
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	// Convert messages to OpenAI format
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	client := c.client
	if req.Credential != "" {
		client = openai.NewClient(req.Credential)
	}

	stream, err := client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(req.Temperature),
		Stream:      true,
	})
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var contentLen int
	var stopReason string

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		if len(response.Choices) == 0 {
			continue
		}

		choice := response.Choices[0]

		if delta := choice.Delta.Content; delta != "" {
			contentLen += len(delta)
			if err := onEvent(StreamEvent{Type: EventTextDelta, Text: delta}); err != nil {
				return nil, err
			}
		}

		// OpenAI streams tool calls as argument deltas under the "args"
		// field name; the classifier normalizes the alias downstream.
		for _, tc := range choice.Delta.ToolCalls {
			if tc.ID == "" && tc.Function.Name == "" {
				continue
			}
			ev := StreamEvent{
				Type:       EventToolCall,
				ToolCallID: tc.ID,
				ToolName:   tc.Function.Name,
			}
			if tc.Function.Arguments != "" {
				ev.Args = json.RawMessage(tc.Function.Arguments)
			}
			if err := onEvent(ev); err != nil {
				return nil, err
			}
		}

		if choice.FinishReason != "" {
			stopReason = normalizeStopReason(string(choice.FinishReason))
		}
	}

	if err := onEvent(StreamEvent{Type: EventFinish, FinishReason: stopReason}); err != nil {
		return nil, err
	}

	// OpenAI streaming doesn't report token usage; estimate from content size.
	tokensOut := contentLen / 4

	return &StreamResult{
		Model:        model,
		TokensIn:     0,
		TokensOut:    tokensOut,
		FinishReason: stopReason,
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}
